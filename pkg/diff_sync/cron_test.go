package diff_sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJobs(t *testing.T) {
	t.Run("should schedule both jobs", func(t *testing.T) {
		// given
		f := setup(t)

		// when
		jobs, err := NewJobs(f.scheduler, f.sync, time.UTC, "*/15 * * * *", "0 4 * * *")

		// then
		require.NoError(t, err)
		jobs.Start()
		next := jobs.Next()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		jobs.Stop(ctx)

		require.Len(t, next, 2)
		for _, at := range next {
			assert.False(t, at.IsZero())
		}
	})

	t.Run("should reject a malformed schedule", func(t *testing.T) {
		f := setup(t)

		_, err := NewJobs(f.scheduler, f.sync, time.UTC, "every quarter hour", "0 4 * * *")

		assert.ErrorContains(t, err, "every quarter hour")
	})
}
