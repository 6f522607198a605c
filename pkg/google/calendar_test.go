package google

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
)

var tokyo, _ = time.LoadLocation("Asia/Tokyo")

func TestCalendar_ToExternalEvent(t *testing.T) {
	c := newGoogleCalendar(nil, "band@group.calendar.google.com", tokyo)

	t.Run("should read timed events and the updated timestamp", func(t *testing.T) {
		event, err := c.toExternalEvent(&gcal.Event{
			Id:       "abc",
			Summary:  "Practice",
			Location: "Hall A",
			Start:    &gcal.EventDateTime{DateTime: "2026-03-01T14:00:00+09:00"},
			End:      &gcal.EventDateTime{DateTime: "2026-03-01T17:00:00+09:00"},
			Updated:  "2026-02-20T03:04:05.678Z",
		})

		require.NoError(t, err)
		assert.False(t, event.IsAllDay)
		assert.True(t, event.Start.Equal(time.Date(2026, 3, 1, 5, 0, 0, 0, time.UTC)))
		assert.True(t, event.End.Equal(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)))
		assert.True(t, event.LastModified.Equal(time.Date(2026, 2, 20, 3, 4, 5, 678000000, time.UTC)))
	})

	t.Run("should read all-day events as local midnights", func(t *testing.T) {
		event, err := c.toExternalEvent(&gcal.Event{
			Id:      "abc",
			Summary: "Camp",
			Start:   &gcal.EventDateTime{Date: "2026-01-02"},
			End:     &gcal.EventDateTime{Date: "2026-01-03"},
		})

		require.NoError(t, err)
		assert.True(t, event.IsAllDay)
		assert.True(t, event.Start.Equal(time.Date(2026, 1, 1, 15, 0, 0, 0, time.UTC)))
		assert.True(t, event.End.Equal(time.Date(2026, 1, 2, 15, 0, 0, 0, time.UTC)))
	})

	t.Run("should reject events without times", func(t *testing.T) {
		_, err := c.toExternalEvent(&gcal.Event{Id: "abc"})

		assert.Error(t, err)
	})
}

func TestCalendar_DateEncoding(t *testing.T) {
	c := newGoogleCalendar(nil, "cal", tokyo)
	midnight := time.Date(2026, 1, 1, 15, 0, 0, 0, time.UTC)

	assert.Equal(t, "2026-01-02", c.date(midnight).Date)
	assert.Equal(t, "2026-01-02T00:00:00+09:00", c.dateTime(midnight).DateTime)
	assert.Equal(t, "Asia/Tokyo", c.dateTime(midnight).TimeZone)
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(&googleapi.Error{Code: http.StatusNotFound}))
	assert.True(t, isNotFound(fmt.Errorf("wrapped: %w", &googleapi.Error{Code: http.StatusGone})))
	assert.False(t, isNotFound(&googleapi.Error{Code: http.StatusForbidden}))
	assert.False(t, isNotFound(fmt.Errorf("network down")))
}
