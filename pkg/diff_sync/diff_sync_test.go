package diff_sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shotasten/union-board/internal/config"
	"github.com/shotasten/union-board/internal/utils"
	"github.com/shotasten/union-board/pkg/calendar"
	"github.com/shotasten/union-board/pkg/calendar_sync"
	"github.com/shotasten/union-board/pkg/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	ctx       context.Context
	ledger    ledger.Ledger
	repo      *ledger.RepositoryStub
	store     *calendar.StubStore
	clock     *utils.MockClock
	sync      *calendar_sync.ServiceImpl
	scheduler *Scheduler
}

func setup(t *testing.T) fixture {
	t.Helper()
	cfg := config.Sync{Timezone: "Asia/Tokyo", PastDays: 30, FutureDays: 180, Language: "ja"}
	clock := utils.NewMockClock(time.Date(2026, 2, 20, 3, 0, 0, 0, time.UTC))
	repo := ledger.NewRepositoryStub()
	l := ledger.NewService(repo, nil, clock, cfg.Location())
	store := calendar.NewStubStore(clock)
	syncService := calendar_sync.NewService(l, store, clock, cfg)
	return fixture{
		ctx:       context.Background(),
		ledger:    l,
		repo:      repo,
		store:     store,
		clock:     clock,
		sync:      syncService,
		scheduler: NewScheduler(l, l, syncService, clock, 10*time.Minute),
	}
}

func (f fixture) linkedEvent(t *testing.T, title string, day int) string {
	t.Helper()
	start := time.Date(2026, 3, day, 5, 0, 0, 0, time.UTC)
	id, err := f.ledger.CreateEvent(f.ctx, ledger.EventRecord{Title: title, Start: start, End: start.Add(3 * time.Hour)}, ledger.WriteOptions{SkipExternalSync: true})
	require.NoError(t, err)
	_, err = f.sync.SyncOneEvent(f.ctx, id)
	require.NoError(t, err)
	return id
}

func (f fixture) answer(t *testing.T, eventId, userKey string, status ledger.ResponseStatus) {
	t.Helper()
	_, err := f.ledger.SaveResponse(f.ctx, ledger.ResponseRecord{EventId: eventId, UserKey: userKey, Status: status})
	require.NoError(t, err)
}

func (f fixture) watermark(t *testing.T) string {
	t.Helper()
	value, err := f.ledger.GetConfig(f.ctx, WatermarkKey, "")
	require.NoError(t, err)
	return value
}

func TestScheduler_Run(t *testing.T) {
	t.Run("should refresh only events with new responses", func(t *testing.T) {
		// given
		f := setup(t)
		practice := f.linkedEvent(t, "Practice", 1)
		concert := f.linkedEvent(t, "Concert", 8)
		f.clock.Advance(time.Minute)
		f.answer(t, concert, "guest:Tanaka", ledger.ResponseAttend)
		f.store.ResetCounters()

		// when
		report, err := f.scheduler.Run(f.ctx)

		// then
		require.NoError(t, err)
		assert.False(t, report.Skipped)
		assert.Equal(t, 1, report.Events)
		assert.Equal(t, 1, report.Refreshed)
		assert.Equal(t, 1, f.store.Updates)
		assert.Equal(t, f.clock.Now().UTC().Format(time.RFC3339Nano), f.watermark(t))

		concertRecord, err := f.ledger.GetEvent(f.ctx, concert)
		require.NoError(t, err)
		external, _ := f.store.Event(concertRecord.ExternalRef)
		assert.Contains(t, external.Description, "○ Attend: 1")

		practiceRecord, err := f.ledger.GetEvent(f.ctx, practice)
		require.NoError(t, err)
		untouched, _ := f.store.Event(practiceRecord.ExternalRef)
		assert.Contains(t, untouched.Description, "○ Attend: 0")
	})

	t.Run("should keep a newer calendar edit while refreshing the summary", func(t *testing.T) {
		// given
		f := setup(t)
		practice := f.linkedEvent(t, "Practice", 1)
		record, err := f.ledger.GetEvent(f.ctx, practice)
		require.NoError(t, err)
		f.clock.Advance(5 * time.Minute)
		f.store.Edit(record.ExternalRef, func(e *calendar.ExternalEvent) {
			e.Title = "Practice (moved)"
		})
		f.answer(t, practice, "guest:Tanaka", ledger.ResponseAttend)

		// when
		report, err := f.scheduler.Run(f.ctx)

		// then
		require.NoError(t, err)
		assert.Equal(t, 1, report.Refreshed)
		external, _ := f.store.Event(record.ExternalRef)
		assert.Equal(t, "Practice (moved)", external.Title)
		assert.Contains(t, external.Description, "○ Attend: 1")

		// when
		_, err = f.sync.SyncAll(f.ctx, true)

		// then
		require.NoError(t, err)
		synced, err := f.ledger.GetEvent(f.ctx, practice)
		require.NoError(t, err)
		assert.Equal(t, "Practice (moved)", synced.Title)
	})

	t.Run("should skip a second run within the guard interval", func(t *testing.T) {
		// given
		f := setup(t)
		event := f.linkedEvent(t, "Practice", 1)
		f.answer(t, event, "guest:Tanaka", ledger.ResponseAttend)
		_, err := f.scheduler.Run(f.ctx)
		require.NoError(t, err)

		f.clock.Advance(2 * time.Minute)
		f.answer(t, event, "guest:Sato", ledger.ResponseAbsent)
		scansBefore := f.repo.ResponseScans
		writesBefore := f.repo.Writes()
		f.store.ResetCounters()

		// when
		report, err := f.scheduler.Run(f.ctx)

		// then
		require.NoError(t, err)
		assert.True(t, report.Skipped)
		assert.NotEmpty(t, report.Reason)
		assert.Equal(t, scansBefore, f.repo.ResponseScans)
		assert.Equal(t, writesBefore, f.repo.Writes())
		assert.Equal(t, 0, f.store.Calls())
	})

	t.Run("should pick up responses after the guard interval", func(t *testing.T) {
		// given
		f := setup(t)
		event := f.linkedEvent(t, "Practice", 1)
		_, err := f.scheduler.Run(f.ctx)
		require.NoError(t, err)
		f.clock.Advance(11 * time.Minute)
		f.answer(t, event, "guest:Sato", ledger.ResponseTentative)

		// when
		report, err := f.scheduler.Run(f.ctx)

		// then
		require.NoError(t, err)
		assert.Equal(t, 1, report.Events)
		assert.Equal(t, 1, report.Refreshed)
	})

	t.Run("should advance the watermark when nothing changed", func(t *testing.T) {
		// given
		f := setup(t)
		f.linkedEvent(t, "Practice", 1)
		f.store.ResetCounters()

		// when
		report, err := f.scheduler.Run(f.ctx)

		// then
		require.NoError(t, err)
		assert.Equal(t, 0, report.Events)
		assert.Equal(t, 0, f.store.Calls())
		assert.Equal(t, f.clock.Now(), report.NewWatermark)
		assert.NotEmpty(t, f.watermark(t))
	})

	t.Run("should treat a malformed watermark as unset", func(t *testing.T) {
		// given
		f := setup(t)
		event := f.linkedEvent(t, "Practice", 1)
		f.answer(t, event, "guest:Tanaka", ledger.ResponseAttend)
		require.NoError(t, f.ledger.SetConfig(f.ctx, WatermarkKey, "yesterday-ish"))

		// when
		report, err := f.scheduler.Run(f.ctx)

		// then
		require.NoError(t, err)
		assert.False(t, report.Skipped)
		assert.True(t, report.Watermark.IsZero())
		assert.Equal(t, 1, report.Events)
	})

	t.Run("should run despite a watermark in the future", func(t *testing.T) {
		// given
		f := setup(t)
		future := f.clock.Now().Add(time.Hour)
		require.NoError(t, f.ledger.SetConfig(f.ctx, WatermarkKey, future.Format(time.RFC3339Nano)))

		// when
		report, err := f.scheduler.Run(f.ctx)

		// then
		require.NoError(t, err)
		assert.False(t, report.Skipped)
		assert.Equal(t, f.clock.Now().UTC().Format(time.RFC3339Nano), f.watermark(t))
	})

	t.Run("should report failing events and still store the watermark", func(t *testing.T) {
		// given
		f := setup(t)
		start := time.Date(2026, 3, 1, 5, 0, 0, 0, time.UTC)
		id, err := f.ledger.CreateEvent(f.ctx, ledger.EventRecord{Title: "Broken", Start: start, End: start.Add(time.Hour)}, ledger.WriteOptions{SkipExternalSync: true})
		require.NoError(t, err)
		f.store.FailCreates("Broken", errors.New("quota exceeded"))
		f.answer(t, id, "guest:Tanaka", ledger.ResponseAttend)

		// when
		report, err := f.scheduler.Run(f.ctx)

		// then
		require.NoError(t, err)
		assert.Equal(t, 1, report.Failed)
		require.Len(t, report.Errors, 1)
		assert.Contains(t, report.Errors[0], "quota exceeded")
		assert.NotEmpty(t, f.watermark(t))
	})

	t.Run("should keep the watermark when the response scan fails", func(t *testing.T) {
		// given
		f := setup(t)
		scheduler := NewScheduler(f.ledger, failingResponses{}, f.sync, f.clock, 10*time.Minute)

		// when
		_, err := scheduler.Run(f.ctx)

		// then
		require.Error(t, err)
		assert.Empty(t, f.watermark(t))
	})
}

type failingResponses struct{}

func (failingResponses) ListResponsesUpdatedSince(ctx context.Context, since time.Time) ([]ledger.ResponseRecord, error) {
	return nil, errors.New("connection reset")
}
