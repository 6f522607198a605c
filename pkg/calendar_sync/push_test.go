package calendar_sync

import (
	"context"
	"testing"
	"time"

	"github.com/AlekSi/pointer"
	"github.com/shotasten/union-board/internal/event_bus"
	"github.com/shotasten/union-board/internal/utils"
	"github.com/shotasten/union-board/pkg/calendar"
	"github.com/shotasten/union-board/pkg/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncFixture struct {
	ctx     context.Context
	ledger  ledger.Ledger
	repo    *ledger.RepositoryStub
	store   *calendar.StubStore
	clock   *utils.MockClock
	service *ServiceImpl
}

func setupSync(t *testing.T, bus *event_bus.EventBus) syncFixture {
	t.Helper()
	clock := utils.NewMockClock(time.Date(2026, 2, 20, 3, 0, 0, 0, time.UTC))
	repo := ledger.NewRepositoryStub()
	l := ledger.NewService(repo, bus, clock, tokyo)
	store := calendar.NewStubStore(clock)
	return syncFixture{
		ctx:     context.Background(),
		ledger:  l,
		repo:    repo,
		store:   store,
		clock:   clock,
		service: NewService(l, store, clock, testSyncConfig()),
	}
}

// storeRecord puts a record straight into the repository, bypassing id generation.
func (f syncFixture) storeRecord(t *testing.T, record ledger.EventRecord) ledger.EventRecord {
	t.Helper()
	if record.Status == "" {
		record.Status = ledger.StatusActive
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = f.clock.Now()
	}
	record.UpdatedAt = record.CreatedAt
	require.NoError(t, f.repo.StoreEvent(f.ctx, record))
	return record
}

func (f syncFixture) reload(t *testing.T, id string) ledger.EventRecord {
	t.Helper()
	record, err := f.repo.GetEvent(f.ctx, id)
	require.NoError(t, err)
	return record
}

func practiceE1() ledger.EventRecord {
	return ledger.EventRecord{
		Id:    "e1",
		Title: "Practice",
		Start: time.Date(2026, 3, 1, 5, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
	}
}

func TestPusher_Push(t *testing.T) {
	t.Run("should create a timed calendar event and link it in one ledger write", func(t *testing.T) {
		// given
		f := setupSync(t, nil)
		e1 := f.storeRecord(t, practiceE1())
		writesBefore := f.repo.EventWrites

		// when
		result, err := f.service.pusher.Push(f.ctx, e1, PushOptions{})

		// then
		require.NoError(t, err)
		assert.Equal(t, PushCreated, result.Action)
		assert.Equal(t, 1, f.store.Creates)

		external, ok := f.store.Event(result.ExternalRef)
		require.True(t, ok)
		assert.False(t, external.IsAllDay)
		assert.Equal(t, "Practice", external.Title)
		assert.True(t, external.Start.Equal(e1.Start))
		assert.True(t, external.End.Equal(e1.End))
		assert.Contains(t, external.Description, identifierPrefix+"e1")

		stored := f.reload(t, "e1")
		assert.Equal(t, result.ExternalRef, stored.ExternalRef)
		assert.NotEmpty(t, stored.DescriptionHash)
		assert.Equal(t, f.clock.Now(), stored.LastSyncedAt)
		assert.Equal(t, writesBefore+1, f.repo.EventWrites)
	})

	t.Run("should not write anything when pushed twice", func(t *testing.T) {
		// given
		f := setupSync(t, nil)
		e1 := f.storeRecord(t, practiceE1())
		_, err := f.service.pusher.Push(f.ctx, e1, PushOptions{})
		require.NoError(t, err)
		f.store.ResetCounters()
		writesBefore := f.repo.Writes()
		f.clock.Advance(time.Hour)

		// when
		result, err := f.service.pusher.Push(f.ctx, f.reload(t, "e1"), PushOptions{})

		// then
		require.NoError(t, err)
		assert.Equal(t, PushSkipped, result.Action)
		assert.Equal(t, 0, f.store.Writes())
		assert.Equal(t, writesBefore, f.repo.Writes())
	})

	t.Run("should send only the changed fields", func(t *testing.T) {
		// given
		f := setupSync(t, nil)
		e1 := f.storeRecord(t, practiceE1())
		created, err := f.service.pusher.Push(f.ctx, e1, PushOptions{})
		require.NoError(t, err)
		descriptionBefore, _ := f.store.Event(created.ExternalRef)
		f.clock.Advance(time.Minute)
		_, err = f.ledger.UpdateEvent(f.ctx, "e1", ledger.EventPatch{Title: pointer.To("Sectional")}, ledger.WriteOptions{SkipExternalSync: true})
		require.NoError(t, err)
		f.store.ResetCounters()

		// when
		result, err := f.service.pusher.Push(f.ctx, f.reload(t, "e1"), PushOptions{})

		// then
		require.NoError(t, err)
		assert.Equal(t, PushUpdated, result.Action)
		assert.Equal(t, created.ExternalRef, result.ExternalRef)
		assert.Equal(t, 1, f.store.Updates)
		assert.Equal(t, 0, f.store.Creates)
		external, _ := f.store.Event(created.ExternalRef)
		assert.Equal(t, "Sectional", external.Title)
		assert.Equal(t, descriptionBefore.Description, external.Description)
		assert.Equal(t, f.clock.Now(), f.reload(t, "e1").LastSyncedAt)
	})

	t.Run("should recreate the calendar event when switching to all-day", func(t *testing.T) {
		// given
		f := setupSync(t, nil)
		e1 := f.storeRecord(t, practiceE1())
		created, err := f.service.pusher.Push(f.ctx, e1, PushOptions{})
		require.NoError(t, err)
		_, err = f.ledger.UpdateEvent(f.ctx, "e1", ledger.EventPatch{IsAllDay: pointer.To(true)}, ledger.WriteOptions{SkipExternalSync: true})
		require.NoError(t, err)
		f.store.ResetCounters()

		// when
		result, err := f.service.pusher.Push(f.ctx, f.reload(t, "e1"), PushOptions{})

		// then
		require.NoError(t, err)
		assert.Equal(t, PushRecreated, result.Action)
		assert.NotEqual(t, created.ExternalRef, result.ExternalRef)
		assert.Equal(t, 1, f.store.Deletes)
		assert.Equal(t, 1, f.store.Creates)
		_, oldExists := f.store.Event(created.ExternalRef)
		assert.False(t, oldExists)

		external, ok := f.store.Event(result.ExternalRef)
		require.True(t, ok)
		assert.True(t, external.IsAllDay)
		assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, tokyo).UTC(), external.Start.UTC())
		assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, tokyo).UTC(), external.End.UTC())
		assert.Equal(t, result.ExternalRef, f.reload(t, "e1").ExternalRef)
	})

	t.Run("should create a new calendar event when the linked one is gone", func(t *testing.T) {
		// given
		f := setupSync(t, nil)
		e1 := f.storeRecord(t, practiceE1())
		created, err := f.service.pusher.Push(f.ctx, e1, PushOptions{})
		require.NoError(t, err)
		f.store.Remove(created.ExternalRef)

		// when
		result, err := f.service.pusher.Push(f.ctx, f.reload(t, "e1"), PushOptions{})

		// then
		require.NoError(t, err)
		assert.Equal(t, PushCreated, result.Action)
		assert.NotEqual(t, created.ExternalRef, result.ExternalRef)
		assert.Equal(t, result.ExternalRef, f.reload(t, "e1").ExternalRef)
	})

	t.Run("should keep the ledger untouched when the calendar rejects the event", func(t *testing.T) {
		// given
		f := setupSync(t, nil)
		e1 := f.storeRecord(t, practiceE1())
		f.store.FailCreates("Practice", assert.AnError)
		writesBefore := f.repo.EventWrites

		// when
		_, err := f.service.pusher.Push(f.ctx, e1, PushOptions{})

		// then
		require.ErrorIs(t, err, assert.AnError)
		assert.Equal(t, writesBefore, f.repo.EventWrites)
		assert.False(t, f.reload(t, "e1").IsLinked())
	})
}

func TestPusher_RefreshDescription(t *testing.T) {
	t.Run("should push a changed summary and then stay quiet", func(t *testing.T) {
		// given
		f := setupSync(t, nil)
		e1 := f.storeRecord(t, practiceE1())
		created, err := f.service.pusher.Push(f.ctx, e1, PushOptions{})
		require.NoError(t, err)
		_, err = f.ledger.SaveResponse(f.ctx, ledger.ResponseRecord{EventId: "e1", UserKey: "guest:Tanaka", Status: ledger.ResponseAttend, Comment: "On my way"})
		require.NoError(t, err)

		// when
		refreshed, err := f.service.RefreshDescription(f.ctx, "e1")
		require.NoError(t, err)
		f.store.ResetCounters()
		again, err := f.service.RefreshDescription(f.ctx, "e1")
		require.NoError(t, err)

		// then
		assert.Equal(t, PushUpdated, refreshed.Action)
		external, _ := f.store.Event(created.ExternalRef)
		assert.Contains(t, external.Description, "○ Tanaka: On my way")
		assert.Equal(t, PushSkipped, again.Action)
		assert.Equal(t, 0, f.store.Calls())
	})

	t.Run("should skip deleted events", func(t *testing.T) {
		// given
		f := setupSync(t, nil)
		record := practiceE1()
		record.Status = ledger.StatusDeleted
		f.storeRecord(t, record)

		// when
		result, err := f.service.RefreshDescription(f.ctx, "e1")

		// then
		require.NoError(t, err)
		assert.Equal(t, PushSkipped, result.Action)
		assert.Equal(t, 0, f.store.Calls())
	})
}

func TestService_SubscribedToLedgerChanges(t *testing.T) {
	t.Run("should push creations and updates and remove deleted events", func(t *testing.T) {
		// given
		bus := event_bus.NewEventBus()
		f := setupSync(t, bus)
		f.service.Subscribe(bus)

		// when
		id, err := f.ledger.CreateEvent(f.ctx, practiceE1(), ledger.WriteOptions{})
		require.NoError(t, err)

		// then
		created := f.reload(t, id)
		require.True(t, created.IsLinked())
		external, ok := f.store.Event(created.ExternalRef)
		require.True(t, ok)
		assert.Equal(t, "Practice", external.Title)

		// when
		_, err = f.ledger.UpdateEvent(f.ctx, id, ledger.EventPatch{Location: pointer.To("Hall B")}, ledger.WriteOptions{})
		require.NoError(t, err)

		// then
		external, _ = f.store.Event(created.ExternalRef)
		assert.Equal(t, "Hall B", external.Location)

		// when
		require.NoError(t, f.ledger.DeleteEvent(f.ctx, id))

		// then
		_, stillThere := f.store.Event(created.ExternalRef)
		assert.False(t, stillThere)
		assert.False(t, f.reload(t, id).IsLinked())
		assert.Equal(t, ledger.StatusDeleted, f.reload(t, id).Status)
	})

	t.Run("should not push bookkeeping writes", func(t *testing.T) {
		// given
		bus := event_bus.NewEventBus()
		f := setupSync(t, bus)
		f.service.Subscribe(bus)

		// when
		_, err := f.ledger.CreateEvent(f.ctx, practiceE1(), ledger.WriteOptions{SkipExternalSync: true})

		// then
		require.NoError(t, err)
		assert.Equal(t, 0, f.store.Calls())
	})
}

func TestPusher_RefreshDescriptionKeepsCalendarEdits(t *testing.T) {
	t.Run("should write only the summary and leave a newer calendar edit to the pull", func(t *testing.T) {
		// given
		f := setupSync(t, nil)
		e1 := f.storeRecord(t, practiceE1())
		pushed, err := f.service.pusher.Push(f.ctx, e1, PushOptions{})
		require.NoError(t, err)
		syncedAt := f.reload(t, "e1").LastSyncedAt

		f.clock.Advance(5 * time.Minute)
		f.store.Edit(pushed.ExternalRef, func(e *calendar.ExternalEvent) {
			e.Title = "Practice (moved)"
		})
		_, err = f.ledger.SaveResponse(f.ctx, ledger.ResponseRecord{EventId: "e1", UserKey: "guest:Tanaka", Status: ledger.ResponseAttend})
		require.NoError(t, err)
		f.store.ResetCounters()

		// when
		refreshed, err := f.service.RefreshDescription(f.ctx, "e1")

		// then
		require.NoError(t, err)
		assert.Equal(t, PushUpdated, refreshed.Action)
		assert.Equal(t, 1, f.store.Updates)
		external, _ := f.store.Event(pushed.ExternalRef)
		assert.Equal(t, "Practice (moved)", external.Title)
		assert.Contains(t, external.Description, "○ Attend: 1")
		assert.Equal(t, syncedAt, f.reload(t, "e1").LastSyncedAt)

		// when
		result, err := f.service.SyncAll(f.ctx, true)

		// then
		require.NoError(t, err)
		assert.Equal(t, 1, result.Updated)
		assert.Equal(t, "Practice (moved)", f.reload(t, "e1").Title)
		external, _ = f.store.Event(pushed.ExternalRef)
		assert.Equal(t, "Practice (moved)", external.Title)
	})

	t.Run("should advance the watermark when the calendar copy was not edited", func(t *testing.T) {
		// given
		f := setupSync(t, nil)
		e1 := f.storeRecord(t, practiceE1())
		_, err := f.service.pusher.Push(f.ctx, e1, PushOptions{})
		require.NoError(t, err)
		refreshedAt := f.clock.Advance(time.Minute)
		_, err = f.ledger.SaveResponse(f.ctx, ledger.ResponseRecord{EventId: "e1", UserKey: "guest:Tanaka", Status: ledger.ResponseAttend})
		require.NoError(t, err)

		// when
		_, err = f.service.RefreshDescription(f.ctx, "e1")

		// then
		require.NoError(t, err)
		assert.Equal(t, refreshedAt, f.reload(t, "e1").LastSyncedAt)
	})
}
