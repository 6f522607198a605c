package calendar_sync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shotasten/union-board/internal/config"
	"github.com/shotasten/union-board/internal/event_bus"
	"github.com/shotasten/union-board/internal/utils"
	"github.com/shotasten/union-board/pkg/calendar"
	"github.com/shotasten/union-board/pkg/ledger"
	log "github.com/sirupsen/logrus"
)

const (
	fullSyncPast   = 365 * 24 * time.Hour
	fullSyncFuture = 2 * 365 * 24 * time.Hour
)

type Service interface {
	// SyncAll pulls calendar changes, recreates lost calendar events and
	// refreshes attendance summaries. limitToWindow restricts the pass to the
	// configured window; otherwise a wide range around now is used.
	SyncAll(ctx context.Context, limitToWindow bool) (Result, error)
	// SyncOneEvent pushes a single active event and returns its external id.
	SyncOneEvent(ctx context.Context, eventId string) (string, error)
	RefreshDescription(ctx context.Context, eventId string) (PushResult, error)
}

type ServiceImpl struct {
	ledger     ledger.Ledger
	store      calendar.Store
	pusher     *Pusher
	reconciler *Reconciler
	clock      utils.Clock
	pastDays   int
	futureDays int
}

func NewService(l ledger.Ledger, store calendar.Store, clock utils.Clock, cfg config.Sync) *ServiceImpl {
	location := cfg.Location()
	pusher := NewPusher(l, store, NewRenderer(cfg), clock, location)
	return &ServiceImpl{
		ledger:     l,
		store:      store,
		pusher:     pusher,
		reconciler: NewReconciler(l, store, pusher, location),
		clock:      clock,
		pastDays:   cfg.PastDays,
		futureDays: cfg.FutureDays,
	}
}

func (s *ServiceImpl) SyncAll(ctx context.Context, limitToWindow bool) (Result, error) {
	start, end := s.window(limitToWindow)
	log.Infof("starting full sync between %s and %s", start.Format(time.RFC3339), end.Format(time.RFC3339))

	result, err := s.reconciler.Reconcile(ctx, start, end)
	if err != nil {
		log.Errorf("full sync aborted: %v", err)
		return result, err
	}
	s.refreshWindow(ctx, start, end, &result)

	log.Infof("full sync finished: %d succeeded, %d failed (attached %d, updated %d, imported %d, recreated %d, created %d, refreshed %d, duplicates %d)",
		result.Succeeded, result.Failed, result.Attached, result.Updated, result.Imported,
		result.Recreated, result.Created, result.Refreshed, result.Duplicates)
	return result, nil
}

// refreshWindow brings linked events in the window up to date on the calendar.
// An event whose title, time or location differs from a calendar copy that is
// not newer than its last sync is pushed in full, which retries ledger edits
// whose push failed. Otherwise only summaries whose hash changed are written.
func (s *ServiceImpl) refreshWindow(ctx context.Context, start, end time.Time, result *Result) {
	externalEvents, err := s.store.ListEvents(ctx, start, end)
	if err != nil {
		result.fail("description refresh calendar listing", err)
		return
	}
	external := make(map[string]calendar.ExternalEvent, len(externalEvents))
	for _, ext := range externalEvents {
		external[ext.Id] = ext
	}
	records, err := s.ledger.ListEvents(ctx, windowFilter(start, end))
	if err != nil {
		result.fail("description refresh listing", err)
		return
	}
	members, err := s.ledger.ListMembers(ctx)
	if err != nil {
		result.fail("description refresh member listing", err)
		return
	}
	for _, record := range records {
		if ctx.Err() != nil {
			return
		}
		if !record.IsLinked() {
			continue
		}

		var (
			pushed PushResult
			err    error
		)
		ext, listed := external[record.ExternalRef]
		if listed && !ext.LastModified.After(record.LastSyncedAt) && s.pusher.drifted(record, ext) {
			log.Infof("calendar event %s lags behind %s, pushing it again", ext.Id, record.Id)
			pushed, err = s.pusher.push(ctx, record, members, PushOptions{})
		} else {
			pushed, err = s.pusher.refreshDescription(ctx, record.Id, members)
		}
		if err != nil {
			result.fail("event "+record.Id, err)
			continue
		}
		if pushed.Action != PushSkipped {
			result.Refreshed++
		}
	}
}

func (s *ServiceImpl) SyncOneEvent(ctx context.Context, eventId string) (string, error) {
	if strings.TrimSpace(eventId) == "" {
		return "", ledger.ErrInvalidEventId
	}
	event, err := s.ledger.GetEvent(ctx, eventId)
	if err != nil {
		return "", err
	}
	if event.Status != ledger.StatusActive {
		return "", ErrEventNotActive
	}
	result, err := s.pusher.Push(ctx, event, PushOptions{})
	if err != nil {
		log.Errorf("failed to sync event %s: %v", eventId, err)
		return "", err
	}
	log.Infof("event %s synced to %s (%s)", eventId, result.ExternalRef, result.Action)
	return result.ExternalRef, nil
}

func (s *ServiceImpl) RefreshDescription(ctx context.Context, eventId string) (PushResult, error) {
	if strings.TrimSpace(eventId) == "" {
		return PushResult{}, ledger.ErrInvalidEventId
	}
	return s.pusher.RefreshDescription(ctx, eventId)
}

// Subscribe pushes ledger writes that did not opt out of external sync and
// removes calendar copies of deleted events.
func (s *ServiceImpl) Subscribe(bus *event_bus.EventBus) {
	onChange := func(e event_bus.EventT[event_bus.LedgerEventChanged]) error {
		_, err := s.pusher.PushById(e.Context(), e.Data.EventId)
		if err != nil && !errors.Is(err, ledger.ErrEventNotFound) {
			return fmt.Errorf("failed to push event %s after %s: %w", e.Data.EventId, e.Type, err)
		}
		return nil
	}
	event_bus.SubscribeTyped[event_bus.LedgerEventChanged](bus, event_bus.EventCreated, onChange)
	event_bus.SubscribeTyped[event_bus.LedgerEventChanged](bus, event_bus.EventUpdated, onChange)
	event_bus.SubscribeTyped[event_bus.LedgerEventDeleted](bus, event_bus.EventDeleted,
		func(e event_bus.EventT[event_bus.LedgerEventDeleted]) error {
			return s.pusher.DeleteExternal(e.Context(), e.Data.EventId, e.Data.ExternalRef)
		})
}

func (s *ServiceImpl) window(limitToWindow bool) (time.Time, time.Time) {
	now := s.clock.Now()
	if !limitToWindow {
		return now.Add(-fullSyncPast), now.Add(fullSyncFuture)
	}
	return now.AddDate(0, 0, -s.pastDays), now.AddDate(0, 0, s.futureDays)
}
