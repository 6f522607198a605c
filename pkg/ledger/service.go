package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shotasten/union-board/internal/event_bus"
	"github.com/shotasten/union-board/internal/utils"
	log "github.com/sirupsen/logrus"
)

// Ledger is the authoritative store of events, responses and members.
type Ledger interface {
	GetEvent(ctx context.Context, id string) (EventRecord, error)
	ListEvents(ctx context.Context, filter EventFilter) ([]EventRecord, error)
	CreateEvent(ctx context.Context, event EventRecord, opts WriteOptions) (string, error)
	CreateSeries(ctx context.Context, template EventRecord, rule string, until time.Time, opts WriteOptions) ([]string, error)
	UpdateEvent(ctx context.Context, id string, patch EventPatch, opts WriteOptions) (bool, error)
	DeleteEvent(ctx context.Context, id string) error
	ListResponses(ctx context.Context, eventId string) ([]ResponseRecord, error)
	ListResponsesUpdatedSince(ctx context.Context, since time.Time) ([]ResponseRecord, error)
	SaveResponse(ctx context.Context, response ResponseRecord) (ResponseRecord, error)
	ListMembers(ctx context.Context) ([]Member, error)
	SaveMember(ctx context.Context, member Member) error
	GetConfig(ctx context.Context, key, defaultValue string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

type ServiceImpl struct {
	repo     Repository
	eventBus *event_bus.EventBus
	clock    utils.Clock
	location *time.Location
}

func NewService(repo Repository, eventBus *event_bus.EventBus, clock utils.Clock, location *time.Location) Ledger {
	return &ServiceImpl{repo: repo, eventBus: eventBus, clock: clock, location: location}
}

func (s *ServiceImpl) GetEvent(ctx context.Context, id string) (EventRecord, error) {
	if strings.TrimSpace(id) == "" {
		return EventRecord{}, ErrInvalidEventId
	}
	return s.repo.GetEvent(ctx, id)
}

func (s *ServiceImpl) ListEvents(ctx context.Context, filter EventFilter) ([]EventRecord, error) {
	return s.repo.ListEvents(ctx, filter)
}

// CreateEvent assigns a new id and stores the event. All-day spans are moved
// to local midnight boundaries first.
func (s *ServiceImpl) CreateEvent(ctx context.Context, event EventRecord, opts WriteOptions) (string, error) {
	event, err := s.prepareNewEvent(event)
	if err != nil {
		return "", err
	}
	if err := s.repo.StoreEvent(ctx, event); err != nil {
		return "", fmt.Errorf("failed to create event %q: %w", event.Title, err)
	}
	log.Debugf("created event %s (%s)", event.Id, event.Title)

	if !opts.SkipExternalSync {
		s.publish(ctx, event_bus.EventCreated, event_bus.LedgerEventChanged{EventId: event.Id})
	}
	return event.Id, nil
}

func (s *ServiceImpl) prepareNewEvent(event EventRecord) (EventRecord, error) {
	if strings.TrimSpace(event.Title) == "" {
		return EventRecord{}, ErrEmptyTitle
	}
	if event.End.Before(event.Start) {
		return EventRecord{}, ErrInvalidTimeRange
	}
	if event.IsAllDay {
		event.Start, event.End = utils.NormalizeAllDay(event.Start, event.End, s.location)
	}
	now := s.clock.Now()
	event.Id = uuid.NewString()
	if event.Status == "" {
		event.Status = StatusActive
	}
	event.CreatedAt = now
	event.UpdatedAt = now
	return event, nil
}

// UpdateEvent applies patch in one write. It reports false when the event does
// not exist.
func (s *ServiceImpl) UpdateEvent(ctx context.Context, id string, patch EventPatch, opts WriteOptions) (bool, error) {
	if strings.TrimSpace(id) == "" {
		return false, ErrInvalidEventId
	}
	if patch.IsEmpty() {
		return false, nil
	}

	if patch.touchesSchedule() {
		current, err := s.repo.GetEvent(ctx, id)
		if err != nil {
			if errors.Is(err, ErrEventNotFound) {
				return false, nil
			}
			return false, fmt.Errorf("failed to load event %s: %w", id, err)
		}
		patched := patch.Apply(current)
		if patched.End.Before(patched.Start) {
			return false, ErrInvalidTimeRange
		}
		if patched.IsAllDay {
			start, end := utils.NormalizeAllDay(patched.Start, patched.End, s.location)
			patch.Start = &start
			patch.End = &end
		}
	}

	updated, err := s.repo.UpdateEvent(ctx, id, patch, s.clock.Now())
	if err != nil {
		return false, fmt.Errorf("failed to update event %s: %w", id, err)
	}
	if updated && !opts.SkipExternalSync {
		s.publish(ctx, event_bus.EventUpdated, event_bus.LedgerEventChanged{EventId: id, Fields: patch.Fields()})
	}
	return updated, nil
}

// DeleteEvent soft-deletes the event. Deleting an already deleted event is a no-op.
func (s *ServiceImpl) DeleteEvent(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrInvalidEventId
	}
	event, err := s.repo.GetEvent(ctx, id)
	if err != nil {
		return err
	}
	if event.Status == StatusDeleted {
		return nil
	}

	deleted := StatusDeleted
	if _, err := s.repo.UpdateEvent(ctx, id, EventPatch{Status: &deleted}, s.clock.Now()); err != nil {
		return fmt.Errorf("failed to delete event %s: %w", id, err)
	}
	log.Infof("event %s (%s) marked as deleted", id, event.Title)

	s.publish(ctx, event_bus.EventDeleted, event_bus.LedgerEventDeleted{EventId: id, ExternalRef: event.ExternalRef})
	return nil
}

func (s *ServiceImpl) ListResponses(ctx context.Context, eventId string) ([]ResponseRecord, error) {
	return s.repo.ListResponses(ctx, eventId)
}

func (s *ServiceImpl) ListResponsesUpdatedSince(ctx context.Context, since time.Time) ([]ResponseRecord, error) {
	return s.repo.ListResponsesUpdatedSince(ctx, since)
}

// SaveResponse records a member's answer. Responses change only the rendered
// summary, which the diff sync picks up, so no change notification is sent.
func (s *ServiceImpl) SaveResponse(ctx context.Context, response ResponseRecord) (ResponseRecord, error) {
	if strings.TrimSpace(response.EventId) == "" {
		return ResponseRecord{}, ErrInvalidEventId
	}
	if !response.Status.IsValid() {
		return ResponseRecord{}, fmt.Errorf("%w: %q", ErrInvalidResponseStatus, response.Status)
	}
	if _, err := s.repo.GetEvent(ctx, response.EventId); err != nil {
		return ResponseRecord{}, err
	}
	now := s.clock.Now()
	response.CreatedAt = now
	response.UpdatedAt = now
	saved, err := s.repo.UpsertResponse(ctx, response)
	if err != nil {
		return ResponseRecord{}, fmt.Errorf("failed to save response: %w", err)
	}
	return saved, nil
}

func (s *ServiceImpl) ListMembers(ctx context.Context) ([]Member, error) {
	return s.repo.ListMembers(ctx)
}

func (s *ServiceImpl) SaveMember(ctx context.Context, member Member) error {
	if strings.TrimSpace(member.UserKey) == "" {
		return fmt.Errorf("member user key is empty")
	}
	return s.repo.UpsertMember(ctx, member)
}

func (s *ServiceImpl) GetConfig(ctx context.Context, key, defaultValue string) (string, error) {
	value, ok, err := s.repo.GetProperty(ctx, key)
	if err != nil {
		return "", err
	}
	if !ok {
		return defaultValue, nil
	}
	return value, nil
}

func (s *ServiceImpl) SetConfig(ctx context.Context, key, value string) error {
	return s.repo.SetProperty(ctx, key, value, s.clock.Now())
}

// publish notifies subscribers. A failing subscriber never undoes the ledger write.
func (s *ServiceImpl) publish(ctx context.Context, eventType event_bus.EventType, data any) {
	if s.eventBus == nil {
		return
	}
	if err := s.eventBus.Publish(event_bus.NewEvent(ctx, eventType, data)); err != nil {
		log.Warnf("ledger change %s was stored but not propagated: %v", eventType, err)
	}
}
