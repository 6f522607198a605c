package calendar_sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AlekSi/pointer"
	"github.com/shotasten/union-board/internal/utils"
	"github.com/shotasten/union-board/pkg/calendar"
	"github.com/shotasten/union-board/pkg/ledger"
	log "github.com/sirupsen/logrus"
)

var ErrEventNotActive = errors.New("event is not active")

type PushAction string

const (
	PushSkipped   PushAction = "skipped"
	PushCreated   PushAction = "created"
	PushUpdated   PushAction = "updated"
	PushRecreated PushAction = "recreated"
)

type PushOptions struct {
	// ForceCreate skips the lookup of the current external reference, for refs
	// known to be stale.
	ForceCreate bool
	// descriptionOnly leaves title, time and location of a linked event to the
	// pull pass.
	descriptionOnly bool
}

type PushResult struct {
	ExternalRef string
	Action      PushAction
}

// Pusher writes ledger events to the calendar. Every ledger write it makes is
// bookkeeping and opts out of external sync.
type Pusher struct {
	ledger   ledger.Ledger
	store    calendar.Store
	renderer *Renderer
	clock    utils.Clock
	location *time.Location
}

func NewPusher(l ledger.Ledger, store calendar.Store, renderer *Renderer, clock utils.Clock, location *time.Location) *Pusher {
	return &Pusher{ledger: l, store: store, renderer: renderer, clock: clock, location: location}
}

// Push makes the calendar reflect event and returns its external id.
func (p *Pusher) Push(ctx context.Context, event ledger.EventRecord, opts PushOptions) (PushResult, error) {
	members, err := p.ledger.ListMembers(ctx)
	if err != nil {
		return PushResult{}, fmt.Errorf("failed to load members: %w", err)
	}
	return p.push(ctx, event, members, opts)
}

// PushById loads the event and pushes it. Events that are not active are skipped.
func (p *Pusher) PushById(ctx context.Context, eventId string) (PushResult, error) {
	event, err := p.ledger.GetEvent(ctx, eventId)
	if err != nil {
		return PushResult{}, err
	}
	if event.Status != ledger.StatusActive {
		log.Debugf("not pushing %s event %s", event.Status, eventId)
		return PushResult{ExternalRef: event.ExternalRef, Action: PushSkipped}, nil
	}
	return p.Push(ctx, event, PushOptions{})
}

// RefreshDescription re-renders the summary of an event and writes it only when
// its hash changed. Only the description is sent; calendar edits of other
// fields stay for the next pull. Unlinked events are created on the calendar.
func (p *Pusher) RefreshDescription(ctx context.Context, eventId string) (PushResult, error) {
	members, err := p.ledger.ListMembers(ctx)
	if err != nil {
		return PushResult{}, fmt.Errorf("failed to load members: %w", err)
	}
	return p.refreshDescription(ctx, eventId, members)
}

func (p *Pusher) refreshDescription(ctx context.Context, eventId string, members []ledger.Member) (PushResult, error) {
	event, err := p.ledger.GetEvent(ctx, eventId)
	if err != nil {
		return PushResult{}, err
	}
	if event.Status != ledger.StatusActive {
		return PushResult{ExternalRef: event.ExternalRef, Action: PushSkipped}, nil
	}
	if event.IsLinked() {
		responses, err := p.ledger.ListResponses(ctx, event.Id)
		if err != nil {
			return PushResult{}, fmt.Errorf("failed to load responses of %s: %w", event.Id, err)
		}
		description := p.renderer.Render(event, responses, members, p.clock.Now())
		if description.Hash() == event.DescriptionHash {
			return PushResult{ExternalRef: event.ExternalRef, Action: PushSkipped}, nil
		}
	}
	return p.push(ctx, event, members, PushOptions{descriptionOnly: true})
}

func (p *Pusher) push(ctx context.Context, event ledger.EventRecord, members []ledger.Member, opts PushOptions) (PushResult, error) {
	if event.IsAllDay {
		event.Start, event.End = utils.NormalizeAllDay(event.Start, event.End, p.location)
	}
	responses, err := p.ledger.ListResponses(ctx, event.Id)
	if err != nil {
		return PushResult{}, fmt.Errorf("failed to load responses of %s: %w", event.Id, err)
	}
	description := p.renderer.Render(event, responses, members, p.clock.Now())

	if opts.ForceCreate || !event.IsLinked() {
		return p.create(ctx, event, description, PushCreated)
	}

	existing, err := p.store.GetEventById(ctx, event.ExternalRef)
	if errors.Is(err, calendar.ErrEventNotFound) {
		log.Infof("calendar event %s of %s is gone, creating a new one", event.ExternalRef, event.Id)
		return p.create(ctx, event, description, PushCreated)
	}
	if err != nil {
		return PushResult{}, fmt.Errorf("failed to fetch calendar event %s: %w", event.ExternalRef, err)
	}

	if opts.descriptionOnly {
		return p.updateDescription(ctx, event, existing, description)
	}

	hash := description.Hash()
	titleChanged := existing.Title != event.Title
	locationChanged := existing.Location != event.Location
	timeChanged := p.timeChanged(event, existing)
	descriptionChanged := hash != event.DescriptionHash

	if !titleChanged && !locationChanged && !timeChanged && !descriptionChanged {
		return PushResult{ExternalRef: existing.Id, Action: PushSkipped}, nil
	}

	if existing.IsAllDay != event.IsAllDay {
		return p.recreate(ctx, event, existing, description)
	}

	var update calendar.FieldsUpdate
	if titleChanged {
		update.Title = pointer.To(event.Title)
	}
	if locationChanged {
		update.Location = pointer.To(event.Location)
	}
	if timeChanged {
		update.Start = pointer.To(event.Start)
		update.End = pointer.To(event.End)
		update.AllDay = event.IsAllDay
	}
	if descriptionChanged {
		update.Description = pointer.To(description.Text)
	}

	updated, err := p.store.UpdateFields(ctx, existing.Id, update)
	if errors.Is(err, calendar.ErrEventNotFound) {
		log.Infof("calendar event %s of %s vanished during update, creating a new one", existing.Id, event.Id)
		return p.create(ctx, event, description, PushCreated)
	}
	if err != nil {
		return PushResult{}, fmt.Errorf("failed to update calendar event %s: %w", existing.Id, err)
	}

	patch := ledger.EventPatch{LastSyncedAt: pointer.To(p.watermark(event, updated))}
	if descriptionChanged {
		patch.DescriptionHash = pointer.To(hash)
	}
	if err := p.writeBack(ctx, event.Id, patch); err != nil {
		return PushResult{}, err
	}
	log.Debugf("updated calendar event %s of %s: %v", existing.Id, event.Id, update.Fields())
	return PushResult{ExternalRef: existing.Id, Action: PushUpdated}, nil
}

// updateDescription writes the summary alone. When the calendar copy was edited
// after the last sync the watermark is kept, so the next pull still sees the
// edit as newer and folds it into the ledger.
func (p *Pusher) updateDescription(ctx context.Context, event ledger.EventRecord, existing calendar.ExternalEvent, description Description) (PushResult, error) {
	hash := description.Hash()
	if hash == event.DescriptionHash {
		return PushResult{ExternalRef: existing.Id, Action: PushSkipped}, nil
	}

	updated, err := p.store.UpdateFields(ctx, existing.Id, calendar.FieldsUpdate{Description: pointer.To(description.Text)})
	if errors.Is(err, calendar.ErrEventNotFound) {
		log.Infof("calendar event %s of %s vanished during update, creating a new one", existing.Id, event.Id)
		return p.create(ctx, event, description, PushCreated)
	}
	if err != nil {
		return PushResult{}, fmt.Errorf("failed to update description of calendar event %s: %w", existing.Id, err)
	}

	patch := ledger.EventPatch{DescriptionHash: pointer.To(hash)}
	if existing.LastModified.After(event.LastSyncedAt) {
		log.Infof("calendar event %s has edits newer than the last sync of %s, leaving them to the next pull", existing.Id, event.Id)
	} else {
		patch.LastSyncedAt = pointer.To(p.watermark(event, updated))
	}
	if err := p.writeBack(ctx, event.Id, patch); err != nil {
		return PushResult{}, err
	}
	log.Debugf("refreshed description of calendar event %s of %s", existing.Id, event.Id)
	return PushResult{ExternalRef: existing.Id, Action: PushUpdated}, nil
}

// drifted reports whether the calendar copy shows a different title, location
// or time than the record.
func (p *Pusher) drifted(event ledger.EventRecord, ext calendar.ExternalEvent) bool {
	if event.IsAllDay {
		event.Start, event.End = utils.NormalizeAllDay(event.Start, event.End, p.location)
	}
	return ext.Title != event.Title || ext.Location != event.Location || p.timeChanged(event, ext)
}

// recreate replaces a calendar event whose all-day flag differs from the
// record, since the calendar cannot convert between the two kinds in place.
// The external id changes.
func (p *Pusher) recreate(ctx context.Context, event ledger.EventRecord, existing calendar.ExternalEvent, description Description) (PushResult, error) {
	if err := p.store.DeleteEvent(ctx, existing.Id); err != nil && !errors.Is(err, calendar.ErrEventNotFound) {
		return PushResult{}, fmt.Errorf("failed to delete calendar event %s before recreating it: %w", existing.Id, err)
	}
	result, err := p.create(ctx, event, description, PushRecreated)
	if err != nil {
		return PushResult{}, err
	}
	log.Infof("event %s switched all-day=%t, calendar id changed from %s to %s", event.Id, event.IsAllDay, existing.Id, result.ExternalRef)
	return result, nil
}

// create inserts the event and records id, hash and watermark in one ledger update.
func (p *Pusher) create(ctx context.Context, event ledger.EventRecord, description Description, action PushAction) (PushResult, error) {
	opts := calendar.EventOptions{Description: description.Text, Location: event.Location}

	var (
		created calendar.ExternalEvent
		err     error
	)
	if event.IsAllDay {
		created, err = p.store.CreateAllDayEvent(ctx, event.Title, event.Start, event.End, opts)
	} else {
		created, err = p.store.CreateEvent(ctx, event.Title, event.Start, event.End, opts)
	}
	if err != nil {
		return PushResult{}, fmt.Errorf("failed to create calendar event for %s: %w", event.Id, err)
	}

	patch := ledger.EventPatch{
		ExternalRef:     pointer.To(created.Id),
		DescriptionHash: pointer.To(description.Hash()),
		LastSyncedAt:    pointer.To(p.watermark(event, created)),
	}
	if err := p.writeBack(ctx, event.Id, patch); err != nil {
		return PushResult{}, err
	}
	log.Debugf("created calendar event %s for %s", created.Id, event.Id)
	return PushResult{ExternalRef: created.Id, Action: action}, nil
}

// DeleteExternal removes the calendar copy of a deleted record and unlinks it.
// A calendar event that is already gone counts as deleted.
func (p *Pusher) DeleteExternal(ctx context.Context, eventId, externalRef string) error {
	if externalRef == "" {
		return nil
	}
	if err := p.store.DeleteEvent(ctx, externalRef); err != nil && !errors.Is(err, calendar.ErrEventNotFound) {
		return fmt.Errorf("failed to delete calendar event %s of %s: %w", externalRef, eventId, err)
	}
	log.Infof("deleted calendar event %s of deleted event %s", externalRef, eventId)
	return p.writeBack(ctx, eventId, ledger.EventPatch{
		ExternalRef:     pointer.To(""),
		DescriptionHash: pointer.To(""),
	})
}

func (p *Pusher) writeBack(ctx context.Context, eventId string, patch ledger.EventPatch) error {
	if _, err := p.ledger.UpdateEvent(ctx, eventId, patch, ledger.WriteOptions{SkipExternalSync: true}); err != nil {
		return fmt.Errorf("calendar was updated but event %s could not record it: %w", eventId, err)
	}
	return nil
}

// watermark is the LastSyncedAt to store after our own write: the calendar's
// modification time of that write, never moving backwards.
func (p *Pusher) watermark(event ledger.EventRecord, written calendar.ExternalEvent) time.Time {
	mark := written.LastModified
	if mark.IsZero() {
		mark = p.clock.Now()
	}
	if event.LastSyncedAt.After(mark) {
		return event.LastSyncedAt
	}
	return mark
}

// timeChanged compares spans the way the calendar shows them: kinds must
// match, all-day events compare by date and timed events by instant.
func (p *Pusher) timeChanged(event ledger.EventRecord, ext calendar.ExternalEvent) bool {
	if event.IsAllDay != ext.IsAllDay {
		return true
	}
	if event.IsAllDay {
		return !utils.SameDate(event.Start, ext.Start, p.location) || !utils.SameDate(event.End, ext.End, p.location)
	}
	return !event.Start.Equal(ext.Start) || !event.End.Equal(ext.End)
}
