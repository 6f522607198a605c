package calendar_sync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/AlekSi/pointer"
	"github.com/shotasten/union-board/pkg/calendar"
	"github.com/shotasten/union-board/pkg/ledger"
	log "github.com/sirupsen/logrus"
)

// Result summarises a sync pass. Succeeded and Failed count processed items;
// the remaining counters break the successes down.
type Result struct {
	Succeeded  int      `json:"succeeded"`
	Failed     int      `json:"failed"`
	Errors     []string `json:"errors"`
	Attached   int      `json:"attached"`
	Updated    int      `json:"updated"`
	Imported   int      `json:"imported"`
	Recreated  int      `json:"recreated"`
	Created    int      `json:"created"`
	Refreshed  int      `json:"refreshed"`
	Duplicates int      `json:"duplicates"`
	Skipped    int      `json:"skipped"`
}

func (r *Result) fail(subject string, err error) {
	r.Failed++
	r.Errors = append(r.Errors, fmt.Sprintf("%s: %v", subject, err))
	log.Errorf("sync of %s failed: %v", subject, err)
}

// Reconciler folds calendar changes into the ledger over a time window.
type Reconciler struct {
	ledger   ledger.Ledger
	store    calendar.Store
	pusher   *Pusher
	location *time.Location
}

func NewReconciler(l ledger.Ledger, store calendar.Store, pusher *Pusher, location *time.Location) *Reconciler {
	return &Reconciler{ledger: l, store: store, pusher: pusher, location: location}
}

// Reconcile runs one pull pass over [start, end]. It returns an error only when
// the pass cannot start; failures of single items are tallied in the Result.
func (r *Reconciler) Reconcile(ctx context.Context, start, end time.Time) (Result, error) {
	result := Result{Errors: []string{}}

	externalEvents, err := r.store.ListEvents(ctx, start, end)
	if err != nil {
		return result, fmt.Errorf("failed to list calendar events: %w", err)
	}
	records, err := r.ledger.ListEvents(ctx, windowFilter(start, end))
	if err != nil {
		return result, fmt.Errorf("failed to list ledger events: %w", err)
	}
	log.Debugf("reconciling %d calendar events with %d ledger events between %s and %s",
		len(externalEvents), len(records), start.Format(time.RFC3339), end.Format(time.RFC3339))

	live := make(map[string]bool, len(externalEvents))
	for _, ext := range externalEvents {
		live[ext.Id] = true
	}

	matcher := NewMatcher(records, r.location)
	for _, ext := range externalEvents {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if err := r.reconcileEvent(ctx, ext, matcher, live, &result); err != nil {
			result.fail("calendar event "+ext.Id, err)
			continue
		}
		result.Succeeded++
	}

	r.revive(ctx, start, end, &result)
	r.reindex(ctx, &result)
	return result, nil
}

func (r *Reconciler) reconcileEvent(ctx context.Context, ext calendar.ExternalEvent, matcher *Matcher, live map[string]bool, result *Result) error {
	record, tier := matcher.Match(ext)
	switch {
	case tier == NoMatch:
		return r.importEvent(ctx, ext, matcher, result)
	case tier == MatchExact:
		return r.resolveConflict(ctx, record, ext, matcher, result)
	case !record.IsLinked():
		return r.attach(ctx, record, ext, matcher, tier, result)
	default:
		return r.linkedLookalike(ctx, record, ext, matcher, live, result)
	}
}

func (r *Reconciler) attach(ctx context.Context, record ledger.EventRecord, ext calendar.ExternalEvent, matcher *Matcher, tier MatchTier, result *Result) error {
	patch := ledger.EventPatch{
		ExternalRef:  pointer.To(ext.Id),
		LastSyncedAt: pointer.To(Resolve(record.LastSyncedAt, ext.LastModified).Watermark),
	}
	if _, err := r.ledger.UpdateEvent(ctx, record.Id, patch, ledger.WriteOptions{SkipExternalSync: true}); err != nil {
		return err
	}
	matcher.Attach(record.Id, ext.Id)
	result.Attached++
	log.Infof("attached calendar event %s to %s (%s match)", ext.Id, record.Id, tier)
	return nil
}

// linkedLookalike handles a calendar event that looks like a record already
// linked to another calendar event. If that link is dead the record moves to
// this event; otherwise this event is a duplicate and is left alone.
func (r *Reconciler) linkedLookalike(ctx context.Context, record ledger.EventRecord, ext calendar.ExternalEvent, matcher *Matcher, live map[string]bool, result *Result) error {
	if !live[record.ExternalRef] {
		_, err := r.store.GetEventById(ctx, record.ExternalRef)
		if errors.Is(err, calendar.ErrEventNotFound) {
			log.Infof("calendar event %s of %s is gone, rebinding to lookalike %s", record.ExternalRef, record.Id, ext.Id)
			return r.attach(ctx, record, ext, matcher, MatchIdentity, result)
		}
		if err != nil {
			return fmt.Errorf("failed to check calendar event %s: %w", record.ExternalRef, err)
		}
	}
	log.Warnf("calendar event %s duplicates %s of ledger event %s, leaving it untouched", ext.Id, record.ExternalRef, record.Id)
	result.Skipped++
	return nil
}

func (r *Reconciler) resolveConflict(ctx context.Context, record ledger.EventRecord, ext calendar.ExternalEvent, matcher *Matcher, result *Result) error {
	resolution := Resolve(record.LastSyncedAt, ext.LastModified)
	if resolution.Winner == LedgerWins {
		return nil
	}

	patch := ledger.EventPatch{
		Title:        pointer.To(ext.Title),
		Start:        pointer.To(ext.Start),
		End:          pointer.To(ext.End),
		IsAllDay:     pointer.To(ext.IsAllDay),
		Location:     pointer.To(ext.Location),
		Description:  pointer.To(StripGenerated(ext.Description)),
		LastSyncedAt: pointer.To(resolution.Watermark),
	}
	if _, err := r.ledger.UpdateEvent(ctx, record.Id, patch, ledger.WriteOptions{SkipExternalSync: true}); err != nil {
		return err
	}
	matcher.Add(patch.Apply(record))
	result.Updated++
	log.Infof("calendar edit of %s (modified %s) applied to %s", ext.Id, ext.LastModified.Format(time.RFC3339), record.Id)
	return nil
}

func (r *Reconciler) importEvent(ctx context.Context, ext calendar.ExternalEvent, matcher *Matcher, result *Result) error {
	if id := EmbeddedEventId(ext.Description); id != "" {
		owner, err := r.ledger.GetEvent(ctx, id)
		if err == nil && owner.Status != ledger.StatusActive {
			log.Warnf("calendar event %s belongs to %s event %s, not importing it", ext.Id, owner.Status, id)
			result.Skipped++
			return nil
		}
	}

	record := ledger.EventRecord{
		Title:        ext.Title,
		Start:        ext.Start,
		End:          ext.End,
		IsAllDay:     ext.IsAllDay,
		Location:     ext.Location,
		Description:  StripGenerated(ext.Description),
		ExternalRef:  ext.Id,
		LastSyncedAt: ext.LastModified,
	}
	// The event already exists on the calendar; pushing it back would duplicate it.
	id, err := r.ledger.CreateEvent(ctx, record, ledger.WriteOptions{SkipExternalSync: true})
	if err != nil {
		return err
	}
	record.Id = id
	matcher.Add(record)
	result.Imported++
	log.Infof("imported calendar event %s (%s) as %s", ext.Id, ext.Title, id)
	return nil
}

// revive recreates calendar events for records whose link points at nothing
// and creates them for unlinked records in the window.
func (r *Reconciler) revive(ctx context.Context, start, end time.Time, result *Result) {
	externalEvents, err := r.store.ListEvents(ctx, start, end)
	if err != nil {
		result.fail("revival listing", err)
		return
	}
	live := make(map[string]bool, len(externalEvents))
	for _, ext := range externalEvents {
		live[ext.Id] = true
	}
	records, err := r.ledger.ListEvents(ctx, windowFilter(start, end))
	if err != nil {
		result.fail("revival ledger listing", err)
		return
	}
	members, err := r.ledger.ListMembers(ctx)
	if err != nil {
		result.fail("revival member listing", err)
		return
	}

	for _, record := range records {
		if ctx.Err() != nil {
			return
		}
		switch {
		case record.IsLinked() && live[record.ExternalRef]:
			continue
		case record.IsLinked():
			pushed, err := r.pusher.push(ctx, record, members, PushOptions{ForceCreate: true})
			if err != nil {
				result.fail("event "+record.Id, err)
				continue
			}
			log.Infof("calendar lost %s of %s, recreated as %s", record.ExternalRef, record.Id, pushed.ExternalRef)
			result.Recreated++
			result.Succeeded++
		default:
			if _, err := r.pusher.push(ctx, record, members, PushOptions{}); err != nil {
				result.fail("event "+record.Id, err)
				continue
			}
			result.Created++
			result.Succeeded++
		}
	}
}

// reindex enforces one non-deleted record per external reference. Active
// records come before archived ones, then the record with the most responses
// keeps the reference (the oldest on a tie); the others are unlinked and
// archived.
func (r *Reconciler) reindex(ctx context.Context, result *Result) {
	records, err := r.ledger.ListEvents(ctx, ledger.EventFilter{Statuses: []ledger.EventStatus{ledger.StatusActive, ledger.StatusArchived}})
	if err != nil {
		result.fail("reindex listing", err)
		return
	}
	holders := map[string][]ledger.EventRecord{}
	for _, record := range records {
		if record.IsLinked() {
			holders[record.ExternalRef] = append(holders[record.ExternalRef], record)
		}
	}

	var responseCounts map[string]int
	for ref, group := range holders {
		if len(group) < 2 {
			continue
		}
		if responseCounts == nil {
			if responseCounts, err = r.countResponses(ctx); err != nil {
				result.fail("reindex response listing", err)
				return
			}
		}
		sort.SliceStable(group, func(i, j int) bool {
			a, b := group[i], group[j]
			if a.Status != b.Status {
				return a.Status == ledger.StatusActive
			}
			if responseCounts[a.Id] != responseCounts[b.Id] {
				return responseCounts[a.Id] > responseCounts[b.Id]
			}
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.Before(b.CreatedAt)
			}
			return a.Id < b.Id
		})

		keeper := group[0]
		archived := ledger.StatusArchived
		for _, duplicate := range group[1:] {
			patch := ledger.EventPatch{
				ExternalRef:     pointer.To(""),
				DescriptionHash: pointer.To(""),
				Status:          &archived,
			}
			if _, err := r.ledger.UpdateEvent(ctx, duplicate.Id, patch, ledger.WriteOptions{SkipExternalSync: true}); err != nil {
				result.fail("event "+duplicate.Id, err)
				continue
			}
			result.Duplicates++
			log.Warnf("events %s and %s both referenced calendar event %s; kept %s, archived %s",
				keeper.Id, duplicate.Id, ref, keeper.Id, duplicate.Id)
		}
	}
}

func (r *Reconciler) countResponses(ctx context.Context) (map[string]int, error) {
	responses, err := r.ledger.ListResponses(ctx, "")
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for _, response := range responses {
		counts[response.EventId]++
	}
	return counts, nil
}

func windowFilter(start, end time.Time) ledger.EventFilter {
	filter := ledger.ActiveEvents()
	filter.From = start
	filter.To = end
	return filter
}

// EmbeddedEventId returns the ledger id stamped into a generated description.
func EmbeddedEventId(description string) string {
	for _, line := range strings.Split(description, "\n") {
		if id, found := strings.CutPrefix(strings.TrimSpace(line), identifierPrefix); found {
			return strings.TrimSpace(id)
		}
	}
	return ""
}
