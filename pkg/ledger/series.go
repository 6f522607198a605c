package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shotasten/union-board/internal/event_bus"
	log "github.com/sirupsen/logrus"
	"github.com/teambition/rrule-go"
)

const maxSeriesOccurrences = 200

// defaultSeriesSpan bounds a series whose caller gave no end date.
const defaultSeriesSpan = 365 * 24 * time.Hour

var ErrInvalidRecurrence = errors.New("invalid recurrence rule")

// CreateSeries expands an RRULE (for example "FREQ=WEEKLY;BYDAY=SA") from the
// template start and stores one event per occurrence up to until. Every
// occurrence keeps the template duration; wall-clock times are kept across DST
// because the rule is evaluated in the ledger timezone. Events are stored in
// one transaction and announced only after it commits.
func (s *ServiceImpl) CreateSeries(ctx context.Context, template EventRecord, rule string, until time.Time, opts WriteOptions) ([]string, error) {
	r, err := rrule.StrToRRule(rule)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecurrence, err)
	}
	if template.End.Before(template.Start) {
		return nil, ErrInvalidTimeRange
	}

	start := template.Start.In(s.location)
	if until.IsZero() {
		until = start.Add(defaultSeriesSpan)
	}
	r.DTStart(start)

	occurrences := r.Between(start, until.In(s.location), true)
	if len(occurrences) > maxSeriesOccurrences {
		log.Warnf("series %q has %d occurrences, keeping the first %d", template.Title, len(occurrences), maxSeriesOccurrences)
		occurrences = occurrences[:maxSeriesOccurrences]
	}
	if len(occurrences) == 0 {
		return nil, nil
	}

	duration := template.End.Sub(template.Start)
	events := make([]EventRecord, 0, len(occurrences))
	for _, occurrenceStart := range occurrences {
		occurrence := template
		occurrence.Start = occurrenceStart
		occurrence.End = occurrenceStart.Add(duration)
		occurrence.ExternalRef = ""
		occurrence.DescriptionHash = ""
		occurrence.LastSyncedAt = time.Time{}
		prepared, err := s.prepareNewEvent(occurrence)
		if err != nil {
			return nil, err
		}
		events = append(events, prepared)
	}

	err = s.repo.WithTransaction(ctx, func(repo Repository) error {
		for _, event := range events {
			if err := repo.StoreEvent(ctx, event); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create series %q: %w", template.Title, err)
	}
	log.Infof("created %d events for series %q (%s)", len(events), template.Title, rule)

	ids := make([]string, 0, len(events))
	for _, event := range events {
		ids = append(ids, event.Id)
		if !opts.SkipExternalSync {
			s.publish(ctx, event_bus.EventCreated, event_bus.LedgerEventChanged{EventId: event.Id})
		}
	}
	return ids, nil
}
