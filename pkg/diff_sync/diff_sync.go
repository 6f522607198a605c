package diff_sync

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shotasten/union-board/internal/utils"
	"github.com/shotasten/union-board/pkg/calendar_sync"
	"github.com/shotasten/union-board/pkg/ledger"
	log "github.com/sirupsen/logrus"
)

// WatermarkKey is the property holding the time of the last completed diff run.
const WatermarkKey = "diff_sync.watermark"

type WatermarkStore interface {
	GetConfig(ctx context.Context, key, defaultValue string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

type ResponseSource interface {
	ListResponsesUpdatedSince(ctx context.Context, since time.Time) ([]ledger.ResponseRecord, error)
}

type DescriptionRefresher interface {
	RefreshDescription(ctx context.Context, eventId string) (calendar_sync.PushResult, error)
}

type Report struct {
	Skipped      bool      `json:"skipped"`
	Reason       string    `json:"reason,omitempty"`
	Watermark    time.Time `json:"watermark"`
	NewWatermark time.Time `json:"newWatermark,omitempty"`
	Events       int       `json:"events"`
	Refreshed    int       `json:"refreshed"`
	Unchanged    int       `json:"unchanged"`
	Failed       int       `json:"failed"`
	Errors       []string  `json:"errors"`
}

// Scheduler refreshes the calendar summaries of events whose responses changed
// since the previous run.
type Scheduler struct {
	watermarks  WatermarkStore
	responses   ResponseSource
	refresher   DescriptionRefresher
	clock       utils.Clock
	minInterval time.Duration
}

func NewScheduler(watermarks WatermarkStore, responses ResponseSource, refresher DescriptionRefresher, clock utils.Clock, minInterval time.Duration) *Scheduler {
	return &Scheduler{
		watermarks:  watermarks,
		responses:   responses,
		refresher:   refresher,
		clock:       clock,
		minInterval: minInterval,
	}
}

// Run performs one diff sync. A run starting less than minInterval after the
// stored watermark is skipped without touching ledger or calendar.
func (s *Scheduler) Run(ctx context.Context) (Report, error) {
	now := s.clock.Now()
	watermark, err := s.loadWatermark(ctx, now)
	if err != nil {
		return Report{}, err
	}

	if !watermark.IsZero() && now.Sub(watermark) >= 0 && now.Sub(watermark) < s.minInterval {
		log.Debugf("diff sync skipped, last run at %s", watermark.Format(time.RFC3339))
		return Report{
			Skipped:   true,
			Reason:    fmt.Sprintf("previous run finished %s ago", now.Sub(watermark).Round(time.Second)),
			Watermark: watermark,
			Errors:    []string{},
		}, nil
	}

	report, err := s.diffSync(ctx, watermark, now)
	if err != nil {
		return report, err
	}
	if err := s.watermarks.SetConfig(ctx, WatermarkKey, now.UTC().Format(time.RFC3339Nano)); err != nil {
		return report, fmt.Errorf("failed to store diff sync watermark: %w", err)
	}
	report.NewWatermark = now
	log.Infof("diff sync refreshed %d of %d events (%d failed)", report.Refreshed, report.Events, report.Failed)
	return report, nil
}

// loadWatermark reads the stored watermark. A malformed value is treated as
// unset so the next run rescans everything.
func (s *Scheduler) loadWatermark(ctx context.Context, now time.Time) (time.Time, error) {
	value, err := s.watermarks.GetConfig(ctx, WatermarkKey, "")
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read diff sync watermark: %w", err)
	}
	if value == "" {
		return time.Time{}, nil
	}
	watermark, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		log.Warnf("ignoring malformed diff sync watermark %q: %v", value, err)
		return time.Time{}, nil
	}
	if watermark.After(now) {
		log.Warnf("diff sync watermark %s is in the future, running anyway", value)
	}
	return watermark, nil
}

// diffSync refreshes every event with a response updated after watermark.
// Per-event failures are reported but do not stop the run.
func (s *Scheduler) diffSync(ctx context.Context, watermark, now time.Time) (Report, error) {
	report := Report{Watermark: watermark, Errors: []string{}}

	responses, err := s.responses.ListResponsesUpdatedSince(ctx, watermark)
	if err != nil {
		return report, fmt.Errorf("failed to scan responses: %w", err)
	}

	seen := make(map[string]bool)
	var eventIds []string
	for _, response := range responses {
		if response.UpdatedAt.After(now) {
			continue
		}
		if !seen[response.EventId] {
			seen[response.EventId] = true
			eventIds = append(eventIds, response.EventId)
		}
	}
	sort.Strings(eventIds)
	report.Events = len(eventIds)

	for _, eventId := range eventIds {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		result, err := s.refresher.RefreshDescription(ctx, eventId)
		if err != nil {
			report.Failed++
			report.Errors = append(report.Errors, fmt.Sprintf("event %s: %v", eventId, err))
			log.Errorf("diff sync of event %s failed: %v", eventId, err)
			continue
		}
		if result.Action == calendar_sync.PushSkipped {
			report.Unchanged++
		} else {
			report.Refreshed++
		}
	}
	return report, nil
}
