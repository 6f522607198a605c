package diff_sync

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shotasten/union-board/pkg/calendar_sync"
	log "github.com/sirupsen/logrus"
)

// Jobs runs the diff sync and the full rollup sync on cron schedules. Each job
// is skipped while its previous invocation is still running.
type Jobs struct {
	cron *cron.Cron
}

func NewJobs(scheduler *Scheduler, syncService calendar_sync.Service, location *time.Location, diffSpec, rollupSpec string) (*Jobs, error) {
	logger := cron.PrintfLogger(log.StandardLogger())
	c := cron.New(
		cron.WithLocation(location),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	if _, err := c.AddFunc(diffSpec, func() {
		if _, err := scheduler.Run(context.Background()); err != nil {
			log.Errorf("scheduled diff sync failed: %v", err)
		}
	}); err != nil {
		return nil, fmt.Errorf("invalid diff sync schedule %q: %w", diffSpec, err)
	}

	if _, err := c.AddFunc(rollupSpec, func() {
		if _, err := syncService.SyncAll(context.Background(), true); err != nil {
			log.Errorf("scheduled full sync failed: %v", err)
		}
	}); err != nil {
		return nil, fmt.Errorf("invalid full sync schedule %q: %w", rollupSpec, err)
	}

	return &Jobs{cron: c}, nil
}

func (j *Jobs) Start() {
	log.Infof("starting %d sync jobs", len(j.cron.Entries()))
	j.cron.Start()
}

// Stop halts scheduling and waits for running jobs to finish or ctx to expire.
func (j *Jobs) Stop(ctx context.Context) {
	select {
	case <-j.cron.Stop().Done():
	case <-ctx.Done():
		log.Warn("sync jobs still running at shutdown")
	}
}

// Next returns the next activation times, for diagnostics.
func (j *Jobs) Next() []time.Time {
	entries := j.cron.Entries()
	next := make([]time.Time, 0, len(entries))
	for _, e := range entries {
		next = append(next, e.Next)
	}
	return next
}
