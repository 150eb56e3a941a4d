package ingest

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/lox/olivepanel/internal/metrics"
)

// weekly refresh, Monday 06:00, after the EU portal publishes.
const weeklySpec = "0 6 * * 1"

// Scheduler drives the full pipeline on a weekly cron in serve mode. The
// run function owns its own error handling per source; a failed run is
// logged and the next tick tries again.
type Scheduler struct {
	cron *cron.Cron
	run  func(ctx context.Context) error
}

func NewScheduler(run func(ctx context.Context) error) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithLocation(time.UTC)),
		run:  run,
	}
}

// Run executes one pipeline pass immediately, then on the weekly schedule
// until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.runOnce(ctx)

	if _, err := s.cron.AddFunc(weeklySpec, func() { s.runOnce(ctx) }); err != nil {
		return err
	}
	s.cron.Start()
	log.Printf("scheduler: weekly refresh scheduled (%s)", weeklySpec)

	<-ctx.Done()
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	return ctx.Err()
}

func (s *Scheduler) runOnce(ctx context.Context) {
	start := time.Now()
	if err := s.run(ctx); err != nil {
		log.Printf("scheduler: pipeline run failed: %v", err)
		return
	}
	metrics.LastSnapshotTimestamp.SetToCurrentTime()
	log.Printf("scheduler: pipeline run completed in %s", time.Since(start).Round(time.Millisecond))
}
