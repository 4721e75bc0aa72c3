// Package scheduler runs the pipeline on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/grid-obs-bufr/internal/domain"
	"github.com/couchcryptid/grid-obs-bufr/internal/pipeline"
	"github.com/go-co-op/gocron"
)

// Runner executes one run.
type Runner interface {
	Run(ctx context.Context, date time.Time, obsType domain.ObsType) (*pipeline.Report, error)
}

// Scheduler runs every configured observation type for the date lying lag
// behind the current time.
type Scheduler struct {
	scheduler *gocron.Scheduler
	runner    Runner
	types     []domain.ObsType
	lag       time.Duration
	logger    *slog.Logger
	ctx       context.Context
}

// New creates a Scheduler for a five-field cron expression evaluated in UTC.
func New(expr string, lag time.Duration, types []domain.ObsType, runner Runner, logger *slog.Logger) (*Scheduler, error) {
	s := &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		runner:    runner,
		types:     types,
		lag:       lag,
		logger:    logger,
		ctx:       context.Background(),
	}
	s.scheduler.SingletonModeAll()
	if _, err := s.scheduler.Cron(expr).Do(func() { s.Trigger(s.ctx) }); err != nil {
		return nil, fmt.Errorf("schedule %q: %w", expr, err)
	}
	return s, nil
}

// Start begins scheduling. Jobs started after ctx is cancelled see a
// cancelled context.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx = ctx
	s.scheduler.StartAsync()
	s.logger.Info("scheduler started", "lag", s.lag, "obs_types", s.types)
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	s.scheduler.Stop()
}

// Trigger runs every observation type once for the current target date.
// A failed type does not prevent the others.
func (s *Scheduler) Trigger(ctx context.Context) {
	date := TargetDate(domain.Now(), s.lag)
	s.logger.Info("scheduled run starting", "date", date.Format("2006-01-02"))
	for _, t := range s.types {
		if ctx.Err() != nil {
			return
		}
		rep, err := s.runner.Run(ctx, date, t)
		if err != nil {
			s.logger.Error("scheduled run failed", "obs_type", t, "error", err)
			continue
		}
		s.logger.Info("scheduled run complete", "obs_type", t, "run_id", rep.RunID, "final_count", rep.Stats.FinalCount)
	}
}

// TargetDate is now minus lag, truncated to the UTC day.
func TargetDate(now time.Time, lag time.Duration) time.Time {
	d := now.UTC().Add(-lag)
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
}
