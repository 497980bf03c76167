package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/backyonatan-alt/sitewatch/internal/model"
)

// Runner is a monitoring run.
type Runner interface {
	Run(ctx context.Context) (model.RunResult, error)
}

// Scheduler triggers the runner on a cron schedule.
type Scheduler struct {
	runner     Runner
	schedule   cron.Schedule
	expr       string
	runOnStart bool
	now        func() time.Time
	stop       chan struct{}
	stopOnce   sync.Once
}

// New parses expr as a standard five-field cron expression, evaluated in UTC.
func New(r Runner, expr string, runOnStart bool) (*Scheduler, error) {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", expr, err)
	}
	return &Scheduler{
		runner:     r,
		schedule:   schedule,
		expr:       expr,
		runOnStart: runOnStart,
		now:        func() time.Time { return time.Now().UTC() },
		stop:       make(chan struct{}),
	}, nil
}

// Next returns the next scheduled run after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t)
}

// Start runs the schedule. Blocks until Stop is called or ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	slog.Info("scheduler started", "schedule", s.expr, "next", s.Next(s.now()), "run_on_start", s.runOnStart)

	if s.runOnStart {
		s.trigger(ctx)
	}

	for {
		next := s.Next(s.now())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-timer.C:
			s.trigger(ctx)
		case <-s.stop:
			timer.Stop()
			slog.Info("scheduler stopped")
			return
		case <-ctx.Done():
			timer.Stop()
			slog.Info("scheduler context cancelled")
			return
		}
	}
}

func (s *Scheduler) trigger(ctx context.Context) {
	slog.Info("scheduler: triggering monitoring run")
	res, err := s.runner.Run(ctx)
	if err != nil {
		slog.Error("scheduler: monitoring run failed", "error", err)
		return
	}
	slog.Info("scheduler: monitoring run finished", "summary", res.Summary())
}

// Stop signals the scheduler to stop. Safe to call more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}
