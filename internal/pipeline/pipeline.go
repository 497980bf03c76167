package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/backyonatan-alt/sitewatch/internal/cache"
	"github.com/backyonatan-alt/sitewatch/internal/imagery"
	"github.com/backyonatan-alt/sitewatch/internal/metrics"
	"github.com/backyonatan-alt/sitewatch/internal/model"
	"github.com/backyonatan-alt/sitewatch/internal/notify"
	"github.com/backyonatan-alt/sitewatch/internal/progress"
	"github.com/backyonatan-alt/sitewatch/internal/store"
)

const (
	runKey        = "monitoring-run"
	notifyTimeout = 30 * time.Second
)

// Report is the cached outcome of the latest run.
type Report struct {
	Result     model.RunResult `json:"result"`
	Error      string          `json:"error,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
}

// Monitor orchestrates a run: list -> capture -> classify -> persist -> notify.
type Monitor struct {
	store    store.Store
	provider imagery.Provider
	classify progress.Classifier
	notifier notify.Notifier
	metrics  *metrics.Monitor
	cache    *cache.Cache

	statuses []string
	radius   float64
	delay    time.Duration
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error

	runs    singleflight.Group
	pending sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// Option configures a Monitor.
type Option func(*Monitor)

func WithClassifier(c progress.Classifier) Option {
	return func(m *Monitor) { m.classify = c }
}

func WithNotifier(n notify.Notifier) Option {
	return func(m *Monitor) { m.notifier = n }
}

func WithMetrics(mm *metrics.Monitor) Option {
	return func(m *Monitor) { m.metrics = mm }
}

func WithCache(c *cache.Cache) Option {
	return func(m *Monitor) { m.cache = c }
}

// WithStatuses sets the project statuses that count as active.
func WithStatuses(statuses ...string) Option {
	return func(m *Monitor) { m.statuses = statuses }
}

func WithRadius(meters float64) Option {
	return func(m *Monitor) { m.radius = meters }
}

// WithDelay sets the pause between consecutive projects.
func WithDelay(d time.Duration) Option {
	return func(m *Monitor) { m.delay = d }
}

func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

func New(s store.Store, p imagery.Provider, opts ...Option) *Monitor {
	m := &Monitor{
		store:    s,
		provider: p,
		classify: progress.Classify,
		notifier: notify.Log{},
		statuses: []string{"active", "published"},
		radius:   500,
		delay:    2 * time.Second,
		now:      time.Now,
		sleep:    sleepCtx,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run processes every active project once. Concurrent calls share the run
// already in flight and receive its result. A failure to list projects is
// returned as an error; per-project failures are only counted.
func (m *Monitor) Run(ctx context.Context) (model.RunResult, error) {
	v, err, shared := m.runs.Do(runKey, func() (any, error) {
		return m.run(ctx)
	})
	if shared {
		slog.Info("joined monitoring run already in progress")
	}
	return v.(model.RunResult), err
}

func (m *Monitor) run(ctx context.Context) (model.RunResult, error) {
	started := m.now()
	slog.Info("monitoring run starting", "statuses", m.statuses)

	result, err := m.processAll(ctx)

	finished := m.now()
	result.DurationSeconds = finished.Sub(started).Seconds()

	outcome := metrics.OutcomeOK
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		outcome = metrics.OutcomeCancelled
	case err != nil:
		outcome = metrics.OutcomeFailed
	}
	if m.metrics != nil {
		m.metrics.ObserveRun(outcome, finished.Sub(started), finished)
	}

	report := Report{Result: result, StartedAt: started, FinishedAt: finished}
	if err != nil {
		report.Error = err.Error()
		slog.Error("monitoring run failed", "error", err, "succeeded", result.SuccessCount, "failed", result.ErrorCount)
	} else {
		slog.Info("monitoring run complete",
			"total", result.TotalCount,
			"succeeded", result.SuccessCount,
			"failed", result.ErrorCount,
			"skipped", result.SkippedCount,
			"duration_s", result.DurationSeconds,
		)
	}
	if m.cache != nil {
		if cerr := m.cache.Store(report); cerr != nil {
			slog.Warn("failed to cache run report", "error", cerr)
		}
	}
	return result, err
}

func (m *Monitor) processAll(ctx context.Context) (model.RunResult, error) {
	var result model.RunResult

	projects, err := m.store.ListActiveProjects(ctx, m.statuses)
	if err != nil {
		return result, fmt.Errorf("list active projects: %w", err)
	}
	if len(projects) == 0 {
		slog.Info("no active projects to monitor")
		return result, nil
	}
	slog.Info("loaded active projects", "count", len(projects))

	for i, p := range projects {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		point, err := model.ParsePoint(p.Location)
		if err != nil {
			slog.Warn("skipping project with invalid coordinates", "project", p.ID, "error", err)
			result.SkippedCount++
			m.countProject(metrics.ProjectSkipped)
			continue
		}

		result.TotalCount++
		if err := m.processProject(ctx, p, point); err != nil {
			slog.Error("project monitoring failed", "project", p.ID, "error", err)
			result.ErrorCount++
			m.countProject(metrics.ProjectFailed)
		} else {
			result.SuccessCount++
			m.countProject(metrics.ProjectSucceeded)
		}

		if i < len(projects)-1 && m.delay > 0 {
			if err := m.sleep(ctx, m.delay); err != nil {
				return result, err
			}
		}
	}
	return result, nil
}

func (m *Monitor) processProject(ctx context.Context, p model.Project, point model.Point) error {
	snap, err := m.provider.CaptureSnapshot(ctx, imagery.CaptureRequest{
		ProjectID:    p.ID,
		Point:        point,
		RadiusMeters: m.radius,
	})
	if err != nil {
		return fmt.Errorf("capture: %w", err)
	}

	snap, history, escalate := progress.Annotate(m.classify, p.Snapshots, snap, m.now())

	if err := m.store.UpdateProjectSnapshots(ctx, p.ID, history); err != nil {
		return fmt.Errorf("persist snapshots: %w", err)
	}

	status := snap.Analysis.Status
	slog.Info("project snapshot recorded", "project", p.ID, "status", status, "source", snap.Source, "snapshots", len(history))
	if m.metrics != nil {
		m.metrics.IncClassification(string(status))
	}

	if escalate {
		m.escalate(ctx, p)
	}
	return nil
}

// escalate sends the stall notification in the background. Its outcome
// never affects the run. After Close no new notifications are started.
func (m *Monitor) escalate(ctx context.Context, p model.Project) {
	if m.metrics != nil {
		m.metrics.IncEscalation()
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		slog.Warn("monitor closed, stall notification dropped", "project", p.ID)
		return
	}
	m.pending.Add(1)
	m.mu.Unlock()
	go func() {
		defer m.pending.Done()
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()
		if err := m.notifier.NotifyStall(nctx, p.ID, p.Title); err != nil {
			slog.Warn("stall notification failed", "project", p.ID, "error", err)
		}
	}()
}

// Close stops new stall notifications and blocks until the ones already
// sent have finished. Runs still in flight keep working but escalate nothing.
func (m *Monitor) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.pending.Wait()
}

func (m *Monitor) countProject(result string) {
	if m.metrics != nil {
		m.metrics.IncProject(result)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
