package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/backyonatan-alt/sitewatch/internal/cache"
	"github.com/backyonatan-alt/sitewatch/internal/imagery"
	"github.com/backyonatan-alt/sitewatch/internal/metrics"
	"github.com/backyonatan-alt/sitewatch/internal/model"
	"github.com/backyonatan-alt/sitewatch/internal/progress"
	"github.com/backyonatan-alt/sitewatch/internal/store"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2024, 6, 1, 2, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

const day = 24 * time.Hour

// fakeProvider fails for the listed project IDs and can block until released.
type fakeProvider struct {
	fail    map[string]bool
	block   chan struct{}
	started chan struct{}
	calls   atomic.Int32
	reqs    []imagery.CaptureRequest
	mu      sync.Mutex
	now     func() time.Time
}

func (f *fakeProvider) CaptureSnapshot(ctx context.Context, req imagery.CaptureRequest) (model.Snapshot, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return model.Snapshot{}, ctx.Err()
		}
	}
	if f.fail[req.ProjectID] {
		return model.Snapshot{}, errors.New("imagery unavailable")
	}
	now := time.Now()
	if f.now != nil {
		now = f.now()
	}
	return model.Snapshot{
		Date:       model.DateOf(now),
		ImageURL:   "https://cdn.example.com/" + req.ProjectID + ".png",
		Bounds:     imagery.BoundingBox(req.Point, req.RadiusMeters),
		CapturedAt: now,
		Source:     "fake",
	}, nil
}

func (f *fakeProvider) GetHistoricalSnapshots(ctx context.Context, req imagery.HistoryRequest) ([]model.Snapshot, error) {
	return imagery.SampleHistory(ctx, f.CaptureSnapshot, req)
}

type failingStore struct {
	*store.Memory
	listErr   error
	updateErr error
}

func (s *failingStore) ListActiveProjects(ctx context.Context, statuses []string) ([]model.Project, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.Memory.ListActiveProjects(ctx, statuses)
}

func (s *failingStore) UpdateProjectSnapshots(ctx context.Context, id string, snaps []model.Snapshot) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	return s.Memory.UpdateProjectSnapshots(ctx, id, snaps)
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (n *recordingNotifier) NotifyStall(_ context.Context, projectID, title string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, projectID+":"+title)
	return n.err
}

func (n *recordingNotifier) Calls() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.calls...)
}

func project(id string, lat, lng any) model.Project {
	return model.Project{ID: id, Title: "Project " + id, Status: "active", Location: map[string]any{"lat": lat, "lng": lng}}
}

func noSleep(context.Context, time.Duration) error { return nil }

func newTestMonitor(s store.Store, p imagery.Provider, opts ...Option) *Monitor {
	m := New(s, p, append([]Option{WithDelay(0)}, opts...)...)
	m.sleep = noSleep
	return m
}

func TestProgressScenario(t *testing.T) {
	clk := newClock()
	mem := store.NewMemory(project("nakuru", -0.3031, 36.0800))
	mock := imagery.NewMock(imagery.WithMockDelay(0), imagery.WithMockClock(clk.Now), imagery.WithMockSeed(1))
	m := newTestMonitor(mem, mock, WithClock(clk.Now))
	ctx := context.Background()

	res, err := m.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.SuccessCount)

	clk.Advance(10 * day)
	_, err = m.Run(ctx)
	require.NoError(t, err)

	clk.Advance(25 * day)
	_, err = m.Run(ctx)
	require.NoError(t, err)

	p, err := mem.GetProject(ctx, "nakuru")
	require.NoError(t, err)
	require.Len(t, p.Snapshots, 3)

	first := p.Snapshots[0].Analysis
	require.NotNil(t, first)
	assert.Equal(t, model.StatusBaseline, first.Status)
	assert.Nil(t, first.ChangePercentage)

	second := p.Snapshots[1].Analysis
	require.NotNil(t, second)
	assert.Equal(t, model.StatusStalled, second.Status)
	assert.Contains(t, second.Notes, "10 days")

	third := p.Snapshots[2].Analysis
	require.NotNil(t, third)
	assert.Equal(t, model.StatusProgress, third.Status)
	require.NotNil(t, third.ChangePercentage)
	assert.Equal(t, 50.0, *third.ChangePercentage)

	for i := 1; i < len(p.Snapshots); i++ {
		assert.True(t, p.Snapshots[i].CapturedAt.After(p.Snapshots[i-1].CapturedAt))
	}
}

func TestRunIsolatesProjectFailures(t *testing.T) {
	mem := store.NewMemory(project("a", 1.0, 1.0), project("b", 2.0, 2.0), project("c", 3.0, 3.0))
	prov := &fakeProvider{fail: map[string]bool{"b": true}}
	m := newTestMonitor(mem, prov)

	res, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.TotalCount)
	assert.Equal(t, 2, res.SuccessCount)
	assert.Equal(t, 1, res.ErrorCount)
	assert.Equal(t, 0, res.SkippedCount)
	assert.Equal(t, "2 succeeded, 1 failed", res.Summary())

	for id, want := range map[string]int{"a": 1, "b": 0, "c": 1} {
		p, err := mem.GetProject(context.Background(), id)
		require.NoError(t, err)
		assert.Len(t, p.Snapshots, want, id)
	}
}

func TestRunSkipsInvalidCoordinates(t *testing.T) {
	noLocation := model.Project{ID: "none", Status: "active"}
	mem := store.NewMemory(
		project("ok", "-1.28", "36.82"),
		project("bad-lat", 200.0, 10.0),
		project("bad-type", true, 10.0),
		noLocation,
	)
	prov := &fakeProvider{}
	m := newTestMonitor(mem, prov)

	res, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.TotalCount)
	assert.Equal(t, 1, res.SuccessCount)
	assert.Equal(t, 3, res.SkippedCount)
	assert.EqualValues(t, 1, prov.calls.Load())
	assert.Equal(t, "ok", prov.reqs[0].ProjectID)
	assert.Equal(t, model.Point{Lat: -1.28, Lng: 36.82}, prov.reqs[0].Point)
}

func TestRunUsesConfiguredRadius(t *testing.T) {
	mem := store.NewMemory(project("a", 1.0, 1.0))
	prov := &fakeProvider{}
	m := newTestMonitor(mem, prov, WithRadius(750))

	_, err := m.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, prov.reqs, 1)
	assert.Equal(t, 750.0, prov.reqs[0].RadiusMeters)
	assert.True(t, prov.reqs[0].Date.IsZero())
}

func TestRunDefaultRadius(t *testing.T) {
	m := New(store.NewMemory(), &fakeProvider{})
	assert.Equal(t, 500.0, m.radius)
	assert.Equal(t, 2*time.Second, m.delay)
}

func TestRunListFailureIsFatal(t *testing.T) {
	s := &failingStore{Memory: store.NewMemory(project("a", 1.0, 1.0)), listErr: errors.New("connection refused")}
	prov := &fakeProvider{}
	c := cache.New()
	m := newTestMonitor(s, prov, WithCache(c))

	res, err := m.Run(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "connection refused")
	assert.Equal(t, 0, res.TotalCount)
	assert.EqualValues(t, 0, prov.calls.Load())

	var report Report
	require.NoError(t, json.Unmarshal(c.Bytes(), &report))
	assert.Contains(t, report.Error, "connection refused")
}

func TestRunEmptyProjectList(t *testing.T) {
	m := newTestMonitor(store.NewMemory(model.Project{ID: "d", Status: "draft"}), &fakeProvider{})
	res, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.TotalCount)
	assert.Equal(t, 0, res.SuccessCount)
	assert.Equal(t, 0, res.ErrorCount)
}

func TestRunPersistFailureCountsAsError(t *testing.T) {
	s := &failingStore{Memory: store.NewMemory(project("a", 1.0, 1.0)), updateErr: errors.New("disk full")}
	m := newTestMonitor(s, &fakeProvider{})

	res, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.TotalCount)
	assert.Equal(t, 1, res.ErrorCount)
	assert.Equal(t, 0, res.SuccessCount)
}

func TestRunStatusFilter(t *testing.T) {
	pub := project("pub", 1.0, 1.0)
	pub.Status = "published"
	ongoing := project("ongoing", 1.0, 1.0)
	ongoing.Status = "ongoing"
	prov := &fakeProvider{}
	m := newTestMonitor(store.NewMemory(pub, ongoing), prov, WithStatuses("ongoing"))

	res, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.TotalCount)
	assert.Equal(t, "ongoing", prov.reqs[0].ProjectID)
}

func escalatingClassifier(previous *model.Snapshot, now time.Time) progress.Result {
	return progress.Result{
		Analysis: model.ProgressAnalysis{Status: model.StatusStalled, Notes: "stalled for a long time"},
		Escalate: true,
	}
}

func TestRunEscalatesStalledProjects(t *testing.T) {
	mem := store.NewMemory(project("a", 1.0, 1.0))
	n := &recordingNotifier{}
	m := newTestMonitor(mem, &fakeProvider{}, WithClassifier(escalatingClassifier), WithNotifier(n))

	res, err := m.Run(context.Background())
	require.NoError(t, err)
	m.Close()

	assert.Equal(t, 1, res.SuccessCount)
	assert.Equal(t, []string{"a:Project a"}, n.Calls())

	p, err := mem.GetProject(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, model.StatusStalled, p.Snapshots[0].Analysis.Status)
}

func TestRunIgnoresNotificationFailure(t *testing.T) {
	mem := store.NewMemory(project("a", 1.0, 1.0))
	n := &recordingNotifier{err: errors.New("smtp down")}
	m := newTestMonitor(mem, &fakeProvider{}, WithClassifier(escalatingClassifier), WithNotifier(n))

	res, err := m.Run(context.Background())
	require.NoError(t, err)
	m.Close()
	assert.Equal(t, 1, res.SuccessCount)
	assert.Equal(t, 0, res.ErrorCount)
	assert.Len(t, n.Calls(), 1)
}

func TestRunAfterCloseDropsNotifications(t *testing.T) {
	mem := store.NewMemory(project("a", 1.0, 1.0))
	n := &recordingNotifier{}
	m := newTestMonitor(mem, &fakeProvider{}, WithClassifier(escalatingClassifier), WithNotifier(n))
	m.Close()

	res, err := m.Run(context.Background())
	require.NoError(t, err)
	m.Close()

	assert.Equal(t, 1, res.SuccessCount)
	assert.Empty(t, n.Calls())

	p, err := mem.GetProject(context.Background(), "a")
	require.NoError(t, err)
	require.Len(t, p.Snapshots, 1)
	assert.Equal(t, model.StatusStalled, p.Snapshots[0].Analysis.Status)
}

func TestRunDefaultClassifierDoesNotEscalate(t *testing.T) {
	clk := newClock()
	mem := store.NewMemory(project("a", 1.0, 1.0))
	n := &recordingNotifier{}
	m := newTestMonitor(mem, &fakeProvider{now: clk.Now}, WithClock(clk.Now), WithNotifier(n))

	for _, gap := range []time.Duration{0, 5 * day, 19 * day, 90 * day, 400 * day} {
		clk.Advance(gap)
		_, err := m.Run(context.Background())
		require.NoError(t, err)
	}
	m.Close()
	assert.Empty(t, n.Calls())
}

func TestRunDelaysBetweenProjects(t *testing.T) {
	mem := store.NewMemory(project("a", 1.0, 1.0), project("b", 1.0, 1.0), project("c", 1.0, 1.0))
	m := New(mem, &fakeProvider{}, WithDelay(2*time.Second))
	var sleeps []time.Duration
	m.sleep = func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}

	_, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, sleeps)
}

func TestRunCancelledDuringDelay(t *testing.T) {
	mem := store.NewMemory(project("a", 1.0, 1.0), project("b", 1.0, 1.0))
	prov := &fakeProvider{}
	m := New(mem, prov, WithDelay(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	m.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return sleepCtx(ctx, d)
	}

	res, err := m.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, res.SuccessCount)
	assert.EqualValues(t, 1, prov.calls.Load())
}

func TestConcurrentRunsShareOneExecution(t *testing.T) {
	mem := store.NewMemory(project("a", 1.0, 1.0))
	prov := &fakeProvider{block: make(chan struct{}), started: make(chan struct{}, 1)}
	m := newTestMonitor(mem, prov)

	results := make(chan model.RunResult, 2)
	go func() {
		res, _ := m.Run(context.Background())
		results <- res
	}()
	<-prov.started

	go func() {
		res, _ := m.Run(context.Background())
		results <- res
	}()
	time.Sleep(50 * time.Millisecond)
	close(prov.block)

	first, second := <-results, <-results
	assert.Equal(t, first, second)
	assert.Equal(t, 1, first.SuccessCount)
	assert.EqualValues(t, 1, prov.calls.Load())

	p, err := mem.GetProject(context.Background(), "a")
	require.NoError(t, err)
	assert.Len(t, p.Snapshots, 1)
}

func TestRunRecordsMetricsAndReport(t *testing.T) {
	clk := newClock()
	mem := store.NewMemory(project("a", 1.0, 1.0), project("b", 1.0, 1.0), project("bad", 100.0, 1.0))
	mm := metrics.New(prometheus.NewRegistry())
	c := cache.New()
	m := newTestMonitor(mem, &fakeProvider{fail: map[string]bool{"b": true}, now: clk.Now},
		WithMetrics(mm), WithCache(c), WithClock(clk.Now))

	_, err := m.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(mm.Runs.WithLabelValues(metrics.OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(mm.Projects.WithLabelValues(metrics.ProjectSucceeded)))
	assert.Equal(t, 1.0, testutil.ToFloat64(mm.Projects.WithLabelValues(metrics.ProjectFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(mm.Projects.WithLabelValues(metrics.ProjectSkipped)))
	assert.Equal(t, 1.0, testutil.ToFloat64(mm.Classifications.WithLabelValues(string(model.StatusBaseline))))

	var report Report
	require.NoError(t, json.Unmarshal(c.Bytes(), &report))
	assert.Empty(t, report.Error)
	assert.Equal(t, 2, report.Result.TotalCount)
	assert.Equal(t, 1, report.Result.SkippedCount)
	assert.True(t, clk.Now().Equal(report.FinishedAt))
}

func TestSnapshotsAndHistory(t *testing.T) {
	mem := store.NewMemory(project("a", 1.0, 1.0), model.Project{ID: "nowhere", Status: "active"})
	m := newTestMonitor(mem, &fakeProvider{})
	ctx := context.Background()

	snaps, err := m.Snapshots(ctx, "a")
	require.NoError(t, err)
	assert.NotNil(t, snaps)
	assert.Empty(t, snaps)

	_, err = m.Snapshots(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	start, _ := model.ParseDate("2024-01-01")
	end, _ := model.ParseDate("2024-01-31")
	hist, err := m.History(ctx, "a", start, end, 10)
	require.NoError(t, err)
	assert.Len(t, hist, 4)

	_, err = m.History(ctx, "a", end, start, 10)
	assert.ErrorIs(t, err, imagery.ErrInvalidRange)

	_, err = m.History(ctx, "nowhere", start, end, 10)
	assert.ErrorIs(t, err, model.ErrInvalidCoordinates)

	// History is read-only.
	p, err := mem.GetProject(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, p.Snapshots)
}
