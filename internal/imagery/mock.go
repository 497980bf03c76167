package imagery

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/url"
	"sync"
	"time"

	"github.com/backyonatan-alt/sitewatch/internal/model"
)

const (
	SourceMock        = "mock"
	mockMaxCloudCover = 30.0
)

// Mock returns placeholder snapshots without calling any imagery service.
type Mock struct {
	delay time.Duration
	now   func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

// MockOption configures a Mock.
type MockOption func(*Mock)

// WithMockDelay sets the simulated capture latency.
func WithMockDelay(d time.Duration) MockOption {
	return func(m *Mock) { m.delay = d }
}

// WithMockClock sets the clock used for CapturedAt and default dates.
func WithMockClock(now func() time.Time) MockOption {
	return func(m *Mock) { m.now = now }
}

// WithMockSeed makes cloud coverage values reproducible.
func WithMockSeed(seed uint64) MockOption {
	return func(m *Mock) { m.rng = rand.New(rand.NewPCG(seed, seed)) }
}

func NewMock(opts ...MockOption) *Mock {
	m := &Mock{
		delay: 500 * time.Millisecond,
		now:   time.Now,
		rng:   rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Mock) CaptureSnapshot(ctx context.Context, req CaptureRequest) (model.Snapshot, error) {
	if m.delay > 0 {
		timer := time.NewTimer(m.delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return model.Snapshot{}, ctx.Err()
		case <-timer.C:
		}
	}

	now := m.now()
	date := targetDate(req.Date, now)

	m.mu.Lock()
	cloud := m.rng.Float64() * mockMaxCloudCover
	m.mu.Unlock()

	label := url.QueryEscape(fmt.Sprintf("%s %s", req.Point, date))
	return model.Snapshot{
		Date:          date,
		ImageURL:      "https://placehold.co/1200x1200/png?text=" + label,
		CloudCoverage: model.ClampCloudCoverage(cloud),
		Bounds:        BoundingBox(req.Point, req.RadiusMeters),
		CapturedAt:    now,
		Source:        SourceMock,
	}, nil
}

func (m *Mock) GetHistoricalSnapshots(ctx context.Context, req HistoryRequest) ([]model.Snapshot, error) {
	return SampleHistory(ctx, m.CaptureSnapshot, req)
}
