package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sitewatch"

// Run outcomes.
const (
	OutcomeOK        = "ok"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// Project results.
const (
	ProjectSucceeded = "succeeded"
	ProjectFailed    = "failed"
	ProjectSkipped   = "skipped"
)

// Monitor holds the monitoring run collectors.
type Monitor struct {
	Runs              *prometheus.CounterVec // labels: outcome
	Projects          *prometheus.CounterVec // labels: result
	Classifications   *prometheus.CounterVec // labels: status
	Escalations       prometheus.Counter
	ProviderFallbacks *prometheus.CounterVec // labels: source
	RunDuration       prometheus.Histogram
	LastRunTime       prometheus.Gauge
}

// New registers the collectors on reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Monitor {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Monitor{
		Runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total number of monitoring runs by outcome",
		}, []string{"outcome"}),
		Projects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "projects_total",
			Help:      "Total number of projects processed by result",
		}, []string{"result"}),
		Classifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifications_total",
			Help:      "Total number of snapshots classified by status",
		}, []string{"status"}),
		Escalations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escalations_total",
			Help:      "Total number of stall escalations sent",
		}),
		ProviderFallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_fallbacks_total",
			Help:      "Total number of imagery source failures that fell back to the next source",
		}, []string{"source"}),
		RunDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of monitoring runs",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		LastRunTime: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last monitoring run finished",
		}),
	}
}

func (m *Monitor) ObserveRun(outcome string, d time.Duration, finished time.Time) {
	m.Runs.WithLabelValues(outcome).Inc()
	m.RunDuration.Observe(d.Seconds())
	m.LastRunTime.Set(float64(finished.Unix()))
}

func (m *Monitor) IncProject(result string) {
	m.Projects.WithLabelValues(result).Inc()
}

func (m *Monitor) IncClassification(status string) {
	m.Classifications.WithLabelValues(status).Inc()
}

func (m *Monitor) IncEscalation() {
	m.Escalations.Inc()
}

// IncFallback matches the imagery fallback hook signature.
func (m *Monitor) IncFallback(source string, _ error) {
	m.ProviderFallbacks.WithLabelValues(source).Inc()
}
