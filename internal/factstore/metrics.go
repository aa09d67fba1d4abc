package factstore

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names.
const (
	MetricFactMergesTotal   = "fact_merges_total"
	MetricFactMergeDuration = "fact_merge_duration_seconds"
)

// Merge outcome label values.
const (
	OutcomeInserted = "inserted"
	OutcomeUpdated  = "updated"
	OutcomeError    = "error"
)

// Metrics holds Prometheus collectors for fact merges.
type Metrics struct {
	mergesTotal   *prometheus.CounterVec
	mergeDuration prometheus.Histogram
}

// NewMetrics creates unregistered fact store metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		mergesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricFactMergesTotal,
				Help: "Total number of fact merges by fact type and outcome",
			},
			[]string{"fact_type", "outcome"},
		),
		mergeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricFactMergeDuration,
			Help:    "Histogram of fact merge latency in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
	}
}

// Register registers all collectors with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncMerge counts one merge outcome.
func (m *Metrics) IncMerge(factType FactType, outcome string) {
	m.mergesTotal.WithLabelValues(string(factType), outcome).Inc()
}

// ObserveMergeDuration records merge latency.
func (m *Metrics) ObserveMergeDuration(seconds float64) {
	m.mergeDuration.Observe(seconds)
}

// Collectors returns all collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.mergesTotal, m.mergeDuration}
}
