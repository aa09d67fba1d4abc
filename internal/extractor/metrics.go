package extractor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
)

// Metric names.
const (
	MetricRequestsTotal   = "ner_requests_total"
	MetricRequestDuration = "ner_request_duration_seconds"
	MetricBreakerState    = "ner_breaker_state"
)

// Request outcome label values.
const (
	OutcomeSuccess     = "success"
	OutcomeCached      = "cached"
	OutcomeRejected    = "rejected"
	OutcomeUnavailable = "unavailable"
)

// Metrics holds Prometheus collectors for the NER client.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration prometheus.Histogram
	breakerState    prometheus.Gauge
}

// NewMetrics creates unregistered extractor metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricRequestsTotal,
				Help: "Total number of NER extraction calls by outcome",
			},
			[]string{"outcome"},
		),
		requestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricRequestDuration,
			Help:    "Histogram of NER request latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		breakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricBreakerState,
			Help: "NER circuit breaker state (0=closed, 1=half-open, 2=open)",
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

// SetBreakerState records the current breaker state.
func (m *Metrics) SetBreakerState(s gobreaker.State) {
	switch s {
	case gobreaker.StateHalfOpen:
		m.breakerState.Set(1)
	case gobreaker.StateOpen:
		m.breakerState.Set(2)
	default:
		m.breakerState.Set(0)
	}
}

// observe is safe on a nil receiver.
func (m *Metrics) observe(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(outcome).Inc()
	if outcome != OutcomeCached {
		m.requestDuration.Observe(seconds)
	}
}

// Collectors returns all collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.requestsTotal, m.requestDuration, m.breakerState}
}
