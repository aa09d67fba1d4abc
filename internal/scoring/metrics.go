package scoring

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names.
const (
	MetricCompositeRecomputeTotal  = "composite_recompute_total"
	MetricCompositeRecomputeErrors = "composite_recompute_errors_total"
	MetricCompositeSweepDuration   = "composite_sweep_duration_seconds"
	MetricCompositeLastSweepTime   = "composite_last_sweep_timestamp"
	MetricCompositeLastSweepGenes  = "composite_last_sweep_gene_count"
	MetricComponentUpdatesTotal    = "score_component_updates_total"
)

// Metrics contains Prometheus metrics for composite recomputation and
// evidence component refreshes.
type Metrics struct {
	recomputeTotal   *prometheus.CounterVec
	recomputeErrors  prometheus.Counter
	sweepDuration    prometheus.Histogram
	lastSweepTime    prometheus.Gauge
	lastSweepGenes   prometheus.Gauge
	componentUpdates *prometheus.CounterVec
}

// NewMetrics creates unregistered scoring metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		recomputeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricCompositeRecomputeTotal,
			Help: "Total number of composite score recomputations by result (scored, null)",
		}, []string{"result"}),
		recomputeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricCompositeRecomputeErrors,
			Help: "Total number of failed composite score recomputations",
		}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricCompositeSweepDuration,
			Help:    "Histogram of composite recompute sweep duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
		}),
		lastSweepTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricCompositeLastSweepTime,
			Help: "Unix timestamp of the last composite recompute sweep",
		}),
		lastSweepGenes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricCompositeLastSweepGenes,
			Help: "Number of genes recomputed in the last sweep",
		}),
		componentUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricComponentUpdatesTotal,
			Help: "Total number of score component writes by component",
		}, []string{"component"}),
	}
}

// Register registers all metrics with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncRecompute counts one recomputation; scored is false when the composite
// was stored as NULL.
func (m *Metrics) IncRecompute(scored bool) {
	result := "scored"
	if !scored {
		result = "null"
	}
	m.recomputeTotal.WithLabelValues(result).Inc()
}

// IncRecomputeErrors counts one failed recomputation.
func (m *Metrics) IncRecomputeErrors() {
	m.recomputeErrors.Inc()
}

// ObserveSweep records a completed sweep.
func (m *Metrics) ObserveSweep(seconds float64, genes int, unix float64) {
	m.sweepDuration.Observe(seconds)
	m.lastSweepGenes.Set(float64(genes))
	m.lastSweepTime.Set(unix)
}

// IncComponentUpdate counts one component write.
func (m *Metrics) IncComponentUpdate(component string) {
	m.componentUpdates.WithLabelValues(component).Inc()
}

// Collectors returns all collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.recomputeTotal,
		m.recomputeErrors,
		m.sweepDuration,
		m.lastSweepTime,
		m.lastSweepGenes,
		m.componentUpdates,
	}
}
