package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names.
const (
	MetricRecordsTotal      = "ingest_records_total"
	MetricGeneMentionsTotal = "ingest_gene_mentions_total"
	MetricFactsMergedTotal  = "ingest_facts_merged_total"
	MetricBatchDuration     = "ingest_batch_duration_seconds"
	MetricBatchSize         = "ingest_batch_records"
)

// Metrics holds Prometheus collectors for ingestion runs.
type Metrics struct {
	records       *prometheus.CounterVec
	geneMentions  prometheus.Counter
	factsMerged   prometheus.Counter
	batchDuration prometheus.Histogram
	batchSize     prometheus.Histogram
}

// NewMetrics creates unregistered ingestion metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		records: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricRecordsTotal,
				Help: "Total number of papers handled by outcome",
			},
			[]string{"outcome"},
		),
		geneMentions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricGeneMentionsTotal,
			Help: "Total number of gene mentions recorded",
		}),
		factsMerged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricFactsMergedTotal,
			Help: "Total number of fact increments merged",
		}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricBatchDuration,
			Help:    "Histogram of batch processing time in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricBatchSize,
			Help:    "Histogram of papers per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250},
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

func (o outcome) String() string {
	switch o {
	case outcomeProcessed:
		return "processed"
	case outcomeSkipped:
		return "skipped"
	default:
		return "failed"
	}
}

// incRecord counts one record outcome.
func (m *Metrics) incRecord(o outcome) {
	m.records.WithLabelValues(o.String()).Inc()
}

// ObserveBatch records one batch.
func (m *Metrics) ObserveBatch(seconds float64, records int) {
	m.batchDuration.Observe(seconds)
	m.batchSize.Observe(float64(records))
}

// ObserveRun adds a finished run's write totals.
func (m *Metrics) ObserveRun(s Summary) {
	m.geneMentions.Add(float64(s.GeneMentions))
	m.factsMerged.Add(float64(s.FactsMerged))
}

// Collectors returns all collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.records, m.geneMentions, m.factsMerged, m.batchDuration, m.batchSize}
}
