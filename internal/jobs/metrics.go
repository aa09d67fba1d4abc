// Package jobs provides shared metrics for the ingestion, import and
// recompute jobs.
package jobs

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/onnwee/genetarget/internal/errkind"
)

// Metric names.
const (
	MetricBackgroundJobsTotal      = "background_jobs_total"
	MetricBackgroundJobsDuration   = "background_jobs_duration_seconds"
	MetricBackgroundJobErrorsTotal = "background_job_errors_total"
)

// Job types.
const (
	JobTypeCompositeRecompute = "composite_recompute"
	JobTypeIngestion          = "ingestion"
	JobTypeComponentRefresh   = "component_refresh"
	JobTypeCRISPRImport       = "crispr_import"
	JobTypeGraphSync          = "graph_sync"
	JobTypeExport             = "ranked_export"
)

// Completion statuses.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Metrics tracks background job runs by type.
type Metrics struct {
	jobsTotal    *prometheus.CounterVec
	jobsDuration *prometheus.HistogramVec
	jobErrors    *prometheus.CounterVec
}

// NewMetrics creates unregistered job metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		jobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricBackgroundJobsTotal,
				Help: "Total number of background job runs by type and status",
			},
			[]string{"job_type", "status"},
		),
		jobsDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricBackgroundJobsDuration,
				Help:    "Histogram of background job duration in seconds by job type",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900},
			},
			[]string{"job_type"},
		),
		jobErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricBackgroundJobErrorsTotal,
				Help: "Total number of background job errors by type and error kind",
			},
			[]string{"job_type", "error_type"},
		),
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

// IncJobsTotal counts one finished run.
func (m *Metrics) IncJobsTotal(jobType, status string) {
	m.jobsTotal.WithLabelValues(jobType, status).Inc()
}

// ObserveJobDuration records a run duration.
func (m *Metrics) ObserveJobDuration(jobType string, seconds float64) {
	m.jobsDuration.WithLabelValues(jobType).Observe(seconds)
}

// IncJobErrors counts one error, labelled with its errkind or a short tag
// such as "timeout".
func (m *Metrics) IncJobErrors(jobType, errorType string) {
	m.jobErrors.WithLabelValues(jobType, errorType).Inc()
}

// Track starts timing a run of jobType. The returned func records the
// duration and status; a non-nil error also counts under its errkind.
//
//	done := metrics.Track(jobs.JobTypeIngestion)
//	defer func() { done(err) }()
func (m *Metrics) Track(jobType string) func(error) {
	start := time.Now()
	return func(err error) {
		m.ObserveJobDuration(jobType, time.Since(start).Seconds())
		if err != nil {
			m.IncJobsTotal(jobType, StatusFailure)
			m.IncJobErrors(jobType, errkind.Of(err).String())
			return
		}
		m.IncJobsTotal(jobType, StatusSuccess)
	}
}

// Collectors returns all collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.jobsTotal, m.jobsDuration, m.jobErrors}
}
