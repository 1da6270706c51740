package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce       sync.Once
	requestsTotal      *prometheus.CounterVec
	latencySeconds     *prometheus.HistogramVec
	errorsTotal        *prometheus.CounterVec
	gradingJobsTotal   *prometheus.CounterVec
	gradingJobSeconds  *prometheus.HistogramVec
	gradingQueueDepth  prometheus.Gauge
	recomputeRowsTotal *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors used by the grading API and workers.
func RegisterMetrics() {
	registerOnce.Do(func() {
		requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grading_api_requests_total",
			Help: "Total number of grading API requests served.",
		}, []string{"method", "route", "status"})

		latencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "grading_api_latency_seconds",
			Help:    "Latency distribution for grading API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		errorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grading_api_errors_total",
			Help: "Total number of error responses returned by grading endpoints.",
		}, []string{"method", "route", "status"})

		gradingJobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grading_jobs_total",
			Help: "Grading jobs by final state.",
		}, []string{"state"})

		gradingJobSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "grading_job_duration_seconds",
			Help:    "Wall-clock duration of grading jobs.",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"kind"})

		gradingQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "grading_queue_depth",
			Help: "Number of grading jobs waiting for a worker.",
		})

		recomputeRowsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grading_recompute_rows_total",
			Help: "Rows inspected by the recompute batch, by outcome.",
		}, []string{"kind", "outcome"})

		prometheus.MustRegister(
			requestsTotal,
			latencySeconds,
			errorsTotal,
			gradingJobsTotal,
			gradingJobSeconds,
			gradingQueueDepth,
			recomputeRowsTotal,
		)
	})
}

// Requests exposes the counter for API requests.
func Requests() *prometheus.CounterVec {
	RegisterMetrics()
	return requestsTotal
}

// Latency exposes the latency histogram for API requests.
func Latency() *prometheus.HistogramVec {
	RegisterMetrics()
	return latencySeconds
}

// Errors exposes the counter for API error responses.
func Errors() *prometheus.CounterVec {
	RegisterMetrics()
	return errorsTotal
}

// GradingJobs counts finished grading jobs per state.
func GradingJobs() *prometheus.CounterVec {
	RegisterMetrics()
	return gradingJobsTotal
}

// GradingJobDuration observes grading job runtimes per kind (practice or assessment).
func GradingJobDuration() *prometheus.HistogramVec {
	RegisterMetrics()
	return gradingJobSeconds
}

// GradingQueueDepth tracks the number of queued jobs.
func GradingQueueDepth() prometheus.Gauge {
	RegisterMetrics()
	return gradingQueueDepth
}

// RecomputeRows counts rows visited by the recompute batch.
func RecomputeRows() *prometheus.CounterVec {
	RegisterMetrics()
	return recomputeRowsTotal
}
