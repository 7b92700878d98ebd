package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	metrics "github.com/tigerroll/undertow/pkg/dbchange/core/metrics"
	model "github.com/tigerroll/undertow/pkg/dbchange/core/domain/model"
)

// PrometheusRecorder is a Prometheus implementation of the metrics.MetricRecorder interface.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	// Job Metrics
	jobsRunning        *prometheus.GaugeVec
	jobDurationSeconds *prometheus.HistogramVec
	jobStatusCounter   *prometheus.CounterVec

	// Phase Metrics
	phaseDurationSeconds *prometheus.HistogramVec

	// Row Metrics
	rowsCopied  *prometheus.CounterVec
	rowsDeleted *prometheus.CounterVec

	retryCounter    *prometheus.CounterVec
	throttleSeconds *prometheus.HistogramVec
}

// NewPrometheusRecorder creates a PrometheusRecorder backed by its own registry.
func NewPrometheusRecorder() *PrometheusRecorder {
	registry := prometheus.NewRegistry()

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &PrometheusRecorder{
		registry: registry,
		jobsRunning: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "undertow_jobs_running",
			Help: "Jobs currently held by a worker.",
		}, []string{"sub_type"}),
		jobDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "undertow_job_duration_seconds",
			Help:    "Duration of job attempts.",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 3600, 4 * 3600},
		}, []string{"sub_type", "status"}),
		jobStatusCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "undertow_job_status_total",
			Help: "Job attempts by final status and failure kind.",
		}, []string{"sub_type", "status", "failure_kind"}),
		phaseDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "undertow_phase_duration_seconds",
			Help:    "Duration of engine phases.",
			Buckets: prometheus.DefBuckets,
		}, []string{"engine", "phase", "outcome"}),
		rowsCopied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "undertow_rows_copied_total",
			Help: "Rows written to shadow or target tables.",
		}, []string{"engine", "table"}),
		rowsDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "undertow_rows_deleted_total",
			Help: "Rows removed from archive source tables.",
		}, []string{"table"}),
		retryCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "undertow_retry_total",
			Help: "Retried operations by reason.",
		}, []string{"operation", "reason"}),
		throttleSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "undertow_throttle_wait_seconds",
			Help:    "Time batches waited on the rate limiter.",
			Buckets: []float64{.001, .01, .1, .5, 1, 5},
		}, []string{"table"}),
	}

	registry.MustRegister(
		r.jobsRunning,
		r.jobDurationSeconds,
		r.jobStatusCounter,
		r.phaseDurationSeconds,
		r.rowsCopied,
		r.rowsDeleted,
		r.retryCounter,
		r.throttleSeconds,
	)
	return r
}

// GetRegistry returns the registry the recorder writes to.
func (r *PrometheusRecorder) GetRegistry() *prometheus.Registry {
	return r.registry
}

func (r *PrometheusRecorder) RecordJobStart(_ context.Context, execution *model.JobExecution) {
	r.jobsRunning.WithLabelValues(execution.Identity.SourceSubType()).Inc()
}

// RecordJobEnd is also called when an attempt goes back to PENDING; it is counted under that status.
func (r *PrometheusRecorder) RecordJobEnd(_ context.Context, execution *model.JobExecution) {
	subType := execution.Identity.SourceSubType()
	status := execution.Status.String()
	kind := ""
	if execution.Failure != nil {
		kind = execution.Failure.Kind.String()
	}

	r.jobsRunning.WithLabelValues(subType).Dec()
	r.jobStatusCounter.WithLabelValues(subType, status, kind).Inc()
	if d, ok := attemptDuration(execution); ok {
		r.jobDurationSeconds.WithLabelValues(subType, status).Observe(d.Seconds())
	}
}

func (r *PrometheusRecorder) RecordPhase(_ context.Context, engine, phase string, duration time.Duration, outcome string) {
	r.phaseDurationSeconds.WithLabelValues(engine, phase, outcome).Observe(duration.Seconds())
}

func (r *PrometheusRecorder) RecordRowsCopied(_ context.Context, engine, table string, count int) {
	if count > 0 {
		r.rowsCopied.WithLabelValues(engine, table).Add(float64(count))
	}
}

func (r *PrometheusRecorder) RecordRowsDeleted(_ context.Context, table string, count int) {
	if count > 0 {
		r.rowsDeleted.WithLabelValues(table).Add(float64(count))
	}
}

func (r *PrometheusRecorder) RecordRetry(_ context.Context, operation, reason string) {
	r.retryCounter.WithLabelValues(operation, reason).Inc()
}

func (r *PrometheusRecorder) RecordThrottle(_ context.Context, table string, wait time.Duration) {
	r.throttleSeconds.WithLabelValues(table).Observe(wait.Seconds())
}

// attemptDuration measures from StartTime to EndTime, or to now for a requeued attempt.
func attemptDuration(execution *model.JobExecution) (time.Duration, bool) {
	if execution.StartTime == nil {
		return 0, false
	}
	end := time.Now()
	if execution.EndTime != nil {
		end = *execution.EndTime
	}
	return end.Sub(*execution.StartTime), true
}

var _ metrics.MetricRecorder = (*PrometheusRecorder)(nil)
