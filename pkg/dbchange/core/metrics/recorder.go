// Package metrics defines the metric and tracing abstractions used by the engines and the dispatcher.
// Implementations live in infrastructure/metrics; the no-op versions here are the defaults.
package metrics

import (
	"context"
	"time"

	"github.com/tigerroll/undertow/pkg/dbchange/core/domain/model"
)

// MetricRecorder records job, phase and row-level metrics.
type MetricRecorder interface {
	// RecordJobStart records a job entering RUNNING.
	RecordJobStart(ctx context.Context, execution *model.JobExecution)
	// RecordJobEnd records a job reaching a terminal state (or going back to PENDING for a retry).
	RecordJobEnd(ctx context.Context, execution *model.JobExecution)
	// RecordPhase records the duration and outcome ("ok", "aborted", "failed") of an engine phase.
	RecordPhase(ctx context.Context, engine, phase string, duration time.Duration, outcome string)
	// RecordRowsCopied records rows written to a shadow or target table.
	RecordRowsCopied(ctx context.Context, engine, table string, count int)
	// RecordRowsDeleted records rows removed from a source table.
	RecordRowsDeleted(ctx context.Context, table string, count int)
	// RecordRetry records one retried operation; reason is the failure kind.
	RecordRetry(ctx context.Context, operation, reason string)
	// RecordThrottle records the time a batch waited on a rate limiter.
	RecordThrottle(ctx context.Context, table string, wait time.Duration)
}

// Tracer is an abstract interface for distributed tracing.
type Tracer interface {
	// StartJobSpan starts a span covering one job attempt. The returned func ends it.
	StartJobSpan(ctx context.Context, execution *model.JobExecution) (context.Context, func())
	// StartPhaseSpan starts a span covering one engine phase for target.
	StartPhaseSpan(ctx context.Context, engine, phase, target string) (context.Context, func())
	// RecordError records err on the current span.
	RecordError(ctx context.Context, module string, err error)
	// RecordEvent adds an event to the current span.
	RecordEvent(ctx context.Context, name string, attributes map[string]interface{})
}
