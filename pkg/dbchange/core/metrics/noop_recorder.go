package metrics

import (
	"context"
	"time"

	"github.com/tigerroll/undertow/pkg/dbchange/core/domain/model"
)

// NoOpMetricRecorder is an implementation of MetricRecorder that does nothing.
type NoOpMetricRecorder struct{}

// NewNoOpMetricRecorder creates a new instance of NoOpMetricRecorder.
func NewNoOpMetricRecorder() MetricRecorder {
	return &NoOpMetricRecorder{}
}

// RecordJobStart does nothing.
func (r *NoOpMetricRecorder) RecordJobStart(context.Context, *model.JobExecution) {}

// RecordJobEnd does nothing.
func (r *NoOpMetricRecorder) RecordJobEnd(context.Context, *model.JobExecution) {}

// RecordPhase does nothing.
func (r *NoOpMetricRecorder) RecordPhase(context.Context, string, string, time.Duration, string) {}

// RecordRowsCopied does nothing.
func (r *NoOpMetricRecorder) RecordRowsCopied(context.Context, string, string, int) {}

// RecordRowsDeleted does nothing.
func (r *NoOpMetricRecorder) RecordRowsDeleted(context.Context, string, int) {}

// RecordRetry does nothing.
func (r *NoOpMetricRecorder) RecordRetry(context.Context, string, string) {}

// RecordThrottle does nothing.
func (r *NoOpMetricRecorder) RecordThrottle(context.Context, string, time.Duration) {}

var _ MetricRecorder = (*NoOpMetricRecorder)(nil)

// NoOpTracer is an implementation of Tracer that does nothing.
type NoOpTracer struct{}

// NewNoOpTracer creates a new instance of NoOpTracer.
func NewNoOpTracer() Tracer {
	return &NoOpTracer{}
}

// StartJobSpan returns ctx unchanged and a no-op end function.
func (t *NoOpTracer) StartJobSpan(ctx context.Context, _ *model.JobExecution) (context.Context, func()) {
	return ctx, func() {}
}

// StartPhaseSpan returns ctx unchanged and a no-op end function.
func (t *NoOpTracer) StartPhaseSpan(ctx context.Context, _, _, _ string) (context.Context, func()) {
	return ctx, func() {}
}

// RecordError does nothing.
func (t *NoOpTracer) RecordError(context.Context, string, error) {}

// RecordEvent does nothing.
func (t *NoOpTracer) RecordEvent(context.Context, string, map[string]interface{}) {}

var _ Tracer = (*NoOpTracer)(nil)
