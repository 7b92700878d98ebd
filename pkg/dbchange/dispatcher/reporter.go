package dispatcher

import (
	"context"

	"github.com/tigerroll/undertow/pkg/dbchange/core/domain/model"
	"github.com/tigerroll/undertow/pkg/dbchange/core/metrics"
	"github.com/tigerroll/undertow/pkg/dbchange/support/util/logger"
	"github.com/tigerroll/undertow/pkg/dbchange/support/util/serialization"
)

// Reporter receives every execution once its terminal state has been stored.
// Reporters must not block for long; they run on the job's supervising goroutine.
type Reporter interface {
	Report(ctx context.Context, execution *model.JobExecution)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(ctx context.Context, execution *model.JobExecution)

// Report implements Reporter.
func (f ReporterFunc) Report(ctx context.Context, execution *model.JobExecution) { f(ctx, execution) }

// LogReporter logs terminal states, with parameters masked.
type LogReporter struct {
	masker *serialization.Masker
}

// NewLogReporter creates a LogReporter masking the given parameter keys.
func NewLogReporter(masker *serialization.Masker) *LogReporter {
	return &LogReporter{masker: masker}
}

func (r *LogReporter) Report(_ context.Context, execution *model.JobExecution) {
	log := logger.With("job", execution.ID, "identity", execution.Identity.String(), "attempt", execution.Attempt)
	params := r.masker.MaskJSON([]byte(execution.Payload))
	switch execution.Status {
	case model.JobStatusSucceeded:
		log.Infof("Job %s. Parameters: %s", execution.Status, params)
	case model.JobStatusCanceled:
		log.Warnf("Job %s: %s. Parameters: %s", execution.Status, execution.Failure, params)
	default:
		log.Errorf("Job %s: %s. Parameters: %s", execution.Status, execution.Failure, params)
	}
}

// MetricsReporter records the end of a job on a MetricRecorder.
type MetricsReporter struct {
	recorder metrics.MetricRecorder
}

// NewMetricsReporter creates a MetricsReporter.
func NewMetricsReporter(recorder metrics.MetricRecorder) *MetricsReporter {
	return &MetricsReporter{recorder: recorder}
}

func (r *MetricsReporter) Report(ctx context.Context, execution *model.JobExecution) {
	r.recorder.RecordJobEnd(ctx, execution)
}
