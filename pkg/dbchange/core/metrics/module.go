package metrics

import (
	"go.uber.org/fx"
)

// Module provides the no-op MetricRecorder and Tracer. The infrastructure module decorates
// them with real implementations when observability is enabled.
var Module = fx.Options(
	fx.Provide(NewNoOpMetricRecorder),
	fx.Provide(NewNoOpTracer),
)
