package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	otelmetric "go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	config "github.com/tigerroll/undertow/pkg/dbchange/core/config"
	model "github.com/tigerroll/undertow/pkg/dbchange/core/domain/model"
	metrics "github.com/tigerroll/undertow/pkg/dbchange/core/metrics"
	"github.com/tigerroll/undertow/pkg/dbchange/support/util/exception"
)

// OpenTelemetryRecorder pushes the job metrics to an OTLP collector.
type OpenTelemetryRecorder struct {
	provider *sdkmetric.MeterProvider

	jobsRunning   otelmetric.Int64UpDownCounter
	jobStatus     otelmetric.Int64Counter
	jobDuration   otelmetric.Float64Histogram
	phaseDuration otelmetric.Float64Histogram
	rowsCopied    otelmetric.Int64Counter
	rowsDeleted   otelmetric.Int64Counter
	retries       otelmetric.Int64Counter
	throttle      otelmetric.Float64Histogram
}

// NewOpenTelemetryRecorder creates a recorder exporting periodically over OTLP.
// endpoint selects the transport: an http(s) URL uses OTLP/HTTP, anything else OTLP/gRPC.
func NewOpenTelemetryRecorder(ctx context.Context, cfg config.MetricsConfig, serviceName string) (*OpenTelemetryRecorder, error) {
	exp, err := newMetricExporter(ctx, cfg.Endpoint)
	if err != nil {
		return nil, exception.NewConfigurationError(moduleName, "failed to create metric exporter", err)
	}
	return newOpenTelemetryRecorder(serviceName, sdkmetric.NewPeriodicReader(exp))
}

func newMetricExporter(ctx context.Context, endpoint string) (sdkmetric.Exporter, error) {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpointURL(endpoint))
	}
	if endpoint == "" {
		endpoint = "localhost:4317"
	}
	return otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithEndpoint(endpoint), otlpmetricgrpc.WithInsecure())
}

func newOpenTelemetryRecorder(name string, reader sdkmetric.Reader) (*OpenTelemetryRecorder, error) {
	res, err := resource.New(context.Background(),
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName(name))),
	)
	if err != nil {
		return nil, exception.NewConfigurationError(moduleName, "failed to build metric resource", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader), sdkmetric.WithResource(res))
	meter := provider.Meter(instrumentationName)

	r := &OpenTelemetryRecorder{provider: provider}
	var errs []error
	record := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	r.jobsRunning, err = meter.Int64UpDownCounter("undertow.jobs.running", otelmetric.WithDescription("Jobs currently held by a worker."))
	record(err)
	r.jobStatus, err = meter.Int64Counter("undertow.job.status", otelmetric.WithDescription("Job attempts by final status and failure kind."))
	record(err)
	r.jobDuration, err = meter.Float64Histogram("undertow.job.duration", otelmetric.WithUnit("s"))
	record(err)
	r.phaseDuration, err = meter.Float64Histogram("undertow.phase.duration", otelmetric.WithUnit("s"))
	record(err)
	r.rowsCopied, err = meter.Int64Counter("undertow.rows.copied")
	record(err)
	r.rowsDeleted, err = meter.Int64Counter("undertow.rows.deleted")
	record(err)
	r.retries, err = meter.Int64Counter("undertow.retries")
	record(err)
	r.throttle, err = meter.Float64Histogram("undertow.throttle.wait", otelmetric.WithUnit("s"))
	record(err)
	if len(errs) > 0 {
		return nil, exception.NewConfigurationError(moduleName, fmt.Sprintf("failed to create %d instruments", len(errs)), errs[0])
	}
	return r, nil
}

func (r *OpenTelemetryRecorder) RecordJobStart(ctx context.Context, execution *model.JobExecution) {
	r.jobsRunning.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("sub_type", execution.Identity.SourceSubType())))
}

func (r *OpenTelemetryRecorder) RecordJobEnd(ctx context.Context, execution *model.JobExecution) {
	subType := attribute.String("sub_type", execution.Identity.SourceSubType())
	status := attribute.String("status", execution.Status.String())
	kind := ""
	if execution.Failure != nil {
		kind = execution.Failure.Kind.String()
	}

	r.jobsRunning.Add(ctx, -1, otelmetric.WithAttributes(subType))
	r.jobStatus.Add(ctx, 1, otelmetric.WithAttributes(subType, status, attribute.String("failure_kind", kind)))
	if d, ok := attemptDuration(execution); ok {
		r.jobDuration.Record(ctx, d.Seconds(), otelmetric.WithAttributes(subType, status))
	}
}

func (r *OpenTelemetryRecorder) RecordPhase(ctx context.Context, engine, phase string, duration time.Duration, outcome string) {
	r.phaseDuration.Record(ctx, duration.Seconds(), otelmetric.WithAttributes(
		attribute.String("engine", engine),
		attribute.String("phase", phase),
		attribute.String("outcome", outcome),
	))
}

func (r *OpenTelemetryRecorder) RecordRowsCopied(ctx context.Context, engine, table string, count int) {
	r.rowsCopied.Add(ctx, int64(count), otelmetric.WithAttributes(
		attribute.String("engine", engine),
		attribute.String("table", table),
	))
}

func (r *OpenTelemetryRecorder) RecordRowsDeleted(ctx context.Context, table string, count int) {
	r.rowsDeleted.Add(ctx, int64(count), otelmetric.WithAttributes(attribute.String("table", table)))
}

func (r *OpenTelemetryRecorder) RecordRetry(ctx context.Context, operation, reason string) {
	r.retries.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("reason", reason),
	))
}

func (r *OpenTelemetryRecorder) RecordThrottle(ctx context.Context, table string, wait time.Duration) {
	r.throttle.Record(ctx, wait.Seconds(), otelmetric.WithAttributes(attribute.String("table", table)))
}

// Shutdown flushes and stops the periodic reader.
func (r *OpenTelemetryRecorder) Shutdown(ctx context.Context) error {
	return r.provider.Shutdown(ctx)
}

var _ metrics.MetricRecorder = (*OpenTelemetryRecorder)(nil)
