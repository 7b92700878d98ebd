package metrics

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	config "github.com/tigerroll/undertow/pkg/dbchange/core/config"
	model "github.com/tigerroll/undertow/pkg/dbchange/core/domain/model"
	metrics "github.com/tigerroll/undertow/pkg/dbchange/core/metrics"
	"github.com/tigerroll/undertow/pkg/dbchange/support/util/exception"
)

const instrumentationName = "github.com/tigerroll/undertow"

// OpenTelemetryTracer is an OpenTelemetry implementation of the metrics.Tracer interface.
type OpenTelemetryTracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewOpenTelemetryTracer builds a tracer provider exporting through cfg.Exporter.
func NewOpenTelemetryTracer(ctx context.Context, cfg config.TracingConfig) (*OpenTelemetryTracer, error) {
	exp, err := newSpanExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return newOpenTelemetryTracer(cfg, sdktrace.WithBatcher(exp))
}

func newOpenTelemetryTracer(cfg config.TracingConfig, opts ...sdktrace.TracerProviderOption) (*OpenTelemetryTracer, error) {
	res, err := resource.New(context.Background(),
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName(cfg.ServiceName))),
	)
	if err != nil {
		return nil, exception.NewConfigurationError(moduleName, "failed to build trace resource", err)
	}

	opts = append(opts,
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
		sdktrace.WithResource(res),
	)
	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return &OpenTelemetryTracer{provider: tp, tracer: tp.Tracer(instrumentationName)}, nil
}

func newSpanExporter(ctx context.Context, cfg config.TracingConfig) (sdktrace.SpanExporter, error) {
	switch strings.ToLower(cfg.Exporter) {
	case "", "stdout":
		// stdout of a worker carries its event stream
		return stdouttrace.New(stdouttrace.WithWriter(os.Stderr))
	case "otlpgrpc", "grpc":
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = "localhost:4317"
		}
		return otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(endpoint), otlptracegrpc.WithInsecure())
	case "otlphttp", "http":
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = "http://localhost:4318"
		}
		return otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint))
	default:
		return nil, exception.NewConfigurationError(moduleName, fmt.Sprintf("unknown trace exporter %q", cfg.Exporter), nil)
	}
}

func sampler(ratio float64) sdktrace.Sampler {
	switch {
	case ratio <= 0:
		return sdktrace.ParentBased(sdktrace.NeverSample())
	case ratio >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	}
}

func serviceName(name string) string {
	if name == "" {
		return "undertow"
	}
	return name
}

func (t *OpenTelemetryTracer) StartJobSpan(ctx context.Context, execution *model.JobExecution) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, "job "+execution.Identity.SourceSubType(),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("undertow.job.id", execution.ID),
			attribute.Int64("undertow.job.source_id", execution.Identity.SourceID()),
			attribute.String("undertow.job.source_type", string(execution.Identity.SourceType())),
			attribute.String("undertow.job.sub_type", execution.Identity.SourceSubType()),
			attribute.Int("undertow.job.attempt", execution.Attempt),
		),
	)
	return ctx, func() { span.End() }
}

func (t *OpenTelemetryTracer) StartPhaseSpan(ctx context.Context, engine, phase, target string) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, engine+" "+phase,
		trace.WithAttributes(
			attribute.String("undertow.engine", engine),
			attribute.String("undertow.phase", phase),
			attribute.String("undertow.target", target),
		),
	)
	return ctx, func() { span.End() }
}

func (t *OpenTelemetryTracer) RecordError(ctx context.Context, module string, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	span.RecordError(err, trace.WithAttributes(
		attribute.String("undertow.module", module),
		attribute.String("undertow.failure.kind", exception.KindOf(err).String()),
	))
	span.SetStatus(codes.Error, exception.ExtractErrorMessage(err))
}

func (t *OpenTelemetryTracer) RecordEvent(ctx context.Context, name string, attributes map[string]interface{}) {
	attrs := make([]attribute.KeyValue, 0, len(attributes))
	for k, v := range attributes {
		attrs = append(attrs, toAttribute(k, v))
	}
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

func toAttribute(key string, v interface{}) attribute.KeyValue {
	switch val := v.(type) {
	case string:
		return attribute.String(key, val)
	case int:
		return attribute.Int(key, val)
	case int64:
		return attribute.Int64(key, val)
	case float64:
		return attribute.Float64(key, val)
	case bool:
		return attribute.Bool(key, val)
	default:
		return attribute.String(key, fmt.Sprint(val))
	}
}

// Shutdown flushes pending spans.
func (t *OpenTelemetryTracer) Shutdown(ctx context.Context) error {
	return t.provider.Shutdown(ctx)
}

var _ metrics.Tracer = (*OpenTelemetryTracer)(nil)
