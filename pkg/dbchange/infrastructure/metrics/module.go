// Package metrics implements the recorder and tracer over Prometheus and OpenTelemetry.
package metrics

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/fx"

	config "github.com/tigerroll/undertow/pkg/dbchange/core/config"
	metrics "github.com/tigerroll/undertow/pkg/dbchange/core/metrics"
	"github.com/tigerroll/undertow/pkg/dbchange/support/util/exception"
	"github.com/tigerroll/undertow/pkg/dbchange/support/util/logger"
)

const moduleName = "metrics"

// NewMetricRecorder returns the recorder selected by cfg, or fallback when metrics are disabled.
// The exporter (HTTP endpoint or OTLP reader) is bound to lc.
func NewMetricRecorder(lc fx.Lifecycle, cfg config.ObservabilityConfig, fallback metrics.MetricRecorder) (metrics.MetricRecorder, error) {
	m := cfg.Metrics
	if !m.Enabled {
		return fallback, nil
	}
	switch strings.ToLower(m.Exporter) {
	case "", "prometheus":
		recorder := NewPrometheusRecorder()
		exporter := NewPrometheusExporter(recorder.GetRegistry(), m.ListenAddress, m.Path)
		lc.Append(fx.Hook{OnStart: exporter.Start, OnStop: exporter.Stop})
		return recorder, nil
	case "otel":
		recorder, err := NewOpenTelemetryRecorder(context.Background(), m, cfg.Tracing.ServiceName)
		if err != nil {
			return nil, err
		}
		lc.Append(fx.Hook{OnStop: recorder.Shutdown})
		logger.Infof("Exporting metrics over OTLP to %s", m.Endpoint)
		return recorder, nil
	default:
		return nil, exception.NewConfigurationError(moduleName, fmt.Sprintf("unknown metrics exporter %q", m.Exporter), nil)
	}
}

// NewTracer returns the OpenTelemetry tracer when tracing is enabled, otherwise fallback.
func NewTracer(lc fx.Lifecycle, cfg config.ObservabilityConfig, fallback metrics.Tracer) (metrics.Tracer, error) {
	if !cfg.Tracing.Enabled {
		return fallback, nil
	}
	tracer, err := NewOpenTelemetryTracer(context.Background(), cfg.Tracing)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: tracer.Shutdown})
	logger.Infof("Tracing enabled (exporter=%s, sample_ratio=%.2f)", cfg.Tracing.Exporter, cfg.Tracing.SampleRatio)
	return tracer, nil
}

// Module replaces the no-op recorder and tracer with the configured implementations.
var Module = fx.Options(
	fx.Decorate(func(lc fx.Lifecycle, cfg *config.Config, fallback metrics.MetricRecorder) (metrics.MetricRecorder, error) {
		return NewMetricRecorder(lc, cfg.Undertow.Observability, fallback)
	}),
	fx.Decorate(func(lc fx.Lifecycle, cfg *config.Config, fallback metrics.Tracer) (metrics.Tracer, error) {
		return NewTracer(lc, cfg.Undertow.Observability, fallback)
	}),
)
