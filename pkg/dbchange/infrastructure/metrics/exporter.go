package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tigerroll/undertow/pkg/dbchange/support/util/logger"
)

// PrometheusExporter serves a registry over HTTP.
type PrometheusExporter struct {
	server *http.Server
	addr   string
}

// NewPrometheusExporter creates an exporter for registry at listenAddress and path.
func NewPrometheusExporter(registry *prometheus.Registry, listenAddress, path string) *PrometheusExporter {
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	return &PrometheusExporter{
		server: &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		addr:   listenAddress,
	}
}

// Start binds the listener and serves in the background.
func (e *PrometheusExporter) Start(_ context.Context) error {
	ln, err := net.Listen("tcp", e.addr)
	if err != nil {
		return err
	}
	e.addr = ln.Addr().String()
	logger.Infof("Serving metrics on %s", e.addr)
	go func() {
		if err := e.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("Metrics server stopped: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound address once Start has returned.
func (e *PrometheusExporter) Addr() string {
	return e.addr
}

// Stop shuts the server down.
func (e *PrometheusExporter) Stop(ctx context.Context) error {
	return e.server.Shutdown(ctx)
}
