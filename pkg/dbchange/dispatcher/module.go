package dispatcher

import (
	"fmt"
	"strings"

	"go.uber.org/fx"

	"github.com/tigerroll/undertow/pkg/dbchange/core/config"
	"github.com/tigerroll/undertow/pkg/dbchange/core/domain/repository"
	"github.com/tigerroll/undertow/pkg/dbchange/core/env"
	"github.com/tigerroll/undertow/pkg/dbchange/core/metrics"
	"github.com/tigerroll/undertow/pkg/dbchange/engine"
	"github.com/tigerroll/undertow/pkg/dbchange/support/util/serialization"
)

// NewWorkerFromConfig creates the Worker with the configured heartbeat interval.
func NewWorkerFromConfig(registry *engine.Registry, cfg *config.Config) *Worker {
	return NewWorker(registry, cfg.Undertow.Dispatcher.HeartbeatIntervalDuration())
}

// NewLauncherFromConfig picks the launcher for the configured deploy mode.
func NewLauncherFromConfig(worker *Worker, cfg *config.Config) (Launcher, error) {
	d := cfg.Undertow.Dispatcher
	switch env.DeployMode(strings.ToUpper(d.DeployMode)) {
	case "", env.DeployModeThread:
		return NewThreadLauncher(worker), nil
	case env.DeployModeProcess:
		return NewProcessLauncher(d.WorkerBinary, d.ShutdownGraceDuration())
	default:
		return nil, fmt.Errorf("unsupported deploy mode %q", d.DeployMode)
	}
}

// NewMaskerFromConfig creates the parameter Masker from the security section.
func NewMaskerFromConfig(cfg *config.Config) *serialization.Masker {
	return serialization.NewMasker(cfg.Undertow.Security.MaskedParameterKeys)
}

type dispatcherParams struct {
	fx.In
	Config   *config.Config
	Repo     repository.JobRepository
	Registry *engine.Registry
	Launcher Launcher
	Recorder metrics.MetricRecorder
	Tracer   metrics.Tracer
	Masker   *serialization.Masker
}

// NewDispatcherFromConfig creates the Dispatcher reporting to the log and the metric recorder.
func NewDispatcherFromConfig(p dispatcherParams) *Dispatcher {
	return New(
		p.Repo, p.Registry, p.Launcher,
		OptionsFromConfig(p.Config.Undertow.Dispatcher),
		p.Recorder, p.Tracer, p.Masker,
		NewLogReporter(p.Masker),
		NewMetricsReporter(p.Recorder),
	)
}

// Module provides the Worker, the Launcher and the Dispatcher.
var Module = fx.Options(
	fx.Provide(NewWorkerFromConfig),
	fx.Provide(NewLauncherFromConfig),
	fx.Provide(NewMaskerFromConfig),
	fx.Provide(NewDispatcherFromConfig),
)
