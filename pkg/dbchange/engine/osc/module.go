package osc

import (
	"go.uber.org/fx"

	"github.com/tigerroll/undertow/pkg/dbchange/adapter/database"
	"github.com/tigerroll/undertow/pkg/dbchange/core/config"
	"github.com/tigerroll/undertow/pkg/dbchange/core/domain/model"
	"github.com/tigerroll/undertow/pkg/dbchange/core/metrics"
	"github.com/tigerroll/undertow/pkg/dbchange/engine"
)

func newRegistration(provider database.Provider, cfg *config.Config, recorder metrics.MetricRecorder, tracer metrics.Tracer) engine.Registration {
	return engine.Registration{
		SubTypes: []string{model.SubTypeOnlineSchemaChange},
		Engine:   New(provider, OptionsFromConfig(cfg.Undertow.Engine), recorder, tracer),
	}
}

// Module registers the online schema change engine.
var Module = fx.Options(
	fx.Provide(fx.Annotate(newRegistration, fx.ResultTags(`group:"engines"`))),
)
