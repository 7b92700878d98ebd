package gorm

import (
	"context"

	"go.uber.org/fx"

	"github.com/tigerroll/undertow/pkg/dbchange/adapter/database"
	"github.com/tigerroll/undertow/pkg/dbchange/core/config"
)

// NewProviderFromConfig creates the Provider for cfg.Databases and closes it on application stop.
func NewProviderFromConfig(lc fx.Lifecycle, cfg *config.Config) *Provider {
	p := NewProvider(cfg.Databases, string(config.LogLevelSilent))
	if cfg.Undertow.System.Logging.Level == string(config.LogLevelDebug) {
		p.logLevel = string(config.LogLevelInfo)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return p.CloseAll()
		},
	})
	return p
}

// Module provides *Provider and database.Provider.
var Module = fx.Options(
	fx.Provide(NewProviderFromConfig),
	fx.Provide(func(p *Provider) database.Provider { return p }),
)
