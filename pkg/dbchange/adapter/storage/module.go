package storage

import (
	"context"

	"go.uber.org/fx"

	"github.com/tigerroll/undertow/pkg/dbchange/core/config"
)

// NewProviderFromConfig builds the Provider from the storages section and closes it on stop.
func NewProviderFromConfig(lc fx.Lifecycle, cfg *config.Config) *Provider {
	p := NewProvider(cfg.Storages)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return p.CloseAll() },
	})
	return p
}

// Module provides the storage Provider.
var Module = fx.Options(
	fx.Provide(NewProviderFromConfig),
)
