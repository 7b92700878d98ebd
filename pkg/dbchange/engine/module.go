package engine

import (
	"go.uber.org/fx"

	"github.com/tigerroll/undertow/pkg/dbchange/support/util/logger"
)

// Registration binds an engine to the sub-types it runs. Engine modules contribute
// registrations to the "engines" value group.
type Registration struct {
	SubTypes []string
	Engine   Engine
}

type registryParams struct {
	fx.In
	Registrations []Registration `group:"engines"`
}

// NewRegistryFromRegistrations builds a Registry from the "engines" value group.
func NewRegistryFromRegistrations(p registryParams) *Registry {
	r := NewRegistry()
	for _, reg := range p.Registrations {
		for _, subType := range reg.SubTypes {
			r.Register(subType, reg.Engine)
		}
	}
	logger.Debugf("Registered engines for sub-types %v.", r.SubTypes())
	return r
}

// Module provides *Registry.
var Module = fx.Options(
	fx.Provide(NewRegistryFromRegistrations),
)
