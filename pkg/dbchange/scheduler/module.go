package scheduler

import (
	"time"

	"go.uber.org/fx"

	"github.com/tigerroll/undertow/pkg/dbchange/core/config"
	"github.com/tigerroll/undertow/pkg/dbchange/dispatcher"
	"github.com/tigerroll/undertow/pkg/dbchange/support/util/exception"
)

// NewSchedulerFromConfig builds the Scheduler for cfg.Undertow.Schedules and binds it to lc.
func NewSchedulerFromConfig(lc fx.Lifecycle, cfg *config.Config, d *dispatcher.Dispatcher) (*Scheduler, error) {
	loc, err := time.LoadLocation(cfg.Undertow.System.Timezone)
	if err != nil {
		return nil, exception.NewConfigurationError(moduleName, "invalid system timezone", err)
	}
	s, err := New(d, cfg.Undertow.Schedules, loc)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{OnStart: s.Start, OnStop: s.Stop})
	return s, nil
}

// Module provides the Scheduler. It requires the dispatcher module.
var Module = fx.Options(
	fx.Provide(NewSchedulerFromConfig),
)
