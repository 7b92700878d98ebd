package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/tigerroll/undertow/pkg/dbchange/dispatcher"
	inframetrics "github.com/tigerroll/undertow/pkg/dbchange/infrastructure/metrics"
	"github.com/tigerroll/undertow/pkg/dbchange/infrastructure/repository"
	"github.com/tigerroll/undertow/pkg/dbchange/scheduler"
	"github.com/tigerroll/undertow/pkg/dbchange/support/util/logger"
)

func newServeCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the dispatcher until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			options, err := baseOptions(flags)
			if err != nil {
				return err
			}
			options = append(options,
				inframetrics.Module,
				repository.Module,
				dispatcher.Module,
				scheduler.Module,
				fx.Invoke(runDispatcher),
				fx.Invoke(func(*scheduler.Scheduler) {}),
			)

			app := fx.New(options...)
			if err := app.Err(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := app.Start(ctx); err != nil {
				return err
			}
			<-ctx.Done()
			logger.Warnf("Received shutdown signal. Stopping the dispatcher...")
			return app.Stop(context.Background())
		},
	}
}

// runDispatcher runs the dispatcher loop for the lifetime of the application.
// OnStop waits until every running job has finished or was canceled after the shutdown grace.
func runDispatcher(lc fx.Lifecycle, d *dispatcher.Dispatcher) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer func() {
					if r := recover(); r != nil {
						logger.Errorf("Panic recovered in dispatcher: %v", r)
						done <- errors.New("dispatcher panicked")
					}
				}()
				done <- d.Run(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case err := <-done:
				if err != nil && !errors.Is(err, context.Canceled) {
					return err
				}
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}
