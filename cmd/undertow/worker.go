package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/tigerroll/undertow/pkg/dbchange/core/env"
	"github.com/tigerroll/undertow/pkg/dbchange/dispatcher"
	"github.com/tigerroll/undertow/pkg/dbchange/support/util/logger"
)

func newWorkerCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:    "worker",
		Short:  "Run the job described by the UNDERTOW_* environment and stream events to stdout",
		Args:   cobra.NoArgs,
		Hidden: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			environment, err := env.FromOS()
			if err != nil {
				return err
			}
			if environment.BootMode() != env.BootModeTaskWorker {
				logger.Warnf("Worker started with boot mode %q.", environment.BootMode())
			}

			options, err := baseOptions(flags)
			if err != nil {
				return err
			}
			var worker *dispatcher.Worker
			options = append(options,
				fx.Provide(dispatcher.NewWorkerFromConfig),
				fx.Populate(&worker),
			)
			app := fx.New(options...)
			if err := app.Start(cmd.Context()); err != nil {
				return err
			}
			defer func() {
				if err := app.Stop(context.Background()); err != nil {
					logger.Warnf("Worker shutdown: %v", err)
				}
			}()

			// An interrupt from the dispatcher cancels the job; the engine stops at its next safe point.
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := dispatcher.NewEventWriter(os.Stdout)
			result := worker.Execute(ctx, environment, func(ev dispatcher.Event) {
				if err := out.Write(ev); err != nil {
					logger.Errorf("Failed to write %s event: %v", ev.Type, err)
				}
			})
			logger.Infof("Job %s finished with status %s.", result.JobID, result.Status)
			return nil
		},
	}
}
