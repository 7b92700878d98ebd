package main

import (
	"os"

	_ "embed"

	"github.com/spf13/cobra"

	"github.com/tigerroll/undertow/pkg/dbchange/support/util/logger"
)

// embeddedConfig is used when no --config file is given.
//
//go:embed resources/application.yaml
var embeddedConfig []byte

// configFileEnv carries the config path to worker processes started by the dispatcher.
const configFileEnv = "UNDERTOW_CONFIG_FILE"

type globalFlags struct {
	configFile string
	envFile    string
}

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "undertow",
		Short:         "Runs online schema change and data archive jobs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.configFile, "config", "c", os.Getenv(configFileEnv), "configuration file (defaults to the embedded configuration)")
	root.PersistentFlags().StringVar(&flags.envFile, "env-file", os.Getenv("ENV_FILE_PATH"), ".env file loaded before the configuration")

	root.AddCommand(
		newServeCommand(flags),
		newWorkerCommand(flags),
		newSubmitCommand(flags),
		newValidateCommand(flags),
	)
	return root
}

func main() {
	defer func() { _ = logger.Sync() }()
	if err := newRootCommand().Execute(); err != nil {
		logger.Errorf("%v", err)
		_ = logger.Sync()
		os.Exit(1)
	}
}
