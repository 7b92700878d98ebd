package main

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/fx"

	gormadapter "github.com/tigerroll/undertow/pkg/dbchange/adapter/database/gorm"
	"github.com/tigerroll/undertow/pkg/dbchange/adapter/storage"
	config "github.com/tigerroll/undertow/pkg/dbchange/core/config"
	coremetrics "github.com/tigerroll/undertow/pkg/dbchange/core/metrics"
	"github.com/tigerroll/undertow/pkg/dbchange/engine"
	"github.com/tigerroll/undertow/pkg/dbchange/engine/archive"
	"github.com/tigerroll/undertow/pkg/dbchange/engine/osc"
	"github.com/tigerroll/undertow/pkg/dbchange/support/util/logger"

	// Database dialects and storage backends register themselves.
	_ "github.com/tigerroll/undertow/pkg/dbchange/adapter/database/gorm/mysql"
	_ "github.com/tigerroll/undertow/pkg/dbchange/adapter/database/gorm/postgres"
	_ "github.com/tigerroll/undertow/pkg/dbchange/adapter/database/gorm/sqlite"
	_ "github.com/tigerroll/undertow/pkg/dbchange/adapter/storage/gcs"
	_ "github.com/tigerroll/undertow/pkg/dbchange/adapter/storage/local"
)

// readConfig returns the configuration document: the --config file or the embedded one.
func readConfig(flags *globalFlags) (config.EmbeddedConfig, error) {
	if flags.configFile == "" {
		return embeddedConfig, nil
	}
	raw, err := os.ReadFile(flags.configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", flags.configFile, err)
	}
	return raw, nil
}

// baseOptions wires configuration, logging, database and storage access and the engines.
// Every command starts from these.
func baseOptions(flags *globalFlags) ([]fx.Option, error) {
	raw, err := readConfig(flags)
	if err != nil {
		return nil, err
	}
	if flags.configFile != "" {
		// Worker processes inherit the environment and load the same file.
		abs, err := filepath.Abs(flags.configFile)
		if err == nil {
			_ = os.Setenv(configFileEnv, abs)
		}
	}

	var options []fx.Option
	options = append(options, fx.Supply(
		raw,
		fx.Annotate(flags.envFile, fx.ResultTags(`name:"envFilePath"`)),
	))
	options = append(options, logger.Module)
	options = append(options, config.Module)
	options = append(options, coremetrics.Module)
	options = append(options, gormadapter.Module)
	options = append(options, storage.Module)
	options = append(options, engine.Module)
	options = append(options, osc.Module)
	options = append(options, archive.Module)
	return options, nil
}
