package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"gopkg.in/yaml.v3"

	config "github.com/tigerroll/undertow/pkg/dbchange/core/config"
	"github.com/tigerroll/undertow/pkg/dbchange/core/domain/model"
	"github.com/tigerroll/undertow/pkg/dbchange/core/domain/parameter"
	"github.com/tigerroll/undertow/pkg/dbchange/dispatcher"
	"github.com/tigerroll/undertow/pkg/dbchange/infrastructure/repository"
	"github.com/tigerroll/undertow/pkg/dbchange/support/util/logger"
	"github.com/tigerroll/undertow/pkg/dbchange/support/util/serialization"
)

type submitFlags struct {
	sourceID   int64
	sourceType string
	subType    string
	paramsFile string
}

func (f *submitFlags) bind(cmd *cobra.Command) {
	cmd.Flags().Int64Var(&f.sourceID, "source-id", 0, "id of the task or schedule that owns the job")
	cmd.Flags().StringVar(&f.sourceType, "source-type", string(model.SourceTypeTaskTask), "TASK_TASK or SCHEDULE_TASK")
	cmd.Flags().StringVar(&f.subType, "sub-type", "", "job sub-type, e.g. ONLINE_SCHEMA_CHANGE or DATA_ARCHIVE")
	cmd.Flags().StringVarP(&f.paramsFile, "params", "p", "", "task parameter file (YAML or JSON)")
	_ = cmd.MarkFlagRequired("sub-type")
	_ = cmd.MarkFlagRequired("params")
}

// loadParameters reads a YAML or JSON parameter file, validates it for subType and
// returns the normalized JSON document.
func loadParameters(path, subType string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read parameter file %s: %w", path, err)
	}
	var doc map[string]interface{}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse parameter file %s: %w", path, err)
	}
	params, err := parameter.DecodeMap(strings.ToUpper(subType), doc)
	if err != nil {
		return nil, err
	}
	return json.Marshal(params)
}

func newSubmitCommand(flags *globalFlags) *cobra.Command {
	sf := &submitFlags{}
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Validate a parameter file and store it as a PENDING job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			identity, err := model.NewJobIdentity(sf.sourceID, model.SourceType(strings.ToUpper(sf.sourceType)), sf.subType)
			if err != nil {
				return err
			}
			params, err := loadParameters(sf.paramsFile, identity.SourceSubType())
			if err != nil {
				return err
			}

			options, err := baseOptions(flags)
			if err != nil {
				return err
			}
			var (
				d   *dispatcher.Dispatcher
				cfg *config.Config
			)
			options = append(options,
				repository.Module,
				dispatcher.Module,
				fx.Populate(&d, &cfg),
			)
			app := fx.New(options...)
			if err := app.Start(cmd.Context()); err != nil {
				return err
			}
			defer func() { _ = app.Stop(context.Background()) }()

			if cfg.Undertow.Repository.Type != "sql" {
				logger.Warnf("Repository type is %q; the job is only visible to this process.", cfg.Undertow.Repository.Type)
			}
			execution, err := d.Submit(cmd.Context(), identity, params)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), execution.ID)
			return nil
		},
	}
	sf.bind(cmd)
	return cmd
}

func newValidateCommand(flags *globalFlags) *cobra.Command {
	var subType, paramsFile string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a parameter file and print it normalized, with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			params, err := loadParameters(paramsFile, subType)
			if err != nil {
				return err
			}
			raw, err := readConfig(flags)
			if err != nil {
				return err
			}
			cfg, err := config.LoadConfig(flags.envFile, raw)
			if err != nil {
				return err
			}
			masker := serialization.NewMasker(cfg.Undertow.Security.MaskedParameterKeys)
			fmt.Fprintln(cmd.OutOrStdout(), masker.MaskJSON(params))
			return nil
		},
	}
	cmd.Flags().StringVar(&subType, "sub-type", "", "job sub-type")
	cmd.Flags().StringVarP(&paramsFile, "params", "p", "", "task parameter file (YAML or JSON)")
	_ = cmd.MarkFlagRequired("sub-type")
	_ = cmd.MarkFlagRequired("params")
	return cmd
}
