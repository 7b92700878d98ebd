// Package repository selects and wires the configured job repository.
package repository

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/fx"

	gormadapter "github.com/tigerroll/undertow/pkg/dbchange/adapter/database/gorm"
	"github.com/tigerroll/undertow/pkg/dbchange/core/config"
	"github.com/tigerroll/undertow/pkg/dbchange/core/domain/repository"
	"github.com/tigerroll/undertow/pkg/dbchange/infrastructure/repository/inmemory"
	sqlrepo "github.com/tigerroll/undertow/pkg/dbchange/infrastructure/repository/sql"
	"github.com/tigerroll/undertow/pkg/dbchange/support/util/exception"
	"github.com/tigerroll/undertow/pkg/dbchange/support/util/logger"
)

// NewJobRepository builds the repository named by cfg.Repository.Type.
// The sql type migrates the job table through a dedicated connection before returning.
func NewJobRepository(cfg config.RepositoryConfig, provider *gormadapter.Provider) (repository.JobRepository, error) {
	switch strings.ToLower(cfg.Type) {
	case "", "memory":
		logger.Infof("Using in-memory job repository.")
		return inmemory.NewInMemoryJobRepository(), nil
	case "sql":
		if cfg.DBRef == "" {
			return nil, exception.NewConfigurationError("repository", "repository.db_ref is required for the sql repository", nil)
		}
		migrationDB, dialect, err := provider.Open(cfg.DBRef)
		if err != nil {
			return nil, err
		}
		if err := sqlrepo.Migrate(migrationDB, dialect.Name(), cfg.MigrationsTable); err != nil {
			return nil, exception.NewJobError("repository", exception.KindFatal, "job repository migration failed", err)
		}
		db, _, err := provider.DB(cfg.DBRef)
		if err != nil {
			return nil, err
		}
		logger.Infof("Using SQL job repository on '%s' (%s).", cfg.DBRef, dialect.Name())
		return sqlrepo.NewSQLJobRepository(db), nil
	default:
		return nil, exception.NewConfigurationError("repository", fmt.Sprintf("unknown repository type %q", cfg.Type), nil)
	}
}

func newJobRepositoryFromConfig(lc fx.Lifecycle, cfg *config.Config, provider *gormadapter.Provider) (repository.JobRepository, error) {
	repo, err := NewJobRepository(cfg.Undertow.Repository, provider)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return repo.Close()
		},
	})
	return repo, nil
}

// Module provides repository.JobRepository. It requires the gorm database module.
var Module = fx.Options(
	fx.Provide(newJobRepositoryFromConfig),
)
