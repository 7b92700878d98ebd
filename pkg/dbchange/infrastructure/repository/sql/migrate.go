package sql

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"gorm.io/gorm"

	"github.com/tigerroll/undertow/pkg/dbchange/support/util/logger"
)

//go:embed migrations
var migrationsFS embed.FS

// DefaultMigrationsTable is used when no bookkeeping table is configured.
const DefaultMigrationsTable = "undertow_schema_migrations"

// Migrate applies the embedded job table migrations for dbType to db.
// The migrate instance closes db when it is closed, so db must be a dedicated pool.
func Migrate(db *gorm.DB, dbType, migrationsTable string) error {
	if migrationsTable == "" {
		migrationsTable = DefaultMigrationsTable
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	var driver migratedb.Driver
	switch dbType {
	case "mysql":
		driver, err = mysql.WithInstance(sqlDB, &mysql.Config{MigrationsTable: migrationsTable})
	case "postgres":
		driver, err = postgres.WithInstance(sqlDB, &postgres.Config{MigrationsTable: migrationsTable})
	case "sqlite":
		driver, err = sqlite.WithInstance(sqlDB, &sqlite.Config{MigrationsTable: migrationsTable})
	default:
		return fmt.Errorf("unsupported database type for migration: %s", dbType)
	}
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	src, err := iofs.New(migrationsFS, "migrations/"+dbType)
	if err != nil {
		return fmt.Errorf("failed to create iofs source driver for %s: %w", dbType, err)
	}

	m, err := migrate.NewWithInstance("iofs", src, dbType, driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if srcErr != nil || dbErr != nil {
			logger.Warnf("Closing migrate instance: source=%v database=%v", srcErr, dbErr)
		}
	}()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply job repository migrations: %w", err)
	}
	version, dirty, verr := m.Version()
	if verr == nil {
		logger.Infof("Job repository schema at version %d (dirty=%t).", version, dirty)
	}
	return nil
}
