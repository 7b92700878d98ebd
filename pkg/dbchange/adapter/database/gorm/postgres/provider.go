// Package postgres registers the PostgreSQL dialector and error classifier.
package postgres

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/tigerroll/undertow/pkg/dbchange/adapter/database"
	dbconfig "github.com/tigerroll/undertow/pkg/dbchange/adapter/database/config"
	gormadapter "github.com/tigerroll/undertow/pkg/dbchange/adapter/database/gorm"
	"github.com/tigerroll/undertow/pkg/dbchange/support/util/exception"
)

func init() {
	gormadapter.RegisterDialector("postgres", func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error) {
		return postgres.Open(ConnectionString(cfg)), nil
	})
	database.RegisterClassifier(Classify)
}

// ConnectionString builds a key/value DSN understood by pgx.
func ConnectionString(c dbconfig.DatabaseConfig) string {
	sslmode := c.Sslmode
	if sslmode == "" {
		sslmode = "disable"
	}
	parts := []string{
		fmt.Sprintf("host=%s", c.Host),
		fmt.Sprintf("port=%d", c.Port),
		fmt.Sprintf("user=%s", c.User),
		fmt.Sprintf("password=%s", c.Password),
		fmt.Sprintf("dbname=%s", c.Database),
		fmt.Sprintf("sslmode=%s", sslmode),
	}
	if c.Schema != "" {
		parts = append(parts, fmt.Sprintf("search_path=%s", c.Schema))
	}
	if c.Params != "" {
		parts = append(parts, c.Params)
	}
	return strings.Join(parts, " ")
}

// Classify implements database.Classifier for pgx errors.
func Classify(err error) (exception.Kind, bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
			return exception.KindTransient, true
		}
		return 0, false
	}
	switch pgErr.Code {
	case "40001", "40P01", "55P03", "57P01", "57014":
		return exception.KindTransient, true
	}
	switch {
	case strings.HasPrefix(pgErr.Code, "08"):
		return exception.KindTransient, true
	case strings.HasPrefix(pgErr.Code, "23"), strings.HasPrefix(pgErr.Code, "22"):
		return exception.KindData, true
	}
	return exception.KindFatal, true
}
