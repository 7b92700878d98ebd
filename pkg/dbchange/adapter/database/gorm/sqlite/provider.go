// Package sqlite registers the SQLite dialector and error classifier.
package sqlite

import (
	"errors"

	sqlite3 "github.com/mattn/go-sqlite3"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tigerroll/undertow/pkg/dbchange/adapter/database"
	dbconfig "github.com/tigerroll/undertow/pkg/dbchange/adapter/database/config"
	gormadapter "github.com/tigerroll/undertow/pkg/dbchange/adapter/database/gorm"
	"github.com/tigerroll/undertow/pkg/dbchange/support/util/exception"
)

func init() {
	gormadapter.RegisterDialector("sqlite", func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error) {
		if cfg.Database == "" {
			return nil, errors.New("SQLite database path cannot be empty")
		}
		return sqlite.Open(ConnectionString(cfg)), nil
	})
	database.RegisterClassifier(Classify)
}

// ConnectionString returns the file path, with Params appended as the query string.
func ConnectionString(c dbconfig.DatabaseConfig) string {
	if c.Params == "" {
		return c.Database
	}
	return c.Database + "?" + c.Params
}

// Classify implements database.Classifier for mattn/go-sqlite3 errors.
func Classify(err error) (exception.Kind, bool) {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return 0, false
	}
	switch sqliteErr.Code {
	case sqlite3.ErrBusy, sqlite3.ErrLocked:
		return exception.KindTransient, true
	case sqlite3.ErrConstraint, sqlite3.ErrMismatch, sqlite3.ErrTooBig:
		return exception.KindData, true
	}
	return exception.KindFatal, true
}
