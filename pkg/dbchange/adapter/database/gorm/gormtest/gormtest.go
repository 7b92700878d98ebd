// Package gormtest opens throwaway file-backed SQLite databases for tests.
package gormtest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tigerroll/undertow/pkg/dbchange/adapter/database"
	dbconfig "github.com/tigerroll/undertow/pkg/dbchange/adapter/database/config"
	gormadapter "github.com/tigerroll/undertow/pkg/dbchange/adapter/database/gorm"
	_ "github.com/tigerroll/undertow/pkg/dbchange/adapter/database/gorm/sqlite"
)

// NewSQLiteProvider returns a Provider with one SQLite database per name, stored under t.TempDir().
func NewSQLiteProvider(t testing.TB, names ...string) *gormadapter.Provider {
	t.Helper()
	dir := t.TempDir()
	dbs := make(map[string]dbconfig.DatabaseConfig, len(names))
	for _, name := range names {
		dbs[name] = dbconfig.DatabaseConfig{
			Type:     "sqlite",
			Database: filepath.Join(dir, name+".db"),
			Params:   "_busy_timeout=5000",
			Pool:     dbconfig.PoolConfig{MaxOpenConns: 4, MaxIdleConns: 4},
		}
	}
	p := gormadapter.NewProvider(dbs, "SILENT")
	t.Cleanup(func() { _ = p.CloseAll() })
	return p
}

// Exec runs statements on the named database and fails the test on error.
func Exec(t testing.TB, p database.Provider, name string, stmts ...string) {
	t.Helper()
	err := p.WithSession(context.Background(), name, func(s database.Session) error {
		for _, stmt := range stmts {
			if _, err := s.Exec(context.Background(), stmt); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

// Count returns SELECT COUNT(*) of table, or -1 when the table does not exist.
func Count(t testing.TB, p database.Provider, name, table string) int64 {
	t.Helper()
	var n int64 = -1
	err := p.WithSession(context.Background(), name, func(s database.Session) error {
		ok, err := s.HasTable(context.Background(), table)
		if err != nil || !ok {
			return err
		}
		rows, err := s.Query(context.Background(), "SELECT COUNT(*) AS n FROM "+s.Dialect().Quote(table))
		if err != nil {
			return err
		}
		n, err = database.ToInt64(rows[0]["n"])
		return err
	})
	require.NoError(t, err)
	return n
}

// HasTable reports whether table exists in the named database.
func HasTable(t testing.TB, p database.Provider, name, table string) bool {
	t.Helper()
	var ok bool
	err := p.WithSession(context.Background(), name, func(s database.Session) error {
		var err error
		ok, err = s.HasTable(context.Background(), table)
		return err
	})
	require.NoError(t, err)
	return ok
}
