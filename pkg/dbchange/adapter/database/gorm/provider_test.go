package gorm_test

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/tigerroll/undertow/pkg/dbchange/adapter/database"
	gormadapter "github.com/tigerroll/undertow/pkg/dbchange/adapter/database/gorm"
	"github.com/tigerroll/undertow/pkg/dbchange/adapter/database/gorm/gormtest"
	_ "github.com/tigerroll/undertow/pkg/dbchange/adapter/database/gorm/mysql"
	"github.com/tigerroll/undertow/pkg/dbchange/support/util/exception"
)

func TestSQLiteSession(t *testing.T) {
	ctx := context.Background()
	p := gormtest.NewSQLiteProvider(t, "app")
	gormtest.Exec(t, p, "app",
		"CREATE TABLE orders (id INTEGER PRIMARY KEY, customer TEXT NOT NULL, amount INTEGER)",
		"INSERT INTO orders (id, customer, amount) VALUES (1, 'a', 10), (2, 'b', 20)",
	)

	err := p.WithSession(ctx, "app", func(s database.Session) error {
		assert.Equal(t, "app", s.Name())
		assert.Equal(t, "sqlite", s.Dialect().Name())

		ok, err := s.HasTable(ctx, "orders")
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = s.HasTable(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, ok)

		cols, err := s.Columns(ctx, "orders")
		require.NoError(t, err)
		assert.Equal(t, []string{"id", "customer", "amount"}, database.ColumnNames(cols))
		assert.Equal(t, []string{"id"}, database.PrimaryKey(cols))

		rows, err := s.Query(ctx, "SELECT id, customer FROM orders WHERE amount > ? ORDER BY id", 15)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "b", database.ToString(rows[0]["customer"]))

		n, err := s.Exec(ctx, "UPDATE orders SET amount = amount + 1")
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
		return nil
	})
	require.NoError(t, err)
}

func TestSQLiteSession_TransactionRollsBack(t *testing.T) {
	ctx := context.Background()
	p := gormtest.NewSQLiteProvider(t, "app")
	gormtest.Exec(t, p, "app", "CREATE TABLE t (id INTEGER PRIMARY KEY)")

	boom := errors.New("boom")
	err := p.WithSession(ctx, "app", func(s database.Session) error {
		return s.Transaction(ctx, func(tx database.Session) error {
			if _, err := tx.Exec(ctx, "INSERT INTO t (id) VALUES (1)"); err != nil {
				return err
			}
			return boom
		})
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int64(0), gormtest.Count(t, p, "app", "t"))
}

func TestSQLiteInsertModes(t *testing.T) {
	ctx := context.Background()
	p := gormtest.NewSQLiteProvider(t, "app")
	gormtest.Exec(t, p, "app",
		"CREATE TABLE t (id INTEGER PRIMARY KEY, v TEXT)",
		"INSERT INTO t (id, v) VALUES (1, 'old')",
	)
	cols, keys := []string{"id", "v"}, []string{"id"}

	err := p.WithSession(ctx, "app", func(s database.Session) error {
		d := s.Dialect()
		_, err := s.Exec(ctx, d.Insert("t", cols, keys, 1, database.InsertModeNormal), 1, "new")
		require.Error(t, err)
		assert.Equal(t, exception.KindData, exception.KindOf(err))

		for i := 0; i < 2; i++ {
			_, err = s.Exec(ctx, d.Insert("t", cols, keys, 2, database.InsertModeIgnore), 1, "ignored", 2, "two")
			require.NoError(t, err)
		}
		rows, err := s.Query(ctx, "SELECT v FROM t WHERE id = 1")
		require.NoError(t, err)
		assert.Equal(t, "old", database.ToString(rows[0]["v"]))

		_, err = s.Exec(ctx, d.Insert("t", cols, keys, 1, database.InsertModeReplace), 1, "replaced")
		require.NoError(t, err)
		rows, err = s.Query(ctx, "SELECT v FROM t WHERE id = 1")
		require.NoError(t, err)
		assert.Equal(t, "replaced", database.ToString(rows[0]["v"]))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), gormtest.Count(t, p, "app", "t"))
}

func TestSQLiteCreateTableLikeAndSwap(t *testing.T) {
	ctx := context.Background()
	p := gormtest.NewSQLiteProvider(t, "app")
	gormtest.Exec(t, p, "app",
		"CREATE TABLE t1 (id INTEGER PRIMARY KEY, name TEXT)",
		"INSERT INTO t1 (id, name) VALUES (1, 'x')",
	)

	err := p.WithSession(ctx, "app", func(s database.Session) error {
		d := s.Dialect()
		require.NoError(t, d.CreateTableLike(ctx, s, "t1", "_t1_osc_new_"))
		cols, err := s.Columns(ctx, "_t1_osc_new_")
		require.NoError(t, err)
		assert.Equal(t, []string{"id", "name"}, database.ColumnNames(cols))
		return d.SwapTables(ctx, s, "t1", "_t1_osc_new_", "_t1_osc_old_")
	})
	require.NoError(t, err)

	assert.Equal(t, int64(0), gormtest.Count(t, p, "app", "t1"))
	assert.Equal(t, int64(1), gormtest.Count(t, p, "app", "_t1_osc_old_"))
	assert.False(t, gormtest.HasTable(t, p, "app", "_t1_osc_new_"))
}

func TestProvider_UnknownDatabase(t *testing.T) {
	p := gormadapter.NewProvider(nil, "SILENT")
	err := p.WithSession(context.Background(), "nope", func(database.Session) error { return nil })
	require.Error(t, err)
	assert.Equal(t, exception.KindConfiguration, exception.KindOf(err))
}

func TestMySQLSwap_SQLShape(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	gdb, err := gorm.Open(mysql.New(mysql.Config{Conn: sqlDB, SkipInitializeWithVersion: true}), &gorm.Config{
		Logger: gormadapter.NewGormLogger("SILENT"),
	})
	require.NoError(t, err)

	p := gormadapter.NewProvider(nil, "SILENT")
	require.NoError(t, p.Attach("app", "mysql", gdb))

	mock.ExpectExec("RENAME TABLE `t1` TO `_t1_osc_old_`, `_t1_osc_new_` TO `t1`").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = p.WithSession(context.Background(), "app", func(s database.Session) error {
		return s.Dialect().SwapTables(context.Background(), s, "t1", "_t1_osc_new_", "_t1_osc_old_")
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
