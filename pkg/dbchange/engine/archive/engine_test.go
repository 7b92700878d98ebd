package archive_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/undertow/pkg/dbchange/adapter/database"
	"github.com/tigerroll/undertow/pkg/dbchange/adapter/database/gorm/gormtest"
	"github.com/tigerroll/undertow/pkg/dbchange/adapter/storage"
	storageconfig "github.com/tigerroll/undertow/pkg/dbchange/adapter/storage/config"
	_ "github.com/tigerroll/undertow/pkg/dbchange/adapter/storage/local"
	"github.com/tigerroll/undertow/pkg/dbchange/core/domain/parameter"
	"github.com/tigerroll/undertow/pkg/dbchange/engine"
	"github.com/tigerroll/undertow/pkg/dbchange/engine/archive"
	"github.com/tigerroll/undertow/pkg/dbchange/engine/retry"
	"github.com/tigerroll/undertow/pkg/dbchange/support/util/exception"
)

const (
	src = "src"
	dst = "dst"
)

var fireTime = time.Date(2026, 1, 20, 3, 0, 0, 0, time.UTC)

func createOrders(t *testing.T, p database.Provider, db string) {
	t.Helper()
	gormtest.Exec(t, p, db, "CREATE TABLE orders (id INTEGER PRIMARY KEY, created TEXT NOT NULL, amount INTEGER)")
}

func createUsers(t *testing.T, p database.Provider, db string) {
	t.Helper()
	gormtest.Exec(t, p, db, "CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT)")
}

// seedOrders inserts one order per day of January 2026, starting on the 1st.
func seedOrders(t *testing.T, p database.Provider, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		gormtest.Exec(t, p, src, fmt.Sprintf("INSERT INTO orders (id, created, amount) VALUES (%d, '202601%02d', %d)", i, i, i*10))
	}
}

func seedUsers(t *testing.T, p database.Provider, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		gormtest.Exec(t, p, src, fmt.Sprintf("INSERT INTO users (id, name) VALUES (%d, 'user-%d')", i, i))
	}
}

func newProvider(t *testing.T) database.Provider {
	p := gormtest.NewSQLiteProvider(t, src, dst)
	createOrders(t, p, src)
	createOrders(t, p, dst)
	createUsers(t, p, src)
	createUsers(t, p, dst)
	return p
}

func options() archive.Options {
	return archive.Options{
		BatchSize:        5,
		TableConcurrency: 2,
		Retry:            retry.Settings{MaxAttempts: 3, InitialInterval: time.Millisecond, Factor: 1},
	}
}

func archiveParams(mutate func(*parameter.DataArchiveParameters)) *parameter.DataArchiveParameters {
	p := &parameter.DataArchiveParameters{
		Name:                 "nightly",
		SourceDataSourceName: src,
		TargetDataSourceName: dst,
		Variables:            []parameter.OffsetConfig{{Name: "cutoff", Pattern: "yyyyMMdd|-1d"}},
		Tables: []parameter.DataArchiveTableConfig{
			{TableName: "orders", ConditionExpression: "created < '${cutoff}'"},
			{TableName: "users"},
		},
	}
	if mutate != nil {
		mutate(p)
	}
	p.ApplyDefaults()
	return p
}

func job(params parameter.TaskParameters) engine.Job {
	return engine.Job{ID: "job-1", FireTime: fireTime, Parameters: params}
}

func TestArchive_TwoTablesWithBackup(t *testing.T) {
	p := newProvider(t)
	seedOrders(t, p, 30)
	seedUsers(t, p, 12)

	store := storage.NewProvider(map[string]storageconfig.StorageConfig{
		"files": {Type: "local", BaseDir: t.TempDir()},
	})
	t.Cleanup(func() { _ = store.CloseAll() })
	opts := options()
	opts.Backup = archive.BackupOptions{Enabled: true, StorageRef: "files", Prefix: "archive", Compression: "snappy"}

	var (
		mu       sync.Mutex
		progress []engine.Progress
	)
	j := job(archiveParams(func(p *parameter.DataArchiveParameters) { p.DeleteAfterMigration = true }))
	j.Progress = func(pr engine.Progress) {
		mu.Lock()
		progress = append(progress, pr)
		mu.Unlock()
	}
	e := archive.New(p, store, opts, nil, nil)

	results, err := e.Archive(context.Background(), j)
	require.NoError(t, err)
	require.Len(t, results, 2)

	// cutoff = 20260119: orders of the 1st to the 18th move.
	assert.EqualValues(t, 18, results[0].RowsWritten)
	assert.EqualValues(t, 18, results[0].RowsDeleted)
	assert.Equal(t, 4, results[0].Batches)
	assert.EqualValues(t, 12, results[1].RowsDeleted)

	assert.EqualValues(t, 18, gormtest.Count(t, p, dst, "orders"))
	assert.EqualValues(t, 12, gormtest.Count(t, p, src, "orders"))
	assert.EqualValues(t, 12, gormtest.Count(t, p, dst, "users"))
	assert.EqualValues(t, 0, gormtest.Count(t, p, src, "users"))

	conn, err := store.GetConnection(context.Background(), "files")
	require.NoError(t, err)
	var objects []string
	require.NoError(t, conn.ListObjects(context.Background(), "", "archive/job-1/", func(name string) error {
		objects = append(objects, name)
		return nil
	}))
	assert.Len(t, objects, 7)
	assert.Contains(t, objects, "archive/job-1/orders/part-000001.parquet")
	assert.Equal(t, results[0].Backups, []string{
		"archive/job-1/orders/part-000001.parquet",
		"archive/job-1/orders/part-000002.parquet",
		"archive/job-1/orders/part-000003.parquet",
		"archive/job-1/orders/part-000004.parquet",
	})
	assert.NotEmpty(t, progress)
}

func TestArchive_InsertIgnoreIsIdempotent(t *testing.T) {
	p := newProvider(t)
	seedOrders(t, p, 10)
	seedUsers(t, p, 3)
	e := archive.New(p, nil, options(), nil, nil)
	params := archiveParams(func(p *parameter.DataArchiveParameters) { p.MigrationInsertAction = parameter.InsertIgnore })

	first, err := e.Archive(context.Background(), job(params))
	require.NoError(t, err)
	assert.EqualValues(t, 10, first[0].RowsWritten)

	second, err := e.Archive(context.Background(), job(params))
	require.NoError(t, err)
	assert.EqualValues(t, 0, second[0].RowsWritten)
	assert.EqualValues(t, 10, gormtest.Count(t, p, dst, "orders"))
	assert.EqualValues(t, 10, gormtest.Count(t, p, src, "orders"))
}

func TestArchive_InsertNormalDuplicateIsDataFailure(t *testing.T) {
	p := newProvider(t)
	seedOrders(t, p, 4)
	seedUsers(t, p, 2)
	gormtest.Exec(t, p, dst, "INSERT INTO orders (id, created, amount) VALUES (3, '20260103', 0)")

	e := archive.New(p, nil, options(), nil, nil)
	results, err := e.Archive(context.Background(), job(archiveParams(func(p *parameter.DataArchiveParameters) {
		p.DeleteAfterMigration = true
		p.Tables = p.Tables[:1]
	})))
	require.Error(t, err)
	assert.Equal(t, exception.KindData, exception.KindOf(err))

	je, ok := exception.AsJobError(results[0].Err)
	require.True(t, ok)
	assert.Equal(t, archive.PhaseWrite, je.Phase)
	assert.False(t, je.DestructiveActionTaken)
	assert.EqualValues(t, 0, results[0].RowsDeleted)
	assert.EqualValues(t, 4, gormtest.Count(t, p, src, "orders"))
}

func TestArchive_NoDeleteBeforeConfirmedWrite(t *testing.T) {
	base := newProvider(t)
	seedOrders(t, base, 12)

	// The second batch fails to write on the target.
	fault := &gormtest.Fault{DB: dst, Match: "INSERT INTO", Skip: 1, Times: 1, Err: exception.NewJobError("test", exception.KindData, "constraint", nil)}
	p := gormtest.WithFaults(base, fault)
	params := archiveParams(func(p *parameter.DataArchiveParameters) {
		p.DeleteAfterMigration = true
		p.Tables = []parameter.DataArchiveTableConfig{{TableName: "orders"}}
	})

	results, err := archive.New(p, nil, options(), nil, nil).Archive(context.Background(), job(params))
	require.Error(t, err)
	je, ok := exception.AsJobError(err)
	require.True(t, ok)
	assert.Equal(t, exception.KindData, je.Kind)
	assert.True(t, je.DestructiveActionTaken)
	assert.Equal(t, "orders", je.Target)

	assert.EqualValues(t, 5, results[0].RowsDeleted)
	assert.EqualValues(t, 5, gormtest.Count(t, base, dst, "orders"))
	assert.EqualValues(t, 7, gormtest.Count(t, base, src, "orders"))
}

func TestArchive_TransientWriteIsRetried(t *testing.T) {
	base := newProvider(t)
	seedOrders(t, base, 8)

	fault := &gormtest.Fault{DB: dst, Match: "INSERT INTO", Times: 2, Err: exception.NewJobError("test", exception.KindTransient, "database is locked", nil)}
	p := gormtest.WithFaults(base, fault)
	params := archiveParams(func(p *parameter.DataArchiveParameters) {
		p.DeleteAfterMigration = true
		p.Tables = []parameter.DataArchiveTableConfig{{TableName: "orders"}}
	})

	results, err := archive.New(p, nil, options(), nil, nil).Archive(context.Background(), job(params))
	require.NoError(t, err)
	assert.Equal(t, 0, fault.Remaining())
	assert.EqualValues(t, 8, results[0].RowsDeleted)
	assert.EqualValues(t, 8, gormtest.Count(t, base, dst, "orders"))
	assert.EqualValues(t, 0, gormtest.Count(t, base, src, "orders"))
}

func TestArchive_ErrorStrategy(t *testing.T) {
	for _, tc := range []struct {
		strategy  parameter.TaskErrorStrategy
		usersLeft int64
	}{
		{parameter.ErrorStrategyAbort, 6},
		{parameter.ErrorStrategyContinue, 0},
	} {
		t.Run(string(tc.strategy), func(t *testing.T) {
			p := gormtest.NewSQLiteProvider(t, src, dst)
			createOrders(t, p, src)
			createUsers(t, p, src)
			createUsers(t, p, dst)
			seedOrders(t, p, 3)
			seedUsers(t, p, 6)

			opts := options()
			opts.TableConcurrency = 1
			params := archiveParams(func(p *parameter.DataArchiveParameters) {
				p.ErrorStrategy = tc.strategy
				p.DeleteAfterMigration = true
			})

			results, err := archive.New(p, nil, opts, nil, nil).Archive(context.Background(), job(params))
			require.Error(t, err)
			assert.Equal(t, exception.KindFatal, exception.KindOf(err))
			assert.Contains(t, results[0].Err.Error(), "target table orders does not exist")
			assert.EqualValues(t, 3, gormtest.Count(t, p, src, "orders"))
			assert.Equal(t, tc.usersLeft, gormtest.Count(t, p, src, "users"))
		})
	}
}

func TestArchive_DeleteOnly(t *testing.T) {
	p := gormtest.NewSQLiteProvider(t, src)
	createOrders(t, p, src)
	seedOrders(t, p, 25)

	params := &parameter.DataArchiveParameters{
		SourceDataSourceName: src,
		DeleteOnly:           true,
		Variables:            []parameter.OffsetConfig{{Name: "cutoff", Pattern: "yyyyMMdd|-1w"}},
		Tables:               []parameter.DataArchiveTableConfig{{TableName: "orders", ConditionExpression: "created < '${cutoff}'"}},
	}
	params.ApplyDefaults()
	require.NoError(t, params.Validate())

	summary, err := archive.New(p, nil, options(), nil, nil).Run(context.Background(), job(params))
	require.NoError(t, err)
	// cutoff = 20260113
	assert.Equal(t, "1 table(s), 0 row(s) written, 12 row(s) deleted", summary)
	assert.EqualValues(t, 13, gormtest.Count(t, p, src, "orders"))
}

func TestArchive_CanceledBeforeStart(t *testing.T) {
	p := newProvider(t)
	seedOrders(t, p, 5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := archive.New(p, nil, options(), nil, nil).Archive(ctx, job(archiveParams(func(p *parameter.DataArchiveParameters) {
		p.DeleteAfterMigration = true
	})))
	require.Error(t, err)
	assert.Equal(t, exception.KindCanceled, exception.KindOf(err))
	assert.EqualValues(t, 5, gormtest.Count(t, p, src, "orders"))
}

func TestArchive_RateLimit(t *testing.T) {
	if testing.Short() {
		t.Skip("rate limit test runs for several seconds")
	}
	const (
		rowLimit = 30
		total    = 170
	)
	p := gormtest.NewSQLiteProvider(t, src, dst)
	createUsers(t, p, src)
	createUsers(t, p, dst)
	seedUsers(t, p, total)

	opts := options()
	opts.BatchSize = 10
	params := archiveParams(func(p *parameter.DataArchiveParameters) {
		p.Tables = []parameter.DataArchiveTableConfig{{TableName: "users"}}
		p.Variables = nil
		p.RateLimit = parameter.RateLimitConfiguration{RowLimit: rowLimit}
	})

	start := time.Now()
	results, err := archive.New(p, nil, opts, nil, nil).Archive(context.Background(), job(params))
	elapsed := time.Since(start)
	require.NoError(t, err)
	require.EqualValues(t, total, results[0].RowsWritten)

	assert.GreaterOrEqual(t, elapsed, 5*time.Second)
	assert.LessOrEqual(t, float64(total), rowLimit*elapsed.Seconds()+float64(opts.BatchSize)+0.01)
}
