package sql_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	gormadapter "github.com/tigerroll/undertow/pkg/dbchange/adapter/database/gorm"
	"github.com/tigerroll/undertow/pkg/dbchange/adapter/database/gorm/gormtest"
	"github.com/tigerroll/undertow/pkg/dbchange/core/domain/model"
	"github.com/tigerroll/undertow/pkg/dbchange/core/domain/repository"
	"github.com/tigerroll/undertow/pkg/dbchange/infrastructure/repository/repositorytest"
	sqlrepo "github.com/tigerroll/undertow/pkg/dbchange/infrastructure/repository/sql"
)

func newSQLiteRepository(t *testing.T) repository.JobRepository {
	t.Helper()
	p := gormtest.NewSQLiteProvider(t, "jobs")

	migrationDB, dialect, err := p.Open("jobs")
	require.NoError(t, err)
	require.NoError(t, sqlrepo.Migrate(migrationDB, dialect.Name(), ""))

	db, _, err := p.DB("jobs")
	require.NoError(t, err)
	return sqlrepo.NewSQLJobRepository(db)
}

func TestSQLJobRepository_SQLite(t *testing.T) {
	repositorytest.Run(t, newSQLiteRepository)
}

func TestMigrate_Idempotent(t *testing.T) {
	p := gormtest.NewSQLiteProvider(t, "jobs")
	for i := 0; i < 2; i++ {
		db, dialect, err := p.Open("jobs")
		require.NoError(t, err)
		require.NoError(t, sqlrepo.Migrate(db, dialect.Name(), "custom_migrations"))
	}
	assert.True(t, gormtest.HasTable(t, p, "jobs", "undertow_job_execution"))
	assert.True(t, gormtest.HasTable(t, p, "jobs", "custom_migrations"))
}

func TestMigrate_UnsupportedType(t *testing.T) {
	p := gormtest.NewSQLiteProvider(t, "jobs")
	db, _, err := p.Open("jobs")
	require.NoError(t, err)
	assert.Error(t, sqlrepo.Migrate(db, "oracle", ""))
}

func setupGormMock(t *testing.T) (sqlmock.Sqlmock, *sqlrepo.SQLJobRepository) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{Logger: gormadapter.NewGormLogger("SILENT")})
	require.NoError(t, err)
	return mock, sqlrepo.NewSQLJobRepository(gormDB)
}

func TestSQLJobRepository_CompleteIsConditionalOnRunning(t *testing.T) {
	mock, repo := setupGormMock(t)
	now := time.Date(2026, 1, 20, 9, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE `undertow_job_execution` SET")+".*"+regexp.QuoteMeta("`version`=version + 1 WHERE id = ? AND status = ?")).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "FAILED", "job-1", "RUNNING").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `undertow_job_execution` WHERE id = ?")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "source_id", "source_type", "source_sub_type", "payload", "status", "attempt", "failure", "create_time", "version"}).
			AddRow("job-1", 5, "TASK_TASK", "DATA_ARCHIVE", "{}", "SUCCEEDED", 1, nil, now, 3))

	err := repo.CompleteJobExecution(context.Background(), "job-1", model.JobStatusFailed, &model.Failure{Message: "late"}, now)
	assert.ErrorIs(t, err, repository.ErrTerminalStateWritten)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLJobRepository_FindByStatusQuery(t *testing.T) {
	mock, repo := setupGormMock(t)
	now := time.Date(2026, 1, 20, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `undertow_job_execution` WHERE status = ? ORDER BY create_time ASC") + `,\s*id ASC LIMIT`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "source_id", "source_type", "source_sub_type", "payload", "status", "attempt", "failure", "create_time", "version"}).
			AddRow("job-1", 5, "SCHEDULE_TASK", "ONLINE_SCHEMA_CHANGE", "{}", "PENDING", 0, `{"kind":"TRANSIENT","message":"busy","destructiveActionTaken":false}`, now, 1))

	got, err := repo.FindJobExecutionsByStatus(context.Background(), model.JobStatusPending, 2)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, model.SourceTypeScheduleTask, got[0].Identity.SourceType())
	require.NotNil(t, got[0].Failure)
	assert.True(t, got[0].Failure.Retryable())
	assert.NoError(t, mock.ExpectationsWereMet())
}
