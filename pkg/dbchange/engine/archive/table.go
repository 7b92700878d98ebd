package archive

import (
	"context"
	"strings"
	"time"

	"github.com/tigerroll/undertow/pkg/dbchange/adapter/database"
	"github.com/tigerroll/undertow/pkg/dbchange/core/domain/parameter"
	"github.com/tigerroll/undertow/pkg/dbchange/engine"
	"github.com/tigerroll/undertow/pkg/dbchange/engine/retry"
	"github.com/tigerroll/undertow/pkg/dbchange/engine/rowcopy"
	"github.com/tigerroll/undertow/pkg/dbchange/support/util/exception"
)

type tableRun struct {
	e         *Engine
	job       engine.Job
	params    *parameter.DataArchiveParameters
	table     parameter.DataArchiveTableConfig
	condition string
	throttle  *throttle
	backup    *backupWriter

	policy retry.RetryPolicy
	res    TableResult
}

func insertMode(a parameter.MigrationInsertAction) database.InsertMode {
	switch a {
	case parameter.InsertIgnore:
		return database.InsertModeIgnore
	case parameter.Replace:
		return database.InsertModeReplace
	case parameter.InsertNormal:
		return database.InsertModeNormal
	}
	return database.InsertModeNormal
}

func (t *tableRun) run(ctx context.Context) TableResult {
	t.res = TableResult{Table: t.table.TableName, Target: t.table.Target()}
	t.policy = retry.NewPolicy(t.e.opts.Retry)

	start := time.Now()
	sctx, end := t.e.tracer.StartPhaseSpan(ctx, moduleName, "TABLE", t.table.TableName)
	err := t.e.provider.WithSession(sctx, t.params.SourceDataSourceName, func(src database.Session) error {
		if err := database.Use(sctx, src, t.params.SourceDatabaseName); err != nil {
			return database.Classify(err)
		}
		if t.params.DeleteOnly {
			return t.migrate(sctx, src, nil)
		}
		return t.e.provider.WithSession(sctx, t.params.TargetDataSourceName, func(dst database.Session) error {
			if err := database.Use(sctx, dst, t.params.TargetDatabaseName); err != nil {
				return database.Classify(err)
			}
			return t.migrate(sctx, src, dst)
		})
	})
	outcome := "ok"
	if err != nil {
		outcome = "failed"
		je := exception.Annotate(moduleName, err, PhaseRead, t.table.TableName)
		if t.res.RowsDeleted > 0 {
			je = je.WithDestructiveAction(true)
		}
		t.res.Err = je
		t.e.tracer.RecordError(sctx, moduleName, je)
	}
	end()
	t.e.metrics.RecordPhase(ctx, moduleName, "TABLE", time.Since(start), outcome)
	logTableDone(t.res)
	return t.res
}

// plan resolves the columns to copy and the key to page by.
func (t *tableRun) plan(ctx context.Context, src, dst database.Session) (rowcopy.Keyset, error) {
	srcCols, err := src.Columns(ctx, t.table.TableName)
	if err != nil {
		return rowcopy.Keyset{}, database.Classify(err)
	}
	if len(srcCols) == 0 {
		return rowcopy.Keyset{}, exception.NewJobErrorf(moduleName, exception.KindFatal, "source table %s does not exist", t.table.TableName)
	}
	keys := database.PrimaryKey(srcCols)
	if len(keys) == 0 {
		return rowcopy.Keyset{}, exception.NewJobErrorf(moduleName, exception.KindFatal, "source table %s has no primary key", t.table.TableName)
	}
	cols := database.ColumnNames(srcCols)
	if dst != nil {
		dstCols, err := dst.Columns(ctx, t.table.Target())
		if err != nil {
			return rowcopy.Keyset{}, database.Classify(err)
		}
		if len(dstCols) == 0 {
			return rowcopy.Keyset{}, exception.NewJobErrorf(moduleName, exception.KindFatal, "target table %s does not exist", t.table.Target())
		}
		cols = rowcopy.CommonColumns(srcCols, dstCols)
		have := make(map[string]bool, len(cols))
		for _, c := range cols {
			have[strings.ToLower(c)] = true
		}
		for _, k := range keys {
			if !have[strings.ToLower(k)] {
				return rowcopy.Keyset{}, exception.NewJobErrorf(moduleName, exception.KindFatal, "key column %s is missing from target table %s", k, t.table.Target())
			}
		}
	}
	return rowcopy.Keyset{
		Table:     t.table.TableName,
		Columns:   cols,
		Keys:      keys,
		Condition: t.condition,
		BatchSize: t.e.opts.BatchSize,
	}, nil
}

// migrate pages through the source. dst is nil in delete-only mode.
func (t *tableRun) migrate(ctx context.Context, src, dst database.Session) error {
	ks, err := t.plan(ctx, src, dst)
	if err != nil {
		return err
	}
	var cursor rowcopy.Cursor
	for {
		if err := ctx.Err(); err != nil {
			return exception.NewJobError(moduleName, exception.KindCanceled, "archive canceled", err).WithPhase(PhaseRead)
		}

		var (
			rows []database.Row
			next rowcopy.Cursor
		)
		err := retry.Do(ctx, t.policy, "read "+ks.Table, func(attempt int) error {
			t.countRetry(ctx, attempt, "archive_read")
			var err error
			rows, next, err = ks.Next(ctx, src, cursor)
			return database.Classify(err)
		})
		if err != nil {
			return exception.Annotate(moduleName, err, PhaseRead, ks.Table)
		}
		if len(rows) == 0 {
			return nil
		}
		t.res.RowsRead += int64(len(rows))

		var size int64
		for _, r := range rows {
			size += rowcopy.RowSize(r, ks.Columns)
		}
		waited, err := t.throttle.wait(ctx, len(rows), size)
		if waited > 0 {
			t.e.metrics.RecordThrottle(ctx, ks.Table, waited)
		}
		if err != nil {
			return exception.NewJobError(moduleName, exception.KindCanceled, "archive canceled while throttled", err).WithPhase(PhaseRead)
		}

		// A batch that was read is finished even if the job is canceled meanwhile.
		if err := t.batch(context.WithoutCancel(ctx), src, dst, ks, rows); err != nil {
			return err
		}
		cursor = next
		t.res.Batches++
		t.job.Report(engine.Progress{Phase: PhaseWrite, Target: ks.Table, Done: t.res.RowsRead, Message: t.progressMessage()})
	}
}

func (t *tableRun) progressMessage() string {
	if t.params.DeleteOnly {
		return "deleting"
	}
	if t.params.DeleteAfterMigration {
		return "archiving"
	}
	return "copying"
}

func (t *tableRun) countRetry(ctx context.Context, attempt int, op string) {
	if attempt > 1 {
		t.e.metrics.RecordRetry(ctx, op, exception.KindTransient.String())
	}
}

// batch writes rows to the target, backs them up and deletes them from the source, in that order.
func (t *tableRun) batch(ctx context.Context, src, dst database.Session, ks rowcopy.Keyset, rows []database.Row) error {
	if dst != nil {
		var written int64
		err := retry.Do(ctx, t.policy, "write "+t.table.Target(), func(attempt int) error {
			t.countRetry(ctx, attempt, "archive_write")
			return dst.Transaction(ctx, func(tx database.Session) error {
				n, err := rowcopy.Insert(ctx, tx, t.table.Target(), ks.Columns, ks.Keys, rows, insertMode(t.params.MigrationInsertAction))
				written = n
				return database.Classify(err)
			})
		})
		if err != nil {
			return exception.Annotate(moduleName, err, PhaseWrite, t.table.Target())
		}
		t.res.RowsWritten += written
		t.e.metrics.RecordRowsCopied(ctx, moduleName, ks.Table, int(written))
	}

	if !t.params.DeleteAfterMigration {
		return nil
	}

	if t.backup != nil {
		var object string
		err := retry.Do(ctx, t.policy, "backup "+ks.Table, func(attempt int) error {
			t.countRetry(ctx, attempt, "archive_backup")
			var err error
			object, err = t.backup.Write(ctx, t.job.ID, ks.Table, t.res.Batches+1, ks.Columns, rows)
			return err
		})
		if err != nil {
			return exception.Annotate(moduleName, err, PhaseBackup, ks.Table)
		}
		t.res.Backups = append(t.res.Backups, object)
	}

	var deleted int64
	err := retry.Do(ctx, t.policy, "delete "+ks.Table, func(attempt int) error {
		t.countRetry(ctx, attempt, "archive_delete")
		return src.Transaction(ctx, func(tx database.Session) error {
			n, err := rowcopy.Delete(ctx, tx, ks.Table, ks.Keys, rows)
			deleted = n
			return database.Classify(err)
		})
	})
	if err != nil {
		return exception.Annotate(moduleName, err, PhaseDelete, ks.Table)
	}
	t.res.RowsDeleted += deleted
	t.e.metrics.RecordRowsDeleted(ctx, ks.Table, int(deleted))
	return nil
}
