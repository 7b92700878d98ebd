// Package archive migrates rows between databases in primary-key batches and optionally deletes
// them from the source afterwards. A source row is only deleted once its copy is committed on the target.
package archive

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/tigerroll/undertow/pkg/dbchange/adapter/database"
	"github.com/tigerroll/undertow/pkg/dbchange/core/config"
	"github.com/tigerroll/undertow/pkg/dbchange/core/domain/parameter"
	"github.com/tigerroll/undertow/pkg/dbchange/core/metrics"
	"github.com/tigerroll/undertow/pkg/dbchange/engine"
	"github.com/tigerroll/undertow/pkg/dbchange/engine/retry"
	"github.com/tigerroll/undertow/pkg/dbchange/support/util/exception"
	"github.com/tigerroll/undertow/pkg/dbchange/support/util/logger"
)

const moduleName = "archive"

// Phases reported in failures and progress.
const (
	PhaseRead   = "READ"
	PhaseWrite  = "WRITE"
	PhaseBackup = "BACKUP"
	PhaseDelete = "DELETE"
)

// BackupOptions selects where deleted rows are backed up.
type BackupOptions struct {
	Enabled     bool
	StorageRef  string
	Bucket      string
	Prefix      string
	Compression string
}

// Options tunes the engine.
type Options struct {
	BatchSize        int
	TableConcurrency int
	Retry            retry.Settings
	Backup           BackupOptions
}

// OptionsFromConfig converts the engine configuration.
func OptionsFromConfig(c config.EngineConfig) Options {
	b := c.Archive.Backup
	return Options{
		BatchSize:        c.Archive.BatchSize,
		TableConcurrency: c.Archive.TableConcurrency,
		Retry:            retry.FromConfig(c.Retry),
		Backup: BackupOptions{
			Enabled:     b.Enabled,
			StorageRef:  b.StorageRef,
			Bucket:      b.Bucket,
			Prefix:      b.Prefix,
			Compression: b.Compression,
		},
	}
}

// TableResult is the outcome of one table.
type TableResult struct {
	Table       string
	Target      string
	RowsRead    int64
	RowsWritten int64
	RowsDeleted int64
	Batches     int
	Backups     []string
	Err         error
}

// Engine runs DATA_ARCHIVE and DATA_DELETE jobs.
type Engine struct {
	provider database.Provider
	storages ConnectionSource
	opts     Options
	metrics  metrics.MetricRecorder
	tracer   metrics.Tracer
}

var _ engine.Engine = (*Engine)(nil)

// New creates an Engine. storages may be nil when backups are disabled.
func New(provider database.Provider, storages ConnectionSource, opts Options, recorder metrics.MetricRecorder, tracer metrics.Tracer) *Engine {
	if recorder == nil {
		recorder = metrics.NewNoOpMetricRecorder()
	}
	if tracer == nil {
		tracer = metrics.NewNoOpTracer()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 500
	}
	if opts.TableConcurrency <= 0 {
		opts.TableConcurrency = 1
	}
	return &Engine{provider: provider, storages: storages, opts: opts, metrics: recorder, tracer: tracer}
}

// Run implements engine.Engine.
func (e *Engine) Run(ctx context.Context, job engine.Job) (string, error) {
	results, err := e.Archive(ctx, job)
	if err != nil {
		return "", err
	}
	var written, deleted int64
	for _, r := range results {
		written += r.RowsWritten
		deleted += r.RowsDeleted
	}
	return fmt.Sprintf("%d table(s), %d row(s) written, %d row(s) deleted", len(results), written, deleted), nil
}

// Archive migrates every table of the job's parameters and returns one result per table.
// Tables run concurrently up to TableConcurrency. Under ABORT the first table failure cancels
// the others at their next batch boundary; under CONTINUE every table runs to its end.
func (e *Engine) Archive(ctx context.Context, job engine.Job) ([]TableResult, error) {
	params, ok := job.Parameters.(*parameter.DataArchiveParameters)
	if !ok {
		return nil, exception.NewConfigurationError(moduleName, fmt.Sprintf("unexpected parameters %T", job.Parameters), nil)
	}
	fireTime := job.FireTime
	if fireTime.IsZero() {
		fireTime = time.Now()
	}

	conditions := make([]string, len(params.Tables))
	for i, t := range params.Tables {
		cond, err := parameter.BindVariables(t.ConditionExpression, params.Variables, fireTime)
		if err != nil {
			return nil, exception.NewConfigurationError(moduleName, "failed to bind condition of "+t.TableName, err)
		}
		conditions[i] = cond
	}

	backup, err := e.backupWriter(ctx, params)
	if err != nil {
		return nil, err
	}

	var (
		results  = make([]TableResult, len(params.Tables))
		throttle = newThrottle(params.RateLimit, e.opts.BatchSize)
		mu       sync.Mutex
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.TableConcurrency)
	for i, t := range params.Tables {
		i, t := i, t
		g.Go(func() error {
			m := &tableRun{
				e:         e,
				job:       job,
				params:    params,
				table:     t,
				condition: conditions[i],
				throttle:  throttle,
				backup:    backup,
			}
			res := m.run(gctx)
			mu.Lock()
			results[i] = res
			mu.Unlock()
			if res.Err != nil && params.ErrorStrategy == parameter.ErrorStrategyAbort {
				return res.Err
			}
			return nil
		})
	}
	// The returned error only cancels siblings; every table's outcome is already in results.
	g.Wait()

	return results, summarize(ctx, results)
}

func (e *Engine) backupWriter(ctx context.Context, params *parameter.DataArchiveParameters) (*backupWriter, error) {
	if !e.opts.Backup.Enabled || !params.DeleteAfterMigration {
		return nil, nil
	}
	if e.storages == nil {
		return nil, exception.NewConfigurationError(moduleName, "backup is enabled but no storage is available", nil)
	}
	codec, err := compressionCodec(e.opts.Backup.Compression)
	if err != nil {
		return nil, exception.NewConfigurationError(moduleName, "invalid backup compression", err)
	}
	conn, err := e.storages.GetConnection(ctx, e.opts.Backup.StorageRef)
	if err != nil {
		return nil, err
	}
	return &backupWriter{conn: conn, bucket: e.opts.Backup.Bucket, prefix: e.opts.Backup.Prefix, codec: codec}, nil
}

// summarize aggregates table failures. The job error takes the kind of the first failure that is not a
// cancellation caused by a sibling table, and DestructiveActionTaken when any table deleted rows.
func summarize(ctx context.Context, results []TableResult) error {
	var (
		merr        *multierror.Error
		primary     *exception.JobError
		destructive bool
	)
	for _, r := range results {
		destructive = destructive || r.RowsDeleted > 0
		if r.Err == nil {
			continue
		}
		merr = multierror.Append(merr, r.Err)
		je, ok := exception.AsJobError(r.Err)
		if !ok {
			continue
		}
		if primary == nil || (primary.Kind == exception.KindCanceled && je.Kind != exception.KindCanceled) {
			primary = je
		}
	}
	if merr == nil {
		return nil
	}
	kind := exception.KindFatal
	phase, target := "", ""
	if primary != nil {
		kind, phase, target = primary.Kind, primary.Phase, primary.Target
	}
	if ctx.Err() != nil {
		kind = exception.KindCanceled
	}
	return exception.NewJobErrorf(moduleName, kind, "%d of %d table(s) failed", merr.Len(), len(results), merr.ErrorOrNil()).
		WithPhase(phase).WithTarget(target).WithDestructiveAction(destructive)
}

func logTableDone(r TableResult) {
	if r.Err != nil {
		logger.Errorf("[archive] %s failed after %d batch(es), %d row(s) deleted: %v", r.Table, r.Batches, r.RowsDeleted, r.Err)
		return
	}
	logger.Infof("[archive] %s done: %d read, %d written, %d deleted in %d batch(es)", r.Table, r.RowsRead, r.RowsWritten, r.RowsDeleted, r.Batches)
}
