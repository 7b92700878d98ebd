// Package osc applies CREATE/ALTER TABLE changes online: each statement builds a shadow table,
// copies the rows into it, validates the copy and swaps it in place of the origin table.
package osc

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/tigerroll/undertow/pkg/dbchange/adapter/database"
	"github.com/tigerroll/undertow/pkg/dbchange/core/config"
	"github.com/tigerroll/undertow/pkg/dbchange/core/domain/parameter"
	"github.com/tigerroll/undertow/pkg/dbchange/core/metrics"
	"github.com/tigerroll/undertow/pkg/dbchange/engine"
	"github.com/tigerroll/undertow/pkg/dbchange/engine/retry"
	"github.com/tigerroll/undertow/pkg/dbchange/engine/rowcopy"
	"github.com/tigerroll/undertow/pkg/dbchange/support/util/exception"
	"github.com/tigerroll/undertow/pkg/dbchange/support/util/logger"
)

const moduleName = "osc"

// Options tunes the engine.
type Options struct {
	BatchSize       int
	LagThreshold    int64
	MaxSyncRounds   int
	ChecksumEnabled bool
	// SwapBackoff is the wait before the first swap retry; it doubles per attempt.
	SwapBackoff time.Duration
	// Retry paces retries of copy batches.
	Retry retry.Settings
}

// OptionsFromConfig converts the engine configuration.
func OptionsFromConfig(c config.EngineConfig) Options {
	return Options{
		BatchSize:       c.OSC.BatchSize,
		LagThreshold:    c.OSC.LagThreshold,
		MaxSyncRounds:   c.OSC.MaxSyncRounds,
		ChecksumEnabled: c.OSC.ChecksumEnabled,
		SwapBackoff:     c.OSC.SwapBackoffDuration(),
		Retry:           retry.FromConfig(c.Retry),
	}
}

// StatementResult is the outcome of one statement.
type StatementResult struct {
	Index      int
	Table      string
	History    []State
	RowsCopied int64
	Err        error
	// Dropped is set once the origin table has been dropped.
	Dropped bool
	// Discarded is set when the statement was prepared but abandoned because another statement
	// stopped the job.
	Discarded bool
}

// Final returns the last state reached.
func (r StatementResult) Final() State {
	if len(r.History) == 0 {
		return StateInit
	}
	return r.History[len(r.History)-1]
}

// Engine runs ONLINE_SCHEMA_CHANGE jobs.
type Engine struct {
	provider database.Provider
	opts     Options
	metrics  metrics.MetricRecorder
	tracer   metrics.Tracer
}

var _ engine.Engine = (*Engine)(nil)

// New creates an Engine. Nil recorder and tracer fall back to no-ops.
func New(provider database.Provider, opts Options, recorder metrics.MetricRecorder, tracer metrics.Tracer) *Engine {
	if recorder == nil {
		recorder = metrics.NewNoOpMetricRecorder()
	}
	if tracer == nil {
		tracer = metrics.NewNoOpTracer()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1000
	}
	if opts.MaxSyncRounds <= 0 {
		opts.MaxSyncRounds = 10
	}
	return &Engine{provider: provider, opts: opts, metrics: recorder, tracer: tracer}
}

// Run implements engine.Engine.
func (e *Engine) Run(ctx context.Context, job engine.Job) (string, error) {
	params, ok := job.Parameters.(*parameter.OnlineSchemaChangeParameters)
	if !ok {
		return "", exception.NewConfigurationError(moduleName, fmt.Sprintf("unexpected parameters %T", job.Parameters), nil)
	}
	results, err := e.Apply(ctx, params, job.Report)
	var copied int64
	applied := 0
	for _, r := range results {
		copied += r.RowsCopied
		if r.Final() == StateCleaned {
			applied++
		}
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d statement(s) applied, %d row(s) copied", applied, copied), nil
}

// Apply runs the statements of params and returns one result per statement attempted.
// Every statement is brought to VALIDATED before the first swap, so a statement that cannot be
// prepared leaves all origin tables in place. Under ABORT the first aborted statement stops the job
// and discards the shadow tables already prepared. Under CONTINUE the job moves on after DATA and
// TRANSIENT aborts; FATAL, CONFIGURATION and CANCELED always stop it.
func (e *Engine) Apply(ctx context.Context, params *parameter.OnlineSchemaChangeParameters, progress engine.ProgressFunc) ([]StatementResult, error) {
	stmts, err := ParseAll(params.SqlContent, params.Delimiter, params.SqlType)
	if err != nil {
		return nil, err
	}

	var results []StatementResult
	err = e.provider.WithSession(ctx, params.DataSourceName, func(s database.Session) error {
		if err := database.Use(ctx, s, params.DatabaseName); err != nil {
			return exception.Annotate(moduleName, err, string(StateInit), params.DatabaseName)
		}
		results = e.applyAll(ctx, s, params, stmts, progress)
		return nil
	})
	if err != nil {
		return results, err
	}
	return results, summarize(results, len(stmts))
}

func (e *Engine) applyAll(ctx context.Context, s database.Session, params *parameter.OnlineSchemaChangeParameters, stmts []Statement, progress engine.ProgressFunc) []StatementResult {
	var (
		runs     []*statementRun
		prepared []*statementRun
		stopped  bool
	)
	stop := func(run *statementRun) bool {
		return params.ErrorStrategy == parameter.ErrorStrategyAbort || !continuable(run.err)
	}

	for i, st := range stmts {
		run := e.newRun(s, params, i, st, progress)
		runs = append(runs, run)
		if err := run.prepare(ctx); err != nil {
			run.err = run.abort(ctx, err)
			if stop(run) {
				stopped = true
				break
			}
			logger.Warnf("Statement %d on %s aborted, continuing with the next statement: %v", i+1, st.Table, run.err)
			continue
		}
		prepared = append(prepared, run)
	}

	for i, run := range prepared {
		if stopped {
			run.discard(ctx)
			continue
		}
		// Shadows validated before later statements were prepared are brought up to date first.
		if err := run.finish(ctx, i < len(prepared)-1); err != nil {
			run.err = run.abort(ctx, err)
			if stop(run) {
				stopped = true
				continue
			}
			logger.Warnf("Statement %d on %s aborted, continuing with the next statement: %v", run.idx+1, run.origin, run.err)
		}
	}

	results := make([]StatementResult, len(runs))
	for i, run := range runs {
		results[i] = run.result()
	}
	return results
}

func continuable(err error) bool {
	switch exception.KindOf(err) {
	case exception.KindData, exception.KindTransient:
		return true
	}
	return false
}

// summarize turns statement failures into the job error: the first failure's classification,
// with DestructiveActionTaken set when any statement already dropped an origin table.
func summarize(results []StatementResult, total int) error {
	var (
		merr        *multierror.Error
		first       *exception.JobError
		destructive bool
	)
	for _, r := range results {
		if r.Err == nil {
			continue
		}
		merr = multierror.Append(merr, r.Err)
		if je, ok := exception.AsJobError(r.Err); ok {
			if first == nil {
				first = je
			}
			destructive = destructive || je.DestructiveActionTaken
		}
	}
	if merr == nil {
		return nil
	}
	for _, r := range results {
		destructive = destructive || r.Dropped
	}
	if first == nil {
		first = exception.NewJobError(moduleName, exception.KindFatal, "statement failed", nil)
	}
	return exception.NewJobErrorf(moduleName, first.Kind, "%d of %d statement(s) aborted", merr.Len(), total, merr.ErrorOrNil()).
		WithPhase(first.Phase).WithTarget(first.Target).WithDestructiveAction(destructive)
}

type statementRun struct {
	e         *Engine
	s         database.Session
	params    *parameter.OnlineSchemaChangeParameters
	idx       int
	st        Statement
	m         *Machine
	origin    string
	shadow    string
	reserved  string
	progress  engine.ProgressFunc
	copied    int64
	dropped   bool
	discarded bool
	err       error
}

func (e *Engine) newRun(s database.Session, params *parameter.OnlineSchemaChangeParameters, idx int, st Statement, progress engine.ProgressFunc) *statementRun {
	origin := st.Table
	run := &statementRun{
		e: e, s: s, params: params, idx: idx, st: st,
		origin:   origin,
		shadow:   ShadowName(origin),
		reserved: ReservedName(origin),
		progress: progress,
	}
	run.m = NewMachine(origin, func(from, to State) {
		logger.Infof("[osc] %s: %s -> %s", origin, from, to)
		run.report(string(to), 0, 0, "")
	})
	return run
}

func (r *statementRun) result() StatementResult {
	return StatementResult{
		Index:      r.idx,
		Table:      r.origin,
		History:    r.m.History(),
		RowsCopied: r.copied,
		Err:        r.err,
		Dropped:    r.dropped,
		Discarded:  r.discarded,
	}
}

func (r *statementRun) report(phase string, done, total int64, msg string) {
	if r.progress != nil {
		r.progress(engine.Progress{Phase: phase, Target: r.origin, Done: done, Total: total, Message: msg})
	}
}

// phase runs fn with a span and a duration metric.
func (r *statementRun) phase(ctx context.Context, name State, fn func(context.Context) error) error {
	start := time.Now()
	pctx, end := r.e.tracer.StartPhaseSpan(ctx, moduleName, string(name), r.origin)
	err := fn(pctx)
	outcome := "ok"
	if err != nil {
		outcome = "aborted"
		r.e.tracer.RecordError(pctx, moduleName, err)
	}
	end()
	r.e.metrics.RecordPhase(ctx, moduleName, string(name), time.Since(start), outcome)
	return err
}

// prepare creates, fills and validates the shadow table.
func (r *statementRun) prepare(ctx context.Context) error {
	if err := r.phase(ctx, StateShadowTableCreated, r.createShadow); err != nil {
		return err
	}
	if err := r.m.Transition(StateShadowTableCreated); err != nil {
		return err
	}

	if err := r.m.Transition(StateDataSyncing); err != nil {
		return err
	}
	if err := r.phase(ctx, StateDataSyncing, r.sync); err != nil {
		return err
	}

	if err := r.phase(ctx, StateValidated, r.validate); err != nil {
		return err
	}
	return r.m.Transition(StateValidated)
}

// finish swaps a validated shadow table in and cleans up the origin. With refresh set, the shadow
// is caught up with the origin and validated again first.
func (r *statementRun) finish(ctx context.Context, refresh bool) error {
	if refresh {
		if err := r.phase(ctx, StateDataSyncing, r.resync); err != nil {
			return err
		}
		if err := r.phase(ctx, StateValidated, r.validate); err != nil {
			return err
		}
	}

	if err := checkCanceled(ctx); err != nil {
		return err
	}
	if err := r.m.Transition(StateSwapping); err != nil {
		return err
	}
	// The swap must not be interrupted halfway.
	if err := r.phase(context.WithoutCancel(ctx), StateSwapping, r.swap); err != nil {
		return err
	}
	if err := r.m.Transition(StateSwapped); err != nil {
		return err
	}

	if err := r.phase(context.WithoutCancel(ctx), StateCleaned, r.clean); err != nil {
		return err
	}
	return r.m.Transition(StateCleaned)
}

// discard drops the shadow table of a prepared statement that will not be swapped.
func (r *statementRun) discard(ctx context.Context) {
	if _, err := r.s.Exec(context.WithoutCancel(ctx), r.s.Dialect().DropTable(r.shadow)); err != nil {
		logger.Errorf("[osc] failed to drop shadow table %s: %v", r.shadow, err)
	}
	if err := r.m.Transition(StateAborted); err != nil {
		logger.Errorf("[osc] %v", err)
	}
	r.discarded = true
	logger.Warnf("[osc] %s discarded, %s left unchanged", r.shadow, r.origin)
}

// abort annotates err, drops the shadow when the swap has not happened, and moves to ABORTED.
func (r *statementRun) abort(ctx context.Context, cause error) error {
	state := r.m.State()
	je := exception.Annotate(moduleName, cause, string(state), r.origin)
	if r.dropped {
		je = je.WithDestructiveAction(true)
	}

	if state != StateSwapped && state != StateCleaned {
		cleanup := context.WithoutCancel(ctx)
		if _, err := r.s.Exec(cleanup, r.s.Dialect().DropTable(r.shadow)); err != nil {
			logger.Errorf("[osc] failed to drop shadow table %s after abort: %v", r.shadow, err)
		}
	}
	if state.CanTransitionTo(StateAborted) {
		if err := r.m.Transition(StateAborted); err != nil {
			logger.Errorf("[osc] %v", err)
		}
	}
	logger.Errorf("[osc] %s aborted in %s: %v", r.origin, state, je)
	return je
}

func checkCanceled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return exception.NewJobError(moduleName, exception.KindCanceled, "schema change canceled", err)
	}
	return nil
}

func (r *statementRun) createShadow(ctx context.Context) error {
	if err := checkCanceled(ctx); err != nil {
		return err
	}
	d := r.s.Dialect()
	fatal := func(msg string, err error) error {
		if exception.IsCanceled(err) {
			return err
		}
		return exception.NewJobError(moduleName, exception.KindFatal, msg, err)
	}

	exists, err := r.s.HasTable(ctx, r.origin)
	if err != nil {
		return fatal("failed to inspect origin table", err)
	}
	if !exists {
		return exception.NewJobErrorf(moduleName, exception.KindFatal, "origin table %s does not exist", r.origin)
	}
	reserved, err := r.s.HasTable(ctx, r.reserved)
	if err != nil {
		return fatal("failed to inspect reserved table", err)
	}
	if reserved {
		return exception.NewJobErrorf(moduleName, exception.KindFatal, "reserved table %s already exists; remove it before retrying", r.reserved)
	}
	if _, err := r.s.Exec(ctx, d.DropTable(r.shadow)); err != nil {
		return fatal("failed to drop leftover shadow table", err)
	}

	switch r.st.Kind {
	case parameter.SqlTypeCreate:
		if _, err := r.s.Exec(ctx, r.st.Rewrite(d, r.shadow)); err != nil {
			return fatal("failed to create shadow table", err)
		}
	case parameter.SqlTypeAlter:
		if err := d.CreateTableLike(ctx, r.s, r.origin, r.shadow); err != nil {
			return fatal("failed to clone origin table structure", err)
		}
		if _, err := r.s.Exec(ctx, r.st.Rewrite(d, r.shadow)); err != nil {
			return fatal("failed to alter shadow table", err)
		}
	default:
		return exception.NewJobErrorf(moduleName, exception.KindConfiguration, "unsupported sql type %s", r.st.Kind)
	}
	return nil
}

func (r *statementRun) keyset(ctx context.Context) (rowcopy.Keyset, error) {
	originCols, err := r.s.Columns(ctx, r.origin)
	if err != nil {
		return rowcopy.Keyset{}, err
	}
	shadowCols, err := r.s.Columns(ctx, r.shadow)
	if err != nil {
		return rowcopy.Keyset{}, err
	}
	cols := rowcopy.CommonColumns(originCols, shadowCols)
	keys := database.PrimaryKey(originCols)
	if len(keys) == 0 {
		return rowcopy.Keyset{}, exception.NewJobErrorf(moduleName, exception.KindFatal, "table %s has no primary key", r.origin)
	}
	common := make(map[string]bool, len(cols))
	for _, c := range cols {
		common[strings.ToLower(c)] = true
	}
	for _, k := range keys {
		if !common[strings.ToLower(k)] {
			return rowcopy.Keyset{}, exception.NewJobErrorf(moduleName, exception.KindFatal, "primary key column %s is missing from the shadow table", k)
		}
	}
	return rowcopy.Keyset{Table: r.origin, Columns: cols, Keys: keys, BatchSize: r.e.opts.BatchSize}, nil
}

// sync copies every origin row into the shadow table, then catches up with the changes made
// to the origin meanwhile.
func (r *statementRun) sync(ctx context.Context) error {
	ks, err := r.keyset(ctx)
	if err != nil {
		return err
	}
	policy := retry.NewPolicy(r.e.opts.Retry)
	if err := r.fullCopy(ctx, policy, ks); err != nil {
		return err
	}
	return r.catchUp(ctx, policy, ks)
}

// resync catches up a shadow table that has already been filled.
func (r *statementRun) resync(ctx context.Context) error {
	ks, err := r.keyset(ctx)
	if err != nil {
		return err
	}
	return r.catchUp(ctx, retry.NewPolicy(r.e.opts.Retry), ks)
}

func (r *statementRun) skippable(err error) bool {
	return r.params.ErrorStrategy == parameter.ErrorStrategyContinue && continuable(err)
}

// fullCopy copies origin rows in key order. Rows already in the shadow table are kept.
func (r *statementRun) fullCopy(ctx context.Context, policy retry.RetryPolicy, ks rowcopy.Keyset) error {
	var cursor rowcopy.Cursor
	for {
		if err := checkCanceled(ctx); err != nil {
			return err
		}
		batch, next, err := r.readBatch(ctx, policy, ks, cursor)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		if err := r.copyBatch(ctx, policy, ks, batch); err != nil {
			if !r.skippable(err) {
				return err
			}
			logger.Warnf("[osc] skipping batch of %d row(s) of %s: %v", len(batch), r.origin, err)
		}
		cursor = next
	}
}

// catchUp runs reconcile rounds until the number of rows a round finds out of date is within
// the lag threshold.
func (r *statementRun) catchUp(ctx context.Context, policy retry.RetryPolicy, ks rowcopy.Keyset) error {
	var lag int64
	for round := 1; round <= r.e.opts.MaxSyncRounds; round++ {
		changed, err := r.reconcile(ctx, policy, ks)
		if err != nil {
			return err
		}
		lag = changed
		r.report(string(StateDataSyncing), r.copied, 0, fmt.Sprintf("round %d: %d row(s) changed", round, changed))
		if lag <= r.e.opts.LagThreshold {
			return nil
		}
	}
	return exception.NewJobErrorf(moduleName, exception.KindFatal, "shadow table did not converge after %d round(s), lag %d row(s)", r.e.opts.MaxSyncRounds, lag)
}

// reconcile walks origin and shadow in key order. Shadow rows whose content differs are rewritten,
// missing rows copied and rows deleted from the origin removed. It returns the number of rows
// found out of date.
func (r *statementRun) reconcile(ctx context.Context, policy retry.RetryPolicy, ks rowcopy.Keyset) (int64, error) {
	var (
		cursor  rowcopy.Cursor
		changed int64
	)
	for {
		if err := checkCanceled(ctx); err != nil {
			return changed, err
		}
		var (
			delta rowcopy.Delta
			next  rowcopy.Cursor
			done  bool
		)
		err := retry.Do(ctx, policy, "compare "+r.origin, func(attempt int) error {
			if attempt > 1 {
				r.e.metrics.RecordRetry(ctx, "osc_read", exception.KindTransient.String())
			}
			var err error
			delta, next, done, err = rowcopy.Diff(ctx, r.s, ks, r.shadow, cursor)
			return database.Classify(err)
		})
		if err != nil {
			return changed, err
		}
		if done {
			return changed, nil
		}
		if n := delta.Len(); n > 0 {
			changed += int64(n)
			if err := r.repair(ctx, policy, ks, delta); err != nil {
				if !r.skippable(err) {
					return changed, err
				}
				logger.Warnf("[osc] skipping %d out-of-date row(s) of %s: %v", n, r.origin, err)
			}
		}
		cursor = next
	}
}

// repair applies delta to the shadow table in one transaction.
func (r *statementRun) repair(ctx context.Context, policy retry.RetryPolicy, ks rowcopy.Keyset, delta rowcopy.Delta) error {
	err := retry.Do(ctx, policy, "repair "+r.shadow, func(attempt int) error {
		if attempt > 1 {
			r.e.metrics.RecordRetry(ctx, "osc_copy", exception.KindTransient.String())
		}
		return r.s.Transaction(ctx, func(tx database.Session) error {
			if _, err := rowcopy.Insert(ctx, tx, r.shadow, ks.Columns, ks.Keys, delta.Upsert, database.InsertModeReplace); err != nil {
				return database.Classify(err)
			}
			if _, err := rowcopy.Delete(ctx, tx, r.shadow, ks.Keys, delta.Remove); err != nil {
				return database.Classify(err)
			}
			return nil
		})
	})
	if err != nil {
		return err
	}
	r.copied += int64(len(delta.Upsert))
	r.e.metrics.RecordRowsCopied(ctx, moduleName, r.origin, len(delta.Upsert))
	return nil
}

func (r *statementRun) readBatch(ctx context.Context, policy retry.RetryPolicy, ks rowcopy.Keyset, after rowcopy.Cursor) ([]database.Row, rowcopy.Cursor, error) {
	var (
		rows []database.Row
		next rowcopy.Cursor
	)
	err := retry.Do(ctx, policy, "read "+r.origin, func(attempt int) error {
		var err error
		rows, next, err = ks.Next(ctx, r.s, after)
		if attempt > 1 {
			r.e.metrics.RecordRetry(ctx, "osc_read", exception.KindTransient.String())
		}
		return database.Classify(err)
	})
	return rows, next, err
}

// copyBatch inserts rows into the shadow table in one transaction, retrying transient failures.
func (r *statementRun) copyBatch(ctx context.Context, policy retry.RetryPolicy, ks rowcopy.Keyset, rows []database.Row) error {
	var n int64
	err := retry.Do(ctx, policy, "copy into "+r.shadow, func(attempt int) error {
		if attempt > 1 {
			r.e.metrics.RecordRetry(ctx, "osc_copy", exception.KindTransient.String())
		}
		return r.s.Transaction(ctx, func(tx database.Session) error {
			var err error
			n, err = rowcopy.Insert(ctx, tx, r.shadow, ks.Columns, ks.Keys, rows, database.InsertModeIgnore)
			if err != nil {
				return database.Classify(err)
			}
			return nil
		})
	})
	if err != nil {
		return err
	}
	r.copied += n
	r.e.metrics.RecordRowsCopied(ctx, moduleName, r.origin, int(n))
	return nil
}

// validate compares row counts and, when enabled, content checksums of origin and shadow.
func (r *statementRun) validate(ctx context.Context) error {
	if err := checkCanceled(ctx); err != nil {
		return err
	}
	originCount, err := rowcopy.Count(ctx, r.s, r.origin, "")
	if err != nil {
		return database.Classify(err)
	}
	shadowCount, err := rowcopy.Count(ctx, r.s, r.shadow, "")
	if err != nil {
		return database.Classify(err)
	}
	if originCount != shadowCount {
		return exception.NewJobErrorf(moduleName, exception.KindData, "row count mismatch: %s has %d, %s has %d", r.origin, originCount, r.shadow, shadowCount).
			WithPhase(string(StateValidated))
	}
	if !r.e.opts.ChecksumEnabled {
		return nil
	}

	ks, err := r.keyset(ctx)
	if err != nil {
		return err
	}
	want, _, err := rowcopy.Checksum(ctx, r.s, ks)
	if err != nil {
		return database.Classify(err)
	}
	ks.Table = r.shadow
	got, _, err := rowcopy.Checksum(ctx, r.s, ks)
	if err != nil {
		return database.Classify(err)
	}
	if want != got {
		return exception.NewJobErrorf(moduleName, exception.KindData, "checksum mismatch between %s and %s", r.origin, r.shadow).
			WithPhase(string(StateValidated))
	}
	return nil
}

// swap renames origin to reserved and shadow to origin. Transient failures are retried
// SwapRetryTimes times; anything else, or running out of attempts, is fatal.
func (r *statementRun) swap(ctx context.Context) error {
	policy := retry.NewPolicy(retry.Settings{
		MaxAttempts:     1 + r.params.SwapRetryTimes(),
		InitialInterval: r.e.opts.SwapBackoff,
		MaxInterval:     r.e.opts.SwapBackoff * 8,
		Factor:          2,
	})
	err := retry.Do(ctx, policy, "swap "+r.origin, func(attempt int) error {
		if attempt > 1 {
			r.e.metrics.RecordRetry(ctx, "osc_swap", exception.KindTransient.String())
		}
		if err := r.s.Dialect().SwapTables(ctx, r.s, r.origin, r.shadow, r.reserved); err != nil {
			return database.Classify(err)
		}
		return nil
	})
	if err == nil {
		return nil
	}
	if exception.IsTemporary(err) {
		return exception.NewJobErrorf(moduleName, exception.KindFatal, "swap retries exhausted after %d attempt(s)", policy.GetMaxAttempts(), err)
	}
	if je, ok := exception.AsJobError(err); ok && je.Kind == exception.KindFatal {
		return err
	}
	return exception.NewJobError(moduleName, exception.KindFatal, "swap failed", err)
}

// clean drops or keeps the reserved table according to the clean strategy. Any failure is fatal.
func (r *statementRun) clean(ctx context.Context) error {
	if r.params.OriginTableCleanStrategy != parameter.OriginTableDrop {
		logger.Infof("[osc] keeping original data of %s in %s", r.origin, r.reserved)
		return nil
	}
	if _, err := r.s.Exec(ctx, r.s.Dialect().DropTable(r.reserved)); err != nil {
		return exception.NewJobError(moduleName, exception.KindFatal, "failed to drop "+r.reserved, err)
	}
	r.dropped = true
	return nil
}
