package dispatcher_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/undertow/pkg/dbchange/core/domain/model"
	"github.com/tigerroll/undertow/pkg/dbchange/core/domain/parameter"
	"github.com/tigerroll/undertow/pkg/dbchange/core/domain/repository"
	"github.com/tigerroll/undertow/pkg/dbchange/dispatcher"
	"github.com/tigerroll/undertow/pkg/dbchange/engine"
	"github.com/tigerroll/undertow/pkg/dbchange/infrastructure/repository/inmemory"
	"github.com/tigerroll/undertow/pkg/dbchange/support/util/exception"
	"github.com/tigerroll/undertow/pkg/dbchange/support/util/serialization"
)

const oscParams = `{"sqlContent":"ALTER TABLE t1 ADD COLUMN c INT","sqlType":"ALTER","dataSourceName":"main"}`

var oscIdentity = model.MustJobIdentity(11, model.SourceTypeTaskTask, model.SubTypeOnlineSchemaChange)

type fixture struct {
	d        *dispatcher.Dispatcher
	repo     *inmemory.InMemoryJobRepository
	mu       sync.Mutex
	reported []*model.JobExecution
}

func (f *fixture) Report(_ context.Context, execution *model.JobExecution) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reported = append(f.reported, execution)
}

func (f *fixture) reports() []*model.JobExecution {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*model.JobExecution(nil), f.reported...)
}

func testOptions() dispatcher.Options {
	return dispatcher.Options{
		Slots:            2,
		PollInterval:     10 * time.Millisecond,
		HeartbeatTimeout: 2 * time.Second,
		ShutdownGrace:    50 * time.Millisecond,
		LostWorkerGrace:  50 * time.Millisecond,
	}
}

func newFixture(t *testing.T, eng engine.EngineFunc, opts dispatcher.Options, heartbeat time.Duration) *fixture {
	t.Helper()
	registry := engine.NewRegistry()
	registry.Register(model.SubTypeOnlineSchemaChange, eng)
	worker := dispatcher.NewWorker(registry, heartbeat)

	f := &fixture{repo: inmemory.NewInMemoryJobRepository()}
	f.d = dispatcher.New(f.repo, registry, dispatcher.NewThreadLauncher(worker), opts, nil, nil,
		serialization.NewMasker([]string{"password"}), f)
	return f
}

func (f *fixture) run(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, f.d.Run(ctx))
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func (f *fixture) submit(t *testing.T) *model.JobExecution {
	t.Helper()
	execution, err := f.d.Submit(context.Background(), oscIdentity, []byte(oscParams))
	require.NoError(t, err)
	return execution
}

func (f *fixture) await(t *testing.T, id string, status model.JobStatus) *model.JobExecution {
	t.Helper()
	var got *model.JobExecution
	require.Eventually(t, func() bool {
		var err error
		got, err = f.repo.FindJobExecutionByID(context.Background(), id)
		return err == nil && got.Status == status
	}, 5*time.Second, 5*time.Millisecond, "job %s never reached %s", id, status)
	return got
}

func succeed(context.Context, engine.Job) (string, error) { return "done", nil }

func TestSubmit_RejectsInvalidInput(t *testing.T) {
	f := newFixture(t, succeed, testOptions(), time.Second)
	ctx := context.Background()

	_, err := f.d.Submit(ctx, oscIdentity, []byte(`{"sqlType":"ALTER"}`))
	require.Error(t, err)
	assert.Equal(t, exception.KindConfiguration, exception.KindOf(err))

	archive := model.MustJobIdentity(12, model.SourceTypeTaskTask, model.SubTypeDataArchive)
	_, err = f.d.Submit(ctx, archive, []byte(`{}`))
	require.Error(t, err)
	assert.Equal(t, exception.KindConfiguration, exception.KindOf(err))

	_, err = f.d.Submit(ctx, model.JobIdentity{}, []byte(oscParams))
	assert.Equal(t, exception.KindConfiguration, exception.KindOf(err))

	pending, err := f.repo.FindJobExecutionsByStatus(ctx, model.JobStatusPending, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestDispatcher_RunsJobToSuccess(t *testing.T) {
	var seen engine.Job
	var calls atomic.Int32
	f := newFixture(t, func(_ context.Context, job engine.Job) (string, error) {
		calls.Add(1)
		seen = job
		job.Report(engine.Progress{Phase: "DATA_SYNCING", Target: "t1", Done: 1})
		return "1 statement(s) applied", nil
	}, testOptions(), time.Second)
	execution := f.submit(t)
	f.run(t)

	got := f.await(t, execution.ID, model.JobStatusSucceeded)
	assert.Equal(t, 1, got.Attempt)
	assert.Nil(t, got.Failure)
	require.NotNil(t, got.EndTime)

	assert.EqualValues(t, 1, calls.Load())
	assert.Equal(t, execution.ID, seen.ID)
	assert.Equal(t, oscIdentity, seen.Identity)
	params, ok := seen.Parameters.(*parameter.OnlineSchemaChangeParameters)
	require.True(t, ok)
	assert.Equal(t, "main", params.DataSourceName)

	require.Eventually(t, func() bool { return len(f.reports()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, model.JobStatusSucceeded, f.reports()[0].Status)
}

func TestDispatcher_DataFailureIsNotRetried(t *testing.T) {
	opts := testOptions()
	opts.JobRetryLimit = 3
	var calls atomic.Int32
	f := newFixture(t, func(context.Context, engine.Job) (string, error) {
		calls.Add(1)
		return "", exception.NewJobError("archive", exception.KindData, "duplicate key", nil).WithPhase("WRITE").WithTarget("orders")
	}, opts, time.Second)
	execution := f.submit(t)
	f.run(t)

	got := f.await(t, execution.ID, model.JobStatusFailed)
	require.NotNil(t, got.Failure)
	assert.Equal(t, exception.KindData, got.Failure.Kind)
	assert.Equal(t, "WRITE", got.Failure.Phase)
	assert.Equal(t, "orders", got.Failure.Target)
	assert.EqualValues(t, 1, calls.Load())
}

func TestDispatcher_TransientFailureRetriedWithinLimit(t *testing.T) {
	opts := testOptions()
	opts.JobRetryLimit = 1
	f := newFixture(t, func(_ context.Context, job engine.Job) (string, error) {
		if job.Attempt == 1 {
			return "", exception.NewJobError("archive", exception.KindTransient, "lock wait timeout", nil)
		}
		return "ok", nil
	}, opts, time.Second)
	execution := f.submit(t)
	f.run(t)

	got := f.await(t, execution.ID, model.JobStatusSucceeded)
	assert.Equal(t, 2, got.Attempt)
	assert.Len(t, f.reports(), 1)
}

func TestDispatcher_TransientFailureBeyondLimit(t *testing.T) {
	var calls atomic.Int32
	f := newFixture(t, func(context.Context, engine.Job) (string, error) {
		calls.Add(1)
		return "", exception.NewJobError("archive", exception.KindTransient, "lock wait timeout", nil)
	}, testOptions(), time.Second)
	execution := f.submit(t)
	f.run(t)

	got := f.await(t, execution.ID, model.JobStatusFailed)
	assert.Equal(t, exception.KindTransient, got.Failure.Kind)
	assert.EqualValues(t, 1, calls.Load())
}

func TestDispatcher_DestructiveTransientFailureIsNotRetried(t *testing.T) {
	opts := testOptions()
	opts.JobRetryLimit = 2
	f := newFixture(t, func(context.Context, engine.Job) (string, error) {
		return "", exception.NewJobError("archive", exception.KindTransient, "connection lost", nil).WithDestructiveAction(true)
	}, opts, time.Second)
	execution := f.submit(t)
	f.run(t)

	got := f.await(t, execution.ID, model.JobStatusFailed)
	assert.True(t, got.Failure.DestructiveActionTaken)
	assert.Equal(t, 1, got.Attempt)
}

func TestDispatcher_Cancel(t *testing.T) {
	started := make(chan struct{})
	f := newFixture(t, func(ctx context.Context, _ engine.Job) (string, error) {
		close(started)
		<-ctx.Done()
		return "", exception.NewJobError("archive", exception.KindCanceled, "canceled at batch boundary", ctx.Err())
	}, testOptions(), time.Second)
	execution := f.submit(t)

	err := f.d.Cancel(context.Background(), execution.ID)
	assert.ErrorIs(t, err, dispatcher.ErrJobNotRunning)

	f.run(t)
	<-started
	require.Eventually(t, func() bool { return len(f.d.Running()) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, f.d.Cancel(context.Background(), execution.ID))

	got := f.await(t, execution.ID, model.JobStatusCanceled)
	assert.Equal(t, exception.KindCanceled, got.Failure.Kind)

	require.Eventually(t, func() bool { return len(f.d.Running()) == 0 }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, f.d.Cancel(context.Background(), execution.ID), dispatcher.ErrJobNotRunning)
}

func TestDispatcher_HeartbeatTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	opts := testOptions()
	opts.HeartbeatTimeout = 100 * time.Millisecond
	opts.JobRetryLimit = 2
	f := newFixture(t, func(context.Context, engine.Job) (string, error) {
		<-release
		return "late", nil
	}, opts, time.Hour)
	execution := f.submit(t)
	f.run(t)

	got := f.await(t, execution.ID, model.JobStatusFailed)
	require.NotNil(t, got.Failure)
	assert.Equal(t, exception.KindTransient, got.Failure.Kind)
	assert.Equal(t, dispatcher.PhaseHeartbeat, got.Failure.Phase)
	assert.True(t, got.Failure.DestructiveActionTaken)
	assert.Contains(t, got.Failure.Message, "progress is unknown")
	assert.Equal(t, 1, got.Attempt)
}

func TestDispatcher_HeartbeatTimeoutKeepsWorkerReport(t *testing.T) {
	opts := testOptions()
	opts.HeartbeatTimeout = 100 * time.Millisecond
	opts.LostWorkerGrace = 2 * time.Second
	opts.JobRetryLimit = 2
	f := newFixture(t, func(ctx context.Context, _ engine.Job) (string, error) {
		<-ctx.Done()
		// The batch in flight still deletes its source rows before the engine stops.
		time.Sleep(50 * time.Millisecond)
		return "", exception.NewJobError("archive", exception.KindCanceled, "stopped after batch", ctx.Err()).
			WithTarget("orders").WithDestructiveAction(true)
	}, opts, time.Hour)
	execution := f.submit(t)
	f.run(t)

	got := f.await(t, execution.ID, model.JobStatusFailed)
	require.NotNil(t, got.Failure)
	assert.Equal(t, dispatcher.PhaseHeartbeat, got.Failure.Phase)
	assert.True(t, got.Failure.DestructiveActionTaken)
	assert.NotContains(t, got.Failure.Message, "unknown")
	assert.Equal(t, 1, got.Attempt)
}

func TestDispatcher_HeartbeatsKeepJobAlive(t *testing.T) {
	opts := testOptions()
	opts.HeartbeatTimeout = 100 * time.Millisecond
	f := newFixture(t, func(ctx context.Context, _ engine.Job) (string, error) {
		time.Sleep(400 * time.Millisecond)
		return "slow but alive", nil
	}, opts, 20*time.Millisecond)
	execution := f.submit(t)
	f.run(t)

	got := f.await(t, execution.ID, model.JobStatusSucceeded)
	require.NotNil(t, got.LastHeartbeat)
	assert.True(t, got.LastHeartbeat.After(*got.StartTime))
}

func TestDispatcher_SlotsBoundConcurrency(t *testing.T) {
	release := make(chan struct{})
	var active, peak atomic.Int32
	f := newFixture(t, func(context.Context, engine.Job) (string, error) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		active.Add(-1)
		return "ok", nil
	}, testOptions(), time.Second)

	ids := make([]string, 5)
	for i := range ids {
		ids[i] = f.submit(t).ID
	}
	f.run(t)

	require.Eventually(t, func() bool { return active.Load() == 2 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, 2, active.Load())
	close(release)

	for _, id := range ids {
		f.await(t, id, model.JobStatusSucceeded)
	}
	assert.EqualValues(t, 2, peak.Load())
}

func TestDispatcher_FailsStaleRunningJobs(t *testing.T) {
	f := newFixture(t, succeed, testOptions(), time.Second)
	ctx := context.Background()
	orphan := model.NewJobExecution(oscIdentity, oscParams)
	require.NoError(t, f.repo.SaveJobExecution(ctx, orphan))
	_, err := f.repo.ClaimJobExecution(ctx, orphan.ID, time.Now().Add(-time.Hour))
	require.NoError(t, err)

	f.run(t)

	got := f.await(t, orphan.ID, model.JobStatusFailed)
	assert.Equal(t, dispatcher.PhaseHeartbeat, got.Failure.Phase)
	err = f.repo.CompleteJobExecution(ctx, orphan.ID, model.JobStatusSucceeded, nil, time.Now())
	assert.True(t, errors.Is(err, repository.ErrTerminalStateWritten))
}
