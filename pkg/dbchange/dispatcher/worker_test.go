package dispatcher_test

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/undertow/pkg/dbchange/core/domain/model"
	"github.com/tigerroll/undertow/pkg/dbchange/core/domain/parameter"
	"github.com/tigerroll/undertow/pkg/dbchange/core/env"
	"github.com/tigerroll/undertow/pkg/dbchange/dispatcher"
	"github.com/tigerroll/undertow/pkg/dbchange/engine"
	"github.com/tigerroll/undertow/pkg/dbchange/support/util/exception"
)

const helperEnv = "UNDERTOW_WANT_HELPER_PROCESS"

func workerEnv(t *testing.T, mode env.DeployMode, params string) env.Environment {
	t.Helper()
	payload, err := parameter.EncodePayload(parameter.TaskPayload{
		JobID:      "job-1",
		Identity:   oscIdentity,
		Attempt:    1,
		FireTime:   time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC),
		Parameters: json.RawMessage(params),
	})
	require.NoError(t, err)
	environment, err := env.New(map[string]string{
		env.KeyTaskParameter: payload,
		env.KeyDeployMode:    string(mode),
	})
	require.NoError(t, err)
	return environment
}

type collector struct {
	mu     sync.Mutex
	events []dispatcher.Event
}

func (c *collector) emit(ev dispatcher.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func registryWith(e engine.EngineFunc) *engine.Registry {
	r := engine.NewRegistry()
	r.Register(model.SubTypeOnlineSchemaChange, e)
	return r
}

func TestWorker_ReportsProgressAndResult(t *testing.T) {
	w := dispatcher.NewWorker(registryWith(func(_ context.Context, job engine.Job) (string, error) {
		assert.Equal(t, time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC), job.FireTime)
		job.Report(engine.Progress{Phase: "SHADOW_TABLE_CREATED", Target: "t1"})
		return "applied", nil
	}), time.Hour)

	var c collector
	res := w.Execute(context.Background(), workerEnv(t, env.DeployModeThread, oscParams), c.emit)

	assert.Equal(t, model.JobStatusSucceeded, res.Status)
	assert.Equal(t, "applied", res.Summary)
	require.Len(t, c.events, 2)
	assert.Equal(t, dispatcher.EventProgress, c.events[0].Type)
	assert.Equal(t, "t1", c.events[0].Progress.Target)
	assert.Equal(t, dispatcher.EventResult, c.events[1].Type)
	assert.Equal(t, "job-1", c.events[1].JobID)
}

func TestWorker_InvalidPayload(t *testing.T) {
	w := dispatcher.NewWorker(registryWith(succeed), time.Hour)
	environment, err := env.New(map[string]string{env.KeyTaskParameter: "{not json"})
	require.NoError(t, err)

	var c collector
	res := w.Execute(context.Background(), environment, c.emit)
	assert.Equal(t, model.JobStatusFailed, res.Status)
	assert.Equal(t, exception.KindConfiguration, res.Failure.Kind)
	require.Len(t, c.events, 1)
	assert.Equal(t, dispatcher.EventResult, c.events[0].Type)

	res = w.Execute(context.Background(), workerEnv(t, env.DeployModeThread, `{"sqlType":"DROP"}`), c.emit)
	assert.Equal(t, exception.KindConfiguration, res.Failure.Kind)
}

func TestWorker_EnginePanicIsFatal(t *testing.T) {
	w := dispatcher.NewWorker(registryWith(func(context.Context, engine.Job) (string, error) {
		panic("boom")
	}), time.Hour)
	var c collector
	res := w.Execute(context.Background(), workerEnv(t, env.DeployModeThread, oscParams), c.emit)
	assert.Equal(t, model.JobStatusFailed, res.Status)
	assert.Equal(t, exception.KindFatal, res.Failure.Kind)
	assert.Contains(t, res.Failure.Message, "boom")
}

func TestWorker_Heartbeats(t *testing.T) {
	w := dispatcher.NewWorker(registryWith(func(context.Context, engine.Job) (string, error) {
		time.Sleep(120 * time.Millisecond)
		return "ok", nil
	}), 20*time.Millisecond)
	var c collector
	w.Execute(context.Background(), workerEnv(t, env.DeployModeThread, oscParams), c.emit)

	heartbeats := 0
	for _, ev := range c.events {
		if ev.Type == dispatcher.EventHeartbeat {
			heartbeats++
		}
	}
	assert.GreaterOrEqual(t, heartbeats, 2)
	assert.Equal(t, dispatcher.EventResult, c.events[len(c.events)-1].Type)
}

func TestEventWriterAndReader(t *testing.T) {
	var buf bytes.Buffer
	w := dispatcher.NewEventWriter(&buf)
	require.NoError(t, w.Write(dispatcher.Event{Type: dispatcher.EventHeartbeat, JobID: "j"}))
	buf.WriteString("some stray output\n\n{\"unrelated\":true}\n")
	require.NoError(t, w.Write(dispatcher.Event{Type: dispatcher.EventResult, JobID: "j", Result: &model.JobResult{JobID: "j", Status: model.JobStatusSucceeded}}))

	var got []dispatcher.Event
	require.NoError(t, dispatcher.ReadEvents(strings.NewReader(buf.String()), func(ev dispatcher.Event) { got = append(got, ev) }))
	require.Len(t, got, 2)
	assert.Equal(t, dispatcher.EventHeartbeat, got[0].Type)
	assert.Equal(t, model.JobStatusSucceeded, got[1].Result.Status)
}

// TestHelperProcess is the worker process started by TestProcessLauncher.
func TestHelperProcess(t *testing.T) {
	if os.Getenv(helperEnv) != "1" {
		return
	}
	environment, err := env.FromOS()
	if err != nil {
		os.Exit(2)
	}
	w := dispatcher.NewWorker(registryWith(func(ctx context.Context, job engine.Job) (string, error) {
		job.Report(engine.Progress{Phase: "DATA_SYNCING", Done: 3, Total: 3})
		if strings.Contains(job.Parameters.(*parameter.OnlineSchemaChangeParameters).SqlContent, "wait") {
			<-ctx.Done()
			return "", exception.NewJobError("osc", exception.KindCanceled, "interrupted", ctx.Err())
		}
		return "helper " + string(environment.DeployMode()), nil
	}), time.Hour)
	out := dispatcher.NewEventWriter(os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	w.Execute(ctx, environment, func(ev dispatcher.Event) { _ = out.Write(ev) })
	os.Exit(0)
}

func helperLauncher() *dispatcher.ProcessLauncher {
	return &dispatcher.ProcessLauncher{
		Binary: os.Args[0],
		Args:   []string{"-test.run=^TestHelperProcess$"},
		Env:    []string{helperEnv + "=1"},
		Grace:  5 * time.Second,
	}
}

func drain(h *dispatcher.Handle) []dispatcher.Event {
	var events []dispatcher.Event
	for ev := range h.Events {
		events = append(events, ev)
	}
	return events
}

func TestProcessLauncher(t *testing.T) {
	l := helperLauncher()
	assert.Equal(t, env.DeployModeProcess, l.Mode())

	h, err := l.Launch(context.Background(), workerEnv(t, env.DeployModeProcess, oscParams))
	require.NoError(t, err)
	events := drain(h)

	require.GreaterOrEqual(t, len(events), 2)
	assert.Equal(t, dispatcher.EventProgress, events[0].Type)
	last := events[len(events)-1]
	require.Equal(t, dispatcher.EventResult, last.Type)
	assert.Equal(t, model.JobStatusSucceeded, last.Result.Status)
	assert.Equal(t, "helper PROCESS", last.Result.Summary)
}

func TestProcessLauncher_CancelInterruptsWorker(t *testing.T) {
	h, err := helperLauncher().Launch(context.Background(),
		workerEnv(t, env.DeployModeProcess, `{"sqlContent":"wait","sqlType":"ALTER","dataSourceName":"main"}`))
	require.NoError(t, err)

	first := <-h.Events
	assert.Equal(t, dispatcher.EventProgress, first.Type)
	h.Cancel()
	events := drain(h)

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	require.Equal(t, dispatcher.EventResult, last.Type)
	assert.Equal(t, model.JobStatusCanceled, last.Result.Status)
}
