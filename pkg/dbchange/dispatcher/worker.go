package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/tigerroll/undertow/pkg/dbchange/core/domain/model"
	"github.com/tigerroll/undertow/pkg/dbchange/core/domain/parameter"
	"github.com/tigerroll/undertow/pkg/dbchange/core/env"
	"github.com/tigerroll/undertow/pkg/dbchange/engine"
	"github.com/tigerroll/undertow/pkg/dbchange/support/util/exception"
	"github.com/tigerroll/undertow/pkg/dbchange/support/util/logger"
)

// Worker runs a single job described by an Environment and reports through events.
// The same Worker backs the in-process launcher and the `undertow worker` command.
type Worker struct {
	registry  *engine.Registry
	heartbeat time.Duration
}

// NewWorker creates a Worker. heartbeat is the interval of liveness events.
func NewWorker(registry *engine.Registry, heartbeat time.Duration) *Worker {
	if heartbeat <= 0 {
		heartbeat = 2 * time.Second
	}
	return &Worker{registry: registry, heartbeat: heartbeat}
}

// Execute decodes the task payload, runs the engine selected by the job's sub-type and returns its result.
// emit receives heartbeat and progress events while the engine runs and the result event last.
// emit may be called from several goroutines.
func (w *Worker) Execute(ctx context.Context, environment env.Environment, emit func(Event)) model.JobResult {
	payload, err := parameter.DecodePayload(environment.TaskParameter())
	if err != nil {
		res := resultOf("", "", err)
		emit(Event{Type: EventResult, Time: time.Now(), Result: &res})
		return res
	}
	log := logger.With("job", payload.JobID, "identity", payload.Identity.String(), "attempt", payload.Attempt)

	subType := payload.Identity.SourceSubType()
	params, err := w.registry.Validate(subType, payload.Parameters)
	if err != nil {
		res := resultOf(payload.JobID, "", err)
		emit(Event{Type: EventResult, JobID: payload.JobID, Time: time.Now(), Result: &res})
		return res
	}
	eng, err := w.registry.Lookup(subType)
	if err != nil {
		res := resultOf(payload.JobID, "", err)
		emit(Event{Type: EventResult, JobID: payload.JobID, Time: time.Now(), Result: &res})
		return res
	}

	hbCtx, stopHeartbeat := context.WithCancel(context.Background())
	hbDone := make(chan struct{})
	go func() {
		defer close(hbDone)
		ticker := time.NewTicker(w.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case t := <-ticker.C:
				emit(Event{Type: EventHeartbeat, JobID: payload.JobID, Time: t})
			}
		}
	}()

	job := engine.Job{
		ID:         payload.JobID,
		Identity:   payload.Identity,
		Attempt:    payload.Attempt,
		FireTime:   payload.FireTime,
		Parameters: params,
		Progress: func(p engine.Progress) {
			emit(Event{Type: EventProgress, JobID: payload.JobID, Time: time.Now(), Progress: &p})
		},
	}
	log.Infof("Worker starting %s engine (deploy mode %s).", subType, environment.DeployMode())
	summary, runErr := runEngine(ctx, eng, job)

	stopHeartbeat()
	<-hbDone

	res := resultOf(payload.JobID, summary, runErr)
	if res.Failure != nil {
		log.Warnf("Worker finished with %s: %s", res.Status, res.Failure)
	} else {
		log.Infof("Worker finished with %s: %s", res.Status, summary)
	}
	emit(Event{Type: EventResult, JobID: payload.JobID, Time: time.Now(), Result: &res})
	return res
}

// runEngine turns an engine panic into a fatal error so that the worker still reports a result.
func runEngine(ctx context.Context, eng engine.Engine, job engine.Job) (summary string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = exception.NewJobError(moduleName, exception.KindFatal, fmt.Sprintf("engine panicked: %v", r), nil)
		}
	}()
	return eng.Run(ctx, job)
}

// resultOf maps an engine outcome to a JobResult. Canceled failures become CANCELED.
func resultOf(jobID, summary string, err error) model.JobResult {
	if err == nil {
		return model.JobResult{JobID: jobID, Status: model.JobStatusSucceeded, Summary: summary}
	}
	failure := model.NewFailure(err)
	status := model.JobStatusFailed
	if failure.Kind == exception.KindCanceled {
		status = model.JobStatusCanceled
	}
	return model.JobResult{JobID: jobID, Status: status, Failure: failure, Summary: summary}
}
