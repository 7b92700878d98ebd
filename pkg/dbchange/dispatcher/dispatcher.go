// Package dispatcher schedules submitted jobs onto workers, supervises them through their events
// and writes each job's terminal state exactly once.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/tigerroll/undertow/pkg/dbchange/core/config"
	"github.com/tigerroll/undertow/pkg/dbchange/core/domain/model"
	"github.com/tigerroll/undertow/pkg/dbchange/core/domain/parameter"
	"github.com/tigerroll/undertow/pkg/dbchange/core/domain/repository"
	"github.com/tigerroll/undertow/pkg/dbchange/core/env"
	"github.com/tigerroll/undertow/pkg/dbchange/core/metrics"
	"github.com/tigerroll/undertow/pkg/dbchange/engine"
	"github.com/tigerroll/undertow/pkg/dbchange/support/util/exception"
	"github.com/tigerroll/undertow/pkg/dbchange/support/util/logger"
	"github.com/tigerroll/undertow/pkg/dbchange/support/util/serialization"
)

const moduleName = "dispatcher"

// Phases reported for failures the dispatcher detects itself.
const (
	PhaseHeartbeat  = "HEARTBEAT"
	PhaseWorkerExit = "WORKER_EXIT"
	PhaseLaunch     = "LAUNCH"
)

// ErrJobNotRunning is returned by Cancel for a job this dispatcher is not running.
var ErrJobNotRunning = errors.New("job is not running")

// Options tunes a Dispatcher.
type Options struct {
	Slots            int64
	PollInterval     time.Duration
	HeartbeatTimeout time.Duration
	// JobRetryLimit bounds whole-job retries of transient failures without destructive action.
	JobRetryLimit int
	// ShutdownGrace is how long Run waits for running jobs after its context ends before canceling them.
	ShutdownGrace time.Duration
	// LostWorkerGrace is how long a worker canceled for missing its heartbeat may take to report
	// its result before the job is failed without it.
	LostWorkerGrace time.Duration
}

// OptionsFromConfig maps the dispatcher section of the configuration.
func OptionsFromConfig(cfg config.DispatcherConfig) Options {
	return Options{
		Slots:            int64(cfg.Slots),
		PollInterval:     cfg.PollIntervalDuration(),
		HeartbeatTimeout: cfg.HeartbeatTimeoutDuration(),
		JobRetryLimit:    cfg.JobRetryLimit,
		ShutdownGrace:    cfg.ShutdownGraceDuration(),
		LostWorkerGrace:  cfg.LostWorkerGraceDuration(),
	}
}

func (o *Options) applyDefaults() {
	if o.Slots <= 0 {
		o.Slots = 1
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.HeartbeatTimeout <= 0 {
		o.HeartbeatTimeout = 30 * time.Second
	}
	if o.LostWorkerGrace <= 0 {
		o.LostWorkerGrace = 10 * time.Second
	}
	if o.JobRetryLimit < 0 {
		o.JobRetryLimit = 0
	}
}

type runningJob struct {
	execution       *model.JobExecution
	handle          *Handle
	cancelRequested bool
}

// Dispatcher runs PENDING jobs from a repository on a Launcher.
type Dispatcher struct {
	repo      repository.JobRepository
	registry  *engine.Registry
	launcher  Launcher
	reporters []Reporter
	metrics   metrics.MetricRecorder
	tracer    metrics.Tracer
	masker    *serialization.Masker
	opts      Options

	slots *semaphore.Weighted
	wake  chan struct{}
	wg    sync.WaitGroup

	mu      sync.Mutex
	running map[string]*runningJob
}

// New creates a Dispatcher. Nil recorder and tracer fall back to no-ops.
func New(
	repo repository.JobRepository,
	registry *engine.Registry,
	launcher Launcher,
	opts Options,
	recorder metrics.MetricRecorder,
	tracer metrics.Tracer,
	masker *serialization.Masker,
	reporters ...Reporter,
) *Dispatcher {
	opts.applyDefaults()
	if recorder == nil {
		recorder = metrics.NewNoOpMetricRecorder()
	}
	if tracer == nil {
		tracer = metrics.NewNoOpTracer()
	}
	return &Dispatcher{
		repo:      repo,
		registry:  registry,
		launcher:  launcher,
		reporters: reporters,
		metrics:   recorder,
		tracer:    tracer,
		masker:    masker,
		opts:      opts,
		slots:     semaphore.NewWeighted(opts.Slots),
		wake:      make(chan struct{}, 1),
		running:   make(map[string]*runningJob),
	}
}

// Submit validates parameters for identity and stores a PENDING job.
// Invalid input is rejected with a configuration error and nothing is stored.
func (d *Dispatcher) Submit(ctx context.Context, identity model.JobIdentity, parameters []byte) (*model.JobExecution, error) {
	if identity.IsZero() {
		return nil, exception.NewConfigurationError(moduleName, "job identity is required", nil)
	}
	if _, err := d.registry.Validate(identity.SourceSubType(), parameters); err != nil {
		logger.Warnf("Rejected %s: %v", identity, err)
		return nil, err
	}
	if !json.Valid(parameters) {
		return nil, exception.NewConfigurationError(moduleName, "parameters are not valid JSON", nil)
	}

	execution := model.NewJobExecution(identity, string(parameters))
	if err := d.repo.SaveJobExecution(ctx, execution); err != nil {
		return nil, exception.NewJobError(moduleName, exception.KindOf(err), "failed to store job", err)
	}
	logger.Infof("Submitted job %s (%s). Parameters: %s", execution.ID, identity, d.masker.MaskJSON(parameters))
	d.Wake()
	return execution, nil
}

// Wake makes Run look for PENDING jobs without waiting for the next poll.
func (d *Dispatcher) Wake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Cancel asks a RUNNING job to stop. The job ends CANCELED once its worker reaches a safe point.
func (d *Dispatcher) Cancel(ctx context.Context, id string) error {
	d.mu.Lock()
	job, ok := d.running[id]
	if ok {
		job.cancelRequested = true
	}
	d.mu.Unlock()

	if !ok {
		status := "unknown"
		if execution, err := d.repo.FindJobExecutionByID(ctx, id); err == nil {
			status = string(execution.Status)
		}
		return fmt.Errorf("%w: %s (%s)", ErrJobNotRunning, id, status)
	}
	logger.Infof("Cancel requested for job %s.", id)
	job.handle.Cancel()
	return nil
}

// Running returns the ids of the jobs this dispatcher supervises.
func (d *Dispatcher) Running() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.running))
	for id := range d.running {
		out = append(out, id)
	}
	return out
}

// Run dispatches PENDING jobs until ctx ends, then waits up to the shutdown grace for running jobs
// before canceling them. It returns once every job it started is finished.
func (d *Dispatcher) Run(ctx context.Context) error {
	logger.Infof("Dispatcher started: %d slot(s), %s workers, poll every %s.", d.opts.Slots, d.launcher.Mode(), d.opts.PollInterval)
	jobCtx, cancelJobs := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelJobs()

	d.failStale(ctx)
	for {
		if err := d.slots.Acquire(ctx, 1); err != nil {
			break
		}
		launched, err := d.launchNext(ctx, jobCtx)
		if err != nil {
			logger.Warnf("Dispatch round failed: %v", err)
		}
		if launched {
			continue
		}
		d.slots.Release(1)

		timer := time.NewTimer(d.opts.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-d.wake:
			timer.Stop()
		case <-timer.C:
			d.failStale(ctx)
		}
		if ctx.Err() != nil {
			break
		}
	}

	d.shutdown(cancelJobs)
	return nil
}

func (d *Dispatcher) shutdown(cancelJobs context.CancelFunc) {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	if n := len(d.Running()); n > 0 {
		logger.Infof("Dispatcher stopping, waiting up to %s for %d running job(s).", d.opts.ShutdownGrace, n)
	}
	select {
	case <-done:
	case <-time.After(d.opts.ShutdownGrace):
		logger.Warnf("Shutdown grace elapsed, canceling running jobs.")
		d.mu.Lock()
		for _, job := range d.running {
			job.cancelRequested = true
		}
		d.mu.Unlock()
		cancelJobs()
		<-done
	}
	logger.Infof("Dispatcher stopped.")
}

// launchNext claims the oldest PENDING job it can and starts it. The caller holds one slot,
// which is handed over to the job when launched is true.
func (d *Dispatcher) launchNext(ctx, jobCtx context.Context) (launched bool, err error) {
	pending, err := d.repo.FindJobExecutionsByStatus(ctx, model.JobStatusPending, int(d.opts.Slots))
	if err != nil {
		return false, err
	}
	for _, candidate := range pending {
		execution, err := d.repo.ClaimJobExecution(ctx, candidate.ID, time.Now())
		if err != nil {
			// Another dispatcher won the job.
			logger.Debugf("Could not claim job %s: %v", candidate.ID, err)
			continue
		}
		d.start(jobCtx, execution)
		return true, nil
	}
	return false, nil
}

// start launches a claimed job and supervises it on its own goroutine, releasing the slot at the end.
func (d *Dispatcher) start(ctx context.Context, execution *model.JobExecution) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.slots.Release(1)
		defer d.Wake()

		spanCtx, endSpan := d.tracer.StartJobSpan(ctx, execution)
		defer endSpan()
		d.metrics.RecordJobStart(spanCtx, execution)
		d.supervise(spanCtx, execution)
	}()
}

func (d *Dispatcher) supervise(ctx context.Context, execution *model.JobExecution) {
	log := logger.With("job", execution.ID, "identity", execution.Identity.String(), "attempt", execution.Attempt)

	handle, err := d.launch(ctx, execution)
	if err != nil {
		log.Errorf("Failed to launch worker: %v", err)
		d.finish(ctx, execution, model.JobResult{
			JobID:   execution.ID,
			Status:  model.JobStatusFailed,
			Failure: model.NewFailure(exception.Annotate(moduleName, err, PhaseLaunch, "")),
		}, false)
		return
	}

	d.mu.Lock()
	d.running[execution.ID] = &runningJob{execution: execution, handle: handle}
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.running, execution.ID)
		d.mu.Unlock()
	}()
	log.Infof("Job started on %s worker.", d.launcher.Mode())

	var result *model.JobResult
	deadline := time.NewTimer(d.opts.HeartbeatTimeout)
	defer deadline.Stop()

loop:
	for {
		select {
		case ev, ok := <-handle.Events:
			if !ok {
				break loop
			}
			deadline.Reset(d.opts.HeartbeatTimeout)
			switch ev.Type {
			case EventHeartbeat:
				if err := d.repo.TouchJobExecution(ctx, execution.ID, ev.Time); err != nil {
					log.Warnf("Failed to record heartbeat: %v", err)
				}
			case EventProgress:
				if p := ev.Progress; p != nil {
					log.Debugf("Progress %s %s: %d/%d %s", p.Phase, p.Target, p.Done, p.Total, p.Message)
				}
			case EventResult:
				result = ev.Result
			}
		case <-deadline.C:
			log.Errorf("No event from worker for %s, canceling it.", d.opts.HeartbeatTimeout)
			handle.Cancel()
			d.finish(ctx, execution, d.lostWorkerResult(execution, handle, result), false)
			return
		}
	}

	if result == nil {
		d.finish(ctx, execution, model.JobResult{
			JobID:  execution.ID,
			Status: model.JobStatusFailed,
			Failure: &model.Failure{
				Kind:    exception.KindTransient,
				Phase:   PhaseWorkerExit,
				Message: "worker exited without a result",
			},
		}, false)
		return
	}
	d.finish(ctx, execution, *result, true)
}

// lostWorkerResult waits up to LostWorkerGrace for a canceled worker to stop and report. A reported
// result is kept, except that a cancellation becomes the heartbeat failure carrying the worker's
// destructive flag. Without a report the failure is marked destructive.
func (d *Dispatcher) lostWorkerResult(execution *model.JobExecution, handle *Handle, result *model.JobResult) model.JobResult {
	lost := model.JobResult{
		JobID:  execution.ID,
		Status: model.JobStatusFailed,
		Failure: &model.Failure{
			Kind:    exception.KindTransient,
			Phase:   PhaseHeartbeat,
			Message: fmt.Sprintf("no heartbeat for %s", d.opts.HeartbeatTimeout),
		},
	}

	grace := time.NewTimer(d.opts.LostWorkerGrace)
	defer grace.Stop()
wait:
	for {
		select {
		case ev, ok := <-handle.Events:
			if !ok {
				break wait
			}
			if ev.Type == EventResult && ev.Result != nil {
				result = ev.Result
			}
		case <-grace.C:
			go func() {
				for range handle.Events {
				}
			}()
			break wait
		}
	}

	if result == nil {
		lost.Failure.DestructiveActionTaken = true
		lost.Failure.Message += "; the worker did not report, its progress is unknown"
		return lost
	}
	if result.Status != model.JobStatusCanceled {
		return *result
	}
	if result.Failure != nil {
		lost.Failure.DestructiveActionTaken = result.Failure.DestructiveActionTaken
	}
	return lost
}

// launch builds the worker environment for execution and starts it.
func (d *Dispatcher) launch(ctx context.Context, execution *model.JobExecution) (*Handle, error) {
	payload, err := parameter.EncodePayload(parameter.TaskPayload{
		JobID:      execution.ID,
		Identity:   execution.Identity,
		Attempt:    execution.Attempt,
		FireTime:   execution.CreateTime,
		Parameters: json.RawMessage(execution.Payload),
	})
	if err != nil {
		return nil, err
	}
	environment, err := env.New(map[string]string{
		env.KeyTaskParameter: payload,
		env.KeyDeployMode:    string(d.launcher.Mode()),
		env.KeyBootMode:      string(env.BootModeTaskWorker),
	})
	if err != nil {
		return nil, err
	}
	return d.launcher.Launch(ctx, environment)
}

// finish stores the outcome of an attempt. A retryable failure reported by the worker goes back to
// PENDING while retries remain; everything else is written as the terminal state and reported.
// Failures the dispatcher synthesizes are never retried because the worker's progress is unknown.
func (d *Dispatcher) finish(ctx context.Context, execution *model.JobExecution, result model.JobResult, fromWorker bool) {
	ctx = context.WithoutCancel(ctx)
	log := logger.With("job", execution.ID, "identity", execution.Identity.String(), "attempt", execution.Attempt)

	d.mu.Lock()
	if job, ok := d.running[execution.ID]; ok && job.cancelRequested && result.Status != model.JobStatusCanceled {
		log.Infof("Cancel was requested but the worker finished with %s before reaching a safe point.", result.Status)
	}
	d.mu.Unlock()

	if result.Failure != nil {
		d.tracer.RecordError(ctx, moduleName, errors.New(result.Failure.String()))
	}

	if fromWorker && result.Status == model.JobStatusFailed && result.Failure.Retryable() && execution.Attempt <= d.opts.JobRetryLimit {
		if err := d.repo.RequeueJobExecution(ctx, execution.ID, result.Failure); err != nil {
			log.Errorf("Failed to requeue job: %v", err)
		} else {
			log.Warnf("Job attempt failed with a retryable failure, requeued (%d of %d retries): %s", execution.Attempt, d.opts.JobRetryLimit, result.Failure)
			requeued := execution.Clone()
			requeued.Status = model.JobStatusPending
			requeued.Failure = result.Failure
			d.metrics.RecordJobEnd(ctx, requeued)
			return
		}
	}

	now := time.Now()
	if err := d.repo.CompleteJobExecution(ctx, execution.ID, result.Status, result.Failure, now); err != nil {
		if errors.Is(err, repository.ErrTerminalStateWritten) {
			log.Warnf("Terminal state already written, dropping %s: %v", result.Status, err)
			return
		}
		log.Errorf("Failed to store terminal state %s: %v", result.Status, err)
		return
	}

	final := execution.Clone()
	final.Status = result.Status
	final.Failure = result.Failure
	final.EndTime = &now
	for _, r := range d.reporters {
		r.Report(ctx, final)
	}
}

// failStale fails RUNNING jobs that nobody supervises and whose last heartbeat is older than
// the heartbeat timeout, such as jobs of a dispatcher that crashed.
func (d *Dispatcher) failStale(ctx context.Context) {
	running, err := d.repo.FindJobExecutionsByStatus(ctx, model.JobStatusRunning, 0)
	if err != nil {
		logger.Warnf("Failed to list running jobs: %v", err)
		return
	}
	now := time.Now()
	for _, execution := range running {
		d.mu.Lock()
		_, mine := d.running[execution.ID]
		d.mu.Unlock()
		if mine {
			continue
		}
		last := execution.LastHeartbeat
		if last == nil {
			last = execution.StartTime
		}
		if last != nil && now.Sub(*last) <= d.opts.HeartbeatTimeout {
			continue
		}
		logger.Warnf("Job %s has no live worker, marking it FAILED.", execution.ID)
		d.finish(ctx, execution, model.JobResult{
			JobID:  execution.ID,
			Status: model.JobStatusFailed,
			Failure: &model.Failure{
				Kind:    exception.KindTransient,
				Phase:   PhaseHeartbeat,
				Message: "worker lost before its result was stored",
			},
		}, false)
	}
}
