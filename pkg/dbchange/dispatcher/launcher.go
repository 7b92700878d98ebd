package dispatcher

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/tigerroll/undertow/pkg/dbchange/core/env"
	"github.com/tigerroll/undertow/pkg/dbchange/support/util/logger"
)

// Handle controls a launched worker.
type Handle struct {
	// Events delivers the worker's events and is closed once the worker has exited.
	Events <-chan Event
	cancel context.CancelFunc
}

// NewHandle creates a Handle from an event channel and the function that asks the worker to stop.
func NewHandle(events <-chan Event, cancel context.CancelFunc) *Handle {
	return &Handle{Events: events, cancel: cancel}
}

// Cancel asks the worker to stop at its next safe point. It does not wait.
func (h *Handle) Cancel() {
	if h.cancel != nil {
		h.cancel()
	}
}

// Launcher starts workers.
type Launcher interface {
	// Mode is the deploy mode passed to workers in their environment.
	Mode() env.DeployMode
	// Launch starts a worker for environment. Canceling ctx has the same effect as Handle.Cancel.
	Launch(ctx context.Context, environment env.Environment) (*Handle, error)
}

// eventBuffer is the capacity of a launcher's event channel.
const eventBuffer = 64

// ThreadLauncher runs workers as goroutines of the dispatcher process.
type ThreadLauncher struct {
	worker *Worker
}

// NewThreadLauncher creates a ThreadLauncher running jobs on worker.
func NewThreadLauncher(worker *Worker) *ThreadLauncher {
	return &ThreadLauncher{worker: worker}
}

// Mode returns THREAD.
func (l *ThreadLauncher) Mode() env.DeployMode { return env.DeployModeThread }

// Launch runs the worker on a new goroutine. Cancel on the returned handle cancels its context.
func (l *ThreadLauncher) Launch(ctx context.Context, environment env.Environment) (*Handle, error) {
	runCtx, cancel := context.WithCancel(ctx)
	events := make(chan Event, eventBuffer)
	go func() {
		defer close(events)
		defer cancel()
		l.worker.Execute(runCtx, environment, func(ev Event) { events <- ev })
	}()
	return NewHandle(events, cancel), nil
}

// ProcessLauncher runs every worker as a child process of Binary with Args,
// reading events as JSON lines from its stdout. The child's stderr is passed through.
type ProcessLauncher struct {
	Binary string
	Args   []string
	// Env is appended to the dispatcher's own environment and the job environment.
	Env []string
	// Grace is how long a canceled child may take to stop before it is killed.
	Grace time.Duration
}

// NewProcessLauncher creates a ProcessLauncher. An empty binary means the running executable.
func NewProcessLauncher(binary string, grace time.Duration) (*ProcessLauncher, error) {
	if binary == "" {
		self, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve worker binary: %w", err)
		}
		binary = self
	}
	return &ProcessLauncher{Binary: binary, Args: []string{"worker"}, Grace: grace}, nil
}

// Mode returns PROCESS.
func (l *ProcessLauncher) Mode() env.DeployMode { return env.DeployModeProcess }

// Launch starts the worker binary with environment added to the process environment and streams
// its stdout events. Cancel interrupts the process.
func (l *ProcessLauncher) Launch(ctx context.Context, environment env.Environment) (*Handle, error) {
	runCtx, cancel := context.WithCancel(ctx)

	cmd := exec.CommandContext(runCtx, l.Binary, l.Args...)
	cmd.Env = append(append(os.Environ(), l.Env...), environment.Environ()...)
	cmd.Stderr = os.Stderr
	// A canceled worker gets an interrupt so that it can stop at a safe point.
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = l.Grace

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open worker stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start worker %s: %w", l.Binary, err)
	}
	logger.Debugf("Started worker process %d (%s).", cmd.Process.Pid, l.Binary)

	events := make(chan Event, eventBuffer)
	go func() {
		defer close(events)
		defer cancel()
		if err := ReadEvents(stdout, func(ev Event) { events <- ev }); err != nil {
			logger.Warnf("Reading events of worker process %d: %v", cmd.Process.Pid, err)
		}
		if err := cmd.Wait(); err != nil {
			logger.Warnf("Worker process %d exited: %v", cmd.Process.Pid, err)
		}
	}()
	return NewHandle(events, cancel), nil
}
