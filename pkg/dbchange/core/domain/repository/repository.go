// Package repository defines persistence of job executions.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/tigerroll/undertow/pkg/dbchange/core/domain/model"
)

var (
	// ErrJobExecutionNotFound is returned when no execution has the requested id.
	ErrJobExecutionNotFound = errors.New("job execution not found")
	// ErrTerminalStateWritten is returned when a terminal state is written for an execution that already has one.
	ErrTerminalStateWritten = errors.New("terminal state already written")
	// ErrIllegalTransition is returned when the stored status does not allow the requested change.
	ErrIllegalTransition = errors.New("illegal job status transition")
)

// JobRepository persists job executions. Every status change is a compare-and-set on the stored
// status, so concurrent dispatchers cannot both claim a job or both finish it.
type JobRepository interface {
	// SaveJobExecution stores a new execution.
	SaveJobExecution(ctx context.Context, execution *model.JobExecution) error
	// FindJobExecutionByID returns a copy of the execution.
	FindJobExecutionByID(ctx context.Context, id string) (*model.JobExecution, error)
	// FindJobExecutionsByStatus returns up to limit executions in status, oldest first. limit <= 0 means all.
	FindJobExecutionsByStatus(ctx context.Context, status model.JobStatus, limit int) ([]*model.JobExecution, error)
	// ClaimJobExecution moves a PENDING execution to RUNNING, increments its attempt and returns it.
	ClaimJobExecution(ctx context.Context, id string, at time.Time) (*model.JobExecution, error)
	// TouchJobExecution records a heartbeat of a RUNNING execution.
	TouchJobExecution(ctx context.Context, id string, at time.Time) error
	// RequeueJobExecution moves a RUNNING execution back to PENDING for a whole-job retry.
	RequeueJobExecution(ctx context.Context, id string, failure *model.Failure) error
	// CompleteJobExecution writes the terminal status of a RUNNING execution exactly once.
	CompleteJobExecution(ctx context.Context, id string, status model.JobStatus, failure *model.Failure, at time.Time) error
	// Close releases resources used by the repository.
	Close() error
}
