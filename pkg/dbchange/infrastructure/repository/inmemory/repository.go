// Package inmemory provides an in-memory JobRepository, suitable for tests and single-process runs.
package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tigerroll/undertow/pkg/dbchange/core/domain/model"
	"github.com/tigerroll/undertow/pkg/dbchange/core/domain/repository"
)

// InMemoryJobRepository holds executions in a map.
type InMemoryJobRepository struct {
	jobExecutions map[string]*model.JobExecution
	mu            sync.RWMutex
}

var _ repository.JobRepository = (*InMemoryJobRepository)(nil)

// NewInMemoryJobRepository creates an empty repository.
func NewInMemoryJobRepository() *InMemoryJobRepository {
	return &InMemoryJobRepository{jobExecutions: make(map[string]*model.JobExecution)}
}

// SaveJobExecution persists a new JobExecution.
// It returns an error if a JobExecution with the same ID already exists.
func (r *InMemoryJobRepository) SaveJobExecution(_ context.Context, execution *model.JobExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobExecutions[execution.ID]; exists {
		return fmt.Errorf("JobExecution with ID %s already exists", execution.ID)
	}
	r.jobExecutions[execution.ID] = execution.Clone()
	return nil
}

func (r *InMemoryJobRepository) FindJobExecutionByID(_ context.Context, id string) (*model.JobExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	je, ok := r.jobExecutions[id]
	if !ok {
		return nil, repository.ErrJobExecutionNotFound
	}
	return je.Clone(), nil
}

func (r *InMemoryJobRepository) FindJobExecutionsByStatus(_ context.Context, status model.JobStatus, limit int) ([]*model.JobExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*model.JobExecution
	for _, je := range r.jobExecutions {
		if je.Status == status {
			out = append(out, je.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreateTime.Equal(out[j].CreateTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreateTime.Before(out[j].CreateTime)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// transition applies fn to the stored execution when its status is from.
func (r *InMemoryJobRepository) transition(id string, from model.JobStatus, fn func(je *model.JobExecution)) (*model.JobExecution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	je, ok := r.jobExecutions[id]
	if !ok {
		return nil, repository.ErrJobExecutionNotFound
	}
	if je.Status != from {
		if je.Status.IsTerminal() {
			return nil, fmt.Errorf("%w: %s is %s", repository.ErrTerminalStateWritten, id, je.Status)
		}
		return nil, fmt.Errorf("%w: %s is %s, expected %s", repository.ErrIllegalTransition, id, je.Status, from)
	}
	fn(je)
	je.Version++
	return je.Clone(), nil
}

func (r *InMemoryJobRepository) ClaimJobExecution(_ context.Context, id string, at time.Time) (*model.JobExecution, error) {
	return r.transition(id, model.JobStatusPending, func(je *model.JobExecution) {
		je.Status = model.JobStatusRunning
		je.Attempt++
		je.StartTime = &at
		je.LastHeartbeat = &at
		je.EndTime = nil
	})
}

func (r *InMemoryJobRepository) TouchJobExecution(_ context.Context, id string, at time.Time) error {
	_, err := r.transition(id, model.JobStatusRunning, func(je *model.JobExecution) {
		je.LastHeartbeat = &at
	})
	return err
}

func (r *InMemoryJobRepository) RequeueJobExecution(_ context.Context, id string, failure *model.Failure) error {
	_, err := r.transition(id, model.JobStatusRunning, func(je *model.JobExecution) {
		je.Status = model.JobStatusPending
		je.Failure = failure
	})
	return err
}

func (r *InMemoryJobRepository) CompleteJobExecution(_ context.Context, id string, status model.JobStatus, failure *model.Failure, at time.Time) error {
	if !status.IsTerminal() {
		return fmt.Errorf("%w: %s is not terminal", repository.ErrIllegalTransition, status)
	}
	_, err := r.transition(id, model.JobStatusRunning, func(je *model.JobExecution) {
		je.Status = status
		je.Failure = failure
		je.EndTime = &at
	})
	return err
}

// Close holds no resources.
func (r *InMemoryJobRepository) Close() error {
	return nil
}
