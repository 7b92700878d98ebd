// Package sql persists job executions in a relational database through GORM.
// Status changes are conditional updates on the stored status, and every successful change
// bumps the version column.
package sql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/tigerroll/undertow/pkg/dbchange/adapter/database"
	"github.com/tigerroll/undertow/pkg/dbchange/core/domain/model"
	"github.com/tigerroll/undertow/pkg/dbchange/core/domain/repository"
	"github.com/tigerroll/undertow/pkg/dbchange/support/util/exception"
)

const moduleName = "repository"

// SQLJobRepository implements repository.JobRepository on a *gorm.DB.
type SQLJobRepository struct {
	db *gorm.DB
}

var _ repository.JobRepository = (*SQLJobRepository)(nil)

// NewSQLJobRepository wraps db. The job table must already exist (see Migrate).
func NewSQLJobRepository(db *gorm.DB) *SQLJobRepository {
	return &SQLJobRepository{db: db}
}

func (r *SQLJobRepository) SaveJobExecution(ctx context.Context, execution *model.JobExecution) error {
	entity, err := toEntity(execution)
	if err != nil {
		return exception.NewJobError(moduleName, exception.KindFatal, "failed to map job execution", err)
	}
	if err := r.db.WithContext(ctx).Create(entity).Error; err != nil {
		return database.Classify(fmt.Errorf("failed to save job execution %s: %w", execution.ID, err))
	}
	return nil
}

func (r *SQLJobRepository) FindJobExecutionByID(ctx context.Context, id string) (*model.JobExecution, error) {
	var entity JobExecutionEntity
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&entity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, repository.ErrJobExecutionNotFound
	}
	if err != nil {
		return nil, database.Classify(fmt.Errorf("failed to find job execution %s: %w", id, err))
	}
	return toModel(&entity)
}

func (r *SQLJobRepository) FindJobExecutionsByStatus(ctx context.Context, status model.JobStatus, limit int) ([]*model.JobExecution, error) {
	var entities []JobExecutionEntity
	q := r.db.WithContext(ctx).Where("status = ?", string(status)).Order("create_time ASC").Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&entities).Error; err != nil {
		return nil, database.Classify(fmt.Errorf("failed to list %s job executions: %w", status, err))
	}
	out := make([]*model.JobExecution, 0, len(entities))
	for i := range entities {
		je, err := toModel(&entities[i])
		if err != nil {
			return nil, err
		}
		out = append(out, je)
	}
	return out, nil
}

// transition updates the row of id when its stored status is from.
func (r *SQLJobRepository) transition(ctx context.Context, id string, from model.JobStatus, values map[string]interface{}) error {
	values["version"] = gorm.Expr("version + 1")
	res := r.db.WithContext(ctx).
		Model(&JobExecutionEntity{}).
		Where("id = ? AND status = ?", id, string(from)).
		Updates(values)
	if res.Error != nil {
		return database.Classify(fmt.Errorf("failed to update job execution %s: %w", id, res.Error))
	}
	if res.RowsAffected > 0 {
		return nil
	}

	current, err := r.FindJobExecutionByID(ctx, id)
	if err != nil {
		return err
	}
	if current.Status.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", repository.ErrTerminalStateWritten, id, current.Status)
	}
	return fmt.Errorf("%w: %s is %s, expected %s", repository.ErrIllegalTransition, id, current.Status, from)
}

func (r *SQLJobRepository) ClaimJobExecution(ctx context.Context, id string, at time.Time) (*model.JobExecution, error) {
	at = at.UTC()
	err := r.transition(ctx, id, model.JobStatusPending, map[string]interface{}{
		"status":         string(model.JobStatusRunning),
		"attempt":        gorm.Expr("attempt + 1"),
		"start_time":     at,
		"last_heartbeat": at,
		"end_time":       nil,
	})
	if err != nil {
		return nil, err
	}
	return r.FindJobExecutionByID(ctx, id)
}

func (r *SQLJobRepository) TouchJobExecution(ctx context.Context, id string, at time.Time) error {
	return r.transition(ctx, id, model.JobStatusRunning, map[string]interface{}{
		"last_heartbeat": at.UTC(),
	})
}

func (r *SQLJobRepository) RequeueJobExecution(ctx context.Context, id string, failure *model.Failure) error {
	col, err := failureColumn(failure)
	if err != nil {
		return err
	}
	return r.transition(ctx, id, model.JobStatusRunning, map[string]interface{}{
		"status":  string(model.JobStatusPending),
		"failure": col,
	})
}

func (r *SQLJobRepository) CompleteJobExecution(ctx context.Context, id string, status model.JobStatus, failure *model.Failure, at time.Time) error {
	if !status.IsTerminal() {
		return fmt.Errorf("%w: %s is not terminal", repository.ErrIllegalTransition, status)
	}
	col, err := failureColumn(failure)
	if err != nil {
		return err
	}
	return r.transition(ctx, id, model.JobStatusRunning, map[string]interface{}{
		"status":   string(status),
		"failure":  col,
		"end_time": at.UTC(),
	})
}

// Close is a no-op; the connection belongs to the database provider.
func (r *SQLJobRepository) Close() error {
	return nil
}
