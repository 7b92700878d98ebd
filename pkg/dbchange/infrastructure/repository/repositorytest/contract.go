// Package repositorytest holds the behavior every JobRepository implementation must show.
package repositorytest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/undertow/pkg/dbchange/core/domain/model"
	"github.com/tigerroll/undertow/pkg/dbchange/core/domain/repository"
	"github.com/tigerroll/undertow/pkg/dbchange/support/util/exception"
)

var base = time.Date(2026, 1, 20, 9, 0, 0, 0, time.UTC)

func newExecution(sourceID int64, created time.Time) *model.JobExecution {
	je := model.NewJobExecution(model.MustJobIdentity(sourceID, model.SourceTypeTaskTask, model.SubTypeDataArchive), `{"a":1}`)
	je.CreateTime = created
	return je
}

// Run exercises repo through the full job lifecycle. newRepo must return an empty repository.
func Run(t *testing.T, newRepo func(t *testing.T) repository.JobRepository) {
	t.Run("SaveAndFind", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		je := newExecution(1, base)
		require.NoError(t, repo.SaveJobExecution(ctx, je))
		assert.Error(t, repo.SaveJobExecution(ctx, je))

		got, err := repo.FindJobExecutionByID(ctx, je.ID)
		require.NoError(t, err)
		assert.Equal(t, je.ID, got.ID)
		assert.Equal(t, je.Identity, got.Identity)
		assert.Equal(t, `{"a":1}`, got.Payload)
		assert.Equal(t, model.JobStatusPending, got.Status)
		assert.Nil(t, got.Failure)
		assert.WithinDuration(t, base, got.CreateTime, time.Millisecond)

		_, err = repo.FindJobExecutionByID(ctx, "missing")
		assert.ErrorIs(t, err, repository.ErrJobExecutionNotFound)
	})

	t.Run("FindByStatusOldestFirst", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		third := newExecution(3, base.Add(2*time.Minute))
		first := newExecution(1, base)
		second := newExecution(2, base.Add(time.Minute))
		for _, je := range []*model.JobExecution{third, first, second} {
			require.NoError(t, repo.SaveJobExecution(ctx, je))
		}
		_, err := repo.ClaimJobExecution(ctx, second.ID, base)
		require.NoError(t, err)

		pending, err := repo.FindJobExecutionsByStatus(ctx, model.JobStatusPending, 0)
		require.NoError(t, err)
		require.Len(t, pending, 2)
		assert.Equal(t, first.ID, pending[0].ID)
		assert.Equal(t, third.ID, pending[1].ID)

		limited, err := repo.FindJobExecutionsByStatus(ctx, model.JobStatusPending, 1)
		require.NoError(t, err)
		require.Len(t, limited, 1)
		assert.Equal(t, first.ID, limited[0].ID)
	})

	t.Run("Lifecycle", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		je := newExecution(7, base)
		require.NoError(t, repo.SaveJobExecution(ctx, je))

		claimed, err := repo.ClaimJobExecution(ctx, je.ID, base.Add(time.Second))
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusRunning, claimed.Status)
		assert.Equal(t, 1, claimed.Attempt)
		assert.Equal(t, je.Version+1, claimed.Version)
		require.NotNil(t, claimed.StartTime)

		_, err = repo.ClaimJobExecution(ctx, je.ID, base)
		assert.ErrorIs(t, err, repository.ErrIllegalTransition)

		require.NoError(t, repo.TouchJobExecution(ctx, je.ID, base.Add(5*time.Second)))
		got, err := repo.FindJobExecutionByID(ctx, je.ID)
		require.NoError(t, err)
		require.NotNil(t, got.LastHeartbeat)
		assert.WithinDuration(t, base.Add(5*time.Second), *got.LastHeartbeat, time.Millisecond)

		transient := &model.Failure{Kind: exception.KindTransient, Phase: "READ", Target: "orders", Message: "lock wait timeout"}
		require.NoError(t, repo.RequeueJobExecution(ctx, je.ID, transient))
		got, err = repo.FindJobExecutionByID(ctx, je.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusPending, got.Status)
		require.NotNil(t, got.Failure)
		assert.Equal(t, *transient, *got.Failure)
		assert.ErrorIs(t, repo.TouchJobExecution(ctx, je.ID, base), repository.ErrIllegalTransition)

		claimed, err = repo.ClaimJobExecution(ctx, je.ID, base.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 2, claimed.Attempt)

		assert.ErrorIs(t, repo.CompleteJobExecution(ctx, je.ID, model.JobStatusPending, nil, base), repository.ErrIllegalTransition)
		require.NoError(t, repo.CompleteJobExecution(ctx, je.ID, model.JobStatusSucceeded, nil, base.Add(2*time.Minute)))

		got, err = repo.FindJobExecutionByID(ctx, je.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusSucceeded, got.Status)
		assert.Nil(t, got.Failure)
		require.NotNil(t, got.EndTime)

		fatal := &model.Failure{Kind: exception.KindFatal, Message: "late"}
		err = repo.CompleteJobExecution(ctx, je.ID, model.JobStatusFailed, fatal, base.Add(3*time.Minute))
		assert.ErrorIs(t, err, repository.ErrTerminalStateWritten)
		assert.ErrorIs(t, repo.TouchJobExecution(ctx, je.ID, base), repository.ErrTerminalStateWritten)

		got, err = repo.FindJobExecutionByID(ctx, je.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusSucceeded, got.Status)
	})

	t.Run("PendingCannotComplete", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		je := newExecution(8, base)
		require.NoError(t, repo.SaveJobExecution(ctx, je))
		err := repo.CompleteJobExecution(ctx, je.ID, model.JobStatusCanceled, nil, base)
		assert.ErrorIs(t, err, repository.ErrIllegalTransition)
		assert.ErrorIs(t, repo.CompleteJobExecution(ctx, "missing", model.JobStatusFailed, nil, base), repository.ErrJobExecutionNotFound)
	})

	t.Run("ConcurrentClaimHasOneWinner", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		je := newExecution(9, base)
		require.NoError(t, repo.SaveJobExecution(ctx, je))

		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := repo.ClaimJobExecution(ctx, je.ID, base); err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, wins)

		got, err := repo.FindJobExecutionByID(ctx, je.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, got.Attempt)
	})
}
