package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tigerroll/undertow/pkg/dbchange/engine/retry"
	"github.com/tigerroll/undertow/pkg/dbchange/support/util/exception"
)

func transient() error {
	return exception.NewJobError("test", exception.KindTransient, "lock wait timeout", nil)
}

func TestBackoffInterval(t *testing.T) {
	p := retry.NewPolicy(retry.Settings{MaxAttempts: 5, InitialInterval: 100 * time.Millisecond, MaxInterval: 300 * time.Millisecond, Factor: 2})
	assert.Equal(t, 100*time.Millisecond, p.GetBackoffInterval(1))
	assert.Equal(t, 200*time.Millisecond, p.GetBackoffInterval(2))
	assert.Equal(t, 300*time.Millisecond, p.GetBackoffInterval(3))
	assert.Equal(t, 5, p.GetMaxAttempts())
	assert.Equal(t, 1, retry.NewPolicy(retry.Settings{}).GetMaxAttempts())
}

func TestShouldRetry(t *testing.T) {
	p := retry.NewPolicy(retry.Settings{MaxAttempts: 3, RetryableExceptions: []string{"context.DeadlineExceeded"}})
	assert.True(t, p.ShouldRetry(transient()))
	assert.True(t, p.ShouldRetry(context.DeadlineExceeded))
	assert.False(t, p.ShouldRetry(exception.NewJobError("test", exception.KindData, "duplicate", nil)))
	assert.False(t, p.ShouldRetry(context.Canceled))
	assert.False(t, p.ShouldRetry(nil))
}

func TestDo(t *testing.T) {
	p := retry.NewPolicy(retry.Settings{MaxAttempts: 3, InitialInterval: time.Millisecond, Factor: 1})

	calls := 0
	err := retry.Do(context.Background(), p, "write", func(int) error {
		calls++
		if calls < 3 {
			return transient()
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = retry.Do(context.Background(), p, "write", func(int) error {
		calls++
		return transient()
	})
	assert.True(t, exception.IsTemporary(err))
	assert.Equal(t, 3, calls)

	calls = 0
	fatal := errors.New("syntax error")
	err = retry.Do(context.Background(), p, "write", func(int) error {
		calls++
		return fatal
	})
	assert.Equal(t, fatal, err)
	assert.Equal(t, 1, calls)
}

func TestDo_CanceledWhileBackingOff(t *testing.T) {
	p := retry.NewPolicy(retry.Settings{MaxAttempts: 5, InitialInterval: time.Hour, Factor: 1})
	ctx, cancel := context.WithCancel(context.Background())
	err := retry.Do(ctx, p, "delete", func(int) error {
		cancel()
		return transient()
	})
	assert.True(t, exception.IsCanceled(err))
}
