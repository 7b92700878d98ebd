// Package retry bounds and paces the retries of batch writes, deletes and the table swap.
package retry

import (
	"context"
	"math"
	"time"

	"github.com/tigerroll/undertow/pkg/dbchange/support/util/exception"
	"github.com/tigerroll/undertow/pkg/dbchange/support/util/logger"
)

// RetryPolicy decides whether and when a failed operation is tried again.
type RetryPolicy interface {
	// ShouldRetry determines if a given error is retryable.
	ShouldRetry(err error) bool
	// GetBackoffInterval returns the wait before attempt+1, attempt starting at 1.
	GetBackoffInterval(attempt int) time.Duration
	// GetMaxAttempts returns the maximum number of attempts, including the first one.
	GetMaxAttempts() int
}

// Settings configures an exponential backoff policy.
type Settings struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Factor          float64
	// RetryableExceptions names registered errors retried besides TRANSIENT JobErrors.
	RetryableExceptions []string
}

// NewPolicy creates an exponential backoff policy. MaxAttempts below 1 is treated as 1.
func NewPolicy(s Settings) RetryPolicy {
	if s.MaxAttempts < 1 {
		s.MaxAttempts = 1
	}
	if s.Factor < 1 {
		s.Factor = 1
	}
	return &exponentialPolicy{s: s}
}

type exponentialPolicy struct {
	s Settings
}

func (p *exponentialPolicy) GetMaxAttempts() int { return p.s.MaxAttempts }

// ShouldRetry retries TRANSIENT failures and errors matching the configured names.
// Cancellation is never retried.
func (p *exponentialPolicy) ShouldRetry(err error) bool {
	if err == nil || exception.IsCanceled(err) {
		return false
	}
	if exception.IsTemporary(err) {
		return true
	}
	for _, typeName := range p.s.RetryableExceptions {
		if exception.IsErrorOfType(err, typeName) {
			return true
		}
	}
	return false
}

func (p *exponentialPolicy) GetBackoffInterval(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.s.InitialInterval) * math.Pow(p.s.Factor, float64(attempt-1))
	if p.s.MaxInterval > 0 && d > float64(p.s.MaxInterval) {
		return p.s.MaxInterval
	}
	return time.Duration(d)
}

var _ RetryPolicy = (*exponentialPolicy)(nil)

// Do runs fn until it succeeds, fails with a non-retryable error or exhausts the policy.
// It returns the last error. A context canceled while backing off ends the loop with a CANCELED error.
func Do(ctx context.Context, policy RetryPolicy, operation string, fn func(attempt int) error) error {
	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(attempt); err == nil {
			return nil
		}
		if attempt >= policy.GetMaxAttempts() || !policy.ShouldRetry(err) {
			return err
		}
		wait := policy.GetBackoffInterval(attempt)
		logger.Warnf("%s failed (attempt %d/%d), retrying in %s: %v", operation, attempt, policy.GetMaxAttempts(), wait, err)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return exception.NewJobError("retry", exception.KindCanceled, operation+" interrupted while backing off", ctx.Err())
		case <-timer.C:
		}
	}
}
