package archive

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/tigerroll/undertow/pkg/dbchange/core/domain/parameter"
)

// throttle paces reads from the source with two token buckets, one for rows and one for bytes.
// It is shared by every table of a job.
type throttle struct {
	rows  *rate.Limiter
	bytes *rate.Limiter
}

// newThrottle builds the buckets for cfg. The row bucket holds one batch so a batch never
// exceeds its burst; a zero limit disables the bucket.
func newThrottle(cfg parameter.RateLimitConfiguration, batchSize int) *throttle {
	t := &throttle{}
	if cfg.RowLimit > 0 {
		burst := batchSize
		if burst < 1 {
			burst = 1
		}
		t.rows = rate.NewLimiter(rate.Limit(cfg.RowLimit), burst)
	}
	if cfg.DataSizeLimit > 0 {
		burst := int(cfg.DataSizeLimit)
		if int64(burst) != cfg.DataSizeLimit || burst < 1 {
			burst = int(^uint(0) >> 1)
		}
		t.bytes = rate.NewLimiter(rate.Limit(cfg.DataSizeLimit), burst)
	}
	return t
}

// wait blocks until rows and size fit the limits and returns the time spent waiting.
func (t *throttle) wait(ctx context.Context, rows int, size int64) (time.Duration, error) {
	start := time.Now()
	if t.rows != nil && rows > 0 {
		if err := waitChunked(ctx, t.rows, int64(rows)); err != nil {
			return time.Since(start), err
		}
	}
	if t.bytes != nil && size > 0 {
		if err := waitChunked(ctx, t.bytes, size); err != nil {
			return time.Since(start), err
		}
	}
	return time.Since(start), nil
}

// waitChunked takes n tokens from l in pieces no larger than its burst.
func waitChunked(ctx context.Context, l *rate.Limiter, n int64) error {
	burst := int64(l.Burst())
	for n > 0 {
		take := n
		if take > burst {
			take = burst
		}
		if err := l.WaitN(ctx, int(take)); err != nil {
			return err
		}
		n -= take
	}
	return nil
}
