package retry

import (
	"time"

	"github.com/tigerroll/undertow/pkg/dbchange/core/config"
)

// FromConfig converts the configured retry settings (intervals in milliseconds).
func FromConfig(c config.RetryConfig) Settings {
	return Settings{
		MaxAttempts:         c.MaxAttempts,
		InitialInterval:     time.Duration(c.InitialInterval) * time.Millisecond,
		MaxInterval:         time.Duration(c.MaxInterval) * time.Millisecond,
		Factor:              c.Factor,
		RetryableExceptions: c.RetryableExceptions,
	}
}
