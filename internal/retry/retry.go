// Package retry wraps transient I/O operations with exponential backoff.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	apperrors "github.com/jittakal/kafwarehouse/internal/errors"
)

// Config contains backoff settings for one retried operation.
type Config struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

// DefaultConfig returns the retry settings applied when none are configured.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:       5,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// Do runs op, retrying retryable failures with exponential backoff until it
// succeeds, the attempt budget is exhausted, or ctx is cancelled.
// Non-retryable errors (per the errors package classification) abort
// immediately. onRetry, when non-nil, is invoked before each wait.
func Do(ctx context.Context, cfg Config, op func() error, onRetry func(err error, wait time.Duration)) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	b := backoff.NewExponentialBackOff()
	if cfg.InitialBackoff > 0 {
		b.InitialInterval = cfg.InitialBackoff
	}
	if cfg.MaxBackoff > 0 {
		b.MaxInterval = cfg.MaxBackoff
	}
	if cfg.BackoffMultiplier > 0 {
		b.Multiplier = cfg.BackoffMultiplier
	}
	b.MaxElapsedTime = 0 // bounded by attempts, not wall time

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(cfg.MaxAttempts-1)), ctx)

	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if !apperrors.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		if onRetry != nil {
			onRetry(err, wait)
		}
	}

	return backoff.RetryNotify(wrapped, policy, notify)
}
