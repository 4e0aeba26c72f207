// Package resilience wraps the single Redis dependency internal/redisx talks
// to with a retry loop and a circuit breaker, so a transient blip resolves
// within one gateway call instead of surfacing to the scheduler's tick loop
// as a storage error.
package resilience

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// RetryConfig tunes the backoff applied to a single retried call.
type RetryConfig struct {
	MaxAttempts         int
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	Multiplier          float64
	RandomizationFactor float64
	// IsRetryable decides whether an error is worth a second attempt. Nil
	// falls back to IsRedisRetryable.
	IsRetryable func(error) bool
}

// DefaultRetryConfig gives three attempts with a 100ms initial backoff
// doubling up to 10s, classifying errors the way a flaky Redis connection
// actually fails (see IsRedisRetryable).
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:         3,
		InitialInterval:     100 * time.Millisecond,
		MaxInterval:         10 * time.Second,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
		IsRetryable:         IsRedisRetryable,
	}
}

// IsRedisRetryable reports whether err is worth a second attempt against
// Redis. A cancelled or timed-out caller context means the caller gave up,
// not that Redis failed, so those are never retried; everything else
// (connection refused, i/o timeout, EOF mid-command) is assumed transient.
// redis.Nil never reaches here: internal/redisx treats "key not found" as a
// successful outcome before the retry loop ever sees it.
func IsRedisRetryable(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// Retry runs fn, retrying on a retryable error with jittered exponential
// backoff until config.MaxAttempts is spent or ctx is cancelled.
func Retry(ctx context.Context, config *RetryConfig, fn func(context.Context) error) error {
	retryable := config.IsRetryable
	if retryable == nil {
		retryable = IsRedisRetryable
	}

	var lastErr error
	interval := config.InitialInterval

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			return lastErr
		}

		if attempt < config.MaxAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(jitter(interval, config.RandomizationFactor)):
			}

			interval = time.Duration(float64(interval) * config.Multiplier)
			if interval > config.MaxInterval {
				interval = config.MaxInterval
			}
		}
	}

	return lastErr
}

// jitter spreads base by +/- factor so concurrent scheduler replicas
// retrying the same Redis outage don't all wake up on the same tick.
func jitter(base time.Duration, factor float64) time.Duration {
	if factor == 0 {
		return base
	}
	delta := factor * float64(base)
	min := float64(base) - delta
	max := float64(base) + delta
	return time.Duration(min + rand.Float64()*(max-min))
}
