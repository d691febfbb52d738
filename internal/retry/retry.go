package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Config holds retry configuration
type Config struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	JitterFraction    float64

	// OnRetry is called before sleeping between attempts
	OnRetry func(attempt int, err error, wait time.Duration)
}

// DefaultConfig returns the defaults used by the external API clients
func DefaultConfig() Config {
	return Config{
		MaxAttempts:       3,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
		JitterFraction:    0.1,
	}
}

// IsRetryable decides whether an error should trigger another attempt
type IsRetryable func(error) bool

// RetryAfterError is implemented by errors carrying a server-provided wait hint
type RetryAfterError interface {
	error
	RetryAfter() time.Duration
}

// Do executes fn with exponential backoff until it succeeds, fails with a
// non-retryable error, attempts are exhausted or ctx is done
func Do(ctx context.Context, cfg Config, fn func() error, isRetryable IsRetryable) error {
	_, err := DoWithResult(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	}, isRetryable)
	return err
}

// DoWithResult is Do for operations that produce a value
func DoWithResult[T any](ctx context.Context, cfg Config, fn func() (T, error), isRetryable IsRetryable) (T, error) {
	var result T
	var err error

	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		result, err = fn()
		if err == nil {
			return result, nil
		}
		if isRetryable == nil || !isRetryable(err) || attempt == attempts {
			return result, err
		}

		wait := Backoff(attempt, cfg)
		var hinted RetryAfterError
		if errors.As(err, &hinted) && hinted.RetryAfter() > wait {
			wait = hinted.RetryAfter()
			if cfg.MaxBackoff > 0 && wait > cfg.MaxBackoff {
				wait = cfg.MaxBackoff
			}
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return result, ctx.Err()
		case <-timer.C:
		}
	}

	return result, err
}

// Backoff calculates the jittered wait after the given attempt (1-based)
func Backoff(attempt int, cfg Config) time.Duration {
	if attempt <= 0 {
		return 0
	}

	multiplier := cfg.BackoffMultiplier
	if multiplier < 1 {
		multiplier = 1
	}
	backoff := float64(cfg.InitialBackoff) * math.Pow(multiplier, float64(attempt-1))
	if cfg.MaxBackoff > 0 && backoff > float64(cfg.MaxBackoff) {
		backoff = float64(cfg.MaxBackoff)
	}

	return withJitter(time.Duration(backoff), cfg.JitterFraction)
}

// withJitter spreads retries of concurrent callers
func withJitter(backoff time.Duration, jitterFraction float64) time.Duration {
	if jitterFraction <= 0 {
		return backoff
	}

	jitter := float64(backoff) * jitterFraction
	result := float64(backoff) + (rand.Float64()*2-1)*jitter
	if result < 0 {
		result = 0
	}

	return time.Duration(result)
}
