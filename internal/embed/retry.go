package embed

import (
	"context"
	"math/rand"
	"time"

	cserr "github.com/chunkstack/chunkstack/internal/errors"
)

// RetryConfig configures exponential backoff for provider calls.
type RetryConfig struct {
	MaxRetries   int           // retry attempts beyond the first call
	InitialDelay time.Duration // delay before the first retry
	MaxDelay     time.Duration // backoff cap
	Multiplier   float64
	Jitter       float64 // fraction of the delay randomised, in [0,1]
}

// DefaultRetryConfig returns the retry policy for provider calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   MaxRetries,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     16 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.25,
	}
}

// WithRetry executes fn, retrying transient and rate-limited provider
// errors with exponential backoff and jitter. Invalid-input and fatal
// errors return immediately, as does context cancellation.
func WithRetry(ctx context.Context, cfg RetryConfig, sleep sleeper, fn func() error) error {
	if sleep == nil {
		sleep = contextSleep
	}
	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !cserr.IsRetryable(err) || attempt >= cfg.MaxRetries {
			break
		}

		wait := delay
		if cfg.Jitter > 0 {
			span := float64(delay) * cfg.Jitter
			wait = delay - time.Duration(span/2) + time.Duration(rand.Float64()*span)
		}
		if err := sleep(ctx, wait); err != nil {
			return err
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return lastErr
}
