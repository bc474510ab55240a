package embed

import (
	"context"
	"sync"
	"time"
)

// rateLimiter is a token bucket refilled continuously at rps tokens
// per second, with a burst of one second's worth of tokens.
type rateLimiter struct {
	mu     sync.Mutex
	tokens float64
	max    float64
	rps    float64
	last   time.Time
}

func newRateLimiter(rps float64) *rateLimiter {
	if rps <= 0 {
		rps = DefaultRequestsPerSecond
	}
	return &rateLimiter{tokens: rps, max: rps, rps: rps, last: time.Now()}
}

// Wait blocks until a token is available or the context is done.
func (l *rateLimiter) Wait(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := time.Now()
		l.tokens += now.Sub(l.last).Seconds() * l.rps
		if l.tokens > l.max {
			l.tokens = l.max
		}
		l.last = now

		if l.tokens >= 1 {
			l.tokens--
			l.mu.Unlock()
			return nil
		}
		wait := time.Duration((1 - l.tokens) / l.rps * float64(time.Second))
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
