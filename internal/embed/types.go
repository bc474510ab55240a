// Package embed attaches dense vectors to chunks. A Provider turns a
// batch of strings into vectors; the MultiScaleEmbedder drives it with
// batching, bounded concurrency, rate limiting, retries, caching, and
// vector quality checks, producing up to four embedding kinds per
// chunk.
package embed

import (
	"context"
	"math"
	"time"
)

const (
	// DefaultBatchSize is the maximum inputs per provider call.
	DefaultBatchSize = 16

	// DefaultMaxBatchBytes clamps the total input bytes per call.
	DefaultMaxBatchBytes = 64 * 1024

	// DefaultConcurrency bounds inflight provider calls.
	DefaultConcurrency = 4

	// DefaultRequestsPerSecond is the provider rate limit.
	DefaultRequestsPerSecond = 60

	// MaxRetries bounds attempts for transient and rate-limited errors.
	MaxRetries = 5

	// DefaultCacheSize is the LRU vector cache capacity.
	DefaultCacheSize = 4096

	// StaticDimensions is the dimensionality of the static provider.
	StaticDimensions = 256
)

// Vector magnitude bounds after normalisation; vectors outside the
// band are discarded and the kind counts as failed.
const (
	minMagnitude = 0.9
	maxMagnitude = 1.1
)

// Provider turns batches of UTF-8 strings into D-dimensional vectors.
// Errors carry one of the provider error codes so callers can decide
// whether to retry (transient, rate limited), skip (invalid input), or
// abort (fatal).
type Provider interface {
	// EmbedBatch returns one vector per input, in input order.
	EmbedBatch(ctx context.Context, inputs []string) ([][]float32, error)

	// Dimensions is the advertised vector dimensionality D.
	Dimensions() int

	// Name identifies the provider and model for logging and caching.
	Name() string

	// Available reports whether the provider can serve requests.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// checkVector validates one returned vector: exact dimensionality,
// finite components, magnitude within the accepted band.
func checkVector(v []float32, dims int) bool {
	if len(v) != dims {
		return false
	}
	var sumSquares float64
	for _, val := range v {
		f := float64(val)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
		sumSquares += f * f
	}
	mag := math.Sqrt(sumSquares)
	return mag >= minMagnitude && mag <= maxMagnitude
}

// normalizeVector scales a vector to unit length. Zero vectors are
// returned unchanged.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}
	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}

// sleeper abstracts time.Sleep for deterministic retry tests.
type sleeper func(ctx context.Context, d time.Duration) error

func contextSleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
