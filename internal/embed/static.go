package embed

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"unicode"

	cserr "github.com/chunkstack/chunkstack/internal/errors"
	"github.com/chunkstack/chunkstack/internal/store"
)

// StaticProvider generates embeddings with a hash-based scheme: no
// network, no model download, fully deterministic. Semantic quality is
// reduced, but identical text always maps to the identical vector,
// which keeps ingestion reproducible and tests offline.
type StaticProvider struct {
	mu     sync.RWMutex
	closed bool
	dims   int
}

// Weights for vector generation.
const (
	tokenWeight = 0.7
	ngramWeight = 0.3
	ngramSize   = 3
)

var _ Provider = (*StaticProvider)(nil)

// NewStaticProvider creates a static provider. dims <= 0 selects the
// default dimensionality.
func NewStaticProvider(dims int) *StaticProvider {
	if dims <= 0 {
		dims = StaticDimensions
	}
	return &StaticProvider{dims: dims}
}

// EmbedBatch generates one vector per input. Whitespace-only inputs
// are rejected as invalid.
func (p *StaticProvider) EmbedBatch(ctx context.Context, inputs []string) ([][]float32, error) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil, cserr.FatalProviderError("static provider is closed", nil)
	}
	p.mu.RUnlock()

	if len(inputs) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(inputs))
	for i, text := range inputs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		trimmed := strings.TrimSpace(text)
		if trimmed == "" {
			return nil, cserr.New(cserr.ErrCodeProviderInvalid, "empty input text", nil)
		}
		results[i] = normalizeVector(p.generateVector(trimmed))
	}
	return results, nil
}

// generateVector sums hashed token and character n-gram buckets.
func (p *StaticProvider) generateVector(text string) []float32 {
	vector := make([]float32, p.dims)

	for _, tok := range store.TokenizeProse(text) {
		if store.IsStopWord(tok) {
			continue
		}
		vector[hashToIndex(tok, p.dims)] += tokenWeight
	}

	normalized := normalizeForNgrams(text)
	for i := 0; i+ngramSize <= len(normalized); i++ {
		vector[hashToIndex(normalized[i:i+ngramSize], p.dims)] += ngramWeight
	}

	return vector
}

// normalizeForNgrams keeps lowercase letters and digits only.
func normalizeForNgrams(text string) string {
	var result strings.Builder
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// hashToIndex maps a string to a vector bucket with FNV-64.
func hashToIndex(s string, size int) int {
	h := fnv.New64()
	_, _ = h.Write([]byte(s))
	return int(h.Sum64() % uint64(size))
}

// Dimensions returns the embedding dimension.
func (p *StaticProvider) Dimensions() int {
	return p.dims
}

// Name returns the provider identifier.
func (p *StaticProvider) Name() string {
	return "static"
}

// Available reports readiness; always true until closed.
func (p *StaticProvider) Available(_ context.Context) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return !p.closed
}

// Close releases resources.
func (p *StaticProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
