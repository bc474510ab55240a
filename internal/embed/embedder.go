package embed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	cserr "github.com/chunkstack/chunkstack/internal/errors"
	"github.com/chunkstack/chunkstack/internal/store"
)

// Options tunes the multi-scale embedder. Zero values select the
// package defaults.
type Options struct {
	Kinds             []store.EmbeddingKind
	BatchSize         int
	MaxBatchBytes     int
	Concurrency       int
	CacheSize         int
	RequestsPerSecond float64
	Lexicon           []string
	Retry             RetryConfig
	Logger            *slog.Logger
}

// MultiScaleEmbedder drives a Provider to attach one vector per
// enabled kind to each chunk. Provider calls are batched, rate
// limited, retried, and bounded in concurrency; results are memoised
// in an LRU cache.
type MultiScaleEmbedder struct {
	provider Provider
	opts     Options
	cache    *vectorCache
	limiter  *rateLimiter
	log      *slog.Logger
}

func NewMultiScaleEmbedder(provider Provider, opts Options) *MultiScaleEmbedder {
	if len(opts.Kinds) == 0 {
		opts.Kinds = store.AllKinds
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.MaxBatchBytes <= 0 {
		opts.MaxBatchBytes = DefaultMaxBatchBytes
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Retry == (RetryConfig{}) {
		opts.Retry = DefaultRetryConfig()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &MultiScaleEmbedder{
		provider: provider,
		opts:     opts,
		cache:    newVectorCache(opts.CacheSize),
		limiter:  newRateLimiter(opts.RequestsPerSecond),
		log:      opts.Logger,
	}
}

// Dimensions exposes the provider's advertised dimensionality.
func (e *MultiScaleEmbedder) Dimensions() int {
	return e.provider.Dimensions()
}

// Provider returns the wrapped provider.
func (e *MultiScaleEmbedder) Provider() Provider {
	return e.provider
}

// EmbedChunks attaches vectors for every enabled kind. Chunks for
// which every kind failed are dropped from the returned slice; partial
// failures surface as warnings. A fatal provider error for one batch
// fails that batch's chunks for that kind, not the whole job.
func (e *MultiScaleEmbedder) EmbedChunks(ctx context.Context, chunks []*store.ChunkNode) ([]*store.ChunkNode, []string, error) {
	if len(chunks) == 0 {
		return chunks, nil, nil
	}

	for _, c := range chunks {
		if c.Embeddings == nil {
			c.Embeddings = make(map[store.EmbeddingKind][]float32, len(e.opts.Kinds))
		}
	}
	prev := previousSiblings(chunks)

	var warnings []string
	for _, kind := range e.opts.Kinds {
		kindWarnings, err := e.embedKind(ctx, kind, chunks, prev)
		if err != nil {
			return nil, warnings, err
		}
		warnings = append(warnings, kindWarnings...)
	}

	kept := chunks[:0:0]
	for _, c := range chunks {
		if len(c.Embeddings) == 0 {
			warnings = append(warnings, fmt.Sprintf("chunk %s rejected: all embedding kinds failed", c.ID))
			continue
		}
		kept = append(kept, c)
	}
	return kept, warnings, nil
}

// embedKind resolves one kind for every chunk: cache first, then
// batched provider calls bounded by the concurrency limit.
func (e *MultiScaleEmbedder) embedKind(ctx context.Context, kind store.EmbeddingKind, chunks []*store.ChunkNode, prev map[string]*store.ChunkNode) ([]string, error) {
	inputs := make([]string, len(chunks))
	var missIdx []int
	for i, c := range chunks {
		inputs[i] = BuildInput(kind, c, prev[c.ID], e.opts.Lexicon)
		if vec, ok := e.cache.get(kind, inputs[i]); ok {
			c.Embeddings[kind] = vec
			continue
		}
		missIdx = append(missIdx, i)
	}
	if len(missIdx) == 0 {
		return nil, nil
	}

	dims := e.provider.Dimensions()
	var mu sync.Mutex
	var warnings []string

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Concurrency)

	for _, batch := range e.batches(inputs, missIdx) {
		g.Go(func() error {
			if err := e.limiter.Wait(gctx); err != nil {
				return err
			}

			texts := make([]string, len(batch))
			for i, idx := range batch {
				texts[i] = inputs[idx]
			}

			var vecs [][]float32
			err := WithRetry(gctx, e.opts.Retry, nil, func() error {
				var callErr error
				vecs, callErr = e.provider.EmbedBatch(gctx, texts)
				return callErr
			})
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				// Invalid input and fatal errors fail this batch's
				// chunks for this kind; the rest of the job proceeds.
				mu.Lock()
				warnings = append(warnings, fmt.Sprintf("embedding kind %s failed for %d chunks: %v",
					kind, len(batch), err))
				mu.Unlock()
				e.log.Warn("embedding batch failed",
					"kind", string(kind), "chunks", len(batch),
					"code", cserr.GetCode(err), "error", err)
				return nil
			}

			for i, idx := range batch {
				vec := vecs[i]
				if !checkVector(vec, dims) {
					mu.Lock()
					warnings = append(warnings, fmt.Sprintf("chunk %s kind %s: vector failed quality checks",
						chunks[idx].ID, kind))
					mu.Unlock()
					continue
				}
				mu.Lock()
				chunks[idx].Embeddings[kind] = vec
				mu.Unlock()
				e.cache.put(kind, inputs[idx], vec)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return warnings, err
	}
	return warnings, nil
}

// batches groups miss indices under both the input-count and byte
// caps. A single oversized input still forms its own batch.
func (e *MultiScaleEmbedder) batches(inputs []string, missIdx []int) [][]int {
	var out [][]int
	var cur []int
	bytes := 0
	for _, idx := range missIdx {
		size := len(inputs[idx])
		if len(cur) > 0 && (len(cur) >= e.opts.BatchSize || bytes+size > e.opts.MaxBatchBytes) {
			out = append(out, cur)
			cur, bytes = nil, 0
		}
		cur = append(cur, idx)
		bytes += size
	}
	if len(cur) > 0 {
		out = append(out, cur)
	}
	return out
}

// previousSiblings maps each chunk ID to its preceding sibling in
// reading order, used by the contextual kind.
func previousSiblings(chunks []*store.ChunkNode) map[string]*store.ChunkNode {
	prev := make(map[string]*store.ChunkNode)
	lastChild := make(map[string]*store.ChunkNode)
	for _, c := range chunks {
		if p, ok := lastChild[c.ParentID]; ok {
			prev[c.ID] = p
		}
		lastChild[c.ParentID] = c
	}
	return prev
}
