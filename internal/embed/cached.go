package embed

import (
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/chunkstack/chunkstack/internal/quality"
	"github.com/chunkstack/chunkstack/internal/store"
)

// vectorCache memoises provider results. Keys combine the embedding
// kind with a digest of the canonicalised input, so formatting changes
// that do not alter content still hit the cache.
type vectorCache struct {
	cache *lru.Cache[string, []float32]
}

func newVectorCache(size int) *vectorCache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, _ := lru.New[string, []float32](size)
	return &vectorCache{cache: cache}
}

func cacheKey(kind store.EmbeddingKind, input string) string {
	sum := sha256.Sum256([]byte(quality.Canonicalize(input)))
	return string(kind) + ":" + hex.EncodeToString(sum[:])
}

func (c *vectorCache) get(kind store.EmbeddingKind, input string) ([]float32, bool) {
	return c.cache.Get(cacheKey(kind, input))
}

func (c *vectorCache) put(kind store.EmbeddingKind, input string, vec []float32) {
	c.cache.Add(cacheKey(kind, input), vec)
}
