package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/gofrs/flock"

	cserr "github.com/chunkstack/chunkstack/internal/errors"
)

// Options configures Open.
type Options struct {
	// LexicalBackend is "bleve" (default) or "sqlite".
	LexicalBackend string
	// Dimensions is the embedding dimension for new stores. An existing
	// store keeps its pinned dimension; a conflicting value is reported
	// by CheckDimensions, not at open time, so callers can degrade to
	// lexical-only retrieval instead of failing.
	Dimensions int
	// Provider is the embedding provider name to pin for new stores.
	Provider string
	// InMemory skips all file I/O. For testing.
	InMemory bool
}

// Store composes the metadata store (source of truth), the per-kind
// vector indexes, and the lexical index. Writes land in metadata first;
// index updates follow, and readers re-validate hits against metadata,
// so stale index entries are filtered rather than trusted.
type Store struct {
	mu      sync.RWMutex
	meta    *MetadataStore
	lexical LexicalIndex
	vectors map[EmbeddingKind]*HNSWIndex

	dataDir string
	dims    int
	lock    *flock.Flock

	// attrs caches filterable chunk attributes for post-filtering
	// vector search results. Rebuilt from metadata at open.
	attrs map[string]chunkAttrs

	closed bool
}

type chunkAttrs struct {
	SourceID    string
	Scale       Scale
	ContentType ContentType
	PageNumber  int
}

// Open opens the store rooted at dataDir, taking an exclusive advisory
// lock so two processes cannot write the same store.
func Open(ctx context.Context, dataDir string, opts Options) (*Store, error) {
	if opts.LexicalBackend == "" {
		opts.LexicalBackend = "bleve"
	}
	if opts.Dimensions <= 0 {
		opts.Dimensions = 256
	}

	s := &Store{
		dataDir: dataDir,
		vectors: make(map[EmbeddingKind]*HNSWIndex),
		attrs:   make(map[string]chunkAttrs),
	}

	var metaPath, lexicalPath string
	if !opts.InMemory {
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return nil, cserr.StoreError("create data dir", err)
		}

		s.lock = flock.New(filepath.Join(dataDir, "store.lock"))
		locked, err := s.lock.TryLock()
		if err != nil {
			return nil, cserr.StoreError("acquire store lock", err)
		}
		if !locked {
			return nil, cserr.New(cserr.ErrCodeStoreFailed,
				fmt.Sprintf("store at %s is locked by another process", dataDir), nil).
				WithSuggestion("stop the other chunkstack process or use a different data directory")
		}

		metaPath = filepath.Join(dataDir, "metadata.db")
		if opts.LexicalBackend == "sqlite" {
			lexicalPath = filepath.Join(dataDir, "lexical.db")
		} else {
			lexicalPath = filepath.Join(dataDir, "lexical.bleve")
		}
	}

	meta, err := NewMetadataStore(metaPath)
	if err != nil {
		s.release()
		return nil, cserr.StoreError("open metadata store", err)
	}
	s.meta = meta

	switch opts.LexicalBackend {
	case "sqlite":
		s.lexical, err = NewFTSLexicalIndex(lexicalPath)
	default:
		s.lexical, err = NewBleveLexicalIndex(lexicalPath)
	}
	if err != nil {
		_ = meta.Close()
		s.release()
		return nil, cserr.StoreError("open lexical index", err)
	}

	// Pin or recover the embedding dimension.
	pinned, err := meta.GetState(ctx, StateKeyDimension)
	if err != nil {
		_ = s.closeComponents()
		return nil, cserr.StoreError("read pinned dimension", err)
	}
	if pinned == "" {
		s.dims = opts.Dimensions
		if err := meta.SetState(ctx, StateKeyDimension, strconv.Itoa(s.dims)); err != nil {
			_ = s.closeComponents()
			return nil, cserr.StoreError("pin dimension", err)
		}
		if opts.Provider != "" {
			_ = meta.SetState(ctx, StateKeyProvider, opts.Provider)
		}
	} else {
		s.dims, err = strconv.Atoi(pinned)
		if err != nil || s.dims <= 0 {
			_ = s.closeComponents()
			return nil, cserr.New(cserr.ErrCodeCorruptIndex,
				fmt.Sprintf("invalid pinned dimension %q", pinned), nil)
		}
	}

	for _, kind := range AllKinds {
		idx, err := NewHNSWIndex(s.dims)
		if err != nil {
			_ = s.closeComponents()
			return nil, cserr.StoreError("create vector index", err)
		}
		if !opts.InMemory {
			path := s.vectorPath(kind)
			if _, statErr := os.Stat(path); statErr == nil {
				if loadErr := idx.Load(path); loadErr != nil {
					slog.Warn("vector_index_load_failed",
						slog.String("kind", string(kind)),
						slog.String("error", loadErr.Error()))
					// Rebuilt lazily from metadata below.
					idx, _ = NewHNSWIndex(s.dims)
				}
			}
		}
		s.vectors[kind] = idx
	}

	if err := s.rebuildAttrs(ctx); err != nil {
		_ = s.closeComponents()
		return nil, err
	}

	slog.Info("store_opened",
		slog.String("data_dir", dataDir),
		slog.String("lexical_backend", opts.LexicalBackend),
		slog.Int("dimensions", s.dims),
		slog.Int("chunks", len(s.attrs)))
	return s, nil
}

func (s *Store) vectorPath(kind EmbeddingKind) string {
	return filepath.Join(s.dataDir, "vectors_"+string(kind)+".hnsw")
}

// rebuildAttrs loads the filter attribute cache from metadata, and
// backfills any vector index that is empty while metadata has
// embeddings (recovery after a discarded index).
func (s *Store) rebuildAttrs(ctx context.Context) error {
	sources, err := s.meta.ListSources(ctx, SourceFilter{})
	if err != nil {
		return cserr.StoreError("list sources", err)
	}

	for _, src := range sources {
		chunks, err := s.meta.ListChunksBySource(ctx, src.ID)
		if err != nil {
			return cserr.StoreError("list chunks", err)
		}
		for _, c := range chunks {
			s.attrs[c.ID] = chunkAttrs{
				SourceID:    c.SourceID,
				Scale:       c.Scale,
				ContentType: c.ContentType,
				PageNumber:  c.PageNumber,
			}
			for kind, vec := range c.Embeddings {
				idx, ok := s.vectors[kind]
				if !ok || len(vec) != s.dims {
					continue
				}
				if idx.Count() == 0 || !s.vectorHas(kind, c.ID) {
					if err := idx.Add(ctx, []string{c.ID}, [][]float32{vec}); err != nil {
						return cserr.StoreError("rebuild vector index", err)
					}
				}
			}
		}
	}
	return nil
}

func (s *Store) vectorHas(kind EmbeddingKind, id string) bool {
	idx := s.vectors[kind]
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	_, ok := idx.idMap[id]
	return ok
}

// Dimensions returns the pinned embedding dimension.
func (s *Store) Dimensions() int {
	return s.dims
}

// CheckDimensions verifies a provider's dimension against the pinned
// one. A mismatch means vector retrieval must be skipped, not that the
// store is unusable.
func (s *Store) CheckDimensions(got int) error {
	if got != s.dims {
		return ErrDimensionMismatch{Expected: s.dims, Got: got}
	}
	return nil
}

// Meta exposes the metadata store for read paths that need the full
// chunk graph.
func (s *Store) Meta() *MetadataStore {
	return s.meta
}

// PutSource stores a source record.
func (s *Store) PutSource(ctx context.Context, src *Source) error {
	return s.meta.PutSource(ctx, src)
}

// GetSource returns a source, or (nil, nil) if absent.
func (s *Store) GetSource(ctx context.Context, sourceID string) (*Source, error) {
	return s.meta.GetSource(ctx, sourceID)
}

// ListSources lists sources matching a filter.
func (s *Store) ListSources(ctx context.Context, filter SourceFilter) ([]*Source, error) {
	return s.meta.ListSources(ctx, filter)
}

// UpdateSourceStatus transitions a source's status.
func (s *Store) UpdateSourceStatus(ctx context.Context, sourceID string, status Status, errMsg string) error {
	return s.meta.UpdateSourceStatus(ctx, sourceID, status, errMsg)
}

// DeleteSource removes a source, its chunks, and their index entries.
// Metadata goes first; a crash before the index deletions leaves stale
// index entries that read paths filter out.
func (s *Store) DeleteSource(ctx context.Context, sourceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed, err := s.meta.DeleteSource(ctx, sourceID)
	if err != nil {
		return cserr.StoreError("delete source", err)
	}
	if len(removed) == 0 {
		return nil
	}

	for _, id := range removed {
		delete(s.attrs, id)
	}
	if err := s.lexical.Delete(ctx, removed); err != nil {
		slog.Warn("lexical_delete_failed",
			slog.String("source_id", sourceID),
			slog.String("error", err.Error()))
	}
	for _, idx := range s.vectors {
		if err := idx.Delete(ctx, removed); err != nil {
			slog.Warn("vector_delete_failed",
				slog.String("source_id", sourceID),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

// ReplaceChunks atomically replaces a source's chunk forest and
// reconciles the derived indexes. Unchanged chunks (same ID) keep
// their content, vectors, and index entries; only their version and
// graph edges are rewritten to match the incoming forest, so
// re-ingesting identical content touches no index.
func (s *Store) ReplaceChunks(ctx context.Context, sourceID string, chunks []*ChunkNode) (ReplaceStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats, removed, err := s.meta.ReplaceChunks(ctx, sourceID, chunks)
	if err != nil {
		return stats, cserr.StoreError("replace chunks", err)
	}

	existing := make(map[string]bool, len(s.attrs))
	for id, a := range s.attrs {
		if a.SourceID == sourceID {
			existing[id] = true
		}
	}

	var lexDocs []LexicalDoc
	vecIDs := make(map[EmbeddingKind][]string)
	vecData := make(map[EmbeddingKind][][]float32)
	for _, c := range chunks {
		isNew := !existing[c.ID]
		s.attrs[c.ID] = chunkAttrs{
			SourceID:    c.SourceID,
			Scale:       c.Scale,
			ContentType: c.ContentType,
			PageNumber:  c.PageNumber,
		}
		if !isNew {
			continue
		}
		lexDocs = append(lexDocs, LexicalDoc{ID: c.ID, Content: c.Content, Heading: c.Heading})
		for kind, vec := range c.Embeddings {
			if len(vec) != s.dims {
				continue
			}
			vecIDs[kind] = append(vecIDs[kind], c.ID)
			vecData[kind] = append(vecData[kind], vec)
		}
	}

	if err := s.lexical.Index(ctx, lexDocs); err != nil {
		return stats, cserr.StoreError("index chunks", err)
	}
	for kind, ids := range vecIDs {
		if err := s.vectors[kind].Add(ctx, ids, vecData[kind]); err != nil {
			return stats, cserr.StoreError("index vectors", err)
		}
	}

	if len(removed) > 0 {
		for _, id := range removed {
			delete(s.attrs, id)
		}
		if err := s.lexical.Delete(ctx, removed); err != nil {
			slog.Warn("lexical_delete_failed", slog.String("error", err.Error()))
		}
		for _, idx := range s.vectors {
			if err := idx.Delete(ctx, removed); err != nil {
				slog.Warn("vector_delete_failed", slog.String("error", err.Error()))
			}
		}
	}

	return stats, nil
}

// matchesFilters applies SearchFilters against the attribute cache.
func (a chunkAttrs) matches(f SearchFilters) bool {
	if f.SourceID != "" && a.SourceID != f.SourceID {
		return false
	}
	if f.Scale != "" && a.Scale != f.Scale {
		return false
	}
	if f.ContentType != "" && a.ContentType != f.ContentType {
		return false
	}
	return true
}

// SearchByVector runs ANN search over one embedding kind and applies
// filters. HNSW cannot filter natively, so it over-fetches (4x) and
// post-filters; hits absent from the attribute cache (lazily deleted or
// never committed) are dropped.
func (s *Store) SearchByVector(ctx context.Context, kind EmbeddingKind, query []float32, k int, filters SearchFilters) ([]VectorHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, cserr.New(cserr.ErrCodeStoreFailed, "store is closed", nil)
	}

	idx, ok := s.vectors[kind]
	if !ok {
		return nil, cserr.New(cserr.ErrCodeStoreFailed, fmt.Sprintf("unknown embedding kind %q", kind), nil)
	}

	raw, err := idx.Search(ctx, query, k*4)
	if err != nil {
		return nil, err
	}

	hits := make([]VectorHit, 0, k)
	for _, hit := range raw {
		attrs, known := s.attrs[hit.ChunkID]
		if !known || !attrs.matches(filters) {
			continue
		}
		hits = append(hits, hit)
		if len(hits) == k {
			break
		}
	}
	return hits, nil
}

// SearchByText runs lexical search and applies filters the same way.
func (s *Store) SearchByText(ctx context.Context, query string, limit int, filters SearchFilters) ([]LexicalHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, cserr.New(cserr.ErrCodeStoreFailed, "store is closed", nil)
	}

	raw, err := s.lexical.Search(ctx, query, limit*4)
	if err != nil {
		return nil, cserr.StoreError("lexical search", err)
	}

	hits := make([]LexicalHit, 0, limit)
	for _, hit := range raw {
		attrs, known := s.attrs[hit.ChunkID]
		if !known || !attrs.matches(filters) {
			continue
		}
		hits = append(hits, hit)
		if len(hits) == limit {
			break
		}
	}
	return hits, nil
}

// Save persists the vector indexes. Metadata and lexical backends
// persist on write.
func (s *Store) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return cserr.New(cserr.ErrCodeStoreFailed, "store is closed", nil)
	}
	if s.dataDir == "" {
		return nil // in-memory
	}

	for kind, idx := range s.vectors {
		if err := idx.Save(s.vectorPath(kind)); err != nil {
			return cserr.StoreError(fmt.Sprintf("save %s vector index", kind), err)
		}
	}
	return nil
}

// Close saves and releases everything, including the advisory lock.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if s.dataDir != "" {
		if err := s.Save(); err != nil {
			slog.Warn("store_save_on_close_failed", slog.String("error", err.Error()))
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return s.closeComponents()
}

func (s *Store) closeComponents() error {
	var firstErr error
	for _, idx := range s.vectors {
		if err := idx.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.lexical != nil {
		if err := s.lexical.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.meta != nil {
		if err := s.meta.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.release()
	return firstErr
}

func (s *Store) release() {
	if s.lock != nil {
		_ = s.lock.Unlock()
		s.lock = nil
	}
}
