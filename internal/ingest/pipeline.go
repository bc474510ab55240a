// Package ingest orchestrates the document pipeline: format detection,
// text extraction, structural analysis, hierarchical chunking,
// multi-scale embedding, validation, and transactional persistence.
// Stages run strictly in order within one source job; multiple jobs
// run in parallel up to the configured bound.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/chunkstack/chunkstack/internal/chunker"
	"github.com/chunkstack/chunkstack/internal/config"
	"github.com/chunkstack/chunkstack/internal/doctype"
	"github.com/chunkstack/chunkstack/internal/embed"
	cserr "github.com/chunkstack/chunkstack/internal/errors"
	"github.com/chunkstack/chunkstack/internal/quality"
	"github.com/chunkstack/chunkstack/internal/reader"
	"github.com/chunkstack/chunkstack/internal/store"
	"github.com/chunkstack/chunkstack/internal/structure"
	"github.com/chunkstack/chunkstack/internal/token"
)

// Result reports one source ingestion.
type Result struct {
	JobID    string                    `json:"jobId"`
	SourceID string                    `json:"sourceId"`
	Version  string                    `json:"version"`
	Status   store.Status              `json:"status"`
	Format   store.DocFormat           `json:"format"`
	DocType  store.DocType             `json:"docType"`
	Counts   store.ReplaceStats        `json:"counts"`
	Chunks   int                       `json:"chunks"`
	Errors   []string                  `json:"errors,omitempty"`
	Warnings []string                  `json:"warnings,omitempty"`
	Report   *quality.ValidationReport `json:"validationReport,omitempty"`
	Elapsed  time.Duration             `json:"elapsed"`
}

// Pipeline runs source ingestions against a store.
type Pipeline struct {
	cfg      *config.Config
	store    *store.Store
	provider embed.Provider
	embedder *embed.MultiScaleEmbedder
	readers  *reader.Registry
	chunker  *chunker.Chunker
	jobs     *semaphore.Weighted
	log      *slog.Logger
}

// New wires a pipeline. provider may be nil; ingestion then persists
// chunks without vectors and retrieval stays lexical-only.
func New(cfg *config.Config, st *store.Store, provider embed.Provider, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	maxJobs := cfg.Concurrency.MaxConcurrentJobs
	if maxJobs <= 0 {
		maxJobs = 5
	}

	var embedder *embed.MultiScaleEmbedder
	if provider != nil {
		wrapped := withCallTimeout(provider, cfg.Concurrency.EmbedTimeout)
		opts := embed.OptionsFromConfig(cfg.Embedding)
		opts.Logger = logger
		embedder = embed.NewMultiScaleEmbedder(wrapped, opts)
	}

	counter := token.ForEncoding(cfg.Chunking.TokenEncoding)
	return &Pipeline{
		cfg:      cfg,
		store:    st,
		provider: provider,
		embedder: embedder,
		readers:  reader.NewRegistry(),
		chunker:  chunker.New(cfg.Chunking, counter, cfg.Quality.MinChunkQuality),
		jobs:     semaphore.NewWeighted(int64(maxJobs)),
		log:      logger,
	}
}

// IngestFile runs the full pipeline for one file. The returned Result
// is non-nil whenever the source was registered, even on failure.
func (p *Pipeline) IngestFile(ctx context.Context, path string) (*Result, error) {
	if err := p.jobs.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer p.jobs.Release(1)

	if timeout := p.cfg.Concurrency.IngestTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	jobID := uuid.NewString()
	log := p.log.With("job", jobID)

	started := time.Now()
	res, err := p.run(ctx, path, log)
	if res != nil {
		res.JobID = jobID
		res.Elapsed = time.Since(started)
		log.Info("ingest finished",
			"source", res.SourceID,
			"status", string(res.Status),
			"chunks", res.Chunks,
			"elapsed", res.Elapsed)
	}
	return res, err
}

func (p *Pipeline) run(ctx context.Context, path string, log *slog.Logger) (*Result, error) {
	// Stage 1: format detection.
	format, err := doctype.DetectFormat(path)
	if err != nil {
		return nil, err
	}

	// Stage 2: extraction.
	extracted, err := p.readers.Extract(ctx, format.Format, path)
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, cserr.New(cserr.ErrCodeFileNotFound, "failed to read source file", err)
	}
	contentHash := sha256.Sum256(raw)
	version := hex.EncodeToString(contentHash[:8])
	sourceID := SourceID(path)

	res := &Result{
		SourceID: sourceID,
		Version:  version,
		Format:   format.Format,
		Status:   store.StatusRunning,
	}

	// Stage 3: document type classification and strategy selection.
	typed := doctype.ClassifyType(filepath.Base(path), extracted.Text)
	res.DocType = typed.Type
	strategy := doctype.StrategyFor(typed.Type)

	src := &store.Source{
		ID:          sourceID,
		Version:     version,
		ContentHash: hex.EncodeToString(contentHash[:]),
		SizeBytes:   int64(len(raw)),
		Filename:    filepath.Base(path),
		Format:      format.Format,
		Type:        typed.Type,
		Status:      store.StatusRunning,
	}
	if err := p.store.PutSource(ctx, src); err != nil {
		return res, err
	}

	finish := func(status store.Status, cause error) (*Result, error) {
		msg := ""
		if cause != nil {
			msg = cause.Error()
			res.Errors = append(res.Errors, msg)
		}
		res.Status = status
		// Status must be recorded even when the job context is gone.
		statusCtx := context.WithoutCancel(ctx)
		if err := p.store.UpdateSourceStatus(statusCtx, sourceID, status, msg); err != nil {
			log.Warn("failed to record source status", "source", sourceID, "error", err)
		}
		return res, cause
	}

	// Stage 4: structural analysis and chunking.
	outline := structure.Analyze(extracted.Text, strategy)
	chunkRes, err := p.chunker.Chunk(chunker.Input{
		SourceID: sourceID,
		Version:  version,
		Text:     extracted.Text,
		Outline:  outline,
		DocType:  typed.Type,
		Strategy: strategy,
		PageOf:   extracted.PageAt,
	})
	if err != nil {
		return finish(store.StatusFailed, cserr.New(cserr.ErrCodeChunkingFailed, "chunking failed", err))
	}
	res.Warnings = append(res.Warnings, chunkRes.Warnings...)
	chunks := chunkRes.Chunks

	// Stage 5: duplicate detection. Duplicates are flagged, not removed.
	if n := quality.MarkDuplicates(chunks, p.cfg.Quality.MaxDuplicateThreshold); n > 0 {
		res.Warnings = append(res.Warnings, fmt.Sprintf("%d duplicate chunks flagged", n))
	}

	// Stage 6: embedding. A missing or mismatched provider degrades to
	// lexical-only persistence instead of failing the source.
	dims := 0
	if p.embedder != nil {
		if err := p.store.CheckDimensions(p.embedder.Dimensions()); err != nil {
			res.Warnings = append(res.Warnings,
				"provider dimensions do not match the store; chunks persisted without vectors")
		} else {
			kept, warnings, err := p.embedder.EmbedChunks(ctx, chunks)
			if err != nil {
				if ctx.Err() != nil {
					return finish(store.StatusCancelled, nil)
				}
				return finish(store.StatusFailed, cserr.New(cserr.ErrCodeEmbeddingFailed, "embedding failed", err))
			}
			res.Warnings = append(res.Warnings, warnings...)
			var dropWarnings []string
			chunks, dropWarnings = dropRejected(kept, chunks)
			res.Warnings = append(res.Warnings, dropWarnings...)
			dims = p.embedder.Dimensions()
		}
	} else {
		res.Warnings = append(res.Warnings, "no embedding provider; chunks persisted without vectors")
	}

	if err := ctx.Err(); err != nil {
		// Cancelled before persistence: no partial chunk sets.
		return finish(store.StatusCancelled, nil)
	}

	// Stage 7: validation.
	res.Report = quality.BuildReport(sourceID, chunks, dims)
	res.Chunks = len(chunks)
	if res.Report.Score < p.cfg.Quality.MinOverallQuality*100 {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("validation score %.0f below the configured floor", res.Report.Score))
	}

	// Stage 8: transactional persistence.
	stats, err := p.store.ReplaceChunks(ctx, sourceID, chunks)
	if err != nil {
		return finish(store.StatusFailed, err)
	}
	res.Counts = stats

	return finish(store.StatusCompleted, nil)
}

// IngestAll ingests many files with bounded parallelism. Failures are
// collected per file; one bad document never aborts the batch.
func (p *Pipeline) IngestAll(ctx context.Context, paths []string) ([]*Result, error) {
	capacity := p.cfg.Concurrency.ChannelCapacity
	if capacity <= 0 {
		capacity = 32
	}
	jobs := make(chan string, capacity)
	results := make(chan *Result, capacity)

	workers := p.cfg.Concurrency.MaxConcurrentJobs
	if workers <= 0 {
		workers = 5
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(jobs)
		for _, path := range paths {
			select {
			case jobs <- path:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	var wg errgroup.Group
	for range workers {
		wg.Go(func() error {
			for path := range jobs {
				res, err := p.IngestFile(gctx, path)
				if res == nil {
					res = &Result{Status: store.StatusFailed}
				}
				if err != nil && len(res.Errors) == 0 {
					res.Errors = append(res.Errors, err.Error())
					res.Status = store.StatusFailed
				}
				results <- res
			}
			return nil
		})
	}

	go func() {
		_ = wg.Wait()
		close(results)
	}()

	var out []*Result
	for res := range results {
		out = append(out, res)
	}
	return out, g.Wait()
}

// SourceID derives a stable source identifier from a file path, so
// re-ingesting the same file updates the same source.
func SourceID(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	sum := sha256.Sum256([]byte(abs))
	base := filepath.Base(abs)
	if ext := filepath.Ext(base); ext != "" {
		base = base[:len(base)-len(ext)]
	}
	return fmt.Sprintf("%s-%s", base, hex.EncodeToString(sum[:4]))
}

// dropRejected removes chunks the embedder rejected (every kind
// failed) and repairs the forest: each survivor reparents to its
// nearest surviving ancestor, and child/sibling lists are rebuilt in
// reading order. A rejected root is kept vector-free instead, since
// dropping it would leave the forest without a document chunk.
func dropRejected(kept, all []*store.ChunkNode) ([]*store.ChunkNode, []string) {
	if len(kept) == len(all) {
		return kept, nil
	}
	keptSet := make(map[string]bool, len(kept))
	for _, c := range kept {
		keptSet[c.ID] = true
	}

	var warnings []string
	survivors := make([]*store.ChunkNode, 0, len(all))
	for _, c := range all {
		switch {
		case keptSet[c.ID]:
			survivors = append(survivors, c)
		case c.ParentID == "":
			survivors = append(survivors, c)
			warnings = append(warnings,
				fmt.Sprintf("chunk %s persisted without vectors: every embedding kind failed", c.ID))
		default:
			warnings = append(warnings,
				fmt.Sprintf("chunk %s dropped: every embedding kind failed", c.ID))
		}
	}

	surviving := make(map[string]*store.ChunkNode, len(survivors))
	for _, c := range survivors {
		surviving[c.ID] = c
	}

	// hierarchyPath is root-first, so the last surviving entry is the
	// nearest surviving ancestor.
	for _, c := range survivors {
		path := c.HierarchyPath[:0:0]
		for _, id := range c.HierarchyPath {
			if surviving[id] != nil {
				path = append(path, id)
			}
		}
		c.HierarchyPath = path
		if len(path) > 0 {
			c.ParentID = path[len(path)-1]
		} else {
			c.ParentID = ""
		}
		c.ChildIDs = nil
		c.SiblingIDs = nil
	}
	for _, c := range survivors {
		if parent := surviving[c.ParentID]; parent != nil {
			parent.ChildIDs = append(parent.ChildIDs, c.ID)
		}
	}
	for _, c := range survivors {
		parent := surviving[c.ParentID]
		if parent == nil {
			continue
		}
		for _, sibID := range parent.ChildIDs {
			if sibID != c.ID {
				c.SiblingIDs = append(c.SiblingIDs, sibID)
			}
		}
	}
	return survivors, warnings
}

// withCallTimeout wraps a provider so each EmbedBatch call carries its
// own deadline.
func withCallTimeout(p embed.Provider, d time.Duration) embed.Provider {
	if d <= 0 {
		return p
	}
	return &timeoutProvider{Provider: p, timeout: d}
}

type timeoutProvider struct {
	embed.Provider
	timeout time.Duration
}

func (t *timeoutProvider) EmbedBatch(ctx context.Context, inputs []string) ([][]float32, error) {
	callCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.Provider.EmbedBatch(callCtx, inputs)
}
