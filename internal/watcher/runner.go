package watcher

import (
	"context"
	"log/slog"

	"github.com/chunkstack/chunkstack/internal/ingest"
	"github.com/chunkstack/chunkstack/internal/store"
)

// Runner consumes watch batches and applies them to the store through
// the ingestion pipeline: upserts re-ingest, removals delete the
// source and all its chunks.
type Runner struct {
	watcher  *Watcher
	pipeline *ingest.Pipeline
	store    *store.Store
	log      *slog.Logger
}

func NewRunner(w *Watcher, p *ingest.Pipeline, st *store.Store, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{watcher: w, pipeline: p, store: st, log: logger}
}

// Run blocks, applying batches until ctx is cancelled or the watcher
// stops. A failed ingest is logged and the loop continues; one broken
// file must not stall the watch.
func (r *Runner) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case batch, ok := <-r.watcher.Batches():
			if !ok {
				return nil
			}
			r.apply(ctx, batch)
		}
	}
}

func (r *Runner) apply(ctx context.Context, batch []Event) {
	for _, ev := range batch {
		switch ev.Op {
		case OpUpsert:
			res, err := r.pipeline.IngestFile(ctx, ev.Path)
			if err != nil {
				r.log.Warn("re-ingest failed", "path", ev.Path, "error", err)
				continue
			}
			r.log.Info("re-ingested",
				"path", ev.Path,
				"source", res.SourceID,
				"status", string(res.Status),
				"inserted", res.Counts.Inserted,
				"removed", res.Counts.Removed)
		case OpRemove:
			sourceID := ingest.SourceID(ev.Path)
			if err := r.store.DeleteSource(ctx, sourceID); err != nil {
				r.log.Warn("source delete failed", "path", ev.Path, "source", sourceID, "error", err)
				continue
			}
			r.log.Info("source removed", "path", ev.Path, "source", sourceID)
		}
	}
}
