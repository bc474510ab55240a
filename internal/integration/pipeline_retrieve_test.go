package integration

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chunkstack/chunkstack/internal/config"
	"github.com/chunkstack/chunkstack/internal/embed"
	"github.com/chunkstack/chunkstack/internal/ingest"
	"github.com/chunkstack/chunkstack/internal/retrieve"
	"github.com/chunkstack/chunkstack/internal/store"
)

// These tests exercise the full flow: document file -> ingestion
// pipeline -> persisted chunk forest -> hybrid retrieval.

const handbookDoc = `# Portfolio Handbook

This handbook explains day-to-day portfolio operations and defines the
terms the reports use.

## Rebalancing a Portfolio

Rebalancing restores the target asset allocation after market drift.

1. Open the portfolio from the dashboard and select Rebalance.
2. Review the proposed trades in the preview table.
3. Press Confirm to queue the trades for execution.

## Glossary

Drift means the difference between the current allocation and the
target allocation, expressed in percentage points.

Turnover means the fraction of portfolio value traded during
rebalancing.
`

func writeDoc(t *testing.T, name, text string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(text), 0o644))
	return path
}

// newEngine builds an in-memory store, a static provider, the pipeline,
// and a matching retriever sharing the same configuration.
func newEngine(t *testing.T, provider embed.Provider) (*ingest.Pipeline, *retrieve.Retriever, *store.Store) {
	t.Helper()

	dims := 0
	name := ""
	if provider != nil {
		dims = provider.Dimensions()
		name = provider.Name()
	}

	st, err := store.Open(context.Background(), "", store.Options{
		InMemory:   true,
		Dimensions: dims,
		Provider:   name,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	cfg := config.Default()
	pipe := ingest.New(cfg, st, provider, nil)
	ret := retrieve.New(st, provider, cfg.Retrieval, nil)
	return pipe, ret, st
}

func TestIngestThenRetrieve_ProcedureQuery(t *testing.T) {
	ctx := context.Background()
	provider := embed.NewStaticProvider(0)
	pipe, ret, _ := newEngine(t, provider)

	path := writeDoc(t, "handbook.md", handbookDoc)
	res, err := pipe.IngestFile(ctx, path)
	require.NoError(t, err)
	require.Equal(t, store.StatusCompleted, res.Status)
	require.Greater(t, res.Counts.Inserted, 0)

	out, err := ret.Retrieve(ctx, "How do I rebalance a portfolio?", retrieve.Options{K: 5})
	require.NoError(t, err)
	assert.False(t, out.Degraded)
	require.NotEmpty(t, out.Items)

	top := out.Items[0]
	assert.Equal(t, res.SourceID, top.Chunk.SourceID)
	assert.Contains(t, strings.ToLower(top.Chunk.Content), "rebalanc")
	assert.NotEmpty(t, top.Citation.SourceID)
}

func TestIngestThenRetrieve_DefinitionQuery(t *testing.T) {
	ctx := context.Background()
	pipe, ret, _ := newEngine(t, embed.NewStaticProvider(0))

	path := writeDoc(t, "handbook.md", handbookDoc)
	_, err := pipe.IngestFile(ctx, path)
	require.NoError(t, err)

	out, err := ret.Retrieve(ctx, "what does drift mean", retrieve.Options{K: 5})
	require.NoError(t, err)
	require.NotEmpty(t, out.Items)

	found := false
	for _, it := range out.Items {
		if strings.Contains(strings.ToLower(it.Chunk.Content), "drift") {
			found = true
		}
	}
	assert.True(t, found, "definition query should surface the glossary entry")
}

// The persisted forest must be a well-formed hierarchy: parents at a
// strictly coarser scale, every non-document chunk reachable from its
// parent's child list.
func TestIngest_PersistsWellFormedForest(t *testing.T) {
	ctx := context.Background()
	pipe, _, st := newEngine(t, embed.NewStaticProvider(0))

	path := writeDoc(t, "handbook.md", handbookDoc)
	res, err := pipe.IngestFile(ctx, path)
	require.NoError(t, err)

	chunks, err := st.Meta().ListChunksBySource(ctx, res.SourceID)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	scales := map[store.Scale]int{}
	for _, c := range chunks {
		scales[c.Scale]++
		if c.ParentID == "" {
			assert.Equal(t, store.ScaleDocument, c.Scale, "only document chunks may be roots")
			continue
		}
		parent, err := st.Meta().GetParent(ctx, c.ID)
		require.NoError(t, err)
		require.NotNil(t, parent, "parent of %s must exist", c.ID)
		assert.True(t, parent.Scale.Coarser(c.Scale),
			"parent %s (%s) must be coarser than %s (%s)", parent.ID, parent.Scale, c.ID, c.Scale)

		children, err := st.Meta().GetChildren(ctx, parent.ID)
		require.NoError(t, err)
		ids := make([]string, 0, len(children))
		for _, ch := range children {
			ids = append(ids, ch.ID)
		}
		assert.Contains(t, ids, c.ID)
	}

	assert.Equal(t, 1, scales[store.ScaleDocument])
	assert.Greater(t, scales[store.ScaleSection], 0)
	assert.Greater(t, scales[store.ScaleParagraph], 0)
}

func TestReingestChangedDoc_ReplacesRetrievableContent(t *testing.T) {
	ctx := context.Background()
	pipe, ret, st := newEngine(t, embed.NewStaticProvider(0))

	dir := t.TempDir()
	path := filepath.Join(dir, "handbook.md")
	require.NoError(t, os.WriteFile(path, []byte(handbookDoc), 0o644))

	first, err := pipe.IngestFile(ctx, path)
	require.NoError(t, err)

	changed := strings.Replace(handbookDoc, "Press Confirm", "Press Submit", 1)
	require.NoError(t, os.WriteFile(path, []byte(changed), 0o644))

	second, err := pipe.IngestFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, first.SourceID, second.SourceID)
	assert.NotEqual(t, first.Version, second.Version)

	// A one-line edit keeps most chunks; the kept ones must still be
	// stitched into the new forest, not left dangling at the old root.
	require.Greater(t, second.Counts.Kept, 0)
	chunks, err := st.Meta().ListChunksBySource(ctx, second.SourceID)
	require.NoError(t, err)
	for _, c := range chunks {
		assert.Equal(t, second.Version, c.Version,
			"chunk %s still carries version %s", c.ID, c.Version)
		if c.ParentID == "" {
			continue
		}
		parent, err := st.Meta().GetParent(ctx, c.ID)
		require.NoError(t, err)
		assert.NotNil(t, parent, "chunk %s parent %s must resolve", c.ID, c.ParentID)
	}

	out, err := ret.Retrieve(ctx, "queue the trades for execution", retrieve.Options{K: 10})
	require.NoError(t, err)
	for _, it := range out.Items {
		assert.Equal(t, second.Version, it.Chunk.Version,
			"stale version %s must not be retrievable", it.Chunk.Version)
	}
}

func TestDeleteSource_RemovesFromRetrieval(t *testing.T) {
	ctx := context.Background()
	pipe, ret, st := newEngine(t, embed.NewStaticProvider(0))

	path := writeDoc(t, "handbook.md", handbookDoc)
	res, err := pipe.IngestFile(ctx, path)
	require.NoError(t, err)

	require.NoError(t, st.DeleteSource(ctx, res.SourceID))

	out, err := ret.Retrieve(ctx, "rebalance portfolio drift", retrieve.Options{K: 10})
	require.NoError(t, err)
	assert.Empty(t, out.Items)

	n, err := st.Meta().CountChunks(ctx, res.SourceID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

// Without a provider the pipeline persists chunks vector-free and
// retrieval degrades to lexical evidence only.
func TestLexicalOnly_EndToEnd(t *testing.T) {
	ctx := context.Background()
	pipe, ret, _ := newEngine(t, nil)

	path := writeDoc(t, "handbook.md", handbookDoc)
	res, err := pipe.IngestFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, store.StatusCompleted, res.Status)

	out, err := ret.Retrieve(ctx, "rebalancing target allocation", retrieve.Options{K: 5})
	require.NoError(t, err)
	assert.True(t, out.Degraded)
	require.NotEmpty(t, out.Items)
	assert.Equal(t, retrieve.StrategyLexical, out.Items[0].Strategy)
}

func TestIngestAll_MultipleDocumentsShareStore(t *testing.T) {
	ctx := context.Background()
	pipe, ret, st := newEngine(t, embed.NewStaticProvider(0))

	dir := t.TempDir()
	guide := filepath.Join(dir, "handbook.md")
	require.NoError(t, os.WriteFile(guide, []byte(handbookDoc), 0o644))

	faq := filepath.Join(dir, "faq.md")
	faqDoc := `# Billing FAQ

## Questions

Q: How often are invoices issued?
A: Invoices are issued on the first business day of each month.

Q: Can I change the billing currency?
A: Yes, from the account settings page, before the next cycle starts.
`
	require.NoError(t, os.WriteFile(faq, []byte(faqDoc), 0o644))

	results, err := pipe.IngestAll(ctx, []string{guide, faq})
	require.NoError(t, err)
	require.Len(t, results, 2)

	sources, err := st.ListSources(ctx, store.SourceFilter{})
	require.NoError(t, err)
	assert.Len(t, sources, 2)

	out, err := ret.Retrieve(ctx, "how often are invoices issued", retrieve.Options{K: 3})
	require.NoError(t, err)
	require.NotEmpty(t, out.Items)
	assert.Equal(t, ingest.SourceID(faq), out.Items[0].Chunk.SourceID)
}
