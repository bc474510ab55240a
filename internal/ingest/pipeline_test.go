package ingest

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
	cserr "github.com/chunkstack/chunkstack/internal/errors"
	"github.com/chunkstack/chunkstack/internal/store"
)

const guideDoc = `# Fund Management User Guide

This guide explains how to create and manage funds, how the fund
hierarchy works, and defines the terms used throughout the product.

## Creating a Fund

To create a new fund, follow these steps carefully.

1. Open the Funds page from the main navigation menu.
2. Click New Fund and enter the fund name in the dialog.
3. Select the base currency and press Save to finish.

After saving, the fund appears in the fund list immediately.

## Fund Hierarchy

Funds are organized in a hierarchy. A master fund can hold several
feeder funds, and each feeder fund reports into exactly one master.
The hierarchy view shows the full tree with current allocations.

## Glossary

NAV means the net asset value of a fund. It is computed as total
assets minus liabilities divided by the number of outstanding shares.
A feeder fund is a fund that invests exclusively through a master.
`

func writeGuide(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fund-guide.md")
	require.NoError(t, os.WriteFile(path, []byte(guideDoc), 0o644))
	return path
}

func newTestPipeline(t *testing.T, provider embed.Provider) (*Pipeline, *store.Store) {
	t.Helper()
	st, err := store.Open(context.Background(), "", store.Options{InMemory: true, Dimensions: 64})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	return New(config.Default(), st, provider, nil), st
}

func TestIngestFile_Completed(t *testing.T) {
	p, st := newTestPipeline(t, embed.NewStaticProvider(64))
	path := writeGuide(t)

	res, err := p.IngestFile(context.Background(), path)
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, store.StatusCompleted, res.Status)
	assert.NotEmpty(t, res.JobID)
	assert.Equal(t, store.DocTypeUserGuide, res.DocType)
	assert.Positive(t, res.Chunks)
	assert.Positive(t, res.Counts.Inserted)
	assert.Zero(t, res.Counts.Removed)
	require.NotNil(t, res.Report)
	assert.Positive(t, res.Report.Score)

	src, err := st.GetSource(context.Background(), res.SourceID)
	require.NoError(t, err)
	require.NotNil(t, src)
	assert.Equal(t, store.StatusCompleted, src.Status)
	assert.Equal(t, res.Version, src.Version)
}

func TestIngestFile_ReingestUnchangedKeepsChunks(t *testing.T) {
	p, _ := newTestPipeline(t, embed.NewStaticProvider(64))
	path := writeGuide(t)

	first, err := p.IngestFile(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, store.StatusCompleted, first.Status)

	second, err := p.IngestFile(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, store.StatusCompleted, second.Status)

	assert.Equal(t, first.SourceID, second.SourceID)
	assert.Zero(t, second.Counts.Inserted, "identical content should produce identical chunk IDs")
	assert.Zero(t, second.Counts.Removed)
	assert.Equal(t, first.Counts.Inserted, second.Counts.Kept)
}

func TestIngestFile_ChangedContentReplaces(t *testing.T) {
	p, _ := newTestPipeline(t, embed.NewStaticProvider(64))
	path := writeGuide(t)

	first, err := p.IngestFile(context.Background(), path)
	require.NoError(t, err)

	edited := strings.Replace(guideDoc, "press Save", "press Apply", 1)
	require.NoError(t, os.WriteFile(path, []byte(edited), 0o644))

	second, err := p.IngestFile(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, first.SourceID, second.SourceID)
	assert.NotEqual(t, first.Version, second.Version)
	assert.Positive(t, second.Counts.Inserted+second.Counts.Removed,
		"an edit must change at least one chunk")
}

func TestIngestFile_MissingFile(t *testing.T) {
	p, _ := newTestPipeline(t, embed.NewStaticProvider(64))

	_, err := p.IngestFile(context.Background(), filepath.Join(t.TempDir(), "absent.md"))
	assert.Error(t, err)
}

func TestIngestFile_NoProviderDegrades(t *testing.T) {
	p, st := newTestPipeline(t, nil)
	path := writeGuide(t)

	res, err := p.IngestFile(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, store.StatusCompleted, res.Status)
	assert.Positive(t, res.Counts.Inserted)
	assert.True(t, hasWarning(res.Warnings, "without vectors"))

	// Lexical search still works over the persisted chunks.
	hits, err := st.SearchByText(context.Background(), "create a fund", 5, store.SearchFilters{})
	require.NoError(t, err)
	assert.NotEmpty(t, hits)
}

func TestIngestFile_DimensionMismatchDegrades(t *testing.T) {
	// Store pinned at 64; provider advertises 32.
	p, _ := newTestPipeline(t, embed.NewStaticProvider(32))
	path := writeGuide(t)

	res, err := p.IngestFile(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, store.StatusCompleted, res.Status)
	assert.Positive(t, res.Counts.Inserted)
	assert.True(t, hasWarning(res.Warnings, "without vectors"))
}

func TestDropRejected_PromotesChildrenToGrandparent(t *testing.T) {
	doc := &store.ChunkNode{ID: "d", Scale: store.ScaleDocument,
		ChildIDs: []string{"s"}}
	sec := &store.ChunkNode{ID: "s", Scale: store.ScaleSection,
		ParentID: "d", HierarchyPath: []string{"d"}, ChildIDs: []string{"p1", "p2"}}
	p1 := &store.ChunkNode{ID: "p1", Scale: store.ScaleParagraph,
		ParentID: "s", HierarchyPath: []string{"d", "s"},
		SiblingIDs: []string{"p2"}, ChildIDs: []string{"x"}}
	p2 := &store.ChunkNode{ID: "p2", Scale: store.ScaleParagraph,
		ParentID: "s", HierarchyPath: []string{"d", "s"}, SiblingIDs: []string{"p1"}}
	x := &store.ChunkNode{ID: "x", Scale: store.ScaleSentence,
		ParentID: "p1", HierarchyPath: []string{"d", "s", "p1"}}
	all := []*store.ChunkNode{doc, sec, p1, p2, x}

	// sec's every embedding kind failed.
	survivors, warnings := dropRejected([]*store.ChunkNode{doc, p1, p2, x}, all)

	require.Len(t, survivors, 4)
	require.True(t, hasWarning(warnings, "chunk s dropped"))
	require.NoError(t, store.ValidateGraph(survivors))

	assert.Equal(t, "d", p1.ParentID)
	assert.Equal(t, []string{"d"}, p1.HierarchyPath)
	assert.Equal(t, []string{"p1", "p2"}, doc.ChildIDs)
	assert.Equal(t, []string{"p2"}, p1.SiblingIDs)
	assert.Equal(t, "p1", x.ParentID)
	assert.Equal(t, []string{"d", "p1"}, x.HierarchyPath)
}

func TestDropRejected_RejectedRootIsKeptWithoutVectors(t *testing.T) {
	doc := &store.ChunkNode{ID: "d", Scale: store.ScaleDocument, ChildIDs: []string{"s"}}
	sec := &store.ChunkNode{ID: "s", Scale: store.ScaleSection,
		ParentID: "d", HierarchyPath: []string{"d"}}
	all := []*store.ChunkNode{doc, sec}

	survivors, warnings := dropRejected([]*store.ChunkNode{sec}, all)

	require.Len(t, survivors, 2)
	assert.True(t, hasWarning(warnings, "chunk d persisted without vectors"))
	require.NoError(t, store.ValidateGraph(survivors))
	assert.Equal(t, "d", sec.ParentID)
}

type rejectingProvider struct {
	embed.Provider
}

func (p *rejectingProvider) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, cserr.New(cserr.ErrCodeProviderInvalid, "input rejected", nil)
}

// A provider failing every call rejects every chunk; only the document
// root survives, vector-free, so the source stays lexically reachable.
func TestIngestFile_ProviderRejectsEverything(t *testing.T) {
	ctx := context.Background()
	p, st := newTestPipeline(t, &rejectingProvider{Provider: embed.NewStaticProvider(64)})

	res, err := p.IngestFile(ctx, writeGuide(t))
	require.NoError(t, err)
	assert.Equal(t, store.StatusCompleted, res.Status)
	assert.True(t, hasWarning(res.Warnings, "every embedding kind failed"))
	assert.True(t, hasWarning(res.Warnings, "dropped"))

	chunks, err := st.Meta().ListChunksBySource(ctx, res.SourceID)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, store.ScaleDocument, chunks[0].Scale)
	assert.Empty(t, chunks[0].Embeddings)

	hits, err := st.SearchByText(ctx, "fund hierarchy", 5, store.SearchFilters{})
	require.NoError(t, err)
	assert.NotEmpty(t, hits)
}

type cancellingProvider struct {
	embed.Provider
	cancel context.CancelFunc
}

func (c *cancellingProvider) EmbedBatch(ctx context.Context, inputs []string) ([][]float32, error) {
	c.cancel()
	return nil, ctx.Err()
}

func TestIngestFile_CancelledMidEmbedDoesNotPersist(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p, st := newTestPipeline(t, &cancellingProvider{Provider: embed.NewStaticProvider(64), cancel: cancel})
	path := writeGuide(t)

	res, err := p.IngestFile(ctx, path)
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, store.StatusCancelled, res.Status)
	assert.Zero(t, res.Counts.Inserted)

	src, err := st.GetSource(context.Background(), res.SourceID)
	require.NoError(t, err)
	require.NotNil(t, src)
	assert.Equal(t, store.StatusCancelled, src.Status)

	hits, err := st.SearchByText(context.Background(), "fund", 5, store.SearchFilters{})
	require.NoError(t, err)
	assert.Empty(t, hits, "cancelled jobs must not leave partial chunk sets")
}

func TestIngestAll(t *testing.T) {
	p, _ := newTestPipeline(t, embed.NewStaticProvider(64))

	dir := t.TempDir()
	var paths []string
	for _, name := range []string{"alpha.md", "beta.md"} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(guideDoc), 0o644))
		paths = append(paths, path)
	}

	results, err := p.IngestAll(context.Background(), paths)
	require.NoError(t, err)
	require.Len(t, results, 2)

	ids := make(map[string]bool)
	for _, res := range results {
		assert.Equal(t, store.StatusCompleted, res.Status)
		ids[res.SourceID] = true
	}
	assert.Len(t, ids, 2, "distinct paths get distinct source IDs")
}

func TestSourceID(t *testing.T) {
	a := SourceID("/docs/fund-guide.md")
	b := SourceID("/docs/fund-guide.md")
	c := SourceID("/other/fund-guide.md")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.True(t, strings.HasPrefix(a, "fund-guide-"))
}

func hasWarning(warnings []string, substr string) bool {
	for _, w := range warnings {
		if strings.Contains(w, substr) {
			return true
		}
	}
	return false
}
