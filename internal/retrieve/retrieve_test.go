package retrieve

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chunkstack/chunkstack/internal/config"
	"github.com/chunkstack/chunkstack/internal/embed"
	"github.com/chunkstack/chunkstack/internal/query"
	"github.com/chunkstack/chunkstack/internal/store"
)

// guideChunks builds a small fund-guide forest with embeddings from
// the static provider, so vector and lexical search agree on content.
func guideChunks(t *testing.T, provider embed.Provider, sourceID string) []*store.ChunkNode {
	t.Helper()

	root := &store.ChunkNode{
		ID: sourceID + "-doc", SourceID: sourceID, Version: "v1",
		Scale:   store.ScaleDocument,
		Heading: "Fund Management User Guide",
		Content: "This guide explains creating funds, fund hierarchy, and the glossary of fund terms.",
		ContentType: store.ContentTypeText, QualityScore: 0.6, InstructionalValue: 0.3,
		WordCount: 13,
	}
	create := &store.ChunkNode{
		ID: sourceID + "-create", SourceID: sourceID, Version: "v1",
		Scale: store.ScaleSection, ParentID: root.ID,
		Heading:     "Creating a Fund",
		SectionPath: []string{"Fund Management User Guide", "Creating a Fund"},
		Content:     "To create a fund, open the Funds page, click New Fund, enter the fund name, select the base currency, and press Save.",
		ContentType: store.ContentTypeInstructions, QualityScore: 0.7, InstructionalValue: 1.0,
		WordCount: 22, PageNumber: 3,
		HierarchyPath: []string{root.ID},
	}
	glossary := &store.ChunkNode{
		ID: sourceID + "-nav", SourceID: sourceID, Version: "v1",
		Scale: store.ScaleSection, ParentID: root.ID,
		Heading:     "Glossary",
		SectionPath: []string{"Fund Management User Guide", "Glossary"},
		Content:     "NAV is the net asset value of a fund. It means total assets minus liabilities divided by outstanding shares.",
		ContentType: store.ContentTypeDefinitions, QualityScore: 0.7, InstructionalValue: 0.5,
		WordCount: 19, PageNumber: 9,
		HierarchyPath: []string{root.ID},
	}
	root.ChildIDs = []string{create.ID, glossary.ID}
	create.SiblingIDs = []string{glossary.ID}
	glossary.SiblingIDs = []string{create.ID}

	chunks := []*store.ChunkNode{root, create, glossary}
	attachEmbeddings(t, provider, chunks)
	return chunks
}

func attachEmbeddings(t *testing.T, provider embed.Provider, chunks []*store.ChunkNode) {
	t.Helper()
	for _, c := range chunks {
		c.Embeddings = make(map[store.EmbeddingKind][]float32)
		for _, kind := range store.AllKinds {
			input := embed.BuildInput(kind, c, nil, nil)
			vecs, err := provider.EmbedBatch(context.Background(), []string{input})
			require.NoError(t, err)
			c.Embeddings[kind] = vecs[0]
		}
	}
}

func newTestRetriever(t *testing.T) (*Retriever, *store.Store, embed.Provider) {
	t.Helper()
	provider := embed.NewStaticProvider(64)

	st, err := store.Open(context.Background(), "", store.Options{InMemory: true, Dimensions: 64})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	require.NoError(t, st.PutSource(ctx, &store.Source{ID: "guide", Version: "v1", Status: store.StatusCompleted}))
	_, err = st.ReplaceChunks(ctx, "guide", guideChunks(t, provider, "guide"))
	require.NoError(t, err)

	r := New(st, provider, config.Default().Retrieval, nil)
	return r, st, provider
}

func TestRetrieve_ProcedureQueryPrefersInstructions(t *testing.T) {
	r, _, _ := newTestRetriever(t)

	res, err := r.Retrieve(context.Background(), "How do I create a fund?", Options{K: 3})
	require.NoError(t, err)
	require.NotEmpty(t, res.Items)

	assert.Equal(t, query.TypeProcedure, res.QueryType)
	assert.Equal(t, "guide-create", res.Items[0].Chunk.ID)
	assert.Equal(t, "Creating a Fund", res.Items[0].Citation.Heading)
	assert.Greater(t, res.Items[0].Score, 0.0)
	assert.False(t, res.Degraded)
}

func TestRetrieve_DefinitionQueryPrefersGlossary(t *testing.T) {
	r, _, _ := newTestRetriever(t)

	res, err := r.Retrieve(context.Background(), "what is NAV", Options{K: 3})
	require.NoError(t, err)
	require.NotEmpty(t, res.Items)

	assert.Equal(t, query.TypeDefinition, res.QueryType)
	assert.Equal(t, "guide-nav", res.Items[0].Chunk.ID)
}

func TestRetrieve_EmptyQuery(t *testing.T) {
	r, _, _ := newTestRetriever(t)
	_, err := r.Retrieve(context.Background(), "   ", Options{})
	assert.Error(t, err)
}

func TestRetrieve_NilProviderDegradesToLexical(t *testing.T) {
	_, st, _ := newTestRetriever(t)

	r := New(st, nil, config.Default().Retrieval, nil)
	res, err := r.Retrieve(context.Background(), "create a fund", Options{K: 3})
	require.NoError(t, err)

	assert.True(t, res.Degraded)
	require.NotEmpty(t, res.Items)
	assert.Equal(t, StrategyLexical, res.Items[0].Strategy)
}

func TestRetrieve_DimensionMismatchDegrades(t *testing.T) {
	_, st, _ := newTestRetriever(t)

	wrong := embed.NewStaticProvider(32) // store pinned at 64
	r := New(st, wrong, config.Default().Retrieval, nil)

	res, err := r.Retrieve(context.Background(), "create a fund", Options{K: 3})
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	require.NotEmpty(t, res.Items)
}

func TestRetrieve_StrategyStatsPopulated(t *testing.T) {
	r, _, _ := newTestRetriever(t)

	res, err := r.Retrieve(context.Background(), "fund hierarchy", Options{K: 5})
	require.NoError(t, err)

	total := 0
	for _, stats := range res.Stats {
		total += stats.Candidates
	}
	assert.Positive(t, total)
}

func TestRetrieve_DiversityCap(t *testing.T) {
	provider := embed.NewStaticProvider(64)
	st, err := store.Open(context.Background(), "", store.Options{InMemory: true, Dimensions: 64})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	require.NoError(t, st.PutSource(ctx, &store.Source{ID: "big", Version: "v1"}))

	// One root plus six near-identical sections that all match the
	// query, in a single source.
	root := &store.ChunkNode{
		ID: "big-doc", SourceID: "big", Version: "v1",
		Scale: store.ScaleDocument, Content: "Rebalancing handbook.",
		ContentType: store.ContentTypeText, QualityScore: 0.5,
	}
	chunks := []*store.ChunkNode{root}
	for i := range 6 {
		c := &store.ChunkNode{
			ID: fmt.Sprintf("big-s%d", i), SourceID: "big", Version: "v1",
			Scale: store.ScaleSection, ParentID: root.ID,
			Content:     fmt.Sprintf("Section %d describes portfolio rebalancing rules and schedules.", i),
			ContentType: store.ContentTypeText, QualityScore: 0.6,
			HierarchyPath: []string{root.ID},
		}
		root.ChildIDs = append(root.ChildIDs, c.ID)
		chunks = append(chunks, c)
	}
	attachEmbeddings(t, provider, chunks)
	_, err = st.ReplaceChunks(ctx, "big", chunks)
	require.NoError(t, err)

	r := New(st, provider, config.Default().Retrieval, nil)
	res, err := r.Retrieve(ctx, "portfolio rebalancing rules", Options{K: 10, MaxChunksPerSource: 3})
	require.NoError(t, err)

	perSource := make(map[string]int)
	for _, it := range res.Items {
		perSource[it.Chunk.SourceID]++
	}
	assert.Equal(t, 3, perSource["big"])
}

func TestRetrieve_HierarchicalExpansion(t *testing.T) {
	r, _, _ := newTestRetriever(t)

	// Anchors are restricted to sections so the parent document chunk
	// can only arrive through expansion.
	res, err := r.Retrieve(context.Background(), "How do I create a fund?", Options{
		K:                     3,
		Filters:               store.SearchFilters{Scale: store.ScaleSection},
		HierarchicalExpansion: true,
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.Items)
	assert.LessOrEqual(t, len(res.Items), 3)

	var expansions int
	for _, it := range res.Items {
		if it.Strategy == StrategyExpansion {
			expansions++
			assert.Equal(t, store.ScaleDocument, it.Chunk.Scale)
			assert.Less(t, it.Score, res.Items[0].Score)
		}
	}
	assert.Positive(t, expansions, "expected the parent document to be included")
}

// Expansion context competes for the K slots; it never grows the
// result past K.
func TestRetrieve_ExpansionRespectsK(t *testing.T) {
	r, _, _ := newTestRetriever(t)

	res, err := r.Retrieve(context.Background(), "How do I create a fund?", Options{
		K:                     1,
		HierarchicalExpansion: true,
		SemanticExpansion:     true,
		MaxExpansionChunks:    3,
	})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.NotEqual(t, StrategyExpansion, res.Items[0].Strategy,
		"expansion context must not displace the anchor")
}

// With mitigation enabled the two strongest items sit at the edges
// even when expansion added context mid-list.
func TestRetrieve_ExpansionKeepsEdgeOrdering(t *testing.T) {
	r, _, _ := newTestRetriever(t)

	res, err := r.Retrieve(context.Background(), "How do I create a fund?", Options{
		K:                      3,
		Filters:                store.SearchFilters{Scale: store.ScaleSection},
		HierarchicalExpansion:  true,
		LostInMiddleMitigation: true,
	})
	require.NoError(t, err)
	require.Len(t, res.Items, 3)

	first := res.Items[0].Score
	last := res.Items[len(res.Items)-1].Score
	for _, it := range res.Items[1 : len(res.Items)-1] {
		assert.LessOrEqual(t, it.Score, first)
		assert.LessOrEqual(t, it.Score, last)
	}
}

func TestReorderLostInMiddle(t *testing.T) {
	mk := func(id string, score float64) Item {
		return Item{Chunk: &store.ChunkNode{ID: id}, Score: score}
	}

	// n <= 2 is untouched.
	two := []Item{mk("a", 0.9), mk("b", 0.8)}
	assert.Equal(t, two, reorderLostInMiddle(two))

	items := []Item{mk("a", 0.9), mk("b", 0.8), mk("c", 0.7), mk("d", 0.6), mk("e", 0.5)}
	got := reorderLostInMiddle(items)

	require.Len(t, got, 5)
	assert.Equal(t, "a", got[0].Chunk.ID, "best item first")
	assert.Equal(t, "b", got[4].Chunk.ID, "second-best item last")

	seen := make(map[string]bool)
	for _, it := range got {
		seen[it.Chunk.ID] = true
	}
	assert.Len(t, seen, 5, "no duplicates or losses")
}

func TestApplyDiversityCaps_PageCap(t *testing.T) {
	mk := func(id string, page int, score float64) Item {
		return Item{Chunk: &store.ChunkNode{ID: id, SourceID: "s", PageNumber: page}, Score: score}
	}
	items := []Item{mk("a", 1, 0.9), mk("b", 1, 0.8), mk("c", 1, 0.7), mk("d", 2, 0.6)}

	got := applyDiversityCaps(items, 0, 2)
	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].Chunk.ID)
	assert.Equal(t, "b", got[1].Chunk.ID)
	assert.Equal(t, "d", got[2].Chunk.ID)
}

func TestContentTypeMatch_Overrides(t *testing.T) {
	base := contentTypeMatch(query.TypeProcedure, store.ContentTypeInstructions, nil)
	assert.InDelta(t, 1.5, base, 1e-9)

	over := contentTypeMatch(query.TypeProcedure, store.ContentTypeInstructions,
		map[string]float64{"procedure/instructions": 0.2})
	assert.InDelta(t, 0.2, over, 1e-9)
}
