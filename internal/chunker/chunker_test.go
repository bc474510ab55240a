package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chunkstack/chunkstack/internal/config"
	"github.com/chunkstack/chunkstack/internal/doctype"
	"github.com/chunkstack/chunkstack/internal/store"
	"github.com/chunkstack/chunkstack/internal/structure"
	"github.com/chunkstack/chunkstack/internal/token"
)

const guideText = `# Fund Management User Guide

This guide explains how to create and manage investment funds in the
platform, including fund setup, hierarchy management, and rebalancing.

## Creating a Fund

To create a fund, follow these steps carefully. Each step must be
completed before moving to the next one.

1. Open the Funds page and click New Fund to start the wizard.
2. Enter the fund name and select the base currency for the fund.
3. Choose the fund type and press Save to create the fund record.

After saving, the fund appears in the fund list with a pending status.
The administrator reviews the configuration before activation.

## Glossary

NAV is the net asset value of a fund. It means the total assets minus
liabilities divided by the number of outstanding shares. A share class
refers to a grouping of fund shares with common fee terms.
`

func testChunker() *Chunker {
	cfg := config.Default().Chunking
	return New(cfg, token.HeuristicCounter{}, 0.4)
}

func chunkGuide(t *testing.T, sourceID string) *Result {
	t.Helper()
	strategy := doctype.StrategyFor(store.DocTypeUserGuide)
	outline := structure.Analyze(guideText, strategy)
	res, err := testChunker().Chunk(Input{
		SourceID: sourceID,
		Version:  "v1",
		Text:     guideText,
		Outline:  outline,
		DocType:  store.DocTypeUserGuide,
		Strategy: strategy,
	})
	require.NoError(t, err)
	return res
}

func TestChunk_ForestIsValid(t *testing.T) {
	res := chunkGuide(t, "guide")
	require.NotEmpty(t, res.Chunks)
	assert.NoError(t, store.ValidateGraph(res.Chunks))
}

func TestChunk_HasAllScalesRooted(t *testing.T) {
	res := chunkGuide(t, "guide")

	var roots, sections int
	for _, c := range res.Chunks {
		switch c.Scale {
		case store.ScaleDocument:
			roots++
			assert.Empty(t, c.ParentID)
		case store.ScaleSection:
			sections++
		}
	}
	assert.Equal(t, 1, roots)
	assert.GreaterOrEqual(t, sections, 2)
}

func TestChunk_SectionPathsInherited(t *testing.T) {
	res := chunkGuide(t, "guide")

	found := false
	for _, c := range res.Chunks {
		if c.Scale == store.ScaleSection && c.Heading == "Creating a Fund" {
			found = true
			require.NotEmpty(t, c.SectionPath)
			assert.Equal(t, "Creating a Fund", c.SectionPath[len(c.SectionPath)-1])
		}
	}
	assert.True(t, found, "expected a section chunk for Creating a Fund")
}

func TestChunk_Deterministic(t *testing.T) {
	a := chunkGuide(t, "guide")
	b := chunkGuide(t, "guide")

	require.Equal(t, len(a.Chunks), len(b.Chunks))
	for i := range a.Chunks {
		assert.Equal(t, a.Chunks[i].ID, b.Chunks[i].ID)
	}
}

func TestChunk_IDsScopedBySource(t *testing.T) {
	a := chunkGuide(t, "guide-a")
	b := chunkGuide(t, "guide-b")

	ids := make(map[string]bool)
	for _, c := range a.Chunks {
		ids[c.ID] = true
	}
	for _, c := range b.Chunks {
		assert.False(t, ids[c.ID], "IDs must differ across sources")
	}
}

func TestChunk_CountsPopulated(t *testing.T) {
	res := chunkGuide(t, "guide")
	for _, c := range res.Chunks {
		assert.NotEmpty(t, c.Content)
		assert.Positive(t, c.TokenCount)
		assert.Positive(t, c.WordCount)
		assert.Positive(t, c.CharacterCount)
		assert.GreaterOrEqual(t, c.QualityScore, 0.4)
	}
}

func TestChunk_ProceduralSectionClassified(t *testing.T) {
	res := chunkGuide(t, "guide")

	var instructional int
	for _, c := range res.Chunks {
		if c.ContentType == store.ContentTypeInstructions {
			instructional++
			assert.Greater(t, c.InstructionalValue, 0.5)
		}
	}
	assert.Positive(t, instructional)
}

func TestChunk_EmptyDocument(t *testing.T) {
	strategy := doctype.StrategyFor(store.DocTypeUnknown)
	outline := structure.Analyze("", strategy)
	res, err := testChunker().Chunk(Input{
		SourceID: "empty",
		Version:  "v1",
		Text:     "",
		Outline:  outline,
		DocType:  store.DocTypeUnknown,
		Strategy: strategy,
	})
	require.NoError(t, err)

	require.Len(t, res.Chunks, 1)
	assert.Equal(t, store.ScaleDocument, res.Chunks[0].Scale)
	assert.NotEmpty(t, res.Warnings)
}

func TestChunk_OversizedDocumentTruncatesRoot(t *testing.T) {
	long := strings.Repeat("The fund rebalances quarterly under committee review. ", 2000)
	strategy := doctype.StrategyFor(store.DocTypeUnknown)
	outline := structure.Analyze(long, strategy)

	c := testChunker()
	res, err := c.Chunk(Input{
		SourceID: "big",
		Version:  "v1",
		Text:     long,
		Outline:  outline,
		DocType:  store.DocTypeUnknown,
		Strategy: strategy,
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.Chunks)

	root := res.Chunks[0]
	assert.Equal(t, store.ScaleDocument, root.Scale)
	assert.Less(t, len(root.Content), len(long))
	assert.NotEmpty(t, res.Warnings)
}

func TestChunk_PageNumbersFromCallback(t *testing.T) {
	strategy := doctype.StrategyFor(store.DocTypeUserGuide)
	outline := structure.Analyze(guideText, strategy)
	res, err := testChunker().Chunk(Input{
		SourceID: "paged",
		Version:  "v1",
		Text:     guideText,
		Outline:  outline,
		DocType:  store.DocTypeUserGuide,
		Strategy: strategy,
		PageOf: func(offset int) int {
			if offset > len(guideText)/2 {
				return 2
			}
			return 1
		},
	})
	require.NoError(t, err)

	pages := make(map[int]bool)
	for _, c := range res.Chunks {
		pages[c.PageNumber] = true
	}
	assert.True(t, pages[1])
	assert.True(t, pages[2])
}

func TestChunkID_OrdinalDisambiguates(t *testing.T) {
	a := ChunkID("s", store.ScaleSentence, []string{"Sec"}, "same text", 0)
	b := ChunkID("s", store.ScaleSentence, []string{"Sec"}, "same text", 1)
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 64)
}

func TestTruncateToTokens(t *testing.T) {
	text := "One sentence here. Two sentences here. Three sentences here."
	got := truncateToTokens(text, 8, token.HeuristicCounter{})
	assert.Less(t, len(got), len(text))
	assert.True(t, strings.HasSuffix(got, "."))
}

func TestTFIDFSimilarity(t *testing.T) {
	blocks := []string{
		"the fund rebalances quarterly under committee review",
		"quarterly rebalancing follows the fund committee schedule",
		"the kitchen recipe uses flour and butter",
	}
	m := newTFIDFModel(blocks)

	related := m.Similarity(blocks[0], blocks[1])
	unrelated := m.Similarity(blocks[0], blocks[2])
	assert.Greater(t, related, unrelated)
	assert.InDelta(t, 1.0, m.Similarity(blocks[0], blocks[0]), 1e-9)
}
