package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Both lexical backends must satisfy the same behavioural contract, so
// the core assertions run against each through a constructor table.
func lexicalBackends(t *testing.T) map[string]LexicalIndex {
	t.Helper()

	bleveIdx, err := NewBleveLexicalIndex("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = bleveIdx.Close() })

	ftsIdx, err := NewFTSLexicalIndex("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ftsIdx.Close() })

	return map[string]LexicalIndex{"bleve": bleveIdx, "sqlite": ftsIdx}
}

func seedLexical(t *testing.T, idx LexicalIndex) {
	t.Helper()
	require.NoError(t, idx.Index(context.Background(), []LexicalDoc{
		{ID: "c1", Content: "To rebalance a portfolio, open the Holdings tab and select Rebalance.", Heading: "Rebalancing"},
		{ID: "c2", Content: "A management fee is an annual charge expressed in basis points.", Heading: "Fee Schedule"},
		{ID: "c3", Content: "Quarterly statements are mailed to the address on file.", Heading: "Statements"},
	}))
}

func TestLexicalIndex_SearchRanksRelevantFirst(t *testing.T) {
	for name, idx := range lexicalBackends(t) {
		t.Run(name, func(t *testing.T) {
			seedLexical(t, idx)

			hits, err := idx.Search(context.Background(), "rebalance portfolio", 10)
			require.NoError(t, err)
			require.NotEmpty(t, hits)
			assert.Equal(t, "c1", hits[0].ChunkID)
			assert.NotEmpty(t, hits[0].MatchedTerms)
		})
	}
}

func TestLexicalIndex_StemmingMatchesVariants(t *testing.T) {
	for name, idx := range lexicalBackends(t) {
		t.Run(name, func(t *testing.T) {
			seedLexical(t, idx)

			// "rebalancing" should reach the chunk indexed as "rebalance".
			hits, err := idx.Search(context.Background(), "rebalancing", 10)
			require.NoError(t, err)
			require.NotEmpty(t, hits)
			assert.Equal(t, "c1", hits[0].ChunkID)
		})
	}
}

func TestLexicalIndex_EmptyQueryReturnsNothing(t *testing.T) {
	for name, idx := range lexicalBackends(t) {
		t.Run(name, func(t *testing.T) {
			seedLexical(t, idx)

			hits, err := idx.Search(context.Background(), "   ", 10)
			require.NoError(t, err)
			assert.Empty(t, hits)
		})
	}
}

func TestLexicalIndex_DeleteRemovesFromResults(t *testing.T) {
	for name, idx := range lexicalBackends(t) {
		t.Run(name, func(t *testing.T) {
			seedLexical(t, idx)
			ctx := context.Background()

			require.NoError(t, idx.Delete(ctx, []string{"c1"}))

			hits, err := idx.Search(ctx, "rebalance", 10)
			require.NoError(t, err)
			for _, h := range hits {
				assert.NotEqual(t, "c1", h.ChunkID)
			}
		})
	}
}

func TestLexicalIndex_ReindexUpdatesContent(t *testing.T) {
	for name, idx := range lexicalBackends(t) {
		t.Run(name, func(t *testing.T) {
			seedLexical(t, idx)
			ctx := context.Background()

			require.NoError(t, idx.Index(ctx, []LexicalDoc{
				{ID: "c3", Content: "Dividends are reinvested automatically.", Heading: "Dividends"},
			}))

			hits, err := idx.Search(ctx, "dividends reinvested", 10)
			require.NoError(t, err)
			require.NotEmpty(t, hits)
			assert.Equal(t, "c3", hits[0].ChunkID)

			// Old content no longer matches.
			hits, err = idx.Search(ctx, "quarterly statements mailed", 10)
			require.NoError(t, err)
			for _, h := range hits {
				assert.NotEqual(t, "c3", h.ChunkID)
			}
		})
	}
}

func TestLexicalIndex_IndexEmptyBatchIsNoop(t *testing.T) {
	for name, idx := range lexicalBackends(t) {
		t.Run(name, func(t *testing.T) {
			assert.NoError(t, idx.Index(context.Background(), nil))
			assert.NoError(t, idx.Delete(context.Background(), nil))
		})
	}
}
