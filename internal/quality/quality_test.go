package quality

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chunkstack/chunkstack/internal/store"
	"github.com/chunkstack/chunkstack/internal/structure"
)

func words(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = "fund"
	}
	return strings.Join(parts, " ")
}

func TestScoreChunk_Base(t *testing.T) {
	c := &store.ChunkNode{WordCount: 10, ContentType: store.ContentTypeText}
	got := ScoreChunk(c, structure.Characteristics{}, store.DocTypeUserGuide)
	assert.InDelta(t, 0.5, got, 1e-9)
}

func TestScoreChunk_LengthBumps(t *testing.T) {
	c := &store.ChunkNode{WordCount: 120, ContentType: store.ContentTypeText}
	assert.InDelta(t, 0.6, ScoreChunk(c, structure.Characteristics{}, store.DocTypeUserGuide), 1e-9)

	c.WordCount = 600
	assert.InDelta(t, 0.7, ScoreChunk(c, structure.Characteristics{}, store.DocTypeUserGuide), 1e-9)
}

func TestScoreChunk_ProceduralSteps(t *testing.T) {
	c := &store.ChunkNode{WordCount: 150, ContentType: store.ContentTypeInstructions}
	chars := structure.Characteristics{IsProcedural: true, HasStepByStep: true}
	assert.InDelta(t, 0.7, ScoreChunk(c, chars, store.DocTypeUserGuide), 1e-9)
}

func TestScoreChunk_TOCPenaltyInGuides(t *testing.T) {
	c := &store.ChunkNode{WordCount: 50, ContentType: store.ContentTypeTableOfContents}
	assert.InDelta(t, 0.2, ScoreChunk(c, structure.Characteristics{}, store.DocTypeUserGuide), 1e-9)

	// The penalty applies only to instructional document types.
	assert.InDelta(t, 0.5, ScoreChunk(c, structure.Characteristics{}, store.DocTypeTechnicalSpec), 1e-9)
}

func TestScoreChunk_Clamped(t *testing.T) {
	c := &store.ChunkNode{WordCount: 600, ContentType: store.ContentTypeDefinitions}
	chars := structure.Characteristics{
		IsProcedural:   true,
		HasStepByStep:  true,
		HasDefinitions: true,
	}
	got := ScoreChunk(c, chars, store.DocTypeUserGuide)
	assert.LessOrEqual(t, got, 1.0)
}

func TestInstructionalValue(t *testing.T) {
	steps := structure.Characteristics{HasStepByStep: true}
	none := structure.Characteristics{}

	cases := []struct {
		ct    store.ContentType
		chars structure.Characteristics
		want  float64
	}{
		{store.ContentTypeInstructions, steps, 1.0},
		{store.ContentTypeInstructions, none, 0.8},
		{store.ContentTypeExamples, none, 0.7},
		{store.ContentTypeFAQ, none, 0.6},
		{store.ContentTypeDefinitions, none, 0.5},
		{store.ContentTypeTableOfContents, none, 0.1},
		{store.ContentTypeText, steps, 0.6},
		{store.ContentTypeText, none, 0.3},
	}
	for _, tc := range cases {
		c := &store.ChunkNode{ContentType: tc.ct}
		assert.InDelta(t, tc.want, InstructionalValue(c, tc.chars), 1e-9, string(tc.ct))
	}
}

func TestDiversity(t *testing.T) {
	assert.Zero(t, Diversity(""))
	assert.InDelta(t, 1.0, Diversity("alpha beta gamma"), 1e-9)
	assert.InDelta(t, 0.25, Diversity("fund fund fund fund"), 1e-9)
}

func TestMarkDuplicates_Exact(t *testing.T) {
	chunks := []*store.ChunkNode{
		{ID: "a", Content: "The fund rebalances quarterly."},
		{ID: "b", Content: "the  fund   rebalances quarterly."}, // whitespace/case only
		{ID: "c", Content: "Net asset value is computed daily."},
	}
	n := MarkDuplicates(chunks, 0.9)
	assert.Equal(t, 1, n)
	assert.False(t, chunks[0].Duplicate, "first occurrence stays unflagged")
	assert.True(t, chunks[1].Duplicate)
	assert.False(t, chunks[2].Duplicate)
}

func TestMarkDuplicates_NearDuplicate(t *testing.T) {
	base := "to create a fund open the funds page click new fund enter the fund name select the base currency and save the record"
	near := base + " now"
	chunks := []*store.ChunkNode{
		{ID: "a", Content: base},
		{ID: "b", Content: near},
	}
	n := MarkDuplicates(chunks, 0.9)
	assert.Equal(t, 1, n)
	assert.True(t, chunks[1].Duplicate)
}

func TestMarkDuplicates_DistinctBelowThreshold(t *testing.T) {
	chunks := []*store.ChunkNode{
		{ID: "a", Content: "to create a fund open the funds page and click new fund"},
		{ID: "b", Content: "net asset value equals total assets minus liabilities divided by shares"},
	}
	assert.Zero(t, MarkDuplicates(chunks, 0.9))
}

func TestCanonicalize(t *testing.T) {
	assert.Equal(t, "fund manager guide", Canonicalize("  Fund\tManager\n  GUIDE "))
}

func TestFleschReadingEase(t *testing.T) {
	assert.Zero(t, FleschReadingEase(""))

	simple := "The cat sat. The dog ran. We had fun."
	dense := "Notwithstanding heterogeneous organisational considerations, institutional rebalancing methodologies necessitate comprehensive administrative coordination."
	assert.Greater(t, FleschReadingEase(simple), FleschReadingEase(dense))
	assert.Greater(t, FleschReadingEase(simple), 80.0)
}

func reportChunks(dims int) []*store.ChunkNode {
	emb := make([]float32, dims)
	for i := range emb {
		emb[i] = 0.1
	}
	root := &store.ChunkNode{
		ID: "root", Scale: store.ScaleDocument,
		Content: words(200), WordCount: 200, TokenCount: 260, CharacterCount: 1000,
		ContentType:  store.ContentTypeText,
		QualityScore: 0.7,
		Embeddings:   map[store.EmbeddingKind][]float32{store.KindContent: emb},
	}
	sec := &store.ChunkNode{
		ID: "sec", ParentID: "root", Scale: store.ScaleSection,
		Content: words(150), WordCount: 150, TokenCount: 200, CharacterCount: 750,
		ContentType:  store.ContentTypeInstructions,
		QualityScore: 0.8,
		Embeddings:   map[store.EmbeddingKind][]float32{store.KindContent: emb},
	}
	return []*store.ChunkNode{root, sec}
}

func TestBuildReport_HealthyForest(t *testing.T) {
	r := BuildReport("guide-1", reportChunks(4), 4)
	require.NotNil(t, r)

	assert.Equal(t, "guide-1", r.SourceID)
	assert.Equal(t, 2, r.ChunkCount)
	assert.Empty(t, r.Issues)
	assert.InDelta(t, 1.0, r.BasicMetrics, 1e-9)
	assert.InDelta(t, 1.0, r.StructuralFit, 1e-9)
	assert.InDelta(t, 1.0, r.Duplicates, 1e-9)
	assert.InDelta(t, 1.0, r.Embeddings, 1e-9)
	assert.Greater(t, r.Score, 70.0)
}

func TestBuildReport_Empty(t *testing.T) {
	r := BuildReport("empty", nil, 4)
	assert.Equal(t, "Very Poor", r.Grade)
	assert.NotEmpty(t, r.Issues)
}

func TestBuildReport_OrphanIsIssue(t *testing.T) {
	chunks := reportChunks(4)
	chunks[1].ParentID = "missing"
	r := BuildReport("guide-1", chunks, 4)
	assert.NotEmpty(t, r.Issues)
	assert.Less(t, r.StructuralFit, 1.0)
}

func TestBuildReport_DegradedEmbeddings(t *testing.T) {
	r := BuildReport("guide-1", reportChunks(4), 0)
	assert.Zero(t, r.Embeddings)
	assert.NotEmpty(t, r.Warnings)
	// Losing the 10-point embedding axis alone cannot drop a healthy
	// source below the Fair line.
	assert.Greater(t, r.Score, 60.0)
}

func TestGradeFor(t *testing.T) {
	assert.Equal(t, "Excellent", gradeFor(92))
	assert.Equal(t, "Good", gradeFor(85))
	assert.Equal(t, "Fair", gradeFor(71))
	assert.Equal(t, "Poor", gradeFor(60))
	assert.Equal(t, "Very Poor", gradeFor(59.9))
}
