// Package store is the persistence layer for sources, chunks, their
// graph edges, and their vector and lexical indexes. It is the single
// subsystem that mutates persistent state; everything else reads
// through it.
package store

import (
	"context"
	"fmt"
	"time"
)

// Scale is the granularity of a chunk, ordered coarse to fine.
type Scale string

const (
	ScaleDocument  Scale = "document"
	ScaleSection   Scale = "section"
	ScaleParagraph Scale = "paragraph"
	ScaleSentence  Scale = "sentence"
)

// scaleRank orders scales coarse (low) to fine (high).
var scaleRank = map[Scale]int{
	ScaleDocument:  0,
	ScaleSection:   1,
	ScaleParagraph: 2,
	ScaleSentence:  3,
}

// Coarser reports whether s is strictly coarser than other.
func (s Scale) Coarser(other Scale) bool {
	return scaleRank[s] < scaleRank[other]
}

// Valid reports whether s is a known scale.
func (s Scale) Valid() bool {
	_, ok := scaleRank[s]
	return ok
}

// ContentType classifies what a chunk's text is.
type ContentType string

const (
	ContentTypeInstructions    ContentType = "instructions"
	ContentTypeTableOfContents ContentType = "tableOfContents"
	ContentTypeDefinitions     ContentType = "definitions"
	ContentTypeExamples        ContentType = "examples"
	ContentTypeFAQ             ContentType = "faq"
	ContentTypeText            ContentType = "text"
)

// DocFormat is the detected file format of a source.
type DocFormat string

const (
	FormatPDF      DocFormat = "pdf"
	FormatDOCX     DocFormat = "docx"
	FormatHTML     DocFormat = "html"
	FormatMarkdown DocFormat = "markdown"
	FormatText     DocFormat = "text"
	FormatUnknown  DocFormat = "unknown"
)

// DocType is the detected document type of a source.
type DocType string

const (
	DocTypeUserGuide       DocType = "userGuide"
	DocTypeQuickStart      DocType = "quickStart"
	DocTypeTechnicalSpec   DocType = "technicalSpec"
	DocTypeFAQ             DocType = "faq"
	DocTypeTroubleshooting DocType = "troubleshooting"
	DocTypeUnknown         DocType = "unknown"
)

// Status is the processing state of a source.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is a terminal state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// EmbeddingKind identifies one of the multi-scale embedding inputs.
type EmbeddingKind string

const (
	KindContent      EmbeddingKind = "content"
	KindContextual   EmbeddingKind = "contextual"
	KindHierarchical EmbeddingKind = "hierarchical"
	KindSemantic     EmbeddingKind = "semantic"
)

// AllKinds lists every embedding kind in storage column order.
var AllKinds = []EmbeddingKind{KindContent, KindContextual, KindHierarchical, KindSemantic}

// Source represents one ingested document. It owns all its chunks.
type Source struct {
	ID          string
	Version     string
	ContentHash string // hex SHA-256 of the original bytes
	SizeBytes   int64
	Filename    string
	Format      DocFormat
	Type        DocType
	Status      Status
	Error       string // last ingestion error, if any
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ChunkNode is a fragment of a source at a given scale, with graph
// edges expressed as ID references (never pointers, so the graph is
// an arena keyed by chunk ID).
type ChunkNode struct {
	ID       string
	SourceID string
	Version  string
	Scale    Scale

	Content     string
	Heading     string
	SectionPath []string // heading strings, root-first
	PageNumber  int      // 1-based; 0 means unknown

	TokenCount     int
	WordCount      int
	CharacterCount int

	ContentType           ContentType
	ContentTypeConfidence float64
	QualityScore          float64
	InstructionalValue    float64
	Language              string

	ParentID      string   // empty for the root document chunk
	ChildIDs      []string // reading order
	SiblingIDs    []string // same parent, reading order, excludes self
	HierarchyPath []string // ancestor chunk IDs, root-first

	Embeddings map[EmbeddingKind][]float32

	Duplicate bool // flagged by duplicate detection, kept with marker

	CreatedAt time.Time
}

// Citation identifies where a chunk came from, for downstream display.
type Citation struct {
	SourceID    string
	Version     string
	Heading     string
	SectionPath []string
	PageNumber  int
}

// Citation builds the citation record for a chunk.
func (c *ChunkNode) Citation() Citation {
	return Citation{
		SourceID:    c.SourceID,
		Version:     c.Version,
		Heading:     c.Heading,
		SectionPath: c.SectionPath,
		PageNumber:  c.PageNumber,
	}
}

// SearchFilters restricts vector and lexical searches.
// Zero values mean "no restriction".
type SearchFilters struct {
	SourceID    string
	Scale       Scale
	ContentType ContentType
}

// VectorHit is a single vector search result.
type VectorHit struct {
	ChunkID string
	Score   float32 // cosine similarity mapped to [0,1]
}

// LexicalHit is a single full-text search result.
type LexicalHit struct {
	ChunkID      string
	Score        float64
	MatchedTerms []string
}

// SourceFilter restricts ListSources.
type SourceFilter struct {
	Status Status
	Type   DocType
}

// ReplaceStats reports what a ReplaceChunks call changed.
type ReplaceStats struct {
	Inserted int // chunks not present before
	Kept     int // chunks whose ID survived unchanged
	Removed  int // prior chunks deleted
}

// LexicalIndex provides full-text search with tokenisation, stemming,
// and stop-word removal. Backends: bleve, SQLite FTS5.
type LexicalIndex interface {
	Index(ctx context.Context, docs []LexicalDoc) error
	Search(ctx context.Context, query string, limit int) ([]LexicalHit, error)
	Delete(ctx context.Context, ids []string) error
	Close() error
}

// LexicalDoc is one document to index for full-text search.
type LexicalDoc struct {
	ID      string
	Content string
	Heading string
}

// VectorIndex provides approximate nearest-neighbour search over one
// embedding kind.
type VectorIndex interface {
	Add(ctx context.Context, ids []string, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]VectorHit, error)
	Delete(ctx context.Context, ids []string) error
	Count() int
	Save(path string) error
	Load(path string) error
	Close() error
}

// State keys persisted in the kv_state table.
const (
	// StateKeyDimension pins the embedding dimension the store was built with.
	StateKeyDimension = "embedding_dimension"
	// StateKeyProvider pins the embedding provider name.
	StateKeyProvider = "embedding_provider"
)

// ErrDimensionMismatch indicates a vector dimension mismatch between
// the store and a caller.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}
