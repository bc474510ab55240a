package quality

import (
	"fmt"

	"github.com/chunkstack/chunkstack/internal/store"
)

// Axis weights for the overall validation score, out of 100.
const (
	weightBasicMetrics   = 30.0
	weightContentQuality = 25.0
	weightStructuralFit  = 20.0
	weightDuplicates     = 15.0
	weightEmbeddings     = 10.0
)

// ValidationReport summarises the quality of a single ingested source.
type ValidationReport struct {
	SourceID string  `json:"sourceId"`
	Score    float64 `json:"score"` // out of 100
	Grade    string  `json:"grade"`

	BasicMetrics   float64 `json:"basicMetrics"`   // axis scores, each in [0,1]
	ContentQuality float64 `json:"contentQuality"`
	StructuralFit  float64 `json:"structuralFit"`
	Duplicates     float64 `json:"duplicates"`
	Embeddings     float64 `json:"embeddings"`

	ChunkCount     int     `json:"chunkCount"`
	DuplicateCount int     `json:"duplicateCount"`
	AvgReadability float64 `json:"avgReadability"`
	AvgDiversity   float64 `json:"avgDiversity"`

	Issues          []string          `json:"issues,omitempty"`
	Warnings        []string          `json:"warnings,omitempty"`
	Recommendations map[string]string `json:"recommendations,omitempty"`
}

// BuildReport scores a source's chunk forest along five axes and
// returns the weighted report. Readability and diversity violations
// raise warnings; only structural problems become issues.
func BuildReport(sourceID string, chunks []*store.ChunkNode, dims int) *ValidationReport {
	r := &ValidationReport{
		SourceID:        sourceID,
		ChunkCount:      len(chunks),
		Recommendations: make(map[string]string),
	}
	if len(chunks) == 0 {
		r.Grade = gradeFor(0)
		r.Issues = append(r.Issues, "no chunks produced")
		r.Recommendations["chunking"] = "check that the source document has extractable text"
		return r
	}

	r.BasicMetrics = scoreBasicMetrics(chunks)
	r.ContentQuality = scoreContentQuality(chunks, r)
	r.StructuralFit = scoreStructuralFit(chunks, r)
	r.Duplicates = scoreDuplicates(chunks, r)
	r.Embeddings = scoreEmbeddings(chunks, dims, r)

	r.Score = r.BasicMetrics*weightBasicMetrics +
		r.ContentQuality*weightContentQuality +
		r.StructuralFit*weightStructuralFit +
		r.Duplicates*weightDuplicates +
		r.Embeddings*weightEmbeddings
	r.Grade = gradeFor(r.Score)

	if len(r.Recommendations) == 0 {
		r.Recommendations = nil
	}
	return r
}

func gradeFor(score float64) string {
	switch {
	case score >= 90:
		return "Excellent"
	case score >= 80:
		return "Good"
	case score >= 70:
		return "Fair"
	case score >= 60:
		return "Poor"
	default:
		return "Very Poor"
	}
}

// scoreBasicMetrics checks that chunks carry sane counts and content.
func scoreBasicMetrics(chunks []*store.ChunkNode) float64 {
	ok := 0
	for _, c := range chunks {
		if c.Content != "" && c.WordCount > 0 && c.TokenCount > 0 &&
			c.CharacterCount >= len(c.Content)/2 {
			ok++
		}
	}
	return float64(ok) / float64(len(chunks))
}

// scoreContentQuality averages per-chunk quality and readability.
func scoreContentQuality(chunks []*store.ChunkNode, r *ValidationReport) float64 {
	var qualitySum, readSum, divSum float64
	lowQuality := 0
	for _, c := range chunks {
		qualitySum += c.QualityScore
		read := FleschReadingEase(c.Content)
		readSum += read
		div := Diversity(c.Content)
		divSum += div
		if c.QualityScore < 0.3 {
			lowQuality++
		}
		if div > 0 && div < 0.2 {
			r.Warnings = append(r.Warnings,
				fmt.Sprintf("chunk %s has low vocabulary diversity (%.2f)", c.ID, div))
		}
	}
	n := float64(len(chunks))
	r.AvgReadability = readSum / n
	r.AvgDiversity = divSum / n

	if r.AvgReadability < 20 {
		r.Warnings = append(r.Warnings,
			fmt.Sprintf("average readability is very low (%.1f)", r.AvgReadability))
		r.Recommendations["readability"] = "source text is dense; consider splitting long sentences in the original document"
	}
	if lowQuality > 0 {
		r.Recommendations["content"] = fmt.Sprintf("%d chunks scored below 0.3; review boilerplate or navigation text in the source", lowQuality)
	}
	return qualitySum / n
}

// scoreStructuralFit verifies the forest shape: exactly one document
// root, every non-root chunk attached, scales populated top-down.
func scoreStructuralFit(chunks []*store.ChunkNode, r *ValidationReport) float64 {
	byID := make(map[string]*store.ChunkNode, len(chunks))
	roots := 0
	for _, c := range chunks {
		byID[c.ID] = c
		if c.ParentID == "" {
			roots++
		}
	}

	score := 1.0
	if roots != 1 {
		score -= 0.4
		r.Issues = append(r.Issues, fmt.Sprintf("expected one document root, found %d", roots))
	}
	orphans := 0
	for _, c := range chunks {
		if c.ParentID != "" {
			if _, ok := byID[c.ParentID]; !ok {
				orphans++
			}
		}
	}
	if orphans > 0 {
		score -= 0.4
		r.Issues = append(r.Issues, fmt.Sprintf("%d chunks reference a missing parent", orphans))
	}

	scales := make(map[store.Scale]int)
	for _, c := range chunks {
		scales[c.Scale]++
	}
	if scales[store.ScaleSection] == 0 && len(chunks) > 1 {
		score -= 0.2
		r.Warnings = append(r.Warnings, "no section-scale chunks; document structure may not have been detected")
		r.Recommendations["structure"] = "add headings to the source document for better hierarchical retrieval"
	}

	if score < 0 {
		score = 0
	}
	return score
}

// scoreDuplicates penalises the duplicate fraction linearly.
func scoreDuplicates(chunks []*store.ChunkNode, r *ValidationReport) float64 {
	dups := 0
	for _, c := range chunks {
		if c.Duplicate {
			dups++
		}
	}
	r.DuplicateCount = dups
	frac := float64(dups) / float64(len(chunks))
	if frac > 0.2 {
		r.Warnings = append(r.Warnings,
			fmt.Sprintf("%.0f%% of chunks are duplicates", frac*100))
		r.Recommendations["duplicates"] = "source contains repeated sections; deduplicate the original document"
	}
	return 1 - frac
}

// scoreEmbeddings checks that every chunk carries a content embedding
// of the right dimension. dims <= 0 means embeddings were skipped
// (degraded ingestion) and the axis scores zero.
func scoreEmbeddings(chunks []*store.ChunkNode, dims int, r *ValidationReport) float64 {
	if dims <= 0 {
		r.Warnings = append(r.Warnings, "embeddings unavailable; lexical-only retrieval for this source")
		return 0
	}
	ok := 0
	for _, c := range chunks {
		v := c.Embeddings[store.KindContent]
		if len(v) == dims {
			ok++
		}
	}
	if ok < len(chunks) {
		r.Warnings = append(r.Warnings,
			fmt.Sprintf("%d chunks are missing content embeddings", len(chunks)-ok))
	}
	return float64(ok) / float64(len(chunks))
}
