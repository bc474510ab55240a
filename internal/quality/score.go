// Package quality scores chunks and whole documents: per-chunk quality
// gates applied during chunking, duplicate detection, readability
// metrics, and the per-source validation report.
package quality

import (
	"strings"

	"github.com/chunkstack/chunkstack/internal/structure"
	"github.com/chunkstack/chunkstack/internal/store"
)

// instructionalDocTypes are document types whose tables of contents
// carry no instructional value of their own.
var instructionalDocTypes = map[store.DocType]bool{
	store.DocTypeUserGuide:  true,
	store.DocTypeQuickStart: true,
}

// ScoreChunk computes the per-chunk quality score in [0,1].
// Base 0.5, bumped for substantive length and for traits that match
// the block's classified role, docked for TOC noise in instructional
// documents.
func ScoreChunk(c *store.ChunkNode, chars structure.Characteristics, docType store.DocType) float64 {
	score := 0.5

	if c.WordCount >= 100 {
		score += 0.1
	}
	if c.WordCount >= 500 {
		score += 0.1
	}
	if chars.HasStepByStep && chars.IsProcedural {
		score += 0.1
	}
	if chars.HasDefinitions && c.ContentType == store.ContentTypeDefinitions {
		score += 0.1
	}
	if chars.HasExamples && c.ContentType == store.ContentTypeExamples {
		score += 0.1
	}
	if c.ContentType == store.ContentTypeTableOfContents && instructionalDocTypes[docType] {
		score -= 0.3
	}

	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score
}

// InstructionalValue estimates how much a chunk teaches the reader to
// do something. Retrieval weighs this at 20% of the blended score.
func InstructionalValue(c *store.ChunkNode, chars structure.Characteristics) float64 {
	switch c.ContentType {
	case store.ContentTypeInstructions:
		if chars.HasStepByStep {
			return 1.0
		}
		return 0.8
	case store.ContentTypeExamples:
		return 0.7
	case store.ContentTypeFAQ:
		return 0.6
	case store.ContentTypeDefinitions:
		return 0.5
	case store.ContentTypeTableOfContents:
		return 0.1
	default:
		if chars.HasStepByStep {
			return 0.6
		}
		return 0.3
	}
}

// Diversity is the unique-word ratio of a text, in (0,1].
func Diversity(text string) float64 {
	words := strings.Fields(strings.ToLower(text))
	if len(words) == 0 {
		return 0
	}
	unique := make(map[string]struct{}, len(words))
	for _, w := range words {
		unique[w] = struct{}{}
	}
	return float64(len(unique)) / float64(len(words))
}
