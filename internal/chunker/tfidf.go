package chunker

import (
	"math"

	"github.com/chunkstack/chunkstack/internal/store"
)

// tfidfModel computes TF-IDF vectors over a small corpus of text
// blocks, used for semantic boundary refinement: adjacent blocks whose
// cosine similarity exceeds the configured threshold belong together.
type tfidfModel struct {
	docFreq map[string]int
	nDocs   int
}

func newTFIDFModel(blocks []string) *tfidfModel {
	m := &tfidfModel{docFreq: make(map[string]int), nDocs: len(blocks)}
	for _, b := range blocks {
		seen := make(map[string]struct{})
		for _, term := range store.AnalyzeProse(b) {
			if _, ok := seen[term]; ok {
				continue
			}
			seen[term] = struct{}{}
			m.docFreq[term]++
		}
	}
	return m
}

func (m *tfidfModel) vector(text string) map[string]float64 {
	terms := store.AnalyzeProse(text)
	if len(terms) == 0 {
		return nil
	}
	tf := make(map[string]float64)
	for _, t := range terms {
		tf[t]++
	}
	vec := make(map[string]float64, len(tf))
	for t, f := range tf {
		df := m.docFreq[t]
		if df == 0 {
			df = 1
		}
		idf := math.Log(float64(m.nDocs+1)/float64(df)) + 1
		vec[t] = (f / float64(len(terms))) * idf
	}
	return vec
}

// Similarity is the TF-IDF cosine similarity of two texts in [0,1].
func (m *tfidfModel) Similarity(a, b string) float64 {
	return cosineSparse(m.vector(a), m.vector(b))
}

func cosineSparse(a, b map[string]float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	var dot float64
	for t, va := range small {
		if vb, ok := large[t]; ok {
			dot += va * vb
		}
	}
	if dot == 0 {
		return 0
	}
	var na, nb float64
	for _, v := range a {
		na += v * v
	}
	for _, v := range b {
		nb += v * v
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
