package embed

import (
	"sort"
	"strings"

	"github.com/chunkstack/chunkstack/internal/chunker"
	"github.com/chunkstack/chunkstack/internal/store"
)

// topKeywords is the number of keywords in the semantic input.
const topKeywords = 10

// DefaultLexicon lists domain terms boosted in semantic embeddings.
// Overridable through configuration; the default targets fund
// management documentation.
var DefaultLexicon = []string{
	"fund", "nav", "net asset value", "share class", "portfolio",
	"rebalancing", "subscription", "redemption", "custodian", "benchmark",
	"allocation", "valuation", "liquidity", "hurdle", "drawdown",
}

// BuildInput produces the provider input string for one embedding
// kind. prev is the chunk's preceding sibling, nil when absent.
func BuildInput(kind store.EmbeddingKind, c *store.ChunkNode, prev *store.ChunkNode, lexicon []string) string {
	switch kind {
	case store.KindContent:
		return c.Content

	case store.KindContextual:
		var parts []string
		if c.Heading != "" {
			parts = append(parts, c.Heading)
		}
		if prev != nil {
			if last := lastSentence(prev.Content); last != "" {
				parts = append(parts, last)
			}
		}
		parts = append(parts, c.Content)
		return strings.Join(parts, "\n")

	case store.KindHierarchical:
		path := strings.Join(c.SectionPath, " > ")
		if path == "" {
			return c.Heading
		}
		if c.Heading != "" && !strings.HasSuffix(path, c.Heading) {
			return path + " " + c.Heading
		}
		return path

	case store.KindSemantic:
		if lexicon == nil {
			lexicon = DefaultLexicon
		}
		terms := keywords(c.Content, topKeywords)
		terms = append(terms, domainTerms(c.Content, lexicon)...)
		return strings.Join(terms, " ")

	default:
		return c.Content
	}
}

func lastSentence(text string) string {
	sentences := chunker.SplitSentences(text)
	if len(sentences) == 0 {
		return ""
	}
	return sentences[len(sentences)-1]
}

// keywords returns the top-k analysed terms by frequency, with
// alphabetical tie-break so the input is deterministic.
func keywords(text string, k int) []string {
	freq := make(map[string]int)
	for _, term := range store.AnalyzeProse(text) {
		freq[term]++
	}
	terms := make([]string, 0, len(freq))
	for t := range freq {
		terms = append(terms, t)
	}
	sort.Slice(terms, func(i, j int) bool {
		if freq[terms[i]] != freq[terms[j]] {
			return freq[terms[i]] > freq[terms[j]]
		}
		return terms[i] < terms[j]
	})
	if len(terms) > k {
		terms = terms[:k]
	}
	return terms
}

// domainTerms returns lexicon entries present in the text.
func domainTerms(text string, lexicon []string) []string {
	lower := strings.ToLower(text)
	var found []string
	for _, term := range lexicon {
		if strings.Contains(lower, term) {
			found = append(found, term)
		}
	}
	return found
}
