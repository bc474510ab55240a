// Package query maps natural-language queries onto retrieval intents.
// The detected type steers the content-type match matrix and the
// contextual strategy in the retriever.
package query

import (
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/chunkstack/chunkstack/internal/store"
)

// Type is the detected query intent.
type Type string

const (
	TypeProcedure    Type = "procedure"
	TypeDefinition   Type = "definition"
	TypeList         Type = "list"
	TypeTroubleshoot Type = "troubleshoot"
	TypeGeneral      Type = "general"
)

// Classification is the result of classifying one query.
type Classification struct {
	Type Type
	// Keywords are the stop-word-filtered, stemmed query terms.
	Keywords []string
}

// Classifier classifies queries with an LRU memo; classification is
// pure, so cached entries never go stale.
type Classifier struct {
	cache *lru.Cache[string, Classification]
}

const defaultCacheSize = 512

func NewClassifier(cacheSize int) *Classifier {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	cache, _ := lru.New[string, Classification](cacheSize)
	return &Classifier{cache: cache}
}

// Classify applies the intent rules in priority order and extracts
// query keywords.
func (c *Classifier) Classify(query string) Classification {
	if hit, ok := c.cache.Get(query); ok {
		return hit
	}

	result := Classification{
		Type:     classify(query),
		Keywords: store.AnalyzeProse(query),
	}
	c.cache.Add(query, result)
	return result
}

func classify(query string) Type {
	q := strings.ToLower(strings.TrimSpace(query))
	switch {
	case strings.HasPrefix(q, "how") ||
		strings.Contains(q, "steps") ||
		strings.Contains(q, "to create") ||
		strings.Contains(q, "procedure"):
		return TypeProcedure
	case strings.HasPrefix(q, "what is") ||
		strings.Contains(q, "means") ||
		strings.Contains(q, "definition"):
		return TypeDefinition
	case strings.Contains(q, "list") ||
		strings.Contains(q, "types of") ||
		strings.Contains(q, "kinds of"):
		return TypeList
	case strings.Contains(q, "error") ||
		strings.Contains(q, "problem") ||
		strings.Contains(q, "fix") ||
		strings.Contains(q, "fails"):
		return TypeTroubleshoot
	default:
		return TypeGeneral
	}
}
