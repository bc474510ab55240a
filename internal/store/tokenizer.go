package store

import (
	"regexp"
	"strings"
)

// tokenRegex matches word tokens, keeping internal apostrophes and
// hyphens ("don't", "multi-scale") as single tokens.
var tokenRegex = regexp.MustCompile(`[a-zA-Z0-9]+(?:['-][a-zA-Z0-9]+)*`)

// TokenizeProse splits natural-language text into lowercase word
// tokens. Single-character tokens are dropped.
func TokenizeProse(text string) []string {
	words := tokenRegex.FindAllString(text, -1)
	tokens := make([]string, 0, len(words))
	for _, w := range words {
		lower := strings.ToLower(w)
		if len(lower) >= 2 {
			tokens = append(tokens, lower)
		}
	}
	return tokens
}

// AnalyzeProse runs the full lexical pipeline: tokenize, drop stop
// words, stem. Both the FTS index writers and query parsing use this,
// so indexed and query terms agree.
func AnalyzeProse(text string) []string {
	tokens := TokenizeProse(text)
	result := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if _, stop := defaultStopWords[t]; stop {
			continue
		}
		result = append(result, StemToken(t))
	}
	return result
}

// StemToken applies light suffix stripping, a reduced Porter step 1.
// It is deliberately conservative: over-stemming hurts precision more
// than under-stemming hurts recall on documentation prose.
func StemToken(t string) string {
	if len(t) <= 3 {
		return t
	}
	switch {
	case strings.HasSuffix(t, "ies") && len(t) > 4:
		t = t[:len(t)-3] + "y"
	case strings.HasSuffix(t, "sses"):
		t = t[:len(t)-2]
	case strings.HasSuffix(t, "ing") && len(t) > 5:
		t = t[:len(t)-3]
	case strings.HasSuffix(t, "ed") && len(t) > 4:
		t = t[:len(t)-2]
	case strings.HasSuffix(t, "ly") && len(t) > 4:
		t = t[:len(t)-2]
	case strings.HasSuffix(t, "s") && !strings.HasSuffix(t, "ss") && !strings.HasSuffix(t, "us"):
		t = t[:len(t)-1]
	}
	// Final-e deletion so inflections land on the same stem
	// ("rebalance" and "rebalancing" both become "rebalanc").
	if strings.HasSuffix(t, "e") && len(t) > 4 {
		t = t[:len(t)-1]
	}
	return t
}

// FilterStopWords removes stop words from a token list.
func FilterStopWords(tokens []string) []string {
	result := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if _, stop := defaultStopWords[strings.ToLower(t)]; !stop {
			result = append(result, t)
		}
	}
	return result
}

// IsStopWord reports whether a lowercase token is a stop word.
func IsStopWord(t string) bool {
	_, ok := defaultStopWords[t]
	return ok
}

// defaultStopWords is the standard English stop list shared by both
// lexical backends and the query classifier.
var defaultStopWords = buildStopWordMap([]string{
	"a", "an", "and", "are", "as", "at", "be", "but", "by",
	"for", "if", "in", "into", "is", "it", "no", "not", "of",
	"on", "or", "such", "that", "the", "their", "then", "there",
	"these", "they", "this", "to", "was", "will", "with",
	"i", "you", "he", "she", "we", "do", "does", "did", "can",
	"could", "should", "would", "have", "has", "had", "my", "your",
	"from", "about", "what", "which", "who", "when", "where", "how",
})

func buildStopWordMap(words []string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
