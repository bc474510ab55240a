// Package doctype detects a source's file format and document type.
// Format detection works on bytes (extension plus signature); document
// type classification works on extracted text and drives the chunking
// strategy downstream.
package doctype

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	cserr "github.com/chunkstack/chunkstack/internal/errors"
	"github.com/chunkstack/chunkstack/internal/store"
)

const (
	// sampleSize bounds how much extracted text classification reads.
	sampleSize = 5000
	// minConfidenceForClassification is the floor below which the
	// document type falls back to unknown.
	minConfidenceForClassification = 0.4

	extScore       = 0.6
	signatureScore = 0.4
	formatWinScore = 0.6
)

// FormatDetection is the result of format detection.
type FormatDetection struct {
	Format     store.DocFormat
	Confidence float64
}

// TypeDetection is the result of document type classification.
type TypeDetection struct {
	Type       store.DocType
	Confidence float64
	Strategy   Strategy
}

// Strategy tells the chunker how to treat a document of this type.
type Strategy struct {
	Name                 string
	Chunking             string
	PreserveStepSequence bool
	PreserveQAPairs      bool
	PreserveStructure    bool
	PrioritizeEarly      bool
	Conservative         bool
}

var strategies = map[store.DocType]Strategy{
	store.DocTypeUserGuide: {
		Name:                 "procedure_optimized",
		Chunking:             "semantic_with_procedures",
		PreserveStepSequence: true,
	},
	store.DocTypeQuickStart: {
		Name:                 "step_by_step_optimized",
		Chunking:             "sequential_with_context",
		PreserveStepSequence: true,
		PrioritizeEarly:      true,
	},
	store.DocTypeTechnicalSpec: {
		Name:              "reference_optimized",
		Chunking:          "hierarchical_with_references",
		PreserveStructure: true,
	},
	store.DocTypeFAQ: {
		Name:            "qa_optimized",
		Chunking:        "qa_pair_preservation",
		PreserveQAPairs: true,
	},
	store.DocTypeTroubleshooting: {
		Name:     "problem_solution_optimized",
		Chunking: "problem_solution_grouping",
	},
	store.DocTypeUnknown: {
		Name:         "general_purpose",
		Chunking:     "adaptive_semantic",
		Conservative: true,
	},
}

// StrategyFor returns the processing strategy for a document type.
func StrategyFor(t store.DocType) Strategy {
	if s, ok := strategies[t]; ok {
		return s
	}
	return strategies[store.DocTypeUnknown]
}

var extFormats = map[string]store.DocFormat{
	".pdf":      store.FormatPDF,
	".docx":     store.FormatDOCX,
	".html":     store.FormatHTML,
	".htm":      store.FormatHTML,
	".md":       store.FormatMarkdown,
	".markdown": store.FormatMarkdown,
	".txt":      store.FormatText,
	".text":     store.FormatText,
}

// FormatForExtension maps a file extension (with leading dot) to its
// document format, reporting whether the extension is supported.
func FormatForExtension(ext string) (store.DocFormat, bool) {
	format, ok := extFormats[strings.ToLower(ext)]
	return format, ok
}

// DetectFormat combines the filename extension with the file's leading
// bytes. Extension agreement scores 0.6, signature agreement 0.4; the
// first format clearing 0.6 wins, then extension alone, then unknown
// at confidence 0.1. It never fails on unrecognised input.
func DetectFormat(path string) (FormatDetection, error) {
	head := make([]byte, 10)
	f, err := os.Open(path)
	if err != nil {
		return FormatDetection{}, cserr.DetectionError(
			fmt.Sprintf("cannot open %s", path), err)
	}
	n, _ := f.Read(head)
	_ = f.Close()
	head = head[:n]

	return DetectFormatBytes(filepath.Base(path), head), nil
}

// DetectFormatBytes runs format detection on a filename and the first
// bytes of content.
func DetectFormatBytes(filename string, head []byte) FormatDetection {
	extFormat := extFormats[strings.ToLower(filepath.Ext(filename))]
	sigFormat := formatFromSignature(head)

	scores := map[store.DocFormat]float64{}
	if extFormat != "" {
		scores[extFormat] += extScore
	}
	if sigFormat != "" {
		scores[sigFormat] += signatureScore
	}

	var best store.DocFormat
	var bestScore float64
	for format, score := range scores {
		if score > bestScore {
			best, bestScore = format, score
		}
	}

	switch {
	case bestScore >= formatWinScore:
		if bestScore > 1 {
			bestScore = 1
		}
		return FormatDetection{Format: best, Confidence: bestScore}
	case extFormat != "":
		return FormatDetection{Format: extFormat, Confidence: extScore}
	case sigFormat != "":
		return FormatDetection{Format: sigFormat, Confidence: signatureScore}
	default:
		return FormatDetection{Format: store.FormatUnknown, Confidence: 0.1}
	}
}

func formatFromSignature(head []byte) store.DocFormat {
	switch {
	case bytes.HasPrefix(head, []byte("%PDF")):
		return store.FormatPDF
	case bytes.HasPrefix(head, []byte("PK\x03\x04")):
		return store.FormatDOCX
	case hasHTMLPrefix(head):
		return store.FormatHTML
	case bytes.HasPrefix(bytes.TrimLeft(head, " \t\n\r"), []byte("#")):
		return store.FormatMarkdown
	default:
		return ""
	}
}

func hasHTMLPrefix(head []byte) bool {
	lower := bytes.ToLower(bytes.TrimLeft(head, " \t\n\r\xef\xbb\xbf"))
	return bytes.HasPrefix(lower, []byte("<!doctype")) || bytes.HasPrefix(lower, []byte("<html"))
}

// patternFamily is one weighted pattern set for a document type.
type patternFamily struct {
	weight   float64
	patterns []*regexp.Regexp
}

func family(weight float64, exprs ...string) patternFamily {
	ps := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		ps[i] = regexp.MustCompile("(?i)" + e)
	}
	return patternFamily{weight: weight, patterns: ps}
}

// Each type carries a title family (0.3, matched against filename and
// the first lines), a content family (0.4), and a structure family
// (0.3).
var typePatterns = map[store.DocType][3]patternFamily{
	store.DocTypeUserGuide: {
		family(0.3, `user guide`, `manual`, `handbook`),
		family(0.4, `step \d`, `\d+\.\s`, `how to`, `instructions`),
		family(0.3, `table of contents`, `introduction`, `getting started`),
	},
	store.DocTypeQuickStart: {
		family(0.3, `quick start`, `getting started`, `setup`),
		family(0.4, `step \d`, `\bfirst\b`, `\bnext\b`, `\bthen\b`, `\bfinally\b`),
		family(0.3, `prerequisites`),
	},
	store.DocTypeTechnicalSpec: {
		family(0.3, `specification`, `\bapi\b`, `reference`),
		family(0.4, `parameter`, `function`, `method`, `\bclass\b`),
		family(0.3, `syntax`, `examples`, `parameters`),
	},
	store.DocTypeFAQ: {
		family(0.3, `\bfaq\b`, `frequently asked`),
		family(0.4, `\?`, `q:`, `a:`),
		family(0.3, `q\d+`, `question \d+`),
	},
	store.DocTypeTroubleshooting: {
		family(0.3, `troubleshoot`, `\berror\b`, `\bissue\b`),
		family(0.4, `solution`, `\bfix\b`, `resolve`),
		family(0.3, `symptom`, `\bcause\b`, `resolution`),
	},
}

// ClassifyType scores the extracted text sample against each document
// type's pattern families and returns the best type with its strategy.
// Below the confidence floor the type is unknown.
func ClassifyType(filename, text string) TypeDetection {
	if len(text) > sampleSize {
		text = text[:sampleSize]
	}
	titleScope := filename + "\n" + firstLines(text, 5)

	var best store.DocType
	var bestScore float64
	for docType, families := range typePatterns {
		score := familyScore(families[0], titleScope) +
			familyScore(families[1], text) +
			familyScore(families[2], text)
		if score > 1 {
			score = 1
		}
		if score > bestScore || (score == bestScore && docType < best) {
			best, bestScore = docType, score
		}
	}

	if bestScore < minConfidenceForClassification {
		return TypeDetection{
			Type:       store.DocTypeUnknown,
			Confidence: bestScore,
			Strategy:   StrategyFor(store.DocTypeUnknown),
		}
	}
	return TypeDetection{Type: best, Confidence: bestScore, Strategy: StrategyFor(best)}
}

// familyScore gives the family weight scaled by the fraction of its
// patterns that matched.
func familyScore(f patternFamily, text string) float64 {
	matched := 0
	for _, p := range f.patterns {
		if p.MatchString(text) {
			matched++
		}
	}
	if matched == 0 {
		return 0
	}
	return f.weight * float64(matched) / float64(len(f.patterns))
}

func firstLines(text string, n int) string {
	lines := strings.SplitN(text, "\n", n+1)
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.Join(lines, "\n")
}
