package structure

import (
	"regexp"
	"strings"

	"github.com/chunkstack/chunkstack/internal/store"
)

// Content-type scoring: pattern hits weigh 0.1, keyword hits 0.05,
// the sum is normalised by content length (per 1000 characters, floor
// 1) and scaled by a per-type weight. A type below its acceptance
// threshold is rejected; ties break by a fixed priority so numbered
// procedure steps are never mislabelled as a table of contents.

var (
	stepPattern   = regexp.MustCompile(`(?im)^\s*(?:\d+[.)]|step\s+\d+)\s+\S`)
	actionVerbs   = regexp.MustCompile(`(?i)\b(click|select|open|press|enter|choose|navigate|type)\b`)
	definitionCue = regexp.MustCompile(`(?i)\b(is a|is an|is the|means|refers to|is defined as)\b`)
	exampleCue    = regexp.MustCompile("(?i)\\b(for example|for instance|e\\.g\\.|example \\d)|```")
	warningCue    = regexp.MustCompile(`(?i)\b(warning|caution|important|note:|do not)\b`)

	tocLine    = regexp.MustCompile(`(?m)^.{2,80}?(?:\.{3,}\s*)?\d{1,4}\s*$`)
	tocTitle   = regexp.MustCompile(`(?i)\b(table of )?contents\b`)
	procedureHeading  = regexp.MustCompile(`(?i)\b(how to|creating|setting up|configur|install|using|managing|rebalanc)`)
	definitionHeading = regexp.MustCompile(`(?i)\b(glossary|definitions?|terms|terminology)\b`)
	faqQues    = regexp.MustCompile(`(?im)^\s*(?:q\d*[.:]|question\s+\d+)`)
	faqAns     = regexp.MustCompile(`(?im)^\s*a\d*[.:]`)
	qaQuestion = regexp.MustCompile(`\?`)
)

type typeScorer struct {
	contentType store.ContentType
	threshold   float64
	weight      float64
	score       func(heading, body string) (patterns, keywords int)
}

// classifyPriority breaks ties; earlier wins.
var classifyPriority = []store.ContentType{
	store.ContentTypeInstructions,
	store.ContentTypeDefinitions,
	store.ContentTypeFAQ,
	store.ContentTypeExamples,
	store.ContentTypeTableOfContents,
	store.ContentTypeText,
}

var scorers = []typeScorer{
	{
		contentType: store.ContentTypeInstructions,
		threshold:   0.6,
		weight:      1.0,
		score: func(heading, body string) (int, int) {
			patterns := countMatches(stepPattern, body)
			if procedureHeading.MatchString(heading) {
				patterns += 3
			}
			keywords := countMatches(actionVerbs, body) +
				strings.Count(strings.ToLower(body), "how to")
			return patterns, keywords
		},
	},
	{
		contentType: store.ContentTypeDefinitions,
		threshold:   0.5,
		weight:      1.0,
		score: func(heading, body string) (int, int) {
			patterns := countMatches(definitionCue, body)
			if definitionHeading.MatchString(heading) {
				patterns += 3
			}
			return patterns, 0
		},
	},
	{
		contentType: store.ContentTypeFAQ,
		threshold:   0.5,
		weight:      1.0,
		score: func(heading, body string) (int, int) {
			patterns := countMatches(faqQues, body) + countMatches(faqAns, body)
			keywords := countMatches(qaQuestion, body)
			if strings.Contains(strings.ToLower(heading), "faq") ||
				strings.Contains(strings.ToLower(heading), "frequently asked") {
				patterns += 3
			}
			return patterns, keywords
		},
	},
	{
		contentType: store.ContentTypeExamples,
		threshold:   0.4,
		weight:      1.0,
		score: func(heading, body string) (int, int) {
			patterns := countMatches(exampleCue, body)
			if strings.Contains(strings.ToLower(heading), "example") {
				patterns += 3
			}
			return patterns, 0
		},
	},
	{
		contentType: store.ContentTypeTableOfContents,
		threshold:   0.4,
		weight:      1.0,
		score: func(heading, body string) (int, int) {
			// A TOC is lines ending in page numbers without imperative
			// step content.
			if stepPattern.MatchString(body) && actionVerbs.MatchString(body) {
				return 0, 0
			}
			patterns := countMatches(tocLine, body)
			keywords := 0
			if tocTitle.MatchString(heading) {
				keywords += 6
			}
			return patterns, keywords
		},
	},
}

// ClassifyBlock labels one content block. Falls back to plain text at
// confidence 0.5 when nothing clears its threshold.
func ClassifyBlock(heading, body string) (store.ContentType, float64) {
	norm := float64(len(body)) / 1000.0
	if norm < 1 {
		norm = 1
	}

	best := store.ContentTypeText
	bestScore := 0.0
	for _, s := range scorers {
		patterns, keywords := s.score(heading, body)
		score := (0.1*float64(patterns) + 0.05*float64(keywords)) / norm * s.weight
		if score > 1 {
			score = 1
		}
		if score < s.threshold {
			continue
		}
		if score > bestScore || (score == bestScore && higherPriority(s.contentType, best)) {
			best, bestScore = s.contentType, score
		}
	}

	if best == store.ContentTypeText {
		return store.ContentTypeText, 0.5
	}
	return best, bestScore
}

func higherPriority(a, b store.ContentType) bool {
	return priorityRank(a) < priorityRank(b)
}

func priorityRank(t store.ContentType) int {
	for i, p := range classifyPriority {
		if p == t {
			return i
		}
	}
	return len(classifyPriority)
}

func countMatches(re *regexp.Regexp, text string) int {
	return len(re.FindAllStringIndex(text, -1))
}
