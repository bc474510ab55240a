// Package structure turns extracted text into a structural outline:
// headings, sections, and a content-type label per section. The
// chunker consumes the outline; it never re-parses raw text.
package structure

import (
	"strings"
	"unicode"

	"github.com/chunkstack/chunkstack/internal/doctype"
	"github.com/chunkstack/chunkstack/internal/store"
)

// Characteristics carries precomputed block traits for the chunker.
type Characteristics struct {
	IsProcedural        bool
	HasStepByStep       bool
	HasDefinitions      bool
	HasExamples         bool
	HasWarnings         bool
	PreserveSequence    bool
	RecommendedStrategy string
}

// Section is one heading-delimited region of the document.
type Section struct {
	Heading     string
	Level       int
	SectionPath []string // ancestor headings plus own, root-first
	Body        string
	StartOffset int // byte offset of the body in the source text

	ContentType     store.ContentType
	Confidence      float64
	Characteristics Characteristics
}

// Outline is the full structural analysis of one document.
type Outline struct {
	Title    string
	Sections []Section
}

// Analyze builds the outline for extracted text. A document with no
// headings yields a single untitled section covering the whole body.
func Analyze(text string, strategy doctype.Strategy) *Outline {
	headings := detectHeadings(text)
	outline := &Outline{}

	if len(headings) == 0 {
		sec := buildSection("", 1, nil, text, 0, strategy)
		outline.Sections = []Section{sec}
		return outline
	}

	if headings[0].level == 1 {
		outline.Title = headings[0].text
	}

	// Leading text before the first heading becomes an untitled
	// preamble section.
	if pre := text[:headings[0].start]; strings.TrimSpace(pre) != "" {
		outline.Sections = append(outline.Sections,
			buildSection("", 1, nil, pre, 0, strategy))
	}

	// pathStack[level-1] holds the heading active at that level.
	var pathStack []string
	for i, h := range headings {
		bodyStart := h.bodyStart
		bodyEnd := len(text)
		if i+1 < len(headings) {
			bodyEnd = headings[i+1].start
		}
		body := text[bodyStart:bodyEnd]

		if h.level <= len(pathStack) {
			pathStack = pathStack[:h.level-1]
		}
		for len(pathStack) < h.level-1 {
			pathStack = append(pathStack, "")
		}
		pathStack = append(pathStack, h.text)

		path := make([]string, len(pathStack))
		copy(path, pathStack)

		if strings.TrimSpace(body) == "" && i+1 < len(headings) && headings[i+1].level > h.level {
			// Pure container heading: carries structure, no content.
			// Still emitted so children have a parent section.
			body = ""
		}

		outline.Sections = append(outline.Sections,
			buildSection(h.text, h.level, path, body, bodyStart, strategy))
	}

	return outline
}

func buildSection(heading string, level int, path []string, body string, start int, strategy doctype.Strategy) Section {
	contentType, confidence := ClassifyBlock(heading, body)
	chars := Characterize(body, contentType, strategy)
	return Section{
		Heading:         heading,
		Level:           level,
		SectionPath:     path,
		Body:            body,
		StartOffset:     start,
		ContentType:     contentType,
		Confidence:      confidence,
		Characteristics: chars,
	}
}

// Characterize derives block traits from the body text. The chunker
// calls it for paragraph splits, which are classified independently of
// their owning section.
func Characterize(body string, contentType store.ContentType, strategy doctype.Strategy) Characteristics {
	hasSteps := stepPattern.MatchString(body)
	procedural := contentType == store.ContentTypeInstructions || hasSteps
	return Characteristics{
		IsProcedural:        procedural,
		HasStepByStep:       hasSteps,
		HasDefinitions:      definitionCue.MatchString(body),
		HasExamples:         exampleCue.MatchString(body),
		HasWarnings:         warningCue.MatchString(body),
		PreserveSequence:    procedural && strategy.PreserveStepSequence,
		RecommendedStrategy: strategy.Chunking,
	}
}

type headingMark struct {
	text      string
	level     int
	start     int // offset of the heading line
	bodyStart int // offset just past the heading line
}

// detectHeadings finds markdown headings and bare title-case lines.
// A non-markdown line counts as a heading when it is short, has no
// sentence-final punctuation, is in title case, and sits between blank
// lines.
func detectHeadings(text string) []headingMark {
	var marks []headingMark
	lines := strings.Split(text, "\n")

	offset := 0
	for i, line := range lines {
		lineLen := len(line) + 1 // including the newline
		trimmed := strings.TrimSpace(line)

		if level, title, ok := markdownHeading(trimmed); ok {
			marks = append(marks, headingMark{
				text:      title,
				level:     level,
				start:     offset,
				bodyStart: offset + lineLen,
			})
		} else if isTitleCaseHeading(trimmed) && blankAround(lines, i) {
			marks = append(marks, headingMark{
				text:      trimmed,
				level:     2,
				start:     offset,
				bodyStart: offset + lineLen,
			})
		}
		offset += lineLen
	}
	return marks
}

func markdownHeading(line string) (level int, title string, ok bool) {
	if !strings.HasPrefix(line, "#") {
		return 0, "", false
	}
	n := 0
	for n < len(line) && line[n] == '#' {
		n++
	}
	if n > 6 || n == len(line) || line[n] != ' ' {
		return 0, "", false
	}
	return n, strings.TrimSpace(line[n:]), true
}

// isTitleCaseHeading applies the heuristic for headings in plain text:
// short, no terminal punctuation, every significant word capitalised.
func isTitleCaseHeading(line string) bool {
	if line == "" || len(line) >= 100 {
		return false
	}
	if strings.ContainsAny(string(line[len(line)-1]), ".!?;:,") {
		return false
	}
	words := strings.Fields(line)
	if len(words) == 0 || len(words) > 12 {
		return false
	}
	significant := 0
	for _, w := range words {
		r := []rune(w)[0]
		if !unicode.IsLetter(r) {
			return false
		}
		if unicode.IsUpper(r) {
			significant++
		} else if !smallWords[strings.ToLower(w)] {
			return false
		}
	}
	return significant > 0
}

var smallWords = map[string]bool{
	"a": true, "an": true, "and": true, "as": true, "at": true,
	"by": true, "for": true, "in": true, "of": true, "on": true,
	"or": true, "the": true, "to": true, "with": true,
}

func blankAround(lines []string, i int) bool {
	before := i == 0 || strings.TrimSpace(lines[i-1]) == ""
	after := i == len(lines)-1 || strings.TrimSpace(lines[i+1]) == ""
	return before && after
}
