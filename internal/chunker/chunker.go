// Package chunker builds the hierarchical chunk forest for a document:
// one document-scale root, section chunks mirroring the outline, and
// paragraph and sentence chunks sized to configured token bands, with
// parent/child/sibling edges threaded and a quality gate applied.
package chunker

import (
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/chunkstack/chunkstack/internal/config"
	"github.com/chunkstack/chunkstack/internal/doctype"
	"github.com/chunkstack/chunkstack/internal/quality"
	"github.com/chunkstack/chunkstack/internal/store"
	"github.com/chunkstack/chunkstack/internal/structure"
	"github.com/chunkstack/chunkstack/internal/token"
)

// Input is one document ready for chunking.
type Input struct {
	SourceID string
	Version  string
	Text     string
	Outline  *structure.Outline
	DocType  store.DocType
	Strategy doctype.Strategy

	// PageOf maps a byte offset in Text to a 1-based page number.
	// Nil leaves page numbers at 0 (unpaginated formats).
	PageOf func(offset int) int
}

// Result is the emitted forest plus non-fatal observations.
type Result struct {
	Chunks   []*store.ChunkNode
	Warnings []string
}

// Chunker turns analyzed documents into chunk forests.
type Chunker struct {
	cfg        config.ChunkingConfig
	counter    token.Counter
	minQuality float64
}

func New(cfg config.ChunkingConfig, counter token.Counter, minQuality float64) *Chunker {
	return &Chunker{cfg: cfg, counter: counter, minQuality: minQuality}
}

// node is the mutable build-time form of a chunk; IDs and edges are
// assigned only at emission, after the quality gate has settled the
// final shape of the tree.
type node struct {
	scale       store.Scale
	heading     string
	sectionPath []string
	content     string
	offset      int
	level       int
	contentType store.ContentType
	confidence  float64
	chars       structure.Characteristics
	children    []*node
}

// Chunk builds the forest. An empty document still yields the single
// document-scale chunk, flagged with a warning.
func (c *Chunker) Chunk(in Input) (*Result, error) {
	res := &Result{}

	text := in.Text
	root := &node{
		scale:       store.ScaleDocument,
		heading:     in.Outline.Title,
		content:     text,
		contentType: store.ContentTypeText,
		confidence:  1,
		chars:       structure.Characterize(text, store.ContentTypeText, in.Strategy),
	}
	if strings.TrimSpace(text) == "" {
		res.Warnings = append(res.Warnings, "document has no extractable text")
		res.Chunks = c.emit(in, root)
		return res, nil
	}
	if c.counter.Count(text) > c.cfg.Document.Max {
		root.content = truncateToTokens(text, c.cfg.Document.Max, c.counter)
		res.Warnings = append(res.Warnings, "document exceeds the document token band; root chunk holds a truncated prefix")
	}

	// Every section chunk hangs directly off the document root; each
	// parent must be a strictly coarser scale, so heading nesting is
	// carried by sectionPath rather than by parent edges.
	for i := range in.Outline.Sections {
		sec := &in.Outline.Sections[i]
		if strings.TrimSpace(sec.Body) == "" {
			continue
		}
		n := &node{
			scale:       store.ScaleSection,
			heading:     sec.Heading,
			sectionPath: sec.SectionPath,
			content:     strings.TrimSpace(sec.Body),
			offset:      sec.StartOffset,
			level:       sec.Level,
			contentType: sec.ContentType,
			confidence:  sec.Confidence,
			chars:       sec.Characteristics,
		}
		root.children = append(root.children, n)
		c.buildParagraphs(n, in.Strategy)
	}

	c.gate(root, in.DocType)
	res.Chunks = c.emit(in, root)
	return res, nil
}

// buildParagraphs splits a section body into paragraph-scale children
// and each paragraph into sentence-scale grandchildren.
func (c *Chunker) buildParagraphs(sec *node, strategy doctype.Strategy) {
	paras := c.paragraphTexts(sec.content, sec.chars)
	if len(paras) <= 1 {
		// A single paragraph duplicates the section; go straight to
		// sentences under the section chunk.
		c.buildSentences(sec, sec.content, sec.contentType, strategy)
		return
	}

	offset := sec.offset
	for _, p := range paras {
		ct, conf := structure.ClassifyBlock("", p.text)
		pn := &node{
			scale:       store.ScaleParagraph,
			heading:     sec.heading,
			sectionPath: sec.sectionPath,
			content:     p.text,
			offset:      offset + p.offset,
			contentType: ct,
			confidence:  conf,
			chars:       structure.Characterize(p.text, ct, strategy),
		}
		sec.children = append(sec.children, pn)
		c.buildSentences(pn, p.text, ct, strategy)
	}
}

type paraSpan struct {
	text   string
	offset int
}

// paragraphTexts applies the paragraph pipeline: blank-line split,
// merge-short, split-long, then TF-IDF boundary refinement.
func (c *Chunker) paragraphTexts(body string, chars structure.Characteristics) []paraSpan {
	raw := splitBlankLines(body)
	if len(raw) == 0 {
		return nil
	}

	merged := c.mergeShort(raw)

	var split []paraSpan
	for _, p := range merged {
		if c.counter.Count(p.text) <= c.cfg.Paragraph.Max {
			split = append(split, p)
			continue
		}
		for _, part := range c.splitLong(p.text, chars) {
			split = append(split, paraSpan{text: part, offset: p.offset})
		}
	}

	return c.refineBoundaries(split)
}

func splitBlankLines(body string) []paraSpan {
	var out []paraSpan
	offset := 0
	for _, block := range strings.Split(body, "\n\n") {
		trimmed := strings.TrimSpace(block)
		if trimmed != "" {
			lead := strings.Index(block, trimmed[:1])
			if lead < 0 {
				lead = 0
			}
			out = append(out, paraSpan{text: trimmed, offset: offset + lead})
		}
		offset += len(block) + 2
	}
	return out
}

// mergeShort folds paragraphs below the paragraph minimum into their
// predecessor; a short opening paragraph is folded forward instead.
func (c *Chunker) mergeShort(paras []paraSpan) []paraSpan {
	var out []paraSpan
	for _, p := range paras {
		if len(out) > 0 && c.counter.Count(out[len(out)-1].text) < c.cfg.Paragraph.Min {
			out[len(out)-1].text += "\n\n" + p.text
			continue
		}
		if len(out) > 0 && c.counter.Count(p.text) < c.cfg.Paragraph.Min {
			out[len(out)-1].text += "\n\n" + p.text
			continue
		}
		out = append(out, p)
	}
	return out
}

var stepBoundary = regexp.MustCompile(`(?m)^\s*(?:\d+[.)]|[Ss]tep\s+\d+)\s+`)

// splitLong breaks an oversized paragraph. Sequence-preserving blocks
// split only between fully-formed steps, never inside one; other
// blocks split at sentence boundaries, or at whitespace near the band
// midpoint when the text has no sentence structure.
func (c *Chunker) splitLong(text string, chars structure.Characteristics) []string {
	if chars.PreserveSequence {
		parts := splitAtSteps(text)
		if len(parts) > 1 {
			return c.packParts(parts, "\n")
		}
		return []string{text}
	}

	sentences := SplitSentences(text)
	if len(sentences) > 1 {
		return c.packParts(sentences, " ")
	}
	return splitAtWhitespace(text, c.cfg.Paragraph.Min+(c.cfg.Paragraph.Max-c.cfg.Paragraph.Min)/2)
}

// packParts greedily groups parts up to the paragraph maximum.
func (c *Chunker) packParts(parts []string, sep string) []string {
	var out []string
	var cur strings.Builder
	curTokens := 0
	for _, p := range parts {
		t := c.counter.Count(p)
		if cur.Len() > 0 && curTokens+t > c.cfg.Paragraph.Max {
			out = append(out, cur.String())
			cur.Reset()
			curTokens = 0
		}
		if cur.Len() > 0 {
			cur.WriteString(sep)
		}
		cur.WriteString(p)
		curTokens += t
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

// splitAtSteps cuts a block at lines opening a new enumerated step.
func splitAtSteps(text string) []string {
	locs := stepBoundary.FindAllStringIndex(text, -1)
	if len(locs) < 2 {
		return []string{text}
	}
	var parts []string
	prev := 0
	for _, loc := range locs {
		if loc[0] > prev {
			if s := strings.TrimSpace(text[prev:loc[0]]); s != "" {
				parts = append(parts, s)
			}
			prev = loc[0]
		}
	}
	if s := strings.TrimSpace(text[prev:]); s != "" {
		parts = append(parts, s)
	}
	return parts
}

// splitAtWhitespace halves text near a character midpoint estimated
// from the token midpoint, recursing until pieces are tractable.
func splitAtWhitespace(text string, midTokens int) []string {
	midChars := midTokens * 4
	if len(text) <= midChars {
		return []string{text}
	}
	cut := midChars
	for cut < len(text) && text[cut] != ' ' && text[cut] != '\n' {
		cut++
	}
	if cut >= len(text) {
		return []string{text}
	}
	head := strings.TrimSpace(text[:cut])
	rest := splitAtWhitespace(strings.TrimSpace(text[cut:]), midTokens)
	return append([]string{head}, rest...)
}

// refineBoundaries merges adjacent paragraphs whose TF-IDF cosine
// similarity exceeds the configured threshold, provided the merge
// stays inside the paragraph band.
func (c *Chunker) refineBoundaries(paras []paraSpan) []paraSpan {
	if len(paras) < 2 || c.cfg.SentenceSimilarityThreshold <= 0 {
		return paras
	}
	texts := make([]string, len(paras))
	for i, p := range paras {
		texts[i] = p.text
	}
	model := newTFIDFModel(texts)

	out := []paraSpan{paras[0]}
	for _, p := range paras[1:] {
		last := &out[len(out)-1]
		if model.Similarity(last.text, p.text) > c.cfg.SentenceSimilarityThreshold &&
			c.counter.Count(last.text)+c.counter.Count(p.text) <= c.cfg.Paragraph.Max {
			last.text += "\n\n" + p.text
			continue
		}
		out = append(out, p)
	}
	return out
}

// buildSentences attaches sentence-scale chunks grouped into the
// sentence token band. A single-sentence parent gets no children; a
// lone child would just duplicate it.
func (c *Chunker) buildSentences(parent *node, text string, ct store.ContentType, strategy doctype.Strategy) {
	sentences := SplitSentences(text)
	if len(sentences) < 2 {
		return
	}

	var groups []string
	var cur []string
	curTokens := 0
	for _, s := range sentences {
		t := c.counter.Count(s)
		if len(cur) > 0 && curTokens+t > c.cfg.Sentence.Max && curTokens >= c.cfg.Sentence.Min {
			groups = append(groups, strings.Join(cur, " "))
			cur, curTokens = nil, 0
		}
		cur = append(cur, s)
		curTokens += t
	}
	if len(cur) > 0 {
		tail := strings.Join(cur, " ")
		if len(groups) > 0 && curTokens < c.cfg.Sentence.Min {
			groups[len(groups)-1] += " " + tail
		} else {
			groups = append(groups, tail)
		}
	}
	if len(groups) < 2 {
		return
	}

	for _, g := range groups {
		parent.children = append(parent.children, &node{
			scale:       store.ScaleSentence,
			heading:     parent.heading,
			sectionPath: parent.sectionPath,
			content:     g,
			offset:      parent.offset,
			contentType: ct,
			confidence:  parent.confidence,
			chars:       structure.Characterize(g, ct, strategy),
		})
	}
}

// gate applies the quality floor bottom-up. A rejected node is removed
// and its children are promoted into its parent at the same position,
// so the hierarchy never dangles. The document root is exempt.
func (c *Chunker) gate(root *node, docType store.DocType) {
	var walk func(n *node)
	walk = func(n *node) {
		for _, ch := range n.children {
			walk(ch)
		}
		var kept []*node
		for _, ch := range n.children {
			if c.scoreNode(ch, docType) < c.minQuality {
				kept = append(kept, ch.children...)
			} else {
				kept = append(kept, ch)
			}
		}
		n.children = kept
	}
	walk(root)
}

func (c *Chunker) scoreNode(n *node, docType store.DocType) float64 {
	probe := &store.ChunkNode{
		WordCount:   len(strings.Fields(n.content)),
		ContentType: n.contentType,
	}
	return quality.ScoreChunk(probe, n.chars, docType)
}

// emit freezes the gated tree into ChunkNodes: content-addressed IDs,
// counts, quality scores, and parent/child/sibling/hierarchy edges.
func (c *Chunker) emit(in Input, root *node) []*store.ChunkNode {
	var chunks []*store.ChunkNode
	ordinals := make(map[string]int)
	now := time.Now()

	var walk func(n *node, parent *store.ChunkNode, ancestry []string) *store.ChunkNode
	walk = func(n *node, parent *store.ChunkNode, ancestry []string) *store.ChunkNode {
		key := string(n.scale) + "\x00" + strings.Join(n.sectionPath, "\x1f") + "\x00" + n.content
		ordinal := ordinals[key]
		ordinals[key]++

		ck := &store.ChunkNode{
			ID:             ChunkID(in.SourceID, n.scale, n.sectionPath, n.content, ordinal),
			SourceID:       in.SourceID,
			Version:        in.Version,
			Scale:          n.scale,
			Content:        n.content,
			Heading:        n.heading,
			SectionPath:    n.sectionPath,
			TokenCount:     c.counter.Count(n.content),
			WordCount:      len(strings.Fields(n.content)),
			CharacterCount: utf8.RuneCountInString(n.content),

			ContentType:           n.contentType,
			ContentTypeConfidence: n.confidence,
			Language:              "en",
			CreatedAt:             now,
		}
		if in.PageOf != nil {
			ck.PageNumber = in.PageOf(n.offset)
		}
		ck.QualityScore = quality.ScoreChunk(ck, n.chars, in.DocType)
		ck.InstructionalValue = quality.InstructionalValue(ck, n.chars)

		if parent != nil {
			ck.ParentID = parent.ID
			ck.HierarchyPath = append(append([]string{}, ancestry...), parent.ID)
			parent.ChildIDs = append(parent.ChildIDs, ck.ID)
		}
		chunks = append(chunks, ck)

		childAncestry := ck.HierarchyPath
		var childIDs []string
		var children []*store.ChunkNode
		for _, chn := range n.children {
			child := walk(chn, ck, childAncestry)
			children = append(children, child)
			childIDs = append(childIDs, child.ID)
		}
		for i, child := range children {
			for j, id := range childIDs {
				if i != j {
					child.SiblingIDs = append(child.SiblingIDs, id)
				}
			}
		}
		return ck
	}
	walk(root, nil, nil)
	return chunks
}

// truncateToTokens keeps whole sentences up to the budget.
func truncateToTokens(text string, budget int, counter token.Counter) string {
	var b strings.Builder
	used := 0
	for _, s := range SplitSentences(text) {
		t := counter.Count(s)
		if used+t > budget && b.Len() > 0 {
			break
		}
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		b.WriteString(s)
		used += t
	}
	if b.Len() == 0 {
		return text
	}
	return b.String()
}
