package reader

import (
	"context"
	"fmt"

	"github.com/nguyenthenguyen/docx"

	cserr "github.com/chunkstack/chunkstack/internal/errors"
	"github.com/chunkstack/chunkstack/internal/store"
)

// DOCXReader extracts text from Word documents. DOCX carries no fixed
// pagination, so results have no page offsets.
type DOCXReader struct{}

func (r *DOCXReader) Format() store.DocFormat {
	return store.FormatDOCX
}

func (r *DOCXReader) Extract(ctx context.Context, path string) (*Result, error) {
	doc, err := docx.ReadDocxFile(path)
	if err != nil {
		return nil, cserr.ExtractionError(fmt.Sprintf("failed to parse DOCX: %v", err), err)
	}
	defer doc.Close()

	content := doc.Editable().GetContent()
	text := stripDocxTags(content)

	return &Result{
		Text:  text,
		Title: titleFromPath(path),
	}, nil
}

// stripDocxTags removes the WordprocessingML markup GetContent leaves
// in, keeping paragraph breaks.
func stripDocxTags(content string) string {
	var out []byte
	inTag := false
	for i := 0; i < len(content); i++ {
		c := content[i]
		switch {
		case c == '<':
			inTag = true
			// Paragraph and line-break elements become newlines.
			rest := content[i:]
			if hasPrefixAny(rest, "</w:p>", "<w:br") {
				out = append(out, '\n')
			}
		case c == '>':
			inTag = false
		case !inTag:
			out = append(out, c)
		}
	}
	return string(out)
}

func hasPrefixAny(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if len(s) >= len(p) && s[:len(p)] == p {
			return true
		}
	}
	return false
}
