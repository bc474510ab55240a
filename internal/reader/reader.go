// Package reader extracts plain text from source documents. Each
// format has one reader; all of them produce the same Result shape so
// the structure analyzer downstream never cares where text came from.
//
// HTML is converted to markdown rather than stripped, so heading
// structure survives extraction and the markdown path handles both.
package reader

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	cserr "github.com/chunkstack/chunkstack/internal/errors"
	"github.com/chunkstack/chunkstack/internal/store"
)

// PageOffset marks where a page begins in the extracted text.
type PageOffset struct {
	Page  int // 1-based
	Start int // byte offset into Result.Text
}

// Result is the output of text extraction.
type Result struct {
	// Text is the extracted plain text (markdown for the markdown and
	// html readers).
	Text string
	// Title is a best-effort document title; falls back to the filename.
	Title string
	// PageOffsets maps byte offsets to page numbers. Empty for formats
	// without page structure.
	PageOffsets []PageOffset
}

// PageAt returns the 1-based page containing a byte offset, or 0 when
// the format has no pages.
func (r *Result) PageAt(offset int) int {
	page := 0
	for _, po := range r.PageOffsets {
		if po.Start > offset {
			break
		}
		page = po.Page
	}
	return page
}

// FormatReader extracts text from one document format.
type FormatReader interface {
	Format() store.DocFormat
	Extract(ctx context.Context, path string) (*Result, error)
}

// Registry holds one reader per format.
type Registry struct {
	readers map[store.DocFormat]FormatReader
}

// NewRegistry builds a registry with all built-in readers.
func NewRegistry() *Registry {
	r := &Registry{readers: make(map[store.DocFormat]FormatReader)}
	for _, rd := range []FormatReader{
		&PDFReader{},
		&DOCXReader{},
		&HTMLReader{},
		&MarkdownReader{},
		&TextReader{},
	} {
		r.readers[rd.Format()] = rd
	}
	return r
}

// ForFormat returns the reader for a detected format. Unknown formats
// fall back to the plain text reader.
func (r *Registry) ForFormat(format store.DocFormat) FormatReader {
	if rd, ok := r.readers[format]; ok {
		return rd
	}
	return r.readers[store.FormatText]
}

// Extract runs the reader for the given format against a file.
func (r *Registry) Extract(ctx context.Context, format store.DocFormat, path string) (*Result, error) {
	res, err := r.ForFormat(format).Extract(ctx, path)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(res.Text) == "" {
		return nil, cserr.ExtractionError(
			fmt.Sprintf("no text extracted from %s", filepath.Base(path)), nil).
			WithDetail("format", string(format))
	}
	return res, nil
}

// titleFromPath derives a fallback title from the filename.
func titleFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
