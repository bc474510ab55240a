package reader

import (
	"context"
	"fmt"
	"os"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	cserr "github.com/chunkstack/chunkstack/internal/errors"
	"github.com/chunkstack/chunkstack/internal/store"
)

// HTMLReader converts HTML to markdown instead of stripping tags, so
// h1-h6 become # headings and the structure analyzer sees the same
// shape it sees for native markdown.
type HTMLReader struct{}

func (r *HTMLReader) Format() store.DocFormat {
	return store.FormatHTML
}

func (r *HTMLReader) Extract(ctx context.Context, path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, cserr.ExtractionError(fmt.Sprintf("failed to read HTML: %v", err), err)
	}

	markdown, err := htmltomarkdown.ConvertString(string(data))
	if err != nil {
		return nil, cserr.ExtractionError(fmt.Sprintf("failed to convert HTML: %v", err), err)
	}

	return &Result{
		Text:  markdown,
		Title: titleFromPath(path),
	}, nil
}
