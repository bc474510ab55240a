package reader

import (
	"context"
	"fmt"
	"os"
	"strings"

	cserr "github.com/chunkstack/chunkstack/internal/errors"
	"github.com/chunkstack/chunkstack/internal/store"
)

// MarkdownReader reads markdown as-is; heading parsing happens in the
// structure analyzer.
type MarkdownReader struct{}

func (r *MarkdownReader) Format() store.DocFormat {
	return store.FormatMarkdown
}

func (r *MarkdownReader) Extract(ctx context.Context, path string) (*Result, error) {
	text, err := readTextFile(path)
	if err != nil {
		return nil, err
	}
	return &Result{
		Text:  text,
		Title: markdownTitle(text, path),
	}, nil
}

// markdownTitle uses the first level-1 heading as the title when there
// is one.
func markdownTitle(text, path string) string {
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
	}
	return titleFromPath(path)
}

// TextReader handles plain text and any format nothing else claims.
type TextReader struct{}

func (r *TextReader) Format() store.DocFormat {
	return store.FormatText
}

func (r *TextReader) Extract(ctx context.Context, path string) (*Result, error) {
	text, err := readTextFile(path)
	if err != nil {
		return nil, err
	}
	return &Result{
		Text:  text,
		Title: titleFromPath(path),
	}, nil
}

func readTextFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", cserr.New(cserr.ErrCodeFileNotFound,
				fmt.Sprintf("file not found: %s", path), err)
		}
		return "", cserr.ExtractionError(fmt.Sprintf("failed to read file: %v", err), err)
	}
	// Normalize line endings once so downstream stages never see \r\n.
	return strings.ReplaceAll(string(data), "\r\n", "\n"), nil
}
