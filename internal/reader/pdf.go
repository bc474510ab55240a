package reader

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"

	cserr "github.com/chunkstack/chunkstack/internal/errors"
	"github.com/chunkstack/chunkstack/internal/store"
)

// PDFReader extracts text page by page, recording page offsets so
// chunks can carry page numbers for citations.
type PDFReader struct{}

func (r *PDFReader) Format() store.DocFormat {
	return store.FormatPDF
}

func (r *PDFReader) Extract(ctx context.Context, path string) (*Result, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, cserr.ExtractionError(fmt.Sprintf("failed to open PDF: %v", err), err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, cserr.ExtractionError("failed to stat PDF", err)
	}

	reader, err := pdf.NewReader(file, info.Size())
	if err != nil {
		return nil, cserr.ExtractionError(fmt.Sprintf("failed to parse PDF: %v", err), err)
	}

	var (
		sb      strings.Builder
		offsets []PageOffset
		failed  int
	)
	totalPages := reader.NumPage()
	for pageNum := 1; pageNum <= totalPages; pageNum++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			// One unreadable page degrades the document, it does not
			// abort extraction.
			failed++
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}

		offsets = append(offsets, PageOffset{Page: pageNum, Start: sb.Len()})
		sb.WriteString(text)
		if !strings.HasSuffix(text, "\n") {
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	if failed == totalPages && totalPages > 0 {
		return nil, cserr.ExtractionError(
			fmt.Sprintf("all %d pages failed to extract", totalPages), nil)
	}

	return &Result{
		Text:        sb.String(),
		Title:       titleFromPath(path),
		PageOffsets: offsets,
	}, nil
}
