package ingest

import (
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PageText is the extracted plain text of one PDF page.
type PageText struct {
	Page int
	Text string
}

// ExtractPDF pulls plain text out of a PDF, one entry per non-empty page.
func ExtractPDF(path string) ([]PageText, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening pdf %s: %w", path, err)
	}
	defer f.Close()

	var pages []PageText
	for pageNum := 1; pageNum <= r.NumPage(); pageNum++ {
		p := r.Page(pageNum)
		if p.V.IsNull() {
			continue
		}

		text, err := p.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("extracting page %d of %s: %w", pageNum, path, err)
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}

		pages = append(pages, PageText{Page: pageNum, Text: text})
	}

	if len(pages) == 0 {
		return nil, fmt.Errorf("no extractable text in %s", path)
	}
	return pages, nil
}
