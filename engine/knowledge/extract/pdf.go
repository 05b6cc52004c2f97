package extract

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFExtractor joins the plain text of every page with blank lines.
type PDFExtractor struct{}

func (e *PDFExtractor) Extract(ctx context.Context, src Source) (res *Result, err error) {
	defer func() {
		// the parser panics on some malformed cross reference tables
		if r := recover(); r != nil {
			res = nil
			err = fmt.Errorf("parse pdf: %v", r)
		}
	}()
	reader, err := pdf.NewReader(bytes.NewReader(src.Data), int64(len(src.Data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	total := reader.NumPage()
	texts := make([]string, 0, total)
	pages := make([]map[string]any, 0, total)
	firstPage := 0
	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			pages = append(pages, map[string]any{"page_number": i, "has_text": false})
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("read page %d: %w", i, err)
		}
		text = strings.TrimSpace(text)
		hasText := text != ""
		pages = append(pages, map[string]any{"page_number": i, "has_text": hasText})
		if !hasText {
			continue
		}
		if firstPage == 0 {
			firstPage = i
		}
		texts = append(texts, text)
	}
	meta := map[string]any{
		MetaFileType:      TypePDF,
		"total_pages":     total,
		"pages_with_text": len(texts),
		"pages":           pages,
	}
	if firstPage > 0 {
		meta["page_number"] = firstPage
	}
	if info := pdfInfo(reader); len(info) > 0 {
		meta["pdf_metadata"] = info
	}
	return &Result{Text: strings.Join(texts, "\n\n"), Metadata: meta}, nil
}

func pdfInfo(reader *pdf.Reader) map[string]string {
	info := reader.Trailer().Key("Info")
	if info.IsNull() {
		return nil
	}
	out := make(map[string]string)
	for key, name := range map[string]string{
		"Title":   "title",
		"Author":  "author",
		"Subject": "subject",
		"Creator": "creator",
	} {
		if v := strings.TrimSpace(info.Key(key).Text()); v != "" {
			out[name] = v
		}
	}
	return out
}
