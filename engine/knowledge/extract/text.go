package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/transform"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// TextExtractor reads plain text, transcoding non UTF-8 input.
type TextExtractor struct{}

func (e *TextExtractor) Extract(_ context.Context, src Source) (*Result, error) {
	text, err := DecodeText(src.Data, "text/plain")
	if err != nil {
		return nil, err
	}
	lines := strings.Split(text, "\n")
	nonEmpty := 0
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			nonEmpty++
		}
	}
	return &Result{
		Text: text,
		Metadata: map[string]any{
			MetaFileType:      TypeText,
			"total_lines":     len(lines),
			"non_empty_lines": nonEmpty,
		},
	}, nil
}

// MarkdownExtractor delegates to the text extractor and counts headers.
type MarkdownExtractor struct {
	text *TextExtractor
}

func (e *MarkdownExtractor) Extract(ctx context.Context, src Source) (*Result, error) {
	res, err := e.text.Extract(ctx, src)
	if err != nil {
		return nil, err
	}
	headers := 0
	for _, line := range strings.Split(res.Text, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			headers++
		}
	}
	res.Metadata[MetaFileType] = TypeMarkdown
	res.Metadata["header_count"] = headers
	return res, nil
}

// DecodeText returns data as UTF-8 with normalized line endings. Invalid
// UTF-8 is transcoded using the encoding sniffed from the content.
func DecodeText(data []byte, contentType string) (string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if utf8.Valid(data) {
		return normalizeNewlines(string(data)), nil
	}
	enc, name, _ := charset.DetermineEncoding(data, contentType)
	decoded, err := io.ReadAll(transform.NewReader(bytes.NewReader(data), enc.NewDecoder()))
	if err != nil {
		return "", fmt.Errorf("transcode from %s: %w", name, err)
	}
	if !utf8.Valid(decoded) {
		return "", fmt.Errorf("transcoded %s content is not valid utf-8", name)
	}
	return normalizeNewlines(string(decoded)), nil
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}
