// Package extract turns supported files into plain text plus format metadata.
package extract

import (
	"context"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/compozy/ragpipe/engine/knowledge"
)

// File types reported in the file_type metadata key.
const (
	TypeText     = "text"
	TypeMarkdown = "markdown"
	TypePDF      = "pdf"
	TypeDocx     = "docx"
	TypeCSV      = "csv"
)

// MetaFileType is the metadata key every extractor sets.
const MetaFileType = "file_type"

// Source is a file already read into memory.
type Source struct {
	Path string
	Data []byte
}

// Result is the extracted text and format specific metadata.
type Result struct {
	Text     string
	Metadata map[string]any
}

// Extractor converts one format into text.
type Extractor interface {
	Extract(ctx context.Context, src Source) (*Result, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(ctx context.Context, src Source) (*Result, error)

func (f ExtractorFunc) Extract(ctx context.Context, src Source) (*Result, error) {
	return f(ctx, src)
}

// Registry selects an extractor by lower-cased file extension.
type Registry struct {
	mu    sync.RWMutex
	byExt map[string]Extractor
	mimes map[string][]string
}

// NewRegistry returns a registry with the built-in formats registered.
func NewRegistry() *Registry {
	r := &Registry{
		byExt: make(map[string]Extractor),
		mimes: make(map[string][]string),
	}
	text := &TextExtractor{}
	r.Register(".txt", text, "text/plain")
	r.Register(".md", &MarkdownExtractor{text: text}, "text/markdown", "text/plain")
	r.Register(".pdf", &PDFExtractor{}, "application/pdf")
	r.Register(".docx", &DocxExtractor{}, docxMIME, "application/zip")
	r.Register(".csv", &CSVExtractor{}, "text/csv", "text/plain")
	return r
}

// Register binds an extension (with leading dot) to an extractor and the
// MIME types its content is expected to sniff as.
func (r *Registry) Register(ext string, e Extractor, mimes ...string) {
	ext = strings.ToLower(ext)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byExt[ext] = e
	r.mimes[ext] = mimes
}

// For returns the extractor for path or an UnsupportedFormatError.
func (r *Registry) For(path string) (Extractor, error) {
	ext := strings.ToLower(filepath.Ext(path))
	r.mu.RLock()
	e, ok := r.byExt[ext]
	r.mu.RUnlock()
	if !ok {
		return nil, &knowledge.UnsupportedFormatError{Path: path, Extension: ext}
	}
	return e, nil
}

// Supports reports whether path has a registered extension.
func (r *Registry) Supports(path string) bool {
	_, err := r.For(path)
	return err == nil
}

// Extensions returns the registered extensions in sorted order.
func (r *Registry) Extensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byExt))
	for ext := range r.byExt {
		out = append(out, ext)
	}
	slices.Sort(out)
	return out
}

func (r *Registry) expectedMIMEs(ext string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.mimes[strings.ToLower(ext)]
}
