package extract

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/afero"

	"github.com/compozy/ragpipe/engine/knowledge"
	"github.com/compozy/ragpipe/pkg/logger"
)

// DefaultMaxFileSize is the largest file accepted for ingestion.
const DefaultMaxFileSize int64 = 50 * 1024 * 1024

// FileInfo describes a file that passed validation.
type FileInfo struct {
	Path      string
	Name      string
	Extension string
	Size      int64
	MIME      string
}

// Validator checks files before they are read and extracted.
type Validator struct {
	fs       afero.Fs
	registry *Registry
	maxSize  int64
}

// NewValidator builds a validator. A nil fs uses the OS filesystem and a
// non-positive maxSize uses DefaultMaxFileSize.
func NewValidator(fs afero.Fs, registry *Registry, maxSize int64) *Validator {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if registry == nil {
		registry = NewRegistry()
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}
	return &Validator{fs: fs, registry: registry, maxSize: maxSize}
}

// MaxSize returns the configured size ceiling in bytes.
func (v *Validator) MaxSize() int64 {
	return v.maxSize
}

// Validate checks existence, type, size and extension. A MIME type that does
// not match the extension is logged and tolerated.
func (v *Validator) Validate(ctx context.Context, path string) (*FileInfo, error) {
	stat, err := v.fs.Stat(path)
	if err != nil {
		return nil, &knowledge.InvalidInputError{Field: "file", Reason: "file does not exist: " + path, Cause: err}
	}
	if !stat.Mode().IsRegular() {
		return nil, knowledge.NewInvalidInput("file", "path is not a regular file: %s", path)
	}
	size := stat.Size()
	if size > v.maxSize {
		return nil, knowledge.NewInvalidInput(
			"file",
			"file size (%.1fMB) exceeds maximum allowed size (%.1fMB)",
			float64(size)/(1024*1024),
			float64(v.maxSize)/(1024*1024),
		)
	}
	if size == 0 {
		return nil, knowledge.NewInvalidInput("file", "file is empty: %s", path)
	}
	if _, err := v.registry.For(path); err != nil {
		return nil, err
	}
	ext := strings.ToLower(filepath.Ext(path))
	info := &FileInfo{Path: path, Name: filepath.Base(path), Extension: ext, Size: size}
	detected, err := v.sniff(path)
	if err != nil {
		logger.FromContext(ctx).Warn("Could not determine MIME type", "path", path, "error", err)
		return info, nil
	}
	info.MIME = detected.String()
	if expected := v.registry.expectedMIMEs(ext); !mimeMatches(detected, expected) {
		logger.FromContext(ctx).Warn(
			"MIME type does not match file extension, processing anyway",
			"path", path,
			"extension", ext,
			"mime", info.MIME,
		)
	}
	return info, nil
}

func (v *Validator) sniff(path string) (*mimetype.MIME, error) {
	f, err := v.fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open for mime detection: %w", err)
	}
	defer f.Close()
	return mimetype.DetectReader(f)
}

// mimeMatches walks the detected type and its parents. Any text/* type is
// accepted for formats expected to be textual.
func mimeMatches(detected *mimetype.MIME, expected []string) bool {
	if len(expected) == 0 {
		return true
	}
	textual := false
	for _, e := range expected {
		if strings.HasPrefix(e, "text/") {
			textual = true
		}
	}
	for m := detected; m != nil; m = m.Parent() {
		if textual && strings.HasPrefix(m.String(), "text/") {
			return true
		}
		for _, e := range expected {
			if m.Is(e) {
				return true
			}
		}
	}
	return false
}
