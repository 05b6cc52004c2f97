package document

import (
	"context"
	"fmt"
	"maps"
	"path/filepath"
	"time"

	"github.com/mohae/deepcopy"
	"github.com/spf13/afero"

	"github.com/compozy/ragpipe/engine/knowledge"
	"github.com/compozy/ragpipe/engine/knowledge/chunk"
	"github.com/compozy/ragpipe/engine/knowledge/extract"
	"github.com/compozy/ragpipe/pkg/logger"
)

// DefaultMaxChunksPerDoc caps the chunk count of a single document.
const DefaultMaxChunksPerDoc = 1000

// Options configures a Processor. Zero values select defaults.
type Options struct {
	FS          afero.Fs
	Registry    *extract.Registry
	MaxFileSize int64
	// MaxChunksPerDoc rejects larger documents. Zero disables the check.
	MaxChunksPerDoc int
}

// Processor validates, hashes, extracts and chunks files.
type Processor struct {
	fs        afero.Fs
	registry  *extract.Registry
	validator *extract.Validator
	chunker   *chunk.Chunker
	maxChunks int
}

// NewProcessor wires a processor around chunker.
func NewProcessor(chunker *chunk.Chunker, opts Options) (*Processor, error) {
	if chunker == nil {
		return nil, fmt.Errorf("document processor requires a chunker")
	}
	if opts.FS == nil {
		opts.FS = afero.NewOsFs()
	}
	if opts.Registry == nil {
		opts.Registry = extract.NewRegistry()
	}
	return &Processor{
		fs:        opts.FS,
		registry:  opts.Registry,
		validator: extract.NewValidator(opts.FS, opts.Registry, opts.MaxFileSize),
		chunker:   chunker,
		maxChunks: opts.MaxChunksPerDoc,
	}, nil
}

// Supports reports whether path has an extractor.
func (p *Processor) Supports(path string) bool {
	return p.registry.Supports(path)
}

// Validate runs file validation without reading the content.
func (p *Processor) Validate(ctx context.Context, path string) (*extract.FileInfo, error) {
	return p.validator.Validate(ctx, path)
}

// Chunker exposes the configured chunker.
func (p *Processor) Chunker() *chunk.Chunker {
	return p.chunker
}

// Process validates path, hashes its raw bytes, extracts text and splits it
// into chunks. Any failure yields no document.
func (p *Processor) Process(ctx context.Context, path string) (*ProcessedDocument, error) {
	log := logger.FromContext(ctx).With("path", path)
	started := time.Now()
	info, err := p.validator.Validate(ctx, path)
	if err != nil {
		return nil, err
	}
	extractor, err := p.registry.For(path)
	if err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(p.fs, path)
	if err != nil {
		return nil, &knowledge.ExtractionError{Path: path, Cause: err}
	}
	hash := HashContent(data)
	res, err := extractor.Extract(ctx, extract.Source{Path: path, Data: data})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &knowledge.ExtractionError{Path: path, Cause: err}
	}
	meta := make(map[string]any, len(res.Metadata)+4)
	maps.Copy(meta, res.Metadata)
	meta[MetaFilePath] = path
	meta[MetaFileName] = filepath.Base(path)
	meta[MetaFileHash] = hash
	meta[MetaFileSize] = info.Size
	chunks, err := p.chunker.Chunk(hash, res.Text, meta)
	if err != nil {
		return nil, err
	}
	if p.maxChunks > 0 && len(chunks) > p.maxChunks {
		return nil, knowledge.NewInvalidInput(
			"file",
			"%s produces %d chunks, more than the limit of %d",
			info.Name,
			len(chunks),
			p.maxChunks,
		)
	}
	total := 0
	for i := range chunks {
		// nested extractor metadata must not be shared between chunks
		if copied, ok := deepcopy.Copy(chunks[i].Metadata).(map[string]any); ok {
			chunks[i].Metadata = copied
		}
		total += chunks[i].TokenCount
	}
	log.Debug(
		"Processed document",
		"hash", hash,
		"chunks", len(chunks),
		"tokens", total,
		"duration", time.Since(started),
	)
	return &ProcessedDocument{
		SourcePath:  path,
		ContentHash: hash,
		Chunks:      chunks,
		Metadata:    meta,
		TotalChunks: len(chunks),
		TotalTokens: total,
	}, nil
}
