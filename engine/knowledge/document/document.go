// Package document turns a file on disk into hashed, chunked content ready
// for indexing.
package document

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/compozy/ragpipe/engine/knowledge/chunk"
)

// Base metadata keys set on every processed document.
const (
	MetaFilePath = "file_path"
	MetaFileName = "file_name"
	MetaFileHash = "file_hash"
	MetaFileSize = "file_size"
)

// ProcessedDocument is the all-or-nothing result of processing one file.
type ProcessedDocument struct {
	SourcePath  string
	ContentHash string
	Chunks      []chunk.Chunk
	Metadata    map[string]any
	TotalChunks int
	TotalTokens int
}

// FileType returns the extractor reported type, or "" when unknown.
func (d *ProcessedDocument) FileType() string {
	if d == nil {
		return ""
	}
	v, _ := d.Metadata["file_type"].(string)
	return v
}

// FileName returns the base name recorded at processing time.
func (d *ProcessedDocument) FileName() string {
	if d == nil {
		return ""
	}
	v, _ := d.Metadata[MetaFileName].(string)
	return v
}

// HashContent returns the lowercase hex SHA-256 of data.
func HashContent(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
