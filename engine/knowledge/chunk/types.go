package chunk

// Settings configures token windows.
type Settings struct {
	// Size is the window length in tokens.
	Size int
	// Overlap is the number of tokens shared by consecutive windows.
	Overlap int
	// NormalizeNewlines rewrites CRLF and CR line endings before tokenizing.
	NormalizeNewlines bool
}

// Stride is the distance between consecutive window starts.
func (s Settings) Stride() int {
	return s.Size - s.Overlap
}

// Chunk is one token window of a document. Chunks are never mutated after
// the chunker returns them.
type Chunk struct {
	ID          string
	Text        string
	Index       int
	StartToken  int
	EndToken    int
	TokenCount  int
	TotalChunks int
	Metadata    map[string]any
}

// Metadata keys written on every chunk.
const (
	MetaChunkIndex      = "chunk_index"
	MetaChunkStartToken = "chunk_start_token"
	MetaChunkEndToken   = "chunk_end_token"
	MetaChunkTokenCount = "chunk_token_count"
	MetaTotalChunks     = "total_chunks"
)
