package chunk

import (
	"fmt"
	"maps"
	"regexp"
	"strings"

	"github.com/compozy/ragpipe/engine/knowledge"
)

var newlinePattern = regexp.MustCompile(`\r\n|\r`)

// Chunker splits text into overlapping token windows.
type Chunker struct {
	settings  Settings
	tokenizer Tokenizer
}

// NewChunker validates settings. A nil tokenizer selects cl100k_base.
func NewChunker(settings Settings, tokenizer Tokenizer) (*Chunker, error) {
	if err := ValidateSettings(settings); err != nil {
		return nil, err
	}
	if tokenizer == nil {
		tok, err := NewTiktoken(DefaultEncoding)
		if err != nil {
			return nil, err
		}
		tokenizer = tok
	}
	return &Chunker{settings: settings, tokenizer: tokenizer}, nil
}

// ValidateSettings enforces size > 0 and 0 <= overlap < size.
func ValidateSettings(s Settings) error {
	switch {
	case s.Size <= 0:
		return knowledge.NewInvalidInput("chunk_size", "must be greater than zero, got %d", s.Size)
	case s.Overlap < 0:
		return knowledge.NewInvalidInput("chunk_overlap", "cannot be negative, got %d", s.Overlap)
	case s.Overlap >= s.Size:
		return knowledge.NewInvalidInput(
			"chunk_overlap",
			"%d must be smaller than chunk size %d",
			s.Overlap,
			s.Size,
		)
	}
	return nil
}

// Settings returns the window configuration.
func (c *Chunker) Settings() Settings {
	return c.settings
}

// CountTokens returns the number of tokens in text.
func (c *Chunker) CountTokens(text string) int {
	return len(c.tokenizer.Encode(text))
}

// Chunk tokenizes text once and emits windows starting at 0, stride,
// 2*stride and so on. The last window is the first one that reaches the end
// of the token sequence, so no window is ever empty or fully contained in its
// predecessor. For n tokens, size c and overlap o the chunk count is
// ceil((n-o)/(c-o)), and exactly 1 when n <= c. That count is the contract:
// 2500 tokens at size 1000 and overlap 200 yield 3 chunks, not 4. Chunk ids
// are "<contentHash>_<index>". base is copied into every chunk's metadata.
func (c *Chunker) Chunk(contentHash, text string, base map[string]any) ([]Chunk, error) {
	if strings.TrimSpace(contentHash) == "" {
		return nil, knowledge.NewInvalidInput("content_hash", "is required")
	}
	if c.settings.NormalizeNewlines {
		text = newlinePattern.ReplaceAllString(text, "\n")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	tokens := c.tokenizer.Encode(text)
	total := len(tokens)
	if total == 0 {
		return nil, nil
	}
	stride := c.settings.Stride()
	chunks := make([]Chunk, 0, windowCount(total, c.settings))
	for start := 0; start < total; start += stride {
		end := min(start+c.settings.Size, total)
		idx := len(chunks)
		meta := make(map[string]any, len(base)+5)
		maps.Copy(meta, base)
		meta[MetaChunkIndex] = idx
		meta[MetaChunkStartToken] = start
		meta[MetaChunkEndToken] = end
		meta[MetaChunkTokenCount] = end - start
		chunks = append(chunks, Chunk{
			ID:         ChunkID(contentHash, idx),
			Text:       c.tokenizer.Decode(tokens[start:end]),
			Index:      idx,
			StartToken: start,
			EndToken:   end,
			TokenCount: end - start,
			Metadata:   meta,
		})
		if end == total {
			break
		}
	}
	for i := range chunks {
		chunks[i].TotalChunks = len(chunks)
		chunks[i].Metadata[MetaTotalChunks] = len(chunks)
	}
	return chunks, nil
}

// ChunkID derives the record id of the index-th chunk of a document.
func ChunkID(contentHash string, index int) string {
	return fmt.Sprintf("%s_%d", contentHash, index)
}

// windowCount is ceil((n - overlap) / stride) for n > size and 1 otherwise.
func windowCount(n int, s Settings) int {
	if n <= 0 {
		return 0
	}
	if n <= s.Size {
		return 1
	}
	stride := s.Stride()
	return (n - s.Overlap + stride - 1) / stride
}
