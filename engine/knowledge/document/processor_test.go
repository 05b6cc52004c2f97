package document

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compozy/ragpipe/engine/knowledge"
	"github.com/compozy/ragpipe/engine/knowledge/chunk"
	"github.com/compozy/ragpipe/engine/knowledge/extract"
)

type wordTokenizer struct{}

func (wordTokenizer) Encode(text string) []int {
	words := strings.Fields(text)
	out := make([]int, len(words))
	for i := range words {
		out[i] = i
	}
	return out
}

func (wordTokenizer) Decode(tokens []int) string {
	return strings.Repeat("w ", len(tokens))
}

func newProcessor(t *testing.T, size, overlap, maxChunks int) (*Processor, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	c, err := chunk.NewChunker(chunk.Settings{Size: size, Overlap: overlap}, nil)
	require.NoError(t, err)
	p, err := NewProcessor(c, Options{FS: fs, MaxChunksPerDoc: maxChunks})
	require.NoError(t, err)
	return p, fs
}

func TestProcessor_Process(t *testing.T) {
	t.Run("Should hash, extract and chunk a text file", func(t *testing.T) {
		p, fs := newProcessor(t, 20, 5, 0)
		content := strings.Repeat("Pipelines move documents through stages. ", 30)
		require.NoError(t, afero.WriteFile(fs, "/docs/guide.txt", []byte(content), 0o644))

		doc, err := p.Process(t.Context(), "/docs/guide.txt")
		require.NoError(t, err)
		assert.Equal(t, HashContent([]byte(content)), doc.ContentHash)
		assert.Len(t, doc.ContentHash, 64)
		assert.Equal(t, "/docs/guide.txt", doc.SourcePath)
		assert.Equal(t, len(doc.Chunks), doc.TotalChunks)
		assert.Greater(t, doc.TotalChunks, 1)
		sum := 0
		for i, ch := range doc.Chunks {
			sum += ch.TokenCount
			assert.Equal(t, chunk.ChunkID(doc.ContentHash, i), ch.ID)
			assert.Equal(t, doc.ContentHash, ch.Metadata[MetaFileHash])
			assert.Equal(t, "guide.txt", ch.Metadata[MetaFileName])
			assert.Equal(t, int64(len(content)), ch.Metadata[MetaFileSize])
			assert.Equal(t, "text", ch.Metadata["file_type"])
		}
		assert.Equal(t, sum, doc.TotalTokens)
		assert.Equal(t, "text", doc.FileType())
		assert.Equal(t, "guide.txt", doc.FileName())
	})

	t.Run("Should produce identical hashes for identical bytes at different paths", func(t *testing.T) {
		p, fs := newProcessor(t, 50, 10, 0)
		require.NoError(t, afero.WriteFile(fs, "/a/one.md", []byte("# Same\nbody"), 0o644))
		require.NoError(t, afero.WriteFile(fs, "/b/two.md", []byte("# Same\nbody"), 0o644))
		first, err := p.Process(t.Context(), "/a/one.md")
		require.NoError(t, err)
		second, err := p.Process(t.Context(), "/b/two.md")
		require.NoError(t, err)
		assert.Equal(t, first.ContentHash, second.ContentHash)
		assert.Equal(t, first.Chunks[0].ID, second.Chunks[0].ID)
	})

	t.Run("Should return a document with no chunks for whitespace-only text", func(t *testing.T) {
		p, fs := newProcessor(t, 50, 10, 0)
		require.NoError(t, afero.WriteFile(fs, "/docs/blank.txt", []byte(" \n\n\t "), 0o644))
		doc, err := p.Process(t.Context(), "/docs/blank.txt")
		require.NoError(t, err)
		assert.Empty(t, doc.Chunks)
		assert.Zero(t, doc.TotalTokens)
	})

	t.Run("Should surface validation and format errors", func(t *testing.T) {
		p, fs := newProcessor(t, 50, 10, 0)
		require.NoError(t, afero.WriteFile(fs, "/docs/x.exe", []byte("MZ"), 0o644))
		_, err := p.Process(t.Context(), "/docs/x.exe")
		assert.True(t, knowledge.IsUnsupportedFormat(err))
		_, err = p.Process(t.Context(), "/docs/none.txt")
		assert.True(t, knowledge.IsInvalidInput(err))
	})

	t.Run("Should wrap parser failures as extraction errors", func(t *testing.T) {
		p, fs := newProcessor(t, 50, 10, 0)
		require.NoError(t, afero.WriteFile(fs, "/docs/broken.docx", []byte("not a zip"), 0o644))
		_, err := p.Process(t.Context(), "/docs/broken.docx")
		require.Error(t, err)
		assert.True(t, knowledge.IsExtraction(err))
		assert.Contains(t, err.Error(), "/docs/broken.docx")
	})

	t.Run("Should reject documents over the chunk limit", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		c, err := chunk.NewChunker(chunk.Settings{Size: 2, Overlap: 0}, wordTokenizer{})
		require.NoError(t, err)
		p, err := NewProcessor(c, Options{FS: fs, MaxChunksPerDoc: 3})
		require.NoError(t, err)
		require.NoError(t, afero.WriteFile(fs, "/docs/long.txt", []byte("a b c d e f g h"), 0o644))
		_, err = p.Process(t.Context(), "/docs/long.txt")
		require.Error(t, err)
		assert.True(t, knowledge.IsInvalidInput(err))
		assert.Contains(t, err.Error(), "more than the limit of 3")
	})

	t.Run("Should isolate nested metadata between chunks", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		c, err := chunk.NewChunker(chunk.Settings{Size: 2, Overlap: 0}, wordTokenizer{})
		require.NoError(t, err)
		reg := extract.NewRegistry()
		reg.Register(".log", extract.ExtractorFunc(func(_ context.Context, src extract.Source) (*extract.Result, error) {
			return &extract.Result{
				Text:     string(src.Data),
				Metadata: map[string]any{"file_type": "log", "nested": map[string]any{"k": "v"}},
			}, nil
		}))
		p, err := NewProcessor(c, Options{FS: fs, Registry: reg})
		require.NoError(t, err)
		require.NoError(t, afero.WriteFile(fs, "/docs/app.log", []byte("a b c d"), 0o644))
		doc, err := p.Process(t.Context(), "/docs/app.log")
		require.NoError(t, err)
		require.Len(t, doc.Chunks, 2)
		doc.Chunks[0].Metadata["nested"].(map[string]any)["k"] = "changed"
		assert.Equal(t, "v", doc.Chunks[1].Metadata["nested"].(map[string]any)["k"])
	})

	t.Run("Should stop when the extractor fails because the context ended", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		c, err := chunk.NewChunker(chunk.Settings{Size: 2, Overlap: 0}, wordTokenizer{})
		require.NoError(t, err)
		reg := extract.NewRegistry()
		reg.Register(".log", extract.ExtractorFunc(func(ctx context.Context, _ extract.Source) (*extract.Result, error) {
			return nil, ctx.Err()
		}))
		p, err := NewProcessor(c, Options{FS: fs, Registry: reg})
		require.NoError(t, err)
		require.NoError(t, afero.WriteFile(fs, "/docs/app.log", []byte("a"), 0o644))
		ctx, cancel := context.WithCancel(t.Context())
		cancel()
		_, err = p.Process(ctx, "/docs/app.log")
		assert.True(t, errors.Is(err, context.Canceled))
	})

	t.Run("Should require a chunker", func(t *testing.T) {
		_, err := NewProcessor(nil, Options{})
		assert.Error(t, err)
	})
}
