package chunk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compozy/ragpipe/engine/knowledge"
)

// runeTokenizer maps every rune to one token.
type runeTokenizer struct{}

func (runeTokenizer) Encode(text string) []int {
	out := make([]int, 0, len(text))
	for _, r := range text {
		out = append(out, int(r))
	}
	return out
}

func (runeTokenizer) Decode(tokens []int) string {
	var b strings.Builder
	for _, t := range tokens {
		b.WriteRune(rune(t))
	}
	return b.String()
}

func newRuneChunker(t *testing.T, size, overlap int) *Chunker {
	t.Helper()
	c, err := NewChunker(Settings{Size: size, Overlap: overlap}, runeTokenizer{})
	require.NoError(t, err)
	return c
}

func TestNewChunker(t *testing.T) {
	t.Run("Should reject invalid window settings", func(t *testing.T) {
		cases := []Settings{
			{Size: 0, Overlap: 0},
			{Size: -5, Overlap: 0},
			{Size: 10, Overlap: -1},
			{Size: 10, Overlap: 10},
			{Size: 10, Overlap: 11},
		}
		for _, s := range cases {
			_, err := NewChunker(s, runeTokenizer{})
			require.Error(t, err, "%+v", s)
			assert.True(t, knowledge.IsInvalidInput(err))
		}
	})
}

func TestChunker_Chunk(t *testing.T) {
	t.Run("Should produce the documented spans for a 2500 token text", func(t *testing.T) {
		c := newRuneChunker(t, 1000, 200)
		chunks, err := c.Chunk("abc", strings.Repeat("x", 2500), map[string]any{"file_name": "a.txt"})
		require.NoError(t, err)
		require.Len(t, chunks, 3)
		spans := [][2]int{{0, 1000}, {800, 1800}, {1600, 2500}}
		for i, ch := range chunks {
			assert.Equal(t, spans[i][0], ch.StartToken)
			assert.Equal(t, spans[i][1], ch.EndToken)
			assert.Equal(t, i, ch.Index)
			assert.Equal(t, 3, ch.TotalChunks)
			assert.Equal(t, 3, ch.Metadata[MetaTotalChunks])
			assert.Equal(t, ch.EndToken-ch.StartToken, ch.Metadata[MetaChunkTokenCount])
			assert.Equal(t, "a.txt", ch.Metadata["file_name"])
		}
		assert.Equal(t, "abc_0", chunks[0].ID)
		assert.Equal(t, "abc_2", chunks[2].ID)
	})

	t.Run("Should match the window count formula", func(t *testing.T) {
		c := newRuneChunker(t, 10, 3)
		for n := 1; n <= 60; n++ {
			chunks, err := c.Chunk("h", strings.Repeat("a", n), nil)
			require.NoError(t, err)
			expected := 1
			if n > 10 {
				expected = (n - 3 + 6) / 7
			}
			assert.Len(t, chunks, expected, "n=%d", n)
			last := chunks[len(chunks)-1]
			assert.Equal(t, n, last.EndToken, "n=%d", n)
			assert.Positive(t, last.TokenCount, "n=%d", n)
		}
	})

	t.Run("Should return one chunk for short text and none for blank text", func(t *testing.T) {
		c := newRuneChunker(t, 100, 10)
		chunks, err := c.Chunk("h", "  short text  ", nil)
		require.NoError(t, err)
		require.Len(t, chunks, 1)
		assert.Equal(t, "short text", chunks[0].Text)

		chunks, err = c.Chunk("h", " \n\t ", nil)
		require.NoError(t, err)
		assert.Empty(t, chunks)
	})

	t.Run("Should not emit a trailing chunk when length is a multiple of the stride", func(t *testing.T) {
		c := newRuneChunker(t, 10, 5)
		chunks, err := c.Chunk("h", strings.Repeat("b", 20), nil)
		require.NoError(t, err)
		require.Len(t, chunks, 3)
		assert.Equal(t, 20, chunks[2].EndToken)
	})

	t.Run("Should reconstruct the original token sequence", func(t *testing.T) {
		text := "The quick brown fox jumps over the lazy dog while the cat sleeps."
		c := newRuneChunker(t, 12, 4)
		chunks, err := c.Chunk("h", text, nil)
		require.NoError(t, err)
		var rebuilt strings.Builder
		for i, ch := range chunks {
			if i == 0 {
				rebuilt.WriteString(ch.Text)
				continue
			}
			overlap := chunks[i-1].EndToken - ch.StartToken
			rebuilt.WriteString(string([]rune(ch.Text)[overlap:]))
		}
		assert.Equal(t, text, rebuilt.String())
	})

	t.Run("Should keep sum of token counts equal to covered tokens without overlap", func(t *testing.T) {
		c := newRuneChunker(t, 8, 0)
		chunks, err := c.Chunk("h", strings.Repeat("z", 30), nil)
		require.NoError(t, err)
		sum := 0
		for _, ch := range chunks {
			sum += ch.TokenCount
		}
		assert.Equal(t, 30, sum)
	})

	t.Run("Should not share metadata maps between chunks", func(t *testing.T) {
		base := map[string]any{"k": "v"}
		c := newRuneChunker(t, 4, 1)
		chunks, err := c.Chunk("h", "abcdefghij", base)
		require.NoError(t, err)
		chunks[0].Metadata["k"] = "changed"
		assert.Equal(t, "v", chunks[1].Metadata["k"])
		assert.Equal(t, "v", base["k"])
		_, exists := base[MetaChunkIndex]
		assert.False(t, exists)
	})

	t.Run("Should require a content hash", func(t *testing.T) {
		c := newRuneChunker(t, 4, 1)
		_, err := c.Chunk(" ", "abc", nil)
		assert.True(t, knowledge.IsInvalidInput(err))
	})

	t.Run("Should normalize newlines when enabled", func(t *testing.T) {
		c, err := NewChunker(Settings{Size: 50, Overlap: 0, NormalizeNewlines: true}, runeTokenizer{})
		require.NoError(t, err)
		chunks, err := c.Chunk("h", "a\r\nb\rc", nil)
		require.NoError(t, err)
		assert.Equal(t, "a\nb\nc", chunks[0].Text)
	})
}

func TestTiktoken(t *testing.T) {
	t.Run("Should encode and decode with the embedded cl100k_base ranks", func(t *testing.T) {
		tok, err := NewTiktoken("")
		require.NoError(t, err)
		text := "Retrieval augmented generation splits documents into chunks."
		tokens := tok.Encode(text)
		require.NotEmpty(t, tokens)
		assert.Less(t, len(tokens), len(text))
		assert.Equal(t, text, tok.Decode(tokens))

		again, err := NewTiktoken(DefaultEncoding)
		require.NoError(t, err)
		assert.Same(t, tok, again)
	})

	t.Run("Should chunk with the default tokenizer", func(t *testing.T) {
		c, err := NewChunker(Settings{Size: 16, Overlap: 4}, nil)
		require.NoError(t, err)
		text := strings.Repeat("Go makes concurrent pipelines pleasant to write. ", 20)
		chunks, err := c.Chunk("doc", text, nil)
		require.NoError(t, err)
		require.Greater(t, len(chunks), 1)
		assert.Equal(t, c.CountTokens(strings.TrimSpace(text)), chunks[len(chunks)-1].EndToken)
	})
}
