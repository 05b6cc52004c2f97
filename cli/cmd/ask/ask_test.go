package ask

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compozy/ragpipe/engine/knowledge/retriever"
)

func TestRenderSources(t *testing.T) {
	t.Run("Should list files with chunk and page", func(t *testing.T) {
		var buf bytes.Buffer
		err := RenderSources(&buf, []retriever.Source{
			{FileName: "guide.pdf", ChunkIndex: 3, PageNumber: 7, Similarity: 0.91},
			{FileName: "notes.md", ChunkIndex: 0, Similarity: 0.75},
		})
		require.NoError(t, err)
		out := buf.String()
		assert.Contains(t, out, "guide.pdf")
		assert.Contains(t, out, "7")
		assert.Contains(t, out, "0.910")
		assert.Contains(t, out, "notes.md")
	})

	t.Run("Should say when no context was used", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, RenderSources(&buf, nil))
		assert.Contains(t, buf.String(), "No document context")
	})
}

func TestAnswerOptions(t *testing.T) {
	t.Run("Should read k, max tokens and filter", func(t *testing.T) {
		command := NewAskCommand()
		require.NoError(t, command.ParseFlags([]string{"-k", "3", "--max-tokens", "200", "--filter", "file_type=.md"}))
		opts, err := answerOptions(command)
		require.NoError(t, err)
		assert.Equal(t, 3, opts.TopK)
		assert.Equal(t, 200, opts.MaxTokens)
		assert.Equal(t, map[string]string{"file_type": ".md"}, opts.Filter)
		assert.Nil(t, opts.Temperature)
	})
}

func TestMaybeCopy(t *testing.T) {
	stub := func(t *testing.T, err error) *string {
		t.Helper()
		var copied string
		orig := copyAnswer
		t.Cleanup(func() { copyAnswer = orig })
		copyAnswer = func(text string) error {
			copied = text
			return err
		}
		return &copied
	}

	t.Run("Should copy the trimmed answer when asked", func(t *testing.T) {
		copied := stub(t, nil)
		command := NewAskCommand()
		require.NoError(t, command.ParseFlags([]string{"--copy"}))
		assert.True(t, maybeCopy(t.Context(), command, " Paris.\n"))
		assert.Equal(t, "Paris.", *copied)
	})

	t.Run("Should do nothing without the flag", func(t *testing.T) {
		copied := stub(t, nil)
		assert.False(t, maybeCopy(t.Context(), NewAskCommand(), "Paris."))
		assert.Empty(t, *copied)
	})

	t.Run("Should report clipboard failures as not copied", func(t *testing.T) {
		stub(t, errors.New("no clipboard utility"))
		command := NewAskCommand()
		require.NoError(t, command.ParseFlags([]string{"--copy"}))
		assert.False(t, maybeCopy(t.Context(), command, "Paris."))
	})
}
