package documents

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compozy/ragpipe/engine/knowledge/index"
)

func TestRenderDocuments(t *testing.T) {
	t.Run("Should print hash, name and chunk count", func(t *testing.T) {
		var buf bytes.Buffer
		err := RenderDocuments(&buf, []index.DocumentInfo{
			{Hash: "9f86d081", FileName: "guide.pdf", FileType: ".pdf", Chunks: 12, IndexedAt: "2026-01-02T10:00:00Z"},
		})
		require.NoError(t, err)
		out := buf.String()
		assert.Contains(t, out, "9f86d081")
		assert.Contains(t, out, "guide.pdf")
		assert.Contains(t, out, "12")
	})

	t.Run("Should print a notice for an empty collection", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, RenderDocuments(&buf, nil))
		assert.Contains(t, buf.String(), "No documents indexed yet")
	})
}

func TestRenderStats(t *testing.T) {
	t.Run("Should print counters", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, RenderStats(&buf, index.Stats{TotalChunks: 40, UniqueDocuments: 3, Collection: "rag_documents"}))
		out := buf.String()
		assert.Contains(t, out, "rag_documents")
		assert.Contains(t, out, "40")
	})
}

func TestResetCommand(t *testing.T) {
	t.Run("Should expose a yes flag", func(t *testing.T) {
		command := NewResetCommand()
		require.NoError(t, command.ParseFlags([]string{"-y"}))
		yes, err := command.Flags().GetBool("yes")
		require.NoError(t, err)
		assert.True(t, yes)
	})
}
