package watch

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compozy/ragpipe/engine/knowledge/ingest"
)

func TestFormatResult(t *testing.T) {
	t.Run("Should show chunk counts for added files", func(t *testing.T) {
		line := FormatResult(ingest.FileResult{Path: "docs/a.md", Status: ingest.StatusAdded, Chunks: 1})
		assert.Contains(t, line, "docs/a.md (1 chunk)")
	})

	t.Run("Should mark duplicates", func(t *testing.T) {
		line := FormatResult(ingest.FileResult{Path: "docs/a.md", Status: ingest.StatusDuplicate})
		assert.Contains(t, line, "already indexed")
	})

	t.Run("Should include the failure reason", func(t *testing.T) {
		line := FormatResult(ingest.FileResult{Path: "docs/b.pdf", Status: ingest.StatusFailed, Error: errors.New("no text")})
		assert.Contains(t, line, "docs/b.pdf")
		assert.Contains(t, line, "no text")
	})
}

func TestPrintJSON(t *testing.T) {
	t.Run("Should carry the error text", func(t *testing.T) {
		view := newResultView(ingest.FileResult{
			Path:   "docs/b.pdf",
			Status: ingest.StatusFailed,
			Error:  errors.New("no text"),
		}, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
		assert.Equal(t, "no text", view.Error)
		var buf bytes.Buffer
		require.NoError(t, printJSON(&buf, ingest.FileResult{Path: "docs/a.md", Status: ingest.StatusAdded, Chunks: 2}))
		assert.Contains(t, buf.String(), `"chunks": 2`)
		assert.NotContains(t, buf.String(), `"error"`)
	})
}
