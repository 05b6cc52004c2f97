package mcpserver

import (
	"context"
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstrument(t *testing.T) {
	t.Run("Should classify tool outcomes", func(t *testing.T) {
		assert.Equal(t, outcomeSuccess, outcome(mcp.NewToolResultText("ok"), nil))
		assert.Equal(t, outcomeError, outcome(mcp.NewToolResultError("not_found: gone"), nil))
		assert.Equal(t, outcomeFailure, outcome(nil, errors.New("boom")))
	})

	t.Run("Should pass results through unchanged", func(t *testing.T) {
		want := mcp.NewToolResultText("ok")
		handler := instrument("stats", func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return want, nil
		})
		got, err := handler(t.Context(), mcp.CallToolRequest{})
		require.NoError(t, err)
		assert.Same(t, want, got)
	})
}
