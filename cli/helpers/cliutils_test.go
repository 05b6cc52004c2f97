package helpers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/compozy/ragpipe/cli/tui/models"
	"github.com/compozy/ragpipe/engine/knowledge"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCliError(t *testing.T) {
	t.Run("Should create error with code and message", func(t *testing.T) {
		err := NewCliError("TEST_ERROR", "Test message")
		assert.Equal(t, "TEST_ERROR", err.Code)
		assert.Equal(t, "Test message", err.Message)
		assert.Empty(t, err.Details)
		assert.NotNil(t, err.Context)
	})

	t.Run("Should implement error interface", func(t *testing.T) {
		assert.Equal(t, "TEST_ERROR: Test message", NewCliError("TEST_ERROR", "Test message").Error())
		assert.Equal(t, "TEST_ERROR: Test message (Details)", NewCliError("TEST_ERROR", "Test message", "Details").Error())
	})

	t.Run("Should add context", func(t *testing.T) {
		err := NewCliError("TEST_ERROR", "Test message").WithContext("path", "a.md")
		assert.Equal(t, "a.md", err.Context["path"])
	})
}

func TestWrapError(t *testing.T) {
	t.Run("Should classify pipeline errors", func(t *testing.T) {
		err := WrapError(fmt.Errorf("search: %w", knowledge.NewInvalidInput("query", "cannot be empty")))
		var cliErr *CliError
		require.ErrorAs(t, err, &cliErr)
		assert.Equal(t, "INVALID_INPUT", cliErr.Code)
		assert.Equal(t, knowledge.KindInvalidInput, knowledge.KindOf(err))
	})

	t.Run("Should map cancellation", func(t *testing.T) {
		var cliErr *CliError
		require.ErrorAs(t, WrapError(context.Canceled), &cliErr)
		assert.Equal(t, "OPERATION_CANCELED", cliErr.Code)
		assert.ErrorIs(t, cliErr, context.Canceled)
	})

	t.Run("Should leave unknown errors alone", func(t *testing.T) {
		boom := errors.New("boom")
		assert.Same(t, boom, WrapError(boom))
		assert.NoError(t, WrapError(nil))
	})
}

func TestFormatError(t *testing.T) {
	t.Run("Should render JSON with the code", func(t *testing.T) {
		out := FormatError(NewCliError("NOT_FOUND", "missing", "h_0"), models.ModeJSON)
		assert.Contains(t, out, `"code": "NOT_FOUND"`)
		assert.Contains(t, out, `"details": "h_0"`)
	})

	t.Run("Should render plain errors for terminals", func(t *testing.T) {
		out := FormatError(errors.New("boom"), models.ModeTUI)
		assert.Contains(t, out, "boom")
		assert.Empty(t, FormatError(nil, models.ModeTUI))
	})
}

func TestWriteJSON(t *testing.T) {
	t.Run("Should indent output", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, WriteJSON(&buf, map[string]int{"chunks": 3}))
		assert.Equal(t, "{\n  \"chunks\": 3\n}\n", buf.String())
	})
}

func TestDetectMode(t *testing.T) {
	newCmd := func() *cobra.Command {
		cmd := &cobra.Command{Use: "x"}
		cmd.Flags().Bool(FlagJSON, false, "")
		cmd.Flags().String(FlagOutput, "", "")
		return cmd
	}

	t.Run("Should honor --json", func(t *testing.T) {
		cmd := newCmd()
		require.NoError(t, cmd.Flags().Set(FlagJSON, "true"))
		assert.Equal(t, models.ModeJSON, DetectMode(cmd))
	})

	t.Run("Should honor --output tui", func(t *testing.T) {
		cmd := newCmd()
		require.NoError(t, cmd.Flags().Set(FlagOutput, "tui"))
		assert.Equal(t, models.ModeTUI, DetectMode(cmd))
	})

	t.Run("Should fall back to JSON in CI", func(t *testing.T) {
		t.Setenv("CI", "true")
		assert.Equal(t, models.ModeJSON, DetectMode(newCmd()))
	})
}

func TestTruncate(t *testing.T) {
	t.Run("Should truncate long strings", func(t *testing.T) {
		assert.Equal(t, "short", Truncate("short", 10))
		assert.Equal(t, "this is...", Truncate("this is a very long string", 10))
		assert.Equal(t, "ab", Truncate("abcdef", 2))
		assert.Equal(t, "héllo", Truncate("héllo", 5))
	})
}

func TestPluralize(t *testing.T) {
	t.Run("Should pluralize by count", func(t *testing.T) {
		assert.Equal(t, "chunk", Pluralize(1, "chunk", "chunks"))
		assert.Equal(t, "chunks", Pluralize(0, "chunk", "chunks"))
	})
}

func TestFormatDuration(t *testing.T) {
	t.Run("Should format durations", func(t *testing.T) {
		assert.Equal(t, "500ms", FormatDuration(500*time.Millisecond))
		assert.Equal(t, "1.5s", FormatDuration(1500*time.Millisecond))
		assert.Equal(t, "2.0m", FormatDuration(2*time.Minute))
		assert.Equal(t, "1.0h", FormatDuration(time.Hour))
	})
}
