package helpers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/compozy/ragpipe/cli/tui/models"
	"github.com/compozy/ragpipe/engine/knowledge"
	"github.com/tidwall/pretty"
)

// CliError represents a CLI-specific error with enhanced context
type CliError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   string         `json:"details,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	cause     error
}

func (e *CliError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *CliError) Unwrap() error {
	return e.cause
}

// NewCliError creates a new CLI error with context
func NewCliError(code, message string, details ...string) *CliError {
	err := &CliError{
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Context:   make(map[string]any),
	}
	if len(details) > 0 {
		err.Details = details[0]
	}
	return err
}

// WithContext adds context to the error
func (e *CliError) WithContext(key string, value any) *CliError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WrapError classifies err by its pipeline kind. Cancellation and timeouts
// get their own codes; anything unclassified is returned unchanged.
func WrapError(err error) error {
	if err == nil {
		return nil
	}
	var cliErr *CliError
	if errors.As(err, &cliErr) {
		return err
	}
	var wrapped *CliError
	switch {
	case errors.Is(err, context.Canceled):
		wrapped = NewCliError("OPERATION_CANCELED", "Operation was canceled by user")
	case errors.Is(err, context.DeadlineExceeded):
		wrapped = NewCliError("OPERATION_TIMEOUT", "Operation timed out", err.Error())
	default:
		kind := knowledge.KindOf(err)
		if kind == knowledge.KindUnknown {
			return err
		}
		wrapped = NewCliError(errorCode(kind), err.Error())
	}
	wrapped.cause = err
	return wrapped
}

func errorCode(kind knowledge.Kind) string {
	switch kind {
	case knowledge.KindInvalidInput:
		return "INVALID_INPUT"
	case knowledge.KindUnsupportedFormat:
		return "UNSUPPORTED_FORMAT"
	case knowledge.KindExtraction:
		return "EXTRACTION_FAILED"
	case knowledge.KindEmbedding:
		return "EMBEDDING_UNAVAILABLE"
	case knowledge.KindDuplicate:
		return "DUPLICATE_DOCUMENT"
	case knowledge.KindNotFound:
		return "NOT_FOUND"
	case knowledge.KindStore:
		return "VECTOR_STORE_ERROR"
	case knowledge.KindTimeout:
		return "OPERATION_TIMEOUT"
	default:
		return "UNKNOWN"
	}
}

// FormatError formats errors based on output mode
func FormatError(err error, mode models.Mode) string {
	if err == nil {
		return ""
	}
	switch mode {
	case models.ModeJSON:
		return formatErrorJSON(err)
	case models.ModeTUI:
		return formatErrorTUI(err)
	default:
		return err.Error()
	}
}

func formatErrorJSON(err error) string {
	body := map[string]any{"error": err.Error()}
	var cliErr *CliError
	if errors.As(err, &cliErr) {
		body = map[string]any{
			"error":   cliErr.Message,
			"code":    cliErr.Code,
			"details": cliErr.Details,
		}
	}
	data, merr := json.Marshal(body)
	if merr != nil {
		return `{"error": "JSON marshaling failed"}`
	}
	return string(pretty.Pretty(data))
}

func formatErrorTUI(err error) string {
	message, details := err.Error(), ""
	var cliErr *CliError
	if errors.As(err, &cliErr) {
		message, details = cliErr.Message, cliErr.Details
	}
	style := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#FF6B6B")).
		Bold(true)
	result := "✗ " + style.Render(message)
	if details != "" {
		detailStyle := lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888")).
			Italic(true)
		result += "\n" + detailStyle.Render("Details: "+details)
	}
	return result
}

// OutputError outputs an error to stderr in the appropriate format
func OutputError(err error, mode models.Mode) {
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, FormatError(err, mode))
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	_, err = w.Write(pretty.Pretty(data))
	return err
}

// Truncate returns s cut to at most maxLength runes, ending in "..." when
// there is room for it.
func Truncate(s string, maxLength int) string {
	runes := []rune(s)
	if len(runes) <= maxLength {
		return s
	}
	if maxLength <= 3 {
		return string(runes[:maxLength])
	}
	return string(runes[:maxLength-3]) + "..."
}

// Pluralize returns singular or plural form based on count
func Pluralize(count int, singular, plural string) string {
	if count == 1 {
		return singular
	}
	return plural
}

// FormatDuration formats a duration in a human-readable way
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%.1fm", d.Minutes())
	}
	return fmt.Sprintf("%.1fh", d.Hours())
}
