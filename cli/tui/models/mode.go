package models

// Mode represents the output mode for CLI commands
type Mode string

const (
	// ModeTUI renders styled tables and progress for a terminal
	ModeTUI Mode = "tui"
	// ModeJSON prints machine readable JSON
	ModeJSON Mode = "json"
)
