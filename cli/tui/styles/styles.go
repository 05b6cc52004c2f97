// Package styles holds the lipgloss palette shared by terminal output.
package styles

import "github.com/charmbracelet/lipgloss"

var (
	Primary = lipgloss.Color("#04B575")
	Muted   = lipgloss.Color("#888888")
	Warning = lipgloss.Color("#FFB454")
	Danger  = lipgloss.Color("#FF6B6B")

	Title   = lipgloss.NewStyle().Foreground(Primary).Bold(true)
	Subtle  = lipgloss.NewStyle().Foreground(Muted)
	Success = lipgloss.NewStyle().Foreground(Primary)
	Warn    = lipgloss.NewStyle().Foreground(Warning)
	Failure = lipgloss.NewStyle().Foreground(Danger).Bold(true)
	Header  = lipgloss.NewStyle().Foreground(Primary).Bold(true).Padding(0, 1)
	Cell    = lipgloss.NewStyle().Padding(0, 1)
)
