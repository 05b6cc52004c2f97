package components

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/common-nighthawk/go-figure"
	"github.com/compozy/ragpipe/cli/tui/styles"
)

// RenderASCIIHeader renders the ragpipe logo followed by a subtitle.
func RenderASCIIHeader(subtitle string) string {
	logo := figure.NewFigure("ragpipe", "small", true)
	header := styles.Title.Align(lipgloss.Left).Render(logo.String())
	if subtitle == "" {
		return header
	}
	return lipgloss.JoinVertical(lipgloss.Left, header, styles.Subtle.Render(subtitle))
}
