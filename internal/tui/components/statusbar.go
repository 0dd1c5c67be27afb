package components

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/theirongolddev/cplpilot/internal/tui/theme"
)

// RenderStatusBar renders the bottom bar: key hints on the left, run
// information on the right.
func RenderStatusBar(width int, hints, info string) string {
	t := theme.Active

	style := lipgloss.NewStyle().
		Foreground(t.TextMuted).
		Background(t.Surface).
		Width(width)

	left := " " + hints
	right := ""
	if info != "" {
		right = info + " "
	}

	padding := max(width-lipgloss.Width(left)-lipgloss.Width(right), 0)
	bar := left
	for i := 0; i < padding; i++ {
		bar += " "
	}
	return style.Render(bar + right)
}
