package components

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/theirongolddev/cplpilot/internal/tui/theme"
)

// Tab represents a single tab in the tab bar.
type Tab struct {
	Name string
	Key  rune // shortcut key
}

// Tabs defines the run browser views.
var Tabs = []Tab{
	{Name: "Adsets", Key: 'a'},
	{Name: "Accounts", Key: 'c'},
	{Name: "Summary", Key: 's'},
}

// RenderTabBar renders the tab bar with the given active index.
func RenderTabBar(activeIdx int) string {
	t := theme.Active

	activeStyle := lipgloss.NewStyle().Foreground(t.Accent).Bold(true).Padding(0, 1)
	inactiveStyle := lipgloss.NewStyle().Foreground(t.TextMuted).Padding(0, 1)
	keyStyle := lipgloss.NewStyle().Foreground(t.Accent)

	parts := make([]string, len(Tabs))
	for i, tab := range Tabs {
		if i == activeIdx {
			parts[i] = activeStyle.Render(tab.Name)
			continue
		}
		parts[i] = inactiveStyle.Render(tab.Name + keyStyle.Render("["+string(tab.Key)+"]"))
	}
	return strings.Join(parts, " ")
}

// TabIdxByKey returns the tab index for a given key press, or -1.
func TabIdxByKey(key rune) int {
	for i, tab := range Tabs {
		if tab.Key == key {
			return i
		}
	}
	return -1
}
