package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

type helpItem struct {
	key  string
	desc string
}

var helpItems = []helpItem{
	{"q / Ctrl+C", "Quit"},
	{"↑ / ↓", "Select contact / scroll"},
	{"Enter", "Open conversation"},
	{"m", "Write a message"},
	{"r", "Ask for a reply"},
	{"g", "Regenerate the last reply"},
	{"c", "Start / end a voice call"},
	{"o", "Enter / leave an in-person scene"},
	{"t", "Send a payment (amount note)"},
	{"i", "Send a couple space invitation"},
	{"s", "Run the daily summary now"},
	{"Esc", "Back / Cancel"},
	{"?", "Toggle help"},
}

// RenderHelp renders the help overlay centered in the window.
func RenderHelp(width, height int) string {
	lines := []string{titleStyle.Render("Keyboard Shortcuts"), ""}

	maxKeyLen := 0
	for _, item := range helpItems {
		if w := lipgloss.Width(item.key); w > maxKeyLen {
			maxKeyLen = w
		}
	}
	for _, item := range helpItems {
		lines = append(lines, helpKeyStyle.Render(padRight(item.key, maxKeyLen))+"  "+helpDescStyle.Render(item.desc))
	}

	box := helpStyle.Render(strings.Join(lines, "\n"))
	return lipgloss.Place(width, height, lipgloss.Center, lipgloss.Center, box)
}
