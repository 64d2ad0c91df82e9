package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/xonecas/heartline/internal/store"
)

// Palette: warm rose on a dark plum background.
var (
	colorBrand    = lipgloss.Color("#FF5C8A")
	colorSoft     = lipgloss.Color("#FFB3C7")
	colorBrandDim = lipgloss.Color("#A33A5C")

	colorUser      = lipgloss.Color("#7FE3B0")
	colorAssistant = lipgloss.Color("#FF8FB1")
	colorSystem    = lipgloss.Color("#8FB8FF")
	colorEvent     = lipgloss.Color("#FFD166")

	colorError = lipgloss.Color("#FF3366")
	colorMuted = lipgloss.Color("#8A6F80")

	colorBgPanel = lipgloss.Color("#1C1218")
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorBrand)

	contactListStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(colorBrandDim)

	contactItemStyle = lipgloss.NewStyle().
				Foreground(colorSoft).
				Padding(0, 1)

	contactItemSelectedStyle = lipgloss.NewStyle().
					Foreground(colorBgPanel).
					Background(colorBrand).
					Bold(true).
					Padding(0, 1)

	conversationStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(colorBrandDim)

	userStyle = lipgloss.NewStyle().
			Foreground(colorUser).
			Bold(true)

	assistantStyle = lipgloss.NewStyle().
			Foreground(colorAssistant).
			Bold(true)

	systemStyle = lipgloss.NewStyle().
			Foreground(colorSystem).
			Italic(true)

	eventStyle = lipgloss.NewStyle().
			Foreground(colorEvent)

	thoughtStyle = lipgloss.NewStyle().
			Foreground(colorMuted).
			Italic(true)

	inputStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorSoft).
			Padding(0, 1)

	inputPromptStyle = lipgloss.NewStyle().
				Foreground(colorBrand).
				Bold(true)

	helpStyle = lipgloss.NewStyle().
			Border(lipgloss.DoubleBorder()).
			BorderForeground(colorBrand).
			Background(colorBgPanel).
			Padding(1, 2).
			Margin(1)

	helpKeyStyle = lipgloss.NewStyle().
			Foreground(colorSoft).
			Bold(true)

	helpDescStyle = lipgloss.NewStyle().
			Foreground(colorMuted)

	panelTitleStyle = lipgloss.NewStyle().
			Foreground(colorSoft).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(colorError).
			Bold(true)

	dimmedStyle = lipgloss.NewStyle().
			Foreground(colorMuted)
)

// RoleStyle returns the label style for a message role.
func RoleStyle(role store.Role) lipgloss.Style {
	switch role {
	case store.RoleUser:
		return userStyle
	case store.RoleAssistant:
		return assistantStyle
	default:
		return systemStyle
	}
}

// renderSectionTitle renders a title line that spans the full width.
func renderSectionTitle(title, suffix string, width int) string {
	titleWithSpaces := " " + title + " "
	available := width - lipgloss.Width(titleWithSpaces) - 4 - lipgloss.Width(suffix)
	if available < 2 {
		available = 2
	}
	left := available / 2
	right := available - left

	line := "♡─" + strings.Repeat("─", left) + titleWithSpaces + strings.Repeat("─", right) + "─♡" + suffix
	return panelTitleStyle.Width(width).Render(line)
}

// truncateToWidth cuts s to maxWidth display columns without splitting runes.
func truncateToWidth(s string, maxWidth int) string {
	if maxWidth <= 0 {
		return ""
	}
	w := 0
	for i, r := range s {
		cw := lipgloss.Width(string(r))
		if w+cw > maxWidth {
			return s[:i]
		}
		w += cw
	}
	return s
}

func truncateWithEllipsis(s string, maxWidth int) string {
	if lipgloss.Width(s) <= maxWidth {
		return s
	}
	if maxWidth <= 3 {
		return truncateToWidth(s, maxWidth)
	}
	return truncateToWidth(s, maxWidth-3) + "..."
}

func padRight(s string, length int) string {
	if w := lipgloss.Width(s); w < length {
		return s + strings.Repeat(" ", length-w)
	}
	return s
}
