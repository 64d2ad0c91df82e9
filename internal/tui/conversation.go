package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/xonecas/heartline/internal/prompt"
	"github.com/xonecas/heartline/internal/store"
)

// wrapText wraps text to maxWidth display columns, preserving words. Words
// longer than a line are hard-wrapped.
func wrapText(text string, maxWidth int) []string {
	if maxWidth <= 0 {
		maxWidth = 80
	}

	var lines []string
	for _, para := range strings.Split(text, "\n") {
		words := strings.Fields(para)
		if len(words) == 0 {
			lines = append(lines, "")
			continue
		}

		current := ""
		for _, word := range words {
			for lipgloss.Width(word) > maxWidth {
				if current != "" {
					lines = append(lines, current)
					current = ""
				}
				chunk := truncateToWidth(word, maxWidth)
				if chunk == "" {
					chunk = string([]rune(word)[:1])
				}
				lines = append(lines, chunk)
				word = word[len(chunk):]
			}
			switch {
			case word == "":
			case current == "":
				current = word
			case lipgloss.Width(current)+1+lipgloss.Width(word) <= maxWidth:
				current += " " + word
			default:
				lines = append(lines, current)
				current = word
			}
		}
		if current != "" {
			lines = append(lines, current)
		}
	}
	return lines
}

// describe returns the display text of a message.
func describe(m store.Message, contactName string) (string, lipgloss.Style) {
	amount := prompt.FormatAmount(m.Amount)
	switch m.Type {
	case store.TypeTransfer:
		text := "💸 payment of " + amount
		if m.Note != "" {
			text += " · " + m.Note
		}
		return text + " (" + string(m.Status) + ")", eventStyle
	case store.TypeTransferReceipt:
		if m.Status == store.StatusRejected {
			return "💸 returned the payment of " + amount, eventStyle
		}
		return "💸 accepted the payment of " + amount, eventStyle
	case store.TypeInviteRequest:
		return "💌 invited " + contactName + " to a couple space", eventStyle
	case store.TypeInviteAccept, store.TypeInviteReject:
		return "💌 " + m.Content, eventStyle
	case store.TypeSticker:
		return "[sticker: " + m.StickerDesc + "]", eventStyle
	case store.TypeCallEnd:
		return "📞 " + m.Content, systemStyle
	}
	return m.Content, lipgloss.NewStyle()
}

// renderMessage renders one timeline entry as wrapped lines.
func renderMessage(m store.Message, contactName string, width int) string {
	label := "·"
	switch m.Role {
	case store.RoleUser:
		label = "You"
	case store.RoleAssistant:
		label = contactName
	}
	label = truncateWithEllipsis(label, 14)

	header := RoleStyle(m.Role).Render(label)
	if m.Timestamp > 0 {
		header += " " + dimmedStyle.Render(m.Time().Format("15:04"))
	}
	if m.Mode == store.ModeOffline {
		header += " " + dimmedStyle.Render("[in person]")
	}

	var lines []string
	lines = append(lines, header)
	if m.Quote != "" {
		for _, l := range wrapText("> "+m.Quote, width-4) {
			lines = append(lines, "  "+dimmedStyle.Render(l))
		}
	}

	if m.Retracted {
		lines = append(lines, "  "+dimmedStyle.Render("(message retracted)"))
	} else {
		text, style := describe(m, contactName)
		for _, l := range wrapText(text, width-4) {
			lines = append(lines, "  "+style.Render(l))
		}
	}

	if m.Thought != "" {
		for _, l := range wrapText("thinking: "+m.Thought, width-6) {
			lines = append(lines, "    "+thoughtStyle.Render(l))
		}
	}
	return strings.Join(lines, "\n")
}

// renderConversation renders a whole timeline.
func renderConversation(history []store.Message, contactName string, width int) string {
	if len(history) == 0 {
		return dimmedStyle.Render(fmt.Sprintf("Say hi to %s.", contactName))
	}
	blocks := make([]string, 0, len(history))
	for _, m := range history {
		blocks = append(blocks, renderMessage(m, contactName, width))
	}
	return strings.Join(blocks, "\n\n")
}

// renderContacts renders the contact list.
func renderContacts(contacts []store.Contact, selected int, couple store.Couple, width int) string {
	if len(contacts) == 0 {
		return dimmedStyle.Render("No contacts yet. Import a legacy export with 'heartline import-legacy'.")
	}
	lines := make([]string, 0, len(contacts))
	for i, c := range contacts {
		name := c.Name
		if couple.PartneredWith(c.ID) {
			name += " ♥"
		}
		line := padRight(truncateWithEllipsis(name, width-6), width-6)
		if i == selected {
			lines = append(lines, contactItemSelectedStyle.Render(line))
		} else {
			lines = append(lines, contactItemStyle.Render(line))
		}
	}
	return contactListStyle.Width(width - 2).Render(strings.Join(lines, "\n"))
}
