package tui

import (
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

// InputMode represents the current input mode.
type InputMode int

const (
	InputModeNone InputMode = iota
	InputModeMessage
	InputModeTransfer
)

const maxHistorySize = 100

// InputModel handles text input for messages and payments.
type InputModel struct {
	textInput    textinput.Model
	mode         InputMode
	history      []string
	historyIndex int // -1 when not browsing
	draft        string
}

// NewInputModel creates a new input model.
func NewInputModel() InputModel {
	ti := textinput.New()
	ti.CharLimit = 2000
	ti.Width = 60

	return InputModel{
		textInput:    ti,
		history:      make([]string, 0, maxHistorySize),
		historyIndex: -1,
	}
}

// SetMode sets the input mode and updates the prompt.
func (m *InputModel) SetMode(mode InputMode, contactName string) {
	m.mode = mode
	m.textInput.Reset()

	switch mode {
	case InputModeMessage:
		m.textInput.Placeholder = "Message " + contactName + "..."
		m.textInput.Prompt = inputPromptStyle.Render("♡ ") + " "
	case InputModeTransfer:
		m.textInput.Placeholder = "Amount, then an optional note..."
		m.textInput.Prompt = inputPromptStyle.Render("¥ ") + " "
	default:
		m.textInput.Placeholder = ""
		m.textInput.Prompt = ""
	}

	if mode != InputModeNone {
		m.textInput.Focus()
	} else {
		m.textInput.Blur()
	}
}

// Mode returns the current input mode.
func (m InputModel) Mode() InputMode {
	return m.mode
}

// Value returns the current input value.
func (m InputModel) Value() string {
	return m.textInput.Value()
}

// IsActive returns true if input is active.
func (m InputModel) IsActive() bool {
	return m.mode != InputModeNone
}

var historyKeys = struct {
	Up   key.Binding
	Down key.Binding
}{
	Up:   key.NewBinding(key.WithKeys("up")),
	Down: key.NewBinding(key.WithKeys("down")),
}

// Update handles input updates.
func (m InputModel) Update(msg tea.Msg) (InputModel, tea.Cmd) {
	if keyMsg, ok := msg.(tea.KeyMsg); ok && m.mode == InputModeMessage {
		switch {
		case key.Matches(keyMsg, historyKeys.Up):
			m.navigateHistory(1)
			return m, nil
		case key.Matches(keyMsg, historyKeys.Down):
			m.navigateHistory(-1)
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.textInput, cmd = m.textInput.Update(msg)
	return m, cmd
}

// navigateHistory moves through sent messages: 1 is older, -1 is newer.
func (m *InputModel) navigateHistory(direction int) {
	if len(m.history) == 0 {
		return
	}
	if m.historyIndex == -1 && direction == 1 {
		m.draft = m.textInput.Value()
	}

	m.historyIndex = min(max(m.historyIndex+direction, -1), len(m.history)-1)

	if m.historyIndex == -1 {
		m.textInput.SetValue(m.draft)
	} else {
		m.textInput.SetValue(m.history[len(m.history)-1-m.historyIndex])
	}
	m.textInput.CursorEnd()
}

// ViewAlways renders the input bar, showing a hint when not active.
func (m InputModel) ViewAlways(width int) string {
	if m.mode != InputModeNone {
		return inputStyle.Width(width - 2).Render(m.textInput.View())
	}
	return inputStyle.Width(width - 2).Render(dimmedStyle.Render("Press 'm' to write, 'r' for a reply, '?' for help"))
}

// Reset clears the input.
func (m *InputModel) Reset() {
	m.textInput.Reset()
	m.mode = InputModeNone
	m.historyIndex = -1
	m.draft = ""
	m.textInput.Blur()
}

// AddToHistory remembers a sent message.
func (m *InputModel) AddToHistory(message string) {
	if message == "" {
		return
	}
	if len(m.history) > 0 && m.history[len(m.history)-1] == message {
		return
	}
	m.history = append(m.history, message)
	if len(m.history) > maxHistorySize {
		m.history = m.history[len(m.history)-maxHistorySize:]
	}
}

// SetWidth sets the input width.
func (m *InputModel) SetWidth(width int) {
	m.textInput.Width = width - 4
}
