// Package tui provides the terminal front-end for heartline.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/xonecas/heartline/internal/core"
	"github.com/xonecas/heartline/internal/protocol"
	"github.com/xonecas/heartline/internal/store"
)

// View represents the current view mode.
type View int

const (
	ViewContacts View = iota
	ViewChat
)

// Model is the main TUI model. It only calls the engine and re-reads the
// store; replies arrive as bus events.
type Model struct {
	ctx     context.Context
	engine  *core.Engine
	store   *store.Store
	eventCh <-chan core.Event

	view        View
	width       int
	height      int
	selectedIdx int
	showHelp    bool

	input    InputModel
	viewport viewport.Model
	spinner  spinner.Model
	contacts []store.Contact
	focusID  store.ID
	mode     protocol.Mode
	callAt   time.Time
	typing   map[store.ID]bool

	status string
	err    error
}

// EventMsg wraps a core event for the TUI.
type EventMsg struct {
	Event core.Event
}

// opDoneMsg reports the end of an engine operation.
type opDoneMsg struct {
	op  string
	err error
}

// New creates a new TUI model.
func New(ctx context.Context, engine *core.Engine, eventCh <-chan core.Event) Model {
	sp := spinner.New()
	sp.Spinner = spinner.MiniDot
	sp.Style = dimmedStyle

	vp := viewport.New(80, 20)
	vp.Style = conversationStyle

	return Model{
		ctx:      ctx,
		engine:   engine,
		store:    engine.Store(),
		eventCh:  eventCh,
		view:     ViewContacts,
		input:    NewInputModel(),
		viewport: vp,
		spinner:  sp,
		contacts: engine.Store().Contacts(),
		typing:   make(map[store.ID]bool),
	}
}

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.listenForEvents(), m.spinner.Tick)
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.SetWidth(msg.Width - 4)
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-7, 3)
		m.loadConversation()
		return m, nil

	case tea.KeyMsg:
		if m.input.IsActive() {
			return m.handleInputKey(msg)
		}
		if key.Matches(msg, keys.Help) {
			m.showHelp = !m.showHelp
			return m, nil
		}
		if m.showHelp {
			m.showHelp = false
			return m, nil
		}

		switch {
		case key.Matches(msg, keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, keys.Escape):
			if m.view == ViewChat {
				m.leaveChat()
			}
			return m, nil
		}

		if m.view == ViewContacts {
			return m.handleContactsKey(msg)
		}
		return m.handleChatKey(msg)

	case EventMsg:
		m.handleEvent(msg.Event)
		return m, m.listenForEvents()

	case opDoneMsg:
		if msg.err != nil {
			m.err = fmt.Errorf("%s: %w", msg.op, msg.err)
		}
		m.loadConversation()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the UI.
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}
	if m.showHelp {
		return RenderHelp(m.width, m.height)
	}

	var sections []string
	if m.view == ViewContacts {
		sections = append(sections,
			renderSectionTitle("HEARTLINE", "", m.width),
			renderContacts(m.contacts, m.selectedIdx, m.store.Couple(), m.width),
		)
	} else {
		name := m.contactName()
		suffix := fmt.Sprintf(" %3.0f%%", m.viewport.ScrollPercent()*100)
		title := name
		if m.mode != protocol.ModeDefault {
			title += " · " + m.mode.String()
		}
		sections = append(sections, renderSectionTitle(title, suffix, m.width), m.viewport.View())

		if m.typing[m.focusID] {
			sections = append(sections, m.spinner.View()+" "+dimmedStyle.Render(name+" is typing..."))
		} else {
			sections = append(sections, "")
		}
		sections = append(sections, m.input.ViewAlways(m.width))
	}

	switch {
	case m.err != nil:
		sections = append(sections, errorStyle.Render("Error: "+m.err.Error()))
	case m.status != "":
		sections = append(sections, dimmedStyle.Render(m.status))
	}
	return strings.Join(sections, "\n")
}

func (m Model) handleContactsKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Up):
		if m.selectedIdx > 0 {
			m.selectedIdx--
		}
	case key.Matches(msg, keys.Down):
		if m.selectedIdx < len(m.contacts)-1 {
			m.selectedIdx++
		}
	case key.Matches(msg, keys.Enter):
		if m.selectedIdx < len(m.contacts) {
			m.focusID = m.contacts[m.selectedIdx].ID
			m.view = ViewChat
			m.mode = protocol.ModeDefault
			m.err = nil
			m.loadConversation()
		}
	}
	return m, nil
}

func (m Model) handleChatKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	sess := m.session()

	switch {
	case key.Matches(msg, keys.Message), key.Matches(msg, keys.Enter):
		m.input.SetMode(InputModeMessage, m.contactName())
		return m, nil

	case key.Matches(msg, keys.Reply):
		return m, m.run("reply", func(ctx context.Context) error {
			return m.engine.Continue(ctx, sess)
		})

	case key.Matches(msg, keys.Regenerate):
		return m, m.run("regenerate", func(ctx context.Context) error {
			return m.engine.Regenerate(ctx, sess)
		})

	case key.Matches(msg, keys.Call):
		if m.mode == protocol.ModeCall {
			m.err = m.engine.EndCall(sess, time.Since(m.callAt))
			m.mode = protocol.ModeDefault
			m.loadConversation()
			return m, nil
		}
		m.mode = protocol.ModeCall
		m.callAt = time.Now()
		sess.Mode = protocol.ModeCall
		return m, m.run("call", func(ctx context.Context) error {
			return m.engine.StartCall(ctx, sess)
		})

	case key.Matches(msg, keys.Offline):
		if m.mode == protocol.ModeOffline {
			m.mode = protocol.ModeDefault
		} else if m.mode == protocol.ModeDefault {
			m.mode = protocol.ModeOffline
		}

	case key.Matches(msg, keys.Transfer):
		m.input.SetMode(InputModeTransfer, m.contactName())

	case key.Matches(msg, keys.Invite):
		_, m.err = m.engine.SendInvite(sess)
		m.loadConversation()

	case key.Matches(msg, keys.Summarize):
		id := m.focusID
		return m, m.run("summary", func(ctx context.Context) error {
			_, err := m.engine.SummarizeNow(ctx, id)
			return err
		})

	default:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) handleInputKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Escape):
		m.input.Reset()
		return m, nil

	case key.Matches(msg, keys.Enter):
		value := strings.TrimSpace(m.input.Value())
		mode := m.input.Mode()
		m.input.Reset()
		if value == "" {
			return m, nil
		}

		sess := m.session()
		switch mode {
		case InputModeMessage:
			m.input.AddToHistory(value)
			m.err = nil
			return m, m.run("send", func(ctx context.Context) error {
				return m.engine.Send(ctx, sess, value, "")
			})

		case InputModeTransfer:
			amount, note, err := parseTransfer(value)
			if err != nil {
				m.err = err
				return m, nil
			}
			_, m.err = m.engine.SendTransfer(sess, amount, note)
			m.loadConversation()
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// parseTransfer reads "amount [note]".
func parseTransfer(value string) (float64, string, error) {
	fields := strings.SplitN(strings.TrimSpace(value), " ", 2)
	amount, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, "", errors.New("payment must start with an amount")
	}
	note := ""
	if len(fields) == 2 {
		note = strings.TrimSpace(fields[1])
	}
	return amount, note, nil
}

func (m *Model) handleEvent(event core.Event) {
	switch event.Type {
	case core.EventTypingStarted:
		m.typing[event.ContactID] = true
	case core.EventTypingStopped:
		delete(m.typing, event.ContactID)
	case core.EventTransportError, core.EventStorageError, core.EventSummaryFailed:
		if data, ok := event.Data.(core.ErrorData); ok {
			m.err = errors.New(data.Error)
		}
	case core.EventSummaryCompleted:
		if data, ok := event.Data.(core.SummaryData); ok && !data.Skipped {
			m.status = fmt.Sprintf("%s summary stored", data.Kind)
		}
	case core.EventInviteResolved:
		if data, ok := event.Data.(core.ResolutionData); ok {
			m.status = "invitation " + data.Decision.String() + "ed"
		}
	}

	if event.ContactID == m.focusID {
		m.loadConversation()
	}
}

func (m *Model) leaveChat() {
	if m.mode == protocol.ModeCall {
		m.err = m.engine.EndCall(m.session(), time.Since(m.callAt))
	}
	m.view = ViewContacts
	m.focusID = ""
	m.mode = protocol.ModeDefault
	m.contacts = m.store.Contacts()
}

func (m *Model) loadConversation() {
	if m.focusID == "" {
		return
	}
	atBottom := m.viewport.AtBottom() || m.viewport.TotalLineCount() == 0
	width := max(m.viewport.Width-4, 20)
	m.viewport.SetContent(renderConversation(m.store.History(m.focusID), m.contactName(), width))
	if atBottom {
		m.viewport.GotoBottom()
	}
}

func (m Model) session() core.Session {
	return core.Session{ContactID: m.focusID, Mode: m.mode}
}

func (m Model) contactName() string {
	for _, c := range m.contacts {
		if c.ID == m.focusID {
			return c.Name
		}
	}
	return string(m.focusID)
}

// run executes an engine operation off the update loop.
func (m Model) run(op string, fn func(context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		return opDoneMsg{op: op, err: fn(ctx)}
	}
}

func (m Model) listenForEvents() tea.Cmd {
	return func() tea.Msg {
		event, ok := <-m.eventCh
		if !ok {
			return nil
		}
		return EventMsg{Event: event}
	}
}

// Key bindings
var keys = struct {
	Quit       key.Binding
	Help       key.Binding
	Escape     key.Binding
	Enter      key.Binding
	Up         key.Binding
	Down       key.Binding
	Message    key.Binding
	Reply      key.Binding
	Regenerate key.Binding
	Call       key.Binding
	Offline    key.Binding
	Transfer   key.Binding
	Invite     key.Binding
	Summarize  key.Binding
}{
	Quit:       key.NewBinding(key.WithKeys("q", "ctrl+c")),
	Help:       key.NewBinding(key.WithKeys("?")),
	Escape:     key.NewBinding(key.WithKeys("esc")),
	Enter:      key.NewBinding(key.WithKeys("enter")),
	Up:         key.NewBinding(key.WithKeys("up", "k")),
	Down:       key.NewBinding(key.WithKeys("down", "j")),
	Message:    key.NewBinding(key.WithKeys("m")),
	Reply:      key.NewBinding(key.WithKeys("r")),
	Regenerate: key.NewBinding(key.WithKeys("g")),
	Call:       key.NewBinding(key.WithKeys("c")),
	Offline:    key.NewBinding(key.WithKeys("o")),
	Transfer:   key.NewBinding(key.WithKeys("t")),
	Invite:     key.NewBinding(key.WithKeys("i")),
	Summarize:  key.NewBinding(key.WithKeys("s")),
}
