package tui

import (
	"context"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/go-cmp/cmp"
	"github.com/muesli/termenv"
	"github.com/xonecas/heartline/internal/config"
	"github.com/xonecas/heartline/internal/core"
	"github.com/xonecas/heartline/internal/protocol"
	"github.com/xonecas/heartline/internal/provider"
	"github.com/xonecas/heartline/internal/store"
)

func setupModelTest(t *testing.T) (Model, *core.Engine, func()) {
	t.Helper()
	lipgloss.SetColorProfile(termenv.Ascii)

	s, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory() error: %v", err)
	}
	s.SetContacts([]store.Contact{
		{ID: "c1", Name: "Aria"},
		{ID: "c2", Name: "Noah"},
	})

	cfg := config.DefaultConfig()
	cfg.Delivery.SegmentDelay = config.Duration{Duration: time.Millisecond}
	bus := core.NewEventBus(100)
	e := core.NewEngine(s, core.StaticGateway(provider.NewMock("mock", "hey")), bus, cfg)

	m := New(context.Background(), e, bus.Subscribe())
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 30})

	return updated.(Model), e, func() {
		e.Wait()
		bus.Close()
		s.Close()
	}
}

func press(t *testing.T, m Model, keys ...string) Model {
	t.Helper()
	for _, k := range keys {
		var msg tea.KeyMsg
		switch k {
		case "enter":
			msg = tea.KeyMsg{Type: tea.KeyEnter}
		case "esc":
			msg = tea.KeyMsg{Type: tea.KeyEsc}
		case "down":
			msg = tea.KeyMsg{Type: tea.KeyDown}
		default:
			msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
		}
		updated, _ := m.Update(msg)
		m = updated.(Model)
	}
	return m
}

func TestModelViewWithZeroSize(t *testing.T) {
	m := Model{}
	if got := m.View(); got != "Loading..." {
		t.Errorf("expected Loading..., got %q", got)
	}
}

func TestContactNavigation(t *testing.T) {
	m, _, cleanup := setupModelTest(t)
	defer cleanup()

	if !strings.Contains(m.View(), "Noah") {
		t.Fatal("expected contact list to show Noah")
	}

	m = press(t, m, "down", "enter")
	if m.view != ViewChat || m.focusID != "c2" {
		t.Fatalf("expected chat with c2, got view=%d focus=%s", m.view, m.focusID)
	}
	if !strings.Contains(m.View(), "Say hi to Noah.") {
		t.Error("expected empty conversation hint")
	}

	m = press(t, m, "esc")
	if m.view != ViewContacts || m.focusID != "" {
		t.Error("expected escape to return to contacts")
	}
}

func TestModeToggles(t *testing.T) {
	m, _, cleanup := setupModelTest(t)
	defer cleanup()

	m = press(t, m, "enter", "o")
	if m.mode != protocol.ModeOffline {
		t.Fatalf("expected offline mode, got %s", m.mode)
	}
	if !strings.Contains(m.View(), "Aria · offline") {
		t.Error("expected mode in title")
	}
	m = press(t, m, "o")
	if m.mode != protocol.ModeDefault {
		t.Errorf("expected default mode, got %s", m.mode)
	}
}

func TestTransferInput(t *testing.T) {
	m, e, cleanup := setupModelTest(t)
	defer cleanup()

	m = press(t, m, "enter", "t", "52.5 for coffee", "enter")
	if m.err != nil {
		t.Fatalf("unexpected error: %v", m.err)
	}

	h := e.Store().History("c1")
	if len(h) != 1 || h[0].Type != store.TypeTransfer || h[0].Amount != 52.5 || h[0].Note != "for coffee" {
		t.Errorf("unexpected history: %+v", h)
	}

	m = press(t, m, "t", "lots", "enter")
	if m.err == nil {
		t.Error("expected error for a payment without amount")
	}
}

func TestTypingEvents(t *testing.T) {
	m, _, cleanup := setupModelTest(t)
	defer cleanup()
	m = press(t, m, "enter")

	m.handleEvent(core.Event{Type: core.EventTypingStarted, ContactID: "c1"})
	if !strings.Contains(m.View(), "Aria is typing...") {
		t.Error("expected typing indicator")
	}
	m.handleEvent(core.Event{Type: core.EventTypingStopped, ContactID: "c1"})
	if strings.Contains(m.View(), "is typing") {
		t.Error("expected typing indicator cleared")
	}

	m.handleEvent(core.Event{Type: core.EventTransportError, ContactID: "c1", Data: core.ErrorData{Error: "transport failure"}})
	if !strings.Contains(m.View(), "Error: transport failure") {
		t.Error("expected error line")
	}
}

func TestParseTransfer(t *testing.T) {
	tests := []struct {
		in     string
		amount float64
		note   string
		err    bool
	}{
		{"50", 50, "", false},
		{"13.14 love you", 13.14, "love you", false},
		{"  8   ", 8, "", false},
		{"abc", 0, "", true},
	}
	for _, tt := range tests {
		amount, note, err := parseTransfer(tt.in)
		if (err != nil) != tt.err || amount != tt.amount || note != tt.note {
			t.Errorf("parseTransfer(%q) = %v, %q, %v", tt.in, amount, note, err)
		}
	}
}

func TestWrapText(t *testing.T) {
	tests := []struct {
		text  string
		width int
		want  []string
	}{
		{"hello world", 20, []string{"hello world"}},
		{"hello world", 5, []string{"hello", "world"}},
		{"abcdefgh", 3, []string{"abc", "def", "gh"}},
		{"one\n\ntwo", 10, []string{"one", "", "two"}},
		{"你好世界", 4, []string{"你好", "世界"}},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, wrapText(tt.text, tt.width)); diff != "" {
			t.Errorf("wrapText(%q, %d) mismatch (-want +got):\n%s", tt.text, tt.width, diff)
		}
	}
}

func TestRenderMessage(t *testing.T) {
	lipgloss.SetColorProfile(termenv.Ascii)

	tests := []struct {
		name string
		msg  store.Message
		want []string
	}{
		{"plain", store.Message{Role: store.RoleAssistant, Content: "hi there", Thought: "be cool"}, []string{"Aria", "hi there", "thinking: be cool"}},
		{"retracted", store.Message{Role: store.RoleAssistant, Content: "oops", Retracted: true}, []string{"(message retracted)"}},
		{"transfer", store.Message{Role: store.RoleUser, Type: store.TypeTransfer, Amount: 50, Note: "dinner", Status: store.StatusPending}, []string{"You", "payment of 50 · dinner (pending)"}},
		{"receipt", store.Message{Role: store.RoleAssistant, Type: store.TypeTransferReceipt, Amount: 50, Status: store.StatusRejected}, []string{"returned the payment of 50"}},
		{"offline", store.Message{Role: store.RoleUser, Content: "*waves*", Mode: store.ModeOffline}, []string{"[in person]"}},
		{"quote", store.Message{Role: store.RoleUser, Content: "yes", Quote: "coming?"}, []string{"> coming?"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := renderMessage(tt.msg, "Aria", 60)
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("expected %q in:\n%s", w, out)
				}
			}
			if tt.msg.Retracted && strings.Contains(out, tt.msg.Content) {
				t.Error("retracted content must not be shown")
			}
		})
	}
}
