package prompt

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/xonecas/heartline/internal/calendar"
	"github.com/xonecas/heartline/internal/constants"
	"github.com/xonecas/heartline/internal/protocol"
	"github.com/xonecas/heartline/internal/provider"
	"github.com/xonecas/heartline/internal/store"
)

var testNow = time.Date(2024, 5, 20, 21, 15, 0, 0, time.UTC)

func baseInput() Input {
	return Input{
		Contact: store.Contact{
			ID:      "c1",
			Name:    "Mina",
			Persona: "a sleepy barista",
			UserSettings: store.UserSettings{
				UserName:    "Alex",
				UserPersona: "night owl",
			},
		},
		Settings:  store.Settings{Prompt: "BASE PROMPT"},
		WorldBook: store.WorldBook{},
		Now:       testNow,
	}
}

// indexOrder returns the positions of each needle in s, failing if any is missing.
func indexOrder(t *testing.T, s string, needles ...string) []int {
	t.Helper()
	var out []int
	for _, n := range needles {
		i := strings.Index(s, n)
		if i < 0 {
			t.Fatalf("expected %q in system prompt:\n%s", n, s)
		}
		out = append(out, i)
	}
	return out
}

func TestCompileBlockOrder(t *testing.T) {
	in := baseInput()
	in.Contact.UserSettings.EnableTimePerception = true
	in.Contact.BoundWorldBooks = []store.ID{"w2"}
	in.Memories = store.MemoryBook{
		Important: []store.MemoryEntry{{Content: "allergic to cats"}},
		Normal:    []store.MemoryEntry{{Content: "loves rainy days", Keywords: []string{"rain"}}},
	}
	in.History = []store.Message{{Role: store.RoleUser, Content: "it's going to rain", Timestamp: testNow.UnixMilli()}}
	in.Calendar = calendar.Facts{UserBirthday: true}
	in.WorldBook = store.WorldBook{Entries: []store.WorldEntry{
		{ID: "w1", Title: "City", Content: "always foggy", Type: store.WorldGlobal},
		{ID: "w2", Title: "Cafe", Content: "opens at 6", Type: store.WorldLocal},
	}}
	in.Stickers = []store.Sticker{{URL: "u", Desc: "happy"}}

	got := Compile(in).System
	pos := indexOrder(t, got,
		"BASE PROMPT",
		"Persona: a sleepy barista",
		"Name: Alex",
		"allergic to cats",
		"loves rainy days",
		"Current real-world time: 2024-05-20 21:15:00",
		"the user's birthday",
		"City: always foggy",
		"Cafe: opens at 6",
		"1. happy",
		constants.MarkerRetract,
		"Required reply format",
	)
	for i := 1; i < len(pos); i++ {
		if pos[i] <= pos[i-1] {
			t.Errorf("block %d out of order in:\n%s", i, got)
		}
	}
}

func TestCompileOmitsEmptyBlocks(t *testing.T) {
	in := baseInput()
	in.Contact.UserSettings = store.UserSettings{}

	got := Compile(in).System
	for _, absent := range []string{"[User]", "Important memories", "Related memories", "Time awareness",
		"Calendar reminders", "World setting", "Stickers"} {
		if strings.Contains(got, absent) {
			t.Errorf("expected no %q block in:\n%s", absent, got)
		}
	}
}

func TestCompileDefaultPrompt(t *testing.T) {
	in := baseInput()
	in.Settings.Prompt = "  "
	if got := Compile(in).System; !strings.HasPrefix(got, constants.DefaultSystemPrompt) {
		t.Errorf("expected default prompt, got:\n%s", got)
	}
}

func TestCompileExactlyOneModeInstruction(t *testing.T) {
	headers := []string{"Payment received", "relationship invitation", "===== Voice call =====", "Meeting in person", "Required reply format"}

	tests := []struct {
		name    string
		mode    protocol.Mode
		pending Pending
		want    string
	}{
		{"transfer wins over call", protocol.ModeCall, Pending{Transfer: &PendingTransfer{Amount: 50}}, headers[0]},
		{"invite wins over offline", protocol.ModeOffline, Pending{Invite: &PendingInvite{}}, headers[1]},
		{"call", protocol.ModeCall, Pending{}, headers[2]},
		{"offline", protocol.ModeOffline, Pending{}, headers[3]},
		{"default", protocol.ModeDefault, Pending{}, headers[4]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := baseInput()
			in.Mode = tt.mode
			in.Pending = tt.pending
			got := Compile(in).System

			count := 0
			for _, h := range headers {
				if strings.Contains(got, h) {
					count++
				}
			}
			if count != 1 || !strings.Contains(got, tt.want) {
				t.Errorf("expected only %q, got:\n%s", tt.want, got)
			}
		})
	}
}

func TestCompileTransferInstruction(t *testing.T) {
	in := baseInput()
	in.Pending = Pending{Transfer: &PendingTransfer{Amount: 52.5, Note: "coffee"}}
	got := Compile(in).System
	if !strings.Contains(got, "payment of 52.5, note: coffee") {
		t.Errorf("expected amount and note in:\n%s", got)
	}
}

func TestCompileOfflineDefaults(t *testing.T) {
	in := baseInput()
	in.Mode = protocol.ModeOffline
	got := Compile(in).System
	if !strings.Contains(got, "Length: 500 - 700 words") || !strings.Contains(got, "delicate and immersive") {
		t.Errorf("expected offline defaults in:\n%s", got)
	}
}

func TestCompileWindowAndGlosses(t *testing.T) {
	in := baseInput()
	in.Contact.UserSettings.ContextLimit = 8
	in.History = []store.Message{
		{Role: store.RoleUser, Content: "too old to see"},
		{Role: store.RoleUser, Type: store.TypeTransfer, Amount: 50, Status: store.StatusPending},
		{Role: store.RoleAssistant, Type: store.TypeTransferReceipt, Amount: 50, Status: store.StatusRejected},
		{Role: store.RoleUser, Type: store.TypeInviteRequest},
		{Role: store.RoleAssistant, Type: store.TypeInviteAccept},
		{Role: store.RoleSystem, Type: store.TypeCallEnd, Content: "Call ended, Alex hung up"},
		{Role: store.RoleAssistant, Type: store.TypeSticker, StickerDesc: "happy"},
		{Role: store.RoleUser, Content: "secret", Retracted: true},
		{Role: store.RoleAssistant, Content: "oops", Retracted: true},
	}

	got := Compile(in).History
	want := []provider.Message{
		{Role: "user", Content: "[user sent you a payment of 50, note: none]"},
		{Role: "assistant", Content: "[I declined and returned the payment of 50]"},
		{Role: "user", Content: "[user invited you to open a couple space]"},
		{Role: "assistant", Content: "[I accepted your couple space invitation]"},
		{Role: "system", Content: "Call ended, Alex hung up"},
		{Role: "assistant", Content: "[sticker: happy]"},
		{Role: "system", Content: "[System notice: the user retracted a message. You can't see what it said, but you know it was withdrawn. React as fits, for example ask what they took back.]"},
		{Role: "assistant", Content: "[retracted message]"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("history mismatch (-want +got):\n%s", diff)
	}
}

func TestCompileTimePrefix(t *testing.T) {
	in := baseInput()
	in.Contact.UserSettings.EnableTimePerception = true
	ts := time.Date(2024, 5, 20, 8, 5, 9, 0, time.UTC)
	in.History = []store.Message{{Role: store.RoleUser, Content: "morning", Timestamp: ts.UnixMilli()}}

	got := Compile(in).History[0].Content
	if got != "[sent at 2024-05-20 08:05:09] morning" {
		t.Errorf("unexpected prefix: %q", got)
	}
}

func TestCompileMessages(t *testing.T) {
	in := baseInput()
	in.History = []store.Message{{Role: store.RoleUser, Content: "hi"}}
	msgs := Compile(in).Messages()
	if len(msgs) != 2 || msgs[0].Role != "system" || msgs[1].Content != "hi" {
		t.Errorf("unexpected messages %+v", msgs)
	}
}

func TestCompileCallStart(t *testing.T) {
	c := baseInput().Contact
	got := CompileCallStart(c, store.Settings{Prompt: "BASE"})
	if len(got.History) != 0 {
		t.Errorf("expected no history, got %d", len(got.History))
	}
	indexOrder(t, got.System, "BASE", "Name: Mina", "Name: Alex", "picking up")
	if strings.Contains(got.System, "night owl") {
		t.Error("call pickup should not include the user persona")
	}
}

func TestFindPending(t *testing.T) {
	transfer := store.Message{ID: "t1", Role: store.RoleUser, Type: store.TypeTransfer, Status: store.StatusPending, Amount: 50, Note: "lunch"}
	invite := store.Message{ID: "i1", Role: store.RoleUser, Type: store.TypeInviteRequest}
	text := store.Message{Role: store.RoleUser, Content: "hi"}

	tests := []struct {
		name     string
		history  []store.Message
		limit    int
		couple   store.Couple
		transfer store.ID
		invite   store.ID
	}{
		{name: "none", history: []store.Message{text}},
		{name: "transfer", history: []store.Message{transfer, text}, transfer: "t1"},
		{name: "invite", history: []store.Message{text, invite}, invite: "i1"},
		{name: "newest wins", history: []store.Message{transfer, invite}, invite: "i1"},
		{name: "answered invite", history: []store.Message{invite, {Type: store.TypeInviteReject}}},
		{name: "already partnered", history: []store.Message{invite}, couple: store.Couple{Active: true, PartnerID: "c1"}},
		{name: "partnered elsewhere", history: []store.Message{invite}, couple: store.Couple{Active: true, PartnerID: "c2"}, invite: "i1"},
		{name: "resolved transfer", history: []store.Message{{Type: store.TypeTransfer, Status: store.StatusAccepted}}},
		{name: "outside window", history: []store.Message{transfer, text, text}, limit: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FindPending(tt.history, tt.limit, tt.couple, "c1")
			var gotTransfer, gotInvite store.ID
			if got.Transfer != nil {
				gotTransfer = got.Transfer.MessageID
			}
			if got.Invite != nil {
				gotInvite = got.Invite.MessageID
			}
			if gotTransfer != tt.transfer || gotInvite != tt.invite {
				t.Errorf("expected transfer=%q invite=%q, got transfer=%q invite=%q", tt.transfer, tt.invite, gotTransfer, gotInvite)
			}
		})
	}
}

func TestFindPendingIndexIsTimelinePosition(t *testing.T) {
	history := []store.Message{
		{Content: "a"}, {Content: "b"},
		{Type: store.TypeTransfer, Status: store.StatusPending, Amount: 5},
	}
	got := FindPending(history, 2, store.Couple{}, "c1")
	if got.Transfer == nil || got.Transfer.Index != 2 {
		t.Errorf("expected index 2, got %+v", got.Transfer)
	}
}
