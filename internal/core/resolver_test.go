package core

import (
	"testing"

	"github.com/xonecas/heartline/internal/prompt"
	"github.com/xonecas/heartline/internal/protocol"
	"github.com/xonecas/heartline/internal/provider"
	"github.com/xonecas/heartline/internal/store"
)

func TestClassifyInvite(t *testing.T) {
	tests := []struct {
		text  string
		score int
		want  protocol.Decision
	}{
		{"Yes! Of course I agree", 3, protocol.DecisionAccept},
		{"好呀，我愿意", 2, protocol.DecisionAccept},
		{"sorry, I'm not ready", -4, protocol.DecisionReject},
		{"sure... but sorry, I need time", -3, protocol.DecisionReject},
		{"let me think about the weather", 0, protocol.DecisionReject},
		{"I disagree, I'm not doing that.", -2, protocol.DecisionReject},
		{"I'm so unhappy you asked.", -2, protocol.DecisionReject},
		{"I'm unsure.", -2, protocol.DecisionReject},
		{"I'm not sure", -1, protocol.DecisionReject},
		{"Sure!", 1, protocol.DecisionAccept},
		{"", 0, protocol.DecisionReject},
	}
	for _, tt := range tests {
		if got := ScoreInvite(tt.text); got != tt.score {
			t.Errorf("ScoreInvite(%q) = %d, want %d", tt.text, got, tt.score)
		}
		if got := ClassifyInvite(tt.text); got != tt.want {
			t.Errorf("ClassifyInvite(%q) = %s, want %s", tt.text, got, tt.want)
		}
	}
}

func TestResolveTransferIsIdempotent(t *testing.T) {
	e, _, cleanup := setupEngineTest(t, provider.NewMock("mock", "ok"))
	defer cleanup()

	e.Store().Append("c1", store.Message{ID: "t1", Role: store.RoleUser, Type: store.TypeTransfer, Status: store.StatusPending, Amount: 20})
	p := prompt.PendingTransfer{MessageID: "t1", Amount: 20}

	if !e.resolveTransfer("c1", p, protocol.DecisionAccept, store.ModeOnline) {
		t.Fatal("expected first resolution to apply")
	}
	if e.resolveTransfer("c1", p, protocol.DecisionReject, store.ModeOnline) {
		t.Error("expected second resolution to be a no-op")
	}

	h := e.Store().History("c1")
	if len(h) != 2 {
		t.Fatalf("expected transfer plus one receipt, got %d messages", len(h))
	}
	if h[0].Status != store.StatusAccepted {
		t.Errorf("terminal status changed to %s", h[0].Status)
	}
}

func TestResolveTransferLegacyIndex(t *testing.T) {
	e, _, cleanup := setupEngineTest(t, provider.NewMock("mock", "ok"))
	defer cleanup()

	e.Store().Append("c1",
		store.Message{Role: store.RoleUser, Content: "hi"},
		store.Message{Role: store.RoleUser, Type: store.TypeTransfer, Status: store.StatusPending, Amount: 5},
	)
	if !e.resolveTransfer("c1", prompt.PendingTransfer{Index: 1, Amount: 5}, protocol.DecisionReject, store.ModeOnline) {
		t.Fatal("expected resolution by index")
	}
	if got := e.Store().History("c1")[1].Status; got != store.StatusRejected {
		t.Errorf("expected rejected, got %s", got)
	}
}

func TestResolveInviteOnlyOnce(t *testing.T) {
	e, _, cleanup := setupEngineTest(t, provider.NewMock("mock", "ok"))
	defer cleanup()

	e.Store().Append("c1", store.Message{ID: "inv", Role: store.RoleUser, Type: store.TypeInviteRequest})
	p := prompt.PendingInvite{MessageID: "inv"}

	if !e.resolveInvite("c1", p, protocol.DecisionNone, "sorry, I can't", store.ModeOnline) {
		t.Fatal("expected first resolution to apply")
	}
	if e.resolveInvite("c1", p, protocol.DecisionAccept, "", store.ModeOnline) {
		t.Error("expected answered invitation to stay settled")
	}
	if e.Store().Couple().Active {
		t.Error("relationship must stay inactive after a rejection")
	}
}

func TestRetractLastSkipsRetracted(t *testing.T) {
	e, _, cleanup := setupEngineTest(t, provider.NewMock("mock", "ok"))
	defer cleanup()

	e.Store().Append("c1",
		store.Message{Role: store.RoleAssistant, Content: "a"},
		store.Message{Role: store.RoleAssistant, Content: "b", Retracted: true},
		store.Message{Role: store.RoleUser, Content: "c"},
	)
	e.retractLast("c1")

	h := e.Store().History("c1")
	if !h[0].Retracted || !h[1].Retracted || h[2].Retracted {
		t.Errorf("unexpected retraction flags: %v %v %v", h[0].Retracted, h[1].Retracted, h[2].Retracted)
	}
}
