package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/xonecas/heartline/internal/config"
	"github.com/xonecas/heartline/internal/protocol"
	"github.com/xonecas/heartline/internal/provider"
	"github.com/xonecas/heartline/internal/store"
)

// testClock is a settable time source.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func setupEngineTest(t *testing.T, p provider.Provider) (*Engine, *testClock, func()) {
	t.Helper()

	s, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory() error: %v", err)
	}
	s.SetContacts([]store.Contact{{ID: "c1", Name: "Aria", Persona: "warm and teasing"}})

	cfg := config.DefaultConfig()
	cfg.Delivery.SegmentDelay = config.Duration{Duration: time.Millisecond}
	cfg.Delivery.TransferDelay = config.Duration{Duration: time.Millisecond}

	bus := NewEventBus(100)
	e := NewEngine(s, StaticGateway(p), bus, cfg)
	clock := &testClock{now: time.Date(2025, 3, 14, 9, 0, 0, 0, time.Local)}
	e.SetClock(clock.Now)

	cleanup := func() {
		e.Wait()
		bus.Close()
		s.Close()
	}
	return e, clock, cleanup
}

func chatSession() Session {
	return Session{ContactID: "c1", Mode: protocol.ModeDefault}
}

func contents(msgs []store.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Content)
	}
	return out
}

func TestRespondThoughtScenario(t *testing.T) {
	mock := provider.NewMock("mock", "[THOUGHTS: nervous] ||| hey ||| are you there")
	e, _, cleanup := setupEngineTest(t, mock)
	defer cleanup()

	sess := chatSession()
	if err := e.Send(context.Background(), sess, "hi", ""); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if err := e.Respond(context.Background(), sess); err != nil {
		t.Fatalf("Respond() error: %v", err)
	}
	e.Wait()

	h := e.Store().History("c1")
	if diff := cmp.Diff([]string{"hi", "hey", "are you there"}, contents(h)); diff != "" {
		t.Fatalf("history mismatch (-want +got):\n%s", diff)
	}
	if h[1].Thought != "" {
		t.Errorf("expected no thought on first segment, got %q", h[1].Thought)
	}
	if h[2].Thought != "nervous" {
		t.Errorf("expected thought on last segment, got %q", h[2].Thought)
	}
	for i := 1; i < len(h); i++ {
		if h[i].Timestamp <= h[i-1].Timestamp {
			t.Errorf("timestamps not increasing at %d: %d <= %d", i, h[i].Timestamp, h[i-1].Timestamp)
		}
	}
}

func TestRespondRejectTransferScenario(t *testing.T) {
	mock := provider.NewMock("mock", "[REJECT] sorry I can't accept this")
	e, _, cleanup := setupEngineTest(t, mock)
	defer cleanup()

	sess := chatSession()
	if _, err := e.SendTransfer(sess, 50, "for dinner"); err != nil {
		t.Fatalf("SendTransfer() error: %v", err)
	}
	if err := e.Respond(context.Background(), sess); err != nil {
		t.Fatalf("Respond() error: %v", err)
	}
	e.Wait()

	h := e.Store().History("c1")
	if len(h) != 3 {
		t.Fatalf("expected 3 messages, got %d: %v", len(h), contents(h))
	}
	if h[0].Status != store.StatusRejected {
		t.Errorf("expected transfer rejected, got %s", h[0].Status)
	}
	receipt := h[1]
	if receipt.Type != store.TypeTransferReceipt || receipt.Amount != 50 || receipt.Status != store.StatusRejected {
		t.Errorf("unexpected receipt: %+v", receipt)
	}
	if h[2].Content != "sorry I can't accept this" {
		t.Errorf("expected marker stripped, got %q", h[2].Content)
	}
}

func TestRespondTransferDefaultsToAccept(t *testing.T) {
	mock := provider.NewMock("mock", "thank you!")
	e, _, cleanup := setupEngineTest(t, mock)
	defer cleanup()

	sess := chatSession()
	e.SendTransfer(sess, 12.5, "")
	if err := e.Respond(context.Background(), sess); err != nil {
		t.Fatalf("Respond() error: %v", err)
	}
	e.Wait()

	h := e.Store().History("c1")
	if h[0].Status != store.StatusAccepted {
		t.Errorf("expected accepted, got %s", h[0].Status)
	}

	// a second reply must not settle the transfer again
	mock.WithReplies("more chat")
	if err := e.Respond(context.Background(), sess); err != nil {
		t.Fatalf("Respond() error: %v", err)
	}
	e.Wait()

	receipts := 0
	for _, m := range e.Store().History("c1") {
		if m.Type == store.TypeTransferReceipt {
			receipts++
		}
	}
	if receipts != 1 {
		t.Errorf("expected 1 receipt, got %d", receipts)
	}
}

func TestRespondInviteAccepted(t *testing.T) {
	mock := provider.NewMock("mock", "of course, I'd love to!")
	e, clock, cleanup := setupEngineTest(t, mock)
	defer cleanup()

	sess := chatSession()
	if _, err := e.SendInvite(sess); err != nil {
		t.Fatalf("SendInvite() error: %v", err)
	}
	if err := e.Respond(context.Background(), sess); err != nil {
		t.Fatalf("Respond() error: %v", err)
	}
	e.Wait()

	couple := e.Store().Couple()
	want := store.Couple{Active: true, PartnerID: "c1", StartTime: clock.Now().UnixMilli()}
	if diff := cmp.Diff(want, couple); diff != "" {
		t.Errorf("couple mismatch (-want +got):\n%s", diff)
	}

	h := e.Store().History("c1")
	if h[1].Type != store.TypeInviteAccept {
		t.Errorf("expected invite_accept, got %s", h[1].Type)
	}

	if _, err := e.SendInvite(sess); !errors.Is(err, ErrAlreadyPartnered) {
		t.Errorf("expected ErrAlreadyPartnered, got %v", err)
	}
}

func TestRespondInviteMarkerWins(t *testing.T) {
	mock := provider.NewMock("mock", "[REJECT_INVITE] I'd love to, but not yet")
	e, _, cleanup := setupEngineTest(t, mock)
	defer cleanup()

	sess := chatSession()
	e.SendInvite(sess)
	if err := e.Respond(context.Background(), sess); err != nil {
		t.Fatalf("Respond() error: %v", err)
	}
	e.Wait()

	if e.Store().Couple().Active {
		t.Error("expected relationship to stay inactive")
	}
	h := e.Store().History("c1")
	if h[1].Type != store.TypeInviteReject {
		t.Errorf("expected invite_reject, got %s", h[1].Type)
	}
}

func TestRespondStickerScenario(t *testing.T) {
	mock := provider.NewMock("mock", "[STICKER:happy] great news")
	e, _, cleanup := setupEngineTest(t, mock)
	defer cleanup()

	e.Store().SetSettings(store.Settings{AIStickerEnabled: true})
	e.Store().SetStickers([]store.Sticker{{ID: "s1", URL: "https://img/happy.png", Desc: "happy"}})

	sess := chatSession()
	e.Send(context.Background(), sess, "I got the job", "")
	if err := e.Respond(context.Background(), sess); err != nil {
		t.Fatalf("Respond() error: %v", err)
	}
	e.Wait()

	h := e.Store().History("c1")
	if len(h) != 3 {
		t.Fatalf("expected 3 messages, got %v", contents(h))
	}
	if h[1].Type != store.TypeSticker || h[1].StickerURL != "https://img/happy.png" {
		t.Errorf("expected sticker message, got %+v", h[1])
	}
	if h[2].Content != "great news" {
		t.Errorf("expected text segment, got %q", h[2].Content)
	}
}

func TestRespondRetract(t *testing.T) {
	mock := provider.NewMock("mock", "[CMD:RETRACT_LAST] forget that")
	e, _, cleanup := setupEngineTest(t, mock)
	defer cleanup()

	e.Store().Append("c1",
		store.Message{Role: store.RoleUser, Content: "hi"},
		store.Message{Role: store.RoleAssistant, Content: "oops"},
	)
	if err := e.Respond(context.Background(), chatSession()); err != nil {
		t.Fatalf("Respond() error: %v", err)
	}
	e.Wait()

	h := e.Store().History("c1")
	if !h[1].Retracted {
		t.Error("expected previous reply retracted")
	}
	if h[2].Content != "forget that" || h[2].Retracted {
		t.Errorf("unexpected new reply: %+v", h[2])
	}
}

func TestRespondTransportError(t *testing.T) {
	mock := provider.NewMock("mock", "").WithChatError(errors.New("connection refused"))
	e, _, cleanup := setupEngineTest(t, mock)
	defer cleanup()

	events := e.Bus().Subscribe()
	err := e.Respond(context.Background(), chatSession())
	if !errors.Is(err, provider.ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}

	var seen []EventType
	for len(events) > 0 {
		seen = append(seen, (<-events).Type)
	}
	want := []EventType{EventTypingStarted, EventTransportError, EventTypingStopped}
	if diff := cmp.Diff(want, seen); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestRespondUsesSettingsModel(t *testing.T) {
	mock := provider.NewMock("mock", "ok")
	e, _, cleanup := setupEngineTest(t, mock)
	defer cleanup()

	temp := 1.3
	e.Store().SetSettings(store.Settings{Model: "deepseek-chat", Temperature: &temp})
	if err := e.Respond(context.Background(), chatSession()); err != nil {
		t.Fatalf("Respond() error: %v", err)
	}

	reqs := mock.Requests()
	if len(reqs) != 1 {
		t.Fatalf("expected 1 request, got %d", len(reqs))
	}
	if reqs[0].Model != "deepseek-chat" || reqs[0].Temperature != 1.3 {
		t.Errorf("unexpected request: model=%s temperature=%v", reqs[0].Model, reqs[0].Temperature)
	}
}

func TestSendOfflineResponds(t *testing.T) {
	mock := provider.NewMock("mock", "She looks up from her book ||| and smiles.")
	e, _, cleanup := setupEngineTest(t, mock)
	defer cleanup()

	sess := Session{ContactID: "c1", Mode: protocol.ModeOffline}
	if err := e.Send(context.Background(), sess, "*walks in*", ""); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	e.Wait()

	h := e.Store().History("c1")
	if len(h) != 2 {
		t.Fatalf("expected 2 messages, got %v", contents(h))
	}
	if h[1].Mode != store.ModeOffline {
		t.Errorf("expected offline mode, got %s", h[1].Mode)
	}
	if h[1].Content != "She looks up from her book ||| and smiles." {
		t.Errorf("expected one verbatim segment, got %q", h[1].Content)
	}
}

func TestSendUnknownContact(t *testing.T) {
	e, _, cleanup := setupEngineTest(t, provider.NewMock("mock", "ok"))
	defer cleanup()

	err := e.Send(context.Background(), Session{ContactID: "nobody"}, "hi", "")
	if !errors.Is(err, ErrUnknownContact) {
		t.Errorf("expected ErrUnknownContact, got %v", err)
	}
}

func TestRegenerate(t *testing.T) {
	mock := provider.NewMock("mock", "second try")
	e, _, cleanup := setupEngineTest(t, mock)
	defer cleanup()

	sess := chatSession()
	if err := e.Regenerate(context.Background(), sess); !errors.Is(err, ErrNothingToRegenerate) {
		t.Fatalf("expected ErrNothingToRegenerate, got %v", err)
	}

	e.Store().Append("c1",
		store.Message{Role: store.RoleUser, Content: "hi"},
		store.Message{Role: store.RoleAssistant, Content: "first"},
		store.Message{Role: store.RoleAssistant, Content: "try"},
	)
	if err := e.Regenerate(context.Background(), sess); err != nil {
		t.Fatalf("Regenerate() error: %v", err)
	}
	e.Wait()

	if diff := cmp.Diff([]string{"hi", "second try"}, contents(e.Store().History("c1"))); diff != "" {
		t.Errorf("history mismatch (-want +got):\n%s", diff)
	}
}

func TestRetryAt(t *testing.T) {
	mock := provider.NewMock("mock", "fresh")
	e, _, cleanup := setupEngineTest(t, mock)
	defer cleanup()

	e.Store().Append("c1",
		store.Message{Role: store.RoleUser, Content: "hi"},
		store.Message{Role: store.RoleAssistant, Content: "stale"},
	)
	if err := e.RetryAt(context.Background(), chatSession(), 5); !errors.Is(err, ErrIndexOutOfRange) {
		t.Fatalf("expected ErrIndexOutOfRange, got %v", err)
	}
	if err := e.RetryAt(context.Background(), chatSession(), 1); err != nil {
		t.Fatalf("RetryAt() error: %v", err)
	}
	e.Wait()

	if diff := cmp.Diff([]string{"hi", "fresh"}, contents(e.Store().History("c1"))); diff != "" {
		t.Errorf("history mismatch (-want +got):\n%s", diff)
	}
}

func TestStartAndEndCall(t *testing.T) {
	mock := provider.NewMock("mock", "[THOUGHTS: finally] Hello? ||| You called!")
	e, _, cleanup := setupEngineTest(t, mock)
	defer cleanup()

	sess := Session{ContactID: "c1", Mode: protocol.ModeCall}
	if err := e.StartCall(context.Background(), sess); err != nil {
		t.Fatalf("StartCall() error: %v", err)
	}

	reqs := mock.Requests()
	if len(reqs) != 1 || len(reqs[0].Messages) != 1 {
		t.Fatalf("expected pickup request with only a system block, got %+v", reqs)
	}

	if err := e.EndCall(sess, 0); err != nil {
		t.Fatalf("EndCall() error: %v", err)
	}
	if err := e.EndCall(sess, 42*time.Second); err != nil {
		t.Fatalf("EndCall() error: %v", err)
	}

	h := e.Store().History("c1")
	if len(h) != 2 {
		t.Fatalf("expected 2 messages, got %v", contents(h))
	}
	if h[0].Thought != "finally" || h[0].Content != "Hello? ||| You called!" {
		t.Errorf("unexpected pickup: %+v", h[0])
	}
	if h[1].Type != store.TypeCallEnd || h[1].Role != store.RoleSystem || h[1].Content != "Call ended, User hung up" {
		t.Errorf("unexpected call end: %+v", h[1])
	}
}

func TestRoundSummaryAfterInterval(t *testing.T) {
	mock := provider.NewMock("mock", "see you")
	e, _, cleanup := setupEngineTest(t, mock)
	defer cleanup()

	e.Store().UpdateContact("c1", func(c *store.Contact) {
		c.UserSettings.SummaryInterval = 2
	})
	e.Store().Append("c1",
		store.Message{Role: store.RoleUser, Content: "one"},
		store.Message{Role: store.RoleAssistant, Content: "reply one"},
		store.Message{Role: store.RoleUser, Content: "two"},
	)
	mock.WithReplies("bye", "```json\n{\"content\": \"I said goodbye to the user.\", \"keywords\": [\"goodbye\"]}\n```")

	if err := e.Respond(context.Background(), chatSession()); err != nil {
		t.Fatalf("Respond() error: %v", err)
	}
	e.Wait()

	book := e.Store().MemoryBook("c1")
	if len(book.Normal) != 1 {
		t.Fatalf("expected 1 normal memory, got %d", len(book.Normal))
	}
	mem := book.Normal[0]
	if mem.Content != "I said goodbye to the user." || mem.Timestamp == 0 {
		t.Errorf("unexpected memory: %+v", mem)
	}
	if diff := cmp.Diff([]string{"goodbye"}, mem.Keywords); diff != "" {
		t.Errorf("keywords mismatch (-want +got):\n%s", diff)
	}
}

func TestRoundSummaryOncePerRoundCount(t *testing.T) {
	mock := provider.NewMock("mock", `{"content": "I said goodbye again.", "keywords": ["goodbye"]}`)
	e, _, cleanup := setupEngineTest(t, mock)
	defer cleanup()

	e.Store().UpdateContact("c1", func(c *store.Contact) {
		c.UserSettings.SummaryInterval = 2
	})
	e.Store().Append("c1",
		store.Message{Role: store.RoleUser, Content: "one"},
		store.Message{Role: store.RoleAssistant, Content: "reply one"},
		store.Message{Role: store.RoleUser, Content: "two"},
	)
	mock.WithReplies("bye", `{"content": "I said goodbye to the user.", "keywords": ["goodbye"]}`, "still here", "bye again")

	sess := chatSession()
	if err := e.Respond(context.Background(), sess); err != nil {
		t.Fatalf("Respond() error: %v", err)
	}
	e.Wait()
	if err := e.Continue(context.Background(), sess); err != nil {
		t.Fatalf("Continue() error: %v", err)
	}
	e.Wait()
	if err := e.Regenerate(context.Background(), sess); err != nil {
		t.Fatalf("Regenerate() error: %v", err)
	}
	e.Wait()

	if n := len(e.Store().MemoryBook("c1").Normal); n != 1 {
		t.Errorf("expected 1 round summary, got %d", n)
	}
	// reply, summary, continue, regenerate
	if n := len(mock.Requests()); n != 4 {
		t.Errorf("expected 4 gateway requests, got %d", n)
	}
}
