package core

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/xonecas/heartline/internal/config"
	"github.com/xonecas/heartline/internal/protocol"
	"github.com/xonecas/heartline/internal/store"
)

func setupDeliveryTest(t *testing.T) (*Delivery, *store.Store, *EventBus, func()) {
	t.Helper()
	s, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory() error: %v", err)
	}
	bus := NewEventBus(100)
	cfg := config.DeliveryConfig{
		SegmentDelay:  config.Duration{Duration: 2 * time.Millisecond},
		TransferDelay: config.Duration{Duration: 2 * time.Millisecond},
	}
	fixed := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	d := NewDelivery(s, bus, cfg, func() time.Time { return fixed })
	return d, s, bus, func() {
		d.Wait()
		bus.Close()
		s.Close()
	}
}

func TestDeliverSegmentsInOrder(t *testing.T) {
	d, s, bus, cleanup := setupDeliveryTest(t)
	defer cleanup()

	events := bus.Subscribe()
	<-d.Deliver(Plan{
		ContactID: "c1",
		Mode:      protocol.ModeDefault,
		Thought:   "hope they laugh",
		Segments:  []string{"one", "two", "three"},
	})

	h := s.History("c1")
	if diff := cmp.Diff([]string{"one", "two", "three"}, contents(h)); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
	for i, m := range h {
		if m.Role != store.RoleAssistant || m.Mode != store.ModeOnline || m.ID == "" {
			t.Errorf("segment %d malformed: %+v", i, m)
		}
		if i > 0 && m.Timestamp <= h[i-1].Timestamp {
			t.Errorf("timestamp %d not after previous", i)
		}
		wantThought := ""
		if i == len(h)-1 {
			wantThought = "hope they laugh"
		}
		if m.Thought != wantThought {
			t.Errorf("segment %d thought = %q, want %q", i, m.Thought, wantThought)
		}
	}

	if n := len(events); n != 3 {
		t.Errorf("expected 3 append events, got %d", n)
	}
}

func TestDeliverSingleMessageModes(t *testing.T) {
	d, s, _, cleanup := setupDeliveryTest(t)
	defer cleanup()

	done := d.Deliver(Plan{
		ContactID: "c1",
		Mode:      protocol.ModeOffline,
		Thought:   "quiet",
		Segments:  []string{"She smiles."},
	})
	select {
	case <-done:
	default:
		t.Fatal("offline delivery should complete immediately")
	}

	h := s.History("c1")
	if len(h) != 1 || h[0].Mode != store.ModeOffline || h[0].Thought != "quiet" {
		t.Errorf("unexpected offline delivery: %+v", h)
	}
}

func TestDeliverStickersFirst(t *testing.T) {
	d, s, _, cleanup := setupDeliveryTest(t)
	defer cleanup()

	<-d.Deliver(Plan{
		ContactID: "c1",
		Mode:      protocol.ModeDefault,
		Stickers:  []protocol.StickerRef{{Sticker: store.Sticker{URL: "u", Desc: "wave"}}},
		Segments:  []string{"hello"},
	})

	h := s.History("c1")
	if len(h) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(h))
	}
	if h[0].Type != store.TypeSticker || h[0].Content != "[sticker: wave]" {
		t.Errorf("expected sticker first, got %+v", h[0])
	}
}

func TestDeliverKeepsOriginalContact(t *testing.T) {
	d, s, _, cleanup := setupDeliveryTest(t)
	defer cleanup()

	a := d.Deliver(Plan{ContactID: "a", Mode: protocol.ModeDefault, Segments: []string{"a1", "a2"}})
	b := d.Deliver(Plan{ContactID: "b", Mode: protocol.ModeDefault, Segments: []string{"b1"}, AfterTransfer: true})
	<-a
	<-b

	if diff := cmp.Diff([]string{"a1", "a2"}, contents(s.History("a"))); diff != "" {
		t.Errorf("contact a mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"b1"}, contents(s.History("b"))); diff != "" {
		t.Errorf("contact b mismatch (-want +got):\n%s", diff)
	}
}
