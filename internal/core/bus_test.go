package core

import (
	"testing"
	"time"
)

func TestEventBus(t *testing.T) {
	bus := NewEventBus(10)

	ch := bus.Subscribe()

	bus.Publish(Event{Type: EventMessageAppended, ContactID: "c1"})

	select {
	case received := <-ch:
		if received.Type != EventMessageAppended {
			t.Errorf("expected type=%s, got %s", EventMessageAppended, received.Type)
		}
		if received.ContactID != "c1" {
			t.Errorf("expected contact=c1, got %s", received.ContactID)
		}
		if received.Timestamp.IsZero() {
			t.Error("expected timestamp to be filled in")
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}

	bus.Unsubscribe(ch)

	if _, ok := <-ch; ok {
		t.Error("expected channel to be closed")
	}
}

func TestEventBusMultipleSubscribers(t *testing.T) {
	bus := NewEventBus(10)

	ch1 := bus.Subscribe()
	ch2 := bus.Subscribe()

	bus.Publish(Event{Type: EventTypingStarted, ContactID: "c1"})

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case <-ch:
		case <-time.After(100 * time.Millisecond):
			t.Errorf("subscriber %d did not receive event", i+1)
		}
	}
}

func TestEventBusNonBlocking(t *testing.T) {
	bus := NewEventBus(1)
	ch := bus.Subscribe()

	done := make(chan struct{})
	go func() {
		// Buffer is clamped to the minimum; publishing past it must not block.
		for i := 0; i < 500; i++ {
			bus.Publish(Event{Type: EventTypingStarted})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
	if len(ch) == 0 {
		t.Error("expected buffered events")
	}
}

func TestEventBusClose(t *testing.T) {
	bus := NewEventBus(10)
	ch := bus.Subscribe()

	bus.Close()

	if _, ok := <-ch; ok {
		t.Error("expected channel to be closed")
	}

	// publishing after close is a no-op
	bus.Publish(Event{Type: EventTypingStopped})

	late := bus.Subscribe()
	if _, ok := <-late; ok {
		t.Error("expected subscription after close to be closed")
	}
}

func TestEventBusSubscribeContact(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	ch := bus.SubscribeContact("c1")
	all := bus.Subscribe()

	bus.Publish(Event{Type: EventTypingStarted, ContactID: "c2"})
	bus.Publish(Event{Type: EventMessageAppended, ContactID: "c1"})
	bus.Publish(Event{Type: EventStorageError})

	var got []EventType
	for len(ch) > 0 {
		got = append(got, (<-ch).Type)
	}
	want := []EventType{EventMessageAppended, EventStorageError}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("expected %v, got %v", want, got)
	}
	if len(all) != 3 {
		t.Errorf("expected unscoped subscriber to see 3 events, got %d", len(all))
	}
}
