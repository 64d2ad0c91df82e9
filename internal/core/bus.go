package core

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/xonecas/heartline/internal/constants"
	"github.com/xonecas/heartline/internal/store"
)

// subscription is one listener. An empty contact receives every event;
// otherwise only that contact's events and contact-less ones such as
// storage failures.
type subscription struct {
	ch      chan Event
	contact store.ID
	dropped int
}

func (s *subscription) wants(e Event) bool {
	return s.contact == "" || e.ContactID == "" || e.ContactID == s.contact
}

// EventBus fans session events out to subscribers without blocking the
// engine.
type EventBus struct {
	mu         sync.Mutex
	subs       []*subscription
	bufferSize int
	closed     bool
}

// NewEventBus creates a new event bus.
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize < constants.MinEventBusBufferSize {
		bufferSize = constants.MinEventBusBufferSize
	}
	return &EventBus{
		bufferSize: bufferSize,
	}
}

// Subscribe returns a channel that receives every event.
// The caller is responsible for reading from the channel to avoid blocking.
func (b *EventBus) Subscribe() <-chan Event {
	return b.subscribe("")
}

// SubscribeContact returns a channel that receives the events of one
// contact, plus events that belong to no contact.
func (b *EventBus) SubscribeContact(id store.ID) <-chan Event {
	return b.subscribe(id)
}

func (b *EventBus) subscribe(contact store.ID) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)
	if b.closed {
		close(ch)
		return ch
	}
	b.subs = append(b.subs, &subscription{ch: ch, contact: contact})
	return ch
}

// Unsubscribe removes a subscriber channel.
func (b *EventBus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.subs {
		if sub.ch == ch {
			close(sub.ch)
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish sends an event to every interested subscriber. A subscriber whose
// buffer is full misses the event.
func (b *EventBus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		if !sub.wants(event) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			sub.dropped++
			if sub.dropped == 1 || sub.dropped%100 == 0 {
				log.Debug().Str("contact", string(sub.contact)).Int("dropped", sub.dropped).
					Str("event", string(event.Type)).Msg("Subscriber buffer full, dropping events")
			}
		}
	}
}

// Close closes all subscriber channels. Later publishes are dropped.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		close(sub.ch)
	}
	b.subs = nil
	b.closed = true
}
