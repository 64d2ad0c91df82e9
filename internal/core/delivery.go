package core

import (
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/xonecas/heartline/internal/config"
	"github.com/xonecas/heartline/internal/protocol"
	"github.com/xonecas/heartline/internal/store"
)

// Plan is one parsed reply ready for delivery.
type Plan struct {
	ContactID store.ID
	// Mode is captured when the reply was requested; later mode switches do
	// not change it.
	Mode     protocol.Mode
	Thought  string
	Stickers []protocol.StickerRef
	Segments []string
	// AfterTransfer delays the first segment so the receipt lands first.
	AfterTransfer bool
}

// Delivery commits replies to the store at staggered offsets.
type Delivery struct {
	store *store.Store
	bus   *EventBus
	clock func() time.Time

	segmentDelay  time.Duration
	transferDelay time.Duration

	wg   sync.WaitGroup
	mu   sync.Mutex
	last map[store.ID]int64
}

// NewDelivery creates a delivery scheduler.
func NewDelivery(s *store.Store, bus *EventBus, cfg config.DeliveryConfig, clock func() time.Time) *Delivery {
	if clock == nil {
		clock = time.Now
	}
	return &Delivery{
		store:         s,
		bus:           bus,
		clock:         clock,
		segmentDelay:  cfg.SegmentDelay.Duration,
		transferDelay: cfg.TransferDelay.Duration,
		last:          make(map[store.ID]int64),
	}
}

// Deliver appends stickers at once, then the text. Call and offline replies
// are one message appended immediately. Chat replies are appended one
// segment at a time; the thought rides on the last segment. The returned
// channel is closed after the last append. Deliveries cannot be cancelled.
func (d *Delivery) Deliver(p Plan) <-chan struct{} {
	done := make(chan struct{})
	mode := p.Mode.Delivery()

	for _, ref := range p.Stickers {
		d.append(p.ContactID, store.Message{
			Role:        store.RoleAssistant,
			Type:        store.TypeSticker,
			Content:     "[sticker: " + ref.Sticker.Desc + "]",
			StickerURL:  ref.Sticker.URL,
			StickerDesc: ref.Sticker.Desc,
			Mode:        mode,
		})
	}

	if len(p.Segments) == 0 {
		close(done)
		return done
	}

	if p.Mode != protocol.ModeDefault {
		d.append(p.ContactID, store.Message{
			Role:    store.RoleAssistant,
			Content: strings.Join(p.Segments, "\n"),
			Thought: p.Thought,
			Mode:    mode,
		})
		close(done)
		return done
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer close(done)

		delay := time.Duration(0)
		if p.AfterTransfer {
			delay = d.transferDelay
		}
		for i, seg := range p.Segments {
			if i > 0 {
				delay = d.segmentDelay
			}
			if delay > 0 {
				time.Sleep(delay)
			}
			msg := store.Message{
				Role:    store.RoleAssistant,
				Content: seg,
				Mode:    mode,
			}
			if i == len(p.Segments)-1 {
				msg.Thought = p.Thought
			}
			d.append(p.ContactID, msg)
		}
		log.Debug().Str("contact", string(p.ContactID)).Int("segments", len(p.Segments)).Msg("Reply delivered")
	}()
	return done
}

// Wait blocks until every in-flight delivery has finished.
func (d *Delivery) Wait() {
	d.wg.Wait()
}

func (d *Delivery) append(contact store.ID, msg store.Message) {
	msg.ID = store.NewID()
	msg.Timestamp = d.stamp(contact)
	d.store.Append(contact, msg)
	d.bus.Publish(Event{Type: EventMessageAppended, ContactID: contact, Data: MessageData{Message: msg}})
}

// stamp returns the append time in unix ms, strictly after the previous
// stamp for the same contact.
func (d *Delivery) stamp(contact store.ID) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	ts := d.clock().UnixMilli()
	if prev := d.last[contact]; ts <= prev {
		ts = prev + 1
	}
	d.last[contact] = ts
	return ts
}
