package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/xonecas/heartline/internal/calendar"
	"github.com/xonecas/heartline/internal/config"
	"github.com/xonecas/heartline/internal/prompt"
	"github.com/xonecas/heartline/internal/protocol"
	"github.com/xonecas/heartline/internal/provider"
	"github.com/xonecas/heartline/internal/store"
)

// Gateway builds the provider for a request. Endpoint and key come from the
// settings container and may be empty.
type Gateway interface {
	Create(endpoint, apiKey string) provider.Provider
}

type staticGateway struct {
	p provider.Provider
}

func (g staticGateway) Create(string, string) provider.Provider { return g.p }

// StaticGateway always returns p.
func StaticGateway(p provider.Provider) Gateway {
	return staticGateway{p: p}
}

// StorageErrorHandler republishes durable write failures on the bus. Pass it
// to store.New or as store.Options.OnWriteError.
func StorageErrorHandler(bus *EventBus) func(key string, err error) {
	return func(key string, err error) {
		log.Error().Err(err).Str("key", key).Msg("Durable write failed")
		bus.Publish(Event{Type: EventStorageError, Data: ErrorData{Error: err.Error()}})
	}
}

// Engine runs the response pipeline for every contact.
type Engine struct {
	store   *store.Store
	gateway Gateway
	bus     *EventBus
	config  *config.Config

	mu     sync.RWMutex
	apiKey string
	clock  func() time.Time

	delivery  *Delivery
	summaries *SummaryScheduler
	wg        sync.WaitGroup
}

// NewEngine creates an engine.
func NewEngine(s *store.Store, gw Gateway, bus *EventBus, cfg *config.Config) *Engine {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	e := &Engine{
		store:   s,
		gateway: gw,
		bus:     bus,
		config:  cfg,
		clock:   time.Now,
	}
	e.delivery = NewDelivery(s, bus, cfg.Delivery, e.now)
	e.summaries = newSummaryScheduler(e, cfg.Summary.SweepInterval.Duration)
	return e
}

// SetAPIKey sets the key used when the settings container carries none.
func (e *Engine) SetAPIKey(key string) {
	e.mu.Lock()
	e.apiKey = key
	e.mu.Unlock()
}

// SetClock replaces the time source.
func (e *Engine) SetClock(clock func() time.Time) {
	e.mu.Lock()
	e.clock = clock
	e.mu.Unlock()
}

func (e *Engine) now() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.clock()
}

// Store returns the engine's store.
func (e *Engine) Store() *store.Store {
	return e.store
}

// Bus returns the engine's event bus.
func (e *Engine) Bus() *EventBus {
	return e.bus
}

// Summaries returns the daily summary scheduler.
func (e *Engine) Summaries() *SummaryScheduler {
	return e.summaries
}

// Start runs the summary scheduler until ctx is cancelled.
func (e *Engine) Start(ctx context.Context) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.summaries.Run(ctx)
	}()
}

// Wait blocks until in-flight deliveries and background summaries finish.
func (e *Engine) Wait() {
	e.wg.Wait()
	e.delivery.Wait()
}

// SummarizeNow runs the daily compaction for a contact immediately.
func (e *Engine) SummarizeNow(ctx context.Context, id store.ID) (SummaryData, error) {
	if _, ok := e.store.Contact(id); !ok {
		return SummaryData{}, ErrUnknownContact
	}
	return e.summaries.RunDaily(ctx, id)
}

// chat sends one exchange through the gateway. Model and temperature come
// from the settings container, then from config; temperature overrides both.
func (e *Engine) chat(ctx context.Context, messages []provider.Message, temperature *float64) (string, error) {
	settings := e.store.Settings()

	e.mu.RLock()
	key := e.apiKey
	e.mu.RUnlock()
	if settings.Key != "" {
		key = settings.Key
	}

	model := e.config.Gateway.Model
	if settings.Model != "" {
		model = settings.Model
	}
	temp := e.config.Gateway.Temperature
	if settings.Temperature != nil {
		temp = *settings.Temperature
	}
	if temperature != nil {
		temp = *temperature
	}
	temp = min(max(temp, 0), 2)

	ctx, cancel := context.WithTimeout(ctx, e.config.Gateway.Timeout.Duration)
	defer cancel()

	p := e.gateway.Create(settings.URL, key)
	reply, err := p.Chat(ctx, provider.Request{Model: model, Temperature: temp, Messages: messages})
	if err != nil {
		if !errors.Is(err, provider.ErrTransport) {
			err = fmt.Errorf("%w: %v", provider.ErrTransport, err)
		}
		return "", err
	}
	return reply, nil
}

func (e *Engine) contact(id store.ID) (store.Contact, error) {
	c, ok := e.store.Contact(id)
	if !ok {
		return store.Contact{}, fmt.Errorf("%w: %s", ErrUnknownContact, id)
	}
	return c, nil
}

func (e *Engine) appendMessage(contact store.ID, msg store.Message) store.Message {
	msg.ID = store.NewID()
	msg.Timestamp = e.delivery.stamp(contact)
	e.store.Append(contact, msg)
	e.bus.Publish(Event{Type: EventMessageAppended, ContactID: contact, Data: MessageData{Message: msg}})
	return msg
}

// Send appends a user message. In offline mode the contact answers at once;
// otherwise the caller decides when to Respond.
func (e *Engine) Send(ctx context.Context, sess Session, text, quote string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if _, err := e.contact(sess.ContactID); err != nil {
		return err
	}
	e.appendMessage(sess.ContactID, store.Message{
		Role:    store.RoleUser,
		Content: text,
		Quote:   quote,
		Mode:    sess.Mode.Delivery(),
	})
	if sess.Mode == protocol.ModeOffline {
		return e.Respond(ctx, sess)
	}
	return nil
}

// SendTransfer appends a pending payment from the user.
func (e *Engine) SendTransfer(sess Session, amount float64, note string) (store.Message, error) {
	if amount <= 0 {
		return store.Message{}, ErrInvalidAmount
	}
	if _, err := e.contact(sess.ContactID); err != nil {
		return store.Message{}, err
	}
	msg := e.appendMessage(sess.ContactID, store.Message{
		Role:    store.RoleUser,
		Type:    store.TypeTransfer,
		Status:  store.StatusPending,
		Amount:  amount,
		Note:    strings.TrimSpace(note),
		Content: "[payment " + prompt.FormatAmount(amount) + "]",
		Mode:    sess.Mode.Delivery(),
	})
	log.Info().Str("contact", string(sess.ContactID)).Float64("amount", amount).Msg("Transfer sent")
	return msg, nil
}

// SendInvite appends a relationship invitation from the user.
func (e *Engine) SendInvite(sess Session) (store.Message, error) {
	if _, err := e.contact(sess.ContactID); err != nil {
		return store.Message{}, err
	}
	if e.store.Couple().Active {
		return store.Message{}, ErrAlreadyPartnered
	}
	msg := e.appendMessage(sess.ContactID, store.Message{
		Role:    store.RoleUser,
		Type:    store.TypeInviteRequest,
		Content: "[couple space invitation]",
		Mode:    sess.Mode.Delivery(),
	})
	log.Info().Str("contact", string(sess.ContactID)).Msg("Invitation sent")
	return msg, nil
}

// Respond asks the contact for its next reply and delivers it. It returns
// once the reply is parsed and resolved; segments keep landing afterwards.
// Transport failures publish an error event and return provider.ErrTransport.
func (e *Engine) Respond(ctx context.Context, sess Session) error {
	contact, err := e.contact(sess.ContactID)
	if err != nil {
		return err
	}
	id := contact.ID

	e.bus.Publish(Event{Type: EventTypingStarted, ContactID: id})
	defer e.bus.Publish(Event{Type: EventTypingStopped, ContactID: id})

	now := e.now()
	settings := e.store.Settings()
	history := e.store.History(id)
	pending := prompt.FindPending(history, contact.UserSettings.Limit(), e.store.Couple(), id)

	var catalog []store.Sticker
	if settings.AIStickerEnabled {
		catalog = e.store.Stickers()
	}

	compiled := prompt.Compile(prompt.Input{
		Contact:   contact,
		History:   history,
		Settings:  settings,
		WorldBook: e.store.WorldBook(),
		Memories:  e.store.MemoryBook(id),
		Calendar:  calendar.Today(e.store.Calendar(), contact.Name, now),
		Stickers:  catalog,
		Mode:      sess.Mode,
		Pending:   pending,
		Now:       now,
	})

	log.Debug().Str("contact", string(id)).Str("mode", sess.Mode.String()).Int("history", len(compiled.History)).Msg("Requesting reply")
	raw, err := e.chat(ctx, compiled.Messages(), nil)
	if err != nil {
		log.Error().Err(err).Str("contact", string(id)).Msg("Reply request failed")
		e.bus.Publish(Event{Type: EventTransportError, ContactID: id, Data: ErrorData{Error: err.Error()}})
		return err
	}

	res := protocol.Parse(raw, protocol.Options{
		Mode:            sess.Mode,
		TransferPending: pending.Transfer != nil,
		Catalog:         catalog,
	})

	mode := sess.Mode.Delivery()
	if res.RetractLast {
		e.retractLast(id)
	}
	afterTransfer := false
	if pending.Transfer != nil {
		afterTransfer = e.resolveTransfer(id, *pending.Transfer, res.Transfer, mode)
	}
	if pending.Invite != nil {
		e.resolveInvite(id, *pending.Invite, res.Invite, strings.Join(res.Segments, " "), mode)
	}

	if res.Empty() {
		log.Warn().Str("contact", string(id)).Msg("Reply had no content to deliver")
		return nil
	}

	done := e.delivery.Deliver(Plan{
		ContactID:     id,
		Mode:          sess.Mode,
		Thought:       res.Thought,
		Stickers:      res.Stickers,
		Segments:      res.Segments,
		AfterTransfer: afterTransfer,
	})

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		<-done
		e.maybeRoundSummary(context.WithoutCancel(ctx), id)
	}()
	return nil
}

// Continue asks for another reply without new user input.
func (e *Engine) Continue(ctx context.Context, sess Session) error {
	return e.Respond(ctx, sess)
}

// Regenerate drops the trailing replies of the contact and asks again.
func (e *Engine) Regenerate(ctx context.Context, sess Session) error {
	if _, err := e.contact(sess.ContactID); err != nil {
		return err
	}
	dropped := 0
	e.store.UpdateHistory(sess.ContactID, func(h []store.Message) ([]store.Message, bool) {
		end := len(h)
		for end > 0 && h[end-1].Role == store.RoleAssistant {
			end--
		}
		dropped = len(h) - end
		return h[:end], dropped > 0
	})
	if dropped == 0 {
		return ErrNothingToRegenerate
	}
	log.Info().Str("contact", string(sess.ContactID)).Int("dropped", dropped).Msg("Regenerating reply")
	return e.Respond(ctx, sess)
}

// RetryAt removes the message at index and asks for a new reply.
func (e *Engine) RetryAt(ctx context.Context, sess Session, index int) error {
	if _, err := e.contact(sess.ContactID); err != nil {
		return err
	}
	removed := false
	e.store.UpdateHistory(sess.ContactID, func(h []store.Message) ([]store.Message, bool) {
		if index < 0 || index >= len(h) {
			return h, false
		}
		removed = true
		return append(h[:index:index], h[index+1:]...), true
	})
	if !removed {
		return fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}
	return e.Respond(ctx, sess)
}

// StartCall has the contact pick up a call placed by the user. The pickup
// line is one message carrying the thought.
func (e *Engine) StartCall(ctx context.Context, sess Session) error {
	contact, err := e.contact(sess.ContactID)
	if err != nil {
		return err
	}
	e.bus.Publish(Event{Type: EventTypingStarted, ContactID: contact.ID})
	defer e.bus.Publish(Event{Type: EventTypingStopped, ContactID: contact.ID})

	compiled := prompt.CompileCallStart(contact, e.store.Settings())
	raw, err := e.chat(ctx, compiled.Messages(), nil)
	if err != nil {
		log.Error().Err(err).Str("contact", string(contact.ID)).Msg("Call pickup failed")
		e.bus.Publish(Event{Type: EventTransportError, ContactID: contact.ID, Data: ErrorData{Error: err.Error()}})
		return err
	}

	res := protocol.Parse(raw, protocol.Options{Mode: protocol.ModeCall})
	if res.Empty() {
		return nil
	}
	e.delivery.Deliver(Plan{
		ContactID: contact.ID,
		Mode:      protocol.ModeCall,
		Thought:   res.Thought,
		Segments:  res.Segments,
	})
	return nil
}

// EndCall records that the user hung up. Calls that never connected leave
// no trace.
func (e *Engine) EndCall(sess Session, duration time.Duration) error {
	contact, err := e.contact(sess.ContactID)
	if err != nil {
		return err
	}
	if duration <= 0 {
		return nil
	}
	name := contact.UserSettings.UserName
	if name == "" {
		name = "User"
	}
	e.appendMessage(contact.ID, store.Message{
		Role:    store.RoleSystem,
		Type:    store.TypeCallEnd,
		Content: "Call ended, " + name + " hung up",
		Mode:    store.ModeOnline,
	})
	log.Info().Str("contact", string(contact.ID)).Dur("duration", duration).Msg("Call ended")
	return nil
}
