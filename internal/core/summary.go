package core

import (
	"container/heap"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog/log"
	"github.com/xonecas/heartline/internal/constants"
	"github.com/xonecas/heartline/internal/prompt"
	"github.com/xonecas/heartline/internal/provider"
	"github.com/xonecas/heartline/internal/store"
	"golang.org/x/sync/singleflight"
)

// NextRun returns when the daily summary set for hhmm should next fire: the
// first occurrence of hhmm strictly after now, then one more day when a
// summary already ran today. The sweep covers any day this skips. An
// unparsable hhmm falls back to the default.
func NextRun(now time.Time, hhmm string, lastSummary int64) time.Time {
	h, m, ok := parseClock(hhmm)
	if !ok {
		h, m, _ = parseClock(constants.DefaultDailySummaryTime)
	}
	next := time.Date(now.Year(), now.Month(), now.Day(), h, m, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	if ranToday(now, lastSummary) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func parseClock(hhmm string) (int, int, bool) {
	t, err := time.Parse("15:04", strings.TrimSpace(hhmm))
	if err != nil {
		return 0, 0, false
	}
	return t.Hour(), t.Minute(), true
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func ranToday(now time.Time, lastSummary int64) bool {
	return lastSummary > 0 && !time.UnixMilli(lastSummary).Before(startOfDay(now))
}

// deadline is one armed daily run.
type deadline struct {
	contact store.ID
	at      time.Time
	index   int
}

// deadlines is a min-heap ordered by fire time.
type deadlines []*deadline

func (d deadlines) Len() int           { return len(d) }
func (d deadlines) Less(i, j int) bool { return d[i].at.Before(d[j].at) }
func (d deadlines) Swap(i, j int) {
	d[i], d[j] = d[j], d[i]
	d[i].index = i
	d[j].index = j
}

func (d *deadlines) Push(x any) {
	item := x.(*deadline)
	item.index = len(*d)
	*d = append(*d, item)
}

func (d *deadlines) Pop() any {
	old := *d
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*d = old[:n-1]
	return item
}

// SummaryScheduler compacts each contact's memories once a day. Armed
// deadlines live in a heap served by one loop; a coarse sweep catches runs
// missed while the process was down.
type SummaryScheduler struct {
	engine *Engine
	sweep  time.Duration
	group  singleflight.Group

	mu        sync.Mutex
	queue     deadlines
	armed     map[store.ID]*deadline
	attempted map[store.ID]string
	rounds    map[store.ID]int
	wake      chan struct{}
	runs      sync.WaitGroup
}

func newSummaryScheduler(e *Engine, sweep time.Duration) *SummaryScheduler {
	if sweep <= 0 {
		sweep = constants.SummarySweepInterval
	}
	return &SummaryScheduler{
		engine:    e,
		sweep:     sweep,
		armed:     make(map[store.ID]*deadline),
		attempted: make(map[store.ID]string),
		rounds:    make(map[store.ID]int),
		wake:      make(chan struct{}, 1),
	}
}

// Arm schedules the next daily run for a contact, replacing any armed one.
// Contacts without daily summaries enabled are disarmed.
func (s *SummaryScheduler) Arm(id store.ID) {
	c, ok := s.engine.store.Contact(id)
	if !ok || !c.DailySummary.Enabled {
		s.Disarm(id)
		return
	}
	at := NextRun(s.engine.now(), c.DailySummary.TimeOfDay(), c.DailySummary.LastSummary)

	s.mu.Lock()
	if d, ok := s.armed[id]; ok {
		d.at = at
		heap.Fix(&s.queue, d.index)
	} else {
		d := &deadline{contact: id, at: at}
		heap.Push(&s.queue, d)
		s.armed[id] = d
	}
	s.mu.Unlock()

	log.Debug().Str("contact", string(id)).Time("at", at).Msg("Daily summary armed")
	s.poke()
}

// ArmAll arms every contact in the store.
func (s *SummaryScheduler) ArmAll() {
	for _, c := range s.engine.store.Contacts() {
		s.Arm(c.ID)
	}
}

// Disarm removes a contact's deadline.
func (s *SummaryScheduler) Disarm(id store.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.armed[id]; ok {
		heap.Remove(&s.queue, d.index)
		delete(s.armed, id)
	}
}

// Next returns the earliest armed deadline.
func (s *SummaryScheduler) Next() (store.ID, time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return "", time.Time{}, false
	}
	return s.queue[0].contact, s.queue[0].at, true
}

func (s *SummaryScheduler) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// popDue removes and returns every contact whose deadline is not after now.
func (s *SummaryScheduler) popDue(now time.Time) []store.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []store.ID
	for len(s.queue) > 0 && !s.queue[0].at.After(now) {
		d := heap.Pop(&s.queue).(*deadline)
		delete(s.armed, d.contact)
		due = append(due, d.contact)
	}
	return due
}

// Run arms every contact and serves deadlines until ctx is cancelled. It
// waits for in-flight runs before returning.
func (s *SummaryScheduler) Run(ctx context.Context) {
	s.ArmAll()
	ticker := time.NewTicker(s.sweep)
	defer ticker.Stop()
	defer s.runs.Wait()

	log.Info().Dur("sweep", s.sweep).Msg("Summary scheduler started")
	for {
		var timer *time.Timer
		var fire <-chan time.Time
		if _, at, ok := s.Next(); ok {
			timer = time.NewTimer(at.Sub(s.engine.now()))
			fire = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			log.Info().Msg("Summary scheduler stopped")
			return
		case <-s.wake:
		case <-fire:
			for _, id := range s.popDue(s.engine.now()) {
				s.launch(ctx, id)
			}
		case <-ticker.C:
			s.Sweep(ctx)
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

// Sweep starts a catch-up run for every enabled contact whose time today has
// passed without a summary. Each contact is attempted at most once a day.
func (s *SummaryScheduler) Sweep(ctx context.Context) {
	now := s.engine.now()
	today := now.Format(store.CalendarDateLayout)
	for _, c := range s.engine.store.Contacts() {
		ds := c.DailySummary
		if !ds.Enabled || ranToday(now, ds.LastSummary) {
			continue
		}
		h, m, ok := parseClock(ds.TimeOfDay())
		if !ok {
			continue
		}
		if now.Before(time.Date(now.Year(), now.Month(), now.Day(), h, m, 0, 0, now.Location())) {
			continue
		}
		s.mu.Lock()
		seen := s.attempted[c.ID] == today
		s.mu.Unlock()
		if seen {
			continue
		}
		log.Info().Str("contact", string(c.ID)).Msg("Catching up missed daily summary")
		s.launch(ctx, c.ID)
	}
}

func (s *SummaryScheduler) launch(ctx context.Context, id store.ID) {
	s.mu.Lock()
	s.attempted[id] = s.engine.now().Format(store.CalendarDateLayout)
	s.mu.Unlock()

	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		if _, err := s.RunDaily(ctx, id); err != nil {
			log.Warn().Err(err).Str("contact", string(id)).Msg("Daily summary failed")
		}
	}()
}

// RunDaily compacts the trailing day of a contact now. Concurrent calls for
// the same contact share one run. The contact is re-armed afterwards whether
// or not the run succeeded; a failure leaves lastSummary untouched so the
// retry lands on the next scheduled day.
func (s *SummaryScheduler) RunDaily(ctx context.Context, id store.ID) (SummaryData, error) {
	v, err, _ := s.group.Do("daily:"+string(id), func() (any, error) {
		return s.engine.compactDay(ctx, id)
	})
	s.Arm(id)

	if err != nil {
		s.engine.bus.Publish(Event{Type: EventSummaryFailed, ContactID: id, Data: ErrorData{Error: err.Error()}})
		return SummaryData{Kind: SummaryDaily}, err
	}
	data := v.(SummaryData)
	s.engine.bus.Publish(Event{Type: EventSummaryCompleted, ContactID: id, Data: data})
	return data, nil
}

type dailyReply struct {
	DailySummary      string   `json:"dailySummary"`
	Keywords          []string `json:"keywords"`
	ImportantMemories []string `json:"importantMemories"`
	HasContent        bool     `json:"hasContent"`
}

type roundReply struct {
	Content  string   `json:"content"`
	Keywords []string `json:"keywords"`
}

// compactDay folds the trailing window of messages and normal memories into
// one summary entry.
func (e *Engine) compactDay(ctx context.Context, id store.ID) (SummaryData, error) {
	contact, ok := e.store.Contact(id)
	if !ok {
		return SummaryData{}, ErrUnknownContact
	}

	now := e.now()
	since := now.Add(-constants.SummaryWindow)
	sinceMs := since.UnixMilli()

	var chats []store.Message
	for _, m := range e.store.History(id) {
		if m.Timestamp >= sinceMs {
			chats = append(chats, m)
		}
	}
	var consumed []store.MemoryEntry
	for _, mem := range e.store.MemoryBook(id).Normal {
		if mem.Timestamp >= sinceMs && !mem.IsDailySummary {
			consumed = append(consumed, mem)
		}
	}

	if len(chats) == 0 && len(consumed) == 0 {
		log.Debug().Str("contact", string(id)).Msg("Nothing to summarize")
		return SummaryData{Kind: SummaryDaily, Skipped: true}, nil
	}

	text := dailyPrompt(contact, chats, consumed, since, now)
	temp := constants.SummaryTemperature
	raw, err := e.chat(ctx, []provider.Message{{Role: provider.RoleUser, Content: text}}, &temp)
	if err != nil {
		return SummaryData{}, err
	}

	var reply dailyReply
	if err := sonic.ConfigStd.UnmarshalFromString(stripFences(raw), &reply); err != nil {
		return SummaryData{}, fmt.Errorf("decode daily summary: %w", err)
	}
	if !reply.HasContent || isNoContent(reply.DailySummary) {
		log.Info().Str("contact", string(id)).Msg("Daily summary reported no content")
		return SummaryData{Kind: SummaryDaily, Skipped: true}, nil
	}

	date := now.Format(store.CalendarDateLayout)
	promoted := 0
	e.store.UpdateMemoryBook(id, func(b *store.MemoryBook) bool {
		kept := b.Normal[:0:0]
		for _, mem := range b.Normal {
			if !containsEntry(consumed, mem) {
				kept = append(kept, mem)
			}
		}
		b.Normal = append(kept, store.MemoryEntry{
			ID:             store.NewID(),
			Content:        "[" + date + " daily summary]\n" + strings.TrimSpace(reply.DailySummary),
			Keywords:       nonNil(reply.Keywords),
			Timestamp:      now.UnixMilli(),
			IsDailySummary: true,
		})
		if b.Important == nil {
			b.Important = []store.MemoryEntry{}
		}
		for _, imp := range reply.ImportantMemories {
			imp = strings.TrimSpace(imp)
			if imp == "" {
				continue
			}
			b.Important = append(b.Important, store.MemoryEntry{
				ID:        store.NewID(),
				Content:   "[" + date + "] " + imp,
				Keywords:  []string{},
				Timestamp: now.UnixMilli(),
			})
			promoted++
		}
		return true
	})
	e.store.UpdateContact(id, func(c *store.Contact) {
		c.DailySummary.LastSummary = now.UnixMilli()
	})

	log.Info().Str("contact", string(id)).Int("consumed", len(consumed)).Int("promoted", promoted).Msg("Daily summary stored")
	return SummaryData{Kind: SummaryDaily, Consumed: len(consumed), Promoted: promoted}, nil
}

// CountRounds counts user turns answered by the contact.
func CountRounds(history []store.Message) int {
	rounds := 0
	waiting := false
	for _, m := range history {
		switch m.Role {
		case store.RoleUser:
			waiting = true
		case store.RoleAssistant:
			if waiting {
				rounds++
				waiting = false
			}
		}
	}
	return rounds
}

// maybeRoundSummary summarizes the latest rounds into a normal memory every
// summaryInterval rounds.
func (e *Engine) maybeRoundSummary(ctx context.Context, id store.ID) {
	contact, ok := e.store.Contact(id)
	if !ok || !contact.UserSettings.AutoSummary() {
		return
	}
	history := e.store.History(id)
	interval := contact.UserSettings.Interval()
	rounds := CountRounds(history)
	if rounds == 0 || rounds%interval != 0 {
		return
	}

	if !e.summaries.claimRound(id, rounds) {
		log.Debug().Str("contact", string(id)).Int("rounds", rounds).Msg("Round already summarized")
		return
	}

	tail, _ := prompt.Window(history, interval*constants.RoundSummaryMessagesPerRound)
	_, err, _ := e.summaries.group.Do(fmt.Sprintf("round:%s:%d", id, rounds), func() (any, error) {
		return nil, e.summarizeRound(ctx, contact, tail)
	})
	if err != nil {
		e.summaries.releaseRound(id, rounds)
		log.Warn().Err(err).Str("contact", string(id)).Msg("Round summary failed")
		e.bus.Publish(Event{Type: EventSummaryFailed, ContactID: id, Data: ErrorData{Error: err.Error()}})
	}
}

// claimRound records rounds as summarized for a contact. It reports false
// when that count was already claimed, as after Continue or Regenerate.
func (s *SummaryScheduler) claimRound(id store.ID, rounds int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rounds[id] == rounds {
		return false
	}
	s.rounds[id] = rounds
	return true
}

// releaseRound lets a failed round summary be retried by a later reply.
func (s *SummaryScheduler) releaseRound(id store.ID, rounds int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rounds[id] == rounds {
		delete(s.rounds, id)
	}
}

func (e *Engine) summarizeRound(ctx context.Context, contact store.Contact, tail []store.Message) error {
	now := e.now()
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s. Read the recent conversation between you and the user and summarize, "+
		"in the first person (\"I ...\"), the key events that happened in it.\n"+
		"Requirements: 1. Include concrete times. 2. Extract 3-5 keywords. "+
		"3. If nothing important happened, return \"none\" as content. "+
		"4. Return strictly JSON: {\"content\":\"...\",\"keywords\":[\"...\"]}\n"+
		"Conversation:\n", contact.Name)
	for _, m := range tail {
		who := "Me"
		if m.Role == store.RoleUser {
			who = "User"
		}
		b.WriteString(transcriptLine(m, who))
	}
	fmt.Fprintf(&b, "Current time: %s", now.Format("2006-01-02 15:04:05"))

	temp := constants.SummaryTemperature
	raw, err := e.chat(ctx, []provider.Message{{Role: provider.RoleUser, Content: b.String()}}, &temp)
	if err != nil {
		return err
	}
	var reply roundReply
	if err := sonic.ConfigStd.UnmarshalFromString(stripFences(raw), &reply); err != nil {
		return fmt.Errorf("decode round summary: %w", err)
	}
	if isNoContent(reply.Content) {
		e.bus.Publish(Event{Type: EventSummaryCompleted, ContactID: contact.ID, Data: SummaryData{Kind: SummaryRound, Skipped: true}})
		return nil
	}

	e.store.UpdateMemoryBook(contact.ID, func(book *store.MemoryBook) bool {
		book.Normal = append(book.Normal, store.MemoryEntry{
			ID:        store.NewID(),
			Content:   strings.TrimSpace(reply.Content),
			Keywords:  nonNil(reply.Keywords),
			Timestamp: now.UnixMilli(),
		})
		return true
	})
	log.Info().Str("contact", string(contact.ID)).Int("messages", len(tail)).Msg("Round summary stored")
	e.bus.Publish(Event{Type: EventSummaryCompleted, ContactID: contact.ID, Data: SummaryData{Kind: SummaryRound}})
	return nil
}

func dailyPrompt(contact store.Contact, chats []store.Message, mems []store.MemoryEntry, since, now time.Time) string {
	const layout = "2006-01-02 15:04:05"
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s.\nRead the chat log and existing memories from the past 24 hours (%s to %s) and write a daily summary.\n\n",
		contact.Name, since.Format(layout), now.Format(layout))

	b.WriteString("===== Chat log =====\n")
	if len(chats) == 0 {
		b.WriteString("(no messages)\n")
	}
	for _, m := range chats {
		who := contact.Name
		if m.Role == store.RoleUser {
			who = "User"
		}
		b.WriteString(transcriptLine(m, who))
	}

	b.WriteString("\n===== Memory fragments =====\n")
	if len(mems) == 0 {
		b.WriteString("(no memories)\n")
	}
	for i, m := range mems {
		fmt.Fprintf(&b, "Memory %d: %s\n", i+1, m.Content)
	}

	b.WriteString(`
===== Task =====
1. Summarize everything important that happened today in the first person ("I ...").
2. Merge all memory fragments into one complete daily summary.
3. Decide whether anything deserves to be an important memory (decisions, turning points, moments created together, major events).
4. List important memories separately.

Return strictly JSON:
{"dailySummary": "...", "keywords": ["..."], "importantMemories": ["..."], "hasContent": true}

If nothing meaningful happened, set hasContent to false and dailySummary to "none".
importantMemories may be empty. The summary is one coherent narrative, not a list.`)
	return b.String()
}

func transcriptLine(m store.Message, who string) string {
	when := "unknown time"
	if m.Timestamp > 0 {
		when = m.Time().Format("2006-01-02 15:04:05")
	}
	content := m.Content
	switch m.Type {
	case store.TypeTransfer, store.TypeTransferReceipt:
		content = fmt.Sprintf("[payment of %s, %s]", prompt.FormatAmount(m.Amount), m.Status)
	case store.TypeSticker:
		content = "[sticker: " + m.StickerDesc + "]"
	}
	return fmt.Sprintf("[%s] %s: %s\n", when, who, content)
}

// stripFences removes markdown code fences around a JSON reply.
func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}

func isNoContent(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return true
	}
	for _, sentinel := range constants.NoContentSentinels {
		if s == sentinel {
			return true
		}
	}
	return false
}

// containsEntry matches by id, or by content and time for entries without one.
func containsEntry(list []store.MemoryEntry, e store.MemoryEntry) bool {
	for _, m := range list {
		if e.ID != "" || m.ID != "" {
			if m.ID == e.ID {
				return true
			}
			continue
		}
		if m.Content == e.Content && m.Timestamp == e.Timestamp {
			return true
		}
	}
	return false
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
