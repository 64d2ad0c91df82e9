// Package store provides the two-tier container store: an in-memory mirror
// that answers every read, backed by a write-behind durable backend.
package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/xonecas/heartline/internal/config"
	"github.com/xonecas/heartline/internal/constants"
)

// ErrStorageWrite wraps failures of the durable tier. The mirror stays authoritative.
var ErrStorageWrite = errors.New("storage write failed")

const putTimeout = 10 * time.Second

// Options configure Open.
type Options struct {
	Backend Backend
	// LegacyPath is a JSON export of the legacy browser store. It is imported
	// only when the durable tier is empty.
	LegacyPath string
	// OnWriteError is invoked from the writer goroutine when a put fails.
	OnWriteError func(key string, err error)
}

// Store provides access to the persisted containers.
type Store struct {
	mu       sync.RWMutex
	mirror   map[string][]byte
	backend  Backend
	writer   *writer
	imported  []string
	importErr error
	closed    bool
}

// New opens the backend selected by cfg. onWriteError may be nil.
func New(ctx context.Context, cfg config.StoreConfig, onWriteError func(key string, err error)) (*Store, error) {
	var backend Backend
	switch cfg.Backend {
	case "redis":
		b, err := OpenRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		backend = b
	case "", "sqlite":
		path := cfg.Path
		if path == "" {
			dir, err := config.EnsureDataDir()
			if err != nil {
				return nil, fmt.Errorf("ensure data dir: %w", err)
			}
			path = filepath.Join(dir, "heartline.db")
		}
		b, err := OpenSQLite(path)
		if err != nil {
			return nil, err
		}
		backend = b
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}

	return Open(ctx, Options{Backend: backend, LegacyPath: cfg.LegacyImport, OnWriteError: onWriteError})
}

// Open loads every container from the backend into the mirror.
func Open(ctx context.Context, opts Options) (*Store, error) {
	loaded, err := opts.Backend.Load(ctx)
	if err != nil {
		opts.Backend.Close()
		return nil, fmt.Errorf("load containers: %w", err)
	}

	s := &Store{
		mirror:  loaded,
		backend: opts.Backend,
	}
	onErr := opts.OnWriteError
	if onErr == nil {
		onErr = func(key string, err error) {
			log.Error().Err(err).Str("key", key).Msg("Durable write failed")
		}
	}
	s.writer = newWriter(opts.Backend, onErr)

	if len(loaded) == 0 && opts.LegacyPath != "" {
		imported, err := readLegacy(opts.LegacyPath)
		if err != nil {
			s.importErr = err
			log.Warn().Err(err).Str("path", opts.LegacyPath).Msg("Legacy import skipped")
		} else {
			keys := make([]string, 0, len(imported))
			for key, raw := range imported {
				s.mirror[key] = raw
				s.writer.enqueue(key, raw)
				keys = append(keys, key)
			}
			sort.Strings(keys)
			s.imported = keys
			log.Info().Int("containers", len(keys)).Str("path", opts.LegacyPath).Msg("Imported legacy store")
		}
	}

	return s, nil
}

// OpenMemory opens a store over an in-memory database for testing.
func OpenMemory() (*Store, error) {
	b, err := OpenSQLite(":memory:")
	if err != nil {
		return nil, err
	}
	return Open(context.Background(), Options{Backend: b})
}

// Imported lists the keys brought in by the legacy import, if any.
func (s *Store) Imported() []string {
	return s.imported
}

// ImportError returns why the legacy import was skipped, or nil.
func (s *Store) ImportError() error {
	return s.importErr
}

// Flush blocks until every queued write has reached the backend.
func (s *Store) Flush() {
	s.writer.flush()
}

// Close drains pending writes and closes the backend.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.writer.stop()
	return s.backend.Close()
}

// Raw returns the encoded container under key.
func (s *Store) Raw(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, ok := s.mirror[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), raw...), true
}

// Get decodes the container under key into dst. It reports false when the
// key is absent or undecodable; dst is then untouched.
func (s *Store) Get(key string, dst any) bool {
	s.mu.RLock()
	raw, ok := s.mirror[key]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	if err := decode(raw, dst); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Container decode failed, using default")
		return false
	}
	return true
}

// Set replaces the container under key. The mirror is updated before Set
// returns; the durable write happens later.
func (s *Store) Set(key string, v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(key, v)
}

func (s *Store) setLocked(key string, v any) {
	raw, err := encode(v)
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("Container encode failed")
		return
	}
	s.mirror[key] = raw
	if s.closed {
		log.Warn().Str("key", key).Msg("Store closed, write kept in memory only")
		return
	}
	s.writer.enqueue(key, raw)
}

func get[T any](s *Store, key string, def func() T) T {
	v := def()
	if !s.Get(key, &v) {
		return def()
	}
	return v
}

// update runs a read-modify-write cycle under the store lock. fn reports
// whether it changed the value. fn must not call back into the store.
func update[T any](s *Store, key string, def func() T, fn func(*T) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := def()
	if raw, ok := s.mirror[key]; ok {
		if err := decode(raw, &v); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Container decode failed, using default")
			v = def()
		}
	}
	if fn(&v) {
		s.setLocked(key, v)
	}
}

func defaultSettings() Settings {
	return Settings{Prompt: constants.DefaultSystemPrompt}
}

func defaultWorldBook() WorldBook {
	return WorldBook{
		Categories: []WorldCategory{{ID: "default", Name: "Default"}},
		Entries:    []WorldEntry{},
	}
}

func emptyContacts() []Contact { return []Contact{} }
func emptyChats() Chats { return Chats{} }
func emptyMemories() Memories { return Memories{} }
func emptyCouple() Couple { return Couple{} }
func emptyCalendar() Calendar { return Calendar{} }
func emptyStickers() []Sticker { return []Sticker{} }

// Settings returns the global settings.
func (s *Store) Settings() Settings { return get(s, KeySettings, defaultSettings) }

// SetSettings replaces the global settings.
func (s *Store) SetSettings(v Settings) { s.Set(KeySettings, v) }

// Contacts returns all contacts.
func (s *Store) Contacts() []Contact { return get(s, KeyContacts, emptyContacts) }

// SetContacts replaces the contact list.
func (s *Store) SetContacts(v []Contact) { s.Set(KeyContacts, v) }

// Contact finds a contact by id.
func (s *Store) Contact(id ID) (Contact, bool) {
	for _, c := range s.Contacts() {
		if c.ID == id {
			return c, true
		}
	}
	return Contact{}, false
}

// UpdateContact applies fn to the contact with the given id.
func (s *Store) UpdateContact(id ID, fn func(*Contact)) bool {
	found := false
	update(s, KeyContacts, emptyContacts, func(list *[]Contact) bool {
		for i := range *list {
			if (*list)[i].ID == id {
				fn(&(*list)[i])
				found = true
				return true
			}
		}
		return false
	})
	return found
}

// Chats returns every timeline.
func (s *Store) Chats() Chats { return get(s, KeyChats, emptyChats) }

// History returns the timeline of one contact.
func (s *Store) History(id ID) []Message {
	return s.Chats()[string(id)]
}

// UpdateHistory applies fn to the timeline of one contact. fn reports
// whether it changed anything.
func (s *Store) UpdateHistory(id ID, fn func([]Message) ([]Message, bool)) {
	update(s, KeyChats, emptyChats, func(chats *Chats) bool {
		next, changed := fn((*chats)[string(id)])
		if changed {
			(*chats)[string(id)] = next
		}
		return changed
	})
}

// Append adds messages to the end of a contact's timeline.
func (s *Store) Append(id ID, msgs ...Message) {
	s.UpdateHistory(id, func(h []Message) ([]Message, bool) {
		return append(h, msgs...), true
	})
}

// Memories returns every memory book.
func (s *Store) Memories() Memories { return get(s, KeyMemories, emptyMemories) }

// MemoryBook returns the book of one contact.
func (s *Store) MemoryBook(id ID) MemoryBook {
	book := s.Memories()[string(id)]
	if book.Important == nil {
		book.Important = []MemoryEntry{}
	}
	if book.Normal == nil {
		book.Normal = []MemoryEntry{}
	}
	return book
}

// UpdateMemoryBook applies fn to the memory book of one contact.
func (s *Store) UpdateMemoryBook(id ID, fn func(*MemoryBook) bool) {
	update(s, KeyMemories, emptyMemories, func(m *Memories) bool {
		book := (*m)[string(id)]
		if !fn(&book) {
			return false
		}
		(*m)[string(id)] = book
		return true
	})
}

// Couple returns the relationship state.
func (s *Store) Couple() Couple { return get(s, KeyCouple, emptyCouple) }

// UpdateCouple applies fn to the relationship state.
func (s *Store) UpdateCouple(fn func(*Couple) bool) { update(s, KeyCouple, emptyCouple, fn) }

// WorldBook returns the world book.
func (s *Store) WorldBook() WorldBook { return get(s, KeyWorldBook, defaultWorldBook) }

// SetWorldBook replaces the world book.
func (s *Store) SetWorldBook(v WorldBook) { s.Set(KeyWorldBook, v) }

// Calendar returns the calendar events keyed by date.
func (s *Store) Calendar() Calendar { return get(s, KeyCalendar, emptyCalendar) }

// SetCalendar replaces the calendar.
func (s *Store) SetCalendar(v Calendar) { s.Set(KeyCalendar, v) }

// Stickers returns the sticker catalog.
func (s *Store) Stickers() []Sticker { return get(s, KeyStickers, emptyStickers) }

// SetStickers replaces the sticker catalog.
func (s *Store) SetStickers(v []Sticker) { s.Set(KeyStickers, v) }

// writer coalesces writes per key and drains them in the background.
type writer struct {
	backend Backend
	onError func(key string, err error)

	mu      sync.Mutex
	cond    *sync.Cond
	pending map[string][]byte
	busy    bool

	wake chan struct{}
	quit chan struct{}
	done chan struct{}
	once sync.Once
}

func newWriter(backend Backend, onError func(string, error)) *writer {
	w := &writer{
		backend: backend,
		onError: onError,
		pending: make(map[string][]byte),
		wake:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	w.cond = sync.NewCond(&w.mu)
	go w.run()
	return w
}

func (w *writer) enqueue(key string, value []byte) {
	w.mu.Lock()
	w.pending[key] = value
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *writer) run() {
	defer close(w.done)
	for {
		select {
		case <-w.wake:
			w.drain()
		case <-w.quit:
			w.drain()
			return
		}
	}
}

func (w *writer) drain() {
	for {
		w.mu.Lock()
		if len(w.pending) == 0 {
			w.busy = false
			w.cond.Broadcast()
			w.mu.Unlock()
			return
		}
		batch := w.pending
		w.pending = make(map[string][]byte)
		w.busy = true
		w.mu.Unlock()

		keys := make([]string, 0, len(batch))
		for k := range batch {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, key := range keys {
			ctx, cancel := context.WithTimeout(context.Background(), putTimeout)
			err := w.backend.Put(ctx, key, batch[key])
			cancel()
			if err != nil {
				w.onError(key, fmt.Errorf("%w: %s: %v", ErrStorageWrite, key, err))
			}
		}
	}
}

func (w *writer) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for len(w.pending) > 0 || w.busy {
		w.cond.Wait()
	}
}

func (w *writer) stop() {
	w.once.Do(func() { close(w.quit) })
	<-w.done
}
