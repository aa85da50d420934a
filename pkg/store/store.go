// Package store implements the local record mirror of the sync engine.
//
// The Store is the single mutable shared resource of the engine. Every write
// goes through Upsert, MarkDeleted, Replace or Purge, and every write notifies
// the registered observers once the lock has been released.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/aretw0/introspection"

	"github.com/aretw0/notesync/pkg/core"
)

// EventKind tells observers which write path produced a notification.
type EventKind string

const (
	EventUpsert  EventKind = "UPSERT"
	EventDelete  EventKind = "DELETE"
	EventReplace EventKind = "REPLACE"
	EventPurge   EventKind = "PURGE"
)

// Event is delivered to observers after every mutation.
type Event struct {
	Kind EventKind
	IDs  []string
}

// Store is an in-memory, tombstone-aware mapping of note ID to note.
// It is safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	notes     map[string]core.Note
	observers map[int]func(Event)
	nextObs   int
	writes    uint64
	lastWrite *time.Time
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		notes:     make(map[string]core.Note),
		observers: make(map[int]func(Event)),
	}
}

// Get returns the note with the given ID, tombstoned or not.
func (s *Store) Get(id string) (core.Note, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.notes[id]
	return n, ok
}

// Upsert inserts or replaces a note.
func (s *Store) Upsert(n core.Note) {
	s.mu.Lock()
	s.notes[n.ID] = n
	obs := s.touch()
	s.mu.Unlock()

	notify(obs, Event{Kind: EventUpsert, IDs: []string{n.ID}})
}

// MarkDeleted sets the tombstone flag on the note. It returns false when the
// ID is unknown, in which case nothing is written and nobody is notified.
func (s *Store) MarkDeleted(id string) bool {
	s.mu.Lock()
	n, ok := s.notes[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	n.Deleted = true
	s.notes[id] = n
	obs := s.touch()
	s.mu.Unlock()

	notify(obs, Event{Kind: EventDelete, IDs: []string{id}})
	return true
}

// Replace swaps the whole contents of the store for the given notes.
// It is the write path of a full refresh.
func (s *Store) Replace(notes []core.Note) {
	next := make(map[string]core.Note, len(notes))
	ids := make([]string, 0, len(notes))
	for _, n := range notes {
		next[n.ID] = n
		ids = append(ids, n.ID)
	}

	s.mu.Lock()
	s.notes = next
	obs := s.touch()
	s.mu.Unlock()

	notify(obs, Event{Kind: EventReplace, IDs: ids})
}

// Purge physically removes tombstones last updated before the cutoff and
// returns how many were dropped.
func (s *Store) Purge(olderThan time.Time) int {
	s.mu.Lock()
	var ids []string
	for id, n := range s.notes {
		if n.Deleted && n.UpdatedAt.Before(olderThan) {
			delete(s.notes, id)
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		s.mu.Unlock()
		return 0
	}
	obs := s.touch()
	s.mu.Unlock()

	notify(obs, Event{Kind: EventPurge, IDs: ids})
	return len(ids)
}

// ListLive returns every note that is not tombstoned. With a nil comparator
// the order is unspecified.
func (s *Store) ListLive(less func(a, b core.Note) bool) []core.Note {
	s.mu.RLock()
	out := make([]core.Note, 0, len(s.notes))
	for _, n := range s.notes {
		if n.Live() {
			out = append(out, n)
		}
	}
	s.mu.RUnlock()

	if less != nil {
		sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	}
	return out
}

// Len returns the number of entries, tombstones included.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.notes)
}

// LiveLen returns the number of live entries.
func (s *Store) LiveLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, n := range s.notes {
		if n.Live() {
			count++
		}
	}
	return count
}

// Observe registers fn to be called after every mutation. The returned
// function unregisters it.
func (s *Store) Observe(fn func(Event)) (cancel func()) {
	s.mu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.observers, id)
			s.mu.Unlock()
		})
	}
}

// touch records a write and snapshots the observers. Must hold s.mu.
func (s *Store) touch() []func(Event) {
	s.writes++
	now := time.Now()
	s.lastWrite = &now

	obs := make([]func(Event), 0, len(s.observers))
	for _, fn := range s.observers {
		obs = append(obs, fn)
	}
	return obs
}

func notify(obs []func(Event), e Event) {
	for _, fn := range obs {
		fn(e)
	}
}

// State exposes internal state for observability.
type State struct {
	Entries   int        `json:"entries"`
	Live      int        `json:"live"`
	Observers int        `json:"observers"`
	Writes    uint64     `json:"writes"`
	LastWrite *time.Time `json:"last_write,omitempty"`
}

// State implements introspection.Introspectable.
func (s *Store) State() any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	live := 0
	for _, n := range s.notes {
		if n.Live() {
			live++
		}
	}
	return State{
		Entries:   len(s.notes),
		Live:      live,
		Observers: len(s.observers),
		Writes:    s.writes,
		LastWrite: s.lastWrite,
	}
}

// ComponentType implements introspection.Component.
func (s *Store) ComponentType() string {
	return "record-store"
}

var _ introspection.Introspectable = (*Store)(nil)
var _ introspection.Component = (*Store)(nil)
