// Package fanout delivers change events to any number of in-process
// subscriptions. Backends that own their data (memory, sqlite, the HTTP
// server) publish every committed write through a Hub.
package fanout

import (
	"context"
	"sync"

	"github.com/aretw0/notesync/pkg/core"
)

// DefaultBuffer is the per-subscription queue length.
const DefaultBuffer = 64

// Hub broadcasts changes to its subscriptions. The zero value is not
// usable; use New.
type Hub struct {
	mu      sync.Mutex
	subs    map[int]*Subscription
	next    int
	buffer  int
	dropped uint64
}

// New creates a Hub whose subscriptions buffer up to buffer changes.
func New(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{subs: make(map[int]*Subscription), buffer: buffer}
}

// Subscribe registers a new subscription. It is closed when ctx is done,
// when Close is called on it or when the hub drops every subscription.
func (h *Hub) Subscribe(ctx context.Context) *Subscription {
	h.mu.Lock()
	id := h.next
	h.next++
	s := &Subscription{ch: make(chan core.Change, h.buffer)}
	s.release = func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}
	h.subs[id] = s
	h.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	s.mu.Lock()
	s.stop = stop
	s.mu.Unlock()
	return s
}

// Publish sends c to every subscription without blocking. A subscription
// with a full queue misses the change.
func (h *Hub) Publish(c core.Change) {
	h.mu.Lock()
	subs := make([]*Subscription, 0, len(h.subs))
	for _, s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		if !s.send(c) {
			h.mu.Lock()
			h.dropped++
			h.mu.Unlock()
		}
	}
}

// CloseAll ends every subscription, as a lost connection would.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[int]*Subscription)
	h.mu.Unlock()

	for _, s := range subs {
		s.shutdown()
	}
}

// Len returns the number of open subscriptions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Dropped returns how many deliveries were skipped on full queues.
func (h *Hub) Dropped() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

// Subscription implements core.Subscription.
type Subscription struct {
	mu      sync.Mutex
	ch      chan core.Change
	closed  bool
	release func()
	stop    func() bool
}

// C implements core.Subscription.
func (s *Subscription) C() <-chan core.Change { return s.ch }

func (s *Subscription) send(c core.Change) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.ch <- c:
		return true
	default:
		return false
	}
}

func (s *Subscription) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Close implements core.Subscription. It is idempotent.
func (s *Subscription) Close() error {
	s.mu.Lock()
	stop := s.stop
	s.mu.Unlock()
	if stop != nil {
		stop()
	}
	s.release()
	s.shutdown()
	return nil
}

var _ core.Subscription = (*Subscription)(nil)
