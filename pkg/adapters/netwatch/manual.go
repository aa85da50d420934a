// Package netwatch provides core.Connectivity implementations.
package netwatch

import (
	"context"
	"sync"

	"github.com/aretw0/notesync/pkg/core"
)

// Manual is a Connectivity whose state is driven by the caller, e.g. by an
// OS reachability callback or by tests.
type Manual struct {
	mu       sync.Mutex
	online   bool
	watchers map[int]chan bool
	next     int
}

// NewManual creates a Manual monitor in the given initial state.
func NewManual(online bool) *Manual {
	return &Manual{online: online, watchers: make(map[int]chan bool)}
}

// Set records the new state and notifies watchers if it changed.
func (m *Manual) Set(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.online == online {
		return
	}
	m.online = online
	for _, ch := range m.watchers {
		deliver(ch, online)
	}
}

// Online returns the current state.
func (m *Manual) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Watch implements core.Connectivity.
func (m *Manual) Watch(ctx context.Context) (<-chan bool, error) {
	ch := make(chan bool, 1)

	m.mu.Lock()
	id := m.next
	m.next++
	m.watchers[id] = ch
	ch <- m.online
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.watchers, id)
		close(ch)
		m.mu.Unlock()
	}()
	return ch, nil
}

// deliver replaces an unread value with the latest one: only the most recent
// reachability state matters.
func deliver(ch chan bool, v bool) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}

var _ core.Connectivity = (*Manual)(nil)
