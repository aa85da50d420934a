package fs

import (
	"sync"
	"time"
)

// debouncer coalesces bursts of events per key. Only the last event of a
// burst is delivered, once the key has been quiet for the configured delay.
type debouncer[T any] struct {
	delay time.Duration
	key   func(T) string

	mu      sync.Mutex
	timers  map[string]*time.Timer
	pending map[string]T
	stopped bool
	wg      sync.WaitGroup
}

func newDebouncer[T any](delay time.Duration, key func(T) string) *debouncer[T] {
	return &debouncer[T]{
		delay:   delay,
		key:     key,
		timers:  make(map[string]*time.Timer),
		pending: make(map[string]T),
	}
}

// add schedules fn(event) after the delay, replacing any pending event with
// the same key.
func (d *debouncer[T]) add(event T, fn func(T)) {
	k := d.key(event)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	d.pending[k] = event
	if t, ok := d.timers[k]; ok {
		// A timer that already fired but still holds its map entry is
		// blocked on d.mu and will pick up the newer event.
		if t.Stop() {
			t.Reset(d.delay)
		}
		return
	}

	d.wg.Add(1)
	d.timers[k] = time.AfterFunc(d.delay, func() {
		defer d.wg.Done()

		d.mu.Lock()
		latest, ok := d.pending[k]
		delete(d.pending, k)
		delete(d.timers, k)
		stopped := d.stopped
		d.mu.Unlock()

		if ok && !stopped {
			fn(latest)
		}
	})
}

// stopAndWait drops pending events and waits up to timeout for callbacks
// already running.
func (d *debouncer[T]) stopAndWait(timeout time.Duration) {
	d.mu.Lock()
	d.stopped = true
	for k, t := range d.timers {
		if t.Stop() {
			d.wg.Done()
		}
		delete(d.timers, k)
	}
	d.pending = make(map[string]T)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
	}
}
