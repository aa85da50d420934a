// Package memory provides an in-process implementation of core.Backend.
//
// It behaves like a remote backend (assigns IDs, versions records, keeps
// tombstones, pushes change events) and lets callers simulate connectivity
// loss, latency and scripted failures.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aretw0/notesync/pkg/adapters/fanout"
	"github.com/aretw0/notesync/pkg/core"
)

// Method names accepted by FailNext and Calls.
const (
	MethodQueryNotes = "QueryNotes"
	MethodGetNote    = "GetNote"
	MethodSaveNote   = "SaveNote"
	MethodDeleteNote = "DeleteNote"
	MethodQueryUsers = "QueryUsers"
	MethodSaveUser   = "SaveUser"
	MethodObserve    = "Observe"
	MethodStartSync  = "StartSync"
)

// Backend is an in-memory core.Backend. The zero value is not usable; use New.
type Backend struct {
	mu       sync.Mutex
	notes    map[string]core.Note
	users    map[string]core.User
	hub      *fanout.Hub
	online   bool
	latency  time.Duration
	failures map[string][]error
	calls    map[string]int
	now      func() time.Time
}

// Option configures a Backend.
type Option func(*Backend)

// WithClock overrides the time source used to stamp versions.
func WithClock(now func() time.Time) Option {
	return func(b *Backend) { b.now = now }
}

// WithLatency delays every call by d, honouring context cancellation.
func WithLatency(d time.Duration) Option {
	return func(b *Backend) { b.latency = d }
}

// New creates an online, empty Backend.
func New(opts ...Option) *Backend {
	b := &Backend{
		notes:    make(map[string]core.Note),
		users:    make(map[string]core.User),
		hub:      fanout.New(fanout.DefaultBuffer),
		online:   true,
		failures: make(map[string][]error),
		calls:    make(map[string]int),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SetOnline switches simulated reachability. Going offline drops every open
// subscription, as a real transport would.
func (b *Backend) SetOnline(online bool) {
	b.mu.Lock()
	b.online = online
	b.mu.Unlock()

	if !online {
		b.hub.CloseAll()
	}
}

// SetLatency changes the simulated latency.
func (b *Backend) SetLatency(d time.Duration) {
	b.mu.Lock()
	b.latency = d
	b.mu.Unlock()
}

// FailNext queues err to be returned by the next call to method.
func (b *Backend) FailNext(method string, err error) {
	b.mu.Lock()
	b.failures[method] = append(b.failures[method], err)
	b.mu.Unlock()
}

// Calls returns how many times method was invoked.
func (b *Backend) Calls(method string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[method]
}

// Subscribers returns the number of open subscriptions.
func (b *Backend) Subscribers() int {
	return b.hub.Len()
}

// Users returns every stored user sorted by username.
func (b *Backend) Users() []core.User {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]core.User, 0, len(b.users))
	for _, u := range b.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

// Put stores a note as if another client had written it, and pushes the
// matching change event. Useful to simulate remote writers.
func (b *Backend) Put(n core.Note) core.Note {
	b.mu.Lock()
	stored, op := b.storeNote(n)
	b.mu.Unlock()

	b.hub.Publish(core.Change{Op: op, Note: stored, Timestamp: stored.LastChangedAt.Unix()})
	return stored
}

// enter accounts a call, applies latency and returns any scripted or
// connectivity failure.
func (b *Backend) enter(ctx context.Context, method string) error {
	b.mu.Lock()
	b.calls[method]++
	latency := b.latency
	b.mu.Unlock()

	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if queued := b.failures[method]; len(queued) > 0 {
		err := queued[0]
		b.failures[method] = queued[1:]
		return err
	}
	if !b.online {
		return fmt.Errorf("%s: %w", method, core.ErrOffline)
	}
	return nil
}

// QueryNotes implements core.Backend.
func (b *Backend) QueryNotes(ctx context.Context) ([]core.Note, error) {
	if err := b.enter(ctx, MethodQueryNotes); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]core.Note, 0, len(b.notes))
	for _, n := range b.notes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// GetNote implements core.Backend.
func (b *Backend) GetNote(ctx context.Context, id string) (core.Note, error) {
	if err := b.enter(ctx, MethodGetNote); err != nil {
		return core.Note{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	n, ok := b.notes[id]
	if !ok {
		return core.Note{}, fmt.Errorf("note %s: %w", id, core.ErrNotFound)
	}
	return n, nil
}

// SaveNote implements core.Backend. A tombstone is final: saving a live
// copy over it fails with core.ErrNotFound.
func (b *Backend) SaveNote(ctx context.Context, n core.Note) (core.Note, error) {
	if err := b.enter(ctx, MethodSaveNote); err != nil {
		return core.Note{}, err
	}
	b.mu.Lock()
	if prev, ok := b.notes[n.ID]; ok && n.ID != "" && prev.Deleted && !n.Deleted {
		b.mu.Unlock()
		return core.Note{}, fmt.Errorf("note %s is deleted: %w", n.ID, core.ErrNotFound)
	}
	stored, op := b.storeNote(n)
	b.mu.Unlock()

	b.hub.Publish(core.Change{Op: op, Note: stored, Timestamp: stored.LastChangedAt.Unix()})
	return stored, nil
}

// storeNote must be called with b.mu held.
func (b *Backend) storeNote(n core.Note) (core.Note, core.Op) {
	op := core.OpUpdated
	prev, exists := b.notes[n.ID]
	if n.ID == "" || !exists {
		op = core.OpInserted
		if n.ID == "" {
			n.ID = uuid.NewString()
		}
	} else {
		n.Version = prev.Version
		n.CreatedAt = prev.CreatedAt
		n.OwnerID = prev.OwnerID
	}
	n.Version++
	n.LastChangedAt = b.now()
	if n.Deleted {
		op = core.OpDeleted
	}
	b.notes[n.ID] = n
	return n, op
}

// DeleteNote implements core.Backend.
func (b *Backend) DeleteNote(ctx context.Context, n core.Note) error {
	if err := b.enter(ctx, MethodDeleteNote); err != nil {
		return err
	}
	b.mu.Lock()
	stored, ok := b.notes[n.ID]
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("note %s: %w", n.ID, core.ErrNotFound)
	}
	stored.Deleted = true
	stored.Version++
	stored.LastChangedAt = b.now()
	b.notes[n.ID] = stored
	b.mu.Unlock()

	b.hub.Publish(core.Change{Op: core.OpDeleted, Note: stored, Timestamp: stored.LastChangedAt.Unix()})
	return nil
}

// QueryUsers implements core.Backend.
func (b *Backend) QueryUsers(ctx context.Context, username string) ([]core.User, error) {
	if err := b.enter(ctx, MethodQueryUsers); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []core.User
	for _, u := range b.users {
		if u.Username == username {
			out = append(out, u)
		}
	}
	return out, nil
}

// SaveUser implements core.Backend.
func (b *Backend) SaveUser(ctx context.Context, u core.User) (core.User, error) {
	if err := b.enter(ctx, MethodSaveUser); err != nil {
		return core.User{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, existing := range b.users {
		if existing.Username == u.Username {
			return core.User{}, fmt.Errorf("username %q: %w", u.Username, core.ErrConflict)
		}
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := b.now()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	u.Version = 1
	b.users[u.ID] = u
	return u, nil
}

// Observe implements core.Backend. Only core.KindNote is supported.
func (b *Backend) Observe(ctx context.Context, kind core.Kind) (core.Subscription, error) {
	if kind != core.KindNote {
		return nil, fmt.Errorf("observe %s: unsupported kind", kind)
	}
	if err := b.enter(ctx, MethodObserve); err != nil {
		return nil, err
	}
	return b.hub.Subscribe(ctx), nil
}

// StartSync implements core.Backend.
func (b *Backend) StartSync(ctx context.Context) error {
	return b.enter(ctx, MethodStartSync)
}

var _ core.Backend = (*Backend)(nil)
