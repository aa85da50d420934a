// Package engine implements the local-first synchronization engine.
//
// An Engine mirrors the notes of a core.Backend in a local record store,
// routes every mutation through the backend before touching the mirror,
// keeps the mirror fresh from the backend change stream and restarts the
// stream whenever connectivity comes back.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/introspection"
	"github.com/aretw0/lifecycle"

	"github.com/aretw0/notesync/pkg/core"
	"github.com/aretw0/notesync/pkg/store"
)

// Engine wires the record store, identity resolver, mutation gateway,
// change subscriber, sync controller and query facade together.
type Engine struct {
	cfg        Config
	backend    core.Backend
	store      *store.Store
	identity   *Identity
	gateway    *Gateway
	query      *Query
	controller *Controller
	logger     *slog.Logger

	mu      sync.Mutex
	changes chan core.Change
	closed  bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates an Engine. connectivity may be nil when reachability is not
// observable; sync is then only started on launch and by Sync.
func New(backend core.Backend, connectivity core.Connectivity, cfg Config) *Engine {
	cfg = cfg.withDefaults()

	e := &Engine{
		cfg:     cfg,
		backend: backend,
		store:   store.New(),
		logger:  cfg.Logger,
		changes: make(chan core.Change, cfg.ChangeBuffer),
	}
	e.identity = NewIdentity(backend, cfg)
	e.gateway = NewGateway(backend, e.store, e.identity, cfg)
	e.query = NewQuery(e.store)
	e.controller = NewController(backend, connectivity, func() *Subscriber {
		return NewSubscriber(backend, e.store, cfg, e.publish)
	}, cfg)
	return e
}

// Start launches the sync controller (and the tombstone janitor when
// PurgeAfter is set) in the background. It returns immediately; a failed
// launch attempt is logged and retried on the next reconnect.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errors.New("engine is closed")
	}
	if e.cancel != nil {
		return nil
	}

	if init, ok := e.backend.(core.Initializer); ok {
		if err := init.Initialize(ctx); err != nil {
			return err
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	done := e.done

	lifecycle.Go(runCtx, func(ctx context.Context) error {
		defer close(done)
		return e.controller.Run(ctx)
	}, lifecycle.WithErrorHandler(func(err error) {
		e.logger.Error("sync controller stopped", "error", err)
	}))

	if e.cfg.PurgeAfter > 0 {
		lifecycle.Go(runCtx, e.janitor)
	}
	return nil
}

// Close stops synchronization and releases the change subscription.
// It is safe to call more than once.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	cancel, done := e.cancel, e.done
	e.mu.Unlock()

	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			e.logger.Warn("timed out waiting for sync controller")
		}
	}
	e.controller.Stop()

	e.mu.Lock()
	close(e.changes)
	e.mu.Unlock()
	return nil
}

// publish forwards a remote change to the feed without blocking.
func (e *Engine) publish(c core.Change) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	select {
	case e.changes <- c:
	default:
		e.logger.Warn("change feed full, dropping event", "op", c.Op, "id", c.Note.ID)
	}
}

func (e *Engine) janitor(ctx context.Context) error {
	interval := e.cfg.PurgeAfter / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.Purge()
		}
	}
}

// Purge drops local tombstones older than the configured window.
func (e *Engine) Purge() int {
	if e.cfg.PurgeAfter <= 0 {
		return 0
	}
	n := e.store.Purge(e.cfg.Clock().Add(-e.cfg.PurgeAfter))
	if n > 0 {
		e.logger.Debug("purged tombstones", "count", n)
	}
	return n
}

// --- Mutations ---

// CreateNote creates a note owned by the configured user.
func (e *Engine) CreateNote(ctx context.Context, content string) core.Result[core.Note] {
	return e.gateway.CreateNote(ctx, content)
}

// UpdateNote replaces the content of a note.
func (e *Engine) UpdateNote(ctx context.Context, id, content string) core.Result[core.Note] {
	return e.gateway.UpdateNote(ctx, id, content)
}

// DeleteNote tombstones a note.
func (e *Engine) DeleteNote(ctx context.Context, id string) core.Result[struct{}] {
	return e.gateway.DeleteNote(ctx, id)
}

// EnsureOwner resolves the configured owner, creating it if needed.
func (e *Engine) EnsureOwner(ctx context.Context) (string, error) {
	return e.identity.EnsureOwner(ctx, e.cfg.Username)
}

// --- Reads ---

// ListNotes returns every live note.
func (e *Engine) ListNotes(opts ...ListOption) []core.Note {
	return e.query.ListNotes(opts...)
}

// GetNote returns a live note by ID.
func (e *Engine) GetNote(id string) (core.Note, bool) {
	return e.query.GetNote(id)
}

// Watch emits the list of live notes after every local change.
func (e *Engine) Watch(ctx context.Context, opts ...ListOption) <-chan []core.Note {
	return e.query.Watch(ctx, opts...)
}

// Changes returns the feed of remote change events. It is closed by Close.
func (e *Engine) Changes() <-chan core.Change {
	return e.changes
}

// --- Sync ---

// Sync starts synchronization now instead of waiting for a reconnect.
func (e *Engine) Sync(ctx context.Context) error {
	return e.controller.StartSync(ctx)
}

// Refresh re-queries the backend and replaces the local mirror.
func (e *Engine) Refresh(ctx context.Context) error {
	return NewSubscriber(e.backend, e.store, e.cfg, nil).Refresh(ctx)
}

// Status returns the sync controller status.
func (e *Engine) Status() SyncStatus {
	return e.controller.Status()
}

// OnStateChange registers fn to be called on every sync status transition.
func (e *Engine) OnStateChange(fn func(SyncStatus)) {
	e.controller.OnStateChange(fn)
}

// Store exposes the record store for read-only inspection.
func (e *Engine) Store() *store.Store {
	return e.store
}

// EngineState exposes internal state for observability.
type EngineState struct {
	Username string `json:"username"`
	ReadOnly bool   `json:"read_only"`
	Backend  string `json:"backend"`
	Sync     any    `json:"sync"`
	Store    any    `json:"store"`
}

// State implements introspection.Introspectable.
func (e *Engine) State() any {
	backend := "backend"
	if comp, ok := e.backend.(introspection.Component); ok {
		backend = comp.ComponentType()
	}
	return EngineState{
		Username: e.cfg.Username,
		ReadOnly: e.cfg.ReadOnly,
		Backend:  backend,
		Sync:     e.controller.State(),
		Store:    e.store.State(),
	}
}

// ComponentType implements introspection.Component.
func (e *Engine) ComponentType() string {
	return "engine"
}

var _ introspection.Introspectable = (*Engine)(nil)
var _ introspection.Component = (*Engine)(nil)
