package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/introspection"
	"github.com/aretw0/lifecycle"

	"github.com/aretw0/notesync/pkg/core"
	"github.com/aretw0/notesync/pkg/store"
)

// SubscriberStatus is the state of a Subscriber.
type SubscriberStatus string

const (
	SubscriberUnsubscribed SubscriberStatus = "UNSUBSCRIBED"
	SubscriberActive       SubscriberStatus = "ACTIVE"
	// SubscriberDetached means the remote side or the owning context ended
	// the stream. Like Closed, it is terminal for the instance.
	SubscriberDetached SubscriberStatus = "DETACHED"
	SubscriberClosed   SubscriberStatus = "CLOSED"
)

// Subscriber keeps the record store in line with the backend. Every remote
// change triggers a full re-query that replaces the store contents, so any
// interleaving of events resolves to whatever the backend holds.
type Subscriber struct {
	backend core.Backend
	store   *store.Store
	logger  *slog.Logger
	timeout time.Duration

	sink     func(core.Change)
	onDetach func(*Subscriber)

	mu          sync.Mutex
	status      SubscriberStatus
	sub         core.Subscription
	cancel      context.CancelFunc
	done        chan struct{}
	received    uint64
	refreshErrs uint64
	lastRefresh *time.Time
}

// NewSubscriber creates an unsubscribed Subscriber. sink, when not nil,
// receives every change before the refresh it triggers.
func NewSubscriber(backend core.Backend, st *store.Store, cfg Config, sink func(core.Change)) *Subscriber {
	cfg = cfg.withDefaults()
	return &Subscriber{
		backend: backend,
		store:   st,
		logger:  cfg.Logger,
		timeout: cfg.CallTimeout,
		sink:    sink,
		status:  SubscriberUnsubscribed,
	}
}

// OnDetach registers fn to run when the stream ends without Unsubscribe.
// It must be called before Subscribe.
func (s *Subscriber) OnDetach(fn func(*Subscriber)) {
	s.onDetach = fn
}

// Subscribe opens the change stream and performs an initial refresh.
// The stream lives until Unsubscribe is called or ctx is done.
func (s *Subscriber) Subscribe(ctx context.Context) error {
	s.mu.Lock()
	switch s.status {
	case SubscriberActive:
		s.mu.Unlock()
		return nil
	case SubscriberClosed, SubscriberDetached:
		s.mu.Unlock()
		return core.ErrSubscriberClosed
	}

	runCtx, cancel := context.WithCancel(ctx)
	sub, err := s.backend.Observe(runCtx, core.KindNote)
	if err != nil {
		cancel()
		s.mu.Unlock()
		return fmt.Errorf("observe notes: %w", classify(err))
	}
	s.sub = sub
	s.cancel = cancel
	s.done = make(chan struct{})
	s.status = SubscriberActive
	s.mu.Unlock()

	if err := s.Refresh(ctx); err != nil {
		s.logger.Warn("initial refresh failed, serving stale cache", "error", err)
	}

	lifecycle.Go(runCtx, func(ctx context.Context) error {
		s.loop(ctx)
		return nil
	}, lifecycle.WithErrorHandler(func(err error) {
		s.logger.Error("subscriber loop failed", "error", err)
	}))
	return nil
}

// Unsubscribe releases the stream and waits for the event loop to exit.
// The instance cannot be subscribed again.
func (s *Subscriber) Unsubscribe() error {
	s.mu.Lock()
	prev := s.status
	s.status = SubscriberClosed
	sub, cancel, done := s.sub, s.cancel, s.done
	s.mu.Unlock()

	if prev == SubscriberClosed {
		return nil
	}
	if cancel != nil {
		cancel()
	}
	var err error
	if sub != nil {
		err = sub.Close()
	}
	if done != nil {
		<-done
	}
	return err
}

// Active reports whether the stream is open.
func (s *Subscriber) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status == SubscriberActive
}

// Status returns the current state.
func (s *Subscriber) Status() SubscriberStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Refresh re-queries every note and replaces the store contents.
// On failure the store keeps its last-known-good state.
func (s *Subscriber) Refresh(ctx context.Context) error {
	callCtx, cancel := withTimeout(ctx, s.timeout)
	notes, err := s.backend.QueryNotes(callCtx)
	cancel()
	err = classify(err)
	recordRefresh(ctx, err)
	if err != nil {
		s.mu.Lock()
		s.refreshErrs++
		s.mu.Unlock()
		s.logger.Error("error fetching notes", "error", err)
		return fmt.Errorf("refresh: %w", err)
	}

	s.store.Replace(notes)

	now := time.Now()
	s.mu.Lock()
	s.lastRefresh = &now
	s.mu.Unlock()
	return nil
}

func (s *Subscriber) loop(ctx context.Context) {
	defer close(s.done)
	defer s.detach()

	changes := s.sub.C()
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-changes:
			if !ok {
				s.logger.Warn("change stream closed by remote")
				return
			}
			s.handle(ctx, c)
		}
	}
}

func (s *Subscriber) handle(ctx context.Context, c core.Change) {
	s.mu.Lock()
	s.received++
	s.mu.Unlock()
	recordChange(ctx, c.Op.String())

	switch c.Op {
	case core.OpInserted:
		s.logger.Debug("a new note was added", "id", c.Note.ID)
	case core.OpUpdated:
		s.logger.Debug("a note was updated", "id", c.Note.ID)
	case core.OpDeleted:
		s.logger.Debug("a note was deleted", "id", c.Note.ID)
	default:
		s.logger.Debug("unknown change received", "op", c.Op, "id", c.Note.ID)
	}

	if s.sink != nil {
		s.sink(c)
	}
	_ = s.Refresh(ctx)
}

// detach moves an Active subscriber to Detached and fires the hook.
// A subscriber closed through Unsubscribe is left alone.
func (s *Subscriber) detach() {
	s.mu.Lock()
	if s.status != SubscriberActive {
		s.mu.Unlock()
		return
	}
	s.status = SubscriberDetached
	sub := s.sub
	s.mu.Unlock()

	if sub != nil {
		_ = sub.Close()
	}
	if s.onDetach != nil {
		s.onDetach(s)
	}
}

// SubscriberState exposes internal state for observability.
type SubscriberState struct {
	Status        SubscriberStatus `json:"status"`
	Received      uint64           `json:"received"`
	RefreshErrors uint64           `json:"refresh_errors"`
	LastRefresh   *time.Time       `json:"last_refresh,omitempty"`
}

// State implements introspection.Introspectable.
func (s *Subscriber) State() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SubscriberState{
		Status:        s.status,
		Received:      s.received,
		RefreshErrors: s.refreshErrs,
		LastRefresh:   s.lastRefresh,
	}
}

// ComponentType implements introspection.Component.
func (s *Subscriber) ComponentType() string {
	return "change-subscriber"
}

var _ introspection.Introspectable = (*Subscriber)(nil)
var _ introspection.Component = (*Subscriber)(nil)
