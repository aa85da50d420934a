package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/introspection"

	"github.com/aretw0/notesync/pkg/core"
)

// SyncStatus is the state of the Controller.
type SyncStatus string

const (
	SyncStopped  SyncStatus = "STOPPED"
	SyncStarting SyncStatus = "STARTING"
	SyncRunning  SyncStatus = "RUNNING"
)

// Controller (re)starts backend synchronization on launch and on every
// reconnect. There is no backoff: a failed start is retried exactly once per
// observed transition to connected.
type Controller struct {
	backend       core.Backend
	connectivity  core.Connectivity
	newSubscriber func() *Subscriber
	logger        *slog.Logger
	timeout       time.Duration

	startMu sync.Mutex // serializes StartSync and Stop

	mu        sync.RWMutex
	lifetime  context.Context // bounds subscriptions once Run is active
	status    SyncStatus
	online    bool
	sub       *Subscriber
	lastErr   error
	lastStart *time.Time
	attempts  uint64
	failures  uint64
	hooks     []func(SyncStatus)
}

// NewController creates a stopped Controller. newSubscriber must return a
// fresh, unsubscribed Subscriber on every call. connectivity may be nil, in
// which case only the launch attempt and explicit StartSync calls happen.
func NewController(backend core.Backend, connectivity core.Connectivity, newSubscriber func() *Subscriber, cfg Config) *Controller {
	cfg = cfg.withDefaults()
	return &Controller{
		backend:       backend,
		connectivity:  connectivity,
		newSubscriber: newSubscriber,
		logger:        cfg.Logger,
		timeout:       cfg.CallTimeout,
		status:        SyncStopped,
	}
}

// OnStateChange registers fn to be called after every status transition.
func (c *Controller) OnStateChange(fn func(SyncStatus)) {
	c.mu.Lock()
	c.hooks = append(c.hooks, fn)
	c.mu.Unlock()
}

// Status returns the current status.
func (c *Controller) Status() SyncStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Online reports the last reachability value observed.
func (c *Controller) Online() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.online
}

// Subscriber returns the active subscriber, if any.
func (c *Controller) Subscriber() *Subscriber {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sub
}

// StartSync starts the backend sync session and makes sure exactly one
// subscriber is active. Calling it while running is a no-op. While Run is
// active the subscription outlives ctx and is bound to Run's context.
func (c *Controller) StartSync(ctx context.Context) error {
	c.startMu.Lock()
	defer c.startMu.Unlock()

	c.mu.RLock()
	running := c.status == SyncRunning && c.sub != nil && c.sub.Active()
	c.mu.RUnlock()
	if running {
		return nil
	}

	c.setStatus(SyncStarting, nil)

	callCtx, cancel := withTimeout(ctx, c.timeout)
	err := classify(c.backend.StartSync(callCtx))
	cancel()
	recordSyncStart(ctx, err)
	if err != nil {
		c.logger.Error("error starting sync", "error", err)
		c.setStatus(SyncStopped, err)
		return fmt.Errorf("%w: %w", core.ErrSyncStart, err)
	}

	c.mu.RLock()
	prev := c.sub
	subCtx := ctx
	if c.lifetime != nil {
		subCtx = c.lifetime
	}
	c.mu.RUnlock()
	if prev == nil || !prev.Active() {
		if prev != nil {
			_ = prev.Unsubscribe()
		}
		next := c.newSubscriber()
		next.OnDetach(c.handleDetach)
		if err := next.Subscribe(subCtx); err != nil {
			_ = next.Unsubscribe()
			c.mu.Lock()
			c.sub = nil
			c.mu.Unlock()
			c.logger.Error("error subscribing to changes", "error", err)
			c.setStatus(SyncStopped, err)
			return fmt.Errorf("%w: %w", core.ErrSyncStart, err)
		}
		c.mu.Lock()
		c.sub = next
		c.mu.Unlock()
	}

	c.setStatus(SyncRunning, nil)
	c.logger.Info("sync started")
	return nil
}

// Stop releases the subscriber and returns to Stopped.
func (c *Controller) Stop() {
	c.startMu.Lock()
	defer c.startMu.Unlock()

	c.mu.Lock()
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()

	if sub != nil {
		_ = sub.Unsubscribe()
	}
	if c.Status() != SyncStopped {
		c.setStatus(SyncStopped, nil)
	}
}

// Run performs the launch attempt, then restarts sync on every transition to
// connected until ctx is done. Start failures are logged, never returned.
func (c *Controller) Run(ctx context.Context) error {
	c.mu.Lock()
	c.lifetime = ctx
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.lifetime = nil
		c.mu.Unlock()
	}()
	defer c.Stop()

	_ = c.StartSync(ctx)

	if c.connectivity == nil {
		<-ctx.Done()
		return nil
	}

	transitions, err := c.connectivity.Watch(ctx)
	if err != nil {
		return fmt.Errorf("watch connectivity: %w", err)
	}

	// The first value is the current state. It only needs a start when the
	// launch attempt did not leave sync running, e.g. the network came back
	// while that attempt was failing.
	baseline := true
	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-transitions:
			if !ok {
				<-ctx.Done()
				return nil
			}
			c.setOnline(up)
			if baseline {
				baseline = false
				if up && c.Status() != SyncRunning {
					c.logger.Info("connected after a failed launch, starting sync")
					_ = c.StartSync(ctx)
				}
				continue
			}
			if !up {
				c.logger.Warn("connectivity lost")
				continue
			}
			c.logger.Info("connectivity restored, starting sync")
			_ = c.StartSync(ctx)
		}
	}
}

func (c *Controller) handleDetach(s *Subscriber) {
	c.mu.Lock()
	if c.sub != s || c.status != SyncRunning {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.logger.Warn("change stream detached, waiting for reconnect")
	c.setStatus(SyncStopped, core.ErrOffline)
}

func (c *Controller) setOnline(up bool) {
	c.mu.Lock()
	c.online = up
	c.mu.Unlock()
}

func (c *Controller) setStatus(status SyncStatus, err error) {
	c.mu.Lock()
	c.status = status
	switch status {
	case SyncStarting:
		c.attempts++
	case SyncRunning:
		now := time.Now()
		c.lastStart = &now
		c.lastErr = nil
	case SyncStopped:
		if err != nil {
			c.failures++
			c.lastErr = err
		}
	}
	hooks := append([]func(SyncStatus){}, c.hooks...)
	c.mu.Unlock()

	c.logger.Debug("sync state changed", "state", status)
	for _, fn := range hooks {
		fn(status)
	}
}

// ControllerState exposes internal state for observability.
type ControllerState struct {
	Status     SyncStatus `json:"status"`
	Online     bool       `json:"online"`
	Attempts   uint64     `json:"attempts"`
	Failures   uint64     `json:"failures"`
	LastError  string     `json:"last_error,omitempty"`
	LastStart  *time.Time `json:"last_start,omitempty"`
	Subscriber any        `json:"subscriber,omitempty"`
}

// State implements introspection.Introspectable.
func (c *Controller) State() any {
	c.mu.RLock()
	defer c.mu.RUnlock()

	st := ControllerState{
		Status:    c.status,
		Online:    c.online,
		Attempts:  c.attempts,
		Failures:  c.failures,
		LastStart: c.lastStart,
	}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	if c.sub != nil {
		st.Subscriber = c.sub.State()
	}
	return st
}

// ComponentType implements introspection.Component.
func (c *Controller) ComponentType() string {
	return "sync-controller"
}

var _ introspection.Introspectable = (*Controller)(nil)
var _ introspection.Component = (*Controller)(nil)
