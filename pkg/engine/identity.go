package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/aretw0/notesync/pkg/core"
)

// Identity resolves the owner of new notes. Resolution is find-or-create by
// username, shared between concurrent callers and memoized once it succeeds.
type Identity struct {
	backend core.Backend
	logger  *slog.Logger
	timeout time.Duration

	group    singleflight.Group
	mu       sync.Mutex
	resolved map[string]string
}

// NewIdentity creates an Identity resolver on top of backend.
func NewIdentity(backend core.Backend, cfg Config) *Identity {
	cfg = cfg.withDefaults()
	return &Identity{
		backend:  backend,
		logger:   cfg.Logger,
		timeout:  cfg.CallTimeout,
		resolved: make(map[string]string),
	}
}

// EnsureOwner returns the ID of the user with the given username, creating
// the user if the backend has none. Failures are wrapped in
// core.ErrOwnerResolution and are never memoized.
func (r *Identity) EnsureOwner(ctx context.Context, username string) (string, error) {
	if username == "" {
		return "", fmt.Errorf("%w: empty username", core.ErrOwnerResolution)
	}
	if id, ok := r.cached(username); ok {
		return id, nil
	}

	// Concurrent callers share one resolution. It runs detached from the
	// first caller's cancellation and is bounded by the call timeout only.
	shared := context.WithoutCancel(ctx)
	v, err, joined := r.group.Do(username, func() (any, error) {
		if id, ok := r.cached(username); ok {
			return id, nil
		}
		id, err := r.findOrCreate(shared, username)
		if err != nil {
			return "", err
		}
		r.mu.Lock()
		r.resolved[username] = id
		r.mu.Unlock()
		return id, nil
	})
	if err != nil {
		r.logger.Error("owner resolution failed", "username", username, "error", err)
		return "", fmt.Errorf("%w: %w", core.ErrOwnerResolution, err)
	}

	id, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: unexpected result type %T", core.ErrOwnerResolution, v)
	}
	r.logger.Debug("owner resolved", "username", username, "id", id, "shared", joined)
	return id, nil
}

// Forget drops the memoized ID for username.
func (r *Identity) Forget(username string) {
	r.mu.Lock()
	delete(r.resolved, username)
	r.mu.Unlock()
}

func (r *Identity) cached(username string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.resolved[username]
	return id, ok
}

func (r *Identity) findOrCreate(ctx context.Context, username string) (string, error) {
	if id, ok, err := r.find(ctx, username); err != nil || ok {
		return id, err
	}

	callCtx, cancel := withTimeout(ctx, r.timeout)
	created, err := r.backend.SaveUser(callCtx, core.User{Username: username})
	cancel()
	if err == nil {
		r.logger.Info("owner created", "username", username, "id", created.ID)
		return created.ID, nil
	}
	if !errors.Is(err, core.ErrConflict) {
		return "", classify(err)
	}

	// Someone else created it between our query and save.
	r.logger.Debug("owner creation conflicted, re-querying", "username", username)
	id, ok, err := r.find(ctx, username)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("user %q reported as existing but not found", username)
	}
	return id, nil
}

func (r *Identity) find(ctx context.Context, username string) (string, bool, error) {
	callCtx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	users, err := r.backend.QueryUsers(callCtx, username)
	if err != nil {
		return "", false, classify(err)
	}
	if len(users) == 0 {
		return "", false, nil
	}
	// Oldest record wins if the backend ever holds duplicates.
	sort.Slice(users, func(i, j int) bool {
		if users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].ID < users[j].ID
		}
		return users[i].CreatedAt.Before(users[j].CreatedAt)
	})
	return users[0].ID, true, nil
}
