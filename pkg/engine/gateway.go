package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/notesync/pkg/core"
	"github.com/aretw0/notesync/pkg/store"
)

// Gateway performs note mutations against the backend and writes the
// confirmed result through to the record store. A failed backend call never
// leaves a trace in the store.
type Gateway struct {
	backend  core.Backend
	store    *store.Store
	identity *Identity
	username string
	timeout  time.Duration
	readOnly bool
	logger   *slog.Logger
	now      func() time.Time
}

// NewGateway creates a Gateway.
func NewGateway(backend core.Backend, st *store.Store, identity *Identity, cfg Config) *Gateway {
	cfg = cfg.withDefaults()
	return &Gateway{
		backend:  backend,
		store:    st,
		identity: identity,
		username: cfg.Username,
		timeout:  cfg.CallTimeout,
		readOnly: cfg.ReadOnly,
		logger:   cfg.Logger,
		now:      cfg.Clock,
	}
}

// CreateNote creates a note owned by the configured user.
// Empty content is a no-op, reported as Skipped.
func (g *Gateway) CreateNote(ctx context.Context, content string) core.Result[core.Note] {
	if content == "" {
		return core.Skipped[core.Note]()
	}
	if g.readOnly {
		return core.Failed[core.Note](core.ErrReadOnly)
	}

	owner, err := g.identity.EnsureOwner(ctx, g.username)
	if err != nil {
		recordMutation(ctx, "create", err)
		return core.Failed[core.Note](err)
	}

	now := g.now().UTC()
	n := core.Note{
		Content:   content,
		OwnerID:   owner,
		CreatedAt: now,
		UpdatedAt: now,
	}

	callCtx, cancel := withTimeout(ctx, g.timeout)
	saved, err := g.backend.SaveNote(callCtx, n)
	cancel()
	err = classify(err)
	recordMutation(ctx, "create", err)
	if err != nil {
		g.logger.Error("error creating note", "error", err)
		return core.Failed[core.Note](fmt.Errorf("create note: %w", err))
	}

	g.store.Upsert(saved)
	g.logger.Debug("note created", "id", saved.ID)
	return core.Succeeded(saved)
}

// UpdateNote replaces the content of an existing note.
// A note that is absent or tombstoned on the backend yields core.ErrNotFound;
// an edit never resurrects a deleted note.
func (g *Gateway) UpdateNote(ctx context.Context, id, content string) core.Result[core.Note] {
	if g.readOnly {
		return core.Failed[core.Note](core.ErrReadOnly)
	}

	current, err := g.fetch(ctx, id)
	if err != nil {
		recordMutation(ctx, "update", err)
		g.logger.Error("error updating note", "id", id, "error", err)
		return core.Failed[core.Note](fmt.Errorf("update note %s: %w", id, err))
	}
	if current.Deleted {
		g.reflectTombstone(current)
		err := fmt.Errorf("update note %s: deleted remotely: %w", id, core.ErrNotFound)
		recordMutation(ctx, "update", err)
		g.logger.Warn("refusing to update deleted note", "id", id)
		return core.Failed[core.Note](err)
	}

	updated := current.WithContent(content, g.now().UTC())
	if local, ok := g.store.Get(id); ok && !updated.UpdatedAt.After(local.UpdatedAt) {
		updated.UpdatedAt = local.UpdatedAt.Add(time.Microsecond)
	}

	callCtx, cancel := withTimeout(ctx, g.timeout)
	saved, err := g.backend.SaveNote(callCtx, updated)
	cancel()
	err = classify(err)
	recordMutation(ctx, "update", err)
	if errors.Is(err, core.ErrNotFound) {
		// Deleted remotely while the save was in flight.
		g.store.MarkDeleted(id)
		g.logger.Warn("refusing to update deleted note", "id", id)
		return core.Failed[core.Note](fmt.Errorf("update note %s: deleted remotely: %w", id, err))
	}
	if err != nil {
		g.logger.Error("error updating note", "id", id, "error", err)
		return core.Failed[core.Note](fmt.Errorf("update note %s: %w", id, err))
	}

	g.store.Upsert(saved)
	g.logger.Debug("note updated", "id", id)
	return core.Succeeded(saved)
}

// DeleteNote tombstones a note. Deleting an absent or already deleted note
// succeeds without touching the backend.
func (g *Gateway) DeleteNote(ctx context.Context, id string) core.Result[struct{}] {
	if g.readOnly {
		return core.Failed[struct{}](core.ErrReadOnly)
	}

	current, err := g.fetch(ctx, id)
	switch {
	case errors.Is(err, core.ErrNotFound):
		g.store.MarkDeleted(id)
		return core.Skipped[struct{}]()
	case err != nil:
		recordMutation(ctx, "delete", err)
		g.logger.Error("error deleting note", "id", id, "error", err)
		return core.Failed[struct{}](fmt.Errorf("delete note %s: %w", id, err))
	case current.Deleted:
		g.reflectTombstone(current)
		return core.Skipped[struct{}]()
	}

	callCtx, cancel := withTimeout(ctx, g.timeout)
	err = classify(g.backend.DeleteNote(callCtx, current))
	cancel()
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		recordMutation(ctx, "delete", err)
		g.logger.Error("error deleting note", "id", id, "error", err)
		return core.Failed[struct{}](fmt.Errorf("delete note %s: %w", id, err))
	}
	recordMutation(ctx, "delete", nil)

	current.Deleted = true
	g.reflectTombstone(current)
	g.logger.Debug("note deleted", "id", id)
	return core.Succeeded(struct{}{})
}

func (g *Gateway) fetch(ctx context.Context, id string) (core.Note, error) {
	if id == "" {
		return core.Note{}, fmt.Errorf("empty note id: %w", core.ErrNotFound)
	}
	callCtx, cancel := withTimeout(ctx, g.timeout)
	defer cancel()
	n, err := g.backend.GetNote(callCtx, id)
	return n, classify(err)
}

// reflectTombstone hides the note from local reads, inserting the tombstone
// if the store never saw the note.
func (g *Gateway) reflectTombstone(n core.Note) {
	if !g.store.MarkDeleted(n.ID) {
		n.Deleted = true
		g.store.Upsert(n)
	}
}
