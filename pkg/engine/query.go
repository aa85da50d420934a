package engine

import (
	"context"

	"github.com/aretw0/lifecycle"

	"github.com/aretw0/notesync/pkg/core"
	"github.com/aretw0/notesync/pkg/store"
)

// Query serves tombstone-free reads of the record store.
type Query struct {
	store *store.Store
}

// NewQuery creates a Query over st.
func NewQuery(st *store.Store) *Query {
	return &Query{store: st}
}

type listOptions struct {
	less func(a, b core.Note) bool
}

// ListOption customizes ListNotes.
type ListOption func(*listOptions)

// WithOrder sorts results with less instead of the default creation order.
func WithOrder(less func(a, b core.Note) bool) ListOption {
	return func(o *listOptions) { o.less = less }
}

// ByCreated orders notes by creation time, then by ID.
func ByCreated(a, b core.Note) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID < b.ID
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

// ByUpdatedDesc orders notes with the most recently edited first.
func ByUpdatedDesc(a, b core.Note) bool {
	if a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.ID < b.ID
	}
	return a.UpdatedAt.After(b.UpdatedAt)
}

// ListNotes returns every live note. Tombstones are never included.
func (q *Query) ListNotes(opts ...ListOption) []core.Note {
	o := listOptions{less: ByCreated}
	for _, opt := range opts {
		opt(&o)
	}
	return q.store.ListLive(o.less)
}

// GetNote returns a live note by ID. Tombstoned notes are reported absent.
func (q *Query) GetNote(id string) (core.Note, bool) {
	n, ok := q.store.Get(id)
	if !ok || n.Deleted {
		return core.Note{}, false
	}
	return n, true
}

// Watch emits the current list and then a fresh list after every store
// mutation. Slow readers only see the latest list. The channel is closed
// when ctx is done.
func (q *Query) Watch(ctx context.Context, opts ...ListOption) <-chan []core.Note {
	out := make(chan []core.Note, 1)
	signal := make(chan struct{}, 1)

	cancel := q.store.Observe(func(store.Event) {
		select {
		case signal <- struct{}{}:
		default:
		}
	})

	lifecycle.Go(ctx, func(ctx context.Context) error {
		defer close(out)
		defer cancel()

		publish := func() {
			snapshot := q.ListNotes(opts...)
			select {
			case out <- snapshot:
				return
			default:
			}
			// Drop the stale list nobody read yet.
			select {
			case <-out:
			default:
			}
			out <- snapshot
		}

		publish()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-signal:
				publish()
			}
		}
	})
	return out
}
