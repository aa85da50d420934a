// Package lifecycle exposes the engine change feed as a lifecycle.Source.
package lifecycle

import (
	"context"

	"github.com/aretw0/lifecycle"

	"github.com/aretw0/notesync/pkg/core"
)

type changeSource struct {
	changes <-chan core.Change
	out     chan lifecycle.Event
}

// NewSource creates a lifecycle.Source emitting the given changes, usually
// Engine.Changes(). core.Change implements lifecycle.Event.
func NewSource(changes <-chan core.Change) lifecycle.Source {
	return &changeSource{
		changes: changes,
		out:     make(chan lifecycle.Event),
	}
}

func (s *changeSource) Events() <-chan lifecycle.Event {
	return s.out
}

// Start forwards changes until ctx is done or the feed closes; the event
// channel is closed afterwards.
func (s *changeSource) Start(ctx context.Context) error {
	lifecycle.Go(ctx, func(ctx context.Context) error {
		defer close(s.out)
		for {
			select {
			case <-ctx.Done():
				return nil
			case c, ok := <-s.changes:
				if !ok {
					return nil
				}
				select {
				case s.out <- c:
				case <-ctx.Done():
					return nil
				}
			}
		}
	})
	return nil
}
