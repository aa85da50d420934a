package fs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aretw0/lifecycle/pkg/core/supervisor"
	"github.com/aretw0/lifecycle/pkg/core/worker"

	"github.com/aretw0/notesync/pkg/core"
)

const subscriptionBuffer = 64

// watcherBackoff bounds how often a failing watcher is restarted.
var watcherBackoff = supervisor.Backoff{
	InitialInterval: 100 * time.Millisecond,
	MaxInterval:     5 * time.Second,
	Multiplier:      2,
	ResetDuration:   30 * time.Second,
	MaxRestarts:     5,
	MaxDuration:     time.Minute,
}

// Observe implements core.Backend. Each subscription owns a supervised
// watcher; the stream ends when Close is called or ctx is done.
func (b *Backend) Observe(ctx context.Context, kind core.Kind) (core.Subscription, error) {
	if kind != core.KindNote {
		return nil, fmt.Errorf("observe %s: unsupported kind", kind)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	events := make(chan core.Change, subscriptionBuffer)
	spec := supervisor.Spec{
		Name: "fs-watcher",
		Type: string(worker.TypeGoroutine),
		Factory: func() (worker.Worker, error) {
			return newWatchWorker(b, b.config.Pattern, events), nil
		},
		Backoff:       watcherBackoff,
		RestartPolicy: supervisor.RestartOnFailure,
	}

	runCtx, cancel := context.WithCancel(ctx)
	sup := supervisor.New("notes-watcher", supervisor.StrategyOneForOne, spec)
	if err := sup.Start(runCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start watcher: %w", err)
	}

	b.mu.Lock()
	b.subscriptions++
	b.mu.Unlock()

	s := &subscription{ch: events, sup: sup, cancel: cancel, backend: b}
	context.AfterFunc(runCtx, func() { _ = s.Close() })
	return s, nil
}

type stopper interface {
	Stop(ctx context.Context) error
}

type subscription struct {
	ch      chan core.Change
	sup     stopper
	cancel  context.CancelFunc
	backend *Backend
	once    sync.Once
	err     error
}

func (s *subscription) C() <-chan core.Change { return s.ch }

// Close stops the watcher and closes the channel. It is idempotent.
func (s *subscription) Close() error {
	s.once.Do(func() {
		s.cancel()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.err = s.sup.Stop(ctx)
		close(s.ch)

		s.backend.mu.Lock()
		s.backend.subscriptions--
		s.backend.mu.Unlock()
	})
	return s.err
}
