package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/notesync/pkg/adapters/memory"
	"github.com/aretw0/notesync/pkg/core"
	"github.com/aretw0/notesync/pkg/engine"
	"github.com/aretw0/notesync/pkg/store"
)

func TestSubscriber_RefreshOnRemoteChange(t *testing.T) {
	backend := memory.New()
	st := store.New()

	var mu sync.Mutex
	var seen []core.Op
	sub := engine.NewSubscriber(backend, st, engine.Config{}, func(c core.Change) {
		mu.Lock()
		seen = append(seen, c.Op)
		mu.Unlock()
	})
	require.NoError(t, sub.Subscribe(context.Background()))
	t.Cleanup(func() { _ = sub.Unsubscribe() })

	n := backend.Put(core.Note{Content: "remote", CreatedAt: time.Now()})
	require.Eventually(t, func() bool {
		got, ok := st.Get(n.ID)
		return ok && got.Content == "remote"
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []core.Op{core.OpInserted}, seen)
	mu.Unlock()
}

func TestSubscriber_InitialRefresh(t *testing.T) {
	backend := memory.New()
	backend.Put(core.Note{Content: "already there", CreatedAt: time.Now()})
	st := store.New()

	sub := engine.NewSubscriber(backend, st, engine.Config{}, nil)
	require.NoError(t, sub.Subscribe(context.Background()))
	defer func() { _ = sub.Unsubscribe() }()

	assert.Equal(t, 1, st.LiveLen())
}

func TestSubscriber_RefreshFailureKeepsCache(t *testing.T) {
	backend := memory.New()
	st := store.New()
	st.Upsert(core.Note{ID: "cached", Content: "stale but useful"})

	backend.FailNext(memory.MethodQueryNotes, errors.New("query failed"))
	sub := engine.NewSubscriber(backend, st, engine.Config{}, nil)
	require.NoError(t, sub.Subscribe(context.Background()), "initial refresh failure is not fatal")
	defer func() { _ = sub.Unsubscribe() }()

	_, ok := st.Get("cached")
	assert.True(t, ok)
	state := sub.State().(engine.SubscriberState)
	assert.Equal(t, uint64(1), state.RefreshErrors)
}

func TestSubscriber_UnsubscribeIsIdempotent(t *testing.T) {
	backend := memory.New()
	sub := engine.NewSubscriber(backend, store.New(), engine.Config{}, nil)
	require.NoError(t, sub.Subscribe(context.Background()))
	require.Equal(t, 1, backend.Subscribers())

	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, sub.Unsubscribe())

	assert.Equal(t, 0, backend.Subscribers())
	assert.Equal(t, engine.SubscriberClosed, sub.Status())
	assert.ErrorIs(t, sub.Subscribe(context.Background()), core.ErrSubscriberClosed)
}

func TestSubscriber_SubscribeTwiceIsNoop(t *testing.T) {
	backend := memory.New()
	sub := engine.NewSubscriber(backend, store.New(), engine.Config{}, nil)
	require.NoError(t, sub.Subscribe(context.Background()))
	require.NoError(t, sub.Subscribe(context.Background()))
	defer func() { _ = sub.Unsubscribe() }()

	assert.Equal(t, 1, backend.Subscribers())
}

func TestSubscriber_DetachesWhenStreamDrops(t *testing.T) {
	backend := memory.New()
	sub := engine.NewSubscriber(backend, store.New(), engine.Config{}, nil)

	detached := make(chan struct{})
	sub.OnDetach(func(*engine.Subscriber) { close(detached) })
	require.NoError(t, sub.Subscribe(context.Background()))

	backend.SetOnline(false)

	select {
	case <-detached:
	case <-time.After(2 * time.Second):
		t.Fatal("detach hook not called")
	}
	assert.Equal(t, engine.SubscriberDetached, sub.Status())
	assert.False(t, sub.Active())
	require.NoError(t, sub.Unsubscribe())
}

func TestSubscriber_ObserveFailure(t *testing.T) {
	backend := memory.New()
	backend.SetOnline(false)
	sub := engine.NewSubscriber(backend, store.New(), engine.Config{}, nil)

	err := sub.Subscribe(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrOffline)
	assert.Equal(t, engine.SubscriberUnsubscribed, sub.Status())
}

func TestQuery_ListOrderAndTombstones(t *testing.T) {
	st := store.New()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	st.Upsert(core.Note{ID: "b", Content: "second", CreatedAt: base.Add(time.Minute), UpdatedAt: base.Add(time.Hour)})
	st.Upsert(core.Note{ID: "a", Content: "first", CreatedAt: base, UpdatedAt: base})
	st.Upsert(core.Note{ID: "c", Content: "gone", CreatedAt: base, Deleted: true})

	q := engine.NewQuery(st)

	notes := q.ListNotes()
	require.Len(t, notes, 2)
	assert.Equal(t, "a", notes[0].ID)
	assert.Equal(t, "b", notes[1].ID)

	recent := q.ListNotes(engine.WithOrder(engine.ByUpdatedDesc))
	assert.Equal(t, "b", recent[0].ID)

	_, ok := q.GetNote("c")
	assert.False(t, ok)
	got, ok := q.GetNote("a")
	require.True(t, ok)
	assert.Equal(t, "first", got.Content)
}

func TestQuery_WatchClosesWithContext(t *testing.T) {
	st := store.New()
	q := engine.NewQuery(st)
	ctx, cancel := context.WithCancel(context.Background())

	lists := q.Watch(ctx)
	<-lists
	cancel()

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-lists:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, st.State().(store.State).Observers, "observer released")
}

func TestSubscriber_PanickingSinkDetaches(t *testing.T) {
	backend := memory.New()
	sub := engine.NewSubscriber(backend, store.New(), engine.Config{}, func(core.Change) {
		panic("sink exploded")
	})
	detached := make(chan struct{})
	sub.OnDetach(func(*engine.Subscriber) { close(detached) })
	require.NoError(t, sub.Subscribe(context.Background()))

	backend.Put(core.Note{Content: "trigger", CreatedAt: time.Now()})

	select {
	case <-detached:
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber did not detach after the loop panicked")
	}
	assert.Equal(t, engine.SubscriberDetached, sub.Status())
	assert.Equal(t, 0, backend.Subscribers())
	assert.NoError(t, sub.Unsubscribe(), "unsubscribe returns once the loop is gone")
}
