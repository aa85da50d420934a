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
	"github.com/aretw0/notesync/pkg/adapters/netwatch"
	"github.com/aretw0/notesync/pkg/core"
	"github.com/aretw0/notesync/pkg/engine"
)

// setupEngine builds an engine over an in-memory backend and a manual
// connectivity monitor. The engine is not started.
func setupEngine(t *testing.T, cfg engine.Config) (*engine.Engine, *memory.Backend, *netwatch.Manual) {
	t.Helper()
	backend := memory.New()
	conn := netwatch.NewManual(true)
	e := engine.New(backend, conn, cfg)
	t.Cleanup(func() { _ = e.Close() })
	return e, backend, conn
}

func waitStatus(t *testing.T, e *engine.Engine, want engine.SyncStatus) {
	t.Helper()
	require.Eventually(t, func() bool { return e.Status() == want },
		2*time.Second, 10*time.Millisecond, "expected sync status %s, got %s", want, e.Status())
}

// waitOnline blocks until the controller has read the connectivity baseline.
func waitOnline(t *testing.T, e *engine.Engine) {
	t.Helper()
	require.Eventually(t, func() bool {
		st := e.State().(engine.EngineState)
		return st.Sync.(engine.ControllerState).Online
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEngine_EndToEnd_CreateListDelete(t *testing.T) {
	e, backend, _ := setupEngine(t, engine.Config{})
	ctx := context.Background()

	require.Empty(t, backend.Users(), "no user exists yet")

	res := e.CreateNote(ctx, "buy milk")
	require.NoError(t, res.Err)
	created := res.Value

	users := backend.Users()
	require.Len(t, users, 1)
	assert.Equal(t, "demo_user", users[0].Username)
	assert.Equal(t, users[0].ID, created.OwnerID)

	notes := e.ListNotes()
	require.Len(t, notes, 1)
	assert.Equal(t, "buy milk", notes[0].Content)

	del := e.DeleteNote(ctx, created.ID)
	require.NoError(t, del.Err)

	assert.Empty(t, e.ListNotes())

	tomb, ok := e.Store().Get(created.ID)
	require.True(t, ok, "tombstone remains retrievable by id")
	assert.True(t, tomb.Deleted)

	_, ok = e.GetNote(created.ID)
	assert.False(t, ok, "query facade hides tombstones")
}

func TestEngine_EndToEnd_IdentityIdempotent(t *testing.T) {
	e, backend, _ := setupEngine(t, engine.Config{})
	ctx := context.Background()

	first, err := e.EnsureOwner(ctx)
	require.NoError(t, err)
	second, err := e.EnsureOwner(ctx)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, backend.Users(), 1)
}

func TestEngine_StartsSyncOnLaunch(t *testing.T) {
	e, backend, _ := setupEngine(t, engine.Config{})
	ctx := context.Background()

	remote := backend.Put(core.Note{Content: "from another device", OwnerID: "other", CreatedAt: time.Now()})

	require.NoError(t, e.Start(ctx))
	waitStatus(t, e, engine.SyncRunning)

	require.Eventually(t, func() bool {
		_, ok := e.GetNote(remote.ID)
		return ok
	}, 2*time.Second, 10*time.Millisecond, "initial refresh pulls remote notes")
	assert.Equal(t, 1, backend.Subscribers())
}

func TestEngine_RemoteChangesAreMerged(t *testing.T) {
	e, backend, _ := setupEngine(t, engine.Config{})
	ctx := context.Background()
	require.NoError(t, e.Start(ctx))
	waitStatus(t, e, engine.SyncRunning)

	n := backend.Put(core.Note{Content: "v1", OwnerID: "other", CreatedAt: time.Now()})
	require.Eventually(t, func() bool {
		got, ok := e.GetNote(n.ID)
		return ok && got.Content == "v1"
	}, 2*time.Second, 10*time.Millisecond)

	n.Content = "v2"
	backend.Put(n)
	require.Eventually(t, func() bool {
		got, ok := e.GetNote(n.ID)
		return ok && got.Content == "v2"
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, backend.DeleteNote(ctx, n))
	require.Eventually(t, func() bool {
		_, ok := e.GetNote(n.ID)
		return !ok
	}, 2*time.Second, 10*time.Millisecond)

	// The change feed carries the tagged operations in order.
	var ops []core.Op
	timeout := time.After(2 * time.Second)
	for len(ops) < 3 {
		select {
		case c := <-e.Changes():
			if c.Note.ID == n.ID {
				ops = append(ops, c.Op)
			}
		case <-timeout:
			t.Fatalf("timeout waiting for changes, got %v", ops)
		}
	}
	assert.Equal(t, []core.Op{core.OpInserted, core.OpUpdated, core.OpDeleted}, ops)
}

func TestEngine_ReconnectResumesSync(t *testing.T) {
	e, backend, conn := setupEngine(t, engine.Config{})
	ctx := context.Background()

	backend.SetOnline(false)
	require.NoError(t, e.Start(ctx))

	// The launch attempt fails. Reading an online baseline with sync stopped
	// triggers one more attempt, then nothing until a transition.
	require.Eventually(t, func() bool { return backend.Calls(memory.MethodStartSync) >= 2 },
		2*time.Second, 10*time.Millisecond)
	waitStatus(t, e, engine.SyncStopped)
	waitOnline(t, e)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 2, backend.Calls(memory.MethodStartSync))

	backend.SetOnline(true)
	conn.Set(false)
	conn.Set(true)

	waitStatus(t, e, engine.SyncRunning)
	assert.Equal(t, 1, backend.Subscribers())
}

func TestEngine_ConnectedDuringFailedLaunch(t *testing.T) {
	backend := memory.New(memory.WithLatency(200 * time.Millisecond))
	backend.FailNext(memory.MethodStartSync, core.ErrOffline)
	conn := netwatch.NewManual(false)
	e := engine.New(backend, conn, engine.Config{})
	t.Cleanup(func() { _ = e.Close() })

	require.NoError(t, e.Start(context.Background()))

	// The network comes back while the launch attempt is still failing. The
	// controller only sees the new state as its baseline.
	time.Sleep(100 * time.Millisecond)
	conn.Set(true)

	require.Eventually(t, func() bool { return e.Status() == engine.SyncRunning },
		4*time.Second, 10*time.Millisecond, "expected sync status RUNNING, got %s", e.Status())
	assert.Equal(t, 2, backend.Calls(memory.MethodStartSync))
	assert.Equal(t, 1, backend.Subscribers())
}

func TestEngine_DroppedStreamRestartsOnReconnect(t *testing.T) {
	e, backend, conn := setupEngine(t, engine.Config{})
	ctx := context.Background()
	require.NoError(t, e.Start(ctx))
	waitStatus(t, e, engine.SyncRunning)

	// Backend goes away: the stream closes and the controller stops.
	backend.SetOnline(false)
	conn.Set(false)
	waitStatus(t, e, engine.SyncStopped)
	assert.Equal(t, 0, backend.Subscribers())

	backend.SetOnline(true)
	conn.Set(true)
	waitStatus(t, e, engine.SyncRunning)
	assert.Equal(t, 1, backend.Subscribers(), "exactly one subscription after reconnect")
}

func TestEngine_SyncIsIdempotent(t *testing.T) {
	e, backend, _ := setupEngine(t, engine.Config{})
	ctx := context.Background()
	require.NoError(t, e.Start(ctx))
	waitStatus(t, e, engine.SyncRunning)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, e.Sync(ctx))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, backend.Subscribers(), "no duplicate subscription leak")
	assert.Equal(t, 1, backend.Calls(memory.MethodObserve))
}

func TestEngine_SyncFailureIsReported(t *testing.T) {
	e, backend, _ := setupEngine(t, engine.Config{})
	backend.FailNext(memory.MethodStartSync, errors.New("handshake refused"))

	err := e.Sync(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrSyncStart)
	assert.Equal(t, engine.SyncStopped, e.Status())

	require.NoError(t, e.Sync(context.Background()))
	assert.Equal(t, engine.SyncRunning, e.Status())
}

func TestEngine_CloseReleasesSubscription(t *testing.T) {
	backend := memory.New()
	e := engine.New(backend, netwatch.NewManual(true), engine.Config{})
	require.NoError(t, e.Start(context.Background()))
	waitStatus(t, e, engine.SyncRunning)
	require.Equal(t, 1, backend.Subscribers())

	require.NoError(t, e.Close())
	require.NoError(t, e.Close())

	assert.Equal(t, 0, backend.Subscribers())
	assert.Equal(t, engine.SyncStopped, e.Status())

	_, open := <-e.Changes()
	assert.False(t, open)
}

func TestEngine_Watch(t *testing.T) {
	e, _, _ := setupEngine(t, engine.Config{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lists := e.Watch(ctx)
	select {
	case l := <-lists:
		assert.Empty(t, l)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for initial list")
	}

	res := e.CreateNote(ctx, "watched")
	require.NoError(t, res.Err)

	require.Eventually(t, func() bool {
		select {
		case l := <-lists:
			return len(l) == 1 && l[0].Content == "watched"
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEngine_PurgeTombstones(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	e, _, _ := setupEngine(t, engine.Config{PurgeAfter: time.Hour, Clock: clock})
	ctx := context.Background()

	res := e.CreateNote(ctx, "short lived")
	require.NoError(t, res.Err)
	require.NoError(t, e.DeleteNote(ctx, res.Value.ID).Err)

	assert.Equal(t, 0, e.Purge(), "tombstone still inside the window")

	now = now.Add(2 * time.Hour)
	assert.Equal(t, 1, e.Purge())
	_, ok := e.Store().Get(res.Value.ID)
	assert.False(t, ok)
}

func TestEngine_State(t *testing.T) {
	e, _, _ := setupEngine(t, engine.Config{Username: "alice"})
	state, ok := e.State().(engine.EngineState)
	require.True(t, ok)
	assert.Equal(t, "alice", state.Username)
	assert.Equal(t, "engine", e.ComponentType())

	ctrl, ok := state.Sync.(engine.ControllerState)
	require.True(t, ok)
	assert.Equal(t, engine.SyncStopped, ctrl.Status)
}
