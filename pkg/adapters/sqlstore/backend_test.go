package sqlstore

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/notesync/pkg/core"
)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := Open(Config{Path: filepath.Join(t.TempDir(), "notes.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestOpen_EmptyPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

func TestBackend_NoteLifecycle(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	n, err := b.SaveNote(ctx, core.Note{Content: "first", OwnerID: "u1", CreatedAt: created, UpdatedAt: created})
	require.NoError(t, err)
	require.NotEmpty(t, n.ID)
	assert.Equal(t, 1, n.Version)

	n.Content = "second"
	n.OwnerID = "someone-else"
	n.CreatedAt = created.Add(time.Hour)
	n, err = b.SaveNote(ctx, n)
	require.NoError(t, err)
	assert.Equal(t, 2, n.Version)
	assert.Equal(t, "u1", n.OwnerID, "owner is immutable")
	assert.True(t, created.Equal(n.CreatedAt), "creation time is immutable")

	got, err := b.GetNote(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, "second", got.Content)

	require.NoError(t, b.DeleteNote(ctx, n))
	got, err = b.GetNote(ctx, n.ID)
	require.NoError(t, err)
	assert.True(t, got.Deleted)
	assert.Equal(t, 3, got.Version)

	all, err := b.QueryNotes(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1, "tombstones are still queried")
}

func TestBackend_TombstoneIsFinal(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	n, err := b.SaveNote(ctx, core.Note{Content: "buy milk", OwnerID: "u1"})
	require.NoError(t, err)
	require.NoError(t, b.DeleteNote(ctx, n))

	n.Content = "buy oat milk"
	_, err = b.SaveNote(ctx, n)
	assert.ErrorIs(t, err, core.ErrNotFound)

	got, err := b.GetNote(ctx, n.ID)
	require.NoError(t, err)
	assert.True(t, got.Deleted)
	assert.Equal(t, "buy milk", got.Content)
	assert.Equal(t, 2, got.Version)
}

func TestBackend_NotFound(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	_, err := b.GetNote(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.ErrorIs(t, b.DeleteNote(ctx, core.Note{ID: "missing"}), core.ErrNotFound)
}

func TestBackend_QueryOrder(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, content := range []string{"c", "a", "b"} {
		at := base.Add(time.Duration([]int{3, 1, 2}[i]) * time.Minute)
		_, err := b.SaveNote(ctx, core.Note{Content: content, CreatedAt: at, UpdatedAt: at})
		require.NoError(t, err)
	}

	notes, err := b.QueryNotes(ctx)
	require.NoError(t, err)
	require.Len(t, notes, 3)
	assert.Equal(t, "a", notes[0].Content)
	assert.Equal(t, "b", notes[1].Content)
	assert.Equal(t, "c", notes[2].Content)
}

func TestBackend_UniqueUsername(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		created   int
		conflicts int
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := b.SaveUser(ctx, core.User{Username: "alice"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case assert.ErrorIs(t, err, core.ErrConflict):
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Equal(t, 7, conflicts)

	users, err := b.QueryUsers(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, 1, users[0].Version)

	users, err = b.QueryUsers(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestBackend_Observe(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	sub, err := b.Observe(ctx, core.KindNote)
	require.NoError(t, err)
	defer sub.Close()

	n, err := b.SaveNote(ctx, core.Note{Content: "hello"})
	require.NoError(t, err)
	n.Content = "hello again"
	_, err = b.SaveNote(ctx, n)
	require.NoError(t, err)
	require.NoError(t, b.DeleteNote(ctx, n))

	var ops []core.Op
	for range 3 {
		select {
		case c := <-sub.C():
			assert.Equal(t, n.ID, c.Note.ID)
			ops = append(ops, c.Op)
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for change")
		}
	}
	assert.Equal(t, []core.Op{core.OpInserted, core.OpUpdated, core.OpDeleted}, ops)
	assert.Equal(t, 1, b.State().(BackendState).Subscriptions)

	_, err = b.Observe(ctx, core.KindUser)
	assert.Error(t, err)
}

func TestBackend_StartSync(t *testing.T) {
	b, err := Open(Config{Path: filepath.Join(t.TempDir(), "notes.db")})
	require.NoError(t, err)
	require.NoError(t, b.StartSync(context.Background()))

	require.NoError(t, b.Close())
	err = b.StartSync(context.Background())
	assert.ErrorIs(t, err, core.ErrOffline)
	assert.True(t, core.IsTransient(err))
}

func TestBackend_State(t *testing.T) {
	b := newTestBackend(t)
	st, ok := b.State().(BackendState)
	require.True(t, ok)
	assert.Contains(t, st.Path, "notes.db")
	assert.Equal(t, "sqlite-backend", b.ComponentType())
}
