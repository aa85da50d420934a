package fs

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/notesync/pkg/core"
)

func waitForWatcher(t *testing.T, b *Backend, expected bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		state, ok := b.State().(BackendState)
		return ok && state.WatcherActive == expected
	}, 2*time.Second, 10*time.Millisecond, "watcher active = %v", expected)
}

func nextChange(t *testing.T, ch <-chan core.Change) core.Change {
	t.Helper()
	select {
	case c, ok := <-ch:
		require.True(t, ok, "subscription closed")
		return c
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for change")
		return core.Change{}
	}
}

func TestObserve_EmitsTaggedChanges(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	sub, err := b.Observe(ctx, core.KindNote)
	require.NoError(t, err)
	defer sub.Close()
	waitForWatcher(t, b, true)

	n, err := b.SaveNote(ctx, core.Note{Content: "watched"})
	require.NoError(t, err)
	c := nextChange(t, sub.C())
	assert.Equal(t, core.OpInserted, c.Op)
	assert.Equal(t, n.ID, c.Note.ID)

	n.Content = "edited"
	_, err = b.SaveNote(ctx, n)
	require.NoError(t, err)
	c = nextChange(t, sub.C())
	assert.Equal(t, core.OpUpdated, c.Op)
	assert.Equal(t, "edited", c.Note.Content)

	require.NoError(t, b.DeleteNote(ctx, n))
	c = nextChange(t, sub.C())
	assert.Equal(t, core.OpDeleted, c.Op)
	assert.True(t, c.Note.Deleted)
}

func TestObserve_ExternalRemoval(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)
	n, err := b.SaveNote(ctx, core.Note{Content: "doomed"})
	require.NoError(t, err)

	sub, err := b.Observe(ctx, core.KindNote)
	require.NoError(t, err)
	defer sub.Close()
	waitForWatcher(t, b, true)

	require.NoError(t, os.Remove(filepath.Join(b.Path, notePath(n.ID))))
	c := nextChange(t, sub.C())
	assert.Equal(t, core.OpDeleted, c.Op)
	assert.Equal(t, n.ID, c.Note.ID)
}

func TestObserve_IgnoresUnrelatedFiles(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	sub, err := b.Observe(ctx, core.KindNote)
	require.NoError(t, err)
	defer sub.Close()
	waitForWatcher(t, b, true)

	require.NoError(t, os.WriteFile(filepath.Join(b.Path, notesDir, "readme.txt"), []byte("hi"), 0644))

	select {
	case c := <-sub.C():
		t.Fatalf("unexpected change %v", c)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestObserve_CloseAndContext(t *testing.T) {
	b := newTestBackend(t)

	sub, err := b.Observe(context.Background(), core.KindNote)
	require.NoError(t, err)
	waitForWatcher(t, b, true)
	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
	_, open := <-sub.C()
	assert.False(t, open)
	waitForWatcher(t, b, false)

	ctx, cancel := context.WithCancel(context.Background())
	sub, err = b.Observe(ctx, core.KindNote)
	require.NoError(t, err)
	waitForWatcher(t, b, true)
	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, open := <-sub.C():
			return !open
		default:
			return false
		}
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, b.State().(BackendState).Subscriptions)

	_, err = b.Observe(context.Background(), core.KindUser)
	assert.Error(t, err)
}

func TestDebouncer_CoalescesPerKey(t *testing.T) {
	d := newDebouncer(20*time.Millisecond, func(s string) string { return s[:1] })

	var mu sync.Mutex
	var got []string
	record := func(s string) {
		mu.Lock()
		got = append(got, s)
		mu.Unlock()
	}

	d.add("a1", record)
	d.add("a2", record)
	d.add("b1", record)
	d.add("a3", record)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, time.Second, 5*time.Millisecond)

	d.stopAndWait(time.Second)
	d.add("c1", record)
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"a3", "b1"}, got)
}
