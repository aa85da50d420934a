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
)

func TestIdentity_CreatesOnce(t *testing.T) {
	backend := memory.New()
	id := engine.NewIdentity(backend, engine.Config{})
	ctx := context.Background()

	first, err := id.EnsureOwner(ctx, "demo_user")
	require.NoError(t, err)
	require.NotEmpty(t, first)

	second, err := id.EnsureOwner(ctx, "demo_user")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	assert.Len(t, backend.Users(), 1)
	assert.Equal(t, 1, backend.Calls(memory.MethodSaveUser))
	assert.Equal(t, 1, backend.Calls(memory.MethodQueryUsers), "second call is served from memory")
}

func TestIdentity_FindsExisting(t *testing.T) {
	backend := memory.New()
	existing, err := backend.SaveUser(context.Background(), core.User{Username: "alice"})
	require.NoError(t, err)

	id := engine.NewIdentity(backend, engine.Config{})
	got, err := id.EnsureOwner(context.Background(), "alice")
	require.NoError(t, err)

	assert.Equal(t, existing.ID, got)
	assert.Equal(t, 1, backend.Calls(memory.MethodSaveUser), "no second user is created")
}

func TestIdentity_ConcurrentCallersShareResolution(t *testing.T) {
	backend := memory.New(memory.WithLatency(20 * time.Millisecond))
	id := engine.NewIdentity(backend, engine.Config{})

	const callers = 20
	results := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			owner, err := id.EnsureOwner(context.Background(), "demo_user")
			assert.NoError(t, err)
			results[i] = owner
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, results[0], r)
	}
	assert.Len(t, backend.Users(), 1, "exactly one user under concurrency")
}

func TestIdentity_ConflictRequeries(t *testing.T) {
	backend := memory.New()
	winner, err := backend.SaveUser(context.Background(), core.User{Username: "bob"})
	require.NoError(t, err)

	// The first lookup misses as if the competing insert had not landed yet.
	id := engine.NewIdentity(&staleLookup{Backend: backend, misses: 1}, engine.Config{})

	got, err := id.EnsureOwner(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, winner.ID, got)
	assert.Len(t, backend.Users(), 1)
}

func TestIdentity_FailureIsNotMemoized(t *testing.T) {
	backend := memory.New()
	backend.FailNext(memory.MethodQueryUsers, errors.New("boom"))
	id := engine.NewIdentity(backend, engine.Config{})

	_, err := id.EnsureOwner(context.Background(), "demo_user")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrOwnerResolution)
	assert.Empty(t, backend.Users())

	owner, err := id.EnsureOwner(context.Background(), "demo_user")
	require.NoError(t, err)
	assert.NotEmpty(t, owner)
}

func TestIdentity_EmptyUsername(t *testing.T) {
	id := engine.NewIdentity(memory.New(), engine.Config{})
	_, err := id.EnsureOwner(context.Background(), "")
	assert.ErrorIs(t, err, core.ErrOwnerResolution)
}

func TestIdentity_Offline(t *testing.T) {
	backend := memory.New()
	backend.SetOnline(false)
	id := engine.NewIdentity(backend, engine.Config{})

	_, err := id.EnsureOwner(context.Background(), "demo_user")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrOwnerResolution)
	assert.True(t, core.IsTransient(err))
}

// staleLookup hides existing users from the first misses lookups.
type staleLookup struct {
	*memory.Backend
	mu     sync.Mutex
	misses int
}

func (s *staleLookup) QueryUsers(ctx context.Context, username string) ([]core.User, error) {
	s.mu.Lock()
	miss := s.misses > 0
	if miss {
		s.misses--
	}
	s.mu.Unlock()
	if miss {
		return nil, nil
	}
	return s.Backend.QueryUsers(ctx, username)
}

func TestIdentity_CanceledCallerDoesNotFailWaiters(t *testing.T) {
	backend := memory.New(memory.WithLatency(200 * time.Millisecond))
	id := engine.NewIdentity(backend, engine.Config{})

	firstCtx, cancel := context.WithCancel(context.Background())
	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		_, _ = id.EnsureOwner(firstCtx, "demo_user")
	}()

	// Join the in-flight resolution, then cancel the caller that started it.
	time.Sleep(20 * time.Millisecond)
	waiterDone := make(chan struct{})
	var waiterID string
	var waiterErr error
	go func() {
		defer close(waiterDone)
		waiterID, waiterErr = id.EnsureOwner(context.Background(), "demo_user")
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()

	<-firstDone
	<-waiterDone
	require.NoError(t, waiterErr)
	assert.NotEmpty(t, waiterID)
	assert.Len(t, backend.Users(), 1)
}
