package netwatch

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recv(t *testing.T, ch <-chan bool) bool {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "channel closed")
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for transition")
		return false
	}
}

func TestManual(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := NewManual(false)
	ch, err := m.Watch(ctx)
	require.NoError(t, err)

	assert.False(t, recv(t, ch), "first value is the current state")

	m.Set(true)
	assert.True(t, recv(t, ch))

	m.Set(true) // no transition
	m.Set(false)
	assert.False(t, recv(t, ch))

	cancel()
	assert.Eventually(t, func() bool {
		_, ok := <-ch
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestManual_LatestWins(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := NewManual(true)
	ch, err := m.Watch(ctx)
	require.NoError(t, err)

	m.Set(false)
	m.Set(true)

	// Unread values are replaced by the most recent state.
	assert.True(t, recv(t, ch))
	assert.True(t, m.Online())
}

type fakeConn struct{ net.Conn }

func (fakeConn) Close() error { return nil }

func TestProbe_Transitions(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var up atomic.Bool
	p := NewProbe(ProbeConfig{
		Address:  "backend:7070",
		Interval: 10 * time.Millisecond,
		Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
			assert.Equal(t, "tcp", network)
			assert.Equal(t, "backend:7070", address)
			if up.Load() {
				return fakeConn{}, nil
			}
			return nil, errors.New("connection refused")
		},
	})

	ch, err := p.Watch(ctx)
	require.NoError(t, err)
	assert.False(t, recv(t, ch))

	up.Store(true)
	assert.True(t, recv(t, ch))

	up.Store(false)
	assert.False(t, recv(t, ch))
}

func TestProbe_Check(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()

	p := NewProbe(ProbeConfig{Address: addr, Timeout: 500 * time.Millisecond})
	assert.True(t, p.Check(context.Background()))

	require.NoError(t, ln.Close())
	assert.False(t, p.Check(context.Background()))
}
