package remote

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/lifecycle"
	"github.com/gorilla/websocket"

	"github.com/aretw0/notesync/pkg/core"
)

// Observe implements core.Backend. It dials the change stream websocket.
// The subscription channel closes when the connection drops.
func (b *Backend) Observe(ctx context.Context, kind core.Kind) (core.Subscription, error) {
	if kind != core.KindNote {
		return nil, fmt.Errorf("observe %s: unsupported kind", kind)
	}

	target := b.endpoint("/v1/notes/changes", nil)
	target = "ws" + strings.TrimPrefix(target, "http")

	ws, _, err := b.dialer.DialContext(ctx, target, nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("dial change stream: %w: %w", core.ErrOffline, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s := &stream{
		ws:     ws,
		ch:     make(chan core.Change),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	_ = ws.SetReadDeadline(time.Now().Add(b.readTimeout))
	ws.SetPingHandler(func(data string) error {
		_ = ws.SetReadDeadline(time.Now().Add(b.readTimeout))
		return ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	b.mu.Lock()
	b.streams++
	b.mu.Unlock()

	lifecycle.Go(runCtx, func(ctx context.Context) error {
		defer func() {
			b.mu.Lock()
			b.streams--
			b.mu.Unlock()
		}()
		return s.read(ctx, b)
	})
	context.AfterFunc(runCtx, func() { _ = ws.Close() })
	return s, nil
}

// stream implements core.Subscription over a websocket.
type stream struct {
	ws     *websocket.Conn
	ch     chan core.Change
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (s *stream) C() <-chan core.Change { return s.ch }

func (s *stream) read(ctx context.Context, b *Backend) error {
	defer close(s.done)
	defer close(s.ch)
	defer s.cancel()

	for {
		var c core.Change
		if err := s.ws.ReadJSON(&c); err != nil {
			if ctx.Err() == nil {
				b.logger.Info("change stream closed", "error", err)
			}
			return nil
		}
		_ = s.ws.SetReadDeadline(time.Now().Add(b.readTimeout))

		select {
		case s.ch <- c:
		case <-ctx.Done():
			return nil
		}
	}
}

// Close implements core.Subscription. It returns once the reader has exited.
func (s *stream) Close() error {
	s.once.Do(func() {
		s.cancel()
		_ = s.ws.Close()
	})
	<-s.done
	return nil
}
