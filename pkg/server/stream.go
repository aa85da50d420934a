package server

import (
	"context"
	"net/http"
	"time"

	"github.com/aretw0/lifecycle"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/aretw0/notesync/pkg/core"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// streamChanges upgrades the request and forwards every note change of the
// backend as a JSON core.Change until either side goes away.
func (s *Server) streamChanges(c echo.Context) error {
	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	sub, err := s.backend.Observe(ctx, core.KindNote)
	if err != nil {
		return s.fail(c, err)
	}
	defer sub.Close()

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn("failed to upgrade the websocket", "error", err)
		return nil
	}
	defer ws.Close()

	s.streams.Add(1)
	defer s.streams.Add(-1)
	s.logger.Debug("change stream opened", "remote", c.RealIP())

	// Clients never send data; reading only surfaces the close frame.
	lifecycle.Go(ctx, func(context.Context) error {
		defer cancel()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return nil
			}
		}
	})

	ping := time.NewTicker(s.pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("change stream closed by client")
			return nil
		case change, ok := <-sub.C():
			if !ok {
				s.logger.Info("backend subscription ended, closing stream")
				closeWith(ws, websocket.CloseGoingAway, "subscription ended")
				return nil
			}
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteJSON(change); err != nil {
				s.logger.Debug("change stream write failed", "error", err)
				return nil
			}
		case <-ping.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return nil
			}
		}
	}
}

func closeWith(ws *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
