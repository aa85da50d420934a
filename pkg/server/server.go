// Package server exposes a core.Backend over HTTP.
//
// Notes and users are served as JSON under /v1, and committed changes are
// streamed to clients over a websocket at /v1/notes/changes. The remote
// adapter is the client side of this contract.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/aretw0/introspection"
	"github.com/aretw0/lifecycle"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/aretw0/notesync/pkg/core"
)

const (
	DefaultPingPeriod = 30 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// Server serves one backend.
type Server struct {
	backend    core.Backend
	validate   *validator.Validate
	logger     *slog.Logger
	echo       *echo.Echo
	pingPeriod time.Duration
	bodyLimit  string
	streams    atomic.Int64
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithPingPeriod sets how often idle change streams are pinged.
func WithPingPeriod(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.pingPeriod = d
		}
	}
}

// WithBodyLimit sets the maximum request body size, e.g. "2M".
func WithBodyLimit(limit string) Option {
	return func(s *Server) {
		if limit != "" {
			s.bodyLimit = limit
		}
	}
}

// New builds a Server and registers its routes.
func New(backend core.Backend, opts ...Option) *Server {
	s := &Server{
		backend:    backend,
		validate:   validator.New(),
		logger:     slog.New(slog.DiscardHandler),
		pingPeriod: DefaultPingPeriod,
		bodyLimit:  "2M",
	}
	for _, opt := range opts {
		opt(s)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.BodyLimit(s.bodyLimit))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod: true,
		LogURI:    true,
		LogStatus: true,
		LogError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.Debug("request", "method", v.Method, "uri", v.URI, "status", v.Status, "error", v.Error)
			return nil
		},
	}))

	e.GET("/v1/health", s.health)
	e.GET("/v1/notes", s.listNotes)
	e.GET("/v1/notes/changes", s.streamChanges)
	e.GET("/v1/notes/:id", s.getNote)
	e.PUT("/v1/notes", s.saveNote)
	e.DELETE("/v1/notes/:id", s.deleteNote)
	e.GET("/v1/users", s.queryUsers)
	e.POST("/v1/users", s.createUser)

	s.echo = e
	return s
}

// Handler returns the HTTP handler, for embedding or httptest.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Serve listens on addr until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	lifecycle.Go(ctx, func(context.Context) error {
		errCh <- s.echo.Start(addr)
		return nil
	})
	s.logger.Info("serving", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ServerState exposes internal state for observability.
type ServerState struct {
	Streams    int64  `json:"streams"`
	PingPeriod string `json:"ping_period"`
	Backend    any    `json:"backend,omitempty"`
}

// State implements introspection.Introspectable.
func (s *Server) State() any {
	st := ServerState{
		Streams:    s.streams.Load(),
		PingPeriod: s.pingPeriod.String(),
	}
	if i, ok := s.backend.(introspection.Introspectable); ok {
		st.Backend = i.State()
	}
	return st
}

// ComponentType implements introspection.Component.
func (s *Server) ComponentType() string {
	return "server"
}

var _ introspection.Introspectable = (*Server)(nil)
var _ introspection.Component = (*Server)(nil)
