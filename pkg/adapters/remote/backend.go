// Package remote implements core.Backend against a notesd server.
//
// Queries and mutations are JSON requests under /v1; the change stream is a
// websocket. Transport failures are reported as core.ErrTransient or
// core.ErrOffline so the engine can tell them apart from rejections.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/introspection"
	"github.com/gorilla/websocket"

	"github.com/aretw0/notesync/pkg/core"
)

const (
	DefaultReadTimeout = 90 * time.Second
	writeWait          = 10 * time.Second
)

// Config holds the configuration of the remote backend.
type Config struct {
	BaseURL     string        // e.g. "http://localhost:8080"
	HTTPClient  *http.Client  // defaults to a client without timeout; calls are bounded by ctx
	Dialer      *websocket.Dialer
	ReadTimeout time.Duration // silence tolerated on the change stream before it is dropped
	Logger      *slog.Logger
}

// Backend is an HTTP core.Backend.
type Backend struct {
	base        *url.URL
	client      *http.Client
	dialer      *websocket.Dialer
	readTimeout time.Duration
	logger      *slog.Logger

	mu      sync.Mutex
	streams int
}

// New validates the configuration and creates a Backend. No request is made.
func New(cfg Config) (*Backend, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid base url %q: scheme must be http or https", cfg.BaseURL)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Backend{
		base:        base,
		client:      cfg.HTTPClient,
		dialer:      cfg.Dialer,
		readTimeout: cfg.ReadTimeout,
		logger:      cfg.Logger,
	}, nil
}

// Address returns the host:port of the server, for reachability probes.
func (b *Backend) Address() string {
	if b.base.Port() != "" {
		return b.base.Host
	}
	if b.base.Scheme == "https" {
		return b.base.Hostname() + ":443"
	}
	return b.base.Hostname() + ":80"
}

func (b *Backend) endpoint(path string, query url.Values) string {
	u := *b.base
	u.Path = b.base.Path + path
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// do sends a JSON request and decodes a JSON response into out (if non-nil).
func (b *Backend) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.endpoint(path, query), body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%s %s: %w", method, path, ctx.Err())
		}
		return fmt.Errorf("%s %s: %w: %w", method, path, core.ErrTransient, err)
	}
	defer resp.Body.Close()

	if err := statusError(resp); err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}

// statusError maps non-2xx responses onto core errors.
func statusError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	var apierr struct {
		Message string `json:"message"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&apierr)
	msg := apierr.Message
	if msg == "" {
		msg = resp.Status
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%s: %w", msg, core.ErrNotFound)
	case http.StatusConflict:
		return fmt.Errorf("%s: %w", msg, core.ErrConflict)
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return fmt.Errorf("%s: %w", msg, core.ErrOffline)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%s: %w", msg, core.ErrTransient)
	default:
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, msg)
	}
}

// QueryNotes implements core.Backend.
func (b *Backend) QueryNotes(ctx context.Context) ([]core.Note, error) {
	var notes []core.Note
	if err := b.do(ctx, http.MethodGet, "/v1/notes", nil, nil, &notes); err != nil {
		return nil, err
	}
	return notes, nil
}

// GetNote implements core.Backend.
func (b *Backend) GetNote(ctx context.Context, id string) (core.Note, error) {
	var n core.Note
	if err := b.do(ctx, http.MethodGet, "/v1/notes/"+url.PathEscape(id), nil, nil, &n); err != nil {
		return core.Note{}, err
	}
	return n, nil
}

// SaveNote implements core.Backend.
func (b *Backend) SaveNote(ctx context.Context, n core.Note) (core.Note, error) {
	var saved core.Note
	if err := b.do(ctx, http.MethodPut, "/v1/notes", nil, n, &saved); err != nil {
		return core.Note{}, err
	}
	return saved, nil
}

// DeleteNote implements core.Backend.
func (b *Backend) DeleteNote(ctx context.Context, n core.Note) error {
	return b.do(ctx, http.MethodDelete, "/v1/notes/"+url.PathEscape(n.ID), nil, nil, nil)
}

// QueryUsers implements core.Backend.
func (b *Backend) QueryUsers(ctx context.Context, username string) ([]core.User, error) {
	var users []core.User
	q := url.Values{"username": []string{username}}
	if err := b.do(ctx, http.MethodGet, "/v1/users", q, nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// SaveUser implements core.Backend.
func (b *Backend) SaveUser(ctx context.Context, u core.User) (core.User, error) {
	var saved core.User
	in := map[string]string{"id": u.ID, "username": u.Username}
	if err := b.do(ctx, http.MethodPost, "/v1/users", nil, in, &saved); err != nil {
		return core.User{}, err
	}
	return saved, nil
}

// StartSync implements core.Backend. It confirms the server is healthy.
func (b *Backend) StartSync(ctx context.Context) error {
	err := b.do(ctx, http.MethodGet, "/v1/health", nil, nil, nil)
	if err != nil && !core.IsTransient(err) && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", core.ErrOffline, err)
	}
	return err
}

// BackendState exposes internal state for observability.
type BackendState struct {
	BaseURL string `json:"base_url"`
	Streams int    `json:"streams"`
}

// State implements introspection.Introspectable.
func (b *Backend) State() any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BackendState{BaseURL: b.base.String(), Streams: b.streams}
}

// ComponentType implements introspection.Component.
func (b *Backend) ComponentType() string {
	return "remote-backend"
}

var _ core.Backend = (*Backend)(nil)
var _ introspection.Introspectable = (*Backend)(nil)
var _ introspection.Component = (*Backend)(nil)
