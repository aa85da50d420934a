package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/notesync/pkg/core"
)

const (
	// DefaultUsername is the owner identity used when none is configured.
	DefaultUsername = "demo_user"

	// DefaultCallTimeout bounds every backend call.
	DefaultCallTimeout = 10 * time.Second

	// DefaultChangeBuffer is the size of the engine change feed.
	DefaultChangeBuffer = 100
)

// Config holds the configuration of an Engine.
type Config struct {
	Username     string        // Owner identity resolved before any note mutation.
	CallTimeout  time.Duration // Per backend call. Zero means DefaultCallTimeout, negative disables.
	ReadOnly     bool          // Reject every mutation with core.ErrReadOnly.
	PurgeAfter   time.Duration // Drop local tombstones older than this. Zero disables.
	ChangeBuffer int           // Size of the change feed. Zero means DefaultChangeBuffer.
	Logger       *slog.Logger
	Clock        func() time.Time
}

func (c Config) withDefaults() Config {
	if c.Username == "" {
		c.Username = DefaultUsername
	}
	if c.CallTimeout == 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	if c.ChangeBuffer <= 0 {
		c.ChangeBuffer = DefaultChangeBuffer
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return c
}

// withTimeout derives the context of a single backend call.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// classify maps context deadlines onto core.ErrTimeout so callers can match
// every network-class failure with core.IsTransient.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, core.ErrTimeout) {
		return fmt.Errorf("%w: %w", core.ErrTimeout, err)
	}
	return err
}
