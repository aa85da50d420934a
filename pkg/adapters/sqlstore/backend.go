// Package sqlstore implements core.Backend on SQLite through gorm.
//
// It is the authoritative store behind the notesd server: every committed
// write is published to in-process subscribers, which the HTTP layer
// forwards to remote clients.
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aretw0/introspection"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/aretw0/notesync/pkg/adapters/fanout"
	"github.com/aretw0/notesync/pkg/core"
)

// Config holds the configuration of the SQLite backend.
type Config struct {
	Path   string // database file, e.g. "notes.db"
	Logger *slog.Logger
	Clock  func() time.Time
}

// Backend is a gorm/SQLite core.Backend.
type Backend struct {
	db     *gorm.DB
	hub    *fanout.Hub
	path   string
	logger *slog.Logger
	now    func() time.Time
}

// Open opens (creating if needed) the database and migrates the schema.
func Open(cfg Config) (*Backend, error) {
	if cfg.Path == "" {
		return nil, errors.New("sqlstore: empty database path")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	db, err := gorm.Open(sqlite.Open(cfg.Path), &gorm.Config{
		Logger:         gormlogger.Discard,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Path, err)
	}
	if err := db.AutoMigrate(&noteRecord{}, &userRecord{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return &Backend{
		db:     db,
		hub:    fanout.New(fanout.DefaultBuffer),
		path:   cfg.Path,
		logger: cfg.Logger,
		now:    cfg.Clock,
	}, nil
}

// Close ends every subscription and closes the database.
func (b *Backend) Close() error {
	b.hub.CloseAll()
	sqlDB, err := b.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// QueryNotes implements core.Backend. Tombstones are included.
func (b *Backend) QueryNotes(ctx context.Context) ([]core.Note, error) {
	var records []noteRecord
	err := b.db.WithContext(ctx).Order("created_at, id").Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("query notes: %w", err)
	}
	notes := make([]core.Note, 0, len(records))
	for _, r := range records {
		notes = append(notes, r.toNote())
	}
	return notes, nil
}

// GetNote implements core.Backend.
func (b *Backend) GetNote(ctx context.Context, id string) (core.Note, error) {
	var r noteRecord
	err := b.db.WithContext(ctx).First(&r, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return core.Note{}, fmt.Errorf("note %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Note{}, fmt.Errorf("get note %s: %w", id, err)
	}
	return r.toNote(), nil
}

// SaveNote implements core.Backend. A note without ID is created; on update
// the owner and creation time of the stored row are kept. A tombstoned row
// cannot be brought back and yields core.ErrNotFound.
func (b *Backend) SaveNote(ctx context.Context, n core.Note) (core.Note, error) {
	op := core.OpUpdated
	err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var prev noteRecord
		err := tx.First(&prev, "id = ?", n.ID).Error
		switch {
		case n.ID == "" || errors.Is(err, gorm.ErrRecordNotFound):
			op = core.OpInserted
			if n.ID == "" {
				n.ID = uuid.NewString()
			}
			n.Version = 0
		case err != nil:
			return err
		case prev.Deleted && !n.Deleted:
			return fmt.Errorf("note %s is deleted: %w", n.ID, core.ErrNotFound)
		default:
			n.Version = prev.Version
			n.CreatedAt = prev.CreatedAt
			n.OwnerID = prev.OwnerID
		}
		n.Version++
		n.LastChangedAt = b.now().UTC()
		if n.Deleted {
			op = core.OpDeleted
		}
		rec := fromNote(n)
		return tx.Save(&rec).Error
	})
	if err != nil {
		return core.Note{}, fmt.Errorf("save note: %w", err)
	}

	b.hub.Publish(core.Change{Op: op, Note: n, Timestamp: n.LastChangedAt.Unix()})
	return n, nil
}

// DeleteNote implements core.Backend. The row is kept as a tombstone.
func (b *Backend) DeleteNote(ctx context.Context, n core.Note) error {
	var stored core.Note
	err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var r noteRecord
		if err := tx.First(&r, "id = ?", n.ID).Error; err != nil {
			return err
		}
		r.Deleted = true
		r.Version++
		r.LastChangedAt = b.now().UTC()
		if err := tx.Save(&r).Error; err != nil {
			return err
		}
		stored = r.toNote()
		return nil
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("note %s: %w", n.ID, core.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("delete note %s: %w", n.ID, err)
	}

	b.hub.Publish(core.Change{Op: core.OpDeleted, Note: stored, Timestamp: stored.LastChangedAt.Unix()})
	return nil
}

// QueryUsers implements core.Backend.
func (b *Backend) QueryUsers(ctx context.Context, username string) ([]core.User, error) {
	var records []userRecord
	err := b.db.WithContext(ctx).Where("username = ?", username).Order("created_at, id").Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	users := make([]core.User, 0, len(records))
	for _, r := range records {
		users = append(users, r.toUser())
	}
	return users, nil
}

// SaveUser implements core.Backend. The unique username index turns a
// duplicate into core.ErrConflict.
func (b *Backend) SaveUser(ctx context.Context, u core.User) (core.User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := b.now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	u.Version = 1

	rec := fromUser(u)
	if err := b.db.WithContext(ctx).Create(&rec).Error; err != nil {
		if isUniqueViolation(err) {
			return core.User{}, fmt.Errorf("username %q: %w", u.Username, core.ErrConflict)
		}
		return core.User{}, fmt.Errorf("save user: %w", err)
	}
	return u, nil
}

func isUniqueViolation(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Observe implements core.Backend. Only core.KindNote is supported.
func (b *Backend) Observe(ctx context.Context, kind core.Kind) (core.Subscription, error) {
	if kind != core.KindNote {
		return nil, fmt.Errorf("observe %s: unsupported kind", kind)
	}
	return b.hub.Subscribe(ctx), nil
}

// StartSync implements core.Backend. It checks the database is reachable.
func (b *Backend) StartSync(ctx context.Context) error {
	sqlDB, err := b.db.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %w", core.ErrOffline, err)
	}
	return nil
}

// BackendState exposes internal state for observability.
type BackendState struct {
	Path          string `json:"path"`
	Subscriptions int    `json:"subscriptions"`
	Dropped       uint64 `json:"dropped"`
	OpenConns     int    `json:"open_conns"`
}

// State implements introspection.Introspectable.
func (b *Backend) State() any {
	st := BackendState{
		Path:          b.path,
		Subscriptions: b.hub.Len(),
		Dropped:       b.hub.Dropped(),
	}
	if sqlDB, err := b.db.DB(); err == nil {
		st.OpenConns = sqlDB.Stats().OpenConnections
	}
	return st
}

// ComponentType implements introspection.Component.
func (b *Backend) ComponentType() string {
	return "sqlite-backend"
}

var _ core.Backend = (*Backend)(nil)
var _ introspection.Introspectable = (*Backend)(nil)
var _ introspection.Component = (*Backend)(nil)
