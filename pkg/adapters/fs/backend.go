// Package fs implements core.Backend on top of a plain directory.
//
// Every entity is a YAML file: notes live in notes/<id>.yaml and users in
// users/<id>.yaml. Writes are atomic (temp file + rename) and, unless the
// vault is gitless, each write is committed to a local git repository.
// Change events come from an fsnotify watcher, so edits made by other
// processes (or by a git pull) reach every subscriber.
package fs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aretw0/notesync/pkg/core"
	"github.com/aretw0/notesync/pkg/git"
)

const (
	notesDir = "notes"
	usersDir = "users"
	noteExt  = ".yaml"

	// DefaultSystemDir holds the parse cache and the write lock.
	DefaultSystemDir = ".notesync"

	// DefaultPattern selects the files the watcher reports on.
	DefaultPattern = "notes/*.yaml"

	// DefaultDebounce coalesces bursts of writes to the same file.
	DefaultDebounce = 50 * time.Millisecond
)

// Config holds the configuration for the filesystem backend.
type Config struct {
	Path         string
	AutoInit     bool   // git init the vault when it is not a repository yet
	Gitless      bool   // plain directory, no commits
	MustExist    bool   // fail instead of creating the vault directory
	SystemDir    string // e.g. ".notesync"
	Pattern      string // doublestar pattern, relative to Path
	Debounce     time.Duration
	Logger       *slog.Logger
	ErrorHandler func(error)
	Clock        func() time.Time
}

// Backend is a directory-backed core.Backend.
type Backend struct {
	Path   string
	config Config
	git    *git.Client
	cache  *cache

	writeMu sync.Mutex // serializes read-modify-write cycles

	mu            sync.RWMutex
	watchers      int
	subscriptions int
	lastCommit    *time.Time
	lastSync      *time.Time
}

// New creates a filesystem backend. Call Initialize before use.
func New(config Config) *Backend {
	if config.SystemDir == "" {
		config.SystemDir = DefaultSystemDir
	}
	if config.Pattern == "" {
		config.Pattern = DefaultPattern
	}
	if config.Debounce <= 0 {
		config.Debounce = DefaultDebounce
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	return &Backend{
		Path:   config.Path,
		config: config,
		git:    git.NewClient(config.Path, config.SystemDir+".lock", config.Logger),
		cache:  newCache(config.Path, config.SystemDir),
	}
}

// Initialize prepares the vault directory and, unless gitless, the git
// repository. It implements core.Initializer.
func (b *Backend) Initialize(ctx context.Context) error {
	if b.config.MustExist {
		info, err := os.Stat(b.Path)
		if os.IsNotExist(err) {
			return fmt.Errorf("vault path does not exist: %s", b.Path)
		}
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return fmt.Errorf("vault path is not a directory: %s", b.Path)
		}
	}
	for _, dir := range []string{b.Path, b.dir(notesDir), b.dir(usersDir)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create vault directory: %w", err)
		}
	}

	if err := b.cache.Load(); err != nil {
		b.config.Logger.Warn("ignoring unreadable cache", "error", err)
	}

	if b.config.Gitless {
		return nil
	}
	if !git.IsInstalled() {
		return fmt.Errorf("git is not installed")
	}
	if !b.git.IsRepo(ctx) {
		if !b.config.AutoInit {
			return fmt.Errorf("path is not a git repository: %s", b.Path)
		}
		if err := b.git.Init(ctx); err != nil {
			return fmt.Errorf("failed to git init: %w", err)
		}
	}
	if err := b.ensureIgnore(); err != nil {
		return fmt.Errorf("failed to ensure .gitignore: %w", err)
	}
	return b.commit(ctx, ".gitignore", git.FormatMessage(git.CommitTypeChore, "", "ignore notesync files", ""))
}

// ensureIgnore keeps the system directory and the lock file out of git.
func (b *Backend) ensureIgnore() error {
	ignorePath := filepath.Join(b.Path, ".gitignore")
	content, err := os.ReadFile(ignorePath)
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	existing := make(map[string]bool)
	for _, line := range strings.Split(string(content), "\n") {
		existing[strings.TrimSpace(line)] = true
	}

	var missing []string
	for _, entry := range []string{b.config.SystemDir + "/", b.config.SystemDir + ".lock", TempFilePrefix + "*"} {
		if !existing[entry] {
			missing = append(missing, entry)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	out := string(content)
	if out != "" && !strings.HasSuffix(out, "\n") {
		out += "\n"
	}
	out += strings.Join(missing, "\n") + "\n"
	return writeFileAtomic(ignorePath, []byte(out), 0644)
}

func (b *Backend) dir(name string) string {
	return filepath.Join(b.Path, name)
}

func notePath(id string) string {
	return filepath.Join(notesDir, id+noteExt)
}

func userPath(id string) string {
	return filepath.Join(usersDir, id+noteExt)
}

func validateID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("invalid id %q", id)
	}
	return nil
}

func (b *Backend) readNote(id string) (core.Note, error) {
	var n core.Note
	if err := readYAML(filepath.Join(b.Path, notePath(id)), &n); err != nil {
		return core.Note{}, err
	}
	if n.ID == "" {
		n.ID = id
	}
	return n, nil
}

// QueryNotes implements core.Backend. Tombstones are included.
func (b *Backend) QueryNotes(ctx context.Context) ([]core.Note, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(b.dir(notesDir))
	if err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}

	notes := make([]core.Note, 0, len(entries))
	seen := make(map[string]bool, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != noteExt || strings.HasPrefix(name, TempFilePrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue // removed while listing
		}

		rel := filepath.ToSlash(filepath.Join(notesDir, name))
		seen[rel] = true
		if n, ok := b.cache.Get(rel, info.ModTime()); ok {
			notes = append(notes, n)
			continue
		}

		n, err := b.readNote(strings.TrimSuffix(name, noteExt))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, err
		}
		b.cache.Set(rel, n, info.ModTime())
		notes = append(notes, n)
	}

	b.cache.Prune(seen)
	if err := b.cache.Save(); err != nil {
		b.config.Logger.Warn("failed to save cache", "error", err)
	}

	sort.Slice(notes, func(i, j int) bool {
		if notes[i].CreatedAt.Equal(notes[j].CreatedAt) {
			return notes[i].ID < notes[j].ID
		}
		return notes[i].CreatedAt.Before(notes[j].CreatedAt)
	})
	return notes, nil
}

// GetNote implements core.Backend.
func (b *Backend) GetNote(ctx context.Context, id string) (core.Note, error) {
	if err := ctx.Err(); err != nil {
		return core.Note{}, err
	}
	if err := validateID(id); err != nil {
		return core.Note{}, fmt.Errorf("%w: %w", core.ErrNotFound, err)
	}
	n, err := b.readNote(id)
	if errors.Is(err, os.ErrNotExist) {
		return core.Note{}, fmt.Errorf("note %s: %w", id, core.ErrNotFound)
	}
	return n, err
}

// SaveNote implements core.Backend. A note without ID is created.
func (b *Backend) SaveNote(ctx context.Context, n core.Note) (core.Note, error) {
	if err := ctx.Err(); err != nil {
		return core.Note{}, err
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	if n.ID == "" {
		n.ID = uuid.NewString()
	} else if err := validateID(n.ID); err != nil {
		return core.Note{}, err
	}

	prev, err := b.readNote(n.ID)
	switch {
	case err == nil && prev.Deleted && !n.Deleted:
		return core.Note{}, fmt.Errorf("note %s is deleted: %w", n.ID, core.ErrNotFound)
	case err == nil:
		n.Version = prev.Version
		n.CreatedAt = prev.CreatedAt
		n.OwnerID = prev.OwnerID
	case errors.Is(err, os.ErrNotExist):
		n.Version = 0
	default:
		return core.Note{}, err
	}
	n.Version++
	n.LastChangedAt = b.config.Clock().UTC()

	if err := b.writeAndCommit(ctx, notePath(n.ID), n, git.FormatMessage(git.CommitTypeFeat, "notes", "save "+n.ID, "")); err != nil {
		return core.Note{}, err
	}
	return n, nil
}

// DeleteNote implements core.Backend. The file is kept as a tombstone.
func (b *Backend) DeleteNote(ctx context.Context, n core.Note) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateID(n.ID); err != nil {
		return fmt.Errorf("%w: %w", core.ErrNotFound, err)
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	stored, err := b.readNote(n.ID)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("note %s: %w", n.ID, core.ErrNotFound)
	}
	if err != nil {
		return err
	}

	stored.Deleted = true
	stored.Version++
	stored.LastChangedAt = b.config.Clock().UTC()
	return b.writeAndCommit(ctx, notePath(n.ID), stored, git.FormatMessage(git.CommitTypeFeat, "notes", "delete "+n.ID, ""))
}

func (b *Backend) listUsers() ([]core.User, error) {
	entries, err := os.ReadDir(b.dir(usersDir))
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	var users []core.User
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != noteExt || strings.HasPrefix(name, TempFilePrefix) {
			continue
		}
		var u core.User
		if err := readYAML(filepath.Join(b.dir(usersDir), name), &u); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, err
		}
		users = append(users, u)
	}
	return users, nil
}

// QueryUsers implements core.Backend.
func (b *Backend) QueryUsers(ctx context.Context, username string) ([]core.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	users, err := b.listUsers()
	if err != nil {
		return nil, err
	}
	var out []core.User
	for _, u := range users {
		if u.Username == username {
			out = append(out, u)
		}
	}
	return out, nil
}

// SaveUser implements core.Backend. Usernames are unique; a duplicate
// yields core.ErrConflict.
func (b *Backend) SaveUser(ctx context.Context, u core.User) (core.User, error) {
	if err := ctx.Err(); err != nil {
		return core.User{}, err
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	users, err := b.listUsers()
	if err != nil {
		return core.User{}, err
	}
	for _, existing := range users {
		if existing.Username == u.Username {
			return core.User{}, fmt.Errorf("username %q: %w", u.Username, core.ErrConflict)
		}
	}

	if u.ID == "" {
		u.ID = uuid.NewString()
	} else if err := validateID(u.ID); err != nil {
		return core.User{}, err
	}
	now := b.config.Clock().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	u.Version = 1

	if err := b.writeAndCommit(ctx, userPath(u.ID), u, git.FormatMessage(git.CommitTypeFeat, "users", "create "+u.Username, "")); err != nil {
		return core.User{}, err
	}
	return u, nil
}

// StartSync implements core.Backend. It checks that the vault is reachable
// and, when the vault is a git repository with a remote, pulls and pushes.
func (b *Backend) StartSync(ctx context.Context) error {
	info, err := os.Stat(b.Path)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("vault %s unavailable: %w", b.Path, core.ErrOffline)
	}
	if b.config.Gitless {
		return nil
	}

	unlock, err := b.git.Lock(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire git lock: %w", err)
	}
	defer unlock()

	if err := b.git.Sync(ctx); err != nil {
		return fmt.Errorf("%w: %w", core.ErrTransient, err)
	}
	now := time.Now()
	b.mu.Lock()
	b.lastSync = &now
	b.mu.Unlock()
	return nil
}

// writeAndCommit writes v to rel and commits it. When the commit fails the
// previous file content is put back, so a failed save leaves nothing behind.
// Callers hold writeMu.
func (b *Backend) writeAndCommit(ctx context.Context, rel string, v any, msg string) error {
	path := filepath.Join(b.Path, rel)
	prev, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	existed := err == nil

	if err := writeYAMLAtomic(path, v); err != nil {
		return err
	}
	commitErr := b.commit(ctx, rel, msg)
	if commitErr == nil {
		return nil
	}

	var restoreErr error
	if existed {
		restoreErr = writeFileAtomic(path, prev, 0644)
	} else {
		restoreErr = os.Remove(path)
	}
	if restoreErr != nil {
		b.config.Logger.Error("failed to roll back write", "path", rel, "error", restoreErr)
		return errors.Join(commitErr, restoreErr)
	}
	b.config.Logger.Warn("write rolled back", "path", rel, "error", commitErr)
	return commitErr
}

// commit records a single file change when the vault is versioned.
func (b *Backend) commit(ctx context.Context, rel, msg string) error {
	if b.config.Gitless {
		return nil
	}
	unlock, err := b.git.Lock(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire git lock: %w", err)
	}
	defer unlock()

	if err := b.git.Add(ctx, filepath.ToSlash(rel)); err != nil {
		return fmt.Errorf("failed to git add: %w", err)
	}
	if err := b.git.Commit(ctx, msg); err != nil {
		// Unstage so the rolled back file does not linger in the index.
		_, _ = b.git.Run(context.WithoutCancel(ctx), "reset", "-q", "--", filepath.ToSlash(rel))
		return fmt.Errorf("failed to git commit: %w", err)
	}
	now := time.Now()
	b.mu.Lock()
	b.lastCommit = &now
	b.mu.Unlock()
	return nil
}

var _ core.Backend = (*Backend)(nil)
var _ core.Initializer = (*Backend)(nil)
