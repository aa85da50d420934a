package notesync

import (
	"log/slog"
	"time"

	"github.com/aretw0/notesync/internal/platform"
	"github.com/aretw0/notesync/pkg/core"
	"github.com/aretw0/notesync/pkg/engine"
)

// --- Types ---

// Client is an Engine together with the backend it owns.
type Client = platform.Client

// Note is a short text record owned by a user.
type Note = core.Note

// Change is a remote change notification.
type Change = core.Change

// SyncStatus is the state of the sync controller.
type SyncStatus = engine.SyncStatus

// --- Configuration ---

// Option defines a functional option for configuring a Client.
type Option = platform.Option

// Config is the file and environment form of the options.
type Config = platform.Config

// Adapter names.
const (
	AdapterMemory = platform.AdapterMemory
	AdapterFS     = platform.AdapterFS
	AdapterSQLite = platform.AdapterSQLite
	AdapterRemote = platform.AdapterRemote
)

// Sync statuses.
const (
	SyncStopped  = engine.SyncStopped
	SyncStarting = engine.SyncStarting
	SyncRunning  = engine.SyncRunning
)

// DefaultDatabase is the sqlite file used when the URI is empty.
const DefaultDatabase = platform.DefaultDatabase

// WithLogger sets the logger for every component.
func WithLogger(logger *slog.Logger) Option {
	return platform.WithLogger(logger)
}

// WithBackend injects a custom backend.
func WithBackend(b core.Backend) Option {
	return platform.WithBackend(b)
}

// WithAdapter selects the backend by name.
func WithAdapter(name string) Option {
	return platform.WithAdapter(name)
}

// WithConnectivity injects the reachability monitor.
func WithConnectivity(c core.Connectivity) Option {
	return platform.WithConnectivity(c)
}

// WithProbe probes address every interval to detect reconnections.
func WithProbe(address string, interval time.Duration) Option {
	return platform.WithProbe(address, interval)
}

// WithUsername sets the owner identity of new notes.
func WithUsername(name string) Option {
	return platform.WithUsername(name)
}

// WithCallTimeout bounds every backend call.
func WithCallTimeout(d time.Duration) Option {
	return platform.WithCallTimeout(d)
}

// WithReadOnly rejects every mutation.
func WithReadOnly(enabled bool) Option {
	return platform.WithReadOnly(enabled)
}

// WithPurgeAfter drops local tombstones older than d.
func WithPurgeAfter(d time.Duration) Option {
	return platform.WithPurgeAfter(d)
}

// WithAutoInit lets the fs adapter create the vault and its git repository.
func WithAutoInit(auto bool) Option {
	return platform.WithAutoInit(auto)
}

// WithVersioning enables or disables git commits in the fs adapter.
func WithVersioning(enabled bool) Option {
	return platform.WithVersioning(enabled)
}

// WithSystemDir sets the hidden directory of the fs adapter.
func WithSystemDir(name string) Option {
	return platform.WithSystemDir(name)
}

// WithForceTemp forces local stores into a temporary directory.
func WithForceTemp(force bool) Option {
	return platform.WithForceTemp(force)
}

// WithDevSafety controls the sandbox used under `go run` and `go test`.
func WithDevSafety(enabled bool) Option {
	return platform.WithDevSafety(enabled)
}

// --- Factory ---

// New creates a Client. The engine is not started.
func New(uri string, opts ...Option) (*Client, error) {
	return platform.New(uri, opts...)
}

// OpenBackend builds the configured backend without an engine.
func OpenBackend(uri string, opts ...Option) (core.Backend, error) {
	return platform.OpenBackend(uri, opts...)
}

// LoadConfig reads a YAML config file.
func LoadConfig(path string) (Config, error) {
	return platform.LoadConfig(path)
}

// FindConfig looks upwards from startDir for notesync.yaml.
func FindConfig(startDir string) (string, error) {
	return platform.FindConfig(startDir)
}

// FindVaultRoot looks upwards from startDir for a vault root indicator.
func FindVaultRoot(startDir string) (string, error) {
	return platform.FindRoot(startDir)
}

// --- Safety & Utils ---

// ResolveStorePath determines where a local store actually lives.
func ResolveStorePath(userPath string, forceTemp bool) string {
	return platform.ResolveStorePath(userPath, forceTemp)
}

// IsDevRun checks if the current process is running via `go run` or `go test`.
func IsDevRun() bool {
	return platform.IsDevRun()
}
