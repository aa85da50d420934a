package platform

import (
	"log/slog"
	"time"

	"github.com/aretw0/notesync/pkg/core"
	"github.com/aretw0/notesync/pkg/engine"
)

// Adapter names accepted by WithAdapter.
const (
	AdapterMemory = "memory"
	AdapterFS     = "fs"
	AdapterSQLite = "sqlite"
	AdapterRemote = "remote"
)

// options holds the internal configuration of a client.
type options struct {
	backend      core.Backend
	connectivity core.Connectivity
	logger       *slog.Logger
	adapter      string
	engine       engine.Config

	probeAddress  string
	probeInterval time.Duration

	autoInit     bool
	gitless      *bool
	systemDir    string
	forceTemp    bool
	devSafety    bool
	errorHandler func(error)
}

// Option defines a functional option for configuring a client.
type Option func(*options)

// defaultOptions returns the default configuration.
func defaultOptions() *options {
	return &options{
		adapter:   AdapterFS,
		devSafety: true,
	}
}

func parseOptions(opts []Option) *options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}
	o.engine.Logger = o.logger
	return o
}

// WithLogger sets the logger for every component.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithBackend injects a backend (e.g. a test double). The adapter option
// and the URI are then ignored.
func WithBackend(b core.Backend) Option {
	return func(o *options) {
		o.backend = b
	}
}

// WithAdapter selects the backend by name: "fs" (default), "sqlite",
// "remote" or "memory".
func WithAdapter(name string) Option {
	return func(o *options) {
		o.adapter = name
	}
}

// WithConnectivity injects the reachability monitor. When absent, a TCP
// probe is used for remote backends and for any WithProbe address.
func WithConnectivity(c core.Connectivity) Option {
	return func(o *options) {
		o.connectivity = c
	}
}

// WithProbe probes address (host:port) every interval to detect
// reconnections. Zero interval means the probe default.
func WithProbe(address string, interval time.Duration) Option {
	return func(o *options) {
		o.probeAddress = address
		o.probeInterval = interval
	}
}

// WithUsername sets the owner identity of new notes.
func WithUsername(name string) Option {
	return func(o *options) {
		o.engine.Username = name
	}
}

// WithCallTimeout bounds every backend call. Negative disables the bound.
func WithCallTimeout(d time.Duration) Option {
	return func(o *options) {
		o.engine.CallTimeout = d
	}
}

// WithReadOnly rejects every mutation with core.ErrReadOnly. It also
// bypasses the dev sandbox, as nothing can be written.
func WithReadOnly(enabled bool) Option {
	return func(o *options) {
		o.engine.ReadOnly = enabled
	}
}

// WithPurgeAfter drops local tombstones older than d.
func WithPurgeAfter(d time.Duration) Option {
	return func(o *options) {
		o.engine.PurgeAfter = d
	}
}

// WithChangeBuffer sets the size of the engine change feed.
func WithChangeBuffer(size int) Option {
	return func(o *options) {
		o.engine.ChangeBuffer = size
	}
}

// WithAutoInit lets the fs adapter create the vault and its git repository.
func WithAutoInit(auto bool) Option {
	return func(o *options) {
		o.autoInit = auto
	}
}

// WithVersioning enables or disables git commits in the fs adapter.
// When not set, versioning is detected from the vault.
func WithVersioning(enabled bool) Option {
	return func(o *options) {
		gitless := !enabled
		o.gitless = &gitless
	}
}

// WithSystemDir sets the hidden directory of the fs adapter (e.g. ".notesync").
func WithSystemDir(name string) Option {
	return func(o *options) {
		o.systemDir = name
	}
}

// WithForceTemp forces local stores into a temporary directory.
func WithForceTemp(force bool) Option {
	return func(o *options) {
		o.forceTemp = force
	}
}

// WithDevSafety controls the sandbox used under `go run` and `go test`.
// By default (true) local stores are re-rooted into a temporary directory.
//
// CAUTION: Only disable this if you are sure your code is safe.
func WithDevSafety(enabled bool) Option {
	return func(o *options) {
		o.devSafety = enabled
	}
}

// WithWatcherErrorHandler receives runtime failures of the fs watcher.
func WithWatcherErrorHandler(fn func(error)) Option {
	return func(o *options) {
		o.errorHandler = fn
	}
}
