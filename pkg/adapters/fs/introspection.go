package fs

import (
	"time"

	"github.com/aretw0/introspection"
)

// BackendState exposes internal state for observability.
type BackendState struct {
	Path          string     `json:"path"`
	SystemDir     string     `json:"system_dir"`
	Pattern       string     `json:"pattern"`
	CacheSize     int        `json:"cache_size"`
	Gitless       bool       `json:"gitless"`
	WatcherActive bool       `json:"watcher_active"`
	Watchers      int        `json:"watchers"`
	Subscriptions int        `json:"subscriptions"`
	LastCommit    *time.Time `json:"last_commit,omitempty"`
	LastSync      *time.Time `json:"last_sync,omitempty"`
}

// State implements introspection.Introspectable.
func (b *Backend) State() any {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return BackendState{
		Path:          b.Path,
		SystemDir:     b.config.SystemDir,
		Pattern:       b.config.Pattern,
		CacheSize:     b.cache.Len(),
		Gitless:       b.config.Gitless,
		WatcherActive: b.watchers > 0,
		Watchers:      b.watchers,
		Subscriptions: b.subscriptions,
		LastCommit:    b.lastCommit,
		LastSync:      b.lastSync,
	}
}

// ComponentType implements introspection.Component.
func (b *Backend) ComponentType() string {
	return "fs-backend"
}

var _ introspection.Introspectable = (*Backend)(nil)
var _ introspection.Component = (*Backend)(nil)

func (b *Backend) watcherStarted() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.watchers++
}

func (b *Backend) watcherStopped() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.watchers--
}
