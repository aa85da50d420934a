package fs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aretw0/notesync/pkg/core"
)

const indexVersion = 1

// indexEntry is the parsed form of a single note file.
type indexEntry struct {
	Note         core.Note `json:"note"`
	LastModified time.Time `json:"lastModified"`
}

// index is the persistent cache state.
type index struct {
	Version int                    `json:"version"`
	Entries map[string]*indexEntry `json:"entries"` // keyed by relative path, e.g. "notes/<id>.yaml"
	dirty   bool
	mu      sync.RWMutex
}

// cache avoids re-parsing unchanged note files on every full query.
type cache struct {
	Path  string // {root}/{systemDir}/index.json
	index *index
}

func newCache(root, systemDir string) *cache {
	return &cache{
		Path: filepath.Join(root, systemDir, "index.json"),
		index: &index{
			Version: indexVersion,
			Entries: make(map[string]*indexEntry),
		},
	}
}

// Load reads the cache from disk. A missing, corrupted or outdated file
// yields an empty index.
func (c *cache) Load() error {
	c.index.mu.Lock()
	defer c.index.mu.Unlock()

	data, err := os.ReadFile(c.Path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read cache: %w", err)
	}

	if err := json.Unmarshal(data, c.index); err != nil || c.index.Version != indexVersion {
		c.index.Version = indexVersion
		c.index.Entries = make(map[string]*indexEntry)
		return nil
	}
	if c.index.Entries == nil {
		c.index.Entries = make(map[string]*indexEntry)
	}
	c.index.dirty = false
	return nil
}

// Save persists the cache if it changed since the last Load or Save.
func (c *cache) Save() error {
	c.index.mu.RLock()
	if !c.index.dirty {
		c.index.mu.RUnlock()
		return nil
	}
	data, err := json.MarshalIndent(c.index, "", "  ")
	c.index.mu.RUnlock()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(c.Path), 0755); err != nil {
		return err
	}
	if err := writeFileAtomic(c.Path, data, 0644); err != nil {
		return err
	}

	c.index.mu.Lock()
	c.index.dirty = false
	c.index.mu.Unlock()
	return nil
}

// Get returns the cached note when the entry matches the file mtime.
func (c *cache) Get(relPath string, mtime time.Time) (core.Note, bool) {
	c.index.mu.RLock()
	defer c.index.mu.RUnlock()

	entry, ok := c.index.Entries[relPath]
	if !ok || !entry.LastModified.Equal(mtime) {
		return core.Note{}, false
	}
	return entry.Note, true
}

// Set records the parsed note for relPath.
func (c *cache) Set(relPath string, n core.Note, mtime time.Time) {
	c.index.mu.Lock()
	defer c.index.mu.Unlock()

	c.index.Entries[relPath] = &indexEntry{Note: n, LastModified: mtime}
	c.index.dirty = true
}

// Prune removes entries that are not in the keep set.
func (c *cache) Prune(keep map[string]bool) {
	c.index.mu.Lock()
	defer c.index.mu.Unlock()

	for path := range c.index.Entries {
		if !keep[path] {
			delete(c.index.Entries, path)
			c.index.dirty = true
		}
	}
}

// Delete removes a single entry.
func (c *cache) Delete(relPath string) {
	c.index.mu.Lock()
	defer c.index.mu.Unlock()

	delete(c.index.Entries, relPath)
	c.index.dirty = true
}

// Len returns the number of entries.
func (c *cache) Len() int {
	c.index.mu.RLock()
	defer c.index.mu.RUnlock()
	return len(c.index.Entries)
}
