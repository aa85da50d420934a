package platform

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aretw0/notesync/pkg/adapters/fs"
	"github.com/aretw0/notesync/pkg/adapters/memory"
	"github.com/aretw0/notesync/pkg/adapters/netwatch"
	"github.com/aretw0/notesync/pkg/adapters/remote"
	"github.com/aretw0/notesync/pkg/adapters/sqlstore"
	"github.com/aretw0/notesync/pkg/core"
	"github.com/aretw0/notesync/pkg/engine"
	"github.com/aretw0/notesync/pkg/git"
)

// DefaultDatabase is the sqlite file used when the URI is empty.
const DefaultDatabase = "notesync.db"

// Client is an Engine together with the backend it owns.
type Client struct {
	*engine.Engine
	Backend core.Backend
}

// Close stops the engine and releases the backend.
func (c *Client) Close() error {
	err := c.Engine.Close()
	if closer, ok := c.Backend.(io.Closer); ok {
		err = errors.Join(err, closer.Close())
	}
	return err
}

// New builds a client. The uri is adapter-specific: a directory for "fs",
// a database file for "sqlite", a base URL for "remote", unused for "memory".
// The engine is not started.
//
//	c, err := platform.New("./vault", platform.WithAutoInit(true))
func New(uri string, opts ...Option) (*Client, error) {
	o := parseOptions(opts)

	backend, err := openBackend(uri, o)
	if err != nil {
		return nil, err
	}
	e := engine.New(backend, connectivityFor(backend, o), o.engine)
	return &Client{Engine: e, Backend: backend}, nil
}

// OpenBackend builds the backend named by the adapter option without an
// engine in front of it.
func OpenBackend(uri string, opts ...Option) (core.Backend, error) {
	return openBackend(uri, parseOptions(opts))
}

func openBackend(uri string, o *options) (core.Backend, error) {
	if o.backend != nil {
		return o.backend, nil
	}

	switch o.adapter {
	case AdapterMemory:
		return memory.New(), nil
	case AdapterFS:
		return openFS(uri, o), nil
	case AdapterSQLite:
		if uri == "" {
			uri = DefaultDatabase
		}
		path := ResolveStorePath(uri, o.useTemp())
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, err
		}
		return sqlstore.Open(sqlstore.Config{Path: path, Logger: o.logger})
	case AdapterRemote:
		return remote.New(remote.Config{BaseURL: uri, Logger: o.logger})
	default:
		return nil, fmt.Errorf("unknown adapter: %s", o.adapter)
	}
}

// openFS resolves the vault path and its versioning mode.
func openFS(path string, o *options) *fs.Backend {
	useTemp := o.useTemp()
	resolved := ResolveStorePath(path, useTemp)
	if useTemp {
		o.logger.Warn("running in SAFE MODE (Dev/Test)", "original_path", path, "resolved_path", resolved)
	}

	systemDir := o.systemDir
	if systemDir == "" {
		systemDir = fs.DefaultSystemDir
	}

	var gitless bool
	if o.gitless != nil {
		gitless = *o.gitless
	} else {
		gitless = detectGitless(resolved, systemDir, o.autoInit)
		if gitless {
			o.logger.Debug("auto-detected gitless mode", "path", resolved)
		}
	}

	return fs.New(fs.Config{
		Path:         resolved,
		AutoInit:     o.autoInit,
		Gitless:      gitless,
		MustExist:    !o.autoInit && !useTemp,
		SystemDir:    systemDir,
		Logger:       o.logger,
		ErrorHandler: o.errorHandler,
	})
}

// detectGitless decides the versioning mode of a vault when it was not
// configured: an existing repository is versioned, an existing plain vault
// stays plain, and a fresh vault is versioned when git is available.
func detectGitless(path, systemDir string, autoInit bool) bool {
	if hasFile(path, ".git") {
		return false
	}
	if !autoInit || hasFile(path, systemDir) {
		return true
	}
	return !git.IsInstalled()
}

// connectivityFor picks the reachability monitor. Local backends have none.
func connectivityFor(backend core.Backend, o *options) core.Connectivity {
	if o.connectivity != nil {
		return o.connectivity
	}
	address := o.probeAddress
	if r, ok := backend.(*remote.Backend); ok && address == "" {
		address = r.Address()
	}
	if address == "" {
		return nil
	}
	return netwatch.NewProbe(netwatch.ProbeConfig{
		Address:  address,
		Interval: o.probeInterval,
		Logger:   o.logger,
	})
}
