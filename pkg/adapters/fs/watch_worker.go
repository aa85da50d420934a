package fs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/aretw0/lifecycle/pkg/core/worker"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/aretw0/notesync/pkg/core"
)

// watchWorker turns filesystem events under the notes directory into
// change events. It runs under a supervisor that restarts it on failure.
type watchWorker struct {
	*worker.BaseWorker
	backend   *Backend
	pattern   string
	events    chan<- core.Change
	watcher   *fsnotify.Watcher
	debouncer *debouncer[string]
	cancel    context.CancelFunc
}

func newWatchWorker(b *Backend, pattern string, events chan<- core.Change) *watchWorker {
	return &watchWorker{
		BaseWorker: worker.NewBaseWorker("fs-watcher"),
		backend:    b,
		pattern:    pattern,
		events:     events,
	}
}

func (w *watchWorker) Start(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	status := w.State().Status
	if status != worker.StatusCreated && status != worker.StatusPending {
		return fmt.Errorf("watcher already started (status: %s)", status)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(w.backend.dir(notesDir)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", notesDir, err)
	}

	w.watcher = watcher
	w.debouncer = newDebouncer(w.backend.config.Debounce, func(id string) string { return id })
	w.backend.watcherStarted()

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.SetStatus(worker.StatusRunning)
	return w.StartFunc(runCtx, w.run)
}

func (w *watchWorker) Stop(ctx context.Context) error {
	if w.cancel != nil {
		w.StopRequested = true
		w.cancel()
	}
	return w.BaseWorker.Stop(ctx)
}

func (w *watchWorker) State() worker.State {
	return w.ExportState(func(s *worker.State) {
		s.Metadata = map[string]string{
			worker.MetadataType: string(worker.TypeGoroutine),
			"pattern":           w.pattern,
		}
	})
}

func (w *watchWorker) logger() *slog.Logger {
	return w.backend.config.Logger
}

// processFilesystemEvent filters an fsnotify event and schedules the
// matching note for emission. It reports whether the event was accepted.
func (w *watchWorker) processFilesystemEvent(ctx context.Context, event fsnotify.Event) bool {
	w.logger().Debug("event received", "name", event.Name, "op", event.Op.String())

	base := filepath.Base(event.Name)
	if strings.HasPrefix(base, TempFilePrefix) {
		return false
	}
	rel, err := filepath.Rel(w.backend.Path, event.Name)
	if err != nil {
		return false
	}
	if ok, _ := doublestar.Match(w.pattern, filepath.ToSlash(rel)); !ok {
		return false
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return false
	}

	id := strings.TrimSuffix(base, noteExt)
	w.debouncer.add(id, func(id string) { w.emit(ctx, id) })
	return true
}

// emit reads the settled file and sends the change it represents.
func (w *watchWorker) emit(ctx context.Context, id string) {
	change := core.Change{Timestamp: time.Now().Unix()}

	n, err := w.backend.readNote(id)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// Removed by hand: report it as a deletion.
		change.Op = core.OpDeleted
		change.Note = core.Note{ID: id, Deleted: true}
	case err != nil:
		w.handleError(fmt.Errorf("read note %s: %w", id, err))
		return
	default:
		change.Note = n
		switch {
		case n.Deleted:
			change.Op = core.OpDeleted
		case n.Version <= 1:
			change.Op = core.OpInserted
		default:
			change.Op = core.OpUpdated
		}
	}

	defer func() {
		// The subscription may close the channel while stopping.
		_ = recover()
	}()
	select {
	case w.events <- change:
	case <-ctx.Done():
	}
}

func (w *watchWorker) handleError(err error) {
	w.logger().Error("fsnotify error", "error", err)
	if w.backend.config.ErrorHandler != nil {
		w.backend.config.ErrorHandler(err)
	}
}

// run is the main event loop of the worker.
func (w *watchWorker) run(ctx context.Context) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			panicErr := fmt.Errorf("watcher panic: %v", recovered)
			if w.logger().Enabled(ctx, slog.LevelDebug) {
				w.logger().Error("watcher panic", "error", panicErr, "stack", string(debug.Stack()))
			} else {
				w.logger().Error("watcher panic", "error", panicErr)
			}
			err = panicErr
		}
	}()
	defer w.backend.watcherStopped()
	defer w.watcher.Close()

	err = w.loop(ctx)

	// Drain in-flight timers before the owner closes the events channel.
	w.debouncer.stopAndWait(5 * time.Second)
	return err
}

func (w *watchWorker) loop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				if w.StopRequested || ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("watcher events channel closed")
			}
			w.processFilesystemEvent(ctx, event)

		case wErr, ok := <-w.watcher.Errors:
			if !ok {
				if w.StopRequested || ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("watcher errors channel closed")
			}
			w.handleError(wErr)
		}
	}
}
