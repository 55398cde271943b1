// Package watch reloads the document when its file is edited by another
// program.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/steveyegge/redline/internal/eventbus"
)

// DefaultDelay is the quiet period after the last file event before reloading.
const DefaultDelay = 300 * time.Millisecond

// Target is the document being watched.
type Target interface {
	Path() string
	ReloadFromDisk(ctx context.Context) (bool, error)
}

// Options configures a Watcher.
type Options struct {
	Delay  time.Duration
	Logger *slog.Logger
}

// Watcher follows the directory of the target's current file. The directory
// is watched rather than the file because atomic saves replace the inode.
type Watcher struct {
	target Target
	log    *slog.Logger
	fsw    *fsnotify.Watcher
	deb    *Debouncer

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	dir  string
	base string
}

// New creates a watcher. Call Run to start it and Close to release it.
func New(target Target, opts Options) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	w := &Watcher{target: target, log: opts.Logger, fsw: fsw}
	if w.log == nil {
		w.log = slog.New(slog.DiscardHandler)
	}
	delay := opts.Delay
	if delay <= 0 {
		delay = DefaultDelay
	}
	w.ctx, w.cancel = context.WithCancel(context.Background())
	w.deb = NewDebouncer(delay, w.reload)
	if err := w.Follow(target.Path()); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return w, nil
}

// Follow switches the watch to path's directory. An empty path stops watching.
func (w *Watcher) Follow(path string) error {
	dir, base := "", ""
	if path != "" {
		abs, err := filepath.Abs(path)
		if err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		dir, base = filepath.Dir(abs), filepath.Base(abs)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if dir != w.dir {
		if w.dir != "" {
			_ = w.fsw.Remove(w.dir)
		}
		if dir != "" {
			if err := w.fsw.Add(dir); err != nil {
				w.dir, w.base = "", ""
				return fmt.Errorf("watch %s: %w", dir, err)
			}
		}
	}
	w.dir, w.base = dir, base
	if dir != "" {
		w.log.Debug("watching document", "path", filepath.Join(dir, base))
	}
	return nil
}

// Run delivers file events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if w.matches(ev) {
				w.deb.Trigger()
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("file watcher error", "error", err)
		}
	}
}

func (w *Watcher) matches(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.base != "" && filepath.Base(ev.Name) == w.base && filepath.Dir(ev.Name) == w.dir
}

func (w *Watcher) reload() {
	changed, err := w.target.ReloadFromDisk(w.ctx)
	if err != nil {
		w.log.Warn("reload after external edit failed", "error", err)
		return
	}
	if changed {
		w.log.Info("document reloaded after external edit", "path", w.target.Path())
	}
}

// Handler returns an event-bus handler that follows document switches.
func (w *Watcher) Handler() eventbus.Handler {
	return eventbus.Func("watch", 30, func(_ context.Context, ev *eventbus.Event) error {
		return w.Follow(ev.Path)
	}, eventbus.EventDocumentOpened)
}

// Close stops the watcher and waits for a running reload.
func (w *Watcher) Close() error {
	w.cancel()
	w.deb.CancelAndWait()
	return w.fsw.Close()
}
