package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"tx/internal/logging"
)

// Watcher reloads the configuration when config.yaml or a conf.d file changes.
// Reloads are debounced so an editor's write-rename sequence yields one callback.
type Watcher struct {
	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	dir      string
	onChange func(*Config, error)
	debounce time.Duration
	pending  time.Time
	stopCh   chan struct{}
	doneCh   chan struct{}
	running  bool
}

// NewWatcher creates a watcher for dir. onChange receives the reloaded config
// or the load error.
func NewWatcher(dir string, onChange func(*Config, error)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		watcher:  w,
		dir:      dir,
		onChange: onChange,
		debounce: 150 * time.Millisecond,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start begins watching. It does not block.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.watcher.Add(w.dir); err != nil {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		return err
	}
	dropIns := filepath.Join(w.dir, DropInDir)
	if info, err := os.Stat(dropIns); err == nil && info.IsDir() {
		if err := w.watcher.Add(dropIns); err != nil {
			logging.ConfigWarn("watcher: cannot watch %s: %v", dropIns, err)
		}
	}
	logging.Config("watcher: watching %s", w.dir)

	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		_ = w.watcher.Close()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	if err := w.watcher.Close(); err != nil {
		logging.ConfigWarn("watcher: close: %v", err)
	}
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.debounce / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.ConfigWarn("watcher: %v", err)
		case now := <-ticker.C:
			w.flush(now)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !relevant(event.Name) {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	// A new conf.d directory must be watched too.
	if event.Op&fsnotify.Create != 0 && filepath.Base(event.Name) == DropInDir {
		_ = w.watcher.Add(event.Name)
	}
	logging.ConfigDebug("watcher: %s %s", event.Op, event.Name)
	w.pending = time.Now()
}

func (w *Watcher) flush(now time.Time) {
	if w.pending.IsZero() || now.Sub(w.pending) < w.debounce {
		return
	}
	w.pending = time.Time{}
	cfg, err := Load(w.dir)
	if err != nil {
		logging.ConfigWarn("watcher: reload failed: %v", err)
	}
	w.onChange(cfg, err)
}

func relevant(path string) bool {
	base := filepath.Base(path)
	if base == DropInDir {
		return true
	}
	return strings.HasSuffix(base, ".yaml")
}
