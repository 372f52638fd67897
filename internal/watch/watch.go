// Package watch resets detectors when their rule files change on disk.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Resetter is satisfied by *detector.Catalog.
type Resetter interface {
	ResetRuleSet(path string) []string
}

// Metadata tracks reload statistics.
type Metadata struct {
	ReloadCount  int       `json:"reload_count"`
	LastReloadAt time.Time `json:"last_reload_at,omitempty"`
	LastReset    []string  `json:"last_reset,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
}

// Watcher watches a rules directory tree. Bursts of events on the same file
// are coalesced over the debounce window.
type Watcher struct {
	fsw      *fsnotify.Watcher
	resetter Resetter
	onReset  func(ctx context.Context, ids []string)
	debounce time.Duration

	mu       sync.Mutex
	pending  map[string]struct{}
	metadata Metadata

	stopCh chan struct{}
	doneCh chan struct{}
}

// New watches root and every directory below it. onReset, if set, runs after
// detectors were reset (the pipeline purges its cache there).
func New(root string, resetter Resetter, onReset func(ctx context.Context, ids []string)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	w := &Watcher{
		fsw:      fsw,
		resetter: resetter,
		onReset:  onReset,
		debounce: 250 * time.Millisecond,
		pending:  make(map[string]struct{}),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	if err := w.addTree(root); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if err := w.fsw.Add(path); err != nil {
				return fmt.Errorf("watch %s: %w", path, err)
			}
		}
		return nil
	})
}

// Run processes events until ctx is done or Close is called.
func (w *Watcher) Run(ctx context.Context) {
	defer close(w.doneCh)

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !w.handle(ev) {
				continue
			}
			timer.Reset(w.debounce)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Warn("rule watcher error", "error", err)
			w.mu.Lock()
			w.metadata.LastError = err.Error()
			w.mu.Unlock()
		case <-timer.C:
			w.flush(ctx)
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// handle records ev and reports whether a flush should be scheduled.
func (w *Watcher) handle(ev fsnotify.Event) bool {
	if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) {
		return false
	}
	if ev.Has(fsnotify.Create) {
		// new subdirectories of a directory rule set
		if err := w.addTree(ev.Name); err != nil {
			slog.Debug("not watching new entry", "path", ev.Name, "error", err)
		}
	}
	w.mu.Lock()
	w.pending[filepath.Clean(ev.Name)] = struct{}{}
	w.mu.Unlock()
	return true
}

func (w *Watcher) flush(ctx context.Context) {
	w.mu.Lock()
	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	w.pending = make(map[string]struct{})
	w.mu.Unlock()

	var reset []string
	seen := make(map[string]struct{})
	for _, p := range paths {
		for _, id := range w.resetter.ResetRuleSet(p) {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			reset = append(reset, id)
		}
	}
	if len(reset) == 0 {
		return
	}
	slog.Info("rules changed, detectors reset", "detectors", reset)

	w.mu.Lock()
	w.metadata.ReloadCount++
	w.metadata.LastReloadAt = time.Now()
	w.metadata.LastReset = reset
	w.metadata.LastError = ""
	w.mu.Unlock()

	if w.onReset != nil {
		w.onReset(ctx, reset)
	}
}

// Metadata returns current reload statistics.
func (w *Watcher) Metadata() Metadata {
	w.mu.Lock()
	defer w.mu.Unlock()
	m := w.metadata
	m.LastReset = append([]string(nil), m.LastReset...)
	return m
}

// Done is closed when Run returns.
func (w *Watcher) Done() <-chan struct{} { return w.doneCh }

// Close stops the watcher.
func (w *Watcher) Close() error {
	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}
	return w.fsw.Close()
}
