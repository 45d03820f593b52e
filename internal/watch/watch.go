// Package watch runs mxgit passes whenever git or the modeler touches the
// files the shadow store mirrors.
//
// Git hooks cover commits, checkouts and merges, but not every operation
// (a reset or a rebase step fires no hook). Watch mode closes that gap: it
// watches the git directory and the repository root with fsnotify, batches
// bursts of events and runs one pass after the burst settles.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// PassFunc is one synchronization pass. changed lists the paths whose
// events triggered it.
type PassFunc func(ctx context.Context, changed []string) error

// Options configures a Watcher.
type Options struct {
	// Root is the working tree root
	Root string

	// GitDir is the per-worktree git directory (HEAD, index, MERGE_HEAD)
	GitDir string

	// Names are the file names in Root that trigger a pass, e.g. the
	// artifact, its lock file and the merge marker
	Names []string

	// Debounce is how long the watcher waits for events to stop before
	// running a pass
	Debounce time.Duration

	Logger *slog.Logger
}

// Watcher batches file system events into passes.
type Watcher struct {
	opts    Options
	watcher *fsnotify.Watcher
	names   map[string]bool

	changeQueue   map[string]time.Time // path -> last event
	changeQueueMu sync.Mutex
}

// New creates a Watcher. Run starts watching.
func New(opts Options) (*Watcher, error) {
	if opts.Root == "" || opts.GitDir == "" {
		return nil, errors.New("watch requires a root and a git directory")
	}
	if opts.Debounce <= 0 {
		return nil, fmt.Errorf("debounce must be positive, got %s", opts.Debounce)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	names := make(map[string]bool, len(opts.Names))
	for _, n := range opts.Names {
		names[n] = true
	}

	return &Watcher{
		opts:        opts,
		watcher:     fsw,
		names:       names,
		changeQueue: make(map[string]time.Time),
	}, nil
}

// Close releases the fsnotify watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

// relevant reports whether an event should trigger a pass.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return false
	}

	dir, name := filepath.Split(event.Name)
	dir = filepath.Clean(dir)

	switch dir {
	case filepath.Clean(w.opts.GitDir):
		// git writes <name>.lock and renames it over <name>; the rename
		// target produces its own event
		return !strings.HasSuffix(name, ".lock")
	case filepath.Clean(w.opts.Root):
		return w.names[name]
	}
	return false
}

func (w *Watcher) enqueue(path string) {
	w.changeQueueMu.Lock()
	defer w.changeQueueMu.Unlock()
	w.changeQueue[path] = time.Now()
}

// drain empties the change queue and returns its paths, sorted.
func (w *Watcher) drain() []string {
	w.changeQueueMu.Lock()
	defer w.changeQueueMu.Unlock()

	paths := make([]string, 0, len(w.changeQueue))
	for p := range w.changeQueue {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	w.changeQueue = make(map[string]time.Time)
	return paths
}

// Run watches until ctx is done, calling pass once per settled burst of
// relevant events. A failing pass is logged and watching continues.
func (w *Watcher) Run(ctx context.Context, pass PassFunc) error {
	log := w.opts.Logger

	if err := w.watcher.Add(w.opts.GitDir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.opts.GitDir, err)
	}
	if err := w.watcher.Add(w.opts.Root); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.opts.Root, err)
	}
	log.Info("watching for changes", "root", w.opts.Root, "debounce", w.opts.Debounce)

	timer := time.NewTimer(w.opts.Debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug("watch stopped")
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			log.Debug("change detected", "path", event.Name, "op", event.Op.String())
			w.enqueue(event.Name)
			timer.Reset(w.opts.Debounce)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("watcher error", "error", err)

		case <-timer.C:
			changed := w.drain()
			if len(changed) == 0 {
				continue
			}
			if err := pass(ctx, changed); err != nil {
				log.Error("pass failed", "error", err)
			}
		}
	}
}
