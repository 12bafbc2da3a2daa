// Package watch reindexes files as they change on disk.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dshills/reposearch/internal/chunker"
	"github.com/dshills/reposearch/pkg/types"
)

// DefaultDebounce is the quiet period before pending changes are applied
const DefaultDebounce = 500 * time.Millisecond

// Reindexer refreshes one root-relative file. *indexer.Service satisfies it.
type Reindexer interface {
	Reindex(ctx context.Context, path string) error
}

// Config controls a Watcher
type Config struct {
	Root       string
	Debounce   time.Duration     // default DefaultDebounce
	IgnoreDirs []string          // added to chunker.DefaultIgnoreDirs
	Indexable  func(string) bool // default: every file
	// OnReindex is called after each Reindex attempt
	OnReindex func(path string, err error)
}

// Watcher batches filesystem events and calls Reindex once per changed
// file after Debounce of quiet
type Watcher struct {
	target  Reindexer
	cfg     Config
	ignore  map[string]struct{}
	logger  *slog.Logger
	pending map[string]struct{}
	ready   chan struct{}
}

// New creates a Watcher for cfg.Root
func New(target Reindexer, cfg Config, logger *slog.Logger) (*Watcher, error) {
	if target == nil {
		return nil, errors.New("watch: reindexer is required")
	}
	if cfg.Root == "" {
		cfg.Root = "."
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.Indexable == nil {
		cfg.Indexable = func(string) bool { return true }
	}
	if logger == nil {
		logger = slog.Default()
	}

	ignore := make(map[string]struct{})
	for _, d := range chunker.DefaultIgnoreDirs {
		ignore[d] = struct{}{}
	}
	for _, d := range cfg.IgnoreDirs {
		ignore[d] = struct{}{}
	}

	return &Watcher{
		target:  target,
		cfg:     cfg,
		ignore:  ignore,
		logger:  logger.With("component", "watch"),
		pending: make(map[string]struct{}),
		ready:   make(chan struct{}),
	}, nil
}

// Ready is closed once every directory is being watched
func (w *Watcher) Ready() <-chan struct{} {
	return w.ready
}

// Run watches until ctx is done. Pending changes are dropped on exit.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = fw.Close() }()

	if err := w.addDirs(fw, w.cfg.Root); err != nil {
		return fmt.Errorf("failed to add watch directories: %w", err)
	}
	close(w.ready)
	w.logger.Info("watching for changes", "root", w.cfg.Root, "debounce", w.cfg.Debounce)

	timer := time.NewTimer(w.cfg.Debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if w.handle(fw, event) {
				timer.Reset(w.cfg.Debounce)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", "error", err)

		case <-timer.C:
			if w.flush(ctx) {
				timer.Reset(w.cfg.Debounce)
			}
		}
	}
}

// handle records event and reports whether the debounce timer should
// restart
func (w *Watcher) handle(fw *fsnotify.Watcher, event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}

	if event.Op&fsnotify.Create != 0 && isDir(event.Name) {
		if w.skip(filepath.Base(event.Name)) {
			return false
		}
		if err := w.addDirs(fw, event.Name); err != nil {
			w.logger.Warn("failed to watch new directory", "path", event.Name, "error", err)
		}
		return false
	}

	rel, err := filepath.Rel(w.cfg.Root, event.Name)
	if err != nil {
		return false
	}
	return w.add(filepath.ToSlash(rel))
}

// add queues rel when it is indexable
func (w *Watcher) add(rel string) bool {
	if !w.cfg.Indexable(rel) {
		return false
	}
	w.pending[rel] = struct{}{}
	return true
}

// flush reindexes every pending file in path order. Files rejected because
// another run holds the index stay pending; flush reports whether any did.
func (w *Watcher) flush(ctx context.Context) bool {
	if len(w.pending) == 0 {
		return false
	}
	files := make([]string, 0, len(w.pending))
	for f := range w.pending {
		files = append(files, f)
	}
	sort.Strings(files)

	retry := false
	for _, f := range files {
		if ctx.Err() != nil {
			return false
		}
		err := w.target.Reindex(ctx, f)
		if errors.Is(err, types.ErrIndexingInProgress) {
			retry = true
			continue
		}
		delete(w.pending, f)
		if err != nil {
			w.logger.Warn("reindex failed", "path", f, "error", err)
		} else {
			w.logger.Debug("reindexed", "path", f)
		}
		if w.cfg.OnReindex != nil {
			w.cfg.OnReindex(f, err)
		}
	}
	return retry
}

// addDirs watches dir and its subdirectories, skipping ignored and hidden
// ones
func (w *Watcher) addDirs(fw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && w.skip(d.Name()) {
			return filepath.SkipDir
		}
		return fw.Add(path)
	})
}

func (w *Watcher) skip(name string) bool {
	if _, ok := w.ignore[name]; ok {
		return true
	}
	return strings.HasPrefix(name, ".")
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
