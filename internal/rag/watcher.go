package rag

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/quill-chat/quill/internal/log"
)

// DefaultDebounce is the settle window applied per file before
// re-ingesting. Editors emit bursts of write events; only the last one
// in the window triggers work.
const DefaultDebounce = 500 * time.Millisecond

// Watcher re-ingests files in the docs directory as they change.
type Watcher struct {
	indexer  *Indexer
	dir      string
	debounce time.Duration
	logger   log.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// NewWatcher creates a watcher over dir. A non-positive debounce
// selects DefaultDebounce.
func NewWatcher(indexer *Indexer, dir string, debounce time.Duration, logger log.Logger) (*Watcher, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving watch directory: %w", err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		indexer:  indexer,
		dir:      absDir,
		debounce: debounce,
		logger:   logger,
		pending:  make(map[string]*time.Timer),
	}, nil
}

// Run watches until ctx is canceled. Create and write events schedule a
// debounced re-ingest; remove and rename events delete the file's
// chunks. Subdirectories created while watching are added to the watch
// set.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	defer func() { _ = fsw.Close() }()

	if err := w.addRecursive(fsw, w.dir); err != nil {
		return err
	}
	w.logger.Info("watching docs directory", "dir", w.dir, "debounce", w.debounce)

	defer w.stopPending()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fsw.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			w.handleEvent(ctx, fsw, event)

		case err, ok := <-fsw.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			w.logger.Warn("watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, fsw *fsnotify.Watcher, event fsnotify.Event) {
	name := filepath.Base(event.Name)
	if strings.HasPrefix(name, ".") {
		return
	}

	switch {
	case event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Write):
		// New directories need their own watch; fsnotify is not
		// recursive.
		if event.Op.Has(fsnotify.Create) {
			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				if err := w.addRecursive(fsw, event.Name); err != nil {
					w.logger.Warn("failed to watch new directory", "dir", event.Name, "error", err)
				}
				return
			}
		}
		if findReader(w.indexer.readers, strings.ToLower(filepath.Ext(event.Name))) == nil {
			return
		}
		w.scheduleIngest(ctx, event.Name)

	case event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename):
		w.cancelPending(event.Name)
		if deleted, err := w.indexer.RemoveFile(ctx, event.Name); err != nil {
			w.logger.Warn("failed to remove document chunks", "path", event.Name, "error", err)
		} else if deleted > 0 {
			w.logger.Info("removed document", "path", event.Name, "chunks", deleted)
		}
	}
}

// scheduleIngest arms (or re-arms) the per-file debounce timer.
func (w *Watcher) scheduleIngest(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, exists := w.pending[path]; exists {
		timer.Stop()
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		if chunks, err := w.indexer.AddFile(ctx, path); err != nil {
			w.logger.Warn("failed to re-ingest file", "path", path, "error", err)
		} else {
			w.logger.Info("re-ingested file", "path", path, "chunks", chunks)
		}
	})
}

func (w *Watcher) cancelPending(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if timer, exists := w.pending[path]; exists {
		timer.Stop()
		delete(w.pending, path)
	}
}

func (w *Watcher) stopPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, timer := range w.pending {
		timer.Stop()
		delete(w.pending, path)
	}
}

// addRecursive registers dir and all nested directories.
func (w *Watcher) addRecursive(fsw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := fsw.Add(path); err != nil {
			return fmt.Errorf("watching %s: %w", path, err)
		}
		return nil
	})
}
