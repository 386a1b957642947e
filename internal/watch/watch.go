// Package watch recursively watches a repository root for filesystem
// changes and keeps an internal/index.Index up to date, driving fsnotify
// events into the dual markdown/other-file index and notifying an
// inbound-link cache invalidation hook on any markdown change, per the
// index's concurrency contract.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/marrow-wiki/mbr/internal/index"
)

// InvalidateFunc is called on any markdown create/write/remove/rename
// event, so the inbound-link cache can drop its contents.
type InvalidateFunc func()

// Watcher recursively watches cfg.RootDir and applies changes to idx.
type Watcher struct {
	root           string
	markdownExts   map[string]struct{}
	idx            *index.Index
	onInvalidate   InvalidateFunc
	includeHidden  bool

	fsw    *fsnotify.Watcher
	logger *slog.Logger
}

// New constructs a Watcher over idx rooted at root. onInvalidate may be nil.
func New(root string, markdownExtensions []string, idx *index.Index, onInvalidate InvalidateFunc, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	exts := make(map[string]struct{}, len(markdownExtensions))
	for _, e := range markdownExtensions {
		exts[strings.ToLower(strings.TrimPrefix(e, "."))] = struct{}{}
	}
	return &Watcher{
		root:         root,
		markdownExts: exts,
		idx:          idx,
		onInvalidate: onInvalidate,
		logger:       logger.With("component", "watch"),
	}
}

// Start creates the underlying fsnotify watcher, adds every directory under
// root, and begins processing events in a background goroutine until ctx is
// canceled.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	w.fsw = fsw

	if err := w.addRecursive(w.root); err != nil {
		return fmt.Errorf("watch root: %w", err)
	}

	go w.run(ctx)
	return nil
}

// Close stops the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	if w.fsw == nil {
		return nil
	}
	return w.fsw.Close()
}

func (w *Watcher) run(ctx context.Context) {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", "error", err)
		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Name == "" {
		return
	}
	op := event.Op
	isMarkdown := w.isMarkdown(event.Name)

	w.logger.Debug("fsnotify event", "path", event.Name, "op", op.String())

	switch {
	case op&(fsnotify.Remove|fsnotify.Rename) != 0:
		w.idx.RemoveFile(event.Name)
	case op&(fsnotify.Create|fsnotify.Write) != 0:
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(event.Name); err != nil {
				w.logger.Warn("failed to watch new directory", "path", event.Name, "error", err)
			}
			return
		}
		w.idx.UpdateFile(event.Name)
	}

	if isMarkdown && w.onInvalidate != nil && op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
		w.onInvalidate()
	}
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != w.root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			if err := w.fsw.Add(path); err != nil {
				w.logger.Warn("failed to watch directory", "path", path, "error", err)
			}
		}
		return nil
	})
}

func (w *Watcher) isMarkdown(path string) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	_, ok := w.markdownExts[ext]
	return ok
}
