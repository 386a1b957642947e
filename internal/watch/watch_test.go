package watch_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/marrow-wiki/mbr/internal/index"
	"github.com/marrow-wiki/mbr/internal/watch"
)

func newIndex(t *testing.T, root string) *index.Index {
	t.Helper()
	cfg := index.Config{
		RootDir:            root,
		StaticFolder:       "static",
		MarkdownExtensions: []string{"md"},
		IndexFile:          "index.md",
	}
	return index.New(cfg, nil)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestWatcherIndexesNewMarkdownFile(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	idx := newIndex(t, root)
	if err := idx.ScanAll(context.Background()); err != nil {
		t.Fatalf("ScanAll: %v", err)
	}

	invalidated := make(chan struct{}, 8)
	w := watch.New(root, []string{"md"}, idx, func() { invalidated <- struct{}{} }, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Close()

	target := filepath.Join(root, "new.md")
	if err := os.WriteFile(target, []byte("# New"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		_, ok := idx.MarkdownInfo(target)
		return ok
	})

	select {
	case <-invalidated:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected invalidation callback to fire")
	}
}

func TestWatcherRemovesDeletedFile(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	target := filepath.Join(root, "gone.md")
	if err := os.WriteFile(target, []byte("# Gone"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	idx := newIndex(t, root)
	if err := idx.ScanAll(context.Background()); err != nil {
		t.Fatalf("ScanAll: %v", err)
	}

	w := watch.New(root, []string{"md"}, idx, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Close()

	if err := os.Remove(target); err != nil {
		t.Fatalf("remove: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		_, ok := idx.MarkdownInfo(target)
		return !ok
	})
}
