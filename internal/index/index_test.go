package index_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/marrow-wiki/mbr/internal/index"
)

func writeFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	p := filepath.Join(dir, rel)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func newTestIndex(t *testing.T, root string) *index.Index {
	t.Helper()
	cfg := index.Config{
		RootDir:            root,
		StaticFolder:       "static",
		MarkdownExtensions: []string{"md", "markdown"},
		IgnoreDirs:         []string{"node_modules"},
		IndexFile:          "index.md",
		TagSources:         []string{"tags"},
	}
	return index.New(cfg, nil)
}

func TestScanAllClassifiesFiles(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFile(t, root, "guide.md", "---\ntitle: Guide\ntags: [rust, go]\n---\n\nBody")
	writeFile(t, root, "static/logo.png", "fake-png")
	writeFile(t, root, ".git/HEAD", "ref: refs/heads/main")

	idx := newTestIndex(t, root)
	if err := idx.ScanAll(context.Background()); err != nil {
		t.Fatalf("ScanAll: %v", err)
	}

	mi, ok := idx.MarkdownInfo(filepath.Join(root, "guide.md"))
	if !ok {
		t.Fatalf("expected guide.md to be indexed as markdown")
	}
	if mi.URLPath != "/guide/" {
		t.Errorf("URLPath = %q, want /guide/", mi.URLPath)
	}
	if mi.Frontmatter["title"] != "Guide" {
		t.Errorf("frontmatter title = %v", mi.Frontmatter["title"])
	}

	ofi, ok := idx.OtherFileInfo(filepath.Join(root, "static/logo.png"))
	if !ok {
		t.Fatalf("expected logo.png to be indexed as other file")
	}
	if ofi.Kind != index.KindImage {
		t.Errorf("Kind = %v, want image", ofi.Kind)
	}
	if ofi.URLPath != "/logo.png" {
		t.Errorf("URLPath = %q, want /logo.png (static prefix stripped)", ofi.URLPath)
	}

	if _, ok := idx.OtherFileInfo(filepath.Join(root, ".git/HEAD")); ok {
		t.Errorf("expected dotfile under dot-directory to be skipped")
	}
}

func TestScanAllBuildsTagIndex(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFile(t, root, "a.md", "---\ntags: [Rust]\n---\nA")
	writeFile(t, root, "b.md", "---\ntags: [rust, go]\n---\nB")

	idx := newTestIndex(t, root)
	if err := idx.ScanAll(context.Background()); err != nil {
		t.Fatalf("ScanAll: %v", err)
	}

	pages, ok := idx.TaggedPages("Tags", "rust")
	if !ok || len(pages) != 2 {
		t.Fatalf("expected 2 pages tagged rust, got %+v ok=%v", pages, ok)
	}

	goPages, ok := idx.TaggedPages("tags", "GO")
	if !ok || len(goPages) != 1 {
		t.Fatalf("expected 1 page tagged go, got %+v ok=%v", goPages, ok)
	}
}

func TestRemoveFileDropsTagEntries(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFile(t, root, "a.md", "---\ntags: [rust]\n---\nA")

	idx := newTestIndex(t, root)
	if err := idx.ScanAll(context.Background()); err != nil {
		t.Fatalf("ScanAll: %v", err)
	}

	idx.RemoveFile(filepath.Join(root, "a.md"))

	if _, ok := idx.TaggedPages("tags", "rust"); ok {
		t.Errorf("expected tag entry to be removed after RemoveFile")
	}
}

func TestChildrenSortsDirsFirstThenName(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFile(t, root, "zeta.md", "Z")
	writeFile(t, root, "alpha/index.md", "A")

	idx := newTestIndex(t, root)
	if err := idx.ScanAll(context.Background()); err != nil {
		t.Fatalf("ScanAll: %v", err)
	}

	children := idx.Children("/", index.SortByName)
	if len(children) != 2 {
		t.Fatalf("expected 2 children, got %+v", children)
	}
	if !children[0].IsDir || children[0].Name != "alpha" {
		t.Errorf("expected alpha/ first, got %+v", children[0])
	}
	if children[1].IsDir || children[1].Name != "zeta" {
		t.Errorf("expected zeta second, got %+v", children[1])
	}
}

func TestToJSONIncludesPagesFilesAndTags(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFile(t, root, "a.md", "---\ntags: [rust]\ntitle: A\n---\nA")

	idx := newTestIndex(t, root)
	if err := idx.ScanAll(context.Background()); err != nil {
		t.Fatalf("ScanAll: %v", err)
	}

	data, err := idx.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}
	if len(data) == 0 {
		t.Fatalf("expected non-empty JSON")
	}
}
