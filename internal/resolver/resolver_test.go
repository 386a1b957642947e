package resolver_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/marrow-wiki/mbr/internal/resolver"
)

func newFixture(t *testing.T) (string, resolver.Config) {
	t.Helper()
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "static"), 0o755); err != nil {
		t.Fatal(err)
	}
	cfg := resolver.Config{
		BaseDir:            dir,
		StaticFolder:       "static",
		MarkdownExtensions: []string{"md"},
		IndexFile:          "index.md",
	}
	return dir, cfg
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestResolveDirectMarkdownFile(t *testing.T) {
	t.Parallel()
	dir, cfg := newFixture(t)
	writeFile(t, filepath.Join(dir, "readme.md"), "# Test")

	got := resolver.Resolve(cfg, "readme.md")
	if got.Kind != resolver.KindMarkdownFile || got.Path != filepath.Join(dir, "readme.md") {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestResolveDirectStaticFile(t *testing.T) {
	t.Parallel()
	dir, cfg := newFixture(t)
	writeFile(t, filepath.Join(dir, "image.png"), "fake image")

	got := resolver.Resolve(cfg, "image.png")
	if got.Kind != resolver.KindStaticFile || got.Path != filepath.Join(dir, "image.png") {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestResolveDirectoryWithIndex(t *testing.T) {
	t.Parallel()
	dir, cfg := newFixture(t)
	writeFile(t, filepath.Join(dir, "docs", "index.md"), "# Docs")

	got := resolver.Resolve(cfg, "docs")
	want := filepath.Join(dir, "docs", "index.md")
	if got.Kind != resolver.KindMarkdownFile || got.Path != want {
		t.Fatalf("unexpected result: %+v, want path %q", got, want)
	}
}

func TestResolveTrailingSlashToMarkdown(t *testing.T) {
	t.Parallel()
	dir, cfg := newFixture(t)
	writeFile(t, filepath.Join(dir, "about.md"), "# About")

	got := resolver.Resolve(cfg, "about/")
	if got.Kind != resolver.KindMarkdownFile || got.Path != filepath.Join(dir, "about.md") {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestResolveStaticFolderFile(t *testing.T) {
	t.Parallel()
	dir, cfg := newFixture(t)
	writeFile(t, filepath.Join(dir, "static", "style.css"), "body {}")

	got := resolver.Resolve(cfg, "style.css")
	want, err := filepath.EvalSymlinks(filepath.Join(dir, "static", "style.css"))
	if err != nil {
		t.Fatal(err)
	}
	if got.Kind != resolver.KindStaticFile || got.Path != want {
		t.Fatalf("unexpected result: %+v, want path %q", got, want)
	}
}

func TestResolveDirectoryListing(t *testing.T) {
	t.Parallel()
	dir, cfg := newFixture(t)
	subdir := filepath.Join(dir, "posts")
	if err := os.Mkdir(subdir, 0o755); err != nil {
		t.Fatal(err)
	}

	got := resolver.Resolve(cfg, "posts/")
	if got.Kind != resolver.KindDirectoryListing || got.Path != subdir {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestResolveNotFound(t *testing.T) {
	t.Parallel()
	_, cfg := newFixture(t)

	got := resolver.Resolve(cfg, "nonexistent")
	if got.Kind != resolver.KindNotFound {
		t.Fatalf("expected not found, got %+v", got)
	}
}

func TestResolveRejectsPathTraversal(t *testing.T) {
	t.Parallel()
	dir, cfg := newFixture(t)
	// A sibling file outside the repository root must never be reachable.
	outside := filepath.Join(filepath.Dir(dir), "secret.md")
	writeFile(t, outside, "# Secret")
	defer os.Remove(outside)

	got := resolver.Resolve(cfg, "../secret.md")
	if got.Kind != resolver.KindNotFound {
		t.Fatalf("expected traversal to be rejected, got %+v", got)
	}
}
