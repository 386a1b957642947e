package staticsite

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/marrow-wiki/mbr/internal/index"
)

func newTestBuilder(t *testing.T) *Builder {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	b, err := New(logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return b
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestBuildRendersMarkdownAndSectionPages(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	out := t.TempDir()

	writeFile(t, filepath.Join(root, "index.md"), "# Home\n\nSee [docs](/docs/).")
	writeFile(t, filepath.Join(root, "docs", "guide.md"), "# Guide\n\nHello world.")
	writeFile(t, filepath.Join(root, "docs", "image.png"), "not-a-real-image")

	b := newTestBuilder(t)
	stats, err := b.Build(context.Background(), Options{
		Root:      root,
		OutputDir: out,
		SiteTitle: "Test Wiki",
		IndexConfig: index.Config{
			MarkdownExtensions: []string{"md"},
			IndexFile:          "index.md",
		},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if stats.MarkdownPages != 2 {
		t.Errorf("expected 2 markdown pages, got %d", stats.MarkdownPages)
	}
	if stats.AssetsLinked != 1 {
		t.Errorf("expected 1 linked asset, got %d", stats.AssetsLinked)
	}

	homePath := filepath.Join(out, "index.html")
	home, err := os.ReadFile(homePath)
	if err != nil {
		t.Fatalf("read home page: %v", err)
	}
	if !strings.Contains(string(home), "Home") {
		t.Error("home page missing expected heading")
	}

	guidePath := filepath.Join(out, "docs", "guide", "index.html")
	if _, err := os.Stat(guidePath); err != nil {
		t.Errorf("expected guide page at %s: %v", guidePath, err)
	}

	imgLink := filepath.Join(out, "docs", "image.png")
	info, err := os.Lstat(imgLink)
	if err != nil {
		t.Fatalf("expected symlink at %s: %v", imgLink, err)
	}
	if info.Mode()&os.ModeSymlink == 0 {
		t.Error("expected asset to be linked, not copied")
	}

	siteJSON := filepath.Join(out, ".mbr", "site.json")
	if _, err := os.Stat(siteJSON); err != nil {
		t.Errorf("expected site.json at %s: %v", siteJSON, err)
	}
}

func TestBuildFlagsBrokenLinks(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	out := t.TempDir()

	writeFile(t, filepath.Join(root, "index.md"), "# Home\n\nSee [missing](/nowhere/).")

	b := newTestBuilder(t)
	stats, err := b.Build(context.Background(), Options{
		Root:      root,
		OutputDir: out,
		IndexConfig: index.Config{
			MarkdownExtensions: []string{"md"},
			IndexFile:          "index.md",
		},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if stats.BrokenLinks != 1 {
		t.Errorf("expected 1 broken link, got %d", stats.BrokenLinks)
	}
}

func TestBuildSkipsSectionPageWhenMarkdownClaimsPath(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	out := t.TempDir()

	writeFile(t, filepath.Join(root, "docs", "index.md"), "# Docs Home\n")
	writeFile(t, filepath.Join(root, "docs", "guide.md"), "# Guide\n")

	b := newTestBuilder(t)
	stats, err := b.Build(context.Background(), Options{
		Root:      root,
		OutputDir: out,
		IndexConfig: index.Config{
			MarkdownExtensions: []string{"md"},
			IndexFile:          "index.md",
		},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	docsIndex := filepath.Join(out, "docs", "index.html")
	content, err := os.ReadFile(docsIndex)
	if err != nil {
		t.Fatalf("read docs index: %v", err)
	}
	if !strings.Contains(string(content), "Docs Home") {
		t.Error("expected markdown page content to take precedence over generated section page")
	}

	// Root has no index.md, so a generated section page must exist for it.
	rootIndex := filepath.Join(out, "index.html")
	if _, err := os.Stat(rootIndex); err != nil {
		t.Errorf("expected generated root section page: %v", err)
	}
	_ = stats
}
