package inbound_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/marrow-wiki/mbr/internal/inbound"
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

func cfg(root string) inbound.Config {
	return inbound.Config{RootDir: root, MarkdownExtensions: []string{"md"}}
}

func TestFindBasicInlineLink(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFile(t, root, "target.md", "# Target")
	writeFile(t, root, "source.md", "Here is a [link to target](target/).")

	links := inbound.Find(cfg(root), "/target/")
	if len(links) != 1 {
		t.Fatalf("expected 1 link, got %+v", links)
	}
	if links[0].From != "/source/" || links[0].Text != "link to target" {
		t.Errorf("unexpected link: %+v", links[0])
	}
}

func TestFindWithAnchor(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFile(t, root, "target.md", "# Target")
	writeFile(t, root, "source.md", "Link: [section link](target/#section)")

	links := inbound.Find(cfg(root), "/target/")
	if len(links) != 1 || links[0].Anchor != "#section" {
		t.Fatalf("unexpected links: %+v", links)
	}
}

func TestFindWikiStyleWithDisplayText(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFile(t, root, "Japan.md", "# Japan")
	writeFile(t, root, "source.md", "Visit [[Japan|the Land of the Rising Sun]].")

	links := inbound.Find(cfg(root), "/Japan/")
	if len(links) != 1 || links[0].Text != "the Land of the Rising Sun" {
		t.Fatalf("unexpected links: %+v", links)
	}
}

func TestFindWikiStyleCaseInsensitive(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFile(t, root, "Japan.md", "# Japan")
	writeFile(t, root, "source.md", "See [[japan]] for details.")

	links := inbound.Find(cfg(root), "/Japan/")
	if len(links) != 1 {
		t.Fatalf("expected 1 link, got %+v", links)
	}
}

func TestFindRelativePathFromSubfolder(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFile(t, root, "coins/tricks/3-fly.md", "# 3 Fly Trick")
	writeFile(t, root, "coins/overview.md", "Check out [3 Fly](tricks/3-fly/) for more.")

	links := inbound.Find(cfg(root), "/coins/tricks/3-fly/")
	if len(links) != 1 || links[0].From != "/coins/overview/" {
		t.Fatalf("unexpected links: %+v", links)
	}
}

func TestFindRelativePathWithParentTraversal(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFile(t, root, "coins/tricks/3-fly.md", "# 3 Fly Trick")
	writeFile(t, root, "cards/overview.md", "See also [3 Fly](../coins/tricks/3-fly/) coin trick.")

	links := inbound.Find(cfg(root), "/coins/tricks/3-fly/")
	if len(links) != 1 || links[0].From != "/cards/overview/" {
		t.Fatalf("unexpected links: %+v", links)
	}
}

func TestFindAbsolutePath(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFile(t, root, "coins/tricks/3-fly.md", "# 3 Fly Trick")
	writeFile(t, root, "cards/overview.md", "See also [3 Fly](/coins/tricks/3-fly/) coin trick.")

	links := inbound.Find(cfg(root), "/coins/tricks/3-fly/")
	if len(links) != 1 || links[0].From != "/cards/overview/" {
		t.Fatalf("unexpected links: %+v", links)
	}
}

func TestFindMixedMarkdownAndWikiDedupesBySource(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFile(t, root, "target.md", "# Target")
	writeFile(t, root, "source.md", "See [standard](target/) and [[target]].")

	links := inbound.Find(cfg(root), "/target/")
	if len(links) != 1 {
		t.Fatalf("expected exactly 1 deduplicated link, got %+v", links)
	}
}

func TestFindMultipleSources(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFile(t, root, "target.md", "# Target")
	writeFile(t, root, "source1.md", "See [link](target/).")
	writeFile(t, root, "source2.md", "Also see [another link](target/).")

	links := inbound.Find(cfg(root), "/target/")
	if len(links) != 2 {
		t.Fatalf("expected 2 links, got %+v", links)
	}
}

func TestFindRelativeWithMdExtension(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFile(t, root, "coins/tricks/3-fly.md", "# 3 Fly")
	writeFile(t, root, "coins/index.md", "See [3 Fly](tricks/3-fly.md) for more.")

	links := inbound.Find(cfg(root), "/coins/tricks/3-fly/")
	if len(links) != 1 || links[0].From != "/coins/index/" {
		t.Fatalf("unexpected links: %+v", links)
	}
}
