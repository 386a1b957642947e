// Package staticsite builds a deployable static HTML bundle from a
// repository index, following internal/exporter's single markdown-tree
// walk and html/template layout approach but driven by internal/index's
// markdown/other-file maps and trailing-slash url_path convention:
// scan, render markdown pages, render directory/section pages only
// where no markdown page claims the path, symlink other files, overlay
// the static folder, write the .mbr/site.json artefact, and flag
// broken internal links without failing the build.
package staticsite

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/marrow-wiki/mbr/internal/index"
	"github.com/marrow-wiki/mbr/internal/renderer"
	wikistatic "github.com/marrow-wiki/mbr/static"
)

// Options configure a static export run.
type Options struct {
	Root          string
	OutputDir     string
	AssetsDir     string // filesystem override for embedded CSS/JS, empty uses the embedded bundle
	SiteTitle     string
	AssetPrefix   string
	BaseURL       string // canonical origin, e.g. "https://wiki.example.com"; empty omits canonical links
	DarkModeFirst bool
	CleanOutput   bool
	IndexConfig   index.Config
	// SectionsEnabled wraps attributed horizontal rules into <section>
	// elements, matching the live server's renderer.Options.
	SectionsEnabled bool
}

// Stats summarizes a completed export.
type Stats struct {
	MarkdownPages int
	SectionPages  int
	AssetsLinked  int
	BrokenLinks   int
	Duration      time.Duration
}

// BrokenLink is an internal link whose target was not found in the index.
type BrokenLink struct {
	SourcePage string
	LinkURL    string
}

// Builder renders a repository index into a static HTML bundle.
type Builder struct {
	templates *templateRenderer
	logger    *slog.Logger
}

// New constructs a Builder ready for use.
func New(logger *slog.Logger) (*Builder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	tmpl, err := newTemplateRenderer()
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}
	return &Builder{
		templates: tmpl,
		logger:    logger.With("component", "staticsite"),
	}, nil
}

// Build walks the repository rooted at opts.Root and writes the static
// bundle to opts.OutputDir.
func (b *Builder) Build(ctx context.Context, opts Options) (Stats, error) {
	start := time.Now()
	var stats Stats

	if strings.TrimSpace(opts.Root) == "" {
		return stats, errors.New("root directory is required")
	}
	if strings.TrimSpace(opts.OutputDir) == "" {
		return stats, errors.New("output directory is required")
	}
	if strings.TrimSpace(opts.AssetPrefix) == "" {
		opts.AssetPrefix = "assets"
	}
	if strings.TrimSpace(opts.SiteTitle) == "" {
		opts.SiteTitle = "mbr"
	}

	rootDir, err := filepath.Abs(opts.Root)
	if err != nil {
		return stats, fmt.Errorf("resolve root: %w", err)
	}
	outputDir, err := filepath.Abs(opts.OutputDir)
	if err != nil {
		return stats, fmt.Errorf("resolve output: %w", err)
	}

	if err := prepareOutputDir(outputDir, opts.CleanOutput); err != nil {
		return stats, err
	}

	cfg := opts.IndexConfig
	cfg.RootDir = rootDir
	idx := index.New(cfg, b.logger)
	if err := idx.ScanAll(ctx); err != nil {
		return stats, fmt.Errorf("scan repository: %w", err)
	}

	assets := buildAssetRefs(opts.AssetPrefix)
	assetDest := filepath.Join(outputDir, filepath.FromSlash(opts.AssetPrefix))
	if err := b.copyAssetBundle(assetDest, opts.AssetsDir); err != nil {
		return stats, err
	}

	site := siteViewData{
		Title:         opts.SiteTitle,
		DarkModeFirst: opts.DarkModeFirst,
		BaseURL:       strings.TrimRight(opts.BaseURL, "/"),
	}

	knownURLs := make(map[string]struct{})
	var markdownFiles, otherFiles []string

	walkErr := filepath.WalkDir(rootDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if mi, ok := idx.MarkdownInfo(p); ok {
			markdownFiles = append(markdownFiles, p)
			knownURLs[normalizeURL(mi.URLPath)] = struct{}{}
			return nil
		}
		if ofi, ok := idx.OtherFileInfo(p); ok {
			otherFiles = append(otherFiles, p)
			knownURLs[normalizeURL(ofi.URLPath)] = struct{}{}
		}
		return nil
	})
	if walkErr != nil {
		return stats, fmt.Errorf("collect files: %w", walkErr)
	}

	// OEmbed fetching is left disabled for static exports: a full-repository
	// build is a batch job, not a request/response path, and fetching every
	// bare-URL paragraph's OpenGraph summary serially would make export time
	// scale with outbound link count rather than repository size.
	renderSvc := renderer.NewServiceWithOptions(b.logger, renderer.Options{
		TagSources:         cfg.TagSources,
		MarkdownExtensions: cfg.MarkdownExtensions,
		IndexFile:          cfg.IndexFile,
		SectionsEnabled:    opts.SectionsEnabled,
	})

	var broken []BrokenLink
	for _, p := range markdownFiles {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		info, ok := idx.MarkdownInfo(p)
		if !ok {
			continue
		}

		raw, err := os.ReadFile(p)
		if err != nil {
			return stats, fmt.Errorf("read %s: %w", info.URLPath, err)
		}
		doc, err := renderSvc.Render(ctx, p, info.Modified, raw)
		if err != nil {
			return stats, fmt.Errorf("render %s: %w", info.URLPath, err)
		}

		broken = append(broken, findBrokenLinks(info.URLPath, doc.HTML, knownURLs)...)

		page := pageViewData{
			URL:         info.URLPath,
			Title:       firstNonEmpty(doc.Metadata.Title, titleFromURLPath(info.URLPath)),
			HTML:        template.HTML(doc.HTML), //nolint:gosec // rendered from trusted repository markdown
			Metadata:    doc.Metadata,
			Modified:    doc.Modified,
			Breadcrumbs: breadcrumbsFor(info.URLPath),
		}
		if site.BaseURL != "" {
			page.Canonical = site.BaseURL + page.URL
		}

		layout := layoutViewData{Site: site, Page: page, Assets: assets, HasDocument: true}
		if err := b.writePage(outputDir, urlPathToOutputRel(info.URLPath), layout); err != nil {
			return stats, fmt.Errorf("write page %s: %w", info.URLPath, err)
		}
		stats.MarkdownPages++
	}

	sectionCount, err := b.renderSectionPages(idx, outputDir, site, assets, knownURLs)
	if err != nil {
		return stats, err
	}
	stats.SectionPages = sectionCount

	linked, err := symlinkOtherFiles(otherFiles, idx, outputDir)
	if err != nil {
		return stats, err
	}
	stats.AssetsLinked = linked

	if err := overlayStaticFolder(rootDir, cfg.StaticFolder, outputDir); err != nil {
		return stats, err
	}

	if err := writeMBRFolder(rootDir, outputDir, idx); err != nil {
		return stats, err
	}

	stats.BrokenLinks = len(broken)
	for _, bl := range broken {
		b.logger.Warn("broken internal link", slog.String("source", bl.SourcePage), slog.String("target", bl.LinkURL))
	}

	stats.Duration = time.Since(start)
	b.logger.Info("static build complete",
		slog.Int("pages", stats.MarkdownPages),
		slog.Int("sections", stats.SectionPages),
		slog.Int("broken_links", stats.BrokenLinks),
		slog.String("output", outputDir),
		slog.Duration("duration", stats.Duration))
	return stats, nil
}

func prepareOutputDir(output string, clean bool) error {
	if clean {
		if err := os.RemoveAll(output); err != nil {
			return fmt.Errorf("clean output: %w", err)
		}
	}
	return os.MkdirAll(output, 0o755)
}

func (b *Builder) writePage(outputDir, rel string, data layoutViewData) error {
	dest := filepath.Join(outputDir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer f.Close()
	return b.templates.render(f, "layout", data)
}

// renderSectionPages writes a directory-listing page for the root and
// every ancestor directory of an indexed markdown page or other file,
// skipping any directory
// whose output path already exists on disk — markdown pages take
// precedence over generated section pages.
func (b *Builder) renderSectionPages(idx *index.Index, outputDir string, site siteViewData, assets assetRefs, knownURLs map[string]struct{}) (int, error) {
	dirs := map[string]struct{}{"/": {}}
	for url := range knownURLs {
		for _, d := range parentDirs(url) {
			dirs[d] = struct{}{}
		}
	}

	names := make([]string, 0, len(dirs))
	for d := range dirs {
		names = append(names, d)
	}
	sort.Strings(names)

	count := 0
	for _, dir := range names {
		rel := urlPathToOutputRel(dir)
		dest := filepath.Join(outputDir, filepath.FromSlash(rel))
		if _, err := os.Stat(dest); err == nil {
			continue
		}

		layout := layoutViewData{
			Site:        site,
			Assets:      assets,
			HasDocument: false,
			Children:    idx.Children(dir, index.SortByName),
		}
		layout.Page.URL = dir
		layout.Page.Title = firstNonEmpty(site.Title, titleFromURLPath(dir))
		layout.Page.Breadcrumbs = breadcrumbsFor(dir)

		if err := b.writePage(outputDir, rel, layout); err != nil {
			return count, fmt.Errorf("write section page %s: %w", dir, err)
		}
		count++
	}
	return count, nil
}

func parentDirs(urlPath string) []string {
	trimmed := strings.Trim(urlPath, "/")
	if trimmed == "" {
		return nil
	}
	parts := strings.Split(trimmed, "/")
	parts = parts[:len(parts)-1]
	dirs := make([]string, 0, len(parts))
	for i := range parts {
		dirs = append(dirs, "/"+strings.Join(parts[:i+1], "/")+"/")
	}
	return dirs
}

// symlinkOtherFiles creates relative symlinks from the output tree to
// every non-markdown file the index discovered: files are linked, not
// copied, to avoid duplicating large binary media in the export.
func symlinkOtherFiles(paths []string, idx *index.Index, outputDir string) (int, error) {
	count := 0
	for _, p := range paths {
		ofi, ok := idx.OtherFileInfo(p)
		if !ok {
			continue
		}
		dest := filepath.Join(outputDir, filepath.FromSlash(strings.TrimPrefix(ofi.URLPath, "/")))
		if _, err := os.Lstat(dest); err == nil {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return count, err
		}
		target, err := filepath.Rel(filepath.Dir(dest), p)
		if err != nil {
			target = p
		}
		if err := os.Symlink(target, dest); err != nil {
			return count, fmt.Errorf("symlink %s: %w", dest, err)
		}
		count++
	}
	return count, nil
}

// overlayStaticFolder symlinks files under rootDir/staticFolder into the
// output root, skipping any path already claimed by a rendered page or
// linked asset.
func overlayStaticFolder(rootDir, staticFolder, outputDir string) error {
	if strings.TrimSpace(staticFolder) == "" {
		return nil
	}
	staticPath := filepath.Join(rootDir, staticFolder)
	info, err := os.Stat(staticPath)
	if err != nil || !info.IsDir() {
		return nil
	}
	return filepath.WalkDir(staticPath, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil || d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(staticPath, p)
		if err != nil {
			return err
		}
		dest := filepath.Join(outputDir, rel)
		if _, err := os.Lstat(dest); err == nil {
			return nil
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return err
		}
		target, err := filepath.Rel(filepath.Dir(dest), p)
		if err != nil {
			target = p
		}
		return os.Symlink(target, dest)
	})
}

// writeMBRFolder copies the repository's own .mbr folder (if present)
// and writes the generated site.json artefact into the output's .mbr
// directory.
func writeMBRFolder(rootDir, outputDir string, idx *index.Index) error {
	mbrOutput := filepath.Join(outputDir, ".mbr")
	if err := os.MkdirAll(mbrOutput, 0o755); err != nil {
		return fmt.Errorf("create .mbr dir: %w", err)
	}

	mbrSource := filepath.Join(rootDir, ".mbr")
	if info, err := os.Stat(mbrSource); err == nil && info.IsDir() {
		if err := copyDir(mbrSource, mbrOutput); err != nil {
			return fmt.Errorf("copy .mbr folder: %w", err)
		}
	}

	siteJSON, err := idx.ToJSON()
	if err != nil {
		return fmt.Errorf("encode site.json: %w", err)
	}
	if err := os.WriteFile(filepath.Join(mbrOutput, "site.json"), siteJSON, 0o644); err != nil {
		return fmt.Errorf("write site.json: %w", err)
	}
	return nil
}

func copyDir(src, dst string) error {
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, 0o644)
	})
}

func (b *Builder) copyAssetBundle(dest, override string) error {
	if err := os.RemoveAll(dest); err != nil {
		return fmt.Errorf("reset assets dir: %w", err)
	}
	override = strings.TrimSpace(override)
	if override != "" {
		info, err := os.Stat(override)
		if err == nil && info.IsDir() {
			return copyDir(override, dest)
		}
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("stat assets override: %w", err)
		}
	}
	if err := wikistatic.CopyAll(dest); err != nil {
		return fmt.Errorf("copy embedded assets: %w", err)
	}
	return nil
}

// findBrokenLinks scans rendered HTML for root-relative anchors whose
// target (minus any fragment) is absent from knownURLs.
func findBrokenLinks(sourceURL, html string, knownURLs map[string]struct{}) []BrokenLink {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}
	var broken []BrokenLink
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		if !strings.HasPrefix(href, "/") || strings.HasPrefix(href, "//") {
			return
		}
		target := href
		if idx := strings.IndexByte(target, '#'); idx >= 0 {
			target = target[:idx]
		}
		if target == "" {
			return
		}
		if _, ok := knownURLs[normalizeURL(target)]; !ok {
			broken = append(broken, BrokenLink{SourcePage: sourceURL, LinkURL: href})
		}
	})
	return broken
}

func normalizeURL(urlPath string) string {
	trimmed := strings.Trim(urlPath, "/")
	if trimmed == "" {
		return "/"
	}
	return "/" + trimmed + "/"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func titleFromURLPath(urlPath string) string {
	trimmed := strings.Trim(urlPath, "/")
	if trimmed == "" {
		return "Home"
	}
	parts := strings.Split(trimmed, "/")
	base := parts[len(parts)-1]
	base = strings.ReplaceAll(base, "_", " ")
	words := strings.Split(base, "-")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return strings.Join(words, " ")
}

// urlPathToOutputRel maps a trailing-slash url_path to its output-file
// relative path, e.g. "/coins/tricks/" -> "coins/tricks/index.html".
func urlPathToOutputRel(urlPath string) string {
	trimmed := strings.Trim(urlPath, "/")
	if trimmed == "" {
		return "index.html"
	}
	return trimmed + "/index.html"
}

type breadcrumb struct {
	Title string
	URL   string
}

func breadcrumbsFor(urlPath string) []breadcrumb {
	trimmed := strings.Trim(urlPath, "/")
	if trimmed == "" {
		return nil
	}
	parts := strings.Split(trimmed, "/")
	out := make([]breadcrumb, 0, len(parts))
	accum := ""
	for i, p := range parts {
		accum += "/" + p + "/"
		crumb := breadcrumb{Title: titleFromURLPath(accum)}
		if i != len(parts)-1 {
			crumb.URL = accum
		}
		out = append(out, crumb)
	}
	return out
}

func buildAssetRefs(prefix string) assetRefs {
	clean := strings.Trim(prefix, "/")
	if clean == "" {
		clean = "assets"
	}
	return assetRefs{
		CSSApp:    clean + "/css/app.css",
		CSSChroma: clean + "/vendor/chroma-github-dark.css",
		JSApp:     clean + "/js/app.js",
	}
}
