// Package renderer converts markdown to HTML with caching and syntax highlighting.
package renderer

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	goldmarkmeta "github.com/yuin/goldmark-meta"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer"
	htmlrenderer "github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
	"go.abhg.dev/goldmark/anchor"

	"github.com/marrow-wiki/mbr/internal/linktransform"
	"github.com/marrow-wiki/mbr/internal/media"
	"github.com/marrow-wiki/mbr/internal/oembed"
	"github.com/marrow-wiki/mbr/internal/renderer/transform"
	"github.com/marrow-wiki/mbr/internal/wikilink"
)

// Metadata captures optional frontmatter data rendered alongside a document.
type Metadata struct {
	Raw         map[string]any
	Title       string
	Description string
	Tags        []string
}

// IsZero reports whether the metadata carries any meaningful values.
func (m Metadata) IsZero() bool {
	if m.Title != "" || m.Description != "" || len(m.Tags) > 0 {
		return false
	}
	return len(m.Raw) == 0
}

// OutboundLink is a single link or image reference seen while rendering a
// page, classified by whether it leaves the repository.
type OutboundLink struct {
	URL      string
	Internal bool
}

// Document represents a rendered markdown file.
//
//nolint:govet // field order optimized for readability, not memory
type Document struct {
	HTML     string
	Metadata Metadata
	Modified time.Time
	Raw      string
	Headings []Heading
	Outbound []OutboundLink
}

// Heading is a single heading collected from the rendered document, in
// document order.
type Heading struct {
	Level   int
	Text    string
	ID      string
	Classes []string
}

type cacheEntry struct {
	modTime time.Time
	doc     Document
}

type cacheKey string

// Options configures optional rendering behavior beyond the baseline GFM
// pipeline. The zero value renders plain GFM with link rewriting and media
// detection but no wikilinks or OEmbed fetching.
type Options struct {
	// TagSources declares the valid [[Source:value]] / (Source:value)
	// tag-link sources. Nil or empty disables wikilink expansion.
	TagSources []string
	// MarkdownExtensions lists markdown file extensions, tried in the
	// order a path resolver would use them, for link-target detection.
	MarkdownExtensions []string
	// IndexFile is the filename that represents a directory's index page,
	// used to decide how many "../" segments a relative link needs.
	IndexFile string
	// OEmbed, if non-nil, is used to resolve bare-URL paragraphs into
	// OpenGraph summary HTML. A nil Fetcher leaves such paragraphs as
	// plain links.
	OEmbed *oembed.Fetcher
	// SectionsEnabled wraps horizontal rules followed by an attribute
	// block ("---\n{.intro #start}") into a <section> carrying those
	// attributes, running until the next such marker or the end of the
	// document.
	SectionsEnabled bool
}

func (o Options) tagSourceSet() map[string]struct{} {
	if len(o.TagSources) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(o.TagSources))
	for _, s := range o.TagSources {
		set[strings.ToLower(s)] = struct{}{}
	}
	return set
}

// Service renders markdown into HTML with caching.
// It uses Goldmark for markdown parsing with GitHub-flavored markdown extensions,
// syntax highlighting, and automatic link transformation for wiki-style navigation.
// Rendered documents are cached by path and modification time for improved performance.
type Service struct {
	md         goldmark.Markdown
	logger     *slog.Logger
	cache      sync.Map // map[cacheKey]cacheEntry
	tagSources map[string]struct{}
	linkCfg    linktransform.Config
	oembed     *oembed.Fetcher
}

// contextKey for storing document path and request context during a single
// Convert call.
var (
	docPathKey   = parser.NewContextKey()
	renderCtxKey = parser.NewContextKey()
)

// linkTransformer rewrites relative links and image sources so rendered
// pages keep resolving at their trailing-slash URL, and resolves
// Source:value link destinations into tag pages.
type linkTransformer struct {
	cfg        linktransform.Config
	tagSources map[string]struct{}
}

func (t *linkTransformer) Transform(node *ast.Document, _ text.Reader, pc parser.Context) {
	currentPath := ""
	if v := pc.Get(docPathKey); v != nil {
		if str, ok := v.(string); ok {
			currentPath = str
		}
	}
	cfg := t.cfg
	cfg.IsIndexFile = isIndexPath(currentPath, cfg.IndexFile)

	_ = ast.Walk(node, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch typed := n.(type) {
		case *ast.Link:
			t.transformLink(typed, cfg)
			recordOutbound(pc, string(typed.Destination))
		case *ast.Image:
			t.transformImage(typed, cfg)
			recordOutbound(pc, string(typed.Destination))
		}
		return ast.WalkContinue, nil
	})
}

func isIndexPath(docPath, indexFile string) bool {
	if docPath == "" || indexFile == "" {
		return false
	}
	return path.Base(docPath) == indexFile
}

func (t *linkTransformer) transformLink(link *ast.Link, cfg linktransform.Config) {
	dest := string(link.Destination)
	if len(t.tagSources) > 0 {
		if parsed, ok := wikilink.ParseTagLink(dest, t.tagSources); ok {
			link.Destination = []byte(parsed.URLPath())
			return
		}
	}
	link.Destination = []byte(linktransform.TransformLink(dest, cfg))
}

func (t *linkTransformer) transformImage(img *ast.Image, cfg linktransform.Config) {
	dest := string(img.Destination)
	if dest == "" || strings.HasPrefix(dest, "/static/") {
		return
	}
	img.Destination = []byte(linktransform.TransformLink(dest, cfg))
}

// NewService constructs a markdown renderer with the baseline
// GitHub-flavored markdown configuration and no optional features (no
// wikilinks, no OEmbed fetching). Use NewServiceWithOptions to enable them.
// If logger is nil, the default slog logger is used.
func NewService(logger *slog.Logger) *Service {
	return NewServiceWithOptions(logger, Options{})
}

// NewServiceWithOptions constructs a markdown renderer with the GFM pipeline
// plus the features named in opts:
//   - GitHub-flavored markdown extensions (tables, strikethrough, task lists, autolinks, etc.)
//   - Syntax highlighting with the github-dark theme
//   - YAML frontmatter parsing for document metadata
//   - Link rewriting for relative .md links and image sources
//   - Wikilink / tag-link expansion when opts.TagSources is set
//   - Media-embed detection for video, audio, YouTube, and PDF URLs
//     reached through markdown's image syntax
//   - OEmbed summaries for bare-URL paragraphs when opts.OEmbed is set
//   - Raw HTML rendering enabled (safe for local-only wikis)
//   - Soft line breaks (newlines become spaces, matching GitHub's default behavior)
//
// If logger is nil, the default slog logger is used.
func NewServiceWithOptions(logger *slog.Logger, opts Options) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	markdownExtensions := opts.MarkdownExtensions
	if len(markdownExtensions) == 0 {
		markdownExtensions = []string{"md", "markdown"}
	}
	indexFile := opts.IndexFile
	if indexFile == "" {
		indexFile = "index.md"
	}

	tagSources := opts.tagSourceSet()
	linkCfg := linktransform.Config{MarkdownExtensions: markdownExtensions, IndexFile: indexFile}

	highlight := highlighting.NewHighlighting(
		highlighting.WithStyle("github-dark"),
		highlighting.WithFormatOptions(
			html.WithLineNumbers(false),
			html.WithClasses(true),
		),
		highlighting.WithWrapperRenderer(transform.MermaidWrapper()),
	)

	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			goldmarkmeta.Meta,
			highlight,
			&anchor.Extender{
				Position: anchor.After, // Place anchor link after heading text
			},
		),
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
			parser.WithAttribute(), // Enable attribute syntax for blocks and inlines
			parser.WithASTTransformers(
				util.Prioritized(&headingCollector{}, 50),
				util.Prioritized(&linkTransformer{cfg: linkCfg, tagSources: tagSources}, 100),
				// sectionTransformer no-ops unless opts.SectionsEnabled.
				util.Prioritized(&sectionTransformer{enabled: opts.SectionsEnabled}, 150),
				util.Prioritized(&mediaTransformer{}, 200),
				// oembedTransformer no-ops when opts.OEmbed is nil.
				util.Prioritized(&oembedTransformer{fetcher: opts.OEmbed}, 300),
			),
		),
		goldmark.WithRendererOptions(
			// Enable unsafe HTML rendering to allow raw HTML like GitHub does.
			// This is safe for local-only wikis where all content is trusted.
			htmlrenderer.WithUnsafe(),
			htmlrenderer.WithXHTML(),
			renderer.WithNodeRenderers(
				util.Prioritized(newMediaBlockRenderer(), 0),
				util.Prioritized(newSectionBlockRenderer(), 0),
			),
		),
	)

	return &Service{
		md:         md,
		logger:     logger.With("component", "renderer"),
		tagSources: tagSources,
		linkCfg:    linkCfg,
		oembed:     opts.OEmbed,
	}
}

// Render converts markdown content to HTML, caching results by path and modification time.
// If a cached entry exists with a matching modification time, it is returned immediately.
// Otherwise, the markdown is parsed and rendered, then cached for future requests.
// The path parameter is used for cache key generation and relative link resolution.
func (s *Service) Render(ctx context.Context, docPath string, modTime time.Time, content []byte) (Document, error) {
	key := cacheKey(docPath)

	if entry, ok := s.cache.Load(key); ok {
		if cached, ok := entry.(cacheEntry); ok {
			if !cached.modTime.IsZero() && modTime.Equal(cached.modTime) {
				return cached.doc, nil
			}
		}
	}

	body := content
	if len(s.tagSources) > 0 {
		body = []byte(wikilink.TransformWikilinks(string(content), s.tagSources))
	}
	body = []byte(media.ExpandVidTags(string(body)))

	parserCtx := parser.NewContext()
	parserCtx.Set(docPathKey, docPath)
	parserCtx.Set(renderCtxKey, ctx)
	buf := bytes.NewBuffer(nil)

	if err := s.md.Convert(body, buf, parser.WithContext(parserCtx)); err != nil {
		return Document{}, fmt.Errorf("render markdown: %w", err)
	}

	metadata := extractMetadata(parserCtx)
	doc := Document{
		HTML:     buf.String(),
		Metadata: metadata,
		Modified: modTime,
		Raw:      string(content),
		Headings: headingsFromContext(parserCtx),
		Outbound: outboundFromContext(parserCtx),
	}

	s.cache.Store(key, cacheEntry{modTime: modTime, doc: doc})
	return doc, nil
}

// Invalidate removes the cached entry for the given path.
// This should be called when a document is updated or deleted to ensure
// the next Render call processes the latest content.
func (s *Service) Invalidate(path string) {
	s.cache.Delete(cacheKey(path))
}

func extractMetadata(ctx parser.Context) Metadata {
	raw := goldmarkmeta.Get(ctx)
	var meta Metadata
	if raw == nil {
		return meta
	}

	meta.Raw = make(map[string]any)
	for k, v := range raw {
		meta.Raw[k] = v
		switch k {
		case "title":
			if str, ok := toString(v); ok {
				meta.Title = str
			}
		case "description", "summary":
			if str, ok := toString(v); ok {
				meta.Description = str
			}
		case "tags", "keywords":
			meta.Tags = toStringSlice(v)
		}
	}

	if len(meta.Raw) == 0 {
		meta.Raw = nil
	}

	return meta
}

func toString(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case fmt.Stringer:
		return val.String(), true
	default:
		return "", false
	}
}

func toStringSlice(v any) []string {
	switch vv := v.(type) {
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if str, ok := toString(item); ok {
				out = append(out, str)
			}
		}
		return out
	case []string:
		return append([]string(nil), vv...)
	default:
		if str, ok := toString(v); ok {
			return []string{str}
		}
		return nil
	}
}

// plainText collects the text content of n's descendants, used for alt text
// and figcaptions where only plain text (not nested HTML) is wanted.
func plainText(n ast.Node, source []byte) string {
	var b strings.Builder
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			b.Write(t.Segment.Value(source))
			continue
		}
		b.WriteString(plainText(c, source))
	}
	return b.String()
}

func isExternalLink(dest string) bool {
	return strings.HasPrefix(dest, "http://") || strings.HasPrefix(dest, "https://")
}
