// Package linktransform rewrites relative markdown links so they keep
// resolving once a page is served at a trailing-slash URL (e.g. /docs/about/
// rather than /docs/about.md). It is consumed from the goldmark AST
// transformer in internal/renderer, but kept dependency-free and pure so the
// URL algebra can be tested in isolation.
package linktransform

import "strings"

// Config parameterizes link rewriting for the page currently being rendered.
type Config struct {
	MarkdownExtensions []string
	IndexFile          string
	// IsIndexFile is true when the page being rendered is itself an index
	// page (served at a directory URL), which changes how many ../ segments
	// are needed to reach a sibling.
	IsIndexFile bool
}

var absoluteURLPrefixes = []string{"http://", "https://", "//", "ftp://", "file://"}

var passthroughSchemes = []string{"data:", "javascript:", "mailto:"}

// TransformLink rewrites a single href/src value found in markdown content.
// Absolute URLs (http, https, protocol-relative, ftp, file), fragment-only
// links, root-relative links and data:, javascript: and mailto: links are
// returned unchanged; any other scheme is treated as a relative path.
func TransformLink(url string, cfg Config) string {
	if strings.TrimSpace(url) == "" {
		return url
	}
	if strings.HasPrefix(url, "#") {
		return url
	}
	if isAbsoluteURL(url) {
		return url
	}
	if strings.HasPrefix(url, "/") {
		return url
	}
	if hasPassthroughScheme(url) {
		return url
	}

	path, suffix := splitURLParts(url)
	if path == "" {
		return url
	}
	path = strings.TrimPrefix(path, "./")
	parentCount, remaining := countParentTraversals(path)

	upCount := parentCount
	if !cfg.IsIndexFile {
		upCount++
	}
	prefix := strings.Repeat("../", upCount)

	if remaining == "" {
		return prefix + suffix
	}

	stripped, isMarkdown := stripMarkdownExtension(remaining, cfg.MarkdownExtensions)
	if !isMarkdown {
		return prefix + remaining + suffix
	}

	finalPath := collapseIndexStem(stripped, indexStem(cfg.IndexFile))
	if finalPath == "" && prefix == "" {
		return "./" + suffix
	}
	return prefix + finalPath + suffix
}

// collapseIndexStem turns ".../index" into ".../" (a directory URL) and any
// other markdown-extension-stripped path into "path/". The suffix match
// against stem is intentionally unanchored: a file literally named
// "reindex.md" also collapses.
func collapseIndexStem(strippedPath, stem string) string {
	if stem != "" && strings.HasSuffix(strippedPath, stem) {
		trimmed := strings.TrimSuffix(strippedPath, stem)
		trimmed = strings.TrimSuffix(trimmed, "/")
		if trimmed == "" {
			return ""
		}
		return trimmed + "/"
	}
	return strippedPath + "/"
}

func isAbsoluteURL(url string) bool {
	for _, prefix := range absoluteURLPrefixes {
		if strings.HasPrefix(url, prefix) {
			return true
		}
	}
	return false
}

func hasPassthroughScheme(url string) bool {
	for _, scheme := range passthroughSchemes {
		if strings.HasPrefix(url, scheme) {
			return true
		}
	}
	return false
}

// splitURLParts splits off a trailing #fragment or ?query, whichever begins
// first, keeping its delimiter attached to the suffix.
func splitURLParts(url string) (path, suffix string) {
	hashIdx := strings.IndexByte(url, '#')
	queryIdx := strings.IndexByte(url, '?')

	idx := -1
	switch {
	case hashIdx == -1 && queryIdx == -1:
		return url, ""
	case hashIdx == -1:
		idx = queryIdx
	case queryIdx == -1:
		idx = hashIdx
	case hashIdx < queryIdx:
		idx = hashIdx
	default:
		idx = queryIdx
	}
	return url[:idx], url[idx:]
}

func countParentTraversals(path string) (count int, remaining string) {
	remaining = path
	for strings.HasPrefix(remaining, "../") {
		remaining = remaining[len("../"):]
		count++
	}
	return count, remaining
}

func stripMarkdownExtension(path string, extensions []string) (string, bool) {
	for _, ext := range extensions {
		suffix := "." + ext
		if strings.HasSuffix(path, suffix) {
			return strings.TrimSuffix(path, suffix), true
		}
	}
	return path, false
}

// indexStem returns the index filename with its .md or .markdown suffix
// removed. Other configured markdown extensions are deliberately not
// stripped here: the index filename is assumed to end in .md or .markdown
// regardless of what extensions the repository otherwise serves.
func indexStem(indexFile string) string {
	for _, ext := range []string{".md", ".markdown"} {
		if strings.HasSuffix(indexFile, ext) {
			return strings.TrimSuffix(indexFile, ext)
		}
	}
	return indexFile
}
