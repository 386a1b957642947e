// Package resolver maps an incoming URL path to a concrete resource on disk.
//
// Resolve performs filesystem stats but never reads file contents; it is
// deliberately kept free of rendering or I/O concerns so path-matching rules
// can be exercised without a running server.
package resolver

import (
	"os"
	"path/filepath"
	"strings"
)

// Kind classifies the resource a request path resolved to.
type Kind int

const (
	KindNotFound Kind = iota
	KindStaticFile
	KindMarkdownFile
	KindDirectoryListing
)

func (k Kind) String() string {
	switch k {
	case KindStaticFile:
		return "static_file"
	case KindMarkdownFile:
		return "markdown_file"
	case KindDirectoryListing:
		return "directory_listing"
	default:
		return "not_found"
	}
}

// Config parameterizes resolution against a repository root.
type Config struct {
	BaseDir            string
	StaticFolder       string
	MarkdownExtensions []string
	IndexFile          string
}

// Result is the outcome of resolving a single request path.
type Result struct {
	Kind Kind
	Path string
}

var notFound = Result{Kind: KindNotFound}

// Resolve determines what should be served for requestPath under cfg.BaseDir.
//
// Order: direct file match; directory with cfg.IndexFile; request path plus
// each markdown extension; a match inside the static folder; directory with
// index.{ext}; directory listing; not found.
func Resolve(cfg Config, requestPath string) Result {
	candidate := filepath.Join(cfg.BaseDir, requestPath)
	if !isContained(cfg.BaseDir, candidate) {
		return notFound
	}

	if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
		if isMarkdownFile(candidate, cfg.MarkdownExtensions) {
			return Result{Kind: KindMarkdownFile, Path: candidate}
		}
		return Result{Kind: KindStaticFile, Path: candidate}
	}

	candidateIsDir := false
	if info, err := os.Stat(candidate); err == nil && info.IsDir() {
		candidateIsDir = true
		indexPath := filepath.Join(candidate, cfg.IndexFile)
		if info, err := os.Stat(indexPath); err == nil && !info.IsDir() {
			return Result{Kind: KindMarkdownFile, Path: indexPath}
		}
	}

	base := strings.TrimRight(candidate, string(filepath.Separator))

	if mdPath, ok := findMarkdownFile(base, cfg.MarkdownExtensions); ok {
		return Result{Kind: KindMarkdownFile, Path: mdPath}
	}

	if staticPath, ok := findInStaticFolder(cfg, requestPath); ok {
		return Result{Kind: KindStaticFile, Path: staticPath}
	}

	if candidateIsDir {
		indexBase := filepath.Join(base, "index")
		if mdPath, ok := findMarkdownFile(indexBase, cfg.MarkdownExtensions); ok {
			return Result{Kind: KindMarkdownFile, Path: mdPath}
		}
		return Result{Kind: KindDirectoryListing, Path: base}
	}

	return notFound
}

func isMarkdownFile(path string, extensions []string) bool {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext == "" {
		return false
	}
	for _, mdExt := range extensions {
		if strings.EqualFold(mdExt, ext) {
			return true
		}
	}
	return false
}

// findMarkdownFile tries basePath with each configured extension in order,
// replacing any extension basePath may already carry.
func findMarkdownFile(basePath string, extensions []string) (string, bool) {
	stem := strings.TrimSuffix(basePath, filepath.Ext(basePath))
	for _, ext := range extensions {
		candidate := stem + "." + ext
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, true
		}
	}
	return "", false
}

func findInStaticFolder(cfg Config, requestPath string) (string, bool) {
	staticDir, err := filepath.EvalSymlinks(filepath.Join(cfg.BaseDir, cfg.StaticFolder))
	if err != nil {
		return "", false
	}
	candidate := filepath.Join(staticDir, requestPath)
	if !isContained(staticDir, candidate) {
		return "", false
	}
	info, err := os.Stat(candidate)
	if err != nil || info.IsDir() {
		return "", false
	}
	return candidate, true
}

// isContained reports whether candidate lies within root after cleaning,
// guarding against ../ segments in the request path escaping the repository.
func isContained(root, candidate string) bool {
	rel, err := filepath.Rel(root, candidate)
	if err != nil {
		return false
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	return true
}
