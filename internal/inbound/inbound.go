// Package inbound discovers pages linking to a given target page by
// grep-searching the repository's markdown files, rather than
// maintaining a full link graph.
package inbound

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/cloudflare/ahocorasick"
)

// Config configures the repository walk performed by Find.
type Config struct {
	RootDir            string
	MarkdownExtensions []string
	IgnoreDirs         []string
	IgnoreGlobs        []string
}

// Link is one page found to link to the target.
type Link struct {
	From   string // url_path of the linking page
	Text   string
	Anchor string // "#section", or "" when absent
}

type sourceFile struct {
	absPath string
	urlPath string
}

// Find scans the repository for markdown files linking to targetURLPath
// and returns the deduplicated (by source page) list of inbound links.
func Find(cfg Config, targetURLPath string) []Link {
	targetNormalized := strings.Trim(targetURLPath, "/")
	if targetNormalized == "" {
		return nil
	}

	folderFiles := collectFolderFiles(cfg, targetNormalized)
	if len(folderFiles) == 0 {
		return nil
	}

	var links []Link
	for folder, files := range folderFiles {
		patterns := patternsForFolder(folder, targetURLPath)
		if len(patterns) == 0 {
			continue
		}
		matcher := ahocorasick.NewStringMatcher(lowerAll(patterns))
		linkRe, wikiRe, refRe := extractionRegexes(patterns)

		for _, f := range files {
			content, err := os.ReadFile(f.absPath)
			if err != nil {
				continue
			}
			if len(matcher.Match([]byte(strings.ToLower(string(content))))) == 0 {
				continue
			}
			links = append(links, extractLinks(string(content), f.urlPath, targetNormalized, linkRe, wikiRe, refRe)...)
		}
	}

	return dedupeBySource(links)
}

func collectFolderFiles(cfg Config, targetNormalized string) map[string][]sourceFile {
	excludedDirs := make(map[string]struct{}, len(cfg.IgnoreDirs))
	for _, d := range cfg.IgnoreDirs {
		excludedDirs[d] = struct{}{}
	}

	folderFiles := make(map[string][]sourceFile)
	_ = filepath.WalkDir(cfg.RootDir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		name := d.Name()
		if p != cfg.RootDir && strings.HasPrefix(name, ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if p != cfg.RootDir {
				if _, skip := excludedDirs[name]; skip {
					return filepath.SkipDir
				}
			}
			return nil
		}
		if matchesAnyGlob(name, cfg.IgnoreGlobs) {
			return nil
		}
		if !isMarkdownExt(name, cfg.MarkdownExtensions) {
			return nil
		}

		urlPath := computeURLPath(p, cfg.RootDir, cfg.MarkdownExtensions)
		if strings.Trim(urlPath, "/") == targetNormalized {
			return nil
		}
		folder := folderURLPath(urlPath)
		folderFiles[folder] = append(folderFiles[folder], sourceFile{absPath: p, urlPath: urlPath})
		return nil
	})
	return folderFiles
}

func matchesAnyGlob(name string, globs []string) bool {
	for _, g := range globs {
		if ok, err := filepath.Match(g, name); err == nil && ok {
			return true
		}
	}
	return false
}

func isMarkdownExt(name string, exts []string) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	for _, e := range exts {
		if strings.EqualFold(strings.TrimPrefix(e, "."), ext) {
			return true
		}
	}
	return false
}

// computeURLPath derives a markdown file's URL path by stripping its
// extension and adding slashes, like internal/index does, except that
// index files are not collapsed: coins/index.md maps to /coins/index/.
// It is kept independent to avoid an inbound->index dependency for what
// is otherwise a pure, self-contained grep algorithm.
func computeURLPath(p, root string, markdownExtensions []string) string {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		rel = p
	}
	rel = filepath.ToSlash(rel)
	for _, ext := range markdownExtensions {
		suffix := "." + strings.TrimPrefix(ext, ".")
		if strings.HasSuffix(strings.ToLower(rel), strings.ToLower(suffix)) {
			rel = rel[:len(rel)-len(suffix)]
			break
		}
	}
	return "/" + strings.Trim(rel, "/") + "/"
}

func folderURLPath(fileURLPath string) string {
	trimmed := strings.TrimSuffix(fileURLPath, "/")
	if idx := strings.LastIndexByte(trimmed, '/'); idx >= 0 {
		return trimmed[:idx+1]
	}
	return "/"
}

// computeRelativePath computes the relative link text that would reach
// targetURLPath from sourceFolder.
func computeRelativePath(sourceFolder, targetURLPath string) string {
	source := strings.Trim(sourceFolder, "/")
	target := strings.Trim(targetURLPath, "/")

	var sourceParts, targetParts []string
	if source != "" {
		sourceParts = strings.Split(source, "/")
	}
	if target != "" {
		targetParts = strings.Split(target, "/")
	}

	common := 0
	for common < len(sourceParts) && common < len(targetParts) && sourceParts[common] == targetParts[common] {
		common++
	}

	ups := len(sourceParts) - common
	parts := make([]string, 0, ups+len(targetParts)-common)
	for i := 0; i < ups; i++ {
		parts = append(parts, "..")
	}
	parts = append(parts, targetParts[common:]...)

	if len(parts) == 0 {
		return "."
	}
	return strings.Join(parts, "/")
}

func patternsForFolder(sourceFolder, targetURLPath string) []string {
	set := make(map[string]struct{})
	targetNormalized := strings.Trim(targetURLPath, "/")
	if targetNormalized == "" {
		return nil
	}

	addVariants(set, "/"+targetNormalized)

	relative := computeRelativePath(sourceFolder, targetURLPath)
	if relative != "." {
		addVariants(set, relative)
		if !strings.HasPrefix(relative, "../") && !strings.HasPrefix(relative, "./") {
			addVariants(set, "./"+relative)
		}
	}

	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func addVariants(set map[string]struct{}, base string) {
	normalized := strings.TrimSuffix(base, "/")
	set[normalized] = struct{}{}
	set[normalized+"/"] = struct{}{}
	set[normalized+".md"] = struct{}{}
	set[normalized+"#"] = struct{}{}
}

func lowerAll(ss []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = strings.ToLower(s)
	}
	return out
}

func patternBases(patterns []string) []string {
	seen := make(map[string]struct{})
	var bases []string
	for _, p := range patterns {
		base := strings.TrimSuffix(p, "#")
		base = strings.TrimSuffix(base, ".md")
		base = strings.TrimSuffix(base, "/")
		if _, ok := seen[base]; !ok {
			seen[base] = struct{}{}
			bases = append(bases, base)
		}
	}
	sort.Strings(bases)
	return bases
}

func extractionRegexes(patterns []string) (link, wiki, ref *regexp.Regexp) {
	bases := patternBases(patterns)
	if len(bases) == 0 {
		return nil, nil, nil
	}
	escaped := make([]string, len(bases))
	for i, b := range bases {
		escaped[i] = regexp.QuoteMeta(b)
	}
	alternation := strings.Join(escaped, "|")

	link = regexp.MustCompile(`\[([^\]]*)\]\((?:` + alternation + `)(?:\.md)?(?:/)?(?:#([^)]*))?\)`)
	wiki = regexp.MustCompile(`(?i)\[\[(?:` + alternation + `)(?:\.md)?(?:/)?(?:#([^\]|]*))?(?:\|([^\]]*))?\]\]`)
	ref = regexp.MustCompile(`\[([^\]]+)\]:\s*(?:` + alternation + `)(?:\.md)?(?:/)?(?:#\S*)?`)
	return link, wiki, ref
}

func extractLinks(content, sourceURLPath, targetSegments string, linkRe, wikiRe, refRe *regexp.Regexp) []Link {
	var found []Link
	foundAny := false

	if linkRe != nil {
		for _, m := range linkRe.FindAllStringSubmatch(content, -1) {
			anchor := ""
			if m[2] != "" {
				anchor = "#" + m[2]
			}
			found = append(found, Link{From: sourceURLPath, Text: m[1], Anchor: anchor})
			foundAny = true
		}
	}

	if wikiRe != nil {
		for _, m := range wikiRe.FindAllStringSubmatch(content, -1) {
			anchor := ""
			if m[1] != "" {
				anchor = "#" + m[1]
			}
			text := strings.TrimSpace(m[2])
			if text == "" {
				if idx := strings.LastIndexByte(targetSegments, '/'); idx >= 0 {
					text = targetSegments[idx+1:]
				} else {
					text = targetSegments
				}
			}
			candidate := Link{From: sourceURLPath, Text: text, Anchor: anchor}
			if !containsLink(found, candidate) {
				found = append(found, candidate)
				foundAny = true
			}
		}
	}

	if !foundAny && refRe != nil {
		for _, m := range refRe.FindAllStringSubmatch(content, -1) {
			refName := m[1]
			useRe, err := regexp.Compile(`\[([^\]]*)\]\[` + regexp.QuoteMeta(refName) + `\]`)
			if err != nil {
				continue
			}
			for _, u := range useRe.FindAllStringSubmatch(content, -1) {
				candidate := Link{From: sourceURLPath, Text: u[1]}
				if !containsLink(found, candidate) {
					found = append(found, candidate)
				}
			}
		}
	}

	return found
}

func containsLink(links []Link, candidate Link) bool {
	for _, l := range links {
		if l == candidate {
			return true
		}
	}
	return false
}

func dedupeBySource(links []Link) []Link {
	seen := make(map[string]struct{}, len(links))
	out := make([]Link, 0, len(links))
	for _, l := range links {
		if _, ok := seen[l.From]; ok {
			continue
		}
		seen[l.From] = struct{}{}
		out = append(out, l)
	}
	return out
}
