// Package index maintains the process-wide repository index: every
// markdown and non-markdown file under the configured root, plus the tag
// index built from markdown frontmatter. It keeps a dual
// markdown_files/other_files map shape, backed by sync.Map for concurrent
// scan/watch/read access.
package index

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/marrow-wiki/mbr/internal/wikilink"
)

// FileKind classifies a non-markdown file for OtherFileInfo.
type FileKind int

const (
	KindOther FileKind = iota
	KindImage
	KindAudio
	KindVideo
	KindPDF
	KindText
)

func (k FileKind) String() string {
	switch k {
	case KindImage:
		return "image"
	case KindAudio:
		return "audio"
	case KindVideo:
		return "video"
	case KindPDF:
		return "pdf"
	case KindText:
		return "text"
	default:
		return "other"
	}
}

var (
	imageExts = map[string]struct{}{"png": {}, "jpg": {}, "jpeg": {}, "gif": {}, "webp": {}, "svg": {}, "bmp": {}, "ico": {}}
	audioExts = map[string]struct{}{"mp3": {}, "wav": {}, "ogg": {}, "flac": {}, "aac": {}, "m4a": {}, "webm": {}}
	videoExts = map[string]struct{}{
		"mp4": {}, "m4v": {}, "mov": {}, "avi": {}, "mkv": {}, "wmv": {}, "flv": {}, "3gp": {},
		"ogv": {}, "mpeg": {}, "mpg": {}, "ts": {}, "mts": {}, "m2ts": {}, "vob": {}, "divx": {},
		"xvid": {}, "asf": {}, "rm": {}, "rmvb": {}, "f4v": {},
	}
	textExts = map[string]struct{}{"txt": {}, "json": {}, "yaml": {}, "yml": {}, "toml": {}, "csv": {}}
)

func classifyExtension(ext string) FileKind {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	switch {
	case ext == "pdf":
		return KindPDF
	case contains(imageExts, ext):
		return KindImage
	case contains(videoExts, ext):
		return KindVideo
	case contains(audioExts, ext):
		return KindAudio
	case contains(textExts, ext):
		return KindText
	default:
		return KindOther
	}
}

func contains(set map[string]struct{}, k string) bool {
	_, ok := set[k]
	return ok
}

// MarkdownInfo is the indexed record for a markdown page.
type MarkdownInfo struct {
	AbsolutePath string
	URLPath      string
	Created      time.Time
	Modified     time.Time
	Frontmatter  map[string]any
	Outbound     []OutboundLink
}

// OtherFileInfo is the indexed record for a non-markdown file.
type OtherFileInfo struct {
	AbsolutePath string
	URLPath      string
	Kind         FileKind
	Modified     time.Time
	Text         string // extracted plaintext, for searchable kinds only
}

// OutboundLink is a single link discovered while rendering a page.
type OutboundLink struct {
	To       string
	Text     string
	Anchor   string
	Internal bool
}

// TaggedPage is one page carrying a given tag value.
type TaggedPage struct {
	URLPath string
	Title   string
}

type tagKey struct {
	source string
	value  string
}

// SortMode controls directory-listing ordering: plain name order, plus
// modification-time and frontmatter-declared-order listing modes.
type SortMode int

const (
	SortByName SortMode = iota
	SortByModified
	SortByFrontmatterOrder
)

// Config configures a scan: root directory, static-folder name, recognized
// markdown extensions, directories/globs to ignore, the index filename, and
// the declared tag sources that frontmatter fields are matched against.
type Config struct {
	RootDir            string
	StaticFolder       string
	MarkdownExtensions []string
	IgnoreDirs         []string
	IgnoreGlobs        []string
	IndexFile          string
	TagSources         []string
}

// Index is the process-wide repository index. All maps support concurrent
// reads and writes from the scanner and the file watcher; callers never
// need external locking for lookups, only for the ordered tag-page lists
// which Index itself guards with tagMu.
type Index struct {
	cfg Config

	markdownFiles sync.Map // absolute path -> *MarkdownInfo
	otherFiles    sync.Map // absolute path -> *OtherFileInfo

	tagMu        sync.Mutex
	tagIndex     map[tagKey][]TaggedPage
	tagSourceDisp map[string]string // lower(source) -> first-seen display form
	tagValueDisp map[tagKey]string  // tagKey -> first-seen display form

	logger *slog.Logger
}

// New constructs an empty index for cfg.
func New(cfg Config, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{
		cfg:           cfg,
		tagIndex:      make(map[tagKey][]TaggedPage),
		tagSourceDisp: make(map[string]string),
		tagValueDisp:  make(map[tagKey]string),
		logger:        logger.With("component", "index"),
	}
}

// ScanAll walks the tree from cfg.RootDir, classifying every file into
// markdown_files or other_files and populating the tag index from markdown
// frontmatter. Ignored directory names, ignore globs, and dotfiles/
// dot-directories are skipped at every level.
func (idx *Index) ScanAll(ctx context.Context) error {
	root := idx.cfg.RootDir
	excluded := make(map[string]struct{}, len(idx.cfg.IgnoreDirs))
	for _, d := range idx.cfg.IgnoreDirs {
		excluded[d] = struct{}{}
	}

	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			idx.logger.Warn("scan error", "path", p, "error", err)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		name := d.Name()
		if p != root && strings.HasPrefix(name, ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if p != root {
				if _, skip := excluded[name]; skip {
					return filepath.SkipDir
				}
				if idx.matchesIgnoreGlob(name) {
					return filepath.SkipDir
				}
			}
			return nil
		}
		if idx.matchesIgnoreGlob(name) {
			return nil
		}
		idx.indexFile(p, d)
		return nil
	})
}

func (idx *Index) matchesIgnoreGlob(name string) bool {
	for _, g := range idx.cfg.IgnoreGlobs {
		if ok, err := filepath.Match(g, name); err == nil && ok {
			return true
		}
	}
	return false
}

// UpdateFile re-indexes a single path, called by the watcher on create/write
// events. RemoveFile drops a path, called on watcher delete events.
func (idx *Index) UpdateFile(p string) {
	info, err := os.Lstat(p)
	if err != nil || info.IsDir() {
		return
	}
	idx.indexFile(p, fs.FileInfoToDirEntry(info))
}

// RemoveFile drops path from whichever map currently holds it and removes
// any tag-index entries it contributed.
func (idx *Index) RemoveFile(p string) {
	if v, ok := idx.markdownFiles.LoadAndDelete(p); ok {
		mi := v.(*MarkdownInfo)
		idx.removeTagsFor(mi.URLPath)
	}
	idx.otherFiles.Delete(p)
}

func (idx *Index) indexFile(p string, d fs.DirEntry) {
	fi, err := d.Info()
	if err != nil {
		return
	}
	ext := strings.ToLower(filepath.Ext(p))
	if idx.isMarkdownExt(ext) {
		idx.indexMarkdown(p, fi)
		return
	}
	idx.indexOther(p, fi, ext)
}

func (idx *Index) isMarkdownExt(ext string) bool {
	ext = strings.TrimPrefix(ext, ".")
	for _, e := range idx.cfg.MarkdownExtensions {
		if strings.EqualFold(strings.TrimPrefix(e, "."), ext) {
			return true
		}
	}
	return false
}

func (idx *Index) indexMarkdown(p string, fi os.FileInfo) {
	urlPath := idx.urlPathForMarkdown(p)

	created := fi.ModTime()
	if existing, ok := idx.markdownFiles.Load(p); ok {
		created = existing.(*MarkdownInfo).Created
	}

	body, err := os.ReadFile(p)
	var frontmatter map[string]any
	if err == nil {
		frontmatter, _ = parseFrontmatter(body)
	}

	mi := &MarkdownInfo{
		AbsolutePath: p,
		URLPath:      urlPath,
		Created:      created,
		Modified:     fi.ModTime(),
		Frontmatter:  frontmatter,
	}
	idx.markdownFiles.Store(p, mi)
	idx.otherFiles.Delete(p)

	idx.removeTagsFor(urlPath)
	idx.indexTags(urlPath, frontmatter)
}

func (idx *Index) indexOther(p string, fi os.FileInfo, ext string) {
	urlPath := idx.urlPathForOther(p)
	kind := classifyExtension(ext)
	ofi := &OtherFileInfo{
		AbsolutePath: p,
		URLPath:      urlPath,
		Kind:         kind,
		Modified:     fi.ModTime(),
	}
	idx.otherFiles.Store(p, ofi)
	idx.markdownFiles.Delete(p)
}

// urlPathForMarkdown maps ROOT/a/b/name.md to "/a/b/name/" per the index's
// url_path invariant; ROOT/a/index.md maps to "/a/".
func (idx *Index) urlPathForMarkdown(p string) string {
	rel := idx.relSlash(p)
	rel = strings.TrimSuffix(rel, filepath.Ext(p))
	stem := indexStemFor(idx.cfg.IndexFile)
	if base := path.Base(rel); strings.EqualFold(base, stem) {
		rel = path.Dir(rel)
		if rel == "." {
			return "/"
		}
	}
	if rel == "" || rel == "." {
		return "/"
	}
	return "/" + strings.Trim(rel, "/") + "/"
}

// urlPathForOther maps files under the static folder to root-relative URLs
// without the static-folder prefix, and every other non-markdown file to
// its repo-relative path.
func (idx *Index) urlPathForOther(p string) string {
	rel := idx.relSlash(p)
	if idx.cfg.StaticFolder != "" {
		prefix := strings.Trim(filepath.ToSlash(idx.cfg.StaticFolder), "/") + "/"
		if strings.HasPrefix(rel, prefix) {
			rel = strings.TrimPrefix(rel, prefix)
		}
	}
	return "/" + rel
}

func (idx *Index) relSlash(p string) string {
	rel, err := filepath.Rel(idx.cfg.RootDir, p)
	if err != nil {
		rel = p
	}
	return filepath.ToSlash(rel)
}

func indexStemFor(indexFile string) string {
	stem := indexFile
	for _, ext := range []string{".md", ".markdown"} {
		stem = strings.TrimSuffix(stem, ext)
	}
	return stem
}

// parseFrontmatter splits a leading "---" delimited YAML block from body
// and unmarshals it into a generic map. A parse failure returns a nil map
// and the YAML error, which the indexing caller discards: frontmatter
// parsing is soft per the render pipeline's contract, never a hard failure.
func parseFrontmatter(body []byte) (map[string]any, error) {
	text := string(body)
	if !strings.HasPrefix(text, "---\n") && !strings.HasPrefix(text, "---\r\n") {
		return nil, nil
	}
	rest := text[strings.IndexByte(text, '\n')+1:]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return nil, nil
	}
	raw := rest[:end]

	var m map[string]any
	if err := yaml.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("parse frontmatter: %w", err)
	}
	return m, nil
}

// indexTags scans frontmatter for any key matching a configured tag
// source (case-insensitive) and records the page under each value found.
func (idx *Index) indexTags(urlPath string, frontmatter map[string]any) {
	if frontmatter == nil || len(idx.cfg.TagSources) == 0 {
		return
	}
	title := ""
	if t, ok := frontmatter["title"].(string); ok {
		title = t
	}

	idx.tagMu.Lock()
	defer idx.tagMu.Unlock()

	for _, source := range idx.cfg.TagSources {
		var raw any
		var displaySource string
		for k, v := range frontmatter {
			if strings.EqualFold(k, source) {
				raw, displaySource = v, k
				break
			}
		}
		if raw == nil {
			continue
		}
		lowerSource := strings.ToLower(source)
		if _, seen := idx.tagSourceDisp[lowerSource]; !seen {
			idx.tagSourceDisp[lowerSource] = displaySource
		}

		for _, value := range toStringSlice(raw) {
			key := tagKey{source: lowerSource, value: wikilink.NormalizeTagValue(value)}
			if _, seen := idx.tagValueDisp[key]; !seen {
				idx.tagValueDisp[key] = value
			}
			idx.insertTaggedPageLocked(key, TaggedPage{URLPath: urlPath, Title: title})
		}
	}
}

// insertTaggedPageLocked appends page to key's list, skipping duplicates by
// url_path so repeated inserts stay idempotent. Caller holds tagMu.
func (idx *Index) insertTaggedPageLocked(key tagKey, page TaggedPage) {
	pages := idx.tagIndex[key]
	for _, p := range pages {
		if p.URLPath == page.URLPath {
			return
		}
	}
	idx.tagIndex[key] = append(pages, page)
}

func (idx *Index) removeTagsFor(urlPath string) {
	idx.tagMu.Lock()
	defer idx.tagMu.Unlock()
	for key, pages := range idx.tagIndex {
		filtered := pages[:0]
		for _, p := range pages {
			if p.URLPath != urlPath {
				filtered = append(filtered, p)
			}
		}
		if len(filtered) == 0 {
			delete(idx.tagIndex, key)
		} else {
			idx.tagIndex[key] = filtered
		}
	}
}

// TaggedPages returns the pages tagged with (source, value), matching the
// normalization rules declared tag sources require.
func (idx *Index) TaggedPages(source, value string) ([]TaggedPage, bool) {
	idx.tagMu.Lock()
	defer idx.tagMu.Unlock()
	key := tagKey{source: strings.ToLower(source), value: wikilink.NormalizeTagValue(value)}
	pages, ok := idx.tagIndex[key]
	if !ok {
		return nil, false
	}
	out := make([]TaggedPage, len(pages))
	copy(out, pages)
	return out, true
}

// MarkdownInfo returns the indexed record for an absolute path.
func (idx *Index) MarkdownInfo(absPath string) (*MarkdownInfo, bool) {
	v, ok := idx.markdownFiles.Load(absPath)
	if !ok {
		return nil, false
	}
	return v.(*MarkdownInfo), true
}

// OtherFileInfo returns the indexed record for an absolute path.
func (idx *Index) OtherFileInfo(absPath string) (*OtherFileInfo, bool) {
	v, ok := idx.otherFiles.Load(absPath)
	if !ok {
		return nil, false
	}
	return v.(*OtherFileInfo), true
}

// SetOutbound records the outbound links discovered while rendering the
// markdown page at absPath, called after link resolution during render.
func (idx *Index) SetOutbound(absPath string, links []OutboundLink) {
	v, ok := idx.markdownFiles.Load(absPath)
	if !ok {
		return
	}
	mi := v.(*MarkdownInfo)
	updated := *mi
	updated.Outbound = links
	idx.markdownFiles.Store(absPath, &updated)
}

// Entry is one child in a directory listing, sorted per SortMode.
type Entry struct {
	Name     string
	URLPath  string
	IsDir    bool
	Modified time.Time
	Order    int
	HasOrder bool
}

// Children lists the immediate markdown/other-file/subdirectory entries
// under dirURLPath, sorted per mode. SortByFrontmatterOrder falls back to
// name for entries lacking a frontmatter "order" field.
func (idx *Index) Children(dirURLPath string, mode SortMode) []Entry {
	trimmed := strings.Trim(dirURLPath, "/")
	absDir := idx.cfg.RootDir
	if trimmed != "" {
		absDir = filepath.Join(idx.cfg.RootDir, filepath.FromSlash(trimmed))
	}

	dirEntries, err := os.ReadDir(absDir)
	if err != nil {
		return nil
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, d := range dirEntries {
		name := d.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		childAbs := filepath.Join(absDir, name)

		if d.IsDir() {
			info, err := d.Info()
			if err != nil {
				continue
			}
			entries = append(entries, Entry{Name: name, URLPath: idx.relSlash(childAbs) + "/", IsDir: true, Modified: info.ModTime()})
			continue
		}

		if mi, ok := idx.MarkdownInfo(childAbs); ok {
			order, hasOrder := frontmatterOrder(mi.Frontmatter)
			entries = append(entries, Entry{Name: name, URLPath: mi.URLPath, IsDir: false, Modified: mi.Modified, Order: order, HasOrder: hasOrder})
			continue
		}
		if ofi, ok := idx.OtherFileInfo(childAbs); ok {
			entries = append(entries, Entry{Name: name, URLPath: ofi.URLPath, IsDir: false, Modified: ofi.Modified})
		}
	}

	normalizedEntries := make([]Entry, 0, len(entries))
	for _, e := range entries {
		e.URLPath = "/" + strings.TrimPrefix(e.URLPath, "/")
		normalizedEntries = append(normalizedEntries, e)
	}
	sortEntries(normalizedEntries, mode)
	return normalizedEntries
}

func sortEntries(entries []Entry, mode SortMode) {
	switch mode {
	case SortByModified:
		sort.SliceStable(entries, func(i, j int) bool {
			if entries[i].IsDir != entries[j].IsDir {
				return entries[i].IsDir
			}
			return entries[i].Modified.After(entries[j].Modified)
		})
	case SortByFrontmatterOrder:
		sort.SliceStable(entries, func(i, j int) bool {
			if entries[i].IsDir != entries[j].IsDir {
				return entries[i].IsDir
			}
			if entries[i].HasOrder != entries[j].HasOrder {
				return entries[i].HasOrder
			}
			if entries[i].HasOrder && entries[i].Order != entries[j].Order {
				return entries[i].Order < entries[j].Order
			}
			return strings.ToLower(entries[i].Name) < strings.ToLower(entries[j].Name)
		})
	default: // SortByName
		sort.SliceStable(entries, func(i, j int) bool {
			if entries[i].IsDir != entries[j].IsDir {
				return entries[i].IsDir
			}
			return strings.ToLower(entries[i].Name) < strings.ToLower(entries[j].Name)
		})
	}
}

func frontmatterOrder(fm map[string]any) (int, bool) {
	if fm == nil {
		return 0, false
	}
	switch v := fm["order"].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

// siteDocument is the JSON shape served at /.mbr/site.json.
type siteDocument struct {
	Pages []sitePage           `json:"pages"`
	Files []siteFile           `json:"files"`
	Tags  map[string][]TaggedPage `json:"tags"`
}

type sitePage struct {
	URLPath     string         `json:"url_path"`
	Title       string         `json:"title,omitempty"`
	Modified    time.Time      `json:"modified"`
	Frontmatter map[string]any `json:"frontmatter,omitempty"`
}

type siteFile struct {
	URLPath  string `json:"url_path"`
	Kind     string `json:"kind"`
	Modified time.Time `json:"modified"`
}

// ToJSON serializes the index into the document served at
// /.mbr/site.json for client-side navigation.
func (idx *Index) ToJSON() ([]byte, error) {
	doc := siteDocument{Tags: make(map[string][]TaggedPage)}

	idx.markdownFiles.Range(func(_, v any) bool {
		mi := v.(*MarkdownInfo)
		title := ""
		if mi.Frontmatter != nil {
			if t, ok := mi.Frontmatter["title"].(string); ok {
				title = t
			}
		}
		doc.Pages = append(doc.Pages, sitePage{
			URLPath:     mi.URLPath,
			Title:       title,
			Modified:    mi.Modified,
			Frontmatter: mi.Frontmatter,
		})
		return true
	})
	sort.Slice(doc.Pages, func(i, j int) bool { return doc.Pages[i].URLPath < doc.Pages[j].URLPath })

	idx.otherFiles.Range(func(_, v any) bool {
		ofi := v.(*OtherFileInfo)
		doc.Files = append(doc.Files, siteFile{URLPath: ofi.URLPath, Kind: ofi.Kind.String(), Modified: ofi.Modified})
		return true
	})
	sort.Slice(doc.Files, func(i, j int) bool { return doc.Files[i].URLPath < doc.Files[j].URLPath })

	idx.tagMu.Lock()
	for key, pages := range idx.tagIndex {
		sourceDisp := idx.tagSourceDisp[key.source]
		if sourceDisp == "" {
			sourceDisp = key.source
		}
		valueDisp := idx.tagValueDisp[key]
		if valueDisp == "" {
			valueDisp = key.value
		}
		label := sourceDisp + ":" + valueDisp
		out := make([]TaggedPage, len(pages))
		copy(out, pages)
		doc.Tags[label] = out
	}
	idx.tagMu.Unlock()

	return json.MarshalIndent(doc, "", "  ")
}

func toStringSlice(v any) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return t
	default:
		return nil
	}
}
