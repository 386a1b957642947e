package server

import (
	"errors"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/marrow-wiki/mbr/internal/hls"
	"github.com/marrow-wiki/mbr/internal/index"
	"github.com/marrow-wiki/mbr/internal/inbound"
	"github.com/marrow-wiki/mbr/internal/pdfdoc"
	"github.com/marrow-wiki/mbr/internal/resolver"
	"github.com/marrow-wiki/mbr/internal/videometa"
	"github.com/marrow-wiki/mbr/static"
)

// handlePublic is the public resolver-dispatched reading surface: it serves
// markdown documents, static assets, and directory listings straight off
// disk through internal/resolver, falling back to the tag, PDF-cover,
// video-metadata, and HLS synthetic-path handlers when the resolver finds
// nothing. It replaces the former root handler entirely (see
// registerRoutes), so the legacy "?page=" redirect is folded in here.
func (s *Server) handlePublic(w http.ResponseWriter, r *http.Request) {
	reqPath, err := decodePublicPath(r.PathValue("path"))
	if err != nil {
		http.Error(w, "invalid path", http.StatusBadRequest)
		return
	}

	if reqPath == "" {
		if qp := strings.TrimSpace(r.URL.Query().Get("page")); qp != "" {
			http.Redirect(w, r, "/"+qp, http.StatusMovedPermanently)
			return
		}
	}

	result := resolver.Resolve(s.resolverCfg, reqPath)
	switch result.Kind {
	case resolver.KindMarkdownFile:
		s.servePublicMarkdown(w, r, reqPath, result.Path)
	case resolver.KindStaticFile:
		http.ServeFile(w, r, result.Path)
	case resolver.KindDirectoryListing:
		s.servePublicListing(w, r, reqPath)
	default:
		if s.serveTagPage(w, r, reqPath) {
			return
		}
		if s.serveVideoMetadata(w, r, reqPath) {
			return
		}
		if s.servePDFCover(w, r, reqPath) {
			return
		}
		if s.serveHLS(w, r, reqPath) {
			return
		}
		http.NotFound(w, r)
	}
}

func decodePublicPath(raw string) (string, error) {
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return "", err
	}
	return strings.Trim(decoded, "/"), nil
}

func (s *Server) servePublicMarkdown(w http.ResponseWriter, r *http.Request, reqPath, absPath string) {
	ctx := r.Context()
	raw, err := os.ReadFile(absPath)
	if err != nil {
		s.logger.WarnContext(ctx, "read markdown failed", slog.String("path", absPath), slog.Any("err", err))
		http.Error(w, "failed to read document", http.StatusInternalServerError)
		return
	}
	info, err := os.Stat(absPath)
	if err != nil {
		http.Error(w, "failed to stat document", http.StatusInternalServerError)
		return
	}

	doc, err := s.publicRenderer.Render(ctx, reqPath, info.ModTime(), raw)
	if err != nil {
		s.logger.WarnContext(ctx, "render markdown failed", slog.String("path", absPath), slog.Any("err", err))
		http.Error(w, "failed to render document", http.StatusInternalServerError)
		return
	}

	if s.repoIndex != nil {
		links := make([]index.OutboundLink, 0, len(doc.Outbound))
		for _, l := range doc.Outbound {
			links = append(links, index.OutboundLink{To: l.URL, Internal: l.Internal})
		}
		s.repoIndex.SetOutbound(absPath, links)
	}

	title := doc.Metadata.Title
	if title == "" {
		title = titleFromPath(reqPath)
	}

	data := publicPageViewData{
		Title:       title,
		Breadcrumbs: breadcrumbsForURLPath(reqPath),
		Metadata:    doc.Metadata,
		HTML:        template.HTML(doc.HTML), //nolint:gosec // HTML from trusted renderer
	}
	s.renderTemplate(w, r, "publicPage", data)
}

func (s *Server) servePublicListing(w http.ResponseWriter, r *http.Request, reqPath string) {
	if s.repoIndex == nil {
		http.NotFound(w, r)
		return
	}
	entries := s.repoIndex.Children("/"+reqPath, index.SortByName)
	title := "Index"
	if reqPath != "" {
		title = titleFromPath(reqPath)
	}
	data := publicListingViewData{
		Title:       title,
		Breadcrumbs: breadcrumbsForURLPath(reqPath),
		Entries:     entries,
	}
	s.renderTemplate(w, r, "publicListing", data)
}

// serveTagPage handles "GET /{tagSource}/{value}/" against the repository's
// declared tag sources. It reports false (leaving the response untouched)
// when reqPath does not match a two-segment tag route or the source is
// undeclared.
func (s *Server) serveTagPage(w http.ResponseWriter, r *http.Request, reqPath string) bool {
	if s.repoIndex == nil {
		return false
	}
	segments := strings.Split(reqPath, "/")
	if len(segments) != 2 || segments[0] == "" || segments[1] == "" {
		return false
	}
	source, value := segments[0], segments[1]
	if !s.isDeclaredTagSource(source) {
		return false
	}
	pages, ok := s.repoIndex.TaggedPages(source, value)
	if !ok {
		return false
	}
	data := publicTagsViewData{
		Title: titleFromPath(source) + ": " + titleFromPath(value),
		Pages: pages,
	}
	s.renderTemplate(w, r, "publicTags", data)
	return true
}

func (s *Server) isDeclaredTagSource(source string) bool {
	for _, declared := range s.cfg.TagSources {
		if strings.EqualFold(declared, source) {
			return true
		}
	}
	return false
}

// serveVideoMetadata handles the ".cover.jpg"/".chapters.en.vtt"/
// ".captions.en.vtt" synthetic video suffixes.
func (s *Server) serveVideoMetadata(w http.ResponseWriter, r *http.Request, reqPath string) bool {
	videoURLPath, kind, ok := videometa.ParseMetadataRequest(reqPath)
	if !ok {
		return false
	}
	videoAbsPath, ok := s.resolveExistingFile(videoURLPath)
	if !ok {
		return false
	}
	ctx := r.Context()

	switch kind {
	case videometa.KindCover:
		data, err := s.cachedBytes("videocover:"+videoAbsPath, func() ([]byte, error) {
			return videometa.ExtractCover(ctx, videoAbsPath)
		})
		if err != nil {
			s.respondMediaError(w, r, err)
			return true
		}
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(data)
	case videometa.KindChapters:
		vtt, err := videometa.ExtractChapters(ctx, videoAbsPath)
		if err != nil {
			s.respondMediaError(w, r, err)
			return true
		}
		w.Header().Set("Content-Type", "text/vtt; charset=utf-8")
		_, _ = w.Write([]byte(vtt))
	case videometa.KindCaptions:
		vtt, err := videometa.ExtractCaptions(ctx, videoAbsPath)
		if err != nil {
			s.respondMediaError(w, r, err)
			return true
		}
		w.Header().Set("Content-Type", "text/vtt; charset=utf-8")
		_, _ = w.Write([]byte(vtt))
	}
	return true
}

// servePDFCover handles "<base>.pdf.cover.jpg" requests.
func (s *Server) servePDFCover(w http.ResponseWriter, r *http.Request, reqPath string) bool {
	pdfURLPath, ok := pdfdoc.ParseCoverRequest(reqPath)
	if !ok {
		return false
	}
	pdfAbsPath, ok := s.resolveExistingFile(pdfURLPath)
	if !ok {
		return false
	}
	data, err := s.cachedBytes("pdfcover:"+pdfAbsPath, func() ([]byte, error) {
		return pdfdoc.ExtractCover(pdfAbsPath)
	})
	if err != nil {
		s.respondMediaError(w, r, err)
		return true
	}
	w.Header().Set("Content-Type", "image/jpeg")
	_, _ = w.Write(data)
	return true
}

// serveHLS handles on-demand HLS playlist/segment requests, gated on
// cfg.TranscodeEnabled since transcoding is a heavier opt-in feature.
func (s *Server) serveHLS(w http.ResponseWriter, r *http.Request, reqPath string) bool {
	if !s.cfg.TranscodeEnabled {
		return false
	}
	req, ok := hls.ParseRequest(reqPath)
	if !ok {
		return false
	}
	videoAbsPath, ok := s.resolveExistingFile(req.VideoPath)
	if !ok {
		return false
	}
	ctx := r.Context()

	switch req.Kind {
	case hls.RequestPlaylist:
		stem := strings.TrimSuffix(path.Base(req.VideoPath), path.Ext(req.VideoPath))
		data, err := s.hlsCache.Playlist(ctx, videoAbsPath, req.Target, stem)
		if err != nil {
			s.respondMediaError(w, r, err)
			return true
		}
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		_, _ = w.Write(data)
	case hls.RequestSegment:
		data, err := s.hlsCache.Segment(ctx, videoAbsPath, req.Target, req.SegmentIndex)
		if err != nil {
			s.respondMediaError(w, r, err)
			return true
		}
		w.Header().Set("Content-Type", "video/mp2t")
		_, _ = w.Write(data)
	}
	return true
}

func (s *Server) respondMediaError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, pdfdoc.ErrPasswordProtected):
		http.Error(w, "password protected", http.StatusForbidden)
	case errors.Is(err, pdfdoc.ErrPageNotFound), errors.Is(err, videometa.ErrNotAvailable), errors.Is(err, hls.ErrNoVideoStream):
		http.Error(w, "not available", http.StatusNotFound)
	case errors.Is(err, hls.ErrSourceTooSmall), errors.Is(err, hls.ErrSegmentOutOfRange):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		s.logger.WarnContext(r.Context(), "media request failed", slog.Any("err", err))
		http.Error(w, "failed to generate media", http.StatusInternalServerError)
	}
}

// resolveExistingFile resolves urlPath (without the synthetic suffix) back
// to an absolute file that exists on disk under the repository root.
func (s *Server) resolveExistingFile(urlPath string) (string, bool) {
	result := resolver.Resolve(s.resolverCfg, urlPath)
	if result.Kind != resolver.KindStaticFile {
		return "", false
	}
	return result.Path, true
}

// cachedBytes serves generate()'s output from s.mediaCache, keyed by key,
// computing and storing it on a miss. Unlike hls.Cache this has no
// singleflight dedup: PDF and video cover renders are already serialized
// by pdfdoc's own coverSemaphore and ffmpeg's own process-per-call cost,
// so a thundering herd only wastes a few redundant subprocess spawns
// rather than corrupting shared renderer state.
func (s *Server) cachedBytes(key string, generate func() ([]byte, error)) ([]byte, error) {
	if s.mediaCache != nil {
		if data, ok := s.mediaCache.Get(key); ok {
			return data, nil
		}
	}
	data, err := generate()
	if err != nil {
		return nil, err
	}
	if s.mediaCache != nil {
		s.mediaCache.Insert(key, data, int64(len(data)))
	}
	return data, nil
}

func breadcrumbsForURLPath(reqPath string) []breadcrumb {
	reqPath = strings.Trim(reqPath, "/")
	if reqPath == "" {
		return nil
	}
	segments := strings.Split(reqPath, "/")
	crumbs := make([]breadcrumb, 0, len(segments))
	accum := ""
	for i, seg := range segments {
		if accum == "" {
			accum = seg
		} else {
			accum = accum + "/" + seg
		}
		title := titleFromPath(seg)
		if i == len(segments)-1 {
			crumbs = append(crumbs, breadcrumb{Title: title})
		} else {
			crumbs = append(crumbs, breadcrumb{Title: title, Path: accum})
		}
	}
	return crumbs
}

// handleSiteJSON serves the whole-repository index document, consumed by
// client-side navigation without round-tripping every directory listing.
func (s *Server) handleSiteJSON(w http.ResponseWriter, r *http.Request) {
	if s.repoIndex == nil {
		http.Error(w, "index not configured", http.StatusServiceUnavailable)
		return
	}
	data, err := s.repoIndex.ToJSON()
	if err != nil {
		s.logger.ErrorContext(r.Context(), "encode site.json failed", slog.Any("err", err))
		http.Error(w, "failed to encode site index", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_, _ = w.Write(data)
}

// handleAssetTable serves the embedded frontend asset table at
// "/.mbr/{name}", distinct from "/static/{path...}" which serves either
// the embedded assets or an on-disk override directory.
func (s *Server) handleAssetTable(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.PathValue("name"), "/")
	if name == "" || !static.Has(name) {
		http.NotFound(w, r)
		return
	}
	f, err := static.FS().Open(name)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	if ctype := mimeTypeByExtension(name); ctype != "" {
		w.Header().Set("Content-Type", ctype)
	}
	if seeker, ok := f.(io.ReadSeeker); ok {
		var modTime time.Time
		if info, statErr := f.Stat(); statErr == nil {
			modTime = info.ModTime()
		}
		http.ServeContent(w, r, name, modTime, seeker)
		return
	}
	_, _ = io.Copy(w, f)
}

func mimeTypeByExtension(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".css":
		return "text/css; charset=utf-8"
	case ".js":
		return "text/javascript; charset=utf-8"
	case ".json":
		return "application/json; charset=utf-8"
	case ".svg":
		return "image/svg+xml"
	case ".png":
		return "image/png"
	default:
		return ""
	}
}

// handleInboundLinks serves the pages linking to "/{path...}", grep-found
// on demand since the repository carries no persistent link graph.
func (s *Server) handleInboundLinks(w http.ResponseWriter, r *http.Request) {
	target, err := decodePublicPath(r.PathValue("path"))
	if err != nil {
		respondJSON(w, http.StatusBadRequest, errorResponse("invalid path"))
		return
	}
	links := s.cachedInboundLinks(target)
	respondJSON(w, http.StatusOK, struct {
		Target string         `json:"target"`
		Links  []inbound.Link `json:"links"`
	}{Target: target, Links: links})
}

// cachedInboundLinks serves inbound.Find's result from s.inboundCache, keyed
// by target url_path, computing and storing it on a miss. The cache is
// dropped wholesale by InvalidateInboundLinks rather than evicted per key,
// since inbound.Find's grep has no way to know which cached targets a given
// edit affects.
func (s *Server) cachedInboundLinks(target string) []inbound.Link {
	if s.inboundCache != nil {
		if links, ok := s.inboundCache.Get(target); ok {
			return links
		}
	}
	links := inbound.Find(s.inboundCfg, target)
	if s.inboundCache != nil {
		var size int64
		for _, l := range links {
			size += int64(len(l.From) + len(l.Text) + len(l.Anchor))
		}
		s.inboundCache.Insert(target, links, size)
	}
	return links
}
