// Package oembed fetches OpenGraph summaries for bare-URL paragraphs
// encountered while rendering markdown, backed by internal/cache for
// the bounded, insertion-ordered eviction shared by every cache built on
// that package.
package oembed

import (
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/marrow-wiki/mbr/internal/cache"
)

// PageInfo is the OEmbed/OpenGraph summary for a fetched URL.
type PageInfo struct {
	URL         string
	Title       string
	Description string
	Image       string
}

// Text renders a plain-text summary, "<title>: <url>" when a title was
// found, used for logging and non-HTML contexts.
func (p PageInfo) Text() string {
	title := p.Title
	if title == "" {
		title = "no title"
	}
	return fmt.Sprintf("%s: %s", title, p.URL)
}

// HTML renders the bare-URL paragraph replacement: an anchor labelled with
// the title (or URL), optionally decorated with the description and
// thumbnail image. Never requires JavaScript.
func (p PageInfo) HTML() string {
	label := p.Title
	if label == "" {
		label = p.URL
	}
	var b strings.Builder
	b.WriteString(`<a class="oembed-link" href="`)
	b.WriteString(html.EscapeString(p.URL))
	b.WriteString(`">`)
	if p.Image != "" {
		b.WriteString(`<img class="oembed-image" src="`)
		b.WriteString(html.EscapeString(p.Image))
		b.WriteString(`" alt="">`)
	}
	b.WriteString(`<span class="oembed-title">`)
	b.WriteString(html.EscapeString(label))
	b.WriteString(`</span>`)
	if p.Description != "" {
		b.WriteString(`<span class="oembed-description">`)
		b.WriteString(html.EscapeString(p.Description))
		b.WriteString(`</span>`)
	}
	b.WriteString(`</a>`)
	return b.String()
}

// estimatedSize approximates PageInfo's byte footprint for the cache's
// size accounting.
func (p PageInfo) estimatedSize() int64 {
	return int64(len(p.URL) + len(p.Title) + len(p.Description) + len(p.Image))
}

// Fetcher fetches and caches PageInfo summaries, keyed by full URL.
type Fetcher struct {
	client  *http.Client
	timeout time.Duration
	cache   *cache.Cache[PageInfo]
}

// New constructs a Fetcher. timeout == 0 disables fetching entirely;
// cacheBytes == 0 disables the cache (handled by internal/cache).
func New(timeout time.Duration, cacheBytes int64) *Fetcher {
	return &Fetcher{
		client:  &http.Client{},
		timeout: timeout,
		cache:   cache.New[PageInfo](cacheBytes, 0),
	}
}

// Fetch returns the OEmbed summary for url, serving from cache when
// present. On HTTP error, non-2xx status, parse failure, or a disabled
// fetcher (timeout == 0), it returns false so the caller keeps the plain
// link.
func (f *Fetcher) Fetch(ctx context.Context, url string) (PageInfo, bool) {
	if f.timeout == 0 {
		return PageInfo{}, false
	}

	if cached, ok := f.cache.Get(url); ok {
		return cached, true
	}

	info, err := f.fetchRemote(ctx, url)
	if err != nil {
		return PageInfo{}, false
	}

	f.cache.Insert(url, info, info.estimatedSize())
	return info, true
}

func (f *Fetcher) fetchRemote(ctx context.Context, url string) (PageInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return PageInfo{}, fmt.Errorf("build request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return PageInfo{}, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return PageInfo{}, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}

	return parsePageInfo(url, resp.Body)
}

func parsePageInfo(url string, body io.Reader) (PageInfo, error) {
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return PageInfo{}, fmt.Errorf("parse html: %w", err)
	}

	info := PageInfo{URL: url}
	doc.Find("meta").Each(func(_ int, sel *goquery.Selection) {
		property, ok := sel.Attr("property")
		if !ok {
			return
		}
		content, ok := sel.Attr("content")
		if !ok {
			return
		}
		switch property {
		case "og:title":
			info.Title = content
		case "og:description":
			info.Description = content
		case "og:image":
			info.Image = content
		}
	})
	return info, nil
}
