// Package media detects and renders non-image embeds reached through
// markdown's image syntax: ![caption](url). A URL pointing at a video,
// audio file, YouTube link or PDF renders as a native HTML5 player or
// object embed instead of an <img> tag.
package media

import (
	"regexp"
	"strings"
)

var (
	extensionRe = regexp.MustCompile(`\.([0-9a-zA-Z]+)([?#].*)?$`)
	youtubeRe   = regexp.MustCompile(`(?:youtube\.com/watch\?.*v=|youtu\.be/|youtube\.com/embed/|youtube\.com/v/)([a-zA-Z0-9_-]{11})`)
)

func extensionFromURL(url string) (string, bool) {
	m := extensionRe.FindStringSubmatch(url)
	if m == nil {
		return "", false
	}
	return m[1], true
}

func extractYouTubeID(url string) (string, bool) {
	m := youtubeRe.FindStringSubmatch(url)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Kind classifies which HTML a media Embed renders.
type Kind int

const (
	KindVideo Kind = iota
	KindAudio
	KindYouTube
	KindPDF
)

// Embed is a detected non-image media reference ready for HTML rendering.
type Embed struct {
	Kind    Kind
	Video   Vid
	Audio   Audio
	YouTube string // video ID
	URL     string // for PDF
	Caption string
}

// FromURLAndTitle detects the media kind behind an image-syntax URL in
// priority order: YouTube, video extension, audio extension, PDF extension.
// It returns false when url doesn't match any recognized media type, in
// which case the caller should fall back to a plain <img>.
func FromURLAndTitle(url, title string) (Embed, bool) {
	if id, ok := extractYouTubeID(url); ok {
		return Embed{Kind: KindYouTube, YouTube: id, Caption: title}, true
	}

	if _, ok := extensionFromURL(url); ok {
		if vid, ok := VidFromURLAndTitle(url, title); ok {
			return Embed{Kind: KindVideo, Video: vid}, true
		}
		if audio, ok := AudioFromURLAndTitle(url, title); ok {
			return Embed{Kind: KindAudio, Audio: audio}, true
		}
		if ext, _ := extensionFromURL(url); strings.EqualFold(ext, "pdf") {
			return Embed{Kind: KindPDF, URL: url, Caption: title}, true
		}
	}

	return Embed{}, false
}

// ToHTML renders the opening HTML for this embed. When openOnly is true the
// figcaption is left open for the caller's markdown renderer to fill with
// inline content before appending HTMLClose.
func (e Embed) ToHTML(openOnly bool) string {
	switch e.Kind {
	case KindVideo:
		return e.Video.ToHTML(openOnly)
	case KindAudio:
		return e.Audio.ToHTML(openOnly)
	case KindYouTube:
		return youtubeToHTML(e.YouTube, e.Caption, openOnly)
	case KindPDF:
		return pdfToHTML(e.URL, e.Caption, openOnly)
	default:
		return ""
	}
}

// HTMLClose returns the tags that close this embed's element, for use after
// an open-only ToHTML and the markdown-rendered caption content.
func (e Embed) HTMLClose() string {
	switch e.Kind {
	case KindVideo:
		return VidHTMLClose()
	case KindAudio:
		return AudioHTMLClose()
	default:
		return "</figcaption></figure>"
	}
}

func youtubeToHTML(videoID, caption string, openOnly bool) string {
	var b strings.Builder
	b.WriteString("\n<figure class=\"video-embed youtube-embed\">\n")
	b.WriteString("    <iframe\n")
	b.WriteString("        width=\"560\"\n")
	b.WriteString("        height=\"315\"\n")
	b.WriteString("        src=\"https://www.youtube.com/embed/" + videoID + "\"\n")
	b.WriteString("        title=\"YouTube video player\"\n")
	b.WriteString("        frameborder=\"0\"\n")
	b.WriteString("        allow=\"accelerometer; autoplay; clipboard-write; encrypted-media; gyroscope; picture-in-picture; web-share\"\n")
	b.WriteString("        referrerpolicy=\"strict-origin-when-cross-origin\"\n")
	b.WriteString("        allowfullscreen>\n")
	b.WriteString("    </iframe>\n")
	b.WriteString("    <figcaption>" + caption)
	if !openOnly {
		b.WriteString("</figcaption></figure>")
	}
	return b.String()
}

func pdfToHTML(url, caption string, openOnly bool) string {
	var b strings.Builder
	b.WriteString("\n<figure class=\"pdf-embed\" data-pdf-url=\"" + url + "\">\n")
	b.WriteString("    <object data=\"" + url + "\" type=\"application/pdf\" width=\"100%\" height=\"600px\">\n")
	b.WriteString("        <p class=\"pdf-fallback\">\n")
	b.WriteString("            PDF cannot be displayed inline.\n")
	b.WriteString("            <a href=\"" + url + "\" download data-pdf-fallback>Download PDF</a>\n")
	b.WriteString("        </p>\n")
	b.WriteString("    </object>\n")
	b.WriteString("    <figcaption>" + caption)
	if !openOnly {
		b.WriteString("</figcaption></figure>")
	}
	return b.String()
}
