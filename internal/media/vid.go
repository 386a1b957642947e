package media

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	vidTagRe  = regexp.MustCompile(`^\s*\{\{\s*vid\s*\((?P<params>.*?)\)\s*\}\}\s*$`)
	vidKVRe   = regexp.MustCompile(`\b(?P<key>\w+)\s*=\s*['"\x{201C}\x{201D}](?P<val>[^'"\x{201C}\x{201D}]*?)['"\x{201C}\x{201D}]`)
	vidTimeRe = regexp.MustCompile(`#t=([0-9]+(:[0-9]+)*)(,([0-9]+(:[0-9]+)*))?$`)
)

// videoExtensions lists extensions Vid recognizes directly from a bare URL
// (as opposed to the {{ vid(...) }} tag form, which accepts any extension).
var videoExtensions = map[string]struct{}{
	"mp4": {}, "mpg": {}, "avi": {}, "ogv": {}, "ogg": {}, "m4v": {},
}

// Vid is an embeddable video, either detected from a bare URL's extension or
// parsed from a {{ vid(path="...", start="...", end="...", caption="...") }}
// inline tag.
type Vid struct {
	URL     string
	Ext     string
	Start   string
	End     string
	Caption string
}

// VidFromURLAndTitle returns a Vid if url carries a recognized video
// extension (after stripping any #t=start,end time fragment).
func VidFromURLAndTitle(rawURL, title string) (Vid, bool) {
	start, end, stripped := startStopFromURL(rawURL)
	ext, ok := extensionFromURL(stripped)
	if !ok {
		return Vid{}, false
	}
	if _, ok := videoExtensions[ext]; !ok {
		return Vid{}, false
	}
	return Vid{URL: stripped, Ext: ext, Start: start, End: end, Caption: title}, true
}

// vidPercentEncode percent-encodes every byte except ASCII alphanumerics,
// '.', '/' and '?', matching the path conventions used by the /videos/
// serving route.
func vidPercentEncode(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == '.', c == '/', c == '?':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

// VidFromTag parses a {{ vid(path="...", start="...", end="...",
// caption="...") }} inline tag. Returns false if the tag doesn't match or
// carries no path parameter.
func VidFromTag(input string) (Vid, bool) {
	m := vidTagRe.FindStringSubmatch(input)
	if m == nil {
		return Vid{}, false
	}
	params := m[vidTagRe.SubexpIndex("params")]

	var vid Vid
	var path string
	hasPath := false

	for _, kv := range vidKVRe.FindAllStringSubmatch(params, -1) {
		key := kv[vidKVRe.SubexpIndex("key")]
		val := kv[vidKVRe.SubexpIndex("val")]
		switch key {
		case "path":
			path, hasPath = val, true
		case "start":
			vid.Start = val
		case "end":
			vid.End = val
		case "caption":
			vid.Caption = val
		}
	}

	if !hasPath {
		return Vid{}, false
	}
	vid.URL = vidPercentEncode("/videos/" + path)
	if ext, ok := extensionFromURL(vid.URL); ok {
		vid.Ext = ext
	}
	return vid, true
}

// ExpandVidTags rewrites every standalone {{ vid(...) }} line in input into
// its rendered HTML embed, ahead of markdown parsing. Lines that don't match
// VidFromTag are passed through unchanged, matching the line-oriented
// preprocessing wikilink.TransformWikilinks already performs before the
// markdown body reaches goldmark.
func ExpandVidTags(input string) string {
	lines := strings.Split(input, "\n")
	for i, line := range lines {
		if vid, ok := VidFromTag(line); ok {
			lines[i] = vid.ToHTML(false)
		}
	}
	return strings.Join(lines, "\n")
}

// MimeType returns the video MIME type for this file's extension.
func (v Vid) MimeType() string {
	switch v.Ext {
	case "m4v":
		return "video/mpeg"
	case "mov":
		return "video/quicktime"
	case "avi":
		return "video/x-msvideo"
	case "ogg", "ogv":
		return "video/ogg"
	case "":
		return "x"
	default:
		return "video/" + v.Ext
	}
}

// ToHTML renders the opening <figure>/<video> markup, including caption,
// chapter and subtitle track references alongside the configured cover
// image. When openOnly is true the figcaption is left open for a markdown
// renderer to fill before the caller appends VidHTMLClose.
func (v Vid) ToHTML(openOnly bool) string {
	time := ""
	if v.Start != "" {
		time = "#t=" + v.Start
		if v.End != "" {
			time += "," + v.End
		}
	}

	var b strings.Builder
	b.WriteString("\n<figure>\n")
	b.WriteString("    <video controls preload=\"metadata\" poster=\"" + v.URL + ".cover.jpg\">\n")
	b.WriteString("        <source src='" + v.URL + time + "' type=\"" + v.MimeType() + "\">\n")
	b.WriteString("        <track kind=\"captions\" label=\"English captions\" src=\"" + v.URL + ".captions.en.vtt\" srclang=\"en\" language=\"en-US\" default type=\"vtt\" data-type=\"vtt\" />\n")
	b.WriteString("        <track kind=\"chapters\" language=\"en-US\" label=\"Chapters\" src=\"" + v.URL + ".chapters.en.vtt\" srclang=\"en\" default type=\"vtt\" data-type=\"vtt\" />\n")
	b.WriteString("    </video>\n")
	b.WriteString("    <figcaption>" + v.Caption)
	if !openOnly {
		b.WriteString(VidHTMLClose())
	}
	return b.String()
}

// VidHTMLClose returns the tags that close a video embed opened with
// ToHTML(true).
func VidHTMLClose() string {
	return "</figcaption></figure>"
}

func startStopFromURL(rawURL string) (start, end, stripped string) {
	m := vidTimeRe.FindStringSubmatch(rawURL)
	if m == nil {
		return "", "", rawURL
	}
	stripped = rawURL
	if idx := strings.LastIndexByte(rawURL, '#'); idx >= 0 {
		stripped = rawURL[:idx]
	}
	return m[1], m[4], stripped
}
