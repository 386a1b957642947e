package media

import "strings"

// audioExtensions lists the extensions recognized as embeddable audio.
// webm is deliberately classified as audio, not video: it has no
// corresponding entry in videoExtensions, so a bare .webm file embeds with
// an <audio> tag.
var audioExtensions = map[string]struct{}{
	"mp3": {}, "wav": {}, "ogg": {}, "flac": {}, "aac": {}, "m4a": {}, "webm": {},
}

// Audio is an embeddable audio file detected from an image-syntax URL.
type Audio struct {
	URL     string
	Ext     string
	Caption string
}

// AudioFromURLAndTitle returns an Audio if url carries a recognized audio
// extension, matched case-insensitively.
func AudioFromURLAndTitle(url, title string) (Audio, bool) {
	ext, ok := extensionFromURL(url)
	if !ok {
		return Audio{}, false
	}
	if _, ok := audioExtensions[strings.ToLower(ext)]; !ok {
		return Audio{}, false
	}
	return Audio{URL: url, Ext: ext, Caption: title}, true
}

// MimeType returns the audio MIME type for this file's extension.
func (a Audio) MimeType() string {
	switch a.Ext {
	case "mp3":
		return "audio/mpeg"
	case "m4a":
		return "audio/mp4"
	case "ogg":
		return "audio/ogg"
	case "wav":
		return "audio/wav"
	case "flac":
		return "audio/flac"
	case "aac":
		return "audio/aac"
	case "webm":
		return "audio/webm"
	case "":
		return "audio/mpeg"
	default:
		return "audio/" + a.Ext
	}
}

// ToHTML renders the opening <figure>/<audio> markup. When openOnly is true
// the figcaption is left open for a markdown renderer to fill with inline
// content before the caller appends AudioHTMLClose.
func (a Audio) ToHTML(openOnly bool) string {
	var b strings.Builder
	b.WriteString("\n<figure class=\"audio-embed\">\n")
	b.WriteString("    <audio controls preload=\"metadata\">\n")
	b.WriteString("        <source src=\"" + a.URL + "\" type=\"" + a.MimeType() + "\">\n")
	b.WriteString("        Your browser does not support the audio element.\n")
	b.WriteString("    </audio>\n")
	b.WriteString("    <figcaption>" + a.Caption)
	if !openOnly {
		b.WriteString(AudioHTMLClose())
	}
	return b.String()
}

// AudioHTMLClose returns the tags that close an audio embed opened with
// ToHTML(true).
func AudioHTMLClose() string {
	return "</figcaption></figure>"
}
