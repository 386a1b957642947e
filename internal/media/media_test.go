package media_test

import (
	"strings"
	"testing"

	"github.com/marrow-wiki/mbr/internal/media"
)

func TestFromURLAndTitleYouTube(t *testing.T) {
	t.Parallel()
	cases := []struct {
		url     string
		wantID  string
		caption string
	}{
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ", "Title"},
		{"https://youtu.be/dQw4w9WgXcQ", "dQw4w9WgXcQ", ""},
		{"https://www.youtube.com/embed/dQw4w9WgXcQ", "dQw4w9WgXcQ", "Caption"},
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ&t=30s", "dQw4w9WgXcQ", ""},
	}
	for _, c := range cases {
		embed, ok := media.FromURLAndTitle(c.url, c.caption)
		if !ok || embed.Kind != media.KindYouTube || embed.YouTube != c.wantID {
			t.Errorf("FromURLAndTitle(%q) = %+v, ok=%v, want YouTube id %q", c.url, embed, ok, c.wantID)
		}
	}
}

func TestFromURLAndTitleVideo(t *testing.T) {
	t.Parallel()
	embed, ok := media.FromURLAndTitle("video.mp4", "My Video")
	if !ok || embed.Kind != media.KindVideo {
		t.Fatalf("expected video.mp4 to resolve to a video embed, got %+v ok=%v", embed, ok)
	}
}

func TestFromURLAndTitleWebmIsAudio(t *testing.T) {
	t.Parallel()
	embed, ok := media.FromURLAndTitle("video.webm", "")
	if !ok || embed.Kind != media.KindAudio {
		t.Fatalf("expected video.webm to resolve to an audio embed, got %+v ok=%v", embed, ok)
	}
}

func TestFromURLAndTitleAudio(t *testing.T) {
	t.Parallel()
	for _, url := range []string{"podcast.mp3", "sound.wav"} {
		embed, ok := media.FromURLAndTitle(url, "")
		if !ok || embed.Kind != media.KindAudio {
			t.Errorf("expected %q to resolve to an audio embed, got %+v ok=%v", url, embed, ok)
		}
	}
}

func TestFromURLAndTitlePDF(t *testing.T) {
	t.Parallel()
	embed, ok := media.FromURLAndTitle("document.pdf", "Important Doc")
	if !ok || embed.Kind != media.KindPDF || embed.URL != "document.pdf" || embed.Caption != "Important Doc" {
		t.Fatalf("unexpected result: %+v ok=%v", embed, ok)
	}

	if _, ok := media.FromURLAndTitle("document.PDF", ""); !ok {
		t.Fatalf("expected case-insensitive pdf extension match")
	}
}

func TestFromURLAndTitleNonMedia(t *testing.T) {
	t.Parallel()
	for _, url := range []string{"photo.jpg", "image.png", "graphic.gif", "file.xyz", "https://example.com/page"} {
		if _, ok := media.FromURLAndTitle(url, ""); ok {
			t.Errorf("expected %q to not resolve to a media embed", url)
		}
	}
}

func TestYouTubeHTML(t *testing.T) {
	t.Parallel()
	embed := media.Embed{Kind: media.KindYouTube, YouTube: "abc123xyz", Caption: "Test Video"}
	html := embed.ToHTML(false)
	if !strings.Contains(html, "youtube-embed") {
		t.Errorf("expected youtube-embed class, got %s", html)
	}
	if !strings.Contains(html, "https://www.youtube.com/embed/abc123xyz") {
		t.Errorf("expected embed src, got %s", html)
	}
	if !strings.Contains(html, "<figcaption>Test Video</figcaption>") {
		t.Errorf("expected closed figcaption, got %s", html)
	}
}

func TestPDFHTML(t *testing.T) {
	t.Parallel()
	embed := media.Embed{Kind: media.KindPDF, URL: "/docs/test.pdf", Caption: "My PDF"}
	html := embed.ToHTML(false)
	for _, want := range []string{"pdf-embed", `data="/docs/test.pdf"`, `type="application/pdf"`, "data-pdf-fallback", "<figcaption>My PDF</figcaption>"} {
		if !strings.Contains(html, want) {
			t.Errorf("expected html to contain %q, got %s", want, html)
		}
	}
}

func TestPDFHTMLOpenOnly(t *testing.T) {
	t.Parallel()
	embed := media.Embed{Kind: media.KindPDF, URL: "doc.pdf"}
	html := embed.ToHTML(true)
	if !strings.Contains(html, "<object") {
		t.Errorf("expected object tag, got %s", html)
	}
	if strings.Contains(html, "</figcaption></figure>") {
		t.Errorf("expected figcaption left open, got %s", html)
	}
}

func TestHTMLClose(t *testing.T) {
	t.Parallel()
	youtube := media.Embed{Kind: media.KindYouTube}
	pdf := media.Embed{Kind: media.KindPDF}
	if got := youtube.HTMLClose(); got != "</figcaption></figure>" {
		t.Errorf("unexpected close for YouTube: %q", got)
	}
	if got := pdf.HTMLClose(); got != "</figcaption></figure>" {
		t.Errorf("unexpected close for PDF: %q", got)
	}
}

func TestVidFromTag(t *testing.T) {
	t.Parallel()
	input := `{{ vid(path="foo.mp4", start="10", end="20", caption="Test") }}`
	vid, ok := media.VidFromTag(input)
	if !ok {
		t.Fatalf("expected tag to parse")
	}
	if !strings.Contains(vid.URL, "/videos/foo.mp4") {
		t.Errorf("unexpected url: %q", vid.URL)
	}
	if vid.Start != "10" || vid.End != "20" || vid.Caption != "Test" {
		t.Errorf("unexpected fields: %+v", vid)
	}
}

func TestVidFromTagInvalid(t *testing.T) {
	t.Parallel()
	if _, ok := media.VidFromTag(`{{ notvid(path="foo.mp4") }}`); ok {
		t.Errorf("expected non-vid tag to be rejected")
	}
	if _, ok := media.VidFromTag(`{{ vid(caption="No path") }}`); ok {
		t.Errorf("expected missing path to be rejected")
	}
}

func TestVidFromTagEncodesSpaces(t *testing.T) {
	t.Parallel()
	input := `{{ vid(path="Eric Jones/Eric Jones - Metal 3.mp4")}}`
	vid, ok := media.VidFromTag(input)
	if !ok {
		t.Fatalf("expected tag to parse")
	}
	if !strings.Contains(vid.URL, "/videos/") || !strings.Contains(vid.URL, "Eric%20Jones") {
		t.Errorf("expected encoded path, got %q", vid.URL)
	}
}

func TestVidFromURLAndTitleWithTime(t *testing.T) {
	t.Parallel()
	vid, ok := media.VidFromURLAndTitle("video.mp4#t=10,20", "Timed video")
	if !ok {
		t.Fatalf("expected video.mp4 with time fragment to parse")
	}
	if vid.URL != "video.mp4" || vid.Start != "10" || vid.End != "20" {
		t.Errorf("unexpected fields: %+v", vid)
	}
}

func TestVidMimeType(t *testing.T) {
	t.Parallel()
	mp4, _ := media.VidFromURLAndTitle("x/y/video.mp4#t=10,20", "Whatever")
	ogv, _ := media.VidFromURLAndTitle("x/y/video.ogv#t=10,20", "Whatever")
	if got := mp4.MimeType(); got != "video/mp4" {
		t.Errorf("mp4 mime = %q", got)
	}
	if got := ogv.MimeType(); got != "video/ogg" {
		t.Errorf("ogv mime = %q", got)
	}
}

func TestExpandVidTagsReplacesMatchingLine(t *testing.T) {
	t.Parallel()
	input := "Intro paragraph.\n\n{{ vid(path=\"foo.mp4\", caption=\"Demo\") }}\n\nOutro paragraph.\n"
	out := media.ExpandVidTags(input)
	if strings.Contains(out, "{{ vid(") {
		t.Errorf("expected tag line to be replaced, got %q", out)
	}
	if !strings.Contains(out, "<figure>") || !strings.Contains(out, "/videos/foo.mp4") {
		t.Errorf("expected rendered video embed, got %q", out)
	}
	if !strings.Contains(out, "Intro paragraph.") || !strings.Contains(out, "Outro paragraph.") {
		t.Errorf("expected surrounding lines untouched, got %q", out)
	}
}

func TestExpandVidTagsLeavesNonTagLinesAlone(t *testing.T) {
	t.Parallel()
	input := "Just text.\n{{ notvid(path=\"foo.mp4\") }}\n"
	out := media.ExpandVidTags(input)
	if out != input {
		t.Errorf("expected input unchanged, got %q", out)
	}
}
