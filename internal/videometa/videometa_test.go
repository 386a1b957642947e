package videometa_test

import (
	"testing"

	"github.com/marrow-wiki/mbr/internal/videometa"
)

func TestParseMetadataRequestCover(t *testing.T) {
	t.Parallel()
	base, kind, ok := videometa.ParseMetadataRequest("clips/intro.mp4.cover.jpg")
	if !ok || base != "clips/intro.mp4" || kind != videometa.KindCover {
		t.Fatalf("ParseMetadataRequest = %q, %v, %v", base, kind, ok)
	}
}

func TestParseMetadataRequestChapters(t *testing.T) {
	t.Parallel()
	base, kind, ok := videometa.ParseMetadataRequest("clips/intro.mkv.chapters.en.vtt")
	if !ok || base != "clips/intro.mkv" || kind != videometa.KindChapters {
		t.Fatalf("ParseMetadataRequest = %q, %v, %v", base, kind, ok)
	}
}

func TestParseMetadataRequestCaptions(t *testing.T) {
	t.Parallel()
	base, kind, ok := videometa.ParseMetadataRequest("clips/intro.webm.captions.en.vtt")
	if !ok || base != "clips/intro.webm" || kind != videometa.KindCaptions {
		t.Fatalf("ParseMetadataRequest = %q, %v, %v", base, kind, ok)
	}
}

func TestParseMetadataRequestRejectsNonVideoBase(t *testing.T) {
	t.Parallel()
	if _, _, ok := videometa.ParseMetadataRequest("docs/report.pdf.cover.jpg"); ok {
		t.Errorf("expected pdf base to be rejected, so pdfdoc can claim it instead")
	}
	if _, _, ok := videometa.ParseMetadataRequest("clips/intro.mp4"); ok {
		t.Errorf("expected request without a metadata suffix to be rejected")
	}
}

func TestFormatVTTTime(t *testing.T) {
	t.Parallel()
	cases := map[float64]string{
		0:        "00:00:00.000",
		65.5:     "00:01:05.500",
		3661.25:  "01:01:01.250",
		-1:       "00:00:00.000",
	}
	for secs, want := range cases {
		if got := videometa.FormatVTTTime(secs); got != want {
			t.Errorf("FormatVTTTime(%v) = %q, want %q", secs, got, want)
		}
	}
}
