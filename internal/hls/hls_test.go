package hls_test

import (
	"testing"

	"github.com/marrow-wiki/mbr/internal/hls"
)

func TestParseRequestPlaylist(t *testing.T) {
	t.Parallel()
	req, ok := hls.ParseRequest("videos/demo-720p.m3u8")
	if !ok {
		t.Fatal("expected match")
	}
	if req.Kind != hls.RequestPlaylist || req.Target != hls.Target720p || req.VideoPath != "videos/demo.mp4" {
		t.Errorf("unexpected request: %+v", req)
	}
}

func TestParseRequestSegment(t *testing.T) {
	t.Parallel()
	req, ok := hls.ParseRequest("videos/demo-480p-005.ts")
	if !ok {
		t.Fatal("expected match")
	}
	if req.Kind != hls.RequestSegment || req.Target != hls.Target480p || req.SegmentIndex != 5 {
		t.Errorf("unexpected request: %+v", req)
	}
	if req.VideoPath != "videos/demo.mp4" {
		t.Errorf("expected reconstructed video path, got %q", req.VideoPath)
	}
}

func TestParseRequestRejectsUnrelatedPath(t *testing.T) {
	t.Parallel()
	if _, ok := hls.ParseRequest("videos/demo.mp4"); ok {
		t.Error("expected non-HLS path to be rejected")
	}
	if _, ok := hls.ParseRequest("videos/demo-720p.mp4"); ok {
		t.Error("expected non-.m3u8/.ts path to be rejected")
	}
}

func TestIsSupportedVideo(t *testing.T) {
	t.Parallel()
	for _, p := range []string{"a.mp4", "a.MOV", "a.mkv"} {
		if !hls.IsSupportedVideo(p) {
			t.Errorf("expected %q to be supported", p)
		}
	}
	if hls.IsSupportedVideo("a.pdf") {
		t.Error("expected .pdf to be unsupported")
	}
}

func TestShouldTranscode(t *testing.T) {
	t.Parallel()
	if !hls.ShouldTranscode(1080, hls.Target720p) {
		t.Error("expected 1080p source to need 720p transcode")
	}
	if hls.ShouldTranscode(480, hls.Target720p) {
		t.Error("expected 480p source to skip upscale to 720p")
	}
}

func TestCalculateOutputDimensions(t *testing.T) {
	t.Parallel()
	w, h := hls.CalculateOutputDimensions(1920, 1080, hls.Target720p)
	if h != 720 {
		t.Errorf("expected height 720, got %d", h)
	}
	if w%2 != 0 {
		t.Errorf("expected even width, got %d", w)
	}
	wantWidth := 1280
	if w != wantWidth {
		t.Errorf("expected width %d for 16:9 source, got %d", wantWidth, w)
	}
}
