// Package videometa extracts video cover images, chapter markers, and
// caption tracks by shelling out to ffprobe/ffmpeg, invoking the binaries
// as external processes the way internal/search invokes ripgrep via
// os/exec.CommandContext, rather than linking ffmpeg's C libraries.
package videometa

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
)

// Sentinel errors classified at the HTTP boundary.
var (
	ErrOpenFailed   = errors.New("videometa: open failed")
	ErrNotAvailable = errors.New("videometa: metadata not available")
)

// MetadataKind is the requested suffix metadata type, parsed from a
// request path by ParseMetadataRequest.
type MetadataKind int

const (
	KindCover MetadataKind = iota
	KindChapters
	KindCaptions
)

var videoExtensions = []string{
	"mp4", "m4v", "mov", "avi", "mkv", "webm", "wmv", "flv", "3gp", "ogv", "mpeg", "mpg",
	"ts", "mts", "m2ts", "vob", "divx", "xvid", "asf", "rm", "rmvb", "f4v",
}

func hasVideoExtension(path string) bool {
	lower := strings.ToLower(path)
	for _, ext := range videoExtensions {
		if strings.HasSuffix(lower, "."+ext) {
			return true
		}
	}
	return false
}

// ParseMetadataRequest matches a request path against the ".cover.jpg",
// ".chapters.en.vtt", ".captions.en.vtt" suffixes, returning false unless
// the base path carries a recognized video extension.
func ParseMetadataRequest(path string) (videoPath string, kind MetadataKind, ok bool) {
	for suffix, k := range map[string]MetadataKind{
		".cover.jpg":       KindCover,
		".chapters.en.vtt": KindChapters,
		".captions.en.vtt": KindCaptions,
	} {
		if base, found := strings.CutSuffix(path, suffix); found && hasVideoExtension(base) {
			return base, k, true
		}
	}
	return "", 0, false
}

// Metadata summarizes what sidecar metadata a video file can produce.
type Metadata struct {
	HasChapters  bool
	HasSubtitles bool
	DurationSecs float64
}

type ffprobeFormat struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Chapters []struct{} `json:"chapters"`
	Streams  []struct {
		CodecType string `json:"codec_type"`
	} `json:"streams"`
}

// Probe runs ffprobe to discover duration, chapters, and subtitle
// availability without decoding any frames.
func Probe(ctx context.Context, path string) (Metadata, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-show_chapters",
		"-show_entries", "stream=codec_type",
		"-of", "json",
		path,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return Metadata{}, fmt.Errorf("%w: ffprobe %s: %v: %s", ErrOpenFailed, path, err, stderr.String())
	}

	var parsed ffprobeFormat
	if err := json.Unmarshal(stdout.Bytes(), &parsed); err != nil {
		return Metadata{}, fmt.Errorf("%w: parse ffprobe output: %v", ErrOpenFailed, err)
	}

	duration, _ := strconv.ParseFloat(parsed.Format.Duration, 64)
	hasSubtitles := false
	for _, s := range parsed.Streams {
		if s.CodecType == "subtitle" {
			hasSubtitles = true
			break
		}
	}

	return Metadata{
		HasChapters:  len(parsed.Chapters) > 0,
		HasSubtitles: hasSubtitles,
		DurationSecs: duration,
	}, nil
}

// ExtractCover decodes one frame at min(5s, duration/2) and returns the
// JPEG bytes of ffmpeg's MJPEG encoder run at -q:v 2 (ffmpeg's 2-31
// quantiser scale, not a 0-100 JPEG quality). The frame is neither
// rescaled nor converted to RGB, and an attached cover picture is not
// used. ffmpeg performs both the decode and the JPEG encode; this function
// only chooses the seek point.
func ExtractCover(ctx context.Context, path string) ([]byte, error) {
	meta, err := Probe(ctx, path)
	if err != nil {
		return nil, err
	}
	seek := math.Min(5.0, meta.DurationSecs/2)
	if seek < 0 {
		seek = 0
	}

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-ss", fmt.Sprintf("%.3f", seek),
		"-i", path,
		"-frames:v", "1",
		"-q:v", "2",
		"-f", "mjpeg",
		"pipe:1",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: ffmpeg cover %s: %v: %s", ErrNotAvailable, path, err, stderr.String())
	}
	if stdout.Len() == 0 {
		return nil, ErrNotAvailable
	}
	return stdout.Bytes(), nil
}

type ffprobeChapters struct {
	Chapters []struct {
		StartTime string            `json:"start_time"`
		EndTime   string            `json:"end_time"`
		Tags      map[string]string `json:"tags"`
	} `json:"chapters"`
}

// ExtractChapters renders chapter markers as a WEBVTT document, one cue
// per chapter, titled from the chapter's "title" tag or "Untitled".
func ExtractChapters(ctx context.Context, path string) (string, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_chapters",
		"-of", "json",
		path,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%w: ffprobe chapters %s: %v: %s", ErrOpenFailed, path, err, stderr.String())
	}

	var parsed ffprobeChapters
	if err := json.Unmarshal(stdout.Bytes(), &parsed); err != nil {
		return "", fmt.Errorf("%w: parse chapters: %v", ErrOpenFailed, err)
	}
	if len(parsed.Chapters) == 0 {
		return "", ErrNotAvailable
	}

	var b strings.Builder
	b.WriteString("WEBVTT\n\n")
	for _, c := range parsed.Chapters {
		start, _ := strconv.ParseFloat(c.StartTime, 64)
		end, _ := strconv.ParseFloat(c.EndTime, 64)
		title := c.Tags["title"]
		if title == "" {
			title = "Untitled"
		}
		fmt.Fprintf(&b, "%s --> %s\n%s\n\n", FormatVTTTime(start), FormatVTTTime(end), title)
	}
	return b.String(), nil
}

// ExtractCaptions extracts the video's first subtitle stream as WEBVTT.
func ExtractCaptions(ctx context.Context, path string) (string, error) {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-i", path,
		"-map", "0:s:0",
		"-f", "webvtt",
		"pipe:1",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%w: ffmpeg captions %s: %v: %s", ErrNotAvailable, path, err, stderr.String())
	}
	if stdout.Len() == 0 {
		return "", ErrNotAvailable
	}
	return stdout.String(), nil
}

// FormatVTTTime renders seconds as a WEBVTT timestamp "HH:MM:SS.mmm".
func FormatVTTTime(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	totalMillis := int64(math.Round(seconds * 1000))
	hours := totalMillis / 3_600_000
	totalMillis -= hours * 3_600_000
	minutes := totalMillis / 60_000
	totalMillis -= minutes * 60_000
	secs := totalMillis / 1000
	millis := totalMillis % 1000
	return fmt.Sprintf("%02d:%02d:%02d.%03d", hours, minutes, secs, millis)
}
