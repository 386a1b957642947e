// Package hls serves lower-resolution HLS variants of video files,
// transcoding segments on demand and muxing them into MPEG-TS. It shells
// out to ffmpeg for the codec work (the same os/exec.CommandContext idiom
// internal/videometa and internal/search use) and uses go-astits to mux
// the resulting H.264/AAC access units into MPEG-TS, with mediacommon
// parsing the encoded SPS to reject segments that carry no valid one.
package hls

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

	"github.com/asticode/go-astits"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
)

// SegmentDuration is the target duration, in seconds, of each HLS segment.
const SegmentDuration = 10.0

// Sentinel errors classified at the HTTP boundary.
var (
	ErrSourceTooSmall    = errors.New("hls: source resolution not larger than target")
	ErrSegmentOutOfRange = errors.New("hls: segment index out of range")
	ErrNoVideoStream     = errors.New("hls: no video stream")
	ErrTranscodeFailed   = errors.New("hls: transcode failed")
)

// Target is a downscale resolution ladder rung.
type Target int

const (
	Target720p Target = iota
	Target480p
)

func (t Target) Height() int {
	if t == Target720p {
		return 720
	}
	return 480
}

func (t Target) Width() int {
	if t == Target720p {
		return 1280
	}
	return 854
}

func (t Target) VideoBitrateKbps() int {
	if t == Target720p {
		return 2500
	}
	return 1000
}

func (t Target) AudioBitrateKbps() int {
	if t == Target720p {
		return 128
	}
	return 96
}

func (t Target) URLSuffix() string {
	if t == Target720p {
		return "-720p"
	}
	return "-480p"
}

// RequestKind distinguishes a playlist request from a segment request.
type RequestKind int

const (
	RequestPlaylist RequestKind = iota
	RequestSegment
)

// Request is a parsed HLS URL: either "{base}-720p.m3u8" or
// "{base}-720p-{NNN}.ts" (and the 480p equivalents).
type Request struct {
	VideoPath    string
	Target       Target
	Kind         RequestKind
	SegmentIndex uint32
}

// ParseRequest matches an HLS URL pattern, returning the reconstructed
// source video path (".mp4" is assumed; the caller resolves the actual
// file against the index).
func ParseRequest(path string) (Request, bool) {
	for _, t := range []Target{Target720p, Target480p} {
		if base, ok := strings.CutSuffix(path, t.URLSuffix()+".m3u8"); ok {
			return Request{VideoPath: base + ".mp4", Target: t, Kind: RequestPlaylist}, true
		}
	}

	rest, ok := strings.CutSuffix(path, ".ts")
	if !ok {
		return Request{}, false
	}
	idx := strings.LastIndexByte(rest, '-')
	if idx < 0 {
		return Request{}, false
	}
	baseWithRes, segStr := rest[:idx], rest[idx+1:]
	segIndex, err := strconv.ParseUint(segStr, 10, 32)
	if err != nil {
		return Request{}, false
	}
	for _, t := range []Target{Target720p, Target480p} {
		if base, ok := strings.CutSuffix(baseWithRes, t.URLSuffix()); ok {
			return Request{VideoPath: base + ".mp4", Target: t, Kind: RequestSegment, SegmentIndex: uint32(segIndex)}, true
		}
	}
	return Request{}, false
}

var supportedExtensions = []string{".mp4", ".mov", ".m4v", ".mkv", ".avi", ".webm"}

// IsSupportedVideo reports whether path carries a transcodable extension.
func IsSupportedVideo(path string) bool {
	lower := strings.ToLower(path)
	for _, ext := range supportedExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// Resolution is a source video's frame size and duration.
type Resolution struct {
	Width, Height int
	DurationSecs  float64
}

type ffprobeStreamInfo struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
}

// ProbeResolution runs ffprobe to discover the source video's frame size
// and duration.
func ProbeResolution(ctx context.Context, path string) (Resolution, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-show_entries", "stream=codec_type,width,height",
		"-of", "json",
		path,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return Resolution{}, fmt.Errorf("%w: ffprobe %s: %v: %s", ErrTranscodeFailed, path, err, stderr.String())
	}

	var parsed ffprobeStreamInfo
	if err := json.Unmarshal(stdout.Bytes(), &parsed); err != nil {
		return Resolution{}, fmt.Errorf("%w: parse ffprobe output: %v", ErrTranscodeFailed, err)
	}

	for _, s := range parsed.Streams {
		if s.CodecType == "video" {
			duration, _ := strconv.ParseFloat(parsed.Format.Duration, 64)
			return Resolution{Width: s.Width, Height: s.Height, DurationSecs: duration}, nil
		}
	}
	return Resolution{}, ErrNoVideoStream
}

// ShouldTranscode reports whether the source is taller than the target;
// only downscaling is ever performed.
func ShouldTranscode(sourceHeight int, target Target) bool {
	return sourceHeight > target.Height()
}

// CalculateOutputDimensions scales to target height, preserving aspect
// ratio, rounding both dimensions up to even numbers for codec compatibility.
func CalculateOutputDimensions(sourceWidth, sourceHeight int, target Target) (width, height int) {
	targetHeight := target.Height()
	aspect := float64(sourceWidth) / float64(sourceHeight)
	outWidth := int(math.Round(float64(targetHeight) * aspect))
	if outWidth%2 != 0 {
		outWidth++
	}
	outHeight := targetHeight
	if outHeight%2 != 0 {
		outHeight++
	}
	return outWidth, outHeight
}

// GeneratePlaylist builds a VOD m3u8 playlist for sourcePath's transcode
// to target, with segment URLs named "{baseName}{suffix}-{NNN}.ts".
func GeneratePlaylist(ctx context.Context, sourcePath string, target Target, baseName string) (string, error) {
	res, err := ProbeResolution(ctx, sourcePath)
	if err != nil {
		return "", err
	}
	if !ShouldTranscode(res.Height, target) {
		return "", fmt.Errorf("%w: source %dp, target %dp", ErrSourceTooSmall, res.Height, target.Height())
	}

	numSegments := int(math.Ceil(res.DurationSecs / SegmentDuration))
	targetDuration := int(math.Ceil(SegmentDuration))
	suffix := target.URLSuffix()

	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", targetDuration)
	b.WriteString("#EXT-X-MEDIA-SEQUENCE:0\n")
	b.WriteString("#EXT-X-PLAYLIST-TYPE:VOD\n")

	for i := 0; i < numSegments; i++ {
		segDuration := SegmentDuration
		if i == numSegments-1 {
			remaining := res.DurationSecs - float64(i)*SegmentDuration
			segDuration = math.Max(remaining, 0.001)
		}
		fmt.Fprintf(&b, "#EXTINF:%.3f,\n", segDuration)
		fmt.Fprintf(&b, "%s%s-%03d.ts\n", baseName, suffix, i)
	}
	b.WriteString("#EXT-X-ENDLIST\n")
	return b.String(), nil
}

// TranscodeSegment decodes and re-encodes segmentIndex of sourcePath at
// target's resolution and bitrate, muxing the H.264/AAC access units
// into an MPEG-TS byte stream.
func TranscodeSegment(ctx context.Context, sourcePath string, target Target, segmentIndex uint32) ([]byte, error) {
	res, err := ProbeResolution(ctx, sourcePath)
	if err != nil {
		return nil, err
	}
	if !ShouldTranscode(res.Height, target) {
		return nil, fmt.Errorf("%w: source %dp, target %dp", ErrSourceTooSmall, res.Height, target.Height())
	}

	startTime := float64(segmentIndex) * SegmentDuration
	if startTime >= res.DurationSecs {
		return nil, fmt.Errorf("%w: segment %d, duration %.1fs", ErrSegmentOutOfRange, segmentIndex, res.DurationSecs)
	}
	duration := math.Min(SegmentDuration, res.DurationSecs-startTime)

	outWidth, outHeight := CalculateOutputDimensions(res.Width, res.Height, target)

	videoES, err := encodeVideoElementaryStream(ctx, sourcePath, startTime, duration, outWidth, outHeight, target.VideoBitrateKbps())
	if err != nil {
		return nil, err
	}
	audioES, hasAudio, err := encodeAudioElementaryStream(ctx, sourcePath, startTime, duration, target.AudioBitrateKbps())
	if err != nil {
		return nil, err
	}

	return muxMPEGTS(videoES, audioES, hasAudio)
}

func encodeVideoElementaryStream(ctx context.Context, sourcePath string, start, duration float64, width, height, bitrateKbps int) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-ss", fmt.Sprintf("%.3f", start),
		"-i", sourcePath,
		"-t", fmt.Sprintf("%.3f", duration),
		"-an",
		"-vf", fmt.Sprintf("scale=%d:%d", width, height),
		"-c:v", "libx264",
		"-preset", "fast",
		"-b:v", fmt.Sprintf("%dk", bitrateKbps),
		"-bsf:v", "h264_mp4toannexb",
		"-f", "h264",
		"pipe:1",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: encode video segment: %v: %s", ErrTranscodeFailed, err, stderr.String())
	}
	return stdout.Bytes(), nil
}

func encodeAudioElementaryStream(ctx context.Context, sourcePath string, start, duration float64, bitrateKbps int) ([]byte, bool, error) {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-ss", fmt.Sprintf("%.3f", start),
		"-i", sourcePath,
		"-t", fmt.Sprintf("%.3f", duration),
		"-vn",
		"-c:a", "aac",
		"-b:a", fmt.Sprintf("%dk", bitrateKbps),
		"-f", "adts",
		"pipe:1",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		// No audio stream in source is a common, non-fatal case.
		return nil, false, nil
	}
	return stdout.Bytes(), stdout.Len() > 0, nil
}

func splitAnnexB(data []byte) [][]byte {
	var units [][]byte
	start := -1
	i := 0
	for i < len(data)-3 {
		if data[i] == 0 && data[i+1] == 0 && data[i+2] == 1 {
			if start >= 0 {
				units = append(units, trimTrailingZero(data[start:i]))
			}
			start = i + 3
			i += 3
			continue
		}
		i++
	}
	if start >= 0 && start < len(data) {
		units = append(units, data[start:])
	}
	return units
}

func trimTrailingZero(nal []byte) []byte {
	for len(nal) > 0 && nal[len(nal)-1] == 0 {
		nal = nal[:len(nal)-1]
	}
	return nal
}

func splitADTSFrames(data []byte) [][]byte {
	var frames [][]byte
	i := 0
	for i+7 <= len(data) {
		if data[i] != 0xFF || data[i+1]&0xF0 != 0xF0 {
			break
		}
		frameLen := int(data[i+3]&0x03)<<11 | int(data[i+4])<<3 | int(data[i+5])>>5
		if frameLen < 7 || i+frameLen > len(data) {
			break
		}
		frames = append(frames, data[i:i+frameLen])
		i += frameLen
	}
	return frames
}

// spsDimensions parses the first SPS NAL in an Annex-B stream via
// mediacommon and returns the width and height it declares. muxMPEGTS
// uses it only to reject a segment whose SPS is missing or does not
// parse; the dimensions are not compared with the requested output size.
func spsDimensions(nalUnits [][]byte) (width, height int, ok bool) {
	for _, nal := range nalUnits {
		if len(nal) == 0 || nal[0]&0x1F != 7 {
			continue
		}
		var sps h264.SPS
		if err := sps.Unmarshal(nal); err != nil {
			return 0, 0, false
		}
		return sps.Width(), sps.Height(), true
	}
	return 0, 0, false
}

const (
	videoPID = 256
	audioPID = 257
	mpegTSTimeBase = 90_000
)

func muxMPEGTS(videoES, audioES []byte, hasAudio bool) ([]byte, error) {
	nalUnits := splitAnnexB(videoES)
	if len(nalUnits) == 0 {
		return nil, fmt.Errorf("%w: no NAL units produced", ErrTranscodeFailed)
	}
	if _, _, ok := spsDimensions(nalUnits); !ok {
		return nil, fmt.Errorf("%w: no SPS found in encoded segment", ErrTranscodeFailed)
	}

	var buf bytes.Buffer
	muxer := astits.NewMuxer(context.Background(), &buf)
	if err := muxer.AddElementaryStream(astits.PMTElementaryStream{
		ElementaryPID: videoPID,
		StreamType:    astits.StreamTypeH264Video,
	}); err != nil {
		return nil, fmt.Errorf("%w: add video stream: %v", ErrTranscodeFailed, err)
	}
	if hasAudio && len(audioES) > 0 {
		if err := muxer.AddElementaryStream(astits.PMTElementaryStream{
			ElementaryPID: audioPID,
			StreamType:    astits.StreamTypeAACAudio,
		}); err != nil {
			return nil, fmt.Errorf("%w: add audio stream: %v", ErrTranscodeFailed, err)
		}
	}
	muxer.SetPCRPID(videoPID)

	frameDuration := int64(mpegTSTimeBase / 30) // assumed 30fps encode
	for i, nal := range nalUnits {
		pts := int64(i) * frameDuration
		if _, err := muxer.WriteData(&astits.MuxerData{
			PID: videoPID,
			PES: &astits.PESData{
				Header: &astits.PESHeader{
					OptionalHeader: &astits.PESOptionalHeader{
						MarkerBits:      2,
						PTSDTSIndicator: astits.PTSDTSIndicatorOnlyPTS,
						PTS:             &astits.ClockReference{Base: pts},
					},
					StreamID: 0xe0,
				},
				Data: nal,
			},
		}); err != nil {
			return nil, fmt.Errorf("%w: mux video frame %d: %v", ErrTranscodeFailed, i, err)
		}
	}

	if hasAudio && len(audioES) > 0 {
		for i, frame := range splitADTSFrames(audioES) {
			pts := int64(i) * int64(mpegTSTimeBase) * 1024 / 44100
			if _, err := muxer.WriteData(&astits.MuxerData{
				PID: audioPID,
				PES: &astits.PESData{
					Header: &astits.PESHeader{
						OptionalHeader: &astits.PESOptionalHeader{
							MarkerBits:      2,
							PTSDTSIndicator: astits.PTSDTSIndicatorOnlyPTS,
							PTS:             &astits.ClockReference{Base: pts},
						},
						StreamID: 0xc0,
					},
					Data: frame,
				},
			}); err != nil {
				return nil, fmt.Errorf("%w: mux audio frame %d: %v", ErrTranscodeFailed, i, err)
			}
		}
	}

	return buf.Bytes(), nil
}
