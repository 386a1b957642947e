// Package pdfdoc extracts PDF info-dictionary metadata and renders a
// first-page cover JPEG. unipdf's PdfObjectString.Decoded already
// performs UTF-16BE-BOM/UTF-8/Latin-1 string decoding, so this package
// invokes the library's decoding rather than reimplementing it.
package pdfdoc

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"strings"

	"github.com/unidoc/unipdf/v3/model"
	"github.com/unidoc/unipdf/v3/render"
	"golang.org/x/image/draw"
)

// Sentinel errors classified at the HTTP boundary.
var (
	ErrPasswordProtected = errors.New("pdfdoc: password protected")
	ErrOpenFailed        = errors.New("pdfdoc: open failed")
	ErrPageNotFound      = errors.New("pdfdoc: page not found")
	ErrRenderFailed      = errors.New("pdfdoc: render failed")
)

// Metadata is the Info-dictionary summary of a PDF file.
type Metadata struct {
	Title    string
	Author   string
	Subject  string
	Keywords []string
	NumPages int
}

// coverSemaphore serializes every page render: unipdf's renderer shares
// global state across concurrent calls and is not safe for concurrent use.
var coverSemaphore = make(chan struct{}, 1)

// Probe reads the PDF info dictionary and page count.
func Probe(path string) (Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("%w: %v", ErrOpenFailed, err)
	}
	defer f.Close()

	reader, err := model.NewPdfReader(f)
	if err != nil {
		return Metadata{}, fmt.Errorf("%w: %v", ErrOpenFailed, err)
	}
	if isEncrypted, _ := reader.IsEncrypted(); isEncrypted {
		ok, err := reader.Decrypt([]byte(""))
		if err != nil || !ok {
			return Metadata{}, ErrPasswordProtected
		}
	}

	numPages, err := reader.GetNumPages()
	if err != nil {
		return Metadata{}, fmt.Errorf("%w: %v", ErrOpenFailed, err)
	}

	meta := Metadata{NumPages: numPages}
	info, err := reader.GetPdfInfo()
	if err != nil || info == nil {
		return meta, nil
	}
	if info.Title != nil {
		meta.Title = info.Title.Decoded()
	}
	if info.Author != nil {
		meta.Author = info.Author.Decoded()
	}
	if info.Subject != nil {
		meta.Subject = info.Subject.Decoded()
	}
	if info.Keywords != nil {
		meta.Keywords = splitKeywords(info.Keywords.Decoded())
	}
	return meta, nil
}

func splitKeywords(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// ExtractCover renders the PDF's first page as a JPEG at quality 85,
// resized to a max width of 1200px with aspect preserved. Concurrent
// calls serialize through coverSemaphore.
func ExtractCover(path string) ([]byte, error) {
	coverSemaphore <- struct{}{}
	defer func() { <-coverSemaphore }()

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOpenFailed, err)
	}
	defer f.Close()

	reader, err := model.NewPdfReader(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOpenFailed, err)
	}
	if isEncrypted, _ := reader.IsEncrypted(); isEncrypted {
		if ok, err := reader.Decrypt([]byte("")); err != nil || !ok {
			return nil, ErrPasswordProtected
		}
	}

	page, err := reader.GetPage(1)
	if err != nil || page == nil {
		return nil, ErrPageNotFound
	}

	device := render.NewImageDevice()
	img, err := device.Render(page)
	if err != nil || img == nil {
		return nil, fmt.Errorf("%w: %v", ErrRenderFailed, err)
	}

	resized := resizeMaxWidth(img, 1200)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("%w: encode jpeg: %v", ErrRenderFailed, err)
	}
	return buf.Bytes(), nil
}

func resizeMaxWidth(src image.Image, maxWidth int) image.Image {
	bounds := src.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width <= maxWidth {
		return src
	}
	newWidth := maxWidth
	newHeight := height * newWidth / width
	dst := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
	return dst
}

// SaveCover renders path's cover and writes it to "<path>.cover.jpg",
// returning the sidecar's path. Used by the CLI's recursive pre-render mode.
func SaveCover(path string) (string, error) {
	data, err := ExtractCover(path)
	if err != nil {
		return "", err
	}
	out := path + ".cover.jpg"
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return "", fmt.Errorf("write cover: %w", err)
	}
	return out, nil
}

// ParseCoverRequest returns the base PDF path when reqPath is a
// "<base>.pdf.cover.jpg" request.
func ParseCoverRequest(reqPath string) (string, bool) {
	base, ok := strings.CutSuffix(reqPath, ".cover.jpg")
	if !ok {
		return "", false
	}
	if !strings.HasSuffix(strings.ToLower(base), ".pdf") {
		return "", false
	}
	return base, true
}
