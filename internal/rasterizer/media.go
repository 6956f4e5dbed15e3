package rasterizer

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gen2brain/go-fitz"
	qrcode "github.com/skip2/go-qrcode"
)

// qrSourcePrefix marks media sources that synthesize a QR code instead of
// reading a file, e.g. "qr:https://example.com/watch/abc".
const qrSourcePrefix = "qr:"

// pdfRenderDPI is the rasterization density for PDF media sources.
const pdfRenderDPI = 150

// FrameExtractor samples one frame of a video source at the given offset in
// seconds. It may legitimately be nil: video compositing then falls back to
// decoding the source as a still.
type FrameExtractor func(src string, at float64) (image.Image, error)

// MediaCache resolves and caches decoded media sources. One cache is shared by
// all rasterization workers of a job, so Resolve is safe for concurrent use.
type MediaCache struct {
	mu      sync.Mutex
	images  map[string]image.Image
	extract FrameExtractor
}

// NewMediaCache creates a cache. extract may be nil.
func NewMediaCache(extract FrameExtractor) *MediaCache {
	return &MediaCache{
		images:  make(map[string]image.Image),
		extract: extract,
	}
}

// Resolve returns the decoded image for a still media source.
func (c *MediaCache) Resolve(src string) (image.Image, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if img, ok := c.images[src]; ok {
		return img, nil
	}
	img, err := decodeSource(src)
	if err != nil {
		return nil, err
	}
	c.images[src] = img
	return img, nil
}

// ResolveVideo returns a frame of a video source near offset `at` seconds.
// Sampling is approximate: frames are cached at one-second granularity, and
// when no extractor is available the source's poster still is used for every
// offset.
func (c *MediaCache) ResolveVideo(src string, at float64) (image.Image, error) {
	if at < 0 {
		at = 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	key := src
	if c.extract != nil {
		key = fmt.Sprintf("%s@%d", src, int(at))
	}
	if img, ok := c.images[key]; ok {
		return img, nil
	}

	var img image.Image
	var err error
	if c.extract != nil {
		img, err = c.extract(src, float64(int(at)))
	}
	if img == nil {
		// Попытка прочитать источник как статичную картинку (постер).
		img, err = decodeSource(src)
	}
	if err != nil {
		return nil, err
	}
	c.images[key] = img
	return img, nil
}

func decodeSource(src string) (image.Image, error) {
	if payload, ok := strings.CutPrefix(src, qrSourcePrefix); ok {
		return renderQR(payload)
	}

	if strings.EqualFold(filepath.Ext(src), ".pdf") {
		return renderPDFPage(src)
	}

	f, err := os.Open(src)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", src, err)
	}
	return img, nil
}

// renderQR synthesizes a QR code image for the payload.
func renderQR(payload string) (image.Image, error) {
	png, err := qrcode.Encode(payload, qrcode.Medium, 512)
	if err != nil {
		return nil, fmt.Errorf("qr encode: %w", err)
	}
	img, _, err := image.Decode(bytes.NewReader(png))
	if err != nil {
		return nil, fmt.Errorf("qr decode: %w", err)
	}
	return img, nil
}

// renderPDFPage rasterizes the first page of a PDF source.
func renderPDFPage(path string) (image.Image, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf %s: %w", path, err)
	}
	defer doc.Close()

	if doc.NumPage() == 0 {
		return nil, fmt.Errorf("pdf %s has no pages", path)
	}
	return doc.ImageDPI(0, pdfRenderDPI)
}
