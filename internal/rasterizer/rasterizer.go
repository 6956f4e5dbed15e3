// Package rasterizer turns a composition at one point in time into a fully
// composited raster frame on disk. Frames are independent: rendering them in
// any order, or in parallel, produces identical files.
package rasterizer

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"os"
	"path/filepath"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"github.com/daninc24/thumbnailcreator/internal/animation"
	"github.com/daninc24/thumbnailcreator/internal/composition"
	"github.com/daninc24/thumbnailcreator/internal/system"
)

// FramePattern is the zero-padded frame filename pattern. The encoder consumes
// the scratch directory in a single ascending pass over these names.
const FramePattern = "frame_%06d.png"

// FrameError reports a failed frame. Sibling frames are unaffected.
type FrameError struct {
	Index int
	Err   error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("frame %d: %v", e.Index, e.Err)
}

func (e *FrameError) Unwrap() error { return e.Err }

// Rasterizer renders composited frames. Safe for concurrent use by the
// orchestrator's render workers.
type Rasterizer struct {
	media *MediaCache
}

// New creates a Rasterizer. extract may be nil, in which case video layers
// fall back to poster stills.
func New(extract FrameExtractor) *Rasterizer {
	return &Rasterizer{media: NewMediaCache(extract)}
}

// RenderFrame composites every layer visible at global time t and writes the
// result under scratchDir as a PNG named by frameIndex. It returns the path of
// the written file.
func (r *Rasterizer) RenderFrame(ctx context.Context, comp *composition.Composition, t float64, frameIndex int, scratchDir string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &FrameError{Index: frameIndex, Err: err}
	}

	w, h := comp.Export.Width, comp.Export.Height
	frame := system.GetImage(image.Rect(0, 0, w, h))
	defer system.PutImage(frame)

	bg, err := ParseColor(comp.Settings.Background)
	if err != nil {
		bg = color.NRGBA{A: 0xff}
	}
	draw.Draw(frame, frame.Bounds(), image.NewUniform(bg), image.Point{}, draw.Src)

	// Слои уже отсортированы по zIndex, рисуем снизу вверх.
	for _, layer := range comp.LayersVisibleAt(t) {
		if err := r.compositeLayer(frame, layer, t); err != nil {
			return "", &FrameError{Index: frameIndex, Err: fmt.Errorf("layer %s: %w", layer.ID, err)}
		}
	}

	path := filepath.Join(scratchDir, fmt.Sprintf(FramePattern, frameIndex))
	if err := writePNG(path, frame); err != nil {
		return "", &FrameError{Index: frameIndex, Err: err}
	}
	return path, nil
}

// compositeLayer paints one layer onto the frame with its animated transform
// applied: translate, then rotate, then scale, pivoted at the layer's center.
func (r *Rasterizer) compositeLayer(frame *image.RGBA, layer *composition.Layer, t float64) error {
	localTime := t - layer.StartTime
	tr := animation.Evaluate(layer, localTime)
	if tr.Opacity <= 0 || tr.Scale <= 0 {
		return nil
	}

	tileW := int(layer.Size.Width + 0.5)
	tileH := int(layer.Size.Height + 0.5)
	if tileW <= 0 || tileH <= 0 {
		return nil
	}

	tile, err := r.paintLayer(layer, localTime, tileW, tileH)
	if err != nil {
		return err
	}

	// Аффинное преобразование tile -> frame: перенос в позицию, поворот и
	// масштаб вокруг центра слоя.
	cx := tr.Position.X + layer.Size.Width/2
	cy := tr.Position.Y + layer.Size.Height/2
	rad := tr.Rotation * math.Pi / 180
	sin, cos := math.Sin(rad), math.Cos(rad)
	s := tr.Scale

	// M = T(center) * R(rad) * S(s) * T(-tileW/2, -tileH/2)
	m := f64.Aff3{
		s * cos, -s * sin, cx - s*(cos*float64(tileW)/2-sin*float64(tileH)/2),
		s * sin, s * cos, cy - s*(sin*float64(tileW)/2+cos*float64(tileH)/2),
	}

	opts := &xdraw.Options{}
	if tr.Opacity < 1 {
		a := uint8(math.Round(clamp01(tr.Opacity) * 0xff))
		opts.SrcMask = image.NewUniform(color.Alpha{A: a})
	}
	xdraw.ApproxBiLinear.Transform(frame, m, tile, tile.Bounds(), draw.Over, opts)
	return nil
}

// paintLayer dispatches to the variant paint routine. The switch is exhaustive
// over the four layer types; validation guarantees the matching property block
// is present.
func (r *Rasterizer) paintLayer(layer *composition.Layer, localTime float64, w, h int) (*image.RGBA, error) {
	switch layer.Type {
	case composition.LayerText:
		return paintText(layer.Text, w, h), nil
	case composition.LayerShape:
		return paintShape(layer.Shape, w, h), nil
	case composition.LayerImage:
		img, err := r.media.Resolve(layer.Image.Source)
		if err != nil {
			return nil, err
		}
		return paintMedia(img, layer.Image.Fit, w, h), nil
	case composition.LayerVideo:
		rate := layer.Video.PlaybackRate
		if rate <= 0 {
			rate = 1
		}
		img, err := r.media.ResolveVideo(layer.Video.Source, localTime*rate)
		if err != nil {
			return nil, err
		}
		return paintMedia(img, layer.Video.Fit, w, h), nil
	default:
		return nil, fmt.Errorf("unknown layer type %q", layer.Type)
	}
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
