package rasterizer

import (
	"image"
	"image/color"
	"image/draw"
	"strings"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/daninc24/thumbnailcreator/internal/composition"
)

// paintText renders a text layer into a tile of the layer's box size.
// Glyphs come from the built-in bitmap face and are upscaled to the requested
// font size; FontFamily is accepted but not resolved to system fonts.
func paintText(tp *composition.TextProps, w, h int) *image.RGBA {
	tile := image.NewRGBA(image.Rect(0, 0, w, h))
	if tp.Text == "" || w <= 0 || h <= 0 {
		return tile
	}

	face := basicfont.Face7x13
	fill, err := ParseColor(tp.Fill)
	if err != nil {
		fill = color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	}

	// Рисуем текст в натуральном размере шрифта, затем масштабируем до
	// нужного кегля. Битмапный шрифт при увеличении остается читаемым.
	adv := font.MeasureString(face, tp.Text).Ceil()
	ascent := face.Metrics().Ascent.Ceil()
	lineH := face.Metrics().Height.Ceil()
	pad := 2 // место под обводку
	small := image.NewRGBA(image.Rect(0, 0, adv+2*pad, lineH+2*pad))

	drawString := func(c color.NRGBA, dx, dy int) {
		d := font.Drawer{
			Dst:  small,
			Src:  image.NewUniform(c),
			Face: face,
			Dot:  fixed.P(pad+dx, pad+ascent+dy),
		}
		d.DrawString(tp.Text)
	}

	if tp.Stroke != "" && tp.StrokeWidth > 0 {
		stroke, err := ParseColor(tp.Stroke)
		if err == nil {
			for _, off := range [][2]int{{-1, 0}, {1, 0}, {0, -1}, {0, 1}, {-1, -1}, {1, -1}, {-1, 1}, {1, 1}} {
				drawString(stroke, off[0], off[1])
			}
		}
	}
	drawString(fill, 0, 0)

	// Масштаб по кеглю, ширина пропорционально.
	fontSize := tp.FontSize
	if fontSize <= 0 {
		fontSize = float64(lineH)
	}
	scale := fontSize / float64(lineH)
	dstW := int(float64(small.Rect.Dx()) * scale)
	dstH := int(float64(small.Rect.Dy()) * scale)
	if dstW > w {
		dstW = w
	}
	if dstH > h {
		dstH = h
	}
	if dstW <= 0 || dstH <= 0 {
		return tile
	}

	var x0 int
	switch strings.ToLower(tp.Align) {
	case "left":
		x0 = 0
	case "right":
		x0 = w - dstW
	default: // center
		x0 = (w - dstW) / 2
	}
	y0 := (h - dstH) / 2

	dst := image.Rect(x0, y0, x0+dstW, y0+dstH)
	xdraw.CatmullRom.Scale(tile, dst, small, small.Bounds(), draw.Over, nil)
	return tile
}

// paintShape renders a shape layer into a tile of the layer's box size.
func paintShape(sp *composition.ShapeProps, w, h int) *image.RGBA {
	tile := image.NewRGBA(image.Rect(0, 0, w, h))
	if w <= 0 || h <= 0 {
		return tile
	}

	flat, err := ParseColor(sp.Fill)
	if err != nil {
		flat = color.NRGBA{A: 0xff}
	}
	horizontal := strings.EqualFold(sp.Direction, "horizontal")

	colorAt := func(x, y int) color.NRGBA {
		if len(sp.Gradient) == 0 {
			return flat
		}
		var t float64
		if horizontal {
			t = float64(x) / float64(w)
		} else {
			t = float64(y) / float64(h)
		}
		return gradientColor(sp.Gradient, t)
	}

	cx, cy := float64(w)/2, float64(h)/2
	rx, ry := float64(w)/2, float64(h)/2

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			inside := true
			switch sp.Kind {
			case composition.ShapeEllipse:
				dx := (float64(x) + 0.5 - cx) / rx
				dy := (float64(y) + 0.5 - cy) / ry
				inside = dx*dx+dy*dy <= 1
			case composition.ShapeTriangle:
				// Вершина сверху по центру, основание снизу.
				fy := (float64(y) + 0.5) / float64(h)
				halfWidth := fy * float64(w) / 2
				fx := float64(x) + 0.5
				inside = fx >= cx-halfWidth && fx <= cx+halfWidth
			}
			if inside {
				tile.SetRGBA(x, y, toRGBA(colorAt(x, y)))
			}
		}
	}
	return tile
}

// gradientColor evaluates a multi-stop gradient at t in [0, 1]. Stops are
// expected in ascending offset order.
func gradientColor(stops []composition.GradientStop, t float64) color.NRGBA {
	first, _ := ParseColor(stops[0].Color)
	if t <= stops[0].Offset || len(stops) == 1 {
		return first
	}
	for i := 0; i < len(stops)-1; i++ {
		a, b := stops[i], stops[i+1]
		if t >= a.Offset && t <= b.Offset {
			ca, _ := ParseColor(a.Color)
			cb, _ := ParseColor(b.Color)
			span := b.Offset - a.Offset
			if span <= 0 {
				return cb
			}
			return lerpColor(ca, cb, (t-a.Offset)/span)
		}
	}
	last, _ := ParseColor(stops[len(stops)-1].Color)
	return last
}

// paintMedia scales a decoded media frame into a tile of the layer's box size
// according to the fit mode.
func paintMedia(src image.Image, fit string, w, h int) *image.RGBA {
	tile := image.NewRGBA(image.Rect(0, 0, w, h))
	sb := src.Bounds()
	if w <= 0 || h <= 0 || sb.Dx() == 0 || sb.Dy() == 0 {
		return tile
	}

	srcRect := sb
	dstRect := tile.Bounds()

	switch strings.ToLower(fit) {
	case "fill":
		// растягиваем без сохранения пропорций
	case "contain":
		scale := min(float64(w)/float64(sb.Dx()), float64(h)/float64(sb.Dy()))
		dw := int(float64(sb.Dx()) * scale)
		dh := int(float64(sb.Dy()) * scale)
		x0 := (w - dw) / 2
		y0 := (h - dh) / 2
		dstRect = image.Rect(x0, y0, x0+dw, y0+dh)
	default: // cover
		scale := max(float64(w)/float64(sb.Dx()), float64(h)/float64(sb.Dy()))
		sw := int(float64(w) / scale)
		sh := int(float64(h) / scale)
		x0 := sb.Min.X + (sb.Dx()-sw)/2
		y0 := sb.Min.Y + (sb.Dy()-sh)/2
		srcRect = image.Rect(x0, y0, x0+sw, y0+sh)
	}

	xdraw.ApproxBiLinear.Scale(tile, dstRect, src, srcRect, draw.Over, nil)
	return tile
}

func toRGBA(c color.NRGBA) color.RGBA {
	r, g, b, a := c.RGBA()
	return color.RGBA{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8), A: uint8(a >> 8)}
}
