package rasterizer

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"
)

// ParseColor parses a #rgb, #rrggbb or #rrggbbaa hex color. An empty string
// parses as opaque black.
func ParseColor(s string) (color.NRGBA, error) {
	if s == "" {
		return color.NRGBA{A: 0xff}, nil
	}
	hex := strings.TrimPrefix(s, "#")

	switch len(hex) {
	case 3:
		// #f80 -> #ff8800
		expanded := make([]byte, 6)
		for i := 0; i < 3; i++ {
			expanded[i*2] = hex[i]
			expanded[i*2+1] = hex[i]
		}
		hex = string(expanded)
	case 6, 8:
	default:
		return color.NRGBA{}, fmt.Errorf("bad color %q", s)
	}

	v, err := strconv.ParseUint(hex, 16, 64)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("bad color %q: %w", s, err)
	}

	c := color.NRGBA{A: 0xff}
	if len(hex) == 8 {
		c.A = uint8(v)
		v >>= 8
	}
	c.B = uint8(v)
	c.G = uint8(v >> 8)
	c.R = uint8(v >> 16)
	return c, nil
}

// lerpColor blends two colors component-wise at t in [0, 1].
func lerpColor(a, b color.NRGBA, t float64) color.NRGBA {
	f := func(x, y uint8) uint8 {
		return uint8(float64(x) + (float64(y)-float64(x))*t + 0.5)
	}
	return color.NRGBA{R: f(a.R, b.R), G: f(a.G, b.G), B: f(a.B, b.B), A: f(a.A, b.A)}
}
