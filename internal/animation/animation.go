// Package animation evaluates keyframe effects into instantaneous layer
// transforms. Evaluation is a pure function of (layer, local time): it is
// cheap enough to recompute on every frame and safe to call concurrently.
package animation

import (
	"math"

	"github.com/daninc24/thumbnailcreator/internal/composition"
)

// Transform is the instantaneous state of a layer at one moment in time.
type Transform struct {
	Position composition.Point
	Rotation float64 // degrees
	Opacity  float64
	Scale    float64
}

// Evaluate computes the transform of a layer at the given layer-local time.
// It starts from the layer's base transform (scale 1.0) and applies every
// animation whose window contains localTime. Animations outside their window
// have no effect; final values are never implicitly held.
//
// Two animations targeting the same property in the same frame resolve in
// list order: the later entry overwrites the earlier one's contribution.
func Evaluate(layer *composition.Layer, localTime float64) Transform {
	tr := Transform{
		Position: layer.Position,
		Rotation: layer.Rotation,
		Opacity:  layer.Opacity,
		Scale:    1.0,
	}

	for i := range layer.Animations {
		anim := &layer.Animations[i]
		if localTime < anim.StartTime || localTime > anim.StartTime+anim.Duration {
			continue
		}

		progress := (localTime - anim.StartTime) / anim.Duration
		progress = clamp01(progress)
		eased := Ease(anim.Easing, progress)

		// Pulse oscillates instead of ramping: the interpolation parameter
		// follows one full sine period across the window.
		param := eased
		if anim.Type == composition.AnimPulse {
			param = math.Sin(eased*2*math.Pi)*0.5 + 0.5
		}

		if anim.From.Opacity != nil && anim.To.Opacity != nil {
			tr.Opacity = lerp(*anim.From.Opacity, *anim.To.Opacity, param)
		}
		if anim.From.Scale != nil && anim.To.Scale != nil {
			tr.Scale = lerp(*anim.From.Scale, *anim.To.Scale, param)
		}
		if anim.From.X != nil && anim.To.X != nil {
			tr.Position.X = lerp(*anim.From.X, *anim.To.X, param)
		}
		if anim.From.Y != nil && anim.To.Y != nil {
			tr.Position.Y = lerp(*anim.From.Y, *anim.To.Y, param)
		}
	}

	return tr
}

// Ease remaps linear progress t in [0, 1] through the selected curve.
// An empty selector means linear.
func Ease(e composition.Easing, t float64) float64 {
	switch e {
	case composition.EaseIn:
		return t * t * t
	case composition.EaseOut:
		return 1 - pow(1-t, 3)
	case composition.EaseInOut:
		return easeInOutCubic(t)
	case composition.EaseBounce:
		return easeOutBounce(t)
	default:
		return t
	}
}

// lerp performs linear interpolation between a and b
func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

func clamp01(t float64) float64 {
	if t < 0 {
		return 0
	}
	if t > 1 {
		return 1
	}
	return t
}

// easeInOutCubic applies smooth easing function
func easeInOutCubic(t float64) float64 {
	if t < 0.5 {
		return 4 * t * t * t
	}
	return 1 - pow(-2*t+2, 3)/2
}

// easeOutBounce is the standard piecewise bounce curve, overshooting valleys
// before settling at 1.
func easeOutBounce(t float64) float64 {
	const n1 = 7.5625
	const d1 = 2.75

	switch {
	case t < 1/d1:
		return n1 * t * t
	case t < 2/d1:
		t -= 1.5 / d1
		return n1*t*t + 0.75
	case t < 2.5/d1:
		t -= 2.25 / d1
		return n1*t*t + 0.9375
	default:
		t -= 2.625 / d1
		return n1*t*t + 0.984375
	}
}

// pow calculates x^n
func pow(x float64, n int) float64 {
	result := 1.0
	for i := 0; i < n; i++ {
		result *= x
	}
	return result
}
