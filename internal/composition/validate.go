package composition

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// windowTolerance is the slack allowed when a layer window overshoots the
// composition duration. Editors produce timings rounded to frame boundaries,
// so exact comparison would reject valid compositions.
const windowTolerance = 0.05

// ValidationError reports a malformed composition. It is returned
// synchronously, before any job is created.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid composition: " + strings.Join(e.Problems, "; ")
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// exportRules mirrors ExportSettings for tag-based validation.
type exportRules struct {
	Format  string `validate:"required,oneof=mp4 webm gif"`
	Quality string `validate:"required,oneof=low medium high ultra"`
	FPS     int    `validate:"required,min=1,max=120"`
	Width   int    `validate:"required,min=16,max=7680"`
	Height  int    `validate:"required,min=16,max=7680"`
}

// Validate checks the composition against the model invariants. It returns a
// *ValidationError listing every problem found, or nil.
func (c *Composition) Validate() error {
	var problems []string

	if c.Settings.Duration <= 0 {
		problems = append(problems, fmt.Sprintf("settings.duration must be positive, got %g", c.Settings.Duration))
	}

	rules := exportRules{
		Format:  string(c.Export.Format),
		Quality: string(c.Export.Quality),
		FPS:     c.Export.FPS,
		Width:   c.Export.Width,
		Height:  c.Export.Height,
	}
	if err := validate.Struct(rules); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range errs {
				problems = append(problems, fmt.Sprintf("export.%s fails %q", strings.ToLower(fe.Field()), fe.Tag()))
			}
		} else {
			problems = append(problems, err.Error())
		}
	}

	for i := range c.Layers {
		problems = append(problems, c.Layers[i].check(i, c.Settings.Duration)...)
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func (l *Layer) check(idx int, compDuration float64) []string {
	var problems []string
	tag := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf("layer %d (%s): %s", idx, l.ID, fmt.Sprintf(format, args...)))
	}

	if !l.Type.IsValid() {
		tag("unknown type %q", l.Type)
		return problems
	}
	if l.Duration <= 0 {
		tag("duration must be positive, got %g", l.Duration)
	}
	if l.StartTime < 0 {
		tag("startTime must not be negative, got %g", l.StartTime)
	}
	if compDuration > 0 && l.StartTime+l.Duration > compDuration+windowTolerance {
		tag("window [%g, %g] exceeds composition duration %g", l.StartTime, l.StartTime+l.Duration, compDuration)
	}
	if l.Opacity < 0 || l.Opacity > 1 {
		tag("opacity must be within [0, 1], got %g", l.Opacity)
	}

	// Ровно один вариантный блок, и он должен соответствовать типу слоя.
	var set int
	for _, present := range []bool{l.Text != nil, l.Shape != nil, l.Image != nil, l.Video != nil} {
		if present {
			set++
		}
	}
	if set != 1 {
		tag("exactly one variant property block required, got %d", set)
	}
	switch l.Type {
	case LayerText:
		if l.Text == nil {
			tag("text layer without text properties")
		} else if l.Text.Text == "" {
			tag("text layer with empty string")
		}
	case LayerShape:
		if l.Shape == nil {
			tag("shape layer without shape properties")
		} else {
			if l.Shape.Kind != ShapeRect && l.Shape.Kind != ShapeEllipse && l.Shape.Kind != ShapeTriangle {
				tag("unknown shape kind %q", l.Shape.Kind)
			}
			for si, stop := range l.Shape.Gradient {
				if stop.Offset < 0 || stop.Offset > 1 {
					tag("gradient stop %d offset out of [0, 1]: %g", si, stop.Offset)
				}
			}
		}
	case LayerImage:
		if l.Image == nil || l.Image.Source == "" {
			tag("image layer requires a non-empty source")
		}
	case LayerVideo:
		if l.Video == nil || l.Video.Source == "" {
			tag("video layer requires a non-empty source")
		}
	}

	for ai := range l.Animations {
		a := &l.Animations[ai]
		if !a.Type.IsValid() {
			tag("animation %d: unknown type %q", ai, a.Type)
		}
		if !a.Easing.IsValid() {
			tag("animation %d: unknown easing %q", ai, a.Easing)
		}
		if a.Duration <= 0 {
			tag("animation %d: duration must be positive, got %g", ai, a.Duration)
		}
		if a.StartTime < 0 {
			tag("animation %d: startTime must not be negative, got %g", ai, a.StartTime)
		}
	}

	return problems
}
