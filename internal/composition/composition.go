package composition

import "sort"

// LayerType discriminates the four layer variants.
type LayerType string

const (
	LayerText  LayerType = "text"
	LayerShape LayerType = "shape"
	LayerImage LayerType = "image"
	LayerVideo LayerType = "video"
)

// IsValid returns true if the layer type is one of the known variants.
func (t LayerType) IsValid() bool {
	return t == LayerText || t == LayerShape || t == LayerImage || t == LayerVideo
}

// AnimationType discriminates the keyframe effect variants.
type AnimationType string

const (
	AnimFade  AnimationType = "fade"
	AnimSlide AnimationType = "slide"
	AnimPulse AnimationType = "pulse"
	AnimZoom  AnimationType = "zoom"
)

// IsValid returns true if the animation type is one of the known variants.
func (t AnimationType) IsValid() bool {
	return t == AnimFade || t == AnimSlide || t == AnimPulse || t == AnimZoom
}

// Easing selects the progress remapping curve for an animation.
type Easing string

const (
	EaseLinear    Easing = "linear"
	EaseIn        Easing = "ease-in"
	EaseOut       Easing = "ease-out"
	EaseInOut     Easing = "ease-in-out"
	EaseBounce    Easing = "bounce"
)

// IsValid returns true if the easing selector is known.
func (e Easing) IsValid() bool {
	switch e {
	case EaseLinear, EaseIn, EaseOut, EaseInOut, EaseBounce, "":
		return true
	}
	return false
}

// Point is a position on the canvas in pixels.
type Point struct {
	X float64 `yaml:"x" json:"x"`
	Y float64 `yaml:"y" json:"y"`
}

// Dimensions is a width/height pair in pixels.
type Dimensions struct {
	Width  float64 `yaml:"width" json:"width"`
	Height float64 `yaml:"height" json:"height"`
}

// PartialTransform is a subset of transform properties used as an animation
// endpoint. Nil fields are not animated by this endpoint.
type PartialTransform struct {
	Opacity *float64 `yaml:"opacity,omitempty" json:"opacity,omitempty"`
	Scale   *float64 `yaml:"scale,omitempty" json:"scale,omitempty"`
	X       *float64 `yaml:"x,omitempty" json:"x,omitempty"`
	Y       *float64 `yaml:"y,omitempty" json:"y,omitempty"`
}

// Animation is a time-windowed eased interpolation bound to one layer.
// StartTime and Duration are in the layer's local time.
type Animation struct {
	Type      AnimationType    `yaml:"type" json:"type"`
	StartTime float64          `yaml:"startTime" json:"startTime"`
	Duration  float64          `yaml:"duration" json:"duration"`
	Easing    Easing           `yaml:"easing,omitempty" json:"easing,omitempty"`
	From      PartialTransform `yaml:"from" json:"from"`
	To        PartialTransform `yaml:"to" json:"to"`
}

// GradientStop is one stop of a multi-stop shape gradient.
type GradientStop struct {
	Offset float64 `yaml:"offset" json:"offset"` // 0..1 along the gradient axis
	Color  string  `yaml:"color" json:"color"`
}

// TextProps carries the text-variant properties.
type TextProps struct {
	Text        string  `yaml:"text" json:"text"`
	FontFamily  string  `yaml:"fontFamily,omitempty" json:"fontFamily,omitempty"`
	FontSize    float64 `yaml:"fontSize" json:"fontSize"`
	Fill        string  `yaml:"fill" json:"fill"`
	Stroke      string  `yaml:"stroke,omitempty" json:"stroke,omitempty"`
	StrokeWidth float64 `yaml:"strokeWidth,omitempty" json:"strokeWidth,omitempty"`
	Align       string  `yaml:"align,omitempty" json:"align,omitempty"` // left, center, right
}

// ShapeKind is the geometry of a shape layer.
type ShapeKind string

const (
	ShapeRect     ShapeKind = "rect"
	ShapeEllipse  ShapeKind = "ellipse"
	ShapeTriangle ShapeKind = "triangle"
)

// ShapeProps carries the shape-variant properties. When Gradient is non-empty
// it takes precedence over the flat Fill color.
type ShapeProps struct {
	Kind      ShapeKind      `yaml:"kind" json:"kind"`
	Fill      string         `yaml:"fill,omitempty" json:"fill,omitempty"`
	Gradient  []GradientStop `yaml:"gradient,omitempty" json:"gradient,omitempty"`
	Direction string         `yaml:"direction,omitempty" json:"direction,omitempty"` // horizontal or vertical
}

// ImageProps carries the image-variant properties. Source is a file path;
// .pdf sources use their first page, qr:<payload> sources synthesize a QR code.
type ImageProps struct {
	Source string `yaml:"source" json:"source"`
	Fit    string `yaml:"fit,omitempty" json:"fit,omitempty"` // cover, contain, fill
}

// VideoProps carries the video-variant properties. Frame-accurate video
// compositing is not guaranteed; the rasterizer samples a representative frame.
type VideoProps struct {
	Source       string  `yaml:"source" json:"source"`
	Fit          string  `yaml:"fit,omitempty" json:"fit,omitempty"`
	Volume       float64 `yaml:"volume,omitempty" json:"volume,omitempty"`
	PlaybackRate float64 `yaml:"playbackRate,omitempty" json:"playbackRate,omitempty"`
}

// Layer is one visual element of a composition. Exactly one of the variant
// property structs must be set, matching Type.
type Layer struct {
	ID        string     `yaml:"id" json:"id"`
	Type      LayerType  `yaml:"type" json:"type"`
	Visible   bool       `yaml:"visible" json:"visible"`
	Locked    bool       `yaml:"locked,omitempty" json:"locked,omitempty"` // editor-only, ignored by the renderer
	StartTime float64    `yaml:"startTime" json:"startTime"`
	Duration  float64    `yaml:"duration" json:"duration"`
	Position  Point      `yaml:"position" json:"position"`
	Size      Dimensions `yaml:"size" json:"size"`
	Rotation  float64    `yaml:"rotation,omitempty" json:"rotation,omitempty"` // degrees
	Opacity   float64    `yaml:"opacity" json:"opacity"`
	ZIndex    int        `yaml:"zIndex" json:"zIndex"`

	Text  *TextProps  `yaml:"text,omitempty" json:"textProps,omitempty"`
	Shape *ShapeProps `yaml:"shape,omitempty" json:"shapeProps,omitempty"`
	Image *ImageProps `yaml:"image,omitempty" json:"imageProps,omitempty"`
	Video *VideoProps `yaml:"video,omitempty" json:"videoProps,omitempty"`

	Animations []Animation `yaml:"animations,omitempty" json:"animations,omitempty"`
}

// VisibleAt reports whether the layer is eligible for compositing at global
// time t.
func (l *Layer) VisibleAt(t float64) bool {
	return l.Visible && t >= l.StartTime && t <= l.StartTime+l.Duration
}

// Settings holds the global composition settings.
type Settings struct {
	Duration     float64 `yaml:"duration" json:"duration"` // seconds
	Background   string  `yaml:"background,omitempty" json:"background,omitempty"`
	AudioEnabled bool    `yaml:"audioEnabled,omitempty" json:"audioEnabled,omitempty"`
	AudioPath    string  `yaml:"audioPath,omitempty" json:"audioPath,omitempty"`
}

// Format is the export container format.
type Format string

const (
	FormatMP4  Format = "mp4"
	FormatWebM Format = "webm"
	FormatGIF  Format = "gif"
)

// IsValid returns true if the container format is supported.
func (f Format) IsValid() bool {
	return f == FormatMP4 || f == FormatWebM || f == FormatGIF
}

// Quality is the export quality tier.
type Quality string

const (
	QualityLow    Quality = "low"
	QualityMedium Quality = "medium"
	QualityHigh   Quality = "high"
	QualityUltra  Quality = "ultra"
)

// IsValid returns true if the quality tier is known.
func (q Quality) IsValid() bool {
	return q == QualityLow || q == QualityMedium || q == QualityHigh || q == QualityUltra
}

// ExportSettings describes the requested output artifact.
type ExportSettings struct {
	Format   Format  `yaml:"format" json:"format"`
	Quality  Quality `yaml:"quality" json:"quality"`
	FPS      int     `yaml:"fps" json:"fps"`
	Width    int     `yaml:"width" json:"width"`
	Height   int     `yaml:"height" json:"height"`
	Platform string  `yaml:"platform,omitempty" json:"platform,omitempty"` // e.g. youtube, tiktok; hint only
}

// Composition is the full declarative description of one render. It is
// immutable once a render job has started: the orchestrator snapshots it and
// delegates read-only views to the rasterizer and encoder.
type Composition struct {
	TemplateID   string         `yaml:"templateId,omitempty" json:"templateId,omitempty"`
	TemplateName string         `yaml:"templateName,omitempty" json:"templateName,omitempty"`
	Layers       []Layer        `yaml:"layers" json:"layers"`
	Settings     Settings       `yaml:"settings" json:"settings"`
	Export       ExportSettings `yaml:"export" json:"export"`
}

// LayersVisibleAt returns the layers eligible for compositing at global time t,
// sorted by ZIndex ascending. The sort is stable: layers with equal ZIndex keep
// their input order, which is also the paint tie-break.
func (c *Composition) LayersVisibleAt(t float64) []*Layer {
	var out []*Layer
	for i := range c.Layers {
		if c.Layers[i].VisibleAt(t) {
			out = append(out, &c.Layers[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ZIndex < out[j].ZIndex
	})
	return out
}

// TotalFrames computes the number of frames for the export settings,
// ceil(duration * fps).
func (c *Composition) TotalFrames() int {
	frames := c.Settings.Duration * float64(c.Export.FPS)
	n := int(frames)
	if float64(n) < frames {
		n++
	}
	return n
}
