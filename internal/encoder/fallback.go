package encoder

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Descriptor is the degraded-mode output artifact: when the external encoder
// is absent the job still completes, producing this structured file instead of
// a playable video. Callers learn about real codec availability through
// Capabilities, never by inspecting artifacts.
type Descriptor struct {
	Kind        string    `yaml:"kind"` // always "render-descriptor"
	Width       int       `yaml:"width"`
	Height      int       `yaml:"height"`
	FrameRate   int       `yaml:"frameRate"`
	FrameCount  int       `yaml:"frameCount"`
	Duration    float64   `yaml:"duration"` // requested, seconds
	Format      string    `yaml:"requestedFormat"`
	Note        string    `yaml:"note"`
	GeneratedAt time.Time `yaml:"generatedAt"`
}

// writeFallback produces the descriptor artifact and drives the same progress
// contract as a real encode, so the orchestrator's state machine and event
// timing do not depend on which path ran.
func (e *Encoder) writeFallback(req Request, onProgress ProgressFunc) error {
	desc := Descriptor{
		Kind:       "render-descriptor",
		Width:      req.Export.Width,
		Height:     req.Export.Height,
		FrameRate:  req.Export.FPS,
		FrameCount: req.TotalFrames,
		Duration:   float64(req.TotalFrames) / float64(req.Export.FPS),
		Format:     string(req.Export.Format),
		Note:       "ffmpeg not available on host; full encoding skipped",
	}
	desc.GeneratedAt = time.Now().UTC()

	data, err := yaml.Marshal(&desc)
	if err != nil {
		return fmt.Errorf("marshal descriptor: %w", err)
	}

	// Симулированные тики прогресса: контракт колбэка тот же, что у ffmpeg.
	if onProgress != nil {
		for _, pct := range []float64{25, 50, 75} {
			onProgress(pct)
		}
	}

	if err := os.WriteFile(req.OutputPath, data, 0644); err != nil {
		return fmt.Errorf("write descriptor: %w", err)
	}

	if onProgress != nil {
		onProgress(100)
	}
	return nil
}

// ReadDescriptor reads a degraded-mode descriptor artifact.
func ReadDescriptor(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var d Descriptor
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, err
	}
	return &d, nil
}
