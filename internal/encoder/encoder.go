// Package encoder sequences rendered frames into a video artifact through an
// external ffmpeg process, and degrades to a descriptor artifact when ffmpeg
// is not installed on the host.
package encoder

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/png"
	"os/exec"
	"strings"

	"github.com/daninc24/thumbnailcreator/internal/composition"
)

// ProgressFunc receives encoding progress in percent (0..100). Calls are
// monotonically non-decreasing for a single Encode.
type ProgressFunc func(percent float64)

// SpawnError means the encoder binary could not be launched at all, despite a
// possibly successful earlier probe (PATH race, binary removed). Callers can
// distinguish "not installed" from "installed but failed".
type SpawnError struct {
	Err error
}

func (e *SpawnError) Error() string { return fmt.Sprintf("ffmpeg spawn: %v", e.Err) }
func (e *SpawnError) Unwrap() error { return e.Err }

// ProcessError means ffmpeg exited non-zero. Tail carries the last diagnostic
// lines from stderr.
type ProcessError struct {
	Err  error
	Tail string
}

func (e *ProcessError) Error() string { return fmt.Sprintf("ffmpeg: %v\n%s", e.Err, e.Tail) }
func (e *ProcessError) Unwrap() error { return e.Err }

// Capabilities describes what the host encoder can do. The §6 contract: codec
// presence is learned here, never by sniffing output files.
type Capabilities struct {
	FFmpegAvailable bool     `json:"ffmpegAvailable"`
	H264Encoder     string   `json:"h264Encoder,omitempty"`
	Containers      []string `json:"containers"`
}

// Encoder drives ffmpeg. The zero value is not usable; construct with New.
type Encoder struct {
	ffmpegPath  string
	ffprobePath string
}

// New creates an Encoder. Empty paths default to looking up "ffmpeg" and
// "ffprobe" on PATH.
func New(ffmpegPath, ffprobePath string) *Encoder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Encoder{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath}
}

// Available probes whether the encoder binary responds to a version query.
func (e *Encoder) Available() bool {
	cmd := exec.Command(e.ffmpegPath, "-version")
	return cmd.Run() == nil
}

// Capabilities reports the host's encoding capabilities.
func (e *Encoder) Capabilities() Capabilities {
	caps := Capabilities{Containers: []string{}}
	if !e.Available() {
		return caps
	}
	caps.FFmpegAvailable = true
	caps.H264Encoder = e.bestH264Encoder()
	caps.Containers = []string{
		string(composition.FormatMP4),
		string(composition.FormatWebM),
		string(composition.FormatGIF),
	}
	return caps
}

// bestH264Encoder picks a hardware H.264 encoder when ffmpeg reports one.
// Приоритет: VideoToolbox (macOS), затем NVENC, иначе программный libx264.
func (e *Encoder) bestH264Encoder() string {
	cmd := exec.Command(e.ffmpegPath, "-encoders")
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "libx264"
	}
	for _, enc := range []string{"h264_videotoolbox", "h264_nvenc"} {
		if strings.Contains(string(out), enc) {
			return enc
		}
	}
	return "libx264"
}

// AudioDuration returns the duration of an audio file in seconds via ffprobe.
func (e *Encoder) AudioDuration(path string) (float64, error) {
	cmd := exec.Command(e.ffprobePath, "-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1", path)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return 0, err
	}

	var duration float64
	_, err = fmt.Sscanf(strings.TrimSpace(string(out)), "%f", &duration)
	if err != nil {
		return 0, err
	}
	return duration, nil
}

// ExtractFrame samples one frame of a video file at the given offset. Used by
// the rasterizer as a best-effort video layer sampler.
func (e *Encoder) ExtractFrame(src string, at float64) (image.Image, error) {
	cmd := exec.Command(e.ffmpegPath,
		"-ss", fmt.Sprintf("%f", at),
		"-i", src,
		"-frames:v", "1",
		"-f", "image2pipe", "-vcodec", "png", "-",
	)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("extract frame at %.2fs from %s: %w", at, src, err)
	}
	img, _, err := image.Decode(bytes.NewReader(out))
	if err != nil {
		return nil, fmt.Errorf("decode extracted frame: %w", err)
	}
	return img, nil
}

// Request carries everything Encode needs for one job.
type Request struct {
	ScratchDir  string
	OutputPath  string
	Export      composition.ExportSettings
	TotalFrames int
	AudioPath   string // empty when the composition has no audio track
}

// Encode turns the frame sequence under req.ScratchDir into the final
// artifact. When ffmpeg is unavailable it writes the degraded-mode descriptor
// instead and still reports progress through onProgress; the caller's state
// machine is unaffected by which path ran.
func (e *Encoder) Encode(ctx context.Context, req Request, onProgress ProgressFunc) error {
	if !e.Available() {
		return e.writeFallback(req, onProgress)
	}
	return e.run(ctx, req, onProgress)
}
