package encoder

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daninc24/thumbnailcreator/internal/composition"
)

func exportSettings(format composition.Format, quality composition.Quality) composition.ExportSettings {
	return composition.ExportSettings{
		Format: format, Quality: quality,
		FPS: 30, Width: 1280, Height: 720,
	}
}

func TestBuildArgsMP4Software(t *testing.T) {
	e := New("", "")
	req := Request{
		ScratchDir: "/scratch", OutputPath: "/out/v.mp4",
		Export: exportSettings(composition.FormatMP4, composition.QualityHigh), TotalFrames: 90,
	}

	args := e.buildArgs(req, "libx264")
	joined := strings.Join(args, " ")

	assert.Contains(t, joined, "-framerate 30")
	assert.Contains(t, joined, filepath.Join("/scratch", "frame_%06d.png"))
	assert.Contains(t, joined, "-c:v libx264")
	assert.Contains(t, joined, "-crf 23")
	assert.Contains(t, joined, "-preset medium")
	assert.Contains(t, joined, "-pix_fmt yuv420p")
	assert.NotContains(t, joined, "-shortest")
	assert.Equal(t, "/out/v.mp4", args[len(args)-1])
}

func TestBuildArgsQualityTiers(t *testing.T) {
	e := New("", "")
	tests := []struct {
		quality composition.Quality
		crf     string
		preset  string
	}{
		{composition.QualityLow, "-crf 32", "-preset veryfast"},
		{composition.QualityMedium, "-crf 28", "-preset fast"},
		{composition.QualityHigh, "-crf 23", "-preset medium"},
		{composition.QualityUltra, "-crf 18", "-preset slow"},
	}

	for _, tt := range tests {
		req := Request{
			ScratchDir: "/s", OutputPath: "/o.mp4",
			Export: exportSettings(composition.FormatMP4, tt.quality), TotalFrames: 10,
		}
		joined := strings.Join(e.buildArgs(req, "libx264"), " ")
		assert.Contains(t, joined, tt.crf, "quality %s", tt.quality)
		assert.Contains(t, joined, tt.preset, "quality %s", tt.quality)
	}
}

func TestBuildArgsGIFUsesPalette(t *testing.T) {
	e := New("", "")
	req := Request{
		ScratchDir: "/s", OutputPath: "/o.gif",
		Export: exportSettings(composition.FormatGIF, composition.QualityMedium), TotalFrames: 10,
	}

	joined := strings.Join(e.buildArgs(req, "libx264"), " ")
	assert.Contains(t, joined, "palettegen")
	assert.Contains(t, joined, "paletteuse")
	assert.NotContains(t, joined, "libx264")
}

func TestBuildArgsWebMUsesVP9(t *testing.T) {
	e := New("", "")
	req := Request{
		ScratchDir: "/s", OutputPath: "/o.webm",
		Export: exportSettings(composition.FormatWebM, composition.QualityMedium), TotalFrames: 10,
	}

	joined := strings.Join(e.buildArgs(req, "libx264"), " ")
	assert.Contains(t, joined, "-c:v libvpx-vp9")
	assert.Contains(t, joined, "-b:v 0")
}

func TestBuildArgsAudioMuxedShortest(t *testing.T) {
	e := New("", "")
	req := Request{
		ScratchDir: "/s", OutputPath: "/o.mp4",
		Export:      exportSettings(composition.FormatMP4, composition.QualityHigh),
		TotalFrames: 10, AudioPath: "/audio/track.mp3",
	}

	joined := strings.Join(e.buildArgs(req, "libx264"), " ")
	assert.Contains(t, joined, "-i /audio/track.mp3")
	assert.Contains(t, joined, "-c:a aac")
	assert.Contains(t, joined, "-shortest")
}

func TestBuildArgsHardwareEncoders(t *testing.T) {
	e := New("", "")
	req := Request{
		ScratchDir: "/s", OutputPath: "/o.mp4",
		Export: exportSettings(composition.FormatMP4, composition.QualityHigh), TotalFrames: 10,
	}

	vt := strings.Join(e.buildArgs(req, "h264_videotoolbox"), " ")
	assert.Contains(t, vt, "-c:v h264_videotoolbox")
	assert.Contains(t, vt, "-b:v")
	assert.NotContains(t, vt, "-crf")

	nv := strings.Join(e.buildArgs(req, "h264_nvenc"), " ")
	assert.Contains(t, nv, "-c:v h264_nvenc")
	assert.Contains(t, nv, "-cq 23")
}

func TestScanProgress(t *testing.T) {
	// ffmpeg перезаписывает статусную строку через \r.
	stream := "ffmpeg version n6.0\n" +
		"frame=   10 fps= 30 q=28.0 size=     128kB time=00:00:00.33\r" +
		"frame=   45 fps= 30 q=28.0 size=     512kB time=00:00:01.50\r" +
		"frame=   90 fps= 30 q=28.0 size=    1024kB time=00:00:03.00\r" +
		"video:1024kB audio:0kB\n"

	var got []float64
	tail := scanProgress(strings.NewReader(stream), 90, func(pct float64) {
		got = append(got, pct)
	})

	require.Len(t, got, 3)
	assert.InDelta(t, 11.1, got[0], 0.2)
	assert.InDelta(t, 50.0, got[1], 0.1)
	assert.InDelta(t, 100.0, got[2], 0.1)
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i], got[i-1], "progress must be non-decreasing")
	}
	assert.Contains(t, tail, "video:1024kB")
}

func TestScanProgressCapsAtHundred(t *testing.T) {
	// Счетчик кадров может перескочить totalFrames (например, за счет
	// дублированных кадров фильтра).
	stream := "frame=  120 fps=0 q=28\r"

	var got []float64
	scanProgress(strings.NewReader(stream), 90, func(pct float64) {
		got = append(got, pct)
	})

	require.Len(t, got, 1)
	assert.Equal(t, 100.0, got[0])
}

func TestFallbackWritesDescriptor(t *testing.T) {
	e := New("", "")
	out := filepath.Join(t.TempDir(), "render.mp4")
	req := Request{
		OutputPath:  out,
		Export:      exportSettings(composition.FormatMP4, composition.QualityHigh),
		TotalFrames: 90,
	}

	var ticks []float64
	require.NoError(t, e.writeFallback(req, func(pct float64) {
		ticks = append(ticks, pct)
	}))

	desc, err := ReadDescriptor(out)
	require.NoError(t, err)
	assert.Equal(t, "render-descriptor", desc.Kind)
	assert.Equal(t, 1280, desc.Width)
	assert.Equal(t, 720, desc.Height)
	assert.Equal(t, 30, desc.FrameRate)
	assert.Equal(t, 90, desc.FrameCount)
	assert.InDelta(t, 3.0, desc.Duration, 1e-9)
	assert.Contains(t, desc.Note, "skipped")

	require.NotEmpty(t, ticks)
	assert.Equal(t, 100.0, ticks[len(ticks)-1])
	for i := 1; i < len(ticks); i++ {
		assert.GreaterOrEqual(t, ticks[i], ticks[i-1])
	}
}

func TestEncodeFallsBackWhenBinaryMissing(t *testing.T) {
	e := New("/nonexistent/ffmpeg-binary", "/nonexistent/ffprobe-binary")
	require.False(t, e.Available())

	out := filepath.Join(t.TempDir(), "render.webm")
	req := Request{
		OutputPath:  out,
		Export:      exportSettings(composition.FormatWebM, composition.QualityLow),
		TotalFrames: 30,
	}

	var last float64
	err := e.Encode(t.Context(), req, func(pct float64) { last = pct })
	require.NoError(t, err)
	assert.Equal(t, 100.0, last)

	_, err = ReadDescriptor(out)
	require.NoError(t, err)
}

func TestEncodeToleratesNilProgressFunc(t *testing.T) {
	// Колбэк опционален на всех путях: и при скане stderr, и в fallback.
	tail := scanProgress(strings.NewReader("frame=  10 fps=0 q=28\r"), 90, nil)
	assert.Contains(t, tail, "frame=")

	e := New("/nonexistent/ffmpeg-binary", "")
	out := filepath.Join(t.TempDir(), "render.mp4")
	req := Request{
		OutputPath:  out,
		Export:      exportSettings(composition.FormatMP4, composition.QualityLow),
		TotalFrames: 30,
	}
	require.NoError(t, e.Encode(t.Context(), req, nil))

	_, err := ReadDescriptor(out)
	require.NoError(t, err)
}

func TestIsSpawn(t *testing.T) {
	spawn := &SpawnError{Err: errors.New("exec: not found")}
	assert.True(t, IsSpawn(spawn))
	assert.True(t, IsSpawn(fmt.Errorf("encode: %w", spawn)))

	assert.False(t, IsSpawn(&ProcessError{Err: errors.New("exit status 1")}))
	assert.False(t, IsSpawn(errors.New("plain")))
	assert.False(t, IsSpawn(nil))
}

func TestCapabilitiesWithoutFFmpeg(t *testing.T) {
	e := New("/nonexistent/ffmpeg-binary", "")
	caps := e.Capabilities()
	assert.False(t, caps.FFmpegAvailable)
	assert.Empty(t, caps.Containers)
}
