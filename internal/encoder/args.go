package encoder

import (
	"fmt"
	"path/filepath"

	"github.com/daninc24/thumbnailcreator/internal/composition"
)

// tier maps a quality level to a constant-rate-factor and encoder preset.
// Ниже CRF — лучше картинка и больше файл; медленный пресет выжимает больше
// качества из того же битрейта.
type tier struct {
	crf    int
	preset string
}

var qualityTiers = map[composition.Quality]tier{
	composition.QualityLow:    {crf: 32, preset: "veryfast"},
	composition.QualityMedium: {crf: 28, preset: "fast"},
	composition.QualityHigh:   {crf: 23, preset: "medium"},
	composition.QualityUltra:  {crf: 18, preset: "slow"},
}

// buildArgs assembles the single ffmpeg invocation for a frame-sequence
// encode. Input is the ordered frame files at the export frame rate; the
// optional audio track is muxed with -shortest semantics.
func (e *Encoder) buildArgs(req Request, h264 string) []string {
	args := []string{
		"-y",
		"-framerate", fmt.Sprintf("%d", req.Export.FPS),
		"-i", filepath.Join(req.ScratchDir, "frame_%06d.png"),
	}

	if req.AudioPath != "" {
		args = append(args, "-i", req.AudioPath)
	}

	t := qualityTiers[req.Export.Quality]

	switch req.Export.Format {
	case composition.FormatGIF:
		// GIF ограничен палитрой в 256 цветов: считаем палитру по всем
		// кадрам и применяем её одним filter_complex.
		fps := req.Export.FPS
		if fps > 24 {
			fps = 24 // GIF при высоком FPS раздувается без видимой пользы
		}
		filter := fmt.Sprintf(
			"fps=%d,scale=%d:%d:flags=lanczos,split[s0][s1];[s0]palettegen[p];[s1][p]paletteuse",
			fps, req.Export.Width, req.Export.Height,
		)
		args = append(args, "-filter_complex", filter)

	case composition.FormatWebM:
		args = append(args,
			"-c:v", "libvpx-vp9",
			"-crf", fmt.Sprintf("%d", t.crf),
			"-b:v", "0",
		)
		if req.AudioPath != "" {
			args = append(args, "-c:a", "libopus")
		}

	default: // mp4
		args = append(args, "-c:v", h264, "-pix_fmt", "yuv420p")
		switch h264 {
		case "h264_videotoolbox":
			// VideoToolbox не понимает CRF, задаем битрейт из уровня качества.
			bitrate := (52 - t.crf) * 250
			args = append(args, "-b:v", fmt.Sprintf("%dk", bitrate))
		case "h264_nvenc":
			args = append(args, "-cq", fmt.Sprintf("%d", t.crf), "-preset", t.preset)
		default:
			args = append(args, "-crf", fmt.Sprintf("%d", t.crf), "-preset", t.preset)
		}
		if req.AudioPath != "" {
			args = append(args, "-c:a", "aac", "-b:a", "192k")
		}
	}

	if req.AudioPath != "" {
		// Длительность итогового файла ограничена более коротким из потоков.
		args = append(args, "-shortest")
	}

	args = append(args, req.OutputPath)
	return args
}
