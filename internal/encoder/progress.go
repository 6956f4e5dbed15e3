package encoder

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

// frameCounterRe matches the encoded-frame counter in ffmpeg's diagnostic
// stream, e.g. "frame=  123 fps= 30 q=28.0 ...".
var frameCounterRe = regexp.MustCompile(`frame=\s*(\d+)`)

// tailLines is how many diagnostic lines are kept for error reporting.
const tailLines = 20

// run launches ffmpeg once and streams progress from its stderr until exit.
func (e *Encoder) run(ctx context.Context, req Request, onProgress ProgressFunc) error {
	args := e.buildArgs(req, e.bestH264Encoder())
	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return &SpawnError{Err: err}
	}
	if err := cmd.Start(); err != nil {
		// Бинарник пропал между probe и запуском (гонка на PATH).
		return &SpawnError{Err: err}
	}

	tail := scanProgress(stderr, req.TotalFrames, onProgress)

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &ProcessError{Err: err, Tail: tail}
	}

	if onProgress != nil {
		onProgress(100)
	}
	return nil
}

// scanProgress reads ffmpeg's diagnostic stream line by line, reporting
// min(currentFrame/totalFrames, 1)*100 for every frame counter seen, and
// returns the last diagnostic lines for error reporting.
func scanProgress(r io.Reader, totalFrames int, onProgress ProgressFunc) string {
	scanner := bufio.NewScanner(r)
	scanner.Split(scanCRLines)

	var ring []string
	last := -1.0
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		ring = append(ring, line)
		if len(ring) > tailLines {
			ring = ring[1:]
		}

		m := frameCounterRe.FindStringSubmatch(line)
		if m == nil || totalFrames <= 0 || onProgress == nil {
			continue
		}
		frame, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		pct := float64(frame) / float64(totalFrames) * 100
		if pct > 100 {
			pct = 100
		}
		if pct > last {
			last = pct
			onProgress(pct)
		}
	}

	return strings.Join(ring, "\n")
}

// scanCRLines splits on both \n and \r: ffmpeg rewrites its status line with
// bare carriage returns.
func scanCRLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// IsSpawn reports whether err is a SpawnError.
func IsSpawn(err error) bool {
	var se *SpawnError
	return errors.As(err, &se)
}
