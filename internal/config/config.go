// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Config holds all configuration for the render daemon.
type Config struct {
	// Server settings
	Port int `env:"PORT, default=8080" json:"port"`

	// Paths
	OutputDir  string `env:"OUTPUT_DIR, default=output" json:"output_dir"`
	ScratchDir string `env:"SCRATCH_DIR, default=/tmp/thumbrender" json:"scratch_dir"`

	// External encoder
	FFmpegPath  string `env:"FFMPEG_PATH, default=ffmpeg" json:"ffmpeg_path"`
	FFprobePath string `env:"FFPROBE_PATH, default=ffprobe" json:"ffprobe_path"`

	// Job execution
	// RenderWorkers is the rasterization fan-out per job; 0 means autosize
	// from host CPU and memory.
	RenderWorkers int `env:"RENDER_WORKERS, default=0" json:"render_workers"`
	// JobWorkers is the number of concurrent render jobs.
	JobWorkers int `env:"JOB_WORKERS, default=2" json:"job_workers"`
	// QueueSize bounds the pending-job queue; submits beyond it are
	// rejected synchronously.
	QueueSize int `env:"QUEUE_SIZE, default=32" json:"queue_size"`
	// RenderTimeout is the wall-clock limit for one job; 0 disables it.
	RenderTimeout time.Duration `env:"RENDER_TIMEOUT, default=0" json:"render_timeout"`

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// Load reads configuration from environment variables using go-envconfig.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := envconfig.Process(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// frameBudgetBytes is the assumed peak memory per in-flight frame buffer,
// sized for a 4K RGBA frame plus encoder overhead.
const frameBudgetBytes = 64 << 20

// EffectiveRenderWorkers resolves the rasterization fan-out. When
// RenderWorkers is 0 it autosizes: logical CPU count, capped so that the
// per-frame buffers fit into currently available memory.
func (c *Config) EffectiveRenderWorkers() int {
	if c.RenderWorkers > 0 {
		return c.RenderWorkers
	}

	workers := runtime.NumCPU()
	if counts, err := cpu.Counts(true); err == nil && counts > 0 {
		workers = counts
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		byMem := int(vm.Available / frameBudgetBytes)
		if byMem < 1 {
			byMem = 1
		}
		if byMem < workers {
			workers = byMem
		}
	}

	if workers < 1 {
		workers = 1
	}
	return workers
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
