package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/daninc24/thumbnailcreator/internal/account"
	"github.com/daninc24/thumbnailcreator/internal/config"
	"github.com/daninc24/thumbnailcreator/internal/encoder"
	"github.com/daninc24/thumbnailcreator/internal/event"
	"github.com/daninc24/thumbnailcreator/internal/job"
	"github.com/daninc24/thumbnailcreator/internal/rasterizer"
	"github.com/daninc24/thumbnailcreator/internal/server"
	"github.com/daninc24/thumbnailcreator/internal/system"
)

func main() {
	// Поднимаем лимиты системы (для macOS/Linux)
	system.InitResourceLimits()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "[-] Ошибка конфигурации: %v\n", err)
		os.Exit(1)
	}
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	enc := encoder.New(cfg.FFmpegPath, cfg.FFprobePath)
	caps := enc.Capabilities()
	if caps.FFmpegAvailable {
		logger.Info("encoder detected", slog.String("h264", caps.H264Encoder))
	} else {
		logger.Warn("ffmpeg not found; renders will produce descriptor artifacts")
	}

	// Видео-слои сэмплируются через ffmpeg только когда он есть.
	var extract rasterizer.FrameExtractor
	if caps.FFmpegAvailable {
		extract = enc.ExtractFrame
	}
	raster := rasterizer.New(extract)

	store := account.NewMemoryStore()
	bus := event.NewMemoryBus()
	repo := job.NewMemoryRepository()

	svc := job.NewService(repo, store, bus, enc, raster, logger, job.Options{
		ScratchRoot:   cfg.ScratchDir,
		OutputDir:     cfg.OutputDir,
		RenderWorkers: cfg.EffectiveRenderWorkers(),
		JobWorkers:    cfg.JobWorkers,
		QueueSize:     cfg.QueueSize,
		Timeout:       cfg.RenderTimeout,
	})
	defer svc.Close()

	srv := server.New(svc, enc, bus, logger)
	mux := srv.Routes()
	mux.Handle("GET /media/", http.StripPrefix("/media/", http.FileServer(http.Dir(cfg.OutputDir))))

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening",
			slog.Int("port", cfg.Port),
			slog.Int("render_workers", cfg.EffectiveRenderWorkers()),
			slog.Int("job_workers", cfg.JobWorkers),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
	}
}
