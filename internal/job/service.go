package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/daninc24/thumbnailcreator/internal/account"
	"github.com/daninc24/thumbnailcreator/internal/composition"
	"github.com/daninc24/thumbnailcreator/internal/encoder"
	"github.com/daninc24/thumbnailcreator/internal/event"
	"github.com/daninc24/thumbnailcreator/internal/rasterizer"
)

// Synchronous submission errors. Everything that happens after Submit returns
// is reported through the event bus and the terminal job state, never thrown
// back to the caller.
var (
	// ErrQuotaExceeded means the user has no renders left; the job was
	// never created.
	ErrQuotaExceeded = errors.New("render quota exceeded")
	// ErrQueueFull means the job queue is at capacity.
	ErrQueueFull = errors.New("render queue full")
	// ErrClosed means the service is shutting down.
	ErrClosed = errors.New("render service closed")
)

// progressStep is the coarse-progress granularity in percent. Events fire when
// the overall progress crosses a step boundary.
const progressStep = 5

// Options configures a Service.
type Options struct {
	// ScratchRoot is the parent of per-job scratch directories.
	ScratchRoot string
	// OutputDir receives final artifacts.
	OutputDir string
	// RenderWorkers is the per-job rasterization fan-out.
	RenderWorkers int
	// JobWorkers is the number of jobs processed concurrently.
	JobWorkers int
	// QueueSize bounds the pending queue.
	QueueSize int
	// Timeout is the per-job wall clock limit; 0 disables it.
	Timeout time.Duration
}

// Service orchestrates render jobs: a bounded queue feeds a fixed worker pool,
// so job concurrency and backpressure are explicit rather than tied to request
// goroutines.
type Service struct {
	repo   Repository
	store  account.Store
	bus    event.Bus
	enc    *encoder.Encoder
	raster *rasterizer.Rasterizer
	logger *slog.Logger
	opts   Options

	queue  chan *Job
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewService creates the orchestrator and starts its worker pool.
func NewService(repo Repository, store account.Store, bus event.Bus, enc *encoder.Encoder, raster *rasterizer.Rasterizer, logger *slog.Logger, opts Options) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.RenderWorkers < 1 {
		opts.RenderWorkers = 1
	}
	if opts.JobWorkers < 1 {
		opts.JobWorkers = 1
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		repo:   repo,
		store:  store,
		bus:    bus,
		enc:    enc,
		raster: raster,
		logger: logger,
		opts:   opts,
		queue:  make(chan *Job, opts.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}

	for w := 0; w < opts.JobWorkers; w++ {
		s.wg.Add(1)
		go s.worker()
	}
	return s
}

// Submit validates and enqueues a render request. Validation and quota
// failures are returned synchronously; the returned job has already been
// persisted and will run in the background.
func (s *Service) Submit(userID string, comp *composition.Composition) (*Job, error) {
	if err := comp.Validate(); err != nil {
		return nil, err
	}

	ok, err := s.store.HasQuota(userID)
	if err != nil {
		return nil, fmt.Errorf("quota check: %w", err)
	}
	if !ok {
		return nil, ErrQuotaExceeded
	}

	j := &Job{
		ID:          uuid.NewString(),
		UserID:      userID,
		Composition: comp,
		Status:      StatusCreated,
		TotalFrames: comp.TotalFrames(),
		CreatedAt:   time.Now(),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	select {
	case s.queue <- j:
		s.mu.Unlock()
	default:
		s.mu.Unlock()
		return nil, ErrQueueFull
	}

	if err := s.repo.Save(j); err != nil {
		s.logger.Error("failed to persist job", slog.String("job_id", j.ID), slog.String("error", err.Error()))
	}
	s.logger.Info("job queued",
		slog.String("job_id", j.ID),
		slog.String("user_id", userID),
		slog.Int("total_frames", j.TotalFrames),
	)
	return j.Clone(), nil
}

// GetJob retrieves a job snapshot by id.
func (s *Service) GetJob(id string) (*Job, error) {
	return s.repo.FindByID(id)
}

// Close stops accepting jobs, cancels in-flight work and waits for the
// workers to drain.
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

func (s *Service) worker() {
	defer s.wg.Done()
	for j := range s.queue {
		if s.ctx.Err() != nil {
			s.fail(j, "service shut down before the job started")
			continue
		}
		s.execute(j)
	}
}

// execute runs one job to a terminal state. Errors past this point are never
// returned to the submitter: they become a failed state plus an error event.
func (s *Service) execute(j *Job) {
	ctx := s.ctx
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	if err := j.Start(); err != nil {
		s.fail(j, fmt.Sprintf("cannot start job: %v", err))
		return
	}
	s.save(j)

	comp := j.Composition
	s.bus.Publish(event.Event{
		Kind:              event.KindStart,
		UserID:            j.UserID,
		JobID:             j.ID,
		EstimatedDuration: comp.Settings.Duration,
		Width:             comp.Export.Width,
		Height:            comp.Export.Height,
	})

	if err := os.MkdirAll(s.opts.ScratchRoot, 0755); err != nil {
		s.fail(j, fmt.Sprintf("scratch root: %v", err))
		return
	}
	scratch, err := os.MkdirTemp(s.opts.ScratchRoot, "job-"+j.ID+"-")
	if err != nil {
		s.fail(j, fmt.Sprintf("scratch dir: %v", err))
		return
	}
	j.SetScratchDir(scratch)
	// Скретч удаляется безусловно: и при успехе, и при ошибке.
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			s.logger.Warn("scratch cleanup failed",
				slog.String("job_id", j.ID),
				slog.String("dir", scratch),
				slog.String("error", err.Error()),
			)
		}
	}()

	if err := s.rasterize(ctx, j, scratch); err != nil {
		s.fail(j, fmt.Sprintf("rendering failed: %v", err))
		return
	}

	if err := os.MkdirAll(s.opts.OutputDir, 0755); err != nil {
		s.fail(j, fmt.Sprintf("output dir: %v", err))
		return
	}
	j.SetOutputPath(filepath.Join(s.opts.OutputDir,
		fmt.Sprintf("render_%s.%s", j.ID, comp.Export.Format)))

	if err := s.encode(ctx, j, scratch); err != nil {
		if encoder.IsSpawn(err) {
			// Бинарник прошёл probe, но не запустился.
			s.fail(j, fmt.Sprintf("encoder could not be started: %v", err))
			return
		}
		s.fail(j, fmt.Sprintf("encoding failed: %v", err))
		return
	}

	s.finish(j)
}

// rasterize fans all frames out over the render workers and waits for the
// batch. The first frame error aborts the remaining work and fails the job.
func (s *Service) rasterize(ctx context.Context, j *Job, scratch string) error {
	comp := j.Composition
	total := j.TotalFrames
	fps := float64(comp.Export.FPS)

	var done atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.RenderWorkers)

	for i := 0; i < total; i++ {
		frame := i
		g.Go(func() error {
			t := float64(frame) / fps
			if _, err := s.raster.RenderFrame(gctx, comp, t, frame, scratch); err != nil {
				return err
			}
			n := int(done.Add(1))
			j.SetFrames(n, total)
			// Стадия растеризации занимает диапазон 0–50%.
			s.progress(j, n*50/total, "rendering", n, total)
			return nil
		})
	}
	return g.Wait()
}

// encode runs the encoding pipeline, mapping its 0-100 progress into the
// job's 50-100 range.
func (s *Service) encode(ctx context.Context, j *Job, scratch string) error {
	comp := j.Composition

	audioPath := ""
	if comp.Settings.AudioEnabled && comp.Settings.AudioPath != "" {
		audioPath = comp.Settings.AudioPath
		if dur, err := s.enc.AudioDuration(audioPath); err == nil {
			s.logger.Debug("muxing audio",
				slog.String("job_id", j.ID),
				slog.Float64("audio_duration", dur),
			)
		}
	}

	total := j.TotalFrames
	req := encoder.Request{
		ScratchDir:  scratch,
		OutputPath:  j.OutputPath,
		Export:      comp.Export,
		TotalFrames: total,
		AudioPath:   audioPath,
	}
	return s.enc.Encode(ctx, req, func(pct float64) {
		s.progress(j, 50+int(pct)/2, "encoding", total, total)
	})
}

// progress raises the job progress and emits an event when it crosses a step
// boundary or reaches 100.
func (s *Service) progress(j *Job, pct int, stage string, framesDone, totalFrames int) {
	prev, cur := j.UpdateProgress(pct)
	if cur == prev {
		return
	}
	if cur < 100 && cur/progressStep == prev/progressStep {
		return
	}
	s.bus.Publish(event.Event{
		Kind:        event.KindProgress,
		UserID:      j.UserID,
		JobID:       j.ID,
		Progress:    cur,
		Stage:       stage,
		FramesDone:  framesDone,
		TotalFrames: totalFrames,
	})
}

// finish runs the success path: quota consumption, media persistence,
// terminal transition and the completion event.
func (s *Service) finish(j *Job) {
	if err := s.store.ConsumeQuota(j.UserID); err != nil {
		// Квота ушла, пока задача выполнялась. Артефакт не публикуем.
		s.fail(j, fmt.Sprintf("quota consumption: %v", err))
		return
	}

	out := account.Output{
		URL:          j.OutputPath,
		Kind:         "video",
		TemplateName: j.Composition.TemplateName,
		CreatedAt:    time.Now(),
	}
	if err := s.store.AppendOutput(j.UserID, out); err != nil {
		s.logger.Error("failed to persist output record",
			slog.String("job_id", j.ID),
			slog.String("error", err.Error()),
		)
	}

	j.UpdateProgress(100)
	if err := j.Complete(); err != nil {
		s.logger.Error("terminal transition failed", slog.String("job_id", j.ID), slog.String("error", err.Error()))
	}
	s.save(j)

	s.bus.Publish(event.Event{
		Kind:        event.KindComplete,
		UserID:      j.UserID,
		JobID:       j.ID,
		Progress:    100,
		OutputPath:  j.OutputPath,
		DownloadRef: "/media/" + filepath.Base(j.OutputPath),
	})
	s.logger.Info("job completed",
		slog.String("job_id", j.ID),
		slog.String("output", j.OutputPath),
	)
}

func (s *Service) fail(j *Job, msg string) {
	if err := j.Fail(msg); err != nil {
		s.logger.Error("terminal transition failed", slog.String("job_id", j.ID), slog.String("error", err.Error()))
	}
	s.save(j)

	s.bus.Publish(event.Event{
		Kind:    event.KindError,
		UserID:  j.UserID,
		JobID:   j.ID,
		Message: msg,
	})
	s.logger.Warn("job failed",
		slog.String("job_id", j.ID),
		slog.String("reason", msg),
	)
}

func (s *Service) save(j *Job) {
	if err := s.repo.Save(j); err != nil {
		s.logger.Error("failed to persist job", slog.String("job_id", j.ID), slog.String("error", err.Error()))
	}
}
