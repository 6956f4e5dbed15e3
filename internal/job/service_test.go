package job

import (
	"image"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daninc24/thumbnailcreator/internal/account"
	"github.com/daninc24/thumbnailcreator/internal/composition"
	"github.com/daninc24/thumbnailcreator/internal/encoder"
	"github.com/daninc24/thumbnailcreator/internal/event"
	"github.com/daninc24/thumbnailcreator/internal/rasterizer"
)

// testEncoder points at a binary that does not exist, so every encode takes the
// degraded descriptor path and the suite stays independent of host ffmpeg.
func testEncoder() *encoder.Encoder {
	return encoder.New("/nonexistent/ffmpeg-binary", "/nonexistent/ffprobe-binary")
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func tinyComposition() *composition.Composition {
	return &composition.Composition{
		TemplateName: "tiny",
		Settings:     composition.Settings{Duration: 0.5, Background: "#000000"},
		Export: composition.ExportSettings{
			Format: composition.FormatMP4, Quality: composition.QualityLow,
			FPS: 4, Width: 32, Height: 32,
		},
		Layers: []composition.Layer{
			{
				ID: "bg", Type: composition.LayerShape, Visible: true,
				StartTime: 0, Duration: 0.5,
				Size:    composition.Dimensions{Width: 32, Height: 32},
				Opacity: 1,
				Shape:   &composition.ShapeProps{Kind: composition.ShapeRect, Fill: "#22aa44"},
			},
		},
	}
}

type fixture struct {
	svc     *Service
	repo    *MemoryRepository
	store   *account.MemoryStore
	bus     *event.MemoryBus
	scratch string
	output  string
}

func newFixture(t *testing.T, extract rasterizer.FrameExtractor) *fixture {
	t.Helper()

	f := &fixture{
		repo:    NewMemoryRepository(),
		store:   account.NewMemoryStore(),
		bus:     event.NewMemoryBus(),
		scratch: t.TempDir(),
		output:  t.TempDir(),
	}
	f.svc = NewService(f.repo, f.store, f.bus, testEncoder(), rasterizer.New(extract), quietLogger(), Options{
		ScratchRoot:   f.scratch,
		OutputDir:     f.output,
		RenderWorkers: 2,
		JobWorkers:    1,
		QueueSize:     4,
	})
	t.Cleanup(f.svc.Close)
	return f
}

// waitTerminal blocks on the user's event stream until the job reaches a
// terminal event, returning every event seen on the way.
func waitTerminal(t *testing.T, ch <-chan event.Event, jobID string) []event.Event {
	t.Helper()

	deadline := time.After(10 * time.Second)
	var seen []event.Event
	for {
		select {
		case e := <-ch:
			if e.JobID != jobID {
				continue
			}
			seen = append(seen, e)
			if e.Kind == event.KindComplete || e.Kind == event.KindError {
				return seen
			}
		case <-deadline:
			t.Fatalf("job %s did not finish; events so far: %+v", jobID, seen)
		}
	}
}

func TestRenderJobCompletes(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.store.Put(&account.User{ID: "u1", QuotaLimit: 3, QuotaUsed: 1}))

	ch, cancel := f.bus.Subscribe("u1")
	defer cancel()

	j, err := f.svc.Submit("u1", tinyComposition())
	require.NoError(t, err)
	assert.Equal(t, StatusCreated, j.Status)
	assert.Equal(t, 2, j.TotalFrames)

	events := waitTerminal(t, ch, j.ID)

	require.GreaterOrEqual(t, len(events), 2)
	assert.Equal(t, event.KindStart, events[0].Kind)
	assert.Equal(t, 32, events[0].Width)

	last := events[len(events)-1]
	require.Equal(t, event.KindComplete, last.Kind)
	assert.Equal(t, 100, last.Progress)
	assert.Equal(t, "/media/render_"+j.ID+".mp4", last.DownloadRef)

	// Прогресс монотонен по всей цепочке событий.
	prev := -1
	for _, e := range events {
		if e.Kind != event.KindProgress {
			continue
		}
		assert.GreaterOrEqual(t, e.Progress, prev)
		prev = e.Progress
	}

	stored, err := f.svc.GetJob(j.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, stored.Status)
	assert.Equal(t, 100, stored.Progress)
	assert.Empty(t, stored.Error)

	// Без ffmpeg на выходе дескриптор деградированного режима.
	desc, err := encoder.ReadDescriptor(stored.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, "render-descriptor", desc.Kind)
	assert.Equal(t, 2, desc.FrameCount)
	assert.Equal(t, "mp4", desc.Format)

	u, err := f.store.Get("u1")
	require.NoError(t, err)
	assert.Equal(t, 2, u.QuotaUsed, "successful render consumes exactly one quota unit")
	require.Len(t, u.Media, 1)
	assert.Equal(t, stored.OutputPath, u.Media[0].URL)
	assert.Equal(t, "tiny", u.Media[0].TemplateName)

	// Скретч-директория удаляется после завершения.
	assert.Eventually(t, func() bool {
		entries, err := os.ReadDir(f.scratch)
		return err == nil && len(entries) == 0
	}, 5*time.Second, 50*time.Millisecond)
}

func TestRenderJobFailsOnBadMedia(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.store.Put(&account.User{ID: "u1", QuotaLimit: 3}))

	comp := tinyComposition()
	comp.Layers = append(comp.Layers, composition.Layer{
		ID: "img", Type: composition.LayerImage, Visible: true,
		StartTime: 0, Duration: 0.5,
		Size:    composition.Dimensions{Width: 16, Height: 16},
		Opacity: 1,
		Image:   &composition.ImageProps{Source: "/nonexistent/picture.png"},
	})

	ch, cancel := f.bus.Subscribe("u1")
	defer cancel()

	j, err := f.svc.Submit("u1", comp)
	require.NoError(t, err)

	events := waitTerminal(t, ch, j.ID)
	last := events[len(events)-1]
	require.Equal(t, event.KindError, last.Kind)
	assert.Contains(t, last.Message, "rendering failed")

	stored, err := f.svc.GetJob(j.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, stored.Status)
	assert.NotEmpty(t, stored.Error)

	u, err := f.store.Get("u1")
	require.NoError(t, err)
	assert.Equal(t, 0, u.QuotaUsed, "failed render must not consume quota")
	assert.Empty(t, u.Media)

	assert.Eventually(t, func() bool {
		entries, err := os.ReadDir(f.scratch)
		return err == nil && len(entries) == 0
	}, 5*time.Second, 50*time.Millisecond)
}

func TestSubmitRejectsInvalidComposition(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.store.Put(&account.User{ID: "u1", QuotaLimit: 3}))

	comp := tinyComposition()
	comp.Settings.Duration = 0

	_, err := f.svc.Submit("u1", comp)
	require.Error(t, err)
	var verr *composition.ValidationError
	assert.ErrorAs(t, err, &verr)

	jobs, err := f.repo.ListByUser("u1")
	require.NoError(t, err)
	assert.Empty(t, jobs, "rejected submission must not create a job")
}

func TestSubmitRejectsExhaustedQuota(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.store.Put(&account.User{ID: "u1", QuotaLimit: 1, QuotaUsed: 1}))

	_, err := f.svc.Submit("u1", tinyComposition())
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	jobs, err := f.repo.ListByUser("u1")
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestPrivilegedUserSkipsQuota(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.store.Put(&account.User{ID: "vip", Privileged: true, QuotaLimit: 0}))

	ch, cancel := f.bus.Subscribe("vip")
	defer cancel()

	j, err := f.svc.Submit("vip", tinyComposition())
	require.NoError(t, err)

	events := waitTerminal(t, ch, j.ID)
	assert.Equal(t, event.KindComplete, events[len(events)-1].Kind)

	u, err := f.store.Get("vip")
	require.NoError(t, err)
	assert.Equal(t, 0, u.QuotaUsed)
	assert.Len(t, u.Media, 1)
}

func TestSubmitWhenQueueFull(t *testing.T) {
	gate := make(chan struct{})
	// Экстрактор держит единственного воркера, пока тест не откроет gate.
	extract := func(src string, at float64) (image.Image, error) {
		<-gate
		return image.NewRGBA(image.Rect(0, 0, 4, 4)), nil
	}

	f := &fixture{
		repo:    NewMemoryRepository(),
		store:   account.NewMemoryStore(),
		bus:     event.NewMemoryBus(),
		scratch: t.TempDir(),
		output:  t.TempDir(),
	}
	f.svc = NewService(f.repo, f.store, f.bus, testEncoder(), rasterizer.New(extract), quietLogger(), Options{
		ScratchRoot:   f.scratch,
		OutputDir:     f.output,
		RenderWorkers: 1,
		JobWorkers:    1,
		QueueSize:     1,
	})
	require.NoError(t, f.store.Put(&account.User{ID: "u1", QuotaLimit: 10}))

	blocking := tinyComposition()
	blocking.Layers = []composition.Layer{{
		ID: "clip", Type: composition.LayerVideo, Visible: true,
		StartTime: 0, Duration: 0.5,
		Size:    composition.Dimensions{Width: 16, Height: 16},
		Opacity: 1,
		Video:   &composition.VideoProps{Source: "/clips/a.mp4"},
	}}

	first, err := f.svc.Submit("u1", blocking)
	require.NoError(t, err)

	// Ждём, пока воркер возьмёт первую задачу и упрётся в gate.
	require.Eventually(t, func() bool {
		j, err := f.svc.GetJob(first.ID)
		return err == nil && j.Status == StatusRunning
	}, 5*time.Second, 10*time.Millisecond)

	_, err = f.svc.Submit("u1", blocking)
	require.NoError(t, err, "one job fits the queue while the worker is busy")

	_, err = f.svc.Submit("u1", blocking)
	assert.ErrorIs(t, err, ErrQueueFull)

	close(gate)
	f.svc.Close()
}

// Воркеры мутируют задачу сразу после постановки в очередь, пока Submit ещё
// клонирует её для вызывающего; под детектором гонок это и проверяется.
func TestConcurrentSubmitsWhileWorkersRun(t *testing.T) {
	f := &fixture{
		repo:    NewMemoryRepository(),
		store:   account.NewMemoryStore(),
		bus:     event.NewMemoryBus(),
		scratch: t.TempDir(),
		output:  t.TempDir(),
	}
	f.svc = NewService(f.repo, f.store, f.bus, testEncoder(), rasterizer.New(nil), quietLogger(), Options{
		ScratchRoot:   f.scratch,
		OutputDir:     f.output,
		RenderWorkers: 2,
		JobWorkers:    4,
		QueueSize:     256,
	})
	require.NoError(t, f.store.Put(&account.User{ID: "u1", Privileged: true}))

	const submitters = 8
	const perSubmitter = 10

	var wg sync.WaitGroup
	ids := make(chan string, submitters*perSubmitter)
	for g := 0; g < submitters; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perSubmitter; i++ {
				j, err := f.svc.Submit("u1", tinyComposition())
				if err != nil {
					t.Error(err)
					return
				}
				ids <- j.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	for id := range ids {
		jobID := id
		require.Eventually(t, func() bool {
			j, err := f.svc.GetJob(jobID)
			return err == nil && j.IsTerminal()
		}, 30*time.Second, 20*time.Millisecond)

		j, err := f.svc.GetJob(jobID)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, j.Status, "job %s: %s", jobID, j.Error)
	}

	f.svc.Close()
}

func TestSubmitAfterClose(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.store.Put(&account.User{ID: "u1", QuotaLimit: 3}))

	f.svc.Close()

	_, err := f.svc.Submit("u1", tinyComposition())
	assert.ErrorIs(t, err, ErrClosed)
}
