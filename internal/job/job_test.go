package job

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLifecycleHappyPath(t *testing.T) {
	j := &Job{ID: "j1", Status: StatusCreated}

	require.NoError(t, j.Start())
	assert.Equal(t, StatusRunning, j.GetStatus())
	assert.False(t, j.StartedAt.IsZero())

	require.NoError(t, j.Complete())
	assert.Equal(t, StatusCompleted, j.GetStatus())
	assert.False(t, j.CompletedAt.IsZero())
	assert.True(t, j.IsTerminal())
}

func TestFailFromCreated(t *testing.T) {
	j := &Job{ID: "j1", Status: StatusCreated}

	require.NoError(t, j.Fail("validation blew up late"))
	assert.Equal(t, StatusFailed, j.GetStatus())
	assert.Equal(t, "validation blew up late", j.Error)
	assert.True(t, j.IsTerminal())
}

func TestInvalidTransitions(t *testing.T) {
	cases := []struct {
		name string
		from Status
		to   Status
	}{
		{"created to completed", StatusCreated, StatusCompleted},
		{"completed to running", StatusCompleted, StatusRunning},
		{"completed to failed", StatusCompleted, StatusFailed},
		{"failed to running", StatusFailed, StatusRunning},
		{"failed to completed", StatusFailed, StatusCompleted},
		{"running to created", StatusRunning, StatusCreated},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			j := &Job{Status: tc.from}
			assert.ErrorIs(t, j.TransitionTo(tc.to), ErrInvalidTransition)
			assert.Equal(t, tc.from, j.GetStatus(), "status must not change on rejected transition")
		})
	}
}

func TestProgressNeverDecreases(t *testing.T) {
	j := &Job{Status: StatusRunning}

	_, cur := j.UpdateProgress(40)
	assert.Equal(t, 40, cur)

	prev, cur := j.UpdateProgress(25)
	assert.Equal(t, 40, prev)
	assert.Equal(t, 40, cur, "lower value must be ignored")

	_, cur = j.UpdateProgress(250)
	assert.Equal(t, 100, cur, "progress is clamped to 100")

	_, cur = j.UpdateProgress(-5)
	assert.Equal(t, 100, cur)
}

func TestCloneIsIndependent(t *testing.T) {
	j := &Job{ID: "j1", UserID: "u1", Status: StatusRunning, Progress: 30}

	c := j.Clone()
	c.Progress = 99
	c.Status = StatusFailed

	assert.Equal(t, 30, j.Progress)
	assert.Equal(t, StatusRunning, j.GetStatus())
}

// Клоны снимаются конкурентно с мутациями воркера; ловится детектором гонок.
func TestCloneConcurrentWithWorkerWrites(t *testing.T) {
	j := &Job{ID: "j1", Status: StatusCreated}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			j.SetScratchDir("/tmp/scratch")
			j.SetOutputPath("/out/render.mp4")
			j.SetFrames(i, 1000)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			c := j.Clone()
			_ = c.ScratchDir
			_ = c.OutputPath
		}
	}()
	wg.Wait()

	assert.Equal(t, "/out/render.mp4", j.Clone().OutputPath)
}

func TestRepositoryRoundTrip(t *testing.T) {
	repo := NewMemoryRepository()

	_, err := repo.FindByID("missing")
	assert.ErrorIs(t, err, ErrJobNotFound)

	j := &Job{ID: "j1", UserID: "u1", Status: StatusCreated}
	require.NoError(t, repo.Save(j))

	// Мутации после Save не должны протекать в сохранённый снапшот.
	j.Progress = 77

	got, err := repo.FindByID("j1")
	require.NoError(t, err)
	assert.Equal(t, 0, got.Progress)
	assert.Equal(t, StatusCreated, got.Status)

	require.NoError(t, repo.Save(&Job{ID: "j2", UserID: "u1"}))
	require.NoError(t, repo.Save(&Job{ID: "j3", UserID: "other"}))

	list, err := repo.ListByUser("u1")
	require.NoError(t, err)
	assert.Len(t, list, 2)
}
