// Package job owns the end-to-end lifecycle of render requests: quota
// checking, queued background execution, progress events, result persistence
// and failure reporting.
package job

import (
	"errors"
	"sync"
	"time"

	"github.com/daninc24/thumbnailcreator/internal/composition"
)

// Status represents the current state of a render job.
type Status string

const (
	// StatusCreated indicates the job is accepted and queued.
	StatusCreated Status = "created"
	// StatusRunning indicates frames are being rendered or encoded.
	StatusRunning Status = "running"
	// StatusCompleted indicates the job finished successfully.
	StatusCompleted Status = "completed"
	// StatusFailed indicates the job encountered an error.
	StatusFailed Status = "failed"
)

// ErrInvalidTransition is returned when an invalid state transition is
// attempted. Job state is monotonic: no transition moves backward.
var ErrInvalidTransition = errors.New("invalid state transition")

var validTransitions = map[Status][]Status{
	StatusCreated:   {StatusRunning, StatusFailed},
	StatusRunning:   {StatusCompleted, StatusFailed},
	StatusCompleted: {},
	StatusFailed:    {},
}

func canTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Job is the orchestration entity for one render request. It is mutated only
// by the orchestrator; the rasterizer and encoder report back through
// callbacks and never touch job state directly.
type Job struct {
	mu sync.RWMutex

	// ID is the unique job identifier.
	ID string
	// UserID is the owning user.
	UserID string
	// Composition is the immutable snapshot being rendered.
	Composition *composition.Composition
	// Status is the current lifecycle state.
	Status Status
	// Progress is the overall completion percentage (0-100); it never
	// decreases.
	Progress int
	// FramesDone and TotalFrames track the rasterization stage.
	FramesDone  int
	TotalFrames int
	// ScratchDir is the job-private frame directory; empty until running.
	ScratchDir string
	// OutputPath is the final artifact location.
	OutputPath string
	// Error holds the failure message for failed jobs.
	Error string

	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
}

// TransitionTo attempts a state change, enforcing the monotonic state machine.
func (j *Job) TransitionTo(status Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !canTransition(j.Status, status) {
		return ErrInvalidTransition
	}
	j.Status = status

	now := time.Now()
	switch status {
	case StatusRunning:
		j.StartedAt = now
	case StatusCompleted, StatusFailed:
		j.CompletedAt = now
	}
	return nil
}

// Start transitions the job to running.
func (j *Job) Start() error { return j.TransitionTo(StatusRunning) }

// Complete transitions the job to its terminal success state.
func (j *Job) Complete() error { return j.TransitionTo(StatusCompleted) }

// Fail transitions the job to its terminal failure state with a message.
func (j *Job) Fail(msg string) error {
	j.mu.Lock()
	j.Error = msg
	j.mu.Unlock()
	return j.TransitionTo(StatusFailed)
}

// GetStatus returns the current status.
func (j *Job) GetStatus() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// IsTerminal reports whether the job reached completed or failed.
func (j *Job) IsTerminal() bool {
	s := j.GetStatus()
	return s == StatusCompleted || s == StatusFailed
}

// UpdateProgress raises the job progress to pct. Lower values are ignored, so
// the observed progress sequence is non-decreasing. It returns the previous
// and effective progress values.
func (j *Job) UpdateProgress(pct int) (prev, cur int) {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	prev = j.Progress
	if pct > j.Progress {
		j.Progress = pct
	}
	return prev, j.Progress
}

// SetScratchDir records the job-private frame directory. The worker sets it
// after Submit has returned the job, so the write must hold the job lock.
func (j *Job) SetScratchDir(dir string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.ScratchDir = dir
}

// SetOutputPath records the final artifact location.
func (j *Job) SetOutputPath(path string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.OutputPath = path
}

// SetFrames updates the frame counters.
func (j *Job) SetFrames(done, total int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.FramesDone = done
	j.TotalFrames = total
}

// Clone returns a deep copy for safe reads.
func (j *Job) Clone() *Job {
	j.mu.RLock()
	defer j.mu.RUnlock()

	return &Job{
		ID:          j.ID,
		UserID:      j.UserID,
		Composition: j.Composition,
		Status:      j.Status,
		Progress:    j.Progress,
		FramesDone:  j.FramesDone,
		TotalFrames: j.TotalFrames,
		ScratchDir:  j.ScratchDir,
		OutputPath:  j.OutputPath,
		Error:       j.Error,
		CreatedAt:   j.CreatedAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
}
