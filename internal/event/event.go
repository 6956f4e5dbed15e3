// Package event delivers render lifecycle events on per-user channels. The
// bus is injected into the orchestrator, so the core stays testable without a
// live socket layer.
package event

import (
	"sync"
	"time"
)

// Kind enumerates the event kinds a render job emits.
type Kind string

const (
	// KindStart is emitted when a job enters the running state.
	KindStart Kind = "start"
	// KindProgress is emitted at coarse intervals while the job runs.
	KindProgress Kind = "progress"
	// KindComplete is emitted once with the output reference.
	KindComplete Kind = "complete"
	// KindError is emitted once with a human-readable message.
	KindError Kind = "error"
)

// Event is one asynchronous notification about a render job. For a single job
// the Progress values across events are monotonically non-decreasing.
type Event struct {
	Kind   Kind   `json:"kind"`
	UserID string `json:"userId"`
	JobID  string `json:"jobId"`

	// KindStart
	EstimatedDuration float64 `json:"estimatedDuration,omitempty"` // seconds
	Width             int     `json:"width,omitempty"`
	Height            int     `json:"height,omitempty"`

	// KindProgress
	Progress    int    `json:"progress,omitempty"` // 0..100
	Stage       string `json:"stage,omitempty"`    // rendering or encoding
	FramesDone  int    `json:"framesDone,omitempty"`
	TotalFrames int    `json:"totalFrames,omitempty"`

	// KindComplete
	OutputPath  string `json:"outputPath,omitempty"`
	DownloadRef string `json:"downloadRef,omitempty"`

	// KindError
	Message string `json:"message,omitempty"`

	At time.Time `json:"at"`
}

// Bus publishes events to per-user subscribers.
type Bus interface {
	Publish(e Event)
	// Subscribe returns a channel of events for one user and a cancel
	// function. Events published after cancel are not delivered.
	Subscribe(userID string) (<-chan Event, func())
}

// subscriberBuffer is the per-subscriber channel capacity. A subscriber that
// falls further behind starts losing the oldest events rather than blocking
// render jobs.
const subscriberBuffer = 64

// MemoryBus is an in-process Bus implementation backed by buffered channels.
type MemoryBus struct {
	mu   sync.Mutex
	subs map[string]map[int]chan Event
	next int
}

// NewMemoryBus creates an empty bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string]map[int]chan Event)}
}

// Publish delivers the event to every subscriber of e.UserID. Delivery order
// per subscriber matches publish order; publishing never blocks.
func (b *MemoryBus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs[e.UserID] {
		select {
		case ch <- e:
		default:
			// Подписчик не успевает: выбрасываем самое старое событие,
			// чтобы последние по времени всегда доходили.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- e:
			default:
			}
		}
	}
}

// Subscribe registers a channel for one user's events.
func (b *MemoryBus) Subscribe(userID string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs[userID] == nil {
		b.subs[userID] = make(map[int]chan Event)
	}
	id := b.next
	b.next++
	ch := make(chan Event, subscriberBuffer)
	b.subs[userID][id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[userID][id]; ok {
			delete(b.subs[userID], id)
			close(sub)
		}
	}
	return ch, cancel
}
