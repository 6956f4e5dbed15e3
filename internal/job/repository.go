package job

import (
	"errors"
	"sync"
)

// ErrJobNotFound is returned when a job cannot be found by ID.
var ErrJobNotFound = errors.New("job not found")

// Repository defines the interface for job persistence.
type Repository interface {
	// Save persists a job, updating it if it already exists.
	Save(job *Job) error
	// FindByID retrieves a job by id, or ErrJobNotFound.
	FindByID(id string) (*Job, error)
	// ListByUser returns all jobs owned by the user.
	ListByUser(userID string) ([]*Job, error)
}

// Compile-time check that MemoryRepository implements Repository.
var _ Repository = (*MemoryRepository)(nil)

// MemoryRepository is an in-memory Repository backed by a map.
type MemoryRepository struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewMemoryRepository creates a new in-memory job repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{jobs: make(map[string]*Job)}
}

// Save persists a job. Clones on write so later job mutations do not leak
// into stored snapshots.
func (r *MemoryRepository) Save(job *Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = job.Clone()
	return nil
}

// FindByID retrieves a clone of the stored job.
func (r *MemoryRepository) FindByID(id string) (*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job.Clone(), nil
}

// ListByUser returns clones of the user's jobs.
func (r *MemoryRepository) ListByUser(userID string) ([]*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Job
	for _, j := range r.jobs {
		if j.UserID == userID {
			out = append(out, j.Clone())
		}
	}
	return out, nil
}
