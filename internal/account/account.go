// Package account is the minimal user-record collaborator the render core
// needs: quota bookkeeping and the media collection outputs are appended to.
package account

import (
	"errors"
	"sync"
	"time"
)

// ErrUserNotFound is returned when no user exists for the id.
var ErrUserNotFound = errors.New("user not found")

// ErrQuotaExhausted is returned by ConsumeQuota when the user has no renders
// left at commit time.
var ErrQuotaExhausted = errors.New("render quota exhausted")

// Output is a persisted output descriptor appended to a user's media
// collection after a successful render.
type Output struct {
	URL          string         `json:"url"`
	Kind         string         `json:"kind"` // "video" or "ai-video"
	TemplateName string         `json:"templateName,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	Downloaded   bool           `json:"downloaded"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// User is one account record. Privileged accounts bypass quota enforcement
// entirely: no check on submit, no increment on completion.
type User struct {
	ID         string   `json:"id"`
	Privileged bool     `json:"privileged"`
	QuotaLimit int      `json:"quotaLimit"`
	QuotaUsed  int      `json:"quotaUsed"`
	Media      []Output `json:"media,omitempty"`
}

// Store persists user records.
type Store interface {
	Get(userID string) (*User, error)
	Put(u *User) error
	// HasQuota reports whether the user may start another render now. This
	// is the synchronous pre-check; the authoritative consumption happens
	// in ConsumeQuota on the success path.
	HasQuota(userID string) (bool, error)
	// ConsumeQuota atomically increments the user's usage by one, failing
	// with ErrQuotaExhausted when the limit is already reached. The
	// conditional update closes the race between concurrent jobs of one
	// user.
	ConsumeQuota(userID string) error
	// AppendOutput appends an output descriptor to the user's media
	// collection.
	AppendOutput(userID string, out Output) error
}

// MemoryStore is an in-memory Store. Suitable for tests and single-node
// deployments; swap for persistent storage behind the same interface.
type MemoryStore struct {
	mu    sync.Mutex
	users map[string]*User
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string]*User)}
}

var _ Store = (*MemoryStore)(nil)

// Get returns a copy of the user record.
func (s *MemoryStore) Get(userID string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	return u.clone(), nil
}

// Put stores a copy of the user record.
func (s *MemoryStore) Put(u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u.clone()
	return nil
}

// HasQuota reports whether the user can start another render.
func (s *MemoryStore) HasQuota(userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return false, ErrUserNotFound
	}
	if u.Privileged {
		return true, nil
	}
	return u.QuotaUsed < u.QuotaLimit, nil
}

// ConsumeQuota performs the conditional increment under the store lock.
func (s *MemoryStore) ConsumeQuota(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	if u.Privileged {
		return nil
	}
	if u.QuotaUsed >= u.QuotaLimit {
		return ErrQuotaExhausted
	}
	u.QuotaUsed++
	return nil
}

// AppendOutput appends to the user's media collection.
func (s *MemoryStore) AppendOutput(userID string, out Output) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.Media = append(u.Media, out)
	return nil
}

func (u *User) clone() *User {
	c := *u
	c.Media = make([]Output, len(u.Media))
	copy(c.Media, u.Media)
	return &c
}
