// Package registry holds the live session records of the broker together with
// the handle of the controller that drives each of them.
package registry

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/openclaw/wa-session-broker/internal/errors"
	"github.com/openclaw/wa-session-broker/internal/model"
)

var ErrHandleExists = errors.New("session already has a controller")

type entry[H any] struct {
	record    model.Session
	handle    H
	hasHandle bool
}

// Registry is safe for concurrent use. Records never leave it by reference:
// Get, List and Update hand out deep copies.
type Registry[H any] struct {
	mu      sync.RWMutex
	entries map[string]*entry[H]

	newID func() string
	now   func() time.Time
}

func New[H any]() *Registry[H] {
	return &Registry[H]{
		entries: make(map[string]*entry[H]),
		newID:   uuid.NewString,
		now:     time.Now,
	}
}

// Create allocates a fresh record in Initializing for ownerID.
func (r *Registry[H]) Create(ownerID string) model.Session {
	now := r.now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.newID()
	for r.entries[id] != nil {
		id = r.newID()
	}

	s := model.Session{
		ID:        id,
		OwnerID:   ownerID,
		State:     model.SessionStateInitializing,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.entries[id] = &entry[H]{record: s}
	return s.Clone()
}

// Insert adds an existing record, used when restoring persisted sessions.
// It reports false if the id is already taken.
func (r *Registry[H]) Insert(s model.Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.entries[s.ID] != nil {
		return false
	}
	r.entries[s.ID] = &entry[H]{record: s.Clone()}
	return true
}

func (r *Registry[H]) Get(id string) (model.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return model.Session{}, apperrors.SessionNotFound(id)
	}
	return e.record.Clone(), nil
}

// Update applies fn to a copy of the record and stores the copy only if fn
// succeeds. fn runs under the registry lock and must not call back into it.
func (r *Registry[H]) Update(id string, fn func(*model.Session) error) (model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return model.Session{}, apperrors.SessionNotFound(id)
	}

	next := e.record.Clone()
	if err := fn(&next); err != nil {
		return e.record.Clone(), err
	}
	next.ID = e.record.ID
	next.OwnerID = e.record.OwnerID
	next.UpdatedAt = r.now().UTC()

	e.record = next
	return next.Clone(), nil
}

// SetHandle attaches the controller of a session. A session gets at most one.
func (r *Registry[H]) SetHandle(id string, h H) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return apperrors.SessionNotFound(id)
	}
	if e.hasHandle {
		return ErrHandleExists
	}
	e.handle = h
	e.hasHandle = true
	return nil
}

func (r *Registry[H]) Handle(id string) (H, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok || !e.hasHandle {
		var zero H
		return zero, false
	}
	return e.handle, true
}

// Remove deletes the record and returns its handle, if any. Removing an
// unknown id is a no-op.
func (r *Registry[H]) Remove(id string) (H, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		var zero H
		return zero, false
	}
	delete(r.entries, id)
	return e.handle, e.hasHandle
}

// List returns snapshots ordered by creation time. An empty ownerID lists
// every session.
func (r *Registry[H]) List(ownerID string) []model.Session {
	r.mu.RLock()
	out := make([]model.Session, 0, len(r.entries))
	for _, e := range r.entries {
		if ownerID != "" && e.record.OwnerID != ownerID {
			continue
		}
		out = append(out, e.record.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Handles returns every attached controller handle.
func (r *Registry[H]) Handles() []H {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]H, 0, len(r.entries))
	for _, e := range r.entries {
		if e.hasHandle {
			out = append(out, e.handle)
		}
	}
	return out
}

func (r *Registry[H]) Counts() map[model.SessionState]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[model.SessionState]int)
	for _, e := range r.entries {
		counts[e.record.State]++
	}
	return counts
}

func (r *Registry[H]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
