package runtime

import (
	"sort"
	"sync"

	"github.com/wippyai/wasmbridge/errors"
)

// Registry maps session ids to live sessions. Ids being loaded are
// reserved so a second load of the same id fails early, but reserved ids
// are invisible to Get until Insert publishes the session.
type Registry struct {
	sessions map[int64]*Session
	pending  map[int64]struct{}
	mu       sync.RWMutex
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[int64]*Session),
		pending:  make(map[int64]struct{}),
	}
}

// Reserve claims id for a load in progress.
func (r *Registry) Reserve(id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; ok {
		return errors.AlreadyExists(id)
	}
	if _, ok := r.pending[id]; ok {
		return errors.AlreadyExists(id)
	}
	r.pending[id] = struct{}{}
	return nil
}

// Release drops a reservation after a failed load.
func (r *Registry) Release(id int64) {
	r.mu.Lock()
	delete(r.pending, id)
	r.mu.Unlock()
}

// Insert publishes s, consuming its reservation if any.
func (r *Registry) Insert(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.id]; ok {
		return errors.AlreadyExists(s.id)
	}
	delete(r.pending, s.id)
	r.sessions[s.id] = s
	return nil
}

// Get returns the live session for id. The reference must not be retained
// beyond the operation that obtained it.
func (r *Registry) Get(id int64) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, errors.UnknownSession(errors.PhaseRegistry, id)
	}
	return s, nil
}

// Remove unpublishes id and returns the session for teardown.
func (r *Registry) Remove(id int64) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, errors.UnknownSession(errors.PhaseRegistry, id)
	}
	delete(r.sessions, id)
	return s, nil
}

// IDs returns the live session ids in ascending order.
func (r *Registry) IDs() []int64 {
	r.mu.RLock()
	ids := make([]int64, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
