package registry

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"
)

// Registry is a concurrency-safe identity to Session store. It performs no
// network I/O; callers copy what they need out of it and send afterwards.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	now      func() time.Time
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// Add registers s under its identity and stamps its connection time. It
// returns ErrDuplicateIdentity, leaving the existing session untouched, if the
// identity is already registered.
func (r *Registry) Add(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[s.identity]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateIdentity, s.identity)
	}
	s.connectedAt = r.now()
	r.sessions[s.identity] = s
	return nil
}

// Remove deletes identity and reports whether it was present. Removing an
// absent identity is a no-op.
func (r *Registry) Remove(identity string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[identity]; !ok {
		return false
	}
	delete(r.sessions, identity)
	return true
}

// RemoveSession deletes s only if it is still the session registered under
// its identity.
func (r *Registry) RemoveSession(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.sessions[s.identity]; !ok || current != s {
		return false
	}
	delete(r.sessions, s.identity)
	return true
}

// Get returns the session registered under identity.
func (r *Registry) Get(identity string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[identity]
	return s, ok
}

// Snapshot returns a sorted copy of the registered identities.
func (r *Registry) Snapshot() []string {
	r.mu.RLock()
	identities := lo.Keys(r.sessions)
	r.mu.RUnlock()

	slices.Sort(identities)
	return identities
}

// Sessions returns a copy of the registered sessions in no particular order.
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return lo.Values(r.sessions)
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.sessions)
}
