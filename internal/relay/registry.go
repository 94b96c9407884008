package relay

import (
	"sort"
	"sync"
)

// sessionKey identifies a registry entry. Names are unique per mode, so a
// relay and a transcode may share a name.
type sessionKey struct {
	mode Mode
	name string
}

// Registry maps session names to sessions. It is the only state shared
// between concurrent start, stop and teardown calls.
type Registry struct {
	mu       sync.RWMutex
	sessions map[sessionKey]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[sessionKey]*Session),
	}
}

// Register adds the session under its mode and name. Exactly one of several
// concurrent registrations for the same mode and name succeeds.
func (r *Registry) Register(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := sessionKey{mode: s.Mode, name: s.Name}
	if _, exists := r.sessions[key]; exists {
		return &DuplicateSessionError{Name: s.Name, Mode: s.Mode}
	}
	r.sessions[key] = s
	return nil
}

// Lookup returns the session registered under mode and name.
func (r *Registry) Lookup(mode Mode, name string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[sessionKey{mode: mode, name: name}]
	if !ok {
		return nil, &SessionNotFoundError{Name: name, Mode: mode}
	}
	return s, nil
}

// Remove deletes and returns the session registered under mode and name.
func (r *Registry) Remove(mode Mode, name string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := sessionKey{mode: mode, name: name}
	s, ok := r.sessions[key]
	if !ok {
		return nil, &SessionNotFoundError{Name: name, Mode: mode}
	}
	delete(r.sessions, key)
	return s, nil
}

// removeSession deletes the entry only if it still refers to s, so a
// teardown can never evict a newer session that reused the name.
func (r *Registry) removeSession(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := sessionKey{mode: s.Mode, name: s.Name}
	if cur, ok := r.sessions[key]; ok && cur == s {
		delete(r.sessions, key)
		return true
	}
	return false
}

// List returns the registered sessions sorted by name, relays before
// transcodes of the same name.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	list := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		list = append(list, s)
	}
	r.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		if list[i].Name != list[j].Name {
			return list[i].Name < list[j].Name
		}
		return list[i].Mode < list[j].Mode
	})
	return list
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
