// Package hub tracks which named world server is currently reachable via the
// Registry, the single shared mutable structure in the core.
package hub

import "sync"

// Registry is a concurrency-safe mapping from world-server name to the live
// session currently registered under it. It is constructed per Hub instance,
// never shared through package state, and owns its own locking: callers may
// invoke any combination of its methods from any number of goroutines.
//
// The registry holds lookup-only references; it never closes a session and
// never decides policy for a displaced one.
type Registry struct {
	mu      sync.RWMutex
	servers map[string]*Session
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{servers: make(map[string]*Session)}
}

// Register installs s as the session reachable under name, unconditionally
// replacing any previous occupant (last registration wins). It returns the
// displaced session so the caller can apply its own policy, or nil if the
// name was free or already owned by s.
func (r *Registry) Register(name string, s *Session) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.servers[name]
	r.servers[name] = s
	if prev == s {
		return nil
	}
	return prev
}

// Lookup returns the session currently registered under name. Absence is a
// normal result, not an error: the world is simply not reachable right now.
func (r *Registry) Lookup(name string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.servers[name]
	return s, ok
}

// Unregister removes the entry for name only if it still points at expected.
// A closing session that has since been displaced by a newer registration
// under the same name must not evict the newer occupant; the compare step is
// what guarantees that. It reports whether removal occurred.
func (r *Registry) Unregister(name string, expected *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.servers[name]
	if !ok || cur != expected {
		return false
	}
	delete(r.servers, name)
	return true
}

// Names returns a snapshot of the currently reachable world-server names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.servers))
	for name := range r.servers {
		names = append(names, name)
	}
	return names
}

// Len returns the number of registered world servers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.servers)
}
