package visit

import "sync"

// Registry maps destination identifiers to the restoration token of the
// page last rendered there. Last write wins; entries are only ever removed
// all at once by Clear.
type Registry struct {
	mu     sync.RWMutex
	tokens map[int]string
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tokens: make(map[int]string)}
}

// Put stores token for dest, overwriting any previous value.
func (r *Registry) Put(dest int, token string) {
	r.mu.Lock()
	r.tokens[dest] = token
	r.mu.Unlock()
}

// Get returns the token stored for dest, or "" when there is none.
func (r *Registry) Get(dest int) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tokens[dest]
}

// Len returns the number of destinations with a stored token.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tokens)
}

// Clear removes every entry.
func (r *Registry) Clear() {
	r.mu.Lock()
	clear(r.tokens)
	r.mu.Unlock()
}
