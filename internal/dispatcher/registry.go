// Package dispatcher calls tools on configured MCP backends over either a
// stdio child process or a streamable-HTTP session, normalizing whatever
// shape each backend returns into a uniform result.
package dispatcher

import (
	"sync"

	"github.com/nextlevelbuilder/goclaw-scheduler/internal/store"
)

// Registry holds the current set of known backends, keyed by name.
// Replace is called by the config hot-reload watcher when the backends
// override file changes.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]store.BackendSpec
}

// NewRegistry builds a Registry from an initial backend set.
func NewRegistry(specs []store.BackendSpec) *Registry {
	r := &Registry{backends: make(map[string]store.BackendSpec, len(specs))}
	r.Replace(specs)
	return r
}

// Get looks up a backend by exact name.
func (r *Registry) Get(name string) (store.BackendSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.backends[name]
	return spec, ok
}

// Replace swaps in a new backend set wholesale.
func (r *Registry) Replace(specs []store.BackendSpec) {
	next := make(map[string]store.BackendSpec, len(specs))
	for _, s := range specs {
		next[s.Name] = s
	}
	r.mu.Lock()
	r.backends = next
	r.mu.Unlock()
}

// Names returns the currently known backend names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.backends))
	for n := range r.backends {
		names = append(names, n)
	}
	return names
}
