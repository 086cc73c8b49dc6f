// Package toolbridge implements the XML fallback protocol for models
// without native function calling: a request-side instruction formatter and
// a response-side parser that turns <tool><param>…</param></tool> spans back
// into tool_use content blocks.
package toolbridge

import (
	"sort"
	"sync"
)

// Registry is the mutable set of tool names shared by the formatter and the
// parser. The parser only treats tags whose name is registered as tool
// invocations; everything else stays text.
type Registry struct {
	mu    sync.RWMutex
	names map[string]struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{names: make(map[string]struct{})}
}

// Register adds tool names. Duplicates are fine.
func (r *Registry) Register(names ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range names {
		if name != "" {
			r.names[name] = struct{}{}
		}
	}
}

// Clear removes every registered name.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = make(map[string]struct{})
}

// Contains reports whether name is a registered tool.
func (r *Registry) Contains(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.names[name]
	return ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.names))
	for name := range r.names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
