package pipeline

import (
	"fmt"
	"sort"
	"sync"
)

// Registry is a name -> constructor map populated at startup, mirroring
// original_source's PluginRegistry.register/create_instance.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
	meta         map[string]Metadata
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		constructors: make(map[string]Constructor),
		meta:         make(map[string]Metadata),
	}
}

// Register binds a plugin name to its constructor and static metadata.
// Re-registering the same name overwrites the previous binding.
func (r *Registry) Register(meta Metadata, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[meta.Name] = ctor
	r.meta[meta.Name] = meta
}

// Create instantiates a node by plugin name with its workflow-node config.
func (r *Registry) Create(name string, config map[string]any) (Node, error) {
	r.mu.RLock()
	ctor, ok := r.constructors[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown plugin %q", name)
	}
	return ctor(config)
}

// Metadata returns the registered metadata for a plugin name.
func (r *Registry) Metadata(name string) (Metadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.meta[name]
	return m, ok
}

// List returns all registered metadata sorted by SuggestedOrder.
func (r *Registry) List() []Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Metadata, 0, len(r.meta))
	for _, m := range r.meta {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SuggestedOrder < out[j].SuggestedOrder })
	return out
}
