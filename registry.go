package bedrock

import (
	"fmt"
	"sync"
)

// ContextFactory builds a configured context owned by g.
type ContextFactory func(g *ContextGroup, cfg ContextConfig) (Context, error)

// Registry maps context type names used in configuration to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]ContextFactory
}

// NewRegistry returns a registry with the builtin types: "load_screen".
func NewRegistry() *Registry {
	r := &Registry{factories: map[string]ContextFactory{}}
	r.Register(LoadScreenType, newLoadScreenFromConfig)
	return r
}

// Register adds or replaces the factory for typ.
func (r *Registry) Register(typ string, f ContextFactory) {
	r.mu.Lock()
	r.factories[typ] = f
	r.mu.Unlock()
}

// Create builds the context described by cfg.
func (r *Registry) Create(g *ContextGroup, cfg ContextConfig) (Context, error) {
	r.mu.RLock()
	f, ok := r.factories[cfg.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("context %q: %w %q", cfg.Name, ErrUnknownContextType, cfg.Type)
	}
	c, err := f(g, cfg)
	if err != nil {
		return nil, fmt.Errorf("context %q: %w", cfg.Name, err)
	}
	return c, nil
}
