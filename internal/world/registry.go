package world

import (
	"sync"
)

// Registry tracks loaded world runtimes by world id. Managers register
// runtimes on load; edit-resubmission paths look up the active
// subscribed instance so replies reach connected clients.
type Registry struct {
	mu       sync.RWMutex
	runtimes map[string]*Runtime
}

// NewRegistry creates an empty runtime registry.
func NewRegistry() *Registry {
	return &Registry{runtimes: make(map[string]*Runtime)}
}

// Put registers a runtime, replacing and closing any previous instance
// for the same world.
func (g *Registry) Put(r *Runtime) {
	g.mu.Lock()
	prev := g.runtimes[r.WorldID()]
	g.runtimes[r.WorldID()] = r
	g.mu.Unlock()
	if prev != nil && prev != r {
		prev.Close()
	}
}

// Get returns the loaded runtime for a world.
func (g *Registry) Get(worldID string) (*Runtime, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.runtimes[worldID]
	return r, ok
}

// GetActiveSubscribed returns the runtime only when at least one bus
// subscriber is attached, meaning a client is observing the world.
func (g *Registry) GetActiveSubscribed(worldID string) (*Runtime, bool) {
	r, ok := g.Get(worldID)
	if !ok || r.Emitter().SubscriberCount() == 0 {
		return nil, false
	}
	return r, true
}

// Remove unregisters and closes a world's runtime.
func (g *Registry) Remove(worldID string) {
	g.mu.Lock()
	r := g.runtimes[worldID]
	delete(g.runtimes, worldID)
	g.mu.Unlock()
	if r != nil {
		r.Close()
	}
}

// CloseAll shuts every runtime down. Used at process exit.
func (g *Registry) CloseAll() {
	g.mu.Lock()
	runtimes := g.runtimes
	g.runtimes = make(map[string]*Runtime)
	g.mu.Unlock()
	for _, r := range runtimes {
		r.Close()
	}
}
