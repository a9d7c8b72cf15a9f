package app

import (
	"sync"

	"github.com/flowkit/connector/internal/cache"
	"github.com/flowkit/connector/internal/component"
)

// CacheRegistry implements cache.Sink by forwarding each expired cache
// entry to the component that owns it, looked up by owner name. Mirrors
// TimerRegistry: a connector sharing one cache.Store process-wide
// across every App supplies this via Deps.Cache/Deps.RegisterCacheOwner.
type CacheRegistry struct {
	mu      sync.RWMutex
	targets map[string]*component.Component
}

// NewCacheRegistry creates an empty registry.
func NewCacheRegistry() *CacheRegistry {
	return &CacheRegistry{targets: make(map[string]*component.Component)}
}

// Register associates owner (a component name) with the component that
// should receive its CACHE_EXPIRY events.
func (r *CacheRegistry) Register(owner string, c *component.Component) {
	r.mu.Lock()
	r.targets[owner] = c
	r.mu.Unlock()
}

// EnqueueCacheExpiry implements cache.Sink.
func (r *CacheRegistry) EnqueueCacheExpiry(owner string, ev cache.Event) {
	r.mu.RLock()
	target, ok := r.targets[owner]
	r.mu.RUnlock()
	if !ok {
		return
	}
	target.EnqueueCacheExpiry(owner, ev)
}
