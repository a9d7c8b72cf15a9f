package app

import (
	"sync"

	"github.com/flowkit/connector/internal/component"
	"github.com/flowkit/connector/internal/timer"
)

// TimerRegistry implements timer.Sink by forwarding each fired timer to
// the component that registered it, looked up by owner name. Exported
// so a connector sharing one timer.Service process-wide across every
// App can supply its own instance via Deps.Timers/RegisterTimerOwner;
// an App that owns its timer service privately builds one internally.
// Timer owners are component names, unique only within the registry
// that backs them — a connector-wide registry therefore needs app/
// instance-qualified component names, which is exactly what
// instanceSuffix already produces.
type TimerRegistry struct {
	mu      sync.RWMutex
	targets map[string]*component.Component
}

// NewTimerRegistry creates an empty registry.
func NewTimerRegistry() *TimerRegistry {
	return &TimerRegistry{targets: make(map[string]*component.Component)}
}

// Register associates owner (a component name) with the component that
// should receive its fired timers.
func (r *TimerRegistry) Register(owner string, c *component.Component) {
	r.mu.Lock()
	r.targets[owner] = c
	r.mu.Unlock()
}

// EnqueueTimer implements timer.Sink.
func (r *TimerRegistry) EnqueueTimer(owner string, ev timer.Event) {
	r.mu.RLock()
	target, ok := r.targets[owner]
	r.mu.RUnlock()
	if !ok {
		return
	}
	target.EnqueueTimer(owner, ev)
}
