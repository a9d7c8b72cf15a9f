package component

import (
	"fmt"
	"log/slog"

	"github.com/flowkit/connector/internal/cache"
	"github.com/flowkit/connector/internal/timer"
	"github.com/flowkit/connector/internal/trace"
)

// RuntimeServices is the explicit dependency-injection handle passed to
// every Factory at construction time, in place of process-wide
// singletons: the shared timer service and cache store, this
// component's own name (the owner key those services key state under),
// the trace bus, and a logger.
type RuntimeServices struct {
	ComponentName string
	Timers        *timer.Service
	Cache         cache.Store
	Trace         *trace.Bus
	Logger        *slog.Logger
}

// Factory constructs a Handler for a component class, given that
// component's resolved static config (component_config merged with any
// class-level defaults the factory wants to apply itself) and the
// runtime services it may need (timers, cache).
type Factory func(config map[string]any, services RuntimeServices) (Handler, error)

// Registry maps component_module/component_class names (as they
// appear in a flow's component configuration) to Factory constructors.
// Mirrors the flat string-keyed dispatch used for invoke blocks
// (internal/config/invoke.Registry) and, before that, the teacher's
// internal/tools.Registry.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates an empty component class registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds or replaces the factory for a component class name.
func (r *Registry) Register(class string, f Factory) {
	r.factories[class] = f
}

// Build constructs a Handler for class using the given component
// config and runtime services. Returns an error if class was never
// registered.
func (r *Registry) Build(class string, config map[string]any, services RuntimeServices) (Handler, error) {
	f, ok := r.factories[class]
	if !ok {
		return nil, fmt.Errorf("component: unknown component class %q", class)
	}
	return f(config, services)
}

// Classes returns the registered class names, for diagnostics.
func (r *Registry) Classes() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}
