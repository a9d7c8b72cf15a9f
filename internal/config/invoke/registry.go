// Package invoke holds the string-keyed registry that backs config
// "invoke" blocks, the same module/class dispatch-by-name pattern the
// component runtime uses, applied to config-time object construction
// and function calls.
package invoke

import "fmt"

// Func is a registered callable. obj is the resolved "object" the call
// targets (nil when the invoke block has no object), positional and
// keyword carry the resolved "params".
type Func func(obj any, positional []any, keyword map[string]any) (any, error)

// Attr is a registered attribute reader.
type Attr func(obj any) (any, error)

// Registry maps "module.function"-style keys (or bare "function" when
// the invoke block omits module) to Go callables. It never does dynamic
// imports; every available callable must be registered up front.
type Registry struct {
	functions  map[string]Func
	attributes map[string]Attr
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		functions:  map[string]Func{},
		attributes: map[string]Attr{},
	}
}

// RegisterFunction binds name (either "function" or "module.function")
// to fn.
func (r *Registry) RegisterFunction(name string, fn Func) {
	r.functions[name] = fn
}

// RegisterAttribute binds name (either "attribute" or "module.attribute")
// to a reader.
func (r *Registry) RegisterAttribute(name string, fn Attr) {
	r.attributes[name] = fn
}

func qualify(module, name string) string {
	if module == "" {
		return name
	}
	return module + "." + name
}

// Call invokes the function registered for module.function (or bare
// function when module is empty).
func (r *Registry) Call(module, function string, obj any, positional []any, keyword map[string]any) (any, error) {
	key := qualify(module, function)
	fn, ok := r.functions[key]
	if !ok {
		return nil, fmt.Errorf("invoke: unknown function %q", key)
	}
	return fn(obj, positional, keyword)
}

// Attribute reads the attribute registered for module.attribute (or bare
// attribute when module is empty).
func (r *Registry) Attribute(module, attribute string, obj any) (any, error) {
	key := qualify(module, attribute)
	fn, ok := r.attributes[key]
	if !ok {
		return nil, fmt.Errorf("invoke: unknown attribute %q", key)
	}
	return fn(obj)
}
