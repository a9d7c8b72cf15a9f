// Package builtin registers the small set of component classes the
// runtime ships without any external configuration: a no-op
// pass-through, stdin/stdout I/O, a blocking delay, and a cache probe.
// They exist to make an end-to-end pipeline runnable out of the box and
// to exercise the timer/cache services the same way a real component
// would.
package builtin

import (
	"context"

	"github.com/flowkit/connector/internal/component"
	"github.com/flowkit/connector/internal/message"
)

// PassThrough returns its input data unchanged, the minimal component
// for wiring a flow together without doing anything to the Message.
type PassThrough struct{}

func newPassThrough(map[string]any, component.RuntimeServices) (component.Handler, error) {
	return PassThrough{}, nil
}

func (PassThrough) Invoke(_ context.Context, _ *message.Message, data any) (any, error) {
	return data, nil
}

// Register adds every built-in component class to reg.
func Register(reg *component.Registry) {
	reg.Register("pass_through", newPassThrough)
	reg.Register("stdin_input", newStdinInput)
	reg.Register("stdout_output", newStdoutOutput)
	reg.Register("delay", newDelay)
	reg.Register("noop_cache_probe", newNoopCacheProbe)
}
