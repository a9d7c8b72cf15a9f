// Package flow wires an ordered list of component groups into a single
// pipeline and manages their start/stop lifecycle together.
package flow

import (
	"context"

	"github.com/flowkit/connector/internal/component"
)

// Flow owns an ordered list of component groups; group i's output
// target is group i+1's input queue. The first group has no upstream
// queue (it is either an input stage with its own EventSource, or reads
// from a queue the caller wires externally); the last group's output is
// either a real sink (a Sender override) or discarded.
type Flow struct {
	Name       string
	Components []*component.Component
	TraceLevel string
}

// New wires Components[i].Downstream = Components[i+1] for every
// adjacent pair that doesn't already have a Downstream or Send set
// (wiring the caller set before New wins), and returns the Flow.
func New(name string, components []*component.Component) *Flow {
	for i := 0; i < len(components)-1; i++ {
		if components[i].Downstream == nil && components[i].Send == nil {
			components[i].Downstream = components[i+1]
		}
	}
	return &Flow{Name: name, Components: components}
}

// Start launches every component group's workers, first group first.
func (f *Flow) Start(ctx context.Context) {
	for _, c := range f.Components {
		c.Start(ctx)
	}
}

// Stop posts STOP to every group's queue up front, then joins the
// groups in reverse order so a downstream group fully drains before an
// upstream group is considered stopped.
func (f *Flow) Stop() {
	for _, c := range f.Components {
		c.RequestStop()
	}
	for i := len(f.Components) - 1; i >= 0; i-- {
		f.Components[i].Join()
	}
}
