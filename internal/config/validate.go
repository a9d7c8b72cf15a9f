package config

import (
	"fmt"

	"github.com/flowkit/connector/internal/expr"
)

// validateComponent rejects a non-positive num_instances: there is no
// such thing as a zero- or negative-instance component, and silently
// coercing it to 1 would hide a config typo the operator should fix.
func validateComponent(comp Component) error {
	if comp.NumInstances <= 0 {
		return fmt.Errorf("component %q: num_instances must be >= 1, got %d", comp.Name, comp.NumInstances)
	}
	return nil
}

// validateFlow rejects a first component that explicitly selects
// "previous" as its input: there is no upstream hop to have set it.
func validateFlow(flow Flow) error {
	if len(flow.Components) == 0 {
		return nil
	}
	first := flow.Components[0]
	if e, ok := first.InputSelection.(expr.Expr); ok && e.Plane == expr.PlanePrevious {
		return fmt.Errorf("flow %q: first component %q cannot select input from previous (no upstream)", flow.Name, first.Name)
	}
	return nil
}

// validateApp enforces that a simplified app enabling request/reply has a
// broker connection to carry it, that every component expecting broker
// input declares at least one subscription, and that the app itself has
// a positive num_instances.
func validateApp(app App) error {
	if app.NumInstances <= 0 {
		return fmt.Errorf("app %q: num_instances must be >= 1, got %d", app.Name, app.NumInstances)
	}
	if app.Broker == nil {
		return nil
	}
	if app.Broker.RequestReplyEnabled && app.Broker.URL == "" {
		return fmt.Errorf("app %q: request_reply_enabled requires broker_url", app.Name)
	}
	if app.Broker.InputEnabled {
		for _, c := range app.Components {
			if c.Disabled {
				continue
			}
			if len(c.Subscriptions) == 0 {
				return fmt.Errorf("app %q: component %q requires subscriptions (broker input is enabled)", app.Name, c.Name)
			}
		}
	}
	return nil
}
