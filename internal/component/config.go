package component

import (
	"github.com/flowkit/connector/internal/config"
	"github.com/flowkit/connector/internal/expr"
)

// GetConfig resolves key against, in order, the component's own
// component_config, the parent app's config, and finally def (the
// component class's own static default). The first of those three maps
// that contains key wins; def is returned verbatim if none do (it is
// not itself looked up by key). A deferred value found in either map
// (an evaluate_expression or invoke captured at load time) is resolved
// via config.ResolveConfigValue: an evaluate_expression with a nil ctx
// is an error, and an invoke with a nil ctx fails only if one of its
// arguments is an expression that needs a Message.
func (c *Component) GetConfig(ctx *expr.Context, key string, def any) (any, error) {
	if v, ok := c.ComponentConfig[key]; ok {
		return config.ResolveConfigValue(ctx, v)
	}
	if v, ok := c.AppConfig[key]; ok {
		return config.ResolveConfigValue(ctx, v)
	}
	return def, nil
}
