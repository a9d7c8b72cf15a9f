package config

import (
	"fmt"

	"github.com/flowkit/connector/internal/config/invoke"
	"github.com/flowkit/connector/internal/expr"
)

// DeferredExpr is a captured evaluate_expression leaf: an expression and
// an optional coercion type, evaluated against a Message at the call
// site rather than at load time.
type DeferredExpr struct {
	Expr expr.Expr
	Type string
}

// InvokeSpec is a resolved invoke block: object/module name the call
// targets, the function or attribute to apply, and its arguments. Object
// and the argument slices may themselves contain DeferredExpr or
// DeferredInvoke values nested arbitrarily deep inside maps/slices.
type InvokeSpec struct {
	Module     string
	Object     any
	Function   string
	Attribute  string
	Positional []any
	Keyword    map[string]any
}

// DeferredInvoke is an invoke block that could not be called at load
// time because one of its arguments was itself deferred; it is called
// against a Message at the call site instead.
type DeferredInvoke struct {
	Spec     InvokeSpec
	Registry *invoke.Registry
}

// ResolveRawValue walks a parsed-YAML value (as produced by merging
// documents) replacing every invoke-shaped map with either its
// immediately-computed result (when none of its arguments are
// deferred) or a DeferredInvoke/DeferredExpr placeholder (when they
// are). Plain maps and sequences are walked recursively looking for
// nested invoke blocks; everything else passes through unchanged.
func ResolveRawValue(raw any, reg *invoke.Registry) (any, error) {
	switch v := raw.(type) {
	case map[string]any:
		if looksLikeInvoke(v) {
			return resolveInvokeBlock(v, reg)
		}
		out := make(map[string]any, len(v))
		for k, val := range v {
			rv, err := ResolveRawValue(val, reg)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = rv
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			rv, err := ResolveRawValue(val, reg)
			if err != nil {
				return nil, err
			}
			out[i] = rv
		}
		return out, nil
	default:
		return raw, nil
	}
}

func looksLikeInvoke(m map[string]any) bool {
	_, hasFn := m["function"]
	_, hasAttr := m["attribute"]
	return hasFn || hasAttr
}

func resolveInvokeBlock(m map[string]any, reg *invoke.Registry) (any, error) {
	function, _ := m["function"].(string)
	attribute, _ := m["attribute"].(string)
	module, _ := m["module"].(string)

	if function == "evaluate_expression" {
		return resolveEvaluateExpression(m)
	}

	var obj any
	if rawObj, ok := m["object"]; ok {
		resolvedObj, err := ResolveRawValue(rawObj, reg)
		if err != nil {
			return nil, fmt.Errorf("object: %w", err)
		}
		obj = resolvedObj
	}

	var positional []any
	keyword := map[string]any{}
	if rawParams, ok := m["params"].(map[string]any); ok {
		if p, ok := rawParams["positional"].([]any); ok {
			positional = make([]any, len(p))
			for i, raw := range p {
				rv, err := ResolveRawValue(raw, reg)
				if err != nil {
					return nil, fmt.Errorf("params.positional[%d]: %w", i, err)
				}
				positional[i] = rv
			}
		}
		if kw, ok := rawParams["keyword"].(map[string]any); ok {
			for k, raw := range kw {
				rv, err := ResolveRawValue(raw, reg)
				if err != nil {
					return nil, fmt.Errorf("params.keyword.%s: %w", k, err)
				}
				keyword[k] = rv
			}
		}
	}

	spec := InvokeSpec{
		Module:     module,
		Object:     obj,
		Function:   function,
		Attribute:  attribute,
		Positional: positional,
		Keyword:    keyword,
	}

	if containsDeferred(obj) || containsDeferred(positional) || containsDeferred(keyword) {
		return DeferredInvoke{Spec: spec, Registry: reg}, nil
	}
	return callInvoke(spec, reg, nil)
}

func resolveEvaluateExpression(m map[string]any) (any, error) {
	rawParams, _ := m["params"].(map[string]any)
	var positional []any
	var keyword map[string]any
	if rawParams != nil {
		positional, _ = rawParams["positional"].([]any)
		keyword, _ = rawParams["keyword"].(map[string]any)
	}
	if len(positional) == 0 {
		return nil, fmt.Errorf("evaluate_expression: requires an expression string argument")
	}
	rawExpr, ok := positional[0].(string)
	if !ok {
		return nil, fmt.Errorf("evaluate_expression: first argument must be a string")
	}
	e, err := expr.Parse(rawExpr)
	if err != nil {
		return nil, fmt.Errorf("evaluate_expression: %w", err)
	}
	typ := ""
	if len(positional) > 1 {
		typ, _ = positional[1].(string)
	}
	if keyword != nil {
		if t, ok := keyword["type"].(string); ok {
			typ = t
		}
	}
	return DeferredExpr{Expr: e, Type: typ}, nil
}

// containsDeferred reports whether v is, or (recursively, inside a map
// or slice) contains, a DeferredExpr or DeferredInvoke.
func containsDeferred(v any) bool {
	switch t := v.(type) {
	case DeferredExpr, DeferredInvoke:
		return true
	case map[string]any:
		for _, val := range t {
			if containsDeferred(val) {
				return true
			}
		}
		return false
	case []any:
		for _, val := range t {
			if containsDeferred(val) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// callInvoke performs the registry call (or attribute read) described by
// spec. ctx is nil for a load-time call (all arguments must already be
// concrete); a non-nil ctx additionally resolves any residual
// DeferredExpr/DeferredInvoke arguments against the current Message.
func callInvoke(spec InvokeSpec, reg *invoke.Registry, ctx *expr.Context) (any, error) {
	obj, err := ResolveConfigValue(ctx, spec.Object)
	if err != nil {
		return nil, fmt.Errorf("object: %w", err)
	}
	positional := make([]any, len(spec.Positional))
	for i, p := range spec.Positional {
		rv, err := ResolveConfigValue(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("positional[%d]: %w", i, err)
		}
		positional[i] = rv
	}
	keyword := make(map[string]any, len(spec.Keyword))
	for k, p := range spec.Keyword {
		rv, err := ResolveConfigValue(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("keyword.%s: %w", k, err)
		}
		keyword[k] = rv
	}

	if spec.Attribute != "" {
		return reg.Attribute(spec.Module, spec.Attribute, obj)
	}
	return reg.Call(spec.Module, spec.Function, obj, positional, keyword)
}

// ResolveConfigValue resolves node against ctx: DeferredExpr/DeferredInvoke
// leaves are evaluated/called, maps and slices are walked recursively, and
// anything else passes through unchanged. ctx may be nil for a static
// context; resolving a DeferredExpr or a Message-dependent DeferredInvoke
// against a nil ctx is an error.
func ResolveConfigValue(ctx *expr.Context, node any) (any, error) {
	switch v := node.(type) {
	case DeferredExpr:
		if ctx == nil {
			return nil, fmt.Errorf("config: evaluate_expression requires a message context")
		}
		raw, err := expr.Evaluate(ctx, v.Expr)
		if err != nil {
			return nil, err
		}
		return expr.Coerce(raw, v.Type)
	case DeferredInvoke:
		return callInvoke(v.Spec, v.Registry, ctx)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			rv, err := ResolveConfigValue(ctx, val)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = rv
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			rv, err := ResolveConfigValue(ctx, val)
			if err != nil {
				return nil, err
			}
			out[i] = rv
		}
		return out, nil
	default:
		return node, nil
	}
}
