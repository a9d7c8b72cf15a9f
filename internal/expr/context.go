package expr

import "fmt"

// Source is the minimal view of a Message (or message-like object) the
// expression engine needs. internal/message.Message implements this
// interface; expr does not import internal/message to avoid a cycle.
type Source interface {
	Payload() any
	Topic() string
	TopicLevels() []string
	UserProperties() map[string]any
	Previous() any
	SetPrevious(any)
	UserDataRegion(name string) any
	SetUserDataRegion(name string, value any)
}

// Context carries a Message plus the transform-local bindings (item,
// index, keyword_args, invoke_data, self) available while evaluating
// expressions inside a transform step or processing function.
type Context struct {
	Msg         Source
	Item        any
	HasItem     bool
	Index       int
	HasIndex    bool
	KeywordArgs map[string]any
	InvokeData  any
	Self        any
}

// NewContext builds a Context over a Message with no transform-local
// bindings set; suitable for input_selection and top-level config
// evaluate_expression evaluation.
func NewContext(msg Source) *Context {
	return &Context{Msg: msg}
}

// WithItem returns a copy of ctx with item/index bound, for use inside
// map/filter/reduce iteration.
func (c *Context) WithItem(item any, index int) *Context {
	cp := *c
	cp.Item = item
	cp.HasItem = true
	cp.Index = index
	cp.HasIndex = true
	return &cp
}

// WithKeywordArgs returns a copy of ctx with keyword_args bound, for use
// inside reduce/filter accumulator and predicate functions.
func (c *Context) WithKeywordArgs(kw map[string]any) *Context {
	cp := *c
	cp.KeywordArgs = kw
	return &cp
}

// Evaluate resolves e against ctx. Missing intermediate lookups return
// (nil, nil) rather than an error: lookups are always optional.
func Evaluate(ctx *Context, e Expr) (any, error) {
	switch e.Plane {
	case PlaneStatic:
		return e.Raw, nil
	case PlaneTemplate:
		return Render(ctx, e.Raw)
	case PlaneInput:
		return evaluateInputAlias(ctx, e.Path)
	case PlaneInputPayload:
		v, _ := navigate(ctx.Msg.Payload(), e.Path)
		return v, nil
	case PlaneInputTopic:
		if len(e.Path) == 0 {
			return ctx.Msg.Topic(), nil
		}
		return nil, nil
	case PlaneInputTopicLevels:
		levels := toAnySlice(ctx.Msg.TopicLevels())
		v, _ := navigate(levels, e.Path)
		return v, nil
	case PlaneInputUserProperties:
		v, _ := navigate(toAnyMap(ctx.Msg.UserProperties()), e.Path)
		return v, nil
	case PlanePrevious:
		v, _ := navigate(ctx.Msg.Previous(), e.Path)
		return v, nil
	case PlaneUserData:
		region := ctx.Msg.UserDataRegion(e.Region)
		v, _ := navigate(region, e.Path)
		return v, nil
	case PlaneItem:
		if !ctx.HasItem {
			return nil, nil
		}
		v, _ := navigate(ctx.Item, e.Path)
		return v, nil
	case PlaneIndex:
		if !ctx.HasIndex {
			return nil, nil
		}
		return ctx.Index, nil
	case PlaneKeywordArgs:
		v, _ := navigate(toAnyMap(ctx.KeywordArgs), e.Path)
		return v, nil
	case PlaneInvokeData:
		v, _ := navigate(ctx.InvokeData, e.Path)
		return v, nil
	case PlaneSelf:
		v, _ := navigate(ctx.Self, e.Path)
		return v, nil
	default:
		return nil, fmt.Errorf("expr: cannot evaluate plane %q", e.Plane)
	}
}

// evaluateInputAlias implements the bare "input[:path]" plane, which
// addresses a synthetic tree aliasing payload/topic/user_properties/
// topic_levels at their own keys.
func evaluateInputAlias(ctx *Context, path []string) (any, error) {
	if len(path) == 0 {
		return map[string]any{
			"payload":         ctx.Msg.Payload(),
			"topic":           ctx.Msg.Topic(),
			"topic_levels":    toAnySlice(ctx.Msg.TopicLevels()),
			"user_properties": toAnyMap(ctx.Msg.UserProperties()),
		}, nil
	}
	head, rest := path[0], path[1:]
	switch head {
	case "payload":
		v, _ := navigate(ctx.Msg.Payload(), rest)
		return v, nil
	case "topic":
		if len(rest) == 0 {
			return ctx.Msg.Topic(), nil
		}
		return nil, nil
	case "topic_levels":
		v, _ := navigate(toAnySlice(ctx.Msg.TopicLevels()), rest)
		return v, nil
	case "user_properties":
		v, _ := navigate(toAnyMap(ctx.Msg.UserProperties()), rest)
		return v, nil
	default:
		return nil, nil
	}
}

// Set resolves e to a location and stores value there. Only user_data.*
// and previous are writable; anything else is a programming error in the
// caller (config validation should never produce a transform whose dest
// is an input-* plane).
func Set(ctx *Context, e Expr, value any) error {
	if !e.Writable() {
		return fmt.Errorf("expr: plane %q is not writable", e.Plane)
	}
	switch e.Plane {
	case PlanePrevious:
		if len(e.Path) == 0 {
			ctx.Msg.SetPrevious(value)
			return nil
		}
		updated := setNavigate(ctx.Msg.Previous(), e.Path, value)
		ctx.Msg.SetPrevious(updated)
		return nil
	case PlaneUserData:
		region := ctx.Msg.UserDataRegion(e.Region)
		updated := setNavigate(region, e.Path, value)
		ctx.Msg.SetUserDataRegion(e.Region, updated)
		return nil
	default:
		return fmt.Errorf("expr: plane %q is not writable", e.Plane)
	}
}

func toAnySlice(s []string) []any {
	if s == nil {
		return nil
	}
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}

func toAnyMap(m map[string]any) map[string]any {
	return m
}
