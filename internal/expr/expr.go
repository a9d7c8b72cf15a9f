// Package expr implements the connector's data-access expression language:
// a short URL-like grammar "<plane>[:<path>]" that lets YAML configuration
// address a Message's fields without embedding code.
package expr

import (
	"fmt"
	"strconv"
	"strings"
)

// Plane identifies which region of a Message (or transform-local binding)
// an expression addresses.
type Plane string

const (
	PlaneInput               Plane = "input"
	PlaneInputPayload        Plane = "input.payload"
	PlaneInputTopic          Plane = "input.topic"
	PlaneInputTopicLevels    Plane = "input.topic_levels"
	PlaneInputUserProperties Plane = "input.user_properties"
	PlanePrevious            Plane = "previous"
	PlaneUserData            Plane = "user_data"
	PlaneStatic              Plane = "static"
	PlaneTemplate            Plane = "template"
	PlaneItem                Plane = "item"
	PlaneIndex               Plane = "index"
	PlaneKeywordArgs         Plane = "keyword_args"
	PlaneInvokeData          Plane = "invoke_data"
	PlaneSelf                Plane = "self"
)

// Expr is a parsed expression: a plane plus an optional dot-delimited path.
// For user_data the first path segment (if any) names the region; the
// remainder is navigation within it. For static/template the Raw field
// carries the literal/template text verbatim (it is never dot-split).
type Expr struct {
	Plane  Plane
	Region string // user_data region name, when Plane == PlaneUserData
	Path   []string
	Raw    string // literal value (static) or template source (template)
}

// Parse parses a raw expression string of the form "<plane>[:<path>]".
// Planes with a required literal body (static, template) consume
// everything after the first colon verbatim. All other planes split the
// remainder on '.' to form Path.
func Parse(raw string) (Expr, error) {
	if raw == "" {
		return Expr{}, fmt.Errorf("expr: empty expression")
	}

	planePart := raw
	rest := ""
	if idx := strings.Index(raw, ":"); idx >= 0 {
		planePart = raw[:idx]
		rest = raw[idx+1:]
	}

	switch Plane(planePart) {
	case PlaneStatic:
		return Expr{Plane: PlaneStatic, Raw: rest}, nil
	case PlaneTemplate:
		return Expr{Plane: PlaneTemplate, Raw: rest}, nil
	case PlaneInput, PlaneInputPayload, PlaneInputTopic, PlaneInputTopicLevels,
		PlaneInputUserProperties, PlanePrevious, PlaneItem, PlaneIndex,
		PlaneKeywordArgs, PlaneInvokeData, PlaneSelf:
		return Expr{Plane: Plane(planePart), Path: splitPath(rest)}, nil
	default:
		if strings.HasPrefix(planePart, "user_data.") {
			region := strings.TrimPrefix(planePart, "user_data.")
			return Expr{Plane: PlaneUserData, Region: region, Path: splitPath(rest)}, nil
		}
		return Expr{}, fmt.Errorf("expr: unknown plane %q in expression %q", planePart, raw)
	}
}

// MustParse is Parse but panics on error; useful for built-in constant
// expressions inside component code.
func MustParse(raw string) Expr {
	e, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return e
}

func splitPath(rest string) []string {
	if rest == "" {
		return nil
	}
	return strings.Split(rest, ".")
}

// Writable reports whether Set is permitted against this plane: only
// user_data.* and (transform-time) previous are writable.
func (e Expr) Writable() bool {
	return e.Plane == PlaneUserData || e.Plane == PlanePrevious
}

// navigate walks a path of dot-delimited segments through a structured
// value. Integer segments index ordered sequences ([]any); other segments
// index mappings (map[string]any). A missing intermediate step returns
// (nil, false) rather than an error — lookups are always optional.
func navigate(root any, path []string) (any, bool) {
	cur := root
	for _, seg := range path {
		if cur == nil {
			return nil, false
		}
		if idx, err := strconv.Atoi(seg); err == nil {
			seq, ok := cur.([]any)
			if !ok || idx < 0 || idx >= len(seq) {
				return nil, false
			}
			cur = seq[idx]
			continue
		}
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, present := m[seg]
		if !present {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

// setNavigate walks path through root, creating missing map/sequence
// nodes on demand, and returns the (possibly new) root container with
// value stored at the final segment. Go maps and slices can't be mutated
// through a stable pointer chain, so each level returns its replacement
// and the caller re-stores it into its own parent.
func setNavigate(root any, path []string, value any) any {
	if len(path) == 0 {
		return value
	}
	seg, rest := path[0], path[1:]

	if idx, ok := parseIndex(seg); ok {
		seq, _ := root.([]any)
		for len(seq) <= idx {
			seq = append(seq, nil)
		}
		seq[idx] = setNavigate(seq[idx], rest, value)
		return seq
	}

	m, ok := root.(map[string]any)
	if !ok || m == nil {
		m = map[string]any{}
	}
	m[seg] = setNavigate(m[seg], rest, value)
	return m
}

func parseIndex(seg string) (int, bool) {
	idx, err := strconv.Atoi(seg)
	if err != nil {
		return 0, false
	}
	return idx, true
}
