package expr

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// placeholder describes one {{encoding://inner}} match found while
// scanning a template string.
type placeholder struct {
	start, end int // byte offsets of the whole "{{...}}" span
	encoding   string
	inner      string
}

// Render evaluates a template string, substituting each
// {{<encoding>://<inner-expression>}} placeholder left-to-right with the
// encoded textualization of evaluating inner as an expression against
// ctx. Rendering an absent value yields the empty string. Unrecognized
// text outside placeholders passes through unchanged.
func Render(ctx *Context, tmpl string) (string, error) {
	var b strings.Builder
	pos := 0
	for {
		ph, ok := nextPlaceholder(tmpl, pos)
		if !ok {
			b.WriteString(tmpl[pos:])
			break
		}
		b.WriteString(tmpl[pos:ph.start])

		inner, err := Parse(ph.inner)
		if err != nil {
			return "", fmt.Errorf("expr: template placeholder %q: %w", tmpl[ph.start:ph.end], err)
		}
		val, err := Evaluate(ctx, inner)
		if err != nil {
			return "", fmt.Errorf("expr: template placeholder %q: %w", tmpl[ph.start:ph.end], err)
		}

		text, err := encode(ph.encoding, val)
		if err != nil {
			return "", fmt.Errorf("expr: template placeholder %q: %w", tmpl[ph.start:ph.end], err)
		}
		b.WriteString(text)

		pos = ph.end
	}
	return b.String(), nil
}

// nextPlaceholder finds the next "{{encoding://inner}}" occurrence at or
// after pos. The encoding is everything between "{{" and "://"; if no
// "://" appears before the closing "}}", the default encoding "text" is
// assumed and the whole span between the braces is the inner expression.
func nextPlaceholder(tmpl string, pos int) (placeholder, bool) {
	open := strings.Index(tmpl[pos:], "{{")
	if open < 0 {
		return placeholder{}, false
	}
	open += pos
	close := strings.Index(tmpl[open:], "}}")
	if close < 0 {
		return placeholder{}, false
	}
	close += open
	body := tmpl[open+2 : close]

	encoding := "text"
	inner := body
	if idx := strings.Index(body, "://"); idx >= 0 {
		encoding = body[:idx]
		inner = body[idx+3:]
	}
	return placeholder{start: open, end: close + 2, encoding: encoding, inner: inner}, true
}

func encode(encoding string, val any) (string, error) {
	switch {
	case encoding == "text":
		return toText(val), nil
	case encoding == "json":
		if val == nil {
			return "null", nil
		}
		b, err := json.Marshal(val)
		if err != nil {
			return "", err
		}
		return string(b), nil
	case encoding == "yaml":
		b, err := yaml.Marshal(val)
		if err != nil {
			return "", err
		}
		return strings.TrimRight(string(b), "\n"), nil
	case encoding == "base64":
		return base64.StdEncoding.EncodeToString([]byte(toText(val))), nil
	case strings.HasPrefix(encoding, "datauri:"):
		mime := strings.TrimPrefix(encoding, "datauri:")
		payload := base64.StdEncoding.EncodeToString([]byte(toText(val)))
		return fmt.Sprintf("data:%s;base64,%s", mime, payload), nil
	default:
		return "", fmt.Errorf("unknown template encoding %q", encoding)
	}
}

// toText renders an absent value as empty string and anything else via
// its natural string form; this is the default "text" encoding.
func toText(val any) string {
	switch v := val.(type) {
	case nil:
		return ""
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Coerce converts val to the requested type for evaluate_expression's
// optional <type> qualifier (int, float, bool, string). An empty typ is
// a no-op. Coercion failures return an error rather than silently
// truncating, since this only runs at explicit config request.
func Coerce(val any, typ string) (any, error) {
	switch typ {
	case "", "any":
		return val, nil
	case "string":
		return toText(val), nil
	case "int":
		switch v := val.(type) {
		case nil:
			return 0, nil
		case int:
			return v, nil
		case int64:
			return int(v), nil
		case float64:
			return int(v), nil
		case string:
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return nil, fmt.Errorf("expr: cannot coerce %q to int: %w", v, err)
			}
			return n, nil
		case bool:
			if v {
				return 1, nil
			}
			return 0, nil
		default:
			return nil, fmt.Errorf("expr: cannot coerce %T to int", val)
		}
	case "float":
		switch v := val.(type) {
		case nil:
			return 0.0, nil
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return nil, fmt.Errorf("expr: cannot coerce %q to float: %w", v, err)
			}
			return f, nil
		default:
			return nil, fmt.Errorf("expr: cannot coerce %T to float", val)
		}
	case "bool":
		switch v := val.(type) {
		case nil:
			return false, nil
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return nil, fmt.Errorf("expr: cannot coerce %q to bool: %w", v, err)
			}
			return b, nil
		default:
			return nil, fmt.Errorf("expr: cannot coerce %T to bool", val)
		}
	default:
		return nil, fmt.Errorf("expr: unknown coercion type %q", typ)
	}
}
