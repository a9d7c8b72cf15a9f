package invoke

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// DefaultRegistry returns a Registry pre-populated with the small set of
// config-time helpers the connector itself relies on: reading the
// environment, joining strings, and a millisecond timestamp. Deployments
// wanting richer invoke targets (vector store clients, LLM SDKs, etc.)
// register additional functions on top of this one.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	r.RegisterFunction("env.get", func(_ any, positional []any, keyword map[string]any) (any, error) {
		name, ok := firstString(positional, keyword, "name")
		if !ok {
			return nil, fmt.Errorf("env.get: requires a name argument")
		}
		return os.Getenv(name), nil
	})

	r.RegisterFunction("strings.join", func(_ any, positional []any, keyword map[string]any) (any, error) {
		var parts []string
		for _, p := range positional {
			parts = append(parts, fmt.Sprintf("%v", p))
		}
		sep := ""
		if s, ok := keyword["sep"].(string); ok {
			sep = s
		}
		return strings.Join(parts, sep), nil
	})

	r.RegisterFunction("time.now_unix_ms", func(_ any, _ []any, _ map[string]any) (any, error) {
		return time.Now().UnixMilli(), nil
	})

	return r
}

func firstString(positional []any, keyword map[string]any, kwName string) (string, bool) {
	if len(positional) > 0 {
		if s, ok := positional[0].(string); ok {
			return s, true
		}
	}
	if v, ok := keyword[kwName]; ok {
		if s, ok := v.(string); ok {
			return s, true
		}
	}
	return "", false
}
