// Package subrouter delivers an inbound Message to the first
// configured component whose subscription list matches its topic. It
// sits between a single broker input stage and multiple user
// components in a simplified app with more than one component.
package subrouter

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/flowkit/connector/internal/component"
	"github.com/flowkit/connector/internal/message"
	"github.com/flowkit/connector/internal/trace"
)

// ComponentRoute is one user component's subscription list, in the
// order components were declared in config.
type ComponentRoute struct {
	Name   string
	Topics []string // raw subscription filters, solace wildcard grammar
}

// Config configures a Router.
type Config struct {
	Routes []ComponentRoute
}

type compiledRoute struct {
	name     string
	patterns []*regexp.Regexp
}

// Router compiles each component's subscription list into regex
// patterns at construction time and, per Message, walks components in
// declared order delivering to the first whose subscription matches
// the topic. It never delivers to more than one component.
type Router struct {
	component.PassThroughHandler
	logger *slog.Logger
	trace  *trace.Bus
	routes []compiledRoute

	targets map[string]*component.Component

	mu       sync.RWMutex
	delivered map[string]int64
	dropped   int64
}

// New compiles cfg's routes. Targets maps each component name in cfg
// to the live *component.Component whose InputQueue receives matched
// Messages; it must contain every name listed in cfg.Routes.
func New(cfg Config, targets map[string]*component.Component, tr *trace.Bus, logger *slog.Logger) (*Router, error) {
	if logger == nil {
		logger = slog.Default()
	}
	routes := make([]compiledRoute, 0, len(cfg.Routes))
	for _, rt := range cfg.Routes {
		if _, ok := targets[rt.Name]; !ok {
			return nil, fmt.Errorf("subrouter: no target component registered for %q", rt.Name)
		}
		patterns := make([]*regexp.Regexp, 0, len(rt.Topics))
		for _, topic := range rt.Topics {
			re, err := compileTopicFilter(topic)
			if err != nil {
				return nil, fmt.Errorf("subrouter: component %q: %w", rt.Name, err)
			}
			patterns = append(patterns, re)
		}
		routes = append(routes, compiledRoute{name: rt.Name, patterns: patterns})
	}
	return &Router{
		logger:    logger,
		trace:     tr,
		routes:    routes,
		targets:   targets,
		delivered: make(map[string]int64),
	}, nil
}

// compileTopicFilter translates a solace-wildcard topic filter into an
// anchored regular expression: "*" matches exactly one topic level,
// ">" matches one or more trailing levels and must be the filter's
// last segment, "/" is the level separator, and any other segment
// matches itself literally.
func compileTopicFilter(filter string) (*regexp.Regexp, error) {
	segments := strings.Split(filter, "/")
	parts := make([]string, 0, len(segments))
	for i, seg := range segments {
		switch seg {
		case "*":
			parts = append(parts, `[^/]+`)
		case ">":
			if i != len(segments)-1 {
				return nil, fmt.Errorf("invalid topic filter %q: '>' must be the last segment", filter)
			}
			parts = append(parts, `[^/]+(?:/[^/]+)*`)
		default:
			parts = append(parts, regexp.QuoteMeta(seg))
		}
	}
	return regexp.Compile("^" + strings.Join(parts, "/") + "$")
}

// Route reports which component name (if any) matches topic, walking
// routes in declared order and returning on the first match.
func (r *Router) Route(topic string) (string, bool) {
	for _, rt := range r.routes {
		for _, p := range rt.patterns {
			if p.MatchString(topic) {
				return rt.name, true
			}
		}
	}
	return "", false
}

// SendMessage implements component.Sender: it delivers msg to the
// first matching component's input queue, or logs and acks (discarding
// the Message) if nothing matches, per "no match -> log and discard,
// still ack upstream."
func (r *Router) SendMessage(ctx context.Context, msg *message.Message) error {
	name, ok := r.Route(msg.Topic())
	if !ok {
		r.mu.Lock()
		r.dropped++
		r.mu.Unlock()
		r.logger.Warn("subrouter: no component subscription matched topic, discarding", "topic", msg.Topic())
		r.trace.Publish(trace.Event{Timestamp: time.Now(), Source: trace.SourceFlow, Kind: trace.KindComponentError,
			Data: map[string]any{"topic": msg.Topic(), "reason": "no_route"}})
		msg.CallAcknowledgements()
		return nil
	}

	r.mu.Lock()
	r.delivered[name]++
	r.mu.Unlock()

	target := r.targets[name]
	select {
	case target.InputQueue <- component.Event{Kind: component.KindMessage, Message: msg}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns delivery counts per component name and the count of
// messages dropped for having no matching route.
func (r *Router) Stats() (delivered map[string]int64, dropped int64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]int64, len(r.delivered))
	for k, v := range r.delivered {
		out[k] = v
	}
	return out, r.dropped
}
