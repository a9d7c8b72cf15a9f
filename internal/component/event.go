// Package component implements the worker runtime shared by every
// component instance in a flow: a bounded input queue, one or more
// worker goroutines dispatching by event kind, input transforms and
// selection, invoke dispatch, and ack/nack/error-flow routing.
package component

import (
	"github.com/flowkit/connector/internal/message"
	"github.com/flowkit/connector/internal/timer"
)

// Kind identifies the variant carried by an Event.
type Kind int

const (
	KindMessage Kind = iota
	KindTimer
	KindCacheExpiry
	KindStop
)

// CacheExpiryEvent describes a cache entry that expired or was evicted.
type CacheExpiryEvent struct {
	Key         string
	Metadata    map[string]any
	ExpiredData any
}

// Event is the single unit dispatched by a worker's loop. Exactly one
// of Message/Timer/CacheExpiry is meaningful, selected by Kind; KindStop
// carries no payload.
type Event struct {
	Kind        Kind
	Message     *message.Message
	Timer       timer.Event
	CacheExpiry CacheExpiryEvent
}

func messageEvent(msg *message.Message) Event { return Event{Kind: KindMessage, Message: msg} }
func timerEvent(ev timer.Event) Event         { return Event{Kind: KindTimer, Timer: ev} }
func stopEvent() Event                        { return Event{Kind: KindStop} }
