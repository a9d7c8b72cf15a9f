// Package trace provides the process-wide operational event bus used to
// observe a running connector: component input/output, broker
// publish/receive, timer fires, and cache expirations, exposed over a
// websocket endpoint for live inspection and optionally teed to a file.
package trace

import (
	"sync"
	"time"
)

// Source constants identify which subsystem published an event.
const (
	SourceFlow    = "flow"
	SourceBroker  = "broker"
	SourceTimer   = "timer"
	SourceCache   = "cache"
	SourceRequest = "request_reply"
)

// Kind constants describe the type of event within a source.
const (
	// KindMessageEnqueued signals that a component's handler accepted a
	// message (published after a successful Invoke). Data: component.
	KindMessageEnqueued = "message_enqueued"
	// KindMessageAcked signals a message was acknowledged by a component.
	// Data: app, flow, component.
	KindMessageAcked = "message_acked"
	// KindMessageNacked signals a message was negatively acknowledged.
	// Data: app, flow, component, reason.
	KindMessageNacked = "message_nacked"
	// KindComponentError signals a processing failure. Data: component,
	// stage, error from the component runtime; topic, reason (and error
	// for decode failures) from the broker input and subscription router.
	KindComponentError = "component_error"
	// KindTimerFired signals a registered timer fired.
	// Data: component, timer_id.
	KindTimerFired = "timer_fired"
	// KindCacheExpiry signals a cache entry expired or was evicted.
	// Data: key.
	KindCacheExpiry = "cache_expiry"
	// KindBrokerPublish signals an outbound broker publish.
	// Data: topic, plus correlation for request/reply requests.
	KindBrokerPublish = "broker_publish"
	// KindBrokerReceive signals an inbound broker message.
	// Data: topic, queue.
	KindBrokerReceive = "broker_receive"
)

// Event represents a single operational event published by a subsystem.
type Event struct {
	Timestamp time.Time      `json:"ts"`
	Source    string         `json:"source"`
	Kind      string         `json:"kind"`
	Data      map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast event bus. Subscribers receive events
// on buffered channels; slow subscribers miss events rather than
// blocking publishers. Calling Publish on a nil *Bus is a no-op, so
// components that hold an optional trace bus do not need guard checks.
type Bus struct {
	mu         sync.RWMutex
	subs       map[chan Event]struct{}
	recvToSend map[<-chan Event]chan Event
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
	}
}

// Publish sends an event to all subscribers. Non-blocking: if a
// subscriber's channel is full, the event is dropped for that
// subscriber. Safe to call on a nil receiver.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe returns a channel that receives published events. The
// caller must eventually call Unsubscribe to avoid resource leaks.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes the channel. Safe to
// call with a channel that is already unsubscribed.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
