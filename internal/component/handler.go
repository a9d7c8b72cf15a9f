package component

import (
	"context"

	"github.com/flowkit/connector/internal/message"
	"github.com/flowkit/connector/internal/timer"
)

// Handler is implemented by every component class. Invoke receives the
// Message and the value selected by input_selection (default: the
// previous hop's result) and returns the value to set as the new
// previous for downstream, or nil to produce no output. Invoke may call
// msg.Discard() to suppress output without that being treated as an
// error.
type Handler interface {
	Invoke(ctx context.Context, msg *message.Message, data any) (result any, err error)
}

// TimerHandler is implemented by component classes that register
// timers and need to react when they fire. Optional: a Handler that
// does not implement this simply ignores TIMER events.
type TimerHandler interface {
	HandleTimer(ctx context.Context, ev timer.Event) error
}

// CacheExpiryHandler is implemented by component classes that react to
// cache entry expiry/eviction. Optional.
type CacheExpiryHandler interface {
	HandleCacheExpiry(ctx context.Context, ev CacheExpiryEvent) error
}

// EventSource is implemented by input-stage component classes (broker
// input, stdin, timer-only sources) to source events externally instead
// of reading the component's own input queue. Implementations must
// register ack/nack callbacks on any Message they produce. ok is false
// once the source is exhausted and the worker should treat it as STOP.
type EventSource interface {
	GetNextEvent(ctx context.Context) (ev Event, ok bool, err error)
}

// Sender is implemented by output-stage component classes (broker
// output, stdout) to perform their external action instead of
// forwarding the Message to a downstream input queue.
type Sender interface {
	SendMessage(ctx context.Context, msg *message.Message) error
}
