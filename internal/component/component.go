package component

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/flowkit/connector/internal/cache"
	"github.com/flowkit/connector/internal/connerr"
	"github.com/flowkit/connector/internal/expr"
	"github.com/flowkit/connector/internal/message"
	"github.com/flowkit/connector/internal/timer"
	"github.com/flowkit/connector/internal/trace"
	"github.com/flowkit/connector/internal/transform"
)

// stopDrainTimeout bounds how long Stop waits for an in-flight Message
// to finish after a STOP event has been accepted by a worker.
const stopDrainTimeout = 30 * time.Second

// Component is one stage of a flow: a bounded input queue shared by
// NumInstances worker goroutines running a Handler. Input stages supply
// an EventSource instead of reading InputQueue; output stages supply a
// Sender instead of forwarding to Downstream.
type Component struct {
	Name         string
	Handler      Handler
	NumInstances int

	// InstanceName, FlowName, and Index identify this component's
	// position for the error flow's "location" block; unset (empty
	// string / zero) components simply report less context.
	InstanceName string
	FlowName     string
	Index        int

	InputQueue chan Event
	Downstream *Component // nil: terminal stage (discard or external sink)

	InputTransforms []transform.Transform
	InputSelection  any // nil | expr.Expr | literal value, per config.Component.InputSelection

	ComponentConfig map[string]any
	AppConfig       map[string]any

	Source EventSource // non-nil for input stages
	Send   Sender      // non-nil for output stages

	Timers *timer.Service
	Trace  *trace.Bus
	Logger *slog.Logger

	// ErrorSink receives an Event describing a failed invoke/handler
	// call, to be delivered to the error flow's input queue. Nil means
	// errors are only logged and nacked, matching "if configured".
	ErrorSink func(Event)

	stopped  chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewInputQueue allocates the bounded channel workers share, sized to
// queue_depth.
func NewInputQueue(depth int) chan Event {
	if depth <= 0 {
		depth = 5
	}
	return make(chan Event, depth)
}

// EnqueueTimer implements timer.Sink: it delivers a fired timer onto
// this component's input queue as a TIMER event.
func (c *Component) EnqueueTimer(owner string, ev timer.Event) {
	if c.InputQueue == nil {
		return
	}
	c.InputQueue <- timerEvent(ev)
}

// EnqueueCacheExpiry implements cache.Sink: it delivers an expired
// cache entry onto this component's input queue as a CACHE_EXPIRY
// event.
func (c *Component) EnqueueCacheExpiry(owner string, ev cache.Event) {
	if c.InputQueue == nil {
		return
	}
	c.InputQueue <- Event{Kind: KindCacheExpiry, CacheExpiry: CacheExpiryEvent{
		Key: ev.Key, Metadata: ev.Metadata, ExpiredData: ev.ExpiredData,
	}}
}

// Start launches one worker goroutine per NumInstances. All workers
// for this component range over the same input queue (or the same
// EventSource), giving no ordering guarantee between siblings.
func (c *Component) Start(ctx context.Context) {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	c.stopped = make(chan struct{})
	for i := 0; i < c.NumInstances; i++ {
		c.wg.Add(1)
		go func(workerIdx int) {
			defer c.wg.Done()
			c.workerLoop(ctx, workerIdx)
		}(i)
	}
}

// RequestStop posts one STOP event per worker instance (so each
// sibling consumes exactly one and exits) without waiting for them to
// drain. Safe to call more than once.
func (c *Component) RequestStop() {
	c.stopOnce.Do(func() {
		if c.InputQueue != nil {
			for i := 0; i < c.NumInstances; i++ {
				c.InputQueue <- stopEvent()
			}
		}
	})
}

// Join waits for every worker to exit after RequestStop, bounded by
// stopDrainTimeout, then purges any timers this component owns.
func (c *Component) Join() {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(stopDrainTimeout):
		c.Logger.Warn("component stop timed out waiting for workers to drain", "component", c.Name)
	}
	if c.Timers != nil {
		c.Timers.PurgeOwner(c.Name)
	}
	if c.stopped != nil {
		close(c.stopped)
	}
}

// Stop requests a stop and joins, for standalone (non-Flow-managed) use.
func (c *Component) Stop() {
	c.RequestStop()
	c.Join()
}

func (c *Component) workerLoop(ctx context.Context, workerIdx int) {
	for {
		ev, ok, err := c.nextEvent(ctx)
		if err != nil {
			c.Logger.Error("get_next_event failed", "component", c.Name, "error", err)
			return
		}
		if !ok || ev.Kind == KindStop {
			return
		}

		switch ev.Kind {
		case KindMessage:
			c.handleMessage(ctx, ev.Message)
		case KindTimer:
			c.handleTimer(ctx, ev.Timer)
		case KindCacheExpiry:
			c.handleCacheExpiry(ctx, ev.CacheExpiry)
		}
	}
}

func (c *Component) nextEvent(ctx context.Context) (Event, bool, error) {
	if c.Source != nil {
		return c.Source.GetNextEvent(ctx)
	}
	select {
	case ev, ok := <-c.InputQueue:
		if !ok {
			return Event{}, false, nil
		}
		return ev, true, nil
	case <-ctx.Done():
		return Event{}, false, nil
	}
}

func (c *Component) handleTimer(ctx context.Context, ev timer.Event) {
	th, ok := c.Handler.(TimerHandler)
	if !ok {
		return
	}
	if err := th.HandleTimer(ctx, ev); err != nil {
		c.Logger.Error("timer handler failed", "component", c.Name, "timer_id", ev.TimerID, "error", err)
	}
	c.Trace.Publish(trace.Event{Timestamp: time.Now(), Source: trace.SourceTimer, Kind: trace.KindTimerFired,
		Data: map[string]any{"component": c.Name, "timer_id": ev.TimerID}})
}

func (c *Component) handleCacheExpiry(ctx context.Context, ev CacheExpiryEvent) {
	ch, ok := c.Handler.(CacheExpiryHandler)
	if !ok {
		return
	}
	if err := ch.HandleCacheExpiry(ctx, ev); err != nil {
		c.Logger.Error("cache expiry handler failed", "component", c.Name, "key", ev.Key, "error", err)
	}
}

func (c *Component) handleMessage(ctx context.Context, msg *message.Message) {
	exprCtx := expr.NewContext(msg)

	if err := transform.Apply(exprCtx, c.InputTransforms); err != nil {
		c.fail(msg, "input_transforms", connerr.NewTransformError(err))
		return
	}

	data, err := c.selectData(exprCtx, msg)
	if err != nil {
		c.fail(msg, "input_selection", connerr.NewTransformError(err))
		return
	}

	result, err := c.Handler.Invoke(ctx, msg, data)
	if err != nil {
		c.fail(msg, "invoke", connerr.NewInvokeError(err))
		return
	}

	c.Trace.Publish(trace.Event{Timestamp: time.Now(), Source: trace.SourceFlow, Kind: trace.KindMessageEnqueued,
		Data: map[string]any{"component": c.Name}})

	if msg.Discarded() || result == nil {
		msg.CallAcknowledgements()
		return
	}

	if results, ok := result.(IterationResults); ok {
		c.forwardIteration(ctx, msg, results)
		return
	}

	msg.SetPrevious(result)
	if err := c.forward(ctx, msg); err != nil {
		c.fail(msg, "send_message", err)
		return
	}
}

// forwardIteration implements the iterate pattern: a Handler signals it
// and clones the input Message once per result, joined through a shared
// IterationState so msg's own ack/nack fires exactly once, after every
// clone reaches a terminal disposition. An empty IterationResults acks
// msg immediately, matching the nil-result "no output" case.
func (c *Component) forwardIteration(ctx context.Context, msg *message.Message, results IterationResults) {
	if len(results) == 0 {
		msg.CallAcknowledgements()
		return
	}

	iter := message.NewIterationState(len(results), func(failed bool) {
		if failed {
			msg.CallNegativeAcknowledgements(message.NackInfo{Reason: "iteration", ExceptionKind: "IterationFailure"})
		} else {
			msg.CallAcknowledgements()
		}
	})

	for _, r := range results {
		clone := msg.Clone(iter)
		clone.SetPrevious(r)
		if err := c.forward(ctx, clone); err != nil {
			c.fail(clone, "send_message", err)
		}
	}
}

func (c *Component) selectData(ctx *expr.Context, msg *message.Message) (any, error) {
	switch sel := c.InputSelection.(type) {
	case nil:
		return msg.Previous(), nil
	case expr.Expr:
		return expr.Evaluate(ctx, sel)
	default:
		return sel, nil
	}
}

func (c *Component) forward(ctx context.Context, msg *message.Message) error {
	if c.Send != nil {
		return c.Send.SendMessage(ctx, msg)
	}
	if c.Downstream == nil {
		// Terminal stage with no sender override: nothing downstream to
		// receive the result, so the hop itself is the ack point.
		msg.CallAcknowledgements()
		return nil
	}
	c.Downstream.InputQueue <- messageEvent(msg)
	return nil
}

func (c *Component) fail(msg *message.Message, stage string, err error) {
	info := message.NackInfo{Reason: stage, ExceptionKind: fmt.Sprintf("%T", err), Err: err}
	msg.CallNegativeAcknowledgements(info)

	c.Trace.Publish(trace.Event{Timestamp: time.Now(), Source: trace.SourceFlow, Kind: trace.KindComponentError,
		Data: map[string]any{"component": c.Name, "stage": stage, "error": err.Error()}})

	c.Logger.Error("component invoke failed", "component", c.Name, "stage", stage, "error", err)

	if c.ErrorSink != nil {
		c.ErrorSink(messageEvent(c.errorFlowMessage(msg, stage, err)))
	}
}

// errorFlowMessage builds the error flow's input shape: the failing
// error plus a snapshot of the offending Message plus enough location
// context (instance/flow/component/index) to reconstruct the failure
// externally. It is a new Message, independent of msg (whose own
// nack/ack callbacks have already fired by the time this is built).
func (c *Component) errorFlowMessage(msg *message.Message, stage string, err error) *message.Message {
	payload := map[string]any{
		"error": map[string]any{
			"message":        err.Error(),
			"exception_kind": fmt.Sprintf("%T", err),
			"stage":          stage,
		},
		"message": map[string]any{
			"payload":         msg.Payload(),
			"topic":           msg.Topic(),
			"user_properties": msg.UserProperties(),
		},
		"location": map[string]any{
			"instance_name":   c.InstanceName,
			"flow_name":       c.FlowName,
			"component_name":  c.Name,
			"component_index": c.Index,
		},
	}
	return message.New(payload, msg.Topic(), nil)
}
