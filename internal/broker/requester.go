package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowkit/connector/internal/connerr"
	"github.com/flowkit/connector/internal/expr"
	"github.com/flowkit/connector/internal/message"
	"github.com/flowkit/connector/internal/trace"
)

// requestState is the per-correlation state machine: OPEN → COMPLETED
// | EXPIRED | CANCELLED, per spec.md §4.11.
type requestState int

const (
	stateOpen requestState = iota
	stateCompleted
	stateExpired
	stateCancelled
)

// RequesterConfig configures the requester side of broker
// request/reply per spec.md §4.11.
type RequesterConfig struct {
	ResponseTopicPrefix   string
	UserPropReplyTopicKey string
	UserPropReplyMetaKey  string
	RequestExpiry         time.Duration
	PayloadEncoding       PayloadEncoding
	PayloadFormat         PayloadFormat
}

// DoOptions customizes one request/reply call.
type DoOptions struct {
	// Metadata is written into the outgoing request's
	// UserPropReplyMetaKey user property; the requester does not
	// interpret it or read it back from replies.
	Metadata map[string]any
	// StreamingCompleteExpression is used by DoStream: each reply is
	// yielded as (chunk, is_last), where is_last is the expression
	// evaluated truthy against that reply. When nil, no chunk is marked
	// last.
	StreamingCompleteExpression *expr.Expr
}

type pendingRequest struct {
	mu      sync.Mutex
	state   requestState
	replyCh chan *message.Message
	errCh   chan error
}

// Requester implements the do_request / do_broker_request_response
// side of broker request/reply. It owns a dedicated Connection (not
// shared with a broker input/output pair) used solely for publishing
// requests and receiving replies on dynamically subscribed reply
// topics.
type Requester struct {
	Conn   Connection
	Config RequesterConfig
	Trace  *trace.Bus
	Logger *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingRequest
	started bool
}

// Start launches the background goroutine that dispatches replies on
// Conn's receive channel to pending requests by correlation id. Must
// be called once before Do/DoStream.
func (r *Requester) Start(ctx context.Context) {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.pending = make(map[string]*pendingRequest)
	if r.Logger == nil {
		r.Logger = slog.Default()
	}
	r.mu.Unlock()

	go r.dispatchLoop(ctx)
}

func (r *Requester) dispatchLoop(ctx context.Context) {
	for {
		select {
		case raw, ok := <-r.Conn.Receive():
			if !ok {
				return
			}
			r.handleReply(raw)
		case <-ctx.Done():
			r.cancelAllPending()
			return
		}
	}
}

func (r *Requester) handleReply(raw RawMessage) {
	correlation := correlationFromTopic(raw.Topic, r.Config.ResponseTopicPrefix)
	if correlation == "" {
		return
	}

	r.mu.Lock()
	pr, ok := r.pending[correlation]
	r.mu.Unlock()
	if !ok {
		r.Logger.Warn("broker requester: reply for unknown correlation dropped", "correlation", correlation, "topic", raw.Topic)
		return
	}

	pr.mu.Lock()
	if pr.state != stateOpen {
		pr.mu.Unlock()
		r.Logger.Debug("broker requester: reply for already-terminal correlation dropped", "correlation", correlation)
		if raw.Ack != nil {
			raw.Ack()
		}
		return
	}
	pr.mu.Unlock()

	payload, err := DecodePayload(raw.Payload, r.Config.PayloadEncoding, r.Config.PayloadFormat)
	if err != nil {
		pr.errCh <- fmt.Errorf("broker requester: decode reply: %w", err)
		if raw.Nack != nil {
			raw.Nack(err.Error())
		}
		return
	}

	reply := message.New(payload, raw.Topic, raw.UserProperties)
	if raw.Ack != nil {
		raw.Ack()
	}
	pr.replyCh <- reply
}

func correlationFromTopic(topic, prefix string) string {
	want := prefix + "/"
	if len(topic) <= len(want) || topic[:len(want)] != want {
		return ""
	}
	return topic[len(want):]
}

func (r *Requester) cancelAllPending() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, pr := range r.pending {
		pr.mu.Lock()
		if pr.state == stateOpen {
			pr.state = stateCancelled
			pr.errCh <- fmt.Errorf("broker requester: cancelled")
		}
		pr.mu.Unlock()
	}
}

// Do sends msg to its topic and blocks for a single reply, per §4.11
// "non-stream mode return the reply Message and move to COMPLETED."
func (r *Requester) Do(ctx context.Context, msg *message.Message, opts DoOptions) (*message.Message, error) {
	pr, correlation, err := r.open(ctx, msg, opts)
	if err != nil {
		return nil, err
	}
	defer r.teardown(correlation)

	select {
	case reply := <-pr.replyCh:
		r.complete(pr)
		return reply, nil
	case err := <-pr.errCh:
		return nil, err
	case <-time.After(r.Config.RequestExpiry):
		r.expire(pr, correlation)
		return nil, connerr.NewRequestTimeout(fmt.Errorf("broker requester: request %s expired after %s", correlation, r.Config.RequestExpiry))
	case <-ctx.Done():
		r.cancel(pr)
		return nil, ctx.Err()
	}
}

// Chunk is one reply in a streaming do_broker_request_response call.
type Chunk struct {
	Message *message.Message
	IsLast  bool
}

// Iterator yields successive Chunks from a streaming request.
type Iterator interface {
	Next(ctx context.Context) (Chunk, error)
}

type streamIterator struct {
	r            *Requester
	pr           *pendingRequest
	correlation  string
	completeExpr *expr.Expr
	done         bool
}

func (it *streamIterator) Next(ctx context.Context) (Chunk, error) {
	if it.done {
		return Chunk{}, fmt.Errorf("broker requester: iterator already terminated")
	}
	select {
	case reply := <-it.pr.replyCh:
		isLast, err := it.evaluateComplete(reply)
		if err != nil {
			it.done = true
			it.r.teardown(it.correlation)
			return Chunk{}, err
		}
		if isLast {
			it.done = true
			it.r.complete(it.pr)
			it.r.teardown(it.correlation)
		}
		return Chunk{Message: reply, IsLast: isLast}, nil
	case err := <-it.pr.errCh:
		it.done = true
		it.r.teardown(it.correlation)
		return Chunk{}, err
	case <-time.After(it.r.Config.RequestExpiry):
		it.done = true
		it.r.expire(it.pr, it.correlation)
		return Chunk{}, connerr.NewRequestTimeout(fmt.Errorf("broker requester: stream %s expired", it.correlation))
	case <-ctx.Done():
		it.done = true
		it.r.cancel(it.pr)
		it.r.teardown(it.correlation)
		return Chunk{}, ctx.Err()
	}
}

func (it *streamIterator) evaluateComplete(reply *message.Message) (bool, error) {
	if it.completeExpr == nil {
		return false, nil
	}
	v, err := expr.Evaluate(expr.NewContext(reply), *it.completeExpr)
	if err != nil {
		return false, err
	}
	return truthy(v), nil
}

// DoStream sends msg and returns an Iterator yielding (chunk, is_last)
// pairs, per §4.11 "in stream mode yield (reply, is_last)."
func (r *Requester) DoStream(ctx context.Context, msg *message.Message, opts DoOptions) (Iterator, error) {
	pr, correlation, err := r.open(ctx, msg, opts)
	if err != nil {
		return nil, err
	}
	return &streamIterator{r: r, pr: pr, correlation: correlation, completeExpr: opts.StreamingCompleteExpression}, nil
}

func (r *Requester) open(ctx context.Context, msg *message.Message, opts DoOptions) (*pendingRequest, string, error) {
	correlation := uuid.NewString()
	replyTopic := r.Config.ResponseTopicPrefix + "/" + correlation

	if err := r.Conn.Subscribe(ctx, Subscription{Topic: replyTopic, QoS: 1}); err != nil {
		return nil, "", fmt.Errorf("broker requester: subscribe reply topic %s: %w", replyTopic, err)
	}

	pr := &pendingRequest{
		state:   stateOpen,
		replyCh: make(chan *message.Message, 1),
		errCh:   make(chan error, 1),
	}
	r.mu.Lock()
	r.pending[correlation] = pr
	r.mu.Unlock()

	props := mergeUserProperties(msg.UserProperties(), map[string]any{
		r.Config.UserPropReplyTopicKey: replyTopic,
	})
	if opts.Metadata != nil {
		props[r.Config.UserPropReplyMetaKey] = opts.Metadata
	}

	encoded, err := EncodePayload(msg.Payload(), r.Config.PayloadEncoding, r.Config.PayloadFormat)
	if err != nil {
		r.teardown(correlation)
		return nil, "", err
	}

	if err := r.Conn.Publish(ctx, msg.Topic(), encoded, props, 1); err != nil {
		r.teardown(correlation)
		return nil, "", fmt.Errorf("broker requester: publish request: %w", err)
	}

	r.Trace.Publish(trace.Event{Timestamp: time.Now(), Source: trace.SourceRequest, Kind: trace.KindBrokerPublish,
		Data: map[string]any{"correlation": correlation, "topic": msg.Topic()}})

	return pr, correlation, nil
}

func (r *Requester) complete(pr *pendingRequest) {
	pr.mu.Lock()
	pr.state = stateCompleted
	pr.mu.Unlock()
}

func (r *Requester) expire(pr *pendingRequest, correlation string) {
	pr.mu.Lock()
	pr.state = stateExpired
	pr.mu.Unlock()
	r.teardown(correlation)
}

func (r *Requester) cancel(pr *pendingRequest) {
	pr.mu.Lock()
	pr.state = stateCancelled
	pr.mu.Unlock()
}

func (r *Requester) teardown(correlation string) {
	r.mu.Lock()
	delete(r.pending, correlation)
	r.mu.Unlock()
	replyTopic := r.Config.ResponseTopicPrefix + "/" + correlation
	_ = r.Conn.Unsubscribe(context.Background(), replyTopic)
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case int:
		return t != 0
	case float64:
		return t != 0
	default:
		return true
	}
}
