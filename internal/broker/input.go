package broker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/flowkit/connector/internal/component"
	"github.com/flowkit/connector/internal/connerr"
	"github.com/flowkit/connector/internal/message"
	"github.com/flowkit/connector/internal/trace"
)

// InputConfig configures a broker input stage per spec.md §4.9.
type InputConfig struct {
	QueueName          string
	Subscriptions      []Subscription
	CreateQueueOnStart bool
	PayloadEncoding    PayloadEncoding
	PayloadFormat      PayloadFormat
	MaxRedeliveryCount int
}

// Input implements component.EventSource, turning raw broker deliveries
// into MESSAGE events. A failed decode is nacked and counted toward
// MaxRedeliveryCount (keyed by topic, since MQTT carries no native
// message identifier); once the count is exceeded the message is
// logged as poison, traced, and dropped rather than redelivered
// forever, matching "routed to the error flow" in spirit without
// requiring a second queue wired through the component runtime.
type Input struct {
	Conn   Connection
	Config InputConfig
	Trace  *trace.Bus
	Logger *slog.Logger

	mu              sync.Mutex
	redeliveryCount map[string]int
}

// Start binds the configured queue and adds all subscriptions, per
// §4.9 "On start, bind to the named queue and add all subscriptions."
func (in *Input) Start(ctx context.Context) error {
	if in.Logger == nil {
		in.Logger = slog.Default()
	}
	in.redeliveryCount = make(map[string]int)
	return in.Conn.Bind(ctx, in.Config.QueueName, in.Config.Subscriptions, in.Config.CreateQueueOnStart)
}

// GetNextEvent implements component.EventSource. It blocks on the
// underlying broker receive channel, decoding payloads until it
// produces a deliverable Message or the context is cancelled.
func (in *Input) GetNextEvent(ctx context.Context) (component.Event, bool, error) {
	for {
		var raw RawMessage
		var ok bool
		select {
		case raw, ok = <-in.Conn.Receive():
			if !ok {
				return component.Event{}, false, nil
			}
		case <-ctx.Done():
			return component.Event{}, false, nil
		}

		payload, err := DecodePayload(raw.Payload, in.Config.PayloadEncoding, in.Config.PayloadFormat)
		if err != nil {
			in.handleDecodeFailure(raw, connerr.NewDecodeError(err))
			continue
		}

		msg := message.New(payload, raw.Topic, raw.UserProperties)
		if raw.Ack != nil {
			msg.AddAckCallback(raw.Ack)
		}
		if raw.Nack != nil {
			msg.AddNackCallback(func(message.NackInfo) { raw.Nack("invoke_failed") })
		}

		in.Trace.Publish(trace.Event{Timestamp: time.Now(), Source: trace.SourceBroker, Kind: trace.KindBrokerReceive,
			Data: map[string]any{"topic": raw.Topic, "queue": in.Config.QueueName}})

		return component.Event{Kind: component.KindMessage, Message: msg}, true, nil
	}
}

func (in *Input) handleDecodeFailure(raw RawMessage, decodeErr error) {
	in.mu.Lock()
	in.redeliveryCount[raw.Topic]++
	count := in.redeliveryCount[raw.Topic]
	in.mu.Unlock()

	if in.Config.MaxRedeliveryCount > 0 && count > in.Config.MaxRedeliveryCount {
		in.mu.Lock()
		delete(in.redeliveryCount, raw.Topic)
		in.mu.Unlock()

		poisonErr := connerr.NewPoisonMessage(decodeErr)
		in.Logger.Error("broker input: message exceeded max redelivery count, dropping as poison",
			"topic", raw.Topic, "max_redelivery_count", in.Config.MaxRedeliveryCount, "error", poisonErr)
		in.Trace.Publish(trace.Event{Timestamp: time.Now(), Source: trace.SourceBroker, Kind: trace.KindComponentError,
			Data: map[string]any{"topic": raw.Topic, "reason": "poison", "error": poisonErr.Error()}})
		if raw.Ack != nil {
			raw.Ack()
		}
		return
	}

	in.Logger.Warn("broker input: payload decode failed, nacking for redelivery",
		"topic", raw.Topic, "redelivery_count", count, "error", decodeErr)
	if raw.Nack != nil {
		raw.Nack(decodeErr.Error())
	}
}
