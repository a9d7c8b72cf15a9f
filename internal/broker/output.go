package broker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/flowkit/connector/internal/message"
	"github.com/flowkit/connector/internal/trace"
)

// OutputConfig configures a broker output stage per spec.md §4.10.
type OutputConfig struct {
	PayloadEncoding            PayloadEncoding
	PayloadFormat              PayloadFormat
	CopyUserProperties         bool
	PropagateAcknowledgements  bool
	DefaultQoS                 int
}

// Output is a component.Handler that publishes the upstream Message's
// previous value — {payload, topic, user_properties?} — to the broker.
// It is wired as the terminal stage of a broker-output-enabled flow, so
// the component runtime disposes the Message once Invoke returns; when
// PropagateAcknowledgements is true, Output additionally acks
// explicitly once the broker confirms the publish (harmless to do
// twice, since Message disposal is idempotent).
type Output struct {
	Conn   Connection
	Config OutputConfig
	Trace  *trace.Bus
	Logger *slog.Logger
}

// outboundShape is the expected structure of message.previous at a
// broker output stage.
type outboundShape struct {
	Payload        any
	Topic          string
	UserProperties map[string]any
}

func (o *Output) parseShape(data any) (outboundShape, error) {
	m, ok := data.(map[string]any)
	if !ok {
		return outboundShape{}, fmt.Errorf("broker output: expected map[string]any{payload, topic, user_properties?}, got %T", data)
	}
	topic, _ := m["topic"].(string)
	if topic == "" {
		return outboundShape{}, fmt.Errorf("broker output: topic is required and must be non-empty")
	}
	props, _ := m["user_properties"].(map[string]any)
	return outboundShape{Payload: m["payload"], Topic: topic, UserProperties: props}, nil
}

// Invoke implements component.Handler.
func (o *Output) Invoke(ctx context.Context, msg *message.Message, data any) (any, error) {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}

	shape, err := o.parseShape(data)
	if err != nil {
		return nil, err
	}

	encoded, err := EncodePayload(shape.Payload, o.Config.PayloadEncoding, o.Config.PayloadFormat)
	if err != nil {
		return nil, err
	}

	props := shape.UserProperties
	if o.Config.CopyUserProperties {
		props = mergeUserProperties(msg.UserProperties(), props)
	}

	if err := o.Conn.Publish(ctx, shape.Topic, encoded, props, o.Config.DefaultQoS); err != nil {
		return nil, fmt.Errorf("broker output: publish to %s: %w", shape.Topic, err)
	}

	o.Trace.Publish(trace.Event{Timestamp: time.Now(), Source: trace.SourceBroker, Kind: trace.KindBrokerPublish,
		Data: map[string]any{"topic": shape.Topic}})

	if o.Config.PropagateAcknowledgements {
		msg.CallAcknowledgements()
	}

	return nil, nil
}

func mergeUserProperties(original, override map[string]any) map[string]any {
	merged := make(map[string]any, len(original)+len(override))
	for k, v := range original {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}
	return merged
}
