// Package broker defines the driver-agnostic messaging contract that
// broker input, output, and request/reply components are built on.
// Concrete transports (currently internal/broker/mqtt) implement
// Connection; the rest of this package is transport-independent.
package broker

import (
	"context"
	"time"
)

// RawMessage is an undecoded message as received from the wire, plus
// the settle callbacks the Connection expects the caller to invoke
// exactly once.
type RawMessage struct {
	Topic          string
	Payload        []byte
	UserProperties map[string]any

	// Ack settles the message as successfully processed.
	Ack func()
	// Nack settles the message as failed; reason is passed through to
	// the driver's redelivery/poison bookkeeping.
	Nack func(reason string)
}

// Subscription is one topic filter plus its requested QoS.
type Subscription struct {
	Topic string
	QoS   int
}

// Connection is the narrow transport surface every broker driver must
// implement. internal/broker/mqtt is the one concrete implementation,
// built on github.com/eclipse/paho.golang; a test double living beside
// the input/output/requester tests implements the same interface
// in-process.
type Connection interface {
	// Connect dials the broker and waits for the connection to become
	// usable, for ctx to be done, or for a driver-specific wait to
	// elapse (the MQTT driver then returns nil and keeps retrying in the
	// background). Connect may be called again after a Disconnect to
	// reconnect.
	Connect(ctx context.Context) error

	// Disconnect tears down the connection. Safe to call on an
	// already-disconnected Connection.
	Disconnect(ctx context.Context) error

	// Bind declares the named queue (no-op for drivers without a
	// server-side queue concept) and adds subs as subscriptions on it.
	// Called once on start, per §4.9 "bind to the named queue and add
	// all subscriptions."
	Bind(ctx context.Context, queueName string, subs []Subscription, createIfMissing bool) error

	// Receive returns the channel of inbound messages for the bound
	// queue. Readers treat a closed channel as end of input, but
	// Disconnect does not close it (the MQTT driver never does), so
	// readers also stop on their own context.
	Receive() <-chan RawMessage

	// Publish sends payload to topic. userProperties may be nil.
	Publish(ctx context.Context, topic string, payload []byte, userProperties map[string]any, qos int) error

	// Subscribe adds a single ad-hoc subscription outside of Bind,
	// used by the requester to listen on a dedicated reply topic.
	Subscribe(ctx context.Context, sub Subscription) error

	// Unsubscribe removes a subscription added via Subscribe.
	Unsubscribe(ctx context.Context, topic string) error
}

// ReconnectPolicy describes the broker reconnection strategy from
// config: forever_retry, or a bounded retry_count with retry_interval.
type ReconnectPolicy struct {
	Strategy      string // "forever_retry" | "bounded"
	RetryInterval time.Duration
	RetryCount    int
}

// PayloadEncoding is the wire-level byte encoding applied before
// PayloadFormat is interpreted.
type PayloadEncoding string

const (
	EncodingUTF8   PayloadEncoding = "utf-8"
	EncodingBase64 PayloadEncoding = "base64"
	EncodingNone   PayloadEncoding = "none"
)

// PayloadFormat is the structured interpretation of the decoded bytes.
type PayloadFormat string

const (
	FormatText PayloadFormat = "text"
	FormatJSON PayloadFormat = "json"
	FormatYAML PayloadFormat = "yaml"
)
