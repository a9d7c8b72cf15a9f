// Package mqtt implements broker.Connection over MQTT using Eclipse
// Paho's autopaho, the same connection-management package the teacher
// uses for its Home Assistant sensor publisher: automatic reconnection,
// a last-will message, and resubscription on every reconnect since
// autopaho does not do so itself.
package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/flowkit/connector/internal/broker"
)

// Config configures the MQTT connection per spec.md §4.9/§4.10
// connection parameters: URL and credentials. ReconnectionStrategy,
// RetryInterval and RetryCount are stored but not applied: Connect does
// not read them, and autopaho retries a lost connection with its own
// default delay and no attempt limit.
type Config struct {
	BrokerURL            string
	Username             string
	Password             string
	ClientID             string
	ReconnectionStrategy string // "forever_retry" (default) | "bounded"
	RetryInterval        time.Duration
	RetryCount           int

	// AvailabilityTopic, when non-empty, is published "online" on every
	// connect and carried as the last-will "offline" payload, the same
	// availability pattern the teacher's Publisher uses for its HA
	// device. Optional: broker input/output connections used purely
	// for message transport can leave it empty.
	AvailabilityTopic string
}

// Conn is the paho.golang-backed broker.Connection implementation.
type Conn struct {
	cfg    Config
	logger *slog.Logger

	mu         sync.Mutex
	cm         *autopaho.ConnectionManager
	received   chan broker.RawMessage
	boundQueue string
	boundSubs  []broker.Subscription
}

// New creates a Conn. Call Connect before using it. A nil logger is
// replaced with slog.Default.
func New(cfg Config, logger *slog.Logger) *Conn {
	if logger == nil {
		logger = slog.Default()
	}
	return &Conn{cfg: cfg, logger: logger, received: make(chan broker.RawMessage, 64)}
}

// Connect dials the broker via autopaho and waits up to 30 seconds (or
// until ctx is done) for the initial connection. If it is not up by
// then, Connect logs a warning and returns nil while autopaho keeps
// retrying. Subsequent reconnects happen in the background; Bind's subscriptions are reapplied on every
// reconnect via OnConnectionUp, matching the teacher's "autopaho does
// not automatically resubscribe after reconnection" handling.
func (c *Conn) Connect(ctx context.Context) error {
	brokerURL, err := url.Parse(c.cfg.BrokerURL)
	if err != nil {
		return fmt.Errorf("mqtt: parse broker url: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: c.cfg.Username,
		ConnectPassword: []byte(c.cfg.Password),
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			c.logger.Info("mqtt connected to broker", "broker", c.cfg.BrokerURL)
			c.onConnect(cm)
		},
		OnConnectError: func(err error) {
			c.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: c.cfg.ClientID,
		},
	}

	if c.cfg.AvailabilityTopic != "" {
		pahoCfg.WillMessage = &paho.WillMessage{
			Topic:   c.cfg.AvailabilityTopic,
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		}
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt: connect: %w", err)
	}
	c.mu.Lock()
	c.cm = cm
	c.mu.Unlock()

	cm.AddOnPublishReceived(c.onPublishReceived)

	connCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		c.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}
	return nil
}

func (c *Conn) onConnect(cm *autopaho.ConnectionManager) {
	if c.cfg.AvailabilityTopic != "" {
		publishCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := cm.Publish(publishCtx, &paho.Publish{
			Topic: c.cfg.AvailabilityTopic, Payload: []byte("online"), QoS: 1, Retain: true,
		}); err != nil {
			c.logger.Warn("mqtt availability publish failed", "error", err)
		}
	}

	c.mu.Lock()
	subs := append([]broker.Subscription{}, c.boundSubs...)
	c.mu.Unlock()
	if len(subs) > 0 {
		if err := c.subscribeAll(context.Background(), subs); err != nil {
			c.logger.Error("mqtt resubscribe after reconnect failed", "error", err)
		}
	}
}

func (c *Conn) onPublishReceived(pr autopaho.PublishReceived) (bool, error) {
	props := map[string]any{}
	if pr.Packet.Properties != nil && pr.Packet.Properties.User != nil {
		for _, kv := range pr.Packet.Properties.User {
			props[kv.Key] = kv.Value
		}
	}

	raw := broker.RawMessage{
		Topic:          pr.Packet.Topic,
		Payload:        pr.Packet.Payload,
		UserProperties: props,
		Ack:            func() {},
		Nack:           func(string) {},
	}

	select {
	case c.received <- raw:
	default:
		c.logger.Warn("mqtt receive buffer full, dropping message", "topic", pr.Packet.Topic)
	}
	return true, nil
}

// Disconnect tears down the connection.
func (c *Conn) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	cm := c.cm
	c.mu.Unlock()
	if cm == nil {
		return nil
	}
	if c.cfg.AvailabilityTopic != "" {
		_, _ = cm.Publish(ctx, &paho.Publish{Topic: c.cfg.AvailabilityTopic, Payload: []byte("offline"), QoS: 1, Retain: true})
	}
	return cm.Disconnect(ctx)
}

// Bind records the queue name (MQTT has no server-side queue concept,
// so this is bookkeeping only) and adds subs, per §4.9 "bind to the
// named queue and add all subscriptions."
func (c *Conn) Bind(ctx context.Context, queueName string, subs []broker.Subscription, _ bool) error {
	c.mu.Lock()
	c.boundQueue = queueName
	c.boundSubs = subs
	c.mu.Unlock()
	return c.subscribeAll(ctx, subs)
}

func (c *Conn) subscribeAll(ctx context.Context, subs []broker.Subscription) error {
	c.mu.Lock()
	cm := c.cm
	c.mu.Unlock()
	if cm == nil || len(subs) == 0 {
		return nil
	}

	opts := make([]paho.SubscribeOptions, 0, len(subs))
	for _, s := range subs {
		opts = append(opts, paho.SubscribeOptions{Topic: s.Topic, QoS: byte(s.QoS)})
	}
	_, err := cm.Subscribe(ctx, &paho.Subscribe{Subscriptions: opts})
	return err
}

// Subscribe adds a single ad-hoc subscription, used by the requester
// for its dedicated reply topic.
func (c *Conn) Subscribe(ctx context.Context, sub broker.Subscription) error {
	return c.subscribeAll(ctx, []broker.Subscription{sub})
}

// Unsubscribe removes a subscription added via Subscribe.
func (c *Conn) Unsubscribe(ctx context.Context, topic string) error {
	c.mu.Lock()
	cm := c.cm
	c.mu.Unlock()
	if cm == nil {
		return nil
	}
	_, err := cm.Unsubscribe(ctx, &paho.Unsubscribe{Topics: []string{topic}})
	return err
}

// Receive returns the channel of inbound messages.
func (c *Conn) Receive() <-chan broker.RawMessage {
	return c.received
}

// Publish sends payload to topic with the given QoS.
func (c *Conn) Publish(ctx context.Context, topic string, payload []byte, userProperties map[string]any, qos int) error {
	c.mu.Lock()
	cm := c.cm
	c.mu.Unlock()
	if cm == nil {
		return fmt.Errorf("mqtt: not connected")
	}

	pub := &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     byte(qos),
	}
	if len(userProperties) > 0 {
		props := &paho.PublishProperties{}
		for k, v := range userProperties {
			props.User.Add(k, fmt.Sprint(v))
		}
		pub.Properties = props
	}

	_, err := cm.Publish(ctx, pub)
	return err
}
