package broker

import (
	"context"
	"sync"
)

// fakeConn is an in-process broker.Connection test double: Publish on
// one fakeConn delivers directly to any fakeConn subscribed to the
// same topic via a shared routingTable, modeling a single in-memory
// broker shared by every Conn created against it.
type fakeConn struct {
	table *routingTable

	mu   sync.Mutex
	subs map[string]int // topic -> qos
	recv chan RawMessage
}

type routingTable struct {
	mu   sync.Mutex
	subs map[string][]*fakeConn
}

func newRoutingTable() *routingTable {
	return &routingTable{subs: map[string][]*fakeConn{}}
}

func newFakeConn(table *routingTable) *fakeConn {
	return &fakeConn{table: table, subs: map[string]int{}, recv: make(chan RawMessage, 64)}
}

func (c *fakeConn) Connect(ctx context.Context) error    { return nil }
func (c *fakeConn) Disconnect(ctx context.Context) error { return nil }

func (c *fakeConn) Bind(ctx context.Context, queueName string, subs []Subscription, createIfMissing bool) error {
	for _, s := range subs {
		if err := c.Subscribe(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func (c *fakeConn) Subscribe(ctx context.Context, sub Subscription) error {
	c.mu.Lock()
	c.subs[sub.Topic] = sub.QoS
	c.mu.Unlock()

	c.table.mu.Lock()
	c.table.subs[sub.Topic] = append(c.table.subs[sub.Topic], c)
	c.table.mu.Unlock()
	return nil
}

func (c *fakeConn) Unsubscribe(ctx context.Context, topic string) error {
	c.mu.Lock()
	delete(c.subs, topic)
	c.mu.Unlock()

	c.table.mu.Lock()
	defer c.table.mu.Unlock()
	conns := c.table.subs[topic]
	for i, conn := range conns {
		if conn == c {
			c.table.subs[topic] = append(conns[:i], conns[i+1:]...)
			break
		}
	}
	return nil
}

func (c *fakeConn) Receive() <-chan RawMessage { return c.recv }

func (c *fakeConn) Publish(ctx context.Context, topic string, payload []byte, userProperties map[string]any, qos int) error {
	c.table.mu.Lock()
	targets := append([]*fakeConn{}, c.table.subs[topic]...)
	c.table.mu.Unlock()

	for _, target := range targets {
		target.recv <- RawMessage{
			Topic:          topic,
			Payload:        payload,
			UserProperties: userProperties,
			Ack:            func() {},
			Nack:           func(string) {},
		}
	}
	return nil
}
