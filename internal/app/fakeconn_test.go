package app

import (
	"context"
	"sync"

	"github.com/flowkit/connector/internal/broker"
)

// routingTable and fakeConn are a minimal in-process broker.Connection
// double, mirroring internal/broker's own test fake: every fakeConn
// sharing a table receives a copy of any Publish whose topic matches
// one of its subscriptions.
type routingTable struct {
	mu   sync.Mutex
	subs map[string][]*fakeConn
}

func newRoutingTable() *routingTable { return &routingTable{subs: make(map[string][]*fakeConn)} }

type fakeConn struct {
	table *routingTable
	mu    sync.Mutex
	subs  map[string]int
	recv  chan broker.RawMessage
}

func newFakeConn(table *routingTable) *fakeConn {
	return &fakeConn{table: table, subs: make(map[string]int), recv: make(chan broker.RawMessage, 16)}
}

func (f *fakeConn) Connect(context.Context) error    { return nil }
func (f *fakeConn) Disconnect(context.Context) error { return nil }

func (f *fakeConn) Bind(ctx context.Context, _ string, subs []broker.Subscription, _ bool) error {
	for _, s := range subs {
		if err := f.Subscribe(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeConn) Receive() <-chan broker.RawMessage { return f.recv }

func (f *fakeConn) Publish(_ context.Context, topic string, payload []byte, userProperties map[string]any, _ int) error {
	f.table.mu.Lock()
	targets := append([]*fakeConn(nil), f.table.subs[topic]...)
	f.table.mu.Unlock()
	for _, t := range targets {
		t.recv <- broker.RawMessage{Topic: topic, Payload: payload, UserProperties: userProperties}
	}
	return nil
}

func (f *fakeConn) Subscribe(_ context.Context, sub broker.Subscription) error {
	f.mu.Lock()
	f.subs[sub.Topic]++
	f.mu.Unlock()
	f.table.mu.Lock()
	f.table.subs[sub.Topic] = append(f.table.subs[sub.Topic], f)
	f.table.mu.Unlock()
	return nil
}

func (f *fakeConn) Unsubscribe(_ context.Context, topic string) error {
	f.table.mu.Lock()
	list := f.table.subs[topic]
	for i, c := range list {
		if c == f {
			f.table.subs[topic] = append(list[:i], list[i+1:]...)
			break
		}
	}
	f.table.mu.Unlock()
	return nil
}
