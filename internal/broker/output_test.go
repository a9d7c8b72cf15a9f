package broker

import (
	"context"
	"testing"
	"time"

	"github.com/flowkit/connector/internal/message"
)

func TestOutput_PublishesPreviousShape(t *testing.T) {
	table := newRoutingTable()
	outputConn := newFakeConn(table)
	listenerConn := newFakeConn(table)

	ctx := context.Background()
	if err := listenerConn.Subscribe(ctx, Subscription{Topic: "out/topic", QoS: 0}); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	out := &Output{
		Conn: outputConn,
		Config: OutputConfig{
			PayloadEncoding:           EncodingUTF8,
			PayloadFormat:             FormatJSON,
			PropagateAcknowledgements: true,
		},
	}

	msg := message.New("original-payload", "in/topic", nil)
	acked := make(chan struct{})
	msg.AddAckCallback(func() { close(acked) })

	data := map[string]any{"payload": map[string]any{"n": 42.0}, "topic": "out/topic"}
	if _, err := out.Invoke(ctx, msg, data); err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}

	select {
	case raw := <-listenerConn.Receive():
		if raw.Topic != "out/topic" {
			t.Errorf("got topic %q, want out/topic", raw.Topic)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published message")
	}

	select {
	case <-acked:
	case <-time.After(time.Second):
		t.Fatal("propagate_acknowledgements=true should have acked the upstream message")
	}
}

func TestOutput_MissingTopicErrors(t *testing.T) {
	out := &Output{Conn: newFakeConn(newRoutingTable()), Config: OutputConfig{PayloadFormat: FormatText}}
	msg := message.New("p", "t", nil)
	if _, err := out.Invoke(context.Background(), msg, map[string]any{"payload": "x"}); err == nil {
		t.Fatal("expected error for missing topic")
	}
}

func TestOutput_CopiesUserProperties(t *testing.T) {
	table := newRoutingTable()
	outputConn := newFakeConn(table)
	listenerConn := newFakeConn(table)
	ctx := context.Background()
	if err := listenerConn.Subscribe(ctx, Subscription{Topic: "out/topic", QoS: 0}); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	out := &Output{
		Conn: outputConn,
		Config: OutputConfig{
			PayloadFormat:      FormatText,
			CopyUserProperties: true,
		},
	}

	msg := message.New("p", "in/topic", map[string]any{"trace_id": "abc"})
	data := map[string]any{"payload": "hi", "topic": "out/topic"}
	if _, err := out.Invoke(ctx, msg, data); err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}

	raw := <-listenerConn.Receive()
	if raw.UserProperties["trace_id"] != "abc" {
		t.Errorf("got user properties %v, want trace_id=abc", raw.UserProperties)
	}
}
