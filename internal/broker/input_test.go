package broker

import (
	"context"
	"testing"
	"time"

	"github.com/flowkit/connector/internal/component"
)

func TestInput_DecodesAndDeliversMessage(t *testing.T) {
	table := newRoutingTable()
	inputConn := newFakeConn(table)
	publisherConn := newFakeConn(table)

	in := &Input{
		Conn: inputConn,
		Config: InputConfig{
			QueueName:       "q1",
			Subscriptions:   []Subscription{{Topic: "sensors/temp", QoS: 0}},
			PayloadEncoding: EncodingUTF8,
			PayloadFormat:   FormatJSON,
		},
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := in.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := publisherConn.Publish(ctx, "sensors/temp", []byte(`{"celsius":21.5}`), nil, 0); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	ev, ok, err := in.GetNextEvent(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected an event, got none")
	}
	if ev.Kind != component.KindMessage {
		t.Fatalf("got kind %v, want KindMessage", ev.Kind)
	}
	payload, ok := ev.Message.Payload().(map[string]any)
	if !ok {
		t.Fatalf("got payload type %T, want map[string]any", ev.Message.Payload())
	}
	if payload["celsius"] != 21.5 {
		t.Errorf("got celsius=%v, want 21.5", payload["celsius"])
	}
	if ev.Message.Topic() != "sensors/temp" {
		t.Errorf("got topic %q, want sensors/temp", ev.Message.Topic())
	}
}

func TestInput_DecodeFailureDoesNotBlockSubsequentMessages(t *testing.T) {
	table := newRoutingTable()
	inputConn := newFakeConn(table)
	publisherConn := newFakeConn(table)

	in := &Input{
		Conn: inputConn,
		Config: InputConfig{
			QueueName:          "q1",
			Subscriptions:      []Subscription{{Topic: "events", QoS: 0}},
			PayloadEncoding:    EncodingUTF8,
			PayloadFormat:      FormatJSON,
			MaxRedeliveryCount: 2,
		},
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := in.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := publisherConn.Publish(ctx, "events", []byte(`not json`), nil, 0); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if err := publisherConn.Publish(ctx, "events", []byte(`{"ok":true}`), nil, 0); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	resultCh := make(chan component.Event, 1)
	errCh := make(chan error, 1)
	go func() {
		ev, _, err := in.GetNextEvent(ctx)
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- ev
	}()

	select {
	case ev := <-resultCh:
		payload := ev.Message.Payload().(map[string]any)
		if payload["ok"] != true {
			t.Errorf("got payload %v, want ok=true", payload)
		}
	case err := <-errCh:
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the valid message after a decode failure")
	}
}
