package message

import (
	"sync/atomic"
	"testing"
)

func TestGetSetData_RoundTrip(t *testing.T) {
	m := New(map[string]any{"text": "hi"}, "t/1", nil)
	if err := m.SetData("user_data.scratch:a.b", 42); err != nil {
		t.Fatalf("SetData: %v", err)
	}
	v, err := m.GetData("user_data.scratch:a.b")
	if err != nil {
		t.Fatalf("GetData: %v", err)
	}
	if v != 42 {
		t.Errorf("got %v, want 42", v)
	}
}

func TestImmutableOriginalData(t *testing.T) {
	payload := map[string]any{"text": "hi"}
	m := New(payload, "t/1", map[string]any{"k": "v"})
	if got, _ := m.GetData("input.payload:text"); got != "hi" {
		t.Errorf("got %v", got)
	}
	// previous starts nil, is set independently of payload
	m.SetPrevious(map[string]any{"out": 1})
	if got, _ := m.GetData("input.payload:text"); got != "hi" {
		t.Errorf("payload changed after setting previous: got %v", got)
	}
}

func TestTopicLevels(t *testing.T) {
	m := New(nil, "orders/updates/42", nil)
	levels := m.TopicLevels()
	want := []string{"orders", "updates", "42"}
	if len(levels) != len(want) {
		t.Fatalf("got %v, want %v", levels, want)
	}
	for i := range want {
		if levels[i] != want[i] {
			t.Errorf("level %d = %q, want %q", i, levels[i], want[i])
		}
	}
}

func TestAckFiresExactlyOnce(t *testing.T) {
	m := New(nil, "", nil)
	var calls int32
	m.AddAckCallback(func() { atomic.AddInt32(&calls, 1) })
	m.CallAcknowledgements()
	m.CallAcknowledgements()
	m.CallNegativeAcknowledgements(NackInfo{Reason: "late"})
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("ack fired %d times, want 1", calls)
	}
}

func TestNackWinsOverLateAck(t *testing.T) {
	m := New(nil, "", nil)
	var acked, nacked bool
	m.AddAckCallback(func() { acked = true })
	m.AddNackCallback(func(NackInfo) { nacked = true })

	m.CallNegativeAcknowledgements(NackInfo{Reason: "invoke error"})
	m.CallAcknowledgements() // arrives after nack already latched disposition

	if acked {
		t.Error("ack callback fired after nack already latched")
	}
	if !nacked {
		t.Error("nack callback did not fire")
	}
}

func TestIterationJoin_FiresOnceAfterAllSiblingsComplete(t *testing.T) {
	var joined int32
	var joinFailed bool
	parent := New(nil, "", nil)
	iter := NewIterationState(3, func(failed bool) {
		atomic.AddInt32(&joined, 1)
		joinFailed = failed
		if failed {
			parent.CallNegativeAcknowledgements(NackInfo{Reason: "sibling failed"})
		} else {
			parent.CallAcknowledgements()
		}
	})

	children := []*Message{parent.Clone(iter), parent.Clone(iter), parent.Clone(iter)}
	children[0].CallAcknowledgements()
	if atomic.LoadInt32(&joined) != 0 {
		t.Fatal("joined fired before all siblings completed")
	}
	children[1].CallAcknowledgements()
	children[2].CallNegativeAcknowledgements(NackInfo{Reason: "x"})

	if atomic.LoadInt32(&joined) != 1 {
		t.Fatalf("joined fired %d times, want 1", joined)
	}
	if !joinFailed {
		t.Error("expected joinFailed=true since one sibling nacked")
	}
}

func TestDiscard(t *testing.T) {
	m := New(nil, "", nil)
	if m.Discarded() {
		t.Fatal("expected not discarded initially")
	}
	m.Discard()
	if !m.Discarded() {
		t.Error("expected discarded after Discard()")
	}
}
