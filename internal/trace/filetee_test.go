package trace

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileTee_WritesPublishedEvents(t *testing.T) {
	bus := New()
	path := filepath.Join(t.TempDir(), "trace.jsonl")

	tee, err := StartFileTee(bus, path, nil)
	if err != nil {
		t.Fatalf("StartFileTee: %v", err)
	}

	bus.Publish(Event{Source: SourceFlow, Kind: KindMessageEnqueued, Data: map[string]any{"component": "c1"}})
	bus.Publish(Event{Source: SourceTimer, Kind: KindTimerFired, Data: map[string]any{"timer_id": "t1"}})

	// Give the writer goroutine a moment to drain before stopping.
	time.Sleep(50 * time.Millisecond)
	if err := tee.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open trace file: %v", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}

	var first Event
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("unmarshal first line: %v", err)
	}
	if first.Kind != KindMessageEnqueued {
		t.Errorf("got kind %q, want %q", first.Kind, KindMessageEnqueued)
	}
}
