package trace

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
)

// FileTee subscribes to a bus and appends every event to a file as
// newline-delimited JSON, for post-hoc inspection of a run. Configured
// via the top-level trace.trace_file setting.
type FileTee struct {
	bus    *Bus
	file   *os.File
	events <-chan Event
	done   chan struct{}
}

// StartFileTee opens path (creating or appending) and starts a
// goroutine that writes every event published on bus to it until
// Stop is called.
func StartFileTee(bus *Bus, path string, logger *slog.Logger) (*FileTee, error) {
	if logger == nil {
		logger = slog.Default()
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}

	t := &FileTee{
		bus:    bus,
		file:   f,
		events: bus.Subscribe(subscriberBufferSize),
		done:   make(chan struct{}),
	}

	go func() {
		defer close(t.done)
		enc := json.NewEncoder(f)
		for e := range t.events {
			if err := enc.Encode(e); err != nil {
				logger.Error("trace file tee write failed", "error", err)
			}
		}
	}()

	return t, nil
}

// Stop unsubscribes from the bus, waits for the writer goroutine to
// drain, and closes the file.
func (t *FileTee) Stop() error {
	t.bus.Unsubscribe(t.events)
	<-t.done
	return t.file.Close()
}
