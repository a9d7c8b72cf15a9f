package builtin

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/flowkit/connector/internal/component"
	"github.com/flowkit/connector/internal/message"
	"github.com/flowkit/connector/internal/timer"
)

// Delay holds the current Message for delay_ms before letting it
// continue downstream unchanged. Blocking in Invoke is the allowed
// shape for component user code (the runtime bounds the damage via
// queue_depth backpressure); delay additionally registers a real timer
// through the shared service so HandleTimer actually fires, rather than
// only sleeping locally. The registration and the local wait are
// independent: registering first means a fired-but-late TIMER event
// (delivered after Invoke already returned) is simply logged and
// ignored, the same tolerance the timer service documents for a
// cancelled-in-flight fire.
type Delay struct {
	delayMs int64
	timers  *timer.Service
	owner   string
	logger  *slog.Logger
	seq     atomic.Int64
}

func newDelay(cfg map[string]any, services component.RuntimeServices) (component.Handler, error) {
	delayMs, _ := cfg["delay_ms"].(int)
	if delayMs <= 0 {
		if f, ok := cfg["delay_ms"].(float64); ok {
			delayMs = int(f)
		}
	}
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Delay{delayMs: int64(delayMs), timers: services.Timers, owner: services.ComponentName, logger: logger}, nil
}

func (d *Delay) Invoke(ctx context.Context, _ *message.Message, data any) (any, error) {
	timerID := fmt.Sprintf("delay-%d", d.seq.Add(1))
	if d.timers != nil {
		d.timers.AddTimer(d.owner, timerID, d.delayMs, 0, data)
		defer d.timers.CancelTimer(d.owner, timerID)
	}

	select {
	case <-time.After(time.Duration(d.delayMs) * time.Millisecond):
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// HandleTimer implements component.TimerHandler. By the time a fire is
// observed here Invoke has already returned (or the timer was
// cancelled), so this is purely diagnostic.
func (d *Delay) HandleTimer(_ context.Context, ev timer.Event) error {
	d.logger.Debug("delay: timer fired", "timer_id", ev.TimerID)
	return nil
}
