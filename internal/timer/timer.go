// Package timer implements per-component one-shot and periodic timers:
// a component registers a delay (and optional repeat interval), and the
// service enqueues a TIMER event onto that component's input queue when
// it fires.
package timer

import (
	"log/slog"
	"sync"
	"time"
)

// Event is the payload of a fired timer, delivered to the owning
// component as a TIMER event.
type Event struct {
	TimerID string
	Payload any
}

// Sink receives fired timer events. internal/component's worker runtime
// implements this by enqueuing onto the owning component's input queue.
type Sink interface {
	EnqueueTimer(owner string, ev Event)
}

type entry struct {
	owner      string
	timerID    string
	intervalMs int64
	payload    any
	lastFire   time.Time
	gen        uint64 // bumped on cancel so an in-flight fire can detect staleness
	timer      *time.Timer
}

// Service is a process-wide timer registry shared by every component
// instance; it serializes its own state, per spec's "shared resources
// are process-wide and serialize internal mutations" concurrency rule.
type Service struct {
	logger *slog.Logger
	sink   Sink

	mu      sync.Mutex
	entries map[string]map[string]*entry // owner -> timerID -> entry
}

// New creates a timer service that delivers fired events to sink.
func New(logger *slog.Logger, sink Sink) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		logger:  logger,
		sink:    sink,
		entries: map[string]map[string]*entry{},
	}
}

// AddTimer registers a timer for owner, firing after delayMs. When
// intervalMs > 0 it reschedules itself from the last firing time after
// each fire (the time its callback ran, so lateness is not made up);
// otherwise it is one-shot.
// Re-registering an existing (owner, timerID) pair cancels the prior
// registration first.
func (s *Service) AddTimer(owner, timerID string, delayMs int64, intervalMs int64, payload any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelLocked(owner, timerID)

	e := &entry{
		owner:      owner,
		timerID:    timerID,
		intervalMs: intervalMs,
		payload:    payload,
	}
	if s.entries[owner] == nil {
		s.entries[owner] = map[string]*entry{}
	}
	s.entries[owner][timerID] = e

	gen := e.gen
	e.timer = time.AfterFunc(time.Duration(delayMs)*time.Millisecond, func() {
		s.fire(owner, timerID, gen)
	})
}

// CancelTimer cancels a pending or periodic timer. Cancellation is
// race-tolerant: a fire already in flight (its callback already
// running, or its event already enqueued) is not retracted — handlers
// must tolerate a timer event arriving after cancellation.
func (s *Service) CancelTimer(owner, timerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked(owner, timerID)
}

func (s *Service) cancelLocked(owner, timerID string) {
	byOwner, ok := s.entries[owner]
	if !ok {
		return
	}
	e, ok := byOwner[timerID]
	if !ok {
		return
	}
	e.timer.Stop()
	e.gen++
	delete(byOwner, timerID)
	if len(byOwner) == 0 {
		delete(s.entries, owner)
	}
}

// PurgeOwner cancels every timer registered by owner; called when that
// component stops.
func (s *Service) PurgeOwner(owner string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries[owner] {
		e.timer.Stop()
		e.gen++
	}
	delete(s.entries, owner)
}

func (s *Service) fire(owner, timerID string, gen uint64) {
	s.mu.Lock()
	byOwner, ok := s.entries[owner]
	if !ok {
		s.mu.Unlock()
		return
	}
	e, ok := byOwner[timerID]
	if !ok || e.gen != gen {
		s.mu.Unlock()
		return
	}
	e.lastFire = time.Now()

	var reschedule bool
	if e.intervalMs > 0 {
		delay := e.lastFire.Add(time.Duration(e.intervalMs) * time.Millisecond).Sub(time.Now())
		if delay < 0 {
			delay = 0
		}
		e.timer = time.AfterFunc(delay, func() {
			s.fire(owner, timerID, gen)
		})
		reschedule = true
	} else {
		delete(byOwner, timerID)
		if len(byOwner) == 0 {
			delete(s.entries, owner)
		}
	}
	payload := e.payload
	s.mu.Unlock()

	if s.sink != nil {
		s.sink.EnqueueTimer(owner, Event{TimerID: timerID, Payload: payload})
	}
	_ = reschedule
	s.logger.Debug("timer fired", "owner", owner, "timer_id", timerID)
}
