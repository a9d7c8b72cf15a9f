// Package connector is the top-level orchestrator: it parses a resolved
// configuration tree into one or more independent apps plus an optional
// error flow, wires the process-wide cache and timer services every app
// shares, and drives their combined start/stop lifecycle.
package connector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/flowkit/connector/internal/app"
	"github.com/flowkit/connector/internal/cache"
	"github.com/flowkit/connector/internal/component"
	"github.com/flowkit/connector/internal/config"
	"github.com/flowkit/connector/internal/timer"
	"github.com/flowkit/connector/internal/trace"
)

// cacheSweepInterval bounds how often the shared cache store purges
// expired entries in the background; a MemStore never reclaims memory
// for a TTL'd key on its own otherwise.
const cacheSweepInterval = 30 * time.Second

// Connector owns every app built from a resolved configuration tree,
// the optional error flow app, and the shared services (timer, cache,
// trace bus) every one of them is handed via app.Deps.
type Connector struct {
	apps      []*app.App
	errorFlow *app.App

	timers  *timer.Service
	cache   cache.Store
	trace   *trace.Bus
	logger  *slog.Logger

	sweepStop chan struct{}
	sweepDone chan struct{}
}

// New builds every app in resolved.Apps plus, if resolved.ErrorFlow is
// set, a synthetic single-flow app fed by every other app's component
// failures. reg supplies the component classes available to
// component_module/component_class references; the caller registers
// builtins and any additional classes before calling New.
func New(resolved *config.Root, reg *component.Registry, logger *slog.Logger) (*Connector, error) {
	if logger == nil {
		logger = slog.Default()
	}

	c := &Connector{
		trace:  trace.New(),
		logger: logger,
	}

	cacheOwners := app.NewCacheRegistry()
	c.cache = cache.NewMemStore(cacheOwners)

	timerOwners := app.NewTimerRegistry()
	c.timers = timer.New(logger, timerOwners)

	var errorSink func(component.Event)
	var errorApp *app.App
	if resolved.ErrorFlow != nil {
		var err error
		errorApp, err = app.New(config.App{
			Name:  resolved.ErrorFlow.Name,
			Flows: []config.Flow{*resolved.ErrorFlow},
		}, app.Deps{
			Registry:           reg,
			Trace:              c.trace,
			Logger:             logger,
			Cache:              c.cache,
			RegisterCacheOwner: cacheOwners.Register,
			Timers:             c.timers,
			RegisterTimerOwner: timerOwners.Register,
		})
		if err != nil {
			return nil, fmt.Errorf("connector: error_flow: %w", err)
		}
		c.errorFlow = errorApp

		entry, ok := errorApp.EntryQueue()
		if !ok {
			return nil, fmt.Errorf("connector: error_flow: first component has no input queue to feed")
		}
		errorSink = func(ev component.Event) {
			select {
			case entry <- ev:
			default:
				logger.Error("connector: error flow queue full, dropping error event")
			}
		}
	}

	for _, cfgApp := range resolved.Apps {
		a, err := app.New(cfgApp, app.Deps{
			Registry:           reg,
			Trace:              c.trace,
			Logger:             logger,
			Cache:              c.cache,
			RegisterCacheOwner: cacheOwners.Register,
			Timers:             c.timers,
			RegisterTimerOwner: timerOwners.Register,
			ErrorSink:          errorSink,
		})
		if err != nil {
			return nil, fmt.Errorf("connector: app %q: %w", cfgApp.Name, err)
		}
		c.apps = append(c.apps, a)
	}

	return c, nil
}

// Trace exposes the shared operational event bus, for a caller wiring
// the HTTP/websocket inspection endpoint.
func (c *Connector) Trace() *trace.Bus { return c.trace }

// App returns the running app with the given name, if any.
func (c *Connector) App(name string) (*app.App, bool) {
	for _, a := range c.apps {
		if a.Name == name {
			return a, true
		}
	}
	return nil, false
}

// Start launches the error flow (if configured) first, so it is ready
// to receive failures from the moment every other app's components
// start, then launches every app in declared order.
func (c *Connector) Start(ctx context.Context) error {
	if c.errorFlow != nil {
		if err := c.errorFlow.Start(ctx); err != nil {
			return fmt.Errorf("connector: error_flow start: %w", err)
		}
	}
	for _, a := range c.apps {
		if err := a.Start(ctx); err != nil {
			return fmt.Errorf("connector: app %q start: %w", a.Name, err)
		}
	}

	c.sweepStop = make(chan struct{})
	c.sweepDone = make(chan struct{})
	go c.sweepLoop()

	return nil
}

// sweepLoop periodically reclaims expired cache entries until Stop
// signals sweepStop; MemStore.Sweep/SQLiteStore.Sweep are safe to call
// on an empty or already-clean store.
func (c *Connector) sweepLoop() {
	defer close(c.sweepDone)
	ticker := time.NewTicker(cacheSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			switch s := c.cache.(type) {
			case *cache.MemStore:
				s.Sweep()
			case *cache.SQLiteStore:
				if _, err := s.Sweep(); err != nil {
					c.logger.Error("connector: cache sweep failed", "error", err)
				}
			}
		case <-c.sweepStop:
			return
		}
	}
}

// Stop stops every app in reverse declared order, then the error flow
// last so it can still receive failures raised by another app's own
// shutdown, and stops the cache sweep goroutine.
func (c *Connector) Stop(ctx context.Context) {
	if c.sweepStop != nil {
		close(c.sweepStop)
		<-c.sweepDone
	}
	for i := len(c.apps) - 1; i >= 0; i-- {
		c.apps[i].Stop()
	}
	if c.errorFlow != nil {
		c.errorFlow.Stop()
	}
}
