// Package app builds and runs one configured application: either a
// standard app (one or more explicit flows of registry-built
// components) or a simplified app, which synthesizes a single implicit
// flow from a broker block plus a flat component list, per spec.md
// §4.13. Both modes share the same component/flow runtime; this
// package only decides how stages get wired together.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/flowkit/connector/internal/broker"
	"github.com/flowkit/connector/internal/cache"
	"github.com/flowkit/connector/internal/component"
	"github.com/flowkit/connector/internal/config"
	"github.com/flowkit/connector/internal/flow"
	"github.com/flowkit/connector/internal/message"
	"github.com/flowkit/connector/internal/subrouter"
	"github.com/flowkit/connector/internal/timer"
	"github.com/flowkit/connector/internal/trace"
)

const defaultQueueDepth = 5

// Deps bundles the shared collaborators App needs to build an
// application's components. Timers is the process-wide timer.Service;
// when nil, App creates and owns a private one for its own instances
// and RegisterTimerOwner is ignored. When Timers is supplied
// externally (a connector sharing one service across every app),
// RegisterTimerOwner must also be supplied so each built component's
// timers are routed correctly.
type Deps struct {
	Registry *component.Registry
	Trace    *trace.Bus
	Logger   *slog.Logger

	// Cache is the process-wide cache store handed to every built
	// component's RuntimeServices. Nil means components that look it
	// up get a nil cache.Store (their factory must tolerate that or
	// the connector must always supply one). When Cache is supplied,
	// RegisterCacheOwner should be too, so an owned entry's expiry is
	// routed back to the component that set it.
	Cache              cache.Store
	RegisterCacheOwner func(owner string, c *component.Component)

	Timers             *timer.Service
	RegisterTimerOwner func(owner string, c *component.Component)

	// ErrorSink, when non-nil, is wired onto every built component's
	// Component.ErrorSink so a failed invoke/handler call is forwarded
	// to the connector's error flow. Nil means components only log and
	// nack, matching "if configured".
	ErrorSink func(component.Event)

	// NewBrokerConnection overrides how a simplified app's broker
	// connections are constructed; nil uses NewConnection. Tests
	// inject an in-process fake here.
	NewBrokerConnection func(cfg *config.Broker) (broker.Connection, error)
}

func (d Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

func (d Deps) connFactory() func(cfg *config.Broker) (broker.Connection, error) {
	if d.NewBrokerConnection != nil {
		return d.NewBrokerConnection
	}
	logger := d.logger()
	return func(cfg *config.Broker) (broker.Connection, error) { return NewConnection(cfg, logger) }
}

// instance is one replica of an app, per config.App.NumInstances:
// app-level replication gets its own broker connections and its own
// copy of every component, rather than sharing queues.
type instance struct {
	flows       []*flow.Flow
	conns       []broker.Connection
	brokerInput *broker.Input
	requester   *broker.Requester

	// outputComponent is the terminal broker-output stage's Component,
	// used by SendMessage to inject a Message directly rather than
	// waiting for it to arrive from upstream. Nil when output is
	// disabled or this is a standard (non-simplified) app.
	outputComponent *component.Component

	timers     *timer.Service
	ownsTimers bool

	cancel context.CancelFunc
}

// App is one configured application: a set of replicated instances,
// each an independent set of flows sharing nothing but configuration.
type App struct {
	Name      string
	instances []*instance
	logger    *slog.Logger
}

// New builds every instance of cfgApp. Building is purely in-memory
// wiring; nothing connects to a broker or starts a worker until Start.
func New(cfgApp config.App, deps Deps) (*App, error) {
	numInstances := cfgApp.NumInstances
	if numInstances <= 0 {
		numInstances = 1
	}

	a := &App{Name: cfgApp.Name, logger: deps.logger()}
	for i := 0; i < numInstances; i++ {
		inst, err := buildInstance(cfgApp, deps, i, numInstances)
		if err != nil {
			return nil, fmt.Errorf("app %q instance %d: %w", cfgApp.Name, i, err)
		}
		a.instances = append(a.instances, inst)
	}
	return a, nil
}

func buildInstance(cfgApp config.App, deps Deps, idx, numInstances int) (*instance, error) {
	inst := &instance{}

	timers := deps.Timers
	registerOwner := deps.RegisterTimerOwner
	if timers == nil {
		reg := NewTimerRegistry()
		timers = timer.New(deps.Logger, reg)
		registerOwner = reg.Register
		inst.ownsTimers = true
	}
	inst.timers = timers

	if cfgApp.Simplified() {
		if err := buildSimplified(cfgApp, deps, idx, numInstances, inst, registerOwner); err != nil {
			return nil, err
		}
		return inst, nil
	}
	if err := buildStandard(cfgApp, deps, idx, numInstances, inst, registerOwner); err != nil {
		return nil, err
	}
	return inst, nil
}

// instanceSuffix disambiguates component/stage names across app-level
// replicas; a single-instance app keeps plain names.
func instanceSuffix(idx, numInstances int) string {
	if numInstances <= 1 {
		return ""
	}
	return fmt.Sprintf("#%d", idx)
}

func buildStandard(cfgApp config.App, deps Deps, idx, numInstances int, inst *instance, registerOwner func(string, *component.Component)) error {
	suffix := instanceSuffix(idx, numInstances)
	instanceName := cfgApp.Name + suffix
	for _, cfgFlow := range cfgApp.Flows {
		flowName := cfgFlow.Name + suffix
		var comps []*component.Component
		for i, cc := range cfgFlow.Components {
			if cc.Disabled {
				continue
			}
			comp, err := buildUserComponent(cc, deps, cfgApp.Config, suffix, inst.timers, registerOwner, instanceName, flowName, i)
			if err != nil {
				return fmt.Errorf("flow %q component %q: %w", cfgFlow.Name, cc.Name, err)
			}
			comps = append(comps, comp)
		}
		inst.flows = append(inst.flows, flow.New(flowName, comps))
	}
	return nil
}

// buildSimplified synthesizes one implicit flow from cfgApp.Broker and
// cfgApp.Components, in order: [broker_input if input_enabled],
// [subscription_router if input_enabled and len(components)>1], [user
// components in declared order], [broker_output if output_enabled].
// All user component subscriptions are union-applied to the
// broker_input's bound queue. If request_reply_enabled, a dedicated
// Requester is built on its own connection.
func buildSimplified(cfgApp config.App, deps Deps, idx, numInstances int, inst *instance, registerOwner func(string, *component.Component)) error {
	suffix := instanceSuffix(idx, numInstances)
	instanceName := cfgApp.Name + suffix
	flowName := instanceName
	b := cfgApp.Broker

	conn, err := deps.connFactory()(b)
	if err != nil {
		return fmt.Errorf("broker connection: %w", err)
	}
	inst.conns = append(inst.conns, conn)

	var stages []*component.Component

	if b.InputEnabled {
		inputComp, in := buildBrokerInputComponent(cfgApp, conn, suffix, inst.timers, deps, instanceName, flowName, len(stages))
		inst.brokerInput = in
		registerOwner(inputComp.Name, inputComp)
		if deps.RegisterCacheOwner != nil {
			deps.RegisterCacheOwner(inputComp.Name, inputComp)
		}
		stages = append(stages, inputComp)
	}

	userComponents := make([]*component.Component, 0, len(cfgApp.Components))
	targets := make(map[string]*component.Component, len(cfgApp.Components))
	for _, cc := range cfgApp.Components {
		if cc.Disabled {
			continue
		}
		comp, err := buildUserComponent(cc, deps, cfgApp.Config, suffix, inst.timers, registerOwner, instanceName, flowName, len(stages)+len(userComponents))
		if err != nil {
			return fmt.Errorf("component %q: %w", cc.Name, err)
		}
		userComponents = append(userComponents, comp)
		targets[comp.Name] = comp
	}

	if b.InputEnabled && len(userComponents) > 1 {
		routes := make([]subrouter.ComponentRoute, 0, len(cfgApp.Components))
		for _, cc := range cfgApp.Components {
			if cc.Disabled {
				continue
			}
			topics := make([]string, 0, len(cc.Subscriptions))
			for _, s := range cc.Subscriptions {
				topics = append(topics, s.Topic)
			}
			routes = append(routes, subrouter.ComponentRoute{Name: cc.Name + suffix, Topics: topics})
		}
		router, err := subrouter.New(subrouter.Config{Routes: routes}, targets, deps.Trace, deps.logger())
		if err != nil {
			return fmt.Errorf("subrouter: %w", err)
		}
		routerComp := &component.Component{
			Name:         cfgApp.Name + "-subrouter" + suffix,
			Handler:      router,
			Send:         router,
			NumInstances: 1,
			InstanceName: instanceName,
			FlowName:     flowName,
			Index:        len(stages),
			InputQueue:   component.NewInputQueue(defaultQueueDepth),
			AppConfig:    cfgApp.Config,
			Timers:       inst.timers,
			Trace:        deps.Trace,
			Logger:       deps.logger(),
			ErrorSink:    deps.ErrorSink,
		}
		stages = append(stages, routerComp)
	}

	stages = append(stages, userComponents...)

	if b.OutputEnabled {
		outComp := buildBrokerOutputComponent(cfgApp, conn, suffix, deps, instanceName, flowName, len(stages))
		stages = append(stages, outComp)
		inst.outputComponent = outComp
	}

	inst.flows = append(inst.flows, flow.New(cfgApp.Name+suffix, stages))

	if b.RequestReplyEnabled {
		reqConn, err := deps.connFactory()(b)
		if err != nil {
			return fmt.Errorf("request/reply connection: %w", err)
		}
		inst.conns = append(inst.conns, reqConn)
		inst.requester = &broker.Requester{
			Conn: reqConn,
			Config: broker.RequesterConfig{
				ResponseTopicPrefix:   b.ResponseTopicPrefix,
				UserPropReplyTopicKey: b.UserPropReplyTopicKey,
				UserPropReplyMetaKey:  b.UserPropReplyMetaKey,
				RequestExpiry:         time.Duration(b.RequestExpiryMS) * time.Millisecond,
				PayloadEncoding:       payloadEncoding(b.PayloadEncoding),
				PayloadFormat:         payloadFormat(b.PayloadFormat),
			},
			Trace:  deps.Trace,
			Logger: deps.logger(),
		}
	}

	return nil
}

func buildBrokerInputComponent(cfgApp config.App, conn broker.Connection, suffix string, timers *timer.Service, deps Deps, instanceName, flowName string, index int) (*component.Component, *broker.Input) {
	b := cfgApp.Broker

	var subs []broker.Subscription
	for _, cc := range cfgApp.Components {
		if cc.Disabled {
			continue
		}
		for _, s := range cc.Subscriptions {
			subs = append(subs, broker.Subscription{Topic: s.Topic, QoS: s.QoS})
		}
	}

	in := &broker.Input{
		Conn: conn,
		Config: broker.InputConfig{
			QueueName:          b.QueueName,
			Subscriptions:      subs,
			CreateQueueOnStart: b.CreateQueueOnStart,
			PayloadEncoding:    payloadEncoding(b.PayloadEncoding),
			PayloadFormat:      payloadFormat(b.PayloadFormat),
			MaxRedeliveryCount: b.MaxRedeliveryCount,
		},
		Trace:  deps.Trace,
		Logger: deps.logger(),
	}

	comp := &component.Component{
		Name:         cfgApp.Name + "-broker-input" + suffix,
		Handler:      component.PassThroughHandler{},
		Source:       in,
		NumInstances: 1,
		InstanceName: instanceName,
		FlowName:     flowName,
		Index:        index,
		AppConfig:    cfgApp.Config,
		Timers:       timers,
		Trace:        deps.Trace,
		Logger:       deps.logger(),
		ErrorSink:    deps.ErrorSink,
	}
	return comp, in
}

func buildBrokerOutputComponent(cfgApp config.App, conn broker.Connection, suffix string, deps Deps, instanceName, flowName string, index int) *component.Component {
	b := cfgApp.Broker
	out := &broker.Output{
		Conn: conn,
		Config: broker.OutputConfig{
			PayloadEncoding:           payloadEncoding(b.PayloadEncoding),
			PayloadFormat:             payloadFormat(b.PayloadFormat),
			CopyUserProperties:        b.CopyUserProperties,
			PropagateAcknowledgements: b.PropagateAcks,
		},
		Trace:  deps.Trace,
		Logger: deps.logger(),
	}
	return &component.Component{
		Name:         cfgApp.Name + "-broker-output" + suffix,
		Handler:      out,
		NumInstances: 1,
		InstanceName: instanceName,
		FlowName:     flowName,
		Index:        index,
		InputQueue:   component.NewInputQueue(defaultQueueDepth),
		AppConfig:    cfgApp.Config,
		Trace:        deps.Trace,
		Logger:       deps.logger(),
		ErrorSink:    deps.ErrorSink,
	}
}

func buildUserComponent(cc config.Component, deps Deps, appConfig map[string]any, suffix string, timers *timer.Service, registerOwner func(string, *component.Component), instanceName, flowName string, index int) (*component.Component, error) {
	class := cc.Class
	if class == "" {
		class = cc.Module
	}
	name := cc.Name + suffix
	services := component.RuntimeServices{
		ComponentName: name,
		Timers:        timers,
		Cache:         deps.Cache,
		Trace:         deps.Trace,
		Logger:        deps.logger(),
	}
	handler, err := deps.Registry.Build(class, cc.ComponentConfig, services)
	if err != nil {
		return nil, err
	}

	comp := &component.Component{
		Name:            name,
		Handler:         handler,
		NumInstances:    cc.NumInstances,
		InstanceName:    instanceName,
		FlowName:        flowName,
		Index:           index,
		InputQueue:      component.NewInputQueue(cc.QueueDepth),
		InputTransforms: cc.InputTransforms,
		InputSelection:  cc.InputSelection,
		ComponentConfig: cc.ComponentConfig,
		AppConfig:       appConfig,
		Timers:          timers,
		Trace:           deps.Trace,
		Logger:          deps.logger(),
		ErrorSink:       deps.ErrorSink,
	}
	if es, ok := handler.(component.EventSource); ok {
		comp.Source = es
	}
	if registerOwner != nil {
		registerOwner(comp.Name, comp)
	}
	if deps.RegisterCacheOwner != nil {
		deps.RegisterCacheOwner(comp.Name, comp)
	}
	return comp, nil
}

// Start connects every instance's broker connections, binds the broker
// input stage (if any), and launches all flows. Each instance gets its
// own derived, cancellable context so Stop can unblock Source-driven
// stages that have no input queue to post a STOP event to.
func (a *App) Start(ctx context.Context) error {
	for _, inst := range a.instances {
		instCtx, cancel := context.WithCancel(ctx)
		inst.cancel = cancel

		for _, conn := range inst.conns {
			if err := conn.Connect(instCtx); err != nil {
				cancel()
				return fmt.Errorf("app %q: connect: %w", a.Name, err)
			}
		}
		if inst.brokerInput != nil {
			if err := inst.brokerInput.Start(instCtx); err != nil {
				cancel()
				return fmt.Errorf("app %q: bind broker input: %w", a.Name, err)
			}
		}
		if inst.requester != nil {
			inst.requester.Start(instCtx)
		}
		for _, f := range inst.flows {
			f.Start(instCtx)
		}
	}
	return nil
}

// Stop cancels every instance's context (unblocking Source-driven
// stages), stops and joins every flow, and disconnects broker
// connections, instance by instance.
func (a *App) Stop() {
	for _, inst := range a.instances {
		if inst.cancel != nil {
			inst.cancel()
		}
		for _, f := range inst.flows {
			f.Stop()
		}
		for _, conn := range inst.conns {
			_ = conn.Disconnect(context.Background())
		}
	}
}

// SendMessage injects payload as an outbound Message directly at the
// app's broker-output stage, bypassing any input/routing/user-component
// hops, per §4.10's output-stage injection. It targets the first
// instance; an app-level-replicated app's other instances are not
// reachable this way, a simplification documented alongside this
// method's grounding.
func (a *App) SendMessage(ctx context.Context, payload any, topic string, userProperties map[string]any) error {
	if len(a.instances) == 0 || a.instances[0].outputComponent == nil {
		a.logger.Warn("app: send_message called with no broker output stage, discarding", "app", a.Name)
		return nil
	}
	out := a.instances[0].outputComponent
	msg := message.New(payload, topic, userProperties)
	msg.SetPrevious(map[string]any{"payload": payload, "topic": topic, "user_properties": userProperties})

	select {
	case out.InputQueue <- component.Event{Kind: component.KindMessage, Message: msg}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EntryQueue returns the input queue of the first instance's first
// flow's first component, for a caller that feeds this app's events
// from outside the broker/event-source path — namely the connector
// posting a failure onto the error flow's app. ok is false if the app
// has no flows, or its first component reads from its own EventSource
// rather than a queue.
func (a *App) EntryQueue() (chan<- component.Event, bool) {
	if len(a.instances) == 0 || len(a.instances[0].flows) == 0 {
		return nil, false
	}
	comps := a.instances[0].flows[0].Components
	if len(comps) == 0 || comps[0].Source != nil {
		return nil, false
	}
	return comps[0].InputQueue, true
}

// GetRequestResponse returns the first instance's request/reply
// Requester, if request_reply_enabled. ok is false otherwise.
func (a *App) GetRequestResponse() (*broker.Requester, bool) {
	if len(a.instances) == 0 || a.instances[0].requester == nil {
		return nil, false
	}
	return a.instances[0].requester, true
}
