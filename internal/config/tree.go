package config

import (
	"github.com/flowkit/connector/internal/transform"
)

// LogConfig controls the process-wide logger, matching internal/config's
// ambient logging setup.
type LogConfig struct {
	StdoutLogLevel string
	LogFileLevel   string
	LogFile        string
	LogFormat      string
}

// TraceConfig controls the optional file tee of the internal/trace event
// bus: events are written to TraceFile when EnableTrace is set and
// TraceFile is non-empty.
type TraceConfig struct {
	TraceFile   string
	EnableTrace bool
}

// Subscription is one broker topic subscription.
type Subscription struct {
	Topic string
	QoS   int
}

// Component is a resolved component configuration: name, module-or-class
// reference, component_config (possibly containing DeferredExpr/
// DeferredInvoke leaves resolved per-Message), ordered input transforms,
// input selection, and instance/queue sizing.
type Component struct {
	Name             string
	Module           string
	Class            string
	BasePath         string
	NumInstances     int
	QueueDepth       int
	Disabled         bool
	ComponentConfig  map[string]any
	InputTransforms  []transform.Transform
	InputSelection   any // nil means default "previous"; may be an expr.Expr or a literal
	Subscriptions    []Subscription
}

// Flow is a resolved ordered pipeline of component configurations.
type Flow struct {
	Name        string
	Components  []Component
	TraceLevel  string
}

// Broker is the simplified-app broker block: connection parameters plus
// which of input/output/request-reply are enabled.
type Broker struct {
	BrokerType            string
	URL                   string
	Username              string
	Password              string
	VPN                   string
	TrustStorePath        string
	ReconnectionStrategy  string
	RetryInterval         int
	RetryCount            int
	InputEnabled          bool
	OutputEnabled         bool
	RequestReplyEnabled   bool
	QueueName             string
	CreateQueueOnStart    bool
	PayloadEncoding       string
	PayloadFormat         string
	MaxRedeliveryCount    int
	RequestExpiryMS       int
	ResponseTopicPrefix   string
	ResponseTopicSuffix   string
	ResponseQueuePrefix   string
	UserPropReplyTopicKey string
	UserPropReplyMetaKey  string
	CopyUserProperties    bool
	PropagateAcks         bool
}

// App is a resolved application: either standard (Flows populated) or
// simplified (Broker + Components populated).
type App struct {
	Name         string
	NumInstances int
	Broker       *Broker
	Config       map[string]any
	Flows        []Flow
	Components   []Component
}

// Root is the fully resolved, merged configuration tree.
type Root struct {
	Log       LogConfig
	Trace     TraceConfig
	Apps      []App
	ErrorFlow *Flow // nil when no top-level "error_flow:" block is configured
}

// Simplified reports whether a is a simplified (broker+components) app
// rather than a standard (flows) app.
func (a App) Simplified() bool { return a.Broker != nil }
