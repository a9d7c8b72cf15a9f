// Package message implements the Message envelope that flows between
// components: payload, topic, user properties, scratch user_data, the
// previous component's return value, and ack/nack disposition.
package message

import (
	"sync"

	"github.com/flowkit/connector/internal/expr"
)

// NackInfo describes why a Message was negatively acknowledged, passed
// to registered nack callbacks exactly once.
type NackInfo struct {
	Reason        string
	ExceptionKind string
	Err           error
}

// IterationState coordinates ack deferral when a component emits K
// messages from a single input (the "iterate" pattern). The upstream
// ack/nack fires only once every sibling has reached a terminal
// disposition.
type IterationState struct {
	mu        sync.Mutex
	total     int
	done      int
	anyFailed bool
	onJoin    func(failed bool)
}

// NewIterationState creates shared state for total siblings; onJoin is
// invoked exactly once, when the last sibling completes.
func NewIterationState(total int, onJoin func(failed bool)) *IterationState {
	return &IterationState{total: total, onJoin: onJoin}
}

// complete marks one sibling as terminal. failed indicates that sibling
// nacked rather than acked.
func (s *IterationState) complete(failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done++
	if failed {
		s.anyFailed = true
	}
	if s.done >= s.total && s.onJoin != nil {
		onJoin := s.onJoin
		s.onJoin = nil
		anyFailed := s.anyFailed
		s.mu.Unlock()
		onJoin(anyFailed)
		s.mu.Lock()
	}
}

// Message is the in-flight envelope passed between components in a flow.
// The original input's payload, topic, and user_properties are immutable
// for the lifetime of the Message; transforms write only to user_data or
// previous.
type Message struct {
	mu sync.Mutex

	payload        any
	topic          string
	topicLevels    []string
	topicSplit     bool
	userProperties map[string]any

	userData map[string]any
	previous any

	ackCallbacks  []func()
	nackCallbacks []func(NackInfo)
	disposed      bool // exactly one of ack/nack has fired

	discarded bool

	iteration *IterationState
}

// New constructs a Message for an originating input event. userProperties
// and payload become the immutable original data for this Message's
// lifetime.
func New(payload any, topic string, userProperties map[string]any) *Message {
	if userProperties == nil {
		userProperties = map[string]any{}
	}
	return &Message{
		payload:        payload,
		topic:          topic,
		userProperties: userProperties,
		userData:       map[string]any{},
	}
}

// --- expr.Source implementation -------------------------------------------

func (m *Message) Payload() any { return m.payload }

func (m *Message) Topic() string { return m.topic }

func (m *Message) TopicLevels() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.topicSplit {
		m.topicLevels = splitTopic(m.topic)
		m.topicSplit = true
	}
	return m.topicLevels
}

func (m *Message) UserProperties() map[string]any { return m.userProperties }

func (m *Message) Previous() any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.previous
}

func (m *Message) SetPrevious(v any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.previous = v
}

func (m *Message) UserDataRegion(name string) any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userData[name]
}

func (m *Message) SetUserDataRegion(name string, v any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.userData[name] = v
}

func splitTopic(topic string) []string {
	if topic == "" {
		return nil
	}
	var levels []string
	start := 0
	for i := 0; i <= len(topic); i++ {
		if i == len(topic) || topic[i] == '/' {
			levels = append(levels, topic[start:i])
			start = i + 1
		}
	}
	return levels
}

// --- data access -----------------------------------------------------------

// GetData evaluates expression raw against this Message. See
// internal/expr for the expression grammar.
func (m *Message) GetData(raw string) (any, error) {
	e, err := expr.Parse(raw)
	if err != nil {
		return nil, err
	}
	return expr.Evaluate(expr.NewContext(m), e)
}

// SetData sets expression raw to value. Only user_data.* and previous
// are writable.
func (m *Message) SetData(raw string, value any) error {
	e, err := expr.Parse(raw)
	if err != nil {
		return err
	}
	return expr.Set(expr.NewContext(m), e, value)
}

func (m *Message) GetPayload() any { return m.payload }

func (m *Message) GetTopic() string { return m.topic }

func (m *Message) GetUserProperties() map[string]any { return m.userProperties }

func (m *Message) GetPrevious() any { return m.Previous() }

// --- ack/nack ----------------------------------------------------------

// AddAckCallback registers a callback invoked exactly once, in
// registration order, when the Message reaches a positive terminal
// disposition.
func (m *Message) AddAckCallback(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ackCallbacks = append(m.ackCallbacks, fn)
}

// AddNackCallback registers a callback invoked exactly once, in
// registration order, when the Message reaches a negative terminal
// disposition.
func (m *Message) AddNackCallback(fn func(NackInfo)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nackCallbacks = append(m.nackCallbacks, fn)
}

// CallAcknowledgements fires all registered ack callbacks exactly once.
// If an IterationState is attached (this Message is one of K siblings
// from an iterate-pattern component), completion is deferred to the
// join instead of firing immediately.
func (m *Message) CallAcknowledgements() {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	m.disposed = true
	iter := m.iteration
	callbacks := m.ackCallbacks
	m.mu.Unlock()

	if iter != nil {
		iter.complete(false)
		return
	}
	for _, fn := range callbacks {
		fn()
	}
}

// CallNegativeAcknowledgements fires all registered nack callbacks
// exactly once with the given info. If invoke already raised and a
// downstream later tries to ack, the nack path wins because disposed is
// already latched by the time the late ack arrives.
func (m *Message) CallNegativeAcknowledgements(info NackInfo) {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	m.disposed = true
	iter := m.iteration
	callbacks := m.nackCallbacks
	m.mu.Unlock()

	if iter != nil {
		iter.complete(true)
		return
	}
	for _, fn := range callbacks {
		fn(info)
	}
}

// Discard marks the Message so the current component suppresses its
// output. This is an ack-equivalent terminal disposition for the current
// hop; whether the upstream ack fires is governed by the component
// runtime (it still fires CallAcknowledgements for a discarded message,
// since the input was handled successfully).
func (m *Message) Discard() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.discarded = true
}

// Discarded reports whether Discard was called.
func (m *Message) Discarded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.discarded
}

// SetIterationState attaches join coordination for an iterate-pattern
// sibling; nil detaches (normal single-output behavior).
func (m *Message) SetIterationState(s *IterationState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.iteration = s
}

// Clone produces a sibling Message for an iterate-pattern component: it
// shares the original payload/topic/user_properties (immutable) but gets
// its own previous/user_data and ack/nack bookkeeping, joined through the
// supplied IterationState rather than firing its own ack/nack directly.
func (m *Message) Clone(iter *IterationState) *Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := &Message{
		payload:        m.payload,
		topic:          m.topic,
		userProperties: m.userProperties,
		userData:       map[string]any{},
		iteration:      iter,
	}
	return clone
}
