package websocket

import (
	"context"
	"encoding/json"
	"sync"
)

// MockManager implements the Manager interface for testing consumers of the
// connection manager without any network activity.
type MockManager struct {
	mu sync.RWMutex

	handlers map[string]Handler
	states   map[string]State
	subs     map[string][]Subscription

	// For verifying test expectations
	connectCalls     map[string]int
	subscribeCalls   map[string]int
	unsubscribeCalls map[string]int
	sendCalls        map[string]int
	closeCalls       map[string]int

	// For simulating errors
	connectError     error
	subscribeError   error
	unsubscribeError error
	sendError        error
	closeError       error
}

// NewMockManager creates a new mock manager for testing
func NewMockManager() *MockManager {
	return &MockManager{
		handlers:         make(map[string]Handler),
		states:           make(map[string]State),
		subs:             make(map[string][]Subscription),
		connectCalls:     make(map[string]int),
		subscribeCalls:   make(map[string]int),
		unsubscribeCalls: make(map[string]int),
		sendCalls:        make(map[string]int),
		closeCalls:       make(map[string]int),
	}
}

// Connect implements Manager interface
func (m *MockManager) Connect(ctx context.Context, name string, handler Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.connectCalls[name]++
	if m.connectError != nil {
		return m.connectError
	}

	m.handlers[name] = handler
	m.states[name] = StateReady
	return nil
}

// Subscribe implements Manager interface
func (m *MockManager) Subscribe(ctx context.Context, name string, params map[string]interface{}, pairs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.subscribeCalls[name]++
	if m.subscribeError != nil {
		return m.subscribeError
	}
	if _, ok := m.states[name]; !ok {
		return ErrConnectionNotFound
	}

	m.subs[name] = append(m.subs[name], Subscription{Params: params, Pairs: pairs})
	return nil
}

// Unsubscribe implements Manager interface
func (m *MockManager) Unsubscribe(ctx context.Context, name string, params map[string]interface{}, pairs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.unsubscribeCalls[name]++
	if m.unsubscribeError != nil {
		return m.unsubscribeError
	}

	key := Subscription{Params: params, Pairs: pairs}.key()
	active := m.subs[name]
	for i, s := range active {
		if s.key() == key {
			m.subs[name] = append(active[:i], active[i+1:]...)
			break
		}
	}
	return nil
}

// Send implements Manager interface
func (m *MockManager) Send(name string, payload interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sendCalls[name]++
	return m.sendError
}

// State implements Manager interface
func (m *MockManager) State(name string) State {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if s, ok := m.states[name]; ok {
		return s
	}
	return StateDisconnected
}

// Metrics implements Manager interface
func (m *MockManager) Metrics(name string) Metrics {
	return Metrics{}
}

// Close implements Manager interface
func (m *MockManager) Close(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closeCalls[name]++
	if m.closeError != nil {
		return m.closeError
	}
	m.states[name] = StateClosed
	return nil
}

// CloseAll implements Manager interface
func (m *MockManager) CloseAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name := range m.states {
		m.states[name] = StateClosed
	}
	return m.closeError
}

// SimulateMessage delivers a frame to the named connection's handler as if it
// had arrived from the exchange.
func (m *MockManager) SimulateMessage(name string, data []byte) {
	m.mu.RLock()
	handler := m.handlers[name]
	m.mu.RUnlock()

	if handler == nil {
		return
	}
	msg := Message{Connection: name}
	if json.Valid(data) {
		msg.Data = json.RawMessage(data)
	} else {
		msg.Err = &ProtocolError{Frame: data}
	}
	handler(msg)
}

// SetState overrides the reported state of a connection
func (m *MockManager) SetState(name string, state State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[name] = state
}

// ActiveSubscriptions returns a copy of the tracked subscriptions for a connection
func (m *MockManager) ActiveSubscriptions(name string) []Subscription {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Subscription, len(m.subs[name]))
	copy(out, m.subs[name])
	return out
}

// Error injection setters

func (m *MockManager) SetConnectError(err error)     { m.mu.Lock(); m.connectError = err; m.mu.Unlock() }
func (m *MockManager) SetSubscribeError(err error)   { m.mu.Lock(); m.subscribeError = err; m.mu.Unlock() }
func (m *MockManager) SetUnsubscribeError(err error) { m.mu.Lock(); m.unsubscribeError = err; m.mu.Unlock() }
func (m *MockManager) SetSendError(err error)        { m.mu.Lock(); m.sendError = err; m.mu.Unlock() }
func (m *MockManager) SetCloseError(err error)       { m.mu.Lock(); m.closeError = err; m.mu.Unlock() }

// Call counters

func (m *MockManager) GetConnectCalls(name string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connectCalls[name]
}

func (m *MockManager) GetSubscribeCalls(name string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.subscribeCalls[name]
}

func (m *MockManager) GetUnsubscribeCalls(name string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.unsubscribeCalls[name]
}

func (m *MockManager) GetSendCalls(name string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sendCalls[name]
}

func (m *MockManager) GetCloseCalls(name string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closeCalls[name]
}
