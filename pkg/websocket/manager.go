// Package websocket manages named WebSocket sessions against Kraken's
// streaming API: one receive loop per connection, a durable set of active
// subscriptions, and automatic reconnection with subscription replay.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/veiloq/kraken-connector/pkg/logging"
)

// State is the lifecycle phase of one named connection.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateSubscribing
	StateReady
	StateClosing
	StateClosed
)

// String returns the string representation of a connection state
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateSubscribing:
		return "subscribing"
	case StateReady:
		return "ready"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Config holds connection manager configuration
type Config struct {
	// Endpoints maps connection names to WebSocket URLs. Callers may add
	// their own names; the defaults cover Kraken's public and private feeds.
	Endpoints map[string]string

	HandshakeTimeout  time.Duration
	HeartbeatInterval time.Duration

	// ReconnectInterval is the initial backoff between reconnect attempts;
	// it doubles per attempt up to MaxReconnectInterval.
	ReconnectInterval    time.Duration
	MaxReconnectInterval time.Duration

	// Logger defaults to the package logger when nil.
	Logger logging.Logger
}

// DefaultConfig returns the production Kraken endpoints and conservative
// timing defaults.
func DefaultConfig() Config {
	return Config{
		Endpoints: map[string]string{
			"public":  "wss://ws.kraken.com",
			"private": "wss://ws-auth.kraken.com",
		},
		HandshakeTimeout:     10 * time.Second,
		HeartbeatInterval:    20 * time.Second,
		ReconnectInterval:    time.Second,
		MaxReconnectInterval: 30 * time.Second,
	}
}

// Metrics holds per-connection statistics
type Metrics struct {
	ConnectedTime  time.Time
	MessageCount   int64
	ReconnectCount int64
	ErrorCount     int64
}

// Manager owns a set of named WebSocket connections. Each connection runs
// one receive loop; different connections never block each other.
type Manager interface {
	// Connect registers the named connection and starts its run loop: dial,
	// replay active subscriptions, read until the socket dies, reconnect.
	// It returns once the loop is started; State reports progress. The loop
	// stops when ctx is cancelled or Close is called.
	Connect(ctx context.Context, name string, handler Handler) error

	// Subscribe records a subscription on the named connection and sends the
	// subscribe frame if the connection is ready. Subscriptions issued
	// before the socket is up are queued and sent during the next replay.
	Subscribe(ctx context.Context, name string, params map[string]interface{}, pairs []string) error

	// Unsubscribe removes a tracked subscription and, if connected, sends an
	// unsubscribe frame. Unsubscribing an untracked subscription is a no-op.
	Unsubscribe(ctx context.Context, name string, params map[string]interface{}, pairs []string) error

	// Send writes a raw frame (e.g. {"event":"ping"}) to the named connection.
	Send(name string, payload interface{}) error

	// State returns the current state of the named connection;
	// StateDisconnected for unknown names.
	State(name string) State

	// Metrics returns the named connection's counters.
	Metrics(name string) Metrics

	// Close stops the named connection's run loop, sends a close frame and
	// prevents any further reconnect. It interrupts an in-flight read or
	// reconnect backoff promptly.
	Close(name string) error

	// CloseAll closes every connection.
	CloseAll() error
}

// manager implements the Manager interface
type manager struct {
	config Config
	logger logging.Logger

	mu    sync.Mutex
	conns map[string]*connection
}

// NewManager creates a connection manager with the given configuration.
// Zero config fields fall back to DefaultConfig values.
func NewManager(config Config) Manager {
	defaults := DefaultConfig()
	if config.Endpoints == nil {
		config.Endpoints = defaults.Endpoints
	}
	if config.HandshakeTimeout == 0 {
		config.HandshakeTimeout = defaults.HandshakeTimeout
	}
	if config.HeartbeatInterval == 0 {
		config.HeartbeatInterval = defaults.HeartbeatInterval
	}
	if config.ReconnectInterval == 0 {
		config.ReconnectInterval = defaults.ReconnectInterval
	}
	if config.MaxReconnectInterval == 0 {
		config.MaxReconnectInterval = defaults.MaxReconnectInterval
	}
	if config.Logger == nil {
		config.Logger = logging.NewLogger()
	}

	return &manager{
		config: config,
		logger: config.Logger,
		conns:  make(map[string]*connection),
	}
}

// Connect implements Manager interface
func (m *manager) Connect(ctx context.Context, name string, handler Handler) error {
	url, ok := m.config.Endpoints[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownEndpoint, name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.conns[name]; ok && existing.currentState() != StateClosed {
		return fmt.Errorf("%w: %q", ErrAlreadyConnected, name)
	}

	connCtx, cancel := context.WithCancel(ctx)
	c := &connection{
		name:     name,
		url:      url,
		handler:  handler,
		config:   m.config,
		logger:   m.logger.WithFields(logging.String("connection", name)),
		ctx:      connCtx,
		cancel:   cancel,
		state:    StateConnecting,
		finished: make(chan struct{}),
	}
	m.conns[name] = c

	go c.run()
	return nil
}

func (m *manager) get(name string) (*connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrConnectionNotFound, name)
	}
	return c, nil
}

// Subscribe implements Manager interface
func (m *manager) Subscribe(ctx context.Context, name string, params map[string]interface{}, pairs []string) error {
	c, err := m.get(name)
	if err != nil {
		return err
	}
	return c.subscribe(Subscription{Params: params, Pairs: pairs})
}

// Unsubscribe implements Manager interface
func (m *manager) Unsubscribe(ctx context.Context, name string, params map[string]interface{}, pairs []string) error {
	c, err := m.get(name)
	if err != nil {
		return err
	}
	return c.unsubscribe(Subscription{Params: params, Pairs: pairs})
}

// Send implements Manager interface
func (m *manager) Send(name string, payload interface{}) error {
	c, err := m.get(name)
	if err != nil {
		return err
	}
	return c.send(payload)
}

// State implements Manager interface
func (m *manager) State(name string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.conns[name]; ok {
		return c.currentState()
	}
	return StateDisconnected
}

// Metrics implements Manager interface
func (m *manager) Metrics(name string) Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.conns[name]; ok {
		return c.snapshotMetrics()
	}
	return Metrics{}
}

// Close implements Manager interface
func (m *manager) Close(name string) error {
	c, err := m.get(name)
	if err != nil {
		return err
	}
	return c.close()
}

// CloseAll implements Manager interface
func (m *manager) CloseAll() error {
	m.mu.Lock()
	conns := make([]*connection, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	var firstErr error
	for _, c := range conns {
		if err := c.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// connection is one named WebSocket session. The socket handle is owned
// exclusively by the run loop and replaced wholesale on reconnect; the
// active-subscription slice is the durable state that survives socket loss.
type connection struct {
	name    string
	url     string
	handler Handler
	config  Config
	logger  logging.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	finished chan struct{}

	mu      sync.Mutex // guards state, sock, subs, pending
	state   State
	sock    *websocket.Conn
	subs    []Subscription // ordered: replay preserves issue order
	pending []Subscription // issued mid-replay, transmitted before Ready

	writeMu sync.Mutex

	metricsMu sync.RWMutex
	metrics   Metrics
}

func (c *connection) currentState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *connection) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *connection) snapshotMetrics() Metrics {
	c.metricsMu.RLock()
	defer c.metricsMu.RUnlock()
	return c.metrics
}

func (c *connection) bumpErrors() {
	c.metricsMu.Lock()
	c.metrics.ErrorCount++
	c.metricsMu.Unlock()
}

// run is the connection's lifecycle loop: dial, replay, read, reconnect.
// It exits only on explicit close or context cancellation.
func (c *connection) run() {
	defer close(c.finished)

	for {
		sock, err := c.dial()
		if err != nil {
			break
		}

		gen := make(chan struct{})
		go c.watch(sock, gen)
		go c.heartbeat(sock, gen)

		c.replay(sock)
		c.readLoop(sock)

		close(gen)
		_ = sock.Close()

		if c.ctx.Err() != nil || c.currentState() == StateClosing {
			break
		}

		c.setState(StateDisconnected)
		c.logger.Warn("connection lost, reconnecting")
	}

	c.mu.Lock()
	c.state = StateClosed
	c.sock = nil
	c.subs = nil
	c.pending = nil
	c.mu.Unlock()
	c.logger.Info("connection closed",
		logging.Int64("messages", c.snapshotMetrics().MessageCount))
}

// dial establishes a socket with capped exponential backoff. It retries
// until it succeeds or the connection context is cancelled.
func (c *connection) dial() (*websocket.Conn, error) {
	c.setState(StateConnecting)

	delay := c.config.ReconnectInterval
	attempt := 0
	for {
		if err := c.ctx.Err(); err != nil {
			return nil, err
		}
		attempt++

		dialer := websocket.Dialer{
			HandshakeTimeout: c.config.HandshakeTimeout,
		}
		sock, _, err := dialer.DialContext(c.ctx, c.url, nil)
		if err == nil {
			c.mu.Lock()
			c.sock = sock
			c.state = StateConnected
			c.mu.Unlock()

			c.metricsMu.Lock()
			c.metrics.ConnectedTime = time.Now()
			c.metrics.ReconnectCount++
			c.metricsMu.Unlock()

			c.logger.Info("websocket connected", logging.Int("attempt", attempt))
			return sock, nil
		}

		c.bumpErrors()
		c.logger.Warn("connection attempt failed",
			logging.Int("attempt", attempt),
			logging.Duration("backoff", delay),
			logging.Error(err),
		)

		select {
		case <-c.ctx.Done():
			return nil, c.ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > c.config.MaxReconnectInterval {
			delay = c.config.MaxReconnectInterval
		}
	}
}

// replay re-sends every active subscription, in issue order, on the fresh
// socket. The connection reports ready only after every tracked subscription,
// including any issued while the replay itself is in flight, has been sent on
// this socket generation.
func (c *connection) replay(sock *websocket.Conn) {
	c.mu.Lock()
	subs := make([]Subscription, len(c.subs))
	copy(subs, c.subs)
	// Leftovers from a generation whose replay died mid-send are already in
	// subs and covered by the snapshot.
	c.pending = nil
	if c.state == StateConnected {
		c.state = StateSubscribing
	}
	c.mu.Unlock()

	sent := 0
	for _, sub := range subs {
		if err := c.writeJSON(sock, sub.frame("subscribe")); err != nil {
			// The socket is dead; the read loop will notice and reconnect,
			// replaying the full set again.
			c.logger.Warn("subscription replay failed", logging.Error(err))
			c.bumpErrors()
			return
		}
		sent++
	}

	// Subscriptions issued after the snapshot was taken land in pending;
	// drain it before flipping to Ready so none is stranded untransmitted
	// until the next reconnect.
	for {
		c.mu.Lock()
		if len(c.pending) == 0 {
			if c.state == StateSubscribing {
				c.state = StateReady
			}
			c.mu.Unlock()
			break
		}
		sub := c.pending[0]
		c.pending = c.pending[1:]
		c.mu.Unlock()

		if err := c.writeJSON(sock, sub.frame("subscribe")); err != nil {
			c.logger.Warn("subscription replay failed", logging.Error(err))
			c.bumpErrors()
			return
		}
		sent++
	}

	if sent > 0 {
		c.logger.Info("subscriptions replayed", logging.Int("count", sent))
	}
}

// watch closes the socket when the connection context is cancelled so a
// blocked read returns promptly instead of waiting for network activity.
func (c *connection) watch(sock *websocket.Conn, gen chan struct{}) {
	select {
	case <-c.ctx.Done():
		_ = sock.Close()
	case <-gen:
	}
}

// heartbeat sends periodic ping frames for the lifetime of one socket.
func (c *connection) heartbeat(sock *websocket.Conn, gen chan struct{}) {
	ticker := time.NewTicker(c.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.writeMu.Lock()
			err := sock.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-gen:
			return
		}
	}
}

// readLoop reads frames until the socket dies and dispatches each one to the
// handler in arrival order.
func (c *connection) readLoop(sock *websocket.Conn) {
	deadline := 3 * c.config.HeartbeatInterval
	_ = sock.SetReadDeadline(time.Now().Add(deadline))
	sock.SetPongHandler(func(string) error {
		return sock.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		_ = sock.SetReadDeadline(time.Now().Add(deadline))
		_, data, err := sock.ReadMessage()
		if err != nil {
			if c.ctx.Err() == nil && websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("read error", logging.Error(err))
				c.bumpErrors()
			}
			return
		}

		c.metricsMu.Lock()
		c.metrics.MessageCount++
		c.metricsMu.Unlock()

		c.dispatch(data)
	}
}

// dispatch routes one inbound frame to the handler. Malformed frames are
// delivered as error-shaped messages; handler panics are recovered so a
// misbehaving handler cannot take down the connection.
func (c *connection) dispatch(data []byte) {
	if c.handler == nil {
		return
	}

	msg := Message{Connection: c.name}
	if json.Valid(data) {
		msg.Data = json.RawMessage(data)
	} else {
		msg.Err = &ProtocolError{Frame: data}
		c.bumpErrors()
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("handler panic recovered",
				logging.String("panic", fmt.Sprintf("%v", r)),
			)
		}
	}()
	c.handler(msg)
}

func (c *connection) subscribe(sub Subscription) error {
	c.mu.Lock()
	if c.state == StateClosing || c.state == StateClosed {
		c.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrConnectionClosed, c.name)
	}
	c.subs = append(c.subs, sub)
	if c.state == StateSubscribing {
		// A replay is in flight and its snapshot predates this subscription.
		// Hand the frame to the replay loop so it still goes out on the
		// current socket generation, after the snapshot.
		c.pending = append(c.pending, sub)
		c.mu.Unlock()
		return nil
	}
	ready := c.state == StateReady
	sock := c.sock
	c.mu.Unlock()

	if !ready || sock == nil {
		// Queued: sent during the next replay step.
		return nil
	}
	return c.writeJSON(sock, sub.frame("subscribe"))
}

func (c *connection) unsubscribe(sub Subscription) error {
	key := sub.key()

	c.mu.Lock()
	idx := -1
	for i, s := range c.subs {
		if s.key() == key {
			idx = i
			break
		}
	}
	if idx < 0 {
		c.mu.Unlock()
		return nil
	}
	c.subs = append(c.subs[:idx], c.subs[idx+1:]...)
	unsent := false
	for i, p := range c.pending {
		if p.key() == key {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			unsent = true
			break
		}
	}
	connected := c.state == StateReady || c.state == StateSubscribing || c.state == StateConnected
	sock := c.sock
	c.mu.Unlock()

	// A subscription still sitting in pending was never transmitted on this
	// socket, so there is nothing to unsubscribe from.
	if unsent || !connected || sock == nil {
		return nil
	}
	return c.writeJSON(sock, sub.frame("unsubscribe"))
}

func (c *connection) send(payload interface{}) error {
	c.mu.Lock()
	sock := c.sock
	up := c.state == StateConnected || c.state == StateSubscribing || c.state == StateReady
	c.mu.Unlock()

	if !up || sock == nil {
		return fmt.Errorf("%w: %q", ErrNotConnected, c.name)
	}
	return c.writeJSON(sock, payload)
}

func (c *connection) writeJSON(sock *websocket.Conn, payload interface{}) error {
	var data []byte
	if raw, ok := payload.([]byte); ok {
		data = raw
	} else {
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return sock.WriteMessage(websocket.TextMessage, data)
}

// close stops the run loop, interrupting an in-flight read or reconnect
// backoff, and waits for it to finish. Idempotent.
func (c *connection) close() error {
	c.mu.Lock()
	if c.state == StateClosed || c.state == StateClosing {
		c.mu.Unlock()
		<-c.finished
		return nil
	}
	c.state = StateClosing
	sock := c.sock
	c.mu.Unlock()

	if sock != nil {
		c.writeMu.Lock()
		_ = sock.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closed connection"))
		c.writeMu.Unlock()
	}

	c.cancel()
	<-c.finished
	return nil
}
