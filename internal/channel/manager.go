package channel

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/hyperengineering/tether/internal/types"
)

// Connection lifecycle phases.
const (
	StateDisconnected       = "disconnected"
	StateConnecting         = "connecting"
	StateOpen               = "open"
	StateReconnectScheduled = "reconnect_scheduled"
)

// TokenSource supplies the credential presented when opening the
// channel. A source reporting no token leaves the manager disconnected
// without scheduling a retry; reconnection resumes when Connect is
// called again with a token available.
type TokenSource interface {
	Token() (string, bool)
}

// StaticToken is a TokenSource backed by a fixed string. An empty
// string means no credential.
type StaticToken string

func (t StaticToken) Token() (string, bool) { return string(t), t != "" }

// Options configures a Manager.
type Options struct {
	URL               string
	BackoffFloor      time.Duration
	BackoffCeiling    time.Duration
	HeartbeatInterval time.Duration
	Transport         Transport
	Clock             Clock
	Logger            *slog.Logger
}

// Manager owns the real-time channel: it opens the connection, reads
// and dispatches inbound events, sends heartbeats, and reconnects with
// capped exponential backoff after abnormal closures. At most one live
// connection exists at a time; a connect epoch fences out goroutines
// belonging to superseded connections.
type Manager struct {
	url        string
	tokens     TokenSource
	transport  Transport
	clock      Clock
	logger     *slog.Logger
	dispatch   *dispatcher
	heartbeatI time.Duration

	mu             sync.Mutex
	phase          string
	epoch          uint64
	conn           Conn
	backoff        *backoff
	reconnectTimer Timer
	heartbeatTimer Timer
	connectedAt    *time.Time
}

// NewManager creates a disconnected manager. Call Connect to open the
// channel.
func NewManager(opts Options, tokens TokenSource, state *LiveState) *Manager {
	if opts.Transport == nil {
		opts.Transport = WebSocketTransport{}
	}
	if opts.Clock == nil {
		opts.Clock = NewClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	logger := opts.Logger.With("component", "channel")
	return &Manager{
		url:        opts.URL,
		tokens:     tokens,
		transport:  opts.Transport,
		clock:      opts.Clock,
		logger:     logger,
		dispatch:   newDispatcher(state, logger),
		heartbeatI: opts.HeartbeatInterval,
		phase:      StateDisconnected,
		backoff:    newBackoff(opts.BackoffFloor, opts.BackoffCeiling),
	}
}

// Subscribe registers a handler for broadcast events of the given type.
// The returned func removes the subscription.
func (m *Manager) Subscribe(eventType string, h EventHandler) func() {
	return m.dispatch.subscribe(eventType, h)
}

// LastEvent returns the most recent retained event for a type that has
// no broadcast subscribers.
func (m *Manager) LastEvent(eventType string) (types.ChannelEvent, bool) {
	return m.dispatch.last(eventType)
}

// Connect opens the channel. It is a no-op unless the manager is
// disconnected; an in-flight attempt or open connection is left alone.
// With no token available the manager stays disconnected and schedules
// nothing.
func (m *Manager) Connect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != StateDisconnected {
		return
	}
	m.startAttemptLocked()
}

// Disconnect tears down the channel intentionally: the connection is
// closed with a normal closure, pending reconnects and heartbeats are
// canceled, and backoff is reset. Idempotent.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardownLocked(CodeNormalClosure, "client disconnect")
}

// Send delivers an outbound event on the open connection. While not
// open the event is dropped; clients needing delivery guarantees go
// through the action queue instead.
func (m *Manager) Send(ctx context.Context, ev types.ChannelEvent) error {
	m.mu.Lock()
	conn := m.conn
	open := m.phase == StateOpen
	m.mu.Unlock()
	if !open || conn == nil {
		m.logger.Debug("dropping send while channel not open", "type", ev.Type)
		return nil
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return conn.Write(ctx, data)
}

// Snapshot returns the current connection state for status reporting.
func (m *Manager) Snapshot() types.ConnectionSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return types.ConnectionSnapshot{
		Phase:            m.phase,
		ReconnectAttempt: m.backoff.attempt,
		BackoffDelay:     m.backoff.current(),
		ConnectedAt:      m.connectedAt,
	}
}

// startAttemptLocked transitions to connecting and dials on a fresh
// goroutine. Caller holds m.mu.
func (m *Manager) startAttemptLocked() {
	token, ok := m.tokens.Token()
	if !ok {
		m.logger.Info("no auth token available, staying disconnected")
		m.phase = StateDisconnected
		return
	}
	m.phase = StateConnecting
	m.epoch++
	epoch := m.epoch
	go m.attempt(epoch, token)
}

func (m *Manager) attempt(epoch uint64, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	conn, err := m.transport.Dial(ctx, m.dialURL(token))

	m.mu.Lock()
	if epoch != m.epoch || m.phase != StateConnecting {
		m.mu.Unlock()
		if err == nil {
			conn.Close(CodeNormalClosure, "superseded")
		}
		return
	}
	if err != nil {
		m.logger.Warn("connect failed", "error", err, "attempt", m.backoff.attempt)
		m.scheduleReconnectLocked()
		m.mu.Unlock()
		return
	}

	now := time.Now().UTC()
	m.conn = conn
	m.phase = StateOpen
	m.connectedAt = &now
	m.backoff.reset()
	m.scheduleHeartbeatLocked(epoch)
	m.mu.Unlock()

	m.logger.Info("channel open")
	go m.readLoop(epoch, conn)
}

func (m *Manager) dialURL(token string) string {
	u, err := url.Parse(m.url)
	if err != nil {
		return m.url
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}

// readLoop pumps inbound frames into the dispatcher until the
// connection dies, then decides whether the closure is terminal.
func (m *Manager) readLoop(epoch uint64, conn Conn) {
	for {
		data, err := conn.Read(context.Background())
		if err != nil {
			m.onReadError(epoch, err)
			return
		}
		m.dispatch.handle(data)
	}
}

func (m *Manager) onReadError(epoch uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if epoch != m.epoch {
		return
	}

	m.stopHeartbeatLocked()
	m.conn = nil
	m.connectedAt = nil

	switch code := CloseCode(err); code {
	case CodeNormalClosure:
		m.logger.Info("channel closed by server")
		m.phase = StateDisconnected
		m.backoff.reset()
	case CodeAuthFailure:
		m.logger.Warn("channel closed: auth failure, not retrying")
		m.phase = StateDisconnected
		m.backoff.reset()
	default:
		m.logger.Warn("channel lost", "error", err, "close_code", code)
		m.scheduleReconnectLocked()
	}
}

// scheduleReconnectLocked arms the backoff timer. When it fires the
// delay escalates and a new attempt starts. Caller holds m.mu.
func (m *Manager) scheduleReconnectLocked() {
	m.phase = StateReconnectScheduled
	epoch := m.epoch
	delay := m.backoff.current()
	m.logger.Info("reconnect scheduled", "delay", delay, "attempt", m.backoff.attempt)
	m.reconnectTimer = m.clock.AfterFunc(delay, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if epoch != m.epoch || m.phase != StateReconnectScheduled {
			return
		}
		m.backoff.advance()
		m.startAttemptLocked()
	})
}

// scheduleHeartbeatLocked arms the next heartbeat ping. A write failure
// closes the connection so the read loop observes the loss and drives
// the usual reconnect path. Caller holds m.mu.
func (m *Manager) scheduleHeartbeatLocked(epoch uint64) {
	if m.heartbeatI <= 0 {
		return
	}
	m.heartbeatTimer = m.clock.AfterFunc(m.heartbeatI, func() {
		m.mu.Lock()
		if epoch != m.epoch || m.phase != StateOpen || m.conn == nil {
			m.mu.Unlock()
			return
		}
		conn := m.conn
		m.scheduleHeartbeatLocked(epoch)
		m.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := conn.Write(ctx, []byte(`{"type":"ping"}`)); err != nil {
			m.logger.Warn("heartbeat write failed", "error", err)
			// Not a normal closure: the read loop must see an
			// abnormal error and schedule a reconnect.
			conn.Close(1001, "heartbeat failure")
		}
	})
}

func (m *Manager) stopHeartbeatLocked() {
	if m.heartbeatTimer != nil {
		m.heartbeatTimer.Stop()
		m.heartbeatTimer = nil
	}
}

// teardownLocked cancels timers, closes any live connection with the
// given code, and returns to disconnected. Bumping the epoch orphans
// every goroutine tied to the old connection. Caller holds m.mu.
func (m *Manager) teardownLocked(code int, reason string) {
	m.epoch++
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	m.stopHeartbeatLocked()
	if m.conn != nil {
		m.conn.Close(code, reason)
		m.conn = nil
	}
	m.connectedAt = nil
	m.phase = StateDisconnected
	m.backoff.reset()
}
