package feed

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"fleetwatch/internal/observability/metrics"
)

// State is the connection lifecycle state of the upstream feed.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
)

// Conn is the subset of the websocket connection the manager uses.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteJSON(v any) error
	Close() error
}

// Dialer opens one upstream connection. The default dials the vendor
// endpoint over gorilla/websocket with subprotocol negotiation and the
// static bearer header.
type Dialer func(ctx context.Context, url string, header http.Header) (Conn, error)

// MessageHandler receives one raw inbound frame. Handlers run on the
// read loop; per-message decode failures belong to the handler, not the
// manager.
type MessageHandler func(data []byte)

// Config carries the upstream endpoint and tuning knobs.
type Config struct {
	URL          string
	Token        string
	Subprotocol  string
	EventTypes   []string
	PartitionID  int
	MaxBatchSize int

	HeartbeatInterval    time.Duration
	BackoffBase          time.Duration
	MaxReconnectAttempts int
}

// Status is the health surface of the manager. It is always computable
// and never blocks on the socket.
type Status struct {
	State             State     `json:"state"`
	Connected         bool      `json:"connected"`
	ReconnectAttempts int       `json:"reconnectAttempts"`
	LastHeartbeat     time.Time `json:"lastHeartbeat"`
	EventsTracked     int64     `json:"eventsTracked"`
}

// subscribeCommand is sent on every successful open.
type subscribeCommand struct {
	Action       string   `json:"Action"`
	EventTypes   []string `json:"EventTypes"`
	PartitionID  int      `json:"PartitionId"`
	LastEventID  string   `json:"LastEventId,omitempty"`
	MaxBatchSize int      `json:"MaxBatchSize"`
}

// Manager owns the upstream socket lifecycle: connect, authenticate,
// subscribe, heartbeat watchdog, reconnect with exponential backoff.
// All transitions run under one mutex; the generation counter fences
// callbacks from torn-down connections.
type Manager struct {
	cfg     Config
	dialer  Dialer
	handler MessageHandler
	logger  *log.Logger

	mu            sync.Mutex
	state         State
	conn          Conn
	gen           int
	attempts      int
	lastHeartbeat time.Time
	eventsTracked int64
	resumeCursor  string

	watchdogTimer  *time.Timer
	reconnectTimer *time.Timer
}

// NewManager constructs a manager. Handler is required; the dialer
// defaults to a gorilla/websocket dial against cfg.URL.
func NewManager(cfg Config, handler MessageHandler, logger *log.Logger, opts ...ManagerOption) (*Manager, error) {
	if cfg.URL == "" {
		return nil, errors.New("feed: empty upstream url")
	}
	if handler == nil {
		return nil, errors.New("feed: nil message handler")
	}
	if logger == nil {
		logger = log.Default()
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = 10
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 100
	}

	m := &Manager{
		cfg:     cfg,
		handler: handler,
		logger:  logger,
		state:   StateDisconnected,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.dialer == nil {
		m.dialer = gorillaDialer(cfg)
	}
	return m, nil
}

// ManagerOption configures a manager.
type ManagerOption func(*Manager)

// WithDialer overrides the websocket dialer, for tests and mocks.
func WithDialer(dialer Dialer) ManagerOption {
	return func(m *Manager) { m.dialer = dialer }
}

func gorillaDialer(cfg Config) Dialer {
	dialer := &websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
		Subprotocols:     []string{cfg.Subprotocol},
	}
	return func(ctx context.Context, url string, header http.Header) (Conn, error) {
		conn, resp, err := dialer.DialContext(ctx, url, header)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// Connect begins an asynchronous connection attempt. It is idempotent:
// calling it while connecting or connected is a no-op. Calling it in the
// failed state resets the attempt budget and starts over.
func (m *Manager) Connect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateConnecting, StateConnected, StateReconnecting:
		return
	}
	m.attempts = 0
	m.startAttemptLocked()
}

// Disconnect tears the connection down and cancels every pending timer.
// It is idempotent under repeated calls.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.gen++
	m.cancelTimersLocked()
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.state = StateDisconnected
}

// Status reports the current health surface.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		State:             m.state,
		Connected:         m.state == StateConnected,
		ReconnectAttempts: m.attempts,
		LastHeartbeat:     m.lastHeartbeat,
		EventsTracked:     m.eventsTracked,
	}
}

// SetResumeCursor records the id of the last processed upstream event;
// the next subscribe command resumes after it.
func (m *Manager) SetResumeCursor(eventID string) {
	if eventID == "" {
		return
	}
	m.mu.Lock()
	m.resumeCursor = eventID
	m.mu.Unlock()
}

// BackoffDelay computes the reconnect delay for a 1-based attempt:
// base, 2*base, 4*base, doubling each attempt.
func BackoffDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base << uint(attempt-1)
}

func (m *Manager) startAttemptLocked() {
	m.state = StateConnecting
	gen := m.gen
	go m.attempt(gen)
}

func (m *Manager) attempt(gen int) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	header := http.Header{}
	if m.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+m.cfg.Token)
	}

	conn, err := m.dialer(ctx, m.cfg.URL, header)

	m.mu.Lock()
	if gen != m.gen || m.state != StateConnecting {
		m.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		m.logger.Printf("feed: connect error: %v", err)
		m.scheduleReconnectLocked()
		m.mu.Unlock()
		return
	}

	m.conn = conn
	m.state = StateConnected
	m.attempts = 0
	m.lastHeartbeat = time.Now().UTC()
	m.resetWatchdogLocked()
	command := subscribeCommand{
		Action:       "subscribe",
		EventTypes:   m.cfg.EventTypes,
		PartitionID:  m.cfg.PartitionID,
		LastEventID:  m.resumeCursor,
		MaxBatchSize: m.cfg.MaxBatchSize,
	}
	m.mu.Unlock()

	if err := conn.WriteJSON(command); err != nil {
		m.logger.Printf("feed: subscribe error: %v", err)
		m.handleDisconnect(gen)
		return
	}

	go m.readLoop(conn, gen)
}

func (m *Manager) readLoop(conn Conn, gen int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.mu.Lock()
			stale := gen != m.gen
			m.mu.Unlock()
			if !stale {
				m.logger.Printf("feed: read error: %v", err)
				m.handleDisconnect(gen)
			}
			return
		}

		m.mu.Lock()
		if gen != m.gen {
			m.mu.Unlock()
			return
		}
		m.lastHeartbeat = time.Now().UTC()
		m.eventsTracked++
		m.resetWatchdogLocked()
		m.mu.Unlock()

		m.handler(data)
	}
}

func (m *Manager) handleDisconnect(gen int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen || m.state == StateDisconnected || m.state == StateFailed {
		return
	}
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.cancelTimersLocked()
	m.scheduleReconnectLocked()
}

// scheduleReconnectLocked advances the attempt counter and either arms
// the backoff timer or, past the budget, parks in the terminal failed
// state until an explicit Connect.
func (m *Manager) scheduleReconnectLocked() {
	m.attempts++
	if m.attempts > m.cfg.MaxReconnectAttempts {
		m.logger.Printf("feed: reconnect budget exhausted after %d attempts", m.cfg.MaxReconnectAttempts)
		m.state = StateFailed
		return
	}

	delay := BackoffDelay(m.cfg.BackoffBase, m.attempts)
	m.state = StateReconnecting
	metrics.FeedReconnect()
	m.logger.Printf("feed: reconnect attempt %d in %s", m.attempts, delay)

	gen := m.gen
	m.reconnectTimer = time.AfterFunc(delay, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if gen != m.gen || m.state != StateReconnecting {
			return
		}
		m.startAttemptLocked()
	})
}

// resetWatchdogLocked arms the heartbeat watchdog: no inbound traffic
// for twice the heartbeat interval forces a close, which the read loop
// surfaces as a reconnect.
func (m *Manager) resetWatchdogLocked() {
	if m.watchdogTimer != nil {
		m.watchdogTimer.Stop()
	}
	gen := m.gen
	m.watchdogTimer = time.AfterFunc(2*m.cfg.HeartbeatInterval, func() {
		m.mu.Lock()
		if gen != m.gen || m.state != StateConnected {
			m.mu.Unlock()
			return
		}
		m.logger.Printf("feed: heartbeat timeout, forcing close")
		conn := m.conn
		m.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
	})
}

func (m *Manager) cancelTimersLocked() {
	if m.watchdogTimer != nil {
		m.watchdogTimer.Stop()
		m.watchdogTimer = nil
	}
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
}
