package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"reelay/internal/backoff"
)

// ConnState is the lifecycle of one physical push connection.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateOffline // reconnect budget exhausted; manual Reconnect required
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateOffline:
		return "offline"
	default:
		return "disconnected"
	}
}

// Listener receives every job-status message from the stream, plus a
// synthesized TypeOffline message when the connection gives up.
type Listener func(Message)

// ConnManager multiplexes any number of logical listeners over at most
// one physical push connection per session token. Connection errors
// trigger doubling-backoff reconnects, capped at 30s, up to
// MaxAttempts tries; after that the connection goes offline until a
// listener asks for a fresh start.
type ConnManager struct {
	MaxAttempts int
	Backoff     func(n int) time.Duration

	dialer Dialer
	logger *slog.Logger

	mu    sync.Mutex
	conns map[string]*conn
}

type conn struct {
	token     string
	state     ConnState
	listeners map[string]Listener
	attempts  int

	// gen invalidates read/dial goroutines and pending timers that
	// outlive a teardown or a newer connect.
	gen        int
	body       io.ReadCloser
	cancelDial context.CancelFunc
	retryTimer *time.Timer
}

func NewConnManager(dialer Dialer, logger *slog.Logger) *ConnManager {
	return &ConnManager{
		MaxAttempts: 5,
		Backoff:     backoff.Delay,
		dialer:      dialer,
		logger:      logger,
		conns:       make(map[string]*conn),
	}
}

// AddListener attaches a logical listener for token's stream and
// returns its handle. The first listener opens the physical
// connection; later ones share it.
func (m *ConnManager) AddListener(token string, fn Listener) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conns[token]
	if !ok {
		c = &conn{token: token, listeners: make(map[string]Listener)}
		m.conns[token] = c
	}

	id := uuid.NewString()
	c.listeners[id] = fn

	// Never open a second connection while one is live or pending.
	if c.state == StateDisconnected || c.state == StateOffline {
		c.attempts = 0
		m.connectLocked(c)
	}
	return id
}

// RemoveListener detaches a listener. Removing the last one closes the
// physical connection and cancels any pending reconnect.
func (m *ConnManager) RemoveListener(token, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conns[token]
	if !ok {
		return
	}
	delete(c.listeners, id)
	if len(c.listeners) == 0 {
		m.teardownLocked(c)
		delete(m.conns, token)
	}
}

// Disconnect promptly tears down token's connection, cancelling any
// in-flight reconnect timer. Listeners stay registered; Reconnect
// brings them back online.
func (m *ConnManager) Disconnect(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.conns[token]; ok {
		m.teardownLocked(c)
	}
}

// Reconnect resets the attempt counter and dials again. It is the
// manual escape hatch once the manager has reported offline.
func (m *ConnManager) Reconnect(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conns[token]
	if !ok || len(c.listeners) == 0 {
		return
	}
	c.attempts = 0
	if c.state == StateDisconnected || c.state == StateOffline {
		m.connectLocked(c)
	}
}

// State reports the connection state for token.
func (m *ConnManager) State(token string) ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.conns[token]; ok {
		return c.state
	}
	return StateDisconnected
}

// connectLocked transitions to Connecting and dials off-lock. Caller
// holds m.mu.
func (m *ConnManager) connectLocked(c *conn) {
	c.state = StateConnecting
	c.gen++
	gen := c.gen

	if c.cancelDial != nil {
		c.cancelDial()
	}
	// The context outlives the dial: it governs the whole request,
	// body included, so it is released only on teardown or stream end.
	ctx, cancel := context.WithCancel(context.Background())
	c.cancelDial = cancel

	go m.dialAndRead(ctx, c, gen)
}

// teardownLocked closes the physical connection and stops reconnect
// machinery. Caller holds m.mu.
func (m *ConnManager) teardownLocked(c *conn) {
	c.gen++ // orphan any running goroutine and pending timer
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
	}
	if c.body != nil {
		c.body.Close()
		c.body = nil
	}
	c.state = StateDisconnected
}

func (m *ConnManager) dialAndRead(ctx context.Context, c *conn, gen int) {
	body, err := m.dialer.Dial(ctx, c.token)

	m.mu.Lock()
	if c.gen != gen {
		m.mu.Unlock()
		if body != nil {
			body.Close()
		}
		return
	}
	if err != nil {
		m.logger.Warn("push connection failed", "error", err)
		m.releaseDialLocked(c)
		m.connErrorLocked(c)
		m.mu.Unlock()
		return
	}
	c.state = StateConnected
	c.attempts = 0
	c.body = body
	m.mu.Unlock()

	m.logger.Info("push connection established")
	readErr := m.readLoop(c, body, gen)
	body.Close()

	m.mu.Lock()
	defer m.mu.Unlock()
	if c.gen != gen {
		return
	}
	c.body = nil
	m.releaseDialLocked(c)
	if readErr != nil {
		m.logger.Warn("push connection dropped", "error", readErr)
	}
	m.connErrorLocked(c)
}

// releaseDialLocked frees the request context of a finished
// connection. Caller holds m.mu.
func (m *ConnManager) releaseDialLocked(c *conn) {
	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
	}
}

// connErrorLocked schedules the next reconnect attempt or gives up.
// Caller holds m.mu.
func (m *ConnManager) connErrorLocked(c *conn) {
	c.attempts++
	if c.attempts >= m.MaxAttempts {
		c.state = StateOffline
		m.logger.Error("push connection offline, reconnect attempts exhausted",
			"attempts", c.attempts)
		m.notifyLocked(c, Message{
			Type:    TypeOffline,
			Message: "connection lost, live updates unavailable",
		}.Now())
		return
	}

	c.state = StateReconnecting
	delay := m.Backoff(c.attempts - 1)
	gen := c.gen
	m.logger.Info("scheduling push reconnect", "attempt", c.attempts, "delay", delay)
	c.retryTimer = time.AfterFunc(delay, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if c.gen != gen || c.state != StateReconnecting {
			return
		}
		m.connectLocked(c)
	})
}

// readLoop consumes SSE frames until the stream ends. Returns the
// scanner error, nil on clean EOF.
func (m *ConnManager) readLoop(c *conn, body io.Reader, gen int) error {
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)

	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data:") {
			continue // comments, event:/id: fields, blank separators
		}
		raw := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if raw == "" {
			continue
		}

		var msg Message
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			m.logger.Warn("unreadable push message, ignoring", "error", err)
			continue
		}
		m.dispatch(c, gen, msg)
	}
	return sc.Err()
}

func (m *ConnManager) dispatch(c *conn, gen int, msg Message) {
	switch msg.Type {
	case TypeLivenessPing:
		return // detects silent connection death; no state to update
	case TypeConnectionAck, TypeJobStarted, TypeJobCompleted, TypeJobFailed:
	default:
		m.logger.Info("unrecognized push message type, ignoring", "type", msg.Type)
		return
	}

	m.mu.Lock()
	if c.gen != gen {
		m.mu.Unlock()
		return
	}
	fns := make([]Listener, 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		m.invoke(fn, msg)
	}
}

// notifyLocked fans a locally synthesized message out to listeners.
// Caller holds m.mu; listener calls run on a fresh goroutine so a slow
// listener cannot hold the lock hostage.
func (m *ConnManager) notifyLocked(c *conn, msg Message) {
	fns := make([]Listener, 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	go func() {
		for _, fn := range fns {
			m.invoke(fn, msg)
		}
	}()
}

// invoke isolates listener panics so one bad callback cannot take out
// delivery to the rest.
func (m *ConnManager) invoke(fn Listener, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("push listener panicked", "panic", r)
		}
	}()
	fn(msg)
}
