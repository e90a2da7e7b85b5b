// Package ws maintains a set of named WebSocket connections with automatic
// reconnection, exponential backoff, and a shared heartbeat. It knows nothing
// about chat semantics; callers attach handlers and speak raw frames.
package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Connection states.
const (
	StateConnecting = "connecting"
	StateOpen       = "open"
	StateClosing    = "closing"
	StateClosed     = "closed"
)

// Handlers receive the lifecycle events of one connection. All callbacks are
// invoked without registry locks held, so they may call back into the
// registry. Any handler may be nil.
type Handlers struct {
	OnOpen    func(key string)
	OnMessage func(key string, data []byte)
	OnError   func(key string, err error)
	OnClose   func(key string, code int)
}

// Status is a read-only snapshot of one connection.
type Status struct {
	Connected         bool   `json:"is_connected"`
	State             string `json:"state"`
	ReconnectAttempts int    `json:"reconnect_attempts"`
}

// Options tune reconnection and liveness behavior for all connections owned
// by a registry.
type Options struct {
	MaxReconnectAttempts int
	ReconnectBase        time.Duration
	HeartbeatInterval    time.Duration
	HandshakeTimeout     time.Duration
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.MaxReconnectAttempts <= 0 {
		out.MaxReconnectAttempts = 5
	}
	if out.ReconnectBase <= 0 {
		out.ReconnectBase = time.Second
	}
	if out.HeartbeatInterval <= 0 {
		out.HeartbeatInterval = 30 * time.Second
	}
	if out.HandshakeTimeout <= 0 {
		out.HandshakeTimeout = 10 * time.Second
	}
	return out
}

type authFrame struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

type pingFrame struct {
	Type string `json:"type"`
}

// conn is one managed connection record. A fresh instance is created for
// every Connect call; stale goroutines detect replacement by pointer
// comparison against the registry map.
type conn struct {
	key       string
	endpoint  string
	authToken string
	handlers  Handlers

	mu       sync.Mutex
	ws       *websocket.Conn
	state    string
	active   bool
	attempts int
	timer    *time.Timer
}

// Registry owns zero or more named connections. One process-wide heartbeat
// goroutine pings every open connection and revives silently-dead ones.
type Registry struct {
	opts   Options
	logger zerolog.Logger
	dialer *websocket.Dialer

	mu    sync.Mutex
	conns map[string]*conn

	hbStop   chan struct{}
	shutdown sync.Once
}

// NewRegistry creates a registry and starts its heartbeat loop.
func NewRegistry(opts Options, logger zerolog.Logger) *Registry {
	opts = opts.withDefaults()
	r := &Registry{
		opts:   opts,
		logger: logger.With().Str("component", "ws-registry").Logger(),
		dialer: &websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout},
		conns:  make(map[string]*conn),
		hbStop: make(chan struct{}),
	}
	go r.heartbeatLoop()
	return r
}

// Connect opens a named connection. If key is already connected the old
// connection is torn down first, including any pending reconnect timer. The
// returned error covers only the attempt itself; open and failure are
// delivered asynchronously through the handlers.
func (r *Registry) Connect(key, endpoint, authToken string, handlers Handlers) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("connection key is required")
	}
	if !strings.HasPrefix(endpoint, "ws://") && !strings.HasPrefix(endpoint, "wss://") {
		return fmt.Errorf("endpoint %q is not a websocket url", endpoint)
	}

	c := &conn{
		key:       key,
		endpoint:  endpoint,
		authToken: authToken,
		handlers:  handlers,
		state:     StateConnecting,
		active:    true,
	}

	r.mu.Lock()
	old := r.conns[key]
	r.conns[key] = c
	r.mu.Unlock()

	if old != nil {
		r.teardown(old)
	}

	go r.dial(c)
	return nil
}

// Disconnect closes the connection with a normal-closure code so automatic
// reconnection is suppressed, and removes the record.
func (r *Registry) Disconnect(key string) {
	r.mu.Lock()
	c := r.conns[key]
	delete(r.conns, key)
	r.mu.Unlock()

	if c != nil {
		r.teardown(c)
	}
}

// Send serializes message (strings and []byte pass through, everything else
// is JSON-encoded) and writes it if the connection is open. It returns false
// without error when the connection is absent or not open; the registry never
// retries a failed send.
func (r *Registry) Send(key string, message any) bool {
	r.mu.Lock()
	c := r.conns[key]
	r.mu.Unlock()
	if c == nil {
		return false
	}

	data, err := encodeFrame(message)
	if err != nil {
		r.logger.Warn().Str("key", key).Err(err).Msg("drop unencodable frame")
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateOpen || c.ws == nil {
		return false
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		r.logger.Warn().Str("key", key).Err(err).Msg("ws write failed")
		return false
	}
	return true
}

// Status reports the snapshot for one key. Unknown keys read as closed.
func (r *Registry) Status(key string) Status {
	r.mu.Lock()
	c := r.conns[key]
	r.mu.Unlock()
	if c == nil {
		return Status{State: StateClosed}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Connected:         c.state == StateOpen,
		State:             c.state,
		ReconnectAttempts: c.attempts,
	}
}

// AllStatus reports snapshots for every registered connection.
func (r *Registry) AllStatus() map[string]Status {
	r.mu.Lock()
	keys := make([]string, 0, len(r.conns))
	for key := range r.conns {
		keys = append(keys, key)
	}
	r.mu.Unlock()

	out := make(map[string]Status, len(keys))
	for _, key := range keys {
		out[key] = r.Status(key)
	}
	return out
}

// Shutdown stops the heartbeat and tears down every connection.
func (r *Registry) Shutdown() {
	r.shutdown.Do(func() { close(r.hbStop) })

	r.mu.Lock()
	conns := make([]*conn, 0, len(r.conns))
	for key, c := range r.conns {
		conns = append(conns, c)
		delete(r.conns, key)
	}
	r.mu.Unlock()

	for _, c := range conns {
		r.teardown(c)
	}
}

func encodeFrame(message any) ([]byte, error) {
	switch m := message.(type) {
	case string:
		return []byte(m), nil
	case []byte:
		return m, nil
	default:
		data, err := json.Marshal(message)
		if err != nil {
			return nil, fmt.Errorf("encode frame: %w", err)
		}
		return data, nil
	}
}

// teardown marks a record inactive, cancels its reconnect timer, and closes
// the socket with a normal-closure code.
func (r *Registry) teardown(c *conn) {
	c.mu.Lock()
	c.active = false
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	ws := c.ws
	c.ws = nil
	if c.state != StateClosed {
		c.state = StateClosing
	}
	c.mu.Unlock()

	if ws != nil {
		deadline := time.Now().Add(time.Second)
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = ws.Close()
	}

	c.mu.Lock()
	c.state = StateClosed
	c.mu.Unlock()
}

// current reports whether c is still the registered connection for its key.
func (r *Registry) current(c *conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conns[c.key] == c
}

// drop removes c from the registry if it is still current.
func (r *Registry) drop(c *conn) {
	r.mu.Lock()
	if r.conns[c.key] == c {
		delete(r.conns, c.key)
	}
	r.mu.Unlock()
}

func (r *Registry) dial(c *conn) {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}
	c.state = StateConnecting
	endpoint := c.endpoint
	c.mu.Unlock()

	ws, _, err := r.dialer.Dial(endpoint, nil)
	if err != nil {
		r.logger.Warn().Str("key", c.key).Err(err).Msg("ws dial failed")
		if c.handlers.OnError != nil {
			c.handlers.OnError(c.key, fmt.Errorf("ws dial %s: %w", endpoint, err))
		}
		c.mu.Lock()
		c.state = StateClosed
		c.mu.Unlock()
		if c.handlers.OnClose != nil {
			c.handlers.OnClose(c.key, websocket.CloseAbnormalClosure)
		}
		r.maybeReconnect(c)
		return
	}

	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		_ = ws.Close()
		return
	}
	c.ws = ws
	c.state = StateOpen
	token := c.authToken
	c.mu.Unlock()

	// Auth frame goes out before any application traffic.
	if token != "" {
		if err := ws.WriteJSON(authFrame{Type: "auth", Token: token}); err != nil {
			r.logger.Warn().Str("key", c.key).Err(err).Msg("auth frame failed")
		}
	}

	r.logger.Info().Str("key", c.key).Str("endpoint", endpoint).Msg("connected")
	if c.handlers.OnOpen != nil {
		c.handlers.OnOpen(c.key)
	}

	r.readLoop(c, ws)
}

func (r *Registry) readLoop(c *conn, ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			code := websocket.CloseAbnormalClosure
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				code = ce.Code
			}

			c.mu.Lock()
			wasActive := c.active && c.ws == ws
			if c.ws == ws {
				c.ws = nil
				c.state = StateClosed
			}
			c.mu.Unlock()

			if !wasActive || !r.current(c) {
				return
			}

			r.logger.Warn().Str("key", c.key).Int("code", code).Msg("connection closed")
			if c.handlers.OnClose != nil {
				c.handlers.OnClose(c.key, code)
			}
			if code != websocket.CloseNormalClosure {
				r.maybeReconnect(c)
			}
			return
		}

		if c.handlers.OnMessage != nil {
			c.handlers.OnMessage(c.key, data)
		}
	}
}

// maybeReconnect schedules the next reconnect attempt with exponential
// backoff. The attempt counter is incremented before the delay is computed,
// so attempt n waits base * 2^(n-1). Exhausting the budget drops the record;
// the last OnClose already surfaced the terminal failure.
func (r *Registry) maybeReconnect(c *conn) {
	c.mu.Lock()
	if !c.active || c.timer != nil {
		c.mu.Unlock()
		return
	}
	if c.attempts >= r.opts.MaxReconnectAttempts {
		c.active = false
		c.mu.Unlock()
		r.logger.Error().Str("key", c.key).Int("attempts", c.attempts).Msg("reconnect budget exhausted")
		r.drop(c)
		return
	}
	c.attempts++
	delay := BackoffDelay(r.opts.ReconnectBase, c.attempts)
	attempt := c.attempts
	c.timer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		c.timer = nil
		active := c.active
		c.mu.Unlock()
		if !active || !r.current(c) {
			return
		}
		r.dial(c)
	})
	c.mu.Unlock()

	r.logger.Info().Str("key", c.key).Int("attempt", attempt).Dur("delay", delay).Msg("reconnect scheduled")
}

// BackoffDelay returns the wait before reconnect attempt n (1-based):
// base * 2^(n-1).
func BackoffDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base << (attempt - 1)
}

// heartbeatLoop pings every open connection and immediately revives
// connections found dead while still marked active. This catches silently
// dropped sockets that never delivered a close event.
func (r *Registry) heartbeatLoop() {
	ticker := time.NewTicker(r.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.hbStop:
			return
		case <-ticker.C:
			r.mu.Lock()
			conns := make([]*conn, 0, len(r.conns))
			for _, c := range r.conns {
				conns = append(conns, c)
			}
			r.mu.Unlock()

			for _, c := range conns {
				c.mu.Lock()
				state := c.state
				active := c.active
				pending := c.timer != nil
				c.mu.Unlock()

				switch {
				case state == StateOpen:
					r.Send(c.key, pingFrame{Type: "ping"})
				case state == StateClosed && active && !pending:
					r.maybeReconnect(c)
				}
			}
		}
	}
}
