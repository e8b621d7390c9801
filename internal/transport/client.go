// Package transport owns the single logical connection to the Quill
// server: connection lifecycle, heartbeat, reconnection backoff, and the
// bounded outbound queue.
package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/quillchat/quill/internal/wire"
	"github.com/quillchat/quill/pkg/logger"
)

// State is the connection lifecycle state. Only the Client mutates it.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateOpen         State = "open"
	StateClosing      State = "closing"
)

var (
	// ErrConnectionInProgress is returned by Connect while another attempt
	// is still being made.
	ErrConnectionInProgress = errors.New("connection attempt in progress")
	// ErrNotConnected is returned by internal writes when no open
	// connection exists.
	ErrNotConnected = errors.New("not connected")
)

// Config holds the connection parameters and resilience knobs.
type Config struct {
	// URL is the server base URL (http(s) or ws(s) scheme).
	URL string
	// Token is the bearer token passed as a query parameter at connect
	// time. Opaque to this package.
	Token string
	// HeartbeatInterval is the period between outbound pings. Default 30s.
	HeartbeatInterval time.Duration
	// BackoffBase is the base reconnect delay. Default 5s.
	BackoffBase time.Duration
	// MaxReconnectAttempts caps automatic reconnection. Default 10.
	MaxReconnectAttempts int
	// QueueCapacity bounds the outbound queue. Default 100.
	QueueCapacity int
	// SendMaxRetries is the default per-message retry ceiling. Default 3.
	SendMaxRetries int
	// Dialer overrides the websocket dialer. Intended for tests.
	Dialer Dialer
}

func (c *Config) applyDefaults() {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 5 * time.Second
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 100
	}
	if c.SendMaxRetries <= 0 {
		c.SendMaxRetries = 3
	}
	if c.Dialer == nil {
		c.Dialer = defaultDial
	}
}

// SendOptions control the failure behavior of a single send.
type SendOptions struct {
	// QueueOnFailure enqueues the message for later delivery when it
	// cannot be transmitted now.
	QueueOnFailure bool
	// MaxRetries is the per-message retry ceiling while queued.
	MaxRetries int
}

// Status is a point-in-time view of the client for health reporting.
type Status struct {
	// State is the current connection state.
	State State
	// ReconnectAttempt is the current reconnect attempt counter.
	ReconnectAttempt int
	// QueueLength is the number of messages awaiting delivery.
	QueueLength int
	// LastHeartbeat is the time of the most recent pong.
	LastHeartbeat time.Time
}

// Client owns exactly one logical connection to the server.
type Client struct {
	cfg Config
	log *logger.Logger

	mu               sync.Mutex
	state            State
	conn             Conn
	manuallyClosed   bool
	queue            *sendQueue
	reconnectAttempt int
	reconnectTimer   *time.Timer
	backoff          *backoff.ExponentialBackOff
	heartbeatStop    chan struct{}
	lastHeartbeat    time.Time

	// wmu serializes writes so messages go out in call order.
	wmu sync.Mutex

	listeners *registry

	// reconnectFn runs a scheduled reconnect attempt. Swappable in tests.
	reconnectFn func()
}

// New creates a disconnected Client.
func New(cfg Config, log *logger.Logger) *Client {
	cfg.applyDefaults()
	if log == nil {
		log = logger.Nop()
	}
	c := &Client{
		cfg:       cfg,
		log:       log,
		state:     StateDisconnected,
		queue:     newSendQueue(cfg.QueueCapacity),
		backoff:   newBackoff(cfg.BackoffBase, cfg.MaxReconnectAttempts),
		listeners: newRegistry(),
	}
	c.reconnectFn = c.reconnect
	return c
}

// On registers a handler for a raw transport event and returns a
// subscription id for Off.
func (c *Client) On(event string, h Handler) int {
	return c.listeners.on(event, h)
}

// Off removes a subscription previously returned by On.
func (c *Client) Off(event string, id int) {
	c.listeners.off(event, id)
}

// Connect opens the connection. It is idempotent: when already open it
// succeeds immediately, and while another attempt is in progress it fails
// with ErrConnectionInProgress. A manual Connect clears the
// manually-disconnected mark and any pending reconnect timer.
func (c *Client) Connect() error {
	c.mu.Lock()
	switch c.state {
	case StateOpen:
		c.mu.Unlock()
		return nil
	case StateConnecting:
		c.mu.Unlock()
		return ErrConnectionInProgress
	}
	c.state = StateConnecting
	c.manuallyClosed = false
	c.stopReconnectTimerLocked()
	c.reconnectAttempt = 0
	c.backoff.Reset()
	c.mu.Unlock()

	if err := c.dialAndOpen(); err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		return err
	}
	return nil
}

// Disconnect marks the session as manually terminated, stops all timers,
// and closes the physical connection with a normal-closure code. Automatic
// reconnection is suppressed until the next Connect.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.manuallyClosed = true
	c.state = StateClosing
	c.stopReconnectTimerLocked()
	c.stopHeartbeatLocked()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		// Best effort: tell the server this is a normal closure.
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = conn.Close()
	}

	c.mu.Lock()
	c.state = StateDisconnected
	c.mu.Unlock()

	c.emit(Event{
		Name:   EventDisconnected,
		Code:   websocket.CloseNormalClosure,
		Reason: "client disconnect",
	})
}

// Send transmits a message with default options (queue on failure, retry
// ceiling from config).
func (c *Client) Send(msgType string, payload any) bool {
	return c.SendWithOptions(msgType, payload, SendOptions{
		QueueOnFailure: true,
		MaxRetries:     c.cfg.SendMaxRetries,
	})
}

// SendWithOptions transmits a message immediately when the connection is
// open. When it is not (or the write fails), the message is enqueued for
// the next drain if opts.QueueOnFailure is set and the session is not
// manually disconnected. The return value reports acceptance: true means
// transmitted or queued, false means dropped.
func (c *Client) SendWithOptions(msgType string, payload any, opts SendOptions) bool {
	msg, err := wire.NewMessage(msgType, payload)
	if err != nil {
		c.log.Error("failed to encode outbound message",
			zap.String("messageType", msgType), zap.Error(err))
		return false
	}

	if err := c.writeWire(msg); err == nil {
		return true
	}

	c.mu.Lock()
	if !opts.QueueOnFailure || c.manuallyClosed {
		c.mu.Unlock()
		return false
	}
	qm := &QueuedMessage{
		ID:         uuid.NewString(),
		Type:       msgType,
		Payload:    msg.Data,
		EnqueuedAt: time.Now(),
		MaxRetries: opts.MaxRetries,
	}
	evicted := c.queue.push(qm)
	c.mu.Unlock()

	if evicted != nil {
		c.log.Warn("outbound queue full, evicting oldest message",
			zap.String("messageId", evicted.ID),
			zap.String("messageType", evicted.Type))
	}
	c.emit(Event{Name: EventMessageQueued, MessageID: qm.ID})
	return true
}

// IsConnected reports whether the connection is open.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateOpen
}

// Status returns a snapshot of the client state.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		State:            c.state,
		ReconnectAttempt: c.reconnectAttempt,
		QueueLength:      c.queue.len(),
		LastHeartbeat:    c.lastHeartbeat,
	}
}

// endpoint builds the websocket URL from the configured base URL and token.
func (c *Client) endpoint() (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/v1/stream"
	}
	q := u.Query()
	q.Set("token", c.cfg.Token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// dialAndOpen dials the server and, on success, installs the connection,
// starts the read loop and heartbeat, and drains the outbound queue.
func (c *Client) dialAndOpen() error {
	endpoint, err := c.endpoint()
	if err != nil {
		return err
	}
	conn, err := c.cfg.Dialer(endpoint)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.state = StateOpen
	c.reconnectAttempt = 0
	c.backoff.Reset()
	c.stopHeartbeatLocked()
	stop := make(chan struct{})
	c.heartbeatStop = stop
	c.mu.Unlock()

	go c.readLoop(conn)
	go c.heartbeatLoop(stop)

	c.log.Info("connected")
	c.emit(Event{Name: EventConnected})
	c.drainQueue()
	return nil
}

// writeWire serializes a single envelope onto the open connection.
func (c *Client) writeWire(msg wire.Message) error {
	c.mu.Lock()
	conn := c.conn
	open := c.state == StateOpen
	c.mu.Unlock()
	if !open || conn == nil {
		return ErrNotConnected
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return conn.WriteJSON(msg)
}

// drainQueue retries every queued message once, in FIFO order. Failed
// messages below their retry ceiling go to the back of the queue; messages
// that hit the ceiling are dropped with a terminal event.
func (c *Client) drainQueue() {
	c.mu.Lock()
	pending := c.queue.takeAll()
	c.mu.Unlock()
	if len(pending) == 0 {
		return
	}

	c.log.Debug("draining outbound queue", zap.Int("pending", len(pending)))
	for _, qm := range pending {
		err := c.writeWire(wire.Message{Type: qm.Type, Data: qm.Payload})
		if err == nil {
			c.emit(Event{Name: EventMessageRetrySuccess, MessageID: qm.ID})
			continue
		}
		qm.RetryCount++
		if qm.RetryCount >= qm.MaxRetries {
			c.log.Warn("dropping message after retry ceiling",
				zap.String("messageId", qm.ID),
				zap.String("messageType", qm.Type),
				zap.Int("retries", qm.RetryCount))
			c.emit(Event{Name: EventMessageRetryFailed, MessageID: qm.ID})
			continue
		}
		c.mu.Lock()
		c.queue.push(qm)
		c.mu.Unlock()
	}
}

// readLoop delivers inbound frames until the connection fails.
func (c *Client) readLoop(conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleConnectionLost(conn, err)
			return
		}
		var msg wire.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			// A single bad frame must not interrupt the stream.
			c.log.Warn("dropping malformed frame", zap.Error(err))
			continue
		}
		if msg.Type == "" {
			c.log.Warn("dropping frame without type")
			continue
		}
		c.handleInbound(msg)
	}
}

func (c *Client) handleInbound(msg wire.Message) {
	switch msg.Type {
	case wire.TypePong:
		c.mu.Lock()
		c.lastHeartbeat = time.Now()
		c.mu.Unlock()
	case wire.TypeError:
		if msg.Code == wire.CodeUnauthorized {
			c.handleUnauthorized(msg)
			return
		}
		c.log.Warn("server error",
			zap.String("code", msg.Code),
			zap.String("message", msg.Message),
			zap.Bool("retryable", msg.Retryable))
	}
	c.emit(Event{Name: msg.Type, Wire: &msg})
}

// handleUnauthorized treats an UNAUTHORIZED error as terminal: the session
// is marked manually disconnected so no reconnect is attempted, and the
// connection is closed. Resuming requires an explicit Connect.
func (c *Client) handleUnauthorized(msg wire.Message) {
	c.mu.Lock()
	c.manuallyClosed = true
	c.stopReconnectTimerLocked()
	conn := c.conn
	c.mu.Unlock()

	c.log.Warn("session unauthorized, reconnection disabled")
	c.emit(Event{Name: EventUnauthorized, Wire: &msg})
	if conn != nil {
		_ = conn.Close()
	}
}

// handleConnectionLost tears down state for a failed connection and, for
// unexpected closes, schedules a reconnect.
func (c *Client) handleConnectionLost(conn Conn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		// A stale read loop for an already-replaced connection.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.state = StateDisconnected
	c.stopHeartbeatLocked()
	manual := c.manuallyClosed
	c.mu.Unlock()

	code := websocket.CloseAbnormalClosure
	reason := err.Error()
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		code = closeErr.Code
		reason = closeErr.Text
	}
	c.log.Info("disconnected", zap.Int("code", code), zap.String("reason", reason))
	c.emit(Event{Name: EventDisconnected, Code: code, Reason: reason})

	if !manual {
		c.scheduleReconnect()
	}
}

// scheduleReconnect arms the next reconnect timer with exponential backoff,
// or emits the terminal event once the attempt budget is exhausted.
func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	if c.manuallyClosed || c.reconnectTimer != nil || c.state == StateOpen {
		c.mu.Unlock()
		return
	}
	if c.reconnectAttempt >= c.cfg.MaxReconnectAttempts {
		c.mu.Unlock()
		c.log.Warn("reconnect attempt budget exhausted",
			zap.Int("attempts", c.cfg.MaxReconnectAttempts))
		c.emit(Event{Name: EventMaxReconnectAttempts, Attempt: c.cfg.MaxReconnectAttempts})
		return
	}
	c.reconnectAttempt++
	attempt := c.reconnectAttempt
	delay := c.backoff.NextBackOff()
	c.reconnectTimer = time.AfterFunc(delay, c.reconnectFn)
	c.mu.Unlock()

	c.log.Info("scheduling reconnect",
		zap.Int("attempt", attempt), zap.Duration("delay", delay))
	c.emit(Event{Name: EventReconnecting, Attempt: attempt})
}

// reconnect runs one automatic reconnection attempt. Unlike Connect,
// failures are not surfaced to a caller; they feed back into the backoff
// schedule.
func (c *Client) reconnect() {
	c.mu.Lock()
	c.reconnectTimer = nil
	if c.manuallyClosed || c.state == StateOpen {
		c.mu.Unlock()
		return
	}
	c.state = StateConnecting
	c.mu.Unlock()

	if err := c.dialAndOpen(); err != nil {
		c.log.Warn("reconnect failed", zap.Error(err))
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		c.scheduleReconnect()
	}
}

// heartbeatLoop sends a ping on a fixed interval while the connection is
// open. The matching pong only updates the health timestamp; a missed pong
// does not force a reconnect, close detection is left to the read loop.
func (c *Client) heartbeatLoop(stop chan struct{}) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := c.writeWire(wire.Message{Type: wire.TypePing}); err != nil {
				c.log.Debug("heartbeat write failed", zap.Error(err))
			}
		}
	}
}

func (c *Client) stopReconnectTimerLocked() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
}

func (c *Client) stopHeartbeatLocked() {
	if c.heartbeatStop != nil {
		close(c.heartbeatStop)
		c.heartbeatStop = nil
	}
}

// emit dispatches ev to a snapshot of the registered handlers. A panicking
// handler is recovered and logged so siblings still run.
func (c *Client) emit(ev Event) {
	for _, h := range c.listeners.snapshot(ev.Name) {
		c.safeInvoke(ev, h)
	}
}

func (c *Client) safeInvoke(ev Event, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("transport event handler panicked",
				zap.String("event", ev.Name), zap.Any("panic", r))
		}
	}()
	h(ev)
}
