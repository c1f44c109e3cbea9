package socket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/phlexileads/pushchannel/debug"
	"github.com/phlexileads/pushchannel/socket/transport"
)

const (
	DefaultMaxReconnectAttempts = 5
	DefaultReconnectDelay       = 3000 * time.Millisecond
)

// Client owns the single push connection of a process. Construct one with
// NewClient in the composition root and pass it to the consumers that need it.
//
// Nothing on the public surface returns an error or panics: transport failures
// end up in the reconnect procedure, malformed frames are dropped, and sends
// while disconnected are discarded. All of it is reported through the logger.
type Client struct {
	id       string
	baseURL  string
	creds    Credentials
	dialer   transport.Dialer
	sched    Scheduler
	backOff  backoff.BackOff
	logger   *slog.Logger
	metrics  *Metrics
	registry *registry
	status   *statusBroadcaster

	maxReconnectAttempts int
	reconnectDelay       time.Duration
	manualConnect        bool

	mu                sync.Mutex
	conn              transport.Conn
	state             State
	reconnectAttempts int
	// gen identifies the current connect attempt. Dial results and read
	// loops that belong to an older generation are discarded.
	gen      uint64
	timer    Timer
	timerSeq uint64
}

type ClientOption func(*Client)

func WithDialer(d transport.Dialer) ClientOption {
	return func(c *Client) {
		c.dialer = d
	}
}

// WithMaxReconnectAttempts caps consecutive reconnect attempts. A negative
// value retries forever.
func WithMaxReconnectAttempts(attempts int) ClientOption {
	return func(c *Client) {
		c.maxReconnectAttempts = attempts
	}
}

// WithReconnectDelay sets the fixed delay between reconnect attempts.
func WithReconnectDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.reconnectDelay = d
	}
}

// WithBackOff replaces the fixed reconnect delay with b. The policy is reset
// after every successful connect; backoff.Stop ends reconnecting.
func WithBackOff(b backoff.BackOff) ClientOption {
	return func(c *Client) {
		c.backOff = b
	}
}

func WithScheduler(s Scheduler) ClientOption {
	return func(c *Client) {
		c.sched = s
	}
}

func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

func WithMetrics(m *Metrics) ClientOption {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithManualConnect stops NewClient from connecting; call Connect yourself.
func WithManualConnect() ClientOption {
	return func(c *Client) {
		c.manualConnect = true
	}
}

// NewClient builds the push channel client for baseURL and, unless
// WithManualConnect is given, starts connecting before it returns.
func NewClient(baseURL string, creds Credentials, opts ...ClientOption) *Client {
	c := &Client{
		id:                   generateID(),
		baseURL:              baseURL,
		creds:                creds,
		sched:                SystemScheduler,
		maxReconnectAttempts: DefaultMaxReconnectAttempts,
		reconnectDelay:       DefaultReconnectDelay,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.dialer == nil {
		c.dialer = transport.NewWebSocketDialer()
	}
	if c.backOff == nil {
		c.backOff = backoff.NewConstantBackOff(c.reconnectDelay)
	}
	if c.logger == nil {
		c.logger = debug.Logger()
	}
	c.logger = c.logger.With("client", c.id)
	c.registry = newRegistry()
	c.status = newStatusBroadcaster(c.logger)

	if !c.manualConnect {
		c.Connect()
	}

	return c
}

func (c *Client) ID() string {
	return c.id
}

// Connect opens a new connection unless one is open or being opened. It
// returns immediately; the outcome is reported to status listeners.
func (c *Client) Connect() {
	c.connect(0)
}

// connect runs a connect attempt. A non-zero timerSeq means the call comes
// from the reconnect timer, which only proceeds if that timer is still the
// pending one.
func (c *Client) connect(timerSeq uint64) {
	c.mu.Lock()
	if timerSeq != 0 && (timerSeq != c.timerSeq || c.timer == nil) {
		c.mu.Unlock()
		return
	}
	c.cancelReconnectLocked()

	if c.state != StateDisconnected {
		c.mu.Unlock()
		return
	}

	c.gen++
	gen := c.gen
	c.state = StateConnecting
	c.mu.Unlock()

	endpoint, err := BuildEndpoint(c.baseURL, c.creds)
	if err != nil {
		c.logger.Error("push channel endpoint unusable", "err", err)
		c.handleClose(gen, err)
		return
	}

	c.logger.Debug("push channel connecting", "attempt", c.ReconnectAttempts())
	go c.run(gen, endpoint)
}

func (c *Client) run(gen uint64, endpoint string) {
	conn, err := c.dialer.Dial(context.Background(), endpoint)
	if err != nil {
		c.logger.Warn("push channel connect failed", "err", err)
		c.handleClose(gen, err)
		return
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.state = StateConnected
	c.reconnectAttempts = 0
	c.backOff.Reset()
	c.metrics.setConnected(true)
	c.status.publish(true)
	c.mu.Unlock()

	c.status.drain()
	c.logger.Info("push channel connected")

	for {
		raw, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(gen, err)
			return
		}
		if !c.current(gen) {
			return
		}
		c.onMessage(raw)
	}
}

func (c *Client) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return gen == c.gen && c.state == StateConnected
}

// handleClose moves a failed or closed attempt to Disconnected, tells the
// status listeners and schedules the next attempt.
func (c *Client) handleClose(gen uint64, cause error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	conn := c.conn
	wasConnected := c.state == StateConnected
	c.conn = nil
	c.state = StateDisconnected
	c.metrics.setConnected(false)
	c.status.publish(false)
	c.handleReconnectLocked()
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if wasConnected {
		c.logger.Warn("push channel closed", "err", cause)
	}
	c.status.drain()
}

func (c *Client) handleReconnectLocked() {
	c.cancelReconnectLocked()

	if c.maxReconnectAttempts >= 0 && c.reconnectAttempts >= c.maxReconnectAttempts {
		c.logger.Error("push channel giving up",
			"attempts", c.reconnectAttempts, "err", ErrAttemptsExhausted)
		c.metrics.incExhausted()
		return
	}

	delay := c.backOff.NextBackOff()
	if delay == backoff.Stop {
		c.logger.Error("push channel giving up",
			"attempts", c.reconnectAttempts, "err", ErrAttemptsExhausted)
		c.metrics.incExhausted()
		return
	}

	c.reconnectAttempts++
	c.metrics.incReconnectAttempt()

	seq := c.timerSeq
	c.timer = c.sched.AfterFunc(delay, func() {
		c.connect(seq)
	})
	c.logger.Info("push channel reconnect scheduled",
		"attempt", c.reconnectAttempts, "max", c.maxReconnectAttempts, "delay", delay)
}

// cancelReconnectLocked stops the pending reconnect timer. Bumping timerSeq
// also disarms a timer whose callback is already running.
func (c *Client) cancelReconnectLocked() {
	c.timerSeq++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// Disconnect closes the connection and cancels any pending reconnect.
// Listeners are told only if the client was not already disconnected.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.cancelReconnectLocked()
	c.gen++
	conn := c.conn
	c.conn = nil
	changed := c.state != StateDisconnected
	c.state = StateDisconnected
	if changed {
		c.metrics.setConnected(false)
		c.status.publish(false)
	}
	c.mu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			c.logger.Debug("push channel close", "err", err)
		}
	}
	if changed {
		c.logger.Info("push channel disconnected")
	}
	c.status.drain()
}

// Send writes {"type": eventType, "payload": payload}. Delivery is not
// confirmed; while disconnected the message is dropped and logged.
func (c *Client) Send(eventType string, payload any) {
	c.mu.Lock()
	conn := c.conn
	connected := c.state == StateConnected && conn != nil
	c.mu.Unlock()

	if !connected {
		c.logger.Warn("push channel send dropped", "type", eventType, "err", ErrNotConnected)
		c.metrics.incSent(eventType, sendNotConnected)
		return
	}

	data, err := json.Marshal(Outbound{Type: eventType, Payload: payload})
	if err != nil {
		c.logger.Error("push channel send encode", "type", eventType, "err", err)
		c.metrics.incSent(eventType, sendError)
		return
	}

	if err := conn.WriteMessage(data); err != nil {
		c.logger.Warn("push channel send failed", "type", eventType, "err", err)
		c.metrics.incSent(eventType, sendError)
		// The read loop sees the closed handle and runs the reconnect path.
		conn.Close()
		return
	}

	c.metrics.incSent(eventType, sendOK)
	c.logger.Debug("push channel sent", "type", eventType, "bytes", len(data))
}

func (c *Client) onMessage(raw []byte) {
	msg, err := parseMessage(raw)
	if err != nil {
		reason := dropInvalid
		if errors.Is(err, ErrMissingType) {
			reason = dropMissingType
		}
		c.logger.Warn("push channel frame dropped", "reason", reason, "err", err)
		c.metrics.incDropped(reason)
		return
	}

	handlers := c.registry.snapshot(msg.Type)
	if len(handlers) == 0 {
		c.logger.Debug("push channel message has no subscribers", "type", msg.Type)
		c.metrics.incDropped(dropNoSubscriber)
		return
	}

	c.metrics.incReceived(msg.Type)
	for _, h := range handlers {
		// An earlier handler may have unsubscribed this one.
		if !c.registry.contains(msg.Type, h) {
			continue
		}
		c.dispatch(h, msg)
	}
}

func (c *Client) dispatch(h Handler, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("push channel handler panicked", "type", msg.Type, "panic", r)
		}
	}()
	h.HandleMessage(msg)
}

// Subscribe registers h for messages of eventType. Registering the same
// handler twice has no further effect.
func (c *Client) Subscribe(eventType string, h Handler) {
	if err := c.registry.add(eventType, h); err != nil {
		c.logger.Error("push channel subscribe rejected", "type", eventType, "err", err)
	}
}

// Unsubscribe removes h from eventType. Unknown handlers are ignored.
func (c *Client) Unsubscribe(eventType string, h Handler) {
	c.registry.remove(eventType, h)
}

// Subscribers returns how many handlers are registered for eventType.
func (c *Client) Subscribers(eventType string) int {
	return c.registry.count(eventType)
}

// AddConnectionStatusListener registers l and calls it with the current
// status before returning, on the calling goroutine. Transitions that happen
// meanwhile reach l after that call.
func (c *Client) AddConnectionStatusListener(l StatusListener) {
	c.mu.Lock()
	entry, fresh, err := c.status.add(l)
	connected := c.state == StateConnected
	if err == nil && !fresh {
		c.status.requeue(entry, connected)
	}
	c.mu.Unlock()

	if err != nil {
		c.logger.Error("push channel status listener rejected", "err", err)
		return
	}
	if fresh {
		c.status.start(entry, connected)
		return
	}
	c.status.drain()
}

func (c *Client) RemoveConnectionStatusListener(l StatusListener) {
	c.status.remove(l)
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

func (c *Client) IsConnected() bool {
	return c.State() == StateConnected
}

// ReconnectAttempts returns the attempts made since the last successful
// connect.
func (c *Client) ReconnectAttempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.reconnectAttempts
}
