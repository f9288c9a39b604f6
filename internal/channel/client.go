package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// ErrClosed is returned by Connect after Disconnect
var ErrClosed = errors.New("channel client is closed")

// Defaults for the reconnect policy
const (
	DefaultMaxReconnects  = 5
	DefaultBaseDelay      = time.Second
	DefaultConnectTimeout = 5 * time.Second
)

// Options configures a Client
type Options struct {
	URL            string
	MaxReconnects  int
	BaseDelay      time.Duration
	ConnectTimeout time.Duration
	Dialer         Dialer
	AfterFunc      AfterFunc
	Logger         logrus.FieldLogger
}

// Client keeps one duplex connection to the control endpoint, reconnecting with exponential backoff
// after unexpected closes. Sends are best effort.
type Client struct {
	url            string
	maxReconnects  int
	baseDelay      time.Duration
	connectTimeout time.Duration
	dialer         Dialer
	afterFunc      AfterFunc
	logger         logrus.FieldLogger

	mu          sync.Mutex
	conn        Conn
	pending     *dialAttempt
	attempts    int
	noReconnect bool
	timer       Timer
	handlers    map[string]map[int]Handler
	nextHandler int

	writeMu sync.Mutex
}

// New creates a client. Nothing is dialed until Connect.
func New(opts Options) *Client {
	if opts.MaxReconnects < 0 {
		opts.MaxReconnects = 0
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = DefaultBaseDelay
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.Dialer == nil {
		opts.Dialer = NewWebSocketDialer(nil)
	}
	if opts.AfterFunc == nil {
		opts.AfterFunc = realAfterFunc
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	return &Client{
		url:            opts.URL,
		maxReconnects:  opts.MaxReconnects,
		baseDelay:      opts.BaseDelay,
		connectTimeout: opts.ConnectTimeout,
		dialer:         opts.Dialer,
		afterFunc:      opts.AfterFunc,
		logger:         opts.Logger.WithField("component", "channel"),
		handlers:       make(map[string]map[int]Handler),
	}
}

// On subscribes h to event, which is a frame type or one of the Event constants
func (c *Client) On(event string, h Handler) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextHandler
	c.nextHandler++
	if c.handlers[event] == nil {
		c.handlers[event] = make(map[int]Handler)
	}
	c.handlers[event][id] = h

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.handlers[event], id)
	}
}

// Connect opens the connection. A failed attempt is retried in the background under the
// reconnect policy and its error returned.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	c.noReconnect = false
	c.mu.Unlock()
	return c.dial(ctx)
}

// dialAttempt is an in-progress dial; callers arriving while it runs share its result
type dialAttempt struct {
	done chan struct{}
	err  error
}

func (c *Client) dial(ctx context.Context) error {
	c.mu.Lock()
	if c.noReconnect {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	if p := c.pending; p != nil {
		c.mu.Unlock()
		select {
		case <-p.done:
			return p.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	attempt := &dialAttempt{done: make(chan struct{})}
	c.pending = attempt
	c.mu.Unlock()

	retry, err := c.open(ctx)

	c.mu.Lock()
	c.pending = nil
	c.mu.Unlock()
	attempt.err = err
	close(attempt.done)

	if retry {
		c.scheduleReconnect()
	}
	return err
}

// open dials and installs the connection. retry reports a failed dial.
func (c *Client) open(ctx context.Context) (retry bool, err error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	conn, err := c.dialer.Dial(dialCtx, c.url)
	cancel()

	if err != nil {
		c.logger.WithError(err).WithField("url", c.url).Warn("channel connect failed")
		return true, fmt.Errorf("failed to connect to %s: %w", c.url, err)
	}

	c.mu.Lock()
	// Disconnect may have been called while dialing
	if c.noReconnect {
		c.mu.Unlock()
		_ = conn.Close()
		return false, ErrClosed
	}
	if c.conn != nil {
		c.mu.Unlock()
		_ = conn.Close()
		return false, nil
	}
	c.conn = conn
	c.attempts = 0
	c.mu.Unlock()

	c.logger.WithField("url", c.url).Info("channel connected")
	c.emit(EventOpen, Message{Type: EventOpen})

	go c.readLoop(conn)
	return false, nil
}

func (c *Client) readLoop(conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(conn, err)
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.WithError(err).Warn("dropping undecodable channel frame")
			continue
		}

		c.emit(EventMessage, msg)
		if msg.Type != "" {
			c.emit(msg.Type, msg)
		}
	}
}

func (c *Client) handleClose(conn Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	intentional := c.noReconnect
	c.mu.Unlock()

	_ = conn.Close()
	c.emit(EventClose, Message{Type: EventClose})

	if intentional {
		c.logger.Info("channel disconnected")
		return
	}
	c.logger.WithError(cause).Warn("channel closed unexpectedly")
	c.scheduleReconnect()
}

// scheduleReconnect arms the next attempt: baseDelay * 2^(attempt-1)
func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.noReconnect || c.timer != nil {
		return
	}
	if c.attempts >= c.maxReconnects {
		c.logger.WithField("attempts", c.attempts).Error("channel reconnect attempts exhausted")
		go c.emit(EventReconnectFailed, Message{Type: EventReconnectFailed})
		return
	}

	c.attempts++
	delay := c.baseDelay << (c.attempts - 1)
	c.logger.WithFields(logrus.Fields{"attempt": c.attempts, "delay": delay}).Info("channel reconnect scheduled")

	c.timer = c.afterFunc(delay, func() {
		c.mu.Lock()
		c.timer = nil
		c.mu.Unlock()
		_ = c.dial(context.Background())
	})
}

// Send writes msg if the connection is open and reports whether it was written
func (c *Client) Send(msg Message) bool {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return false
	}

	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.WithError(err).Warn("failed to encode channel frame")
		return false
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.logger.WithError(err).Debug("channel send failed")
		return false
	}
	return true
}

// IsConnected reports whether the connection is open
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Attempts returns the reconnect attempts since the last successful open
func (c *Client) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Disconnect closes the connection and stops reconnecting
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.noReconnect = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		c.handleClose(conn, nil)
	}
}

func (c *Client) emit(event string, msg Message) {
	c.mu.Lock()
	handlers := make([]Handler, 0, len(c.handlers[event]))
	for _, h := range c.handlers[event] {
		handlers = append(handlers, h)
	}
	c.mu.Unlock()

	for _, h := range handlers {
		h(msg)
	}
}
