package notify

import (
	"context"
	"encoding/json"
	"math"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"server/internal/domain"
	"server/internal/infra"
)

// ConnState is the connection state of a Client. The degraded modes are
// first-class values rather than stand-in connection objects, so
// callers can test for them directly.
type ConnState interface{ connState() }

// Connected holds a live connection.
type Connected struct{ Conn net.Conn }

// Disconnected means the client has no connection and is not trying to
// establish one; the caller falls back entirely to polling.
type Disconnected struct{}

// Reconnecting means the client is between backoff attempts.
type Reconnecting struct{ Attempt int }

func (Connected) connState()    {}
func (Disconnected) connState() {}
func (Reconnecting) connState() {}

// PushEvent is a decoded push message.
type PushEvent struct {
	EventType domain.EventType `json:"eventType"`
	Data      json.RawMessage  `json:"data"`
}

// Client subscribes to the push channel with automatic reconnection.
// Backoff is exponential with full jitter, capped at MaxDelay, and is
// reset only after a session has stayed up for StableAfter; a reconnect
// that immediately drops keeps climbing the backoff curve.
type Client struct {
	url         string
	token       string
	logger      infra.Logger
	onEvent     func(PushEvent)
	initial     time.Duration
	maxDelay    time.Duration
	stableAfter time.Duration

	mu     sync.Mutex
	state  ConnState
	closed atomic.Bool
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBackoff overrides the reconnect backoff bounds.
func WithBackoff(initial, maxDelay time.Duration) ClientOption {
	return func(c *Client) {
		c.initial = initial
		c.maxDelay = maxDelay
	}
}

// WithStableAfter overrides how long a session must survive before the
// backoff counter resets.
func WithStableAfter(d time.Duration) ClientOption {
	return func(c *Client) { c.stableAfter = d }
}

// NewClient creates a push subscriber. onEvent is invoked from the read
// goroutine for every decoded event.
func NewClient(url, token string, logger infra.Logger, onEvent func(PushEvent), opts ...ClientOption) *Client {
	c := &Client{
		url:         url,
		token:       token,
		logger:      logger,
		onEvent:     onEvent,
		initial:     time.Second,
		maxDelay:    30 * time.Second,
		stableAfter: time.Minute,
		state:       Disconnected{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current connection state.
func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s ConnState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Start dials the push channel and launches the read loop. A failed
// initial dial leaves the client Disconnected without an error: push is
// an optimization and the caller keeps polling either way.
func (c *Client) Start(ctx context.Context) {
	conn, err := c.dial(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("notify: push channel unavailable, relying on polling")
		c.setState(Disconnected{})
		return
	}
	c.setState(Connected{Conn: conn})
	go c.readLoop(ctx, conn, 0)
}

// Close shuts the client down intentionally; no reconnect follows.
func (c *Client) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.mu.Lock()
	if s, ok := c.state.(Connected); ok {
		_ = ws.WriteFrame(s.Conn, ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusNormalClosure, "")))
		_ = s.Conn.Close()
	}
	c.state = Disconnected{}
	c.mu.Unlock()
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	dialer := ws.Dialer{}
	if c.token != "" {
		dialer.Header = ws.HandshakeHeaderHTTP(map[string][]string{
			"Authorization": {"Bearer " + c.token},
		})
	}
	conn, _, _, err := dialer.Dial(ctx, c.url)
	return conn, err
}

func (c *Client) readLoop(ctx context.Context, conn net.Conn, attempt int) {
	sessionStart := time.Now()
	for {
		if c.closed.Load() {
			return
		}
		data, err := wsutil.ReadServerText(conn)
		if err != nil {
			_ = conn.Close()
			if c.closed.Load() || ctx.Err() != nil {
				c.setState(Disconnected{})
				return
			}
			// Only a session that stayed up resets the backoff curve; a
			// reconnect followed by an immediate drop keeps climbing.
			if time.Since(sessionStart) >= c.stableAfter {
				attempt = 0
			}
			c.reconnect(ctx, attempt+1)
			return
		}
		var evt PushEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			c.logger.Warn().Err(err).Msg("notify: invalid push frame")
			continue
		}
		if c.onEvent != nil {
			c.onEvent(evt)
		}
	}
}

func (c *Client) reconnect(ctx context.Context, attempt int) {
	for {
		if c.closed.Load() || ctx.Err() != nil {
			c.setState(Disconnected{})
			return
		}
		c.setState(Reconnecting{Attempt: attempt})
		delay := c.delay(attempt)
		c.logger.Info().Int("attempt", attempt).Dur("delay", delay).Msg("notify: reconnecting push channel")

		select {
		case <-ctx.Done():
			c.setState(Disconnected{})
			return
		case <-time.After(delay):
		}

		conn, err := c.dial(ctx)
		if err != nil {
			attempt++
			continue
		}
		c.setState(Connected{Conn: conn})
		go c.readLoop(ctx, conn, attempt)
		return
	}
}

// delay computes the full-jitter exponential backoff for an attempt:
// a random duration in [0, min(initial*2^(attempt-1), maxDelay)].
func (c *Client) delay(attempt int) time.Duration {
	base := float64(c.initial) * math.Pow(2, float64(attempt-1))
	if capped := float64(c.maxDelay); base > capped {
		base = capped
	}
	return time.Duration(rand.Float64() * base)
}
