package websocket

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hyperdash/streamhub"
	"github.com/hyperdash/streamhub/internal/protocol"
)

// State is a connection's position in its lifecycle state machine:
// Connecting -> Authenticated -> Active -> Closing -> Closed. A failed
// handshake goes straight from Connecting to Closed without ever reaching
// Active.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticated
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// clientConfig carries the per-connection knobs the server resolved from
// its own configuration.
type clientConfig struct {
	rateLimit    *RateLimitConfig
	queueSize    int
	pingInterval time.Duration
	writeTimeout time.Duration
	onDrop       func()
	logger       *zap.Logger
}

// Client is one registered client connection. It implements
// streamhub.Connection.
//
// Outbound frames go through a bounded send channel drained by a dedicated
// write pump, so a slow transport only ever delays its own frames. When the
// queue overflows, the oldest queued frame is dropped to make room for the
// new one.
type Client struct {
	id         string
	identity   streamhub.Identity
	conn       *websocket.Conn
	remoteAddr string
	createdAt  time.Time

	ctx    context.Context
	cancel context.CancelFunc
	sendCh chan []byte

	mu     sync.RWMutex
	closed bool

	state atomic.Int32

	// teardownOnce guards the full disconnect unwind (leave rooms,
	// unregister, decrement metrics) so it runs exactly once even when
	// multiple close triggers fire concurrently.
	teardownOnce sync.Once

	limiter *rate.Limiter
	onDrop  func()
	logger  *zap.Logger

	pingInterval time.Duration
	writeTimeout time.Duration
}

// NewClient wraps an upgraded transport in a Client. The identity has
// already been verified; the client starts in the Authenticated state and
// its write pump is running.
func NewClient(conn *websocket.Conn, remoteAddr string, identity streamhub.Identity, cfg clientConfig) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	var limiter *rate.Limiter
	if cfg.rateLimit != nil && cfg.rateLimit.Enabled {
		limiter = rate.NewLimiter(cfg.rateLimit.MessagesPerSecond, cfg.rateLimit.Burst)
	}

	client := &Client{
		id:           uuid.New().String(),
		identity:     identity,
		conn:         conn,
		remoteAddr:   remoteAddr,
		createdAt:    time.Now(),
		ctx:          ctx,
		cancel:       cancel,
		sendCh:       make(chan []byte, cfg.queueSize),
		limiter:      limiter,
		onDrop:       cfg.onDrop,
		logger:       cfg.logger,
		pingInterval: cfg.pingInterval,
		writeTimeout: cfg.writeTimeout,
	}
	client.state.Store(int32(StateAuthenticated))

	go client.writePump()

	return client
}

var _ streamhub.Connection = (*Client)(nil)

// ID returns the opaque identifier generated at handshake.
func (c *Client) ID() string {
	return c.id
}

// Identity returns the authenticated principal owning this connection.
func (c *Client) Identity() streamhub.Identity {
	return c.identity
}

// UserID returns the owning user's id.
func (c *Client) UserID() string {
	return c.identity.UserID
}

// RemoteAddr returns the client's remote network address.
func (c *Client) RemoteAddr() string {
	return c.remoteAddr
}

// CreatedAt returns the handshake timestamp.
func (c *Client) CreatedAt() time.Time {
	return c.createdAt
}

// Context returns the client's lifecycle context. It is cancelled when the
// connection enters teardown, cancelling any in-flight send.
func (c *Client) Context() context.Context {
	return c.ctx
}

// State returns the connection's current lifecycle state.
func (c *Client) State() State {
	return State(c.state.Load())
}

func (c *Client) setState(s State) {
	c.state.Store(int32(s))
}

// Send encodes frame and queues it for delivery. Delivery is FIFO relative
// to the order frames were handed to this connection. On queue overflow the
// oldest queued frame is dropped and counted.
func (c *Client) Send(ctx context.Context, frame streamhub.Frame) error {
	data, err := protocol.Encode(frame)
	if err != nil {
		return err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return fmt.Errorf(streamhub.ErrConnectionClosed)
	}

	select {
	case c.sendCh <- data:
		return nil
	default:
	}

	// Queue full: evict the oldest queued frame, then retry.
	select {
	case <-c.sendCh:
		if c.onDrop != nil {
			c.onDrop()
		}
	default:
	}

	select {
	case c.sendCh <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return fmt.Errorf(streamhub.ErrContextCancelled)
	}
}

// Close closes the client connection with a normal closure code.
func (c *Client) Close(ctx context.Context) error {
	return c.CloseWithCode(ctx, websocket.CloseNormalClosure, "")
}

// CloseWithCode closes the connection with a close code and optional
// reason. Idempotent.
func (c *Client) CloseWithCode(ctx context.Context, code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	c.setState(StateClosed)
	c.cancel()

	message := websocket.FormatCloseMessage(code, reason)
	deadline := time.Now().Add(time.Second)
	c.conn.WriteControl(websocket.CloseMessage, message, deadline)

	close(c.sendCh)
	return c.conn.Close()
}

// IsAlive returns true if the connection is still active.
func (c *Client) IsAlive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.closed
}

// allow checks the inbound rate limit. Returns true if the message may be
// processed.
func (c *Client) allow() bool {
	if c.limiter == nil {
		return true
	}
	return c.limiter.Allow()
}

// drain waits until the send queue is empty or the timeout expires. Used
// during shutdown so the server_shutdown frame reaches the transport before
// the connection is closed.
func (c *Client) drain(timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if len(c.sendCh) == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// writePump pumps frames from the send channel to the websocket connection
// and keeps the connection alive with periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				if c.logger != nil {
					c.logger.Debug("write failed", zap.Error(err))
				}
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}
