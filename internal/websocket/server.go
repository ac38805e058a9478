package websocket

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hyperdash/streamhub"
	"github.com/hyperdash/streamhub/internal/metrics"
	"github.com/hyperdash/streamhub/internal/protocol"
	"github.com/hyperdash/streamhub/internal/registry"
)

// CheckOriginFn decides whether a handshake's Origin header is acceptable.
type CheckOriginFn func(r *http.Request) bool

// RateLimitConfig bounds how fast a single connection may send inbound
// frames. A connection exceeding the limit is closed with a policy
// violation close code.
type RateLimitConfig struct {
	MessagesPerSecond rate.Limit
	Burst             int
	Enabled           bool
}

// DefaultRateLimitConfig allows 100 messages per second with a burst of 200.
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		MessagesPerSecond: 100,
		Burst:             200,
		Enabled:           true,
	}
}

// NoRateLimit disables inbound rate limiting.
func NoRateLimit() *RateLimitConfig {
	return &RateLimitConfig{Enabled: false}
}

const (
	defaultQueueSize    = 256
	defaultPingInterval = 54 * time.Second
	defaultReadTimeout  = 60 * time.Second
	defaultWriteTimeout = 10 * time.Second
	defaultDrainTimeout = 2 * time.Second
)

// Config carries everything a Server needs to run.
type Config struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string

	// Verifier resolves bearer tokens during the handshake. Required.
	Verifier streamhub.Verifier

	// Forwarder receives typed client messages and disconnect notices.
	// Optional; nil drops upstream messages with a log line.
	Forwarder streamhub.Forwarder

	// CheckOrigin gates the handshake's Origin header. Nil accepts any
	// origin.
	CheckOrigin CheckOriginFn

	// RateLimit bounds per-connection inbound frame rate. Nil applies
	// DefaultRateLimitConfig.
	RateLimit *RateLimitConfig

	// QueueSize is the per-connection outbound queue capacity.
	QueueSize int

	PingInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// DrainTimeout bounds how long Stop waits for each connection's queued
	// frames to flush before closing it.
	DrainTimeout time.Duration

	Logger *zap.Logger

	// PromRegistry receives the hub's prometheus collectors. Nil skips
	// prometheus registration.
	PromRegistry prometheus.Registerer
}

// Server is the streamhub.Hub implementation over gorilla/websocket. It owns
// the HTTP listener, the connection registry, the router, and the metrics
// aggregator.
type Server struct {
	cfg    Config
	logger *zap.Logger

	registry *registry.Registry
	metrics  *metrics.Aggregator
	router   *Router

	server   *http.Server
	upgrader websocket.Upgrader

	mu      sync.Mutex
	running bool

	shuttingDown atomic.Bool

	// cancelHousekeeping stops the metrics trim loop; it is cancelled
	// before registries are cleared at shutdown.
	cancelHousekeeping context.CancelFunc

	wg sync.WaitGroup

	startedAt time.Time
}

// New creates a server from cfg, applying defaults for zero-valued knobs.
func New(cfg Config) (*Server, error) {
	if cfg.Verifier == nil {
		return nil, fmt.Errorf("websocket: verifier is required")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.RateLimit == nil {
		cfg.RateLimit = DefaultRateLimitConfig()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = defaultDrainTimeout
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "hub"))

	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}

	reg := registry.New(logger)
	agg := metrics.New(cfg.PromRegistry)

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		registry:  reg,
		metrics:   agg,
		startedAt: time.Now(),
		router:    NewRouter(reg, agg, cfg.Forwarder, logger),
		upgrader:  websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
	}
	return s, nil
}

var _ streamhub.Hub = (*Server)(nil)

// Start binds the listener and begins accepting handshakes at /ws. It
// returns once the listener is up, or with the bind error.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf(streamhub.ErrServerAlreadyRunning)
	}
	s.running = true

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)

	s.server = &http.Server{
		Addr:    s.cfg.Addr,
		Handler: mux,
	}

	hctx, cancel := context.WithCancel(context.Background())
	s.cancelHousekeeping = cancel
	go s.metrics.Run(hctx)
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		cancel()
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(100 * time.Millisecond):
		s.logger.Info("listening", zap.String("addr", s.cfg.Addr))
		return nil
	}
}

// bearerToken extracts the handshake token from the token query parameter
// or the Authorization header.
func bearerToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	header := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(header, "Bearer "); ok {
		return after
	}
	return ""
}

// handleWebSocket authenticates and upgrades one handshake. Verification
// happens before the upgrade: a bad token is answered with 401 and the
// connection is never registered or counted.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown.Load() {
		http.Error(w, streamhub.ErrServerShuttingDown, http.StatusServiceUnavailable)
		return
	}

	identity, err := s.cfg.Verifier.Verify(r.Context(), bearerToken(r))
	if err != nil {
		s.logger.Info("handshake rejected",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err))
		http.Error(w, "authentication failed", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err))
		return
	}

	client := NewClient(conn, r.RemoteAddr, identity, clientConfig{
		rateLimit:    s.cfg.RateLimit,
		queueSize:    s.cfg.QueueSize,
		pingInterval: s.cfg.PingInterval,
		writeTimeout: s.cfg.WriteTimeout,
		onDrop:       s.metrics.FrameDropped,
		logger:       s.logger,
	})
	logger := s.logger.With(
		zap.String("conn_id", client.ID()),
		zap.String("user_id", client.UserID()))

	if err := s.registry.Register(client); err != nil {
		logger.Error("register failed", zap.Error(err))
		client.CloseWithCode(r.Context(), websocket.CloseInternalServerErr, "registration failed")
		return
	}
	if s.shuttingDown.Load() {
		// Shutdown began between the gate check and registration.
		s.registry.Unregister(client.ID())
		client.CloseWithCode(r.Context(), websocket.CloseGoingAway, streamhub.ErrServerShuttingDown)
		return
	}

	s.metrics.ConnectionOpened()
	client.setState(StateActive)

	// Every connection is auto-joined to its user's private room; that
	// room is the unicast path for user-scoped delivery.
	s.registry.Join(streamhub.UserRoom(client.UserID()), client.ID())

	logger.Info("client connected", zap.String("remote_addr", r.RemoteAddr))

	welcome, err := streamhub.NewFrame(streamhub.EventConnected, map[string]any{
		"connectionId": client.ID(),
		"userId":       client.UserID(),
		"serverTime":   time.Now().UTC().Format(time.RFC3339),
	})
	if err == nil {
		client.Send(r.Context(), welcome)
	}

	s.wg.Add(1)
	go s.readLoop(client, logger)
}

// readLoop reads, decodes, and dispatches inbound frames until the
// connection errors or closes. Malformed frames are logged and dropped; the
// connection stays up.
func (s *Server) readLoop(client *Client, logger *zap.Logger) {
	defer s.wg.Done()
	defer s.teardown(client, "connection closed")

	client.conn.SetReadLimit(int64(1 << 20))
	client.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		return nil
	})

	for {
		select {
		case <-client.ctx.Done():
			return
		default:
		}

		_, data, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("read failed", zap.Error(err))
			}
			return
		}
		client.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))

		if !client.allow() {
			logger.Warn("rate limit exceeded, closing connection")
			client.CloseWithCode(client.ctx, websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}

		frame, err := protocol.Decode(data)
		if err != nil {
			logger.Debug("malformed frame dropped", zap.Error(err))
			continue
		}

		s.router.HandleFrame(client.ctx, client, frame)
	}
}

// teardown unwinds one connection exactly once: membership and registration
// are removed, the active gauge is decremented, the connection service is
// notified, and the transport is closed.
func (s *Server) teardown(client *Client, reason string) {
	client.teardownOnce.Do(func() {
		client.setState(StateClosing)

		s.registry.Unregister(client.ID())
		s.metrics.ConnectionClosed()

		s.notifyDisconnect(client, reason)

		client.Close(context.Background())

		s.logger.Info("client disconnected",
			zap.String("conn_id", client.ID()),
			zap.String("user_id", client.UserID()),
			zap.String("reason", reason))
	})
}

// notifyDisconnect tells the connection service a user's connection went
// away. Best effort.
func (s *Server) notifyDisconnect(client *Client, reason string) {
	if s.cfg.Forwarder == nil {
		return
	}
	notice, err := streamhub.NewFrame(streamhub.MessageUserDisconnected, map[string]any{
		"userId":       client.UserID(),
		"connectionId": client.ID(),
		"reason":       reason,
	})
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.cfg.Forwarder.Forward(ctx, streamhub.ServiceConnection, notice); err != nil {
		s.logger.Warn("disconnect notice failed",
			zap.String("conn_id", client.ID()),
			zap.Error(err))
	}
}

// Stop gracefully shuts the server down: new handshakes are refused,
// housekeeping stops, every client receives a server_shutdown frame and is
// drained and closed, the registry is cleared, and the listener shuts down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.shuttingDown.Store(true)
	s.logger.Info("shutting down")

	if s.cancelHousekeeping != nil {
		s.cancelHousekeeping()
	}

	shutdown, err := streamhub.NewFrame(streamhub.EventServerShutdown, map[string]any{
		"message":     "server is shutting down",
		"reconnectIn": 5000,
	})
	if err == nil {
		for _, conn := range s.registry.Connections() {
			if sendErr := conn.Send(ctx, shutdown); sendErr != nil {
				s.logger.Debug("shutdown notice failed",
					zap.String("conn_id", conn.ID()),
					zap.Error(sendErr))
			}
		}
	}

	for _, conn := range s.registry.Connections() {
		if client, ok := conn.(*Client); ok {
			client.drain(s.cfg.DrainTimeout)
			s.teardown(client, "server shutdown")
		} else {
			conn.Close(ctx)
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("timed out waiting for connection handlers")
	}

	s.registry.Clear()

	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			return err
		}
	}

	s.logger.Info("shutdown complete")
	return nil
}

// BroadcastAll delivers frame to every registered connection.
func (s *Server) BroadcastAll(ctx context.Context, frame streamhub.Frame) {
	s.router.BroadcastAll(ctx, frame)
}

// BroadcastRoom delivers frame to every member of room.
func (s *Server) BroadcastRoom(ctx context.Context, room string, frame streamhub.Frame) {
	s.router.BroadcastRoom(ctx, room, frame)
}

// UnicastUser delivers frame to every connection belonging to userID.
func (s *Server) UnicastUser(ctx context.Context, userID string, frame streamhub.Frame) {
	s.router.UnicastUser(ctx, userID, frame)
}

// UnicastConnection delivers frame to one connection by id.
func (s *Server) UnicastConnection(ctx context.Context, connectionID string, frame streamhub.Frame) {
	s.router.UnicastConnection(ctx, connectionID, frame)
}

// Snapshot merges the metrics counters with the registry's membership view.
func (s *Server) Snapshot() streamhub.Snapshot {
	stats := s.metrics.Snapshot()
	return streamhub.Snapshot{
		TotalConnections:   stats.TotalConnections,
		ActiveConnections:  stats.ActiveConnections,
		TotalMessages:      stats.TotalMessages,
		LastMinuteMessages: stats.LastMinuteMessages,
		MessagesPerSecond:  stats.MessagesPerSecond,
		RoomCount:          s.registry.RoomCount(),
		UptimeSeconds:      time.Since(s.startedAt).Seconds(),
		Connections:        s.registry.Details(),
	}
}
