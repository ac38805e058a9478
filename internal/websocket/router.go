package websocket

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/hyperdash/streamhub"
	"github.com/hyperdash/streamhub/internal/auth"
	"github.com/hyperdash/streamhub/internal/metrics"
	"github.com/hyperdash/streamhub/internal/protocol"
	"github.com/hyperdash/streamhub/internal/registry"
)

// Router dispatches inbound frames to their handlers and owns every
// outbound fan-out path. Delivery to one broken recipient never aborts
// delivery to the rest; per-recipient failures are logged and swallowed.
type Router struct {
	registry  *registry.Registry
	metrics   *metrics.Aggregator
	forwarder streamhub.Forwarder
	canJoin   func(identity streamhub.Identity, room string) bool
	logger    *zap.Logger
}

// NewRouter builds a router over the shared registry and metrics. A nil
// forwarder drops upstream messages with a log line instead of delivering
// them.
func NewRouter(reg *registry.Registry, agg *metrics.Aggregator, forwarder streamhub.Forwarder, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		registry:  reg,
		metrics:   agg,
		forwarder: forwarder,
		canJoin:   auth.CanJoin,
		logger:    logger.With(zap.String("component", "router")),
	}
}

// HandleFrame dispatches one decoded inbound frame. Unknown frame types are
// logged and dropped without disturbing the connection.
func (r *Router) HandleFrame(ctx context.Context, conn streamhub.Connection, frame streamhub.Frame) {
	switch frame.Type {
	case streamhub.FrameSubscribe:
		req, err := protocol.ParseSubscribe(frame.Data)
		if err != nil {
			r.sendError(ctx, conn, "", streamhub.ErrInvalidFrame)
			return
		}
		r.Subscribe(ctx, conn, req.Room, req.Params)

	case streamhub.FrameUnsubscribe:
		req, err := protocol.ParseUnsubscribe(frame.Data)
		if err != nil {
			r.sendError(ctx, conn, "", streamhub.ErrInvalidFrame)
			return
		}
		r.Unsubscribe(ctx, conn, req.Room)

	case streamhub.FramePing:
		r.sendPong(ctx, conn)

	case streamhub.FrameMessage:
		r.HandleMessage(ctx, conn, frame)

	default:
		r.logger.Warn("unknown frame type dropped",
			zap.String("type", frame.Type),
			zap.String("conn_id", conn.ID()))
	}
}

// Subscribe processes a room join request. Requests failing the room grammar
// or the authorization policy are answered with an error frame and leave
// membership untouched. An accepted join is confirmed to the requester and
// announced, best effort, to the room's other members.
func (r *Router) Subscribe(ctx context.Context, conn streamhub.Connection, room string, params json.RawMessage) {
	if !r.canJoin(conn.Identity(), room) {
		r.logger.Info("subscription denied",
			zap.String("room", room),
			zap.String("conn_id", conn.ID()),
			zap.String("user_id", conn.UserID()))
		r.sendError(ctx, conn, room, streamhub.ErrRoomDenied)
		return
	}

	if !r.registry.Join(room, conn.ID()) {
		// Connection unregistered between read and dispatch.
		return
	}

	r.logger.Debug("subscribed",
		zap.String("room", room),
		zap.String("conn_id", conn.ID()))

	payload := map[string]any{"room": room}
	if len(params) > 0 {
		payload["params"] = params
	}
	confirm, err := streamhub.NewFrame(streamhub.EventSubscribed, payload)
	if err != nil {
		r.logger.Error("encode subscribed frame", zap.Error(err))
		return
	}
	r.deliver(ctx, conn, confirm)

	r.announceJoin(ctx, conn, room)
}

// announceJoin tells the room's other members that a user joined. Best
// effort: failures are logged at debug and ignored.
func (r *Router) announceJoin(ctx context.Context, conn streamhub.Connection, room string) {
	notice, err := streamhub.NewFrame(streamhub.EventUserJoined, map[string]any{
		"userId": conn.UserID(),
		"room":   room,
	})
	if err != nil {
		r.logger.Error("encode user_joined frame", zap.Error(err))
		return
	}

	for _, member := range r.registry.MembersOf(room) {
		if member.ID() == conn.ID() {
			continue
		}
		r.deliver(ctx, member, notice)
	}
}

// Unsubscribe removes the connection from room unconditionally and confirms.
// Leaving a room the connection never joined is a harmless no-op that is
// still confirmed.
func (r *Router) Unsubscribe(ctx context.Context, conn streamhub.Connection, room string) {
	r.registry.Leave(room, conn.ID())

	confirm, err := streamhub.NewFrame(streamhub.EventUnsubscribed, map[string]any{
		"room": room,
	})
	if err != nil {
		r.logger.Error("encode unsubscribed frame", zap.Error(err))
		return
	}
	r.deliver(ctx, conn, confirm)
}

// HandleMessage dispatches a typed client message to its upstream service.
// The message counter reflects receipt of the message, not whether its inner
// type was recognized or its forwarding succeeded.
func (r *Router) HandleMessage(ctx context.Context, conn streamhub.Connection, frame streamhub.Frame) {
	r.metrics.MessageRouted()

	switch inner := protocol.InnerType(frame.Data); inner {
	case streamhub.MessageMarketSubscribe:
		r.forward(ctx, streamhub.ServiceMarket, frame)

	case streamhub.MessageTraderSubscribe:
		r.forward(ctx, streamhub.ServiceTrader, frame)

	case streamhub.MessageStrategyUpdate:
		r.forward(ctx, streamhub.ServiceStrategy, frame)

	case streamhub.MessagePing:
		r.sendPong(ctx, conn)

	default:
		r.logger.Warn("unknown message type dropped",
			zap.String("message_type", inner),
			zap.String("conn_id", conn.ID()))
	}
}

// forward hands a frame to the upstream forwarder. Forwarding failures are
// logged and never surfaced to the client.
func (r *Router) forward(ctx context.Context, service string, frame streamhub.Frame) {
	if r.forwarder == nil {
		r.logger.Debug("no forwarder configured, message dropped",
			zap.String("service", service))
		return
	}
	if err := r.forwarder.Forward(ctx, service, frame); err != nil {
		r.logger.Warn("forward failed",
			zap.String("service", service),
			zap.Error(err))
	}
}

// BroadcastAll fans a frame out to every registered connection, wrapped in a
// broadcast envelope.
func (r *Router) BroadcastAll(ctx context.Context, frame streamhub.Frame) {
	out, err := protocol.Wrap(streamhub.EventBroadcast, frame)
	if err != nil {
		r.logger.Error("encode broadcast envelope", zap.Error(err))
		return
	}
	for _, conn := range r.registry.Connections() {
		r.deliver(ctx, conn, out)
	}
}

// BroadcastRoom fans a frame out to the members of room at the instant of
// the call, wrapped in a broadcast envelope. An unknown or empty room is a
// no-op.
func (r *Router) BroadcastRoom(ctx context.Context, room string, frame streamhub.Frame) {
	out, err := protocol.Wrap(streamhub.EventBroadcast, frame)
	if err != nil {
		r.logger.Error("encode broadcast envelope", zap.Error(err))
		return
	}
	for _, conn := range r.registry.MembersOf(room) {
		r.deliver(ctx, conn, out)
	}
}

// UnicastUser delivers a frame to every connection in the user's private
// room, wrapped in a message envelope. A user with no live connections is a
// no-op.
func (r *Router) UnicastUser(ctx context.Context, userID string, frame streamhub.Frame) {
	out, err := protocol.Wrap(streamhub.EventMessage, frame)
	if err != nil {
		r.logger.Error("encode message envelope", zap.Error(err))
		return
	}
	for _, conn := range r.registry.MembersOf(streamhub.UserRoom(userID)) {
		r.deliver(ctx, conn, out)
	}
}

// UnicastConnection delivers a frame to one connection by id, wrapped in a
// message envelope. An unknown id drops the frame silently.
func (r *Router) UnicastConnection(ctx context.Context, connectionID string, frame streamhub.Frame) {
	conn, ok := r.registry.Get(connectionID)
	if !ok {
		return
	}
	out, err := protocol.Wrap(streamhub.EventMessage, frame)
	if err != nil {
		r.logger.Error("encode message envelope", zap.Error(err))
		return
	}
	r.deliver(ctx, conn, out)
}

// deliver sends one frame to one connection, isolating failures.
func (r *Router) deliver(ctx context.Context, conn streamhub.Connection, frame streamhub.Frame) {
	if err := conn.Send(ctx, frame); err != nil {
		r.logger.Debug("delivery failed",
			zap.String("conn_id", conn.ID()),
			zap.String("type", frame.Type),
			zap.Error(err))
	}
}

func (r *Router) sendPong(ctx context.Context, conn streamhub.Connection) {
	pong, err := streamhub.NewFrame(streamhub.EventPong, nil)
	if err != nil {
		return
	}
	r.deliver(ctx, conn, pong)
}

func (r *Router) sendError(ctx context.Context, conn streamhub.Connection, room, message string) {
	payload := map[string]any{"message": message}
	if room != "" {
		payload["room"] = room
	}
	frame, err := streamhub.NewFrame(streamhub.EventError, payload)
	if err != nil {
		return
	}
	r.deliver(ctx, conn, frame)
}
