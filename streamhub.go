package streamhub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Frame is a single structured message unit exchanged over a connection.
//
// Every frame carries a type tag, an optional JSON payload, and an ISO 8601
// timestamp. Inbound frames from clients additionally carry an optional
// requestId the client can use to correlate replies.
type Frame struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp string          `json:"timestamp"`
	RequestID string          `json:"requestId,omitempty"`
}

// NewFrame builds a frame of the given type, marshaling data as its payload.
// A nil data produces a frame with no payload. The timestamp is set to the
// current UTC time.
func NewFrame(frameType string, data any) (Frame, error) {
	frame := Frame{
		Type:      frameType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Frame{}, fmt.Errorf("%s: %w", ErrFailedToEncode, err)
		}
		frame.Data = raw
	}
	return frame, nil
}

// Identity is the authenticated principal associated with a connection.
// It is established once at handshake time and never mutated for the
// lifetime of the connection.
type Identity struct {
	// UserID uniquely identifies the user that opened the connection.
	UserID string

	// Profile carries arbitrary claims returned by the token verifier.
	// The hub trusts these fields without further validation.
	Profile map[string]any
}

// Verifier resolves a bearer token into an identity.
//
// The hub treats verification as an external collaborator: the call may
// perform network I/O and suspends only the handshake of the connection
// being verified. A non-nil error rejects the handshake; the connection is
// never registered.
type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// VerifierFunc adapts a plain function to the Verifier interface.
type VerifierFunc func(ctx context.Context, token string) (Identity, error)

// Verify calls f.
func (f VerifierFunc) Verify(ctx context.Context, token string) (Identity, error) {
	return f(ctx, token)
}

// Forwarder delivers frames to internal upstream services.
//
// The hub forwards typed client messages (market_subscribe, trader_subscribe,
// strategy_update) and disconnect notifications through this boundary. Errors
// are logged by the hub and never surfaced to clients.
type Forwarder interface {
	Forward(ctx context.Context, service string, frame Frame) error
}

// ForwarderFunc adapts a plain function to the Forwarder interface.
type ForwarderFunc func(ctx context.Context, service string, frame Frame) error

// Forward calls f.
func (f ForwarderFunc) Forward(ctx context.Context, service string, frame Frame) error {
	return f(ctx, service, frame)
}

// Connection represents a live client connection registered with the hub.
//
// Connections are created by the hub at successful handshake and destroyed
// at disconnect. The transport handle's lifetime is tied to the connection's
// lifetime.
type Connection interface {
	// ID returns the opaque unique identifier generated at handshake.
	ID() string

	// Identity returns the authenticated principal owning this connection.
	Identity() Identity

	// UserID is shorthand for Identity().UserID.
	UserID() string

	// RemoteAddr returns the client's remote network address.
	RemoteAddr() string

	// CreatedAt returns the handshake timestamp.
	CreatedAt() time.Time

	// Context returns the connection's lifecycle context. It is cancelled
	// when the connection enters teardown, which also cancels any in-flight
	// send to it.
	Context() context.Context

	// Send queues a frame for delivery to the client. Delivery order is
	// FIFO relative to the order frames were handed to this connection.
	// The queue is bounded; when it overflows the oldest queued frame is
	// dropped to make room. Returns an error if the connection is closed.
	Send(ctx context.Context, frame Frame) error

	// Close closes the connection with a normal closure code.
	Close(ctx context.Context) error

	// CloseWithCode closes the connection with a specific WebSocket close
	// code and optional reason. Closing is idempotent.
	CloseWithCode(ctx context.Context, code int, reason string) error

	// IsAlive reports whether the connection is still active.
	IsAlive() bool
}

// Hub is the connection/room registry and message-routing engine.
//
// A hub instance is explicitly constructed and owns its full lifecycle:
// Start binds the listener and begins accepting handshakes, Stop notifies
// every client, drains, and clears all state. Multiple independent hub
// instances may coexist (there is no process-global state).
//
// Outbound entry points fan events out to the connections subscribed at the
// instant of the call. A connection joining concurrently with a broadcast
// may or may not receive that frame. Delivery to one broken recipient never
// blocks or aborts delivery to the remaining recipients.
type Hub interface {
	// Start binds the network listener and begins accepting connections.
	// Returns an error if the hub is already running or the bind fails.
	Start(ctx context.Context) error

	// Stop gracefully shuts the hub down: housekeeping is cancelled, a
	// server_shutdown frame is broadcast, every connection is closed, and
	// the registry is cleared. No new registrations are accepted once
	// shutdown has begun.
	Stop(ctx context.Context) error

	// BroadcastAll delivers a frame to every currently registered
	// connection, wrapped in a broadcast envelope.
	BroadcastAll(ctx context.Context, frame Frame)

	// BroadcastRoom delivers a frame to every member of room at the instant
	// of the call, wrapped in a broadcast envelope.
	BroadcastRoom(ctx context.Context, room string, frame Frame)

	// UnicastUser delivers a frame to every connection belonging to the
	// user (a user may have multiple simultaneous connections), routed
	// through the user's private room.
	UnicastUser(ctx context.Context, userID string, frame Frame)

	// UnicastConnection delivers a frame to exactly one connection if it is
	// still registered, and silently drops it otherwise.
	UnicastConnection(ctx context.Context, connectionID string, frame Frame)

	// Snapshot returns a read-only view of hub state for operational
	// introspection. It is not part of the client protocol.
	Snapshot() Snapshot
}

// ConnectionDetail describes one registered connection in a snapshot.
type ConnectionDetail struct {
	ID     string   `json:"connectionId"`
	UserID string   `json:"userId"`
	Rooms  []string `json:"rooms"`
}

// Snapshot is a point-in-time view of hub metrics and membership.
type Snapshot struct {
	// TotalConnections counts every connection ever accepted (monotonic).
	TotalConnections int64 `json:"totalConnections"`

	// ActiveConnections counts currently registered connections.
	ActiveConnections int64 `json:"activeConnections"`

	// TotalMessages counts every routed client message (monotonic).
	TotalMessages int64 `json:"totalMessages"`

	// LastMinuteMessages is the message count for the current wall-clock
	// minute.
	LastMinuteMessages int64 `json:"lastMinuteMessages"`

	// MessagesPerSecond is LastMinuteMessages divided by 60.
	MessagesPerSecond float64 `json:"messagesPerSecond"`

	// RoomCount is the number of rooms with at least one member.
	RoomCount int `json:"roomCount"`

	// UptimeSeconds is the time elapsed since the hub was constructed.
	UptimeSeconds float64 `json:"uptimeSeconds"`

	// Connections lists per-connection detail (id, owning user, rooms).
	Connections []ConnectionDetail `json:"connections"`
}
