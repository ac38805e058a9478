// Package streamhub provides a real-time fan-out hub for trading dashboards
// and similar push-driven applications.
//
// Authenticated clients open persistent WebSocket connections, subscribe to
// named topic rooms (market symbols, trader feeds, strategy channels,
// user-private channels), and receive push notifications routed by topic and
// by user identity. Upstream services publish events into the hub, which
// delivers them to every currently-subscribed connection with correct
// authorization.
//
// # Architecture
//
// The hub is an explicitly constructed service object with a Start/Stop
// lifecycle. It owns three shared structures: the connection registry, the
// room index (a bidirectional room<->connection mapping mutated atomically
// with the registry), and the metrics aggregator. Each client connection
// gets a dedicated read goroutine and a bounded outbound queue drained by a
// write pump, so one slow recipient never stalls fan-out to others.
//
// # Quick Start
//
//	import (
//	    "github.com/hyperdash/streamhub"
//	    "github.com/hyperdash/streamhub/ws"
//	)
//
//	hub, err := ws.New(ws.Config{
//	    Addr:      ":8080",
//	    Verifier:  verifier,
//	    Forwarder: forwarder,
//	    RateLimit: ws.DefaultRateLimitConfig(),
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := hub.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	// Push a market event to every subscriber of market:BTC.
//	frame, _ := streamhub.NewFrame("price_update", payload)
//	hub.BroadcastRoom(ctx, "market:BTC", frame)
//
// # Wire Protocol
//
// Frames are JSON objects:
//
//	{ "type": string, "data": any, "timestamp": RFC3339, "requestId": string }
//
// Clients send subscribe, unsubscribe, message, and ping frames. The hub
// pushes connected, subscribed, unsubscribed, error, pong, broadcast,
// message, user_joined, and server_shutdown events.
//
// # Rooms and Authorization
//
// Room names follow a fixed grammar: market:<id>, trader:<id>,
// strategy:<id>, user:<id>, notifications, risk_alerts, where <id> matches
// [A-Za-z0-9_-]+. A user:<id> room is joinable only by the identity whose id
// equals <id>; every connection is auto-joined to its own private room at
// handshake, which backs user-targeted unicast delivery.
//
// # Rate Limiting
//
// Each connection has independent inbound rate limiting using a token bucket
// (golang.org/x/time/rate). Clients that exceed the limit are closed with a
// policy-violation code.
package streamhub
