// Package websocket implements the hub server: handshake authentication,
// the per-connection lifecycle (bounded send queue, write pump, exactly-once
// teardown), inbound frame dispatch, and the outbound fan-out paths.
package websocket
