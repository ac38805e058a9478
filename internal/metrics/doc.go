// Package metrics implements the hub's rolling counters: connection totals,
// current active connections, total routed messages, and per-minute message
// buckets trimmed to the last five minutes. Counters are mirrored to
// prometheus collectors for the /metrics endpoint.
package metrics
