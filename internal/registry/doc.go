// Package registry implements the connection registry and room index.
//
// The registry is one of the hub's two shared mutable structures (the other
// is the metrics aggregator). Both sides of the subscription relation live
// behind a single mutex so join/leave/unregister are atomic with respect to
// concurrent routing reads.
package registry
