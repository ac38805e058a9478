package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// historyWindow is how many minutes of message counts are retained.
const historyWindow = 5

// bucket counts messages routed during one wall-clock minute.
type bucket struct {
	minute int64 // unix time / 60
	count  int64
}

// Stats is a point-in-time view of the aggregator's counters.
type Stats struct {
	TotalConnections   int64
	ActiveConnections  int64
	TotalMessages      int64
	DroppedFrames      int64
	LastMinuteMessages int64
	MessagesPerSecond  float64
}

// Aggregator maintains rolling hub counters independent of routing
// correctness. It is the only writer of its counters; everything else reads
// snapshots.
type Aggregator struct {
	mu               sync.Mutex
	totalConnections int64
	activeConns      int64
	totalMessages    int64
	droppedFrames    int64
	history          []bucket

	// now is swappable for deterministic time-based tests.
	now func() time.Time

	promTotalConns  prometheus.Counter
	promActiveConns prometheus.Gauge
	promMessages    prometheus.Counter
	promDropped     prometheus.Counter
}

// New creates an aggregator and registers its prometheus collectors with
// reg. A nil reg skips prometheus registration entirely (used in tests that
// only exercise the snapshot counters).
func New(reg prometheus.Registerer) *Aggregator {
	a := &Aggregator{now: time.Now}
	if reg == nil {
		return a
	}

	factory := promauto.With(reg)
	a.promTotalConns = factory.NewCounter(prometheus.CounterOpts{
		Name: "streamhub_connections_total",
		Help: "Total number of connections ever accepted",
	})
	a.promActiveConns = factory.NewGauge(prometheus.GaugeOpts{
		Name: "streamhub_connections_active",
		Help: "Currently registered connections",
	})
	a.promMessages = factory.NewCounter(prometheus.CounterOpts{
		Name: "streamhub_messages_total",
		Help: "Total number of routed client messages",
	})
	a.promDropped = factory.NewCounter(prometheus.CounterOpts{
		Name: "streamhub_frames_dropped_total",
		Help: "Outbound frames dropped by overflowing send queues",
	})
	return a
}

// ConnectionOpened records a successfully registered connection.
func (a *Aggregator) ConnectionOpened() {
	a.mu.Lock()
	a.totalConnections++
	a.activeConns++
	a.mu.Unlock()

	if a.promTotalConns != nil {
		a.promTotalConns.Inc()
		a.promActiveConns.Inc()
	}
}

// ConnectionClosed records a completed teardown.
func (a *Aggregator) ConnectionClosed() {
	a.mu.Lock()
	a.activeConns--
	a.mu.Unlock()

	if a.promActiveConns != nil {
		a.promActiveConns.Dec()
	}
}

// MessageRouted counts one dispatched client message. Counting reflects
// receipt, not successful delivery.
func (a *Aggregator) MessageRouted() {
	a.mu.Lock()
	a.totalMessages++
	minute := a.now().Unix() / 60
	if n := len(a.history); n > 0 && a.history[n-1].minute == minute {
		a.history[n-1].count++
	} else {
		a.history = append(a.history, bucket{minute: minute, count: 1})
	}
	a.mu.Unlock()

	if a.promMessages != nil {
		a.promMessages.Inc()
	}
}

// FrameDropped counts an outbound frame discarded by a full send queue.
func (a *Aggregator) FrameDropped() {
	a.mu.Lock()
	a.droppedFrames++
	a.mu.Unlock()

	if a.promDropped != nil {
		a.promDropped.Inc()
	}
}

// Snapshot returns the current counters. The last-minute figures come from
// the bucket for the current wall-clock minute; a minute with no traffic
// reads as zero.
func (a *Aggregator) Snapshot() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	minute := a.now().Unix() / 60
	var lastMinute int64
	// Linear scan is fine at this history size.
	for _, b := range a.history {
		if b.minute == minute {
			lastMinute = b.count
			break
		}
	}

	return Stats{
		TotalConnections:   a.totalConnections,
		ActiveConnections:  a.activeConns,
		TotalMessages:      a.totalMessages,
		DroppedFrames:      a.droppedFrames,
		LastMinuteMessages: lastMinute,
		MessagesPerSecond:  float64(lastMinute) / 60,
	}
}

// Trim discards buckets older than the history window.
func (a *Aggregator) Trim() {
	a.mu.Lock()
	defer a.mu.Unlock()

	minute := a.now().Unix() / 60
	kept := a.history[:0]
	for _, b := range a.history {
		if minute-b.minute < historyWindow {
			kept = append(kept, b)
		}
	}
	a.history = kept
}

// Run trims stale history every minute until ctx is cancelled. The server
// cancels this before clearing its registries at shutdown.
func (a *Aggregator) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Trim()
		}
	}
}

// historyLen reports the number of retained buckets, for tests.
func (a *Aggregator) historyLen() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.history)
}
