package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hyperdash/streamhub"
)

// wsPair upgrades one live connection through an httptest server and returns
// both ends. The server side is handed to the code under test; the client
// side plays the remote peer.
func wsPair(t *testing.T) (server *websocket.Conn, client *websocket.Conn) {
	t.Helper()

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	serverSide := make(chan *websocket.Conn, 1)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Upgrade() error = %v", err)
			return
		}
		serverSide <- conn
	}))
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	clientConn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { clientConn.Close() })

	select {
	case conn := <-serverSide:
		return conn, clientConn
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server-side connection")
		return nil, nil
	}
}

func testClientConfig() clientConfig {
	return clientConfig{
		queueSize:    16,
		pingInterval: time.Minute,
		writeTimeout: time.Second,
	}
}

// TestClientLifecycle tests identity plumbing, liveness, and idempotent close
func TestClientLifecycle(t *testing.T) {
	t.Parallel()

	serverConn, _ := wsPair(t)
	identity := streamhub.Identity{UserID: "alice", Profile: map[string]any{"role": "trader"}}
	client := NewClient(serverConn, "203.0.113.9:4242", identity, testClientConfig())

	if client.ID() == "" {
		t.Error("ID() is empty")
	}
	if client.UserID() != "alice" {
		t.Errorf("UserID() = %q, want alice", client.UserID())
	}
	if client.RemoteAddr() != "203.0.113.9:4242" {
		t.Errorf("RemoteAddr() = %q", client.RemoteAddr())
	}
	if client.State() != StateAuthenticated {
		t.Errorf("State() = %v, want %v", client.State(), StateAuthenticated)
	}
	if !client.IsAlive() {
		t.Error("IsAlive() = false for fresh client")
	}

	if err := client.Close(context.Background()); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsAlive() {
		t.Error("IsAlive() = true after close")
	}
	if client.State() != StateClosed {
		t.Errorf("State() = %v, want %v", client.State(), StateClosed)
	}
	if err := client.Close(context.Background()); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	select {
	case <-client.Context().Done():
	case <-time.After(time.Second):
		t.Error("Context() not cancelled by close")
	}
}

// TestWritePumpDelivers tests that a queued frame reaches the remote peer as
// JSON text.
func TestWritePumpDelivers(t *testing.T) {
	t.Parallel()

	serverConn, remote := wsPair(t)
	client := NewClient(serverConn, "127.0.0.1:0", streamhub.Identity{UserID: "alice"}, testClientConfig())
	defer client.Close(context.Background())

	frame, err := streamhub.NewFrame("fill", map[string]any{"orderId": "o-1"})
	if err != nil {
		t.Fatalf("NewFrame() error = %v", err)
	}
	if err := client.Send(context.Background(), frame); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	remote.SetReadDeadline(time.Now().Add(2 * time.Second))
	messageType, data, err := remote.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	if messageType != websocket.TextMessage {
		t.Errorf("message type = %d, want text", messageType)
	}

	var got streamhub.Frame
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if got.Type != "fill" {
		t.Errorf("frame type = %q, want fill", got.Type)
	}
	if got.Timestamp == "" {
		t.Error("delivered frame missing timestamp")
	}
}

// TestSendAfterClose tests that sends to a closed client fail fast
func TestSendAfterClose(t *testing.T) {
	t.Parallel()

	serverConn, _ := wsPair(t)
	client := NewClient(serverConn, "127.0.0.1:0", streamhub.Identity{UserID: "alice"}, testClientConfig())
	client.Close(context.Background())

	frame, _ := streamhub.NewFrame("fill", nil)
	if err := client.Send(context.Background(), frame); err == nil {
		t.Error("Send() after close should fail")
	}
}

// TestSendDropsOldestOnOverflow tests the overflow policy on a queue with no
// running pump: the newest frame always gets in and the eviction is counted.
func TestSendDropsOldestOnOverflow(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dropped := 0
	client := &Client{
		id:     "c1",
		ctx:    ctx,
		cancel: cancel,
		sendCh: make(chan []byte, 2),
		onDrop: func() { dropped++ },
	}

	for i, payload := range []string{"first", "second", "third"} {
		frame, err := streamhub.NewFrame("tick", map[string]any{"seq": payload})
		if err != nil {
			t.Fatalf("NewFrame(%d) error = %v", i, err)
		}
		if err := client.Send(context.Background(), frame); err != nil {
			t.Fatalf("Send(%d) error = %v", i, err)
		}
	}

	if dropped != 1 {
		t.Errorf("dropped = %d, want 1", dropped)
	}
	if len(client.sendCh) != 2 {
		t.Fatalf("queue length = %d, want 2", len(client.sendCh))
	}

	// The oldest frame was evicted; the survivors are the last two sent.
	for _, want := range []string{"second", "third"} {
		data := <-client.sendCh
		var frame streamhub.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			t.Fatalf("Unmarshal() error = %v", err)
		}
		var payload struct {
			Seq string `json:"seq"`
		}
		if err := json.Unmarshal(frame.Data, &payload); err != nil {
			t.Fatalf("Unmarshal payload: %v", err)
		}
		if payload.Seq != want {
			t.Errorf("queued frame = %q, want %q", payload.Seq, want)
		}
	}
}

// TestRateLimiterAllow tests the per-connection limiter gate
func TestRateLimiterAllow(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	unlimited := &Client{ctx: ctx, cancel: cancel}
	for i := 0; i < 1000; i++ {
		if !unlimited.allow() {
			t.Fatal("allow() = false with no limiter configured")
		}
	}

	serverConn, _ := wsPair(t)
	cfg := testClientConfig()
	cfg.rateLimit = &RateLimitConfig{MessagesPerSecond: 1, Burst: 2, Enabled: true}
	limited := NewClient(serverConn, "127.0.0.1:0", streamhub.Identity{UserID: "alice"}, cfg)
	defer limited.Close(context.Background())

	allowed := 0
	for i := 0; i < 10; i++ {
		if limited.allow() {
			allowed++
		}
	}
	if allowed != 2 {
		t.Errorf("allowed = %d, want 2 (burst)", allowed)
	}
}

// TestStateString covers the lifecycle state labels
func TestStateString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state State
		want  string
	}{
		{StateConnecting, "connecting"},
		{StateAuthenticated, "authenticated"},
		{StateActive, "active"},
		{StateClosing, "closing"},
		{StateClosed, "closed"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
