package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hyperdash/streamhub"
)

// TestDecode tests frame decoding with various inputs
func TestDecode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		data      string
		wantType  string
		wantError bool
	}{
		{
			name:     "subscribe frame",
			data:     `{"type":"subscribe","data":{"room":"market:BTC"},"timestamp":"2026-01-02T15:04:05Z"}`,
			wantType: "subscribe",
		},
		{
			name:     "ping frame without data",
			data:     `{"type":"ping","timestamp":"2026-01-02T15:04:05Z"}`,
			wantType: "ping",
		},
		{
			name:     "frame with requestId",
			data:     `{"type":"message","data":{"type":"market_subscribe"},"timestamp":"2026-01-02T15:04:05Z","requestId":"req-1"}`,
			wantType: "message",
		},
		{
			name:      "missing type",
			data:      `{"data":{"room":"market:BTC"},"timestamp":"2026-01-02T15:04:05Z"}`,
			wantError: true,
		},
		{
			name:      "not json",
			data:      `hello`,
			wantError: true,
		},
		{
			name:      "json array",
			data:      `[1,2,3]`,
			wantError: true,
		},
		{
			name:      "empty input",
			data:      ``,
			wantError: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			frame, err := Decode([]byte(tt.data))
			if tt.wantError {
				if err == nil {
					t.Fatal("Decode() expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if frame.Type != tt.wantType {
				t.Errorf("frame.Type = %q, want %q", frame.Type, tt.wantType)
			}
		})
	}
}

// TestDecodeFrameTooLarge tests the inbound size cap
func TestDecodeFrameTooLarge(t *testing.T) {
	t.Parallel()

	payload := strings.Repeat("x", maxFrameSize+1)
	_, err := Decode([]byte(payload))
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("Decode() error = %v, want ErrFrameTooLarge", err)
	}
}

// TestEncode tests frame encoding round trips
func TestEncode(t *testing.T) {
	t.Parallel()

	frame, err := streamhub.NewFrame("subscribed", map[string]string{"room": "market:BTC"})
	if err != nil {
		t.Fatalf("NewFrame() error = %v", err)
	}

	data, err := Encode(frame)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if decoded.Type != "subscribed" {
		t.Errorf("decoded.Type = %q, want %q", decoded.Type, "subscribed")
	}

	var payload map[string]string
	if err := json.Unmarshal(decoded.Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload["room"] != "market:BTC" {
		t.Errorf("payload room = %q, want %q", payload["room"], "market:BTC")
	}
}

// TestEncodeStampsTimestamp tests that Encode fills a missing timestamp
func TestEncodeStampsTimestamp(t *testing.T) {
	t.Parallel()

	data, err := Encode(streamhub.Frame{Type: "pong"})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	frame, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if frame.Timestamp == "" {
		t.Fatal("Encode() did not stamp timestamp")
	}
	if _, err := time.Parse(time.RFC3339, frame.Timestamp); err != nil {
		t.Errorf("timestamp %q is not RFC3339: %v", frame.Timestamp, err)
	}
}

// TestEncodeMissingType tests that untyped frames are rejected
func TestEncodeMissingType(t *testing.T) {
	t.Parallel()

	if _, err := Encode(streamhub.Frame{}); !errors.Is(err, ErrMissingType) {
		t.Errorf("Encode() error = %v, want ErrMissingType", err)
	}
}

// TestParseSubscribe tests subscribe payload parsing
func TestParseSubscribe(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		data      string
		wantRoom  string
		wantError bool
	}{
		{
			name:     "room only",
			data:     `{"room":"market:BTC"}`,
			wantRoom: "market:BTC",
		},
		{
			name:     "room with params",
			data:     `{"room":"trader:alice","params":{"depth":5}}`,
			wantRoom: "trader:alice",
		},
		{
			name:      "missing room",
			data:      `{"params":{}}`,
			wantError: true,
		},
		{
			name:      "malformed payload",
			data:      `"just a string"`,
			wantError: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req, err := ParseSubscribe(json.RawMessage(tt.data))
			if tt.wantError {
				if err == nil {
					t.Fatal("ParseSubscribe() expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSubscribe() error = %v", err)
			}
			if req.Room != tt.wantRoom {
				t.Errorf("req.Room = %q, want %q", req.Room, tt.wantRoom)
			}
		})
	}
}

// TestParseUnsubscribe tests unsubscribe payload parsing
func TestParseUnsubscribe(t *testing.T) {
	t.Parallel()

	req, err := ParseUnsubscribe(json.RawMessage(`{"room":"risk_alerts"}`))
	if err != nil {
		t.Fatalf("ParseUnsubscribe() error = %v", err)
	}
	if req.Room != "risk_alerts" {
		t.Errorf("req.Room = %q, want %q", req.Room, "risk_alerts")
	}

	if _, err := ParseUnsubscribe(json.RawMessage(`{}`)); err == nil {
		t.Error("ParseUnsubscribe() with no room should fail")
	}
}

// TestInnerType tests envelope type extraction
func TestInnerType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data string
		want string
	}{
		{
			name: "market subscribe envelope",
			data: `{"type":"market_subscribe","data":{"symbol":"BTC"}}`,
			want: "market_subscribe",
		},
		{
			name: "missing type tag",
			data: `{"data":{}}`,
			want: "",
		},
		{
			name: "not an object",
			data: `42`,
			want: "",
		},
		{
			name: "empty payload",
			data: ``,
			want: "",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := InnerType(json.RawMessage(tt.data)); got != tt.want {
				t.Errorf("InnerType() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestWrap tests broadcast envelope nesting
func TestWrap(t *testing.T) {
	t.Parallel()

	inner, err := streamhub.NewFrame("price_update", map[string]float64{"price": 42000})
	if err != nil {
		t.Fatalf("NewFrame() error = %v", err)
	}

	outer, err := Wrap(streamhub.EventBroadcast, inner)
	if err != nil {
		t.Fatalf("Wrap() error = %v", err)
	}
	if outer.Type != streamhub.EventBroadcast {
		t.Errorf("outer.Type = %q, want %q", outer.Type, streamhub.EventBroadcast)
	}

	var nested streamhub.Frame
	if err := json.Unmarshal(outer.Data, &nested); err != nil {
		t.Fatalf("unmarshal nested frame: %v", err)
	}
	if nested.Type != "price_update" {
		t.Errorf("nested.Type = %q, want %q", nested.Type, "price_update")
	}
	if nested.Timestamp == "" {
		t.Error("nested frame lost its timestamp")
	}
}

// BenchmarkDecode benchmarks frame decoding
func BenchmarkDecode(b *testing.B) {
	data := []byte(`{"type":"message","data":{"type":"market_subscribe","data":{"symbol":"BTC"}},"timestamp":"2026-01-02T15:04:05Z"}`)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Decode(data); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkInnerType benchmarks envelope tag extraction
func BenchmarkInnerType(b *testing.B) {
	data := json.RawMessage(`{"type":"market_subscribe","data":{"symbol":"BTC"}}`)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = InnerType(data)
	}
}
