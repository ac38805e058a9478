package ws

import (
	"net/http"
	"slices"

	"github.com/hyperdash/streamhub"
	"github.com/hyperdash/streamhub/internal/websocket"
)

type Config = websocket.Config
type RateLimitConfig = websocket.RateLimitConfig
type CheckOriginFn = websocket.CheckOriginFn

// New creates a hub server from cfg. The returned hub is idle until Start is
// called.
//
// Example:
//
//	hub, err := ws.New(ws.Config{
//	    Addr:      ":8080",
//	    Verifier:  verifier,
//	    RateLimit: ws.DefaultRateLimitConfig(),
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := hub.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
func New(cfg Config) (streamhub.Hub, error) {
	return websocket.New(cfg)
}

// AllOrigins returns a checkOrigin function that allows all origins (dev only)
func AllOrigins() CheckOriginFn {
	return func(r *http.Request) bool {
		return true
	}
}

// Origins returns a checkOrigin function that accepts only the listed
// origins. An empty list behaves like AllOrigins.
func Origins(allowed []string) CheckOriginFn {
	if len(allowed) == 0 {
		return AllOrigins()
	}
	return func(r *http.Request) bool {
		return slices.Contains(allowed, r.Header.Get("Origin"))
	}
}

// DefaultRateLimitConfig returns the default rate limit configuration
func DefaultRateLimitConfig() *RateLimitConfig {
	return websocket.DefaultRateLimitConfig()
}

// NoRateLimit returns a configuration with rate limiting disabled
func NoRateLimit() *RateLimitConfig {
	return websocket.NoRateLimit()
}
