package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *HubConfig) Validate() error {
	if c.Server.ListenAddr == "" {
		return errors.New("server.listen_addr is required")
	}

	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required")
	}
	if len(c.Auth.JWTSecret) < 16 {
		return errors.New("auth.jwt_secret must be at least 16 characters")
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.MessagesPerSecond <= 0 {
			return errors.New("rate_limit.messages_per_second must be > 0")
		}
		if c.RateLimit.Burst < 1 {
			return errors.New("rate_limit.burst must be >= 1")
		}
	}

	if c.Connection.SendQueueSize < 1 {
		return errors.New("connection.send_queue_size must be >= 1")
	}
	if c.Connection.PingInterval >= c.Connection.ReadTimeout {
		return fmt.Errorf("connection.ping_interval (%s) must be shorter than read_timeout (%s)",
			c.Connection.PingInterval, c.Connection.ReadTimeout)
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error; got %q", c.Log.Level)
	}

	return nil
}
