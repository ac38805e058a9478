package config

import "time"

// HubConfig is the root configuration for a hub instance.
type HubConfig struct {
	Server     ServerConfig     `yaml:"server"`
	Auth       AuthConfig       `yaml:"auth"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Connection ConnectionConfig `yaml:"connection"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Log        LogConfig        `yaml:"log"`
}

// ServerConfig holds the client-facing listener settings.
type ServerConfig struct {
	ListenAddr      string        `yaml:"listen_addr"`
	AllowedOrigins  []string      `yaml:"allowed_origins"` // empty list accepts any origin
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// AuthConfig holds token verification settings.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// RateLimitConfig bounds per-connection inbound message rate.
type RateLimitConfig struct {
	MessagesPerSecond float64 `yaml:"messages_per_second"`
	Burst             int     `yaml:"burst"`
	Enabled           bool    `yaml:"enabled"`
}

// ConnectionConfig holds per-connection transport settings.
type ConnectionConfig struct {
	SendQueueSize int           `yaml:"send_queue_size"`
	PingInterval  time.Duration `yaml:"ping_interval"`
	ReadTimeout   time.Duration `yaml:"read_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	DrainTimeout  time.Duration `yaml:"drain_timeout"`
}

// MetricsConfig holds the operational endpoint settings.
type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	Path       string `yaml:"path"`
}

// LogConfig selects the logger profile.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}
