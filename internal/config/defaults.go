package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultListenAddr        = ":8080"
	DefaultShutdownTimeout   = 10 * time.Second
	DefaultMessagesPerSecond = 100
	DefaultBurst             = 200
	DefaultSendQueueSize     = 256
	DefaultPingInterval      = 54 * time.Second
	DefaultReadTimeout       = 60 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultDrainTimeout      = 2 * time.Second
	DefaultMetricsAddr       = ":9090"
	DefaultMetricsPath       = "/metrics"
	DefaultLogLevel          = "info"
)

func (c *HubConfig) applyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	if c.RateLimit.MessagesPerSecond == 0 {
		c.RateLimit.MessagesPerSecond = DefaultMessagesPerSecond
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = DefaultBurst
	}

	if c.Connection.SendQueueSize == 0 {
		c.Connection.SendQueueSize = DefaultSendQueueSize
	}
	if c.Connection.PingInterval == 0 {
		c.Connection.PingInterval = DefaultPingInterval
	}
	if c.Connection.ReadTimeout == 0 {
		c.Connection.ReadTimeout = DefaultReadTimeout
	}
	if c.Connection.WriteTimeout == 0 {
		c.Connection.WriteTimeout = DefaultWriteTimeout
	}
	if c.Connection.DrainTimeout == 0 {
		c.Connection.DrainTimeout = DefaultDrainTimeout
	}

	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = DefaultMetricsAddr
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
}
