package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	yaml := `
server:
  listen_addr: ":9999"
  allowed_origins:
    - https://dashboard.example.com
auth:
  jwt_secret: super-secret-signing-key
rate_limit:
  enabled: true
  messages_per_second: 50
  burst: 100
connection:
  send_queue_size: 64
  ping_interval: 30s
  read_timeout: 45s
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.ListenAddr != ":9999" {
		t.Errorf("Server.ListenAddr = %q, want %q", cfg.Server.ListenAddr, ":9999")
	}
	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "https://dashboard.example.com" {
		t.Errorf("Server.AllowedOrigins = %v", cfg.Server.AllowedOrigins)
	}
	if !cfg.RateLimit.Enabled || cfg.RateLimit.MessagesPerSecond != 50 {
		t.Errorf("RateLimit = %+v", cfg.RateLimit)
	}
	if cfg.Connection.PingInterval != 30*time.Second {
		t.Errorf("Connection.PingInterval = %s, want 30s", cfg.Connection.PingInterval)
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_JWT_SECRET", "secret-from-environment")

	yaml := `
auth:
  jwt_secret: ${TEST_JWT_SECRET}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Auth.JWTSecret != "secret-from-environment" {
		t.Errorf("Auth.JWTSecret = %q, want %q", cfg.Auth.JWTSecret, "secret-from-environment")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml")); err == nil {
		t.Error("Load of missing file should fail")
	}
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
auth:
  jwt_secret: super-secret-signing-key
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.Server.ListenAddr != DefaultListenAddr {
		t.Errorf("Server.ListenAddr = %q, want %q", cfg.Server.ListenAddr, DefaultListenAddr)
	}
	if cfg.Connection.SendQueueSize != DefaultSendQueueSize {
		t.Errorf("Connection.SendQueueSize = %d, want %d", cfg.Connection.SendQueueSize, DefaultSendQueueSize)
	}
	if cfg.Metrics.Path != DefaultMetricsPath {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, DefaultMetricsPath)
	}
	if cfg.Log.Level != DefaultLogLevel {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, DefaultLogLevel)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*HubConfig)
		wantErr bool
	}{
		{
			name:    "valid defaults",
			mutate:  func(c *HubConfig) {},
			wantErr: false,
		},
		{
			name:    "missing jwt secret",
			mutate:  func(c *HubConfig) { c.Auth.JWTSecret = "" },
			wantErr: true,
		},
		{
			name:    "short jwt secret",
			mutate:  func(c *HubConfig) { c.Auth.JWTSecret = "tooshort" },
			wantErr: true,
		},
		{
			name: "rate limit enabled with zero rate",
			mutate: func(c *HubConfig) {
				c.RateLimit.Enabled = true
				c.RateLimit.MessagesPerSecond = 0
				c.RateLimit.Burst = 0
			},
			wantErr: true,
		},
		{
			name:    "ping interval exceeds read timeout",
			mutate:  func(c *HubConfig) { c.Connection.PingInterval = 2 * c.Connection.ReadTimeout },
			wantErr: true,
		},
		{
			name:    "bad log level",
			mutate:  func(c *HubConfig) { c.Log.Level = "verbose" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &HubConfig{Auth: AuthConfig{JWTSecret: "super-secret-signing-key"}}
			cfg.applyDefaults()
			tt.mutate(cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadAndValidate(t *testing.T) {
	yaml := `
auth:
  jwt_secret: super-secret-signing-key
`
	path := writeTempFile(t, yaml)

	if _, err := LoadAndValidate(path); err != nil {
		t.Fatalf("LoadAndValidate failed: %v", err)
	}

	bad := writeTempFile(t, "auth:\n  jwt_secret: short\n")
	if _, err := LoadAndValidate(bad); err == nil {
		t.Error("LoadAndValidate with short secret should fail")
	}
}
