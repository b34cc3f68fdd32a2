package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// helper to build a minimal valid config that can be tweaked in tests.
func validBaseConfig() *Config {
	cfg := DefaultConfig()
	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.HTTP.RequestsPerSecond = 10
	cfg.RateLimiting.HTTP.Burst = 20
	cfg.RateLimiting.HTTP.MaxConcurrent = 5
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 50
	cfg.RateLimiting.WebSocket.Burst = 100
	cfg.RateLimiting.WebSocket.MaxMessageSizeBytes = 65536
	return cfg
}

func TestDefaultConfig_IsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("expected default config to be valid, got error: %v", err)
	}
	if err := validBaseConfig().Validate(); err != nil {
		t.Fatalf("expected base config to be valid, got error: %v", err)
	}
}

func TestValidate_RateLimitingDisabled_AllowsZeroValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimiting.Enabled = false
	// Zero out rate limiting values to ensure they are ignored when disabled.
	cfg.RateLimiting.HTTP.RequestsPerSecond = 0
	cfg.RateLimiting.HTTP.Burst = 0
	cfg.RateLimiting.HTTP.MaxConcurrent = 0
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 0
	cfg.RateLimiting.WebSocket.Burst = 0
	cfg.RateLimiting.WebSocket.MaxMessageSizeBytes = 0

	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected config to be valid when rate limiting disabled, got error: %v", err)
	}
}

func TestValidate_InvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{
			name:   "http rps must be > 0",
			mutate: func(c *Config) { c.RateLimiting.HTTP.RequestsPerSecond = 0 },
		},
		{
			name:   "http burst must be > 0",
			mutate: func(c *Config) { c.RateLimiting.HTTP.Burst = 0 },
		},
		{
			name:   "http max concurrent must be >= 0",
			mutate: func(c *Config) { c.RateLimiting.HTTP.MaxConcurrent = -1 },
		},
		{
			name:   "ws messages per second must be > 0",
			mutate: func(c *Config) { c.RateLimiting.WebSocket.MessagesPerSecond = 0 },
		},
		{
			name:   "ws max message size must be >= 0",
			mutate: func(c *Config) { c.RateLimiting.WebSocket.MaxMessageSizeBytes = -1 },
		},
		{
			name:   "gain above 100",
			mutate: func(c *Config) { c.Capture.GainPercent = 101 },
		},
		{
			name:   "zero block size",
			mutate: func(c *Config) { c.Capture.BlockSize = 0 },
		},
		{
			name:   "unknown drop policy",
			mutate: func(c *Config) { c.Transport.DropPolicy = "block" },
		},
		{
			name:   "read timeout not above ping interval",
			mutate: func(c *Config) { c.Transport.ReadTimeout = c.Transport.PingInterval },
		},
		{
			name:   "empty broadcast name",
			mutate: func(c *Config) { c.Broadcast.DefaultName = "" },
		},
		{
			name:   "half-set port range",
			mutate: func(c *Config) { c.WebRTC.PortRange.Min = 50000 },
		},
		{
			name:   "inverted port range",
			mutate: func(c *Config) { c.WebRTC.PortRange.Min, c.WebRTC.PortRange.Max = 50010, 50000 },
		},
		{
			name: "redis without address",
			mutate: func(c *Config) {
				c.Redis.Enabled = true
				c.Redis.Address = ""
			},
		},
		{
			name:   "empty jwt secret",
			mutate: func(c *Config) { c.Auth.JWTSecret = "" },
		},
		{
			name: "tracing sample rate out of range",
			mutate: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.SampleRate = 1.5
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validBaseConfig()
			tc.mutate(cfg)

			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error for case %q, got nil", tc.name)
			}
		})
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("expected defaults, got error: %v", err)
	}
	if cfg.Broadcast.DefaultName != "CallBox" {
		t.Fatalf("expected default broadcast name, got %q", cfg.Broadcast.DefaultName)
	}
}

func TestLoad_YAMLAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
server:
  address: ":9000"
capture:
  embedded: false
  gain_percent: 40
transport:
  drop_policy: drop_newest
broadcast:
  error_log_interval: 10s
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	t.Setenv("CALLBOX_BROADCAST_NAME", "Studio A")
	t.Setenv("CALLBOX_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Address != ":9000" {
		t.Errorf("expected server address :9000, got %q", cfg.Server.Address)
	}
	if cfg.Capture.Embedded {
		t.Errorf("expected embedded capture to be disabled")
	}
	if cfg.Capture.GainPercent != 40 {
		t.Errorf("expected gain 40, got %d", cfg.Capture.GainPercent)
	}
	if cfg.Capture.BlockSize != 4096 {
		t.Errorf("expected default block size to survive, got %d", cfg.Capture.BlockSize)
	}
	if cfg.Transport.DropPolicy != "drop_newest" {
		t.Errorf("expected drop_newest, got %q", cfg.Transport.DropPolicy)
	}
	if cfg.Broadcast.ErrorLogInterval != 10*time.Second {
		t.Errorf("expected 10s error log interval, got %v", cfg.Broadcast.ErrorLogInterval)
	}
	if cfg.Broadcast.DefaultName != "Studio A" {
		t.Errorf("expected env broadcast name, got %q", cfg.Broadcast.DefaultName)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected env log level, got %q", cfg.Logging.Level)
	}
}

func TestLoad_InvalidYAMLIsRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("capture:\n  gain_percent: 250\n"), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation error for gain 250")
	}
}
