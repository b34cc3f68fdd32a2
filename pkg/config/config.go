package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Capture struct {
		Embedded     bool `yaml:"embedded"`
		SampleRate   int  `yaml:"sample_rate"`
		BlockSize    int  `yaml:"block_size"`
		GainPercent  int  `yaml:"gain_percent"`
		BufferBlocks int  `yaml:"buffer_blocks"`
		EnableOnBoot bool `yaml:"enable_on_boot"`
	} `yaml:"capture"`

	Transport struct {
		QueueSize    int           `yaml:"queue_size"`
		DropPolicy   string        `yaml:"drop_policy"`
		HostURL      string        `yaml:"host_url"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
		DialTimeout  time.Duration `yaml:"dial_timeout"`
		PingInterval time.Duration `yaml:"ping_interval"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		Reconnect    struct {
			MaxAttempts  int           `yaml:"max_attempts"`
			InitialDelay time.Duration `yaml:"initial_delay"`
			MaxDelay     time.Duration `yaml:"max_delay"`
		} `yaml:"reconnect"`
	} `yaml:"transport"`

	Broadcast struct {
		DefaultName      string        `yaml:"default_name"`
		ErrorLogInterval time.Duration `yaml:"error_log_interval"`
		SubscriberBuffer int           `yaml:"subscriber_buffer"`
	} `yaml:"broadcast"`

	WebRTC struct {
		ICEServers []struct {
			URLs       []string `yaml:"urls"`
			Username   string   `yaml:"username,omitempty"`
			Credential string   `yaml:"credential,omitempty"`
		} `yaml:"ice_servers"`
		PortRange struct {
			Min uint16 `yaml:"min"`
			Max uint16 `yaml:"max"`
		} `yaml:"port_range"`
		NegotiationTimeout time.Duration `yaml:"negotiation_timeout"`
	} `yaml:"webrtc"`

	Monitoring struct {
		PrometheusEnabled  bool          `yaml:"prometheus_enabled"`
		HealthCheckTimeout time.Duration `yaml:"health_check_timeout"`
	} `yaml:"monitoring"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled   bool   `yaml:"enabled"`
		Address   string `yaml:"address"`
		Password  string `yaml:"password"`
		DB        int    `yaml:"db"`
		PoolSize  int    `yaml:"pool_size"`
		KeyPrefix string `yaml:"key_prefix"`
	} `yaml:"redis"`

	Auth struct {
		JWTSecret      string        `yaml:"jwt_secret"`
		UplinkTokenTTL time.Duration `yaml:"uplink_token_ttl"`
		AllowedOrigins []string      `yaml:"allowed_origins"`
		// ProtectControl requires a bearer token on /api/v1 routes.
		ProtectControl bool `yaml:"protect_control"`
	} `yaml:"auth"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent"` // global concurrent HTTP requests
		} `yaml:"http"`

		WebSocket struct {
			MessagesPerSecond   float64 `yaml:"messages_per_second"`
			Burst               int     `yaml:"burst"`
			MaxMessageSizeBytes int64   `yaml:"max_message_size_bytes"`
		} `yaml:"websocket"`
	} `yaml:"rate_limiting"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Server
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout < 0 {
		return fmt.Errorf("server.write_timeout must be >= 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	// Capture
	if c.Capture.SampleRate <= 0 {
		return fmt.Errorf("capture.sample_rate must be > 0")
	}
	if c.Capture.BlockSize <= 0 {
		return fmt.Errorf("capture.block_size must be > 0")
	}
	if c.Capture.GainPercent < 0 || c.Capture.GainPercent > 100 {
		return fmt.Errorf("capture.gain_percent must be within 0..100")
	}
	if c.Capture.BufferBlocks <= 0 {
		return fmt.Errorf("capture.buffer_blocks must be > 0")
	}

	// Transport
	if c.Transport.QueueSize <= 0 {
		return fmt.Errorf("transport.queue_size must be > 0")
	}
	if c.Transport.DropPolicy != "drop_newest" && c.Transport.DropPolicy != "drop_oldest" {
		return fmt.Errorf("transport.drop_policy must be drop_newest or drop_oldest, got %q", c.Transport.DropPolicy)
	}
	if c.Transport.WriteTimeout <= 0 {
		return fmt.Errorf("transport.write_timeout must be > 0")
	}
	if c.Transport.PingInterval <= 0 {
		return fmt.Errorf("transport.ping_interval must be > 0")
	}
	if c.Transport.ReadTimeout <= c.Transport.PingInterval {
		return fmt.Errorf("transport.read_timeout must be greater than transport.ping_interval")
	}
	if c.Transport.Reconnect.MaxAttempts < 0 {
		return fmt.Errorf("transport.reconnect.max_attempts must be >= 0")
	}

	// Broadcast
	if c.Broadcast.DefaultName == "" {
		return fmt.Errorf("broadcast.default_name must not be empty")
	}
	if c.Broadcast.ErrorLogInterval <= 0 {
		return fmt.Errorf("broadcast.error_log_interval must be > 0")
	}
	if c.Broadcast.SubscriberBuffer <= 0 {
		return fmt.Errorf("broadcast.subscriber_buffer must be > 0")
	}

	// WebRTC
	if c.WebRTC.PortRange.Min > 0 || c.WebRTC.PortRange.Max > 0 {
		if c.WebRTC.PortRange.Min == 0 || c.WebRTC.PortRange.Max == 0 {
			return fmt.Errorf("webrtc.port_range.min and max must both be set when one is set")
		}
		if c.WebRTC.PortRange.Min >= c.WebRTC.PortRange.Max {
			return fmt.Errorf("webrtc.port_range.min must be < max")
		}
	}
	if c.WebRTC.NegotiationTimeout <= 0 {
		return fmt.Errorf("webrtc.negotiation_timeout must be > 0")
	}

	// Monitoring
	if c.Monitoring.HealthCheckTimeout <= 0 {
		return fmt.Errorf("monitoring.health_check_timeout must be > 0")
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
	}

	// Auth
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret must not be empty")
	}
	if c.Auth.UplinkTokenTTL <= 0 {
		return fmt.Errorf("auth.uplink_token_ttl must be > 0")
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.http.max_concurrent must be >= 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MessagesPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.websocket.messages_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.Burst <= 0 {
			return fmt.Errorf("rate_limiting.websocket.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MaxMessageSizeBytes < 0 {
			return fmt.Errorf("rate_limiting.websocket.max_message_size_bytes must be >= 0 when rate limiting is enabled")
		}
	}

	// Tracing
	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be within 0..1")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 30 * time.Second
	// Websocket sessions are long-lived; per-message deadlines apply instead.
	cfg.Server.WriteTimeout = 0
	cfg.Server.ShutdownTimeout = 30 * time.Second

	cfg.Capture.Embedded = true
	cfg.Capture.SampleRate = 48000
	cfg.Capture.BlockSize = 4096
	cfg.Capture.GainPercent = 100
	cfg.Capture.BufferBlocks = 4
	cfg.Capture.EnableOnBoot = true

	cfg.Transport.QueueSize = 8
	cfg.Transport.DropPolicy = "drop_oldest"
	cfg.Transport.HostURL = "ws://127.0.0.1:8080/ws/frames"
	cfg.Transport.WriteTimeout = 2 * time.Second
	cfg.Transport.DialTimeout = 5 * time.Second
	cfg.Transport.PingInterval = 30 * time.Second
	cfg.Transport.ReadTimeout = 60 * time.Second
	cfg.Transport.Reconnect.MaxAttempts = 5
	cfg.Transport.Reconnect.InitialDelay = 250 * time.Millisecond
	cfg.Transport.Reconnect.MaxDelay = 10 * time.Second

	cfg.Broadcast.DefaultName = "CallBox"
	cfg.Broadcast.ErrorLogInterval = 5 * time.Second
	cfg.Broadcast.SubscriberBuffer = 16

	cfg.WebRTC.NegotiationTimeout = 10 * time.Second

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.HealthCheckTimeout = 2 * time.Second

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10
	cfg.Redis.KeyPrefix = "callbox"

	cfg.Auth.JWTSecret = "change-me-in-production"
	cfg.Auth.UplinkTokenTTL = 5 * time.Minute
	cfg.Auth.AllowedOrigins = []string{"*"}

	// Rate limiting defaults (disabled by default)
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 50
	cfg.RateLimiting.HTTP.Burst = 100
	cfg.RateLimiting.HTTP.MaxConcurrent = 0
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 25
	cfg.RateLimiting.WebSocket.Burst = 10
	cfg.RateLimiting.WebSocket.MaxMessageSizeBytes = 64 * 1024

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("CALLBOX_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if level := os.Getenv("CALLBOX_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if secret := os.Getenv("CALLBOX_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
	if url := os.Getenv("CALLBOX_HOST_URL"); url != "" {
		c.Transport.HostURL = url
	}
	if name := os.Getenv("CALLBOX_BROADCAST_NAME"); name != "" {
		c.Broadcast.DefaultName = name
	}
	if embedded := os.Getenv("CALLBOX_CAPTURE_EMBEDDED"); embedded != "" {
		if v, err := strconv.ParseBool(embedded); err == nil {
			c.Capture.Embedded = v
		}
	}
	if addr := os.Getenv("CALLBOX_REDIS_ADDRESS"); addr != "" {
		c.Redis.Enabled = true
		c.Redis.Address = addr
	}
}
