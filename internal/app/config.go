package app

import (
	"os"

	"callbox/internal/infrastructure/broadcast"
	"callbox/internal/infrastructure/transport"
	webrtcinfra "callbox/internal/infrastructure/webrtc"
	"callbox/pkg/config"
	"callbox/pkg/retry"
	"callbox/pkg/tracing"

	"github.com/pion/webrtc/v3"
)

// DefaultConfigPaths are tried in order when no path is given.
var DefaultConfigPaths = []string{
	"configs/config.yaml",
	"./config.yaml",
	"/etc/callbox/config.yaml",
}

// LoadConfig loads path, or the first default location that exists. With no
// file at all the defaults plus CALLBOX_* overrides are used.
func LoadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	for _, candidate := range DefaultConfigPaths {
		if _, err := os.Stat(candidate); err == nil {
			return config.Load(candidate)
		}
	}
	return config.Load("")
}

func TracingConfig(cfg *config.Config, serviceName string) tracing.Config {
	tc := tracing.DefaultConfig()
	tc.Enabled = cfg.Tracing.Enabled
	tc.ServiceName = serviceName
	if cfg.Tracing.JaegerURL != "" {
		tc.JaegerURL = cfg.Tracing.JaegerURL
	}
	if cfg.Tracing.Environment != "" {
		tc.Environment = cfg.Tracing.Environment
	}
	tc.SampleRate = cfg.Tracing.SampleRate
	return tc
}

// WebRTCConfig falls back to a public STUN server when none is configured.
func WebRTCConfig(cfg *config.Config) webrtcinfra.WebRTCConfig {
	var wc webrtcinfra.WebRTCConfig
	for _, s := range cfg.WebRTC.ICEServers {
		wc.ICEServers = append(wc.ICEServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	if len(wc.ICEServers) == 0 {
		wc.ICEServers = []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		}
	}
	wc.PortRange.Min = cfg.WebRTC.PortRange.Min
	wc.PortRange.Max = cfg.WebRTC.PortRange.Max
	return wc
}

func IngestConfig(cfg *config.Config) transport.IngestConfig {
	ic := transport.DefaultIngestConfig()
	ic.PingInterval = cfg.Transport.PingInterval
	ic.ReadTimeout = cfg.Transport.ReadTimeout
	ic.WriteTimeout = cfg.Transport.WriteTimeout
	if cfg.RateLimiting.Enabled {
		ic.MessagesPerSecond = cfg.RateLimiting.WebSocket.MessagesPerSecond
		ic.Burst = cfg.RateLimiting.WebSocket.Burst
		if cfg.RateLimiting.WebSocket.MaxMessageSizeBytes > 0 {
			ic.ReadLimit = cfg.RateLimiting.WebSocket.MaxMessageSizeBytes
		}
	}
	return ic
}

func UplinkConfig(cfg *config.Config, sessionID string) (transport.UplinkConfig, error) {
	policy, err := transport.ParseDropPolicy(cfg.Transport.DropPolicy)
	if err != nil {
		return transport.UplinkConfig{}, err
	}

	backoff := retry.DefaultConfig()
	backoff.MaxAttempts = cfg.Transport.Reconnect.MaxAttempts
	backoff.InitialDelay = cfg.Transport.Reconnect.InitialDelay
	backoff.MaxDelay = cfg.Transport.Reconnect.MaxDelay

	return transport.UplinkConfig{
		URL:          cfg.Transport.HostURL,
		SessionID:    sessionID,
		QueueSize:    cfg.Transport.QueueSize,
		Policy:       policy,
		WriteTimeout: cfg.Transport.WriteTimeout,
		DialTimeout:  cfg.Transport.DialTimeout,
		Retry:        backoff,
	}, nil
}

func OutletConfig(cfg *config.Config) broadcast.OutletConfig {
	oc := broadcast.DefaultOutletConfig()
	oc.SubscriberBuffer = cfg.Broadcast.SubscriberBuffer
	oc.AllowedOrigins = cfg.Auth.AllowedOrigins
	return oc
}
