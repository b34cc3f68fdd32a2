package app

import (
	"context"
	"fmt"

	"callbox/internal/core/domain"
	"callbox/internal/core/ports"
	"callbox/internal/core/services"
	webrtcinfra "callbox/internal/infrastructure/webrtc"
	"callbox/pkg/config"

	"go.uber.org/zap"
)

// Capture is the untrusted execution domain: peer connections, the stream
// interceptor, the registry and the mix graph feeding sink. The host runs it
// in-process; cmd/capture runs it on its own with an uplink as the sink.
type Capture struct {
	Service  *services.CaptureService
	Registry *services.StreamRegistry
	Peers    *webrtcinfra.PeerManager
}

func NewCapture(cfg *config.Config, sink ports.FrameSink, metrics ports.PipelineMetrics, logger *zap.SugaredLogger) (*Capture, error) {
	registry := services.NewStreamRegistry()
	graph := services.NewCaptureService(services.CaptureConfig{
		SampleRate:  cfg.Capture.SampleRate,
		Channels:    domain.Channels,
		BlockSize:   cfg.Capture.BlockSize,
		GainPercent: cfg.Capture.GainPercent,
	}, registry, sink, metrics, logger)

	sources := webrtcinfra.NewTrackSourceFactory(cfg.Capture.BufferBlocks, logger)
	interceptor := webrtcinfra.NewInterceptor(registry, graph, sources, logger)

	factory, err := webrtcinfra.NewPeerConnectionFactory(WebRTCConfig(cfg), interceptor, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection factory: %w", err)
	}

	return &Capture{
		Service:  graph,
		Registry: registry,
		Peers:    webrtcinfra.NewPeerManager(factory, logger),
	}, nil
}

// Run drives the graph clock until ctx is cancelled. Enabling the graph at
// boot is left to the control service, which knows the stored preference.
func (c *Capture) Run(ctx context.Context) {
	c.Service.Run(ctx)
}

// Shutdown closes every peer connection, which releases their streams.
func (c *Capture) Shutdown() error {
	return c.Peers.CloseAll()
}
