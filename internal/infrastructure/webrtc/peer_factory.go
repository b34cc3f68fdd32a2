package webrtc

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// WebRTCConfig WebRTC configuration
type WebRTCConfig struct {
	ICEServers []webrtc.ICEServer
	PortRange  struct {
		Min uint16
		Max uint16
	}
}

// PeerConnectionFactory is the single place peer connections are created.
// Every connection it returns is observed by the interceptor, whoever asked
// for it.
type PeerConnectionFactory struct {
	config      WebRTCConfig
	api         *webrtc.API
	interceptor *Interceptor
	logger      *zap.SugaredLogger
}

func NewPeerConnectionFactory(config WebRTCConfig, interceptor *Interceptor, logger *zap.SugaredLogger) (*PeerConnectionFactory, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}

	settingEngine := webrtc.SettingEngine{}
	if config.PortRange.Min > 0 && config.PortRange.Max > 0 {
		if err := settingEngine.SetEphemeralUDPPortRange(config.PortRange.Min, config.PortRange.Max); err != nil {
			return nil, fmt.Errorf("invalid UDP port range: %w", err)
		}
	}

	return &PeerConnectionFactory{
		config:      config,
		api:         webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine), webrtc.WithSettingEngine(settingEngine)),
		interceptor: interceptor,
		logger:      logger,
	}, nil
}

// NewPeerConnection creates a connection wrapped for observation.
func (f *PeerConnectionFactory) NewPeerConnection() (*ObservedPeerConnection, error) {
	pc, err := f.api.NewPeerConnection(webrtc.Configuration{
		ICEServers:   f.config.ICEServers,
		SDPSemantics: webrtc.SDPSemanticsUnifiedPlanWithFallback,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	conn := &ObservedPeerConnection{
		PeerConnection: pc,
		id:             uuid.NewString(),
		interceptor:    f.interceptor,
		logger:         f.logger,
	}
	pc.OnTrack(conn.handleTrack)
	pc.OnConnectionStateChange(conn.handleConnectionState)
	return conn, nil
}

// ObservedPeerConnection is a pion PeerConnection with the interceptor
// attached. The full PeerConnection surface is available through embedding;
// OnTrack and OnConnectionStateChange chain the caller's handler after the
// observer instead of replacing it.
type ObservedPeerConnection struct {
	*webrtc.PeerConnection

	id          string
	interceptor *Interceptor
	logger      *zap.SugaredLogger

	mu      sync.RWMutex
	onTrack func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
	onState func(webrtc.PeerConnectionState)

	releaseOnce sync.Once
}

func (c *ObservedPeerConnection) ID() string {
	return c.id
}

// OnTrack registers a handler that runs after the interceptor has seen the
// track. The interceptor consumes the media of audio tracks it captures.
func (c *ObservedPeerConnection) OnTrack(f func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	c.mu.Lock()
	c.onTrack = f
	c.mu.Unlock()
}

func (c *ObservedPeerConnection) OnConnectionStateChange(f func(webrtc.PeerConnectionState)) {
	c.mu.Lock()
	c.onState = f
	c.mu.Unlock()
}

// Close releases captured streams before closing the connection.
func (c *ObservedPeerConnection) Close() error {
	c.release()
	return c.PeerConnection.Close()
}

func (c *ObservedPeerConnection) handleTrack(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	c.logger.Infow("inbound track negotiated",
		"conn_id", c.id,
		"track_id", track.ID(),
		"stream_id", track.StreamID(),
		"kind", track.Kind().String(),
		"codec", track.Codec().MimeType,
	)

	c.interceptor.OnTrackAdded(c.id, newPionTrack(track, receiver), []string{track.StreamID()})

	c.mu.RLock()
	handler := c.onTrack
	c.mu.RUnlock()
	if handler != nil {
		handler(track, receiver)
	}
}

func (c *ObservedPeerConnection) handleConnectionState(state webrtc.PeerConnectionState) {
	c.logger.Infow("peer connection state changed",
		"conn_id", c.id,
		"connection_state", state.String(),
	)

	if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
		c.release()
	}

	c.mu.RLock()
	handler := c.onState
	c.mu.RUnlock()
	if handler != nil {
		handler(state)
	}
}

func (c *ObservedPeerConnection) release() {
	c.releaseOnce.Do(func() {
		c.interceptor.OnConnectionClosed(c.id)
	})
}
