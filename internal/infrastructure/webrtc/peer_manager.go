package webrtc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"callbox/internal/core/domain"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// PeerManager is the hosting layer for remote parties: it answers their
// offers with observed connections and tears them down on request.
type PeerManager struct {
	factory *PeerConnectionFactory

	peers map[string]*ObservedPeerConnection
	mu    sync.RWMutex

	logger *zap.SugaredLogger
}

func NewPeerManager(factory *PeerConnectionFactory, logger *zap.SugaredLogger) *PeerManager {
	return &PeerManager{
		factory: factory,
		peers:   make(map[string]*ObservedPeerConnection),
		logger:  logger,
	}
}

// Accept applies a remote offer and returns the connection id together with
// a complete answer (ICE gathering finished, no trickle).
func (m *PeerManager) Accept(ctx context.Context, offer webrtc.SessionDescription) (string, *webrtc.SessionDescription, error) {
	if offer.Type != webrtc.SDPTypeOffer {
		return "", nil, fmt.Errorf("expected offer, got %s", offer.Type)
	}

	conn, err := m.factory.NewPeerConnection()
	if err != nil {
		return "", nil, err
	}

	conn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		m.handleState(conn, state)
	})

	answer, err := m.negotiate(ctx, conn, offer)
	if err != nil {
		conn.Close()
		return "", nil, err
	}
	if state := conn.ConnectionState(); state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
		conn.Close()
		return "", nil, fmt.Errorf("peer connection %s during negotiation", state)
	}

	m.mu.Lock()
	m.peers[conn.ID()] = conn
	m.mu.Unlock()

	m.logger.Infow("peer accepted", "conn_id", conn.ID(), "peers", m.Count())
	return conn.ID(), answer, nil
}

func (m *PeerManager) negotiate(ctx context.Context, conn *ObservedPeerConnection, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if err := conn.SetRemoteDescription(offer); err != nil {
		return nil, fmt.Errorf("failed to set remote description: %w", err)
	}

	answer, err := conn.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(conn.PeerConnection)
	if err := conn.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}

	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return nil, fmt.Errorf("ICE gathering interrupted: %w", ctx.Err())
	}

	return conn.LocalDescription(), nil
}

// Close tears down one connection; its streams are deregistered.
func (m *PeerManager) Close(id string) error {
	m.mu.Lock()
	conn, ok := m.peers[id]
	delete(m.peers, id)
	m.mu.Unlock()

	if !ok {
		return domain.ErrPeerNotFound
	}
	if err := conn.Close(); err != nil {
		return fmt.Errorf("failed to close peer %s: %w", id, err)
	}
	m.logger.Infow("peer closed", "conn_id", id)
	return nil
}

func (m *PeerManager) CloseAll() error {
	m.mu.Lock()
	peers := m.peers
	m.peers = make(map[string]*ObservedPeerConnection)
	m.mu.Unlock()

	var errs []error
	for _, conn := range peers {
		if err := conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *PeerManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.peers)
}

// handleState drops peers that failed or closed. A failed connection still
// holds its transports, so it is closed as well.
func (m *PeerManager) handleState(conn *ObservedPeerConnection, state webrtc.PeerConnectionState) {
	switch state {
	case webrtc.PeerConnectionStateFailed:
		m.forget(conn.ID())
		m.logger.Warnw("peer connection failed, closing", "conn_id", conn.ID())
		go conn.Close()
	case webrtc.PeerConnectionStateClosed:
		m.forget(conn.ID())
	}
}

func (m *PeerManager) forget(id string) {
	m.mu.Lock()
	delete(m.peers, id)
	m.mu.Unlock()
}
