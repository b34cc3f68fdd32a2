package webrtc

import (
	"context"
	"testing"
	"time"

	"callbox/internal/core/domain"
	"callbox/internal/core/services"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestPeerManager(t *testing.T) *PeerManager {
	logger := zaptest.NewLogger(t).Sugar()
	interceptor := NewInterceptor(services.NewStreamRegistry(), &recordingRouter{}, newStubFactory(), logger)

	factory, err := NewPeerConnectionFactory(WebRTCConfig{}, interceptor, logger)
	require.NoError(t, err)

	manager := NewPeerManager(factory, logger)
	t.Cleanup(func() { manager.CloseAll() })
	return manager
}

// newAudioOffer builds a complete offer carrying one send-only audio track.
func newAudioOffer(t *testing.T) webrtc.SessionDescription {
	offerer, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	t.Cleanup(func() { offerer.Close() })

	_, err = offerer.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendonly,
	})
	require.NoError(t, err)

	offer, err := offerer.CreateOffer(nil)
	require.NoError(t, err)

	gatherComplete := webrtc.GatheringCompletePromise(offerer)
	require.NoError(t, offerer.SetLocalDescription(offer))
	<-gatherComplete

	return *offerer.LocalDescription()
}

func TestPeerManager_AcceptAnswersOffer(t *testing.T) {
	manager := newTestPeerManager(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	id, answer, err := manager.Accept(ctx, newAudioOffer(t))
	require.NoError(t, err)

	assert.NotEmpty(t, id)
	require.NotNil(t, answer)
	assert.Equal(t, webrtc.SDPTypeAnswer, answer.Type)
	assert.Contains(t, answer.SDP, "m=audio")
	assert.Equal(t, 1, manager.Count())
}

func TestPeerManager_RejectsNonOffer(t *testing.T) {
	manager := newTestPeerManager(t)

	_, _, err := manager.Accept(context.Background(), webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0"})

	assert.Error(t, err)
	assert.Equal(t, 0, manager.Count())
}

func TestPeerManager_RejectsMalformedOffer(t *testing.T) {
	manager := newTestPeerManager(t)

	_, _, err := manager.Accept(context.Background(), webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "garbage"})

	assert.Error(t, err)
	assert.Equal(t, 0, manager.Count())
}

func TestPeerManager_Close(t *testing.T) {
	manager := newTestPeerManager(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	id, _, err := manager.Accept(ctx, newAudioOffer(t))
	require.NoError(t, err)

	require.NoError(t, manager.Close(id))
	assert.Equal(t, 0, manager.Count())
	assert.ErrorIs(t, manager.Close(id), domain.ErrPeerNotFound)
}

func TestPeerManager_CloseAll(t *testing.T) {
	manager := newTestPeerManager(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i := 0; i < 2; i++ {
		_, _, err := manager.Accept(ctx, newAudioOffer(t))
		require.NoError(t, err)
	}
	require.Equal(t, 2, manager.Count())

	require.NoError(t, manager.CloseAll())
	assert.Equal(t, 0, manager.Count())
}

func TestPeerManager_FailedPeerIsClosed(t *testing.T) {
	manager := newTestPeerManager(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	id, _, err := manager.Accept(ctx, newAudioOffer(t))
	require.NoError(t, err)

	manager.mu.RLock()
	conn := manager.peers[id]
	manager.mu.RUnlock()
	require.NotNil(t, conn)

	manager.handleState(conn, webrtc.PeerConnectionStateFailed)

	assert.Equal(t, 0, manager.Count())
	assert.ErrorIs(t, manager.Close(id), domain.ErrPeerNotFound)
	assert.Eventually(t, func() bool {
		return conn.ConnectionState() == webrtc.PeerConnectionStateClosed
	}, 2*time.Second, 10*time.Millisecond)
}
