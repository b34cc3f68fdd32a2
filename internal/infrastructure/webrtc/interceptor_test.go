package webrtc

import (
	"errors"
	"testing"
	"time"

	"callbox/internal/core/domain"
	"callbox/internal/core/services"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

type interceptorFixture struct {
	registry    *services.StreamRegistry
	router      *recordingRouter
	factory     *stubFactory
	interceptor *Interceptor
}

func newInterceptorFixture(t *testing.T) *interceptorFixture {
	f := &interceptorFixture{
		registry: services.NewStreamRegistry(),
		router:   &recordingRouter{},
		factory:  newStubFactory(),
	}
	f.interceptor = NewInterceptor(f.registry, f.router, f.factory, zaptest.NewLogger(t).Sugar())
	return f
}

func TestInterceptor_RegistersAudioStream(t *testing.T) {
	f := newInterceptorFixture(t)
	track := newFakeTrack("mic", "alice", webrtc.RTPCodecTypeAudio)

	f.interceptor.OnTrackAdded("conn-1", track, []string{"alice"})

	assert.True(t, f.registry.Contains("alice"))
	assert.Equal(t, []domain.StreamID{"alice"}, f.router.Routed())

	src := f.factory.Source("alice")
	require.NotNil(t, src)
	assert.True(t, src.started)
	assert.Same(t, track, src.track)
}

func TestInterceptor_SkipsKnownStream(t *testing.T) {
	f := newInterceptorFixture(t)
	first := newFakeTrack("mic", "alice", webrtc.RTPCodecTypeAudio)
	again := newFakeTrack("mic-2", "alice", webrtc.RTPCodecTypeAudio)
	defer again.end()

	f.interceptor.OnTrackAdded("conn-1", first, []string{"alice"})
	f.interceptor.OnTrackAdded("conn-1", again, []string{"alice"})

	assert.Equal(t, 1, f.registry.Len())
	assert.Equal(t, []domain.StreamID{"alice"}, f.router.Routed())
	assert.Same(t, first, f.factory.Source("alice").track)
}

func TestInterceptor_TrackFeedsFirstNewStream(t *testing.T) {
	f := newInterceptorFixture(t)
	f.interceptor.OnTrackAdded("conn-1", newFakeTrack("a", "alice", webrtc.RTPCodecTypeAudio), []string{"alice"})

	f.interceptor.OnTrackAdded("conn-1", newFakeTrack("b", "alice", webrtc.RTPCodecTypeAudio), []string{"alice", "bob", "carol"})

	assert.Equal(t, []domain.StreamID{"alice", "bob"}, f.router.Routed())
	assert.False(t, f.registry.Contains("carol"))
}

func TestInterceptor_IgnoresVideo(t *testing.T) {
	f := newInterceptorFixture(t)
	track := newFakeTrack("cam", "alice", webrtc.RTPCodecTypeVideo)
	defer track.end()

	f.interceptor.OnTrackAdded("conn-1", track, []string{"alice"})

	assert.Equal(t, 0, f.registry.Len())
	assert.Empty(t, f.router.Routed())
}

func TestInterceptor_DrainsUncapturedTrack(t *testing.T) {
	f := newInterceptorFixture(t)
	track := newFakeTrack("cam", "alice", webrtc.RTPCodecTypeVideo)
	defer track.end()
	for i := 0; i < 10; i++ {
		track.push(uint16(i), []byte{0x01})
	}

	f.interceptor.OnTrackAdded("conn-1", track, []string{"alice"})

	assert.Eventually(t, func() bool {
		return len(track.packets) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestInterceptor_FactoryFailureDegradesOnce(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	f := newInterceptorFixture(t)
	f.interceptor.logger = zap.New(core).Sugar()
	f.factory.err = errors.New("no decoder")

	for i := 0; i < 3; i++ {
		track := newFakeTrack("mic", "alice", webrtc.RTPCodecTypeAudio)
		defer track.end()
		f.interceptor.OnTrackAdded("conn-1", track, []string{"alice"})
	}

	assert.Equal(t, 0, f.registry.Len())
	assert.Equal(t, 1, logs.FilterMessage("stream capture unavailable on connection").Len())
}

func TestInterceptor_RecoversFromPanic(t *testing.T) {
	f := newInterceptorFixture(t)
	f.factory.panics = true
	track := newFakeTrack("mic", "alice", webrtc.RTPCodecTypeAudio)
	defer track.end()

	assert.NotPanics(t, func() {
		f.interceptor.OnTrackAdded("conn-1", track, []string{"alice"})
	})
	assert.Equal(t, 0, f.registry.Len())

	// A later connection is unaffected.
	f.factory.panics = false
	f.interceptor.OnTrackAdded("conn-2", newFakeTrack("mic", "bob", webrtc.RTPCodecTypeAudio), []string{"bob"})
	assert.True(t, f.registry.Contains("bob"))
}

func TestInterceptor_TrackEndDeregisters(t *testing.T) {
	f := newInterceptorFixture(t)
	f.interceptor.OnTrackAdded("conn-1", newFakeTrack("mic", "alice", webrtc.RTPCodecTypeAudio), []string{"alice"})
	src := f.factory.Source("alice")

	src.End()

	assert.False(t, f.registry.Contains("alice"))
	assert.Empty(t, f.router.Routed())
	assert.Equal(t, 1, src.Closed())
}

func TestInterceptor_ConnectionCloseDeregistersItsStreams(t *testing.T) {
	f := newInterceptorFixture(t)
	f.interceptor.OnTrackAdded("conn-1", newFakeTrack("a", "alice", webrtc.RTPCodecTypeAudio), []string{"alice"})
	f.interceptor.OnTrackAdded("conn-1", newFakeTrack("b", "bob", webrtc.RTPCodecTypeAudio), []string{"bob"})
	f.interceptor.OnTrackAdded("conn-2", newFakeTrack("c", "carol", webrtc.RTPCodecTypeAudio), []string{"carol"})

	f.interceptor.OnConnectionClosed("conn-1")

	assert.Equal(t, []domain.StreamID{"carol"}, f.router.Routed())
	assert.Equal(t, 1, f.factory.Source("alice").Closed())
	assert.Equal(t, 1, f.factory.Source("bob").Closed())
	assert.Equal(t, 0, f.factory.Source("carol").Closed())

	// Ending an already released stream is harmless.
	f.factory.Source("alice").End()
	assert.Equal(t, 1, f.factory.Source("alice").Closed())
}

func TestInterceptor_StreamCanReturnAfterRelease(t *testing.T) {
	f := newInterceptorFixture(t)
	f.interceptor.OnTrackAdded("conn-1", newFakeTrack("a", "alice", webrtc.RTPCodecTypeAudio), []string{"alice"})
	f.interceptor.OnConnectionClosed("conn-1")

	f.interceptor.OnTrackAdded("conn-2", newFakeTrack("a", "alice", webrtc.RTPCodecTypeAudio), []string{"alice"})

	assert.True(t, f.registry.Contains("alice"))
	assert.Equal(t, []domain.StreamID{"alice"}, f.router.Routed())
}

func TestInterceptor_LateEndKeepsReplacementStream(t *testing.T) {
	f := newInterceptorFixture(t)
	f.interceptor.OnTrackAdded("conn-1", newFakeTrack("a", "alice", webrtc.RTPCodecTypeAudio), []string{"alice"})
	stale := f.factory.Source("alice")
	f.interceptor.OnConnectionClosed("conn-1")

	f.interceptor.OnTrackAdded("conn-2", newFakeTrack("a", "alice", webrtc.RTPCodecTypeAudio), []string{"alice"})
	current := f.factory.Source("alice")
	require.NotSame(t, stale, current)

	stale.End()

	assert.True(t, f.registry.Contains("alice"))
	assert.Equal(t, []domain.StreamID{"alice"}, f.router.Routed())
	assert.Equal(t, 0, current.Closed())
	assert.Equal(t, 1, stale.Closed())
}

func TestInterceptor_ClosingOldConnectionKeepsReplacementStream(t *testing.T) {
	f := newInterceptorFixture(t)
	f.interceptor.OnTrackAdded("conn-1", newFakeTrack("a", "alice", webrtc.RTPCodecTypeAudio), []string{"alice"})
	f.factory.Source("alice").End()

	f.interceptor.OnTrackAdded("conn-2", newFakeTrack("a", "alice", webrtc.RTPCodecTypeAudio), []string{"alice"})
	current := f.factory.Source("alice")

	f.interceptor.OnConnectionClosed("conn-1")

	assert.True(t, f.registry.Contains("alice"))
	assert.Equal(t, 0, current.Closed())
}
