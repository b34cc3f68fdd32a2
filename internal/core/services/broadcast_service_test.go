package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"callbox/internal/core/domain"
	"callbox/pkg/pcm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func newTestBroadcast(t *testing.T, lib *MockBroadcastLibrary) *BroadcastService {
	t.Helper()
	return NewBroadcastService(DefaultBroadcastConfig(), lib, nil, zaptest.NewLogger(t).Sugar())
}

func studioOptions(name string) domain.SenderOptions {
	return domain.SenderOptions{Name: name, ClockAudio: true, ClockVideo: false}
}

func TestBroadcastService_StartOpensAudioClockedChannel(t *testing.T) {
	lib := new(MockBroadcastLibrary)
	handle := &fakeHandle{}
	lib.On("Open", mock.Anything, studioOptions("Studio A")).Return(handle, nil).Once()

	svc := newTestBroadcast(t, lib)

	assert.True(t, svc.Start(context.Background(), "Studio A"))
	assert.Equal(t, domain.ChannelActive, svc.State())

	status := svc.Status()
	assert.True(t, status.Active)
	require.NotNil(t, status.Name)
	assert.Equal(t, "Studio A", *status.Name)
	lib.AssertExpectations(t)
}

func TestBroadcastService_StartDefaultName(t *testing.T) {
	lib := new(MockBroadcastLibrary)
	lib.On("Open", mock.Anything, studioOptions("CallBox")).Return(&fakeHandle{}, nil).Once()

	svc := newTestBroadcast(t, lib)

	assert.True(t, svc.Start(context.Background(), ""))
	assert.Equal(t, "CallBox", *svc.Status().Name)
	lib.AssertExpectations(t)
}

func TestBroadcastService_SingletonChannel(t *testing.T) {
	lib := new(MockBroadcastLibrary)
	lib.On("Open", mock.Anything, studioOptions("first")).Return(&fakeHandle{}, nil).Once()

	svc := newTestBroadcast(t, lib)

	assert.True(t, svc.Start(context.Background(), "first"))
	assert.True(t, svc.Start(context.Background(), "second"))

	lib.AssertNumberOfCalls(t, "Open", 1)
	assert.Equal(t, "first", *svc.Status().Name)
}

func TestBroadcastService_ConcurrentStart(t *testing.T) {
	lib := new(MockBroadcastLibrary)
	lib.On("Open", mock.Anything, mock.Anything).Return(&fakeHandle{}, nil).Once()

	svc := newTestBroadcast(t, lib)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.True(t, svc.Start(context.Background(), "race"))
		}()
	}
	wg.Wait()

	lib.AssertNumberOfCalls(t, "Open", 1)
}

func TestBroadcastService_StartFailure(t *testing.T) {
	lib := new(MockBroadcastLibrary)
	lib.On("Open", mock.Anything, mock.Anything).Return(nil, errOpenFailed).Once()
	lib.On("Open", mock.Anything, mock.Anything).Return(&fakeHandle{}, nil).Once()

	svc := newTestBroadcast(t, lib)

	assert.False(t, svc.Start(context.Background(), "Studio"))
	assert.Equal(t, domain.ChannelFailed, svc.State())
	assert.Equal(t, domain.BroadcastStatus{}, svc.Status())

	// caller may retry
	assert.True(t, svc.Start(context.Background(), "Studio"))
	assert.Equal(t, domain.ChannelActive, svc.State())
}

func TestBroadcastService_StopIdempotent(t *testing.T) {
	lib := new(MockBroadcastLibrary)
	svc := newTestBroadcast(t, lib)

	svc.Stop()
	svc.Stop()

	status := svc.Status()
	assert.False(t, status.Active)
	assert.Nil(t, status.Name)
	assert.Equal(t, domain.ChannelIdle, svc.State())
	lib.AssertNotCalled(t, "Open", mock.Anything, mock.Anything)
}

func TestBroadcastService_StopClosesHandle(t *testing.T) {
	lib := new(MockBroadcastLibrary)
	handle := &fakeHandle{}
	lib.On("Open", mock.Anything, mock.Anything).Return(handle, nil)

	svc := newTestBroadcast(t, lib)
	require.True(t, svc.Start(context.Background(), "Studio"))

	svc.Stop()
	svc.Stop()

	assert.Equal(t, 1, handle.closed)
	assert.Equal(t, domain.ChannelIdle, svc.State())

	svc.Send(domain.AudioFrame{Samples: []float32{1, 1}, SampleRate: 48000, Channels: 2})
	assert.Empty(t, handle.Buffers())
}

func TestBroadcastService_SendWhileIdleIsNoop(t *testing.T) {
	lib := new(MockBroadcastLibrary)
	svc := newTestBroadcast(t, lib)

	assert.NotPanics(t, func() {
		svc.Send(domain.AudioFrame{Samples: []float32{1, -1}, SampleRate: 48000, Channels: 2})
	})
}

func TestBroadcastService_SendPlanarLayout(t *testing.T) {
	lib := new(MockBroadcastLibrary)
	handle := &fakeHandle{}
	lib.On("Open", mock.Anything, mock.Anything).Return(handle, nil)

	svc := newTestBroadcast(t, lib)
	require.True(t, svc.Start(context.Background(), "Studio"))

	input := []float32{1.0, -1.0, 0.5, -0.5}
	svc.Send(domain.AudioFrame{Samples: input, SampleRate: 48000, Channels: 2})

	buffers := handle.Buffers()
	require.Len(t, buffers, 1)
	buf := buffers[0]

	assert.Equal(t, domain.FourCCFLTp, buf.FourCC)
	assert.Equal(t, "FLTp", buf.FourCC.String())
	assert.Equal(t, 48000, buf.SampleRate)
	assert.Equal(t, 2, buf.Channels)
	assert.Equal(t, 2, buf.SampleCount)
	assert.Equal(t, 8, buf.ChannelStrideBytes)
	assert.Equal(t, int64(0), buf.Timecode)
	require.NoError(t, buf.Validate())

	assert.Equal(t, input, pcm.Interleave(buf.Data, buf.Channels, buf.SampleCount))
}

func TestBroadcastService_SendTruncatesTrailingSample(t *testing.T) {
	lib := new(MockBroadcastLibrary)
	handle := &fakeHandle{}
	lib.On("Open", mock.Anything, mock.Anything).Return(handle, nil)

	svc := newTestBroadcast(t, lib)
	require.True(t, svc.Start(context.Background(), "Studio"))

	svc.Send(domain.AudioFrame{Samples: []float32{1, 2, 3, 4, 5}, SampleRate: 48000, Channels: 2})

	buf := handle.Buffers()[0]
	assert.Equal(t, 2, buf.SampleCount)
	assert.Equal(t, 8, buf.ChannelStrideBytes)
	assert.Len(t, buf.Data, 16)
	assert.Equal(t, []float32{1, 2, 3, 4}, pcm.Interleave(buf.Data, 2, 2))
}

func TestBroadcastService_TimecodeAdvances(t *testing.T) {
	lib := new(MockBroadcastLibrary)
	handle := &fakeHandle{}
	lib.On("Open", mock.Anything, mock.Anything).Return(handle, nil)

	svc := newTestBroadcast(t, lib)
	require.True(t, svc.Start(context.Background(), "Studio"))

	// 4800 stereo samples at 48kHz is 100ms
	frame := domain.AudioFrame{Samples: make([]float32, 9600), SampleRate: 48000, Channels: 2}
	svc.Send(frame)
	svc.Send(frame)
	svc.Send(frame)

	buffers := handle.Buffers()
	require.Len(t, buffers, 3)
	assert.Equal(t, int64(0), buffers[0].Timecode)
	assert.Equal(t, int64(1_000_000), buffers[1].Timecode)
	assert.Equal(t, int64(2_000_000), buffers[2].Timecode)
}

func TestBroadcastService_RejectsInvalidFrame(t *testing.T) {
	lib := new(MockBroadcastLibrary)
	handle := &fakeHandle{}
	lib.On("Open", mock.Anything, mock.Anything).Return(handle, nil)

	svc := newTestBroadcast(t, lib)
	require.True(t, svc.Start(context.Background(), "Studio"))

	svc.Send(domain.AudioFrame{Samples: []float32{1, 2}, SampleRate: 48000, Channels: 0})
	svc.Send(domain.AudioFrame{Samples: []float32{1, 2}, SampleRate: 0, Channels: 2})

	assert.Empty(t, handle.Buffers())
	assert.Equal(t, domain.ChannelActive, svc.State())
}

func TestBroadcastService_ThrottlesSendErrors(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	lib := new(MockBroadcastLibrary)
	handle := &fakeHandle{sendErr: errors.New("peer unreachable")}
	lib.On("Open", mock.Anything, mock.Anything).Return(handle, nil)

	svc := NewBroadcastService(DefaultBroadcastConfig(), lib, nil, zap.New(core).Sugar())
	require.True(t, svc.Start(context.Background(), "Studio"))

	frame := domain.AudioFrame{Samples: []float32{0.1, 0.2}, SampleRate: 48000, Channels: 2}
	for i := 0; i < 50; i++ {
		svc.Send(frame)
	}

	assert.Equal(t, 1, logs.FilterMessage("broadcast send failed").Len())
	assert.Equal(t, domain.ChannelActive, svc.State())

	// transient failures heal without intervention
	handle.mu.Lock()
	handle.sendErr = nil
	handle.mu.Unlock()
	svc.Send(frame)
	assert.Len(t, handle.Buffers(), 1)
}

func TestBroadcastService_ThrottleWindowReopens(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	lib := new(MockBroadcastLibrary)
	handle := &fakeHandle{sendErr: errors.New("peer unreachable")}
	lib.On("Open", mock.Anything, mock.Anything).Return(handle, nil)

	cfg := DefaultBroadcastConfig()
	cfg.ErrorLogInterval = 20 * time.Millisecond
	svc := NewBroadcastService(cfg, lib, nil, zap.New(core).Sugar())
	require.True(t, svc.Start(context.Background(), "Studio"))

	frame := domain.AudioFrame{Samples: []float32{0.1, 0.2}, SampleRate: 48000, Channels: 2}
	svc.Send(frame)
	svc.Send(frame)
	time.Sleep(30 * time.Millisecond)
	svc.Send(frame)

	entries := logs.FilterMessage("broadcast send failed").AllUntimed()
	require.Len(t, entries, 2)
	assert.Equal(t, int64(1), entries[1].ContextMap()["suppressed"])
}
