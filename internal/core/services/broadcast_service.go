package services

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"callbox/internal/core/domain"
	"callbox/internal/core/ports"
	"callbox/pkg/pcm"
	"callbox/pkg/tracing"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// timecodeUnitsPerSecond is the resolution of PlanarBuffer.Timecode (100ns).
const timecodeUnitsPerSecond = 10_000_000

type BroadcastConfig struct {
	DefaultName      string
	ErrorLogInterval time.Duration
}

func DefaultBroadcastConfig() BroadcastConfig {
	return BroadcastConfig{
		DefaultName:      "CallBox",
		ErrorLogInterval: 5 * time.Second,
	}
}

type activeChannel struct {
	name    string
	handle  ports.BroadcastHandle
	samples atomic.Int64
	started time.Time
}

// nextTimecode returns the timecode of a block of n samples and advances the
// running sample count.
func (c *activeChannel) nextTimecode(n, sampleRate int) int64 {
	sent := c.samples.Add(int64(n)) - int64(n)
	return sent * timecodeUnitsPerSecond / int64(sampleRate)
}

// BroadcastService owns the single outbound broadcast channel. Start and Stop
// are serialised by mu; Send only loads the channel pointer.
type BroadcastService struct {
	cfg     BroadcastConfig
	library ports.BroadcastLibrary
	metrics ports.PipelineMetrics
	logger  *zap.SugaredLogger

	mu      sync.Mutex
	channel atomic.Pointer[activeChannel]
	state   atomic.Int32

	errLimiter *rate.Limiter
	suppressed atomic.Int64
}

func NewBroadcastService(
	cfg BroadcastConfig,
	library ports.BroadcastLibrary,
	metrics ports.PipelineMetrics,
	logger *zap.SugaredLogger,
) *BroadcastService {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if cfg.ErrorLogInterval <= 0 {
		cfg.ErrorLogInterval = DefaultBroadcastConfig().ErrorLogInterval
	}
	return &BroadcastService{
		cfg:        cfg,
		library:    library,
		metrics:    metrics,
		logger:     logger,
		errLimiter: rate.NewLimiter(rate.Every(cfg.ErrorLogInterval), 1),
	}
}

// Start opens the broadcast channel. If a channel already exists it returns
// true without opening another one. An empty name selects the configured
// default.
func (s *BroadcastService) Start(ctx context.Context, name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ch := s.channel.Load(); ch != nil {
		s.logger.Infow("broadcast already active", "name", ch.name, "requested", name)
		return true
	}

	if name == "" {
		name = s.cfg.DefaultName
	}

	ctx, span := tracing.TraceBroadcast(ctx, "start", name)
	defer span.End()

	s.state.Store(int32(domain.ChannelStarting))

	handle, err := s.library.Open(ctx, domain.SenderOptions{
		Name:       name,
		ClockAudio: true,
		ClockVideo: false,
	})
	if err != nil {
		s.state.Store(int32(domain.ChannelFailed))
		tracing.RecordError(ctx, err)
		s.logger.Errorw("failed to open broadcast channel", "name", name, "error", err)
		return false
	}

	s.channel.Store(&activeChannel{
		name:    name,
		handle:  handle,
		started: time.Now(),
	})
	s.state.Store(int32(domain.ChannelActive))
	s.metrics.BroadcastActive(true)

	s.logger.Infow("broadcast started", "name", name)
	return true
}

// Stop releases the channel unconditionally. Calling it with no channel open
// is a no-op that leaves the sender idle.
func (s *BroadcastService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := s.channel.Swap(nil)
	if ch == nil {
		s.state.Store(int32(domain.ChannelIdle))
		return
	}

	s.state.Store(int32(domain.ChannelStopping))
	if err := ch.handle.Close(); err != nil {
		s.logger.Warnw("broadcast channel close failed", "name", ch.name, "error", err)
	}
	s.state.Store(int32(domain.ChannelIdle))
	s.metrics.BroadcastActive(false)

	s.logger.Infow("broadcast stopped",
		"name", ch.name,
		"duration", time.Since(ch.started),
		"samples_sent", ch.samples.Load(),
	)
}

// Send converts an interleaved frame to planar layout and pushes it to the
// active channel. Failures are never returned; they are logged at most once
// per ErrorLogInterval.
func (s *BroadcastService) Send(frame domain.AudioFrame) {
	ch := s.channel.Load()
	if ch == nil {
		return
	}

	if err := frame.Validate(); err != nil {
		s.metrics.FrameDropped("broadcast")
		s.logThrottled("rejected audio frame", "name", ch.name, "error", err)
		return
	}

	data, numSamples := pcm.Deinterleave(frame.Samples, frame.Channels)
	if numSamples == 0 {
		s.metrics.FrameDropped("broadcast")
		return
	}

	buf := &domain.PlanarBuffer{
		FourCC:             domain.FourCCFLTp,
		SampleRate:         frame.SampleRate,
		Channels:           frame.Channels,
		SampleCount:        numSamples,
		ChannelStrideBytes: numSamples * domain.BytesPerSample,
		Timecode:           ch.nextTimecode(numSamples, frame.SampleRate),
		Data:               data,
	}

	if err := ch.handle.SendAudio(buf); err != nil {
		s.metrics.SendFailed()
		s.logThrottled("broadcast send failed", "name", ch.name, "error", err)
		return
	}
	s.metrics.FrameSent(len(data))
}

func (s *BroadcastService) Status() domain.BroadcastStatus {
	ch := s.channel.Load()
	if ch == nil {
		return domain.BroadcastStatus{}
	}
	name := ch.name
	return domain.BroadcastStatus{Active: true, Name: &name}
}

func (s *BroadcastService) State() domain.ChannelState {
	return domain.ChannelState(s.state.Load())
}

func (s *BroadcastService) logThrottled(msg string, keysAndValues ...interface{}) {
	if !s.errLimiter.Allow() {
		s.suppressed.Add(1)
		return
	}
	if n := s.suppressed.Swap(0); n > 0 {
		keysAndValues = append(keysAndValues, "suppressed", n)
	}
	s.logger.Warnw(msg, keysAndValues...)
}
