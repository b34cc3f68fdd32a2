package services

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"callbox/internal/core/domain"
	"callbox/internal/core/ports"
	"callbox/pkg/pcm"

	"go.uber.org/zap"
)

// CaptureConfig describes the mix graph format.
type CaptureConfig struct {
	SampleRate  int
	Channels    int
	BlockSize   int
	GainPercent int
}

// DefaultCaptureConfig returns the session format: 48kHz stereo, 4096-sample
// blocks, full gain.
func DefaultCaptureConfig() CaptureConfig {
	return CaptureConfig{
		SampleRate:  domain.SampleRate,
		Channels:    domain.Channels,
		BlockSize:   domain.BlockSize,
		GainPercent: 100,
	}
}

func (c CaptureConfig) validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be > 0, got %d", c.SampleRate)
	}
	if c.Channels != domain.Channels {
		return fmt.Errorf("channels must be %d, got %d", domain.Channels, c.Channels)
	}
	if c.BlockSize <= 0 {
		return fmt.Errorf("block size must be > 0, got %d", c.BlockSize)
	}
	return nil
}

// CaptureService is the capture and mix graph. ProcessBlock is driven by a
// single clock goroutine; the connected set is published copy-on-write so the
// clock never takes the mutex.
type CaptureService struct {
	cfg      CaptureConfig
	registry *StreamRegistry
	sink     ports.FrameSink
	metrics  ports.PipelineMetrics
	logger   *zap.SugaredLogger

	mu          sync.Mutex
	initialised bool
	initErr     error

	enabled     atomic.Bool
	connected   atomic.Pointer[[]ports.MediaSource]
	gain        atomic.Uint32
	gainPercent atomic.Int32

	// owned by the clock goroutine
	scratch []float32
}

func NewCaptureService(
	cfg CaptureConfig,
	registry *StreamRegistry,
	sink ports.FrameSink,
	metrics ports.PipelineMetrics,
	logger *zap.SugaredLogger,
) *CaptureService {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	s := &CaptureService{
		cfg:      cfg,
		registry: registry,
		sink:     sink,
		metrics:  metrics,
		logger:   logger,
	}
	empty := []ports.MediaSource{}
	s.connected.Store(&empty)
	s.SetGain(cfg.GainPercent)
	return s
}

// Enable connects every registered stream into the graph. Calling it again is
// harmless; streams already connected are skipped.
func (s *CaptureService) Enable() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.initLocked(); err != nil {
		return err
	}

	s.enabled.Store(true)
	for _, src := range s.registry.Snapshot() {
		s.connectLocked(src)
	}

	s.logger.Infow("capture enabled",
		"registered", s.registry.Len(),
		"connected", len(*s.connected.Load()),
	)
	s.reportSources()
	return nil
}

// Disable detaches every stream. The registry is left intact.
func (s *CaptureService) Disable() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.enabled.Store(false)
	empty := []ports.MediaSource{}
	s.connected.Store(&empty)

	s.logger.Infow("capture disabled", "registered", s.registry.Len())
	s.reportSources()
}

// SetGain updates the gain scalar read by the next block. Values outside
// 0..100 are clamped.
func (s *CaptureService) SetGain(percent int) {
	if percent < 0 {
		percent = 0
	} else if percent > 100 {
		percent = 100
	}
	s.gain.Store(math.Float32bits(pcm.GainFromPercent(percent)))
	s.gainPercent.Store(int32(percent))
	s.metrics.GainChanged(percent)
}

// Route connects a newly discovered stream when capture is enabled. While
// disabled the stream stays pending in the registry.
func (s *CaptureService) Route(src ports.MediaSource) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.enabled.Load() {
		s.connectLocked(src)
	}
	s.reportSources()
}

// Unroute detaches a stream that ended.
func (s *CaptureService) Unroute(id domain.StreamID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := *s.connected.Load()
	next := make([]ports.MediaSource, 0, len(current))
	for _, src := range current {
		if src.ID() != id {
			next = append(next, src)
		}
	}
	s.connected.Store(&next)
	s.reportSources()
}

func (s *CaptureService) Status() domain.CaptureStatus {
	s.mu.Lock()
	initErr := s.initErr
	s.mu.Unlock()

	status := domain.CaptureStatus{
		Enabled:     s.enabled.Load(),
		Registered:  s.registry.Len(),
		Connected:   len(*s.connected.Load()),
		GainPercent: int(s.gainPercent.Load()),
	}
	if initErr != nil {
		status.Error = initErr.Error()
	}
	return status
}

// ProcessBlock mixes one block from every connected source, applies gain and
// hands the frame to the sink. It reports whether a frame was emitted.
func (s *CaptureService) ProcessBlock() bool {
	if !s.enabled.Load() {
		return false
	}

	sources := *s.connected.Load()
	block := make([]float32, s.cfg.BlockSize*s.cfg.Channels)
	for _, src := range sources {
		n := src.Read(s.scratch)
		pcm.MixInto(block, s.scratch[:n])
	}
	pcm.ApplyGain(block, math.Float32frombits(s.gain.Load()))

	s.sink.Send(domain.AudioFrame{
		Samples:    block,
		SampleRate: s.cfg.SampleRate,
		Channels:   s.cfg.Channels,
	})
	s.metrics.FrameEmitted()
	return true
}

// Run drives ProcessBlock at the block cadence until ctx is cancelled.
func (s *CaptureService) Run(ctx context.Context) {
	interval := domain.BlockDuration(s.cfg.BlockSize, s.cfg.SampleRate)
	if interval <= 0 {
		s.logger.Errorw("capture clock not started", "error", s.cfg.validate())
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Infow("capture clock started",
		"interval", interval,
		"block_size", s.cfg.BlockSize,
		"sample_rate", s.cfg.SampleRate,
	)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.ProcessBlock()
		}
	}
}

func (s *CaptureService) initLocked() error {
	if s.initialised {
		return nil
	}
	if s.initErr != nil {
		return fmt.Errorf("%w: %v", domain.ErrCaptureUnavailable, s.initErr)
	}

	if err := s.cfg.validate(); err != nil {
		s.initErr = err
		s.logger.Errorw("failed to create mix graph", "error", err)
		return fmt.Errorf("%w: %v", domain.ErrCaptureUnavailable, err)
	}

	s.scratch = make([]float32, s.cfg.BlockSize*s.cfg.Channels)
	s.initialised = true
	s.logger.Infow("mix graph created",
		"sample_rate", s.cfg.SampleRate,
		"channels", s.cfg.Channels,
		"block_size", s.cfg.BlockSize,
	)
	return nil
}

func (s *CaptureService) connectLocked(src ports.MediaSource) {
	current := *s.connected.Load()
	for _, existing := range current {
		if existing.ID() == src.ID() {
			return
		}
	}

	next := make([]ports.MediaSource, len(current), len(current)+1)
	copy(next, current)
	next = append(next, src)
	s.connected.Store(&next)

	s.logger.Infow("stream connected to mix graph", "stream_id", src.ID())
}

func (s *CaptureService) reportSources() {
	s.metrics.SourcesChanged(s.registry.Len(), len(*s.connected.Load()))
}
