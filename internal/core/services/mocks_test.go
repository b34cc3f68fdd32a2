package services

import (
	"context"
	"errors"
	"sync"

	"callbox/internal/core/domain"
	"callbox/internal/core/ports"

	"github.com/stretchr/testify/mock"
)

// fakeSource replays a fixed block of samples on every Read.
type fakeSource struct {
	id      domain.StreamID
	samples []float32
	closed  bool
}

func newFakeSource(id string, samples []float32) *fakeSource {
	return &fakeSource{id: domain.StreamID(id), samples: samples}
}

func (s *fakeSource) ID() domain.StreamID { return s.id }

func (s *fakeSource) Read(dst []float32) int {
	return copy(dst, s.samples)
}

func (s *fakeSource) Close() error {
	s.closed = true
	return nil
}

// recordingSink keeps every frame it is handed.
type recordingSink struct {
	mu     sync.Mutex
	frames []domain.AudioFrame
}

func (s *recordingSink) Send(frame domain.AudioFrame) {
	s.mu.Lock()
	s.frames = append(s.frames, frame)
	s.mu.Unlock()
}

func (s *recordingSink) Frames() []domain.AudioFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.AudioFrame(nil), s.frames...)
}

type MockBroadcastLibrary struct {
	mock.Mock
}

func (m *MockBroadcastLibrary) Open(ctx context.Context, opts domain.SenderOptions) (ports.BroadcastHandle, error) {
	args := m.Called(ctx, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(ports.BroadcastHandle), args.Error(1)
}

// fakeHandle records planar buffers and can be told to fail.
type fakeHandle struct {
	mu      sync.Mutex
	buffers []*domain.PlanarBuffer
	sendErr error
	closed  int
}

func (h *fakeHandle) SendAudio(buf *domain.PlanarBuffer) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed > 0 {
		return domain.ErrChannelClosed
	}
	if h.sendErr != nil {
		return h.sendErr
	}
	h.buffers = append(h.buffers, buf)
	return nil
}

func (h *fakeHandle) Close() error {
	h.mu.Lock()
	h.closed++
	h.mu.Unlock()
	return nil
}

func (h *fakeHandle) Buffers() []*domain.PlanarBuffer {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*domain.PlanarBuffer(nil), h.buffers...)
}

var errOpenFailed = errors.New("no network interface")

type MockPreferenceRepository struct {
	mock.Mock
}

func (m *MockPreferenceRepository) Get(ctx context.Context) (*domain.Preferences, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Preferences), args.Error(1)
}

func (m *MockPreferenceRepository) Save(ctx context.Context, prefs *domain.Preferences) error {
	args := m.Called(ctx, prefs)
	return args.Error(0)
}
