package webrtc

import (
	"errors"
	"io"
	"sync"

	"callbox/internal/core/domain"
	"callbox/internal/core/ports"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
)

// fakeTrack feeds queued packets and reports io.EOF once ended.
type fakeTrack struct {
	id       string
	streamID string
	kind     webrtc.RTPCodecType

	packets chan *rtp.Packet
	control chan []rtcp.Packet
	ended   chan struct{}
	once    sync.Once
}

func newFakeTrack(id, streamID string, kind webrtc.RTPCodecType) *fakeTrack {
	return &fakeTrack{
		id:       id,
		streamID: streamID,
		kind:     kind,
		packets:  make(chan *rtp.Packet, 64),
		control:  make(chan []rtcp.Packet, 8),
		ended:    make(chan struct{}),
	}
}

func (t *fakeTrack) ID() string                { return t.id }
func (t *fakeTrack) StreamID() string          { return t.streamID }
func (t *fakeTrack) Kind() webrtc.RTPCodecType { return t.kind }

func (t *fakeTrack) ReadPacket() (*rtp.Packet, error) {
	select {
	case pkt := <-t.packets:
		return pkt, nil
	case <-t.ended:
		return nil, io.EOF
	}
}

func (t *fakeTrack) ReadControl() ([]rtcp.Packet, error) {
	select {
	case pkts := <-t.control:
		return pkts, nil
	case <-t.ended:
		return nil, io.EOF
	}
}

func (t *fakeTrack) push(seq uint16, payload []byte) {
	t.packets <- &rtp.Packet{Header: rtp.Header{SequenceNumber: seq}, Payload: payload}
}

func (t *fakeTrack) end() {
	t.once.Do(func() { close(t.ended) })
}

// constDecoder emits frameSamples stereo samples of a fixed value per packet.
// A payload starting with 0xFF fails to decode.
type constDecoder struct {
	value        float32
	frameSamples int
}

var errCorruptPacket = errors.New("corrupt packet")

func (d *constDecoder) DecodeFloat32(data []byte, pcm []float32) (int, error) {
	if len(data) > 0 && data[0] == 0xFF {
		return 0, errCorruptPacket
	}
	for i := 0; i < d.frameSamples*domain.Channels; i++ {
		pcm[i] = d.value
	}
	return d.frameSamples, nil
}

// stubSource is a CapturedSource that records its lifecycle.
type stubSource struct {
	id    domain.StreamID
	track RemoteTrack

	mu      sync.Mutex
	started bool
	closed  int
	onEnded func(domain.StreamID)
}

func (s *stubSource) ID() domain.StreamID    { return s.id }
func (s *stubSource) Read(dst []float32) int { return 0 }

func (s *stubSource) Close() error {
	s.mu.Lock()
	s.closed++
	s.mu.Unlock()
	return nil
}

func (s *stubSource) Start(onEnded func(domain.StreamID)) {
	s.mu.Lock()
	s.started = true
	s.onEnded = onEnded
	s.mu.Unlock()
}

func (s *stubSource) Closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *stubSource) End() {
	s.mu.Lock()
	onEnded := s.onEnded
	s.mu.Unlock()
	onEnded(s.id)
}

// stubFactory hands out stubSources, or fails or panics on demand.
type stubFactory struct {
	mu      sync.Mutex
	sources map[domain.StreamID]*stubSource
	err     error
	panics  bool
}

func newStubFactory() *stubFactory {
	return &stubFactory{sources: make(map[domain.StreamID]*stubSource)}
}

func (f *stubFactory) NewSource(id domain.StreamID, track RemoteTrack) (CapturedSource, error) {
	if f.panics {
		panic("decoder init exploded")
	}
	if f.err != nil {
		return nil, f.err
	}
	src := &stubSource{id: id, track: track}
	f.mu.Lock()
	f.sources[id] = src
	f.mu.Unlock()
	return src, nil
}

func (f *stubFactory) Source(id string) *stubSource {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sources[domain.StreamID(id)]
}

// recordingRouter tracks the ids currently routed.
type recordingRouter struct {
	mu     sync.Mutex
	routed []domain.StreamID
}

func (r *recordingRouter) Route(src ports.MediaSource) {
	r.mu.Lock()
	r.routed = append(r.routed, src.ID())
	r.mu.Unlock()
}

func (r *recordingRouter) Unroute(id domain.StreamID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, sid := range r.routed {
		if sid == id {
			r.routed = append(r.routed[:i], r.routed[i+1:]...)
			return
		}
	}
}

func (r *recordingRouter) Routed() []domain.StreamID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.StreamID(nil), r.routed...)
}
