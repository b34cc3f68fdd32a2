package webrtc

import (
	"sync"
	"sync/atomic"
	"time"

	"callbox/internal/core/domain"

	"github.com/pion/rtcp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// maxOpusFrameSamples is the longest Opus frame (120ms at 48kHz) per channel.
const maxOpusFrameSamples = 5760

// Decoder turns one compressed packet into interleaved float32 samples and
// returns the number of samples per channel.
type Decoder interface {
	DecodeFloat32(data []byte, pcm []float32) (int, error)
}

// TrackStats counts what a TrackSource has seen so far.
type TrackStats struct {
	PacketsReceived uint64 `json:"packets_received"`
	DecodeErrors    uint64 `json:"decode_errors"`
	SamplesDropped  uint64 `json:"samples_dropped"`
	SenderPackets   uint32 `json:"sender_packets"`
	SenderOctets    uint32 `json:"sender_octets"`
}

// TrackSource is a MediaSource fed by one inbound audio track. A reader
// goroutine decodes RTP into a bounded ring; Read drains the ring without
// blocking.
type TrackSource struct {
	id      domain.StreamID
	track   RemoteTrack
	decoder Decoder
	ring    *sampleRing
	logger  *zap.SugaredLogger

	packets        atomic.Uint64
	decodeErrors   atomic.Uint64
	samplesDropped atomic.Uint64
	senderPackets  atomic.Uint32
	senderOctets   atomic.Uint32

	errLimiter *rate.Limiter
	closed     atomic.Bool
	done       chan struct{}
	once       sync.Once
}

func NewTrackSource(id domain.StreamID, track RemoteTrack, decoder Decoder, ringCapacity int, logger *zap.SugaredLogger) *TrackSource {
	return &TrackSource{
		id:         id,
		track:      track,
		decoder:    decoder,
		ring:       newSampleRing(ringCapacity),
		logger:     logger,
		errLimiter: rate.NewLimiter(rate.Every(5*time.Second), 1),
		done:       make(chan struct{}),
	}
}

func (s *TrackSource) ID() domain.StreamID {
	return s.id
}

// Start launches the media and control readers. onEnded runs once when the
// track stops delivering packets, unless the source was closed first.
func (s *TrackSource) Start(onEnded func(domain.StreamID)) {
	go s.readMedia(onEnded)
	go s.readControl()
}

// Read copies buffered samples into dst and zero-fills whatever the ring
// could not supply.
func (s *TrackSource) Read(dst []float32) int {
	n := s.ring.Read(dst)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
	return n
}

func (s *TrackSource) Close() error {
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.done)
	})
	return nil
}

// Done is closed once the source has been closed.
func (s *TrackSource) Done() <-chan struct{} {
	return s.done
}

func (s *TrackSource) Stats() TrackStats {
	return TrackStats{
		PacketsReceived: s.packets.Load(),
		DecodeErrors:    s.decodeErrors.Load(),
		SamplesDropped:  s.samplesDropped.Load(),
		SenderPackets:   s.senderPackets.Load(),
		SenderOctets:    s.senderOctets.Load(),
	}
}

func (s *TrackSource) readMedia(onEnded func(domain.StreamID)) {
	pcm := make([]float32, maxOpusFrameSamples*domain.Channels)

	for !s.closed.Load() {
		pkt, err := s.track.ReadPacket()
		if err != nil {
			s.logger.Infow("audio track ended",
				"stream_id", s.id,
				"track_id", s.track.ID(),
				"reason", err,
				"packets", s.packets.Load(),
				"decode_errors", s.decodeErrors.Load(),
			)
			break
		}
		s.packets.Add(1)
		if len(pkt.Payload) == 0 {
			continue
		}

		n, err := s.decoder.DecodeFloat32(pkt.Payload, pcm)
		if err != nil {
			s.decodeErrors.Add(1)
			if s.errLimiter.Allow() {
				s.logger.Warnw("failed to decode audio packet",
					"stream_id", s.id,
					"sequence", pkt.SequenceNumber,
					"error", err,
				)
			}
			continue
		}

		if dropped := s.ring.Write(pcm[:n*domain.Channels]); dropped > 0 {
			s.samplesDropped.Add(uint64(dropped))
		}
	}

	// A closed source has already been released by its owner.
	if onEnded != nil && !s.closed.Load() {
		onEnded(s.id)
	}
}

func (s *TrackSource) readControl() {
	for !s.closed.Load() {
		packets, err := s.track.ReadControl()
		if err != nil {
			return
		}
		for _, packet := range packets {
			if sr, ok := packet.(*rtcp.SenderReport); ok {
				s.senderPackets.Store(sr.PacketCount)
				s.senderOctets.Store(sr.OctetCount)
			}
		}
	}
}
