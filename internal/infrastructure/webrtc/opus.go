package webrtc

import (
	"fmt"

	"callbox/internal/core/domain"

	"go.uber.org/zap"
	"gopkg.in/hraban/opus.v2"
)

// DecoderFactory builds one decoder per captured track.
type DecoderFactory func() (Decoder, error)

// NewOpusDecoder decodes to the session format, 48kHz stereo.
func NewOpusDecoder() (Decoder, error) {
	dec, err := opus.NewDecoder(domain.SampleRate, domain.Channels)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus decoder: %w", err)
	}
	return dec, nil
}

// TrackSourceFactory turns negotiated audio tracks into TrackSources.
type TrackSourceFactory struct {
	RingCapacity int
	NewDecoder   DecoderFactory
	Logger       *zap.SugaredLogger
}

// NewTrackSourceFactory buffers up to bufferBlocks capture blocks per track.
func NewTrackSourceFactory(bufferBlocks int, logger *zap.SugaredLogger) *TrackSourceFactory {
	if bufferBlocks < 1 {
		bufferBlocks = 1
	}
	return &TrackSourceFactory{
		RingCapacity: bufferBlocks * domain.BlockSize * domain.Channels,
		NewDecoder:   NewOpusDecoder,
		Logger:       logger,
	}
}

func (f *TrackSourceFactory) NewSource(id domain.StreamID, track RemoteTrack) (CapturedSource, error) {
	dec, err := f.NewDecoder()
	if err != nil {
		return nil, err
	}
	return NewTrackSource(id, track, dec, f.RingCapacity, f.Logger), nil
}
