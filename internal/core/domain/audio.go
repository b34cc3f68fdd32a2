package domain

import (
	"fmt"
	"time"
)

// Session audio format. The capture graph produces blocks of BlockSize frames
// at SampleRate with Channels interleaved channels.
const (
	SampleRate     = 48000
	Channels       = 2
	BlockSize      = 4096
	BytesPerSample = 4
)

// BlockDuration is the wall-clock length of one capture block.
func BlockDuration(blockSize, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(blockSize) * time.Second / time.Duration(sampleRate)
}

// AudioFrame is one block of interleaved float32 samples (L0,R0,L1,R1,...).
// A frame is immutable once emitted by the capture graph.
type AudioFrame struct {
	Samples    []float32 `json:"samples"`
	SampleRate int       `json:"sampleRate"`
	Channels   int       `json:"channels"`
}

// SampleCount returns the number of complete samples per channel. Trailing
// samples that do not fill a whole interleaved group are not counted.
func (f AudioFrame) SampleCount() int {
	if f.Channels <= 0 {
		return 0
	}
	return len(f.Samples) / f.Channels
}

// Validate reports whether the frame carries a usable format.
func (f AudioFrame) Validate() error {
	if f.Channels <= 0 {
		return fmt.Errorf("%w: channels must be > 0, got %d", ErrInvalidFrame, f.Channels)
	}
	if f.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate must be > 0, got %d", ErrInvalidFrame, f.SampleRate)
	}
	return nil
}

// FourCC identifies the numeric layout of a planar buffer.
type FourCC [4]byte

// FourCCFLTp denotes planar 32-bit float audio.
var FourCCFLTp = FourCC{'F', 'L', 'T', 'p'}

func (f FourCC) String() string {
	return string(f[:])
}

// PlanarBuffer is an AudioFrame reorganised channel-major, ready for the
// broadcast library. Timecode is expressed in 100ns units.
type PlanarBuffer struct {
	FourCC             FourCC
	SampleRate         int
	Channels           int
	SampleCount        int
	ChannelStrideBytes int
	Timecode           int64
	Data               []byte
}

// Validate checks that the declared layout matches Data exactly.
func (b *PlanarBuffer) Validate() error {
	if b.Channels <= 0 || b.SampleRate <= 0 {
		return fmt.Errorf("%w: channels=%d sample_rate=%d", ErrLayoutMismatch, b.Channels, b.SampleRate)
	}
	if b.ChannelStrideBytes != b.SampleCount*BytesPerSample {
		return fmt.Errorf("%w: stride %d != %d samples * %d bytes",
			ErrLayoutMismatch, b.ChannelStrideBytes, b.SampleCount, BytesPerSample)
	}
	if len(b.Data) != b.Channels*b.ChannelStrideBytes {
		return fmt.Errorf("%w: data length %d != %d channels * stride %d",
			ErrLayoutMismatch, len(b.Data), b.Channels, b.ChannelStrideBytes)
	}
	return nil
}
