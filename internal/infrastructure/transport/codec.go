package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"callbox/internal/core/domain"
)

// Wire layout of one frame, all fields little-endian:
//
//	0  magic        "CBAF"
//	4  version      uint16
//	6  sample rate  uint32
//	10 channels     uint16
//	12 value count  uint32 (number of float32 values that follow)
//	16 samples      value count * float32
const (
	CodecVersion uint16 = 1
	HeaderSize          = 16
)

var codecMagic = [4]byte{'C', 'B', 'A', 'F'}

var (
	ErrBadMagic           = errors.New("bad frame magic")
	ErrUnsupportedVersion = errors.New("unsupported frame version")
	ErrTruncatedFrame     = errors.New("truncated frame")
)

// EncodedSize returns the number of bytes AppendFrame writes for frame.
func EncodedSize(frame domain.AudioFrame) int {
	return HeaderSize + len(frame.Samples)*domain.BytesPerSample
}

// AppendFrame encodes frame onto dst and returns the extended slice.
func AppendFrame(dst []byte, frame domain.AudioFrame) ([]byte, error) {
	if frame.SampleRate < 0 || uint64(frame.SampleRate) > math.MaxUint32 {
		return dst, fmt.Errorf("%w: sample rate %d out of range", domain.ErrInvalidFrame, frame.SampleRate)
	}
	if frame.Channels < 0 || frame.Channels > math.MaxUint16 {
		return dst, fmt.Errorf("%w: channels %d out of range", domain.ErrInvalidFrame, frame.Channels)
	}
	if uint64(len(frame.Samples)) > math.MaxUint32 {
		return dst, fmt.Errorf("%w: %d samples exceed frame limit", domain.ErrInvalidFrame, len(frame.Samples))
	}

	dst = append(dst, codecMagic[:]...)
	dst = binary.LittleEndian.AppendUint16(dst, CodecVersion)
	dst = binary.LittleEndian.AppendUint32(dst, uint32(frame.SampleRate))
	dst = binary.LittleEndian.AppendUint16(dst, uint16(frame.Channels))
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(frame.Samples)))
	for _, s := range frame.Samples {
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(s))
	}
	return dst, nil
}

// EncodeFrame encodes frame into a new buffer.
func EncodeFrame(frame domain.AudioFrame) ([]byte, error) {
	return AppendFrame(make([]byte, 0, EncodedSize(frame)), frame)
}

// DecodeFrame parses one encoded frame. The payload length must match the
// declared value count exactly.
func DecodeFrame(data []byte) (domain.AudioFrame, error) {
	if len(data) < HeaderSize {
		return domain.AudioFrame{}, fmt.Errorf("%w: %d bytes, header needs %d", ErrTruncatedFrame, len(data), HeaderSize)
	}
	if [4]byte(data[0:4]) != codecMagic {
		return domain.AudioFrame{}, fmt.Errorf("%w: %q", ErrBadMagic, data[0:4])
	}
	if v := binary.LittleEndian.Uint16(data[4:6]); v != CodecVersion {
		return domain.AudioFrame{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, v)
	}

	sampleRate := binary.LittleEndian.Uint32(data[6:10])
	channels := binary.LittleEndian.Uint16(data[10:12])
	count := binary.LittleEndian.Uint32(data[12:16])

	payload := data[HeaderSize:]
	if uint64(len(payload)) != uint64(count)*domain.BytesPerSample {
		return domain.AudioFrame{}, fmt.Errorf("%w: declared %d values, payload holds %d bytes",
			ErrTruncatedFrame, count, len(payload))
	}

	samples := make([]float32, count)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(payload[i*domain.BytesPerSample:]))
	}

	return domain.AudioFrame{
		Samples:    samples,
		SampleRate: int(sampleRate),
		Channels:   int(channels),
	}, nil
}
