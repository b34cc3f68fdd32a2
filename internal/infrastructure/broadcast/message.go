package broadcast

import (
	"encoding/binary"
	"errors"
	"fmt"

	"callbox/internal/core/domain"
)

// MessageHeaderSize is the fixed prefix of every buffer sent to consumers:
//
//	0  fourcc        [4]byte
//	4  sample rate   uint32
//	8  channels      uint16
//	10 reserved      uint16
//	12 sample count  uint32
//	16 stride bytes  uint32
//	20 reserved      uint32
//	24 timecode      int64 (100ns units)
//
// Planar channel data follows. All integers are little-endian.
const MessageHeaderSize = 32

var ErrShortMessage = errors.New("broadcast message too short")

// EncodeMessage serialises a validated planar buffer.
func EncodeMessage(buf *domain.PlanarBuffer) []byte {
	msg := make([]byte, MessageHeaderSize+len(buf.Data))
	copy(msg[0:4], buf.FourCC[:])
	binary.LittleEndian.PutUint32(msg[4:8], uint32(buf.SampleRate))
	binary.LittleEndian.PutUint16(msg[8:10], uint16(buf.Channels))
	binary.LittleEndian.PutUint32(msg[12:16], uint32(buf.SampleCount))
	binary.LittleEndian.PutUint32(msg[16:20], uint32(buf.ChannelStrideBytes))
	binary.LittleEndian.PutUint64(msg[24:32], uint64(buf.Timecode))
	copy(msg[MessageHeaderSize:], buf.Data)
	return msg
}

// DecodeMessage parses a consumer message back into a planar buffer. Data
// aliases msg.
func DecodeMessage(msg []byte) (*domain.PlanarBuffer, error) {
	if len(msg) < MessageHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortMessage, len(msg))
	}
	buf := &domain.PlanarBuffer{
		SampleRate:         int(binary.LittleEndian.Uint32(msg[4:8])),
		Channels:           int(binary.LittleEndian.Uint16(msg[8:10])),
		SampleCount:        int(binary.LittleEndian.Uint32(msg[12:16])),
		ChannelStrideBytes: int(binary.LittleEndian.Uint32(msg[16:20])),
		Timecode:           int64(binary.LittleEndian.Uint64(msg[24:32])),
		Data:               msg[MessageHeaderSize:],
	}
	copy(buf.FourCC[:], msg[0:4])
	if err := buf.Validate(); err != nil {
		return nil, err
	}
	return buf, nil
}
