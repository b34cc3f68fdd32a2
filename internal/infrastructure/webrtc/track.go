package webrtc

import (
	"io"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
)

// RemoteTrack is the slice of an inbound pion track the capture side needs.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
	ReadPacket() (*rtp.Packet, error)
	ReadControl() ([]rtcp.Packet, error)
}

// pionTrack adapts a negotiated track and its receiver to RemoteTrack.
type pionTrack struct {
	track    *webrtc.TrackRemote
	receiver *webrtc.RTPReceiver
}

func newPionTrack(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) *pionTrack {
	return &pionTrack{track: track, receiver: receiver}
}

func (t *pionTrack) ID() string                { return t.track.ID() }
func (t *pionTrack) StreamID() string          { return t.track.StreamID() }
func (t *pionTrack) Kind() webrtc.RTPCodecType { return t.track.Kind() }

func (t *pionTrack) ReadPacket() (*rtp.Packet, error) {
	pkt, _, err := t.track.ReadRTP()
	return pkt, err
}

func (t *pionTrack) ReadControl() ([]rtcp.Packet, error) {
	if t.receiver == nil {
		return nil, io.EOF
	}
	pkts, _, err := t.receiver.ReadRTCP()
	return pkts, err
}

// drainTrack discards media from a track nobody captures so the receiver's
// buffers never fill.
func drainTrack(track RemoteTrack) {
	for {
		if _, err := track.ReadPacket(); err != nil {
			return
		}
	}
}
