package ports

import "callbox/internal/core/domain"

// MediaSource is one inbound audio-bearing stream. Read copies up to len(dst)
// interleaved stereo samples into dst and returns how many were copied. It
// never blocks; an underrun simply yields fewer samples.
type MediaSource interface {
	ID() domain.StreamID
	Read(dst []float32) int
	Close() error
}

// SourceRouter receives streams discovered by the interceptor.
type SourceRouter interface {
	Route(src MediaSource)
	Unroute(id domain.StreamID)
}

// FrameSink is the sending side of the frame transport. Send never blocks
// and reports nothing; undeliverable frames are dropped.
type FrameSink interface {
	Send(frame domain.AudioFrame)
}

// CaptureService is the control contract of the capture graph.
type CaptureService interface {
	Enable() error
	Disable()
	SetGain(percent int)
	Status() domain.CaptureStatus
}
