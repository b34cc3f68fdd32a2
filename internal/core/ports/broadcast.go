package ports

import (
	"context"

	"callbox/internal/core/domain"
)

// BroadcastHandle is an open channel in the broadcast library.
type BroadcastHandle interface {
	SendAudio(buf *domain.PlanarBuffer) error
	Close() error
}

// BroadcastLibrary opens outbound broadcast channels.
type BroadcastLibrary interface {
	Open(ctx context.Context, opts domain.SenderOptions) (BroadcastHandle, error)
}

// BroadcastService is the control contract of the broadcast sender.
type BroadcastService interface {
	Start(ctx context.Context, name string) bool
	Stop()
	Send(frame domain.AudioFrame)
	Status() domain.BroadcastStatus
}
