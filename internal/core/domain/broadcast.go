package domain

// ChannelState is the lifecycle state of the outbound broadcast channel.
type ChannelState int32

const (
	ChannelIdle ChannelState = iota
	ChannelStarting
	ChannelActive
	ChannelStopping
	ChannelFailed
)

func (s ChannelState) String() string {
	switch s {
	case ChannelIdle:
		return "idle"
	case ChannelStarting:
		return "starting"
	case ChannelActive:
		return "active"
	case ChannelStopping:
		return "stopping"
	case ChannelFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// BroadcastStatus is what the control surface reports. Name is nil while no
// channel is active.
type BroadcastStatus struct {
	Active bool    `json:"active"`
	Name   *string `json:"name"`
}

// SenderOptions are passed to the broadcast library when a channel is opened.
type SenderOptions struct {
	Name       string
	ClockAudio bool
	ClockVideo bool
}
