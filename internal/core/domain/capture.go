package domain

type StreamID string
type TrackID string

// TrackKindAudio is the kind string of audio-bearing tracks.
const TrackKindAudio = "audio"

// CaptureStatus describes the capture graph as seen by the control surface.
type CaptureStatus struct {
	Enabled     bool   `json:"enabled"`
	Registered  int    `json:"registered"`
	Connected   int    `json:"connected"`
	GainPercent int    `json:"gain_percent"`
	Error       string `json:"error,omitempty"`
}
