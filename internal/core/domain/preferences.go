package domain

import "time"

// Preferences is the persisted runtime configuration restored at startup.
// CaptureEnabled stays nil until capture is toggled through the control API;
// until then the boot configuration decides.
type Preferences struct {
	GainPercent      int       `json:"gain_percent"`
	BroadcastEnabled bool      `json:"broadcast_enabled"`
	BroadcastName    string    `json:"broadcast_name"`
	CaptureEnabled   *bool     `json:"capture_enabled,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// DefaultPreferences returns full gain with the broadcast disabled.
func DefaultPreferences(name string) Preferences {
	return Preferences{
		GainPercent:   100,
		BroadcastName: name,
	}
}
