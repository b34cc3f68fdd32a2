package validation

import (
	"fmt"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
)

// MaxBroadcastNameLength bounds the advertised source name.
const MaxBroadcastNameLength = 64

// ValidateBroadcastName checks a name advertised to broadcast consumers. An
// empty name is allowed and means "use the default".
func ValidateBroadcastName(name string) error {
	if name == "" {
		return nil
	}
	if strings.TrimSpace(name) != name {
		return fmt.Errorf("broadcast name must not start or end with whitespace")
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("broadcast name contains invalid characters")
	}
	if utf8.RuneCountInString(name) > MaxBroadcastNameLength {
		return fmt.Errorf("broadcast name is too long (max %d characters)", MaxBroadcastNameLength)
	}
	for _, r := range name {
		if unicode.IsControl(r) || r == '/' {
			return fmt.Errorf("broadcast name contains invalid character %q", r)
		}
	}
	return nil
}

// ValidateGainPercent checks a master gain request.
func ValidateGainPercent(percent int) error {
	if percent < 0 || percent > 100 {
		return fmt.Errorf("gain must be within 0..100, got %d", percent)
	}
	return nil
}

// ValidatePeerID checks a peer connection id issued by the peer manager.
func ValidatePeerID(peerID string) error {
	if peerID == "" {
		return fmt.Errorf("peer ID is required")
	}
	if _, err := uuid.Parse(peerID); err != nil {
		return fmt.Errorf("invalid peer ID format")
	}
	return nil
}

// ValidateOffer checks that a session description is a non-empty offer.
func ValidateOffer(sdpType, sdp string) error {
	if webrtc.NewSDPType(sdpType) != webrtc.SDPTypeOffer {
		return fmt.Errorf("session description type must be offer, got %q", sdpType)
	}
	if !strings.HasPrefix(strings.TrimSpace(sdp), "v=0") {
		return fmt.Errorf("session description is not SDP")
	}
	return nil
}

// ValidateURL validates URL format
func ValidateURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid URL scheme (must be http, https, ws, or wss)")
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

// ValidateWebSocketURL accepts only ws and wss URLs.
func ValidateWebSocketURL(urlStr string) error {
	if err := ValidateURL(urlStr); err != nil {
		return err
	}
	if u, _ := url.Parse(urlStr); u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("websocket URL scheme must be ws or wss")
	}
	return nil
}
