package domain

import "errors"

var (
	ErrCaptureUnavailable  = errors.New("capture unavailable")
	ErrChannelClosed       = errors.New("broadcast channel closed")
	ErrChannelExists       = errors.New("broadcast channel already exists")
	ErrLayoutMismatch      = errors.New("planar layout mismatch")
	ErrInvalidFrame        = errors.New("invalid audio frame")
	ErrPeerNotFound        = errors.New("peer not found")
	ErrPreferencesNotFound = errors.New("preferences not found")
)
