package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"callbox/internal/core/domain"
	"callbox/internal/core/ports"

	"go.uber.org/zap"
)

// ControlService is the control surface used by the HTTP layer. It forwards
// to the broadcast sender and the capture graph and persists the settings
// that must survive a restart. Either side may be nil when the process only
// hosts one execution domain.
type ControlService struct {
	broadcast   ports.BroadcastService
	capture     ports.CaptureService
	prefs       ports.PreferenceRepository
	defaultName string
	logger      *zap.SugaredLogger

	// captureOnBoot enables capture at Restore unless a stored preference
	// says otherwise.
	captureOnBoot bool

	mu sync.Mutex
}

func NewControlService(
	broadcast ports.BroadcastService,
	capture ports.CaptureService,
	prefs ports.PreferenceRepository,
	defaultName string,
	captureOnBoot bool,
	logger *zap.SugaredLogger,
) *ControlService {
	return &ControlService{
		broadcast:     broadcast,
		capture:       capture,
		prefs:         prefs,
		defaultName:   defaultName,
		captureOnBoot: captureOnBoot,
		logger:        logger,
	}
}

// Restore applies persisted preferences: the gain is pushed to the capture
// graph, capture is enabled unless it was switched off, and the broadcast is
// restarted if it was running at shutdown. When the store cannot be read the
// boot configuration still decides whether capture runs.
func (s *ControlService) Restore(ctx context.Context) error {
	prefs, err := s.loadPreferences(ctx)
	if err != nil {
		s.restoreCapture(nil)
		return err
	}

	if s.capture != nil {
		s.capture.SetGain(prefs.GainPercent)
	}
	s.restoreCapture(prefs.CaptureEnabled)

	if prefs.BroadcastEnabled && s.broadcast != nil {
		if !s.broadcast.Start(ctx, prefs.BroadcastName) {
			s.logger.Warnw("failed to restore broadcast", "name", prefs.BroadcastName)
		}
	}

	s.logger.Infow("preferences restored",
		"gain_percent", prefs.GainPercent,
		"broadcast_enabled", prefs.BroadcastEnabled,
		"broadcast_name", prefs.BroadcastName,
		"capture_enabled", s.capture != nil && s.capture.Status().Enabled,
	)
	return nil
}

func (s *ControlService) restoreCapture(stored *bool) {
	if s.capture == nil {
		return
	}
	enabled := s.captureOnBoot
	if stored != nil {
		enabled = *stored
	}
	if !enabled {
		return
	}
	if err := s.capture.Enable(); err != nil {
		s.logger.Errorw("failed to enable capture", "error", err)
	}
}

func (s *ControlService) StartBroadcast(ctx context.Context, name string) bool {
	if s.broadcast == nil {
		return false
	}
	if !s.broadcast.Start(ctx, name) {
		return false
	}

	status := s.broadcast.Status()
	s.updatePreferences(ctx, func(p *domain.Preferences) {
		p.BroadcastEnabled = true
		if status.Name != nil {
			p.BroadcastName = *status.Name
		}
	})
	return true
}

func (s *ControlService) StopBroadcast(ctx context.Context) {
	if s.broadcast == nil {
		return
	}
	s.broadcast.Stop()
	s.updatePreferences(ctx, func(p *domain.Preferences) {
		p.BroadcastEnabled = false
	})
}

func (s *ControlService) BroadcastStatus() domain.BroadcastStatus {
	if s.broadcast == nil {
		return domain.BroadcastStatus{}
	}
	return s.broadcast.Status()
}

// SetGain clamps percent to 0..100, applies it and persists it.
func (s *ControlService) SetGain(ctx context.Context, percent int) error {
	if s.capture == nil {
		return domain.ErrCaptureUnavailable
	}
	if percent < 0 {
		percent = 0
	} else if percent > 100 {
		percent = 100
	}

	s.capture.SetGain(percent)
	s.updatePreferences(ctx, func(p *domain.Preferences) {
		p.GainPercent = percent
	})
	return nil
}

// EnableCapture enables the graph and remembers it for the next start.
func (s *ControlService) EnableCapture(ctx context.Context) error {
	if s.capture == nil {
		return domain.ErrCaptureUnavailable
	}
	if err := s.capture.Enable(); err != nil {
		return err
	}
	s.persistCapture(ctx, true)
	return nil
}

func (s *ControlService) DisableCapture(ctx context.Context) error {
	if s.capture == nil {
		return domain.ErrCaptureUnavailable
	}
	s.capture.Disable()
	s.persistCapture(ctx, false)
	return nil
}

func (s *ControlService) persistCapture(ctx context.Context, enabled bool) {
	s.updatePreferences(ctx, func(p *domain.Preferences) {
		p.CaptureEnabled = &enabled
	})
}

func (s *ControlService) CaptureStatus() (domain.CaptureStatus, error) {
	if s.capture == nil {
		return domain.CaptureStatus{}, domain.ErrCaptureUnavailable
	}
	return s.capture.Status(), nil
}

// HasBroadcast reports whether this process hosts the broadcast sender.
func (s *ControlService) HasBroadcast() bool {
	return s.broadcast != nil
}

// HasCapture reports whether this process hosts the capture graph.
func (s *ControlService) HasCapture() bool {
	return s.capture != nil
}

func (s *ControlService) loadPreferences(ctx context.Context) (*domain.Preferences, error) {
	prefs, err := s.prefs.Get(ctx)
	if errors.Is(err, domain.ErrPreferencesNotFound) {
		defaults := domain.DefaultPreferences(s.defaultName)
		return &defaults, nil
	}
	if err != nil {
		return nil, err
	}
	if prefs.BroadcastName == "" {
		prefs.BroadcastName = s.defaultName
	}
	return prefs, nil
}

// updatePreferences performs a read-modify-write of the stored preferences.
// Persistence failures are logged; the runtime change has already happened.
func (s *ControlService) updatePreferences(ctx context.Context, mutate func(*domain.Preferences)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefs, err := s.loadPreferences(ctx)
	if err != nil {
		s.logger.Warnw("failed to load preferences", "error", err)
		return
	}

	mutate(prefs)
	prefs.UpdatedAt = time.Now()

	if err := s.prefs.Save(ctx, prefs); err != nil {
		s.logger.Warnw("failed to save preferences", "error", err)
	}
}
