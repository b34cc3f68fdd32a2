package memory

import (
	"context"
	"sync"

	"callbox/internal/core/domain"
	"callbox/internal/core/ports"
)

// MemoryPreferenceRepository keeps preferences for the life of the process.
type MemoryPreferenceRepository struct {
	prefs *domain.Preferences
	mu    sync.RWMutex
}

func NewMemoryPreferenceRepository() ports.PreferenceRepository {
	return &MemoryPreferenceRepository{}
}

func (r *MemoryPreferenceRepository) Get(ctx context.Context) (*domain.Preferences, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.prefs == nil {
		return nil, domain.ErrPreferencesNotFound
	}
	prefs := *r.prefs
	return &prefs, nil
}

func (r *MemoryPreferenceRepository) Save(ctx context.Context, prefs *domain.Preferences) error {
	stored := *prefs

	r.mu.Lock()
	r.prefs = &stored
	r.mu.Unlock()
	return nil
}
