package ports

import (
	"context"

	"callbox/internal/core/domain"
)

type PreferenceRepository interface {
	Get(ctx context.Context) (*domain.Preferences, error)
	Save(ctx context.Context, prefs *domain.Preferences) error
}
