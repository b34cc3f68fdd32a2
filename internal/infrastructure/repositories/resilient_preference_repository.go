package repositories

import (
	"context"
	"errors"

	"callbox/internal/core/domain"
	"callbox/internal/core/ports"
	"callbox/internal/infrastructure/repositories/memory"
	"callbox/pkg/circuitbreaker"
	"callbox/pkg/tracing"

	"go.uber.org/zap"
)

// ResilientPreferenceRepository guards a remote store with a circuit breaker.
// Every successful read or write is mirrored in memory, and that copy is
// served while the remote store is failing.
type ResilientPreferenceRepository struct {
	remote  ports.PreferenceRepository
	local   ports.PreferenceRepository
	breaker *circuitbreaker.Breaker
	backend string
	logger  *zap.SugaredLogger
}

func NewResilientPreferenceRepository(
	remote ports.PreferenceRepository,
	backend string,
	cfg circuitbreaker.Config,
	logger *zap.SugaredLogger,
) *ResilientPreferenceRepository {
	breaker := circuitbreaker.New(cfg)
	breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Warnw("preference store circuit changed",
			"backend", backend,
			"from", from.String(),
			"to", to.String(),
		)
	})

	return &ResilientPreferenceRepository{
		remote:  remote,
		local:   memory.NewMemoryPreferenceRepository(),
		breaker: breaker,
		backend: backend,
		logger:  logger,
	}
}

func (r *ResilientPreferenceRepository) Get(ctx context.Context) (*domain.Preferences, error) {
	ctx, span := tracing.TraceRepositoryOperation(ctx, "get_preferences", r.backend)
	defer span.End()

	// A missing document is an answer, not a failure of the store.
	notFound := false
	prefs, err := circuitbreaker.Call(r.breaker, func() (*domain.Preferences, error) {
		p, err := r.remote.Get(ctx)
		if errors.Is(err, domain.ErrPreferencesNotFound) {
			notFound = true
			return nil, nil
		}
		return p, err
	})
	if notFound {
		return nil, domain.ErrPreferencesNotFound
	}
	if err == nil {
		_ = r.local.Save(ctx, prefs)
		return prefs, nil
	}

	tracing.RecordError(ctx, err)
	cached, cacheErr := r.local.Get(ctx)
	if cacheErr != nil {
		return nil, err
	}
	r.logger.Warnw("preference store unavailable, serving last known preferences",
		"backend", r.backend,
		"error", err,
	)
	return cached, nil
}

func (r *ResilientPreferenceRepository) Save(ctx context.Context, prefs *domain.Preferences) error {
	ctx, span := tracing.TraceRepositoryOperation(ctx, "save_preferences", r.backend)
	defer span.End()

	_ = r.local.Save(ctx, prefs)

	err := r.breaker.Do(func() error {
		return r.remote.Save(ctx, prefs)
	})
	if err != nil {
		tracing.RecordError(ctx, err)
	}
	return err
}

func (r *ResilientPreferenceRepository) State() circuitbreaker.State {
	return r.breaker.State()
}
