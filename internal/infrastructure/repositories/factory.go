package repositories

import (
	"context"
	"time"

	"callbox/internal/core/ports"
	"callbox/internal/infrastructure/monitoring"
	"callbox/internal/infrastructure/repositories/memory"
	redisrepo "callbox/internal/infrastructure/repositories/redis"
	"callbox/pkg/circuitbreaker"
	"callbox/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RepositoryFactory creates repositories with fallback support
type RepositoryFactory struct {
	useRedis    bool
	redisClient *redis.Client
	keyPrefix   string
	logger      *zap.SugaredLogger
}

// NewRepositoryFactory connects to Redis when enabled and falls back to
// in-memory storage when it cannot.
func NewRepositoryFactory(cfg *config.Config, logger *zap.SugaredLogger) *RepositoryFactory {
	factory := &RepositoryFactory{
		useRedis:  cfg.Redis.Enabled,
		keyPrefix: cfg.Redis.KeyPrefix,
		logger:    logger,
	}

	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(redisrepo.ClientConfig{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			PoolSize:  cfg.Redis.PoolSize,
			KeyPrefix: cfg.Redis.KeyPrefix,
		}, logger)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory repositories",
				"error", err,
			)
			factory.useRedis = false
		} else {
			factory.redisClient = client
			logger.Info("using Redis repositories")
		}
	}

	if !factory.useRedis {
		logger.Info("using memory repositories")
	}

	return factory
}

// CreatePreferenceRepository creates a preference repository (Redis or memory with fallback)
func (f *RepositoryFactory) CreatePreferenceRepository() ports.PreferenceRepository {
	if f.useRedis && f.redisClient != nil {
		return NewResilientPreferenceRepository(
			redisrepo.NewRedisPreferenceRepository(f.redisClient, f.keyPrefix),
			"redis",
			circuitbreaker.DefaultConfig(),
			f.logger,
		)
	}
	return memory.NewMemoryPreferenceRepository()
}

func (f *RepositoryFactory) UsesRedis() bool {
	return f.useRedis && f.redisClient != nil
}

// RegisterHealthChecks adds the storage checks to checker.
func (f *RepositoryFactory) RegisterHealthChecks(checker *monitoring.HealthChecker, repo ports.PreferenceRepository, timeout time.Duration) {
	if f.UsesRedis() {
		checker.AddRedisCheck(f.redisClient, timeout)
	}
	checker.AddPreferenceCheck(repo, timeout)
}

// HealthCheck checks Redis connection health
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.UsesRedis() {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}

// Close closes Redis connection if used
func (f *RepositoryFactory) Close() error {
	if f.redisClient != nil {
		return f.redisClient.Close()
	}
	return nil
}
