package monitoring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"callbox/internal/core/domain"
	"callbox/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// AddRedisCheck pings Redis. It is optional: preferences keep being served
// from the last known copy while Redis is down.
func (h *HealthChecker) AddRedisCheck(client *redis.Client, timeout time.Duration) {
	h.AddOptionalCheck("redis", func(ctx context.Context) (bool, error) {
		if err := client.Ping(ctx).Err(); err != nil {
			return false, err
		}
		return true, nil
	}, timeout)
}

// AddPreferenceCheck verifies the preference store answers. An empty store is
// healthy.
func (h *HealthChecker) AddPreferenceCheck(repo ports.PreferenceRepository, timeout time.Duration) {
	h.AddCheck("preferences", func(ctx context.Context) (bool, error) {
		if _, err := repo.Get(ctx); err != nil && !errors.Is(err, domain.ErrPreferencesNotFound) {
			return false, err
		}
		return true, nil
	}, timeout)
}

// AddCaptureCheck fails once the capture graph could not be built.
func (h *HealthChecker) AddCaptureCheck(capture ports.CaptureService) {
	h.AddCheck("capture", func(ctx context.Context) (bool, error) {
		if status := capture.Status(); status.Error != "" {
			return false, fmt.Errorf("%w: %s", domain.ErrCaptureUnavailable, status.Error)
		}
		return true, nil
	}, 0)
}

// IsReady is false only while a critical check fails.
func (h *HealthChecker) IsReady(ctx context.Context) bool {
	return h.CheckAll(ctx).Status != StatusUnhealthy
}
