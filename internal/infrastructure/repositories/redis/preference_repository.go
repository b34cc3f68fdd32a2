package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"callbox/internal/core/domain"
	"callbox/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

const (
	fieldGainPercent      = "gain_percent"
	fieldBroadcastEnabled = "broadcast_enabled"
	fieldBroadcastName    = "broadcast_name"
	fieldCaptureEnabled   = "capture_enabled"
	fieldUpdatedAt        = "updated_at"
)

// RedisPreferenceRepository stores preferences in one hash so several hosts
// sharing a Redis can keep separate settings under different prefixes.
type RedisPreferenceRepository struct {
	client *redis.Client
	prefix string
}

func NewRedisPreferenceRepository(client *redis.Client, prefix string) ports.PreferenceRepository {
	return &RedisPreferenceRepository{
		client: client,
		prefix: prefix,
	}
}

func preferencesKey(prefix string) string {
	return prefix + ":preferences"
}

func preferenceFields(prefs *domain.Preferences) map[string]interface{} {
	fields := map[string]interface{}{
		fieldGainPercent:      prefs.GainPercent,
		fieldBroadcastEnabled: strconv.FormatBool(prefs.BroadcastEnabled),
		fieldBroadcastName:    prefs.BroadcastName,
		fieldUpdatedAt:        prefs.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if prefs.CaptureEnabled != nil {
		fields[fieldCaptureEnabled] = strconv.FormatBool(*prefs.CaptureEnabled)
	}
	return fields
}

func (r *RedisPreferenceRepository) Get(ctx context.Context) (*domain.Preferences, error) {
	values, err := r.client.HGetAll(ctx, preferencesKey(r.prefix)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get preferences from Redis: %w", err)
	}
	if len(values) == 0 {
		return nil, domain.ErrPreferencesNotFound
	}
	return parsePreferences(values)
}

func (r *RedisPreferenceRepository) Save(ctx context.Context, prefs *domain.Preferences) error {
	if err := r.client.HSet(ctx, preferencesKey(r.prefix), preferenceFields(prefs)).Err(); err != nil {
		return fmt.Errorf("failed to save preferences to Redis: %w", err)
	}
	return nil
}

func parsePreferences(values map[string]string) (*domain.Preferences, error) {
	prefs := domain.DefaultPreferences("")

	if v, ok := values[fieldGainPercent]; ok {
		gain, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", fieldGainPercent, v, err)
		}
		prefs.GainPercent = gain
	}
	if v, ok := values[fieldBroadcastEnabled]; ok {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", fieldBroadcastEnabled, v, err)
		}
		prefs.BroadcastEnabled = enabled
	}
	if v, ok := values[fieldCaptureEnabled]; ok {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", fieldCaptureEnabled, v, err)
		}
		prefs.CaptureEnabled = &enabled
	}
	prefs.BroadcastName = values[fieldBroadcastName]
	if v, ok := values[fieldUpdatedAt]; ok && v != "" {
		updatedAt, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", fieldUpdatedAt, v, err)
		}
		prefs.UpdatedAt = updatedAt
	}
	return &prefs, nil
}
