package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"callbox/internal/core/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const currentSchemaVersion = 1

// Migration upgrades the keyspace under a prefix by one version.
type Migration struct {
	Version int
	Up      func(ctx context.Context, client *redis.Client, prefix string) error
}

func schemaVersionKey(prefix string) string {
	return prefix + ":schema:version"
}

// Migrate runs all pending migrations
func Migrate(ctx context.Context, client *redis.Client, prefix string, logger *zap.SugaredLogger) error {
	currentVersion, err := getSchemaVersion(ctx, client, prefix)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	if currentVersion >= currentSchemaVersion {
		logger.Debugw("schema is up to date",
			"current_version", currentVersion,
			"target_version", currentSchemaVersion,
		)
		return nil
	}

	for _, migration := range getMigrations() {
		if migration.Version <= currentVersion {
			continue
		}
		logger.Infow("running migration", "version", migration.Version)

		if err := migration.Up(ctx, client, prefix); err != nil {
			return fmt.Errorf("migration %d failed: %w", migration.Version, err)
		}
		if err := setSchemaVersion(ctx, client, prefix, migration.Version); err != nil {
			return fmt.Errorf("failed to update schema version: %w", err)
		}
	}

	logger.Infow("all migrations completed", "final_version", currentSchemaVersion)
	return nil
}

func getSchemaVersion(ctx context.Context, client *redis.Client, prefix string) (int, error) {
	val, err := client.Get(ctx, schemaVersionKey(prefix)).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}

func setSchemaVersion(ctx context.Context, client *redis.Client, prefix string, version int) error {
	return client.Set(ctx, schemaVersionKey(prefix), version, 0).Err()
}

func getMigrations() []Migration {
	return []Migration{
		{
			// Version 1 stores preferences as a hash. Earlier builds kept a
			// JSON document under the same key.
			Version: 1,
			Up: func(ctx context.Context, client *redis.Client, prefix string) error {
				key := preferencesKey(prefix)
				kind, err := client.Type(ctx, key).Result()
				if err != nil {
					return err
				}
				if kind != "string" {
					return nil
				}

				data, err := client.Get(ctx, key).Bytes()
				if err != nil {
					return err
				}
				var prefs domain.Preferences
				if err := json.Unmarshal(data, &prefs); err != nil {
					return fmt.Errorf("legacy preferences are not valid JSON: %w", err)
				}

				_, err = client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					pipe.HSet(ctx, key, preferenceFields(&prefs))
					return nil
				})
				return err
			},
		},
	}
}
