package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/prperemyshlev/session-service/pkg/database"
	"github.com/redis/go-redis/v9"
)

// keyValueRepository implements KeyValueRepository on Redis. Keys are
// namespaced per device so one Redis can back several agents.
type keyValueRepository struct {
	redis    *database.Redis
	deviceID string
}

// NewKeyValueRepository creates a new key/value repository
func NewKeyValueRepository(redis *database.Redis, deviceID string) KeyValueRepository {
	return &keyValueRepository{redis: redis, deviceID: deviceID}
}

func (r *keyValueRepository) key(k string) string {
	return fmt.Sprintf("device:%s:%s", r.deviceID, k)
}

// Get retrieves a value by key
func (r *keyValueRepository) Get(ctx context.Context, key string) (string, error) {
	value, err := r.redis.Client.Get(ctx, r.key(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", fmt.Errorf("key %s not found: %w", key, ErrNotFound)
		}
		return "", fmt.Errorf("failed to get key %s: %w", key, err)
	}
	return value, nil
}

// Set overwrites a key unconditionally
func (r *keyValueRepository) Set(ctx context.Context, key, value string) error {
	if err := r.redis.Client.Set(ctx, r.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	return nil
}

// RemoveMany deletes all keys in a single command
func (r *keyValueRepository) RemoveMany(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	namespaced := make([]string, len(keys))
	for i, k := range keys {
		namespaced[i] = r.key(k)
	}

	if err := r.redis.Client.Del(ctx, namespaced...).Err(); err != nil {
		return fmt.Errorf("failed to remove keys: %w", err)
	}
	return nil
}
