package cache

import (
	"context"
	"fmt"
)

// Cache bundles the redis connection with the lock manager built on it.
type Cache struct {
	Redis       *Redis
	LockManager LockManager
}

// SetupCache connects to redis and prepares distributed locking.
func SetupCache(ctx context.Context, config *Config) (*Cache, error) {
	if config == nil {
		return nil, fmt.Errorf("cache config cannot be nil")
	}
	redis, err := NewRedis(ctx, config)
	if err != nil {
		return nil, err
	}
	lockManager, err := NewRedisLockManager(redis.Client(), config)
	if err != nil {
		_ = redis.Close()
		return nil, err
	}
	return &Cache{Redis: redis, LockManager: lockManager}, nil
}

func (c *Cache) Close() error {
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			return fmt.Errorf("failed to close Redis: %w", err)
		}
	}
	return nil
}

func (c *Cache) HealthCheck(ctx context.Context) error {
	if c.Redis != nil {
		return c.Redis.HealthCheck(ctx)
	}
	return nil
}
