package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/compozy/ragpipe/pkg/logger"
)

const (
	DefaultLockTTL           = 5 * time.Minute
	DefaultLockRetryInterval = 50 * time.Millisecond
)

// Deletes the key only while it still carries the caller's token.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// Extends the key's expiry only while it still carries the caller's token.
const refreshScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`

// LockManager hands out exclusive, expiring locks on named resources.
type LockManager interface {
	Acquire(ctx context.Context, resource string, ttl time.Duration) (Lock, error)
}

// Lock is a held lock.
type Lock interface {
	Resource() string
	Release(ctx context.Context) error
	Refresh(ctx context.Context) error
}

// RedisLockManager implements LockManager with SET NX PX and token checked scripts.
type RedisLockManager struct {
	client        RedisInterface
	prefix        string
	defaultTTL    time.Duration
	retryInterval time.Duration
}

type redisLock struct {
	client   RedisInterface
	resource string
	key      string
	token    string
	ttl      time.Duration
}

// NewRedisLockManager builds a lock manager over client. Zero values in cfg
// select the defaults.
func NewRedisLockManager(client RedisInterface, cfg *Config) (*RedisLockManager, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	m := &RedisLockManager{
		client:        client,
		defaultTTL:    DefaultLockTTL,
		retryInterval: DefaultLockRetryInterval,
	}
	if cfg != nil {
		m.prefix = cfg.LockPrefix
		if cfg.LockTTL > 0 {
			m.defaultTTL = cfg.LockTTL
		}
		if cfg.LockRetryInterval > 0 {
			m.retryInterval = cfg.LockRetryInterval
		}
	}
	return m, nil
}

// Acquire blocks until the resource is free or ctx ends. A non-positive ttl
// selects the manager default.
func (m *RedisLockManager) Acquire(ctx context.Context, resource string, ttl time.Duration) (Lock, error) {
	if resource == "" {
		return nil, fmt.Errorf("lock resource cannot be empty")
	}
	if ttl <= 0 {
		ttl = m.defaultTTL
	}
	key := m.prefix + resource
	token := uuid.NewString()
	start := time.Now()
	ticker := time.NewTicker(m.retryInterval)
	defer ticker.Stop()
	for {
		ok, err := m.client.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			recordLockAcquire(ctx, "error", time.Since(start))
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("%w: %s: %w", ErrLockNotAcquired, resource, ctxErr)
			}
			return nil, fmt.Errorf("acquiring lock %s: %w", resource, err)
		}
		if ok {
			recordLockAcquire(ctx, "acquired", time.Since(start))
			logger.FromContext(ctx).Debug("Lock acquired", "resource", resource, "ttl", ttl)
			return &redisLock{client: m.client, resource: resource, key: key, token: token, ttl: ttl}, nil
		}
		select {
		case <-ctx.Done():
			recordLockAcquire(ctx, "timeout", time.Since(start))
			return nil, fmt.Errorf("%w: %s: %w", ErrLockNotAcquired, resource, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (l *redisLock) Resource() string {
	return l.resource
}

func (l *redisLock) Release(ctx context.Context) error {
	res, err := l.client.Eval(ctx, releaseScript, []string{l.key}, l.token).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("releasing lock %s: %w", l.resource, err)
	}
	if res == 0 {
		return fmt.Errorf("%w: %s", ErrLockNotHeld, l.resource)
	}
	return nil
}

func (l *redisLock) Refresh(ctx context.Context) error {
	res, err := l.client.Eval(ctx, refreshScript, []string{l.key}, l.token, l.ttl.Milliseconds()).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("refreshing lock %s: %w", l.resource, err)
	}
	if res == 0 {
		return fmt.Errorf("%w: %s", ErrLockNotHeld, l.resource)
	}
	return nil
}
