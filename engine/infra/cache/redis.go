package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/compozy/ragpipe/pkg/logger"
)

const defaultPingTimeout = 5 * time.Second

// RedisInterface is what the lock manager needs from a client.
// redis.UniversalClient satisfies it.
type RedisInterface interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
}

// Redis is the shared connection used for document locks, the change feed
// and the rate limiter store.
type Redis struct {
	client redis.UniversalClient
	log    logger.Logger
	once   sync.Once
	err    error
}

// NewRedis dials cfg.URL and verifies the server answers PING.
func NewRedis(ctx context.Context, cfg *Config) (*Redis, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("redis url is required")
	}
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing Redis URL: %w", err)
	}
	client := redis.NewClient(opt)
	timeout := cfg.PingTimeout
	if timeout <= 0 {
		timeout = defaultPingTimeout
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging Redis at %s (timeout=%s): %w", opt.Addr, timeout, err)
	}
	log := logger.FromContext(ctx).With("component", "redis")
	log.Info("Redis connection established", "addr", opt.Addr, "db", opt.DB)
	return &Redis{client: client, log: log}, nil
}

func (r *Redis) Client() redis.UniversalClient {
	return r.client
}

func (r *Redis) HealthCheck(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Close shuts down the connection. Safe to call more than once.
func (r *Redis) Close() error {
	r.once.Do(func() {
		r.err = r.client.Close()
		if r.err != nil {
			r.log.Error("Redis connection close failed", "error", r.err)
		}
	})
	return r.err
}
