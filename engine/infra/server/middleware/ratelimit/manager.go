package ratelimit

import (
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/compozy/ragpipe/engine/infra/server/router"
	"github.com/compozy/ragpipe/pkg/logger"
)

const globalScope = "global"

type routeLimiter struct {
	prefix  string
	limiter *limiter.Limiter
}

// Manager applies per client IP limits, with tighter limits on selected
// route prefixes.
type Manager struct {
	config *Config
	global *limiter.Limiter
	routes []routeLimiter
}

// NewManager builds limiters on a redis store when client is non-nil and
// on an in-memory store otherwise.
func NewManager(cfg *Config, client redis.UniversalClient) (*Manager, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	store, err := newStore(cfg, client)
	if err != nil {
		return nil, err
	}
	m := &Manager{config: cfg}
	if !cfg.GlobalRate.Disabled {
		m.global = limiter.New(store, cfg.GlobalRate.ToLimiterRate())
	}
	for prefix, rate := range cfg.RouteRates {
		if rate.Disabled {
			continue
		}
		m.routes = append(m.routes, routeLimiter{prefix: prefix, limiter: limiter.New(store, rate.ToLimiterRate())})
	}
	// longest prefix wins
	slices.SortFunc(m.routes, func(a, b routeLimiter) int {
		return len(b.prefix) - len(a.prefix)
	})
	return m, nil
}

func newStore(cfg *Config, client redis.UniversalClient) (limiter.Store, error) {
	opts := limiter.StoreOptions{Prefix: cfg.Prefix, MaxRetry: cfg.MaxRetry}
	if client == nil {
		return memory.NewStoreWithOptions(opts), nil
	}
	store, err := sredis.NewStoreWithOptions(client, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis rate limit store: %w", err)
	}
	return store, nil
}

func (m *Manager) excluded(path string) bool {
	for _, p := range m.config.ExcludedPaths {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

func (m *Manager) limiterFor(path string) (*limiter.Limiter, string) {
	for _, r := range m.routes {
		if path == r.prefix || strings.HasPrefix(path, r.prefix+"/") {
			return r.limiter, r.prefix
		}
	}
	return m.global, globalScope
}

// Middleware rejects requests over the limit with 429. Store failures let
// the request through.
func (m *Manager) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if m.excluded(path) {
			c.Next()
			return
		}
		lim, scope := m.limiterFor(path)
		if lim == nil {
			c.Next()
			return
		}
		ctx := c.Request.Context()
		res, err := lim.Get(ctx, scope+":"+c.ClientIP())
		if err != nil {
			logger.FromContext(ctx).Warn("Rate limit store unavailable", "error", err, "scope", scope)
			c.Next()
			return
		}
		if !m.config.DisableHeaders {
			c.Header("X-RateLimit-Limit", strconv.FormatInt(res.Limit, 10))
			c.Header("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
			c.Header("X-RateLimit-Reset", strconv.FormatInt(res.Reset, 10))
		}
		if res.Reached {
			IncrementBlockedRequests(ctx, scope)
			router.RespondProblemWithCode(
				c,
				http.StatusTooManyRequests,
				router.ErrRateLimitedCode,
				"rate limit exceeded, retry later",
			)
			return
		}
		c.Next()
	}
}
