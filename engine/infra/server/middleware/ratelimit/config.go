package ratelimit

import (
	"fmt"
	"time"

	"github.com/ulule/limiter/v3"

	appconfig "github.com/compozy/ragpipe/pkg/config"
)

// Config represents rate limiting configuration
type Config struct {
	// Default limit applied per client IP
	GlobalRate RateConfig

	// Per-route limits keyed by path prefix
	RouteRates map[string]RateConfig

	// Key prefix of the redis store
	Prefix   string
	MaxRetry int

	DisableHeaders bool

	// Paths never limited
	ExcludedPaths []string
}

// RateConfig represents a single rate limit configuration
type RateConfig struct {
	Period   time.Duration
	Limit    int64
	Disabled bool
}

// DefaultConfig returns default rate limiting configuration
func DefaultConfig() *Config {
	return &Config{
		GlobalRate: RateConfig{Limit: 120, Period: time.Minute},
		RouteRates: map[string]RateConfig{
			// generation holds an Ollama slot for the whole answer
			"/api/v1/ask": {Limit: 30, Period: time.Minute},
			"/api/v1/documents": {Limit: 20, Period: time.Minute},
		},
		Prefix:   "ragpipe:ratelimit:",
		MaxRetry: 3,
		ExcludedPaths: []string{
			"/healthz",
			"/metrics",
		},
	}
}

// FromAppConfig maps the server rate limit settings onto Config.
func FromAppConfig(cfg *appconfig.Config) *Config {
	out := DefaultConfig()
	if cfg == nil {
		return out
	}
	rl := cfg.Server.RateLimit
	period := rl.Period
	if period <= 0 {
		period = time.Minute
	}
	if rl.Limit > 0 {
		out.GlobalRate = RateConfig{Limit: rl.Limit, Period: period}
	}
	if rl.AskLimit > 0 {
		out.RouteRates["/api/v1/ask"] = RateConfig{Limit: rl.AskLimit, Period: period}
	}
	if rl.UploadLimit > 0 {
		out.RouteRates["/api/v1/documents"] = RateConfig{Limit: rl.UploadLimit, Period: period}
	}
	if monitoring := cfg.Monitoring.Path; monitoring != "" && monitoring != "/metrics" {
		out.ExcludedPaths = append(out.ExcludedPaths, monitoring)
	}
	return out
}

// ToLimiterRate converts RateConfig to limiter.Rate
func (rc RateConfig) ToLimiterRate() limiter.Rate {
	return limiter.Rate{
		Period: rc.Period,
		Limit:  rc.Limit,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.GlobalRate.Limit <= 0 {
		return fmt.Errorf("global rate limit must be positive")
	}
	if c.GlobalRate.Period <= 0 {
		return fmt.Errorf("global rate period must be positive")
	}
	for route, rate := range c.RouteRates {
		if rate.Limit <= 0 {
			return fmt.Errorf("route rate limit for %s must be positive", route)
		}
		if rate.Period <= 0 {
			return fmt.Errorf("route rate period for %s must be positive", route)
		}
	}
	return nil
}
