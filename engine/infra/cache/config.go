package cache

import (
	"time"

	appconfig "github.com/compozy/ragpipe/pkg/config"
)

// Config carries the redis endpoint and document lock settings.
type Config struct {
	URL         string
	PingTimeout time.Duration
	// LockPrefix namespaces lock keys so collections sharing a server do not collide.
	LockPrefix        string
	LockTTL           time.Duration
	LockRetryInterval time.Duration
}

// Enabled reports whether a redis endpoint is configured.
func (c *Config) Enabled() bool {
	return c != nil && c.URL != ""
}

// FromAppConfig maps the redis section of the application configuration.
func FromAppConfig(cfg *appconfig.Config) *Config {
	if cfg == nil {
		return &Config{}
	}
	return &Config{
		URL:        cfg.Redis.URL.Value(),
		LockPrefix: cfg.Redis.LockPrefix,
		LockTTL:    cfg.Redis.LockTTL,
	}
}
