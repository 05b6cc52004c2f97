package postgres

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	defaultMaxConns           = 10
	defaultHealthCheckPeriod  = 30 * time.Second
	defaultConnectTimeout     = 5 * time.Second
	defaultPingTimeout        = 3 * time.Second
	defaultHealthCheckTimeout = time.Second
	defaultPoolLabel          = "default"
)

// Config holds the pgvector connection settings. Zero durations and counts
// fall back to package defaults.
type Config struct {
	ConnString string
	// Label names the pool in metrics.
	Label              string
	MaxConns           int
	MinConns           int
	ConnectTimeout     time.Duration
	PingTimeout        time.Duration
	HealthCheckPeriod  time.Duration
	HealthCheckTimeout time.Duration
	ConnMaxLifetime    time.Duration
	ConnMaxIdleTime    time.Duration
}

func orDefault(v, def time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return def
}

func (c *Config) poolConfig() (*pgxpool.Config, error) {
	pc, err := pgxpool.ParseConfig(c.ConnString)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	pc.MaxConns = toInt32(c.MaxConns, defaultMaxConns)
	pc.MinConns = min(toInt32(c.MinConns, 0), pc.MaxConns)
	pc.HealthCheckPeriod = orDefault(c.HealthCheckPeriod, defaultHealthCheckPeriod)
	pc.ConnConfig.ConnectTimeout = orDefault(c.ConnectTimeout, defaultConnectTimeout)
	pc.MaxConnLifetime = orDefault(c.ConnMaxLifetime, pc.MaxConnLifetime)
	pc.MaxConnIdleTime = orDefault(c.ConnMaxIdleTime, pc.MaxConnIdleTime)
	return pc, nil
}

// label is the explicit Label, else host-database.
func (c *Config) label(pc *pgxpool.Config) string {
	if l := labelSafe(c.Label); l != "" {
		return l
	}
	var parts []string
	for _, raw := range []string{pc.ConnConfig.Host, pc.ConnConfig.Database} {
		if s := labelSafe(raw); s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return defaultPoolLabel
	}
	return strings.Join(parts, "-")
}

func labelSafe(s string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '.', r == ':':
			return r
		}
		return '_'
	}, strings.ToLower(strings.TrimSpace(s)))
	return strings.Trim(mapped, "_")
}

func toInt32(v int, fallback int32) int32 {
	switch {
	case v <= 0:
		return fallback
	case v > math.MaxInt32:
		return math.MaxInt32
	}
	return int32(v)
}
