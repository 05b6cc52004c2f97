package sqlite

import (
	"fmt"
	"strings"
	"time"
)

const (
	memoryPath         = ":memory:"
	defaultBusyTimeout = 5 * time.Second
	defaultMaxOpen     = 4
)

// Config locates the chunk database.
type Config struct {
	Path         string
	MaxOpenConns int
	BusyTimeout  time.Duration
}

func (c Config) inMemory() bool { return c.Path == memoryPath }

// normalized validates c and fills zero values.
func (c *Config) normalized() (Config, error) {
	if c == nil || strings.TrimSpace(c.Path) == "" {
		return Config{}, fmt.Errorf("sqlite: path is required")
	}
	out := *c
	if out.BusyTimeout <= 0 {
		out.BusyTimeout = defaultBusyTimeout
	}
	switch {
	case out.inMemory():
		// each :memory: connection is its own database
		out.MaxOpenConns = 1
	case out.MaxOpenConns <= 0:
		out.MaxOpenConns = defaultMaxOpen
	}
	return out, nil
}
