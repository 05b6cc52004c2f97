package monitoring

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/compozy/ragpipe/engine/infra/server/routes"
	appconfig "github.com/compozy/ragpipe/pkg/config"
)

const defaultPath = "/metrics"

// Config controls the Prometheus exporter endpoint.
type Config struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path"    yaml:"path"`
}

func DefaultConfig() *Config {
	return &Config{Path: defaultPath}
}

// FromAppConfig extracts the monitoring section of the application configuration.
func FromAppConfig(cfg *appconfig.Config) *Config {
	if cfg == nil {
		return DefaultConfig()
	}
	return &Config{Enabled: cfg.Monitoring.Enabled, Path: cfg.Monitoring.Path}
}

// Validate rejects paths that are not plain absolute paths or that would
// shadow an API or health route.
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.Path, "/") {
		return fmt.Errorf("monitoring path must start with '/': got %q", c.Path)
	}
	u, err := url.Parse(c.Path)
	if err != nil || u.RawQuery != "" || u.Fragment != "" || strings.ContainsAny(c.Path, "?#") {
		return fmt.Errorf("monitoring path must be a plain path: got %q", c.Path)
	}
	for _, reserved := range []string{routes.Base(), "/api", routes.Health()} {
		if c.Path == reserved || strings.HasPrefix(c.Path, reserved+"/") {
			return fmt.Errorf("monitoring path %q collides with %s", c.Path, reserved)
		}
	}
	return nil
}
