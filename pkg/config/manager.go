package config

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// Manager holds the configuration a command runs with and the sources it
// was loaded from.
type Manager struct {
	Service Service

	current atomic.Pointer[Config]
	mu      sync.Mutex
	sources []Source
}

// NewManager wraps service; a nil service gets the default loader.
func NewManager(service Service) *Manager {
	if service == nil {
		service = NewService()
	}
	return &Manager{Service: service}
}

// Load reads sources and makes the result current. On error the previous
// configuration stays current.
func (m *Manager) Load(ctx context.Context, sources ...Source) (*Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, err := m.Service.Load(ctx, sources...)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	m.sources = append(m.sources, sources...)
	m.current.Store(cfg)
	return cfg, nil
}

// Get returns the current configuration, nil before the first Load.
func (m *Manager) Get() *Config {
	if m == nil {
		return nil
	}
	return m.current.Load()
}

// Close releases every source loaded so far.
func (m *Manager) Close() error {
	m.mu.Lock()
	sources := m.sources
	m.sources = nil
	m.mu.Unlock()
	var errs []error
	for _, s := range sources {
		if s == nil {
			continue
		}
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
