package vectordb

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	appconfig "github.com/compozy/ragpipe/pkg/config"
)

var (
	errMissingProvider   = errors.New("vector_db provider is required")
	errMissingCollection = errors.New("vector_db collection is required")
	errMissingDSN        = errors.New("vector_db dsn is required")
	errMissingPath       = errors.New("vector_db path is required")
	errInvalidDimension  = errors.New("vector_db dimension must be greater than zero")
)

// New instantiates an instrumented vector store for the requested provider.
func New(ctx context.Context, cfg *Config) (Store, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return instantiateStore(ctx, cfg)
}

func instantiateStore(ctx context.Context, cfg *Config) (Store, error) {
	var (
		store Store
		err   error
	)
	switch cfg.Provider {
	case ProviderMemory:
		store = newMemStore(cfg)
	case ProviderFilesystem:
		store, err = newFileStore(cfg)
	case ProviderSQLite:
		store, err = newSQLiteStore(ctx, cfg)
	case ProviderPGVector:
		store, err = newPGStore(ctx, cfg)
	case ProviderQdrant:
		store, err = newQdrantStore(ctx, cfg)
	case ProviderRedis:
		store, err = newRedisStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("vector_db %q: provider %q is not supported", cfg.ID, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return instrument(store, cfg), nil
}

func validateConfig(cfg *Config) error {
	if cfg == nil {
		return errors.New("vector_db config is required")
	}
	cfg.DSN = strings.TrimSpace(cfg.DSN)
	cfg.Path = strings.TrimSpace(cfg.Path)
	cfg.Collection = strings.TrimSpace(cfg.Collection)
	if strings.TrimSpace(string(cfg.Provider)) == "" {
		return errMissingProvider
	}
	if cfg.Collection == "" {
		return fmt.Errorf("vector_db %q: %w", cfg.ID, errMissingCollection)
	}
	if strings.TrimSpace(cfg.ID) == "" {
		cfg.ID = string(cfg.Provider) + ":" + cfg.Collection
	}
	switch cfg.Provider {
	case ProviderPGVector, ProviderQdrant:
		if cfg.DSN == "" {
			return fmt.Errorf("vector_db %q: %w", cfg.ID, errMissingDSN)
		}
		if cfg.Dimension <= 0 && cfg.Provider == ProviderPGVector {
			return fmt.Errorf("vector_db %q: %w", cfg.ID, errInvalidDimension)
		}
	case ProviderFilesystem, ProviderSQLite:
		if cfg.Path == "" {
			return fmt.Errorf("vector_db %q: %w", cfg.ID, errMissingPath)
		}
	}
	if cfg.Dimension < 0 {
		return fmt.Errorf("vector_db %q: %w", cfg.ID, errInvalidDimension)
	}
	if cfg.MaxTopK < 0 {
		return fmt.Errorf("vector_db %q: max_top_k must be non-negative", cfg.ID)
	}
	return nil
}

// FromAppConfig derives the store configuration from application settings.
// File backed stores learn their dimension from the first write; server
// backed stores are created with the configured embedding dimension.
func FromAppConfig(cfg *appconfig.Config) *Config {
	vc := cfg.Vector
	out := &Config{
		Provider:    Provider(vc.Provider),
		DSN:         vc.DSN.Value(),
		APIKey:      vc.APIKey.Value(),
		Collection:  vc.Collection,
		EnsureIndex: vc.EnsureIndex,
		MaxTopK:     vc.MaxTopK,
		Timeout:     vc.Timeout,
	}
	switch out.Provider {
	case ProviderFilesystem:
		out.Path = filepath.Join(vc.PersistDirectory, vc.Collection+".json")
	case ProviderSQLite:
		out.Path = filepath.Join(vc.PersistDirectory, "ragpipe.db")
	case ProviderPGVector, ProviderQdrant, ProviderRedis:
		out.Dimension = cfg.Embedding.Dimension
	}
	if out.Provider == ProviderRedis && out.DSN == "" {
		out.DSN = cfg.Redis.URL.Value()
	}
	out.ID = string(out.Provider) + ":" + out.Collection
	return out
}
