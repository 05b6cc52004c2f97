package embedder

import (
	"fmt"

	appconfig "github.com/compozy/ragpipe/pkg/config"
)

// FromConfig builds the primary and fallback backends named in cfg.
func FromConfig(cfg *appconfig.Config) (*Generator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("embedding configuration is required")
	}
	ec := cfg.Embedding
	primaryProvider, err := ParseProvider(ec.Provider)
	if err != nil {
		return nil, err
	}
	if primaryProvider == ProviderNone {
		return nil, fmt.Errorf("a primary embedding provider is required")
	}
	primary, err := buildBackend(cfg, primaryProvider, ec.Model, ec.Dimension)
	if err != nil {
		return nil, fmt.Errorf("primary embedder: %w", err)
	}
	fallbackProvider, err := ParseProvider(ec.FallbackProvider)
	if err != nil {
		return nil, err
	}
	var fallback Backend
	if fallbackProvider != ProviderNone {
		// the fallback model width is unknown until it answers
		fallback, err = buildBackend(cfg, fallbackProvider, ec.FallbackModel, 0)
		if err != nil {
			return nil, fmt.Errorf("fallback embedder: %w", err)
		}
	}
	return NewGenerator(primary, fallback, Options{
		Timeout:            ec.Timeout,
		BatchSize:          ec.BatchSize,
		CacheSize:          ec.CacheSize,
		Concurrency:        ec.Concurrency,
		FallbackOnAnyError: ec.FallbackOnAnyError,
	})
}

func buildBackend(cfg *appconfig.Config, provider Provider, model string, dimension int) (Backend, error) {
	ec := cfg.Embedding
	switch provider {
	case ProviderOllama:
		return NewOllamaBackend(cfg.Ollama.Host, model, dimension, nil)
	case ProviderOpenAI:
		return NewOpenAIBackend(model, cfg.OpenAI.APIKey.Value(), cfg.OpenAI.BaseURL, dimension, ec.BatchSize)
	case ProviderLocal:
		return NewLocalBackend(model, ec.ModelsDir, dimension, ec.BatchSize)
	default:
		return nil, fmt.Errorf("unsupported embedding provider %q", provider)
	}
}
