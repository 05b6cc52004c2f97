// Package embedder turns text into dense vectors through a primary backend
// with a latched fallback.
package embedder

import (
	"context"
	"fmt"
	"strings"
)

// Provider names an embedding backend implementation.
type Provider string

const (
	ProviderOllama Provider = "ollama"
	ProviderOpenAI Provider = "openai"
	ProviderLocal  Provider = "local"
	ProviderNone   Provider = "none"
)

// Backend produces one vector per input text, in input order.
type Backend interface {
	Name() string
	// Dimension is the vector width, or 0 when not known in advance.
	Dimension() int
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// ParseProvider normalizes a configured provider name.
func ParseProvider(raw string) (Provider, error) {
	switch p := Provider(strings.ToLower(strings.TrimSpace(raw))); p {
	case ProviderOllama, ProviderOpenAI, ProviderLocal:
		return p, nil
	case ProviderNone, "":
		return ProviderNone, nil
	default:
		return "", fmt.Errorf("unsupported embedding provider %q", raw)
	}
}

func checkVectors(name string, vectors [][]float32, want int) error {
	if len(vectors) != want {
		return fmt.Errorf("%s returned %d embeddings for %d texts", name, len(vectors), want)
	}
	for i, v := range vectors {
		if len(v) == 0 {
			return fmt.Errorf("%s returned an empty embedding at position %d", name, i)
		}
	}
	return nil
}
