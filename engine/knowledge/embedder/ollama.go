package embedder

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ollama/ollama/api"
)

const defaultOllamaTimeout = 2 * time.Minute

// OllamaBackend calls the /api/embed endpoint of an Ollama server.
type OllamaBackend struct {
	client    *api.Client
	model     string
	dimension int
}

// NewOllamaBackend builds a backend for host. A nil httpClient gets a client
// with a conservative timeout.
func NewOllamaBackend(host, model string, dimension int, httpClient *http.Client) (*OllamaBackend, error) {
	base, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid Ollama host %q: %w", host, err)
	}
	if model == "" {
		return nil, fmt.Errorf("ollama embedding model is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultOllamaTimeout}
	}
	return &OllamaBackend{
		client:    api.NewClient(base, httpClient),
		model:     model,
		dimension: dimension,
	}, nil
}

func (b *OllamaBackend) Name() string { return string(ProviderOllama) }

func (b *OllamaBackend) Dimension() int { return b.dimension }

func (b *OllamaBackend) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := b.client.Embed(ctx, &api.EmbedRequest{Model: b.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("ollama embed with %s: %w", b.model, err)
	}
	if err := checkVectors(b.Name(), resp.Embeddings, len(texts)); err != nil {
		return nil, err
	}
	return resp.Embeddings, nil
}
