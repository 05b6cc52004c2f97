package embedder

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/embeddings/cybertron"
	"github.com/tmc/langchaingo/llms/openai"
)

// LangchainBackend adapts a langchaingo embedder.
type LangchainBackend struct {
	name      string
	dimension int
	impl      embeddings.Embedder
}

// WrapLangchain wraps an existing langchaingo embedder.
func WrapLangchain(name string, dimension int, impl embeddings.Embedder) (*LangchainBackend, error) {
	if impl == nil {
		return nil, fmt.Errorf("embedder %q: implementation is required", name)
	}
	return &LangchainBackend{name: name, dimension: dimension, impl: impl}, nil
}

// NewOpenAIBackend builds an OpenAI embeddings backend.
func NewOpenAIBackend(model, apiKey, baseURL string, dimension, batchSize int) (*LangchainBackend, error) {
	opts := []openai.Option{openai.WithEmbeddingModel(model)}
	if apiKey != "" {
		opts = append(opts, openai.WithToken(apiKey))
	}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize openai client: %w", err)
	}
	impl, err := embeddings.NewEmbedder(client, embeddingOptions(batchSize)...)
	if err != nil {
		return nil, fmt.Errorf("failed to construct openai embedder: %w", err)
	}
	return WrapLangchain(string(ProviderOpenAI), dimension, impl)
}

// NewLocalBackend builds an in-process sentence transformer backend. The
// model is fetched into modelsDir on first use.
func NewLocalBackend(model, modelsDir string, dimension, batchSize int) (*LangchainBackend, error) {
	opts := make([]cybertron.Option, 0, 2)
	if m := strings.TrimSpace(model); m != "" {
		opts = append(opts, cybertron.WithModel(m))
	}
	if modelsDir != "" {
		opts = append(opts, cybertron.WithModelsDir(modelsDir))
	}
	client, err := cybertron.NewCybertron(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize local embedder: %w", err)
	}
	impl, err := embeddings.NewEmbedder(client, embeddingOptions(batchSize)...)
	if err != nil {
		return nil, fmt.Errorf("failed to construct local embedder: %w", err)
	}
	return WrapLangchain(string(ProviderLocal), dimension, impl)
}

func embeddingOptions(batchSize int) []embeddings.Option {
	opts := []embeddings.Option{embeddings.WithStripNewLines(false)}
	if batchSize > 0 {
		opts = append(opts, embeddings.WithBatchSize(batchSize))
	}
	return opts
}

func (b *LangchainBackend) Name() string { return b.name }

func (b *LangchainBackend) Dimension() int { return b.dimension }

func (b *LangchainBackend) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := b.impl.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%s embed: %w", b.name, err)
	}
	if err := checkVectors(b.name, vectors, len(texts)); err != nil {
		return nil, err
	}
	return vectors, nil
}
