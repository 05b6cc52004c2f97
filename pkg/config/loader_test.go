package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingSource struct{}

func (failingSource) Load() (map[string]any, error) { return nil, errors.New("boom") }
func (failingSource) Type() SourceType              { return SourceYAML }
func (failingSource) Close() error                  { return nil }

func writeYAML(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ragpipe.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoader_Load(t *testing.T) {
	t.Run("Should load default configuration when no sources provided", func(t *testing.T) {
		cfg, err := NewService().Load(t.Context())
		require.NoError(t, err)
		assert.Equal(t, Default().Chunking, cfg.Chunking)
		assert.Equal(t, Default().Vector.Collection, cfg.Vector.Collection)
	})

	t.Run("Should apply sources in precedence order", func(t *testing.T) {
		path := writeYAML(t, `
chunking:
  size: 500
  overlap: 50
retrieval:
  top_k: 8
vector:
  collection: from_yaml
`)
		t.Setenv("TOP_K_RESULTS", "12")
		t.Setenv("CHROMA_COLLECTION_NAME", "from_env")
		svc := NewService()
		cfg, err := svc.Load(
			t.Context(),
			NewDefaultProvider(),
			NewYAMLProvider(path),
			NewEnvProvider(),
			NewCLIProvider(map[string]any{"collection": "from_cli"}),
		)
		require.NoError(t, err)
		assert.Equal(t, 500, cfg.Chunking.Size)
		assert.Equal(t, 50, cfg.Chunking.Overlap)
		assert.Equal(t, 12, cfg.Retrieval.TopK)
		assert.Equal(t, "from_cli", cfg.Vector.Collection)
		assert.Equal(t, SourceYAML, svc.GetSource("chunking.size"))
		assert.Equal(t, SourceEnv, svc.GetSource("retrieval.top_k"))
		assert.Equal(t, SourceCLI, svc.GetSource("vector.collection"))
		assert.Equal(t, SourceDefault, svc.GetSource("ollama.model"))
	})

	t.Run("Should decode durations with day units and secrets", func(t *testing.T) {
		t.Setenv("REDIS_LOCK_TTL", "1d")
		t.Setenv("OLLAMA_TIMEOUT", "90s")
		t.Setenv("OPENAI_API_KEY", "sk-env")
		cfg, err := NewService().Load(t.Context(), NewEnvProvider())
		require.NoError(t, err)
		assert.Equal(t, 24*time.Hour, cfg.Redis.LockTTL)
		assert.Equal(t, 90*time.Second, cfg.Ollama.Timeout)
		assert.Equal(t, "sk-env", cfg.OpenAI.APIKey.Value())
	})

	t.Run("Should ignore unrelated environment variables", func(t *testing.T) {
		t.Setenv("CHUNK", "7")
		t.Setenv("SERVER_PORTS", "1")
		cfg, err := NewService().Load(t.Context(), NewEnvProvider())
		require.NoError(t, err)
		assert.Equal(t, Default().Server.Port, cfg.Server.Port)
	})

	t.Run("Should validate configuration after loading", func(t *testing.T) {
		t.Setenv("CHUNK_SIZE", "100")
		t.Setenv("CHUNK_OVERLAP", "150")
		_, err := NewService().Load(t.Context(), NewEnvProvider())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "validation")
	})

	t.Run("Should handle nil sources gracefully", func(t *testing.T) {
		cfg, err := NewService().Load(t.Context(), nil, NewEnvProvider())
		require.NoError(t, err)
		require.NotNil(t, cfg)
	})

	t.Run("Should handle source loading errors", func(t *testing.T) {
		_, err := NewService().Load(t.Context(), failingSource{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "boom")
	})
}

func TestLoader_Validate(t *testing.T) {
	t.Run("Should reject nil configuration", func(t *testing.T) {
		err := NewService().Validate(nil)
		require.Error(t, err)
	})
}

func TestManager(t *testing.T) {
	t.Run("Should make the loaded configuration current", func(t *testing.T) {
		path := writeYAML(t, "retrieval:\n  top_k: 3\n")
		m := NewManager(nil)
		assert.Nil(t, m.Get())
		cfg, err := m.Load(t.Context(), NewYAMLProvider(path))
		require.NoError(t, err)
		assert.Equal(t, 3, cfg.Retrieval.TopK)
		assert.Same(t, cfg, m.Get())
		require.NoError(t, m.Close())
	})

	t.Run("Should keep the previous configuration when a load fails", func(t *testing.T) {
		path := writeYAML(t, "retrieval:\n  top_k: 4\n")
		m := NewManager(nil)
		_, err := m.Load(t.Context(), NewYAMLProvider(path))
		require.NoError(t, err)
		_, err = m.Load(t.Context(), failingSource{})
		require.Error(t, err)
		assert.Equal(t, 4, m.Get().Retrieval.TopK)
	})

	t.Run("Should expose the manager through context", func(t *testing.T) {
		m := NewManager(nil)
		_, err := m.Load(t.Context())
		require.NoError(t, err)
		ctx := ContextWithManager(t.Context(), m)
		assert.Same(t, m, ManagerFromContext(ctx))
		assert.Same(t, m.Get(), FromContext(ctx))
	})
}
