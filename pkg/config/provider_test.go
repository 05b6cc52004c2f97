package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCLIProvider_Load(t *testing.T) {
	t.Run("Should map CLI flags to configuration structure", func(t *testing.T) {
		src := NewCLIProvider(map[string]any{
			"chunk-size": 256,
			"top-k":      3,
			"log-level":  "debug",
			"unknown":    true,
		})
		data, err := src.Load()
		require.NoError(t, err)
		assert.Equal(t, map[string]any{
			"chunking":  map[string]any{"size": 256},
			"retrieval": map[string]any{"top_k": 3},
			"log":       map[string]any{"level": "debug"},
		}, data)
		assert.Equal(t, SourceCLI, src.Type())
	})

	t.Run("Should handle nil flags gracefully", func(t *testing.T) {
		data, err := NewCLIProvider(nil).Load()
		require.NoError(t, err)
		assert.Empty(t, data)
	})

	t.Run("Should resolve flag paths", func(t *testing.T) {
		path, ok := CLIFlagPath("collection")
		assert.True(t, ok)
		assert.Equal(t, "vector.collection", path)
		_, ok = CLIFlagPath("nope")
		assert.False(t, ok)
	})
}

func TestSetNested(t *testing.T) {
	t.Run("Should set value in nested map structure", func(t *testing.T) {
		m := make(map[string]any)
		require.NoError(t, setNested(m, "a.b.c", 1))
		require.NoError(t, setNested(m, "a.b.d", 2))
		assert.Equal(t, map[string]any{"a": map[string]any{"b": map[string]any{"c": 1, "d": 2}}}, m)
	})

	t.Run("Should return error on structure conflicts", func(t *testing.T) {
		m := map[string]any{"a": "leaf"}
		err := setNested(m, "a.b", 1)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "conflict")
	})

	t.Run("Should handle empty path", func(t *testing.T) {
		m := make(map[string]any)
		require.NoError(t, setNested(m, "", 1))
		assert.Empty(t, m)
	})
}

func TestYAMLProvider_Load(t *testing.T) {
	t.Run("Should return empty map for non-existent file", func(t *testing.T) {
		data, err := NewYAMLProvider(filepath.Join(t.TempDir(), "missing.yaml")).Load()
		require.NoError(t, err)
		assert.Empty(t, data)
	})

	t.Run("Should drop null values", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "c.yaml")
		require.NoError(t, os.WriteFile(path, []byte("ollama:\n  model: mistral\n  host: ~\n"), 0o600))
		data, err := NewYAMLProvider(path).Load()
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"ollama": map[string]any{"model": "mistral"}}, data)
	})

	t.Run("Should return error for invalid YAML", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("a: [b"), 0o600))
		_, err := NewYAMLProvider(path).Load()
		require.Error(t, err)
	})
}

func TestLoadDotEnv(t *testing.T) {
	t.Run("Should load variables without overriding existing ones", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), ".env")
		require.NoError(t, os.WriteFile(path, []byte("RAGPIPE_TEST_A=from_file\nRAGPIPE_TEST_B=from_file\n"), 0o600))
		t.Setenv("RAGPIPE_TEST_A", "from_env")
		t.Setenv("RAGPIPE_TEST_B", "")
		os.Unsetenv("RAGPIPE_TEST_B")
		require.NoError(t, LoadDotEnv(path))
		assert.Equal(t, "from_env", os.Getenv("RAGPIPE_TEST_A"))
		assert.Equal(t, "from_file", os.Getenv("RAGPIPE_TEST_B"))
	})

	t.Run("Should skip missing files", func(t *testing.T) {
		require.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "none.env")))
	})
}
