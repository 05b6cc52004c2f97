package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compozy/ragpipe/pkg/config"
)

func setupRoot(t *testing.T, yaml string, args ...string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "ragpipe.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(yaml), 0o600))
	cmd := RootCmd()
	flags := append([]string{
		"--env-file=",
		"--config", cfgPath,
		"--log-file", filepath.Join(dir, "app.log"),
	}, args...)
	require.NoError(t, cmd.ParseFlags(flags))
	closer, err := SetupGlobalConfig(cmd)
	require.NoError(t, err)
	t.Cleanup(func() { _ = closer.Close() })
	return config.FromContext(cmd.Context())
}

func TestSetupGlobalConfig(t *testing.T) {
	t.Run("Should inject YAML values into the context", func(t *testing.T) {
		cfg := setupRoot(t, "vector:\n  collection: team_docs\n")
		assert.Equal(t, "team_docs", cfg.Vector.Collection)
		assert.Equal(t, 8080, cfg.Server.Port)
	})

	t.Run("Should let flags override YAML", func(t *testing.T) {
		cfg := setupRoot(t, "vector:\n  collection: team_docs\n", "--collection", "flag_docs", "--model", "mistral")
		assert.Equal(t, "flag_docs", cfg.Vector.Collection)
		assert.Equal(t, "mistral", cfg.Ollama.Model)
	})

	t.Run("Should let environment override YAML but not flags", func(t *testing.T) {
		t.Setenv("OLLAMA_MODEL", "phi3")
		t.Setenv("CHROMA_COLLECTION_NAME", "env_docs")
		cfg := setupRoot(t, "ollama:\n  model: qwen2\nvector:\n  collection: team_docs\n", "--collection", "flag_docs")
		assert.Equal(t, "phi3", cfg.Ollama.Model)
		assert.Equal(t, "flag_docs", cfg.Vector.Collection)
	})

	t.Run("Should reject invalid configuration", func(t *testing.T) {
		dir := t.TempDir()
		cfgPath := filepath.Join(dir, "ragpipe.yaml")
		require.NoError(t, os.WriteFile(cfgPath, []byte("server:\n  port: 70000\n"), 0o600))
		cmd := RootCmd()
		require.NoError(t, cmd.ParseFlags([]string{"--env-file=", "--config", cfgPath}))
		_, err := SetupGlobalConfig(cmd)
		assert.Error(t, err)
	})
}

func TestExtractCLIFlags(t *testing.T) {
	t.Run("Should only collect changed mapped flags", func(t *testing.T) {
		cmd := RootCmd()
		require.NoError(t, cmd.ParseFlags([]string{"--collection", "flag_docs", "--json", "--log-json"}))
		flags := map[string]any{}
		extractCLIFlags(cmd, flags)
		assert.Equal(t, map[string]any{"collection": "flag_docs", "log-json": true}, flags)
	})
}

func TestIsPathWithinDirectory(t *testing.T) {
	t.Run("Should accept nested paths and reject escapes", func(t *testing.T) {
		dir := t.TempDir()
		assert.True(t, isPathWithinDirectory(filepath.Join(dir, ".env"), dir))
		assert.True(t, isPathWithinDirectory(dir, dir))
		assert.False(t, isPathWithinDirectory(filepath.Join(dir, "..", ".env"), dir))
	})
}
