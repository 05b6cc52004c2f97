package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig(t *testing.T) {
	t.Run("Should default the busy timeout and enable WAL for files", func(t *testing.T) {
		c, err := (&Config{Path: "/tmp/test.db"}).normalized()
		require.NoError(t, err)
		assert.Equal(t, defaultMaxOpen, c.MaxOpenConns)
		d := c.dsn()
		assert.Contains(t, d, "file:/tmp/test.db?")
		assert.Contains(t, d, "_pragma=journal_mode%28WAL%29")
		assert.Contains(t, d, "_pragma=busy_timeout%285000%29")
	})

	t.Run("Should pin in-memory databases to one connection", func(t *testing.T) {
		c, err := (&Config{Path: ":memory:", MaxOpenConns: 8, BusyTimeout: 2 * time.Second}).normalized()
		require.NoError(t, err)
		assert.Equal(t, 1, c.MaxOpenConns)
		d := c.dsn()
		assert.Contains(t, d, "file::memory:?")
		assert.Contains(t, d, "busy_timeout%282000%29")
		assert.NotContains(t, d, "journal_mode")
	})

	t.Run("Should reject a nil config", func(t *testing.T) {
		var c *Config
		_, err := c.normalized()
		assert.Error(t, err)
	})
}

func TestNewStore(t *testing.T) {
	t.Run("Should create parent directories and apply migrations idempotently", func(t *testing.T) {
		ctx := t.Context()
		path := filepath.Join(t.TempDir(), "nested", "vectors.db")
		s, err := NewStore(ctx, &Config{Path: path})
		require.NoError(t, err)
		require.NoError(t, s.Close(ctx))

		s, err = NewStore(ctx, &Config{Path: path})
		require.NoError(t, err)
		defer s.Close(ctx)
		var n int
		require.NoError(t, s.DB().QueryRowContext(
			ctx,
			"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'chunks'",
		).Scan(&n))
		assert.Equal(t, 1, n)
	})

	t.Run("Should require a path", func(t *testing.T) {
		_, err := NewStore(t.Context(), &Config{})
		assert.Error(t, err)
	})
}
