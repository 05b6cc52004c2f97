package extract

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compozy/ragpipe/engine/knowledge"
)

func newMemValidator(t *testing.T, maxSize int64) (*Validator, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/docs/folder.txt", 0o755))
	return NewValidator(fs, NewRegistry(), maxSize), fs
}

func TestValidator_Validate(t *testing.T) {
	t.Run("Should accept a supported file and report its MIME type", func(t *testing.T) {
		v, fs := newMemValidator(t, 0)
		require.NoError(t, afero.WriteFile(fs, "/docs/a.txt", []byte("hello world"), 0o644))
		info, err := v.Validate(t.Context(), "/docs/a.txt")
		require.NoError(t, err)
		assert.Equal(t, int64(11), info.Size)
		assert.Equal(t, ".txt", info.Extension)
		assert.Equal(t, "a.txt", info.Name)
		assert.Contains(t, info.MIME, "text/plain")
		assert.Equal(t, DefaultMaxFileSize, v.MaxSize())
	})

	t.Run("Should reject missing files, directories and empty files", func(t *testing.T) {
		v, fs := newMemValidator(t, 0)
		require.NoError(t, afero.WriteFile(fs, "/docs/empty.txt", nil, 0o644))
		for _, path := range []string{"/docs/missing.txt", "/docs/folder.txt", "/docs/empty.txt"} {
			_, err := v.Validate(t.Context(), path)
			require.Error(t, err, path)
			assert.True(t, knowledge.IsInvalidInput(err), path)
		}
	})

	t.Run("Should reject files over the size limit", func(t *testing.T) {
		v, fs := newMemValidator(t, 10)
		require.NoError(t, afero.WriteFile(fs, "/docs/big.txt", []byte("01234567890"), 0o644))
		_, err := v.Validate(t.Context(), "/docs/big.txt")
		require.Error(t, err)
		assert.True(t, knowledge.IsInvalidInput(err))
		assert.Contains(t, err.Error(), "exceeds maximum allowed size")
	})

	t.Run("Should reject unsupported extensions", func(t *testing.T) {
		v, fs := newMemValidator(t, 0)
		require.NoError(t, afero.WriteFile(fs, "/docs/pic.png", []byte("data"), 0o644))
		_, err := v.Validate(t.Context(), "/docs/pic.png")
		assert.True(t, knowledge.IsUnsupportedFormat(err))
	})

	t.Run("Should tolerate a MIME type that disagrees with the extension", func(t *testing.T) {
		v, fs := newMemValidator(t, 0)
		require.NoError(t, afero.WriteFile(fs, "/docs/fake.pdf", []byte("just text"), 0o644))
		info, err := v.Validate(t.Context(), "/docs/fake.pdf")
		require.NoError(t, err)
		assert.Contains(t, info.MIME, "text/plain")
	})
}
