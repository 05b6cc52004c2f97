package uploads

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compozy/ragpipe/engine/knowledge"
	"github.com/compozy/ragpipe/engine/knowledge/chunk"
	"github.com/compozy/ragpipe/engine/knowledge/document"
)

type byteTokenizer struct{}

func (byteTokenizer) Encode(text string) []int {
	out := make([]int, len(text))
	for i := range text {
		out[i] = int(text[i])
	}
	return out
}

func (byteTokenizer) Decode(tokens []int) string {
	b := make([]byte, len(tokens))
	for i, t := range tokens {
		b[i] = byte(t)
	}
	return string(b)
}

func newStore(t *testing.T, maxSize int64) (*Store, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	chunker, err := chunk.NewChunker(chunk.Settings{Size: 32, Overlap: 4}, byteTokenizer{})
	require.NoError(t, err)
	processor, err := document.NewProcessor(chunker, document.Options{FS: fs, MaxFileSize: maxSize})
	require.NoError(t, err)
	store, err := NewStore(processor, Options{FS: fs, Directory: "/data/documents", MaxFileSize: maxSize})
	require.NoError(t, err)
	return store, fs
}

func TestSanitizeName(t *testing.T) {
	t.Run("Should slugify the stem and keep a lower-case extension", func(t *testing.T) {
		assert.Equal(t, "my-report-v2.pdf", SanitizeName("My Report (v2).PDF"))
		assert.Equal(t, "passwd.txt", SanitizeName("../../etc/passwd.txt"))
		assert.Equal(t, "notes.md", SanitizeName(`C:\Users\me\notes.md`))
		assert.Equal(t, "readme", SanitizeName("README"))
	})

	t.Run("Should fall back to a generated name", func(t *testing.T) {
		name := SanitizeName("!!!.txt")
		assert.True(t, strings.HasPrefix(name, "document-"), name)
		assert.True(t, strings.HasSuffix(name, ".txt"), name)
	})
}

func TestStore_Save(t *testing.T) {
	t.Run("Should save with collision suffixes", func(t *testing.T) {
		store, fs := newStore(t, 1024)
		first, err := store.Save(t.Context(), "Quarterly Notes.txt", strings.NewReader("first body"))
		require.NoError(t, err)
		assert.Equal(t, "quarterly-notes.txt", first.Name)
		assert.Equal(t, filepath.Join("/data/documents", "quarterly-notes.txt"), first.Path)
		assert.Equal(t, int64(10), first.Size)

		second, err := store.Save(t.Context(), "quarterly notes.txt", strings.NewReader("second body"))
		require.NoError(t, err)
		assert.Equal(t, "quarterly-notes_1.txt", second.Name)
		third, err := store.Save(t.Context(), "Quarterly-Notes.txt", strings.NewReader("third body"))
		require.NoError(t, err)
		assert.Equal(t, "quarterly-notes_2.txt", third.Name)

		data, err := afero.ReadFile(fs, second.Path)
		require.NoError(t, err)
		assert.Equal(t, "second body", string(data))
	})

	t.Run("Should remove files that fail validation", func(t *testing.T) {
		store, fs := newStore(t, 1024)
		_, err := store.Save(t.Context(), "empty.txt", strings.NewReader(""))
		assert.True(t, knowledge.IsInvalidInput(err))
		_, err = store.Save(t.Context(), "photo.bmp", strings.NewReader("BM data"))
		assert.True(t, knowledge.IsUnsupportedFormat(err))

		entries, err := afero.ReadDir(fs, "/data/documents")
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("Should reject oversized content without keeping a partial file", func(t *testing.T) {
		store, fs := newStore(t, 8)
		_, err := store.Save(t.Context(), "big.txt", strings.NewReader(strings.Repeat("x", 64)))
		require.Error(t, err)
		assert.True(t, knowledge.IsInvalidInput(err))
		assert.Contains(t, err.Error(), "8.0 B")
		exists, err := afero.Exists(fs, "/data/documents/big.txt")
		require.NoError(t, err)
		assert.False(t, exists)
	})
}

func TestStore_ListAndDelete(t *testing.T) {
	t.Run("Should list supported files newest first", func(t *testing.T) {
		store, fs := newStore(t, 1024)
		_, err := store.List(t.Context())
		require.NoError(t, err)

		old, err := store.Save(t.Context(), "old.txt", strings.NewReader("old"))
		require.NoError(t, err)
		recent, err := store.Save(t.Context(), "recent.md", strings.NewReader("# recent"))
		require.NoError(t, err)
		require.NoError(t, afero.WriteFile(fs, "/data/documents/ignored.bin", []byte("bin"), 0o644))
		base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		require.NoError(t, fs.Chtimes(old.Path, base, base))
		require.NoError(t, fs.Chtimes(recent.Path, base.Add(time.Hour), base.Add(time.Hour)))

		files, err := store.List(t.Context())
		require.NoError(t, err)
		require.Len(t, files, 2)
		assert.Equal(t, "recent.md", files[0].Name)
		assert.Equal(t, ".md", files[0].Extension)
		assert.Equal(t, "old.txt", files[1].Name)
		assert.Equal(t, "3.0 B", files[1].SizeHuman)
	})

	t.Run("Should return an empty list when the directory is missing", func(t *testing.T) {
		store, _ := newStore(t, 1024)
		files, err := store.List(t.Context())
		require.NoError(t, err)
		assert.Empty(t, files)
	})

	t.Run("Should delete by name and refuse traversal", func(t *testing.T) {
		store, fs := newStore(t, 1024)
		saved, err := store.Save(t.Context(), "a.txt", strings.NewReader("body"))
		require.NoError(t, err)
		require.NoError(t, store.Delete(t.Context(), saved.Name))
		exists, err := afero.Exists(fs, saved.Path)
		require.NoError(t, err)
		assert.False(t, exists)

		assert.True(t, knowledge.IsNotFound(store.Delete(t.Context(), saved.Name)))
		assert.True(t, knowledge.IsInvalidInput(store.Delete(t.Context(), "../secret.txt")))
		assert.True(t, knowledge.IsInvalidInput(store.Delete(t.Context(), "")))
	})
}

func TestFormatSize(t *testing.T) {
	t.Run("Should scale through binary units", func(t *testing.T) {
		assert.Equal(t, "0.0 B", FormatSize(0))
		assert.Equal(t, "1023.0 B", FormatSize(1023))
		assert.Equal(t, "1.0 KB", FormatSize(1024))
		assert.Equal(t, "1.5 MB", FormatSize(1536*1024))
		assert.Equal(t, "2.0 GB", FormatSize(2<<30))
		assert.Equal(t, "3.0 TB", FormatSize(3<<40))
	})
}
