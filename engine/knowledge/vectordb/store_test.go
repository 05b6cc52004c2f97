package vectordb

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/compozy/ragpipe/pkg/config"
)

func sampleRecords() []Record {
	return []Record{
		{ID: "h1_0", Text: "go channels", Embedding: []float32{1, 0, 0}, Metadata: map[string]any{"file_hash": "h1", "chunk_index": 0}},
		{ID: "h1_1", Text: "go routines", Embedding: []float32{0.9, 0.1, 0}, Metadata: map[string]any{"file_hash": "h1", "chunk_index": 1}},
		{ID: "h2_0", Text: "postgres tuning", Embedding: []float32{0, 1, 0}, Metadata: map[string]any{"file_hash": "h2", "chunk_index": 0}},
	}
}

type storeFactory func(t *testing.T) Store

func localFactories() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T) Store {
			s, err := New(t.Context(), &Config{Provider: ProviderMemory, Collection: "docs"})
			require.NoError(t, err)
			return s
		},
		"filesystem": func(t *testing.T) Store {
			path := filepath.Join(t.TempDir(), "docs.json")
			s, err := New(t.Context(), &Config{Provider: ProviderFilesystem, Collection: "docs", Path: path})
			require.NoError(t, err)
			return s
		},
		"sqlite": func(t *testing.T) Store {
			path := filepath.Join(t.TempDir(), "ragpipe.db")
			s, err := New(t.Context(), &Config{Provider: ProviderSQLite, Collection: "docs", Path: path})
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close(context.WithoutCancel(t.Context())) })
			return s
		},
	}
}

func TestLocalStores(t *testing.T) {
	for name, factory := range localFactories() {
		t.Run(name, func(t *testing.T) {
			t.Run("Should order matches by ascending cosine distance", func(t *testing.T) {
				s := factory(t)
				ctx := t.Context()
				require.NoError(t, s.Upsert(ctx, sampleRecords()))
				matches, err := s.Search(ctx, []float32{1, 0, 0}, SearchOptions{TopK: 2})
				require.NoError(t, err)
				require.Len(t, matches, 2)
				assert.Equal(t, "h1_0", matches[0].ID)
				assert.InDelta(t, 0, matches[0].Distance, 1e-6)
				assert.Equal(t, "h1_1", matches[1].ID)
				assert.Less(t, matches[0].Distance, matches[1].Distance)
				assert.Equal(t, "go channels", matches[0].Text)
			})

			t.Run("Should apply metadata filters", func(t *testing.T) {
				s := factory(t)
				ctx := t.Context()
				require.NoError(t, s.Upsert(ctx, sampleRecords()))
				matches, err := s.Search(ctx, []float32{1, 0, 0}, SearchOptions{TopK: 5, Filters: map[string]string{"file_hash": "h2"}})
				require.NoError(t, err)
				require.Len(t, matches, 1)
				assert.Equal(t, "h2_0", matches[0].ID)

				ids, err := s.IDs(ctx, map[string]string{"file_hash": "h1"}, 0)
				require.NoError(t, err)
				assert.Equal(t, []string{"h1_0", "h1_1"}, ids)
				ids, err = s.IDs(ctx, map[string]string{"chunk_index": "0"}, 1)
				require.NoError(t, err)
				assert.Equal(t, []string{"h1_0"}, ids)
			})

			t.Run("Should get, count, delete and reset", func(t *testing.T) {
				s := factory(t)
				ctx := t.Context()
				require.NoError(t, s.Upsert(ctx, sampleRecords()))
				recs, err := s.Get(ctx, []string{"h2_0", "nope"})
				require.NoError(t, err)
				require.Len(t, recs, 1)
				assert.Equal(t, []float32{0, 1, 0}, recs[0].Embedding)
				assert.Equal(t, "h2", recs[0].Metadata["file_hash"])

				distinct, err := s.Distinct(ctx, "file_hash")
				require.NoError(t, err)
				assert.Equal(t, map[string]int{"h1": 2, "h2": 1}, distinct)

				require.NoError(t, s.Delete(ctx, []string{"h1_0", "h1_1"}))
				n, err := s.Count(ctx)
				require.NoError(t, err)
				assert.Equal(t, 1, n)

				require.NoError(t, s.Reset(ctx))
				n, err = s.Count(ctx)
				require.NoError(t, err)
				assert.Zero(t, n)
				matches, err := s.Search(ctx, []float32{1, 0, 0}, SearchOptions{})
				require.NoError(t, err)
				assert.Empty(t, matches)
			})

			t.Run("Should reject mixed dimensions atomically", func(t *testing.T) {
				s := factory(t)
				ctx := t.Context()
				require.NoError(t, s.Upsert(ctx, sampleRecords()[:1]))
				err := s.Upsert(ctx, []Record{
					{ID: "ok", Text: "x", Embedding: []float32{0, 0, 1}},
					{ID: "bad", Text: "y", Embedding: []float32{1, 0}},
				})
				require.Error(t, err)
				n, err := s.Count(ctx)
				require.NoError(t, err)
				assert.Equal(t, 1, n)
				_, err = s.Search(ctx, []float32{1, 0}, SearchOptions{})
				assert.Error(t, err)
			})

			t.Run("Should replace records with the same id", func(t *testing.T) {
				s := factory(t)
				ctx := t.Context()
				require.NoError(t, s.Upsert(ctx, sampleRecords()))
				require.NoError(t, s.Upsert(ctx, []Record{{ID: "h2_0", Text: "replaced", Embedding: []float32{0, 0, 1}}}))
				n, err := s.Count(ctx)
				require.NoError(t, err)
				assert.Equal(t, 3, n)
				recs, err := s.Get(ctx, []string{"h2_0"})
				require.NoError(t, err)
				assert.Equal(t, "replaced", recs[0].Text)
			})
		})
	}
}

func TestFileStorePersistence(t *testing.T) {
	t.Run("Should reload records written by another instance", func(t *testing.T) {
		ctx := t.Context()
		path := filepath.Join(t.TempDir(), "shared.json")
		cfg := &Config{Provider: ProviderFilesystem, Collection: "shared", Path: path}
		writer, err := New(ctx, cfg)
		require.NoError(t, err)
		reader, err := New(ctx, &Config{Provider: ProviderFilesystem, Collection: "shared", Path: path})
		require.NoError(t, err)

		require.NoError(t, writer.Upsert(ctx, sampleRecords()))
		n, err := reader.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		distinct, err := reader.Distinct(ctx, "chunk_index")
		require.NoError(t, err)
		assert.Equal(t, map[string]int{"0": 2, "1": 1}, distinct)
	})

	t.Run("Should reject a snapshot with a different configured dimension", func(t *testing.T) {
		ctx := t.Context()
		path := filepath.Join(t.TempDir(), "dim.json")
		s, err := New(ctx, &Config{Provider: ProviderFilesystem, Collection: "dim", Path: path})
		require.NoError(t, err)
		require.NoError(t, s.Upsert(ctx, sampleRecords()))
		_, err = New(ctx, &Config{Provider: ProviderFilesystem, Collection: "dim", Path: path, Dimension: 8})
		assert.ErrorContains(t, err, "stored dimension 3")
	})
}

func TestValidateConfig(t *testing.T) {
	t.Run("Should require provider specific settings", func(t *testing.T) {
		assert.ErrorIs(t, validateConfig(&Config{Collection: "c"}), errMissingProvider)
		assert.ErrorIs(t, validateConfig(&Config{Provider: ProviderMemory}), errMissingCollection)
		assert.ErrorIs(t, validateConfig(&Config{Provider: ProviderQdrant, Collection: "c"}), errMissingDSN)
		assert.ErrorIs(t, validateConfig(&Config{Provider: ProviderSQLite, Collection: "c"}), errMissingPath)
		assert.ErrorIs(
			t,
			validateConfig(&Config{Provider: ProviderPGVector, Collection: "c", DSN: "postgres://x"}),
			errInvalidDimension,
		)
	})

	t.Run("Should derive an id from provider and collection", func(t *testing.T) {
		cfg := &Config{Provider: ProviderMemory, Collection: " docs "}
		require.NoError(t, validateConfig(cfg))
		assert.Equal(t, "memory:docs", cfg.ID)
	})

	t.Run("Should reject unknown providers", func(t *testing.T) {
		_, err := New(t.Context(), &Config{Provider: "chroma", Collection: "c"})
		assert.ErrorContains(t, err, "not supported")
	})
}

func TestFromAppConfig(t *testing.T) {
	t.Run("Should place file stores under the persist directory", func(t *testing.T) {
		cfg := appconfig.Default()
		cfg.Vector.Provider = "filesystem"
		cfg.Vector.PersistDirectory = "/var/lib/rag"
		out := FromAppConfig(cfg)
		assert.Equal(t, filepath.Join("/var/lib/rag", "rag_documents.json"), out.Path)
		assert.Zero(t, out.Dimension)
		assert.Equal(t, "filesystem:rag_documents", out.ID)
	})

	t.Run("Should carry the embedding dimension to server stores", func(t *testing.T) {
		cfg := appconfig.Default()
		cfg.Vector.Provider = "pgvector"
		cfg.Vector.DSN = "postgres://localhost/rag"
		out := FromAppConfig(cfg)
		assert.Equal(t, cfg.Embedding.Dimension, out.Dimension)
		assert.Equal(t, "postgres://localhost/rag", out.DSN)
	})
}

func TestManager(t *testing.T) {
	t.Run("Should share stores until the last release", func(t *testing.T) {
		ctx := t.Context()
		m := NewManager()
		cfg := &Config{Provider: ProviderMemory, Collection: "shared"}
		a, releaseA, err := m.AcquireShared(ctx, cfg)
		require.NoError(t, err)
		b, releaseB, err := m.AcquireShared(ctx, &Config{Provider: ProviderMemory, Collection: "shared"})
		require.NoError(t, err)
		assert.Same(t, a, b)

		require.NoError(t, releaseA(ctx))
		require.NoError(t, releaseA(ctx))
		_, ok := m.stores["memory:shared"]
		assert.True(t, ok)
		require.NoError(t, releaseB(ctx))
		_, ok = m.stores["memory:shared"]
		assert.False(t, ok)
	})

	t.Run("Should reject a conflicting configuration for the same id", func(t *testing.T) {
		ctx := t.Context()
		m := NewManager()
		_, release, err := m.AcquireShared(ctx, &Config{ID: "x", Provider: ProviderMemory, Collection: "a"})
		require.NoError(t, err)
		defer release(ctx)
		_, _, err = m.AcquireShared(ctx, &Config{ID: "x", Provider: ProviderMemory, Collection: "b"})
		assert.ErrorContains(t, err, "configuration mismatch")
	})
}
