package index

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compozy/ragpipe/engine/knowledge"
	"github.com/compozy/ragpipe/engine/knowledge/chunk"
	"github.com/compozy/ragpipe/engine/knowledge/document"
	"github.com/compozy/ragpipe/engine/knowledge/vectordb"
)

var fixedNow = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

type fakeEmbedder struct {
	vectors map[string][]float32
	calls   atomic.Int32
	err     error
	delay   time.Duration
}

func (f *fakeEmbedder) vector(text string) []float32 {
	if v, ok := f.vectors[text]; ok {
		return v
	}
	return []float32{0, 0, 1}
}

func (f *fakeEmbedder) BatchEmbed(_ context.Context, texts []string, _ int) ([][]float32, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = f.vector(t)
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.vector(text), nil
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{vectors: map[string][]float32{
		"apple pie":   {1, 0, 0},
		"apple tart":  {0.9, 0.1, 0},
		"car engine":  {0, 1, 0},
		"apple query": {1, 0, 0},
	}}
}

func newMemoryStore(t *testing.T) vectordb.Store {
	t.Helper()
	store, err := vectordb.New(t.Context(), &vectordb.Config{Provider: vectordb.ProviderMemory, Collection: "test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(context.Background()) })
	return store
}

func newTestIndex(t *testing.T, store vectordb.Store, emb Embedder, opts Options) *Index {
	t.Helper()
	if opts.Collection == "" {
		opts.Collection = "test"
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return fixedNow }
	}
	x, err := New(store, emb, opts)
	require.NoError(t, err)
	return x
}

func makeDoc(hash, name string, texts ...string) *document.ProcessedDocument {
	chunks := make([]chunk.Chunk, len(texts))
	tokens := 0
	for i, text := range texts {
		chunks[i] = chunk.Chunk{
			ID:          chunk.ChunkID(hash, i),
			Text:        text,
			Index:       i,
			TokenCount:  len(text),
			TotalChunks: len(texts),
			Metadata:    map[string]any{document.MetaFileName: name},
		}
		tokens += len(text)
	}
	return &document.ProcessedDocument{
		SourcePath:  "/docs/" + name,
		ContentHash: hash,
		Chunks:      chunks,
		Metadata: map[string]any{
			document.MetaFileName: name,
			document.MetaFileHash: hash,
			"file_type":           "text",
		},
		TotalChunks: len(texts),
		TotalTokens: tokens,
	}
}

func TestIndex_Add(t *testing.T) {
	t.Run("Should store one record per chunk with document metadata", func(t *testing.T) {
		store := newMemoryStore(t)
		x := newTestIndex(t, store, newFakeEmbedder(), Options{})
		doc := makeDoc("h1", "fruit.txt", "apple pie", "apple tart")
		doc.Chunks[1].Metadata[MetaPageNumber] = 3

		res, err := x.Add(t.Context(), doc)
		require.NoError(t, err)
		assert.Equal(t, 2, res.ChunksAdded)
		assert.Equal(t, "h1", res.Hash)
		assert.Equal(t, doc.TotalTokens, res.TotalTokens)
		assert.Equal(t, fixedNow, res.IndexedAt)

		records, err := store.Get(t.Context(), []string{"h1_0", "h1_1"})
		require.NoError(t, err)
		require.Len(t, records, 2)
		meta := records[1].Metadata
		assert.Equal(t, "h1", meta[MetaFileHash])
		assert.Equal(t, "/docs/fruit.txt", meta[MetaFilePath])
		assert.Equal(t, "fruit.txt", meta[MetaFileName])
		assert.Equal(t, 1, meta[MetaChunkIndex])
		assert.Equal(t, 2, meta[MetaTotalChunks])
		assert.Equal(t, len("apple tart"), meta[MetaChunkTokenCount])
		assert.Equal(t, "text", meta[MetaFileType])
		assert.Equal(t, "2025-03-14T09:26:53Z", meta[MetaIndexedAt])
		assert.Equal(t, 3, meta[MetaPageNumber])
		_, hasPage := records[0].Metadata[MetaPageNumber]
		assert.False(t, hasPage)
	})

	t.Run("Should report a duplicate before embedding and leave the store unchanged", func(t *testing.T) {
		emb := newFakeEmbedder()
		x := newTestIndex(t, newMemoryStore(t), emb, Options{})
		_, err := x.Add(t.Context(), makeDoc("h1", "a.txt", "apple pie", "car engine"))
		require.NoError(t, err)
		before, err := x.Stats(t.Context())
		require.NoError(t, err)

		_, err = x.Add(t.Context(), makeDoc("h1", "copy.txt", "apple pie", "car engine"))
		var dup *knowledge.DuplicateDocumentError
		require.ErrorAs(t, err, &dup)
		assert.Equal(t, "h1", dup.Hash)
		assert.Equal(t, "/docs/copy.txt", dup.Path)
		assert.Equal(t, int32(1), emb.calls.Load())

		after, err := x.Stats(t.Context())
		require.NoError(t, err)
		assert.Equal(t, before, after)
	})

	t.Run("Should reject empty and missing documents", func(t *testing.T) {
		x := newTestIndex(t, newMemoryStore(t), newFakeEmbedder(), Options{})
		_, err := x.Add(t.Context(), nil)
		assert.True(t, knowledge.IsInvalidInput(err))
		_, err = x.Add(t.Context(), makeDoc("h", "empty.txt"))
		assert.True(t, knowledge.IsInvalidInput(err))
		_, err = x.Add(t.Context(), makeDoc(" ", "nohash.txt", "apple pie"))
		assert.True(t, knowledge.IsInvalidInput(err))
	})

	t.Run("Should surface embedding failures without writing", func(t *testing.T) {
		store := newMemoryStore(t)
		emb := newFakeEmbedder()
		emb.err = &knowledge.EmbeddingError{Backend: "ollama", Cause: errors.New("down")}
		x := newTestIndex(t, store, emb, Options{})
		_, err := x.Add(t.Context(), makeDoc("h1", "a.txt", "apple pie"))
		assert.True(t, knowledge.IsEmbedding(err))
		count, err := store.Count(t.Context())
		require.NoError(t, err)
		assert.Zero(t, count)
	})

	t.Run("Should index a hash once under concurrent adds", func(t *testing.T) {
		emb := newFakeEmbedder()
		emb.delay = 5 * time.Millisecond
		x := newTestIndex(t, newMemoryStore(t), emb, Options{})
		var wg sync.WaitGroup
		var added, duplicates atomic.Int32
		for i := range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := x.Add(t.Context(), makeDoc("same", fmt.Sprintf("copy-%d.txt", i), "apple pie", "apple tart"))
				switch {
				case err == nil:
					added.Add(1)
				case knowledge.IsDuplicate(err):
					duplicates.Add(1)
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), added.Load())
		assert.Equal(t, int32(7), duplicates.Load())
		assert.Equal(t, int32(1), emb.calls.Load())
		stats, err := x.Stats(t.Context())
		require.NoError(t, err)
		assert.Equal(t, 2, stats.TotalChunks)
		assert.Equal(t, 1, stats.UniqueDocuments)
		assert.Zero(t, x.keyed.size())
	})
}

func TestIndex_Delete(t *testing.T) {
	t.Run("Should remove every chunk of a hash and then report not found", func(t *testing.T) {
		x := newTestIndex(t, newMemoryStore(t), newFakeEmbedder(), Options{})
		_, err := x.Add(t.Context(), makeDoc("h5", "five.txt", "a", "b", "c", "d", "e"))
		require.NoError(t, err)
		_, err = x.Add(t.Context(), makeDoc("other", "other.txt", "car engine"))
		require.NoError(t, err)

		removed, err := x.Delete(t.Context(), "h5")
		require.NoError(t, err)
		assert.Equal(t, 5, removed)
		exists, err := x.DocumentExists(t.Context(), "h5")
		require.NoError(t, err)
		assert.False(t, exists)

		_, err = x.Delete(t.Context(), "h5")
		var nf *knowledge.NotFoundError
		require.ErrorAs(t, err, &nf)
		assert.Equal(t, "h5", nf.ID)

		stats, err := x.Stats(t.Context())
		require.NoError(t, err)
		assert.Equal(t, 1, stats.TotalChunks)
		assert.Equal(t, 1, stats.UniqueDocuments)
	})

	t.Run("Should keep the document counter in step after seeding", func(t *testing.T) {
		x := newTestIndex(t, newMemoryStore(t), newFakeEmbedder(), Options{})
		stats, err := x.Stats(t.Context())
		require.NoError(t, err)
		assert.Zero(t, stats.UniqueDocuments)
		for i := range 3 {
			_, err := x.Add(t.Context(), makeDoc(fmt.Sprintf("h%d", i), "f.txt", "apple pie"))
			require.NoError(t, err)
		}
		_, err = x.Delete(t.Context(), "h1")
		require.NoError(t, err)
		stats, err = x.Stats(t.Context())
		require.NoError(t, err)
		assert.Equal(t, 2, stats.UniqueDocuments)
		assert.Equal(t, "test", stats.Collection)

		require.NoError(t, x.Reset(t.Context()))
		stats, err = x.Stats(t.Context())
		require.NoError(t, err)
		assert.Equal(t, Stats{Collection: "test"}, stats)
	})

	t.Run("Should recount after a resync", func(t *testing.T) {
		store := newMemoryStore(t)
		local := newTestIndex(t, store, newFakeEmbedder(), Options{})
		remote := newTestIndex(t, store, newFakeEmbedder(), Options{})
		stats, err := local.Stats(t.Context())
		require.NoError(t, err)
		assert.Zero(t, stats.UniqueDocuments)
		_, err = remote.Add(t.Context(), makeDoc("h1", "f.txt", "apple pie"))
		require.NoError(t, err)

		local.Resync()
		stats, err = local.Stats(t.Context())
		require.NoError(t, err)
		assert.Equal(t, 1, stats.UniqueDocuments)
	})
}

// pausingStore holds the first Distinct call until release is closed.
type pausingStore struct {
	vectordb.Store
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newPausingStore(t *testing.T) *pausingStore {
	return &pausingStore{
		Store:   newMemoryStore(t),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (p *pausingStore) Distinct(ctx context.Context, key string) (map[string]int, error) {
	counts, err := p.Store.Distinct(ctx, key)
	first := false
	p.once.Do(func() { first = true })
	if first {
		close(p.entered)
		<-p.release
	}
	return counts, err
}

func TestIndex_CounterConsistency(t *testing.T) {
	t.Run("Should count an add that lands while the counter is being seeded", func(t *testing.T) {
		store := newPausingStore(t)
		x := newTestIndex(t, store, newFakeEmbedder(), Options{})
		done := make(chan error, 1)
		go func() {
			_, err := x.Stats(t.Context())
			done <- err
		}()
		<-store.entered
		_, err := x.Add(t.Context(), makeDoc("h1", "f.txt", "apple pie"))
		require.NoError(t, err)
		close(store.release)
		require.NoError(t, <-done)

		stats, err := x.Stats(t.Context())
		require.NoError(t, err)
		assert.Equal(t, 1, stats.TotalChunks)
		assert.Equal(t, 1, stats.UniqueDocuments)
	})

	t.Run("Should not let a document listing overwrite the counter", func(t *testing.T) {
		store := newPausingStore(t)
		x := newTestIndex(t, store, newFakeEmbedder(), Options{})
		x.countMu.Lock()
		x.seeded = true
		x.countMu.Unlock()
		done := make(chan error, 1)
		go func() {
			_, err := x.Documents(t.Context())
			done <- err
		}()
		<-store.entered
		_, err := x.Add(t.Context(), makeDoc("h1", "f.txt", "apple pie"))
		require.NoError(t, err)
		close(store.release)
		require.NoError(t, <-done)

		stats, err := x.Stats(t.Context())
		require.NoError(t, err)
		assert.Equal(t, 1, stats.UniqueDocuments)
	})

	t.Run("Should recount after a failed write", func(t *testing.T) {
		failing := &failingStore{Store: newMemoryStore(t)}
		x := newTestIndex(t, failing, newFakeEmbedder(), Options{})
		_, err := x.Add(t.Context(), makeDoc("h1", "f.txt", "apple pie"))
		require.NoError(t, err)
		stats, err := x.Stats(t.Context())
		require.NoError(t, err)
		require.Equal(t, 1, stats.UniqueDocuments)

		failing.upsertErr = errors.New("disk full")
		_, err = x.Add(t.Context(), makeDoc("h2", "g.txt", "car engine"))
		require.Error(t, err)
		stats, err = x.Stats(t.Context())
		require.NoError(t, err)
		assert.Equal(t, 1, stats.UniqueDocuments)
	})
}

func TestIndex_Search(t *testing.T) {
	seed := func(t *testing.T) *Index {
		x := newTestIndex(t, newMemoryStore(t), newFakeEmbedder(), Options{})
		_, err := x.Add(t.Context(), makeDoc("fruit", "fruit.txt", "apple pie", "apple tart"))
		require.NoError(t, err)
		_, err = x.Add(t.Context(), makeDoc("cars", "cars.txt", "car engine"))
		require.NoError(t, err)
		return x
	}

	t.Run("Should rank by ascending distance with similarity as its complement", func(t *testing.T) {
		x := seed(t)
		results, err := x.Search(t.Context(), "apple query", 3, nil)
		require.NoError(t, err)
		require.Len(t, results, 3)
		assert.Equal(t, []string{"fruit_0", "fruit_1", "cars_0"}, []string{results[0].ID, results[1].ID, results[2].ID})
		for i, r := range results {
			assert.InDelta(t, 1-r.Distance, r.Similarity, 1e-9)
			if i > 0 {
				assert.GreaterOrEqual(t, r.Distance, results[i-1].Distance)
			}
		}
		assert.InDelta(t, 1.0, results[0].Similarity, 1e-6)
		assert.Equal(t, "apple pie", results[0].Text)
	})

	t.Run("Should apply metadata filters", func(t *testing.T) {
		x := seed(t)
		results, err := x.Search(t.Context(), "apple query", 5, map[string]string{MetaFileHash: "cars"})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "cars_0", results[0].ID)
	})

	t.Run("Should validate the query and k", func(t *testing.T) {
		x := seed(t)
		_, err := x.Search(t.Context(), "  ", 3, nil)
		assert.True(t, knowledge.IsInvalidInput(err))
		_, err = x.Search(t.Context(), "apple query", 0, nil)
		assert.True(t, knowledge.IsInvalidInput(err))
	})

	t.Run("Should find neighbours of a stored chunk without returning it", func(t *testing.T) {
		x := seed(t)
		results, err := x.FindSimilar(t.Context(), "fruit_0", 2)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, "fruit_1", results[0].ID)
		assert.Equal(t, "cars_0", results[1].ID)

		_, err = x.FindSimilar(t.Context(), "missing_0", 2)
		assert.True(t, knowledge.IsNotFound(err))
	})

	t.Run("Should list documents with their chunk counts", func(t *testing.T) {
		x := seed(t)
		docs, err := x.Documents(t.Context())
		require.NoError(t, err)
		require.Len(t, docs, 2)
		assert.Equal(t, DocumentInfo{
			Hash:      "cars",
			FileName:  "cars.txt",
			FilePath:  "/docs/cars.txt",
			FileType:  "text",
			Chunks:    1,
			IndexedAt: "2025-03-14T09:26:53Z",
		}, docs[0])
		assert.Equal(t, "fruit", docs[1].Hash)
		assert.Equal(t, 2, docs[1].Chunks)
	})
}

type failingStore struct {
	vectordb.Store
	idsErr    error
	upsertErr error
	block     bool
}

func (f *failingStore) IDs(ctx context.Context, filter map[string]string, limit int) ([]string, error) {
	if f.idsErr != nil {
		return nil, f.idsErr
	}
	return f.Store.IDs(ctx, filter, limit)
}

func (f *failingStore) Upsert(ctx context.Context, records []vectordb.Record) error {
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if f.upsertErr != nil {
		return f.upsertErr
	}
	return f.Store.Upsert(ctx, records)
}

func TestIndex_StoreFailures(t *testing.T) {
	t.Run("Should wrap engine failures with the operation name", func(t *testing.T) {
		cause := errors.New("connection refused")
		x := newTestIndex(t, &failingStore{Store: newMemoryStore(t), idsErr: cause}, newFakeEmbedder(), Options{})
		_, err := x.Add(t.Context(), makeDoc("h", "a.txt", "apple pie"))
		var se *knowledge.StoreError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, "exists", se.Op)
		assert.ErrorIs(t, err, cause)

		x = newTestIndex(t, &failingStore{Store: newMemoryStore(t), upsertErr: cause}, newFakeEmbedder(), Options{})
		_, err = x.Add(t.Context(), makeDoc("h", "a.txt", "apple pie"))
		require.ErrorAs(t, err, &se)
		assert.Equal(t, "upsert", se.Op)
	})

	t.Run("Should report a timeout distinct from store errors", func(t *testing.T) {
		x := newTestIndex(
			t,
			&failingStore{Store: newMemoryStore(t), block: true},
			newFakeEmbedder(),
			Options{StoreTimeout: 20 * time.Millisecond},
		)
		_, err := x.Add(t.Context(), makeDoc("h", "a.txt", "apple pie"))
		require.Error(t, err)
		assert.Equal(t, knowledge.KindTimeout, knowledge.KindOf(err))
		assert.False(t, knowledge.IsStore(err))
	})

	t.Run("Should require a store and an embedder", func(t *testing.T) {
		_, err := New(nil, newFakeEmbedder(), Options{})
		assert.Error(t, err)
		_, err = New(newMemoryStore(t), nil, Options{})
		assert.Error(t, err)
	})
}
