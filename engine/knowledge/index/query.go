package index

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"time"

	"github.com/compozy/ragpipe/engine/knowledge"
	"github.com/compozy/ragpipe/engine/knowledge/chunk"
	"github.com/compozy/ragpipe/engine/knowledge/vectordb"
)

// Result is one ranked chunk. Similarity is 1 - Distance, which holds for
// the cosine distance every vectordb provider reports.
type Result struct {
	ID         string         `json:"id"`
	Text       string         `json:"text"`
	Metadata   map[string]any `json:"metadata"`
	Distance   float64        `json:"distance"`
	Similarity float64        `json:"similarity"`
}

// Stats summarises the collection.
type Stats struct {
	TotalChunks     int    `json:"total_chunks"`
	UniqueDocuments int    `json:"unique_documents"`
	Collection      string `json:"collection"`
}

// DocumentInfo describes one indexed document.
type DocumentInfo struct {
	Hash      string `json:"hash"`
	FileName  string `json:"file_name"`
	FilePath  string `json:"file_path"`
	FileType  string `json:"file_type"`
	Chunks    int    `json:"chunks"`
	IndexedAt string `json:"indexed_at"`
}

// Search embeds query and returns up to k chunks by ascending distance.
func (x *Index) Search(ctx context.Context, query string, k int, filter map[string]string) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, knowledge.NewInvalidInput("query", "cannot be empty")
	}
	if k <= 0 {
		return nil, knowledge.NewInvalidInput("k", "must be greater than zero, got %d", k)
	}
	vector, err := x.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	return x.SearchVector(ctx, vector, k, filter)
}

// SearchVector ranks stored chunks against an already embedded query.
func (x *Index) SearchVector(ctx context.Context, vector []float32, k int, filter map[string]string) ([]Result, error) {
	start := time.Now()
	var matches []vectordb.Match
	err := x.run(ctx, "search", func(ctx context.Context) error {
		var err error
		matches, err = x.store.Search(ctx, vector, vectordb.SearchOptions{TopK: k, Filters: filter})
		return err
	})
	if err != nil {
		return nil, err
	}
	knowledge.RecordQueryLatency(ctx, x.opts.Collection, time.Since(start))
	return toResults(matches), nil
}

func toResults(matches []vectordb.Match) []Result {
	out := make([]Result, len(matches))
	for i, m := range matches {
		out[i] = Result{
			ID:         m.ID,
			Text:       m.Text,
			Metadata:   m.Metadata,
			Distance:   m.Distance,
			Similarity: 1 - m.Distance,
		}
	}
	return out
}

// FindSimilar returns the k nearest neighbours of a stored chunk, excluding
// the chunk itself. Nothing is re-embedded.
func (x *Index) FindSimilar(ctx context.Context, chunkID string, k int) ([]Result, error) {
	if strings.TrimSpace(chunkID) == "" {
		return nil, knowledge.NewInvalidInput("chunk_id", "is required")
	}
	if k <= 0 {
		return nil, knowledge.NewInvalidInput("k", "must be greater than zero, got %d", k)
	}
	var records []vectordb.Record
	if err := x.run(ctx, "get", func(ctx context.Context) error {
		var err error
		records, err = x.store.Get(ctx, []string{chunkID})
		return err
	}); err != nil {
		return nil, err
	}
	if len(records) == 0 || len(records[0].Embedding) == 0 {
		return nil, &knowledge.NotFoundError{Resource: "chunk", ID: chunkID}
	}
	results, err := x.SearchVector(ctx, records[0].Embedding, k+1, nil)
	if err != nil {
		return nil, err
	}
	results = slices.DeleteFunc(results, func(r Result) bool { return r.ID == chunkID })
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Stats reports the record count and the number of distinct documents. The
// document counter is seeded from the store once and then kept in step with
// Add, Delete and Reset.
func (x *Index) Stats(ctx context.Context) (Stats, error) {
	var total int
	if err := x.run(ctx, "count", func(ctx context.Context) error {
		var err error
		total, err = x.store.Count(ctx)
		return err
	}); err != nil {
		return Stats{}, err
	}
	unique, err := x.uniqueDocuments(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{TotalChunks: total, UniqueDocuments: unique, Collection: x.opts.Collection}, nil
}

const seedAttempts = 3

// uniqueDocuments seeds the counter from the store on first use. A seed is
// only kept when no write started or settled while Distinct ran; otherwise
// the store is read again. After seedAttempts busy reads the latest count is
// returned unseeded.
func (x *Index) uniqueDocuments(ctx context.Context) (int, error) {
	var n int
	for range seedAttempts {
		x.countMu.Lock()
		if x.seeded {
			n = x.unique
			x.countMu.Unlock()
			return n, nil
		}
		gen, quiet := x.gen, x.inflight == 0
		x.countMu.Unlock()
		counts, err := x.distinctHashes(ctx)
		if err != nil {
			return 0, err
		}
		n = len(counts)
		x.countMu.Lock()
		if x.seeded {
			n = x.unique
			x.countMu.Unlock()
			return n, nil
		}
		if quiet && x.gen == gen {
			x.seeded = true
			x.unique = n
			x.countMu.Unlock()
			return n, nil
		}
		x.countMu.Unlock()
	}
	return n, nil
}

func (x *Index) distinctHashes(ctx context.Context) (map[string]int, error) {
	var counts map[string]int
	err := x.run(ctx, "distinct", func(ctx context.Context) error {
		var err error
		counts, err = x.store.Distinct(ctx, MetaFileHash)
		return err
	})
	return counts, err
}

// Documents lists indexed documents ordered by file name. Descriptive fields
// come from each document's first chunk.
func (x *Index) Documents(ctx context.Context) ([]DocumentInfo, error) {
	counts, err := x.distinctHashes(ctx)
	if err != nil {
		return nil, err
	}
	if len(counts) == 0 {
		return []DocumentInfo{}, nil
	}
	ids := make([]string, 0, len(counts))
	for hash := range counts {
		ids = append(ids, chunk.ChunkID(hash, 0))
	}
	var records []vectordb.Record
	if err := x.run(ctx, "get", func(ctx context.Context) error {
		var err error
		records, err = x.store.Get(ctx, ids)
		return err
	}); err != nil {
		return nil, err
	}
	byHash := make(map[string]vectordb.Record, len(records))
	for _, rec := range records {
		if h, ok := rec.Metadata[MetaFileHash].(string); ok {
			byHash[h] = rec
		}
	}
	docs := make([]DocumentInfo, 0, len(counts))
	for hash, n := range counts {
		info := DocumentInfo{Hash: hash, Chunks: n}
		if rec, ok := byHash[hash]; ok {
			info.FileName = metaString(rec.Metadata, MetaFileName)
			info.FilePath = metaString(rec.Metadata, MetaFilePath)
			info.FileType = metaString(rec.Metadata, MetaFileType)
			info.IndexedAt = metaString(rec.Metadata, MetaIndexedAt)
		}
		docs = append(docs, info)
	}
	slices.SortFunc(docs, func(a, b DocumentInfo) int {
		return cmp.Or(cmp.Compare(a.FileName, b.FileName), cmp.Compare(a.Hash, b.Hash))
	})
	return docs, nil
}

func metaString(meta map[string]any, key string) string {
	v, _ := meta[key].(string)
	return v
}
