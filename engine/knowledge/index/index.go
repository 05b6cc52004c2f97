// Package index keeps processed documents in a vector store keyed by content
// hash. A hash is indexed at most once; re-adding it reports a duplicate.
package index

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/slok/goresilience"
	reserrors "github.com/slok/goresilience/errors"
	"github.com/slok/goresilience/timeout"

	"github.com/compozy/ragpipe/engine/infra/cache"
	"github.com/compozy/ragpipe/engine/knowledge"
	"github.com/compozy/ragpipe/engine/knowledge/chunk"
	"github.com/compozy/ragpipe/engine/knowledge/document"
	"github.com/compozy/ragpipe/engine/knowledge/vectordb"
	appconfig "github.com/compozy/ragpipe/pkg/config"
	"github.com/compozy/ragpipe/pkg/logger"
)

// Record metadata keys.
const (
	MetaFileHash        = document.MetaFileHash
	MetaFilePath        = document.MetaFilePath
	MetaFileName        = document.MetaFileName
	MetaChunkIndex      = chunk.MetaChunkIndex
	MetaTotalChunks     = chunk.MetaTotalChunks
	MetaChunkTokenCount = chunk.MetaChunkTokenCount
	MetaFileType        = "file_type"
	MetaIndexedAt       = "indexed_at"
	MetaPageNumber      = "page_number"
)

// Embedder produces vectors for chunk texts and queries.
type Embedder interface {
	BatchEmbed(ctx context.Context, texts []string, batchSize int) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Options tunes an Index.
type Options struct {
	// Collection names the underlying collection in stats and metrics.
	Collection string
	// StoreTimeout bounds every vector store call. Zero disables the bound.
	StoreTimeout time.Duration
	// BatchSize is handed to the embedder; zero uses its default.
	BatchSize int
	// Locks adds a cross-process lock around ingestion of a hash.
	Locks   cache.LockManager
	LockTTL time.Duration
	// Now overrides the clock used for indexed_at.
	Now func() time.Time
}

// OptionsFromConfig maps the application configuration.
func OptionsFromConfig(cfg *appconfig.Config) Options {
	if cfg == nil {
		return Options{}
	}
	return Options{
		Collection:   cfg.Vector.Collection,
		StoreTimeout: cfg.Vector.Timeout,
		BatchSize:    cfg.Embedding.BatchSize,
		LockTTL:      cfg.Redis.LockTTL,
	}
}

// AddResult reports a successful Add.
type AddResult struct {
	Hash        string    `json:"hash"`
	Path        string    `json:"path"`
	ChunksAdded int       `json:"chunks_added"`
	TotalTokens int       `json:"total_tokens"`
	IndexedAt   time.Time `json:"indexed_at"`
}

// Index is the content-addressed document index.
type Index struct {
	store    vectordb.Store
	embedder Embedder
	opts     Options
	runner   goresilience.Runner
	keyed    *keyedMutex

	// unique is valid only while seeded. gen advances on every write to
	// the store and inflight counts writes that have not settled yet, so a
	// seed read from the store is kept only when neither moved under it.
	countMu  sync.Mutex
	seeded   bool
	unique   int
	gen      uint64
	inflight int
}

func New(store vectordb.Store, embedder Embedder, opts Options) (*Index, error) {
	if store == nil {
		return nil, errors.New("index requires a vector store")
	}
	if embedder == nil {
		return nil, errors.New("index requires an embedder")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	x := &Index{store: store, embedder: embedder, opts: opts, keyed: newKeyedMutex()}
	if opts.StoreTimeout > 0 {
		x.runner = goresilience.RunnerChain(timeout.NewMiddleware(timeout.Config{Timeout: opts.StoreTimeout}))
	}
	return x, nil
}

// Collection returns the configured collection name.
func (x *Index) Collection() string {
	return x.opts.Collection
}

// Add embeds and stores every chunk of doc. The duplicate check, embedding
// and write run under the hash lock, so concurrent adds of the same content
// store it once.
func (x *Index) Add(ctx context.Context, doc *document.ProcessedDocument) (AddResult, error) {
	if doc == nil {
		return AddResult{}, knowledge.NewInvalidInput("document", "is required")
	}
	hash := strings.TrimSpace(doc.ContentHash)
	if hash == "" {
		return AddResult{}, knowledge.NewInvalidInput("content_hash", "is required")
	}
	if len(doc.Chunks) == 0 {
		return AddResult{}, knowledge.NewInvalidInput("document", "%s produced no chunks", doc.SourcePath)
	}
	unlock, err := x.lockHash(ctx, hash)
	if err != nil {
		return AddResult{}, err
	}
	defer unlock()

	exists, err := x.DocumentExists(ctx, hash)
	if err != nil {
		return AddResult{}, err
	}
	if exists {
		return AddResult{}, &knowledge.DuplicateDocumentError{Hash: hash, Path: doc.SourcePath}
	}
	texts := make([]string, len(doc.Chunks))
	for i := range doc.Chunks {
		texts[i] = doc.Chunks[i].Text
	}
	vectors, err := x.embedder.BatchEmbed(ctx, texts, x.opts.BatchSize)
	if err != nil {
		return AddResult{}, err
	}
	if len(vectors) != len(texts) {
		return AddResult{}, &knowledge.EmbeddingError{
			Cause: fmt.Errorf("expected %d vectors, got %d", len(texts), len(vectors)),
		}
	}
	indexedAt := x.opts.Now().UTC().Truncate(time.Second)
	records := buildRecords(doc, hash, vectors, indexedAt)
	x.beginWrite()
	if err := x.run(ctx, "upsert", func(ctx context.Context) error {
		return x.store.Upsert(ctx, records)
	}); err != nil {
		x.endWrite(0, false)
		return AddResult{}, err
	}
	x.endWrite(1, true)
	knowledge.RecordIngestChunks(ctx, x.opts.Collection, len(records))
	logger.FromContext(ctx).Info("Document indexed",
		"hash", hash,
		"path", doc.SourcePath,
		"chunks", len(records),
	)
	return AddResult{
		Hash:        hash,
		Path:        doc.SourcePath,
		ChunksAdded: len(records),
		TotalTokens: doc.TotalTokens,
		IndexedAt:   indexedAt,
	}, nil
}

func buildRecords(doc *document.ProcessedDocument, hash string, vectors [][]float32, at time.Time) []vectordb.Record {
	records := make([]vectordb.Record, len(doc.Chunks))
	stamp := at.Format(time.RFC3339)
	for i := range doc.Chunks {
		ch := &doc.Chunks[i]
		meta := map[string]any{
			MetaFileHash:        hash,
			MetaFilePath:        doc.SourcePath,
			MetaFileName:        doc.FileName(),
			MetaChunkIndex:      ch.Index,
			MetaTotalChunks:     len(doc.Chunks),
			MetaChunkTokenCount: ch.TokenCount,
			MetaFileType:        doc.FileType(),
			MetaIndexedAt:       stamp,
		}
		if page, ok := ch.Metadata[MetaPageNumber]; ok {
			meta[MetaPageNumber] = page
		}
		id := ch.ID
		if id == "" {
			id = chunk.ChunkID(hash, ch.Index)
		}
		records[i] = vectordb.Record{ID: id, Text: ch.Text, Embedding: vectors[i], Metadata: meta}
	}
	return records
}

// DocumentExists probes for a single record carrying hash.
func (x *Index) DocumentExists(ctx context.Context, hash string) (bool, error) {
	var ids []string
	err := x.run(ctx, "exists", func(ctx context.Context) error {
		var err error
		ids, err = x.store.IDs(ctx, map[string]string{MetaFileHash: hash}, 1)
		return err
	})
	if err != nil {
		return false, err
	}
	return len(ids) > 0, nil
}

// Delete removes every record of hash and returns how many were removed.
func (x *Index) Delete(ctx context.Context, hash string) (int, error) {
	hash = strings.TrimSpace(hash)
	if hash == "" {
		return 0, knowledge.NewInvalidInput("content_hash", "is required")
	}
	unlock, err := x.lockHash(ctx, hash)
	if err != nil {
		return 0, err
	}
	defer unlock()
	var ids []string
	if err := x.run(ctx, "list", func(ctx context.Context) error {
		var err error
		ids, err = x.store.IDs(ctx, map[string]string{MetaFileHash: hash}, 0)
		return err
	}); err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, &knowledge.NotFoundError{Resource: "document", ID: hash}
	}
	x.beginWrite()
	if err := x.run(ctx, "delete", func(ctx context.Context) error {
		return x.store.Delete(ctx, ids)
	}); err != nil {
		x.endWrite(0, false)
		return 0, err
	}
	x.endWrite(-1, true)
	logger.FromContext(ctx).Info("Document deleted", "hash", hash, "chunks", len(ids))
	return len(ids), nil
}

// Reset drops every record of the collection.
func (x *Index) Reset(ctx context.Context) error {
	if err := x.run(ctx, "reset", x.store.Reset); err != nil {
		return err
	}
	x.countMu.Lock()
	x.seeded = true
	x.unique = 0
	x.gen++
	x.countMu.Unlock()
	logger.FromContext(ctx).Warn("Collection reset", "collection", x.opts.Collection)
	return nil
}

// Resync makes the next Stats recount documents from the store. Used when
// another process changed the collection.
func (x *Index) Resync() {
	x.countMu.Lock()
	x.seeded = false
	x.unique = 0
	x.gen++
	x.countMu.Unlock()
}

func (x *Index) beginWrite() {
	x.countMu.Lock()
	x.inflight++
	x.gen++
	x.countMu.Unlock()
}

// endWrite settles a write started by beginWrite. A failed write may have
// landed partially, so the counter is dropped and recounted on demand.
func (x *Index) endWrite(delta int, ok bool) {
	x.countMu.Lock()
	defer x.countMu.Unlock()
	x.inflight--
	x.gen++
	if !ok {
		x.seeded = false
		return
	}
	if x.seeded {
		x.unique = max(0, x.unique+delta)
	}
}

// run executes one store call under the configured timeout and maps its
// failure onto the error taxonomy.
func (x *Index) run(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var err error
	if x.runner == nil {
		err = fn(ctx)
	} else {
		err = x.runner.Run(ctx, fn)
	}
	if err == nil {
		return nil
	}
	if errors.Is(err, reserrors.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return &knowledge.TimeoutError{Op: "vector store " + op, Timeout: x.opts.StoreTimeout, Cause: err}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &knowledge.StoreError{Op: op, Cause: err}
}
