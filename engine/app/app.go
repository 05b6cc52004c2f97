// Package app assembles the ingestion and retrieval services from the
// application configuration and exposes the operations shared by the CLI,
// the HTTP server and the MCP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/compozy/ragpipe/engine/infra/cache"
	"github.com/compozy/ragpipe/engine/knowledge"
	"github.com/compozy/ragpipe/engine/knowledge/chunk"
	"github.com/compozy/ragpipe/engine/knowledge/document"
	"github.com/compozy/ragpipe/engine/knowledge/embedder"
	"github.com/compozy/ragpipe/engine/knowledge/index"
	"github.com/compozy/ragpipe/engine/knowledge/ingest"
	"github.com/compozy/ragpipe/engine/knowledge/retriever"
	"github.com/compozy/ragpipe/engine/knowledge/vectordb"
	"github.com/compozy/ragpipe/engine/llm"
	"github.com/compozy/ragpipe/engine/uploads"
	appconfig "github.com/compozy/ragpipe/pkg/config"
	"github.com/compozy/ragpipe/pkg/logger"
)

const healthTimeout = 3 * time.Second

// App owns every long lived collaborator of the pipeline.
type App struct {
	Config    *appconfig.Config
	Store     vectordb.Store
	Embedder  *embedder.Generator
	Processor *document.Processor
	Index     *index.Index
	Retriever *retriever.Service
	Pipeline  *ingest.Pipeline
	Uploads   *uploads.Store
	LLM       *llm.Client
	// Cache is nil unless a redis URL is configured.
	Cache *cache.Cache

	feed     *changeFeed
	cleanups []func(context.Context) error
}

// Setup builds the application. On failure everything created so far is
// released before the error is returned.
func Setup(ctx context.Context, cfg *appconfig.Config) (_ *App, err error) {
	if cfg == nil {
		return nil, errors.New("app: configuration is required")
	}
	log := logger.FromContext(ctx)
	started := time.Now()
	a := &App{Config: cfg}
	defer func() {
		if err != nil {
			if cerr := a.Close(context.WithoutCancel(ctx)); cerr != nil {
				log.Warn("Failed to release partially built application", "error", cerr)
			}
		}
	}()
	if err := a.setupCache(ctx); err != nil {
		return nil, err
	}
	if err := a.setupKnowledge(ctx); err != nil {
		return nil, err
	}
	if err := a.setupServices(); err != nil {
		return nil, err
	}
	if err := a.setupChangeFeed(ctx); err != nil {
		return nil, fmt.Errorf("failed to subscribe to collection changes: %w", err)
	}
	log.Info(
		"Application ready",
		"vector_provider", cfg.Vector.Provider,
		"collection", cfg.Vector.Collection,
		"embedding", cfg.Embedding.Provider,
		"fallback", cfg.Embedding.FallbackProvider,
		"model", cfg.Ollama.Model,
		"distributed_locks", a.Cache != nil,
		"duration", time.Since(started),
	)
	return a, nil
}

func (a *App) setupCache(ctx context.Context) error {
	cacheCfg := cache.FromAppConfig(a.Config)
	if !cacheCfg.Enabled() {
		return nil
	}
	c, err := cache.SetupCache(ctx, cacheCfg)
	if err != nil {
		return fmt.Errorf("failed to setup redis: %w", err)
	}
	a.Cache = c
	a.cleanups = append(a.cleanups, func(context.Context) error { return c.Close() })
	return nil
}

func (a *App) setupKnowledge(ctx context.Context) error {
	cfg := a.Config
	store, err := vectordb.New(ctx, vectordb.FromAppConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to open vector store: %w", err)
	}
	a.Store = store
	a.cleanups = append(a.cleanups, store.Close)
	gen, err := embedder.FromConfig(cfg)
	if err != nil {
		return fmt.Errorf("failed to build embedder: %w", err)
	}
	a.Embedder = gen
	chunker, err := chunk.NewChunker(chunk.Settings{
		Size:              cfg.Chunking.Size,
		Overlap:           cfg.Chunking.Overlap,
		NormalizeNewlines: true,
	}, nil)
	if err != nil {
		return err
	}
	processor, err := document.NewProcessor(chunker, document.Options{
		MaxFileSize:     cfg.Uploads.MaxFileSize,
		MaxChunksPerDoc: cfg.Chunking.MaxChunksPerDoc,
	})
	if err != nil {
		return err
	}
	a.Processor = processor
	opts := index.OptionsFromConfig(cfg)
	if a.Cache != nil {
		opts.Locks = a.Cache.LockManager
	}
	idx, err := index.New(store, gen, opts)
	if err != nil {
		return err
	}
	a.Index = idx
	return nil
}

func (a *App) setupServices() error {
	cfg := a.Config
	client, err := llm.FromConfig(cfg)
	if err != nil {
		return fmt.Errorf("failed to build llm client: %w", err)
	}
	a.LLM = client
	svc, err := retriever.NewService(a.Index, client, a.Processor.Chunker(), retriever.OptionsFromConfig(cfg))
	if err != nil {
		return err
	}
	a.Retriever = svc
	a.cleanups = append(a.cleanups, func(context.Context) error {
		svc.Close()
		return nil
	})
	pipeline, err := ingest.NewPipeline(a.Processor, a.Index, ingest.OptionsFromConfig(cfg))
	if err != nil {
		return err
	}
	a.Pipeline = pipeline
	store, err := uploads.NewStore(a.Processor, uploads.OptionsFromConfig(cfg))
	if err != nil {
		return err
	}
	a.Uploads = store
	return nil
}

// Close releases resources in reverse creation order.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.cleanups) - 1; i >= 0; i-- {
		if err := a.cleanups[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.cleanups = nil
	return errors.Join(errs...)
}

// IngestPaths ingests files, directories and globs and drops cached
// retrievals when anything new was indexed.
func (a *App) IngestPaths(ctx context.Context, paths []string) (*ingest.Report, error) {
	report, err := a.Pipeline.IngestPaths(ctx, paths)
	if report != nil && report.Added > 0 {
		a.changed(ChangeAdded, "")
	}
	return report, err
}

// IngestFile ingests a single file.
func (a *App) IngestFile(ctx context.Context, path string) ingest.FileResult {
	res := a.Pipeline.IngestFile(ctx, path)
	if res.Status == ingest.StatusAdded {
		a.changed(ChangeAdded, res.Hash)
	}
	return res
}

// UploadResult pairs the stored file with its ingestion outcome.
type UploadResult struct {
	File   *uploads.File     `json:"file"`
	Ingest ingest.FileResult `json:"ingest"`
}

// Upload stores content in the upload directory and ingests it. The file is
// kept when ingestion fails so it can be processed again later.
func (a *App) Upload(ctx context.Context, name string, content io.Reader) (*UploadResult, error) {
	file, err := a.Uploads.Save(ctx, name, content)
	if err != nil {
		return nil, err
	}
	return &UploadResult{File: file, Ingest: a.IngestFile(ctx, file.Path)}, nil
}

// DeleteDocument removes every chunk of a document.
func (a *App) DeleteDocument(ctx context.Context, hash string) (int, error) {
	n, err := a.Index.Delete(ctx, hash)
	if err != nil {
		return 0, err
	}
	a.changed(ChangeDeleted, hash)
	return n, nil
}

// Reset empties the collection.
func (a *App) Reset(ctx context.Context) error {
	if err := a.Index.Reset(ctx); err != nil {
		return err
	}
	a.changed(ChangeReset, "")
	return nil
}

// Search returns up to k chunks closest to query.
func (a *App) Search(ctx context.Context, query string, k int, filter map[string]string) ([]index.Result, error) {
	return a.Index.Search(ctx, query, k, filter)
}

// Retrieve returns the contexts above the similarity threshold for query.
func (a *App) Retrieve(
	ctx context.Context,
	query string,
	k int,
	filter map[string]string,
) ([]knowledge.RetrievedContext, error) {
	return a.Retriever.Retrieve(ctx, query, k, filter)
}

// FindSimilar returns the chunks closest to a stored chunk.
func (a *App) FindSimilar(ctx context.Context, chunkID string, k int) ([]index.Result, error) {
	return a.Index.FindSimilar(ctx, chunkID, k)
}

func (a *App) Stats(ctx context.Context) (index.Stats, error) {
	return a.Index.Stats(ctx)
}

func (a *App) Documents(ctx context.Context) ([]index.DocumentInfo, error) {
	return a.Index.Documents(ctx)
}

// Ask answers question from the indexed documents.
func (a *App) Ask(ctx context.Context, question string, opts retriever.AnswerOptions) (*retriever.Answer, error) {
	return a.Retriever.Answer(ctx, question, opts)
}

// AskStream is Ask with fragments delivered to fn as they are generated.
func (a *App) AskStream(
	ctx context.Context,
	question string,
	opts retriever.AnswerOptions,
	fn func(fragment string) error,
) ([]retriever.Source, error) {
	return a.Retriever.AnswerStream(ctx, question, opts, fn)
}

func (a *App) ListUploads(ctx context.Context) ([]uploads.File, error) {
	return a.Uploads.List(ctx)
}

func (a *App) DeleteUpload(ctx context.Context, name string) error {
	return a.Uploads.Delete(ctx, name)
}

// NewWatcher builds a watcher over the upload directory.
func (a *App) NewWatcher(opts ingest.WatchOptions) (*ingest.Watcher, error) {
	if opts.Debounce == 0 && opts.RescanSchedule == "" {
		defaults := ingest.WatchOptionsFromConfig(a.Config)
		opts.Debounce = defaults.Debounce
		opts.RescanSchedule = defaults.RescanSchedule
	}
	inner := opts.OnResult
	opts.OnResult = func(res ingest.FileResult) {
		if res.Status == ingest.StatusAdded {
			a.changed(ChangeAdded, res.Hash)
		}
		if inner != nil {
			inner(res)
		}
	}
	return ingest.NewWatcher(a.Pipeline, a.Uploads.Dir(), opts)
}

// ComponentHealth is the state of one dependency.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// Health reports the reachability of every dependency.
type Health struct {
	Healthy   bool                       `json:"healthy"`
	Chunks    int                        `json:"chunks"`
	Embedder  string                     `json:"embedder"`
	Demoted   bool                       `json:"embedder_demoted"`
	Component map[string]ComponentHealth `json:"components"`
}

// CheckHealth probes the vector store, the generation backend and redis.
// Only the vector store is required for the application to be healthy.
func (a *App) CheckHealth(ctx context.Context) Health {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	h := Health{
		Healthy:   true,
		Embedder:  a.Embedder.Active().Name(),
		Demoted:   a.Embedder.Demoted(),
		Component: make(map[string]ComponentHealth),
	}
	count, err := a.Store.Count(ctx)
	if err != nil {
		h.Healthy = false
		h.Component["vector_store"] = ComponentHealth{Detail: err.Error()}
	} else {
		h.Chunks = count
		h.Component["vector_store"] = ComponentHealth{Healthy: true}
	}
	if err := a.LLM.Ping(ctx); err != nil {
		h.Component["ollama"] = ComponentHealth{Detail: err.Error()}
	} else {
		h.Component["ollama"] = ComponentHealth{Healthy: true}
	}
	if a.Cache != nil {
		if err := a.Cache.HealthCheck(ctx); err != nil {
			h.Component["redis"] = ComponentHealth{Detail: err.Error()}
		} else {
			h.Component["redis"] = ComponentHealth{Healthy: true}
		}
	}
	return h
}
