package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/ksuid"
	"github.com/sethvargo/go-retry"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/compozy/ragpipe/engine/knowledge"
	"github.com/compozy/ragpipe/engine/knowledge/document"
	"github.com/compozy/ragpipe/engine/knowledge/index"
	appconfig "github.com/compozy/ragpipe/pkg/config"
	"github.com/compozy/ragpipe/pkg/logger"
)

const (
	defaultConcurrency  = 2
	defaultRetryBackoff = 200 * time.Millisecond
)

// Status is the outcome of ingesting one file.
type Status string

const (
	StatusAdded     Status = "added"
	StatusDuplicate Status = "duplicate"
	StatusFailed    Status = "failed"
)

// Processor turns a file into a chunked document.
type Processor interface {
	Process(ctx context.Context, path string) (*document.ProcessedDocument, error)
	Supports(path string) bool
}

// Indexer stores a processed document.
type Indexer interface {
	Add(ctx context.Context, doc *document.ProcessedDocument) (index.AddResult, error)
}

// Options controls ingestion execution details.
type Options struct {
	// FS resolves directories and globs. Defaults to the OS filesystem.
	FS            afero.Fs
	Concurrency   int
	RetryAttempts int
	RetryBackoff  time.Duration
}

// OptionsFromConfig maps the ingest section of the application configuration.
func OptionsFromConfig(cfg *appconfig.Config) Options {
	if cfg == nil {
		return Options{}
	}
	return Options{
		Concurrency:   cfg.Ingest.Concurrency,
		RetryAttempts: cfg.Ingest.RetryAttempts,
		RetryBackoff:  cfg.Ingest.RetryBackoff,
	}
}

// FileResult reports what happened to a single file.
type FileResult struct {
	Path     string        `json:"path"`
	Hash     string        `json:"hash,omitempty"`
	Chunks   int           `json:"chunks"`
	Tokens   int           `json:"tokens"`
	Status   Status        `json:"status"`
	Error    error         `json:"-"`
	Duration time.Duration `json:"duration"`
}

// Message renders the error for transports that cannot carry error values.
func (r FileResult) Message() string {
	if r.Error == nil {
		return ""
	}
	return r.Error.Error()
}

// Report summarizes an IngestPaths run.
type Report struct {
	RunID      string       `json:"run_id"`
	Files      []FileResult `json:"files"`
	Added      int          `json:"added"`
	Duplicates int          `json:"duplicates"`
	Failed     int          `json:"failed"`
	Chunks     int          `json:"chunks"`
	Tokens     int          `json:"tokens"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
}

func (r *Report) add(res FileResult) {
	r.Files = append(r.Files, res)
	switch res.Status {
	case StatusAdded:
		r.Added++
		r.Chunks += res.Chunks
		r.Tokens += res.Tokens
	case StatusDuplicate:
		r.Duplicates++
	case StatusFailed:
		r.Failed++
	}
}

// Pipeline runs files through the processor and into the index.
type Pipeline struct {
	processor Processor
	index     Indexer
	fs        afero.Fs
	opts      Options
}

func NewPipeline(processor Processor, idx Indexer, opts Options) (*Pipeline, error) {
	if processor == nil {
		return nil, errors.New("ingest: document processor is required")
	}
	if idx == nil {
		return nil, errors.New("ingest: index is required")
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.RetryAttempts < 0 {
		opts.RetryAttempts = 0
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = defaultRetryBackoff
	}
	fs := opts.FS
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Pipeline{processor: processor, index: idx, fs: fs, opts: opts}, nil
}

// Supports reports whether path has a registered extractor.
func (p *Pipeline) Supports(path string) bool {
	return p.processor.Supports(path)
}

// IngestFile processes and indexes one file. Failures are reported in the
// result, never returned, so a caller looping over files keeps going.
func (p *Pipeline) IngestFile(ctx context.Context, path string) FileResult {
	started := time.Now()
	log := logger.FromContext(ctx).With("path", path)
	res := FileResult{Path: path}
	defer func() {
		res.Duration = time.Since(started)
		knowledge.RecordIngestDuration(ctx, string(res.Status), res.Duration)
	}()
	doc, err := p.processor.Process(ctx, path)
	if err != nil {
		res.Status = StatusFailed
		res.Error = err
		log.Warn("Failed to process document", "error", err, "kind", knowledge.KindOf(err))
		return res
	}
	res.Hash = doc.ContentHash
	added, err := p.addWithRetry(ctx, doc)
	switch {
	case err == nil:
		res.Status = StatusAdded
		res.Chunks = added.ChunksAdded
		res.Tokens = added.TotalTokens
		log.Info("Document ingested", "hash", res.Hash, "chunks", res.Chunks, "tokens", res.Tokens)
	case knowledge.IsDuplicate(err):
		res.Status = StatusDuplicate
		res.Error = err
		log.Info("Document already indexed", "hash", res.Hash)
	default:
		res.Status = StatusFailed
		res.Error = err
		log.Error("Failed to index document", "hash", res.Hash, "error", err, "kind", knowledge.KindOf(err))
	}
	return res
}

func (p *Pipeline) addWithRetry(ctx context.Context, doc *document.ProcessedDocument) (index.AddResult, error) {
	if p.opts.RetryAttempts == 0 {
		return p.index.Add(ctx, doc)
	}
	var out index.AddResult
	backoff := retry.WithMaxRetries(uint64(p.opts.RetryAttempts), retry.NewExponential(p.opts.RetryBackoff))
	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		res, err := p.index.Add(ctx, doc)
		if err == nil {
			out = res
			return nil
		}
		if transient(err) {
			logger.FromContext(ctx).Warn(
				"Retrying document indexing",
				"hash", doc.ContentHash,
				"attempt", attempt,
				"error", err,
			)
			return retry.RetryableError(err)
		}
		return err
	})
	return out, err
}

// transient marks failures of the vector engine that may succeed on a
// later attempt. Duplicates, bad input and embedding failures never do.
func transient(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	return knowledge.IsStore(err) || knowledge.IsTimeout(err)
}

// IngestPaths expands files, directories and glob patterns and ingests every
// match with bounded concurrency. The report lists files in expansion order.
// The returned error is non-nil only for unusable patterns or cancellation.
func (p *Pipeline) IngestPaths(ctx context.Context, paths []string) (*Report, error) {
	runID := ksuid.New().String()
	log := logger.FromContext(ctx).With("run_id", runID)
	ctx = logger.ContextWithLogger(ctx, log)
	report := &Report{RunID: runID, StartedAt: time.Now()}
	files, err := p.Expand(ctx, paths)
	if err != nil {
		return nil, err
	}
	log.Info("Starting ingestion run", "files", len(files), "concurrency", p.opts.Concurrency)
	results := make([]FileResult, len(files))
	var mu sync.Mutex
	done := 0
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)
	for i, path := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i] = FileResult{Path: path, Status: StatusFailed, Error: err}
				return nil
			}
			results[i] = p.IngestFile(gctx, path)
			mu.Lock()
			done++
			log.Debug("Ingestion progress", "done", done, "total", len(files))
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	for i := range results {
		report.add(results[i])
	}
	report.FinishedAt = time.Now()
	log.Info(
		"Ingestion run finished",
		"added", report.Added,
		"duplicates", report.Duplicates,
		"failed", report.Failed,
		"chunks", report.Chunks,
		"duration", report.FinishedAt.Sub(report.StartedAt),
	)
	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("ingestion run %s interrupted: %w", runID, err)
	}
	return report, nil
}
