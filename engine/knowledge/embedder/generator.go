package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/slok/goresilience"
	reserrors "github.com/slok/goresilience/errors"
	"github.com/slok/goresilience/timeout"
	"golang.org/x/sync/errgroup"

	"github.com/compozy/ragpipe/engine/knowledge"
	"github.com/compozy/ragpipe/pkg/logger"
)

// Options tunes a Generator. Zero values select defaults.
type Options struct {
	// Timeout bounds every backend call. Zero disables the bound.
	Timeout time.Duration

	BatchSize int
	CacheSize int

	// Concurrency limits how many batches BatchEmbed runs at once.
	Concurrency int

	// FallbackOnAnyError demotes the primary on every failure, request
	// errors included.
	FallbackOnAnyError bool
}

const defaultBatchSize = 32

// Generator embeds text on the primary backend until the first recoverable
// failure, then permanently on the fallback.
type Generator struct {
	primary  Backend
	fallback Backend
	demoted  atomic.Bool
	opts     Options
	runner   goresilience.Runner
	cacheMu  sync.Mutex
	cache    *lru.Cache[string, []float32]
}

// NewGenerator builds a generator. fallback may be nil.
func NewGenerator(primary, fallback Backend, opts Options) (*Generator, error) {
	if primary == nil {
		return nil, errors.New("embedding generator requires a primary backend")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	g := &Generator{primary: primary, fallback: fallback, opts: opts}
	if opts.Timeout > 0 {
		g.runner = goresilience.RunnerChain(timeout.NewMiddleware(timeout.Config{Timeout: opts.Timeout}))
	}
	if opts.CacheSize > 0 {
		cache, err := lru.New[string, []float32](opts.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("init embedding cache: %w", err)
		}
		g.cache = cache
	}
	return g, nil
}

// Active returns the backend currently serving requests.
func (g *Generator) Active() Backend {
	if g.demoted.Load() && g.fallback != nil {
		return g.fallback
	}
	return g.primary
}

// Demoted reports whether the fallback has taken over.
func (g *Generator) Demoted() bool {
	return g.demoted.Load()
}

// Dimension is the vector width of the active backend.
func (g *Generator) Dimension() int {
	return g.Active().Dimension()
}

// BatchSize returns the default slice size used by BatchEmbed.
func (g *Generator) BatchSize() int {
	return g.opts.BatchSize
}

// EmbedQuery embeds a single text.
func (g *Generator) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := g.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// Embed returns one vector per text in input order. Empty input yields an
// empty result without contacting any backend.
func (g *Generator) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, _, err := g.embed(ctx, texts)
	return vectors, err
}

// embed also reports the backend that produced every returned vector.
func (g *Generator) embed(ctx context.Context, texts []string) ([][]float32, Backend, error) {
	backend := g.Active()
	if len(texts) == 0 {
		return [][]float32{}, backend, nil
	}
	results := make([][]float32, len(texts))
	missing := g.fromCache(ctx, backend, texts, results)
	if len(missing) == 0 {
		return results, backend, nil
	}
	pending := make([]string, len(missing))
	for i, idx := range missing {
		pending[i] = texts[idx]
	}
	vectors, served, err := g.embedWithFallback(ctx, backend, pending)
	if err != nil {
		return nil, nil, err
	}
	for i, idx := range missing {
		results[idx] = vectors[i]
		g.storeCache(served, pending[i], vectors[i])
	}
	if served != backend && len(missing) < len(texts) {
		// cache hits belong to the demoted backend; redo them on the fallback
		return g.embed(ctx, texts)
	}
	return results, served, nil
}

// BatchEmbed embeds texts in contiguous slices of batchSize and concatenates
// the results in input order. Slices may run concurrently. When the primary
// is demoted mid-run, slices it already served are embedded again on the
// fallback so every returned vector comes from one backend.
func (g *Generator) BatchEmbed(ctx context.Context, texts []string, batchSize int) ([][]float32, error) {
	if batchSize <= 0 {
		batchSize = g.opts.BatchSize
	}
	if len(texts) <= batchSize {
		return g.Embed(ctx, texts)
	}
	results := make([][]float32, len(texts))
	starts := make([]int, 0, len(texts)/batchSize+1)
	for start := 0; start < len(texts); start += batchSize {
		starts = append(starts, start)
	}
	served := make([]Backend, len(starts))
	if err := g.embedSlices(ctx, texts, batchSize, starts, results, served); err != nil {
		return nil, err
	}
	if !g.Demoted() || g.fallback == nil {
		return results, nil
	}
	stale := make([]int, 0, len(starts))
	for i, start := range starts {
		if served[i] != g.fallback {
			stale = append(stale, start)
		}
	}
	if len(stale) == 0 {
		return results, nil
	}
	logger.FromContext(ctx).Debug("Re-embedding slices served before the fallback took over", "slices", len(stale))
	if err := g.embedSlices(ctx, texts, batchSize, stale, results, make([]Backend, len(stale))); err != nil {
		return nil, err
	}
	return results, nil
}

func (g *Generator) embedSlices(
	ctx context.Context,
	texts []string,
	batchSize int,
	starts []int,
	results [][]float32,
	served []Backend,
) error {
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(g.opts.Concurrency)
	for i, start := range starts {
		end := min(start+batchSize, len(texts))
		group.Go(func() error {
			vectors, backend, err := g.embed(gctx, texts[start:end])
			if err != nil {
				return err
			}
			copy(results[start:end], vectors)
			served[i] = backend
			return nil
		})
	}
	return group.Wait()
}

func (g *Generator) embedWithFallback(
	ctx context.Context,
	backend Backend,
	texts []string,
) ([][]float32, Backend, error) {
	vectors, err := g.call(ctx, backend, texts)
	if err == nil {
		return vectors, backend, nil
	}
	class := classify(err)
	knowledge.RecordEmbeddingError(ctx, backend.Name(), class.String())
	if class == failureCanceled {
		return nil, nil, err
	}
	if backend != g.primary || g.fallback == nil {
		return nil, nil, g.wrapFailure(backend, err)
	}
	if class == failureInput && !g.opts.FallbackOnAnyError {
		return nil, nil, g.wrapFailure(backend, err)
	}
	g.demote(ctx, err)
	vectors, fbErr := g.call(ctx, g.fallback, texts)
	if fbErr != nil {
		knowledge.RecordEmbeddingError(ctx, g.fallback.Name(), classify(fbErr).String())
		if errors.Is(fbErr, context.Canceled) {
			return nil, nil, fbErr
		}
		return nil, nil, g.wrapFailure(g.fallback, fmt.Errorf("primary: %v; fallback: %w", err, fbErr))
	}
	return vectors, g.fallback, nil
}

func (g *Generator) demote(ctx context.Context, cause error) {
	if !g.demoted.CompareAndSwap(false, true) {
		return
	}
	logger.FromContext(ctx).Warn(
		"Primary embedding backend failed, switching to fallback for the rest of the process",
		"primary", g.primary.Name(),
		"fallback", g.fallback.Name(),
		"error", cause,
	)
	knowledge.RecordEmbeddingFallback(ctx, g.primary.Name(), g.fallback.Name())
}

func (g *Generator) call(ctx context.Context, backend Backend, texts []string) ([][]float32, error) {
	if g.runner == nil {
		vectors, err := backend.Embed(ctx, texts)
		if err == nil {
			knowledge.RecordEmbedding(ctx, backend.Name(), len(texts))
		}
		return vectors, err
	}
	var vectors [][]float32
	err := g.runner.Run(ctx, func(ctx context.Context) error {
		out, err := backend.Embed(ctx, texts)
		if err != nil {
			return err
		}
		vectors = out
		return nil
	})
	if err != nil {
		if errors.Is(err, reserrors.ErrTimeout) {
			return nil, &knowledge.TimeoutError{Op: "embed on " + backend.Name(), Timeout: g.opts.Timeout, Cause: err}
		}
		return nil, err
	}
	knowledge.RecordEmbedding(ctx, backend.Name(), len(texts))
	return vectors, nil
}

func (g *Generator) wrapFailure(backend Backend, err error) error {
	if knowledge.IsTimeout(err) {
		return err
	}
	return &knowledge.EmbeddingError{Backend: backend.Name(), Cause: err}
}

func (g *Generator) fromCache(ctx context.Context, backend Backend, texts []string, results [][]float32) []int {
	missing := make([]int, 0, len(texts))
	if g.cache == nil {
		for i := range texts {
			missing = append(missing, i)
		}
		return missing
	}
	g.cacheMu.Lock()
	for i, text := range texts {
		if v, ok := g.cache.Get(cacheKey(backend.Name(), text)); ok {
			results[i] = cloneVector(v)
			continue
		}
		missing = append(missing, i)
	}
	g.cacheMu.Unlock()
	knowledge.RecordEmbeddingCache(ctx, len(texts)-len(missing), len(missing))
	return missing
}

func (g *Generator) storeCache(backend Backend, text string, vector []float32) {
	if g.cache == nil || len(vector) == 0 {
		return
	}
	g.cacheMu.Lock()
	g.cache.Add(cacheKey(backend.Name(), text), cloneVector(vector))
	g.cacheMu.Unlock()
}

func cacheKey(backend, text string) string {
	sum := sha256.Sum256([]byte(backend + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

func cloneVector(src []float32) []float32 {
	if len(src) == 0 {
		return nil
	}
	dst := make([]float32, len(src))
	copy(dst, src)
	return dst
}
