// Package retriever ranks indexed chunks for a query and grounds generated
// answers in them.
package retriever

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/compozy/ragpipe/engine/knowledge"
	"github.com/compozy/ragpipe/engine/knowledge/index"
	"github.com/compozy/ragpipe/engine/llm"
	appconfig "github.com/compozy/ragpipe/pkg/config"
	"github.com/compozy/ragpipe/pkg/logger"
	"github.com/compozy/ragpipe/pkg/tplengine"
)

// Searcher ranks stored chunks for a text query.
type Searcher interface {
	Search(ctx context.Context, query string, k int, filter map[string]string) ([]index.Result, error)
}

// Generator produces answers from a prompt and optional context.
type Generator interface {
	Generate(ctx context.Context, req llm.Request) (string, error)
	Stream(ctx context.Context, req llm.Request, fn func(fragment string) error) error
}

type TokenEstimator interface {
	CountTokens(text string) int
}

type runeEstimator struct{}

func (runeEstimator) CountTokens(text string) int {
	count := len([]rune(text))
	if count == 0 {
		return 0
	}
	return max(1, count/4)
}

// Options tunes the service. Zero values select the defaults of
// OptionsFromConfig(appconfig.Default()).
type Options struct {
	Collection          string
	TopK                int
	SimilarityThreshold float64
	Temperature         float64
	MaxTokens           int
	ContextMaxTokens    int
	CacheSize           int
	CacheTTL            time.Duration
}

func OptionsFromConfig(cfg *appconfig.Config) Options {
	if cfg == nil {
		cfg = appconfig.Default()
	}
	r := cfg.Retrieval
	return Options{
		Collection:          cfg.Vector.Collection,
		TopK:                r.TopK,
		SimilarityThreshold: r.SimilarityThreshold,
		Temperature:         r.Temperature,
		MaxTokens:           r.MaxTokens,
		ContextMaxTokens:    r.ContextMaxTokens,
		CacheSize:           r.CacheSize,
		CacheTTL:            r.CacheTTL,
	}
}

const contextTemplate = `{{- range $i, $c := .Contexts -}}
{{- if $i }}

{{ end -}}
[{{ add1 $i }}] {{ $c.Source }}
{{ $c.Content }}
{{- end -}}`

type Service struct {
	searcher  Searcher
	generator Generator
	estimator TokenEstimator
	opts      Options
	tpl       *tplengine.TemplateEngine
	cache     *ristretto.Cache[string, []knowledge.RetrievedContext]
	tracer    trace.Tracer

	// cacheGen advances on every invalidation. Writers hold cacheMu for
	// reading so a clear cannot slip between the generation check and Set.
	cacheMu  sync.RWMutex
	cacheGen atomic.Uint64
}

// NewService wires a retriever. generator may be nil when only Retrieve is
// used; estimator defaults to a four-runes-per-token estimate.
func NewService(searcher Searcher, generator Generator, estimator TokenEstimator, opts Options) (*Service, error) {
	if searcher == nil {
		return nil, errors.New("retriever requires a searcher")
	}
	if estimator == nil {
		estimator = runeEstimator{}
	}
	if opts.TopK <= 0 {
		opts.TopK = appconfig.Default().Retrieval.TopK
	}
	tpl := tplengine.NewEngine()
	if err := tpl.AddTemplate("context", contextTemplate); err != nil {
		return nil, err
	}
	s := &Service{
		searcher:  searcher,
		generator: generator,
		estimator: estimator,
		opts:      opts,
		tpl:       tpl,
		tracer:    otel.Tracer("ragpipe.knowledge.retriever"),
	}
	if opts.CacheSize > 0 {
		cache, err := ristretto.NewCache(&ristretto.Config[string, []knowledge.RetrievedContext]{
			NumCounters: int64(opts.CacheSize) * 10,
			MaxCost:     int64(opts.CacheSize),
			BufferItems: 64,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create retrieval cache: %w", err)
		}
		s.cache = cache
	}
	return s, nil
}

// InvalidateCache drops cached retrievals. Call it after the index changes.
func (s *Service) InvalidateCache() {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.cacheGen.Add(1)
	if s.cache != nil {
		s.cache.Clear()
	}
}

func (s *Service) Close() {
	if s.cache != nil {
		s.cache.Close()
	}
}

// Retrieve returns up to k chunks whose similarity reaches the configured
// threshold, best first. k <= 0 selects the configured default.
func (s *Service) Retrieve(
	ctx context.Context,
	query string,
	k int,
	filter map[string]string,
) (contexts []knowledge.RetrievedContext, err error) {
	if strings.TrimSpace(query) == "" {
		return nil, knowledge.NewInvalidInput("query", "cannot be empty")
	}
	if k <= 0 {
		k = s.opts.TopK
	}
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "ragpipe.knowledge.retriever.retrieve", trace.WithAttributes(
		attribute.String("collection", s.opts.Collection),
		attribute.Int("top_k", k),
	))
	defer s.finishRetrieve(ctx, span, start, &contexts, &err)

	key := cacheKey(query, k, filter)
	gen := s.cacheGen.Load()
	if cached, ok := s.cacheGet(key); ok {
		span.SetAttributes(attribute.Bool("cache_hit", true))
		return cached, nil
	}
	results, err := s.searchWithSpan(ctx, query, k, filter)
	if err != nil {
		return nil, err
	}
	contexts = s.buildContexts(results)
	if len(contexts) == 0 {
		knowledge.RecordRetrievalEmpty(ctx, s.opts.Collection)
	}
	s.cacheSet(key, gen, contexts)
	return cloneContexts(contexts), nil
}

func (s *Service) searchWithSpan(
	ctx context.Context,
	query string,
	k int,
	filter map[string]string,
) ([]index.Result, error) {
	spanCtx, span := s.tracer.Start(ctx, "ragpipe.knowledge.retriever.search", trace.WithAttributes(
		attribute.Int("top_k", k),
		attribute.Int("filters", len(filter)),
	))
	defer span.End()
	results, err := s.searcher.Search(spanCtx, query, k, filter)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("matches", len(results)))
	return results, nil
}

func (s *Service) buildContexts(results []index.Result) []knowledge.RetrievedContext {
	contexts := make([]knowledge.RetrievedContext, 0, len(results))
	totalTokens := 0
	for i := range results {
		r := &results[i]
		if r.Similarity < s.opts.SimilarityThreshold {
			continue
		}
		tokens := s.estimator.CountTokens(r.Text)
		if s.opts.ContextMaxTokens > 0 && len(contexts) > 0 && totalTokens+tokens > s.opts.ContextMaxTokens {
			break
		}
		totalTokens += tokens
		contexts = append(contexts, knowledge.RetrievedContext{
			ChunkID:       r.ID,
			Content:       r.Text,
			Source:        sourceName(r.Metadata),
			Distance:      r.Distance,
			Similarity:    r.Similarity,
			TokenEstimate: tokens,
			Metadata:      maps.Clone(r.Metadata),
		})
	}
	slices.SortStableFunc(contexts, func(a, b knowledge.RetrievedContext) int {
		return cmp.Or(cmp.Compare(b.Similarity, a.Similarity), cmp.Compare(a.ChunkID, b.ChunkID))
	})
	return contexts
}

func sourceName(meta map[string]any) string {
	if name, ok := meta[index.MetaFileName].(string); ok && name != "" {
		return name
	}
	if path, ok := meta[index.MetaFilePath].(string); ok {
		return path
	}
	return ""
}

func (s *Service) finishRetrieve(
	ctx context.Context,
	span trace.Span,
	start time.Time,
	contexts *[]knowledge.RetrievedContext,
	runErr *error,
) {
	duration := time.Since(start)
	log := logger.FromContext(ctx).With("collection", s.opts.Collection)
	if runErr != nil && *runErr != nil {
		err := *runErr
		log.Error("Retrieval failed", "error", err, "duration_seconds", duration.Seconds())
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		return
	}
	total := len(*contexts)
	log.Debug("Retrieval finished", "results", total, "duration_seconds", duration.Seconds())
	span.SetAttributes(attribute.Int("results", total))
	span.End()
}

func cacheKey(query string, k int, filter map[string]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d|%s", k, strings.TrimSpace(query))
	for _, key := range slices.Sorted(maps.Keys(filter)) {
		fmt.Fprintf(&b, "|%s=%s", key, filter[key])
	}
	return b.String()
}

func (s *Service) cacheGet(key string) ([]knowledge.RetrievedContext, bool) {
	if s.cache == nil {
		return nil, false
	}
	cached, ok := s.cache.Get(key)
	if !ok {
		return nil, false
	}
	return cloneContexts(cached), true
}

// cacheSet stores contexts unless the cache was invalidated after gen was
// taken, since they may predate the change.
func (s *Service) cacheSet(key string, gen uint64, contexts []knowledge.RetrievedContext) {
	if s.cache == nil {
		return
	}
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	if s.cacheGen.Load() != gen {
		return
	}
	if s.opts.CacheTTL > 0 {
		s.cache.SetWithTTL(key, contexts, 1, s.opts.CacheTTL)
	} else {
		s.cache.Set(key, contexts, 1)
	}
	s.cache.Wait()
}

func cloneContexts(src []knowledge.RetrievedContext) []knowledge.RetrievedContext {
	out := make([]knowledge.RetrievedContext, len(src))
	for i := range src {
		out[i] = src[i]
		out[i].Metadata = maps.Clone(src[i].Metadata)
	}
	return out
}
