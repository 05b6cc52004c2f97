package retriever

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/compozy/ragpipe/engine/knowledge"
	"github.com/compozy/ragpipe/engine/knowledge/index"
	"github.com/compozy/ragpipe/engine/llm"
)

// AnswerOptions overrides retrieval and sampling for one question.
type AnswerOptions struct {
	TopK        int
	Filter      map[string]string
	Temperature *float64
	MaxTokens   int
}

// Source identifies a chunk an answer was grounded in.
type Source struct {
	ChunkID    string  `json:"chunk_id"`
	FileName   string  `json:"file_name"`
	FileHash   string  `json:"file_hash"`
	ChunkIndex any     `json:"chunk_index"`
	PageNumber any     `json:"page_number,omitempty"`
	Similarity float64 `json:"similarity"`
}

type Answer struct {
	Question string                       `json:"question"`
	Text     string                       `json:"answer"`
	Sources  []Source                     `json:"sources"`
	Contexts []knowledge.RetrievedContext `json:"contexts,omitempty"`
}

// Answer retrieves context for question and asks the generator. With no
// context above the threshold the question is sent on its own.
func (s *Service) Answer(ctx context.Context, question string, opts AnswerOptions) (*Answer, error) {
	req, contexts, err := s.prepare(ctx, question, opts)
	if err != nil {
		return nil, err
	}
	ctx, span := s.tracer.Start(ctx, "ragpipe.knowledge.retriever.generate", trace.WithAttributes(
		attribute.Int("contexts", len(contexts)),
	))
	defer span.End()
	text, err := s.generator.Generate(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return &Answer{
		Question: question,
		Text:     strings.TrimSpace(text),
		Sources:  sourcesOf(contexts),
		Contexts: contexts,
	}, nil
}

// AnswerStream is Answer with fragments delivered to fn as they arrive. The
// sources are returned once generation completes.
func (s *Service) AnswerStream(
	ctx context.Context,
	question string,
	opts AnswerOptions,
	fn func(fragment string) error,
) ([]Source, error) {
	if fn == nil {
		return nil, errors.New("stream callback is required")
	}
	req, contexts, err := s.prepare(ctx, question, opts)
	if err != nil {
		return nil, err
	}
	ctx, span := s.tracer.Start(ctx, "ragpipe.knowledge.retriever.stream", trace.WithAttributes(
		attribute.Int("contexts", len(contexts)),
	))
	defer span.End()
	if err := s.generator.Stream(ctx, req, fn); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return sourcesOf(contexts), nil
}

func (s *Service) prepare(
	ctx context.Context,
	question string,
	opts AnswerOptions,
) (llm.Request, []knowledge.RetrievedContext, error) {
	if s.generator == nil {
		return llm.Request{}, nil, errors.New("retriever has no generator configured")
	}
	contexts, err := s.Retrieve(ctx, question, opts.TopK, opts.Filter)
	if err != nil {
		return llm.Request{}, nil, err
	}
	block, err := s.ContextBlock(contexts)
	if err != nil {
		return llm.Request{}, nil, err
	}
	req := llm.Request{
		Prompt:      question,
		Context:     block,
		Temperature: s.opts.Temperature,
		MaxTokens:   s.opts.MaxTokens,
	}
	if opts.Temperature != nil {
		req.Temperature = *opts.Temperature
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}
	return req, contexts, nil
}

// ContextBlock numbers each context and prefixes it with its source name.
func (s *Service) ContextBlock(contexts []knowledge.RetrievedContext) (string, error) {
	if len(contexts) == 0 {
		return "", nil
	}
	return s.tpl.Render("context", map[string]any{"Contexts": contexts})
}

func sourcesOf(contexts []knowledge.RetrievedContext) []Source {
	sources := make([]Source, len(contexts))
	for i := range contexts {
		c := &contexts[i]
		hash, _ := c.Metadata[index.MetaFileHash].(string)
		sources[i] = Source{
			ChunkID:    c.ChunkID,
			FileName:   c.Source,
			FileHash:   hash,
			ChunkIndex: c.Metadata[index.MetaChunkIndex],
			PageNumber: c.Metadata[index.MetaPageNumber],
			Similarity: c.Similarity,
		}
	}
	return sources
}
