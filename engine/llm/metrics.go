package llm

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/compozy/ragpipe/engine/infra/monitoring/metrics"
	"github.com/compozy/ragpipe/pkg/logger"
)

const (
	subsystem       = "llm"
	tokenTypePrompt = "prompt"
	tokenTypeOutput = "output"
	outcomeSuccess  = "success"
	outcomeError    = "error"
)

// Recorder captures generation latency and token usage.
type Recorder interface {
	RecordRequest(ctx context.Context, model string, d time.Duration, outcome string)
	RecordTokens(ctx context.Context, model string, tokenType string, count int)
}

type otelRecorder struct {
	requests metric.Float64Histogram
	tokens   metric.Int64Counter
}

// NewRecorder registers the generation instruments on meter.
func NewRecorder(meter metric.Meter) (Recorder, error) {
	requests, err := meter.Float64Histogram(
		metrics.MetricNameWithSubsystem(subsystem, "generate_seconds"),
		metric.WithDescription("Latency of Ollama generation calls"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300),
	)
	if err != nil {
		return nil, err
	}
	tokens, err := meter.Int64Counter(
		metrics.MetricNameWithSubsystem(subsystem, "tokens_total"),
		metric.WithDescription("Tokens evaluated by the generation model"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}
	return &otelRecorder{requests: requests, tokens: tokens}, nil
}

func (r *otelRecorder) RecordRequest(ctx context.Context, model string, d time.Duration, outcome string) {
	r.requests.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("model", model),
		attribute.String("outcome", outcome),
	))
}

func (r *otelRecorder) RecordTokens(ctx context.Context, model string, tokenType string, count int) {
	if count <= 0 {
		return
	}
	r.tokens.Add(ctx, int64(count), metric.WithAttributes(
		attribute.String("model", model),
		attribute.String("type", tokenType),
	))
}

type nopRecorder struct{}

// Nop returns a recorder that drops everything.
func Nop() Recorder {
	return nopRecorder{}
}

func (nopRecorder) RecordRequest(context.Context, string, time.Duration, string) {}

func (nopRecorder) RecordTokens(context.Context, string, string, int) {}

func defaultRecorder(ctx context.Context) Recorder {
	rec, err := NewRecorder(otel.GetMeterProvider().Meter("ragpipe.llm"))
	if err != nil {
		logger.FromContext(ctx).Warn("Failed to create generation metrics, continuing without them", "error", err)
		return Nop()
	}
	return rec
}
