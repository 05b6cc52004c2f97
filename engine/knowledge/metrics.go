package knowledge

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/compozy/ragpipe/engine/infra/monitoring/metrics"
)

const subsystem = "knowledge"

var (
	metricsOnce          sync.Once
	metricsMu            sync.Mutex
	metricsInitErr       error
	ingestDurationHist   metric.Float64Histogram
	ingestFilesCounter   metric.Int64Counter
	chunkCounter         metric.Int64Counter
	queryLatencyHist     metric.Float64Histogram
	retrievalEmptyCount  metric.Int64Counter
	embedCallCounter     metric.Int64Counter
	embedTextCounter     metric.Int64Counter
	embedErrorCounter    metric.Int64Counter
	embedFallbackCounter metric.Int64Counter
	embedCacheCounter    metric.Int64Counter
)

// RecordIngestDuration records one file ingestion and its outcome.
func RecordIngestDuration(ctx context.Context, status string, d time.Duration) {
	if err := ensureMetrics(); err != nil || ingestDurationHist == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	ingestDurationHist.Record(ctx, d.Seconds(), attrs)
	ingestFilesCounter.Add(ctx, 1, attrs)
}

func RecordIngestChunks(ctx context.Context, collection string, chunks int) {
	if chunks <= 0 {
		return
	}
	if err := ensureMetrics(); err != nil || chunkCounter == nil {
		return
	}
	chunkCounter.Add(ctx, int64(chunks), metric.WithAttributes(attribute.String("collection", collection)))
}

func RecordQueryLatency(ctx context.Context, collection string, d time.Duration) {
	if err := ensureMetrics(); err != nil || queryLatencyHist == nil {
		return
	}
	queryLatencyHist.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("collection", collection)))
}

func RecordRetrievalEmpty(ctx context.Context, collection string) {
	if err := ensureMetrics(); err != nil || retrievalEmptyCount == nil {
		return
	}
	retrievalEmptyCount.Add(ctx, 1, metric.WithAttributes(attribute.String("collection", collection)))
}

// RecordEmbedding counts a successful backend call and the texts it embedded.
func RecordEmbedding(ctx context.Context, backend string, texts int) {
	if err := ensureMetrics(); err != nil || embedCallCounter == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("backend", backend))
	embedCallCounter.Add(ctx, 1, attrs)
	embedTextCounter.Add(ctx, int64(texts), attrs)
}

func RecordEmbeddingError(ctx context.Context, backend string, kind string) {
	if err := ensureMetrics(); err != nil || embedErrorCounter == nil {
		return
	}
	embedErrorCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("kind", kind),
	))
}

func RecordEmbeddingFallback(ctx context.Context, from string, to string) {
	if err := ensureMetrics(); err != nil || embedFallbackCounter == nil {
		return
	}
	embedFallbackCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

func RecordEmbeddingCache(ctx context.Context, hits int, misses int) {
	if err := ensureMetrics(); err != nil || embedCacheCounter == nil {
		return
	}
	if hits > 0 {
		embedCacheCounter.Add(ctx, int64(hits), metric.WithAttributes(attribute.String("result", "hit")))
	}
	if misses > 0 {
		embedCacheCounter.Add(ctx, int64(misses), metric.WithAttributes(attribute.String("result", "miss")))
	}
}

func ResetMetricsForTesting() {
	metricsMu.Lock()
	metricsOnce = sync.Once{}
	metricsInitErr = nil
	ingestDurationHist = nil
	ingestFilesCounter = nil
	chunkCounter = nil
	queryLatencyHist = nil
	retrievalEmptyCount = nil
	embedCallCounter = nil
	embedTextCounter = nil
	embedErrorCounter = nil
	embedFallbackCounter = nil
	embedCacheCounter = nil
	metricsMu.Unlock()
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("ragpipe.knowledge")
		if err := initPipelineMetrics(meter); err != nil {
			metricsInitErr = err
			return
		}
		if err := initEmbeddingMetrics(meter); err != nil {
			metricsInitErr = err
		}
	})
	return metricsInitErr
}

func initPipelineMetrics(meter metric.Meter) error {
	var err error
	ingestDurationHist, err = meter.Float64Histogram(
		metrics.MetricNameWithSubsystem(subsystem, "ingest_duration_seconds"),
		metric.WithDescription("Latency of single file ingestion"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(metrics.IngestDurationBuckets...),
	)
	if err != nil {
		return err
	}
	ingestFilesCounter, err = meter.Int64Counter(
		metrics.MetricNameWithSubsystem(subsystem, "ingest_files_total"),
		metric.WithDescription("Number of files ingested by outcome"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}
	chunkCounter, err = meter.Int64Counter(
		metrics.MetricNameWithSubsystem(subsystem, "chunks_total"),
		metric.WithDescription("Number of chunks written to the vector store"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}
	queryLatencyHist, err = meter.Float64Histogram(
		metrics.MetricNameWithSubsystem(subsystem, "query_latency_seconds"),
		metric.WithDescription("Latency of similarity search queries"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(metrics.QueryDurationBuckets...),
	)
	if err != nil {
		return err
	}
	retrievalEmptyCount, err = meter.Int64Counter(
		metrics.MetricNameWithSubsystem(subsystem, "retrieval_empty_total"),
		metric.WithDescription("Number of retrievals that returned no contexts above the threshold"),
		metric.WithUnit("1"),
	)
	return err
}

func initEmbeddingMetrics(meter metric.Meter) error {
	var err error
	embedCallCounter, err = meter.Int64Counter(
		metrics.MetricNameWithSubsystem("embedding", "calls_total"),
		metric.WithDescription("Number of successful embedding backend calls"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}
	embedTextCounter, err = meter.Int64Counter(
		metrics.MetricNameWithSubsystem("embedding", "texts_total"),
		metric.WithDescription("Number of texts embedded"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}
	embedErrorCounter, err = meter.Int64Counter(
		metrics.MetricNameWithSubsystem("embedding", "errors_total"),
		metric.WithDescription("Number of failed embedding backend calls"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}
	embedFallbackCounter, err = meter.Int64Counter(
		metrics.MetricNameWithSubsystem("embedding", "fallback_activations_total"),
		metric.WithDescription("Number of times the primary embedding backend was demoted"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}
	embedCacheCounter, err = meter.Int64Counter(
		metrics.MetricNameWithSubsystem("embedding", "cache_lookups_total"),
		metric.WithDescription("Embedding cache lookups by result"),
		metric.WithUnit("1"),
	)
	return err
}
