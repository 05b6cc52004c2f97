package vectordb

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	monitoringmetrics "github.com/compozy/ragpipe/engine/infra/monitoring/metrics"
)

var (
	vectorMetricsOnce   sync.Once
	vectorMetricsErr    error
	vectorSearchLatency metric.Float64Histogram
	vectorResultsCount  metric.Float64Histogram
	vectorMinDistance   metric.Float64Histogram
	vectorWriteRecords  metric.Int64Counter
	vectorErrorsTotal   metric.Int64Counter
)

func ensureVectorMetrics() error {
	vectorMetricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("ragpipe.knowledge.vector")
		vectorMetricsErr = initVectorInstruments(meter)
	})
	return vectorMetricsErr
}

func initVectorInstruments(meter metric.Meter) error {
	var err error
	vectorSearchLatency, err = meter.Float64Histogram(
		monitoringmetrics.MetricNameWithSubsystem("vectordb", "similarity_search_seconds"),
		metric.WithDescription("Vector similarity search latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2),
	)
	if err != nil {
		return err
	}
	vectorResultsCount, err = meter.Float64Histogram(
		monitoringmetrics.MetricNameWithSubsystem("vectordb", "similarity_results_per_search"),
		metric.WithDescription("Number of results returned per search"),
		metric.WithExplicitBucketBoundaries(0, 1, 5, 10, 25, 50, 100),
	)
	if err != nil {
		return err
	}
	vectorMinDistance, err = meter.Float64Histogram(
		monitoringmetrics.MetricNameWithSubsystem("vectordb", "similarity_distance_min"),
		metric.WithDescription("Cosine distance of the closest result"),
		metric.WithExplicitBucketBoundaries(0, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0),
	)
	if err != nil {
		return err
	}
	vectorWriteRecords, err = meter.Int64Counter(
		monitoringmetrics.MetricNameWithSubsystem("vectordb", "records_written_total"),
		metric.WithDescription("Records written through upsert"),
	)
	if err != nil {
		return err
	}
	vectorErrorsTotal, err = meter.Int64Counter(
		monitoringmetrics.MetricNameWithSubsystem("vectordb", "store_errors_total"),
		metric.WithDescription("Vector store operation errors"),
	)
	return err
}

// instrumentedStore records latency, result and error metrics around a Store.
type instrumentedStore struct {
	Store
	provider   string
	collection string
}

func instrument(store Store, cfg *Config) Store {
	return &instrumentedStore{Store: store, provider: string(cfg.Provider), collection: cfg.Collection}
}

func (s *instrumentedStore) attrs(extra ...attribute.KeyValue) metric.MeasurementOption {
	return metric.WithAttributes(append([]attribute.KeyValue{
		attribute.String("provider", s.provider),
		attribute.String("collection", s.collection),
	}, extra...)...)
}

func (s *instrumentedStore) observe(ctx context.Context, op string, err error) error {
	if err != nil && ensureVectorMetrics() == nil {
		vectorErrorsTotal.Add(ctx, 1, s.attrs(attribute.String("operation", op)))
	}
	return err
}

func (s *instrumentedStore) Search(ctx context.Context, query []float32, opts SearchOptions) ([]Match, error) {
	start := time.Now()
	matches, err := s.Store.Search(ctx, query, opts)
	if err != nil {
		return nil, s.observe(ctx, "search", err)
	}
	if ensureVectorMetrics() == nil {
		vectorSearchLatency.Record(ctx, time.Since(start).Seconds(), s.attrs())
		vectorResultsCount.Record(ctx, float64(len(matches)), s.attrs())
		if len(matches) > 0 {
			vectorMinDistance.Record(ctx, matches[0].Distance, s.attrs())
		}
	}
	return matches, nil
}

func (s *instrumentedStore) Upsert(ctx context.Context, records []Record) error {
	if err := s.Store.Upsert(ctx, records); err != nil {
		return s.observe(ctx, "upsert", err)
	}
	if ensureVectorMetrics() == nil {
		vectorWriteRecords.Add(ctx, int64(len(records)), s.attrs())
	}
	return nil
}

func (s *instrumentedStore) Get(ctx context.Context, ids []string) ([]Record, error) {
	records, err := s.Store.Get(ctx, ids)
	return records, s.observe(ctx, "get", err)
}

func (s *instrumentedStore) IDs(ctx context.Context, filter map[string]string, limit int) ([]string, error) {
	ids, err := s.Store.IDs(ctx, filter, limit)
	return ids, s.observe(ctx, "ids", err)
}

func (s *instrumentedStore) Delete(ctx context.Context, ids []string) error {
	return s.observe(ctx, "delete", s.Store.Delete(ctx, ids))
}

func (s *instrumentedStore) Count(ctx context.Context) (int, error) {
	n, err := s.Store.Count(ctx)
	return n, s.observe(ctx, "count", err)
}

func (s *instrumentedStore) Distinct(ctx context.Context, key string) (map[string]int, error) {
	out, err := s.Store.Distinct(ctx, key)
	return out, s.observe(ctx, "distinct", err)
}

func (s *instrumentedStore) Reset(ctx context.Context) error {
	return s.observe(ctx, "reset", s.Store.Reset(ctx))
}
