package cache

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/compozy/ragpipe/engine/infra/monitoring/metrics"
)

var (
	metricsOnce     sync.Once
	metricsMu       sync.Mutex
	metricsInitErr  error
	lockAcquireHist metric.Float64Histogram
)

func recordLockAcquire(ctx context.Context, outcome string, wait time.Duration) {
	if err := ensureMetrics(); err != nil || lockAcquireHist == nil {
		return
	}
	lockAcquireHist.Record(ctx, wait.Seconds(), metric.WithAttributes(attribute.String("outcome", outcome)))
}

func ResetMetricsForTesting() {
	metricsMu.Lock()
	metricsOnce = sync.Once{}
	metricsInitErr = nil
	lockAcquireHist = nil
	metricsMu.Unlock()
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("ragpipe.cache")
		lockAcquireHist, metricsInitErr = meter.Float64Histogram(
			metrics.MetricNameWithSubsystem("cache", "lock_wait_seconds"),
			metric.WithDescription("Time spent waiting for distributed locks by outcome"),
			metric.WithUnit("s"),
		)
	})
	return metricsInitErr
}
