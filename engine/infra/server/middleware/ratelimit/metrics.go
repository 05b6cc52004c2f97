package ratelimit

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/compozy/ragpipe/engine/infra/monitoring/metrics"
)

var (
	rateLimitBlocksTotal metric.Int64Counter
	metricsOnce          sync.Once
)

func ensureMetrics() {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("ragpipe.ratelimit")
		rateLimitBlocksTotal, _ = meter.Int64Counter(
			metrics.MetricName("rate_limit_blocks_total"),
			metric.WithDescription("Total number of requests blocked by rate limiting"),
			metric.WithUnit("1"),
		)
	})
}

// IncrementBlockedRequests increments the rate_limit_blocks_total counter
func IncrementBlockedRequests(ctx context.Context, route string) {
	ensureMetrics()
	if rateLimitBlocksTotal != nil {
		rateLimitBlocksTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("route", route)))
	}
}
