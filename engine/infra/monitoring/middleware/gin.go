// Package middleware records HTTP request metrics for the gin router.
package middleware

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/compozy/ragpipe/engine/infra/monitoring/metrics"
	"github.com/compozy/ragpipe/pkg/logger"
)

const unmatchedRoute = "unmatched"

type httpInstruments struct {
	requests      metric.Int64Counter
	duration      metric.Float64Histogram
	inFlight      metric.Int64UpDownCounter
	responseBytes metric.Int64Counter
}

func newHTTPInstruments(meter metric.Meter) (*httpInstruments, error) {
	var (
		in  httpInstruments
		err error
	)
	if in.requests, err = meter.Int64Counter(
		metrics.MetricNameWithSubsystem("http", "requests_total"),
		metric.WithDescription("HTTP requests by route and status"),
	); err != nil {
		return nil, err
	}
	if in.duration, err = meter.Float64Histogram(
		metrics.MetricNameWithSubsystem("http", "request_duration_seconds"),
		metric.WithDescription("HTTP request latency; streamed answers count until the last fragment"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(metrics.HTTPDurationBuckets...),
	); err != nil {
		return nil, err
	}
	if in.inFlight, err = meter.Int64UpDownCounter(
		metrics.MetricNameWithSubsystem("http", "requests_in_flight"),
		metric.WithDescription("HTTP requests being served"),
	); err != nil {
		return nil, err
	}
	if in.responseBytes, err = meter.Int64Counter(
		metrics.MetricNameWithSubsystem("http", "response_bytes_total"),
		metric.WithDescription("Bytes written in HTTP response bodies"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	return &in, nil
}

// HTTPMetrics returns a middleware recording every request on meter. With a
// nil meter, or when instruments cannot be created, requests pass through.
func HTTPMetrics(meter metric.Meter) gin.HandlerFunc {
	if meter == nil {
		return passThrough
	}
	in, err := newHTTPInstruments(meter)
	if err != nil {
		logger.FromContext(context.Background()).Error("Failed to create HTTP metrics", "error", err)
		return passThrough
	}
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		start := time.Now()
		in.inFlight.Add(ctx, 1)
		defer in.inFlight.Add(ctx, -1)
		c.Next()
		in.record(c, time.Since(start))
	}
}

func passThrough(c *gin.Context) {
	c.Next()
}

func (in *httpInstruments) record(c *gin.Context, d time.Duration) {
	route := c.FullPath()
	if route == "" {
		route = unmatchedRoute
	}
	attrs := metric.WithAttributes(
		attribute.String("method", c.Request.Method),
		attribute.String("path", route),
		attribute.String("status_code", strconv.Itoa(c.Writer.Status())),
	)
	ctx := c.Request.Context()
	in.requests.Add(ctx, 1, attrs)
	in.duration.Record(ctx, d.Seconds(), attrs)
	if size := c.Writer.Size(); size > 0 {
		in.responseBytes.Add(ctx, int64(size), attrs)
	}
}
