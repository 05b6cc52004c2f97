package router

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/compozy/ragpipe/engine/infra/monitoring/metrics"
	"github.com/compozy/ragpipe/pkg/logger"
)

const (
	streamTracerName     = "ragpipe.stream"
	streamConnectedEvent = "stream.connected"
	streamClosedEvent    = "stream.closed"
)

const (
	// StreamReasonCompleted indicates successful stream completion.
	StreamReasonCompleted = "completed"
	// StreamReasonContextCanceled indicates the client went away.
	StreamReasonContextCanceled = "context_canceled"
	// StreamReasonStreamError indicates generation failed mid-stream.
	StreamReasonStreamError = "stream_error"
)

var (
	streamMetricsOnce sync.Once
	streamConnects    metric.Int64Counter
	streamEvents      metric.Int64Counter
	streamErrors      metric.Int64Counter
	streamDuration    metric.Float64Histogram
	streamFirstEvent  metric.Float64Histogram
)

func ensureStreamMetrics() {
	streamMetricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter(streamTracerName)
		streamConnects, _ = meter.Int64Counter(
			metrics.MetricNameWithSubsystem("stream", "connections_total"),
			metric.WithDescription("Number of opened SSE streams"),
		)
		streamEvents, _ = meter.Int64Counter(
			metrics.MetricNameWithSubsystem("stream", "events_total"),
			metric.WithDescription("Number of SSE events written"),
		)
		streamErrors, _ = meter.Int64Counter(
			metrics.MetricNameWithSubsystem("stream", "errors_total"),
			metric.WithDescription("Number of SSE streams closed with an error"),
		)
		streamDuration, _ = meter.Float64Histogram(
			metrics.MetricNameWithSubsystem("stream", "duration_seconds"),
			metric.WithUnit("s"),
		)
		streamFirstEvent, _ = meter.Float64Histogram(
			metrics.MetricNameWithSubsystem("stream", "time_to_first_event_seconds"),
			metric.WithUnit("s"),
		)
	})
}

// StreamTelemetry traces and measures one SSE response.
type StreamTelemetry struct {
	ctx        context.Context
	kind       string
	start      time.Time
	firstEvent time.Duration
	events     int64
	span       trace.Span
	closeOnce  sync.Once
}

// NewStreamTelemetry opens a span for an SSE connection of the given kind.
func NewStreamTelemetry(ctx context.Context, kind string) *StreamTelemetry {
	ensureStreamMetrics()
	spanCtx, span := otel.Tracer(streamTracerName).Start(
		ctx,
		"stream."+kind,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("stream.kind", kind)),
	)
	t := &StreamTelemetry{ctx: spanCtx, kind: kind, start: time.Now(), span: span}
	if streamConnects != nil {
		streamConnects.Add(spanCtx, 1, t.attrs())
	}
	span.AddEvent(streamConnectedEvent)
	logger.FromContext(spanCtx).Debug("Stream opened", "kind", kind)
	return t
}

func (t *StreamTelemetry) attrs() metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("kind", t.kind))
}

// Context returns the span context for downstream calls.
func (t *StreamTelemetry) Context() context.Context {
	return t.ctx
}

// RecordEvent counts one written event.
func (t *StreamTelemetry) RecordEvent(eventType string) {
	t.events++
	if t.events == 1 {
		t.firstEvent = time.Since(t.start)
		if streamFirstEvent != nil {
			streamFirstEvent.Record(t.ctx, t.firstEvent.Seconds(), t.attrs())
		}
	}
	if streamEvents != nil {
		streamEvents.Add(t.ctx, 1, metric.WithAttributes(
			attribute.String("kind", t.kind),
			attribute.String("event", eventType),
		))
	}
}

// Close ends the span. Only the first call has an effect.
func (t *StreamTelemetry) Close(reason string, err error) {
	t.closeOnce.Do(func() {
		duration := time.Since(t.start)
		if streamDuration != nil {
			streamDuration.Record(t.ctx, duration.Seconds(), t.attrs())
		}
		fields := []any{"kind", t.kind, "duration", duration, "events", t.events, "reason", reason}
		log := logger.FromContext(t.ctx)
		if err != nil {
			if streamErrors != nil {
				streamErrors.Add(t.ctx, 1, metric.WithAttributes(
					attribute.String("kind", t.kind),
					attribute.String("reason", reason),
				))
			}
			log.Error("Stream terminated with error", append(fields, "error", err)...)
			t.span.RecordError(err)
			t.span.SetStatus(codes.Error, err.Error())
		} else {
			log.Info("Stream closed", fields...)
			t.span.SetStatus(codes.Ok, reason)
		}
		t.span.AddEvent(streamClosedEvent, trace.WithAttributes(
			attribute.String("stream.reason", reason),
			attribute.Int64("stream.events", t.events),
			attribute.Float64("stream.time_to_first_event_seconds", t.firstEvent.Seconds()),
		))
		t.span.End()
	})
}
