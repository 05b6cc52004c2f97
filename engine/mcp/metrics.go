package mcpserver

import (
	"context"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/compozy/ragpipe/engine/infra/monitoring/metrics"
	"github.com/compozy/ragpipe/engine/knowledge"
)

const (
	outcomeSuccess = "success"
	outcomeError   = "error"
	outcomeFailure = "failure"
)

var (
	metricsOnce    sync.Once
	metricsInitErr error
	toolDuration   metric.Float64Histogram
	toolErrors     metric.Int64Counter
)

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("ragpipe.mcp")
		toolDuration, metricsInitErr = meter.Float64Histogram(
			metrics.MetricNameWithSubsystem("mcp", "tool_execute_seconds"),
			metric.WithDescription("MCP tool execution latency"),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
		)
		if metricsInitErr != nil {
			return
		}
		toolErrors, metricsInitErr = meter.Int64Counter(
			metrics.MetricNameWithSubsystem("mcp", "tool_errors_total"),
			metric.WithDescription("MCP tool errors by kind"),
			metric.WithUnit("1"),
		)
	})
	return metricsInitErr
}

// outcome classifies a tool call: error results are reported to the model,
// failures abort the call.
func outcome(res *mcp.CallToolResult, err error) string {
	switch {
	case err != nil:
		return outcomeFailure
	case res != nil && res.IsError:
		return outcomeError
	default:
		return outcomeSuccess
	}
}

func recordToolCall(ctx context.Context, tool string, result string, kind knowledge.Kind, d time.Duration) {
	if err := ensureMetrics(); err != nil || toolDuration == nil {
		return
	}
	toolDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("tool_name", tool),
		attribute.String("outcome", result),
	))
	if result == outcomeSuccess {
		return
	}
	toolErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool_name", tool),
		attribute.String("error_kind", string(kind)),
	))
}

func instrument(tool string, handler server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		res, err := handler(ctx, req)
		kind := knowledge.KindUnknown
		if err != nil {
			kind = knowledge.KindOf(err)
		}
		recordToolCall(ctx, tool, outcome(res, err), kind, time.Since(start))
		return res, err
	}
}
