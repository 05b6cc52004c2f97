package monitoring

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/compozy/ragpipe/engine/infra/monitoring/metrics"
	"github.com/compozy/ragpipe/pkg/logger"
	"github.com/compozy/ragpipe/pkg/version"
)

// CollectionStats reports the current size of the collection.
type CollectionStats func(ctx context.Context) (chunks int, documents int, err error)

var (
	systemMu      sync.Mutex
	startTime     time.Time
	registrations []metric.Registration
)

func buildLabels() (ver, commit, goVersion string) {
	info := version.Get()
	return info.Version, info.CommitHash, info.GoVersion
}

// InitSystemMetrics registers build info and uptime on meter. Calling it
// again replaces the previous registration.
func InitSystemMetrics(ctx context.Context, meter metric.Meter) error {
	systemMu.Lock()
	defer systemMu.Unlock()
	unregisterLocked(ctx)
	ver, commit, goVersion := buildLabels()
	buildInfo, err := meter.Float64ObservableGauge(
		metrics.MetricName("build_info"),
		metric.WithDescription("Build information (value=1)"),
	)
	if err != nil {
		return err
	}
	uptime, err := meter.Float64ObservableGauge(
		metrics.MetricName("uptime_seconds"),
		metric.WithDescription("Process uptime in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}
	startTime = time.Now()
	labels := metric.WithAttributes(
		attribute.String("version", ver),
		attribute.String("commit_hash", commit),
		attribute.String("go_version", goVersion),
	)
	reg, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveFloat64(buildInfo, 1, labels)
		o.ObserveFloat64(uptime, time.Since(startTime).Seconds())
		return nil
	}, buildInfo, uptime)
	if err != nil {
		return err
	}
	registrations = append(registrations, reg)
	logger.FromContext(ctx).Debug("System metrics initialized", "version", ver, "commit", commit)
	return nil
}

// ObserveCollection exports chunk and document counts of collection, read
// from stats at every scrape. Scrape errors are logged and skipped.
func ObserveCollection(ctx context.Context, meter metric.Meter, collection string, stats CollectionStats) error {
	chunks, err := meter.Int64ObservableGauge(
		metrics.MetricNameWithSubsystem("collection", "chunks"),
		metric.WithDescription("Chunks stored in the collection"),
	)
	if err != nil {
		return err
	}
	docs, err := meter.Int64ObservableGauge(
		metrics.MetricNameWithSubsystem("collection", "documents"),
		metric.WithDescription("Distinct documents stored in the collection"),
	)
	if err != nil {
		return err
	}
	log := logger.FromContext(ctx)
	attrs := metric.WithAttributes(attribute.String("collection", collection))
	reg, err := meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		c, d, err := stats(ctx)
		if err != nil {
			log.Warn("Failed to read collection stats for metrics", "collection", collection, "error", err)
			return nil
		}
		o.ObserveInt64(chunks, int64(c), attrs)
		o.ObserveInt64(docs, int64(d), attrs)
		return nil
	}, chunks, docs)
	if err != nil {
		return err
	}
	systemMu.Lock()
	registrations = append(registrations, reg)
	systemMu.Unlock()
	return nil
}

func unregisterLocked(ctx context.Context) {
	for _, reg := range registrations {
		if err := reg.Unregister(); err != nil {
			logger.FromContext(ctx).Warn("Failed to unregister metrics callback", "error", err)
		}
	}
	registrations = nil
}

// ResetSystemMetricsForTesting drops every callback registered by this package.
func ResetSystemMetricsForTesting() {
	systemMu.Lock()
	defer systemMu.Unlock()
	unregisterLocked(context.Background())
	startTime = time.Time{}
}
