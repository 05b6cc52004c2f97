// Package monitoring exports pipeline metrics in the Prometheus format.
// Instruments are declared with OpenTelemetry; the knowledge, llm and mcp
// packages record through the global meter provider this service installs.
package monitoring

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/compozy/ragpipe/engine/infra/monitoring/metrics"
	"github.com/compozy/ragpipe/engine/infra/monitoring/middleware"
	"github.com/compozy/ragpipe/pkg/logger"
)

// Service owns the meter provider and the registry scraped at Path.
// A disabled service keeps the no-op global provider.
type Service struct {
	config   *Config
	provider *sdkmetric.MeterProvider
	registry *prom.Registry
	meter    metric.Meter
	initErr  error
}

// NewMonitoringService creates the Prometheus backed service. With
// monitoring disabled it returns an inert service.
func NewMonitoringService(ctx context.Context, cfg *Config) (*Service, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		logger.FromContext(ctx).Debug("Monitoring disabled")
		return &Service{config: cfg}, nil
	}
	registry := prom.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	s := &Service{
		config:   cfg,
		provider: provider,
		registry: registry,
		meter:    provider.Meter(metrics.Namespace),
	}
	if err := InitSystemMetrics(ctx, s.meter); err != nil {
		return nil, fmt.Errorf("failed to register system metrics: %w", err)
	}
	logger.FromContext(ctx).Info("Monitoring service initialized", "path", cfg.Path)
	return s, nil
}

// NewMonitoringServiceWithFallback degrades to an inert service instead of failing.
func NewMonitoringServiceWithFallback(ctx context.Context, cfg *Config) *Service {
	s, err := NewMonitoringService(ctx, cfg)
	if err == nil {
		return s
	}
	logger.FromContext(ctx).Error("Failed to initialize monitoring, metrics are disabled", "error", err)
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Service{config: cfg, initErr: err}
}

// Meter returns the service meter, or a no-op meter when disabled.
func (s *Service) Meter() metric.Meter {
	if s.meter == nil {
		return noop.NewMeterProvider().Meter(metrics.Namespace)
	}
	return s.meter
}

func (s *Service) IsInitialized() bool {
	return s.provider != nil
}

func (s *Service) InitializationError() error {
	return s.initErr
}

func (s *Service) Path() string {
	return s.config.Path
}

// SetAsGlobal routes the package level instruments of the pipeline to this
// service. Instruments created earlier follow through the global delegate.
func (s *Service) SetAsGlobal() {
	if s.provider != nil {
		otel.SetMeterProvider(s.provider)
	}
}

// ObserveCollection exports the size of collection on every scrape.
func (s *Service) ObserveCollection(ctx context.Context, collection string, stats CollectionStats) error {
	if s.meter == nil {
		return nil
	}
	return ObserveCollection(ctx, s.meter, collection, stats)
}

// GinMiddleware records request metrics; it is a pass-through when disabled.
func (s *Service) GinMiddleware() gin.HandlerFunc {
	if s.meter == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return middleware.HTTPMetrics(s.meter)
}

// ExporterHandler serves the Prometheus text format.
func (s *Service) ExporterHandler() http.Handler {
	if s.registry == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "monitoring is disabled", http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and stops the meter provider.
func (s *Service) Shutdown(ctx context.Context) error {
	ResetSystemMetricsForTesting()
	if s.provider == nil {
		return nil
	}
	return s.provider.Shutdown(ctx)
}
