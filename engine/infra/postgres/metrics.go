package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	monitoringmetrics "github.com/compozy/ragpipe/engine/infra/monitoring/metrics"
)

const meterName = "ragpipe.postgres"

// poolMetrics reports connection counts of one pool until unregistered.
type poolMetrics struct {
	reg metric.Registration
}

func trackPool(meter metric.Meter, label string, pool *pgxpool.Pool) (*poolMetrics, error) {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(meterName)
	}
	gauge := func(name, desc string) (metric.Int64ObservableGauge, error) {
		return meter.Int64ObservableGauge(
			monitoringmetrics.MetricNameWithSubsystem("postgres", name),
			metric.WithDescription(desc),
		)
	}
	open, errOpen := gauge("connections_open", "Number of open Postgres connections")
	inUse, errUse := gauge("connections_in_use", "Number of Postgres connections currently in use")
	idle, errIdle := gauge("connections_idle", "Number of idle Postgres connections")
	if err := errors.Join(errOpen, errUse, errIdle); err != nil {
		return nil, err
	}
	attrs := metric.WithAttributes(attribute.String("pool", label))
	reg, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		stats := pool.Stat()
		o.ObserveInt64(open, int64(stats.TotalConns()), attrs)
		o.ObserveInt64(inUse, int64(stats.AcquiredConns()), attrs)
		o.ObserveInt64(idle, int64(stats.IdleConns()), attrs)
		return nil
	}, open, inUse, idle)
	if err != nil {
		return nil, err
	}
	return &poolMetrics{reg: reg}, nil
}

func (p *poolMetrics) unregister() {
	if p == nil || p.reg == nil {
		return
	}
	_ = p.reg.Unregister()
}
