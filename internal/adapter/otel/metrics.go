package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/orgdash/dashboard-worker/internal/domain/refresh"
)

const meterName = "dashboard-worker"

// Metrics holds all dashboard worker metric instruments.
// A nil *Metrics records nothing.
type Metrics struct {
	CacheLookups     metric.Int64Counter
	CacheExpirations metric.Int64Counter
	CacheEvictions   metric.Int64Counter
	QueryDuration    metric.Float64Histogram
	RefreshRuns      metric.Int64Counter
	RefreshDuration  metric.Float64Histogram
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	return NewMetricsWithMeter(otel.Meter(meterName))
}

// NewMetricsWithMeter creates all metric instruments on meter.
func NewMetricsWithMeter(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.CacheLookups, err = meter.Int64Counter("dashboard.cache.lookups",
		metric.WithDescription("Response cache lookups by endpoint and result"))
	if err != nil {
		return nil, err
	}

	m.CacheExpirations, err = meter.Int64Counter("dashboard.cache.expirations",
		metric.WithDescription("Cache entries removed after their TTL"))
	if err != nil {
		return nil, err
	}

	m.CacheEvictions, err = meter.Int64Counter("dashboard.cache.evictions",
		metric.WithDescription("Cache entries evicted by capacity or memory pressure"))
	if err != nil {
		return nil, err
	}

	m.QueryDuration, err = meter.Float64Histogram("dashboard.query.duration_seconds",
		metric.WithDescription("Time to serve a dashboard read, cached or not"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	m.RefreshRuns, err = meter.Int64Counter("dashboard.refresh.runs",
		metric.WithDescription("Materialized view refresh runs by action and status"))
	if err != nil {
		return nil, err
	}

	m.RefreshDuration, err = meter.Float64Histogram("dashboard.refresh.duration_seconds",
		metric.WithDescription("Materialized view refresh duration"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordLookup records one response cache lookup and the time taken to serve it.
func (m *Metrics) RecordLookup(ctx context.Context, endpoint string, hit bool, d time.Duration) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	attrs := metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("result", result),
	)
	m.CacheLookups.Add(ctx, 1, attrs)
	m.QueryDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordRefresh records a refresh outcome.
func (m *Metrics) RecordRefresh(ctx context.Context, o refresh.Outcome) {
	if m == nil {
		return
	}
	m.RefreshRuns.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", o.Name),
		attribute.String("status", string(o.Status)),
		attribute.String("trigger", string(o.Trigger)),
	))
	m.RefreshDuration.Record(ctx, o.Duration.Seconds(), metric.WithAttributes(
		attribute.String("action", o.Name),
	))
}

// CacheObserver returns an observer for the in-process TTL cache. Lookups are
// recorded per endpoint by the service layer, so only removals are counted here.
func (m *Metrics) CacheObserver() *CacheObserver {
	return &CacheObserver{m: m}
}

// CacheObserver forwards TTL cache removals to the metric instruments.
type CacheObserver struct {
	m *Metrics
}

func (o *CacheObserver) Hit()  {}
func (o *CacheObserver) Miss() {}

func (o *CacheObserver) Expired(n int) {
	if o.m == nil {
		return
	}
	o.m.CacheExpirations.Add(context.Background(), int64(n))
}

func (o *CacheObserver) Evicted(n int) {
	if o.m == nil {
		return
	}
	o.m.CacheEvictions.Add(context.Background(), int64(n))
}
