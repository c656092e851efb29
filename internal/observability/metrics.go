package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"talk2data/internal/registry"
	"talk2data/internal/schemarefresh"
)

// MeterName is the instrumentation scope for talk2data instruments.
const MeterName = "talk2data"

// MeterProvider keeps metrics in process. A CLI run is too short for periodic export, so
// Report collects once and writes every data point to the log.
type MeterProvider struct {
	provider *sdkmetric.MeterProvider
	reader   *sdkmetric.ManualReader
}

// InitMeterProvider installs a global meter provider backed by a manual reader.
func InitMeterProvider(cfg Config) (*MeterProvider, error) {
	res, err := newResource(cfg)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(provider)

	return &MeterProvider{provider: provider, reader: reader}, nil
}

// Meter returns the talk2data meter of this provider.
func (mp *MeterProvider) Meter() metric.Meter {
	return mp.provider.Meter(MeterName)
}

// Report logs the current value of every instrument.
func (mp *MeterProvider) Report(ctx context.Context, logger *slog.Logger) error {
	var rm metricdata.ResourceMetrics
	if err := mp.reader.Collect(ctx, &rm); err != nil {
		return fmt.Errorf("failed to collect metrics: %w", err)
	}
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			reportMetric(ctx, logger, m)
		}
	}
	return nil
}

func reportMetric(ctx context.Context, logger *slog.Logger, m metricdata.Metrics) {
	switch data := m.Data.(type) {
	case metricdata.Sum[int64]:
		for _, dp := range data.DataPoints {
			logger.LogAttrs(ctx, slog.LevelInfo, "metric",
				append(attrsOf(dp.Attributes), slog.String("name", m.Name), slog.Int64("value", dp.Value))...)
		}
	case metricdata.Gauge[int64]:
		for _, dp := range data.DataPoints {
			logger.LogAttrs(ctx, slog.LevelInfo, "metric",
				append(attrsOf(dp.Attributes), slog.String("name", m.Name), slog.Int64("value", dp.Value))...)
		}
	case metricdata.Histogram[float64]:
		for _, dp := range data.DataPoints {
			logger.LogAttrs(ctx, slog.LevelInfo, "metric",
				append(attrsOf(dp.Attributes),
					slog.String("name", m.Name),
					slog.Uint64("count", dp.Count),
					slog.Float64("sum", dp.Sum),
					slog.String("unit", m.Unit),
				)...)
		}
	}
}

func attrsOf(set attribute.Set) []slog.Attr {
	attrs := make([]slog.Attr, 0, set.Len())
	for _, kv := range set.ToSlice() {
		attrs = append(attrs, slog.Any(string(kv.Key), kv.Value.AsInterface()))
	}
	return attrs
}

// Shutdown stops the meter provider.
func (mp *MeterProvider) Shutdown(ctx context.Context, logger *slog.Logger) error {
	return shutdown(ctx, logger, "meter provider", mp.provider.Shutdown)
}

// RegistryMetrics records schema registry cache behaviour.
type RegistryMetrics struct {
	lookups      metric.Int64Counter
	loads        metric.Int64Counter
	loadDuration metric.Float64Histogram
}

var _ registry.Recorder = (*RegistryMetrics)(nil)

// NewRegistryMetrics creates the registry instruments on meter.
func NewRegistryMetrics(meter metric.Meter) (*RegistryMetrics, error) {
	lookups, err := meter.Int64Counter(
		"registry.lookups.total",
		metric.WithDescription("Total number of schema registry lookups"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create registry lookup counter: %w", err)
	}

	loads, err := meter.Int64Counter(
		"registry.loads.total",
		metric.WithDescription("Total number of schema loads triggered by registry misses"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create registry load counter: %w", err)
	}

	loadDuration, err := meter.Float64Histogram(
		"registry.load.duration",
		metric.WithDescription("Duration of schema loads in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create registry load duration histogram: %w", err)
	}

	return &RegistryMetrics{
		lookups:      lookups,
		loads:        loads,
		loadDuration: loadDuration,
	}, nil
}

// RecordLookup counts a cache hit or miss.
func (m *RegistryMetrics) RecordLookup(ctx context.Context, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.lookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordLoad records one loader invocation.
func (m *RegistryMetrics) RecordLoad(ctx context.Context, duration time.Duration, success bool) {
	attrs := metric.WithAttributes(attribute.Bool("success", success))
	m.loads.Add(ctx, 1, attrs)
	m.loadDuration.Record(ctx, float64(duration.Microseconds())/1000, attrs)
}

// RefreshMetrics records schema refresh behaviour.
type RefreshMetrics struct {
	refreshCounter  metric.Int64Counter
	errorCounter    metric.Int64Counter
	durationHist    metric.Float64Histogram
	lastSuccessUnix atomic.Int64
}

var _ schemarefresh.Recorder = (*RefreshMetrics)(nil)

// NewRefreshMetrics creates the schema refresh instruments on meter.
func NewRefreshMetrics(meter metric.Meter) (*RefreshMetrics, error) {
	refreshCounter, err := meter.Int64Counter(
		"schema.refresh.total",
		metric.WithDescription("Total number of schema refresh attempts"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create schema refresh counter: %w", err)
	}

	errorCounter, err := meter.Int64Counter(
		"schema.refresh.errors.total",
		metric.WithDescription("Total number of failed schema refresh attempts"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create schema refresh error counter: %w", err)
	}

	durationHist, err := meter.Float64Histogram(
		"schema.refresh.duration",
		metric.WithDescription("Duration of schema refresh attempts in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create schema refresh duration histogram: %w", err)
	}

	lastSuccessGauge, err := meter.Int64ObservableGauge(
		"schema.refresh.last_success_unix",
		metric.WithDescription("Unix timestamp of the last successful schema refresh"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create schema refresh last success gauge: %w", err)
	}

	metrics := &RefreshMetrics{
		refreshCounter: refreshCounter,
		errorCounter:   errorCounter,
		durationHist:   durationHist,
	}

	_, err = meter.RegisterCallback(
		func(ctx context.Context, observer metric.Observer) error {
			if value := metrics.lastSuccessUnix.Load(); value > 0 {
				observer.ObserveInt64(lastSuccessGauge, value)
			}
			return nil
		},
		lastSuccessGauge,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register schema refresh gauge callback: %w", err)
	}

	return metrics, nil
}

// RecordRefresh records a schema refresh attempt.
func (m *RefreshMetrics) RecordRefresh(ctx context.Context, duration time.Duration, success bool, trigger string) {
	attrs := []attribute.KeyValue{
		attribute.String("trigger", trigger),
		attribute.Bool("success", success),
	}

	m.refreshCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.durationHist.Record(ctx, float64(duration.Microseconds())/1000, metric.WithAttributes(attrs...))

	if !success {
		m.errorCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("trigger", trigger)))
		return
	}

	m.lastSuccessUnix.Store(time.Now().Unix())
}
