package observability

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"talk2data/internal/logging"
	"talk2data/internal/registry"
	"talk2data/internal/schemamodel"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := make(map[string]metricdata.Aggregation)
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func sumFor(t *testing.T, data metricdata.Aggregation, key attribute.KeyValue) int64 {
	t.Helper()
	sum, ok := data.(metricdata.Sum[int64])
	require.True(t, ok, "expected int64 sum, got %T", data)
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(key.Key); ok && v == key.Value {
			return dp.Value
		}
	}
	return 0
}

func TestRegistryMetrics_RecordsLookupsAndLoads(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	metrics, err := NewRegistryMetrics(provider.Meter(MeterName))
	require.NoError(t, err)

	reg := registry.New(registry.WithMetrics(metrics), registry.WithLogger(logging.Discard()))
	key := registry.NewKey("acme", "sales")
	load := registry.DocumentLoader(schemamodel.BytesLoader([]byte(`
tables:
  - name: fact_sales
    columns: [sale_id]
`)))

	ctx := context.Background()
	_, err = reg.Get(ctx, key, load)
	require.NoError(t, err)
	_, err = reg.Get(ctx, key, load)
	require.NoError(t, err)

	failing := func(context.Context) (*schemamodel.Model, error) { return nil, errors.New("blob unavailable") }
	_, err = reg.Get(ctx, registry.NewKey("acme", "missing"), failing)
	require.Error(t, err)

	data := collect(t, reader)
	assert.Equal(t, int64(1), sumFor(t, data["registry.lookups.total"], attribute.String("result", "hit")))
	assert.Equal(t, int64(2), sumFor(t, data["registry.lookups.total"], attribute.String("result", "miss")))
	assert.Equal(t, int64(1), sumFor(t, data["registry.loads.total"], attribute.Bool("success", true)))
	assert.Equal(t, int64(1), sumFor(t, data["registry.loads.total"], attribute.Bool("success", false)))

	hist, ok := data["registry.load.duration"].(metricdata.Histogram[float64])
	require.True(t, ok)
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	assert.Equal(t, uint64(2), count)
}

func TestMeterProvider_Report(t *testing.T) {
	mp, err := InitMeterProvider(Config{ServiceName: "talk2data-test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mp.Shutdown(context.Background(), discardLogger()) })

	metrics, err := NewRegistryMetrics(mp.Meter())
	require.NoError(t, err)
	metrics.RecordLookup(context.Background(), true)

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	require.NoError(t, mp.Report(context.Background(), logger))

	out := buf.String()
	assert.Contains(t, out, "name=registry.lookups.total")
	assert.Contains(t, out, "result=hit")
	assert.Contains(t, out, "value=1")
}

func TestRefreshMetrics_RecordsAttemptsAndLastSuccess(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	metrics, err := NewRefreshMetrics(provider.Meter(MeterName))
	require.NoError(t, err)

	data := collect(t, reader)
	_, observed := data["schema.refresh.last_success_unix"]
	assert.False(t, observed, "no gauge point before the first success")

	ctx := context.Background()
	metrics.RecordRefresh(ctx, 3*time.Millisecond, true, "startup")
	metrics.RecordRefresh(ctx, time.Millisecond, false, "poll")

	data = collect(t, reader)
	assert.Equal(t, int64(1), sumFor(t, data["schema.refresh.total"], attribute.String("trigger", "startup")))
	assert.Equal(t, int64(1), sumFor(t, data["schema.refresh.errors.total"], attribute.String("trigger", "poll")))

	gauge, ok := data["schema.refresh.last_success_unix"].(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, gauge.DataPoints, 1)
	assert.Positive(t, gauge.DataPoints[0].Value)
}
