package observability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestRecordChat(t *testing.T) {
	reader := metric.NewManualReader()
	obs := newWithProvider(metric.NewMeterProvider(metric.WithReader(reader)), "test")
	defer obs.Shutdown()

	ctx := context.Background()
	obs.RecordChat(ctx, "general", "ok", 120*time.Millisecond)
	obs.RecordChat(ctx, "container_query", "ok", 40*time.Millisecond)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	names := map[string]bool{}
	for _, m := range rm.ScopeMetrics[0].Metrics {
		names[m.Name] = true
		if m.Name == "chat.requests" {
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			assert.Equal(t, int64(2), total)
		}
	}
	assert.True(t, names["chat.requests"])
	assert.True(t, names["chat.duration"])
}

func TestZeroValueIsSafe(t *testing.T) {
	var obs Observability
	assert.NotPanics(t, func() {
		obs.RecordChat(context.Background(), "general", "ok", time.Millisecond)
		obs.Shutdown()
	})
}
