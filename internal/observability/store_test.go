package observability

import (
	"context"
	"testing"
	"time"

	"gatekeeper/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// installManualReader routes the global meter to a reader the test can collect.
func installManualReader(t *testing.T) *sdkmetric.ManualReader {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	prev := otel.GetMeterProvider()
	otel.SetMeterProvider(mp)
	t.Cleanup(func() {
		otel.SetMeterProvider(prev)
		mp.Shutdown(context.Background())
	})
	return reader
}

func sumOf(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func newInstrumentedMemoryStore(t *testing.T) (*InstrumentedStore, *storage.MemoryStorage) {
	t.Helper()
	inner, err := storage.NewMemoryStorage(storage.Config{Type: "memory"})
	require.NoError(t, err)
	s, err := NewInstrumentedStore(inner, "memory")
	require.NoError(t, err)
	return s, inner
}

func TestInstrumentedStore_PassesThrough(t *testing.T) {
	s, inner := newInstrumentedMemoryStore(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

	c, err := s.Increment(ctx, "signup:1.2.3.4", now, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Count)

	c, err = s.Increment(ctx, "signup:1.2.3.4", now, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Count)

	got, err := inner.Get(ctx, "signup:1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Count)

	got, err = s.Get(ctx, "signup:1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Count)

	n, err := s.Prune(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	assert.ErrorIs(t, s.Reset(ctx, "signup:1.2.3.4"), storage.ErrNotFound)
	assert.NoError(t, s.Ping(ctx))
	assert.Same(t, inner, s.Unwrap())
	assert.NoError(t, s.Close())
}

func TestInstrumentedStore_CountsFailures(t *testing.T) {
	reader := installManualReader(t)
	s, inner := newInstrumentedMemoryStore(t)
	ctx := context.Background()

	_, err := s.Get(ctx, "signup:missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Equal(t, int64(0), sumOf(t, reader, "counter_store.operation.errors"), "not found is not a failure")

	require.NoError(t, inner.Close())
	_, err = s.Increment(ctx, "signup:a", time.Now(), time.Hour)
	assert.ErrorIs(t, err, storage.ErrUnavailable)
	assert.ErrorIs(t, s.Ping(ctx), storage.ErrUnavailable)

	assert.Equal(t, int64(2), sumOf(t, reader, "counter_store.operation.errors"))
}

func TestInstrumentedStore_ImplementsInterface(t *testing.T) {
	s, _ := newInstrumentedMemoryStore(t)
	var _ storage.CounterStore = s
}

func TestActionOf(t *testing.T) {
	assert.Equal(t, "signup", actionOf("signup:1.2.3.4"))
	assert.Equal(t, "password_reset", actionOf("password_reset:a:b"))
	assert.Equal(t, "nokey", actionOf("nokey"))
}
