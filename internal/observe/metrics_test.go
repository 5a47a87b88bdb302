package observe_test

import (
	"context"
	"testing"

	"github.com/nullwave/nullwave/internal/observe"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMeter returns a Metrics instance backed by a manual reader so tests
// can collect recorded data without a running exporter.
func newTestMeter(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) (metricdata.Metrics, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m, true
			}
		}
	}
	return metricdata.Metrics{}, false
}

func TestRecordBlockIncrementsCounterAndHistogram(t *testing.T) {
	t.Parallel()

	m, reader := newTestMeter(t)
	ctx := context.Background()

	m.RecordBlock(ctx, "apply-anc", 0.002)
	m.RecordBlock(ctx, "apply-anc", 0.004)
	m.RecordBlock(ctx, "pass-through", 0.001)

	rm := collect(t, reader)

	counter, ok := findMetric(rm, "nullwave.blocks.processed")
	if !ok {
		t.Fatal("nullwave.blocks.processed not found")
	}
	sum, ok := counter.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type %T", counter.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	if total != 3 {
		t.Fatalf("blocks.processed total = %d, want 3", total)
	}

	hist, ok := findMetric(rm, "nullwave.block.latency")
	if !ok {
		t.Fatal("nullwave.block.latency not found")
	}
	hd, ok := hist.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("unexpected data type %T", hist.Data)
	}
	var count uint64
	for _, dp := range hd.DataPoints {
		count += dp.Count
	}
	if count != 3 {
		t.Fatalf("block.latency count = %d, want 3", count)
	}
}

func TestRecordDropTagsDirection(t *testing.T) {
	t.Parallel()

	m, reader := newTestMeter(t)
	ctx := context.Background()

	m.RecordDrop(ctx, "in")
	m.RecordDrop(ctx, "in")
	m.RecordDrop(ctx, "out")

	rm := collect(t, reader)
	counter, ok := findMetric(rm, "nullwave.blocks.dropped")
	if !ok {
		t.Fatal("nullwave.blocks.dropped not found")
	}
	sum := counter.Data.(metricdata.Sum[int64])
	if len(sum.DataPoints) != 2 {
		t.Fatalf("expected 2 attribute sets, got %d", len(sum.DataPoints))
	}
}

func TestActiveSessionsUpDown(t *testing.T) {
	t.Parallel()

	m, reader := newTestMeter(t)
	ctx := context.Background()

	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, -1)

	rm := collect(t, reader)
	g, ok := findMetric(rm, "nullwave.active_sessions")
	if !ok {
		t.Fatal("nullwave.active_sessions not found")
	}
	sum := g.Data.(metricdata.Sum[int64])
	if len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 1 {
		t.Fatalf("active_sessions = %+v, want single point of 1", sum.DataPoints)
	}
}
