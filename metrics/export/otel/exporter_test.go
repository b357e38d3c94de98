package otel

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/authcore"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeSource struct {
	mu       sync.RWMutex
	snapshot authcore.MetricsSnapshot
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() authcore.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := authcore.MetricsSnapshot{
		Counters:      make(map[authcore.MetricID]uint64, len(f.snapshot.Counters)),
		Histograms:    make(map[authcore.MetricID][]uint64, len(f.snapshot.Histograms)),
		HistogramSums: make(map[authcore.MetricID]time.Duration, len(f.snapshot.HistogramSums)),
	}
	for k, v := range f.snapshot.Counters {
		out.Counters[k] = v
	}
	for k, buckets := range f.snapshot.Histograms {
		out.Histograms[k] = append([]uint64(nil), buckets...)
	}
	for k, v := range f.snapshot.HistogramSums {
		out.HistogramSums[k] = v
	}
	return out
}

func (f *fakeSource) AuditDropped() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dropped
}

func newReader() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	return reader, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	out := map[string]metricdata.Aggregation{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func intValue(t *testing.T, data metricdata.Aggregation) int64 {
	t.Helper()
	switch d := data.(type) {
	case metricdata.Sum[int64]:
		return d.DataPoints[0].Value
	case metricdata.Gauge[int64]:
		return d.DataPoints[0].Value
	}
	t.Fatalf("unexpected aggregation %T", data)
	return 0
}

// bucketValue returns the cumulative count of the bucket labelled le.
func bucketValue(t *testing.T, data metricdata.Aggregation, le string) int64 {
	t.Helper()
	g, ok := data.(metricdata.Gauge[int64])
	if !ok {
		t.Fatalf("unexpected bucket aggregation %T", data)
	}
	for _, dp := range g.DataPoints {
		if v, ok := dp.Attributes.Value("le"); ok && v.AsString() == le {
			return dp.Value
		}
	}
	t.Fatalf("no bucket le=%s", le)
	return 0
}

func TestExporterCollects(t *testing.T) {
	reader, provider := newReader()
	src := &fakeSource{
		snapshot: authcore.MetricsSnapshot{
			Counters: map[authcore.MetricID]uint64{
				authcore.MetricLoginSuccess: 3,
			},
			Histograms: map[authcore.MetricID][]uint64{
				authcore.MetricVerifyLatency: {1, 1, 1, 1, 1, 1, 1, 1},
			},
			HistogramSums: map[authcore.MetricID]time.Duration{
				authcore.MetricVerifyLatency: 250 * time.Millisecond,
			},
		},
		dropped: 1,
	}

	exp, err := NewExporterFromSource(provider.Meter("authcore-test"), src)
	if err != nil {
		t.Fatalf("new exporter: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	}()

	got := collect(t, reader)
	if v := intValue(t, got["authcore_login_success_total"]); v != 3 {
		t.Fatalf("login success: expected 3, got %d", v)
	}
	if v := intValue(t, got["authcore_audit_dropped_total"]); v != 1 {
		t.Fatalf("audit dropped: expected 1, got %d", v)
	}
	buckets := got["authcore_verify_latency_seconds_bucket"]
	if v := bucketValue(t, buckets, "0.025"); v != 3 {
		t.Fatalf("bucket 0.025: expected 3, got %d", v)
	}
	if v := bucketValue(t, buckets, "+Inf"); v != 8 {
		t.Fatalf("bucket +Inf: expected 8, got %d", v)
	}
	if v := intValue(t, got["authcore_verify_latency_seconds_count"]); v != 8 {
		t.Fatalf("count: expected 8, got %d", v)
	}
	sum, ok := got["authcore_verify_latency_seconds_sum"].(metricdata.Sum[float64])
	if !ok || sum.DataPoints[0].Value != 0.25 {
		t.Fatalf("unexpected sum %+v", got["authcore_verify_latency_seconds_sum"])
	}
}

func TestExporterAttachesAttributes(t *testing.T) {
	reader, provider := newReader()
	src := &fakeSource{
		snapshot: authcore.MetricsSnapshot{
			Counters: map[authcore.MetricID]uint64{authcore.MetricRefreshRotated: 2},
			Histograms: map[authcore.MetricID][]uint64{
				authcore.MetricVerifyLatency: {1},
			},
		},
	}

	exp, err := NewExporterFromSource(provider.Meter("authcore-test"), src, WithAttributes(attribute.String("node", "a")))
	if err != nil {
		t.Fatalf("new exporter: %v", err)
	}
	defer exp.Close()

	got := collect(t, reader)
	refresh, ok := got["authcore_refresh_rotated_total"].(metricdata.Sum[int64])
	if !ok || len(refresh.DataPoints) != 1 {
		t.Fatalf("unexpected refresh data %+v", got["authcore_refresh_rotated_total"])
	}
	if v, ok := refresh.DataPoints[0].Attributes.Value("node"); !ok || v.AsString() != "a" {
		t.Fatalf("counter missing node attribute: %v", refresh.DataPoints[0].Attributes)
	}
	buckets := got["authcore_verify_latency_seconds_bucket"].(metricdata.Gauge[int64])
	if len(buckets.DataPoints) != 8 {
		t.Fatalf("expected 8 bucket points, got %d", len(buckets.DataPoints))
	}
	for _, dp := range buckets.DataPoints {
		if v, ok := dp.Attributes.Value("node"); !ok || v.AsString() != "a" {
			t.Fatalf("bucket missing node attribute: %v", dp.Attributes)
		}
	}
}

func TestExporterRejectsNilInputs(t *testing.T) {
	_, provider := newReader()

	if _, err := NewExporterFromSource(provider.Meter("authcore-test"), nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource, got %v", err)
	}
	if _, err := NewExporterFromSource(nil, &fakeSource{}); err != ErrNilMeter {
		t.Fatalf("expected ErrNilMeter, got %v", err)
	}
	if _, err := NewExporter(provider.Meter("authcore-test"), nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource for nil engine, got %v", err)
	}
}

func TestExporterConcurrentCollect(t *testing.T) {
	reader, provider := newReader()
	src := &fakeSource{
		snapshot: authcore.MetricsSnapshot{
			Counters: map[authcore.MetricID]uint64{authcore.MetricLoginSuccess: 1},
		},
	}

	exp, err := NewExporterFromSource(provider.Meter("authcore-test"), src)
	if err != nil {
		t.Fatalf("new exporter: %v", err)
	}
	defer exp.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.snapshot.Counters[authcore.MetricLoginSuccess] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}
