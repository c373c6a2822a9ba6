package middleware_test

import (
	"context"
	"errors"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/xraph/conveyor"
	mw "github.com/xraph/conveyor/middleware"
)

func setupTestMeter() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return reader, mp
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func hasAttr(attrs []metricdata.DataPoint[int64], key, want string) bool {
	for _, dp := range attrs {
		for _, attr := range dp.Attributes.ToSlice() {
			if string(attr.Key) == key && attr.Value.AsString() == want {
				return true
			}
		}
	}
	return false
}

func TestMetrics_RecordsDuration(t *testing.T) {
	reader, mp := setupTestMeter()
	layer := mw.MetricsWithMeter[string](mp.Meter("test"))
	h := layer(okHandler(nil))

	if _, err := h.Handle(context.Background(), conveyor.NewRequest("payload")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rm := collectMetrics(t, reader)
	metric := findMetric(rm, "conveyor.job.duration")
	if metric == nil {
		t.Fatal("conveyor.job.duration metric not found")
	}

	hist, ok := metric.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("expected Histogram[float64] data type")
	}
	if len(hist.DataPoints) == 0 {
		t.Fatal("no data points recorded for duration")
	}
	if hist.DataPoints[0].Count != 1 {
		t.Errorf("expected count=1, got %d", hist.DataPoints[0].Count)
	}
}

func TestMetrics_CountsDeliveries_Success(t *testing.T) {
	reader, mp := setupTestMeter()
	layer := mw.MetricsWithMeter[string](mp.Meter("test"))
	h := layer(okHandler(nil))

	if _, err := h.Handle(context.Background(), conveyor.NewRequest("payload")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rm := collectMetrics(t, reader)
	metric := findMetric(rm, "conveyor.job.deliveries")
	if metric == nil {
		t.Fatal("conveyor.job.deliveries metric not found")
	}

	sum, ok := metric.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("expected Sum[int64] data type")
	}
	if len(sum.DataPoints) == 0 {
		t.Fatal("no data points recorded")
	}
	if sum.DataPoints[0].Value != 1 {
		t.Errorf("expected value=1, got %d", sum.DataPoints[0].Value)
	}
	if !hasAttr(sum.DataPoints, "status", "ok") {
		t.Error("expected status=ok attribute on deliveries counter")
	}
}

func TestMetrics_CountsDeliveries_Error(t *testing.T) {
	reader, mp := setupTestMeter()
	layer := mw.MetricsWithMeter[string](mp.Meter("test"))
	h := layer(conveyor.HandlerFunc[string](func(_ context.Context, _ *conveyor.Request[string]) (any, error) {
		return nil, errors.New("boom")
	}))

	if _, err := h.Handle(context.Background(), conveyor.NewRequest("payload")); err == nil {
		t.Fatal("expected handler error")
	}

	rm := collectMetrics(t, reader)
	metric := findMetric(rm, "conveyor.job.deliveries")
	if metric == nil {
		t.Fatal("conveyor.job.deliveries metric not found")
	}

	sum, ok := metric.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("expected Sum[int64] data type")
	}
	if !hasAttr(sum.DataPoints, "status", "error") {
		t.Error("expected status=error attribute on deliveries counter")
	}
}

func TestMetrics_WorkerAttribute(t *testing.T) {
	reader, mp := setupTestMeter()
	layer := mw.MetricsWithMeter[string](mp.Meter("test"))
	h := layer(okHandler(nil))

	ctx := conveyor.ContextWithRef(context.Background(), conveyor.NewRef("mailer"))
	if _, err := h.Handle(ctx, conveyor.NewRequest("payload")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rm := collectMetrics(t, reader)
	metric := findMetric(rm, "conveyor.job.deliveries")
	if metric == nil {
		t.Fatal("conveyor.job.deliveries metric not found")
	}
	sum, ok := metric.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("expected Sum[int64] data type")
	}
	if !hasAttr(sum.DataPoints, "worker", "mailer") {
		t.Error("expected worker=mailer attribute on deliveries counter")
	}
}
