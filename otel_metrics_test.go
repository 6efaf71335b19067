package jobsched_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	js "github.com/azargarov/jobsched"
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

func sumByPriority(t *testing.T, rm metricdata.ResourceMetrics, name string) map[string]int64 {
	t.Helper()
	m := findMetric(rm, name)
	if m == nil {
		t.Fatalf("%s metric not found", name)
	}
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("%s: expected Sum[int64] data type", name)
	}
	out := make(map[string]int64)
	for _, dp := range sum.DataPoints {
		v, _ := dp.Attributes.Value(attribute.Key("priority"))
		out[v.AsString()] += dp.Value
	}
	return out
}

func TestOTelMetrics(t *testing.T) {
	reader, mp := setupTestMeter()
	defer func() { _ = mp.Shutdown(context.Background()) }()

	s := newTestScheduler(t, 2, func(o *js.Options) {
		o.Metrics = js.NewOTelMetricsWithMeter(mp.Meter("test"), o.Levels)
		o.ErrorLogRate = -1
	})

	ok1, _ := s.Submit(emptyWork, js.PriorityCritical)
	ok2, _ := s.Submit(emptyWork, js.PriorityLow)
	bad, _ := s.Submit(func(context.Context) error { return errors.New("fail") }, js.PriorityLow)
	waitDone(t, time.Second, ok1, ok2, bad)

	rm := collectMetrics(t, reader)

	submitted := sumByPriority(t, rm, "jobsched.job.submitted")
	if submitted["critical"] != 1 || submitted["low"] != 2 {
		t.Errorf("submitted = %v", submitted)
	}
	executed := sumByPriority(t, rm, "jobsched.job.executed")
	if executed["critical"] != 1 || executed["low"] != 2 {
		t.Errorf("executed = %v", executed)
	}
	failed := sumByPriority(t, rm, "jobsched.job.failed")
	if failed["low"] != 1 || failed["critical"] != 0 {
		t.Errorf("failed = %v", failed)
	}

	waitUntil(t, time.Second, func() bool {
		return findMetric(collectMetrics(t, reader), "jobsched.worker.parked") != nil
	})
}

func TestOTelMetricsUnknownPriority(t *testing.T) {
	reader, mp := setupTestMeter()
	defer func() { _ = mp.Shutdown(context.Background()) }()

	m := js.NewOTelMetricsWithMeter(mp.Meter("test"), 2)
	m.IncSubmitted(7)

	got := sumByPriority(t, collectMetrics(t, reader), "jobsched.job.submitted")
	if got["p7"] != 1 {
		t.Fatalf("submitted = %v; want p7=1", got)
	}
}
