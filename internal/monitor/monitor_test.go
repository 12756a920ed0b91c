package monitor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/chatrelay/linedify/internal/config"
)

type fakeMetrics struct {
	requests  float64
	costs     []float64
	err       error
	callCount atomic.Int64
}

func (f *fakeMetrics) RequestCount(context.Context, string, string) (float64, error) {
	f.callCount.Add(1)
	return f.requests, f.err
}

func (f *fakeMetrics) DailyCosts(context.Context, int) ([]float64, error) {
	f.callCount.Add(1)
	return f.costs, f.err
}

func testMonitorConfig() config.MonitorConfig {
	return config.MonitorConfig{
		Enabled:            true,
		Listen:             "127.0.0.1:0",
		UpstreamURL:        "http://upstream.invalid",
		CacheTTLSec:        120,
		BaselineMonthlyUSD: 30,
	}
}

func TestServiceHealth_QuietService(t *testing.T) {
	svc := NewService(testMonitorConfig(), &fakeMetrics{requests: 40})

	report, err := svc.ServiceHealth(context.Background(), "relay", "")
	if err != nil {
		t.Fatalf("ServiceHealth: %v", err)
	}
	if report.SystemHealth != "healthy" {
		t.Errorf("SystemHealth = %q, want healthy", report.SystemHealth)
	}
	if report.Window != "1h" {
		t.Errorf("Window = %q, want the 1h default", report.Window)
	}
	if report.Trends.TrafficTrend != "stable" {
		t.Errorf("TrafficTrend = %q", report.Trends.TrafficTrend)
	}
	if len(report.SuspectedCauses) != 0 {
		t.Errorf("SuspectedCauses = %v, want none", report.SuspectedCauses)
	}
}

func TestServiceHealth_BusyService(t *testing.T) {
	svc := NewService(testMonitorConfig(), &fakeMetrics{requests: 5000})

	report, err := svc.ServiceHealth(context.Background(), "relay", "1h")
	if err != nil {
		t.Fatalf("ServiceHealth: %v", err)
	}
	if report.SystemHealth != "degraded" {
		t.Errorf("SystemHealth = %q, want degraded at the assumed error rate", report.SystemHealth)
	}
	if report.Trends.TrafficTrend != "rising" {
		t.Errorf("TrafficTrend = %q, want rising", report.Trends.TrafficTrend)
	}
	if len(report.SuspectedCauses) != 1 || report.SuspectedCauses[0] != "traffic_spike" {
		t.Errorf("SuspectedCauses = %v", report.SuspectedCauses)
	}
}

func TestServiceHealth_RequiresServiceName(t *testing.T) {
	svc := NewService(testMonitorConfig(), &fakeMetrics{})
	if _, err := svc.ServiceHealth(context.Background(), "", "1h"); err == nil {
		t.Fatal("want an error for a missing service name")
	}
}

func TestServiceHealth_CacheHit(t *testing.T) {
	upstream := &fakeMetrics{requests: 10}
	svc := NewService(testMonitorConfig(), upstream)

	for i := 0; i < 3; i++ {
		if _, err := svc.ServiceHealth(context.Background(), "relay", "1h"); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if n := upstream.callCount.Load(); n != 1 {
		t.Errorf("upstream calls = %d, want 1 (cache must absorb repeats)", n)
	}
}

func TestServiceHealth_UpstreamError(t *testing.T) {
	svc := NewService(testMonitorConfig(), &fakeMetrics{err: errors.New("upstream down")})
	if _, err := svc.ServiceHealth(context.Background(), "relay", "1h"); err == nil {
		t.Fatal("upstream errors must propagate, not be cached")
	}
}

func TestCostProjection(t *testing.T) {
	upstream := &fakeMetrics{costs: []float64{1, 2, 3, 4, 5, 6, 7}}
	svc := NewService(testMonitorConfig(), upstream)

	report, err := svc.CostProjection(context.Background(), "")
	if err != nil {
		t.Fatalf("CostProjection: %v", err)
	}
	if report.Timeframe != "7d" {
		t.Errorf("Timeframe = %q, want the 7d default", report.Timeframe)
	}
	if report.CurrentCostUSD != 28 {
		t.Errorf("CurrentCostUSD = %v, want 28", report.CurrentCostUSD)
	}
	if report.AverageDailyUSD != 4 {
		t.Errorf("AverageDailyUSD = %v, want 4", report.AverageDailyUSD)
	}
	if report.ProjectedMonthlyUSD != 120 {
		t.Errorf("ProjectedMonthlyUSD = %v, want 120", report.ProjectedMonthlyUSD)
	}
	if report.BurnRate != 4 {
		t.Errorf("BurnRate = %v, want 4", report.BurnRate)
	}
	if !report.Anomaly {
		t.Error("projection far above baseline must flag an anomaly")
	}
}

func TestCostProjection_WithinBaseline(t *testing.T) {
	upstream := &fakeMetrics{costs: []float64{1, 1, 1, 1, 1, 1, 1}}
	svc := NewService(testMonitorConfig(), upstream)

	report, err := svc.CostProjection(context.Background(), "7d")
	if err != nil {
		t.Fatalf("CostProjection: %v", err)
	}
	if report.ProjectedMonthlyUSD != 30 {
		t.Errorf("ProjectedMonthlyUSD = %v, want 30", report.ProjectedMonthlyUSD)
	}
	if report.Anomaly {
		t.Error("spend at baseline must not flag an anomaly")
	}
}

func TestCostProjection_EmptySeries(t *testing.T) {
	svc := NewService(testMonitorConfig(), &fakeMetrics{costs: nil})
	if _, err := svc.CostProjection(context.Background(), "7d"); err == nil {
		t.Fatal("want an error when the upstream returns no datapoints")
	}
}

func TestCostProjection_CacheHit(t *testing.T) {
	upstream := &fakeMetrics{costs: []float64{2, 2, 2}}
	svc := NewService(testMonitorConfig(), upstream)

	for i := 0; i < 3; i++ {
		if _, err := svc.CostProjection(context.Background(), "7d"); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if n := upstream.callCount.Load(); n != 1 {
		t.Errorf("upstream calls = %d, want 1", n)
	}
}
