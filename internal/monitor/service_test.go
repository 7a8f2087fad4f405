package monitor

import (
	"errors"
	"strings"
	"testing"
	"time"

	"edgex-hft/internal/config"
	"edgex-hft/internal/strategy"
)

type fakeSource struct {
	snapshot strategy.Snapshot
	locked   bool
	calls    int
}

func (f *fakeSource) TrySnapshot() (strategy.Snapshot, bool) {
	f.calls++
	if f.locked {
		return strategy.Snapshot{}, false
	}
	return f.snapshot, true
}

type fakeInterval struct{ interval time.Duration }

func (f fakeInterval) Interval() time.Duration { return f.interval }

func testMonitorConfig() config.MonitorConfig {
	return config.MonitorConfig{
		ReportInterval: time.Hour,
		EventBuffer:    5,
	}
}

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		TargetVolatility: 0.005,
		MaxTradesPerDay:  200,
	}
}

func TestCollect_BuildsReport(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	source := &fakeSource{
		snapshot: strategy.Snapshot{
			Balance:         10000,
			Equity:          []float64{10000, 10100, 9900, 10050},
			DailyVolume:     5000,
			TradeCountToday: 3,
			Trades: []strategy.TradeRecord{
				{PnL: 10, ClosedAt: now.Add(-time.Hour)},
				{PnL: -5, ClosedAt: now.Add(-2 * time.Hour)},
				{PnL: 7, ClosedAt: now.Add(-48 * time.Hour)}, // 超出24小时窗口
			},
		},
	}

	svc := NewService(testMonitorConfig(), testRiskConfig(), source, fakeInterval{9 * time.Second}, nil)
	svc.nowFn = func() time.Time { return now }

	svc.Collect()

	report, ok := svc.LatestReport()
	if !ok {
		t.Fatalf("expected a report event after Collect")
	}
	if report.Balance != 10000 {
		t.Errorf("unexpected balance %f", report.Balance)
	}
	if report.VolumeTarget != 1000000 {
		t.Errorf("expected volume target balance*100, got %f", report.VolumeTarget)
	}
	if report.DailyPnL != 5 {
		t.Errorf("expected 24h pnl 5, got %f", report.DailyPnL)
	}
	if report.WinRate != 0.5 {
		t.Errorf("expected win rate 0.5 over 24h window, got %f", report.WinRate)
	}
	if report.TradeInterval != 9*time.Second {
		t.Errorf("expected interval passthrough, got %v", report.TradeInterval)
	}
	// 权益不足20个样本，波动率应为0
	if report.Volatility != 0 {
		t.Errorf("expected volatility 0 below sample floor, got %f", report.Volatility)
	}
}

func TestCollect_SkipsWhenSourceLocked(t *testing.T) {
	source := &fakeSource{locked: true}
	svc := NewService(testMonitorConfig(), testRiskConfig(), source, nil, nil)

	svc.Collect()

	if _, ok := svc.LatestReport(); ok {
		t.Errorf("expected no report while source is locked")
	}
	if source.calls != 1 {
		t.Errorf("expected a single non-blocking attempt, got %d", source.calls)
	}
}

func TestRecord_RingIsBounded(t *testing.T) {
	svc := NewService(testMonitorConfig(), testRiskConfig(), &fakeSource{}, nil, nil)

	for i := 0; i < 8; i++ {
		svc.RecordError(errors.New("boom"))
	}

	events := svc.Events("", 100)
	if len(events) != 5 {
		t.Errorf("expected ring capped at 5, got %d", len(events))
	}
}

func TestEvents_FilterAndOrder(t *testing.T) {
	svc := NewService(testMonitorConfig(), testRiskConfig(), &fakeSource{}, nil, nil)

	svc.RecordError(errors.New("first"))
	svc.RecordRiskPause(errors.New("vol breaker"))
	svc.RecordError(errors.New("second"))

	errs := svc.Events(EventError, 10)
	if len(errs) != 2 {
		t.Fatalf("expected 2 error events, got %d", len(errs))
	}
	if payload := errs[0].Payload.(ErrorPayload); payload.Message != "second" {
		t.Errorf("expected newest first, got %q", payload.Message)
	}

	pauses := svc.Events(EventRiskPause, 10)
	if len(pauses) != 1 {
		t.Errorf("expected 1 risk pause event, got %d", len(pauses))
	}
}

func TestMaxDrawdown(t *testing.T) {
	if dd := maxDrawdown([]float64{100, 120, 90, 110}); dd != 0.25 {
		t.Errorf("expected drawdown 0.25, got %f", dd)
	}
	if dd := maxDrawdown(nil); dd != 0 {
		t.Errorf("expected zero drawdown for empty series, got %f", dd)
	}
	if dd := maxDrawdown([]float64{100, 110, 120}); dd != 0 {
		t.Errorf("expected zero drawdown for rising series, got %f", dd)
	}
}

func TestFormatReport(t *testing.T) {
	report := Report{
		Timestamp:        time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC),
		Balance:          10000,
		Volatility:       0.004,
		TargetVolatility: 0.005,
		TradeCountToday:  3,
		MaxTradesPerDay:  200,
		TradeInterval:    9 * time.Second,
	}

	text := FormatReport(report)
	for _, want := range []string{"10000.00", "0.0040", "3 / 200", "9s"} {
		if !strings.Contains(text, want) {
			t.Errorf("formatted report missing %q:\n%s", want, text)
		}
	}
}
