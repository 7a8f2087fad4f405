package strategy

import (
	"math"
	"testing"
	"time"

	"edgex-hft/internal/config"
)

func testStrategyConfig() config.StrategyConfig {
	return config.StrategyConfig{
		Symbols:            []string{"BTC-USDT"},
		Timeframe:          "1m",
		CandleLimit:        30,
		MinCandles:         20,
		ShortMAPeriod:      5,
		MediumMAPeriod:     20,
		DeviationThreshold: 0.002,
		StopLossPct:        0.002,
		TakeProfitPct:      0.002,
		BaseSizeFraction:   0.001,
		Leverage:           50,
		HoldDuration:       time.Millisecond,
		EquityHistorySize:  20,
		MaxPositionPct:     0.5,
	}
}

func repeatCloses(value float64, n int) []float64 {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = value
	}
	return closes
}

func TestGenerateSignal_InsufficientDataIsHold(t *testing.T) {
	cfg := testStrategyConfig()

	sig := GenerateSignal("BTC-USDT", repeatCloses(100, 19), cfg)
	if sig.Direction != DirectionHold {
		t.Fatalf("expected Hold below candle floor, got %s", sig.Direction)
	}
	if sig.Confidence != 0 {
		t.Errorf("expected confidence 0, got %f", sig.Confidence)
	}
}

func TestGenerateSignal_FlatWindowIsHold(t *testing.T) {
	cfg := testStrategyConfig()

	sig := GenerateSignal("BTC-USDT", repeatCloses(100, 30), cfg)
	if sig.Direction != DirectionHold {
		t.Fatalf("expected Hold on flat window, got %s", sig.Direction)
	}
	if sig.Deviation != 0 {
		t.Errorf("expected deviation 0, got %f", sig.Deviation)
	}
}

func TestGenerateSignal_DownwardDeviationIsLong(t *testing.T) {
	cfg := testStrategyConfig()

	closes := repeatCloses(100, 30)
	closes[29] = 99 // mediumMA=(19*100+99)/20=99.95, deviation≈-0.0095

	sig := GenerateSignal("BTC-USDT", closes, cfg)
	if sig.Direction != DirectionLong {
		t.Fatalf("expected Long on downward deviation, got %s", sig.Direction)
	}
	if sig.Deviation >= -cfg.DeviationThreshold {
		t.Errorf("unexpected deviation %f", sig.Deviation)
	}
	if sig.Confidence != math.Abs(sig.Deviation) {
		t.Errorf("expected confidence |deviation|, got %f", sig.Confidence)
	}
}

func TestGenerateSignal_UpwardDeviationIsShort(t *testing.T) {
	cfg := testStrategyConfig()

	closes := repeatCloses(100, 30)
	closes[29] = 101

	sig := GenerateSignal("BTC-USDT", closes, cfg)
	if sig.Direction != DirectionShort {
		t.Fatalf("expected Short on upward deviation, got %s", sig.Direction)
	}
}

func TestClassifyDeviation_ExactBoundary(t *testing.T) {
	cases := []struct {
		deviation float64
		want      Direction
	}{
		{0.0020000, DirectionHold},
		{0.0020001, DirectionShort},
		{0.0019999, DirectionHold},
		{-0.0020000, DirectionHold},
		{-0.0020001, DirectionLong},
		{-0.0019999, DirectionHold},
		{0.0025, DirectionShort},
		{-0.0025, DirectionLong},
		{0, DirectionHold},
	}

	for _, tc := range cases {
		if got := classifyDeviation(tc.deviation, 0.002); got != tc.want {
			t.Errorf("deviation %f: got %s want %s", tc.deviation, got, tc.want)
		}
	}
}

func TestProtectionLevels_DirectionCorrect(t *testing.T) {
	cfg := testStrategyConfig()

	// 空头：止损在上方，止盈在下方
	stopLoss, takeProfit := ProtectionLevels(DirectionShort, 100.25, cfg)
	if math.Abs(stopLoss-100.4505) > 1e-9 {
		t.Errorf("short stop loss: got %f want 100.4505", stopLoss)
	}
	if math.Abs(takeProfit-100.0495) > 1e-9 {
		t.Errorf("short take profit: got %f want 100.0495", takeProfit)
	}

	stopLoss, takeProfit = ProtectionLevels(DirectionLong, 100, cfg)
	if stopLoss >= 100 || takeProfit <= 100 {
		t.Errorf("long protection inverted: stop=%f target=%f", stopLoss, takeProfit)
	}
}

func TestPositionSize_VolatilityAdjustment(t *testing.T) {
	cfg := testStrategyConfig()

	// 波动率高于基准时按比例缩小：0.002/0.01 = 0.2
	size := PositionSize(10000, 100, 0.01, cfg)
	if math.Abs(size-0.02) > 1e-12 {
		t.Errorf("expected size 0.02, got %f", size)
	}

	// 波动率低于基准时不放大
	size = PositionSize(10000, 100, 0.001, cfg)
	if math.Abs(size-0.1) > 1e-12 {
		t.Errorf("expected size capped at base 0.1, got %f", size)
	}

	if size := PositionSize(0, 100, 0.01, cfg); size != 0 {
		t.Errorf("expected zero size for zero balance, got %f", size)
	}
}

func TestRealizedPnL(t *testing.T) {
	if pnl := RealizedPnL(DirectionLong, 2, 100, 105); pnl != 10 {
		t.Errorf("long pnl: got %f want 10", pnl)
	}
	if pnl := RealizedPnL(DirectionShort, 2, 100, 105); pnl != -10 {
		t.Errorf("short pnl: got %f want -10", pnl)
	}
}
