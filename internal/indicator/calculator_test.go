package indicator

import (
	"math"
	"testing"
)

func TestSMA(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5}

	if got := SMA(values, 5); got != 3 {
		t.Errorf("SMA(5): got %f want 3", got)
	}
	if got := SMA(values, 2); got != 4.5 {
		t.Errorf("SMA(2): got %f want 4.5", got)
	}
	if got := SMA(values, 6); got != 0 {
		t.Errorf("expected 0 for insufficient samples, got %f", got)
	}
	if got := SMA(nil, 1); got != 0 {
		t.Errorf("expected 0 for empty series, got %f", got)
	}
}

func TestStdDev(t *testing.T) {
	// 总体标准差：{2,4,4,4,5,5,7,9} → 2
	values := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	if got := StdDev(values); math.Abs(got-2) > 1e-12 {
		t.Errorf("StdDev: got %f want 2", got)
	}
	if got := StdDev([]float64{5, 5, 5}); got != 0 {
		t.Errorf("expected 0 for constant series, got %f", got)
	}
	if got := StdDev(nil); got != 0 {
		t.Errorf("expected 0 for empty series, got %f", got)
	}
}

func TestAnnualizedVolatility_FlooredForFlatWindow(t *testing.T) {
	flat := []float64{100, 100, 100, 100}
	if got := AnnualizedVolatility(flat); got != 0.01 {
		t.Errorf("expected floor 0.01 for flat window, got %f", got)
	}
}

func TestAnnualizedVolatility_ScalesWithReturns(t *testing.T) {
	closes := []float64{100, 101, 100, 101, 100}
	got := AnnualizedVolatility(closes)

	want := StdDev(Returns(closes)) * math.Sqrt(252)
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("got %f want %f", got, want)
	}
	if got <= 0.01 {
		t.Errorf("expected volatility above floor, got %f", got)
	}
}

func TestEquityVolatility_SampleFloor(t *testing.T) {
	equity := make([]float64, 19)
	for i := range equity {
		if i%2 == 0 {
			equity[i] = 100
		} else {
			equity[i] = 110
		}
	}

	if got := EquityVolatility(equity, 20); got != 0 {
		t.Errorf("expected 0 below sample floor, got %f", got)
	}

	equity = append(equity, 100)
	if got := EquityVolatility(equity, 20); got <= 0 {
		t.Errorf("expected positive volatility at sample floor, got %f", got)
	}
}

func TestReturns(t *testing.T) {
	got := Returns([]float64{100, 110, 99})
	if len(got) != 2 {
		t.Fatalf("expected 2 returns, got %d", len(got))
	}
	if math.Abs(got[0]-0.1) > 1e-12 {
		t.Errorf("first return: got %f want 0.1", got[0])
	}
	if math.Abs(got[1]+0.1) > 1e-12 {
		t.Errorf("second return: got %f want -0.1", got[1])
	}

	if Returns([]float64{100}) != nil {
		t.Errorf("expected nil for single sample")
	}
}

func TestSafeDivide(t *testing.T) {
	if got := SafeDivide(10, 4); got != 2.5 {
		t.Errorf("got %f want 2.5", got)
	}
	if got := SafeDivide(10, 0); got != 0 {
		t.Errorf("expected 0 for zero divisor, got %f", got)
	}
}
