package indicators

import (
	"math"
	"testing"

	"github.com/shokooh-rigi/algo-trade/pkg/exchanges/common"
)

func almostEqual(a, b, eps float64) bool {
	return math.Abs(a-b) <= eps
}

func testCandles(closes []float64) []common.Candle {
	out := make([]common.Candle, len(closes))
	for i, c := range closes {
		out[i] = common.Candle{Open: c, High: c + 0.5, Low: c - 0.5, Close: c, Volume: 100}
	}
	return out
}

func TestSMA(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5}
	if got := SMA(values, 3); !almostEqual(got, 4, 1e-9) {
		t.Fatalf("SMA(3) = %v, want 4", got)
	}
	if got := SMA(values, 10); got != 0 {
		t.Fatalf("SMA with short history = %v, want 0", got)
	}
}

func TestEMASeries(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	s := EMASeries(values, 3)
	if s == nil {
		t.Fatal("expected series")
	}
	// Seed is SMA of first 3 values.
	if !almostEqual(s[2], 2, 1e-9) {
		t.Fatalf("seed = %v, want 2", s[2])
	}
	// Rising input keeps EMA rising and below the latest value.
	last := s[len(s)-1]
	if last <= s[len(s)-2] || last >= 10 {
		t.Fatalf("unexpected tail: %v then %v", s[len(s)-2], last)
	}
	if EMASeries(values, 11) != nil {
		t.Fatal("expected nil for insufficient history")
	}
}

func TestMACDSignAgreesWithTrend(t *testing.T) {
	rising := make([]float64, 60)
	for i := range rising {
		rising[i] = 100 + float64(i)
	}
	line, signal, ok := MACD(rising, 12, 26, 9)
	if !ok {
		t.Fatal("expected MACD to compute")
	}
	if line <= 0 {
		t.Fatalf("MACD line on rising series = %v, want > 0", line)
	}
	if signal <= 0 {
		t.Fatalf("signal on rising series = %v, want > 0", signal)
	}

	if _, _, ok := MACD(rising[:30], 12, 26, 9); ok {
		t.Fatal("expected not ok for short history")
	}
}

func TestATR(t *testing.T) {
	n := 30
	highs := make([]float64, n)
	lows := make([]float64, n)
	closes := make([]float64, n)
	for i := 0; i < n; i++ {
		highs[i] = 102
		lows[i] = 98
		closes[i] = 100
	}
	// Constant 4-point range: ATR converges to 4.
	if got := ATR(highs, lows, closes, 14); !almostEqual(got, 4, 1e-9) {
		t.Fatalf("ATR = %v, want 4", got)
	}
	if got := ATR(highs[:10], lows[:10], closes[:10], 14); got != 0 {
		t.Fatalf("ATR with short history = %v, want 0", got)
	}
}

func TestADXTrendingVsFlat(t *testing.T) {
	n := 60
	trendHighs := make([]float64, n)
	trendLows := make([]float64, n)
	trendCloses := make([]float64, n)
	flatHighs := make([]float64, n)
	flatLows := make([]float64, n)
	flatCloses := make([]float64, n)
	for i := 0; i < n; i++ {
		base := 100 + 2*float64(i)
		trendHighs[i] = base + 1
		trendLows[i] = base - 1
		trendCloses[i] = base
		// Flat tape with alternating noise.
		noise := float64(i%2) - 0.5
		flatHighs[i] = 101 + noise
		flatLows[i] = 99 + noise
		flatCloses[i] = 100 + noise
	}

	trending := ADX(trendHighs, trendLows, trendCloses, 14)
	flat := ADX(flatHighs, flatLows, flatCloses, 14)
	if trending <= flat {
		t.Fatalf("expected trending ADX (%v) above flat ADX (%v)", trending, flat)
	}
	if trending < 25 {
		t.Fatalf("steady trend should read strong, got %v", trending)
	}
}

func TestRSIBounds(t *testing.T) {
	rising := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	if got := RSI(rising, 14); got != 100 {
		t.Fatalf("RSI on monotonic rise = %v, want 100", got)
	}
	falling := make([]float64, 16)
	for i := range falling {
		falling[i] = 100 - float64(i)
	}
	if got := RSI(falling, 14); got != 0 {
		t.Fatalf("RSI on monotonic fall = %v, want 0", got)
	}
}

func TestPercentileRank(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 100}
	if got := PercentileRank(values, 9); !almostEqual(got, 100, 1e-9) {
		t.Fatalf("rank of max = %v, want 100", got)
	}
	values[len(values)-1] = 0
	if got := PercentileRank(values, 9); got != 0 {
		t.Fatalf("rank of min = %v, want 0", got)
	}
	if got := PercentileRank(values, 20); got != 0 {
		t.Fatalf("short history rank = %v, want 0", got)
	}
}

func TestSeriesExtremes(t *testing.T) {
	candles := testCandles([]float64{10, 12, 11, 15, 9, 13})
	s := NewSeries(candles)
	// Lookback excludes the latest bar.
	if got := s.HighestHigh(5); !almostEqual(got, 15.5, 1e-9) {
		t.Fatalf("HighestHigh = %v, want 15.5", got)
	}
	if got := s.LowestLow(5); !almostEqual(got, 8.5, 1e-9) {
		t.Fatalf("LowestLow = %v, want 8.5", got)
	}
	if got := s.LastClose(); !almostEqual(got, 13, 1e-9) {
		t.Fatalf("LastClose = %v, want 13", got)
	}
}
