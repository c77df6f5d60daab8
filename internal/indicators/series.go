package indicators

import "github.com/shokooh-rigi/algo-trade/pkg/exchanges/common"

// Series splits candle history into the per-field slices the indicator
// functions consume.
type Series struct {
	Closes  []float64
	Highs   []float64
	Lows    []float64
	Volumes []float64
}

// NewSeries extracts a Series from candles in their given order.
func NewSeries(candles []common.Candle) Series {
	s := Series{
		Closes:  make([]float64, len(candles)),
		Highs:   make([]float64, len(candles)),
		Lows:    make([]float64, len(candles)),
		Volumes: make([]float64, len(candles)),
	}
	for i, c := range candles {
		s.Closes[i] = c.Close
		s.Highs[i] = c.High
		s.Lows[i] = c.Low
		s.Volumes[i] = c.Volume
	}
	return s
}

// Len returns the number of bars.
func (s Series) Len() int { return len(s.Closes) }

// LastClose returns the latest close, or 0 for an empty series.
func (s Series) LastClose() float64 {
	if len(s.Closes) == 0 {
		return 0
	}
	return s.Closes[len(s.Closes)-1]
}

// HighestHigh returns the maximum high over the lookback bars preceding the
// latest bar.
func (s Series) HighestHigh(lookback int) float64 {
	return extreme(s.Highs, lookback, func(a, b float64) bool { return a > b })
}

// LowestLow returns the minimum low over the lookback bars preceding the
// latest bar.
func (s Series) LowestLow(lookback int) float64 {
	return extreme(s.Lows, lookback, func(a, b float64) bool { return a < b })
}

func extreme(values []float64, lookback int, better func(a, b float64) bool) float64 {
	if lookback <= 0 || len(values) < lookback+1 {
		return 0
	}
	window := values[len(values)-1-lookback : len(values)-1]
	best := window[0]
	for _, v := range window[1:] {
		if better(v, best) {
			best = v
		}
	}
	return best
}
