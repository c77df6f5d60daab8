package strategy

import (
	"fmt"

	"github.com/shokooh-rigi/algo-trade/internal/indicators"
	"github.com/shokooh-rigi/algo-trade/pkg/db"
	"github.com/shokooh-rigi/algo-trade/pkg/exchanges/common"
)

// MACDEMACross is the composite trend-following strategy. An EMA crossover
// on the trade resolution opens the decision; MACD agreement, a higher-
// timeframe EMA trend filter, ADX/ATR regime checks, a volume percentile
// gate and order-book depth confirmation all have to agree before a signal
// leaves. The trend and regime filters apply only once their indicator has
// warmed up; missing confirmation history skips the filter rather than the
// signal. SELL only closes an existing long; this strategy never opens a
// short.
type MACDEMACross struct {
	params MACDEMAParams
}

// NewMACDEMACross validates params and builds the strategy.
func NewMACDEMACross(params MACDEMAParams) (*MACDEMACross, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &MACDEMACross{params: params}, nil
}

func (s *MACDEMACross) Kind() db.StrategyKind { return db.KindMACDEMACross }

// Evaluate runs all filters against the snapshot. Insufficient history is
// reported as DataUnavailable, never as a trade.
func (s *MACDEMACross) Evaluate(snap Snapshot, ec EvalContext) (*Signal, error) {
	p := s.params

	need := p.SlowEMA + p.SignalPeriod
	if len(snap.Candles) < need+1 {
		return nil, &common.DataUnavailableError{What: fmt.Sprintf("need %d candles, have %d", need+1, len(snap.Candles))}
	}
	if snap.Book == nil {
		return nil, &common.DataUnavailableError{What: "order book"}
	}

	if cooldownActive(ec.LastDealAt, snap.Now, p.CooldownMinutes) {
		return nil, nil
	}

	series := indicators.NewSeries(snap.Candles)
	closes := series.Closes
	n := len(closes) - 1

	fast := indicators.EMASeries(closes, p.FastEMA)
	slow := indicators.EMASeries(closes, p.SlowEMA)

	crossUp := fast[n-1] <= slow[n-1] && fast[n] > slow[n]
	crossDown := fast[n-1] >= slow[n-1] && fast[n] < slow[n]
	if !crossUp && !crossDown {
		return nil, nil
	}

	side := common.SideBuy
	if crossDown {
		side = common.SideSell
	}

	// A BUY never stacks on a long that is already open; SELL only ever
	// closes an existing one.
	if side == common.SideBuy && ec.HasOpenLong {
		return nil, nil
	}
	if side == common.SideSell && !ec.HasOpenLong {
		return nil, nil
	}

	macdLine, macdSignal, ok := indicators.MACD(closes, p.FastEMA, p.SlowEMA, p.SignalPeriod)
	if !ok {
		return nil, &common.DataUnavailableError{What: "macd history"}
	}
	if side == common.SideBuy && macdLine <= macdSignal {
		return nil, nil
	}
	if side == common.SideSell && macdLine >= macdSignal {
		return nil, nil
	}

	price := snap.Price
	if price == 0 {
		price = series.LastClose()
	}
	if price <= 0 {
		return nil, nil
	}

	// Higher timeframe trend must point the same way, once enough higher
	// timeframe history exists to read it.
	trendCloses := indicators.NewSeries(snap.TrendCandles).Closes
	if len(trendCloses) >= p.TrendEMA {
		trendEMA := indicators.EMA(trendCloses, p.TrendEMA)
		if side == common.SideBuy && price <= trendEMA {
			return nil, nil
		}
		if side == common.SideSell && price >= trendEMA {
			return nil, nil
		}
	}

	// Regime checks: enough directional strength and enough movement. A
	// zero reading means the indicator has not warmed up yet and the
	// check is skipped.
	if adx := indicators.ADX(series.Highs, series.Lows, closes, p.ADXPeriod); adx > 0 && adx < p.MinADX {
		return nil, nil
	}
	if atr := indicators.ATR(series.Highs, series.Lows, closes, p.ATRPeriod); atr > 0 && atr/price*100 < p.MinATRPercent {
		return nil, nil
	}

	if rank := indicators.PercentileRank(series.Volumes, p.VolumeLookback); rank < p.MinVolumePercentile {
		return nil, nil
	}

	// Depth confirmation: the book has to lean the same way.
	ratio := snap.Book.DepthRatio(p.DepthLevels)
	if ratio == 0 {
		return nil, &common.DataUnavailableError{What: "order book depth"}
	}
	if side == common.SideBuy && ratio < p.MinDepthRatio {
		return nil, nil
	}
	if side == common.SideSell && ratio > 1/p.MinDepthRatio {
		return nil, nil
	}

	sl, tp := protectionFor(side, price, p.StopLossPercent, p.TakeProfitPercent)
	return &Signal{
		Side:            side,
		Price:           price,
		StopLossPrice:   sl,
		TakeProfitPrice: tp,
		TrailingEnabled: p.TrailingEnabled,
		TrailingPercent: p.TrailingPercent,
		Reason: fmt.Sprintf("ema%d/%d cross %s, macd %.4f vs %.4f, depth %.2f",
			p.FastEMA, p.SlowEMA, side, macdLine, macdSignal, ratio),
		Confidence: 0.8,
	}, nil
}
