package strategy

import (
	"fmt"

	"github.com/shokooh-rigi/algo-trade/internal/indicators"
	"github.com/shokooh-rigi/algo-trade/pkg/db"
	"github.com/shokooh-rigi/algo-trade/pkg/exchanges/common"
)

// Breakout trades range escapes: a close beyond the rolling high/low window
// with EMA trend agreement, RSI room and a volume surge. Long and short
// entries are independent, but neither side stacks on a position already
// open in that direction. When candle history is unavailable it can fall
// back to an order-book imbalance read, tagged low confidence.
type Breakout struct {
	params BreakoutParams
}

// NewBreakout validates params and builds the strategy.
func NewBreakout(params BreakoutParams) (*Breakout, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Breakout{params: params}, nil
}

func (s *Breakout) Kind() db.StrategyKind { return db.KindBreakout }

// Evaluate inspects the snapshot for a breakout or, failing candle data, an
// imbalance fallback entry.
func (s *Breakout) Evaluate(snap Snapshot, ec EvalContext) (*Signal, error) {
	p := s.params

	if cooldownActive(ec.LastDealAt, snap.Now, p.CooldownMinutes) {
		return nil, nil
	}

	need := p.Window + 1
	if m := p.SlowEMA + 1; m > need {
		need = m
	}
	if m := p.RSIPeriod + 2; m > need {
		need = m
	}
	if m := p.VolumeLookback + 1; m > need {
		need = m
	}

	if len(snap.Candles) < need {
		return s.imbalanceFallback(snap, ec)
	}

	series := indicators.NewSeries(snap.Candles)
	closes := series.Closes
	price := snap.Price
	if price == 0 {
		price = series.LastClose()
	}

	fast := indicators.EMA(closes, p.FastEMA)
	slow := indicators.EMA(closes, p.SlowEMA)
	rsi := indicators.RSI(closes, p.RSIPeriod)

	volume := series.Volumes[len(series.Volumes)-1]
	avgVolume := indicators.RollingMean(series.Volumes, p.VolumeLookback)
	volumeSurge := avgVolume > 0 && volume >= p.MinVolumeRatio*avgVolume

	high := series.HighestHigh(p.Window)
	low := series.LowestLow(p.Window)

	if !ec.HasOpenLong && price > high && fast > slow && rsi < p.RSIMax && volumeSurge {
		sl, tp := protectionFor(common.SideBuy, price, p.StopLossPercent, p.TakeProfitPercent)
		return &Signal{
			Side:            common.SideBuy,
			Price:           price,
			StopLossPrice:   sl,
			TakeProfitPrice: tp,
			TrailingEnabled: p.TrailingEnabled,
			TrailingPercent: p.TrailingPercent,
			Reason:          fmt.Sprintf("breakout above %.4f (window %d), rsi %.1f, volume x%.2f", high, p.Window, rsi, volume/avgVolume),
			Confidence:      0.7,
		}, nil
	}

	if p.AllowShort && !ec.HasOpenShort && price < low && fast < slow && rsi > p.RSIMin && volumeSurge {
		sl, tp := protectionFor(common.SideSell, price, p.StopLossPercent, p.TakeProfitPercent)
		return &Signal{
			Side:            common.SideSell,
			Price:           price,
			StopLossPrice:   sl,
			TakeProfitPrice: tp,
			TrailingEnabled: p.TrailingEnabled,
			TrailingPercent: p.TrailingPercent,
			Reason:          fmt.Sprintf("breakdown below %.4f (window %d), rsi %.1f, volume x%.2f", low, p.Window, rsi, volume/avgVolume),
			Confidence:      0.7,
		}, nil
	}

	return nil, nil
}

// imbalanceFallback trades a strong one-sided book when candles are
// missing. Top levels of each side are summed; a heavy bid side is a long,
// a heavy ask side a short. The same direction gating applies here.
func (s *Breakout) imbalanceFallback(snap Snapshot, ec EvalContext) (*Signal, error) {
	p := s.params
	if snap.Book == nil {
		return nil, &common.DataUnavailableError{What: "candles and order book"}
	}
	ratio := snap.Book.DepthRatio(p.ImbalanceLevels)
	if ratio == 0 {
		return nil, &common.DataUnavailableError{What: "order book depth"}
	}

	price := snap.Price
	if price == 0 && len(snap.Book.Bids) > 0 && len(snap.Book.Asks) > 0 {
		price = (snap.Book.Bids[0].Price + snap.Book.Asks[0].Price) / 2
	}
	if price <= 0 {
		return nil, &common.DataUnavailableError{What: "reference price"}
	}

	var side common.Side
	switch {
	case !ec.HasOpenLong && ratio >= p.ImbalanceRatio:
		side = common.SideBuy
	case p.AllowShort && !ec.HasOpenShort && ratio <= 1/p.ImbalanceRatio:
		side = common.SideSell
	default:
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
		Reason:          fmt.Sprintf("imbalance fallback: bid/ask depth %.2f over top %d levels", ratio, p.ImbalanceLevels),
		Confidence:      0.3,
	}, nil
}
