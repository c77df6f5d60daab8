package strategy

import (
	"time"

	"github.com/shokooh-rigi/algo-trade/pkg/db"
	"github.com/shokooh-rigi/algo-trade/pkg/exchanges/common"
)

// Snapshot is everything a strategy may look at for one evaluation. All
// candle slices are oldest first.
type Snapshot struct {
	Candles      []common.Candle // trade resolution
	TrendCandles []common.Candle // higher timeframe, for trend filters
	Book         *common.OrderBook
	Price        float64
	Now          time.Time
}

// EvalContext carries the lifecycle facts a strategy needs for gating. It
// is assembled by the engine from the deal history.
type EvalContext struct {
	// HasOpenLong is true while an active BUY deal exists for this slot.
	HasOpenLong bool
	// HasOpenShort is true while an active SELL deal exists for this slot.
	HasOpenShort bool
	// LastDealAt is the zero time when the slot has no deal history.
	LastDealAt time.Time
}

// Signal is a strategy's trading decision. Emitting one never touches
// orders; the deal lifecycle decides what happens next.
type Signal struct {
	Side            common.Side
	Price           float64
	StopLossPrice   float64
	TakeProfitPrice float64
	TrailingEnabled bool
	TrailingPercent float64
	Reason          string
	Confidence      float64
}

// Strategy evaluates one market snapshot into at most one signal. A nil
// signal with a nil error means "no trade".
type Strategy interface {
	Kind() db.StrategyKind
	Evaluate(snap Snapshot, ec EvalContext) (*Signal, error)
}

// cooldownActive reports whether the slot is still inside its cooldown
// window.
func cooldownActive(lastDealAt, now time.Time, cooldownMinutes int) bool {
	if cooldownMinutes <= 0 || lastDealAt.IsZero() {
		return false
	}
	return now.Sub(lastDealAt) < time.Duration(cooldownMinutes)*time.Minute
}

// protectionFor derives stop-loss and take-profit prices around an entry.
func protectionFor(side common.Side, price, slPct, tpPct float64) (sl, tp float64) {
	if side == common.SideBuy {
		return price * (1 - slPct/100), price * (1 + tpPct/100)
	}
	return price * (1 + slPct/100), price * (1 - tpPct/100)
}
