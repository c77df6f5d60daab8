package db

import "github.com/shokooh-rigi/algo-trade/pkg/exchanges/common"

// StrategyKind selects the signal logic for a strategy config.
type StrategyKind string

const (
	KindMACDEMACross StrategyKind = "MACD_EMA_CROSS"
	KindBreakout     StrategyKind = "BREAKOUT"
)

// Valid reports whether the kind is known.
func (k StrategyKind) Valid() bool {
	return k == KindMACDEMACross || k == KindBreakout
}

// DealStatus is the lifecycle state of a deal.
type DealStatus string

const (
	DealStarted     DealStatus = "STARTED"
	DealRunning     DealStatus = "RUNNING"
	DealUpdated     DealStatus = "UPDATED"
	DealStopped     DealStatus = "STOPPED"
	DealNotOrdering DealStatus = "NOT_ORDERING"
)

// Valid reports whether the status is known.
func (s DealStatus) Valid() bool {
	switch s {
	case DealStarted, DealRunning, DealUpdated, DealStopped, DealNotOrdering:
		return true
	}
	return false
}

// CanTransitionTo reports whether next is reachable from s. STOPPED is
// terminal.
func (s DealStatus) CanTransitionTo(next DealStatus) bool {
	if !next.Valid() || s == next {
		return false
	}
	switch s {
	case DealStarted:
		return next == DealRunning || next == DealStopped || next == DealNotOrdering
	case DealRunning:
		return next == DealUpdated || next == DealStopped || next == DealNotOrdering
	case DealUpdated:
		return next == DealRunning || next == DealStopped || next == DealNotOrdering
	case DealNotOrdering:
		return next == DealRunning || next == DealStopped
	case DealStopped:
		return false
	}
	return false
}

// ProcessedSide records which sides of a deal have had entry orders
// submitted.
type ProcessedSide string

const (
	ProcessedNone       ProcessedSide = "NONE"
	ProcessedBuy        ProcessedSide = "BUY"
	ProcessedSell       ProcessedSide = "SELL"
	ProcessedBuyAndSell ProcessedSide = "BUY_AND_SELL"
)

// Valid reports whether the value is known.
func (p ProcessedSide) Valid() bool {
	switch p {
	case ProcessedNone, ProcessedBuy, ProcessedSell, ProcessedBuyAndSell:
		return true
	}
	return false
}

// Merge folds a newly submitted side into the processed record.
func (p ProcessedSide) Merge(side common.Side) ProcessedSide {
	switch p {
	case ProcessedNone:
		if side == common.SideBuy {
			return ProcessedBuy
		}
		return ProcessedSell
	case ProcessedBuy:
		if side == common.SideSell {
			return ProcessedBuyAndSell
		}
		return ProcessedBuy
	case ProcessedSell:
		if side == common.SideBuy {
			return ProcessedBuyAndSell
		}
		return ProcessedSell
	}
	return ProcessedBuyAndSell
}

// OrderRole says why an order exists within a deal.
type OrderRole string

const (
	RoleEntry      OrderRole = "ENTRY"
	RoleStopLoss   OrderRole = "STOP_LOSS"
	RoleTakeProfit OrderRole = "TAKE_PROFIT"
)

// Valid reports whether the role is known.
func (r OrderRole) Valid() bool {
	switch r {
	case RoleEntry, RoleStopLoss, RoleTakeProfit:
		return true
	}
	return false
}
