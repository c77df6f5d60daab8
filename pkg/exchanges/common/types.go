package common

import "time"

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Valid reports whether the side is a known value.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Opposite returns the other side. Unknown sides map to themselves.
func (s Side) Opposite() Side {
	switch s {
	case SideBuy:
		return SideSell
	case SideSell:
		return SideBuy
	}
	return s
}

// OrderType denotes the order types the engine places.
type OrderType string

const (
	OrderTypeMarket     OrderType = "MARKET"
	OrderTypeLimit      OrderType = "LIMIT"
	OrderTypeStopMarket OrderType = "STOP_MARKET"
)

// Valid reports whether the order type is a known value.
func (t OrderType) Valid() bool {
	switch t {
	case OrderTypeMarket, OrderTypeLimit, OrderTypeStopMarket:
		return true
	}
	return false
}

// OrderStatus normalizes exchange status into a small set.
type OrderStatus string

const (
	StatusNew      OrderStatus = "NEW"
	StatusPartial  OrderStatus = "PARTIALLY_FILLED"
	StatusFilled   OrderStatus = "FILLED"
	StatusCanceled OrderStatus = "CANCELED"
)

// Terminal reports whether no further fills can arrive for this status.
func (s OrderStatus) Terminal() bool {
	return s == StatusFilled || s == StatusCanceled
}

// Valid reports whether the status is a known value.
func (s OrderStatus) Valid() bool {
	switch s {
	case StatusNew, StatusPartial, StatusFilled, StatusCanceled:
		return true
	}
	return false
}

// OrderRequest captures an order intent to be sent to an exchange.
type OrderRequest struct {
	Symbol    string
	Side      Side
	Type      OrderType
	Qty       float64
	Price     float64 // required for LIMIT
	StopPrice float64 // required for STOP_MARKET
	ClientID  string  // client order id (uuid)
}

// OrderResult returns the exchange ack.
type OrderResult struct {
	ExchangeOrderID string
	Status          OrderStatus
	ClientID        string
}

// OrderInfo is the exchange's view of an order, read back during
// reconciliation.
type OrderInfo struct {
	ExchangeOrderID string
	ClientID        string
	Symbol          string
	Side            Side
	Status          OrderStatus
	Price           float64
	Qty             float64
	FilledQty       float64
	AvgFillPrice    float64
	UpdatedAt       time.Time
}

// BookLevel is a single price level of an order book.
type BookLevel struct {
	Price float64
	Qty   float64
}

// OrderBook is a depth snapshot, best levels first.
type OrderBook struct {
	Symbol string
	Bids   []BookLevel
	Asks   []BookLevel
}

// DepthRatio sums the top n levels of each side and returns bid/ask depth
// as a ratio. It returns 0 when either side is empty.
func (b OrderBook) DepthRatio(n int) float64 {
	bid := sumLevels(b.Bids, n)
	ask := sumLevels(b.Asks, n)
	if bid == 0 || ask == 0 {
		return 0
	}
	return bid / ask
}

func sumLevels(levels []BookLevel, n int) float64 {
	total := 0.0
	for i, l := range levels {
		if i >= n {
			break
		}
		total += l.Qty
	}
	return total
}

// Candle is one OHLCV bar. OpenTime is the bar start in UTC.
type Candle struct {
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// MarketInfo describes a tradable symbol's trading rules as reported by the
// exchange.
type MarketInfo struct {
	Symbol      string
	BaseAsset   string
	QuoteAsset  string
	TickSize    string
	StepSize    string
	MinQty      float64
	MinNotional float64
	Active      bool
}

// Balance is a single-asset account balance.
type Balance struct {
	Asset  string
	Free   float64
	Locked float64
}
