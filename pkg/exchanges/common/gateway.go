package common

import "context"

// Gateway abstracts a trading venue. All calls are synchronous REST
// round-trips; callers own retry policy.
type Gateway interface {
	MarketDataSource

	SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error
	GetOrder(ctx context.Context, symbol, exchangeOrderID string) (OrderInfo, error)
	Balances(ctx context.Context) ([]Balance, error)
}

// MarketDataSource is the read-only subset of a venue. Exchanges that the
// engine never trades on (history providers) implement only this.
type MarketDataSource interface {
	FetchOrderBook(ctx context.Context, symbol string) (OrderBook, error)
	FetchOHLCV(ctx context.Context, symbol, resolution string, from, to int64) ([]Candle, error)
	FetchMarkets(ctx context.Context) ([]MarketInfo, error)
}
