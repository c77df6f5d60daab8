package risk

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/shokooh-rigi/algo-trade/internal/events"
	"github.com/shokooh-rigi/algo-trade/pkg/db"
	"github.com/shokooh-rigi/algo-trade/pkg/exchanges/common"
)

type fakeGateway struct {
	bestBid   float64
	bestAsk   float64
	submits   []common.OrderRequest
	cancels   []string
	submitErr error
	cancelErr error
	nextID    int
}

func (f *fakeGateway) SubmitOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	if f.submitErr != nil {
		return common.OrderResult{}, f.submitErr
	}
	f.submits = append(f.submits, req)
	f.nextID++
	return common.OrderResult{
		ExchangeOrderID: fmt.Sprintf("ex-%d", f.nextID),
		ClientID:        req.ClientID,
		Status:          common.StatusNew,
	}, nil
}

func (f *fakeGateway) CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error {
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.cancels = append(f.cancels, exchangeOrderID)
	return nil
}

func (f *fakeGateway) GetOrder(ctx context.Context, symbol, exchangeOrderID string) (common.OrderInfo, error) {
	return common.OrderInfo{}, &common.DataUnavailableError{Symbol: symbol, What: "order"}
}

func (f *fakeGateway) Balances(ctx context.Context) ([]common.Balance, error) { return nil, nil }
func (f *fakeGateway) FetchOrderBook(ctx context.Context, symbol string) (common.OrderBook, error) {
	book := common.OrderBook{Symbol: symbol}
	if f.bestBid > 0 {
		book.Bids = []common.BookLevel{{Price: f.bestBid, Qty: 1}}
	}
	if f.bestAsk > 0 {
		book.Asks = []common.BookLevel{{Price: f.bestAsk, Qty: 1}}
	}
	return book, nil
}
func (f *fakeGateway) FetchOHLCV(ctx context.Context, symbol, resolution string, from, to int64) ([]common.Candle, error) {
	return nil, &common.DataUnavailableError{Symbol: symbol, What: "candles"}
}
func (f *fakeGateway) FetchMarkets(ctx context.Context) ([]common.MarketInfo, error) {
	return nil, &common.DataUnavailableError{What: "markets"}
}

type fakeResolver struct{ gw common.Gateway }

func (f *fakeResolver) Gateway(ctx context.Context, accountID int64) (common.Gateway, error) {
	return f.gw, nil
}

func setup(t *testing.T) (*Monitor, *db.Store, *fakeGateway) {
	t.Helper()
	store, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := db.ApplyMigrations(store); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := store.UpsertMarket(context.Background(), &db.Market{
		Exchange: "wallex", Symbol: "BTCUSDT", BaseAsset: "BTC", QuoteAsset: "USDT",
		TickSize: "0.01", StepSize: "0.001", MinQty: 0.001, IsActive: true,
	}); err != nil {
		t.Fatalf("market: %v", err)
	}

	gw := &fakeGateway{}
	m := NewMonitor(store, store, store, &fakeResolver{gw: gw}, events.NewBus(), 1000)
	return m, store, gw
}

// seedProtectedDeal creates a processed RUNNING deal with a live stop order.
func seedProtectedDeal(t *testing.T, store *db.Store, side common.Side, stopPrice float64) *db.Deal {
	t.Helper()
	ctx := context.Background()
	d := &db.Deal{
		ID: "d-1", StrategyConfigID: 1, Exchange: "wallex", Symbol: "BTCUSDT", AccountID: 1,
		Side: side, Price: 100, Qty: 0.01,
		Status: db.DealStarted, IsActive: true, ProcessedSide: db.ProcessedNone,
		StopLossPrice: stopPrice, TrailingEnabled: true, TrailingPercent: 1,
	}
	if err := store.CreateDealIfNone(ctx, d); err != nil {
		t.Fatalf("seed deal: %v", err)
	}
	if err := store.MarkDealProcessed(ctx, d.ID, db.ProcessedSide("NONE").Merge(side)); err != nil {
		t.Fatalf("mark processed: %v", err)
	}
	if err := store.CreateOrder(ctx, &db.Order{
		ID: "o-sl", DealID: d.ID, Role: db.RoleStopLoss, Exchange: "wallex", Symbol: "BTCUSDT",
		AccountID: 1, Side: side.Opposite(), Type: common.OrderTypeStopMarket,
		StopPrice: stopPrice, Qty: 0.01, Status: common.StatusNew, IsActive: true, ExchangeOrderID: "ex-sl",
	}); err != nil {
		t.Fatalf("seed stop order: %v", err)
	}
	if err := store.MoveDealStop(ctx, d.ID, "o-sl", stopPrice); err != nil {
		t.Fatalf("attach stop: %v", err)
	}
	return d
}

func stopPriceOf(t *testing.T, store *db.Store, dealID string) float64 {
	t.Helper()
	d, err := store.GetDeal(context.Background(), dealID)
	if err != nil {
		t.Fatalf("get deal: %v", err)
	}
	return d.StopLossPrice
}

func TestTrailingStopOnlyMovesFavorably(t *testing.T) {
	m, store, gw := setup(t)
	ctx := context.Background()
	d := seedProtectedDeal(t, store, common.SideBuy, 98)

	steps := []struct {
		bid  float64
		want float64
	}{
		{100, 99},      // 100 * 0.99
		{105, 103.95},  // trails up
		{103, 103.95},  // pullback: stop holds
		{108, 106.92},  // new high trails again
	}
	for _, step := range steps {
		gw.bestBid = step.bid
		if err := m.Run(ctx); err != nil {
			t.Fatalf("run at bid %v: %v", step.bid, err)
		}
		got := stopPriceOf(t, store, d.ID)
		if math.Abs(got-step.want) > 1e-9 {
			t.Fatalf("bid %v: expected stop %v, got %v", step.bid, step.want, got)
		}
	}

	// Two trailing moves happened: each cancelled the old stop first.
	if len(gw.cancels) != 3 {
		t.Fatalf("expected 3 cancel-then-replace moves, got %d cancels", len(gw.cancels))
	}
	if len(gw.submits) != 3 {
		t.Fatalf("expected 3 replacement stops, got %d", len(gw.submits))
	}
	for _, req := range gw.submits {
		if req.Side != common.SideSell || req.Type != common.OrderTypeStopMarket {
			t.Fatalf("bad replacement request: %+v", req)
		}
	}
}

func TestTrailingStopShortMovesDownOnly(t *testing.T) {
	m, store, gw := setup(t)
	ctx := context.Background()
	d := seedProtectedDeal(t, store, common.SideSell, 102)

	gw.bestAsk = 100
	if err := m.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := stopPriceOf(t, store, d.ID); got != 101 {
		t.Fatalf("expected stop 101, got %v", got)
	}

	t.Run("adverse move holds the stop", func(t *testing.T) {
		gw.bestAsk = 104
		if err := m.Run(ctx); err != nil {
			t.Fatalf("run: %v", err)
		}
		if got := stopPriceOf(t, store, d.ID); got != 101 {
			t.Fatalf("stop loosened to %v", got)
		}
	})
}

func TestProtectionGapFlaggedAndRecovered(t *testing.T) {
	m, store, gw := setup(t)
	ctx := context.Background()
	d := seedProtectedDeal(t, store, common.SideBuy, 98)

	// Cancel succeeds, replace fails: the deal is left unprotected and the
	// gap must be recorded with the intended price.
	gw.bestBid = 105
	gw.submitErr = &common.NetworkError{Op: "submit order", Err: errors.New("timeout")}
	if err := m.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	got, _ := store.GetDeal(ctx, d.ID)
	if !got.ProtectionGap {
		t.Fatal("protection gap not flagged")
	}
	if got.StopLossOrderID != "" {
		t.Fatalf("dangling stop order id: %q", got.StopLossOrderID)
	}
	if got.StopLossPrice != 103.95 {
		t.Fatalf("intended stop price lost: %v", got.StopLossPrice)
	}

	t.Run("next pass re-places the stop", func(t *testing.T) {
		gw.submitErr = nil
		if err := m.Run(ctx); err != nil {
			t.Fatalf("run: %v", err)
		}
		got, _ := store.GetDeal(ctx, d.ID)
		if got.ProtectionGap {
			t.Fatal("gap not cleared")
		}
		if got.StopLossOrderID == "" {
			t.Fatal("stop not re-placed")
		}
		if got.StopLossPrice != 103.95 {
			t.Fatalf("recovered at wrong price: %v", got.StopLossPrice)
		}
	})
}

func TestFailedCancelLeavesStopIntact(t *testing.T) {
	m, store, gw := setup(t)
	ctx := context.Background()
	d := seedProtectedDeal(t, store, common.SideBuy, 98)

	gw.bestBid = 105
	gw.cancelErr = &common.NetworkError{Op: "cancel order", Err: errors.New("timeout")}
	if err := m.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	got, _ := store.GetDeal(ctx, d.ID)
	if got.ProtectionGap {
		t.Fatal("no gap exists while the old stop is still working")
	}
	if got.StopLossOrderID != "o-sl" || got.StopLossPrice != 98 {
		t.Fatalf("stop should be untouched: %+v", got)
	}
	if len(gw.submits) != 0 {
		t.Fatal("no replacement may be sent before the cancel succeeds")
	}
}
