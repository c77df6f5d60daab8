package order

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/shokooh-rigi/algo-trade/internal/events"
	"github.com/shokooh-rigi/algo-trade/pkg/db"
	"github.com/shokooh-rigi/algo-trade/pkg/exchanges/common"
)

type fakeGateway struct {
	submits   []common.OrderRequest
	submitErr error
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
	return nil
}

func (f *fakeGateway) GetOrder(ctx context.Context, symbol, exchangeOrderID string) (common.OrderInfo, error) {
	return common.OrderInfo{}, &common.DataUnavailableError{Symbol: symbol, What: "order"}
}

func (f *fakeGateway) Balances(ctx context.Context) ([]common.Balance, error) { return nil, nil }
func (f *fakeGateway) FetchOrderBook(ctx context.Context, symbol string) (common.OrderBook, error) {
	return common.OrderBook{}, &common.DataUnavailableError{Symbol: symbol, What: "order book"}
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

func setup(t *testing.T) (*Placer, *db.Store, *fakeGateway) {
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
		TickSize: "0.5", StepSize: "0.001", MinQty: 0.001, IsActive: true,
	}); err != nil {
		t.Fatalf("market: %v", err)
	}

	gw := &fakeGateway{}
	p := NewPlacer(store, store, store, &fakeResolver{gw: gw}, events.NewBus())
	return p, store, gw
}

func seedDeal(t *testing.T, store *db.Store) *db.Deal {
	t.Helper()
	d := &db.Deal{
		ID: "d-1", StrategyConfigID: 1, Exchange: "wallex", Symbol: "BTCUSDT", AccountID: 1,
		Side: common.SideBuy, Price: 50000.74, Qty: 0.01,
		Status: db.DealStarted, IsActive: true, ProcessedSide: db.ProcessedNone,
		StopLossPrice: 49000.26, TakeProfitPrice: 52000.9,
		TrailingEnabled: true, TrailingPercent: 1,
	}
	if err := store.CreateDealIfNone(context.Background(), d); err != nil {
		t.Fatalf("seed deal: %v", err)
	}
	return d
}

func TestDispatchPlacesEntryAndProtection(t *testing.T) {
	p, store, gw := setup(t)
	ctx := context.Background()
	d := seedDeal(t, store)

	if err := p.Dispatch(ctx); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if len(gw.submits) != 3 {
		t.Fatalf("expected entry + stop + take profit, got %d submits", len(gw.submits))
	}
	entry, sl, tp := gw.submits[0], gw.submits[1], gw.submits[2]
	if entry.Side != common.SideBuy || entry.Type != common.OrderTypeLimit {
		t.Fatalf("bad entry request: %+v", entry)
	}
	if entry.Price != 50000.5 {
		t.Fatalf("entry price not tick-adjusted: %v", entry.Price)
	}
	if sl.Side != common.SideSell || sl.Type != common.OrderTypeStopMarket || sl.StopPrice != 49000 {
		t.Fatalf("bad stop request: %+v", sl)
	}
	if tp.Side != common.SideSell || tp.Type != common.OrderTypeLimit || tp.Price != 52000.5 {
		t.Fatalf("bad take profit request: %+v", tp)
	}
	if sl.Qty != d.Qty || tp.Qty != d.Qty {
		t.Fatal("protective orders must carry the requested entry quantity")
	}

	got, err := store.GetDeal(ctx, d.ID)
	if err != nil {
		t.Fatalf("get deal: %v", err)
	}
	if !got.IsProcessed || got.ProcessedSide != db.ProcessedBuy || got.Status != db.DealRunning {
		t.Fatalf("deal not marked processed: %+v", got)
	}
	if got.StopLossOrderID == "" || got.TakeProfitOrderID == "" {
		t.Fatalf("protection order ids missing: %+v", got)
	}

	orders, err := store.ListOrdersByDeal(ctx, d.ID)
	if err != nil {
		t.Fatalf("list orders: %v", err)
	}
	if len(orders) != 3 {
		t.Fatalf("expected 3 order rows, got %d", len(orders))
	}
}

func TestRejectedEntryStopsDeal(t *testing.T) {
	p, store, gw := setup(t)
	ctx := context.Background()
	d := seedDeal(t, store)

	gw.submitErr = &common.RejectionError{Code: 4003, Message: "insufficient balance"}

	if err := p.Dispatch(ctx); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	got, err := store.GetDeal(ctx, d.ID)
	if err != nil {
		t.Fatalf("get deal: %v", err)
	}
	if got.Status != db.DealStopped || got.IsActive {
		t.Fatalf("expected inactive STOPPED deal, got %s active=%v", got.Status, got.IsActive)
	}
	if got.Reason != "insufficient balance" {
		t.Fatalf("rejection reason not recorded: %q", got.Reason)
	}

	orders, _ := store.ListOrdersByDeal(ctx, d.ID)
	if len(orders) != 0 {
		t.Fatalf("rejected entry must leave no order rows, got %d", len(orders))
	}
}

func TestNetworkErrorLeavesDealUnprocessed(t *testing.T) {
	p, store, gw := setup(t)
	ctx := context.Background()
	d := seedDeal(t, store)

	gw.submitErr = &common.NetworkError{Op: "submit order", Err: errors.New("timeout")}

	if err := p.Dispatch(ctx); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	got, err := store.GetDeal(ctx, d.ID)
	if err != nil {
		t.Fatalf("get deal: %v", err)
	}
	if got.IsProcessed || !got.IsActive || got.Status != db.DealStarted {
		t.Fatalf("deal must stay queued after a network error: %+v", got)
	}

	t.Run("retried next dispatch", func(t *testing.T) {
		gw.submitErr = nil
		if err := p.Dispatch(ctx); err != nil {
			t.Fatalf("dispatch: %v", err)
		}
		got, _ := store.GetDeal(ctx, d.ID)
		if !got.IsProcessed {
			t.Fatal("deal should be processed once the exchange recovers")
		}
	})
}
