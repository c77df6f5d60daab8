package reconciliation

import (
	"context"
	"errors"
	"testing"

	"github.com/shokooh-rigi/algo-trade/internal/events"
	"github.com/shokooh-rigi/algo-trade/pkg/db"
	"github.com/shokooh-rigi/algo-trade/pkg/exchanges/common"
)

type fakeGateway struct {
	orderInfo map[string]common.OrderInfo
	infoErr   error
	cancels   []string
}

func (f *fakeGateway) SubmitOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	return common.OrderResult{}, errors.New("not used")
}

func (f *fakeGateway) CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error {
	f.cancels = append(f.cancels, exchangeOrderID)
	return nil
}

func (f *fakeGateway) GetOrder(ctx context.Context, symbol, exchangeOrderID string) (common.OrderInfo, error) {
	if f.infoErr != nil {
		return common.OrderInfo{}, f.infoErr
	}
	info, ok := f.orderInfo[exchangeOrderID]
	if !ok {
		return common.OrderInfo{}, &common.RejectionError{Code: 404, Message: "order not found"}
	}
	return info, nil
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

func setup(t *testing.T) (*Service, *db.Store, *fakeGateway) {
	t.Helper()
	store, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := db.ApplyMigrations(store); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	gw := &fakeGateway{orderInfo: map[string]common.OrderInfo{}}
	svc := NewService(store, store, &fakeResolver{gw: gw}, events.NewBus())
	return svc, store, gw
}

func seedProcessedDeal(t *testing.T, store *db.Store) *db.Deal {
	t.Helper()
	ctx := context.Background()
	d := &db.Deal{
		ID: "d-1", StrategyConfigID: 1, Exchange: "wallex", Symbol: "BTCUSDT", AccountID: 1,
		Side: common.SideBuy, Price: 50000, Qty: 0.01,
		Status: db.DealStarted, IsActive: true, ProcessedSide: db.ProcessedNone,
	}
	if err := store.CreateDealIfNone(ctx, d); err != nil {
		t.Fatalf("seed deal: %v", err)
	}
	if err := store.MarkDealProcessed(ctx, d.ID, db.ProcessedBuy); err != nil {
		t.Fatalf("mark processed: %v", err)
	}
	return d
}

func seedOrder(t *testing.T, store *db.Store, id, dealID string, role db.OrderRole, side common.Side, exID string) {
	t.Helper()
	if err := store.CreateOrder(context.Background(), &db.Order{
		ID: id, DealID: dealID, Role: role, Exchange: "wallex", Symbol: "BTCUSDT",
		AccountID: 1, Side: side, Type: common.OrderTypeLimit, Price: 50000, Qty: 0.01,
		Status: common.StatusNew, IsActive: true, ExchangeOrderID: exID,
	}); err != nil {
		t.Fatalf("seed order %s: %v", id, err)
	}
}

func TestReconcileMergesFillsMonotonically(t *testing.T) {
	svc, store, gw := setup(t)
	ctx := context.Background()
	d := seedProcessedDeal(t, store)
	seedOrder(t, store, "o-entry", d.ID, db.RoleEntry, common.SideBuy, "ex-1")

	gw.orderInfo["ex-1"] = common.OrderInfo{
		ExchangeOrderID: "ex-1", Status: common.StatusPartial, FilledQty: 0.004, AvgFillPrice: 50000,
	}

	report, err := svc.Reconcile(ctx)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if report.Updated != 1 {
		t.Fatalf("expected 1 update, got %d", report.Updated)
	}
	o, _ := store.GetOrder(ctx, "o-entry")
	if o.Status != common.StatusPartial || o.FilledQty != 0.004 {
		t.Fatalf("partial fill not merged: %+v", o)
	}

	t.Run("identical read is a no-op", func(t *testing.T) {
		report, err := svc.Reconcile(ctx)
		if err != nil {
			t.Fatalf("reconcile: %v", err)
		}
		if report.Updated != 0 {
			t.Fatalf("unchanged state must write nothing, got %d updates", report.Updated)
		}
	})

	t.Run("stale read never decreases fills", func(t *testing.T) {
		gw.orderInfo["ex-1"] = common.OrderInfo{
			ExchangeOrderID: "ex-1", Status: common.StatusPartial, FilledQty: 0.001, AvgFillPrice: 50000,
		}
		if _, err := svc.Reconcile(ctx); err != nil {
			t.Fatalf("reconcile: %v", err)
		}
		o, _ := store.GetOrder(ctx, "o-entry")
		if o.FilledQty != 0.004 {
			t.Fatalf("filled qty regressed to %v", o.FilledQty)
		}
	})
}

func TestReconcileEntryFillFoldsIntoDeal(t *testing.T) {
	svc, store, gw := setup(t)
	ctx := context.Background()
	d := seedProcessedDeal(t, store)
	seedOrder(t, store, "o-entry", d.ID, db.RoleEntry, common.SideBuy, "ex-1")

	gw.orderInfo["ex-1"] = common.OrderInfo{
		ExchangeOrderID: "ex-1", Status: common.StatusFilled, FilledQty: 0.01, AvgFillPrice: 50010,
	}

	report, err := svc.Reconcile(ctx)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if report.Fills != 1 {
		t.Fatalf("expected 1 fill, got %d", report.Fills)
	}

	o, _ := store.GetOrder(ctx, "o-entry")
	if o.Status != common.StatusFilled || o.IsActive {
		t.Fatalf("filled order must go inactive: %+v", o)
	}
	got, _ := store.GetDeal(ctx, d.ID)
	if got.ProcessedSide != db.ProcessedBuy {
		t.Fatalf("processed side wrong: %s", got.ProcessedSide)
	}
}

func TestReconcileStopFillClosesDealAndCancelsSibling(t *testing.T) {
	svc, store, gw := setup(t)
	ctx := context.Background()
	d := seedProcessedDeal(t, store)
	seedOrder(t, store, "o-sl", d.ID, db.RoleStopLoss, common.SideSell, "ex-sl")
	seedOrder(t, store, "o-tp", d.ID, db.RoleTakeProfit, common.SideSell, "ex-tp")

	gw.orderInfo["ex-sl"] = common.OrderInfo{
		ExchangeOrderID: "ex-sl", Status: common.StatusFilled, FilledQty: 0.01, AvgFillPrice: 49000,
	}
	gw.orderInfo["ex-tp"] = common.OrderInfo{
		ExchangeOrderID: "ex-tp", Status: common.StatusNew,
	}

	if _, err := svc.Reconcile(ctx); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	got, _ := store.GetDeal(ctx, d.ID)
	if got.Status != db.DealStopped || got.IsActive {
		t.Fatalf("expected closed deal, got %s active=%v", got.Status, got.IsActive)
	}
	if got.Reason != "stop loss filled" {
		t.Fatalf("reason not recorded: %q", got.Reason)
	}

	tp, _ := store.GetOrder(ctx, "o-tp")
	if tp.Status != common.StatusCanceled || tp.IsActive {
		t.Fatalf("sibling take profit must be cancelled: %+v", tp)
	}
	found := false
	for _, id := range gw.cancels {
		if id == "ex-tp" {
			found = true
		}
	}
	if !found {
		t.Fatalf("exchange cancel not issued, got %v", gw.cancels)
	}
}

func TestReconcileOrphanOrderStillUpdates(t *testing.T) {
	svc, store, gw := setup(t)
	ctx := context.Background()
	seedOrder(t, store, "o-ghost", "no-such-deal", db.RoleEntry, common.SideBuy, "ex-9")

	gw.orderInfo["ex-9"] = common.OrderInfo{
		ExchangeOrderID: "ex-9", Status: common.StatusFilled, FilledQty: 0.01, AvgFillPrice: 50000,
	}

	report, err := svc.Reconcile(ctx)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if report.Orphans != 1 {
		t.Fatalf("expected 1 orphan, got %d", report.Orphans)
	}
	o, _ := store.GetOrder(ctx, "o-ghost")
	if o.Status != common.StatusFilled {
		t.Fatalf("orphan order must still reconcile: %+v", o)
	}
}

func TestReconcileTransientReadSkipsOrder(t *testing.T) {
	svc, store, gw := setup(t)
	ctx := context.Background()
	d := seedProcessedDeal(t, store)
	seedOrder(t, store, "o-entry", d.ID, db.RoleEntry, common.SideBuy, "ex-1")

	gw.infoErr = &common.NetworkError{Op: "get order", Err: errors.New("timeout")}

	report, err := svc.Reconcile(ctx)
	if err != nil {
		t.Fatalf("a transient read must not fail the cycle: %v", err)
	}
	if report.Skipped != 1 || report.Updated != 0 {
		t.Fatalf("expected skip, got %+v", report)
	}
	o, _ := store.GetOrder(ctx, "o-entry")
	if o.Status != common.StatusNew {
		t.Fatalf("order must be untouched: %+v", o)
	}
}

func TestReconcileCancelsOrdersOfClosedDeals(t *testing.T) {
	svc, store, gw := setup(t)
	ctx := context.Background()
	d := seedProcessedDeal(t, store)
	seedOrder(t, store, "o-tp", d.ID, db.RoleTakeProfit, common.SideSell, "ex-tp")

	if err := store.CloseDeal(ctx, d.ID, db.DealStopped, "manual"); err != nil {
		t.Fatalf("close deal: %v", err)
	}

	if _, err := svc.Reconcile(ctx); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	o, _ := store.GetOrder(ctx, "o-tp")
	if o.Status != common.StatusCanceled {
		t.Fatalf("leftover order must be cancelled: %+v", o)
	}
	if len(gw.cancels) != 1 || gw.cancels[0] != "ex-tp" {
		t.Fatalf("expected cancel of ex-tp, got %v", gw.cancels)
	}
}
