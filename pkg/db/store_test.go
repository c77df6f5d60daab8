package db

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/shokooh-rigi/algo-trade/pkg/exchanges/common"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if err := ApplyMigrations(store); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}
	return store
}

func testDeal(id string) *Deal {
	return &Deal{
		ID:               id,
		StrategyConfigID: 1,
		Exchange:         "wallex",
		Symbol:           "BTCUSDT",
		AccountID:        1,
		Side:             common.SideBuy,
		Price:            50000,
		Qty:              0.05,
		Status:           DealStarted,
		IsActive:         true,
		ProcessedSide:    ProcessedNone,
	}
}

func TestCreateDealIfNoneEnforcesSingleOpenDeal(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.CreateDealIfNone(ctx, testDeal("deal-1")); err != nil {
		t.Fatalf("first deal: %v", err)
	}

	err := store.CreateDealIfNone(ctx, testDeal("deal-2"))
	if !errors.Is(err, ErrInvariantViolation) {
		t.Fatalf("expected ErrInvariantViolation, got %v", err)
	}

	// A different slot is unaffected.
	other := testDeal("deal-3")
	other.Symbol = "ETHUSDT"
	if err := store.CreateDealIfNone(ctx, other); err != nil {
		t.Fatalf("different symbol: %v", err)
	}
}

func TestCreateDealIfNoneConcurrent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	const attempts = 8
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d := testDeal("")
			d.ID = "concurrent-" + string(rune('a'+i))
			errs[i] = store.CreateDealIfNone(ctx, d)
		}(i)
	}
	wg.Wait()

	created := 0
	for _, err := range errs {
		if err == nil {
			created++
		} else if !errors.Is(err, ErrInvariantViolation) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if created != 1 {
		t.Fatalf("expected exactly 1 created deal, got %d", created)
	}
}

func TestDealTransitions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.CreateDealIfNone(ctx, testDeal("deal-t")); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := store.TransitionDeal(ctx, "deal-t", DealRunning); err != nil {
		t.Fatalf("STARTED -> RUNNING: %v", err)
	}
	if err := store.TransitionDeal(ctx, "deal-t", DealUpdated); err != nil {
		t.Fatalf("RUNNING -> UPDATED: %v", err)
	}
	if err := store.TransitionDeal(ctx, "deal-t", DealRunning); err != nil {
		t.Fatalf("UPDATED -> RUNNING: %v", err)
	}
	if err := store.TransitionDeal(ctx, "deal-t", DealStopped); err != nil {
		t.Fatalf("RUNNING -> STOPPED: %v", err)
	}

	// STOPPED is terminal.
	err := store.TransitionDeal(ctx, "deal-t", DealRunning)
	if !errors.Is(err, ErrInvariantViolation) {
		t.Fatalf("expected ErrInvariantViolation for STOPPED -> RUNNING, got %v", err)
	}
}

func TestDealStatusTransitionTable(t *testing.T) {
	cases := []struct {
		from, to DealStatus
		ok       bool
	}{
		{DealStarted, DealRunning, true},
		{DealStarted, DealUpdated, false},
		{DealRunning, DealUpdated, true},
		{DealRunning, DealNotOrdering, true},
		{DealUpdated, DealRunning, true},
		{DealNotOrdering, DealRunning, true},
		{DealNotOrdering, DealUpdated, false},
		{DealStopped, DealRunning, false},
		{DealStopped, DealStarted, false},
		{DealRunning, DealRunning, false},
	}
	for _, c := range cases {
		if got := c.from.CanTransitionTo(c.to); got != c.ok {
			t.Errorf("%s -> %s: got %v, want %v", c.from, c.to, got, c.ok)
		}
	}
}

func TestProcessedSideMerge(t *testing.T) {
	cases := []struct {
		start ProcessedSide
		side  common.Side
		want  ProcessedSide
	}{
		{ProcessedNone, common.SideBuy, ProcessedBuy},
		{ProcessedNone, common.SideSell, ProcessedSell},
		{ProcessedBuy, common.SideSell, ProcessedBuyAndSell},
		{ProcessedSell, common.SideBuy, ProcessedBuyAndSell},
		{ProcessedBuy, common.SideBuy, ProcessedBuy},
		{ProcessedBuyAndSell, common.SideBuy, ProcessedBuyAndSell},
	}
	for _, c := range cases {
		if got := c.start.Merge(c.side); got != c.want {
			t.Errorf("%s + %s: got %s, want %s", c.start, c.side, got, c.want)
		}
	}
}

func TestApplyOrderUpdateMonotonicAndIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	order := &Order{
		ID:       "order-1",
		DealID:   "deal-1",
		Role:     RoleEntry,
		Exchange: "wallex",
		Symbol:   "BTCUSDT",
		AccountID: 1,
		Side:     common.SideBuy,
		Type:     common.OrderTypeLimit,
		Price:    50000,
		Qty:      0.05,
		Status:   common.StatusNew,
		IsActive: true,
	}
	if err := store.CreateOrder(ctx, order); err != nil {
		t.Fatalf("create order: %v", err)
	}

	t.Run("fill advances", func(t *testing.T) {
		changed, err := store.ApplyOrderUpdate(ctx, "order-1", common.StatusPartial, 0.02, 50000)
		if err != nil {
			t.Fatalf("apply: %v", err)
		}
		if !changed {
			t.Fatal("expected a write")
		}
	})

	t.Run("same snapshot is a no-op", func(t *testing.T) {
		changed, err := store.ApplyOrderUpdate(ctx, "order-1", common.StatusPartial, 0.02, 50000)
		if err != nil {
			t.Fatalf("apply: %v", err)
		}
		if changed {
			t.Fatal("expected no write for unchanged snapshot")
		}
	})

	t.Run("stale read never decreases filled qty", func(t *testing.T) {
		changed, err := store.ApplyOrderUpdate(ctx, "order-1", common.StatusPartial, 0.01, 50000)
		if err != nil {
			t.Fatalf("apply: %v", err)
		}
		if changed {
			t.Fatal("expected stale read to be ignored")
		}
		o, err := store.GetOrder(ctx, "order-1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if o.FilledQty != 0.02 {
			t.Fatalf("filled qty decreased: %v", o.FilledQty)
		}
	})

	t.Run("terminal fill deactivates", func(t *testing.T) {
		changed, err := store.ApplyOrderUpdate(ctx, "order-1", common.StatusFilled, 0.05, 50010)
		if err != nil {
			t.Fatalf("apply: %v", err)
		}
		if !changed {
			t.Fatal("expected a write")
		}
		o, err := store.GetOrder(ctx, "order-1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if o.IsActive {
			t.Fatal("filled order should be inactive")
		}
		if o.FilledQty != 0.05 || o.AvgFillPrice != 50010 {
			t.Fatalf("unexpected fill state: qty=%v avg=%v", o.FilledQty, o.AvgFillPrice)
		}
	})

	t.Run("terminal status never reopens", func(t *testing.T) {
		changed, err := store.ApplyOrderUpdate(ctx, "order-1", common.StatusNew, 0, 0)
		if err != nil {
			t.Fatalf("apply: %v", err)
		}
		if changed {
			t.Fatal("stale open read must not reopen a filled order")
		}
		o, err := store.GetOrder(ctx, "order-1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if o.Status != common.StatusFilled || o.IsActive {
			t.Fatalf("order reverted: %+v", o)
		}
	})
}

func TestMarketAdjustQuantity(t *testing.T) {
	m := &Market{Symbol: "BTCUSDT", TickSize: "0.01", StepSize: "0.001", MinQty: 0.01}

	qty, err := m.AdjustQuantity(0.0567)
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if math.Abs(qty-0.056) > 1e-12 {
		t.Fatalf("expected 0.056, got %v", qty)
	}
	if err := m.ValidateQuantity(qty, 50000); err != nil {
		t.Fatalf("0.056 should pass minimums: %v", err)
	}

	small, err := m.AdjustQuantity(0.0099)
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	err = m.ValidateQuantity(small, 50000)
	var ve *common.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError below min qty, got %v", err)
	}
}

func TestMarketAdjustPrice(t *testing.T) {
	m := &Market{Symbol: "BTCUSDT", TickSize: "0.5", StepSize: "0.001"}
	p, err := m.AdjustPrice(50000.74)
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if p != 50000.5 {
		t.Fatalf("expected 50000.5, got %v", p)
	}
}
