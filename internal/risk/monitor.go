// Package risk watches protected deals: it trails stop losses behind
// favorable price moves and repairs protection gaps left by a failed
// cancel-then-replace.
package risk

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/shokooh-rigi/algo-trade/internal/events"
	"github.com/shokooh-rigi/algo-trade/pkg/db"
	"github.com/shokooh-rigi/algo-trade/pkg/exchanges/common"
)

// DealRepo is the deal persistence surface the monitor needs.
type DealRepo interface {
	ListProtectedDeals(ctx context.Context) ([]db.Deal, error)
	MoveDealStop(ctx context.Context, id, stopOrderID string, stopPrice float64) error
	FlagProtectionGap(ctx context.Context, id string, stopPrice float64) error
}

// OrderRepo is the order persistence surface the monitor needs.
type OrderRepo interface {
	GetOrder(ctx context.Context, id string) (*db.Order, error)
	CreateOrder(ctx context.Context, o *db.Order) error
	MarkOrderCanceled(ctx context.Context, id string) error
}

// MarketRepo resolves trading rules.
type MarketRepo interface {
	GetMarket(ctx context.Context, exchange, symbol string) (*db.Market, error)
}

// GatewayResolver hands out exchange clients per account.
type GatewayResolver interface {
	Gateway(ctx context.Context, accountID int64) (common.Gateway, error)
}

// Monitor runs the risk pass over protected deals.
type Monitor struct {
	deals    DealRepo
	orders   OrderRepo
	markets  MarketRepo
	gateways GatewayResolver
	bus      *events.Bus
	cancels  *rate.Limiter
}

// NewMonitor wires a Monitor. cancelRate paces the cancel half of each
// cancel-then-replace (typically 1/s).
func NewMonitor(deals DealRepo, orders OrderRepo, markets MarketRepo, gateways GatewayResolver,
	bus *events.Bus, cancelRate rate.Limit) *Monitor {
	if cancelRate <= 0 {
		cancelRate = 1
	}
	return &Monitor{
		deals:    deals,
		orders:   orders,
		markets:  markets,
		gateways: gateways,
		bus:      bus,
		cancels:  rate.NewLimiter(cancelRate, 1),
	}
}

// Run makes one pass over protected deals. A failure on one deal never
// blocks the rest.
func (m *Monitor) Run(ctx context.Context) error {
	deals, err := m.deals.ListProtectedDeals(ctx)
	if err != nil {
		return fmt.Errorf("list protected deals: %w", err)
	}
	for i := range deals {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := m.checkDeal(ctx, &deals[i]); err != nil {
			log.Printf("⚠️ risk check deal %s: %v", deals[i].ID, err)
		}
	}
	return nil
}

func (m *Monitor) checkDeal(ctx context.Context, d *db.Deal) error {
	if d.StopLossPrice <= 0 {
		return nil
	}

	gw, err := m.gateways.Gateway(ctx, d.AccountID)
	if err != nil {
		return err
	}
	market, err := m.markets.GetMarket(ctx, d.Exchange, d.Symbol)
	if err != nil {
		return err
	}

	// A deal with a recorded stop price but no live stop order is exposed.
	// That covers both a flagged gap and a stop that never got placed.
	if d.StopLossOrderID == "" {
		return m.placeStop(ctx, gw, market, d, d.StopLossPrice)
	}

	if !d.TrailingEnabled || d.TrailingPercent <= 0 {
		return nil
	}
	return m.trail(ctx, gw, market, d)
}

// trail moves the stop behind a favorable price move. The move is cancel-
// then-replace: the window between the two is recorded as a protection gap
// so the next pass re-places the stop if the replace half failed.
func (m *Monitor) trail(ctx context.Context, gw common.Gateway, market *db.Market, d *db.Deal) error {
	price, err := m.markPrice(ctx, gw, d)
	if err != nil {
		if common.IsTransient(err) || common.IsDataUnavailable(err) {
			return nil // try again next pass
		}
		return err
	}

	var candidate float64
	if d.Side == common.SideBuy {
		candidate = price * (1 - d.TrailingPercent/100)
	} else {
		candidate = price * (1 + d.TrailingPercent/100)
	}
	candidate, err = market.AdjustPrice(candidate)
	if err != nil {
		return err
	}

	// Only ever tighten. A long's stop moves up, a short's moves down.
	if d.Side == common.SideBuy && candidate <= d.StopLossPrice {
		return nil
	}
	if d.Side == common.SideSell && candidate >= d.StopLossPrice {
		return nil
	}

	old, err := m.orders.GetOrder(ctx, d.StopLossOrderID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			// Row is gone; re-place at the candidate directly.
			return m.placeStop(ctx, gw, market, d, candidate)
		}
		return err
	}

	if err := m.cancels.Wait(ctx); err != nil {
		return err
	}
	if err := gw.CancelOrder(ctx, old.Symbol, old.ExchangeOrderID); err != nil {
		// Old stop is still working; nothing is exposed. Retry next pass.
		return fmt.Errorf("cancel stop %s: %w", old.ID, err)
	}
	if err := m.orders.MarkOrderCanceled(ctx, old.ID); err != nil {
		return err
	}
	m.bus.Publish(events.EventOrderCanceled, old.ID)

	// From here until the replacement is live the deal is unprotected.
	if err := m.placeStop(ctx, gw, market, d, candidate); err != nil {
		return err
	}
	m.bus.Publish(events.EventTrailingMoved, d.ID)
	log.Printf("deal %s stop trailed %.8f -> %.8f", d.ID, d.StopLossPrice, candidate)
	return nil
}

// placeStop submits a stop order at stopPrice and records it on the deal.
// On failure the deal is flagged as a protection gap and the price to
// re-place at stays on the row.
func (m *Monitor) placeStop(ctx context.Context, gw common.Gateway, market *db.Market, d *db.Deal, stopPrice float64) error {
	adjusted, err := market.AdjustPrice(stopPrice)
	if err != nil {
		return err
	}

	req := common.OrderRequest{
		Symbol:    d.Symbol,
		Side:      d.Side.Opposite(),
		Type:      common.OrderTypeStopMarket,
		Qty:       d.Qty,
		StopPrice: adjusted,
		ClientID:  uuid.NewString(),
	}
	result, err := gw.SubmitOrder(ctx, req)
	if err != nil {
		if ferr := m.deals.FlagProtectionGap(ctx, d.ID, adjusted); ferr != nil {
			return ferr
		}
		m.bus.Publish(events.EventProtectionGap, d.ID)
		log.Printf("⚠️ deal %s unprotected, stop not placed: %v", d.ID, err)
		return nil
	}

	row := &db.Order{
		ID:              req.ClientID,
		DealID:          d.ID,
		Role:            db.RoleStopLoss,
		Exchange:        d.Exchange,
		Symbol:          d.Symbol,
		AccountID:       d.AccountID,
		Side:            req.Side,
		Type:            req.Type,
		StopPrice:       adjusted,
		Qty:             d.Qty,
		Status:          result.Status,
		IsActive:        !result.Status.Terminal(),
		ExchangeOrderID: result.ExchangeOrderID,
	}
	if err := m.orders.CreateOrder(ctx, row); err != nil {
		return err
	}
	if err := m.deals.MoveDealStop(ctx, d.ID, row.ID, adjusted); err != nil {
		return err
	}
	d.StopLossOrderID = row.ID
	d.StopLossPrice = adjusted
	d.ProtectionGap = false
	m.bus.Publish(events.EventOrderSubmitted, row.ID)
	return nil
}

// markPrice reads the side-relevant top of book: a long trails the best
// bid, a short the best ask.
func (m *Monitor) markPrice(ctx context.Context, gw common.Gateway, d *db.Deal) (float64, error) {
	book, err := gw.FetchOrderBook(ctx, d.Symbol)
	if err != nil {
		return 0, err
	}
	if d.Side == common.SideBuy {
		if len(book.Bids) == 0 {
			return 0, &common.DataUnavailableError{Symbol: d.Symbol, What: "bids"}
		}
		return book.Bids[0].Price, nil
	}
	if len(book.Asks) == 0 {
		return 0, &common.DataUnavailableError{Symbol: d.Symbol, What: "asks"}
	}
	return book.Asks[0].Price, nil
}
