// Package order submits entry and protective orders for deals coming out
// of the dispatch queue.
package order

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/shokooh-rigi/algo-trade/internal/events"
	"github.com/shokooh-rigi/algo-trade/pkg/db"
	"github.com/shokooh-rigi/algo-trade/pkg/exchanges/common"
)

// DealRepo is the deal persistence surface placement needs.
type DealRepo interface {
	ListActiveUnprocessedDeals(ctx context.Context) ([]db.Deal, error)
	MarkDealProcessed(ctx context.Context, id string, side db.ProcessedSide) error
	SetDealProtection(ctx context.Context, id string, slOrderID, tpOrderID string, slPrice, tpPrice float64) error
	CloseDeal(ctx context.Context, id string, status db.DealStatus, reason string) error
}

// OrderRepo persists order rows.
type OrderRepo interface {
	CreateOrder(ctx context.Context, o *db.Order) error
}

// MarketRepo resolves trading rules.
type MarketRepo interface {
	GetMarket(ctx context.Context, exchange, symbol string) (*db.Market, error)
}

// GatewayResolver hands out exchange clients per account.
type GatewayResolver interface {
	Gateway(ctx context.Context, accountID int64) (common.Gateway, error)
}

// Placer turns unprocessed deals into exchange orders.
type Placer struct {
	deals    DealRepo
	orders   OrderRepo
	markets  MarketRepo
	gateways GatewayResolver
	bus      *events.Bus
}

// NewPlacer wires a Placer.
func NewPlacer(deals DealRepo, orders OrderRepo, markets MarketRepo, gateways GatewayResolver, bus *events.Bus) *Placer {
	return &Placer{deals: deals, orders: orders, markets: markets, gateways: gateways, bus: bus}
}

// Dispatch walks the queue of active unprocessed deals and places an entry
// order for each. A failure on one deal never blocks the rest.
func (p *Placer) Dispatch(ctx context.Context) error {
	deals, err := p.deals.ListActiveUnprocessedDeals(ctx)
	if err != nil {
		return fmt.Errorf("list dispatchable deals: %w", err)
	}
	for i := range deals {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.PlaceEntry(ctx, &deals[i]); err != nil {
			log.Printf("⚠️ dispatch deal %s: %v", deals[i].ID, err)
		}
	}
	return nil
}

// PlaceEntry submits the entry order for one deal and, if that is accepted,
// its protective orders. An exchange rejection closes the deal as STOPPED;
// a transient network error leaves it unprocessed so the next dispatch
// retries it.
func (p *Placer) PlaceEntry(ctx context.Context, d *db.Deal) error {
	market, err := p.markets.GetMarket(ctx, d.Exchange, d.Symbol)
	if err != nil {
		return fmt.Errorf("resolve market: %w", err)
	}
	gw, err := p.gateways.Gateway(ctx, d.AccountID)
	if err != nil {
		return fmt.Errorf("resolve gateway: %w", err)
	}

	price, err := market.AdjustPrice(d.Price)
	if err != nil {
		return err
	}

	entry := common.OrderRequest{
		Symbol:   d.Symbol,
		Side:     d.Side,
		Type:     common.OrderTypeLimit,
		Qty:      d.Qty,
		Price:    price,
		ClientID: uuid.NewString(),
	}
	result, err := gw.SubmitOrder(ctx, entry)
	if err != nil {
		var rej *common.RejectionError
		if errors.As(err, &rej) {
			// The exchange said no. The deal cannot proceed.
			log.Printf("⚠️ deal %s entry rejected: %v", d.ID, rej)
			p.bus.Publish(events.EventOrderRejected, d.ID)
			if cerr := p.deals.CloseDeal(ctx, d.ID, db.DealStopped, rej.Message); cerr != nil {
				return cerr
			}
			return nil
		}
		if common.IsTransient(err) {
			// The order may or may not exist on the exchange. Leave the
			// deal unprocessed; reconciliation and the next dispatch sort
			// it out.
			log.Printf("⚠️ deal %s entry submit unconfirmed: %v", d.ID, err)
			return nil
		}
		return fmt.Errorf("submit entry: %w", err)
	}

	row := &db.Order{
		ID:              entry.ClientID,
		DealID:          d.ID,
		Role:            db.RoleEntry,
		Exchange:        d.Exchange,
		Symbol:          d.Symbol,
		AccountID:       d.AccountID,
		Side:            d.Side,
		Type:            entry.Type,
		Price:           price,
		Qty:             d.Qty,
		Status:          result.Status,
		IsActive:        !result.Status.Terminal(),
		ExchangeOrderID: result.ExchangeOrderID,
	}
	if err := p.orders.CreateOrder(ctx, row); err != nil {
		return err
	}
	if err := p.deals.MarkDealProcessed(ctx, d.ID, d.ProcessedSide.Merge(d.Side)); err != nil {
		return err
	}
	p.bus.Publish(events.EventOrderSubmitted, row.ID)
	log.Printf("deal %s entry submitted: %s %s %.8f @ %.8f", d.ID, d.Side, d.Symbol, d.Qty, price)

	return p.placeProtection(ctx, gw, market, d)
}

// placeProtection submits the stop-loss and take-profit orders for a deal
// whose entry was accepted. The two are independent exchange orders on the
// side opposite the entry, for the requested entry quantity. A failed
// protective order is logged and left to the risk monitor to re-place.
func (p *Placer) placeProtection(ctx context.Context, gw common.Gateway, market *db.Market, d *db.Deal) error {
	exitSide := d.Side.Opposite()
	var slID, tpID string
	var slPrice, tpPrice float64

	if d.StopLossPrice > 0 {
		adjusted, err := market.AdjustPrice(d.StopLossPrice)
		if err != nil {
			return err
		}
		id, err := p.submitProtective(ctx, gw, d, common.OrderRequest{
			Symbol:    d.Symbol,
			Side:      exitSide,
			Type:      common.OrderTypeStopMarket,
			Qty:       d.Qty,
			StopPrice: adjusted,
			ClientID:  uuid.NewString(),
		}, db.RoleStopLoss)
		if err != nil {
			log.Printf("⚠️ deal %s stop loss not placed: %v", d.ID, err)
		} else {
			slID, slPrice = id, adjusted
		}
	}

	if d.TakeProfitPrice > 0 {
		adjusted, err := market.AdjustPrice(d.TakeProfitPrice)
		if err != nil {
			return err
		}
		id, err := p.submitProtective(ctx, gw, d, common.OrderRequest{
			Symbol:   d.Symbol,
			Side:     exitSide,
			Type:     common.OrderTypeLimit,
			Qty:      d.Qty,
			Price:    adjusted,
			ClientID: uuid.NewString(),
		}, db.RoleTakeProfit)
		if err != nil {
			log.Printf("⚠️ deal %s take profit not placed: %v", d.ID, err)
		} else {
			tpID, tpPrice = id, adjusted
		}
	}

	if slID == "" && tpID == "" {
		return nil
	}
	return p.deals.SetDealProtection(ctx, d.ID, slID, tpID, slPrice, tpPrice)
}

func (p *Placer) submitProtective(ctx context.Context, gw common.Gateway, d *db.Deal, req common.OrderRequest, role db.OrderRole) (string, error) {
	result, err := gw.SubmitOrder(ctx, req)
	if err != nil {
		return "", err
	}
	row := &db.Order{
		ID:              req.ClientID,
		DealID:          d.ID,
		Role:            role,
		Exchange:        d.Exchange,
		Symbol:          d.Symbol,
		AccountID:       d.AccountID,
		Side:            req.Side,
		Type:            req.Type,
		Price:           req.Price,
		StopPrice:       req.StopPrice,
		Qty:             req.Qty,
		Status:          result.Status,
		IsActive:        !result.Status.Terminal(),
		ExchangeOrderID: result.ExchangeOrderID,
	}
	if err := p.orders.CreateOrder(ctx, row); err != nil {
		return "", err
	}
	p.bus.Publish(events.EventOrderSubmitted, row.ID)
	return row.ID, nil
}
