// Package deal owns the deal lifecycle: accepting strategy signals into
// deal rows, the state machine around them, and the explicit transitions
// that run when a strategy's configuration changes.
package deal

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/shokooh-rigi/algo-trade/internal/events"
	"github.com/shokooh-rigi/algo-trade/internal/strategy"
	"github.com/shokooh-rigi/algo-trade/pkg/db"
	"github.com/shokooh-rigi/algo-trade/pkg/exchanges/common"
)

// DealRepo is the deal persistence surface the manager needs.
type DealRepo interface {
	CreateDealIfNone(ctx context.Context, d *db.Deal) error
	GetDeal(ctx context.Context, id string) (*db.Deal, error)
	ListDealsByStrategy(ctx context.Context, strategyConfigID int64) ([]db.Deal, error)
	TransitionDeal(ctx context.Context, id string, next db.DealStatus) error
	CloseDeal(ctx context.Context, id string, status db.DealStatus, reason string) error
}

// OrderRepo is the order persistence surface the manager needs.
type OrderRepo interface {
	ListActiveOrdersByStrategy(ctx context.Context, strategyConfigID int64) ([]db.Order, error)
	MarkOrderCanceled(ctx context.Context, id string) error
}

// MarketRepo resolves trading rules.
type MarketRepo interface {
	GetMarket(ctx context.Context, exchange, symbol string) (*db.Market, error)
}

// StrategyRepo is the strategy-config surface for the transitions.
type StrategyRepo interface {
	UpdateStrategyParams(ctx context.Context, id int64, params json.RawMessage) error
	SetStrategyActive(ctx context.Context, id int64, active bool) error
}

// GatewayResolver hands out exchange clients per account.
type GatewayResolver interface {
	Gateway(ctx context.Context, accountID int64) (common.Gateway, error)
}

// Manager implements the deal lifecycle.
type Manager struct {
	deals      DealRepo
	orders     OrderRepo
	markets    MarketRepo
	strategies StrategyRepo
	gateways   GatewayResolver
	bus        *events.Bus

	// cancels paces sequential cancellations so bursts of them do not
	// trip exchange rate limits.
	cancels *rate.Limiter
}

// NewManager wires a Manager. cancelRate is the pacing for sequential
// cancellations (typically 1/s).
func NewManager(deals DealRepo, orders OrderRepo, markets MarketRepo, strategies StrategyRepo,
	gateways GatewayResolver, bus *events.Bus, cancelRate rate.Limit) *Manager {
	if cancelRate <= 0 {
		cancelRate = 1
	}
	return &Manager{
		deals:      deals,
		orders:     orders,
		markets:    markets,
		strategies: strategies,
		gateways:   gateways,
		bus:        bus,
		cancels:    rate.NewLimiter(cancelRate, 1),
	}
}

// OnSignal turns an accepted strategy signal into a deal. The quantity is
// the trade notional divided by the signal price, floored to the market's
// step size; below-minimum quantities are rejected before any row exists.
// A same-side signal is refused while any active deal on that side exists,
// processed or not, and at most one active unprocessed deal may occupy a
// (strategy, symbol, account) slot.
func (m *Manager) OnSignal(ctx context.Context, cfg *db.StrategyConfig, sig *strategy.Signal, notional float64) (*db.Deal, error) {
	if sig == nil {
		return nil, nil
	}
	if sig.Price <= 0 {
		return nil, &common.ValidationError{Field: "price", Reason: "signal price must be positive"}
	}
	if notional <= 0 {
		return nil, &common.ValidationError{Field: "notional", Reason: "trade notional must be positive"}
	}

	// A second same-side deal would double the position. The unprocessed
	// slot check below does not cover this: it frees as soon as the entry
	// is submitted, while the deal stays open much longer.
	active, err := m.deals.ListDealsByStrategy(ctx, cfg.ID)
	if err != nil {
		return nil, err
	}
	for i := range active {
		if active[i].Side == sig.Side {
			return nil, fmt.Errorf("active %s deal %s already open for strategy %d: %w",
				sig.Side, active[i].ID, cfg.ID, db.ErrInvariantViolation)
		}
	}

	market, err := m.markets.GetMarket(ctx, cfg.Exchange, cfg.Symbol)
	if err != nil {
		return nil, fmt.Errorf("resolve market: %w", err)
	}

	qty, err := market.AdjustQuantity(notional / sig.Price)
	if err != nil {
		return nil, err
	}
	if err := market.ValidateQuantity(qty, sig.Price); err != nil {
		return nil, err
	}

	d := &db.Deal{
		ID:               uuid.NewString(),
		StrategyConfigID: cfg.ID,
		Exchange:         cfg.Exchange,
		Symbol:           cfg.Symbol,
		AccountID:        cfg.AccountID,
		Side:             sig.Side,
		Price:            sig.Price,
		Qty:              qty,
		Status:           db.DealStarted,
		IsActive:         true,
		ProcessedSide:    db.ProcessedNone,
		StopLossPrice:    sig.StopLossPrice,
		TakeProfitPrice:  sig.TakeProfitPrice,
		TrailingEnabled:  sig.TrailingEnabled,
		TrailingPercent:  sig.TrailingPercent,
		Reason:           sig.Reason,
		Confidence:       sig.Confidence,
	}
	if err := m.deals.CreateDealIfNone(ctx, d); err != nil {
		return nil, err
	}

	m.bus.Publish(events.EventDealCreated, d)
	log.Printf("deal %s created: %s %s %.8f @ %.8f (%s)", d.ID, d.Side, d.Symbol, d.Qty, d.Price, d.Reason)
	return d, nil
}

// SuspendOrdering halts new order placement for a strategy: live orders
// are cancelled and its deals move to NOT_ORDERING. Deal rows stay active
// and queryable.
func (m *Manager) SuspendOrdering(ctx context.Context, cfg *db.StrategyConfig) error {
	if err := m.cancelStrategyOrders(ctx, cfg); err != nil {
		return err
	}

	deals, err := m.deals.ListDealsByStrategy(ctx, cfg.ID)
	if err != nil {
		return err
	}
	for _, d := range deals {
		if !d.Status.CanTransitionTo(db.DealNotOrdering) {
			continue
		}
		if err := m.deals.TransitionDeal(ctx, d.ID, db.DealNotOrdering); err != nil {
			return err
		}
		m.bus.Publish(events.EventDealStateChanged, d.ID)
	}
	return nil
}

// Resume lifts a suspension: NOT_ORDERING deals return to RUNNING.
func (m *Manager) Resume(ctx context.Context, cfg *db.StrategyConfig) error {
	deals, err := m.deals.ListDealsByStrategy(ctx, cfg.ID)
	if err != nil {
		return err
	}
	for _, d := range deals {
		if d.Status != db.DealNotOrdering {
			continue
		}
		if err := m.deals.TransitionDeal(ctx, d.ID, db.DealRunning); err != nil {
			return err
		}
		m.bus.Publish(events.EventDealStateChanged, d.ID)
	}
	return nil
}

// Deactivate turns a strategy off: live orders are cancelled and every
// active deal is closed out as STOPPED.
func (m *Manager) Deactivate(ctx context.Context, cfg *db.StrategyConfig) error {
	if err := m.cancelStrategyOrders(ctx, cfg); err != nil {
		return err
	}

	deals, err := m.deals.ListDealsByStrategy(ctx, cfg.ID)
	if err != nil {
		return err
	}
	for _, d := range deals {
		if err := m.deals.CloseDeal(ctx, d.ID, db.DealStopped, "strategy deactivated"); err != nil {
			return err
		}
		m.bus.Publish(events.EventDealClosed, d.ID)
	}
	return m.strategies.SetStrategyActive(ctx, cfg.ID, false)
}

// ApplyParamsUpdate validates and installs a new params blob. In-flight
// orders are cancelled and running deals move to UPDATED so the next
// dispatch re-evaluates them under the new parameters.
func (m *Manager) ApplyParamsUpdate(ctx context.Context, cfg *db.StrategyConfig, params json.RawMessage) error {
	if err := strategy.ValidateParams(cfg.Kind, params); err != nil {
		return err
	}

	if err := m.cancelStrategyOrders(ctx, cfg); err != nil {
		return err
	}

	deals, err := m.deals.ListDealsByStrategy(ctx, cfg.ID)
	if err != nil {
		return err
	}
	for _, d := range deals {
		if !d.Status.CanTransitionTo(db.DealUpdated) {
			continue
		}
		if err := m.deals.TransitionDeal(ctx, d.ID, db.DealUpdated); err != nil {
			return err
		}
		m.bus.Publish(events.EventDealStateChanged, d.ID)
	}
	return m.strategies.UpdateStrategyParams(ctx, cfg.ID, params)
}

// MarkDispatchable moves UPDATED deals back to RUNNING once dispatch has
// re-evaluated them.
func (m *Manager) MarkDispatchable(ctx context.Context, dealID string) error {
	return m.deals.TransitionDeal(ctx, dealID, db.DealRunning)
}

// cancelStrategyOrders cancels every live order of a strategy, paced by the
// cancel limiter. A failed cancel is logged and skipped; the next cycle's
// reconciliation picks the order up again.
func (m *Manager) cancelStrategyOrders(ctx context.Context, cfg *db.StrategyConfig) error {
	orders, err := m.orders.ListActiveOrdersByStrategy(ctx, cfg.ID)
	if err != nil {
		return err
	}
	if len(orders) == 0 {
		return nil
	}

	gw, err := m.gateways.Gateway(ctx, cfg.AccountID)
	if err != nil {
		return err
	}

	for _, o := range orders {
		if err := m.cancels.Wait(ctx); err != nil {
			return err
		}
		if err := gw.CancelOrder(ctx, o.Symbol, o.ExchangeOrderID); err != nil {
			log.Printf("⚠️ cancel order %s (%s): %v", o.ID, o.ExchangeOrderID, err)
			continue
		}
		if err := m.orders.MarkOrderCanceled(ctx, o.ID); err != nil {
			return err
		}
		m.bus.Publish(events.EventOrderCanceled, o.ID)
	}
	return nil
}
