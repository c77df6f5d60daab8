// Package reconciliation keeps local order rows in step with the exchange
// by polling every outstanding order and folding fills back into deals.
package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shokooh-rigi/algo-trade/internal/events"
	"github.com/shokooh-rigi/algo-trade/pkg/db"
	"github.com/shokooh-rigi/algo-trade/pkg/exchanges/common"
)

// OrderRepo is the order persistence surface reconciliation needs.
type OrderRepo interface {
	ListOutstandingOrders(ctx context.Context) ([]db.Order, error)
	ListOrdersByDeal(ctx context.Context, dealID string) ([]db.Order, error)
	ApplyOrderUpdate(ctx context.Context, id string, status common.OrderStatus, filledQty, avgFillPrice float64) (bool, error)
	MarkOrderCanceled(ctx context.Context, id string) error
}

// DealRepo is the deal persistence surface reconciliation needs.
type DealRepo interface {
	GetDeal(ctx context.Context, id string) (*db.Deal, error)
	UpdateDealProcessedSide(ctx context.Context, id string, side db.ProcessedSide) error
	CloseDeal(ctx context.Context, id string, status db.DealStatus, reason string) error
}

// GatewayResolver hands out exchange clients per account.
type GatewayResolver interface {
	Gateway(ctx context.Context, accountID int64) (common.Gateway, error)
}

// Service polls outstanding orders against the exchange.
type Service struct {
	orders   OrderRepo
	deals    DealRepo
	gateways GatewayResolver
	bus      *events.Bus
	mu       sync.Mutex
}

// Report summarizes one reconciliation pass.
type Report struct {
	Timestamp time.Time
	Checked   int
	Updated   int
	Fills     int
	Orphans   int
	Skipped   int
}

// NewService wires a reconciliation service.
func NewService(orders OrderRepo, deals DealRepo, gateways GatewayResolver, bus *events.Bus) *Service {
	return &Service{orders: orders, deals: deals, gateways: gateways, bus: bus}
}

// Reconcile reads every outstanding order back from its exchange and merges
// the result. Cycles never overlap; a transient read failure skips just that
// order. Re-running against unchanged exchange state writes nothing.
func (s *Service) Reconcile(ctx context.Context) (*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	outstanding, err := s.orders.ListOutstandingOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("list outstanding orders: %w", err)
	}

	report := &Report{Timestamp: time.Now()}
	for i := range outstanding {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		o := &outstanding[i]
		report.Checked++

		gw, err := s.gateways.Gateway(ctx, o.AccountID)
		if err != nil {
			log.Printf("⚠️ reconcile order %s: %v", o.ID, err)
			report.Skipped++
			continue
		}

		d, err := s.deals.GetDeal(ctx, o.DealID)
		if errors.Is(err, db.ErrNotFound) {
			log.Printf("⚠️ order %s references missing deal %s", o.ID, o.DealID)
			report.Orphans++
			s.bus.Publish(events.EventOrphanOrder, o.ID)
			d = nil
		} else if err != nil {
			return report, err
		}

		// An open order left behind by a closed deal (a sibling cancel
		// that failed earlier) is retried here.
		if d != nil && !d.IsActive {
			if err := s.cancelStale(ctx, gw, o); err != nil {
				log.Printf("⚠️ cancel stale order %s: %v", o.ID, err)
			}
			continue
		}

		info, err := gw.GetOrder(ctx, o.Symbol, o.ExchangeOrderID)
		if err != nil {
			if common.IsTransient(err) {
				report.Skipped++
				continue
			}
			log.Printf("⚠️ reconcile order %s: %v", o.ID, err)
			report.Skipped++
			continue
		}

		changed, err := s.orders.ApplyOrderUpdate(ctx, o.ID, info.Status, info.FilledQty, info.AvgFillPrice)
		if err != nil {
			return report, err
		}
		if !changed {
			continue
		}
		report.Updated++

		if err := s.applyToDeal(ctx, d, o, info, report); err != nil {
			return report, err
		}
	}

	if report.Updated > 0 || report.Orphans > 0 {
		log.Printf("reconciliation: %d checked, %d updated, %d fills, %d orphans",
			report.Checked, report.Updated, report.Fills, report.Orphans)
	}
	return report, nil
}

// cancelStale cancels and closes out one order that outlived its deal.
func (s *Service) cancelStale(ctx context.Context, gw common.Gateway, o *db.Order) error {
	if err := gw.CancelOrder(ctx, o.Symbol, o.ExchangeOrderID); err != nil {
		return err
	}
	if err := s.orders.MarkOrderCanceled(ctx, o.ID); err != nil {
		return err
	}
	s.bus.Publish(events.EventOrderCanceled, o.ID)
	return nil
}

// applyToDeal folds a changed order back into its deal. Orders whose deal no
// longer exists were already counted as orphans; their rows still update.
func (s *Service) applyToDeal(ctx context.Context, d *db.Deal, o *db.Order, info common.OrderInfo, report *Report) error {
	if info.Status != common.StatusFilled {
		return nil
	}
	report.Fills++
	s.bus.Publish(events.EventOrderFilled, o.ID)
	if d == nil {
		return nil
	}

	switch o.Role {
	case db.RoleEntry:
		return s.deals.UpdateDealProcessedSide(ctx, d.ID, d.ProcessedSide.Merge(o.Side))
	case db.RoleStopLoss:
		return s.closeProtected(ctx, d, o, db.DealStopped, "stop loss filled")
	case db.RoleTakeProfit:
		return s.closeProtected(ctx, d, o, db.DealStopped, "take profit reached")
	}
	return nil
}

// closeProtected ends a deal after one protective order filled: the sibling
// protective order is cancelled and the deal goes inactive.
func (s *Service) closeProtected(ctx context.Context, d *db.Deal, filled *db.Order, status db.DealStatus, reason string) error {
	siblings, err := s.orders.ListOrdersByDeal(ctx, d.ID)
	if err != nil {
		return err
	}

	gw, err := s.gateways.Gateway(ctx, d.AccountID)
	if err != nil {
		return err
	}

	for i := range siblings {
		o := &siblings[i]
		if o.ID == filled.ID || !o.IsActive || o.Status.Terminal() {
			continue
		}
		if err := gw.CancelOrder(ctx, o.Symbol, o.ExchangeOrderID); err != nil {
			// Leave the row outstanding; the next pass retries the cancel
			// via the same route.
			log.Printf("⚠️ cancel sibling order %s: %v", o.ID, err)
			continue
		}
		if err := s.orders.MarkOrderCanceled(ctx, o.ID); err != nil {
			return err
		}
		s.bus.Publish(events.EventOrderCanceled, o.ID)
	}

	if err := s.deals.CloseDeal(ctx, d.ID, status, reason); err != nil {
		return err
	}
	s.bus.Publish(events.EventDealClosed, d.ID)
	log.Printf("deal %s closed: %s", d.ID, reason)
	return nil
}
