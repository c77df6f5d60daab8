package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shokooh-rigi/algo-trade/pkg/exchanges/common"
)

const orderColumns = `id, deal_id, role, exchange, symbol, account_id, side, type, price, stop_price,
	qty, filled_qty, avg_fill_price, status, is_active, exchange_order_id, created_at, updated_at`

// CreateOrder persists a freshly submitted order.
func (s *Store) CreateOrder(ctx context.Context, o *Order) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO orders (id, deal_id, role, exchange, symbol, account_id, side, type, price, stop_price,
			qty, filled_qty, avg_fill_price, status, is_active, exchange_order_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, o.ID, o.DealID, o.Role, o.Exchange, o.Symbol, o.AccountID, o.Side, o.Type, o.Price, o.StopPrice,
		o.Qty, o.FilledQty, o.AvgFillPrice, o.Status, o.IsActive, o.ExchangeOrderID)
	if err != nil {
		return fmt.Errorf("insert order %s: %w", o.ID, err)
	}
	return nil
}

// GetOrder loads one order by client ID.
func (s *Store) GetOrder(ctx context.Context, id string) (*Order, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	o, err := scanOrder(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}
	return o, nil
}

// ListOutstandingOrders returns active orders the exchange may still fill.
func (s *Store) ListOutstandingOrders(ctx context.Context) ([]Order, error) {
	return s.listOrders(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE is_active = 1 AND status IN (?, ?)
		ORDER BY created_at
	`, common.StatusNew, common.StatusPartial)
}

// ListActiveOrdersByStrategy returns the live orders belonging to any deal
// of a strategy config. Used by the config-change transitions to cancel
// everything in flight.
func (s *Store) ListActiveOrdersByStrategy(ctx context.Context, strategyConfigID int64) ([]Order, error) {
	return s.listOrders(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE is_active = 1 AND status IN (?, ?)
		  AND deal_id IN (SELECT id FROM deals WHERE strategy_config_id = ?)
		ORDER BY created_at
	`, common.StatusNew, common.StatusPartial, strategyConfigID)
}

// ListRecentOrders returns the newest orders first, for the operations API.
func (s *Store) ListRecentOrders(ctx context.Context, limit int) ([]Order, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.listOrders(ctx, `
		SELECT `+orderColumns+` FROM orders
		ORDER BY created_at DESC, rowid DESC LIMIT ?
	`, limit)
}

// ListOrdersByDeal returns all orders attached to a deal.
func (s *Store) ListOrdersByDeal(ctx context.Context, dealID string) ([]Order, error) {
	return s.listOrders(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE deal_id = ? ORDER BY created_at`, dealID)
}

func (s *Store) listOrders(ctx context.Context, query string, args ...any) ([]Order, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// ApplyOrderUpdate merges an exchange read into the local row. FilledQty
// never decreases (the MAX guard holds even if callers pass a stale value),
// a terminal local status never reverts to an open one, and nothing is
// written when the row already matches. Returns whether a write happened.
func (s *Store) ApplyOrderUpdate(ctx context.Context, id string, status common.OrderStatus, filledQty, avgFillPrice float64) (bool, error) {
	active := !status.Terminal()
	res, err := s.DB.ExecContext(ctx, `
		UPDATE orders SET
			status = ?,
			filled_qty = MAX(filled_qty, ?),
			avg_fill_price = CASE WHEN ? > filled_qty THEN ? ELSE avg_fill_price END,
			is_active = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND (status != ? OR filled_qty < ?)
		  AND NOT (status IN (?, ?) AND ?)
	`, status, filledQty, filledQty, avgFillPrice, active, id, status, filledQty,
		common.StatusFilled, common.StatusCanceled, active)
	if err != nil {
		return false, fmt.Errorf("apply order update %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkOrderCanceled closes out an order after a cancel was accepted.
func (s *Store) MarkOrderCanceled(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE orders SET status = ?, is_active = 0, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, common.StatusCanceled, id)
	if err != nil {
		return fmt.Errorf("mark order %s canceled: %w", id, err)
	}
	return nil
}

func scanOrder(scan func(...any) error) (*Order, error) {
	var o Order
	if err := scan(&o.ID, &o.DealID, &o.Role, &o.Exchange, &o.Symbol, &o.AccountID,
		&o.Side, &o.Type, &o.Price, &o.StopPrice, &o.Qty, &o.FilledQty, &o.AvgFillPrice,
		&o.Status, &o.IsActive, &o.ExchangeOrderID, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	return &o, nil
}
