package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// UpsertMarket inserts or refreshes a market's trading rules.
func (s *Store) UpsertMarket(ctx context.Context, m *Market) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO markets (exchange, symbol, base_asset, quote_asset, tick_size, step_size, min_qty, min_notional, is_active, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(exchange, symbol) DO UPDATE SET
			base_asset = excluded.base_asset,
			quote_asset = excluded.quote_asset,
			tick_size = excluded.tick_size,
			step_size = excluded.step_size,
			min_qty = excluded.min_qty,
			min_notional = excluded.min_notional,
			is_active = excluded.is_active,
			updated_at = CURRENT_TIMESTAMP
	`, m.Exchange, m.Symbol, m.BaseAsset, m.QuoteAsset, m.TickSize, m.StepSize, m.MinQty, m.MinNotional, m.IsActive)
	if err != nil {
		return fmt.Errorf("upsert market %s/%s: %w", m.Exchange, m.Symbol, err)
	}
	return nil
}

// GetMarket loads the trading rules for one symbol on one exchange.
func (s *Store) GetMarket(ctx context.Context, exchange, symbol string) (*Market, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, exchange, symbol, base_asset, quote_asset, tick_size, step_size, min_qty, min_notional, is_active, updated_at
		FROM markets WHERE exchange = ? AND symbol = ?
	`, exchange, symbol)

	var m Market
	err := row.Scan(&m.ID, &m.Exchange, &m.Symbol, &m.BaseAsset, &m.QuoteAsset,
		&m.TickSize, &m.StepSize, &m.MinQty, &m.MinNotional, &m.IsActive, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("market %s/%s: %w", exchange, symbol, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get market %s/%s: %w", exchange, symbol, err)
	}
	return &m, nil
}

// ListActiveMarkets returns all tradable markets for an exchange.
func (s *Store) ListActiveMarkets(ctx context.Context, exchange string) ([]Market, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, exchange, symbol, base_asset, quote_asset, tick_size, step_size, min_qty, min_notional, is_active, updated_at
		FROM markets WHERE exchange = ? AND is_active = 1 ORDER BY symbol
	`, exchange)
	if err != nil {
		return nil, fmt.Errorf("list markets: %w", err)
	}
	defer rows.Close()

	var out []Market
	for rows.Next() {
		var m Market
		if err := rows.Scan(&m.ID, &m.Exchange, &m.Symbol, &m.BaseAsset, &m.QuoteAsset,
			&m.TickSize, &m.StepSize, &m.MinQty, &m.MinNotional, &m.IsActive, &m.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
