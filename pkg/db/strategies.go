package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

const strategyConfigColumns = `id, name, kind, exchange, symbol, account_id, resolution, trend_resolution, params, is_active, created_at, updated_at`

// UpsertStrategyConfig inserts or refreshes a strategy definition, keyed by
// name.
func (s *Store) UpsertStrategyConfig(ctx context.Context, c *StrategyConfig) error {
	params := string(c.Params)
	if params == "" {
		params = "{}"
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO strategy_configs (name, kind, exchange, symbol, account_id, resolution, trend_resolution, params, is_active, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(name) DO UPDATE SET
			kind = excluded.kind,
			exchange = excluded.exchange,
			symbol = excluded.symbol,
			account_id = excluded.account_id,
			resolution = excluded.resolution,
			trend_resolution = excluded.trend_resolution,
			params = excluded.params,
			is_active = excluded.is_active,
			updated_at = CURRENT_TIMESTAMP
	`, c.Name, c.Kind, c.Exchange, c.Symbol, c.AccountID, c.Resolution, c.TrendResolution, params, c.IsActive)
	if err != nil {
		return fmt.Errorf("upsert strategy config %s: %w", c.Name, err)
	}
	return nil
}

// GetStrategyConfig loads one strategy definition.
func (s *Store) GetStrategyConfig(ctx context.Context, id int64) (*StrategyConfig, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+strategyConfigColumns+` FROM strategy_configs WHERE id = ?`, id)
	c, err := scanStrategyConfig(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("strategy config %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get strategy config %d: %w", id, err)
	}
	return c, nil
}

// ListActiveStrategyConfigs returns all enabled strategy definitions.
func (s *Store) ListActiveStrategyConfigs(ctx context.Context) ([]StrategyConfig, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+strategyConfigColumns+` FROM strategy_configs WHERE is_active = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list strategy configs: %w", err)
	}
	defer rows.Close()

	var out []StrategyConfig
	for rows.Next() {
		c, err := scanStrategyConfig(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// ListStrategyConfigs returns every strategy definition, enabled or not.
func (s *Store) ListStrategyConfigs(ctx context.Context) ([]StrategyConfig, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+strategyConfigColumns+` FROM strategy_configs ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list strategy configs: %w", err)
	}
	defer rows.Close()

	var out []StrategyConfig
	for rows.Next() {
		c, err := scanStrategyConfig(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// SetStrategyActive toggles a strategy definition on or off.
func (s *Store) SetStrategyActive(ctx context.Context, id int64, active bool) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE strategy_configs SET is_active = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, active, id)
	if err != nil {
		return fmt.Errorf("set strategy %d active=%v: %w", id, active, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("strategy config %d: %w", id, ErrNotFound)
	}
	return nil
}

// UpdateStrategyParams replaces a strategy's parameter blob.
func (s *Store) UpdateStrategyParams(ctx context.Context, id int64, params json.RawMessage) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE strategy_configs SET params = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, string(params), id)
	if err != nil {
		return fmt.Errorf("update strategy %d params: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("strategy config %d: %w", id, ErrNotFound)
	}
	return nil
}

func scanStrategyConfig(scan func(...any) error) (*StrategyConfig, error) {
	var c StrategyConfig
	var params string
	if err := scan(&c.ID, &c.Name, &c.Kind, &c.Exchange, &c.Symbol, &c.AccountID,
		&c.Resolution, &c.TrendResolution, &params, &c.IsActive, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Params = json.RawMessage(params)
	return &c, nil
}
