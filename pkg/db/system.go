package db

import (
	"context"
	"fmt"
)

// EnsureSystemConfig seeds the single settings row when missing. Existing
// values are never overwritten.
func (s *Store) EnsureSystemConfig(ctx context.Context, defaultNotional float64) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO system_configs (id, kill_switch, trade_notional)
		VALUES (1, 0, ?)
		ON CONFLICT(id) DO NOTHING
	`, defaultNotional)
	if err != nil {
		return fmt.Errorf("ensure system config: %w", err)
	}
	return nil
}

// GetSystemConfig reads the settings row. Callers re-read at the top of
// every cycle; there is no cached copy anywhere.
func (s *Store) GetSystemConfig(ctx context.Context) (*SystemConfig, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT kill_switch, trade_notional, updated_at FROM system_configs WHERE id = 1`)
	var c SystemConfig
	if err := row.Scan(&c.KillSwitch, &c.TradeNotional, &c.UpdatedAt); err != nil {
		return nil, fmt.Errorf("get system config: %w", err)
	}
	return &c, nil
}

// SetKillSwitch flips the global trading halt.
func (s *Store) SetKillSwitch(ctx context.Context, on bool) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE system_configs SET kill_switch = ?, updated_at = CURRENT_TIMESTAMP WHERE id = 1`, on)
	if err != nil {
		return fmt.Errorf("set kill switch: %w", err)
	}
	return nil
}

// SetTradeNotional updates the quote amount committed per deal.
func (s *Store) SetTradeNotional(ctx context.Context, notional float64) error {
	if notional <= 0 {
		return fmt.Errorf("trade notional must be positive")
	}
	_, err := s.DB.ExecContext(ctx,
		`UPDATE system_configs SET trade_notional = ?, updated_at = CURRENT_TIMESTAMP WHERE id = 1`, notional)
	if err != nil {
		return fmt.Errorf("set trade notional: %w", err)
	}
	return nil
}
