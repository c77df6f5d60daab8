package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

const dealColumns = `id, strategy_config_id, exchange, symbol, account_id, side, price, qty, status,
	is_active, is_processed, processed_side, stop_loss_price, take_profit_price,
	trailing_enabled, trailing_percent, stop_loss_order_id, take_profit_order_id,
	protection_gap, reason, confidence, created_at, updated_at`

// CreateDealIfNone inserts a deal only when no active unprocessed deal
// exists for the same (strategy config, symbol, account). The check and the
// insert run in one immediate transaction; the partial unique index is the
// backstop. Returns ErrInvariantViolation when a deal already occupies the
// slot.
func (s *Store) CreateDealIfNone(ctx context.Context, d *Deal) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var exists bool
	err = tx.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM deals
			WHERE strategy_config_id = ? AND symbol = ? AND account_id = ?
			  AND is_active = 1 AND is_processed = 0
		)
	`, d.StrategyConfigID, d.Symbol, d.AccountID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check open deal: %w", err)
	}
	if exists {
		return fmt.Errorf("open deal already exists for strategy %d %s: %w",
			d.StrategyConfigID, d.Symbol, ErrInvariantViolation)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO deals (id, strategy_config_id, exchange, symbol, account_id, side, price, qty, status,
			is_active, is_processed, processed_side, stop_loss_price, take_profit_price,
			trailing_enabled, trailing_percent, reason, confidence)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, d.ID, d.StrategyConfigID, d.Exchange, d.Symbol, d.AccountID, d.Side, d.Price, d.Qty, d.Status,
		d.IsActive, d.IsProcessed, d.ProcessedSide, d.StopLossPrice, d.TakeProfitPrice,
		d.TrailingEnabled, d.TrailingPercent, d.Reason, d.Confidence)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("open deal already exists for strategy %d %s: %w",
				d.StrategyConfigID, d.Symbol, ErrInvariantViolation)
		}
		return fmt.Errorf("insert deal: %w", err)
	}
	return tx.Commit()
}

// GetDeal loads one deal by ID.
func (s *Store) GetDeal(ctx context.Context, id string) (*Deal, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+dealColumns+` FROM deals WHERE id = ?`, id)
	d, err := scanDeal(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("deal %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get deal %s: %w", id, err)
	}
	return d, nil
}

// FindOpenDeal returns the active unprocessed deal for the slot, if any.
func (s *Store) FindOpenDeal(ctx context.Context, strategyConfigID int64, symbol string, accountID int64) (*Deal, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT `+dealColumns+` FROM deals
		WHERE strategy_config_id = ? AND symbol = ? AND account_id = ?
		  AND is_active = 1 AND is_processed = 0
	`, strategyConfigID, symbol, accountID)
	d, err := scanDeal(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("open deal: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find open deal: %w", err)
	}
	return d, nil
}

// LastDeal returns the most recent deal for a strategy slot regardless of
// state. Used for cooldown and directional gating.
func (s *Store) LastDeal(ctx context.Context, strategyConfigID int64, symbol string, accountID int64) (*Deal, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT `+dealColumns+` FROM deals
		WHERE strategy_config_id = ? AND symbol = ? AND account_id = ?
		ORDER BY created_at DESC, rowid DESC LIMIT 1
	`, strategyConfigID, symbol, accountID)
	d, err := scanDeal(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("last deal: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("last deal: %w", err)
	}
	return d, nil
}

// ListActiveUnprocessedDeals returns deals awaiting order placement, in
// dispatchable states only.
func (s *Store) ListActiveUnprocessedDeals(ctx context.Context) ([]Deal, error) {
	return s.listDeals(ctx, `
		SELECT `+dealColumns+` FROM deals
		WHERE is_active = 1 AND is_processed = 0 AND status IN (?, ?, ?)
		ORDER BY created_at
	`, DealStarted, DealRunning, DealUpdated)
}

// ListProtectedDeals returns active processed deals that carry (or should
// carry) protective orders. The risk monitor walks these.
func (s *Store) ListProtectedDeals(ctx context.Context) ([]Deal, error) {
	return s.listDeals(ctx, `
		SELECT `+dealColumns+` FROM deals
		WHERE is_active = 1 AND is_processed = 1 AND status = ?
		ORDER BY created_at
	`, DealRunning)
}

// ListRecentDeals returns the newest deals first, for the operations API.
func (s *Store) ListRecentDeals(ctx context.Context, limit int) ([]Deal, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.listDeals(ctx, `
		SELECT `+dealColumns+` FROM deals
		ORDER BY created_at DESC, rowid DESC LIMIT ?
	`, limit)
}

// ListDealsByStrategy returns all non-terminal deals for a strategy config.
func (s *Store) ListDealsByStrategy(ctx context.Context, strategyConfigID int64) ([]Deal, error) {
	return s.listDeals(ctx, `
		SELECT `+dealColumns+` FROM deals
		WHERE strategy_config_id = ? AND is_active = 1
		ORDER BY created_at
	`, strategyConfigID)
}

func (s *Store) listDeals(ctx context.Context, query string, args ...any) ([]Deal, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list deals: %w", err)
	}
	defer rows.Close()

	var out []Deal
	for rows.Next() {
		d, err := scanDeal(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// TransitionDeal moves a deal to the next status after checking the move is
// legal. Returns ErrInvariantViolation for impossible transitions.
func (s *Store) TransitionDeal(ctx context.Context, id string, next DealStatus) error {
	d, err := s.GetDeal(ctx, id)
	if err != nil {
		return err
	}
	if !d.Status.CanTransitionTo(next) {
		return fmt.Errorf("deal %s: %s -> %s: %w", id, d.Status, next, ErrInvariantViolation)
	}
	_, err = s.DB.ExecContext(ctx,
		`UPDATE deals SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, next, id)
	if err != nil {
		return fmt.Errorf("transition deal %s: %w", id, err)
	}
	return nil
}

// MarkDealProcessed records an entry submission: the deal leaves the
// dispatch queue and its processed side is folded in.
func (s *Store) MarkDealProcessed(ctx context.Context, id string, side ProcessedSide) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE deals SET is_processed = 1, processed_side = ?, status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, side, DealRunning, id)
	if err != nil {
		return fmt.Errorf("mark deal %s processed: %w", id, err)
	}
	return nil
}

// UpdateDealProcessedSide rewrites only the processed side (reconciliation
// fold-in for terminal fills).
func (s *Store) UpdateDealProcessedSide(ctx context.Context, id string, side ProcessedSide) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE deals SET processed_side = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, side, id)
	if err != nil {
		return fmt.Errorf("update deal %s processed side: %w", id, err)
	}
	return nil
}

// SetDealProtection records the protective order IDs and prices after
// placement.
func (s *Store) SetDealProtection(ctx context.Context, id string, slOrderID, tpOrderID string, slPrice, tpPrice float64) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE deals SET stop_loss_order_id = ?, take_profit_order_id = ?,
			stop_loss_price = ?, take_profit_price = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, slOrderID, tpOrderID, slPrice, tpPrice, id)
	if err != nil {
		return fmt.Errorf("set deal %s protection: %w", id, err)
	}
	return nil
}

// MoveDealStop rewrites the stop order reference after a trailing move and
// clears any pending protection gap.
func (s *Store) MoveDealStop(ctx context.Context, id, stopOrderID string, stopPrice float64) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE deals SET stop_loss_order_id = ?, stop_loss_price = ?, protection_gap = 0,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, stopOrderID, stopPrice, id)
	if err != nil {
		return fmt.Errorf("move deal %s stop: %w", id, err)
	}
	return nil
}

// FlagProtectionGap marks a deal whose stop order was cancelled but not yet
// replaced. The price the replacement should carry stays in
// stop_loss_price.
func (s *Store) FlagProtectionGap(ctx context.Context, id string, stopPrice float64) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE deals SET protection_gap = 1, stop_loss_order_id = '', stop_loss_price = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, stopPrice, id)
	if err != nil {
		return fmt.Errorf("flag deal %s protection gap: %w", id, err)
	}
	return nil
}

// CloseDeal deactivates a deal in a final status.
func (s *Store) CloseDeal(ctx context.Context, id string, status DealStatus, reason string) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE deals SET is_active = 0, status = ?, reason = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, status, reason, id)
	if err != nil {
		return fmt.Errorf("close deal %s: %w", id, err)
	}
	return nil
}

func scanDeal(scan func(...any) error) (*Deal, error) {
	var d Deal
	if err := scan(&d.ID, &d.StrategyConfigID, &d.Exchange, &d.Symbol, &d.AccountID,
		&d.Side, &d.Price, &d.Qty, &d.Status, &d.IsActive, &d.IsProcessed, &d.ProcessedSide,
		&d.StopLossPrice, &d.TakeProfitPrice, &d.TrailingEnabled, &d.TrailingPercent,
		&d.StopLossOrderID, &d.TakeProfitOrderID, &d.ProtectionGap, &d.Reason, &d.Confidence,
		&d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	return &d, nil
}
