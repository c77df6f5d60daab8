package db

import (
	"database/sql"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS markets (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    exchange TEXT NOT NULL,
    symbol TEXT NOT NULL,
    base_asset TEXT NOT NULL,
    quote_asset TEXT NOT NULL,
    tick_size TEXT NOT NULL DEFAULT '0.01',
    step_size TEXT NOT NULL DEFAULT '0.001',
    min_qty REAL NOT NULL DEFAULT 0,
    min_notional REAL NOT NULL DEFAULT 0,
    is_active BOOLEAN DEFAULT 1,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(exchange, symbol)
);

CREATE TABLE IF NOT EXISTS accounts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    exchange TEXT NOT NULL,
    api_key TEXT NOT NULL,
    api_secret TEXT NOT NULL DEFAULT '',
    is_active BOOLEAN DEFAULT 1,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(name, exchange)
);

CREATE TABLE IF NOT EXISTS strategy_configs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE,
    kind TEXT NOT NULL,
    exchange TEXT NOT NULL,
    symbol TEXT NOT NULL,
    account_id INTEGER NOT NULL,
    resolution TEXT NOT NULL DEFAULT '60',
    trend_resolution TEXT NOT NULL DEFAULT '240',
    params TEXT NOT NULL DEFAULT '{}',
    is_active BOOLEAN DEFAULT 1,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY(account_id) REFERENCES accounts(id)
);

CREATE TABLE IF NOT EXISTS deals (
    id TEXT PRIMARY KEY,
    strategy_config_id INTEGER NOT NULL,
    exchange TEXT NOT NULL,
    symbol TEXT NOT NULL,
    account_id INTEGER NOT NULL,
    side TEXT NOT NULL,
    price REAL NOT NULL,
    qty REAL NOT NULL,
    status TEXT NOT NULL,
    is_active BOOLEAN DEFAULT 1,
    is_processed BOOLEAN DEFAULT 0,
    processed_side TEXT NOT NULL DEFAULT 'NONE',
    stop_loss_price REAL DEFAULT 0,
    take_profit_price REAL DEFAULT 0,
    trailing_enabled BOOLEAN DEFAULT 0,
    trailing_percent REAL DEFAULT 0,
    stop_loss_order_id TEXT DEFAULT '',
    take_profit_order_id TEXT DEFAULT '',
    protection_gap BOOLEAN DEFAULT 0,
    reason TEXT DEFAULT '',
    confidence REAL DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY(strategy_config_id) REFERENCES strategy_configs(id)
);

-- Backstop for the one-open-deal rule; the transactional check in
-- CreateDealIfNone is the primary enforcement.
CREATE UNIQUE INDEX IF NOT EXISTS idx_deals_single_open
    ON deals(strategy_config_id, symbol, account_id)
    WHERE is_active = 1 AND is_processed = 0;

CREATE TABLE IF NOT EXISTS orders (
    id TEXT PRIMARY KEY,
    deal_id TEXT NOT NULL DEFAULT '',
    role TEXT NOT NULL DEFAULT 'ENTRY',
    exchange TEXT NOT NULL,
    symbol TEXT NOT NULL,
    account_id INTEGER NOT NULL,
    side TEXT NOT NULL,
    type TEXT NOT NULL,
    price REAL DEFAULT 0,
    stop_price REAL DEFAULT 0,
    qty REAL NOT NULL,
    filled_qty REAL DEFAULT 0,
    avg_fill_price REAL DEFAULT 0,
    status TEXT NOT NULL,
    is_active BOOLEAN DEFAULT 1,
    exchange_order_id TEXT DEFAULT '',
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_orders_outstanding
    ON orders(status) WHERE is_active = 1;
CREATE INDEX IF NOT EXISTS idx_orders_deal ON orders(deal_id);

CREATE TABLE IF NOT EXISTS system_configs (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    kill_switch BOOLEAN DEFAULT 0,
    trade_notional REAL NOT NULL,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`

// ApplyMigrations bootstraps the schema; keep lightweight for fast startup.
func ApplyMigrations(s *Store) error {
	if s == nil || s.DB == nil {
		return fmt.Errorf("database is not initialized")
	}
	if _, err := s.DB.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	// Lightweight, idempotent migrations for older DB files.
	if err := ensureColumn(s.DB, "deals", "protection_gap", "BOOLEAN DEFAULT 0"); err != nil {
		return err
	}
	if err := ensureColumn(s.DB, "deals", "confidence", "REAL DEFAULT 0"); err != nil {
		return err
	}
	if err := ensureColumn(s.DB, "orders", "avg_fill_price", "REAL DEFAULT 0"); err != nil {
		return err
	}
	if err := ensureColumn(s.DB, "strategy_configs", "trend_resolution", "TEXT NOT NULL DEFAULT '240'"); err != nil {
		return err
	}

	return nil
}

// ensureColumn adds a column if it does not already exist.
func ensureColumn(db *sql.DB, table, column, definition string) error {
	exists, err := columnExists(db, table, column)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition)
	if _, err := db.Exec(alter); err != nil {
		return fmt.Errorf("alter table %s add column %s: %w", table, column, err)
	}
	return nil
}

func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		return false, fmt.Errorf("pragma table_info(%s): %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name       string
			colType    string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultVal, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
