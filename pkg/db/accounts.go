package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shokooh-rigi/algo-trade/pkg/crypto"
)

// sealCredential encrypts a credential when a codec is configured. Empty
// values are stored as-is.
func (s *Store) sealCredential(v string) (string, error) {
	if s.codec == nil || v == "" {
		return v, nil
	}
	return s.codec.Encrypt(v)
}

// openCredential decrypts a stored credential. Plaintext rows written before
// a key was configured pass through untouched.
func (s *Store) openCredential(v string) (string, error) {
	if s.codec == nil || !crypto.IsEncrypted(v) {
		return v, nil
	}
	return s.codec.Decrypt(v)
}

func (s *Store) openAccountCredentials(a *Account) error {
	key, err := s.openCredential(a.APIKey)
	if err != nil {
		return fmt.Errorf("decrypt api key for account %d: %w", a.ID, err)
	}
	secret, err := s.openCredential(a.APISecret)
	if err != nil {
		return fmt.Errorf("decrypt api secret for account %d: %w", a.ID, err)
	}
	a.APIKey, a.APISecret = key, secret
	return nil
}

// UpsertAccount inserts or refreshes an exchange credential set.
func (s *Store) UpsertAccount(ctx context.Context, a *Account) (int64, error) {
	apiKey, err := s.sealCredential(a.APIKey)
	if err != nil {
		return 0, fmt.Errorf("encrypt api key: %w", err)
	}
	apiSecret, err := s.sealCredential(a.APISecret)
	if err != nil {
		return 0, fmt.Errorf("encrypt api secret: %w", err)
	}

	res, err := s.DB.ExecContext(ctx, `
		INSERT INTO accounts (name, exchange, api_key, api_secret, is_active, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(name, exchange) DO UPDATE SET
			api_key = excluded.api_key,
			api_secret = excluded.api_secret,
			is_active = excluded.is_active,
			updated_at = CURRENT_TIMESTAMP
	`, a.Name, a.Exchange, apiKey, apiSecret, a.IsActive)
	if err != nil {
		return 0, fmt.Errorf("upsert account %s: %w", a.Name, err)
	}
	if id, err := res.LastInsertId(); err == nil && id > 0 {
		return id, nil
	}
	existing, err := s.getAccountByName(ctx, a.Name, a.Exchange)
	if err != nil {
		return 0, err
	}
	return existing.ID, nil
}

// GetAccount loads one account by ID.
func (s *Store) GetAccount(ctx context.Context, id int64) (*Account, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, name, exchange, api_key, api_secret, is_active, created_at, updated_at
		FROM accounts WHERE id = ?
	`, id)
	return s.scanAccount(row)
}

func (s *Store) getAccountByName(ctx context.Context, name, exchange string) (*Account, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, name, exchange, api_key, api_secret, is_active, created_at, updated_at
		FROM accounts WHERE name = ? AND exchange = ?
	`, name, exchange)
	return s.scanAccount(row)
}

func (s *Store) scanAccount(row *sql.Row) (*Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.Name, &a.Exchange, &a.APIKey, &a.APISecret, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	if err := s.openAccountCredentials(&a); err != nil {
		return nil, err
	}
	return &a, nil
}

// ListActiveAccounts returns all enabled accounts.
func (s *Store) ListActiveAccounts(ctx context.Context) ([]Account, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, name, exchange, api_key, api_secret, is_active, created_at, updated_at
		FROM accounts WHERE is_active = 1 ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var out []Account
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.ID, &a.Name, &a.Exchange, &a.APIKey, &a.APISecret, &a.IsActive, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		if err := s.openAccountCredentials(&a); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
