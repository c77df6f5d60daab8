// Package gateway resolves (exchange, account) pairs to API clients and
// caches them for reuse across cycles.
package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/shokooh-rigi/algo-trade/pkg/db"
	"github.com/shokooh-rigi/algo-trade/pkg/exchanges/common"
	"github.com/shokooh-rigi/algo-trade/pkg/exchanges/wallex"
)

// Factory builds a trading gateway from account credentials.
type Factory func(account *db.Account) (common.Gateway, error)

// ErrUnsupportedExchange is what factories return for venues they cannot
// build a client for.
func ErrUnsupportedExchange(exchange string) error {
	return fmt.Errorf("unsupported exchange: %s", exchange)
}

// DefaultFactory creates clients for the supported exchanges.
func DefaultFactory(account *db.Account) (common.Gateway, error) {
	switch account.Exchange {
	case "wallex":
		return wallex.New(wallex.Config{APIKey: account.APIKey}), nil
	default:
		return nil, fmt.Errorf("unsupported exchange: %s", account.Exchange)
	}
}

// AccountRepo is the slice of the store the registry needs.
type AccountRepo interface {
	GetAccount(ctx context.Context, id int64) (*db.Account, error)
}

// Registry hands out cached gateways keyed by account.
type Registry struct {
	mu       sync.RWMutex
	cache    map[int64]common.Gateway
	accounts AccountRepo
	factory  Factory

	dataMu      sync.RWMutex
	dataSources map[string]common.MarketDataSource
}

// NewRegistry builds a registry. A nil factory uses DefaultFactory.
func NewRegistry(accounts AccountRepo, factory Factory) *Registry {
	if factory == nil {
		factory = DefaultFactory
	}
	return &Registry{
		cache:       make(map[int64]common.Gateway),
		accounts:    accounts,
		factory:     factory,
		dataSources: make(map[string]common.MarketDataSource),
	}
}

// Gateway resolves the trading client for an account.
func (r *Registry) Gateway(ctx context.Context, accountID int64) (common.Gateway, error) {
	r.mu.RLock()
	gw, ok := r.cache[accountID]
	r.mu.RUnlock()
	if ok {
		return gw, nil
	}

	account, err := r.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("resolve account %d: %w", accountID, err)
	}
	if !account.IsActive {
		return nil, fmt.Errorf("account %d is disabled", accountID)
	}

	gw, err = r.factory(account)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cached, ok := r.cache[accountID]; ok {
		return cached, nil
	}
	r.cache[accountID] = gw
	return gw, nil
}

// RegisterDataSource installs a read-only market data source for an
// exchange name. Used for venues the engine never trades on.
func (r *Registry) RegisterDataSource(exchange string, src common.MarketDataSource) {
	r.dataMu.Lock()
	defer r.dataMu.Unlock()
	r.dataSources[exchange] = src
}

// DataSource returns the market data source for an exchange. Trading
// gateways double as data sources when no dedicated one is registered, so
// callers pass the account used for trading as a fallback.
func (r *Registry) DataSource(ctx context.Context, exchange string, fallbackAccountID int64) (common.MarketDataSource, error) {
	r.dataMu.RLock()
	src, ok := r.dataSources[exchange]
	r.dataMu.RUnlock()
	if ok {
		return src, nil
	}
	return r.Gateway(ctx, fallbackAccountID)
}

// Evict drops an account's cached client, forcing a rebuild on next use.
// Called after credentials change.
func (r *Registry) Evict(accountID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, accountID)
}
