// Package balance reads account balances from the exchange with a short
// cache so the operations API cannot hammer the venue.
package balance

import (
	"context"
	"sync"
	"time"

	"github.com/shokooh-rigi/algo-trade/pkg/exchanges/common"
)

// GatewayResolver hands out exchange clients per account.
type GatewayResolver interface {
	Gateway(ctx context.Context, accountID int64) (common.Gateway, error)
}

type cached struct {
	balances []common.Balance
	at       time.Time
}

// Service serves per-account balances, cached for TTL.
type Service struct {
	gateways GatewayResolver
	ttl      time.Duration

	mu    sync.RWMutex
	cache map[int64]cached
}

// NewService wires a Service. A zero ttl means 30 seconds.
func NewService(gateways GatewayResolver, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Service{
		gateways: gateways,
		ttl:      ttl,
		cache:    make(map[int64]cached),
	}
}

// Balances returns the account's balances, from cache when fresh.
func (s *Service) Balances(ctx context.Context, accountID int64) ([]common.Balance, error) {
	s.mu.RLock()
	c, ok := s.cache[accountID]
	s.mu.RUnlock()
	if ok && time.Since(c.at) < s.ttl {
		return c.balances, nil
	}

	gw, err := s.gateways.Gateway(ctx, accountID)
	if err != nil {
		return nil, err
	}
	balances, err := gw.Balances(ctx)
	if err != nil {
		// Serve stale data over an error when we have any.
		if ok {
			return c.balances, nil
		}
		return nil, err
	}

	s.mu.Lock()
	s.cache[accountID] = cached{balances: balances, at: time.Now()}
	s.mu.Unlock()
	return balances, nil
}

// Invalidate drops one account's cached balances.
func (s *Service) Invalidate(accountID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, accountID)
}
