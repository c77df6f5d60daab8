// Package api exposes the operations surface: a JWT-protected REST API for
// inspecting deals and orders, driving strategy config transitions and the
// kill switch, plus a websocket stream of lifecycle events.
package api

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/shokooh-rigi/algo-trade/internal/events"
	"github.com/shokooh-rigi/algo-trade/internal/monitor"
	"github.com/shokooh-rigi/algo-trade/pkg/db"
	"github.com/shokooh-rigi/algo-trade/pkg/exchanges/common"
)

// Lifecycle is the slice of the deal manager the API drives.
type Lifecycle interface {
	SuspendOrdering(ctx context.Context, cfg *db.StrategyConfig) error
	Resume(ctx context.Context, cfg *db.StrategyConfig) error
	Deactivate(ctx context.Context, cfg *db.StrategyConfig) error
	ApplyParamsUpdate(ctx context.Context, cfg *db.StrategyConfig, params json.RawMessage) error
}

// BalanceReader serves per-account exchange balances.
type BalanceReader interface {
	Balances(ctx context.Context, accountID int64) ([]common.Balance, error)
}

// MetricsReader exposes the lifecycle counters.
type MetricsReader interface {
	Snapshot() monitor.Snapshot
}

// Server wires HTTP endpoints around the store and the deal lifecycle.
type Server struct {
	Router    *gin.Engine
	store     *db.Store
	lifecycle Lifecycle
	bus       *events.Bus
	balances  BalanceReader
	metrics   MetricsReader
	jwtSecret string
	adminUser string
	adminHash string
	startedAt time.Time
}

// Config wires a Server. Balances and Metrics are optional; their routes
// are only registered when set.
type Config struct {
	Store         *db.Store
	Lifecycle     Lifecycle
	Bus           *events.Bus
	Balances      BalanceReader
	Metrics       MetricsReader
	JWTSecret     string
	AdminUser     string
	AdminPassword string
}

// NewServer builds the router. The admin password is hashed once here and
// only the hash is kept.
func NewServer(cfg Config) (*Server, error) {
	hash, err := hashPassword(cfg.AdminPassword)
	if err != nil {
		return nil, err
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger())
	r.Use(RateLimitMiddleware())
	r.Use(CORSMiddleware())

	s := &Server{
		Router:    r,
		store:     cfg.Store,
		lifecycle: cfg.Lifecycle,
		bus:       cfg.Bus,
		balances:  cfg.Balances,
		metrics:   cfg.Metrics,
		jwtSecret: cfg.JWTSecret,
		adminUser: cfg.AdminUser,
		adminHash: hash,
		startedAt: time.Now(),
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.Router.POST("/api/auth/login", s.login)

	authed := s.Router.Group("/", s.authRequired())
	{
		authed.GET("/api/status", s.status)

		authed.GET("/api/deals", s.listDeals)
		authed.GET("/api/deals/:id", s.getDeal)
		authed.GET("/api/deals/:id/orders", s.listDealOrders)
		authed.GET("/api/orders", s.listOrders)

		authed.GET("/api/strategies", s.listStrategies)
		authed.POST("/api/strategies/:id/suspend", s.suspendStrategy)
		authed.POST("/api/strategies/:id/resume", s.resumeStrategy)
		authed.POST("/api/strategies/:id/deactivate", s.deactivateStrategy)
		authed.PUT("/api/strategies/:id/params", s.updateStrategyParams)

		authed.POST("/api/system/killswitch", s.setKillSwitch)
		authed.POST("/api/system/notional", s.setTradeNotional)

		if s.balances != nil {
			authed.GET("/api/accounts/:id/balances", s.accountBalances)
		}
		if s.metrics != nil {
			authed.GET("/api/metrics", s.metricsSnapshot)
		}

		authed.GET("/ws", s.websocket)
	}
}
