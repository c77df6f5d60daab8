package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/shokooh-rigi/algo-trade/internal/api"
	"github.com/shokooh-rigi/algo-trade/internal/balance"
	"github.com/shokooh-rigi/algo-trade/internal/deal"
	"github.com/shokooh-rigi/algo-trade/internal/engine"
	"github.com/shokooh-rigi/algo-trade/internal/events"
	"github.com/shokooh-rigi/algo-trade/internal/gateway"
	"github.com/shokooh-rigi/algo-trade/internal/monitor"
	"github.com/shokooh-rigi/algo-trade/internal/order"
	"github.com/shokooh-rigi/algo-trade/internal/reconciliation"
	"github.com/shokooh-rigi/algo-trade/internal/risk"
	"github.com/shokooh-rigi/algo-trade/internal/strategy"
	"github.com/shokooh-rigi/algo-trade/pkg/config"
	"github.com/shokooh-rigi/algo-trade/pkg/crypto"
	"github.com/shokooh-rigi/algo-trade/pkg/db"
	"github.com/shokooh-rigi/algo-trade/pkg/exchanges/common"
	"github.com/shokooh-rigi/algo-trade/pkg/exchanges/nobitex"
	"github.com/shokooh-rigi/algo-trade/pkg/exchanges/wallex"
	"github.com/shokooh-rigi/algo-trade/pkg/retry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ config: %v", err)
	}

	store, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("❌ open database: %v", err)
	}
	defer store.Close()

	if err := db.ApplyMigrations(store); err != nil {
		log.Fatalf("❌ migrations: %v", err)
	}

	if cfg.CredentialKey != "" {
		key, err := crypto.KeyFromHex(cfg.CredentialKey)
		if err != nil {
			log.Fatalf("❌ credential key: %v", err)
		}
		enc, err := crypto.NewEncryptor(key)
		if err != nil {
			log.Fatalf("❌ credential encryptor: %v", err)
		}
		store.UseCredentialCodec(enc)
		log.Println("✓ credential encryption enabled")
	} else {
		log.Println("⚠️ CREDENTIAL_KEY not set; credentials stored in plaintext")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := store.EnsureSystemConfig(ctx, cfg.DefaultTradeNotional); err != nil {
		log.Fatalf("❌ system config: %v", err)
	}

	accountID, err := seedAccount(ctx, store, cfg)
	if err != nil {
		log.Fatalf("❌ seed account: %v", err)
	}

	bus := events.NewBus()

	registry := gateway.NewRegistry(store, func(a *db.Account) (common.Gateway, error) {
		switch a.Exchange {
		case "wallex":
			return wallex.New(wallex.Config{APIKey: a.APIKey, BaseURL: cfg.WallexBaseURL}), nil
		default:
			return nil, gateway.ErrUnsupportedExchange(a.Exchange)
		}
	})
	registry.RegisterDataSource("nobitex", nobitex.New(nobitex.Config{BaseURL: cfg.NobitexBaseURL}))

	dealMgr := deal.NewManager(store, store, store, store, registry, bus, rate.Every(cfg.CancelSpacing))
	placer := order.NewPlacer(store, store, store, registry, bus)
	reconciler := reconciliation.NewService(store, store, registry, bus)
	riskMon := risk.NewMonitor(store, store, store, registry, bus, rate.Every(cfg.CancelSpacing))

	eng := engine.New(engine.Config{
		System:     store,
		Strategies: store,
		Deals:      store,
		Markets:    store,
		Sources:    registry,
		Sink:       dealMgr,
		Dispatcher: placer,
		Reconciler: reconciler,
		Risk:       riskMon,
		Bus:        bus,
		Retry:      retry.Default,
		Intervals: engine.Intervals{
			Strategy:   cfg.StrategyInterval,
			Dispatch:   cfg.DispatchInterval,
			Reconcile:  cfg.ReconcileInterval,
			Risk:       cfg.RiskInterval,
			MarketSync: cfg.MarketSyncEvery,
		},
		DefaultNotional: cfg.DefaultTradeNotional,
	})

	// Trading rules must exist before any strategy is evaluated.
	if err := eng.SyncMarkets(ctx, "wallex", accountID); err != nil {
		log.Printf("⚠️ initial market sync: %v", err)
	}

	if cfg.StrategiesFile != "" {
		entries, err := strategy.LoadSeedFile(cfg.StrategiesFile)
		if err != nil {
			log.Fatalf("❌ load strategies file: %v", err)
		}
		if err := strategy.SyncSeedToStore(ctx, store, entries); err != nil {
			log.Fatalf("❌ sync strategies: %v", err)
		}
		log.Printf("✓ %d strategies loaded from %s", len(entries), cfg.StrategiesFile)
	}

	eng.Start(ctx, map[string]int64{"wallex": accountID})

	balances := balance.NewService(registry, 30*time.Second)
	metrics := monitor.NewMetrics()
	metrics.Start(ctx, bus)

	server, err := api.NewServer(api.Config{
		Store:         store,
		Lifecycle:     dealMgr,
		Bus:           bus,
		Balances:      balances,
		Metrics:       metrics,
		JWTSecret:     cfg.JWTSecret,
		AdminUser:     cfg.AdminUser,
		AdminPassword: cfg.AdminPassword,
	})
	if err != nil {
		log.Fatalf("❌ api server: %v", err)
	}

	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: server.Router,
	}
	go func() {
		log.Printf("✓ API listening on :%s", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("❌ http server: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Println("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️ http shutdown: %v", err)
	}
	log.Println("✓ bye")
}

// seedAccount upserts the trading account from environment credentials.
func seedAccount(ctx context.Context, store *db.Store, cfg *config.Config) (int64, error) {
	if cfg.WallexAPIKey == "" {
		log.Println("⚠️ WALLEX_API_KEY not set; orders will be rejected by the exchange")
	}
	name := os.Getenv("ACCOUNT_NAME")
	if name == "" {
		name = "main"
	}
	return store.UpsertAccount(ctx, &db.Account{
		Name:      name,
		Exchange:  "wallex",
		APIKey:    cfg.WallexAPIKey,
		APISecret: cfg.WallexAPISecret,
		IsActive:  true,
	})
}
