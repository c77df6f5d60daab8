// Package engine schedules the four trading cycles: strategy evaluation,
// deal dispatch, order reconciliation and the risk monitor. Every cycle
// re-reads the kill switch before doing anything else.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/shokooh-rigi/algo-trade/internal/events"
	"github.com/shokooh-rigi/algo-trade/internal/reconciliation"
	"github.com/shokooh-rigi/algo-trade/internal/strategy"
	"github.com/shokooh-rigi/algo-trade/pkg/db"
	"github.com/shokooh-rigi/algo-trade/pkg/exchanges/common"
	"github.com/shokooh-rigi/algo-trade/pkg/retry"
)

// candleLookback is how many bars each evaluation fetches. Enough for the
// longest indicator warm-up with headroom.
const candleLookback = 200

// SystemRepo reads the runtime switchboard.
type SystemRepo interface {
	GetSystemConfig(ctx context.Context) (*db.SystemConfig, error)
}

// StrategyRepo lists what to evaluate.
type StrategyRepo interface {
	ListActiveStrategyConfigs(ctx context.Context) ([]db.StrategyConfig, error)
}

// DealRepo is the read surface the strategy cycle needs for gating.
type DealRepo interface {
	LastDeal(ctx context.Context, strategyConfigID int64, symbol string, accountID int64) (*db.Deal, error)
	ListDealsByStrategy(ctx context.Context, strategyConfigID int64) ([]db.Deal, error)
}

// MarketRepo persists exchange trading rules.
type MarketRepo interface {
	UpsertMarket(ctx context.Context, m *db.Market) error
}

// DataSources resolves read-only market data per exchange.
type DataSources interface {
	DataSource(ctx context.Context, exchange string, fallbackAccountID int64) (common.MarketDataSource, error)
}

// SignalSink accepts evaluated signals (the deal lifecycle manager).
type SignalSink interface {
	OnSignal(ctx context.Context, cfg *db.StrategyConfig, sig *strategy.Signal, notional float64) (*db.Deal, error)
}

// Dispatcher places orders for queued deals.
type Dispatcher interface {
	Dispatch(ctx context.Context) error
}

// Reconciler merges exchange state back into order rows.
type Reconciler interface {
	Reconcile(ctx context.Context) (*reconciliation.Report, error)
}

// RiskRunner makes one risk pass over protected deals.
type RiskRunner interface {
	Run(ctx context.Context) error
}

// Intervals are the cycle periods.
type Intervals struct {
	Strategy   time.Duration
	Dispatch   time.Duration
	Reconcile  time.Duration
	Risk       time.Duration
	MarketSync time.Duration
}

// Engine owns the cycle loops.
type Engine struct {
	system     SystemRepo
	strategies StrategyRepo
	deals      DealRepo
	markets    MarketRepo
	sources    DataSources
	sink       SignalSink
	dispatcher Dispatcher
	reconciler Reconciler
	risk       RiskRunner
	bus        *events.Bus
	retry      retry.Policy
	intervals  Intervals

	// defaultNotional is used when the switchboard carries none.
	defaultNotional float64

	strategyMu  sync.Mutex
	dispatchMu  sync.Mutex
	reconcileMu sync.Mutex
	riskMu      sync.Mutex

	killMu   sync.Mutex
	killSeen bool
}

// Config wires an Engine.
type Config struct {
	System          SystemRepo
	Strategies      StrategyRepo
	Deals           DealRepo
	Markets         MarketRepo
	Sources         DataSources
	Sink            SignalSink
	Dispatcher      Dispatcher
	Reconciler      Reconciler
	Risk            RiskRunner
	Bus             *events.Bus
	Retry           retry.Policy
	Intervals       Intervals
	DefaultNotional float64
}

// New creates an Engine.
func New(cfg Config) *Engine {
	return &Engine{
		system:          cfg.System,
		strategies:      cfg.Strategies,
		deals:           cfg.Deals,
		markets:         cfg.Markets,
		sources:         cfg.Sources,
		sink:            cfg.Sink,
		dispatcher:      cfg.Dispatcher,
		reconciler:      cfg.Reconciler,
		risk:            cfg.Risk,
		bus:             cfg.Bus,
		retry:           cfg.Retry,
		intervals:       cfg.Intervals,
		defaultNotional: cfg.DefaultNotional,
	}
}

// gate re-reads the kill switch. It fails closed: an unreadable switchboard
// halts the cycle the same way an engaged switch does. The returned config
// is nil whenever the cycle must not run.
func (e *Engine) gate(ctx context.Context, cycle string) *db.SystemConfig {
	sys, err := e.system.GetSystemConfig(ctx)
	if err != nil {
		log.Printf("⚠️ %s cycle halted, kill switch unreadable: %v", cycle, err)
		return nil
	}

	e.killMu.Lock()
	defer e.killMu.Unlock()
	if sys.KillSwitch {
		if !e.killSeen {
			e.killSeen = true
			e.bus.Publish(events.EventKillSwitch, true)
			log.Printf("⚠️ kill switch engaged, trading halted")
		}
		return nil
	}
	if e.killSeen {
		e.killSeen = false
		e.bus.Publish(events.EventKillSwitch, false)
		log.Printf("kill switch released, trading resumed")
	}
	return sys
}

// RunStrategyCycle evaluates every active strategy config once.
func (e *Engine) RunStrategyCycle(ctx context.Context) error {
	e.strategyMu.Lock()
	defer e.strategyMu.Unlock()

	sys := e.gate(ctx, "strategy")
	if sys == nil {
		return nil
	}
	notional := sys.TradeNotional
	if notional <= 0 {
		notional = e.defaultNotional
	}

	configs, err := e.strategies.ListActiveStrategyConfigs(ctx)
	if err != nil {
		return fmt.Errorf("list strategy configs: %w", err)
	}
	for i := range configs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.evaluate(ctx, &configs[i], notional); err != nil {
			log.Printf("⚠️ evaluate %s: %v", configs[i].Name, err)
		}
	}
	return nil
}

// evaluate runs one strategy config against fresh market data and hands any
// signal to the deal lifecycle.
func (e *Engine) evaluate(ctx context.Context, cfg *db.StrategyConfig, notional float64) error {
	strat, err := strategy.FromConfig(cfg)
	if err != nil {
		return err
	}

	source, err := e.sources.DataSource(ctx, cfg.Exchange, cfg.AccountID)
	if err != nil {
		return err
	}

	snap, err := e.snapshot(ctx, source, cfg)
	if err != nil {
		if common.IsDataUnavailable(err) || common.IsTransient(err) {
			log.Printf("⚠️ %s: market data unavailable: %v", cfg.Name, err)
			return nil
		}
		return err
	}

	ec, err := e.evalContext(ctx, cfg)
	if err != nil {
		return err
	}

	sig, err := strat.Evaluate(*snap, ec)
	if err != nil {
		if common.IsDataUnavailable(err) {
			return nil
		}
		return err
	}
	if sig == nil {
		return nil
	}
	e.bus.Publish(events.EventStrategySignal, cfg.Name)

	_, err = e.sink.OnSignal(ctx, cfg, sig, notional)
	if errors.Is(err, db.ErrInvariantViolation) {
		// A deal already occupies the slot; the signal simply loses.
		return nil
	}
	if common.IsValidation(err) {
		log.Printf("⚠️ %s signal rejected: %v", cfg.Name, err)
		return nil
	}
	return err
}

// snapshot fetches the candles, trend candles and order book one evaluation
// needs. Transient fetch errors are retried with backoff.
func (e *Engine) snapshot(ctx context.Context, source common.MarketDataSource, cfg *db.StrategyConfig) (*strategy.Snapshot, error) {
	now := time.Now()

	// An empty candle fetch is not an error here: the strategy decides
	// whether it can still work the snapshot (breakout falls back to the
	// order book) or reports DataUnavailable itself.
	candles, err := e.fetchCandles(ctx, source, cfg.Symbol, cfg.Resolution, now)
	if err != nil {
		return nil, err
	}

	var trend []common.Candle
	if cfg.TrendResolution != "" && cfg.TrendResolution != cfg.Resolution {
		trend, err = e.fetchCandles(ctx, source, cfg.Symbol, cfg.TrendResolution, now)
		if err != nil {
			return nil, err
		}
	} else {
		trend = candles
	}

	var book common.OrderBook
	err = e.retry.Do(ctx, func() error {
		var ferr error
		book, ferr = source.FetchOrderBook(ctx, cfg.Symbol)
		return ferr
	})
	if err != nil {
		return nil, err
	}

	var price float64
	if len(candles) > 0 {
		price = candles[len(candles)-1].Close
	}

	return &strategy.Snapshot{
		Candles:      candles,
		TrendCandles: trend,
		Book:         &book,
		Price:        price,
		Now:          now,
	}, nil
}

func (e *Engine) fetchCandles(ctx context.Context, source common.MarketDataSource, symbol, resolution string, now time.Time) ([]common.Candle, error) {
	minutes, err := strconv.Atoi(resolution)
	if err != nil || minutes <= 0 {
		return nil, fmt.Errorf("bad resolution %q", resolution)
	}
	from := now.Add(-time.Duration(candleLookback*minutes) * time.Minute)

	var candles []common.Candle
	err = e.retry.Do(ctx, func() error {
		var ferr error
		candles, ferr = source.FetchOHLCV(ctx, symbol, resolution, from.Unix(), now.Unix())
		return ferr
	})
	return candles, err
}

// evalContext derives the per-slot gating state from deal history. The open
// position flags come from the whole active set, not just the newest deal:
// a later closing deal must not hide a long that is still open.
func (e *Engine) evalContext(ctx context.Context, cfg *db.StrategyConfig) (strategy.EvalContext, error) {
	var ec strategy.EvalContext

	last, err := e.deals.LastDeal(ctx, cfg.ID, cfg.Symbol, cfg.AccountID)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return ec, err
	}
	if err == nil {
		ec.LastDealAt = last.CreatedAt
	}

	active, err := e.deals.ListDealsByStrategy(ctx, cfg.ID)
	if err != nil {
		return ec, err
	}
	for i := range active {
		switch active[i].Side {
		case common.SideBuy:
			ec.HasOpenLong = true
		case common.SideSell:
			ec.HasOpenShort = true
		}
	}
	return ec, nil
}

// RunDealDispatch places orders for queued deals.
func (e *Engine) RunDealDispatch(ctx context.Context) error {
	e.dispatchMu.Lock()
	defer e.dispatchMu.Unlock()
	if e.gate(ctx, "dispatch") == nil {
		return nil
	}
	return e.dispatcher.Dispatch(ctx)
}

// RunOrderReconciliation polls outstanding orders.
func (e *Engine) RunOrderReconciliation(ctx context.Context) error {
	e.reconcileMu.Lock()
	defer e.reconcileMu.Unlock()
	if e.gate(ctx, "reconciliation") == nil {
		return nil
	}
	_, err := e.reconciler.Reconcile(ctx)
	return err
}

// RunRiskMonitor trails stops and repairs protection gaps.
func (e *Engine) RunRiskMonitor(ctx context.Context) error {
	e.riskMu.Lock()
	defer e.riskMu.Unlock()
	if e.gate(ctx, "risk") == nil {
		return nil
	}
	return e.risk.Run(ctx)
}

// SyncMarkets refreshes the trading rules for one exchange. Not gated by
// the kill switch: rule refreshes place no orders.
func (e *Engine) SyncMarkets(ctx context.Context, exchange string, accountID int64) error {
	source, err := e.sources.DataSource(ctx, exchange, accountID)
	if err != nil {
		return err
	}

	var infos []common.MarketInfo
	err = e.retry.Do(ctx, func() error {
		var ferr error
		infos, ferr = source.FetchMarkets(ctx)
		return ferr
	})
	if err != nil {
		return fmt.Errorf("fetch markets from %s: %w", exchange, err)
	}

	for _, info := range infos {
		m := &db.Market{
			Exchange:    exchange,
			Symbol:      info.Symbol,
			BaseAsset:   info.BaseAsset,
			QuoteAsset:  info.QuoteAsset,
			TickSize:    info.TickSize,
			StepSize:    info.StepSize,
			MinQty:      info.MinQty,
			MinNotional: info.MinNotional,
			IsActive:    info.Active,
		}
		if err := e.markets.UpsertMarket(ctx, m); err != nil {
			return err
		}
	}
	log.Printf("market sync: %d symbols from %s", len(infos), exchange)
	return nil
}

// Start launches the cycle loops and returns. Loops stop when ctx is done.
func (e *Engine) Start(ctx context.Context, exchanges map[string]int64) {
	go e.loop(ctx, e.intervals.Strategy, "strategy", e.RunStrategyCycle)
	go e.loop(ctx, e.intervals.Dispatch, "dispatch", e.RunDealDispatch)
	go e.loop(ctx, e.intervals.Reconcile, "reconciliation", e.RunOrderReconciliation)
	go e.loop(ctx, e.intervals.Risk, "risk", e.RunRiskMonitor)

	if e.intervals.MarketSync > 0 {
		go e.loop(ctx, e.intervals.MarketSync, "market sync", func(ctx context.Context) error {
			for exchange, accountID := range exchanges {
				if err := e.SyncMarkets(ctx, exchange, accountID); err != nil {
					log.Printf("⚠️ market sync %s: %v", exchange, err)
				}
			}
			return nil
		})
	}

	log.Printf("engine started (strategy %v, dispatch %v, reconcile %v, risk %v)",
		e.intervals.Strategy, e.intervals.Dispatch, e.intervals.Reconcile, e.intervals.Risk)
}

func (e *Engine) loop(ctx context.Context, every time.Duration, name string, fn func(context.Context) error) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("⚠️ %s cycle: %v", name, err)
			}
		case <-ctx.Done():
			return
		}
	}
}
