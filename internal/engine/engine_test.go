package engine

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shokooh-rigi/algo-trade/internal/events"
	"github.com/shokooh-rigi/algo-trade/internal/reconciliation"
	"github.com/shokooh-rigi/algo-trade/internal/strategy"
	"github.com/shokooh-rigi/algo-trade/pkg/db"
	"github.com/shokooh-rigi/algo-trade/pkg/exchanges/common"
	"github.com/shokooh-rigi/algo-trade/pkg/retry"
)

type fakeSystem struct {
	cfg *db.SystemConfig
	err error
}

func (f *fakeSystem) GetSystemConfig(ctx context.Context) (*db.SystemConfig, error) {
	return f.cfg, f.err
}

type fakeStrategies struct{ configs []db.StrategyConfig }

func (f *fakeStrategies) ListActiveStrategyConfigs(ctx context.Context) ([]db.StrategyConfig, error) {
	return f.configs, nil
}

type fakeDeals struct {
	last   *db.Deal
	active []db.Deal
}

func (f *fakeDeals) LastDeal(ctx context.Context, strategyConfigID int64, symbol string, accountID int64) (*db.Deal, error) {
	if f.last == nil {
		return nil, db.ErrNotFound
	}
	return f.last, nil
}

func (f *fakeDeals) ListDealsByStrategy(ctx context.Context, strategyConfigID int64) ([]db.Deal, error) {
	return f.active, nil
}

type fakeMarkets struct{ upserts []db.Market }

func (f *fakeMarkets) UpsertMarket(ctx context.Context, m *db.Market) error {
	f.upserts = append(f.upserts, *m)
	return nil
}

type fakeSource struct {
	candles []common.Candle
	book    common.OrderBook
	markets []common.MarketInfo
	fetches int
}

func (f *fakeSource) FetchOrderBook(ctx context.Context, symbol string) (common.OrderBook, error) {
	return f.book, nil
}

func (f *fakeSource) FetchOHLCV(ctx context.Context, symbol, resolution string, from, to int64) ([]common.Candle, error) {
	f.fetches++
	return f.candles, nil
}

func (f *fakeSource) FetchMarkets(ctx context.Context) ([]common.MarketInfo, error) {
	return f.markets, nil
}

type fakeSources struct {
	src  *fakeSource
	hits int
}

func (f *fakeSources) DataSource(ctx context.Context, exchange string, fallbackAccountID int64) (common.MarketDataSource, error) {
	f.hits++
	return f.src, nil
}

type fakeSink struct {
	signals []*strategy.Signal
	err     error
}

func (f *fakeSink) OnSignal(ctx context.Context, cfg *db.StrategyConfig, sig *strategy.Signal, notional float64) (*db.Deal, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.signals = append(f.signals, sig)
	return &db.Deal{ID: "d-1"}, nil
}

type counter struct{ calls int }

func (c *counter) Dispatch(ctx context.Context) error { c.calls++; return nil }
func (c *counter) Run(ctx context.Context) error      { c.calls++; return nil }
func (c *counter) Reconcile(ctx context.Context) (*reconciliation.Report, error) {
	c.calls++
	return &reconciliation.Report{}, nil
}

func breakoutConfig() db.StrategyConfig {
	return db.StrategyConfig{
		ID: 1, Name: "brk", Kind: db.KindBreakout, Exchange: "wallex", Symbol: "BTCUSDT",
		AccountID: 1, Resolution: "60", TrendResolution: "60", IsActive: true,
		Params: json.RawMessage(`{"window": 5, "fast_ema": 2, "slow_ema": 3, "rsi_period": 3, "rsi_max": 99, "rsi_min": 1, "volume_lookback": 5}`),
	}
}

func breakoutCandles() []common.Candle {
	closes := []float64{100, 99, 100, 99, 100, 99, 100, 99, 100, 99, 100, 103}
	out := make([]common.Candle, len(closes))
	for i, c := range closes {
		v := 100.0
		if i == len(closes)-1 {
			v = 500
		}
		out[i] = common.Candle{Open: c, High: c + 0.5, Low: c - 0.5, Close: c, Volume: v}
	}
	return out
}

func newTestEngine(sys *fakeSystem) (*Engine, *fakeSink, *counter, *counter, *counter, *fakeSources) {
	sink := &fakeSink{}
	dispatcher := &counter{}
	reconciler := &counter{}
	riskRunner := &counter{}
	sources := &fakeSources{src: &fakeSource{
		candles: breakoutCandles(),
		book: common.OrderBook{
			Symbol: "BTCUSDT",
			Bids:   []common.BookLevel{{Price: 102.9, Qty: 3}},
			Asks:   []common.BookLevel{{Price: 103.1, Qty: 1}},
		},
	}}

	e := New(Config{
		System:          sys,
		Strategies:      &fakeStrategies{configs: []db.StrategyConfig{breakoutConfig()}},
		Deals:           &fakeDeals{},
		Markets:         &fakeMarkets{},
		Sources:         sources,
		Sink:            sink,
		Dispatcher:      dispatcher,
		Reconciler:      reconciler,
		Risk:            riskRunner,
		Bus:             events.NewBus(),
		Retry:           retry.Policy{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		Intervals:       Intervals{},
		DefaultNotional: 100,
	})
	return e, sink, dispatcher, reconciler, riskRunner, sources
}

func TestKillSwitchHaltsEveryCycle(t *testing.T) {
	sys := &fakeSystem{cfg: &db.SystemConfig{KillSwitch: true, TradeNotional: 100}}
	e, sink, dispatcher, reconciler, riskRunner, sources := newTestEngine(sys)
	ctx := context.Background()

	if err := e.RunStrategyCycle(ctx); err != nil {
		t.Fatalf("strategy cycle: %v", err)
	}
	if err := e.RunDealDispatch(ctx); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if err := e.RunOrderReconciliation(ctx); err != nil {
		t.Fatalf("reconciliation: %v", err)
	}
	if err := e.RunRiskMonitor(ctx); err != nil {
		t.Fatalf("risk: %v", err)
	}

	if len(sink.signals) != 0 || dispatcher.calls != 0 || reconciler.calls != 0 || riskRunner.calls != 0 {
		t.Fatal("engaged kill switch must produce zero downstream calls")
	}
	if sources.hits != 0 {
		t.Fatal("engaged kill switch must not touch market data")
	}
}

func TestKillSwitchFailsClosed(t *testing.T) {
	sys := &fakeSystem{err: errors.New("disk gone")}
	e, sink, dispatcher, _, _, _ := newTestEngine(sys)
	ctx := context.Background()

	if err := e.RunStrategyCycle(ctx); err != nil {
		t.Fatalf("strategy cycle: %v", err)
	}
	if err := e.RunDealDispatch(ctx); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(sink.signals) != 0 || dispatcher.calls != 0 {
		t.Fatal("unreadable kill switch must halt like an engaged one")
	}
}

func TestKillSwitchEventOncePerEngagement(t *testing.T) {
	sys := &fakeSystem{cfg: &db.SystemConfig{KillSwitch: true}}
	e, _, _, _, _, _ := newTestEngine(sys)
	ctx := context.Background()

	bus := e.bus
	ch, unsub := bus.Subscribe(events.EventKillSwitch, 8)
	defer unsub()

	e.RunDealDispatch(ctx)
	e.RunDealDispatch(ctx)
	e.RunRiskMonitor(ctx)

	if got := len(ch); got != 1 {
		t.Fatalf("expected one kill switch event per engagement, got %d", got)
	}

	t.Run("release publishes again", func(t *testing.T) {
		<-ch
		sys.cfg.KillSwitch = false
		e.RunDealDispatch(ctx)
		if got := len(ch); got != 1 {
			t.Fatalf("expected release event, got %d", got)
		}
	})
}

func TestStrategyCycleProducesSignal(t *testing.T) {
	sys := &fakeSystem{cfg: &db.SystemConfig{KillSwitch: false, TradeNotional: 50}}
	e, sink, _, _, _, _ := newTestEngine(sys)

	if err := e.RunStrategyCycle(context.Background()); err != nil {
		t.Fatalf("strategy cycle: %v", err)
	}
	if len(sink.signals) != 1 {
		t.Fatalf("expected one signal, got %d", len(sink.signals))
	}
	if sink.signals[0].Side != common.SideBuy {
		t.Fatalf("expected BUY breakout, got %s", sink.signals[0].Side)
	}
}

func TestStrategyCycleFallsBackWithoutCandles(t *testing.T) {
	sys := &fakeSystem{cfg: &db.SystemConfig{TradeNotional: 50}}
	e, sink, _, _, _, sources := newTestEngine(sys)
	sources.src.candles = nil
	sources.src.book = common.OrderBook{
		Symbol: "BTCUSDT",
		Bids:   []common.BookLevel{{Price: 109, Qty: 9}},
		Asks:   []common.BookLevel{{Price: 111, Qty: 1}},
	}

	if err := e.RunStrategyCycle(context.Background()); err != nil {
		t.Fatalf("strategy cycle: %v", err)
	}
	if len(sink.signals) != 1 {
		t.Fatalf("expected the imbalance fallback to fire, got %d signals", len(sink.signals))
	}
	if sink.signals[0].Side != common.SideBuy || sink.signals[0].Confidence != 0.3 {
		t.Fatalf("expected low-confidence fallback BUY, got %+v", sink.signals[0])
	}
}

func TestEvalContextReadsActivePositions(t *testing.T) {
	sys := &fakeSystem{cfg: &db.SystemConfig{TradeNotional: 50}}
	e, _, _, _, _, _ := newTestEngine(sys)
	// The newest deal is a finished closing SELL; the long behind it is
	// still open.
	e.deals = &fakeDeals{
		last:   &db.Deal{Side: common.SideSell, IsActive: false, CreatedAt: time.Now()},
		active: []db.Deal{{Side: common.SideBuy, IsActive: true}},
	}

	cfg := breakoutConfig()
	ec, err := e.evalContext(context.Background(), &cfg)
	if err != nil {
		t.Fatalf("eval context: %v", err)
	}
	if !ec.HasOpenLong {
		t.Fatal("a newer closing deal must not hide the open long")
	}
	if ec.HasOpenShort {
		t.Fatal("an inactive SELL must not read as an open short")
	}
	if ec.LastDealAt.IsZero() {
		t.Fatal("cooldown anchor should come from the newest deal")
	}
}

func TestStrategyCycleToleratesOccupiedSlot(t *testing.T) {
	sys := &fakeSystem{cfg: &db.SystemConfig{TradeNotional: 50}}
	e, sink, _, _, _, _ := newTestEngine(sys)
	sink.err = db.ErrInvariantViolation

	if err := e.RunStrategyCycle(context.Background()); err != nil {
		t.Fatalf("occupied slot must not fail the cycle: %v", err)
	}
}

func TestSyncMarketsUpserts(t *testing.T) {
	sys := &fakeSystem{cfg: &db.SystemConfig{}}
	e, _, _, _, _, sources := newTestEngine(sys)
	markets := &fakeMarkets{}
	e.markets = markets
	sources.src.markets = []common.MarketInfo{
		{Symbol: "BTCUSDT", BaseAsset: "BTC", QuoteAsset: "USDT", TickSize: "0.01", StepSize: "0.001", MinQty: 0.001, Active: true},
		{Symbol: "ETHUSDT", BaseAsset: "ETH", QuoteAsset: "USDT", TickSize: "0.01", StepSize: "0.01", MinQty: 0.01, Active: true},
	}

	if err := e.SyncMarkets(context.Background(), "wallex", 1); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if len(markets.upserts) != 2 {
		t.Fatalf("expected 2 upserts, got %d", len(markets.upserts))
	}
	if markets.upserts[0].Exchange != "wallex" {
		t.Fatalf("exchange not stamped: %+v", markets.upserts[0])
	}
}
