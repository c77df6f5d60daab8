package db

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shokooh-rigi/algo-trade/pkg/exchanges/common"
)

// Market holds the trading rules for one symbol on one exchange. Tick and
// step sizes are stored as decimal strings so rounding stays exact.
type Market struct {
	ID          int64
	Exchange    string
	Symbol      string
	BaseAsset   string
	QuoteAsset  string
	TickSize    string
	StepSize    string
	MinQty      float64
	MinNotional float64
	IsActive    bool
	UpdatedAt   time.Time
}

// AdjustPrice quantizes a price down to the market's tick size.
func (m *Market) AdjustPrice(price float64) (float64, error) {
	return quantizeDown(price, m.TickSize)
}

// AdjustQuantity floors a quantity to the market's step size.
func (m *Market) AdjustQuantity(qty float64) (float64, error) {
	return quantizeDown(qty, m.StepSize)
}

// ValidateQuantity checks an already-adjusted quantity against the market
// minimums.
func (m *Market) ValidateQuantity(qty, price float64) error {
	if qty < m.MinQty {
		return &common.ValidationError{
			Field:  "quantity",
			Reason: fmt.Sprintf("%.8f below market minimum %.8f for %s", qty, m.MinQty, m.Symbol),
		}
	}
	if m.MinNotional > 0 && qty*price < m.MinNotional {
		return &common.ValidationError{
			Field:  "notional",
			Reason: fmt.Sprintf("%.8f below market minimum %.8f for %s", qty*price, m.MinNotional, m.Symbol),
		}
	}
	return nil
}

func quantizeDown(value float64, stepStr string) (float64, error) {
	step, err := decimal.NewFromString(stepStr)
	if err != nil {
		return 0, fmt.Errorf("bad step %q: %w", stepStr, err)
	}
	if step.IsZero() || step.IsNegative() {
		return 0, fmt.Errorf("bad step %q: must be positive", stepStr)
	}
	v := decimal.NewFromFloat(value)
	out, _ := v.Div(step).Floor().Mul(step).Float64()
	return out, nil
}

// Account holds exchange API credentials.
type Account struct {
	ID        int64
	Name      string
	Exchange  string
	APIKey    string
	APISecret string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// StrategyConfig is a persisted strategy definition. Params is a kind-
// specific JSON blob validated by the strategy package.
type StrategyConfig struct {
	ID              int64
	Name            string
	Kind            StrategyKind
	Exchange        string
	Symbol          string
	AccountID       int64
	Resolution      string
	TrendResolution string
	Params          json.RawMessage
	IsActive        bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Deal is one accepted trading decision moving through the lifecycle.
type Deal struct {
	ID                string
	StrategyConfigID  int64
	Exchange          string
	Symbol            string
	AccountID         int64
	Side              common.Side
	Price             float64
	Qty               float64
	Status            DealStatus
	IsActive          bool
	IsProcessed       bool
	ProcessedSide     ProcessedSide
	StopLossPrice     float64
	TakeProfitPrice   float64
	TrailingEnabled   bool
	TrailingPercent   float64
	StopLossOrderID   string
	TakeProfitOrderID string
	ProtectionGap     bool
	Reason            string
	Confidence        float64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Order is the local record of an exchange order.
type Order struct {
	ID              string
	DealID          string
	Role            OrderRole
	Exchange        string
	Symbol          string
	AccountID       int64
	Side            common.Side
	Type            common.OrderType
	Price           float64
	StopPrice       float64
	Qty             float64
	FilledQty       float64
	AvgFillPrice    float64
	Status          common.OrderStatus
	IsActive        bool
	ExchangeOrderID string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// SystemConfig is the single-row runtime switchboard. It is re-read at the
// top of every cycle, never cached.
type SystemConfig struct {
	KillSwitch    bool
	TradeNotional float64
	UpdatedAt     time.Time
}
