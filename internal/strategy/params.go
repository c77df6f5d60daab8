package strategy

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shokooh-rigi/algo-trade/pkg/exchanges/common"
)

// MACDEMAParams configures the composite MACD / EMA-cross strategy.
type MACDEMAParams struct {
	FastEMA             int     `json:"fast_ema"`
	SlowEMA             int     `json:"slow_ema"`
	SignalPeriod        int     `json:"signal_period"`
	TrendEMA            int     `json:"trend_ema"`
	MinADX              float64 `json:"min_adx"`
	ADXPeriod           int     `json:"adx_period"`
	MinATRPercent       float64 `json:"min_atr_percent"`
	ATRPeriod           int     `json:"atr_period"`
	VolumeLookback      int     `json:"volume_lookback"`
	MinVolumePercentile float64 `json:"min_volume_percentile"`
	DepthLevels         int     `json:"depth_levels"`
	MinDepthRatio       float64 `json:"min_depth_ratio"`
	CooldownMinutes     int     `json:"cooldown_minutes"`
	StopLossPercent     float64 `json:"stop_loss_percent"`
	TakeProfitPercent   float64 `json:"take_profit_percent"`
	TrailingEnabled     bool    `json:"trailing_enabled"`
	TrailingPercent     float64 `json:"trailing_percent"`
}

// DefaultMACDEMAParams returns the baseline tuning.
func DefaultMACDEMAParams() MACDEMAParams {
	return MACDEMAParams{
		FastEMA:             12,
		SlowEMA:             26,
		SignalPeriod:        9,
		TrendEMA:            50,
		MinADX:              20,
		ADXPeriod:           14,
		MinATRPercent:       0.3,
		ATRPeriod:           14,
		VolumeLookback:      20,
		MinVolumePercentile: 60,
		DepthLevels:         5,
		MinDepthRatio:       1.2,
		CooldownMinutes:     60,
		StopLossPercent:     2,
		TakeProfitPercent:   4,
		TrailingEnabled:     true,
		TrailingPercent:     1,
	}
}

// Validate checks internal consistency.
func (p MACDEMAParams) Validate() error {
	if p.FastEMA <= 0 || p.SlowEMA <= p.FastEMA {
		return &common.ValidationError{Field: "ema", Reason: "need 0 < fast_ema < slow_ema"}
	}
	if p.SignalPeriod <= 0 {
		return &common.ValidationError{Field: "signal_period", Reason: "must be positive"}
	}
	if p.TrendEMA <= 0 {
		return &common.ValidationError{Field: "trend_ema", Reason: "must be positive"}
	}
	if p.MinDepthRatio < 1 {
		return &common.ValidationError{Field: "min_depth_ratio", Reason: "must be >= 1"}
	}
	if p.StopLossPercent <= 0 || p.StopLossPercent >= 100 {
		return &common.ValidationError{Field: "stop_loss_percent", Reason: "must be in (0, 100)"}
	}
	if p.TakeProfitPercent <= 0 {
		return &common.ValidationError{Field: "take_profit_percent", Reason: "must be positive"}
	}
	if p.TrailingEnabled && (p.TrailingPercent <= 0 || p.TrailingPercent >= 100) {
		return &common.ValidationError{Field: "trailing_percent", Reason: "must be in (0, 100)"}
	}
	if p.MinVolumePercentile < 0 || p.MinVolumePercentile > 100 {
		return &common.ValidationError{Field: "min_volume_percentile", Reason: "must be in [0, 100]"}
	}
	return nil
}

// BreakoutParams configures the breakout strategy.
type BreakoutParams struct {
	Window            int     `json:"window"`
	FastEMA           int     `json:"fast_ema"`
	SlowEMA           int     `json:"slow_ema"`
	RSIPeriod         int     `json:"rsi_period"`
	RSIMax            float64 `json:"rsi_max"`
	RSIMin            float64 `json:"rsi_min"`
	VolumeLookback    int     `json:"volume_lookback"`
	MinVolumeRatio    float64 `json:"min_volume_ratio"`
	AllowShort        bool    `json:"allow_short"`
	ImbalanceLevels   int     `json:"imbalance_levels"`
	ImbalanceRatio    float64 `json:"imbalance_ratio"`
	CooldownMinutes   int     `json:"cooldown_minutes"`
	StopLossPercent   float64 `json:"stop_loss_percent"`
	TakeProfitPercent float64 `json:"take_profit_percent"`
	TrailingEnabled   bool    `json:"trailing_enabled"`
	TrailingPercent   float64 `json:"trailing_percent"`
}

// DefaultBreakoutParams returns the baseline tuning.
func DefaultBreakoutParams() BreakoutParams {
	return BreakoutParams{
		Window:            20,
		FastEMA:           9,
		SlowEMA:           21,
		RSIPeriod:         14,
		RSIMax:            75,
		RSIMin:            25,
		VolumeLookback:    20,
		MinVolumeRatio:    1.5,
		AllowShort:        true,
		ImbalanceLevels:   5,
		ImbalanceRatio:    1.5,
		CooldownMinutes:   30,
		StopLossPercent:   2,
		TakeProfitPercent: 4,
		TrailingEnabled:   true,
		TrailingPercent:   1,
	}
}

// Validate checks internal consistency.
func (p BreakoutParams) Validate() error {
	if p.Window <= 1 {
		return &common.ValidationError{Field: "window", Reason: "must be > 1"}
	}
	if p.FastEMA <= 0 || p.SlowEMA <= p.FastEMA {
		return &common.ValidationError{Field: "ema", Reason: "need 0 < fast_ema < slow_ema"}
	}
	if p.RSIPeriod <= 0 || p.RSIMin < 0 || p.RSIMax > 100 || p.RSIMin >= p.RSIMax {
		return &common.ValidationError{Field: "rsi", Reason: "need 0 <= rsi_min < rsi_max <= 100"}
	}
	if p.MinVolumeRatio <= 0 {
		return &common.ValidationError{Field: "min_volume_ratio", Reason: "must be positive"}
	}
	if p.ImbalanceRatio < 1 {
		return &common.ValidationError{Field: "imbalance_ratio", Reason: "must be >= 1"}
	}
	if p.StopLossPercent <= 0 || p.StopLossPercent >= 100 {
		return &common.ValidationError{Field: "stop_loss_percent", Reason: "must be in (0, 100)"}
	}
	if p.TakeProfitPercent <= 0 {
		return &common.ValidationError{Field: "take_profit_percent", Reason: "must be positive"}
	}
	if p.TrailingEnabled && (p.TrailingPercent <= 0 || p.TrailingPercent >= 100) {
		return &common.ValidationError{Field: "trailing_percent", Reason: "must be in (0, 100)"}
	}
	return nil
}

// decodeParams overlays a JSON blob on top of defaults. Unknown fields are
// rejected so config typos surface instead of silently applying defaults.
func decodeParams(raw json.RawMessage, into any) error {
	if len(raw) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil {
		return &common.ValidationError{Field: "params", Reason: fmt.Sprintf("bad JSON: %v", err)}
	}
	return nil
}
