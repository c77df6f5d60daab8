package strategy

import (
	"fmt"

	"github.com/shokooh-rigi/algo-trade/pkg/db"
	"github.com/shokooh-rigi/algo-trade/pkg/exchanges/common"
)

// FromConfig instantiates the strategy a config row describes. The params
// blob is overlaid on the kind's defaults and validated; a bad blob returns
// a ValidationError and no strategy.
func FromConfig(cfg *db.StrategyConfig) (Strategy, error) {
	switch cfg.Kind {
	case db.KindMACDEMACross:
		params := DefaultMACDEMAParams()
		if err := decodeParams(cfg.Params, &params); err != nil {
			return nil, fmt.Errorf("strategy %s: %w", cfg.Name, err)
		}
		s, err := NewMACDEMACross(params)
		if err != nil {
			return nil, fmt.Errorf("strategy %s: %w", cfg.Name, err)
		}
		return s, nil

	case db.KindBreakout:
		params := DefaultBreakoutParams()
		if err := decodeParams(cfg.Params, &params); err != nil {
			return nil, fmt.Errorf("strategy %s: %w", cfg.Name, err)
		}
		s, err := NewBreakout(params)
		if err != nil {
			return nil, fmt.Errorf("strategy %s: %w", cfg.Name, err)
		}
		return s, nil
	}
	return nil, &common.ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown strategy kind %q", cfg.Kind)}
}

// ValidateParams checks a params blob against its kind without building a
// strategy. Used by the config-update transition before anything changes.
func ValidateParams(kind db.StrategyKind, raw []byte) error {
	cfg := &db.StrategyConfig{Name: "candidate", Kind: kind, Params: raw}
	_, err := FromConfig(cfg)
	return err
}
