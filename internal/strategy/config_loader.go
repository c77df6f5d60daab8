package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/shokooh-rigi/algo-trade/pkg/db"
)

// SeedEntry is one strategy declaration in the YAML seed file.
type SeedEntry struct {
	Name            string         `yaml:"name"`
	Kind            string         `yaml:"kind"`
	Exchange        string         `yaml:"exchange"`
	Symbol          string         `yaml:"symbol"`
	Account         string         `yaml:"account"`
	Resolution      string         `yaml:"resolution"`
	TrendResolution string         `yaml:"trend_resolution"`
	Params          map[string]any `yaml:"params"`
	IsActive        bool           `yaml:"is_active"`
}

// SeedFile is the top-level YAML structure.
type SeedFile struct {
	Strategies []SeedEntry `yaml:"strategies"`
}

// LoadSeedFile reads strategy declarations from a YAML file.
func LoadSeedFile(path string) ([]SeedEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file SeedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return file.Strategies, nil
}

// SyncSeedToStore validates and upserts seed entries. Account names resolve
// against active accounts on the entry's exchange; an unknown account or a
// bad params blob fails the whole sync so a misconfigured deploy stops
// early.
func SyncSeedToStore(ctx context.Context, store *db.Store, entries []SeedEntry) error {
	accounts, err := store.ListActiveAccounts(ctx)
	if err != nil {
		return err
	}
	byName := make(map[string]int64, len(accounts))
	for _, a := range accounts {
		byName[a.Name+"/"+a.Exchange] = a.ID
	}

	for _, e := range entries {
		kind := db.StrategyKind(e.Kind)
		if !kind.Valid() {
			return fmt.Errorf("seed strategy %s: unknown kind %q", e.Name, e.Kind)
		}

		params, err := json.Marshal(e.Params)
		if err != nil {
			return fmt.Errorf("seed strategy %s: marshal params: %w", e.Name, err)
		}
		if err := ValidateParams(kind, params); err != nil {
			return fmt.Errorf("seed strategy %s: %w", e.Name, err)
		}

		accountID, ok := byName[e.Account+"/"+e.Exchange]
		if !ok {
			return fmt.Errorf("seed strategy %s: no active account %q on %s", e.Name, e.Account, e.Exchange)
		}

		resolution := e.Resolution
		if resolution == "" {
			resolution = "60"
		}
		trendResolution := e.TrendResolution
		if trendResolution == "" {
			trendResolution = "240"
		}

		cfg := &db.StrategyConfig{
			Name:            e.Name,
			Kind:            kind,
			Exchange:        e.Exchange,
			Symbol:          e.Symbol,
			AccountID:       accountID,
			Resolution:      resolution,
			TrendResolution: trendResolution,
			Params:          params,
			IsActive:        e.IsActive,
		}
		if err := store.UpsertStrategyConfig(ctx, cfg); err != nil {
			return fmt.Errorf("seed strategy %s: %w", e.Name, err)
		}
	}
	return nil
}
