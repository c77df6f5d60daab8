package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the engine. Everything here
// is read once at startup; runtime-mutable settings (kill switch, trade
// notional) live in the system_configs table instead.
type Config struct {
	Port string

	// Database
	DBPath string

	// Wallex (trading + market data)
	WallexAPIKey    string
	WallexAPISecret string
	WallexBaseURL   string

	// Nobitex (market data only)
	NobitexBaseURL string

	// Cycle cadences
	StrategyInterval  time.Duration
	DispatchInterval  time.Duration
	ReconcileInterval time.Duration
	RiskInterval      time.Duration
	MarketSyncEvery   time.Duration

	// Spacing between sequential order cancellations.
	CancelSpacing time.Duration

	// Strategy seed file (optional)
	StrategiesFile string

	// Defaults seeded into system_configs when the row is missing.
	DefaultTradeNotional float64

	// Hex-encoded AES-256 key for credential encryption at rest (optional).
	CredentialKey string

	// Operations API
	JWTSecret     string
	AdminUser     string
	AdminPassword string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		Port:                 getEnv("PORT", "8080"),
		DBPath:               getEnv("DB_PATH", "./data/algo.db"),
		WallexAPIKey:         os.Getenv("WALLEX_API_KEY"),
		WallexAPISecret:      os.Getenv("WALLEX_API_SECRET"),
		WallexBaseURL:        getEnv("WALLEX_BASE_URL", "https://api.wallex.ir"),
		NobitexBaseURL:       getEnv("NOBITEX_BASE_URL", "https://api.nobitex.ir"),
		StrategyInterval:     getEnvDuration("STRATEGY_INTERVAL", time.Minute),
		DispatchInterval:     getEnvDuration("DISPATCH_INTERVAL", 15*time.Second),
		ReconcileInterval:    getEnvDuration("RECONCILE_INTERVAL", 20*time.Second),
		RiskInterval:         getEnvDuration("RISK_INTERVAL", 30*time.Second),
		MarketSyncEvery:      getEnvDuration("MARKET_SYNC_INTERVAL", time.Hour),
		CancelSpacing:        getEnvDuration("CANCEL_SPACING", time.Second),
		StrategiesFile:       getEnv("STRATEGIES_FILE", ""),
		DefaultTradeNotional: getEnvFloat("DEFAULT_TRADE_NOTIONAL", 100.0),
		CredentialKey:        os.Getenv("CREDENTIAL_KEY"),
		JWTSecret:            getEnv("JWT_SECRET", "dev-secret"),
		AdminUser:            getEnv("ADMIN_USER", "admin"),
		AdminPassword:        os.Getenv("ADMIN_PASSWORD"),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil && d > 0 {
			return d
		}
	}
	return def
}
