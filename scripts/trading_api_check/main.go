package main

// Quick connectivity check against the Wallex API using the engine's own
// client wrapper.
//
// Usage:
//
//	go run ./scripts/trading_api_check
//
// Environment (same as the main binary):
//
//	WALLEX_API_KEY / WALLEX_BASE_URL
//	CHECK_SYMBOL                (default "BTCUSDT")
//	CHECK_RESOLUTION            (default "60")
//
// The script is read-only: it fetches markets, an order book, candles and
// balances, and never submits or cancels an order.

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/shokooh-rigi/algo-trade/pkg/config"
	"github.com/shokooh-rigi/algo-trade/pkg/exchanges/wallex"
)

func main() {
	log.Println("=== Wallex API check starting ===")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	symbol := getenv("CHECK_SYMBOL", "BTCUSDT")
	resolution := getenv("CHECK_RESOLUTION", "60")
	log.Printf("Config: symbol=%s resolution=%s base=%s", symbol, resolution, cfg.WallexBaseURL)

	client := wallex.New(wallex.Config{APIKey: cfg.WallexAPIKey, BaseURL: cfg.WallexBaseURL})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	markets, err := client.FetchMarkets(ctx)
	if err != nil {
		log.Printf("❌ FetchMarkets: %v", err)
	} else {
		log.Printf("✓ FetchMarkets: %d symbols", len(markets))
	}

	ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel2()
	book, err := client.FetchOrderBook(ctx2, symbol)
	if err != nil {
		log.Printf("❌ FetchOrderBook %s: %v", symbol, err)
	} else {
		log.Printf("✓ FetchOrderBook %s: %d bids / %d asks", symbol, len(book.Bids), len(book.Asks))
		if len(book.Bids) > 0 && len(book.Asks) > 0 {
			log.Printf("  best bid=%f best ask=%f depth ratio(5)=%f",
				book.Bids[0].Price, book.Asks[0].Price, book.DepthRatio(5))
		}
	}

	ctx3, cancel3 := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel3()
	to := time.Now().Unix()
	from := to - 50*3600
	candles, err := client.FetchOHLCV(ctx3, symbol, resolution, from, to)
	if err != nil {
		log.Printf("❌ FetchOHLCV %s: %v", symbol, err)
	} else {
		log.Printf("✓ FetchOHLCV %s: %d candles", symbol, len(candles))
		if len(candles) > 0 {
			last := candles[len(candles)-1]
			log.Printf("  last close=%f volume=%f at %s", last.Close, last.Volume, last.OpenTime)
		}
	}

	if cfg.WallexAPIKey == "" {
		log.Println("⚠️ WALLEX_API_KEY empty, skipping authenticated balance check")
	} else {
		ctx4, cancel4 := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel4()
		balances, err := client.Balances(ctx4)
		if err != nil {
			log.Printf("❌ Balances: %v", err)
		} else {
			log.Printf("✓ Balances: %d assets", len(balances))
		}
	}

	log.Println("=== Wallex API check finished ===")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
