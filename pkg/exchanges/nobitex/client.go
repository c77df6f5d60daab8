// Package nobitex implements the read-only market data source backed by
// the Nobitex public API. The engine never trades through Nobitex; it is
// used for candle history and depth snapshots.
package nobitex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/shokooh-rigi/algo-trade/pkg/exchanges/common"
)

const defaultBaseURL = "https://api.nobitex.ir"

// Config holds client settings.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client satisfies common.MarketDataSource.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// New builds a Nobitex client.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: cfg.Timeout},
		// Public endpoints allow modest polling only.
		limiter: rate.NewLimiter(rate.Limit(2), 1),
	}
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &common.NetworkError{Op: "GET " + path, Err: err}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &common.NetworkError{Op: "read " + path, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &common.NetworkError{Op: "GET " + path,
			Err: fmt.Errorf("http %d: %s", resp.StatusCode, string(raw))}
	}
	return raw, nil
}

// FetchOrderBook returns a depth snapshot. Levels arrive as [price, amount]
// string pairs.
func (c *Client) FetchOrderBook(ctx context.Context, symbol string) (common.OrderBook, error) {
	raw, err := c.get(ctx, "/v2/orderbook/"+symbol)
	if err != nil {
		return common.OrderBook{}, err
	}
	if gjson.GetBytes(raw, "status").String() != "ok" {
		return common.OrderBook{}, &common.DataUnavailableError{Symbol: symbol, What: "order book"}
	}

	book := common.OrderBook{Symbol: symbol}
	book.Bids = parsePairs(gjson.GetBytes(raw, "bids"))
	book.Asks = parsePairs(gjson.GetBytes(raw, "asks"))
	if len(book.Bids) == 0 && len(book.Asks) == 0 {
		return common.OrderBook{}, &common.DataUnavailableError{Symbol: symbol, What: "order book"}
	}
	return book, nil
}

func parsePairs(v gjson.Result) []common.BookLevel {
	var levels []common.BookLevel
	v.ForEach(func(_, pair gjson.Result) bool {
		arr := pair.Array()
		if len(arr) >= 2 {
			price, qty := arr[0].Float(), arr[1].Float()
			if price > 0 && qty > 0 {
				levels = append(levels, common.BookLevel{Price: price, Qty: qty})
			}
		}
		return true
	})
	return levels
}

// FetchOHLCV loads candles through the UDF history endpoint.
func (c *Client) FetchOHLCV(ctx context.Context, symbol, resolution string, from, to int64) ([]common.Candle, error) {
	path := fmt.Sprintf("/market/udf/history?symbol=%s&resolution=%s&from=%d&to=%d",
		symbol, resolution, from, to)
	raw, err := c.get(ctx, path)
	if err != nil {
		return nil, err
	}

	var h struct {
		Status string    `json:"s"`
		T      []int64   `json:"t"`
		O      []float64 `json:"o"`
		H      []float64 `json:"h"`
		L      []float64 `json:"l"`
		C      []float64 `json:"c"`
		V      []float64 `json:"v"`
	}
	if err := json.Unmarshal(raw, &h); err != nil {
		return nil, &common.NetworkError{Op: "decode history", Err: err}
	}
	if h.Status != "ok" || len(h.T) == 0 {
		return nil, &common.DataUnavailableError{Symbol: symbol, What: "candles"}
	}

	candles := make([]common.Candle, 0, len(h.T))
	for i := range h.T {
		if i >= len(h.O) || i >= len(h.H) || i >= len(h.L) || i >= len(h.C) || i >= len(h.V) {
			break
		}
		candles = append(candles, common.Candle{
			OpenTime: time.Unix(h.T[i], 0).UTC(),
			Open:     h.O[i],
			High:     h.H[i],
			Low:      h.L[i],
			Close:    h.C[i],
			Volume:   h.V[i],
		})
	}
	return candles, nil
}

// FetchMarkets derives the symbol list from the public stats feed. Nobitex
// does not publish tick/step rules, so conservative defaults apply; the
// keyed object ("btc-rls": {...}) is walked with gjson.
func (c *Client) FetchMarkets(ctx context.Context) ([]common.MarketInfo, error) {
	raw, err := c.get(ctx, "/market/stats")
	if err != nil {
		return nil, err
	}

	var markets []common.MarketInfo
	gjson.GetBytes(raw, "stats").ForEach(func(key, m gjson.Result) bool {
		parts := strings.SplitN(key.String(), "-", 2)
		if len(parts) != 2 {
			return true
		}
		markets = append(markets, common.MarketInfo{
			Symbol:     strings.ToUpper(parts[0] + parts[1]),
			BaseAsset:  strings.ToUpper(parts[0]),
			QuoteAsset: strings.ToUpper(parts[1]),
			TickSize:   "0.01",
			StepSize:   "0.000001",
			Active:     !m.Get("isClosed").Bool(),
		})
		return true
	})
	if len(markets) == 0 {
		return nil, &common.DataUnavailableError{What: "markets"}
	}
	return markets, nil
}
