// Package wallex implements the trading gateway for the Wallex exchange
// REST API. Authentication is a static x-api-key header; there is no
// request signing.
package wallex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/shokooh-rigi/algo-trade/pkg/exchanges/common"
)

const defaultBaseURL = "https://api.wallex.ir"

// Config holds client settings.
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
	// RequestsPerSecond paces all REST calls. Zero means 5 rps.
	RequestsPerSecond float64
}

// Client talks to Wallex. It satisfies common.Gateway.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// New builds a Wallex client.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	return &Client{
		apiKey:  cfg.APIKey,
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// envelope is the common Wallex response wrapper.
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Code    int             `json:"code"`
	Result  json.RawMessage `json:"result"`
}

// do performs one REST round trip. Transport failures map to NetworkError;
// a failed envelope maps to RejectionError.
func (c *Client) do(ctx context.Context, method, path string, body any, authed bool) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if authed {
		req.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &common.NetworkError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &common.NetworkError{Op: "read " + path, Err: err}
	}
	if resp.StatusCode >= 500 {
		return nil, &common.NetworkError{Op: method + " " + path,
			Err: fmt.Errorf("http %d: %s", resp.StatusCode, string(raw))}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &common.NetworkError{Op: "decode " + path, Err: err}
	}
	if !env.Success || resp.StatusCode >= 400 {
		code := env.Code
		if code == 0 {
			code = resp.StatusCode
		}
		return nil, &common.RejectionError{Code: code, Message: env.Message}
	}
	return env.Result, nil
}

type orderPayload struct {
	Symbol    string `json:"symbol"`
	Side      string `json:"side"`
	Type      string `json:"type"`
	Price     string `json:"price,omitempty"`
	StopPrice string `json:"stop_price,omitempty"`
	Quantity  string `json:"quantity"`
	ClientID  string `json:"client_id"`
}

// SubmitOrder places an order. Validation failures never reach the wire.
func (c *Client) SubmitOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	if !req.Side.Valid() || !req.Type.Valid() {
		return common.OrderResult{}, &common.ValidationError{Field: "order", Reason: "unknown side or type"}
	}
	if req.Qty <= 0 {
		return common.OrderResult{}, &common.ValidationError{Field: "quantity", Reason: "must be positive"}
	}
	if req.Type == common.OrderTypeLimit && req.Price <= 0 {
		return common.OrderResult{}, &common.ValidationError{Field: "price", Reason: "required for limit orders"}
	}
	if req.Type == common.OrderTypeStopMarket && req.StopPrice <= 0 {
		return common.OrderResult{}, &common.ValidationError{Field: "stop_price", Reason: "required for stop orders"}
	}

	payload := orderPayload{
		Symbol:   req.Symbol,
		Side:     string(req.Side),
		Type:     orderTypeParam(req.Type),
		Quantity: strconv.FormatFloat(req.Qty, 'f', -1, 64),
		ClientID: req.ClientID,
	}
	if req.Price > 0 {
		payload.Price = strconv.FormatFloat(req.Price, 'f', -1, 64)
	}
	if req.StopPrice > 0 {
		payload.StopPrice = strconv.FormatFloat(req.StopPrice, 'f', -1, 64)
	}

	result, err := c.do(ctx, http.MethodPost, "/v1/account/orders", payload, true)
	if err != nil {
		return common.OrderResult{}, err
	}

	var ack struct {
		ClientOrderID string `json:"clientOrderId"`
		OrderID       string `json:"orderId"`
		Status        string `json:"status"`
	}
	if err := json.Unmarshal(result, &ack); err != nil {
		return common.OrderResult{}, &common.NetworkError{Op: "decode order ack", Err: err}
	}
	return common.OrderResult{
		ExchangeOrderID: ack.OrderID,
		ClientID:        ack.ClientOrderID,
		Status:          mapStatus(ack.Status, 0, 0),
	}, nil
}

// CancelOrder cancels by exchange order ID.
func (c *Client) CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error {
	_, err := c.do(ctx, http.MethodDelete, "/v1/account/orders/"+exchangeOrderID, nil, true)
	return err
}

// GetOrder reads back the exchange's view of an order.
func (c *Client) GetOrder(ctx context.Context, symbol, exchangeOrderID string) (common.OrderInfo, error) {
	result, err := c.do(ctx, http.MethodGet, "/v1/account/orders/"+exchangeOrderID, nil, true)
	if err != nil {
		return common.OrderInfo{}, err
	}

	var o struct {
		OrderID       string `json:"orderId"`
		ClientOrderID string `json:"clientOrderId"`
		Symbol        string `json:"symbol"`
		Side          string `json:"side"`
		Status        string `json:"status"`
		Price         string `json:"price"`
		OrigQty       string `json:"origQty"`
		ExecutedQty   string `json:"executedQty"`
		ExecutedPrice string `json:"executedPrice"`
	}
	if err := json.Unmarshal(result, &o); err != nil {
		return common.OrderInfo{}, &common.NetworkError{Op: "decode order", Err: err}
	}

	qty := parseFloat(o.OrigQty)
	filled := parseFloat(o.ExecutedQty)
	return common.OrderInfo{
		ExchangeOrderID: o.OrderID,
		ClientID:        o.ClientOrderID,
		Symbol:          o.Symbol,
		Side:            common.Side(o.Side),
		Status:          mapStatus(o.Status, qty, filled),
		Price:           parseFloat(o.Price),
		Qty:             qty,
		FilledQty:       filled,
		AvgFillPrice:    parseFloat(o.ExecutedPrice),
	}, nil
}

// FetchOrderBook returns a depth snapshot, best levels first. The payload
// shape varies between list and keyed-map forms, so it is walked with
// gjson.
func (c *Client) FetchOrderBook(ctx context.Context, symbol string) (common.OrderBook, error) {
	result, err := c.do(ctx, http.MethodGet, "/v1/depth?symbol="+symbol, nil, false)
	if err != nil {
		return common.OrderBook{}, err
	}

	book := common.OrderBook{Symbol: symbol}
	book.Bids = parseLevels(gjson.GetBytes(result, "bid"))
	book.Asks = parseLevels(gjson.GetBytes(result, "ask"))
	if len(book.Bids) == 0 && len(book.Asks) == 0 {
		return common.OrderBook{}, &common.DataUnavailableError{Symbol: symbol, What: "order book"}
	}
	return book, nil
}

func parseLevels(v gjson.Result) []common.BookLevel {
	var levels []common.BookLevel
	v.ForEach(func(_, level gjson.Result) bool {
		price := level.Get("price").Float()
		qty := level.Get("quantity").Float()
		if qty == 0 {
			qty = level.Get("volume").Float()
		}
		if price > 0 && qty > 0 {
			levels = append(levels, common.BookLevel{Price: price, Qty: qty})
		}
		return true
	})
	return levels
}

// FetchOHLCV loads candle history through the UDF endpoint. It is not
// wrapped in the usual envelope.
func (c *Client) FetchOHLCV(ctx context.Context, symbol, resolution string, from, to int64) ([]common.Candle, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/v1/udf/history?symbol=%s&resolution=%s&from=%d&to=%d",
		c.baseURL, symbol, resolution, from, to)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &common.NetworkError{Op: "GET udf/history", Err: err}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &common.NetworkError{Op: "read udf/history", Err: err}
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
		return nil, &common.NetworkError{Op: "decode udf/history", Err: err}
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

// FetchMarkets lists tradable symbols with their rules. The symbols object
// is keyed by symbol name, hence gjson.
func (c *Client) FetchMarkets(ctx context.Context) ([]common.MarketInfo, error) {
	result, err := c.do(ctx, http.MethodGet, "/v1/markets", nil, false)
	if err != nil {
		return nil, err
	}

	var markets []common.MarketInfo
	gjson.GetBytes(result, "symbols").ForEach(func(key, m gjson.Result) bool {
		markets = append(markets, common.MarketInfo{
			Symbol:      key.String(),
			BaseAsset:   m.Get("baseAsset").String(),
			QuoteAsset:  m.Get("quoteAsset").String(),
			TickSize:    stepString(m.Get("stats.priceStep"), m.Get("baseAssetPrecision").Int()),
			StepSize:    stepString(m.Get("stats.quantityStep"), m.Get("quantityPrecision").Int()),
			MinQty:      m.Get("minQty").Float(),
			MinNotional: m.Get("minNotional").Float(),
			Active:      m.Get("isActive").Bool() || !m.Get("isActive").Exists(),
		})
		return true
	})
	if len(markets) == 0 {
		return nil, &common.DataUnavailableError{What: "markets"}
	}
	return markets, nil
}

// Balances returns non-zero account balances. The balances object is keyed
// by asset name.
func (c *Client) Balances(ctx context.Context) ([]common.Balance, error) {
	result, err := c.do(ctx, http.MethodGet, "/v1/account/balances", nil, true)
	if err != nil {
		return nil, err
	}

	var out []common.Balance
	gjson.GetBytes(result, "balances").ForEach(func(asset, b gjson.Result) bool {
		free := b.Get("value").Float()
		locked := b.Get("locked").Float()
		if free > 0 || locked > 0 {
			out = append(out, common.Balance{Asset: asset.String(), Free: free, Locked: locked})
		}
		return true
	})
	return out, nil
}

func orderTypeParam(t common.OrderType) string {
	switch t {
	case common.OrderTypeMarket:
		return "MARKET"
	case common.OrderTypeStopMarket:
		return "STOP_MARKET"
	default:
		return "LIMIT"
	}
}

// mapStatus normalizes Wallex order states. Partially filled orders report
// ACTIVE with a non-zero executed quantity.
func mapStatus(status string, qty, filled float64) common.OrderStatus {
	switch status {
	case "NEW", "ACTIVE", "active":
		if filled > 0 && filled < qty {
			return common.StatusPartial
		}
		return common.StatusNew
	case "FILLED", "DONE", "done":
		return common.StatusFilled
	case "CANCELED", "CANCELLED", "canceled":
		return common.StatusCanceled
	case "PARTIALLY_FILLED":
		return common.StatusPartial
	}
	if filled > 0 && filled >= qty && qty > 0 {
		return common.StatusFilled
	}
	return common.StatusNew
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

// stepString prefers an explicit step from the payload and falls back to a
// step derived from the precision digit count.
func stepString(step gjson.Result, precision int64) string {
	if step.Exists() && step.Float() > 0 {
		return step.String()
	}
	if precision <= 0 {
		return "1"
	}
	return "0." + strings.Repeat("0", int(precision)-1) + "1"
}
