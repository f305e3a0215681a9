package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jpillora/backoff"
	"github.com/raykavin/stocknrun/internal/config"
	"github.com/raykavin/stocknrun/pkg/core"
	"github.com/raykavin/stocknrun/pkg/logger"
)

// Common errors
var (
	ErrMissingCredentials = errors.New("missing broker credentials")
	ErrOrderRejected      = errors.New("order rejected by broker")
)

const maxAttempts = 3

// OrderError wraps a submission failure with the intent context.
type OrderError struct {
	Err      error
	Symbol   string
	Quantity int64
}

func (e *OrderError) Error() string {
	return fmt.Sprintf("order error: %v, symbol: %s, quantity: %d", e.Err, e.Symbol, e.Quantity)
}

func (e *OrderError) Unwrap() error { return e.Err }

// Client is the REST client for the broker of record, covering quotes,
// account, positions and the order lifecycle. Transient failures are
// retried with exponential backoff.
type Client struct {
	cfg  config.BrokerConfig
	http *http.Client
	log  logger.Logger
}

// NewClient validates credentials and builds the client. Missing
// credentials are a configuration error, fatal at startup.
func NewClient(cfg config.BrokerConfig, log logger.Logger) (*Client, error) {
	if cfg.BaseURL == "" || cfg.AppKey == "" || cfg.AccessToken == "" {
		return nil, ErrMissingCredentials
	}

	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log,
	}, nil
}

// setupBackoffRetry creates a backoff with sensible defaults
func setupBackoffRetry() *backoff.Backoff {
	return &backoff.Backoff{
		Min: 100 * time.Millisecond,
		Max: 1 * time.Second,
	}
}

// Quotes implements core.QuoteClient.
func (c *Client) Quotes(ctx context.Context, symbols []string) ([]core.Quote, error) {
	var resp struct {
		Quotes []struct {
			Symbol    string      `json:"symbol"`
			LastDone  json.Number `json:"last_done"`
			BidPrice  json.Number `json:"bid_price"`
			AskPrice  json.Number `json:"ask_price"`
			Timestamp int64       `json:"timestamp"`
		} `json:"quotes"`
	}

	q := url.Values{"symbols": {strings.Join(symbols, ",")}}
	if err := c.do(ctx, http.MethodGet, "/v1/quote?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}

	quotes := make([]core.Quote, 0, len(resp.Quotes))
	for _, item := range resp.Quotes {
		quotes = append(quotes, core.Quote{
			Symbol: item.Symbol,
			Last:   numberOrZero(item.LastDone),
			Bid:    numberOrZero(item.BidPrice),
			Ask:    numberOrZero(item.AskPrice),
			Time:   time.Unix(item.Timestamp, 0).UTC(),
		})
	}
	return quotes, nil
}

// AccountBalance implements core.Broker. Field parsing is defensive:
// unparseable numbers become nil, never an error.
func (c *Client) AccountBalance(ctx context.Context) (core.Account, error) {
	var resp struct {
		List []struct {
			Currency  string `json:"currency"`
			CashInfos []struct {
				Currency      string      `json:"currency"`
				AvailableCash json.Number `json:"available_cash"`
				WithdrawCash  json.Number `json:"withdraw_cash"`
				FrozenCash    json.Number `json:"frozen_cash"`
				SettlingCash  json.Number `json:"settling_cash"`
			} `json:"cash_infos"`
		} `json:"list"`
	}

	if err := c.do(ctx, http.MethodGet, "/v1/asset/balance", nil, &resp); err != nil {
		return core.Account{}, err
	}

	for _, acct := range resp.List {
		for _, info := range acct.CashInfos {
			if info.Currency != "" && info.Currency != "USD" {
				continue
			}
			return core.Account{
				Currency:      "USD",
				AvailableCash: numberPtr(info.AvailableCash),
				WithdrawCash:  numberPtr(info.WithdrawCash),
				FrozenCash:    numberPtr(info.FrozenCash),
				SettlingCash:  numberPtr(info.SettlingCash),
			}, nil
		}
	}

	return core.Account{Currency: "USD"}, nil
}

// StockPositions implements core.Broker. The broker wraps positions in a
// channels envelope; all channels are flattened.
func (c *Client) StockPositions(ctx context.Context) ([]core.BrokerPosition, error) {
	var resp struct {
		Channels []struct {
			Positions []struct {
				Symbol       string      `json:"symbol"`
				Quantity     json.Number `json:"quantity"`
				CostPrice    json.Number `json:"cost_price"`
				MarketValue  json.Number `json:"market_value"`
				UnrealizedPL json.Number `json:"unrealized_pl"`
			} `json:"positions"`
		} `json:"channels"`
	}

	if err := c.do(ctx, http.MethodGet, "/v1/asset/stock_positions", nil, &resp); err != nil {
		return nil, err
	}

	var out []core.BrokerPosition
	for _, ch := range resp.Channels {
		for _, p := range ch.Positions {
			out = append(out, core.BrokerPosition{
				Symbol:       p.Symbol,
				Quantity:     int64(numberOrZero(p.Quantity)),
				CostPrice:    numberPtr(p.CostPrice),
				MarketValue:  numberPtr(p.MarketValue),
				UnrealizedPL: numberPtr(p.UnrealizedPL),
			})
		}
	}
	return out, nil
}

// SubmitOrder implements core.Broker. Only day-limit orders are placed.
func (c *Client) SubmitOrder(ctx context.Context, intent core.OrderIntent) (string, error) {
	body := map[string]any{
		"symbol":             intent.Symbol,
		"order_type":         "LO",
		"side":               string(intent.Side),
		"submitted_quantity": strconv.FormatInt(intent.Quantity, 10),
		"time_in_force":      "Day",
		"submitted_price":    strconv.FormatFloat(intent.LimitPrice, 'f', 2, 64),
		"remark":             intent.Remark,
	}

	var resp struct {
		OrderID string `json:"order_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/order", body, &resp); err != nil {
		return "", &OrderError{Err: err, Symbol: intent.Symbol, Quantity: intent.Quantity}
	}
	if resp.OrderID == "" {
		return "", &OrderError{Err: ErrOrderRejected, Symbol: intent.Symbol, Quantity: intent.Quantity}
	}
	return resp.OrderID, nil
}

// CancelOrder implements core.Broker. Cancellation is idempotent; a 404
// means the order already reached a terminal state.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	err := c.do(ctx, http.MethodDelete, "/v1/order/"+url.PathEscape(orderID), nil, nil)
	var httpErr *httpStatusError
	if errors.As(err, &httpErr) && httpErr.Status == http.StatusNotFound {
		return nil
	}
	return err
}

// TodayOrders implements core.Broker.
func (c *Client) TodayOrders(ctx context.Context) ([]core.OrderSummary, error) {
	var resp struct {
		Orders []orderPayload `json:"orders"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/order/today", nil, &resp); err != nil {
		return nil, err
	}

	out := make([]core.OrderSummary, 0, len(resp.Orders))
	for _, o := range resp.Orders {
		out = append(out, o.toSummary())
	}
	return out, nil
}

// OrderDetail implements core.Broker.
func (c *Client) OrderDetail(ctx context.Context, orderID string) (core.OrderSummary, error) {
	var resp orderPayload
	if err := c.do(ctx, http.MethodGet, "/v1/order/"+url.PathEscape(orderID), nil, &resp); err != nil {
		return core.OrderSummary{}, err
	}
	if resp.OrderID == "" {
		resp.OrderID = orderID
	}
	return resp.toSummary(), nil
}

type orderPayload struct {
	OrderID   string      `json:"order_id"`
	Symbol    string      `json:"symbol"`
	Side      string      `json:"side"`
	Status    string      `json:"status"`
	Quantity  json.Number `json:"quantity"`
	FilledQty json.Number `json:"executed_quantity"`
	AvgPrice  json.Number `json:"executed_price"`
	UpdatedAt int64       `json:"updated_at"`
}

func (o orderPayload) toSummary() core.OrderSummary {
	side := core.SideTypeBuy
	if strings.EqualFold(o.Side, "sell") {
		side = core.SideTypeSell
	}
	return core.OrderSummary{
		OrderID:   o.OrderID,
		Symbol:    o.Symbol,
		Side:      side,
		Status:    core.NormalizeStatus(o.Status),
		Quantity:  int64(numberOrZero(o.Quantity)),
		FilledQty: int64(numberOrZero(o.FilledQty)),
		AvgPrice:  numberOrZero(o.AvgPrice),
		UpdatedAt: time.Unix(o.UpdatedAt, 0).UTC(),
	}
}

type httpStatusError struct {
	Status int
	Body   string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("broker returned status %d: %s", e.Status, e.Body)
}

// do executes one request with retries on transport errors and 5xx
// responses.
func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	retry := setupBackoffRetry()
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(retry.Duration()):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("failed to build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Api-Key", c.cfg.AppKey)
		req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			c.log.WithError(err).Debugf("broker %s %s failed, attempt %d", method, path, attempt+1)
			continue
		}

		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode >= 500 {
			lastErr = &httpStatusError{Status: resp.StatusCode, Body: truncate(string(data), 200)}
			continue
		}
		if resp.StatusCode >= 400 {
			return &httpStatusError{Status: resp.StatusCode, Body: truncate(string(data), 200)}
		}

		if out == nil {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode broker response: %w", err)
		}
		return nil
	}

	return fmt.Errorf("broker %s %s failed after %d attempts: %w", method, path, maxAttempts, lastErr)
}

// numberPtr parses a json.Number defensively, returning nil on failure.
func numberPtr(n json.Number) *float64 {
	if n.String() == "" {
		return nil
	}
	f, err := n.Float64()
	if err != nil {
		return nil
	}
	return &f
}

func numberOrZero(n json.Number) float64 {
	if p := numberPtr(n); p != nil {
		return *p
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
