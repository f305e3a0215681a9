// Package marketdata implements the upstream adjusted OHLCV source.
package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/jpillora/backoff"
	"github.com/raykavin/stocknrun/internal/config"
	"github.com/raykavin/stocknrun/pkg/core"
	"github.com/raykavin/stocknrun/pkg/logger"
)

// ErrMissingEndpoint indicates no upstream base URL was configured.
var ErrMissingEndpoint = errors.New("missing market data endpoint")

const maxAttempts = 3

// Client fetches adjusted historical bars over REST. It implements
// core.MarketData. Transient failures are retried with exponential
// backoff.
type Client struct {
	cfg  config.MarketDataConfig
	http *http.Client
	log  logger.Logger
}

// NewClient validates the endpoint and builds the client.
func NewClient(cfg config.MarketDataConfig, log logger.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, ErrMissingEndpoint
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log,
	}, nil
}

func setupBackoffRetry() *backoff.Backoff {
	return &backoff.Backoff{
		Min: 100 * time.Millisecond,
		Max: 1 * time.Second,
	}
}

// BarsByPeriod implements core.MarketData. Bars come back in ascending
// time order, split and dividend adjusted by the upstream.
func (c *Client) BarsByPeriod(ctx context.Context, symbol string, interval core.Interval, start, end time.Time) ([]core.Bar, error) {
	if !interval.Valid() {
		return nil, fmt.Errorf("unsupported interval %q", interval)
	}

	q := url.Values{
		"symbol":   {symbol},
		"interval": {string(interval)},
		"start":    {start.UTC().Format("2006-01-02T15:04:05")},
		"end":      {end.UTC().Format("2006-01-02T15:04:05")},
		"adjusted": {"true"},
	}

	var resp struct {
		Bars []struct {
			Time   int64       `json:"t"`
			Open   json.Number `json:"o"`
			High   json.Number `json:"h"`
			Low    json.Number `json:"l"`
			Close  json.Number `json:"c"`
			Volume json.Number `json:"v"`
		} `json:"bars"`
	}

	if err := c.do(ctx, "/v1/history?"+q.Encode(), &resp); err != nil {
		return nil, err
	}

	bars := make([]core.Bar, 0, len(resp.Bars))
	for _, item := range resp.Bars {
		bars = append(bars, core.Bar{
			Symbol: symbol,
			Time:   time.Unix(item.Time, 0).UTC(),
			Open:   numberOrZero(item.Open),
			High:   numberOrZero(item.High),
			Low:    numberOrZero(item.Low),
			Close:  numberOrZero(item.Close),
			Volume: numberOrZero(item.Volume),
		})
	}
	return bars, nil
}

// do executes one GET with retries on transport errors and 5xx responses.
func (c *Client) do(ctx context.Context, path string, out any) error {
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

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
		if err != nil {
			return fmt.Errorf("failed to build request: %w", err)
		}
		if c.cfg.APIKey != "" {
			req.Header.Set("X-Api-Key", c.cfg.APIKey)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			c.log.WithError(err).Debugf("market data GET %s failed, attempt %d", path, attempt+1)
			continue
		}

		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("market data returned status %d", resp.StatusCode)
			continue
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("market data returned status %d", resp.StatusCode)
		}

		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode market data response: %w", err)
		}
		return nil
	}

	return fmt.Errorf("market data GET %s failed after %d attempts: %w", path, maxAttempts, lastErr)
}

func numberOrZero(n json.Number) float64 {
	f, err := n.Float64()
	if err != nil {
		return 0
	}
	return f
}
