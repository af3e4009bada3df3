// Package fx fetches the JPY/USD exchange rate with a cached, best-effort
// client that falls back to a configured rate when the API is down.
package fx

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

var errMissingRate = errors.New("JPY rate missing from response")

func handleError(msg string, res *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%s: %w", msg, err)
	}
	if res.IsError() {
		return fmt.Errorf("%s: %s", msg, res.Status())
	}
	return nil
}

const (
	ApiBaseUrl = "https://open.er-api.com"

	// DefaultFallbackRate is used when the rate API cannot be reached
	// and no cached rate is available.
	DefaultFallbackRate = 150.0

	cacheTTL = time.Hour
)

type ratesResponse struct {
	Result string             `json:"result"`
	Rates  map[string]float64 `json:"rates"`
}

type ClientOpts struct {
	BaseURL      string
	FallbackRate float64
}

// Client fetches exchange rates, caching each successful fetch for an
// hour.
type Client struct {
	httpClient   *resty.Client
	fallbackRate float64

	mu        sync.Mutex
	rate      float64
	fetchedAt time.Time
}

func NewClient(opts ClientOpts) *Client {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = ApiBaseUrl
	}
	fallback := opts.FallbackRate
	if fallback == 0 {
		fallback = DefaultFallbackRate
	}
	return &Client{
		httpClient:   resty.New().SetBaseURL(baseURL),
		fallbackRate: fallback,
	}
}

// JPYPerUSD returns the current JPY per USD rate. It never fails: when
// the API is unreachable it returns the last cached rate, and failing
// that the configured fallback.
func (c *Client) JPYPerUSD(ctx context.Context) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.rate > 0 && time.Since(c.fetchedAt) < cacheTTL {
		return c.rate
	}

	rate, err := c.fetch(ctx)
	if err != nil {
		log.Warn().Err(err).Float64("fallback", c.fallbackRate).Msg("Exchange rate fetch failed")
		if c.rate > 0 {
			return c.rate
		}
		return c.fallbackRate
	}

	c.rate = rate
	c.fetchedAt = time.Now()
	return rate
}

func (c *Client) fetch(ctx context.Context) (float64, error) {
	var body ratesResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetResult(&body).
		Get("/v6/latest/USD")
	if err := handleError("exchange rate request failed", resp, err); err != nil {
		return 0, err
	}

	rate, ok := body.Rates["JPY"]
	if !ok || rate <= 0 {
		return 0, errMissingRate
	}
	return rate, nil
}
