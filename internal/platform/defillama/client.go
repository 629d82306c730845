// Package defillama is a client for the DefiLlama coins API, the service's
// price provider.
package defillama

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/time/rate"
)

// Config configures the client.
type Config struct {
	BaseURL     string
	ChainPrefix string
	Span        int
	Period      string
	Timeout     time.Duration
	RatePerSec  float64
	Burst       int
}

// Client fetches historical price charts. Calls are throttled by a shared
// token bucket so concurrent dispatch units cannot burst the provider.
type Client struct {
	BaseURL     string
	ChainPrefix string
	Span        int
	Period      string
	HTTP        *http.Client

	limiter *rate.Limiter
}

// NewClient creates a Client, filling unset fields with the public endpoint
// defaults (Base chain, 2 points one hour apart).
func NewClient(cfg Config) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://coins.llama.fi"
	}
	prefix := cfg.ChainPrefix
	if prefix == "" {
		prefix = "base"
	}
	span := cfg.Span
	if span < 2 {
		span = 2
	}
	period := cfg.Period
	if period == "" {
		period = "1h"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	return &Client{
		BaseURL:     baseURL,
		ChainPrefix: prefix,
		Span:        span,
		Period:      period,
		HTTP:        &http.Client{Timeout: timeout},
		limiter:     rate.NewLimiter(limit, burst),
	}
}

// HTTPError is a non-2xx provider response.
type HTTPError struct {
	StatusCode int
	Body       []byte
}

func (e *HTTPError) Error() string {
	b := strings.TrimSpace(string(e.Body))
	if b == "" {
		return fmt.Sprintf("defillama http %d", e.StatusCode)
	}
	return fmt.Sprintf("defillama http %d: %s", e.StatusCode, b)
}

// PricePoint is one chart sample.
type PricePoint struct {
	Timestamp int64   `json:"timestamp"`
	Price     float64 `json:"price"`
}

type chartResponse struct {
	Coins map[string]struct {
		Symbol     string       `json:"symbol"`
		Decimals   int          `json:"decimals"`
		Confidence float64      `json:"confidence"`
		Prices     []PricePoint `json:"prices"`
	} `json:"coins"`
}

// Chart returns the price series for token ending at end, oldest first.
func (c *Client) Chart(ctx context.Context, token common.Address, end time.Time) ([]PricePoint, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("defillama: rate limit: %w", err)
	}

	key := c.ChainPrefix + ":" + token.Hex()
	q := url.Values{}
	q.Set("span", strconv.Itoa(c.Span))
	q.Set("period", c.Period)
	q.Set("end", strconv.FormatInt(end.Unix(), 10))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/chart/"+key+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("defillama: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("defillama: chart %s: %w", key, err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("defillama: read response: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, &HTTPError{StatusCode: res.StatusCode, Body: body}
	}

	var out chartResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("defillama: decode chart %s: %w", key, err)
	}

	// The provider echoes the key with whatever address casing it stores.
	for k, coin := range out.Coins {
		if strings.EqualFold(k, key) {
			return coin.Prices, nil
		}
	}
	return nil, fmt.Errorf("defillama: chart %s: coin missing from response", key)
}
