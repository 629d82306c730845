// Package zeroex is a client for the 0x Swap API v2 (allowance-holder flow),
// the service's swap-quote provider.
package zeroex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"golang.org/x/time/rate"
)

// Config configures the client.
type Config struct {
	BaseURL    string
	APIKey     string
	ChainID    int64
	Timeout    time.Duration
	RatePerSec float64
	Burst      int
}

// Client requests executable swap quotes.
type Client struct {
	BaseURL string
	APIKey  string
	ChainID int64
	HTTP    *http.Client

	limiter *rate.Limiter
}

// NewClient creates a Client.
func NewClient(cfg Config) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.0x.org"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
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
		BaseURL: baseURL,
		APIKey:  strings.TrimSpace(cfg.APIKey),
		ChainID: cfg.ChainID,
		HTTP:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, burst),
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
		return fmt.Sprintf("0x http %d", e.StatusCode)
	}
	return fmt.Sprintf("0x http %d: %s", e.StatusCode, b)
}

// ErrNoLiquidity is returned when the provider reports no route for the pair.
var ErrNoLiquidity = errors.New("zeroex: no liquidity available")

// QuoteRequest is a sell-side quote request.
type QuoteRequest struct {
	SellToken  common.Address
	BuyToken   common.Address
	SellAmount *big.Int
	Taker      common.Address
}

// Transaction is the call the taker must make to perform the swap.
type Transaction struct {
	To    common.Address
	Data  []byte
	Value *big.Int
	Gas   uint64
}

// Quote is the decoded quote.
type Quote struct {
	BuyAmount    *big.Int
	MinBuyAmount *big.Int
	Transaction  Transaction
	// AllowanceTarget is the spender the taker must approve, when the
	// provider reports one.
	AllowanceTarget common.Address
}

type quoteResponse struct {
	LiquidityAvailable *bool  `json:"liquidityAvailable"`
	BuyAmount          string `json:"buyAmount"`
	MinBuyAmount       string `json:"minBuyAmount"`
	Transaction        struct {
		To    string `json:"to"`
		Data  string `json:"data"`
		Value string `json:"value"`
		Gas   string `json:"gas"`
	} `json:"transaction"`
	Issues struct {
		Allowance *struct {
			Spender string `json:"spender"`
		} `json:"allowance"`
	} `json:"issues"`
}

// Quote fetches an allowance-holder quote.
func (c *Client) Quote(ctx context.Context, req QuoteRequest) (Quote, error) {
	if req.SellAmount == nil || req.SellAmount.Sign() <= 0 {
		return Quote{}, fmt.Errorf("zeroex: sellAmount must be positive")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return Quote{}, fmt.Errorf("zeroex: rate limit: %w", err)
	}

	q := url.Values{}
	q.Set("chainId", strconv.FormatInt(c.ChainID, 10))
	q.Set("sellToken", req.SellToken.Hex())
	q.Set("buyToken", req.BuyToken.Hex())
	q.Set("sellAmount", req.SellAmount.String())
	q.Set("taker", req.Taker.Hex())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.BaseURL+"/swap/allowance-holder/quote?"+q.Encode(), nil)
	if err != nil {
		return Quote{}, fmt.Errorf("zeroex: create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("0x-version", "v2")
	if c.APIKey != "" {
		httpReq.Header.Set("0x-api-key", c.APIKey)
	}

	res, err := c.HTTP.Do(httpReq)
	if err != nil {
		return Quote{}, fmt.Errorf("zeroex: quote: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return Quote{}, fmt.Errorf("zeroex: read response: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return Quote{}, &HTTPError{StatusCode: res.StatusCode, Body: body}
	}

	var raw quoteResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return Quote{}, fmt.Errorf("zeroex: decode quote: %w", err)
	}
	return raw.decode()
}

func (r quoteResponse) decode() (Quote, error) {
	if r.LiquidityAvailable != nil && !*r.LiquidityAvailable {
		return Quote{}, ErrNoLiquidity
	}
	if !common.IsHexAddress(r.Transaction.To) {
		return Quote{}, fmt.Errorf("zeroex: quote has no transaction target")
	}
	data, err := hexutil.Decode(r.Transaction.Data)
	if err != nil {
		return Quote{}, fmt.Errorf("zeroex: decode transaction data: %w", err)
	}

	out := Quote{
		BuyAmount:    parseBig(r.BuyAmount),
		MinBuyAmount: parseBig(r.MinBuyAmount),
		Transaction: Transaction{
			To:    common.HexToAddress(r.Transaction.To),
			Data:  data,
			Value: parseBig(r.Transaction.Value),
		},
	}
	if gas, err := strconv.ParseUint(r.Transaction.Gas, 10, 64); err == nil {
		out.Transaction.Gas = gas
	}
	if r.Issues.Allowance != nil && common.IsHexAddress(r.Issues.Allowance.Spender) {
		out.AllowanceTarget = common.HexToAddress(r.Issues.Allowance.Spender)
	}
	return out, nil
}

// parseBig parses a decimal integer string, treating empty or malformed
// input as zero.
func parseBig(s string) *big.Int {
	n, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		return new(big.Int)
	}
	return n
}
