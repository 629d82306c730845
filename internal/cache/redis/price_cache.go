package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/vaultsignal/internal/domain"
)

// PriceCache implements domain.PriceCache with one hash per symbol at
// "price:{SYMBOL}" holding price, change and ts (unix nanos). Entries expire
// after ttl so a stalled refresher cannot serve stale prices forever.
type PriceCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewPriceCache creates a PriceCache. ttl <= 0 disables expiry.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	return &PriceCache{rdb: c.Underlying(), ttl: ttl}
}

func priceKey(symbol string) string {
	return "price:" + strings.ToUpper(symbol)
}

// SetQuote stores q as the latest quote for its symbol.
func (pc *PriceCache) SetQuote(ctx context.Context, q domain.PriceQuote) error {
	key := priceKey(q.Symbol)
	fields := map[string]any{
		"price":  strconv.FormatFloat(q.Price, 'f', -1, 64),
		"change": strconv.FormatFloat(q.ChangePct, 'f', -1, 64),
		"ts":     strconv.FormatInt(q.ObservedAt.UnixNano(), 10),
	}

	pipe := pc.rdb.TxPipeline()
	pipe.HSet(ctx, key, fields)
	if pc.ttl > 0 {
		pipe.Expire(ctx, key, pc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", q.Symbol, err)
	}
	return nil
}

// GetQuote returns the cached quote or domain.ErrNotFound.
func (pc *PriceCache) GetQuote(ctx context.Context, symbol string) (domain.PriceQuote, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(symbol)).Result()
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("redis: get quote %s: %w", symbol, err)
	}
	q, err := parseQuote(symbol, vals)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.PriceQuote{}, err
		}
		return domain.PriceQuote{}, fmt.Errorf("redis: get quote %s: %w", symbol, err)
	}
	return q, nil
}

// GetQuotes fetches several symbols in one pipeline. Missing or malformed
// entries are omitted.
func (pc *PriceCache) GetQuotes(ctx context.Context, symbols []string) (map[string]domain.PriceQuote, error) {
	result := make(map[string]domain.PriceQuote, len(symbols))
	if len(symbols) == 0 {
		return result, nil
	}

	pipe := pc.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(symbols))
	for _, sym := range symbols {
		cmds[sym] = pipe.HGetAll(ctx, priceKey(sym))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get quotes pipeline: %w", err)
	}

	for sym, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil {
			continue
		}
		if q, err := parseQuote(sym, vals); err == nil {
			result[sym] = q
		}
	}
	return result, nil
}

func parseQuote(symbol string, vals map[string]string) (domain.PriceQuote, error) {
	priceStr, ok := vals["price"]
	if !ok {
		return domain.PriceQuote{}, domain.ErrNotFound
	}
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("parse price: %w", err)
	}
	change, _ := strconv.ParseFloat(vals["change"], 64)
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("parse ts: %w", err)
	}
	return domain.PriceQuote{
		Symbol:     strings.ToUpper(symbol),
		Price:      price,
		ChangePct:  change,
		ObservedAt: time.Unix(0, tsNano).UTC(),
	}, nil
}

var _ domain.PriceCache = (*PriceCache)(nil)
