package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/vaultsignal/internal/domain"
	"github.com/alanyoungcy/vaultsignal/internal/metrics"
	"github.com/alanyoungcy/vaultsignal/internal/platform/defillama"
)

// PriceProvider returns a token's price series ending at end, oldest first.
type PriceProvider interface {
	Chart(ctx context.Context, token common.Address, end time.Time) ([]defillama.PricePoint, error)
}

// PriceOracleConfig tunes the oracle.
type PriceOracleConfig struct {
	// SnapshotWindow is the minimum spacing of persisted snapshots per symbol.
	SnapshotWindow time.Duration
}

// PriceOracle resolves token prices and their one-hour change from the price
// provider, persisting at most one snapshot per symbol per window.
type PriceOracle struct {
	tokens    domain.TokenTable
	fallback  domain.FallbackTable
	provider  PriceProvider
	snapshots domain.SnapshotStore
	cache     domain.PriceCache
	bus       domain.SignalBus
	metrics   *metrics.Recorder
	window    time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// NewPriceOracle creates a PriceOracle. cache, bus and rec may be nil.
func NewPriceOracle(
	tokens domain.TokenTable,
	fallback domain.FallbackTable,
	provider PriceProvider,
	snapshots domain.SnapshotStore,
	cache domain.PriceCache,
	bus domain.SignalBus,
	rec *metrics.Recorder,
	cfg PriceOracleConfig,
	logger *slog.Logger,
) *PriceOracle {
	window := cfg.SnapshotWindow
	if window <= time.Second {
		window = 5 * time.Minute
	}
	return &PriceOracle{
		tokens:    tokens,
		fallback:  fallback,
		provider:  provider,
		snapshots: snapshots,
		cache:     cache,
		bus:       bus,
		metrics:   rec,
		window:    window,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger.With(slog.String("component", "price_oracle")),
	}
}

// Tokens returns the registered token table.
func (o *PriceOracle) Tokens() domain.TokenTable {
	return o.tokens
}

// GetPrice fetches the current price of symbol and its percentage change
// over the provider's look-back span. It fails with domain.ErrUnknownSymbol
// for unregistered symbols and domain.ErrPriceUnavailable when the provider
// cannot produce two usable points. The returned quote is always freshly
// computed; persistence of a snapshot is skipped when one is already recent.
func (o *PriceOracle) GetPrice(ctx context.Context, symbol string) (domain.PriceQuote, error) {
	token, err := o.tokens.Lookup(symbol)
	if err != nil {
		return domain.PriceQuote{}, err
	}

	now := o.now()
	start := time.Now()
	points, err := o.provider.Chart(ctx, token.Address, now)
	o.metrics.RecordProviderCall("defillama", err, time.Since(start))
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("price_oracle: %s: %w: %w", token.Symbol, domain.ErrPriceUnavailable, err)
	}
	if len(points) < 2 {
		return domain.PriceQuote{}, fmt.Errorf("price_oracle: %s: %w: %d price points", token.Symbol, domain.ErrPriceUnavailable, len(points))
	}

	earlier := points[0].Price
	recent := points[len(points)-1].Price
	if earlier <= 0 || recent <= 0 {
		return domain.PriceQuote{}, fmt.Errorf("price_oracle: %s: %w: non-positive price", token.Symbol, domain.ErrPriceUnavailable)
	}

	quote := domain.PriceQuote{
		Symbol:     token.Symbol,
		Price:      recent,
		ChangePct:  (recent - earlier) / earlier * 100,
		ObservedAt: now,
	}
	o.record(ctx, quote)
	return quote, nil
}

// record persists the snapshot, refreshes the cache and announces the price.
// Failures here are logged and never fail the lookup.
func (o *PriceOracle) record(ctx context.Context, quote domain.PriceQuote) {
	o.metrics.RecordPrice(quote.Symbol, quote.Price)

	inserted, err := o.snapshots.InsertIfAbsent(ctx, quote.Snapshot(), o.window-time.Second)
	if err != nil {
		o.logger.WarnContext(ctx, "snapshot write failed",
			slog.String("symbol", quote.Symbol),
			slog.String("error", err.Error()),
		)
	}

	if o.cache != nil {
		if err := o.cache.SetQuote(ctx, quote); err != nil {
			o.logger.WarnContext(ctx, "price cache write failed",
				slog.String("symbol", quote.Symbol),
				slog.String("error", err.Error()),
			)
		}
	}

	if inserted && o.bus != nil {
		payload, _ := json.Marshal(quote)
		if err := o.bus.Publish(ctx, domain.ChannelPrices, payload); err != nil {
			o.logger.WarnContext(ctx, "publish price failed",
				slog.String("symbol", quote.Symbol),
				slog.String("error", err.Error()),
			)
		}
	}
}

// PriceOrFallback is GetPrice with the fallback table applied: when the
// provider cannot price symbol, or symbol is not a registered token, the
// configured fallback constant is returned instead. Without a fallback the
// original error propagates.
func (o *PriceOracle) PriceOrFallback(ctx context.Context, symbol string) (domain.PriceQuote, error) {
	quote, err := o.GetPrice(ctx, symbol)
	if err == nil {
		return quote, nil
	}
	if !errors.Is(err, domain.ErrPriceUnavailable) && !errors.Is(err, domain.ErrUnknownSymbol) {
		return domain.PriceQuote{}, err
	}

	price, ok := o.fallback.Price(symbol)
	if !ok {
		return domain.PriceQuote{}, err
	}
	o.logger.WarnContext(ctx, "using fallback price",
		slog.String("symbol", symbol),
		slog.Float64("price", price),
		slog.String("error", err.Error()),
	)
	return domain.PriceQuote{
		Symbol:     symbol,
		Price:      price,
		ObservedAt: o.now(),
		Fallback:   true,
	}, nil
}

// CachedQuote returns the last quote written to the price cache, falling back
// to the newest persisted snapshot.
func (o *PriceOracle) CachedQuote(ctx context.Context, symbol string) (domain.PriceQuote, error) {
	token, err := o.tokens.Lookup(symbol)
	if err != nil {
		return domain.PriceQuote{}, err
	}
	if o.cache != nil {
		if q, err := o.cache.GetQuote(ctx, token.Symbol); err == nil {
			return q, nil
		}
	}
	snap, err := o.snapshots.Latest(ctx, token.Symbol)
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("price_oracle: cached %s: %w", token.Symbol, err)
	}
	return domain.PriceQuote{
		Symbol:     snap.Symbol,
		Price:      snap.Price,
		ChangePct:  snap.ChangePct,
		ObservedAt: snap.ObservedAt,
	}, nil
}

// History returns persisted snapshots for symbol, newest first.
func (o *PriceOracle) History(ctx context.Context, symbol string, opts domain.ListOpts) ([]domain.PriceSnapshot, error) {
	token, err := o.tokens.Lookup(symbol)
	if err != nil {
		return nil, err
	}
	snaps, err := o.snapshots.ListBySymbol(ctx, token.Symbol, opts)
	if err != nil {
		return nil, fmt.Errorf("price_oracle: history %s: %w", token.Symbol, err)
	}
	return snaps, nil
}
