package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/vaultsignal/internal/domain"
)

// PriceRefresher fetches every registered token's price so snapshots stay
// current between dispatches.
type PriceRefresher struct {
	oracle *PriceOracle
	logger *slog.Logger
}

// NewPriceRefresher creates a PriceRefresher.
func NewPriceRefresher(oracle *PriceOracle, logger *slog.Logger) *PriceRefresher {
	return &PriceRefresher{
		oracle: oracle,
		logger: logger.With(slog.String("component", "price_refresher")),
	}
}

// RefreshAll prices each registered token in turn. A failed token is logged
// and skipped. It returns the quotes that succeeded.
func (r *PriceRefresher) RefreshAll(ctx context.Context) []domain.PriceQuote {
	start := time.Now()
	symbols := r.oracle.Tokens().Symbols()
	quotes := make([]domain.PriceQuote, 0, len(symbols))
	for _, sym := range symbols {
		if ctx.Err() != nil {
			break
		}
		q, err := r.oracle.GetPrice(ctx, sym)
		if err != nil {
			r.logger.WarnContext(ctx, "price refresh failed",
				slog.String("symbol", sym),
				slog.String("error", err.Error()),
			)
			continue
		}
		quotes = append(quotes, q)
	}
	r.logger.InfoContext(ctx, "prices refreshed",
		slog.Int("ok", len(quotes)),
		slog.Int("tokens", len(symbols)),
		slog.Duration("took", time.Since(start)),
	)
	return quotes
}
