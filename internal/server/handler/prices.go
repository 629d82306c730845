package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/vaultsignal/internal/domain"
)

// PriceService prices tokens and serves snapshot history.
type PriceService interface {
	GetPrice(ctx context.Context, symbol string) (domain.PriceQuote, error)
	History(ctx context.Context, symbol string, opts domain.ListOpts) ([]domain.PriceSnapshot, error)
}

// PriceHandler serves token prices.
type PriceHandler struct {
	prices PriceService
	logger *slog.Logger
}

// NewPriceHandler creates a PriceHandler.
func NewPriceHandler(prices PriceService, logger *slog.Logger) *PriceHandler {
	return &PriceHandler{prices: prices, logger: logger}
}

// Get returns the current price and one-hour change for a token.
// GET /api/token-prices/{symbol}
func (h *PriceHandler) Get(w http.ResponseWriter, r *http.Request) {
	symbol := r.PathValue("symbol")
	quote, err := h.prices.GetPrice(r.Context(), symbol)
	if err != nil {
		h.writePriceError(w, r, symbol, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

// History returns persisted snapshots for a token, newest first. Without
// since it covers the last 24 hours.
// GET /api/token-prices/{symbol}/history?since=...&limit=...
func (h *PriceHandler) History(w http.ResponseWriter, r *http.Request) {
	symbol := r.PathValue("symbol")
	opts := parseListOpts(r)
	if opts.Since == nil {
		since := time.Now().UTC().Add(-24 * time.Hour)
		opts.Since = &since
	}
	if r.URL.Query().Get("limit") == "" {
		opts.Limit = 500
	}

	snaps, err := h.prices.History(r.Context(), symbol, opts)
	if err != nil {
		h.writePriceError(w, r, symbol, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"symbol": symbol, "snapshots": emptyIfNil(snaps)})
}

func (h *PriceHandler) writePriceError(w http.ResponseWriter, r *http.Request, symbol string, err error) {
	switch {
	case errors.Is(err, domain.ErrUnknownSymbol):
		writeError(w, http.StatusBadRequest, "unknown token symbol: "+symbol)
	case errors.Is(err, domain.ErrPriceUnavailable):
		writeError(w, http.StatusBadGateway, "price unavailable")
	default:
		h.logger.ErrorContext(r.Context(), "handler: price lookup failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load price")
	}
}
