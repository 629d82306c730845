package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/vaultsignal/internal/domain"
)

// OutcomeService reads and reviews account outcomes.
type OutcomeService interface {
	ListForAddress(ctx context.Context, address string, unreviewedOnly bool, opts domain.ListOpts) ([]domain.AccountOutcome, error)
	MarkReviewed(ctx context.Context, id string) (domain.AccountOutcome, error)
}

// OutcomeHandler serves an account's outcome inbox.
type OutcomeHandler struct {
	outcomes OutcomeService
	logger   *slog.Logger
}

// NewOutcomeHandler creates an OutcomeHandler.
func NewOutcomeHandler(outcomes OutcomeService, logger *slog.Logger) *OutcomeHandler {
	return &OutcomeHandler{outcomes: outcomes, logger: logger}
}

// List returns an account's outcomes; unreviewed=true limits it to unread.
// GET /api/outcomes?address=0x...&unreviewed=true
func (h *OutcomeHandler) List(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("address")
	if !common.IsHexAddress(address) {
		writeError(w, http.StatusBadRequest, "address query parameter must be a hex address")
		return
	}
	unreviewed, _ := strconv.ParseBool(r.URL.Query().Get("unreviewed"))

	outcomes, err := h.outcomes.ListForAddress(r.Context(), address, unreviewed, parseListOpts(r))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "account not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: list outcomes failed",
			slog.String("address", address),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list outcomes")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"outcomes": emptyIfNil(outcomes)})
}

// Review marks one outcome as read.
// POST /api/outcomes/{id}/review
func (h *OutcomeHandler) Review(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	outcome, err := h.outcomes.MarkReviewed(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "outcome not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: review outcome failed",
			slog.String("outcome_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to review outcome")
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}
