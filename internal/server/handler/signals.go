package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/vaultsignal/internal/domain"
)

// maxSignalBody caps the intake request body.
const maxSignalBody = 64 << 10

// SignalDispatcher accepts inbound signals. Accept returns once the signal
// is stored; the per-account fan-out runs on after it.
type SignalDispatcher interface {
	Accept(ctx context.Context, in domain.NewSignal) (domain.Signal, error)
}

// SignalReader lists signals and their outcomes.
type SignalReader interface {
	ListSignals(ctx context.Context, opts domain.ListOpts) ([]domain.Signal, error)
	ListForSignal(ctx context.Context, signalID string) ([]domain.AccountOutcome, error)
}

// SignalHandler serves signal intake and listing.
type SignalHandler struct {
	dispatcher SignalDispatcher
	reader     SignalReader
	logger     *slog.Logger
}

// NewSignalHandler creates a SignalHandler.
func NewSignalHandler(dispatcher SignalDispatcher, reader SignalReader, logger *slog.Logger) *SignalHandler {
	return &SignalHandler{dispatcher: dispatcher, reader: reader, logger: logger}
}

// Create stores a signal and answers 201 as soon as it is persisted. The
// outcomes appear on /api/signals/{id}/outcomes as the fan-out settles.
// POST /api/signals
func (h *SignalHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in domain.NewSignal
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSignalBody)).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	sig, err := h.dispatcher.Accept(r.Context(), in)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidSignal) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: accept signal failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to store signal")
		return
	}

	writeJSON(w, http.StatusCreated, sig)
}

// List returns signals, newest first.
// GET /api/signals?limit=50&offset=0&since=...
func (h *SignalHandler) List(w http.ResponseWriter, r *http.Request) {
	signals, err := h.reader.ListSignals(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list signals failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list signals")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"signals": emptyIfNil(signals)})
}

// ListOutcomes returns the per-account outcomes of one signal.
// GET /api/signals/{id}/outcomes
func (h *SignalHandler) ListOutcomes(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	outcomes, err := h.reader.ListForSignal(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "signal not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: list signal outcomes failed",
			slog.String("signal_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list outcomes")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"outcomes": emptyIfNil(outcomes)})
}
