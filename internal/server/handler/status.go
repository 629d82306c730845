package handler

import (
	"net/http"
	"time"
)

// StatusHandler reports the running configuration for operators.
type StatusHandler struct {
	Mode        string
	ChainID     int64
	QuoteSymbol string
	Tokens      []string
	StartedAt   time.Time
}

// GetStatus responds with mode, chain, quote currency and registered tokens.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.Mode,
		"chain_id":       h.ChainID,
		"quote_symbol":   h.QuoteSymbol,
		"tokens":         emptyIfNil(h.Tokens),
		"uptime_seconds": int64(time.Since(h.StartedAt).Seconds()),
	})
}
