package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/vaultsignal/internal/domain"
	"github.com/alanyoungcy/vaultsignal/internal/server/handler"
	"github.com/alanyoungcy/vaultsignal/internal/server/middleware"
	"github.com/alanyoungcy/vaultsignal/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // empty disables authentication

	// IntakeRateLimit caps POST /api/signals per client IP per
	// IntakeRateWindow. Zero disables the limit.
	IntakeRateLimit  int
	IntakeRateWindow time.Duration
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Health   *handler.HealthHandler
	Status   *handler.StatusHandler
	Signals  *handler.SignalHandler
	Outcomes *handler.OutcomeHandler
	Prices   *handler.PriceHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with every route registered. hub, limiter and
// metrics may be nil.
func NewServer(cfg Config, handlers Handlers, hub *ws.Hub, limiter domain.RateLimiter, metrics http.Handler, logger *slog.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      NewRouter(cfg, handlers, hub, limiter, metrics, logger),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// NewRouter builds the routed and middleware-wrapped handler.
func NewRouter(cfg Config, handlers Handlers, hub *ws.Hub, limiter domain.RateLimiter, metrics http.Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	intakeLimit := middleware.RateLimit(limiter, "intake", cfg.IntakeRateLimit, cfg.IntakeRateWindow, logger)
	mux.Handle("POST /api/signals", intakeLimit(http.HandlerFunc(handlers.Signals.Create)))
	mux.HandleFunc("GET /api/signals", handlers.Signals.List)
	mux.HandleFunc("GET /api/signals/{id}/outcomes", handlers.Signals.ListOutcomes)

	mux.HandleFunc("GET /api/outcomes", handlers.Outcomes.List)
	mux.HandleFunc("POST /api/outcomes/{id}/review", handlers.Outcomes.Review)

	mux.HandleFunc("GET /api/token-prices/{symbol}", handlers.Prices.Get)
	mux.HandleFunc("GET /api/token-prices/{symbol}/history", handlers.Prices.History)

	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}
	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, "/api/health", "/metrics")(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start listens until the server fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
