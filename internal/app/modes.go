package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/vaultsignal/internal/executor"
	"github.com/alanyoungcy/vaultsignal/internal/scheduler"
	"github.com/alanyoungcy/vaultsignal/internal/server"
	"github.com/alanyoungcy/vaultsignal/internal/server/handler"
	"github.com/alanyoungcy/vaultsignal/internal/server/ws"
)

// shutdownTimeout bounds the HTTP drain on shutdown.
const shutdownTimeout = 10 * time.Second

// APIMode serves the HTTP API and WebSocket feed. Signals posted to the API
// are dispatched in-process.
func (a *App) APIMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting api mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	a.drainOnShutdown(ctx, g, deps)
	return g.Wait()
}

// WorkerMode consumes the inbound signal stream and runs the scheduled
// price refresh and archive jobs.
func (a *App) WorkerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting worker mode")
	g, ctx := errgroup.WithContext(ctx)
	if err := a.startWorkers(ctx, g, deps); err != nil {
		return err
	}
	a.drainOnShutdown(ctx, g, deps)
	return g.Wait()
}

// FullMode runs the API and the workers in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")
	g, ctx := errgroup.WithContext(ctx)
	if err := a.startWorkers(ctx, g, deps); err != nil {
		return err
	}
	a.startHTTPServer(ctx, g, deps)
	a.drainOnShutdown(ctx, g, deps)
	return g.Wait()
}

// drainOnShutdown holds shutdown until accepted signals finish their
// fan-out, bounded by dispatch.drain_timeout.
func (a *App) drainOnShutdown(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	g.Go(func() error {
		<-ctx.Done()
		drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Dispatch.DrainTimeout.Duration)
		defer cancel()
		if err := deps.Dispatcher.Drain(drainCtx); err != nil {
			a.logger.Warn("stopping with fan-outs still running", slog.String("error", err.Error()))
		}
		return nil
	})
}

func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if !a.cfg.Server.Enabled {
		a.logger.InfoContext(ctx, "HTTP server disabled")
		return
	}

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: a.startedAt,
	})
	g.Go(func() error {
		err := hub.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(deps.HealthChecks, a.logger),
		Status: &handler.StatusHandler{
			Mode:        a.cfg.Mode,
			ChainID:     a.cfg.Chain.ChainID,
			QuoteSymbol: a.cfg.Dispatch.QuoteSymbol,
			Tokens:      deps.Tokens.Symbols(),
			StartedAt:   a.startedAt,
		},
		Signals:  handler.NewSignalHandler(deps.Dispatcher, deps.Outcomes, a.logger),
		Outcomes: handler.NewOutcomeHandler(deps.Outcomes, a.logger),
		Prices:   handler.NewPriceHandler(deps.Oracle, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:             a.cfg.Server.Port,
		CORSOrigins:      a.cfg.Server.CORSOrigins,
		APIKey:           a.cfg.Server.APIKey,
		IntakeRateLimit:  a.cfg.Server.IntakeRateLimit,
		IntakeRateWindow: a.cfg.Server.IntakeRateWindow.Duration,
	}, handlers, hub, deps.RateLimiter,
		promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}),
		a.logger,
	)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

func (a *App) startWorkers(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	if a.cfg.Intake.StreamEnabled {
		consumer := executor.NewStreamConsumer(deps.SignalBus, deps.Dispatcher, deps.LockManager, executor.Config{
			Stream:    a.cfg.Intake.Stream,
			Group:     a.cfg.Intake.Group,
			Consumer:  a.cfg.Intake.Consumer,
			BatchSize: a.cfg.Intake.BatchSize,
			Block:     a.cfg.Intake.Block.Duration,
			DedupTTL:  a.cfg.Intake.DedupTTL.Duration,
		}, deps.Metrics, a.logger)
		g.Go(func() error { return consumer.Run(ctx) })
	} else {
		a.logger.InfoContext(ctx, "stream intake disabled")
	}

	runner := scheduler.New(a.logger)
	if a.cfg.Price.RefreshEnabled {
		if err := runner.Add("price_refresh", a.cfg.Price.RefreshCron, scheduler.RefreshPrices(deps.Refresher)); err != nil {
			return err
		}
	}
	if deps.Archiver != nil {
		retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour
		job := scheduler.ArchiveOlderThan(deps.Archiver, retention, func() time.Time { return time.Now().UTC() })
		if err := runner.Add("archive", a.cfg.Archive.Cron, job); err != nil {
			return err
		}
		a.logger.InfoContext(ctx, "archive job scheduled",
			slog.String("cron", a.cfg.Archive.Cron),
			slog.Int("retention_days", a.cfg.Archive.RetentionDays),
		)
	}
	g.Go(func() error { return runner.Run(ctx) })
	return nil
}
