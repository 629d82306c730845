// Package scheduler runs the periodic jobs: price refresh and archival.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is a scheduled unit of work.
type Job func(ctx context.Context) error

// Runner wraps a cron scheduler whose jobs share the context passed to Run.
// Overlapping runs of the same job are skipped.
type Runner struct {
	cron   *cron.Cron
	logger *slog.Logger
	ctx    context.Context
	jobs   int
}

// New creates a Runner using standard five-field cron expressions.
func New(logger *slog.Logger) *Runner {
	l := logger.With(slog.String("component", "scheduler"))
	return &Runner{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.Recover(cronLogger{l}), cron.SkipIfStillRunning(cronLogger{l})),
		),
		logger: l,
		ctx:    context.Background(),
	}
}

// Add registers job under name on spec.
func (r *Runner) Add(name, spec string, job Job) error {
	_, err := r.cron.AddFunc(spec, func() {
		start := time.Now()
		if err := job(r.ctx); err != nil {
			r.logger.ErrorContext(r.ctx, "job failed",
				slog.String("job", name),
				slog.String("error", err.Error()),
			)
			return
		}
		r.logger.InfoContext(r.ctx, "job done",
			slog.String("job", name),
			slog.Duration("took", time.Since(start)),
		)
	})
	if err != nil {
		return fmt.Errorf("scheduler: add %s %q: %w", name, spec, err)
	}
	r.jobs++
	return nil
}

// Run starts the scheduler and blocks until ctx ends, then waits for running
// jobs to finish.
func (r *Runner) Run(ctx context.Context) error {
	r.ctx = ctx
	r.cron.Start()
	r.logger.Info("scheduler started", slog.Int("jobs", r.jobs))

	<-ctx.Done()
	<-r.cron.Stop().Done()
	r.logger.Info("scheduler stopped")
	return nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(msg, append([]any{slog.String("error", err.Error())}, keysAndValues...)...)
}
