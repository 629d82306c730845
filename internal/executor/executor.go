// Package executor consumes inbound signals from the Redis stream through a
// consumer group and hands each one to the dispatcher exactly once per
// source event. An entry is acknowledged only once its outcome is final.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/alanyoungcy/vaultsignal/internal/domain"
	"github.com/alanyoungcy/vaultsignal/internal/metrics"
)

// Dispatcher is implemented by service.Dispatcher. Accept returns once the
// signal is stored and runs the fan-out in the background.
type Dispatcher interface {
	Accept(ctx context.Context, in domain.NewSignal) (domain.Signal, error)
}

// Config tunes the consumer.
type Config struct {
	Stream string
	Group  string
	// Consumer names this process in Group; it defaults to the hostname.
	Consumer  string
	BatchSize int
	Block     time.Duration
	DedupTTL  time.Duration
	// StartID is where a newly created group starts; "$" skips entries
	// already in the stream. It has no effect on an existing group.
	StartID string
}

// Intake results, used as metric labels.
const (
	ResultDispatched = "dispatched"
	ResultDuplicate  = "duplicate"
	ResultMalformed  = "malformed"
	ResultInvalid    = "invalid"
	ResultFailed     = "failed"
)

// StreamConsumer reads the inbound stream and dispatches each signal. An
// event id is claimed locally and, when a LockManager is set, across
// replicas for the dedup TTL.
type StreamConsumer struct {
	bus        domain.SignalBus
	dispatcher Dispatcher
	locks      domain.LockManager
	dedup      *Dedup
	cfg        Config
	metrics    *metrics.Recorder
	logger     *slog.Logger

	cleanupInterval time.Duration
	retryDelay      time.Duration
}

// NewStreamConsumer creates a StreamConsumer. locks and rec may be nil.
func NewStreamConsumer(bus domain.SignalBus, dispatcher Dispatcher, locks domain.LockManager, cfg Config, rec *metrics.Recorder, logger *slog.Logger) *StreamConsumer {
	if cfg.Stream == "" {
		cfg.Stream = domain.StreamInbound
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 16
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = 10 * time.Minute
	}
	if cfg.StartID == "" {
		cfg.StartID = "$"
	}
	if cfg.Group == "" {
		cfg.Group = "vaultsignal"
	}
	if cfg.Consumer == "" {
		cfg.Consumer, _ = os.Hostname()
		if cfg.Consumer == "" {
			cfg.Consumer = "vaultsignal"
		}
	}
	log := logger.With(
		slog.String("component", "stream_consumer"),
		slog.String("stream", cfg.Stream),
		slog.String("group", cfg.Group),
		slog.String("consumer", cfg.Consumer),
	)
	return &StreamConsumer{
		bus:             bus,
		dispatcher:      dispatcher,
		locks:           locks,
		dedup:           NewDedup(cfg.DedupTTL),
		cfg:             cfg,
		metrics:         rec,
		logger:          log,
		cleanupInterval: time.Minute,
		retryDelay:      time.Second,
	}
}

// Run consumes the stream until ctx is cancelled. The consumer's own
// pending entries are replayed first, on start and after any entry whose
// signal could not be stored; everything else is acknowledged once
// processed.
func (c *StreamConsumer) Run(ctx context.Context) error {
	if err := c.bus.GroupCreate(ctx, c.cfg.Stream, c.cfg.Group, c.cfg.StartID); err != nil {
		return fmt.Errorf("executor: %w", err)
	}
	c.logger.Info("stream consumer started")
	defer c.logger.Info("stream consumer stopped")

	backlog := true
	lastCleanup := time.Now()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if time.Since(lastCleanup) >= c.cleanupInterval {
			c.dedup.Cleanup()
			lastCleanup = time.Now()
		}

		id := ">"
		if backlog {
			id = "0"
		}
		msgs, err := c.bus.GroupRead(ctx, c.cfg.Stream, c.cfg.Group, c.cfg.Consumer, id, c.cfg.BatchSize, c.cfg.Block)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.WarnContext(ctx, "stream read failed", slog.String("error", err.Error()))
			if err := c.pause(ctx); err != nil {
				return err
			}
			continue
		}
		if backlog && len(msgs) == 0 {
			backlog = false
			continue
		}
		if len(msgs) == 0 && c.cfg.Block <= 0 {
			// Non-blocking reads would otherwise spin.
			if err := c.pause(ctx); err != nil {
				return err
			}
			continue
		}

		retry := false
		for _, msg := range msgs {
			result := c.process(ctx, msg)
			c.metrics.RecordIntake(result)
			if result == ResultFailed {
				retry = true
				continue
			}
			c.ack(ctx, msg.ID)
		}
		if retry {
			backlog = true
			if err := c.pause(ctx); err != nil {
				return err
			}
		}
	}
}

func (c *StreamConsumer) ack(ctx context.Context, id string) {
	// Acknowledge even during shutdown: the entry's outcome is already final.
	if err := c.bus.Ack(context.WithoutCancel(ctx), c.cfg.Stream, c.cfg.Group, id); err != nil {
		c.logger.WarnContext(ctx, "stream ack failed",
			slog.String("entry_id", id),
			slog.String("error", err.Error()),
		)
	}
}

func (c *StreamConsumer) pause(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.retryDelay):
		return nil
	}
}

// process decodes and dispatches one stream entry and returns its result.
// Only ResultFailed leaves the entry for redelivery. An entry already being
// processed runs to completion when shutdown begins.
func (c *StreamConsumer) process(ctx context.Context, msg domain.StreamMessage) string {
	ctx = context.WithoutCancel(ctx)
	log := c.logger.With(slog.String("entry_id", msg.ID))

	var in domain.NewSignal
	if err := json.Unmarshal(msg.Payload, &in); err != nil {
		log.WarnContext(ctx, "malformed stream entry", slog.String("error", err.Error()))
		return ResultMalformed
	}
	if in.EventID == nil {
		log.WarnContext(ctx, "signal without event id")
		return ResultInvalid
	}

	eventID := *in.EventID
	log = log.With(slog.Int64("event_id", eventID))

	if !c.dedup.Claim(eventID) {
		log.DebugContext(ctx, "duplicate event, skipping")
		return ResultDuplicate
	}

	var unlock func()
	if c.locks != nil {
		var err error
		unlock, err = c.locks.Acquire(ctx, "intake:event:"+strconv.FormatInt(eventID, 10), c.cfg.DedupTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			log.DebugContext(ctx, "event claimed by another replica")
			return ResultDuplicate
		}
		if err != nil {
			// Fall back to local dedup only.
			log.WarnContext(ctx, "event lock unavailable", slog.String("error", err.Error()))
			unlock = nil
		}
	}

	sig, err := c.dispatcher.Accept(ctx, in)
	if err != nil {
		// Nothing was stored: let a redelivery or a corrected resend through.
		c.dedup.Release(eventID)
		if unlock != nil {
			unlock()
		}
		if errors.Is(err, domain.ErrInvalidSignal) {
			log.WarnContext(ctx, "invalid signal", slog.String("error", err.Error()))
			return ResultInvalid
		}
		log.ErrorContext(ctx, "signal not stored, will retry", slog.String("error", err.Error()))
		return ResultFailed
	}

	// The lock is left to expire so replicas skip this event for the TTL.
	log.InfoContext(ctx, "stream signal accepted", slog.String("signal_id", sig.ID))
	return ResultDispatched
}
