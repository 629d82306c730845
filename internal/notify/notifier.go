// Package notify forwards swap outcomes to operator chat channels. Events are
// filtered by type and each sender is throttled independently.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Sender delivers one message to a channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Config selects the senders and the events they receive.
type Config struct {
	TelegramToken     string
	TelegramChatID    string
	DiscordWebhookURL string
	// Events lists the event types forwarded; empty forwards everything.
	Events []string
	// PerSenderInterval is the minimum spacing between messages to one sender.
	PerSenderInterval time.Duration
}

type throttledSender struct {
	Sender
	limiter *rate.Limiter
}

// Notifier fans a message out to every configured sender.
type Notifier struct {
	senders []throttledSender
	events  map[string]bool
	logger  *slog.Logger
}

// New builds a Notifier from cfg. Channels without credentials are skipped,
// so an empty config yields a Notifier that does nothing.
func New(cfg Config, logger *slog.Logger) *Notifier {
	var senders []Sender
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		senders = append(senders, NewTelegramSender(cfg.TelegramToken, cfg.TelegramChatID))
	}
	if cfg.DiscordWebhookURL != "" {
		senders = append(senders, NewDiscordSender(cfg.DiscordWebhookURL))
	}
	return NewNotifier(senders, cfg.Events, cfg.PerSenderInterval, logger)
}

// NewNotifier creates a Notifier over explicit senders. interval <= 0
// disables throttling.
func NewNotifier(senders []Sender, events []string, interval time.Duration, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	wrapped := make([]throttledSender, 0, len(senders))
	for _, s := range senders {
		wrapped = append(wrapped, throttledSender{Sender: s, limiter: rate.NewLimiter(limit, 1)})
	}
	return &Notifier{
		senders: wrapped,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool {
	return n != nil && len(n.senders) > 0
}

// Notify delivers the message when event passes the filter. A sender that
// fails does not stop delivery to the others; all failures are joined.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if !n.Enabled() {
		return nil
	}
	if len(n.events) > 0 && !n.events[event] {
		return nil
	}

	var errs []error
	for _, s := range n.senders {
		if err := s.limiter.Wait(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.WarnContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	return nil
}
