package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/vaultsignal/internal/domain"
)

// OutcomeService is the read/review surface over signals and account
// outcomes.
type OutcomeService struct {
	signals  domain.SignalStore
	accounts domain.AccountStore
	outcomes domain.OutcomeStore
	audit    domain.AuditStore
	logger   *slog.Logger
}

// NewOutcomeService creates an OutcomeService. audit may be nil.
func NewOutcomeService(signals domain.SignalStore, accounts domain.AccountStore, outcomes domain.OutcomeStore, audit domain.AuditStore, logger *slog.Logger) *OutcomeService {
	return &OutcomeService{
		signals:  signals,
		accounts: accounts,
		outcomes: outcomes,
		audit:    audit,
		logger:   logger.With(slog.String("component", "outcome_service")),
	}
}

// ListSignals returns signals, newest first.
func (s *OutcomeService) ListSignals(ctx context.Context, opts domain.ListOpts) ([]domain.Signal, error) {
	return s.signals.List(ctx, opts)
}

// GetSignal returns one signal.
func (s *OutcomeService) GetSignal(ctx context.Context, id string) (domain.Signal, error) {
	return s.signals.GetByID(ctx, id)
}

// ListForSignal returns every account outcome recorded for a signal.
func (s *OutcomeService) ListForSignal(ctx context.Context, signalID string) ([]domain.AccountOutcome, error) {
	if _, err := s.signals.GetByID(ctx, signalID); err != nil {
		return nil, err
	}
	return s.outcomes.ListBySignal(ctx, signalID)
}

// ListForAddress returns the outcomes of the account registered at address.
// With unreviewedOnly set it returns the account's unread inbox.
func (s *OutcomeService) ListForAddress(ctx context.Context, address string, unreviewedOnly bool, opts domain.ListOpts) ([]domain.AccountOutcome, error) {
	acct, err := s.accounts.GetByAddress(ctx, domain.NormalizeAddress(address))
	if err != nil {
		return nil, fmt.Errorf("outcome_service: account %s: %w", address, err)
	}
	return s.outcomes.ListByAccount(ctx, acct.ID, unreviewedOnly, opts)
}

// MarkReviewed flags an outcome as read by its account.
func (s *OutcomeService) MarkReviewed(ctx context.Context, id string) (domain.AccountOutcome, error) {
	if err := s.outcomes.MarkReviewed(ctx, id); err != nil {
		return domain.AccountOutcome{}, fmt.Errorf("outcome_service: review %s: %w", id, err)
	}
	if s.audit != nil {
		if err := s.audit.Log(ctx, "outcome.reviewed", map[string]any{"outcome_id": id}); err != nil {
			s.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
		}
	}
	return s.outcomes.GetByID(ctx, id)
}
