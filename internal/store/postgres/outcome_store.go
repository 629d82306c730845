package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/vaultsignal/internal/domain"
)

// OutcomeStore implements domain.OutcomeStore using PostgreSQL.
type OutcomeStore struct {
	pool *pgxpool.Pool
}

// NewOutcomeStore creates a new OutcomeStore backed by the given connection pool.
func NewOutcomeStore(pool *pgxpool.Pool) *OutcomeStore {
	return &OutcomeStore{pool: pool}
}

// Create inserts the outcome. A second outcome for the same (signal, account)
// fails with domain.ErrAlreadyExists.
func (s *OutcomeStore) Create(ctx context.Context, o domain.AccountOutcome) error {
	const query = `
		INSERT INTO account_outcomes (
			id, signal_id, account_id, account_address, direction, symbol,
			requested_quantity, quantity, confidence, event_id, rationale,
			was_reviewed, was_executed, tx_hash, message, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16, $16
		)`

	_, err := s.pool.Exec(ctx, query,
		o.ID, o.SignalID, o.AccountID, o.AccountAddress, string(o.Direction), o.Symbol,
		o.RequestedQuantity, o.Quantity, o.Confidence, o.EventID, o.Rationale,
		o.WasReviewed, o.WasExecuted, nullable(o.TxHash), o.Message, o.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: create outcome for signal %s account %s: %w",
				o.SignalID, o.AccountID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create outcome %s: %w", o.ID, err)
	}
	return nil
}

// SetMessage records a status message without touching the executed flag.
func (s *OutcomeStore) SetMessage(ctx context.Context, id, message string) error {
	return s.exec(ctx, "set outcome message", id,
		`UPDATE account_outcomes SET message = $1, updated_at = NOW() WHERE id = $2`,
		message, id,
	)
}

// MarkExecuted flags the outcome as executed with the confirmed tx hash.
func (s *OutcomeStore) MarkExecuted(ctx context.Context, id, txHash, message string) error {
	return s.exec(ctx, "mark outcome executed", id,
		`UPDATE account_outcomes
		 SET was_executed = TRUE, tx_hash = $1, message = $2, updated_at = NOW()
		 WHERE id = $3`,
		txHash, message, id,
	)
}

// MarkReviewed flags the outcome as seen by the account holder.
func (s *OutcomeStore) MarkReviewed(ctx context.Context, id string) error {
	return s.exec(ctx, "mark outcome reviewed", id,
		`UPDATE account_outcomes SET was_reviewed = TRUE, updated_at = NOW() WHERE id = $1`,
		id,
	)
}

func (s *OutcomeStore) exec(ctx context.Context, op, id, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("postgres: %s %s: %w", op, id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

const outcomeSelectCols = `id, signal_id, account_id, account_address, direction, symbol,
	requested_quantity, quantity, confidence, event_id, rationale,
	was_reviewed, was_executed, tx_hash, message, created_at, updated_at`

func scanOutcome(scanner interface{ Scan(dest ...any) error }) (domain.AccountOutcome, error) {
	var o domain.AccountOutcome
	var direction string
	var txHash *string
	if err := scanner.Scan(
		&o.ID, &o.SignalID, &o.AccountID, &o.AccountAddress, &direction, &o.Symbol,
		&o.RequestedQuantity, &o.Quantity, &o.Confidence, &o.EventID, &o.Rationale,
		&o.WasReviewed, &o.WasExecuted, &txHash, &o.Message, &o.CreatedAt, &o.UpdatedAt,
	); err != nil {
		return domain.AccountOutcome{}, err
	}
	o.Direction = domain.Direction(direction)
	if txHash != nil {
		o.TxHash = *txHash
	}
	return o, nil
}

// GetByID returns a single outcome.
func (s *OutcomeStore) GetByID(ctx context.Context, id string) (domain.AccountOutcome, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+outcomeSelectCols+` FROM account_outcomes WHERE id = $1`, id)
	o, err := scanOutcome(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.AccountOutcome{}, domain.ErrNotFound
		}
		return domain.AccountOutcome{}, fmt.Errorf("postgres: get outcome %s: %w", id, err)
	}
	return o, nil
}

// ListBySignal returns every outcome produced by one signal.
func (s *OutcomeStore) ListBySignal(ctx context.Context, signalID string) ([]domain.AccountOutcome, error) {
	return s.query(ctx, "list outcomes by signal",
		`SELECT `+outcomeSelectCols+` FROM account_outcomes WHERE signal_id = $1 ORDER BY created_at`,
		signalID,
	)
}

// ListByAccount returns an account's outcomes newest first, optionally only
// the ones not yet reviewed.
func (s *OutcomeStore) ListByAccount(ctx context.Context, accountID string, unreviewedOnly bool, opts domain.ListOpts) ([]domain.AccountOutcome, error) {
	base := `SELECT ` + outcomeSelectCols + ` FROM account_outcomes WHERE account_id = $1`
	if unreviewedOnly {
		base += ` AND NOT was_reviewed`
	}
	query, args := withListOpts(base, "created_at", []any{accountID}, opts)
	return s.query(ctx, "list outcomes by account", query, args...)
}

// ListBetween returns outcomes created in [since, before), oldest first.
func (s *OutcomeStore) ListBetween(ctx context.Context, since, before time.Time) ([]domain.AccountOutcome, error) {
	return s.query(ctx, "list outcomes between",
		`SELECT `+outcomeSelectCols+` FROM account_outcomes
		 WHERE created_at >= $1 AND created_at < $2 ORDER BY created_at`,
		since, before,
	)
}

func (s *OutcomeStore) query(ctx context.Context, op, query string, args ...any) ([]domain.AccountOutcome, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	defer rows.Close()

	var out []domain.AccountOutcome
	for rows.Next() {
		o, err := scanOutcome(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan outcome: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: %s rows: %w", op, err)
	}
	return out, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
