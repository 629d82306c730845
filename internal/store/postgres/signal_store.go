package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/vaultsignal/internal/domain"
)

// SignalStore implements domain.SignalStore using PostgreSQL.
type SignalStore struct {
	pool *pgxpool.Pool
}

// NewSignalStore creates a new SignalStore backed by the given connection pool.
func NewSignalStore(pool *pgxpool.Pool) *SignalStore {
	return &SignalStore{pool: pool}
}

// Create inserts a signal. Signals are never updated afterwards.
func (s *SignalStore) Create(ctx context.Context, sig domain.Signal) error {
	const query = `
		INSERT INTO signals (id, direction, symbol, quantity, confidence, event_id, rationale, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.pool.Exec(ctx, query,
		sig.ID, string(sig.Direction), sig.Symbol, sig.Quantity,
		sig.Confidence, sig.EventID, sig.Rationale, sig.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: create signal %s: %w", sig.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create signal %s: %w", sig.ID, err)
	}
	return nil
}

const signalSelectCols = `id, direction, symbol, quantity, confidence, event_id, rationale, created_at`

func scanSignal(scanner interface{ Scan(dest ...any) error }) (domain.Signal, error) {
	var sig domain.Signal
	var direction string
	if err := scanner.Scan(
		&sig.ID, &direction, &sig.Symbol, &sig.Quantity,
		&sig.Confidence, &sig.EventID, &sig.Rationale, &sig.CreatedAt,
	); err != nil {
		return domain.Signal{}, err
	}
	sig.Direction = domain.Direction(direction)
	return sig, nil
}

// GetByID returns a single signal.
func (s *SignalStore) GetByID(ctx context.Context, id string) (domain.Signal, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+signalSelectCols+` FROM signals WHERE id = $1`, id)
	sig, err := scanSignal(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Signal{}, domain.ErrNotFound
		}
		return domain.Signal{}, fmt.Errorf("postgres: get signal %s: %w", id, err)
	}
	return sig, nil
}

// List returns signals newest first.
func (s *SignalStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Signal, error) {
	query, args := withListOpts(`SELECT `+signalSelectCols+` FROM signals WHERE 1=1`, "created_at", nil, opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list signals: %w", err)
	}
	defer rows.Close()

	var out []domain.Signal
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan signal: %w", err)
		}
		out = append(out, sig)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list signals rows: %w", err)
	}
	return out, nil
}
