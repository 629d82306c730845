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

// SnapshotStore implements domain.SnapshotStore using PostgreSQL.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

// NewSnapshotStore creates a new SnapshotStore backed by the given connection pool.
func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

// InsertIfAbsent writes snap unless a snapshot for the same symbol exists with
// observed_at after snap.ObservedAt-freshness. A transaction-scoped advisory
// lock keyed on the symbol serialises concurrent writers, so the check and the
// insert are atomic per symbol.
func (s *SnapshotStore) InsertIfAbsent(ctx context.Context, snap domain.PriceSnapshot, freshness time.Duration) (bool, error) {
	if snap.ObservedAt.IsZero() {
		snap.ObservedAt = time.Now().UTC()
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, fmt.Errorf("postgres: begin snapshot tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtext('price_snapshot:' || $1))`, snap.Symbol,
	); err != nil {
		return false, fmt.Errorf("postgres: lock snapshot %s: %w", snap.Symbol, err)
	}

	var fresh bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM price_snapshots WHERE symbol = $1 AND observed_at > $2)`,
		snap.Symbol, snap.ObservedAt.Add(-freshness),
	).Scan(&fresh); err != nil {
		return false, fmt.Errorf("postgres: check snapshot %s: %w", snap.Symbol, err)
	}
	if fresh {
		return false, nil
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO price_snapshots (symbol, price, change_pct, observed_at) VALUES ($1, $2, $3, $4)`,
		snap.Symbol, snap.Price, snap.ChangePct, snap.ObservedAt,
	); err != nil {
		return false, fmt.Errorf("postgres: insert snapshot %s: %w", snap.Symbol, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("postgres: commit snapshot %s: %w", snap.Symbol, err)
	}
	return true, nil
}

const snapshotSelectCols = `id, symbol, price, change_pct, observed_at`

func scanSnapshot(scanner interface{ Scan(dest ...any) error }) (domain.PriceSnapshot, error) {
	var p domain.PriceSnapshot
	err := scanner.Scan(&p.ID, &p.Symbol, &p.Price, &p.ChangePct, &p.ObservedAt)
	return p, err
}

// Latest returns the newest snapshot for symbol.
func (s *SnapshotStore) Latest(ctx context.Context, symbol string) (domain.PriceSnapshot, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+snapshotSelectCols+` FROM price_snapshots WHERE symbol = $1 ORDER BY observed_at DESC LIMIT 1`,
		symbol,
	)
	p, err := scanSnapshot(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PriceSnapshot{}, domain.ErrNotFound
		}
		return domain.PriceSnapshot{}, fmt.Errorf("postgres: latest snapshot %s: %w", symbol, err)
	}
	return p, nil
}

// ListBySymbol returns snapshots for symbol newest first.
func (s *SnapshotStore) ListBySymbol(ctx context.Context, symbol string, opts domain.ListOpts) ([]domain.PriceSnapshot, error) {
	query, args := withListOpts(
		`SELECT `+snapshotSelectCols+` FROM price_snapshots WHERE symbol = $1`,
		"observed_at", []any{symbol}, opts,
	)
	return s.query(ctx, "list snapshots", query, args...)
}

// ListBefore returns every snapshot observed strictly before the cutoff.
func (s *SnapshotStore) ListBefore(ctx context.Context, before time.Time) ([]domain.PriceSnapshot, error) {
	return s.query(ctx, "list snapshots before",
		`SELECT `+snapshotSelectCols+` FROM price_snapshots WHERE observed_at < $1 ORDER BY observed_at`,
		before,
	)
}

// DeleteBefore removes snapshots observed strictly before the cutoff.
func (s *SnapshotStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM price_snapshots WHERE observed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete snapshots before %s: %w", before.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

func (s *SnapshotStore) query(ctx context.Context, op, query string, args ...any) ([]domain.PriceSnapshot, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	defer rows.Close()

	var out []domain.PriceSnapshot
	for rows.Next() {
		p, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan snapshot: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: %s rows: %w", op, err)
	}
	return out, nil
}
