package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/vaultsignal/internal/domain"
)

// AccountStore implements domain.AccountStore using PostgreSQL.
type AccountStore struct {
	pool *pgxpool.Pool
}

// NewAccountStore creates a new AccountStore backed by the given connection pool.
func NewAccountStore(pool *pgxpool.Pool) *AccountStore {
	return &AccountStore{pool: pool}
}

const accountSelectCols = `id, address, automation_enabled, max_trade_size, pairs, last_seen_at, created_at`

func scanAccount(scanner interface{ Scan(dest ...any) error }) (domain.Account, error) {
	var a domain.Account
	var pairsJSON []byte
	if err := scanner.Scan(
		&a.ID, &a.Address, &a.AutomationEnabled, &a.MaxTradeSize,
		&pairsJSON, &a.LastSeenAt, &a.CreatedAt,
	); err != nil {
		return domain.Account{}, err
	}
	if len(pairsJSON) > 0 {
		if err := json.Unmarshal(pairsJSON, &a.Pairs); err != nil {
			return domain.Account{}, fmt.Errorf("unmarshal pairs: %w", err)
		}
	}
	return a, nil
}

// List returns every registered account.
func (s *AccountStore) List(ctx context.Context) ([]domain.Account, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+accountSelectCols+` FROM accounts ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list accounts: %w", err)
	}
	defer rows.Close()

	var out []domain.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan account: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list accounts rows: %w", err)
	}
	return out, nil
}

// GetByAddress looks an account up by its (case-insensitive) address.
func (s *AccountStore) GetByAddress(ctx context.Context, address string) (domain.Account, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+accountSelectCols+` FROM accounts WHERE address = $1`,
		domain.NormalizeAddress(address),
	)
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Account{}, domain.ErrNotFound
		}
		return domain.Account{}, fmt.Errorf("postgres: get account %s: %w", address, err)
	}
	return a, nil
}

// Upsert inserts an account or updates its automation settings.
func (s *AccountStore) Upsert(ctx context.Context, a domain.Account) error {
	pairs := a.Pairs
	if pairs == nil {
		pairs = []domain.Pair{}
	}
	pairsJSON, err := json.Marshal(pairs)
	if err != nil {
		return fmt.Errorf("postgres: marshal account pairs: %w", err)
	}

	const query = `
		INSERT INTO accounts (id, address, automation_enabled, max_trade_size, pairs, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (address) DO UPDATE SET
			automation_enabled = EXCLUDED.automation_enabled,
			max_trade_size     = EXCLUDED.max_trade_size,
			pairs              = EXCLUDED.pairs,
			last_seen_at       = NOW()`

	_, err = s.pool.Exec(ctx, query,
		a.ID, domain.NormalizeAddress(a.Address), a.AutomationEnabled, a.MaxTradeSize, pairsJSON,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert account %s: %w", a.Address, err)
	}
	return nil
}
