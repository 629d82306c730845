package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// SignalStore persists inbound signals.
type SignalStore interface {
	Create(ctx context.Context, sig Signal) error
	GetByID(ctx context.Context, id string) (Signal, error)
	List(ctx context.Context, opts ListOpts) ([]Signal, error)
}

// AccountStore reads the registered account population. Writes belong to the
// account-settings surface; Upsert exists for seeding and that surface.
type AccountStore interface {
	List(ctx context.Context) ([]Account, error)
	GetByAddress(ctx context.Context, address string) (Account, error)
	Upsert(ctx context.Context, acct Account) error
}

// OutcomeStore persists per-account signal outcomes.
type OutcomeStore interface {
	Create(ctx context.Context, o AccountOutcome) error
	SetMessage(ctx context.Context, id, message string) error
	MarkExecuted(ctx context.Context, id, txHash, message string) error
	MarkReviewed(ctx context.Context, id string) error
	GetByID(ctx context.Context, id string) (AccountOutcome, error)
	ListBySignal(ctx context.Context, signalID string) ([]AccountOutcome, error)
	ListByAccount(ctx context.Context, accountID string, unreviewedOnly bool, opts ListOpts) ([]AccountOutcome, error)
}

// SnapshotStore persists price snapshots.
type SnapshotStore interface {
	// InsertIfAbsent atomically writes snap unless a snapshot for the same
	// symbol was observed within freshness of snap.ObservedAt. It reports
	// whether a row was written.
	InsertIfAbsent(ctx context.Context, snap PriceSnapshot, freshness time.Duration) (bool, error)
	Latest(ctx context.Context, symbol string) (PriceSnapshot, error)
	ListBySymbol(ctx context.Context, symbol string, opts ListOpts) ([]PriceSnapshot, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
