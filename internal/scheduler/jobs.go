package scheduler

import (
	"context"
	"time"

	"github.com/alanyoungcy/vaultsignal/internal/domain"
)

// PriceRefresher is implemented by service.PriceRefresher.
type PriceRefresher interface {
	RefreshAll(ctx context.Context) []domain.PriceQuote
}

// Archiver is implemented by s3blob.Archiver.
type Archiver interface {
	ArchiveSnapshots(ctx context.Context, before time.Time) (int64, error)
	ArchiveOutcomes(ctx context.Context, before time.Time) (int64, error)
}

// RefreshPrices returns a job that refreshes every token price.
func RefreshPrices(r PriceRefresher) Job {
	return func(ctx context.Context) error {
		r.RefreshAll(ctx)
		return nil
	}
}

// ArchiveOlderThan returns a job that archives snapshots and outcomes older
// than retention, truncated to the day.
func ArchiveOlderThan(a Archiver, retention time.Duration, now func() time.Time) Job {
	if now == nil {
		now = time.Now
	}
	return func(ctx context.Context) error {
		cutoff := now().UTC().Add(-retention).Truncate(24 * time.Hour)
		if _, err := a.ArchiveSnapshots(ctx, cutoff); err != nil {
			return err
		}
		_, err := a.ArchiveOutcomes(ctx, cutoff)
		return err
	}
}
