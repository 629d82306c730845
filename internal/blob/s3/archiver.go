package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/vaultsignal/internal/domain"
)

// SnapshotArchiveStore is the slice of the snapshot store the archiver uses.
type SnapshotArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.PriceSnapshot, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// OutcomeArchiveStore is the slice of the outcome store the archiver uses.
type OutcomeArchiveStore interface {
	ListBetween(ctx context.Context, since, before time.Time) ([]domain.AccountOutcome, error)
}

// Archiver implements domain.Archiver. It serialises old rows to JSONL under
// archive/<kind>/YYYY-MM-DD.jsonl (the cutoff date) and records each upload
// in the audit log.
//
// Snapshots are superseded data, so they are pruned from Postgres once the
// upload succeeded. Outcomes are never deleted; each run copies the month
// preceding the cutoff.
type Archiver struct {
	writer    domain.BlobWriter
	reader    domain.BlobReader
	snapshots SnapshotArchiveStore
	outcomes  OutcomeArchiveStore
	audit     domain.AuditStore
}

// NewArchiver creates an Archiver.
func NewArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	snapshots SnapshotArchiveStore,
	outcomes OutcomeArchiveStore,
	audit domain.AuditStore,
) *Archiver {
	return &Archiver{
		writer:    writer,
		reader:    reader,
		snapshots: snapshots,
		outcomes:  outcomes,
		audit:     audit,
	}
}

// ArchiveSnapshots uploads and prunes every snapshot observed before the
// cutoff. It returns the number of archived rows.
func (a *Archiver) ArchiveSnapshots(ctx context.Context, before time.Time) (int64, error) {
	snaps, err := a.snapshots.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive snapshots query: %w", err)
	}
	if len(snaps) == 0 {
		return 0, nil
	}

	path := archivePath("price_snapshots", before)
	if err := upload(ctx, a.writer, path, snaps); err != nil {
		return 0, fmt.Errorf("s3blob: archive snapshots: %w", err)
	}
	count := int64(len(snaps))

	if _, err := a.snapshots.DeleteBefore(ctx, before); err != nil {
		return count, fmt.Errorf("s3blob: prune archived snapshots: %w", err)
	}
	return count, a.record(ctx, "archive.price_snapshots", path, count, before)
}

// ArchiveOutcomes copies the outcomes created in the month before the cutoff.
// A cutoff whose archive object already exists is skipped.
func (a *Archiver) ArchiveOutcomes(ctx context.Context, before time.Time) (int64, error) {
	path := archivePath("account_outcomes", before)
	exists, err := a.reader.Exists(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive outcomes: %w", err)
	}
	if exists {
		return 0, nil
	}

	outcomes, err := a.outcomes.ListBetween(ctx, before.AddDate(0, -1, 0), before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive outcomes query: %w", err)
	}
	if len(outcomes) == 0 {
		return 0, nil
	}

	if err := upload(ctx, a.writer, path, outcomes); err != nil {
		return 0, fmt.Errorf("s3blob: archive outcomes: %w", err)
	}
	count := int64(len(outcomes))
	return count, a.record(ctx, "archive.account_outcomes", path, count, before)
}

func upload[T any](ctx context.Context, w domain.BlobWriter, path string, records []T) error {
	buf, err := marshalJSONL(records)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	if err := w.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	return nil
}

func (a *Archiver) record(ctx context.Context, event, path string, count int64, before time.Time) error {
	if err := a.audit.Log(ctx, event, map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return fmt.Errorf("s3blob: %s audit log: %w", event, err)
	}
	return nil
}

// archivePath builds e.g. archive/price_snapshots/2025-01-31.jsonl.
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01-02"))
}

// marshalJSONL encodes each record as one compact JSON line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*Archiver)(nil)
