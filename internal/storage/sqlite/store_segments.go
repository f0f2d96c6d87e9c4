package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/louisbranch/eventsaga/internal/storage"
)

// StartSegment inserts a pending segment, or restarts a failed one. The
// upsert only fires on failed rows, so a pending or successful segment
// returns no row.
func (s *Store) StartSegment(ctx context.Context, segment storage.SegmentRecord) (storage.SegmentRecord, error) {
	if err := s.ready(ctx); err != nil {
		return storage.SegmentRecord{}, err
	}

	var attempts int
	err := s.sqlDB.QueryRowContext(ctx,
		`INSERT INTO trace_segments (trace_id, subject, resolution, error, attempts, started_at, finished_at)
VALUES (?, ?, 'pending', '', 1, ?, NULL)
ON CONFLICT (trace_id, subject) DO UPDATE SET
    resolution = 'pending',
    error = '',
    attempts = trace_segments.attempts + 1,
    started_at = excluded.started_at,
    finished_at = NULL
WHERE trace_segments.resolution = 'failure'
RETURNING attempts`,
		segment.TraceID, segment.Subject, toMillis(segment.StartedAt),
	).Scan(&attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.SegmentRecord{}, storage.ErrAlreadyExists
	}
	if err != nil {
		return storage.SegmentRecord{}, translate("start segment", err)
	}

	segment.Resolution = storage.ResolutionPending
	segment.Error = ""
	segment.Attempts = attempts
	segment.StartedAt = fromMillis(toMillis(segment.StartedAt))
	segment.FinishedAt = nil
	return segment, nil
}

// FinishSegment resolves a pending segment.
func (s *Store) FinishSegment(ctx context.Context, traceID, subject string, resolution storage.Resolution, errMsg string, at time.Time) (bool, error) {
	if err := s.ready(ctx); err != nil {
		return false, err
	}

	var applied bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE trace_segments SET resolution = ?, error = ?, finished_at = ?
WHERE trace_id = ? AND subject = ? AND resolution = 'pending'`,
			string(resolution), errMsg, toMillis(at), traceID, subject)
		if err != nil {
			return fmt.Errorf("finish segment: %w", err)
		}
		if applied, err = rowsChanged(res); err != nil {
			return fmt.Errorf("finish segment: %w", err)
		}
		if applied {
			return nil
		}
		var exists int
		err = tx.QueryRowContext(ctx,
			`SELECT 1 FROM trace_segments WHERE trace_id = ? AND subject = ?`, traceID, subject).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrNotFound
		}
		return err
	})
	if err != nil {
		return false, translate("finish segment", err)
	}
	return applied, nil
}

// GetSegment returns a segment.
func (s *Store) GetSegment(ctx context.Context, traceID, subject string) (storage.SegmentRecord, error) {
	if err := s.ready(ctx); err != nil {
		return storage.SegmentRecord{}, err
	}

	rec := storage.SegmentRecord{TraceID: traceID, Subject: subject}
	var (
		resolution string
		startedAt  int64
		finishedAt sql.NullInt64
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT resolution, error, attempts, started_at, finished_at FROM trace_segments WHERE trace_id = ? AND subject = ?`,
		traceID, subject,
	).Scan(&resolution, &rec.Error, &rec.Attempts, &startedAt, &finishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.SegmentRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.SegmentRecord{}, translate("get segment", err)
	}
	rec.Resolution = storage.Resolution(resolution)
	rec.StartedAt = fromMillis(startedAt)
	rec.FinishedAt = fromNullMillis(finishedAt)
	return rec, nil
}
