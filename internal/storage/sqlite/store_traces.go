package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/louisbranch/eventsaga/internal/storage"
)

func encodeErrors(errs []string) (sql.NullString, error) {
	if len(errs) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(errs)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func decodeErrors(value sql.NullString) ([]string, error) {
	if !value.Valid || value.String == "" {
		return nil, nil
	}
	var errs []string
	if err := json.Unmarshal([]byte(value.String), &errs); err != nil {
		return nil, err
	}
	return errs, nil
}

func insertContext(ctx context.Context, tx *sql.Tx, traceID string, expected bool, c storage.ContextRecord) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO trace_contexts (trace_id, context, expected, resolution, error, resolved_at)
VALUES (?, ?, ?, ?, ?, ?)`,
		traceID, c.Context, expected, string(c.Resolution), c.Error, toNullMillis(c.ResolvedAt))
	return err
}

func insertIntegration(ctx context.Context, tx *sql.Tx, in storage.IntegrationRecord) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO trace_integrations (trace_id, position, context, topic, resolution, error, reported_at)
SELECT ?, COALESCE(MAX(position), 0) + 1, ?, ?, ?, ?, ? FROM trace_integrations WHERE trace_id = ?`,
		in.TraceID, in.Context, in.Topic, string(in.Resolution), in.Error, toMillis(in.ReportedAt), in.TraceID)
	return err
}

// CreateTrace inserts a trace with its contexts and history.
func (s *Store) CreateTrace(ctx context.Context, rec storage.TraceRecord) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	errs, err := encodeErrors(rec.Errors)
	if err != nil {
		return fmt.Errorf("encode trace errors: %w", err)
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO traces (trace_id, topic, resolution, errors, created_at, resolved_at) VALUES (?, ?, ?, ?, ?, ?)`,
			rec.TraceID, rec.Topic, string(rec.Resolution), errs, toMillis(rec.CreatedAt), toNullMillis(rec.ResolvedAt),
		); err != nil {
			if isConstraintError(err) {
				return storage.ErrAlreadyExists
			}
			return fmt.Errorf("insert trace: %w", err)
		}
		for name, c := range rec.Expected {
			c.Context = name
			if err := insertContext(ctx, tx, rec.TraceID, true, c); err != nil {
				return fmt.Errorf("insert expected context %s: %w", name, err)
			}
		}
		for name, c := range rec.Unexpected {
			c.Context = name
			if err := insertContext(ctx, tx, rec.TraceID, false, c); err != nil {
				return fmt.Errorf("insert unexpected context %s: %w", name, err)
			}
		}
		for _, in := range rec.Integrations {
			in.TraceID = rec.TraceID
			if err := insertIntegration(ctx, tx, in); err != nil {
				return fmt.Errorf("insert integration: %w", err)
			}
		}
		return nil
	})
	return translate("create trace", err)
}

// GetTrace loads a trace with its contexts and history.
func (s *Store) GetTrace(ctx context.Context, traceID string) (storage.TraceRecord, error) {
	if err := s.ready(ctx); err != nil {
		return storage.TraceRecord{}, err
	}

	var rec storage.TraceRecord
	err := s.withReadTx(ctx, func(tx *sql.Tx) error {
		var (
			resolution string
			errs       sql.NullString
			createdAt  int64
			resolvedAt sql.NullInt64
		)
		err := tx.QueryRowContext(ctx,
			`SELECT trace_id, topic, resolution, errors, created_at, resolved_at FROM traces WHERE trace_id = ?`, traceID,
		).Scan(&rec.TraceID, &rec.Topic, &resolution, &errs, &createdAt, &resolvedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get trace: %w", err)
		}
		rec.Resolution = storage.Resolution(resolution)
		rec.CreatedAt = fromMillis(createdAt)
		rec.ResolvedAt = fromNullMillis(resolvedAt)
		if rec.Errors, err = decodeErrors(errs); err != nil {
			return fmt.Errorf("decode trace errors: %w", err)
		}

		if err := loadContexts(ctx, tx, &rec); err != nil {
			return err
		}
		return loadIntegrations(ctx, tx, &rec)
	})
	if err != nil {
		return storage.TraceRecord{}, translate("get trace", err)
	}
	return rec, nil
}

func loadContexts(ctx context.Context, tx *sql.Tx, rec *storage.TraceRecord) error {
	rows, err := tx.QueryContext(ctx,
		`SELECT context, expected, resolution, error, resolved_at FROM trace_contexts WHERE trace_id = ?`, rec.TraceID)
	if err != nil {
		return fmt.Errorf("list trace contexts: %w", err)
	}
	defer rows.Close()

	rec.Expected = make(map[string]storage.ContextRecord)
	rec.Unexpected = make(map[string]storage.ContextRecord)
	for rows.Next() {
		var (
			c          storage.ContextRecord
			expected   bool
			resolution string
			resolvedAt sql.NullInt64
		)
		if err := rows.Scan(&c.Context, &expected, &resolution, &c.Error, &resolvedAt); err != nil {
			return fmt.Errorf("scan trace context: %w", err)
		}
		c.Resolution = storage.Resolution(resolution)
		c.ResolvedAt = fromNullMillis(resolvedAt)
		if expected {
			rec.Expected[c.Context] = c
		} else {
			rec.Unexpected[c.Context] = c
		}
	}
	return rows.Err()
}

func loadIntegrations(ctx context.Context, tx *sql.Tx, rec *storage.TraceRecord) error {
	rows, err := tx.QueryContext(ctx,
		`SELECT context, topic, resolution, error, reported_at FROM trace_integrations WHERE trace_id = ? ORDER BY position`, rec.TraceID)
	if err != nil {
		return fmt.Errorf("list trace integrations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		in := storage.IntegrationRecord{TraceID: rec.TraceID}
		var (
			resolution string
			reportedAt int64
		)
		if err := rows.Scan(&in.Context, &in.Topic, &resolution, &in.Error, &reportedAt); err != nil {
			return fmt.Errorf("scan trace integration: %w", err)
		}
		in.Resolution = storage.Resolution(resolution)
		in.ReportedAt = fromMillis(reportedAt)
		rec.Integrations = append(rec.Integrations, in)
	}
	return rows.Err()
}

// ReportContext appends report to the history and records its resolution.
func (s *Store) ReportContext(ctx context.Context, report storage.IntegrationRecord) (storage.ReportOutcome, error) {
	if err := s.ready(ctx); err != nil {
		return storage.ReportOutcome{}, err
	}

	var outcome storage.ReportOutcome
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM traces WHERE trace_id = ?`, report.TraceID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("check trace: %w", err)
		}
		if err := insertIntegration(ctx, tx, report); err != nil {
			return fmt.Errorf("insert integration: %w", err)
		}

		var expected bool
		err = tx.QueryRowContext(ctx,
			`SELECT expected FROM trace_contexts WHERE trace_id = ? AND context = ?`, report.TraceID, report.Context,
		).Scan(&expected)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check context: %w", err)
		}

		if !expected {
			outcome.Unexpected = true
			_, err := tx.ExecContext(ctx,
				`INSERT INTO trace_contexts (trace_id, context, expected, resolution, error, resolved_at)
VALUES (?, ?, 0, ?, ?, ?)
ON CONFLICT (trace_id, context) DO UPDATE SET
    resolution = excluded.resolution,
    error = excluded.error,
    resolved_at = excluded.resolved_at
WHERE trace_contexts.expected = 0`,
				report.TraceID, report.Context, string(report.Resolution), report.Error, toMillis(report.ReportedAt))
			if err != nil {
				return fmt.Errorf("record unexpected context: %w", err)
			}
			return nil
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE trace_contexts SET resolution = ?, error = ?, resolved_at = ?
WHERE trace_id = ? AND context = ? AND resolution = 'pending'`,
			string(report.Resolution), report.Error, toMillis(report.ReportedAt), report.TraceID, report.Context)
		if err != nil {
			return fmt.Errorf("resolve context: %w", err)
		}
		changed, err := rowsChanged(res)
		if err != nil {
			return fmt.Errorf("resolve context: %w", err)
		}
		outcome.Recorded = changed
		outcome.AlreadyResolved = !changed
		return nil
	})
	if err != nil {
		return storage.ReportOutcome{}, translate("report context", err)
	}
	return outcome, nil
}

// CompleteTrace moves a pending trace to resolution.
func (s *Store) CompleteTrace(ctx context.Context, traceID string, resolution storage.Resolution, errs []string, at time.Time) (bool, error) {
	if err := s.ready(ctx); err != nil {
		return false, err
	}
	encoded, err := encodeErrors(errs)
	if err != nil {
		return false, fmt.Errorf("encode trace errors: %w", err)
	}

	var applied bool
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE traces SET resolution = ?, errors = ?, resolved_at = ? WHERE trace_id = ? AND resolution = 'pending'`,
			string(resolution), encoded, toMillis(at), traceID)
		if err != nil {
			return fmt.Errorf("complete trace: %w", err)
		}
		if applied, err = rowsChanged(res); err != nil {
			return fmt.Errorf("complete trace: %w", err)
		}
		if applied {
			return nil
		}
		var exists int
		err = tx.QueryRowContext(ctx, `SELECT 1 FROM traces WHERE trace_id = ?`, traceID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrNotFound
		}
		return err
	})
	if err != nil {
		return false, translate("complete trace", err)
	}
	return applied, nil
}
