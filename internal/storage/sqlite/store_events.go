package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/louisbranch/eventsaga/internal/storage"
)

const eventColumns = "stream_id, number, topic, schema_version, timestamp, trace_id, context, kind, payload"

// AppendEvents inserts records in one transaction. A primary key collision
// rolls back the whole batch with storage.ErrConflict.
func (s *Store) AppendEvents(ctx context.Context, records []storage.EventRecord) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, "INSERT INTO events ("+eventColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)")
		if err != nil {
			return fmt.Errorf("prepare append: %w", err)
		}
		defer stmt.Close()

		for _, rec := range records {
			payload := rec.Payload
			if payload == nil {
				payload = []byte{}
			}
			if _, err := stmt.ExecContext(ctx,
				rec.StreamID, int64(rec.Number), rec.Topic, rec.SchemaVersion, toMillis(rec.Timestamp),
				rec.TraceID, rec.Context, rec.Kind, payload,
			); err != nil {
				if isConstraintError(err) {
					return storage.ErrConflict
				}
				return fmt.Errorf("append %s#%d: %w", rec.StreamID, rec.Number, err)
			}
		}
		return nil
	})
	return translate("append events", err)
}

// ListEvents returns matching records of one stream in ascending number order.
func (s *Store) ListEvents(ctx context.Context, streamID string, query storage.EventQuery) ([]storage.EventRecord, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}

	where := []string{"stream_id = ?", "number > ?"}
	args := []any{streamID, int64(query.After)}
	if query.Until > 0 {
		where = append(where, "number <= ?")
		args = append(args, int64(query.Until))
	}
	if !query.From.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, toMillis(query.From))
	}
	if !query.To.IsZero() {
		where = append(where, "timestamp < ?")
		args = append(args, toMillis(query.To))
	}
	if len(query.Topics) > 0 {
		where = append(where, "topic IN (?"+strings.Repeat(", ?", len(query.Topics)-1)+")")
		for _, topic := range query.Topics {
			args = append(args, topic)
		}
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		"SELECT "+eventColumns+" FROM events WHERE "+strings.Join(where, " AND ")+" ORDER BY number", args...)
	if err != nil {
		return nil, translate("list events", err)
	}
	defer rows.Close()

	var out []storage.EventRecord
	for rows.Next() {
		rec, err := scanEvent(rows)
		if err != nil {
			return nil, translate("scan event", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, translate("list events", err)
	}
	return out, nil
}

// LatestEvent returns the highest-numbered record of a stream.
func (s *Store) LatestEvent(ctx context.Context, streamID string) (storage.EventRecord, error) {
	if err := s.ready(ctx); err != nil {
		return storage.EventRecord{}, err
	}
	row := s.sqlDB.QueryRowContext(ctx,
		"SELECT "+eventColumns+" FROM events WHERE stream_id = ? ORDER BY number DESC LIMIT 1", streamID)
	rec, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.EventRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.EventRecord{}, translate("latest event", err)
	}
	return rec, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (storage.EventRecord, error) {
	var (
		rec       storage.EventRecord
		number    int64
		timestamp int64
	)
	if err := row.Scan(&rec.StreamID, &number, &rec.Topic, &rec.SchemaVersion, &timestamp,
		&rec.TraceID, &rec.Context, &rec.Kind, &rec.Payload); err != nil {
		return storage.EventRecord{}, err
	}
	rec.Number = uint64(number)
	rec.Timestamp = fromMillis(timestamp)
	return rec, nil
}
