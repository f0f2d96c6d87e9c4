package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/louisbranch/eventsaga/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/eventsaga/internal/platform/timeouts"
	"github.com/louisbranch/eventsaga/internal/storage"
	"github.com/louisbranch/eventsaga/internal/storage/sqlite/migrations"
)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// fromMillis reverses toMillis for persisted millisecond timestamps.
func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func toNullMillis(value *time.Time) sql.NullInt64 {
	if value == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*value), Valid: true}
}

func fromNullMillis(value sql.NullInt64) *time.Time {
	if !value.Valid {
		return nil
	}
	t := fromMillis(value.Int64)
	return &t
}

// Store is a SQLite-backed storage.EventLog, storage.TraceStore and
// storage.SegmentStore.
//
// Writes go through sqlDB, whose transactions begin IMMEDIATE. Multi-statement
// reads go through readDB, a query-only pool with deferred transactions, so
// pollers read WAL snapshots without taking the write lock.
type Store struct {
	sqlDB  *sql.DB
	readDB *sql.DB
}

var (
	_ storage.EventLog     = (*Store)(nil)
	_ storage.TraceStore   = (*Store)(nil)
	_ storage.SegmentStore = (*Store)(nil)
)

func newStore(sqlDB, readDB *sql.DB) *Store {
	if readDB == nil {
		readDB = sqlDB
	}
	return &Store{sqlDB: sqlDB, readDB: readDB}
}

func dsn(path string, pragmas ...string) string {
	base := []string{
		fmt.Sprintf("_pragma=busy_timeout(%d)", timeouts.SQLiteBusy.Milliseconds()),
		"_pragma=journal_mode(WAL)",
		"_pragma=foreign_keys(1)",
		"_pragma=synchronous(NORMAL)",
	}
	return path + "?" + strings.Join(append(base, pragmas...), "&")
}

// Open opens the database at path and applies the embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	sqlDB, err := sql.Open("sqlite", dsn(cleanPath, "_txlock=immediate"))
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlitemigrate.ApplyMigrations(context.Background(), sqlDB, migrations.FS, "."); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	readDB, err := sql.Open("sqlite", dsn(cleanPath, "_pragma=query_only(1)", "_txlock=deferred"))
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("open sqlite read pool: %w", err)
	}
	return newStore(sqlDB, readDB), nil
}

// Close closes the underlying database. It is nil-safe.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	var readErr error
	if s.readDB != nil && s.readDB != s.sqlDB {
		readErr = s.readDB.Close()
	}
	return errors.Join(s.sqlDB.Close(), readErr)
}

func (s *Store) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	return nil
}

// withTx runs fn inside a transaction and commits when fn returns nil.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// withReadTx runs fn inside a deferred transaction on the read pool, giving
// it one consistent snapshot. It never commits writes.
func (s *Store) withReadTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.readDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()
	return fn(tx)
}

func isConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

func isSQLiteBusyError(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
}

// translate maps a driver error into the storage taxonomy. Taxonomy errors
// and context errors pass through unchanged.
func translate(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, storage.ErrAlreadyExists),
		errors.Is(err, storage.ErrConflict), errors.Is(err, storage.ErrUnavailable):
		return err
	case isSQLiteBusyError(err):
		return storage.Unavailable(op+": database busy", err)
	default:
		return storage.Unavailable(op, err)
	}
}

func rowsChanged(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
