package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/louisbranch/eventsaga/internal/storage"
)

var errDisk = errors.New("disk I/O error")

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("open sqlmock: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})
	return newStore(db, nil), mock
}

func expectMet(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAppendEventsDriverErrorRollsBack(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectPrepare("INSERT INTO events").ExpectExec().WillReturnError(errDisk)
	mock.ExpectRollback()

	err := store.AppendEvents(context.Background(), []storage.EventRecord{{StreamID: "s", Number: 1, Topic: "T"}})
	if !errors.Is(err, storage.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if !errors.Is(err, errDisk) {
		t.Fatalf("expected driver error as cause, got %v", err)
	}
	expectMet(t, mock)
}

func TestAppendEventsEmptyBatchSkipsDatabase(t *testing.T) {
	store, mock := newMockStore(t)
	if err := store.AppendEvents(context.Background(), nil); err != nil {
		t.Fatalf("append: %v", err)
	}
	expectMet(t, mock)
}

func TestLatestEventTranslation(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT .+ FROM events").WillReturnRows(sqlmock.NewRows([]string{"stream_id"}))
	if _, err := store.LatestEvent(context.Background(), "s"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	mock.ExpectQuery("SELECT .+ FROM events").WillReturnError(errDisk)
	if _, err := store.LatestEvent(context.Background(), "s"); !errors.Is(err, storage.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	expectMet(t, mock)
}

func TestStartSegmentWithoutReturnedRowIsDuplicate(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("INSERT INTO trace_segments").
		WithArgs("t1", "billing", int64(1777627800000)).
		WillReturnRows(sqlmock.NewRows([]string{"attempts"}))

	_, err := store.StartSegment(context.Background(), storage.SegmentRecord{
		TraceID:   "t1",
		Subject:   "billing",
		StartedAt: time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC),
	})
	if !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	expectMet(t, mock)
}

func TestCompleteTraceMissingTrace(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE traces").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT 1 FROM traces").WillReturnRows(sqlmock.NewRows([]string{"1"}))
	mock.ExpectRollback()

	applied, err := store.CompleteTrace(context.Background(), "missing", storage.ResolutionSuccess, nil, time.Now())
	if !errors.Is(err, storage.ErrNotFound) || applied {
		t.Fatalf("applied=%v err=%v, want ErrNotFound", applied, err)
	}
	expectMet(t, mock)
}

func TestReportContextDriverError(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin().WillReturnError(errDisk)

	_, err := store.ReportContext(context.Background(), storage.IntegrationRecord{TraceID: "t1", Context: "billing"})
	if !errors.Is(err, storage.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	expectMet(t, mock)
}

func TestContextErrorsPassThrough(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT resolution").WillReturnError(context.DeadlineExceeded)
	if _, err := store.GetSegment(context.Background(), "t1", "billing"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
	if errors.Is(translate("op", context.DeadlineExceeded), storage.ErrUnavailable) {
		t.Fatal("context errors must not be reported as unavailable")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := store.GetTrace(ctx, "t1"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	expectMet(t, mock)
}

func TestUnconfiguredStore(t *testing.T) {
	var store *Store
	if err := store.AppendEvents(context.Background(), nil); err == nil {
		t.Fatal("expected error from unconfigured store")
	}
}
