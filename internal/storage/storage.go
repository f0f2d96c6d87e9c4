package storage

import (
	"context"
	"time"
)

// EventLog is an append-only log of event records keyed by
// (stream id, number).
type EventLog interface {
	// AppendEvents stores every record or none. Any key that already exists,
	// or appears twice in records, fails the batch with ErrConflict.
	AppendEvents(ctx context.Context, records []EventRecord) error
	// ListEvents returns the records of one stream matching query in
	// ascending number order.
	ListEvents(ctx context.Context, streamID string, query EventQuery) ([]EventRecord, error)
	// LatestEvent returns the highest-numbered record of a stream or
	// ErrNotFound.
	LatestEvent(ctx context.Context, streamID string) (EventRecord, error)
}

// TraceStore persists trace resolution state.
type TraceStore interface {
	// CreateTrace stores a new trace or returns ErrAlreadyExists.
	CreateTrace(ctx context.Context, trace TraceRecord) error
	// GetTrace returns the full trace or ErrNotFound.
	GetTrace(ctx context.Context, traceID string) (TraceRecord, error)
	// ReportContext appends report to the trace history and records its
	// resolution: an expected pending context takes the report, an expected
	// resolved context keeps its first report, and an unexpected context
	// keeps the latest one. Missing traces return ErrNotFound.
	ReportContext(ctx context.Context, report IntegrationRecord) (ReportOutcome, error)
	// CompleteTrace moves a pending trace to resolution. It reports false
	// when the trace was already terminal.
	CompleteTrace(ctx context.Context, traceID string, resolution Resolution, errs []string, at time.Time) (bool, error)
}

// SegmentStore persists per-message idempotency tokens.
type SegmentStore interface {
	// StartSegment creates a pending segment with one attempt. A failed
	// segment restarts with its attempt count incremented; a pending or
	// successful one returns ErrAlreadyExists. The stored record is returned.
	StartSegment(ctx context.Context, segment SegmentRecord) (SegmentRecord, error)
	// FinishSegment resolves a pending segment. It reports false when the
	// segment was not pending.
	FinishSegment(ctx context.Context, traceID, subject string, resolution Resolution, errMsg string, at time.Time) (bool, error)
	// GetSegment returns a segment or ErrNotFound.
	GetSegment(ctx context.Context, traceID, subject string) (SegmentRecord, error)
}
