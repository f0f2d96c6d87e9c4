// Package memory provides an in-process storage backend guarded by one mutex.
package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/louisbranch/eventsaga/internal/storage"
)

type segmentKey struct {
	traceID string
	subject string
}

type eventKey struct {
	streamID string
	number   uint64
}

// Store implements storage.EventLog, storage.TraceStore and
// storage.SegmentStore in memory.
type Store struct {
	mu       sync.Mutex
	streams  map[string][]storage.EventRecord
	keys     map[eventKey]struct{}
	traces   map[string]storage.TraceRecord
	segments map[segmentKey]storage.SegmentRecord
}

// New returns an empty store.
func New() *Store {
	return &Store{
		streams:  make(map[string][]storage.EventRecord),
		keys:     make(map[eventKey]struct{}),
		traces:   make(map[string]storage.TraceRecord),
		segments: make(map[segmentKey]storage.SegmentRecord),
	}
}

var (
	_ storage.EventLog     = (*Store)(nil)
	_ storage.TraceStore   = (*Store)(nil)
	_ storage.SegmentStore = (*Store)(nil)
)

// AppendEvents stores records atomically.
func (s *Store) AppendEvents(ctx context.Context, records []storage.EventRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := make(map[eventKey]struct{}, len(records))
	for _, rec := range records {
		key := eventKey{rec.StreamID, rec.Number}
		if _, exists := s.keys[key]; exists {
			return storage.ErrConflict
		}
		if _, dup := batch[key]; dup {
			return storage.ErrConflict
		}
		batch[key] = struct{}{}
	}

	touched := make(map[string]struct{})
	for _, rec := range records {
		rec.Payload = slices.Clone(rec.Payload)
		s.streams[rec.StreamID] = append(s.streams[rec.StreamID], rec)
		s.keys[eventKey{rec.StreamID, rec.Number}] = struct{}{}
		touched[rec.StreamID] = struct{}{}
	}
	for streamID := range touched {
		slices.SortFunc(s.streams[streamID], func(a, b storage.EventRecord) int {
			return cmp.Compare(a.Number, b.Number)
		})
	}
	return nil
}

// ListEvents returns matching records in ascending number order.
func (s *Store) ListEvents(ctx context.Context, streamID string, query storage.EventQuery) ([]storage.EventRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []storage.EventRecord
	for _, rec := range s.streams[streamID] {
		if query.Match(rec) {
			rec.Payload = slices.Clone(rec.Payload)
			out = append(out, rec)
		}
	}
	return out, nil
}

// LatestEvent returns the highest-numbered record of a stream.
func (s *Store) LatestEvent(ctx context.Context, streamID string) (storage.EventRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.EventRecord{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.streams[streamID]
	if len(records) == 0 {
		return storage.EventRecord{}, storage.ErrNotFound
	}
	rec := records[len(records)-1]
	rec.Payload = slices.Clone(rec.Payload)
	return rec, nil
}

// CreateTrace stores a new trace.
func (s *Store) CreateTrace(ctx context.Context, trace storage.TraceRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.traces[trace.TraceID]; exists {
		return storage.ErrAlreadyExists
	}
	trace = storage.CloneTrace(trace)
	if trace.Expected == nil {
		trace.Expected = make(map[string]storage.ContextRecord)
	}
	if trace.Unexpected == nil {
		trace.Unexpected = make(map[string]storage.ContextRecord)
	}
	s.traces[trace.TraceID] = trace
	return nil
}

// GetTrace returns a copy of a trace.
func (s *Store) GetTrace(ctx context.Context, traceID string) (storage.TraceRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.TraceRecord{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	trace, ok := s.traces[traceID]
	if !ok {
		return storage.TraceRecord{}, storage.ErrNotFound
	}
	return storage.CloneTrace(trace), nil
}

// ReportContext records one integration report.
func (s *Store) ReportContext(ctx context.Context, report storage.IntegrationRecord) (storage.ReportOutcome, error) {
	if err := ctx.Err(); err != nil {
		return storage.ReportOutcome{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	trace, ok := s.traces[report.TraceID]
	if !ok {
		return storage.ReportOutcome{}, storage.ErrNotFound
	}
	trace.Integrations = append(trace.Integrations, report)

	at := report.ReportedAt
	resolved := storage.ContextRecord{
		Context:    report.Context,
		Resolution: report.Resolution,
		Error:      report.Error,
		ResolvedAt: &at,
	}

	var outcome storage.ReportOutcome
	current, expected := trace.Expected[report.Context]
	switch {
	case !expected:
		trace.Unexpected[report.Context] = resolved
		outcome.Unexpected = true
	case current.Resolution == storage.ResolutionPending:
		trace.Expected[report.Context] = resolved
		outcome.Recorded = true
	default:
		outcome.AlreadyResolved = true
	}
	s.traces[report.TraceID] = trace
	return outcome, nil
}

// CompleteTrace resolves a pending trace.
func (s *Store) CompleteTrace(ctx context.Context, traceID string, resolution storage.Resolution, errs []string, at time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	trace, ok := s.traces[traceID]
	if !ok {
		return false, storage.ErrNotFound
	}
	if trace.Resolution != storage.ResolutionPending {
		return false, nil
	}
	trace.Resolution = resolution
	trace.Errors = slices.Clone(errs)
	trace.ResolvedAt = &at
	s.traces[traceID] = trace
	return true, nil
}

// StartSegment creates or restarts a segment.
func (s *Store) StartSegment(ctx context.Context, segment storage.SegmentRecord) (storage.SegmentRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.SegmentRecord{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := segmentKey{segment.TraceID, segment.Subject}
	attempts := 1
	if existing, ok := s.segments[key]; ok {
		if existing.Resolution != storage.ResolutionFailure {
			return storage.SegmentRecord{}, storage.ErrAlreadyExists
		}
		attempts = existing.Attempts + 1
	}
	segment.Resolution = storage.ResolutionPending
	segment.Error = ""
	segment.Attempts = attempts
	segment.FinishedAt = nil
	s.segments[key] = segment
	return segment, nil
}

// FinishSegment resolves a pending segment.
func (s *Store) FinishSegment(ctx context.Context, traceID, subject string, resolution storage.Resolution, errMsg string, at time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := segmentKey{traceID, subject}
	segment, ok := s.segments[key]
	if !ok {
		return false, storage.ErrNotFound
	}
	if segment.Resolution != storage.ResolutionPending {
		return false, nil
	}
	segment.Resolution = resolution
	segment.Error = errMsg
	segment.FinishedAt = &at
	s.segments[key] = segment
	return true, nil
}

// GetSegment returns a segment.
func (s *Store) GetSegment(ctx context.Context, traceID, subject string) (storage.SegmentRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.SegmentRecord{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	segment, ok := s.segments[segmentKey{traceID, subject}]
	if !ok {
		return storage.SegmentRecord{}, storage.ErrNotFound
	}
	return segment, nil
}
