package storage

import (
	"slices"
	"time"
)

// Resolution is the lifecycle state of a trace, a trace context or a segment.
type Resolution string

const (
	ResolutionPending Resolution = "pending"
	ResolutionSuccess Resolution = "success"
	ResolutionFailure Resolution = "failure"
)

// Valid reports whether r is a known resolution.
func (r Resolution) Valid() bool {
	switch r {
	case ResolutionPending, ResolutionSuccess, ResolutionFailure:
		return true
	default:
		return false
	}
}

// Terminal reports whether r is success or failure.
func (r Resolution) Terminal() bool {
	return r == ResolutionSuccess || r == ResolutionFailure
}

// EventRecord is one persisted event in its encoded form.
type EventRecord struct {
	StreamID      string
	Number        uint64
	Topic         string
	SchemaVersion int
	Timestamp     time.Time
	TraceID       string
	Context       string
	Kind          string
	Payload       []byte
}

// EventQuery narrows ListEvents. Zero fields are unbounded; all set fields
// combine with AND.
type EventQuery struct {
	// Topics keeps records whose topic is listed.
	Topics []string
	// After keeps numbers strictly greater than After.
	After uint64
	// Until keeps numbers less than or equal to Until.
	Until uint64
	// From keeps timestamps at or after From.
	From time.Time
	// To keeps timestamps strictly before To.
	To time.Time
}

// Match reports whether rec satisfies every bound of q.
func (q EventQuery) Match(rec EventRecord) bool {
	if len(q.Topics) > 0 && !slices.Contains(q.Topics, rec.Topic) {
		return false
	}
	if rec.Number <= q.After {
		return false
	}
	if q.Until > 0 && rec.Number > q.Until {
		return false
	}
	if !q.From.IsZero() && rec.Timestamp.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && !rec.Timestamp.Before(q.To) {
		return false
	}
	return true
}

// TraceRecord is the stored state of one cross-context trace.
type TraceRecord struct {
	TraceID      string
	Topic        string
	Resolution   Resolution
	Errors       []string
	Expected     map[string]ContextRecord
	Unexpected   map[string]ContextRecord
	Integrations []IntegrationRecord
	CreatedAt    time.Time
	ResolvedAt   *time.Time
}

// ContextRecord is the resolution reported by one bounded context.
type ContextRecord struct {
	Context    string
	Resolution Resolution
	Error      string
	ResolvedAt *time.Time
}

// IntegrationRecord is one report received for a trace, kept in arrival order.
type IntegrationRecord struct {
	TraceID    string
	Context    string
	Topic      string
	Resolution Resolution
	Error      string
	ReportedAt time.Time
}

// ReportOutcome describes how ReportContext classified a report.
type ReportOutcome struct {
	// Recorded is true when the report moved an expected context out of pending.
	Recorded bool
	// AlreadyResolved is true when the expected context had resolved earlier.
	AlreadyResolved bool
	// Unexpected is true when the context was not in the expected set.
	Unexpected bool
}

// SegmentRecord is the idempotency token for one (trace id, subject) pair.
type SegmentRecord struct {
	TraceID    string
	Subject    string
	Resolution Resolution
	Error      string
	Attempts   int
	StartedAt  time.Time
	FinishedAt *time.Time
}

// CloneTrace returns a deep copy of rec.
func CloneTrace(rec TraceRecord) TraceRecord {
	out := rec
	out.Errors = slices.Clone(rec.Errors)
	out.Integrations = slices.Clone(rec.Integrations)
	out.Expected = cloneContexts(rec.Expected)
	out.Unexpected = cloneContexts(rec.Unexpected)
	out.ResolvedAt = cloneTime(rec.ResolvedAt)
	return out
}

func cloneContexts(in map[string]ContextRecord) map[string]ContextRecord {
	if in == nil {
		return nil
	}
	out := make(map[string]ContextRecord, len(in))
	for k, v := range in {
		v.ResolvedAt = cloneTime(v.ResolvedAt)
		out[k] = v
	}
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
