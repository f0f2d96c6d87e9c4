package trace

import (
	"slices"
	"strings"
	"time"

	"github.com/louisbranch/eventsaga/internal/storage"
)

// Resolution is the state of a trace or of one context within it.
type Resolution = storage.Resolution

const (
	Pending = storage.ResolutionPending
	Success = storage.ResolutionSuccess
	Failure = storage.ResolutionFailure
)

// Request describes a trace to start.
type Request interface {
	TraceID() string
	Topic() string
	ExpectedContexts() []string
}

type request struct {
	traceID  string
	topic    string
	contexts []string
}

// NewRequest returns a Request. An empty traceID asks StartTrace to
// generate one.
func NewRequest(traceID, topic string, expected ...string) Request {
	return request{traceID: traceID, topic: topic, contexts: slices.Clone(expected)}
}

func (r request) TraceID() string            { return r.traceID }
func (r request) Topic() string              { return r.topic }
func (r request) ExpectedContexts() []string { return slices.Clone(r.contexts) }

// Integration is one report from a bounded context about a trace.
type Integration struct {
	TraceID    string
	Context    string
	Topic      string
	Resolution Resolution
	Error      string
	Timestamp  time.Time
}

// ContextResolution is the recorded state of one context.
type ContextResolution struct {
	Context    string
	Resolution Resolution
	Error      string
	Timestamp  *time.Time
}

// Trace is the full view of a trace.
type Trace struct {
	ID           string
	Topic        string
	Resolution   Resolution
	Expected     map[string]ContextResolution
	Unexpected   map[string]ContextResolution
	Integrations []Integration
	Errors       []string
	CreatedAt    time.Time
	ResolvedAt   *time.Time
}

// Summary is the compact view returned by GetResolution and watches.
type Summary struct {
	TraceID        string
	Resolution     Resolution
	ExpectedCount  int
	CompletedCount int
	Errors         []string
}

// Summary condenses t.
func (t Trace) Summary() Summary {
	completed := 0
	for _, c := range t.Expected {
		if c.Resolution.Terminal() {
			completed++
		}
	}
	return Summary{
		TraceID:        t.ID,
		Resolution:     t.Resolution,
		ExpectedCount:  len(t.Expected),
		CompletedCount: completed,
		Errors:         slices.Clone(t.Errors),
	}
}

func normalizeContexts(contexts []string) []string {
	out := make([]string, 0, len(contexts))
	for _, c := range contexts {
		c = strings.TrimSpace(c)
		if c != "" && !slices.Contains(out, c) {
			out = append(out, c)
		}
	}
	return out
}

func fromRecord(rec storage.TraceRecord) Trace {
	t := Trace{
		ID:           rec.TraceID,
		Topic:        rec.Topic,
		Resolution:   rec.Resolution,
		Expected:     fromContexts(rec.Expected),
		Unexpected:   fromContexts(rec.Unexpected),
		Integrations: make([]Integration, 0, len(rec.Integrations)),
		Errors:       slices.Clone(rec.Errors),
		CreatedAt:    rec.CreatedAt,
		ResolvedAt:   rec.ResolvedAt,
	}
	for _, in := range rec.Integrations {
		t.Integrations = append(t.Integrations, fromIntegration(in))
	}
	return t
}

func fromContexts(in map[string]storage.ContextRecord) map[string]ContextResolution {
	out := make(map[string]ContextResolution, len(in))
	for k, v := range in {
		out[k] = ContextResolution{
			Context:    v.Context,
			Resolution: v.Resolution,
			Error:      v.Error,
			Timestamp:  v.ResolvedAt,
		}
	}
	return out
}

func fromIntegration(in storage.IntegrationRecord) Integration {
	return Integration{
		TraceID:    in.TraceID,
		Context:    in.Context,
		Topic:      in.Topic,
		Resolution: in.Resolution,
		Error:      in.Error,
		Timestamp:  in.ReportedAt,
	}
}

// evaluate applies the AND-barrier to the expected contexts. It reports
// false while any context is pending.
func evaluate(expected map[string]storage.ContextRecord) (Resolution, []string, bool) {
	names := make([]string, 0, len(expected))
	for name, c := range expected {
		if !c.Resolution.Terminal() {
			return Pending, nil, false
		}
		names = append(names, name)
	}
	slices.Sort(names)

	resolution := Success
	var errs []string
	for _, name := range names {
		c := expected[name]
		if c.Resolution != Failure {
			continue
		}
		resolution = Failure
		if c.Error != "" {
			errs = append(errs, c.Error)
		}
	}
	return resolution, errs, true
}
