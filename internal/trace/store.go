package trace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	apperrors "github.com/louisbranch/eventsaga/internal/platform/errors"
	"github.com/louisbranch/eventsaga/internal/platform/id"
	"github.com/louisbranch/eventsaga/internal/platform/telemetry"
	"github.com/louisbranch/eventsaga/internal/storage"
)

var (
	// ErrTraceNotFound indicates an unknown trace id.
	ErrTraceNotFound = apperrors.New(apperrors.CodeTraceNotFound, "trace not found")
	// ErrDuplicateItem indicates a trace id that already exists.
	ErrDuplicateItem = apperrors.New(apperrors.CodeDuplicateItem, "trace already exists")
	// ErrTimeout indicates a watch deadline elapsed before resolution.
	ErrTimeout = apperrors.New(apperrors.CodeTimeout, "trace did not resolve in time")
	// ErrTraceIDRequired indicates a missing trace id.
	ErrTraceIDRequired = apperrors.New(apperrors.CodeTraceIDRequired, "trace id is required")
	// ErrContextRequired indicates a report without a bounded context.
	ErrContextRequired = apperrors.New(apperrors.CodeContextRequired, "bounded context is required")
	// ErrResolutionInvalid indicates a report that is neither success nor failure.
	ErrResolutionInvalid = apperrors.New(apperrors.CodeResolutionInvalid, "resolution must be success or failure")
)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger for resolution and diagnostic messages.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Store is the trace resolution state machine over a storage.TraceStore.
type Store struct {
	backend   storage.TraceStore
	logger    *slog.Logger
	now       func() time.Time
	telemetry *telemetry.Instruments
}

// New returns a trace store.
func New(backend storage.TraceStore, opts ...Option) (*Store, error) {
	if backend == nil {
		return nil, errors.New("trace backend is required")
	}
	s := &Store{
		backend:   backend,
		logger:    slog.Default(),
		now:       time.Now,
		telemetry: telemetry.New("trace"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) clock() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

// StartTrace creates a pending trace expecting req.ExpectedContexts. A trace
// with no expected contexts is created already resolved to success.
func (s *Store) StartTrace(ctx context.Context, req Request) (_ Trace, err error) {
	if req == nil {
		return Trace{}, errors.New("trace request is required")
	}
	traceID := strings.TrimSpace(req.TraceID())
	if traceID == "" {
		if traceID, err = id.NewID(); err != nil {
			return Trace{}, err
		}
	}
	ctx, end := s.telemetry.Start(ctx, "StartTrace", attribute.String("trace_id", traceID))
	defer func() { end(err) }()

	now := s.clock()
	rec := storage.TraceRecord{
		TraceID:    traceID,
		Topic:      req.Topic(),
		Resolution: Pending,
		Expected:   make(map[string]storage.ContextRecord),
		Unexpected: make(map[string]storage.ContextRecord),
		CreatedAt:  now,
	}
	for _, c := range normalizeContexts(req.ExpectedContexts()) {
		rec.Expected[c] = storage.ContextRecord{Context: c, Resolution: Pending}
	}
	if len(rec.Expected) == 0 {
		rec.Resolution = Success
		rec.ResolvedAt = &now
	}

	if err := s.backend.CreateTrace(ctx, rec); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return Trace{}, apperrors.WithMetadata(apperrors.CodeDuplicateItem,
				ErrDuplicateItem.Message, map[string]string{"trace_id": traceID})
		}
		return Trace{}, fmt.Errorf("create trace: %w", err)
	}
	return fromRecord(rec), nil
}

// ResolveContext records a report and resolves the trace once every expected
// context has reported.
func (s *Store) ResolveContext(ctx context.Context, in Integration) (err error) {
	in.TraceID = strings.TrimSpace(in.TraceID)
	in.Context = strings.TrimSpace(in.Context)
	if in.TraceID == "" {
		return ErrTraceIDRequired
	}
	if in.Context == "" {
		return ErrContextRequired
	}
	if !in.Resolution.Terminal() {
		return ErrResolutionInvalid
	}
	if in.Timestamp.IsZero() {
		in.Timestamp = s.clock()
	}
	ctx, end := s.telemetry.Start(ctx, "ResolveContext",
		attribute.String("trace_id", in.TraceID),
		attribute.String("context", in.Context),
	)
	defer func() { end(err) }()

	outcome, err := s.backend.ReportContext(ctx, storage.IntegrationRecord{
		TraceID:    in.TraceID,
		Context:    in.Context,
		Topic:      in.Topic,
		Resolution: in.Resolution,
		Error:      in.Error,
		ReportedAt: in.Timestamp.UTC(),
	})
	if err != nil {
		return s.notFound(in.TraceID, err, "report context")
	}
	if outcome.Unexpected {
		s.logger.InfoContext(ctx, "report from unexpected context",
			"trace_id", in.TraceID, "context", in.Context, "resolution", string(in.Resolution))
	}

	rec, err := s.backend.GetTrace(ctx, in.TraceID)
	if err != nil {
		return s.notFound(in.TraceID, err, "get trace")
	}
	if rec.Resolution.Terminal() {
		return nil
	}
	resolution, errs, done := evaluate(rec.Expected)
	if !done {
		return nil
	}
	applied, err := s.backend.CompleteTrace(ctx, in.TraceID, resolution, errs, s.clock())
	if err != nil {
		return s.notFound(in.TraceID, err, "complete trace")
	}
	if applied {
		s.logger.InfoContext(ctx, "trace resolved",
			"trace_id", in.TraceID, "resolution", string(resolution), "errors", len(errs))
	}
	return nil
}

// GetTrace returns the full trace.
func (s *Store) GetTrace(ctx context.Context, traceID string) (Trace, error) {
	traceID = strings.TrimSpace(traceID)
	if traceID == "" {
		return Trace{}, ErrTraceIDRequired
	}
	rec, err := s.backend.GetTrace(ctx, traceID)
	if err != nil {
		return Trace{}, s.notFound(traceID, err, "get trace")
	}
	return fromRecord(rec), nil
}

// GetResolution returns the summary of a trace.
func (s *Store) GetResolution(ctx context.Context, traceID string) (Summary, error) {
	t, err := s.GetTrace(ctx, traceID)
	if err != nil {
		return Summary{}, err
	}
	return t.Summary(), nil
}

func (s *Store) notFound(traceID string, err error, op string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return apperrors.WithMetadata(apperrors.CodeTraceNotFound,
			ErrTraceNotFound.Message, map[string]string{"trace_id": traceID})
	}
	return fmt.Errorf("%s: %w", op, err)
}
