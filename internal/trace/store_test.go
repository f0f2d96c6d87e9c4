package trace

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	apperrors "github.com/louisbranch/eventsaga/internal/platform/errors"
	"github.com/louisbranch/eventsaga/internal/storage/memory"
)

var fixedNow = time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	s, err := New(memory.New(), opts...)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func report(traceID, context string, resolution Resolution, errMsg string) Integration {
	return Integration{TraceID: traceID, Context: context, Topic: "Reported", Resolution: resolution, Error: errMsg}
}

func TestNewRequiresBackend(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatal("expected missing backend error")
	}
}

func TestStartTrace(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	tr, err := s.StartTrace(ctx, NewRequest("t1", "PlaceOrder", "billing", " shipping ", "billing", ""))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if tr.ID != "t1" || tr.Topic != "PlaceOrder" || tr.Resolution != Pending {
		t.Fatalf("trace = %+v", tr)
	}
	if len(tr.Expected) != 2 {
		t.Fatalf("expected contexts = %v, want billing and shipping", tr.Expected)
	}
	if !tr.CreatedAt.Equal(fixedNow) {
		t.Fatalf("created at = %v", tr.CreatedAt)
	}
}

func TestStartTraceGeneratesID(t *testing.T) {
	s := newTestStore(t)
	tr, err := s.StartTrace(context.Background(), NewRequest("", "PlaceOrder", "billing"))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(tr.ID) != 26 {
		t.Fatalf("generated id = %q", tr.ID)
	}
}

func TestStartTraceWithoutExpectedContextsSucceeds(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	if _, err := s.StartTrace(ctx, NewRequest("t1", "Ping")); err != nil {
		t.Fatalf("start: %v", err)
	}
	summary, err := s.GetResolution(ctx, "t1")
	if err != nil {
		t.Fatalf("resolution: %v", err)
	}
	if summary.Resolution != Success || summary.ExpectedCount != 0 || len(summary.Errors) != 0 {
		t.Fatalf("summary = %+v", summary)
	}
}

func TestStartTraceDuplicate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	if _, err := s.StartTrace(ctx, NewRequest("t1", "PlaceOrder", "billing")); err != nil {
		t.Fatalf("start: %v", err)
	}
	_, err := s.StartTrace(ctx, NewRequest("t1", "PlaceOrder", "billing"))
	if !errors.Is(err, ErrDuplicateItem) {
		t.Fatalf("expected ErrDuplicateItem, got %v", err)
	}
	var domainErr *apperrors.Error
	if !errors.As(err, &domainErr) || domainErr.Metadata["trace_id"] != "t1" {
		t.Fatalf("metadata = %+v", domainErr)
	}
}

func TestResolveAllSuccess(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	if _, err := s.StartTrace(ctx, NewRequest("t1", "PlaceOrder", "billing", "shipping")); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := s.ResolveContext(ctx, report("t1", "billing", Success, "")); err != nil {
		t.Fatalf("resolve billing: %v", err)
	}
	summary, err := s.GetResolution(ctx, "t1")
	if err != nil {
		t.Fatalf("resolution: %v", err)
	}
	if summary.Resolution != Pending || summary.CompletedCount != 1 || summary.ExpectedCount != 2 {
		t.Fatalf("after billing = %+v", summary)
	}

	if err := s.ResolveContext(ctx, report("t1", "shipping", Success, "")); err != nil {
		t.Fatalf("resolve shipping: %v", err)
	}
	summary, err = s.GetResolution(ctx, "t1")
	if err != nil {
		t.Fatalf("resolution: %v", err)
	}
	if summary.Resolution != Success || summary.CompletedCount != 2 || len(summary.Errors) != 0 {
		t.Fatalf("after shipping = %+v", summary)
	}
	tr, err := s.GetTrace(ctx, "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if tr.ResolvedAt == nil || !tr.ResolvedAt.Equal(fixedNow) {
		t.Fatalf("resolved at = %v", tr.ResolvedAt)
	}
}

func TestResolveAnyFailureFailsTrace(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	if _, err := s.StartTrace(ctx, NewRequest("t1", "PlaceOrder", "billing", "shipping", "stock")); err != nil {
		t.Fatalf("start: %v", err)
	}
	reports := []Integration{
		report("t1", "stock", Failure, "out of stock"),
		report("t1", "billing", Failure, "card declined"),
		report("t1", "shipping", Success, ""),
	}
	for _, r := range reports {
		if err := s.ResolveContext(ctx, r); err != nil {
			t.Fatalf("resolve %s: %v", r.Context, err)
		}
	}
	summary, err := s.GetResolution(ctx, "t1")
	if err != nil {
		t.Fatalf("resolution: %v", err)
	}
	if summary.Resolution != Failure {
		t.Fatalf("resolution = %s, want failure", summary.Resolution)
	}
	if len(summary.Errors) != 2 || summary.Errors[0] != "card declined" || summary.Errors[1] != "out of stock" {
		t.Fatalf("errors = %v, want sorted by context", summary.Errors)
	}
}

func TestResolveFailureIgnoresSuccessfulContextMessages(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	if _, err := s.StartTrace(ctx, NewRequest("t1", "PlaceOrder", "billing", "shipping")); err != nil {
		t.Fatalf("start: %v", err)
	}
	for _, r := range []Integration{
		report("t1", "billing", Success, "warning: retried"),
		report("t1", "shipping", Failure, "boom"),
	} {
		if err := s.ResolveContext(ctx, r); err != nil {
			t.Fatalf("resolve %s: %v", r.Context, err)
		}
	}
	summary, err := s.GetResolution(ctx, "t1")
	if err != nil {
		t.Fatalf("resolution: %v", err)
	}
	if summary.Resolution != Failure || len(summary.Errors) != 1 || summary.Errors[0] != "boom" {
		t.Fatalf("summary = %+v, want failure with [boom]", summary)
	}
}

func TestResolveFirstReportWins(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	if _, err := s.StartTrace(ctx, NewRequest("t1", "PlaceOrder", "billing", "shipping")); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.ResolveContext(ctx, report("t1", "billing", Failure, "card declined")); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if err := s.ResolveContext(ctx, report("t1", "billing", Success, "")); err != nil {
		t.Fatalf("resolve again: %v", err)
	}
	if err := s.ResolveContext(ctx, report("t1", "shipping", Success, "")); err != nil {
		t.Fatalf("resolve shipping: %v", err)
	}
	tr, err := s.GetTrace(ctx, "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if tr.Resolution != Failure || tr.Expected["billing"].Resolution != Failure {
		t.Fatalf("trace = %+v", tr)
	}
	if len(tr.Integrations) != 3 {
		t.Fatalf("history = %d, want 3", len(tr.Integrations))
	}
}

func TestResolveUnexpectedContextIsDiagnosticOnly(t *testing.T) {
	ctx := context.Background()
	var logs bytes.Buffer
	s := newTestStore(t, WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))
	if _, err := s.StartTrace(ctx, NewRequest("t1", "PlaceOrder", "billing")); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.ResolveContext(ctx, report("t1", "audit", Failure, "noisy")); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	tr, err := s.GetTrace(ctx, "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if tr.Resolution != Pending {
		t.Fatalf("resolution = %s, want pending", tr.Resolution)
	}
	if tr.Unexpected["audit"].Resolution != Failure {
		t.Fatalf("unexpected = %+v", tr.Unexpected)
	}
	if !strings.Contains(logs.String(), "unexpected context") {
		t.Fatalf("expected diagnostic log, got %q", logs.String())
	}

	if err := s.ResolveContext(ctx, report("t1", "billing", Success, "")); err != nil {
		t.Fatalf("resolve billing: %v", err)
	}
	summary, err := s.GetResolution(ctx, "t1")
	if err != nil {
		t.Fatalf("resolution: %v", err)
	}
	if summary.Resolution != Success {
		t.Fatalf("resolution = %s, want success despite unexpected failure", summary.Resolution)
	}
}

func TestResolveAfterTerminalKeepsOutcome(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	if _, err := s.StartTrace(ctx, NewRequest("t1", "PlaceOrder", "billing")); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.ResolveContext(ctx, report("t1", "billing", Success, "")); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if err := s.ResolveContext(ctx, report("t1", "billing", Failure, "late")); err != nil {
		t.Fatalf("late resolve: %v", err)
	}
	tr, err := s.GetTrace(ctx, "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if tr.Resolution != Success || len(tr.Integrations) != 2 {
		t.Fatalf("trace = %+v", tr)
	}
}

func TestResolveValidation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	tests := []struct {
		name string
		in   Integration
		want error
	}{
		{"missing trace id", report("", "billing", Success, ""), ErrTraceIDRequired},
		{"missing context", report("t1", " ", Success, ""), ErrContextRequired},
		{"pending resolution", report("t1", "billing", Pending, ""), ErrResolutionInvalid},
		{"unknown resolution", report("t1", "billing", Resolution("maybe"), ""), ErrResolutionInvalid},
		{"unknown trace", report("nope", "billing", Success, ""), ErrTraceNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.ResolveContext(ctx, tt.in); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestGetUnknownTrace(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetResolution(context.Background(), "nope"); !errors.Is(err, ErrTraceNotFound) {
		t.Fatalf("expected ErrTraceNotFound, got %v", err)
	}
	if _, err := s.GetTrace(context.Background(), ""); !errors.Is(err, ErrTraceIDRequired) {
		t.Fatalf("expected ErrTraceIDRequired, got %v", err)
	}
}
