package requestctx

import (
	"context"
	"testing"
)

func TestTraceIDFromContextRoundTrip(t *testing.T) {
	ctx := WithTraceID(context.Background(), "trace-42")
	if got := TraceIDFromContext(ctx); got != "trace-42" {
		t.Fatalf("TraceIDFromContext = %q, want %q", got, "trace-42")
	}
}

func TestBoundedContextFromContextRoundTrip(t *testing.T) {
	ctx := WithBoundedContext(context.Background(), "billing")
	if got := BoundedContextFromContext(ctx); got != "billing" {
		t.Fatalf("BoundedContextFromContext = %q, want %q", got, "billing")
	}
}

func TestWithRequestSetsBoth(t *testing.T) {
	ctx := WithRequest(context.Background(), "trace-7", "shipping")
	if got := TraceIDFromContext(ctx); got != "trace-7" {
		t.Fatalf("trace id = %q", got)
	}
	if got := BoundedContextFromContext(ctx); got != "shipping" {
		t.Fatalf("bounded context = %q", got)
	}
}

func TestFromContextEmpty(t *testing.T) {
	if got := TraceIDFromContext(context.Background()); got != "" {
		t.Fatalf("expected empty trace id, got %q", got)
	}
	if got := BoundedContextFromContext(nil); got != "" {
		t.Fatalf("expected empty bounded context for nil context, got %q", got)
	}
}

func TestWithTraceIDNilContext(t *testing.T) {
	ctx := WithTraceID(nil, "trace-99")
	if ctx == nil {
		t.Fatal("expected non-nil context")
	}
	if got := TraceIDFromContext(ctx); got != "trace-99" {
		t.Fatalf("TraceIDFromContext = %q, want %q", got, "trace-99")
	}
}
