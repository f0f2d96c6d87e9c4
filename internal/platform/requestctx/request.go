// Package requestctx carries request-scoped identity through context values.
//
// The trace id and bounded context of an inbound request are attached once at
// the edge and read by every call made on its behalf; there is no
// process-wide default.
package requestctx

import "context"

type traceIDContextKey struct{}

type boundedContextKey struct{}

// WithTraceID stores the trace id of the current request in context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, traceIDContextKey{}, traceID)
}

// TraceIDFromContext returns the trace id stored in context.
func TraceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(traceIDContextKey{}).(string)
	return value
}

// WithBoundedContext stores the name of the bounded context handling the
// current request.
func WithBoundedContext(ctx context.Context, name string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, boundedContextKey{}, name)
}

// BoundedContextFromContext returns the bounded context name stored in context.
func BoundedContextFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(boundedContextKey{}).(string)
	return value
}

// WithRequest stores both the trace id and the bounded context.
func WithRequest(ctx context.Context, traceID, boundedContext string) context.Context {
	return WithBoundedContext(WithTraceID(ctx, traceID), boundedContext)
}
