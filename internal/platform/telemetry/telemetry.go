// Package telemetry provides the span and counter helpers the stores use to
// report operations through the global OpenTelemetry providers.
//
// Nothing here configures exporters; platform/otel does that for binaries.
// Library callers that never install a provider get the no-op defaults.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Instrumentation scope prefix for every eventsaga tracer and meter.
const scopePrefix = "github.com/louisbranch/eventsaga/"

// Instruments bundles a tracer with operation counters for one component.
type Instruments struct {
	tracer   trace.Tracer
	ops      metric.Int64Counter
	failures metric.Int64Counter
}

// New builds instruments for component, e.g. "eventstore".
func New(component string) *Instruments {
	scope := scopePrefix + component
	meter := otel.Meter(scope)
	ops, err := meter.Int64Counter(component+".operations",
		metric.WithDescription("Operations started by "+component),
	)
	if err != nil {
		otel.Handle(err)
	}
	failures, err := meter.Int64Counter(component+".failures",
		metric.WithDescription("Operations of "+component+" that returned an error"),
	)
	if err != nil {
		otel.Handle(err)
	}
	return &Instruments{
		tracer:   otel.Tracer(scope),
		ops:      ops,
		failures: failures,
	}
}

// Start opens a span for operation and counts it. The returned function ends
// the span, recording err when it is non-nil.
func (i *Instruments) Start(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, func(err error)) {
	if i == nil {
		return ctx, func(error) {}
	}
	ctx, span := i.tracer.Start(ctx, operation, trace.WithAttributes(attrs...))
	set := metric.WithAttributes(append(attrs[:len(attrs):len(attrs)], attribute.String("operation", operation))...)
	if i.ops != nil {
		i.ops.Add(ctx, 1, set)
	}
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			if i.failures != nil {
				i.failures.Add(ctx, 1, set)
			}
		}
		span.End()
	}
}
