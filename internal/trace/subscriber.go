package trace

import (
	"context"

	"github.com/louisbranch/eventsaga/internal/eventsource/bus"
	"github.com/louisbranch/eventsaga/internal/eventsource/event"
)

// Outcome is implemented by integration payloads that settle a bounded
// context's part in a trace.
type Outcome interface {
	event.Payload
	Resolution() Resolution
	// Failure describes why the context failed, or "" on success.
	Failure() string
}

// ReportSubscriber turns published Outcome events into ResolveContext calls,
// attributed to the trace id and bounded context stamped on each event.
// Events without an Outcome payload, a trace id or a context are ignored.
func ReportSubscriber(store *Store) bus.Subscriber {
	return bus.SubscriberFunc(func(ctx context.Context, evt event.Event) error {
		outcome, ok := evt.Payload().(Outcome)
		if !ok || evt.TraceID() == "" || evt.Context() == "" {
			return nil
		}
		return store.ResolveContext(ctx, Integration{
			TraceID:    evt.TraceID(),
			Context:    evt.Context(),
			Topic:      string(evt.Type()),
			Resolution: outcome.Resolution(),
			Error:      outcome.Failure(),
			Timestamp:  evt.Timestamp(),
		})
	})
}
