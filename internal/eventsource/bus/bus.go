// Package bus fans stored events out to in-process subscribers after they
// commit.
//
// Delivery is synchronous and ordered: Publish hands each event to every
// matching subscriber in registration order before moving to the next event.
package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/louisbranch/eventsaga/internal/eventsource/event"
)

// Subscriber receives published events.
type Subscriber interface {
	Handle(ctx context.Context, evt event.Event) error
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(ctx context.Context, evt event.Event) error

// Handle calls f.
func (f SubscriberFunc) Handle(ctx context.Context, evt event.Event) error {
	return f(ctx, evt)
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger used for swallowed subscriber errors.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithSwallowed makes subscriber errors matching any target (errors.Is) log
// and continue instead of aborting the publish.
func WithSwallowed(targets ...error) Option {
	return func(b *Bus) {
		b.swallowed = append(b.swallowed, targets...)
	}
}

type subscription struct {
	types      map[event.Type]struct{}
	subscriber Subscriber
}

func (s subscription) wants(t event.Type) bool {
	if s.types == nil {
		return true
	}
	_, ok := s.types[t]
	return ok
}

// Bus is an in-process publisher.
type Bus struct {
	mu        sync.RWMutex
	subs      []subscription
	swallowed []error
	logger    *slog.Logger
}

// New returns an empty bus.
func New(opts ...Option) *Bus {
	b := &Bus{logger: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers s for the listed event types. At least one type is
// required; use SubscribeAll to receive everything.
func (b *Bus) Subscribe(s Subscriber, types ...event.Type) error {
	if s == nil {
		return errors.New("subscriber is required")
	}
	if len(types) == 0 {
		return errors.New("at least one event type is required")
	}
	set := make(map[event.Type]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	b.add(subscription{types: set, subscriber: s})
	return nil
}

// SubscribeAll registers s for every event.
func (b *Bus) SubscribeAll(s Subscriber) error {
	if s == nil {
		return errors.New("subscriber is required")
	}
	b.add(subscription{subscriber: s})
	return nil
}

// SubscribeTo registers a typed handler for payload type P.
func SubscribeTo[P event.Payload](b *Bus, handle func(ctx context.Context, evt event.Event, payload P) error) error {
	if handle == nil {
		return errors.New("handler is required")
	}
	var zero P
	return b.Subscribe(SubscriberFunc(func(ctx context.Context, evt event.Event) error {
		payload, ok := evt.Payload().(P)
		if !ok {
			return fmt.Errorf("payload %T does not match subscribed type %T", evt.Payload(), zero)
		}
		return handle(ctx, evt, payload)
	}), zero.EventType())
}

func (b *Bus) add(s subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, s)
}

// Publish delivers events in order. The first unswallowed subscriber error
// stops delivery and is returned wrapped with the failing event key.
func (b *Bus) Publish(ctx context.Context, events ...event.Event) error {
	b.mu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, evt := range events {
		for _, s := range subs {
			if !s.wants(evt.Type()) {
				continue
			}
			if err := s.subscriber.Handle(ctx, evt); err != nil {
				if b.isSwallowed(err) {
					b.logger.WarnContext(ctx, "subscriber error swallowed",
						"stream_id", evt.StreamID(),
						"number", evt.Number(),
						"type", string(evt.Type()),
						"error", err,
					)
					continue
				}
				return fmt.Errorf("publish %s#%d: %w", evt.StreamID(), evt.Number(), err)
			}
		}
	}
	return nil
}

func (b *Bus) isSwallowed(err error) bool {
	for _, target := range b.swallowed {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
