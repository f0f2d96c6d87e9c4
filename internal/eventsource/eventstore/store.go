// Package eventstore persists events atomically with optimistic concurrency
// and publishes them after commit.
//
// The only concurrency primitive is the (stream id, number) key: a batch is
// accepted when none of its keys exist yet, and rejected as a whole with
// ErrConcurrency otherwise.
package eventstore

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/louisbranch/eventsaga/internal/eventsource/event"
	apperrors "github.com/louisbranch/eventsaga/internal/platform/errors"
	"github.com/louisbranch/eventsaga/internal/platform/telemetry"
	"github.com/louisbranch/eventsaga/internal/storage"
)

var (
	// ErrConcurrency indicates another writer already stored one of the keys
	// of the batch. Reload the aggregate and retry the command.
	ErrConcurrency = apperrors.New(apperrors.CodeConcurrency, "concurrent write to stream")
	// ErrNotFound indicates an empty stream on LatestEvent.
	ErrNotFound = apperrors.New(apperrors.CodeNotFound, "stream has no events")
)

// Publisher receives events after they are durable.
type Publisher interface {
	Publish(ctx context.Context, events ...event.Event) error
}

// PublishError reports a failed publish of events that are already stored.
type PublishError struct {
	Err error
}

func (e *PublishError) Error() string {
	return "events stored but publish failed: " + e.Err.Error()
}

func (e *PublishError) Unwrap() error { return e.Err }

// Is matches the PUBLISH_FAILED code so callers can use errors.Is.
func (e *PublishError) Is(target error) bool {
	t, ok := target.(*apperrors.Error)
	return ok && t.Code == apperrors.CodePublishFailed
}

// Option configures a Store.
type Option func(*Store)

// WithPublisher publishes every stored batch to p.
func WithPublisher(p Publisher) Option {
	return func(s *Store) { s.publisher = p }
}

// Store reads and writes events through a storage.EventLog.
type Store struct {
	log       storage.EventLog
	registry  *event.Registry
	publisher Publisher
	telemetry *telemetry.Instruments
}

// New returns a store over log. Payload types must be registered in registry.
func New(log storage.EventLog, registry *event.Registry, opts ...Option) (*Store, error) {
	if log == nil {
		return nil, errors.New("event log is required")
	}
	if registry == nil {
		return nil, errors.New("event registry is required")
	}
	s := &Store{
		log:       log,
		registry:  registry,
		telemetry: telemetry.New("eventstore"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Registry returns the payload registry backing the store.
func (s *Store) Registry() *event.Registry { return s.registry }

// StoreEvents validates, encodes and appends events in one atomic call, then
// publishes them in order. A *PublishError means the events are durable.
func (s *Store) StoreEvents(ctx context.Context, events []event.Event) (err error) {
	if len(events) == 0 {
		return nil
	}
	ctx, end := s.telemetry.Start(ctx, "StoreEvents",
		attribute.String("stream_id", events[0].StreamID()),
		attribute.Int("count", len(events)),
	)
	defer func() { end(err) }()

	records := make([]storage.EventRecord, 0, len(events))
	for i, evt := range events {
		rec, err := s.encode(evt)
		if err != nil {
			return fmt.Errorf("event %d: %w", i, err)
		}
		records = append(records, rec)
	}

	if err := s.log.AppendEvents(ctx, records); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return apperrors.WrapWithMetadata(apperrors.CodeConcurrency,
				ErrConcurrency.Message,
				map[string]string{"stream_id": events[0].StreamID()},
				err,
			)
		}
		return fmt.Errorf("append events: %w", err)
	}

	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, events...); err != nil {
			return &PublishError{Err: err}
		}
	}
	return nil
}

// GetEvents returns the events of streamID matching filter, ascending by
// number.
func (s *Store) GetEvents(ctx context.Context, streamID string, filter event.Filter) (_ event.Stream, err error) {
	ctx, end := s.telemetry.Start(ctx, "GetEvents", attribute.String("stream_id", streamID))
	defer func() { end(err) }()

	if streamID == "" {
		return event.Stream{}, event.ErrStreamIDRequired
	}
	records, err := s.log.ListEvents(ctx, streamID, toQuery(filter))
	if err != nil {
		return event.Stream{}, fmt.Errorf("list events: %w", err)
	}
	events := make([]event.Event, 0, len(records))
	for _, rec := range records {
		evt, err := s.decode(rec)
		if err != nil {
			return event.Stream{}, err
		}
		events = append(events, evt)
	}
	return event.NewStream(streamID, events), nil
}

// LatestEvent returns the highest-numbered event of streamID or ErrNotFound.
func (s *Store) LatestEvent(ctx context.Context, streamID string) (_ event.Event, err error) {
	ctx, end := s.telemetry.Start(ctx, "LatestEvent", attribute.String("stream_id", streamID))
	defer func() { end(err) }()

	if streamID == "" {
		return event.Event{}, event.ErrStreamIDRequired
	}
	rec, err := s.log.LatestEvent(ctx, streamID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return event.Event{}, ErrNotFound
		}
		return event.Event{}, fmt.Errorf("latest event: %w", err)
	}
	return s.decode(rec)
}
