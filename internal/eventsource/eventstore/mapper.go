package eventstore

import (
	"fmt"

	"github.com/louisbranch/eventsaga/internal/eventsource/event"
	"github.com/louisbranch/eventsaga/internal/storage"
)

func (s *Store) encode(evt event.Event) (storage.EventRecord, error) {
	if err := evt.Validate(); err != nil {
		return storage.EventRecord{}, err
	}
	payload, err := s.registry.Encode(evt.Payload())
	if err != nil {
		return storage.EventRecord{}, err
	}
	return storage.EventRecord{
		StreamID:      evt.StreamID(),
		Number:        evt.Number(),
		Topic:         string(evt.Type()),
		SchemaVersion: evt.SchemaVersion(),
		Timestamp:     evt.Timestamp(),
		TraceID:       evt.TraceID(),
		Context:       evt.Context(),
		Kind:          string(evt.Kind()),
		Payload:       payload,
	}, nil
}

func (s *Store) decode(rec storage.EventRecord) (event.Event, error) {
	payload, err := s.registry.Decode(event.Type(rec.Topic), rec.Payload)
	if err != nil {
		return event.Event{}, fmt.Errorf("event %s#%d: %w", rec.StreamID, rec.Number, err)
	}
	return event.New(rec.StreamID, rec.Number, payload, event.Meta{
		Timestamp:     rec.Timestamp,
		TraceID:       rec.TraceID,
		Context:       rec.Context,
		Kind:          event.Kind(rec.Kind),
		SchemaVersion: rec.SchemaVersion,
	}), nil
}

func toQuery(f event.Filter) storage.EventQuery {
	q := storage.EventQuery{
		After: f.Numbers.After,
		Until: f.Numbers.Until,
		From:  f.Times.From,
		To:    f.Times.To,
	}
	for _, t := range f.Types {
		q.Topics = append(q.Topics, string(t))
	}
	return q
}
