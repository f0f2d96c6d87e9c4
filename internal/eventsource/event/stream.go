package event

import (
	"cmp"
	"slices"
)

// Stream is an ordered, read-only view over the events of one stream id.
type Stream struct {
	id     string
	events []Event
}

// NewStream copies events into a stream sorted by ascending number.
func NewStream(id string, events []Event) Stream {
	sorted := slices.Clone(events)
	slices.SortStableFunc(sorted, func(a, b Event) int {
		return cmp.Compare(a.number, b.number)
	})
	return Stream{id: id, events: sorted}
}

// ID returns the stream id.
func (s Stream) ID() string { return s.id }

// Len returns the number of events.
func (s Stream) Len() int { return len(s.events) }

// Events returns a copy of the events in ascending number order.
func (s Stream) Events() []Event { return slices.Clone(s.events) }

// Last returns the highest-numbered event.
func (s Stream) Last() (Event, bool) {
	if len(s.events) == 0 {
		return Event{}, false
	}
	return s.events[len(s.events)-1], true
}

// Version returns the number of the last event, or zero for an empty stream.
func (s Stream) Version() uint64 {
	last, ok := s.Last()
	if !ok {
		return 0
	}
	return last.number
}

// Substream returns the events matching f without touching storage.
func (s Stream) Substream(f Filter) Stream {
	out := make([]Event, 0, len(s.events))
	for _, e := range s.events {
		if f.Match(e) {
			out = append(out, e)
		}
	}
	return Stream{id: s.id, events: out}
}
