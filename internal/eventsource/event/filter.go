package event

import (
	"slices"
	"time"
)

// Filter narrows a stream. Zero fields are unbounded and set fields combine
// with AND.
type Filter struct {
	Types   []Type
	Numbers NumberRange
	Times   TimeRange
}

// NumberRange bounds event numbers: After is exclusive, Until is inclusive,
// and zero leaves a side open.
type NumberRange struct {
	After uint64
	Until uint64
}

// TimeRange bounds timestamps: From is inclusive, To is exclusive.
type TimeRange struct {
	From time.Time
	To   time.Time
}

// Match reports whether e passes every bound of f.
func (f Filter) Match(e Event) bool {
	if len(f.Types) > 0 && !slices.Contains(f.Types, e.Type()) {
		return false
	}
	if e.number <= f.Numbers.After {
		return false
	}
	if f.Numbers.Until > 0 && e.number > f.Numbers.Until {
		return false
	}
	if !f.Times.From.IsZero() && e.timestamp.Before(f.Times.From) {
		return false
	}
	if !f.Times.To.IsZero() && !e.timestamp.Before(f.Times.To) {
		return false
	}
	return true
}

// After returns a filter keeping events numbered strictly above n.
func After(n uint64) Filter {
	return Filter{Numbers: NumberRange{After: n}}
}

// OfTypes returns a filter keeping the listed types.
func OfTypes(types ...Type) Filter {
	return Filter{Types: types}
}
