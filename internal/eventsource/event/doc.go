// Package event defines the immutable event value, the ordered stream view
// returned by reads, the filters used to narrow them, and the registry that
// maps payload types to their JSON encoding.
//
// An event is identified by its stream id and number. Numbers are assigned at
// apply time as the aggregate version plus one, so within a stream they are
// unique and increase by one per event.
package event
