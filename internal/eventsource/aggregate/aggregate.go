// Package aggregate provides the root every event-sourced aggregate embeds,
// and the two ways events reach it: Apply for new facts raised by a command,
// Route for facts loaded from the store.
//
// Both paths fold through the aggregate's own Mutate, so replayed state
// matches the state a command observed when it raised the events.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/louisbranch/eventsaga/internal/eventsource/event"
	"github.com/louisbranch/eventsaga/internal/platform/requestctx"
)

var (
	// ErrIDRequired indicates an aggregate without identity.
	ErrIDRequired = errors.New("aggregate id is required")
	// ErrTypeRequired indicates an aggregate without a type name.
	ErrTypeRequired = errors.New("aggregate type is required")
)

// Aggregate is implemented by every event-sourced entity.
type Aggregate interface {
	// AggregateRoot returns the embedded bookkeeping.
	AggregateRoot() *Root
	// Mutate folds one event into state. It must be deterministic.
	Mutate(evt event.Event) error
}

// Snapshotter is implemented by aggregates that can checkpoint their state.
type Snapshotter interface {
	Aggregate
	// Snapshot returns a payload that, routed into a fresh instance through
	// Mutate, restores the current state.
	Snapshot() (event.Payload, error)
}

// StreamID names the event stream of one aggregate instance.
func StreamID(aggregateType, id string) string {
	return aggregateType + "-" + id
}

// SnapshotStreamID names the stream holding snapshots of one instance.
func SnapshotStreamID(aggregateType, id string) string {
	return "snapshot-" + StreamID(aggregateType, id)
}

// Root carries identity, version, pending changes and the keys already
// folded into an aggregate.
type Root struct {
	id            string
	aggregateType string
	version       uint64
	pending       []event.Event
	seen          map[event.Key]struct{}
}

// Init sets the identity of a fresh root.
func (r *Root) Init(aggregateType, id string) {
	r.aggregateType = strings.TrimSpace(aggregateType)
	r.id = strings.TrimSpace(id)
}

// AggregateRoot lets embedding types satisfy Aggregate.
func (r *Root) AggregateRoot() *Root { return r }

// ID is the instance identity given to Init.
func (r *Root) ID() string { return r.id }

// Type is the aggregate type given to Init.
func (r *Root) Type() string { return r.aggregateType }

// Version is the highest event number folded into the instance.
func (r *Root) Version() uint64 { return r.version }

// StreamID returns StreamID(Type(), ID()).
func (r *Root) StreamID() string { return StreamID(r.aggregateType, r.id) }

// Pending returns a copy of the events applied since the last save.
func (r *Root) Pending() []event.Event { return slices.Clone(r.pending) }

// HasPending reports whether there are unsaved events.
func (r *Root) HasPending() bool { return len(r.pending) > 0 }

// MarkCommitted clears pending events after they are durable.
func (r *Root) MarkCommitted() { r.pending = nil }

// Seen reports whether key was already folded in.
func (r *Root) Seen(key event.Key) bool {
	_, ok := r.seen[key]
	return ok
}

func (r *Root) record(evt event.Event) {
	if r.seen == nil {
		r.seen = make(map[event.Key]struct{})
	}
	r.seen[evt.Key()] = struct{}{}
	if evt.Number() > r.version {
		r.version = evt.Number()
	}
}

// Apply raises a new event on agg. The event is numbered version+1, stamped
// with the trace id and bounded context carried by ctx, folded, and queued
// for the next save. A Mutate error leaves agg unchanged.
func Apply(ctx context.Context, agg Aggregate, payload event.Payload) error {
	if agg == nil {
		return errors.New("aggregate is required")
	}
	if payload == nil {
		return event.ErrPayloadMissing
	}
	root := agg.AggregateRoot()
	if root.aggregateType == "" {
		return ErrTypeRequired
	}
	if root.id == "" {
		return ErrIDRequired
	}

	evt := event.New(root.StreamID(), root.version+1, payload, event.Meta{
		TraceID: requestctx.TraceIDFromContext(ctx),
		Context: requestctx.BoundedContextFromContext(ctx),
	})
	if _, err := Route(agg, evt); err != nil {
		return err
	}
	root.pending = append(root.pending, evt)
	return nil
}

// Route folds a stored event into agg. Events already seen are skipped and
// reported as false.
func Route(agg Aggregate, evt event.Event) (bool, error) {
	if agg == nil {
		return false, errors.New("aggregate is required")
	}
	root := agg.AggregateRoot()
	if root.Seen(evt.Key()) {
		return false, nil
	}
	if err := agg.Mutate(evt); err != nil {
		return false, fmt.Errorf("mutate %s#%d: %w", evt.StreamID(), evt.Number(), err)
	}
	root.record(evt)
	return true, nil
}
