// Package repository loads and saves event-sourced aggregates, with optional
// snapshots to bound replay cost.
//
// Save writes the pending events of one load in a single atomic append and
// never retries; a concurrency conflict surfaces as ErrConcurrency with the
// pending events kept. Get replays the newest snapshot, if any, and then
// every later event in order, rejecting streams with missing numbers.
package repository

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/louisbranch/eventsaga/internal/eventsource/aggregate"
	"github.com/louisbranch/eventsaga/internal/eventsource/event"
	"github.com/louisbranch/eventsaga/internal/eventsource/eventstore"
	apperrors "github.com/louisbranch/eventsaga/internal/platform/errors"
	"github.com/louisbranch/eventsaga/internal/platform/requestctx"
)

var (
	// ErrNotFound indicates an aggregate with no events.
	ErrNotFound = apperrors.New(apperrors.CodeNotFound, "aggregate not found")
	// ErrStreamGap indicates a stored stream whose numbers are not contiguous.
	ErrStreamGap = apperrors.New(apperrors.CodeStreamGap, "event stream has a gap")
	// ErrConcurrency is eventstore.ErrConcurrency.
	ErrConcurrency = eventstore.ErrConcurrency
)

// EventStore is the subset of eventstore.Store the repository needs.
type EventStore interface {
	StoreEvents(ctx context.Context, events []event.Event) error
	GetEvents(ctx context.Context, streamID string, filter event.Filter) (event.Stream, error)
	LatestEvent(ctx context.Context, streamID string) (event.Event, error)
}

// Factory returns an empty aggregate with identity id.
type Factory[T aggregate.Aggregate] func(id string) T

// SnapshotPolicy decides when Save also writes a snapshot. The zero policy
// never snapshots and Get never reads snapshots.
type SnapshotPolicy struct {
	// EveryN snapshots whenever a save crosses a multiple of EveryN.
	EveryN uint64
	// After snapshots whenever a save includes one of these types.
	After []event.Type
}

func (p SnapshotPolicy) enabled() bool {
	return p.EveryN > 0 || len(p.After) > 0
}

// Due reports whether a save moving the version from before to after with
// changes should snapshot.
func (p SnapshotPolicy) Due(before, after uint64, changes []event.Event) bool {
	if p.EveryN > 0 && after/p.EveryN > before/p.EveryN {
		return true
	}
	for _, evt := range changes {
		if slices.Contains(p.After, evt.Type()) {
			return true
		}
	}
	return false
}

// SnapshotError reports a failed snapshot after the events were stored.
type SnapshotError struct {
	StreamID string
	Version  uint64
	Err      error
}

func (e *SnapshotError) Error() string {
	return fmt.Sprintf("events stored but snapshot of %s at %d failed: %v", e.StreamID, e.Version, e.Err)
}

func (e *SnapshotError) Unwrap() error { return e.Err }

// Is matches the SNAPSHOT_FAILED code.
func (e *SnapshotError) Is(target error) bool {
	t, ok := target.(*apperrors.Error)
	return ok && t.Code == apperrors.CodeSnapshotFailed
}

// Option configures a Repository.
type Option func(*options)

type options struct {
	policy SnapshotPolicy
}

// WithSnapshotPolicy enables snapshots.
func WithSnapshotPolicy(policy SnapshotPolicy) Option {
	return func(o *options) { o.policy = policy }
}

// Repository loads and saves aggregates of one type.
type Repository[T aggregate.Aggregate] struct {
	store         EventStore
	aggregateType string
	factory       Factory[T]
	policy        SnapshotPolicy
}

// New returns a repository for aggregateType.
func New[T aggregate.Aggregate](store EventStore, aggregateType string, factory Factory[T], opts ...Option) (*Repository[T], error) {
	if store == nil {
		return nil, errors.New("event store is required")
	}
	aggregateType = strings.TrimSpace(aggregateType)
	if aggregateType == "" {
		return nil, aggregate.ErrTypeRequired
	}
	if factory == nil {
		return nil, errors.New("aggregate factory is required")
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return &Repository[T]{
		store:         store,
		aggregateType: aggregateType,
		factory:       factory,
		policy:        o.policy,
	}, nil
}

// Save stores the pending events of agg and clears them. It also writes a
// snapshot when the policy says so; a *SnapshotError then means the events
// are already durable.
func (r *Repository[T]) Save(ctx context.Context, agg T) error {
	root := agg.AggregateRoot()
	if !root.HasPending() {
		return nil
	}
	pending := root.Pending()
	before := pending[0].Number() - 1
	after := root.Version()

	var publishErr *eventstore.PublishError
	err := r.store.StoreEvents(ctx, pending)
	if err != nil && !errors.As(err, &publishErr) {
		return err
	}
	root.MarkCommitted()

	if r.policy.Due(before, after, pending) {
		if snapErr := r.snapshot(ctx, agg); snapErr != nil {
			if err != nil {
				return errors.Join(err, snapErr)
			}
			return snapErr
		}
	}
	return err
}

func (r *Repository[T]) snapshot(ctx context.Context, agg T) error {
	root := agg.AggregateRoot()
	streamID := aggregate.SnapshotStreamID(r.aggregateType, root.ID())
	fail := func(err error) error {
		return &SnapshotError{StreamID: streamID, Version: root.Version(), Err: err}
	}

	snapshotter, ok := any(agg).(aggregate.Snapshotter)
	if !ok {
		return fail(fmt.Errorf("%T does not implement aggregate.Snapshotter", agg))
	}
	payload, err := snapshotter.Snapshot()
	if err != nil {
		return fail(err)
	}
	evt := event.New(streamID, root.Version(), payload, event.Meta{
		TraceID: requestctx.TraceIDFromContext(ctx),
		Context: requestctx.BoundedContextFromContext(ctx),
		Kind:    event.KindSnapshot,
	})
	err = r.store.StoreEvents(ctx, []event.Event{evt})
	var publishErr *eventstore.PublishError
	switch {
	case err == nil, errors.As(err, &publishErr):
		return nil
	case errors.Is(err, ErrConcurrency):
		// A snapshot at this version already exists and holds the same state.
		return nil
	default:
		return fail(err)
	}
}

// Get rebuilds the aggregate with identity id.
func (r *Repository[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	agg := r.factory(id)
	root := agg.AggregateRoot()

	var from uint64
	if r.policy.enabled() {
		snap, err := r.store.LatestEvent(ctx, aggregate.SnapshotStreamID(r.aggregateType, id))
		switch {
		case err == nil:
			if _, err := aggregate.Route(agg, snap); err != nil {
				return zero, fmt.Errorf("route snapshot: %w", err)
			}
			from = snap.Number()
		case errors.Is(err, eventstore.ErrNotFound):
		default:
			return zero, fmt.Errorf("load snapshot: %w", err)
		}
	}

	streamID := aggregate.StreamID(r.aggregateType, id)
	stream, err := r.store.GetEvents(ctx, streamID, event.After(from))
	if err != nil {
		return zero, fmt.Errorf("load events: %w", err)
	}
	next := from + 1
	for _, evt := range stream.Events() {
		if evt.Number() != next {
			return zero, apperrors.WithMetadata(apperrors.CodeStreamGap,
				fmt.Sprintf("%s: expected event %d, found %d", ErrStreamGap.Message, next, evt.Number()),
				map[string]string{
					"stream_id": streamID,
					"expected":  strconv.FormatUint(next, 10),
					"found":     strconv.FormatUint(evt.Number(), 10),
				},
			)
		}
		if _, err := aggregate.Route(agg, evt); err != nil {
			return zero, err
		}
		next++
	}

	if root.Version() == 0 {
		return zero, ErrNotFound
	}
	return agg, nil
}
