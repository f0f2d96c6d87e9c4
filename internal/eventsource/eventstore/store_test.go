package eventstore

import (
	"context"
	"errors"
	"testing"

	"github.com/louisbranch/eventsaga/internal/eventsource/bus"
	"github.com/louisbranch/eventsaga/internal/eventsource/event"
	apperrors "github.com/louisbranch/eventsaga/internal/platform/errors"
	"github.com/louisbranch/eventsaga/internal/storage"
	"github.com/louisbranch/eventsaga/internal/storage/memory"
)

type opened struct {
	Owner string `json:"owner"`
}

func (opened) EventType() event.Type { return "AccountOpened" }

type deposited struct {
	Amount int `json:"amount"`
}

func (deposited) EventType() event.Type { return "AccountDeposited" }

type unknown struct{}

func (unknown) EventType() event.Type { return "Unknown" }

func newRegistry() *event.Registry {
	r := event.NewRegistry()
	event.MustRegister[opened](r)
	event.MustRegister[deposited](r)
	return r
}

func newStore(t *testing.T, opts ...Option) (*Store, *memory.Store) {
	t.Helper()
	log := memory.New()
	s, err := New(log, newRegistry(), opts...)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s, log
}

func account(n uint64, p event.Payload) event.Event {
	return event.New("account-1", n, p, event.Meta{TraceID: "trace-1", Context: "ledger"})
}

func TestNewRequiresDependencies(t *testing.T) {
	if _, err := New(nil, event.NewRegistry()); err == nil {
		t.Fatal("expected missing log error")
	}
	if _, err := New(memory.New(), nil); err == nil {
		t.Fatal("expected missing registry error")
	}
}

func TestStoreAndGetEvents(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	if err := s.StoreEvents(ctx, []event.Event{account(1, opened{Owner: "ada"}), account(2, deposited{Amount: 10})}); err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := s.StoreEvents(ctx, []event.Event{account(3, deposited{Amount: 5})}); err != nil {
		t.Fatalf("store: %v", err)
	}

	stream, err := s.GetEvents(ctx, "account-1", event.Filter{})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	events := stream.Events()
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	for i, evt := range events {
		if evt.Number() != uint64(i+1) {
			t.Fatalf("event %d number = %d", i, evt.Number())
		}
	}
	first, ok := events[0].Payload().(opened)
	if !ok || first.Owner != "ada" {
		t.Fatalf("payload = %#v", events[0].Payload())
	}
	if events[0].TraceID() != "trace-1" || events[0].Context() != "ledger" || events[0].Kind() != event.KindEvent {
		t.Fatalf("envelope = %q/%q/%q", events[0].TraceID(), events[0].Context(), events[0].Kind())
	}

	deposits, err := s.GetEvents(ctx, "account-1", event.Filter{
		Types:   []event.Type{"AccountDeposited"},
		Numbers: event.NumberRange{After: 2},
	})
	if err != nil {
		t.Fatalf("get filtered: %v", err)
	}
	if deposits.Len() != 1 || deposits.Version() != 3 {
		t.Fatalf("filtered len/version = %d/%d, want 1/3", deposits.Len(), deposits.Version())
	}
}

func TestStoreEventsConflictIsConcurrencyError(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	if err := s.StoreEvents(ctx, []event.Event{account(1, opened{})}); err != nil {
		t.Fatalf("store: %v", err)
	}

	err := s.StoreEvents(ctx, []event.Event{account(2, deposited{Amount: 1}), account(1, opened{})})
	if !errors.Is(err, ErrConcurrency) {
		t.Fatalf("expected ErrConcurrency, got %v", err)
	}
	if apperrors.CodeOf(err) != apperrors.CodeConcurrency {
		t.Fatalf("code = %s", apperrors.CodeOf(err))
	}
	stream, err := s.GetEvents(ctx, "account-1", event.Filter{})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stream.Len() != 1 {
		t.Fatalf("stream has %d events after rejected batch, want 1", stream.Len())
	}
}

func TestStoreEventsValidation(t *testing.T) {
	ctx := context.Background()
	s, log := newStore(t)

	tests := []struct {
		name string
		evt  event.Event
		want error
	}{
		{"unregistered", account(1, unknown{}), event.ErrTypeUnregistered},
		{"zero number", account(0, opened{}), event.ErrNumberInvalid},
		{"missing stream", event.New("", 1, opened{}, event.Meta{}), event.ErrStreamIDRequired},
		{"missing payload", account(1, nil), event.ErrPayloadMissing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.StoreEvents(ctx, []event.Event{account(1, opened{}), tt.evt})
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
	records, err := log.ListEvents(ctx, "account-1", storage.EventQuery{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("invalid batches stored %d records", len(records))
	}
}

func TestStoreEventsEmptyBatch(t *testing.T) {
	s, _ := newStore(t)
	if err := s.StoreEvents(context.Background(), nil); err != nil {
		t.Fatalf("empty batch: %v", err)
	}
}

func TestStoreEventsPublishesInOrder(t *testing.T) {
	ctx := context.Background()
	b := bus.New()
	var published []uint64
	_ = b.SubscribeAll(bus.SubscriberFunc(func(_ context.Context, evt event.Event) error {
		published = append(published, evt.Number())
		return nil
	}))
	s, _ := newStore(t, WithPublisher(b))

	if err := s.StoreEvents(ctx, []event.Event{account(1, opened{}), account(2, deposited{}), account(3, deposited{})}); err != nil {
		t.Fatalf("store: %v", err)
	}
	if len(published) != 3 || published[0] != 1 || published[2] != 3 {
		t.Fatalf("published = %v, want [1 2 3]", published)
	}

	if err := s.StoreEvents(ctx, []event.Event{account(3, deposited{})}); !errors.Is(err, ErrConcurrency) {
		t.Fatalf("expected ErrConcurrency, got %v", err)
	}
	if len(published) != 3 {
		t.Fatalf("rejected batch was published: %v", published)
	}
}

func TestStoreEventsPublishFailureKeepsEvents(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("subscriber down")
	b := bus.New()
	_ = b.SubscribeAll(bus.SubscriberFunc(func(context.Context, event.Event) error { return boom }))
	s, _ := newStore(t, WithPublisher(b))

	err := s.StoreEvents(ctx, []event.Event{account(1, opened{})})
	var publishErr *PublishError
	if !errors.As(err, &publishErr) {
		t.Fatalf("expected *PublishError, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Fatal("expected subscriber error in chain")
	}
	if errors.Is(err, ErrConcurrency) {
		t.Fatal("publish failure must not look like a concurrency conflict")
	}
	stream, err := s.GetEvents(ctx, "account-1", event.Filter{})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stream.Len() != 1 {
		t.Fatalf("events not durable after publish failure: %d", stream.Len())
	}
}

func TestLatestEvent(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	if _, err := s.LatestEvent(ctx, "account-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.StoreEvents(ctx, []event.Event{account(1, opened{}), account(2, deposited{Amount: 7})}); err != nil {
		t.Fatalf("store: %v", err)
	}
	latest, err := s.LatestEvent(ctx, "account-1")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.Number() != 2 || latest.Payload().(deposited).Amount != 7 {
		t.Fatalf("latest = %d %#v", latest.Number(), latest.Payload())
	}
}

func TestReadsRequireStreamID(t *testing.T) {
	s, _ := newStore(t)
	if _, err := s.GetEvents(context.Background(), "", event.Filter{}); !errors.Is(err, event.ErrStreamIDRequired) {
		t.Fatalf("get: expected ErrStreamIDRequired, got %v", err)
	}
	if _, err := s.LatestEvent(context.Background(), ""); !errors.Is(err, event.ErrStreamIDRequired) {
		t.Fatalf("latest: expected ErrStreamIDRequired, got %v", err)
	}
}

func TestPublishErrorMatchesCode(t *testing.T) {
	err := &PublishError{Err: errors.New("x")}
	if !errors.Is(err, apperrors.New(apperrors.CodePublishFailed, "")) {
		t.Fatal("expected PUBLISH_FAILED match")
	}
	if errors.Is(err, ErrConcurrency) {
		t.Fatal("publish error must not match concurrency")
	}
}
