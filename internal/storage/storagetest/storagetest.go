// Package storagetest holds the conformance suite every storage backend runs.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/louisbranch/eventsaga/internal/storage"
)

// Writers is the number of goroutines racing in the concurrency checks.
const Writers = 8

var base = time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)

func record(streamID string, number uint64, topic string) storage.EventRecord {
	return storage.EventRecord{
		StreamID:      streamID,
		Number:        number,
		Topic:         topic,
		SchemaVersion: 1,
		Timestamp:     base.Add(time.Duration(number) * time.Second),
		TraceID:       "trace-" + streamID,
		Context:       "orders",
		Kind:          "event",
		Payload:       []byte(fmt.Sprintf(`{"n":%d}`, number)),
	}
}

func numbers(records []storage.EventRecord) []uint64 {
	out := make([]uint64, len(records))
	for i, rec := range records {
		out[i] = rec.Number
	}
	return out
}

func equalNumbers(got []storage.EventRecord, want ...uint64) bool {
	n := numbers(got)
	if len(n) != len(want) {
		return false
	}
	for i := range n {
		if n[i] != want[i] {
			return false
		}
	}
	return true
}

// RunEventLog checks the storage.EventLog contract against fresh logs.
func RunEventLog(t *testing.T, newLog func(t *testing.T) storage.EventLog) {
	t.Helper()
	ctx := context.Background()

	t.Run("append and list in order", func(t *testing.T) {
		log := newLog(t)
		batch := []storage.EventRecord{record("order-1", 2, "Paid"), record("order-1", 1, "Created")}
		if err := log.AppendEvents(ctx, batch); err != nil {
			t.Fatalf("append: %v", err)
		}
		if err := log.AppendEvents(ctx, []storage.EventRecord{record("order-1", 3, "Shipped")}); err != nil {
			t.Fatalf("append: %v", err)
		}
		got, err := log.ListEvents(ctx, "order-1", storage.EventQuery{})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if !equalNumbers(got, 1, 2, 3) {
			t.Fatalf("numbers = %v, want [1 2 3]", numbers(got))
		}
		want := record("order-1", 2, "Paid")
		rec := got[1]
		if rec.Topic != want.Topic || rec.TraceID != want.TraceID || rec.Context != want.Context ||
			rec.Kind != want.Kind || rec.SchemaVersion != want.SchemaVersion ||
			!rec.Timestamp.Equal(want.Timestamp) || string(rec.Payload) != string(want.Payload) {
			t.Fatalf("record = %+v, want %+v", rec, want)
		}
	})

	t.Run("conflict rejects whole batch", func(t *testing.T) {
		log := newLog(t)
		if err := log.AppendEvents(ctx, []storage.EventRecord{record("order-1", 1, "Created")}); err != nil {
			t.Fatalf("append: %v", err)
		}
		err := log.AppendEvents(ctx, []storage.EventRecord{
			record("order-2", 1, "Created"),
			record("order-1", 2, "Paid"),
			record("order-1", 1, "Created"),
		})
		if !errors.Is(err, storage.ErrConflict) {
			t.Fatalf("expected ErrConflict, got %v", err)
		}
		for _, stream := range []string{"order-1", "order-2"} {
			got, err := log.ListEvents(ctx, stream, storage.EventQuery{})
			if err != nil {
				t.Fatalf("list %s: %v", stream, err)
			}
			want := 0
			if stream == "order-1" {
				want = 1
			}
			if len(got) != want {
				t.Fatalf("%s has %d records after rejected batch, want %d", stream, len(got), want)
			}
		}
	})

	t.Run("duplicate key inside batch conflicts", func(t *testing.T) {
		log := newLog(t)
		err := log.AppendEvents(ctx, []storage.EventRecord{record("order-1", 1, "Created"), record("order-1", 1, "Created")})
		if !errors.Is(err, storage.ErrConflict) {
			t.Fatalf("expected ErrConflict, got %v", err)
		}
		got, err := log.ListEvents(ctx, "order-1", storage.EventQuery{})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(got) != 0 {
			t.Fatalf("expected no records, got %d", len(got))
		}
	})

	t.Run("query bounds", func(t *testing.T) {
		log := newLog(t)
		var batch []storage.EventRecord
		for n := uint64(1); n <= 6; n++ {
			topic := "Created"
			if n%2 == 0 {
				topic = "Paid"
			}
			batch = append(batch, record("order-1", n, topic))
		}
		batch = append(batch, record("order-2", 1, "Paid"))
		if err := log.AppendEvents(ctx, batch); err != nil {
			t.Fatalf("append: %v", err)
		}

		tests := []struct {
			name  string
			query storage.EventQuery
			want  []uint64
		}{
			{"all", storage.EventQuery{}, []uint64{1, 2, 3, 4, 5, 6}},
			{"after", storage.EventQuery{After: 4}, []uint64{5, 6}},
			{"until", storage.EventQuery{Until: 2}, []uint64{1, 2}},
			{"topics", storage.EventQuery{Topics: []string{"Paid"}}, []uint64{2, 4, 6}},
			{"time window", storage.EventQuery{From: base.Add(2 * time.Second), To: base.Add(4 * time.Second)}, []uint64{2, 3}},
			{"combined", storage.EventQuery{Topics: []string{"Created"}, After: 1, Until: 5}, []uint64{3, 5}},
		}
		for _, tt := range tests {
			got, err := log.ListEvents(ctx, "order-1", tt.query)
			if err != nil {
				t.Fatalf("%s: list: %v", tt.name, err)
			}
			if !equalNumbers(got, tt.want...) {
				t.Fatalf("%s: numbers = %v, want %v", tt.name, numbers(got), tt.want)
			}
		}
	})

	t.Run("latest event", func(t *testing.T) {
		log := newLog(t)
		if _, err := log.LatestEvent(ctx, "order-1"); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if err := log.AppendEvents(ctx, []storage.EventRecord{record("order-1", 1, "Created"), record("order-1", 2, "Paid")}); err != nil {
			t.Fatalf("append: %v", err)
		}
		latest, err := log.LatestEvent(ctx, "order-1")
		if err != nil {
			t.Fatalf("latest: %v", err)
		}
		if latest.Number != 2 || latest.Topic != "Paid" {
			t.Fatalf("latest = %+v, want number 2", latest)
		}
	})

	t.Run("concurrent appends exactly one wins", func(t *testing.T) {
		log := newLog(t)
		var wins, conflicts atomic.Int32
		var g errgroup.Group
		for i := 0; i < Writers; i++ {
			g.Go(func() error {
				err := log.AppendEvents(ctx, []storage.EventRecord{record("order-1", 1, "Created"), record("order-1", 2, "Paid")})
				switch {
				case err == nil:
					wins.Add(1)
				case errors.Is(err, storage.ErrConflict):
					conflicts.Add(1)
				default:
					return err
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			t.Fatalf("append: %v", err)
		}
		if wins.Load() != 1 || conflicts.Load() != Writers-1 {
			t.Fatalf("wins/conflicts = %d/%d, want 1/%d", wins.Load(), conflicts.Load(), Writers-1)
		}
		got, err := log.ListEvents(ctx, "order-1", storage.EventQuery{})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if !equalNumbers(got, 1, 2) {
			t.Fatalf("numbers = %v, want [1 2]", numbers(got))
		}
	})
}

func newTrace(id string, contexts ...string) storage.TraceRecord {
	expected := make(map[string]storage.ContextRecord, len(contexts))
	for _, c := range contexts {
		expected[c] = storage.ContextRecord{Context: c, Resolution: storage.ResolutionPending}
	}
	return storage.TraceRecord{
		TraceID:    id,
		Topic:      "PlaceOrder",
		Resolution: storage.ResolutionPending,
		Expected:   expected,
		Unexpected: map[string]storage.ContextRecord{},
		CreatedAt:  base,
	}
}

func report(traceID, context string, resolution storage.Resolution, errMsg string, offset time.Duration) storage.IntegrationRecord {
	return storage.IntegrationRecord{
		TraceID:    traceID,
		Context:    context,
		Topic:      "Reported",
		Resolution: resolution,
		Error:      errMsg,
		ReportedAt: base.Add(offset),
	}
}

// RunTraceStore checks the storage.TraceStore contract against fresh stores.
func RunTraceStore(t *testing.T, newStore func(t *testing.T) storage.TraceStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		store := newStore(t)
		if err := store.CreateTrace(ctx, newTrace("t1", "billing", "shipping")); err != nil {
			t.Fatalf("create: %v", err)
		}
		got, err := store.GetTrace(ctx, "t1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Topic != "PlaceOrder" || got.Resolution != storage.ResolutionPending {
			t.Fatalf("trace = %+v", got)
		}
		if len(got.Expected) != 2 || got.Expected["billing"].Resolution != storage.ResolutionPending {
			t.Fatalf("expected = %+v", got.Expected)
		}
		if !got.CreatedAt.Equal(base) || got.ResolvedAt != nil {
			t.Fatalf("times = %v/%v", got.CreatedAt, got.ResolvedAt)
		}
	})

	t.Run("create terminal trace", func(t *testing.T) {
		store := newStore(t)
		trace := newTrace("t1")
		trace.Resolution = storage.ResolutionSuccess
		at := base
		trace.ResolvedAt = &at
		if err := store.CreateTrace(ctx, trace); err != nil {
			t.Fatalf("create: %v", err)
		}
		got, err := store.GetTrace(ctx, "t1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Resolution != storage.ResolutionSuccess || got.ResolvedAt == nil || !got.ResolvedAt.Equal(at) {
			t.Fatalf("trace = %+v", got)
		}
	})

	t.Run("duplicate create", func(t *testing.T) {
		store := newStore(t)
		if err := store.CreateTrace(ctx, newTrace("t1", "billing")); err != nil {
			t.Fatalf("create: %v", err)
		}
		if err := store.CreateTrace(ctx, newTrace("t1", "shipping")); !errors.Is(err, storage.ErrAlreadyExists) {
			t.Fatalf("expected ErrAlreadyExists, got %v", err)
		}
		got, err := store.GetTrace(ctx, "t1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if _, ok := got.Expected["billing"]; !ok {
			t.Fatal("duplicate create replaced the trace")
		}
	})

	t.Run("missing trace", func(t *testing.T) {
		store := newStore(t)
		if _, err := store.GetTrace(ctx, "nope"); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("get: expected ErrNotFound, got %v", err)
		}
		if _, err := store.ReportContext(ctx, report("nope", "billing", storage.ResolutionSuccess, "", 0)); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("report: expected ErrNotFound, got %v", err)
		}
		if _, err := store.CompleteTrace(ctx, "nope", storage.ResolutionSuccess, nil, base); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("complete: expected ErrNotFound, got %v", err)
		}
	})

	t.Run("first expected report wins", func(t *testing.T) {
		store := newStore(t)
		if err := store.CreateTrace(ctx, newTrace("t1", "billing", "shipping")); err != nil {
			t.Fatalf("create: %v", err)
		}
		out, err := store.ReportContext(ctx, report("t1", "billing", storage.ResolutionFailure, "card declined", time.Second))
		if err != nil {
			t.Fatalf("report: %v", err)
		}
		if !out.Recorded || out.AlreadyResolved || out.Unexpected {
			t.Fatalf("outcome = %+v, want recorded", out)
		}
		out, err = store.ReportContext(ctx, report("t1", "billing", storage.ResolutionSuccess, "", 2*time.Second))
		if err != nil {
			t.Fatalf("report: %v", err)
		}
		if out.Recorded || !out.AlreadyResolved {
			t.Fatalf("outcome = %+v, want already resolved", out)
		}
		got, err := store.GetTrace(ctx, "t1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		billing := got.Expected["billing"]
		if billing.Resolution != storage.ResolutionFailure || billing.Error != "card declined" {
			t.Fatalf("billing = %+v, want first report", billing)
		}
		if billing.ResolvedAt == nil || !billing.ResolvedAt.Equal(base.Add(time.Second)) {
			t.Fatalf("billing resolved at = %v", billing.ResolvedAt)
		}
		if got.Expected["shipping"].Resolution != storage.ResolutionPending {
			t.Fatalf("shipping = %+v, want pending", got.Expected["shipping"])
		}
		if len(got.Integrations) != 2 {
			t.Fatalf("integrations = %d, want 2", len(got.Integrations))
		}
		if got.Integrations[0].Resolution != storage.ResolutionFailure || got.Integrations[1].Resolution != storage.ResolutionSuccess {
			t.Fatalf("integrations out of order: %+v", got.Integrations)
		}
	})

	t.Run("unexpected report keeps latest", func(t *testing.T) {
		store := newStore(t)
		if err := store.CreateTrace(ctx, newTrace("t1", "billing")); err != nil {
			t.Fatalf("create: %v", err)
		}
		for i, res := range []storage.Resolution{storage.ResolutionFailure, storage.ResolutionSuccess} {
			out, err := store.ReportContext(ctx, report("t1", "audit", res, "", time.Duration(i)*time.Second))
			if err != nil {
				t.Fatalf("report: %v", err)
			}
			if !out.Unexpected {
				t.Fatalf("outcome = %+v, want unexpected", out)
			}
		}
		got, err := store.GetTrace(ctx, "t1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Unexpected["audit"].Resolution != storage.ResolutionSuccess {
			t.Fatalf("unexpected = %+v, want latest success", got.Unexpected["audit"])
		}
		if _, ok := got.Expected["audit"]; ok {
			t.Fatal("unexpected context leaked into expected set")
		}
		if got.Expected["billing"].Resolution != storage.ResolutionPending {
			t.Fatal("unexpected report changed expected context")
		}
	})

	t.Run("complete once", func(t *testing.T) {
		store := newStore(t)
		if err := store.CreateTrace(ctx, newTrace("t1", "billing")); err != nil {
			t.Fatalf("create: %v", err)
		}
		applied, err := store.CompleteTrace(ctx, "t1", storage.ResolutionFailure, []string{"card declined"}, base.Add(time.Minute))
		if err != nil || !applied {
			t.Fatalf("complete = %v, %v; want true", applied, err)
		}
		applied, err = store.CompleteTrace(ctx, "t1", storage.ResolutionSuccess, nil, base.Add(2*time.Minute))
		if err != nil || applied {
			t.Fatalf("second complete = %v, %v; want false", applied, err)
		}
		got, err := store.GetTrace(ctx, "t1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Resolution != storage.ResolutionFailure || len(got.Errors) != 1 || got.Errors[0] != "card declined" {
			t.Fatalf("trace = %+v", got)
		}
		if got.ResolvedAt == nil || !got.ResolvedAt.Equal(base.Add(time.Minute)) {
			t.Fatalf("resolved at = %v", got.ResolvedAt)
		}
	})

	t.Run("concurrent reports on disjoint contexts", func(t *testing.T) {
		store := newStore(t)
		contexts := make([]string, Writers)
		for i := range contexts {
			contexts[i] = fmt.Sprintf("ctx-%d", i)
		}
		if err := store.CreateTrace(ctx, newTrace("t1", contexts...)); err != nil {
			t.Fatalf("create: %v", err)
		}
		var g errgroup.Group
		for _, c := range contexts {
			g.Go(func() error {
				_, err := store.ReportContext(ctx, report("t1", c, storage.ResolutionSuccess, "", 0))
				return err
			})
		}
		if err := g.Wait(); err != nil {
			t.Fatalf("report: %v", err)
		}
		got, err := store.GetTrace(ctx, "t1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		for _, c := range contexts {
			if got.Expected[c].Resolution != storage.ResolutionSuccess {
				t.Fatalf("context %s = %+v, want success", c, got.Expected[c])
			}
		}
		if len(got.Integrations) != Writers {
			t.Fatalf("integrations = %d, want %d", len(got.Integrations), Writers)
		}
	})
}

// RunSegmentStore checks the storage.SegmentStore contract against fresh
// stores.
func RunSegmentStore(t *testing.T, newStore func(t *testing.T) storage.SegmentStore) {
	t.Helper()
	ctx := context.Background()
	start := storage.SegmentRecord{TraceID: "t1", Subject: "ReserveStock", StartedAt: base}

	t.Run("start and get", func(t *testing.T) {
		store := newStore(t)
		got, err := store.StartSegment(ctx, start)
		if err != nil {
			t.Fatalf("start: %v", err)
		}
		if got.Resolution != storage.ResolutionPending || got.Attempts != 1 {
			t.Fatalf("segment = %+v", got)
		}
		stored, err := store.GetSegment(ctx, "t1", "ReserveStock")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if stored.Resolution != storage.ResolutionPending || stored.Attempts != 1 || !stored.StartedAt.Equal(base) || stored.FinishedAt != nil {
			t.Fatalf("stored = %+v", stored)
		}
	})

	t.Run("pending and success reject restart", func(t *testing.T) {
		store := newStore(t)
		if _, err := store.StartSegment(ctx, start); err != nil {
			t.Fatalf("start: %v", err)
		}
		if _, err := store.StartSegment(ctx, start); !errors.Is(err, storage.ErrAlreadyExists) {
			t.Fatalf("pending restart: expected ErrAlreadyExists, got %v", err)
		}
		applied, err := store.FinishSegment(ctx, "t1", "ReserveStock", storage.ResolutionSuccess, "", base.Add(time.Second))
		if err != nil || !applied {
			t.Fatalf("finish = %v, %v", applied, err)
		}
		if _, err := store.StartSegment(ctx, start); !errors.Is(err, storage.ErrAlreadyExists) {
			t.Fatalf("success restart: expected ErrAlreadyExists, got %v", err)
		}
	})

	t.Run("failure restarts", func(t *testing.T) {
		store := newStore(t)
		if _, err := store.StartSegment(ctx, start); err != nil {
			t.Fatalf("start: %v", err)
		}
		if _, err := store.FinishSegment(ctx, "t1", "ReserveStock", storage.ResolutionFailure, "out of stock", base.Add(time.Second)); err != nil {
			t.Fatalf("finish: %v", err)
		}
		failed, err := store.GetSegment(ctx, "t1", "ReserveStock")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if failed.Resolution != storage.ResolutionFailure || failed.Error != "out of stock" || failed.FinishedAt == nil {
			t.Fatalf("failed = %+v", failed)
		}

		restart := start
		restart.StartedAt = base.Add(time.Minute)
		got, err := store.StartSegment(ctx, restart)
		if err != nil {
			t.Fatalf("restart: %v", err)
		}
		if got.Resolution != storage.ResolutionPending || got.Attempts != 2 {
			t.Fatalf("restarted = %+v", got)
		}
		stored, err := store.GetSegment(ctx, "t1", "ReserveStock")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if stored.Error != "" || stored.FinishedAt != nil || stored.Attempts != 2 || !stored.StartedAt.Equal(restart.StartedAt) {
			t.Fatalf("stored = %+v", stored)
		}
	})

	t.Run("finish only pending", func(t *testing.T) {
		store := newStore(t)
		if _, err := store.FinishSegment(ctx, "t1", "ReserveStock", storage.ResolutionSuccess, "", base); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if _, err := store.StartSegment(ctx, start); err != nil {
			t.Fatalf("start: %v", err)
		}
		if applied, err := store.FinishSegment(ctx, "t1", "ReserveStock", storage.ResolutionSuccess, "", base); err != nil || !applied {
			t.Fatalf("finish = %v, %v", applied, err)
		}
		if applied, err := store.FinishSegment(ctx, "t1", "ReserveStock", storage.ResolutionFailure, "late", base); err != nil || applied {
			t.Fatalf("second finish = %v, %v; want false", applied, err)
		}
		stored, err := store.GetSegment(ctx, "t1", "ReserveStock")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if stored.Resolution != storage.ResolutionSuccess {
			t.Fatalf("resolution = %s, want success", stored.Resolution)
		}
	})

	t.Run("missing segment", func(t *testing.T) {
		store := newStore(t)
		if _, err := store.GetSegment(ctx, "t1", "nope"); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("concurrent start exactly one wins", func(t *testing.T) {
		store := newStore(t)
		var wins, dups atomic.Int32
		var g errgroup.Group
		for i := 0; i < Writers; i++ {
			g.Go(func() error {
				_, err := store.StartSegment(ctx, start)
				switch {
				case err == nil:
					wins.Add(1)
				case errors.Is(err, storage.ErrAlreadyExists):
					dups.Add(1)
				default:
					return err
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			t.Fatalf("start: %v", err)
		}
		if wins.Load() != 1 || dups.Load() != Writers-1 {
			t.Fatalf("wins/dups = %d/%d, want 1/%d", wins.Load(), dups.Load(), Writers-1)
		}
	})
}
