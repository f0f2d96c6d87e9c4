package trace

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/louisbranch/eventsaga/internal/storage"
	"github.com/louisbranch/eventsaga/internal/storage/memory"
)

// countingBackend counts GetTrace polls.
type countingBackend struct {
	*memory.Store
	polls atomic.Int32
}

func (b *countingBackend) GetTrace(ctx context.Context, traceID string) (storage.TraceRecord, error) {
	b.polls.Add(1)
	return b.Store.GetTrace(ctx, traceID)
}

func newWatchStore(t *testing.T) (*Store, *countingBackend) {
	t.Helper()
	backend := &countingBackend{Store: memory.New()}
	s, err := New(backend)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s, backend
}

func TestWatchTimesOutAtBackoffRate(t *testing.T) {
	ctx := context.Background()
	s, backend := newWatchStore(t)
	if _, err := s.StartTrace(ctx, NewRequest("t1", "PlaceOrder", "billing")); err != nil {
		t.Fatalf("start: %v", err)
	}
	backend.polls.Store(0)

	timeout := 200 * time.Millisecond
	pause := 50 * time.Millisecond
	started := time.Now()
	_, err := s.WatchTraceResolution(ctx, "t1", WatchOptions{Timeout: timeout, Backoff: pause})
	elapsed := time.Since(started)

	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed < timeout-10*time.Millisecond {
		t.Fatalf("returned after %v, before the %v deadline", elapsed, timeout)
	}
	polls := backend.polls.Load()
	if max := int32(timeout/pause) + 1; polls > max {
		t.Fatalf("polled %d times, want at most %d", polls, max)
	}
	if polls < 2 {
		t.Fatalf("polled %d times, want repeated polling", polls)
	}
}

func TestWatchReturnsOnResolutionAndNotifies(t *testing.T) {
	ctx := context.Background()
	s, _ := newWatchStore(t)
	if _, err := s.StartTrace(ctx, NewRequest("t1", "PlaceOrder", "billing", "shipping")); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.ResolveContext(ctx, report("t1", "billing", Success, "")); err != nil {
		t.Fatalf("resolve billing: %v", err)
	}

	notify := make(chan Integration, 4)
	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = s.ResolveContext(ctx, report("t1", "shipping", Failure, "no carrier"))
	}()

	summary, err := s.WatchTraceResolution(ctx, "t1", WatchOptions{
		Timeout: 2 * time.Second,
		Backoff: 10 * time.Millisecond,
		Notify:  notify,
	})
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	if summary.Resolution != Failure || len(summary.Errors) != 1 || summary.Errors[0] != "no carrier" {
		t.Fatalf("summary = %+v", summary)
	}
	close(notify)
	var contexts []string
	for in := range notify {
		contexts = append(contexts, in.Context)
	}
	if len(contexts) != 2 || contexts[0] != "billing" || contexts[1] != "shipping" {
		t.Fatalf("notified contexts = %v, want [billing shipping]", contexts)
	}
}

func TestWatchResolvedTraceReturnsImmediately(t *testing.T) {
	ctx := context.Background()
	s, backend := newWatchStore(t)
	if _, err := s.StartTrace(ctx, NewRequest("t1", "Ping")); err != nil {
		t.Fatalf("start: %v", err)
	}
	backend.polls.Store(0)
	summary, err := s.WatchTraceResolution(ctx, "t1", WatchOptions{Timeout: time.Second, Backoff: time.Second})
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	if summary.Resolution != Success || backend.polls.Load() != 1 {
		t.Fatalf("summary/polls = %+v/%d", summary, backend.polls.Load())
	}
}

func TestWatchHonoursCancellation(t *testing.T) {
	s, _ := newWatchStore(t)
	if _, err := s.StartTrace(context.Background(), NewRequest("t1", "PlaceOrder", "billing")); err != nil {
		t.Fatalf("start: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	_, err := s.WatchTraceResolution(ctx, "t1", WatchOptions{Timeout: 5 * time.Second, Backoff: 10 * time.Millisecond})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestWatchUnknownTraceFailsFast(t *testing.T) {
	s, backend := newWatchStore(t)
	_, err := s.WatchTraceResolution(context.Background(), "nope", WatchOptions{Timeout: time.Second, Backoff: 10 * time.Millisecond})
	if !errors.Is(err, ErrTraceNotFound) {
		t.Fatalf("expected ErrTraceNotFound, got %v", err)
	}
	if backend.polls.Load() != 1 {
		t.Fatalf("polls = %d, want 1", backend.polls.Load())
	}
}

func TestWatchRejectsNegativeOptions(t *testing.T) {
	s, _ := newWatchStore(t)
	if _, err := s.WatchTraceResolution(context.Background(), "t1", WatchOptions{Timeout: -time.Second}); !errors.Is(err, ErrWatchOptionsInvalid) {
		t.Fatalf("expected ErrWatchOptionsInvalid, got %v", err)
	}
	if _, err := s.WatchTraceResolution(context.Background(), "", WatchOptions{}); !errors.Is(err, ErrTraceIDRequired) {
		t.Fatalf("expected ErrTraceIDRequired, got %v", err)
	}
}
