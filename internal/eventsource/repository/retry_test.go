package repository

import (
	"context"
	"errors"
	"testing"
)

func TestRetryRetriesConcurrencyConflicts(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 3, func(context.Context) error {
		calls++
		if calls < 3 {
			return ErrConcurrency
		}
		return nil
	})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestRetryStopsAtBudget(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 2, func(context.Context) error {
		calls++
		return ErrConcurrency
	})
	if !errors.Is(err, ErrConcurrency) {
		t.Fatalf("expected ErrConcurrency, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestRetryDoesNotRetryOtherErrors(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := Retry(context.Background(), 5, func(context.Context) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestRetryRunsAtLeastOnce(t *testing.T) {
	calls := 0
	if err := Retry(context.Background(), 0, func(context.Context) error {
		calls++
		return nil
	}); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestRetryReloadsAndSaves(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t, newEventStore(t))

	seed := orderWith(t, repo)
	stale, err := repo.Get(ctx, seed)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	winner, err := repo.Get(ctx, seed)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if err := winner.Pay(ctx, 1); err != nil {
		t.Fatalf("pay: %v", err)
	}
	if err := repo.Save(ctx, winner); err != nil {
		t.Fatalf("save: %v", err)
	}

	attempts := 0
	err = Retry(ctx, 3, func(ctx context.Context) error {
		attempts++
		o := stale
		if attempts > 1 {
			reloaded, err := repo.Get(ctx, seed)
			if err != nil {
				return err
			}
			o = reloaded
		}
		if err := o.Pay(ctx, 2); err != nil {
			return err
		}
		return repo.Save(ctx, o)
	})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	loaded, err := repo.Get(ctx, seed)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("attempts = %d, want 2", attempts)
	}
	if loaded.Paid != 3 || loaded.Version() != 3 {
		t.Fatalf("paid/version = %d/%d, want 3/3", loaded.Paid, loaded.Version())
	}
}
