package repository

import (
	"context"
	"errors"

	"github.com/cenkalti/backoff/v5"
)

// Retry runs fn up to budget times while it fails with ErrConcurrency. fn
// must load, mutate and save from scratch on each call. Other errors and
// context cancellation stop immediately.
func Retry(ctx context.Context, budget int, fn func(ctx context.Context) error) error {
	if budget < 1 {
		budget = 1
	}
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := fn(ctx)
		if err != nil && !errors.Is(err, ErrConcurrency) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(&backoff.ZeroBackOff{}),
		backoff.WithMaxTries(uint(budget)),
		backoff.WithMaxElapsedTime(0),
	)
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return permanent.Err
	}
	return err
}
