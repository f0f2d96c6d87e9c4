package trace

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	apperrors "github.com/louisbranch/eventsaga/internal/platform/errors"
	"github.com/louisbranch/eventsaga/internal/platform/timeouts"
	"github.com/louisbranch/eventsaga/internal/storage"
)

// ErrWatchOptionsInvalid indicates a negative timeout or backoff.
var ErrWatchOptionsInvalid = apperrors.New(apperrors.CodeWatchOptionsInvalid, "watch timeout and backoff must not be negative")

var errPending = errors.New("trace pending")

// WatchOptions bounds a watch. Zero durations take the package defaults.
type WatchOptions struct {
	// Timeout caps the whole watch.
	Timeout time.Duration
	// Backoff is the interval between polls.
	Backoff time.Duration
	// Notify, when set, receives every integration the watch observes, in
	// arrival order and once each.
	Notify chan<- Integration
}

// WatchTraceResolution polls a trace until it resolves, the timeout elapses
// (ErrTimeout), or ctx ends (ctx.Err()).
func (s *Store) WatchTraceResolution(ctx context.Context, traceID string, opts WatchOptions) (Summary, error) {
	if traceID == "" {
		return Summary{}, ErrTraceIDRequired
	}
	if opts.Timeout < 0 || opts.Backoff < 0 {
		return Summary{}, ErrWatchOptionsInvalid
	}
	if opts.Timeout == 0 {
		opts.Timeout = timeouts.WatchTrace
	}
	if opts.Backoff == 0 {
		opts.Backoff = timeouts.WatchBackoff
	}

	watchCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	seen := 0
	poll := func() (Summary, error) {
		rec, err := s.backend.GetTrace(watchCtx, traceID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return Summary{}, backoff.Permanent(s.notFound(traceID, err, "get trace"))
			}
			// Transient backend failures are retried until the deadline.
			return Summary{}, err
		}
		for _, in := range rec.Integrations[min(seen, len(rec.Integrations)):] {
			if opts.Notify != nil {
				select {
				case opts.Notify <- fromIntegration(in):
				case <-watchCtx.Done():
					return Summary{}, backoff.Permanent(watchCtx.Err())
				}
			}
			seen++
		}
		if rec.Resolution.Terminal() {
			return fromRecord(rec).Summary(), nil
		}
		return Summary{}, errPending
	}

	summary, err := backoff.Retry(watchCtx, poll,
		backoff.WithBackOff(backoff.NewConstantBackOff(opts.Backoff)),
		backoff.WithMaxElapsedTime(0),
	)
	if err == nil {
		return summary, nil
	}
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Summary{}, ctxErr
	}
	if errors.Is(err, errPending) || errors.Is(err, context.DeadlineExceeded) {
		return Summary{}, apperrors.WrapWithMetadata(apperrors.CodeTimeout, ErrTimeout.Message,
			map[string]string{"trace_id": traceID, "timeout": opts.Timeout.String()}, err)
	}
	return Summary{}, err
}
