// Package segment guards message handlers with per-(trace, subject)
// idempotency tokens.
//
// A handler starts a segment before doing its work and ends it afterwards.
// Redelivered messages find the existing token and are skipped, unless the
// previous attempt failed, in which case the segment restarts.
package segment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	apperrors "github.com/louisbranch/eventsaga/internal/platform/errors"
	"github.com/louisbranch/eventsaga/internal/platform/timeouts"
	"github.com/louisbranch/eventsaga/internal/storage"
)

var (
	// ErrDuplicateItem indicates the message is in progress or already handled.
	ErrDuplicateItem = apperrors.New(apperrors.CodeDuplicateItem, "segment already started")
	// ErrNotFound indicates an unknown segment.
	ErrNotFound = apperrors.New(apperrors.CodeNotFound, "segment not found")
	// ErrTraceIDRequired indicates a message without a trace id.
	ErrTraceIDRequired = apperrors.New(apperrors.CodeTraceIDRequired, "trace id is required")
	// ErrSubjectRequired indicates a message without a subject.
	ErrSubjectRequired = apperrors.New(apperrors.CodeSubjectRequired, "segment subject is required")
)

// Resolution re-exports the storage resolution states.
type Resolution = storage.Resolution

// Message identifies one unit of handler work.
type Message interface {
	TraceID() string
	// Subject names the work within the trace, e.g. "billing/OrderCreated".
	Subject() string
}

// Key addresses a segment. It implements Message.
type Key struct {
	Trace string
	Name  string
}

// TraceID returns k.Trace.
func (k Key) TraceID() string { return k.Trace }

// Subject returns k.Name.
func (k Key) Subject() string { return k.Name }

// String formats k as "TRACE/SUBJECT", the form ParseKey reads.
func (k Key) String() string { return k.Trace + "/" + k.Name }

// ParseKey splits "TRACE/SUBJECT" at the first slash.
func ParseKey(raw string) (Key, error) {
	trace, subject, ok := strings.Cut(strings.TrimSpace(raw), "/")
	if !ok || trace == "" || subject == "" {
		return Key{}, fmt.Errorf("segment key %q must be TRACE/SUBJECT", raw)
	}
	return Key{Trace: trace, Name: subject}, nil
}

// Info is a read-only view of a stored segment.
type Info struct {
	Key        Key
	Resolution Resolution
	Error      string
	Attempts   int
	StartedAt  time.Time
	FinishedAt *time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for failed segments.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Store hands out segments backed by a storage.SegmentStore.
type Store struct {
	backend storage.SegmentStore
	logger  *slog.Logger
	now     func() time.Time
}

// New returns a segment store.
func New(backend storage.SegmentStore, opts ...Option) (*Store, error) {
	if backend == nil {
		return nil, errors.New("segment backend is required")
	}
	s := &Store{backend: backend, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) clock() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

// Segment is a started segment. End resolves it.
type Segment struct {
	store    *Store
	key      Key
	attempts int

	once sync.Once
	err  error
}

// Key returns the segment address.
func (g *Segment) Key() Key { return g.key }

// Attempts returns the attempt number this segment represents, starting at 1.
func (g *Segment) Attempts() int { return g.attempts }

func keyOf(msg Message) (Key, error) {
	if msg == nil {
		return Key{}, ErrTraceIDRequired
	}
	key := Key{Trace: strings.TrimSpace(msg.TraceID()), Name: strings.TrimSpace(msg.Subject())}
	if key.Trace == "" {
		return Key{}, ErrTraceIDRequired
	}
	if key.Name == "" {
		return Key{}, ErrSubjectRequired
	}
	return key, nil
}

// StartTraceSegment claims msg. It returns ErrDuplicateItem when the segment
// is pending or succeeded; a failed segment is restarted.
func (s *Store) StartTraceSegment(ctx context.Context, msg Message) (*Segment, error) {
	key, err := keyOf(msg)
	if err != nil {
		return nil, err
	}
	rec, err := s.backend.StartSegment(ctx, storage.SegmentRecord{
		TraceID:   key.Trace,
		Subject:   key.Name,
		StartedAt: s.clock(),
	})
	if err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, apperrors.WithMetadata(apperrors.CodeDuplicateItem, ErrDuplicateItem.Message,
				map[string]string{"trace_id": key.Trace, "subject": key.Name})
		}
		return nil, fmt.Errorf("start segment %s: %w", key, err)
	}
	return &Segment{store: s, key: key, attempts: rec.Attempts}, nil
}

// End resolves the segment: success when cause is nil, failure carrying
// cause.Error() otherwise. The write outlives cancellation of ctx, bounded
// by timeouts.FinishSegment. Only the first call has an effect; later calls
// return the first call's result.
func (g *Segment) End(ctx context.Context, cause error) error {
	g.once.Do(func() {
		resolution, msg := storage.ResolutionSuccess, ""
		if cause != nil {
			resolution, msg = storage.ResolutionFailure, cause.Error()
		}
		s := g.store
		// The resolution must land even when ctx is what failed the handler;
		// a segment left pending can never restart.
		finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeouts.FinishSegment)
		defer cancel()
		if _, err := s.backend.FinishSegment(finishCtx, g.key.Trace, g.key.Name, resolution, msg, s.clock()); err != nil {
			g.err = fmt.Errorf("finish segment %s: %w", g.key, err)
			return
		}
		if cause != nil {
			s.logger.WarnContext(ctx, "segment failed",
				"trace_id", g.key.Trace, "subject", g.key.Name, "attempts", g.attempts, "error", msg)
		}
	})
	return g.err
}

// Run starts msg, runs fn and ends the segment with fn's result. A panic in
// fn fails the segment and is re-raised. When the segment is already
// claimed fn does not run and ErrDuplicateItem is returned.
func (s *Store) Run(ctx context.Context, msg Message, fn func(context.Context) error) error {
	seg, err := s.StartTraceSegment(ctx, msg)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			_ = seg.End(ctx, fmt.Errorf("panic: %v", r))
			panic(r)
		}
	}()

	runErr := fn(ctx)
	if endErr := seg.End(ctx, runErr); endErr != nil {
		return errors.Join(runErr, endErr)
	}
	return runErr
}

// Get returns the stored state of a segment.
func (s *Store) Get(ctx context.Context, key Key) (Info, error) {
	key, err := keyOf(key)
	if err != nil {
		return Info{}, err
	}
	rec, err := s.backend.GetSegment(ctx, key.Trace, key.Name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Info{}, apperrors.WithMetadata(apperrors.CodeNotFound, ErrNotFound.Message,
				map[string]string{"trace_id": key.Trace, "subject": key.Name})
		}
		return Info{}, fmt.Errorf("get segment %s: %w", key, err)
	}
	return Info{
		Key:        key,
		Resolution: rec.Resolution,
		Error:      rec.Error,
		Attempts:   rec.Attempts,
		StartedAt:  rec.StartedAt,
		FinishedAt: rec.FinishedAt,
	}, nil
}
