// Package redis implements the trace store and the segment store on Redis.
//
// Conditional writes run as Lua scripts, which Redis executes atomically, so
// several processes may share one trace without a lock. Keys carry hash tags
// and work against Redis Cluster.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/louisbranch/eventsaga/internal/platform/errors"
	"github.com/louisbranch/eventsaga/internal/storage"
)

const defaultPrefix = "eventsaga"

// Option configures a Store.
type Option func(*Store)

// WithPrefix namespaces every key.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix = strings.TrimSpace(prefix); prefix != "" {
			s.prefix = prefix
		}
	}
}

// Store is a Redis-backed storage.TraceStore and storage.SegmentStore.
type Store struct {
	client redis.UniversalClient
	prefix string
	owned  bool
}

var (
	_ storage.TraceStore   = (*Store)(nil)
	_ storage.SegmentStore = (*Store)(nil)
)

// New wraps an existing client. Close does not close it.
func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{client: client, prefix: defaultPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects to addr and verifies the connection.
func Open(ctx context.Context, addr string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	s := New(client, opts...)
	s.owned = true
	return s, nil
}

// Close closes the client when the store opened it.
func (s *Store) Close() error {
	if s == nil || s.client == nil || !s.owned {
		return nil
	}
	return s.client.Close()
}

// ErrTraceIDInvalid indicates a trace id that would break the key hash tag.
var ErrTraceIDInvalid = apperrors.New(apperrors.CodeTraceIDInvalid, "trace id must not contain braces")

func (s *Store) ready(ctx context.Context, traceID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.client == nil {
		return fmt.Errorf("storage is not configured")
	}
	// Every key of a trace hashes on {traceID}; a brace inside it would move
	// keys of one script onto different cluster slots.
	if strings.ContainsAny(traceID, "{}") {
		return apperrors.WithMetadata(apperrors.CodeTraceIDInvalid, ErrTraceIDInvalid.Message,
			map[string]string{"trace_id": traceID})
	}
	return nil
}

func (s *Store) traceKeys(traceID string) []string {
	base := s.prefix + ":trace:{" + traceID + "}"
	return []string{base, base + ":expected", base + ":unexpected", base + ":details", base + ":history"}
}

func (s *Store) segmentKey(traceID, subject string) string {
	return s.prefix + ":segment:{" + traceID + "}:" + subject
}

func translate(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return storage.Unavailable(op, err)
	}
}

func formatMillis(t time.Time) string {
	return strconv.FormatInt(t.UTC().UnixMilli(), 10)
}

func formatNullMillis(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatMillis(*t)
}

func parseMillis(raw string) (time.Time, error) {
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}

func parseNullMillis(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := parseMillis(raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// contextDetail is the stored form of a context's error and resolution time.
type contextDetail struct {
	Error      string `json:"error,omitempty"`
	ResolvedAt int64  `json:"resolved_at,omitempty"`
}

func encodeDetail(c storage.ContextRecord) (string, error) {
	d := contextDetail{Error: c.Error}
	if c.ResolvedAt != nil {
		d.ResolvedAt = c.ResolvedAt.UTC().UnixMilli()
	}
	data, err := json.Marshal(d)
	return string(data), err
}

func decodeDetail(name, resolution, raw string) (storage.ContextRecord, error) {
	c := storage.ContextRecord{Context: name, Resolution: storage.Resolution(resolution)}
	if raw == "" {
		return c, nil
	}
	var d contextDetail
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return c, err
	}
	c.Error = d.Error
	if d.ResolvedAt != 0 {
		t := time.UnixMilli(d.ResolvedAt).UTC()
		c.ResolvedAt = &t
	}
	return c, nil
}

// historyEntry is the stored form of one integration report.
type historyEntry struct {
	Context    string `json:"context"`
	Topic      string `json:"topic,omitempty"`
	Resolution string `json:"resolution"`
	Error      string `json:"error,omitempty"`
	ReportedAt int64  `json:"reported_at"`
}

func encodeHistory(in storage.IntegrationRecord) (string, error) {
	data, err := json.Marshal(historyEntry{
		Context:    in.Context,
		Topic:      in.Topic,
		Resolution: string(in.Resolution),
		Error:      in.Error,
		ReportedAt: in.ReportedAt.UTC().UnixMilli(),
	})
	return string(data), err
}

func decodeHistory(traceID, raw string) (storage.IntegrationRecord, error) {
	var h historyEntry
	if err := json.Unmarshal([]byte(raw), &h); err != nil {
		return storage.IntegrationRecord{}, err
	}
	return storage.IntegrationRecord{
		TraceID:    traceID,
		Context:    h.Context,
		Topic:      h.Topic,
		Resolution: storage.Resolution(h.Resolution),
		Error:      h.Error,
		ReportedAt: time.UnixMilli(h.ReportedAt).UTC(),
	}, nil
}

func encodeErrors(errs []string) (string, error) {
	if len(errs) == 0 {
		return "", nil
	}
	data, err := json.Marshal(errs)
	return string(data), err
}

func decodeErrors(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	var errs []string
	err := json.Unmarshal([]byte(raw), &errs)
	return errs, err
}
