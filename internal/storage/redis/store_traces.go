package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/louisbranch/eventsaga/internal/storage"
)

func appendContexts(args []any, contexts map[string]storage.ContextRecord) ([]any, error) {
	args = append(args, len(contexts))
	for name, c := range contexts {
		detail, err := encodeDetail(c)
		if err != nil {
			return nil, err
		}
		args = append(args, name, string(c.Resolution), detail)
	}
	return args, nil
}

// CreateTrace stores a new trace.
func (s *Store) CreateTrace(ctx context.Context, rec storage.TraceRecord) error {
	if err := s.ready(ctx, rec.TraceID); err != nil {
		return err
	}
	errs, err := encodeErrors(rec.Errors)
	if err != nil {
		return fmt.Errorf("encode trace errors: %w", err)
	}
	args := []any{rec.Topic, string(rec.Resolution), errs, formatMillis(rec.CreatedAt), formatNullMillis(rec.ResolvedAt)}
	if args, err = appendContexts(args, rec.Expected); err != nil {
		return fmt.Errorf("encode expected contexts: %w", err)
	}
	if args, err = appendContexts(args, rec.Unexpected); err != nil {
		return fmt.Errorf("encode unexpected contexts: %w", err)
	}
	for _, in := range rec.Integrations {
		entry, err := encodeHistory(in)
		if err != nil {
			return fmt.Errorf("encode integration: %w", err)
		}
		args = append(args, entry)
	}

	created, err := createTraceScript.Run(ctx, s.client, s.traceKeys(rec.TraceID), args...).Int64()
	if err != nil {
		return translate("create trace", err)
	}
	if created == 0 {
		return storage.ErrAlreadyExists
	}
	return nil
}

// GetTrace reads every trace key in one MULTI block.
func (s *Store) GetTrace(ctx context.Context, traceID string) (storage.TraceRecord, error) {
	if err := s.ready(ctx, traceID); err != nil {
		return storage.TraceRecord{}, err
	}
	keys := s.traceKeys(traceID)

	var (
		head       *redis.MapStringStringCmd
		expected   *redis.MapStringStringCmd
		unexpected *redis.MapStringStringCmd
		details    *redis.MapStringStringCmd
		history    *redis.StringSliceCmd
	)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		head = pipe.HGetAll(ctx, keys[0])
		expected = pipe.HGetAll(ctx, keys[1])
		unexpected = pipe.HGetAll(ctx, keys[2])
		details = pipe.HGetAll(ctx, keys[3])
		history = pipe.LRange(ctx, keys[4], 0, -1)
		return nil
	})
	if err != nil {
		return storage.TraceRecord{}, translate("get trace", err)
	}
	fields := head.Val()
	if len(fields) == 0 {
		return storage.TraceRecord{}, storage.ErrNotFound
	}

	rec, err := decodeTrace(traceID, fields, expected.Val(), unexpected.Val(), details.Val(), history.Val())
	if err != nil {
		return storage.TraceRecord{}, fmt.Errorf("decode trace %s: %w", traceID, err)
	}
	return rec, nil
}

func decodeTrace(traceID string, head, expected, unexpected, details map[string]string, history []string) (storage.TraceRecord, error) {
	rec := storage.TraceRecord{
		TraceID:    traceID,
		Topic:      head["topic"],
		Resolution: storage.Resolution(head["resolution"]),
		Expected:   make(map[string]storage.ContextRecord, len(expected)),
		Unexpected: make(map[string]storage.ContextRecord, len(unexpected)),
	}
	var err error
	if rec.CreatedAt, err = parseMillis(head["created_at"]); err != nil {
		return rec, fmt.Errorf("created_at: %w", err)
	}
	if rec.ResolvedAt, err = parseNullMillis(head["resolved_at"]); err != nil {
		return rec, fmt.Errorf("resolved_at: %w", err)
	}
	if rec.Errors, err = decodeErrors(head["errors"]); err != nil {
		return rec, fmt.Errorf("errors: %w", err)
	}
	for name, resolution := range expected {
		if rec.Expected[name], err = decodeDetail(name, resolution, details[name]); err != nil {
			return rec, fmt.Errorf("context %s: %w", name, err)
		}
	}
	for name, resolution := range unexpected {
		if rec.Unexpected[name], err = decodeDetail(name, resolution, details[name]); err != nil {
			return rec, fmt.Errorf("context %s: %w", name, err)
		}
	}
	for _, raw := range history {
		in, err := decodeHistory(traceID, raw)
		if err != nil {
			return rec, fmt.Errorf("history: %w", err)
		}
		rec.Integrations = append(rec.Integrations, in)
	}
	return rec, nil
}

// ReportContext appends report to the history and records its resolution.
func (s *Store) ReportContext(ctx context.Context, report storage.IntegrationRecord) (storage.ReportOutcome, error) {
	if err := s.ready(ctx, report.TraceID); err != nil {
		return storage.ReportOutcome{}, err
	}
	resolvedAt := report.ReportedAt
	detail, err := encodeDetail(storage.ContextRecord{Error: report.Error, ResolvedAt: &resolvedAt})
	if err != nil {
		return storage.ReportOutcome{}, fmt.Errorf("encode context detail: %w", err)
	}
	entry, err := encodeHistory(report)
	if err != nil {
		return storage.ReportOutcome{}, fmt.Errorf("encode integration: %w", err)
	}

	code, err := reportContextScript.Run(ctx, s.client, s.traceKeys(report.TraceID),
		report.Context, string(report.Resolution), detail, entry).Int64()
	if err != nil {
		return storage.ReportOutcome{}, translate("report context", err)
	}
	switch code {
	case -1:
		return storage.ReportOutcome{}, storage.ErrNotFound
	case 0:
		return storage.ReportOutcome{Recorded: true}, nil
	case 1:
		return storage.ReportOutcome{AlreadyResolved: true}, nil
	case 2:
		return storage.ReportOutcome{Unexpected: true}, nil
	default:
		return storage.ReportOutcome{}, fmt.Errorf("report context: unexpected script result %d", code)
	}
}

// CompleteTrace moves a pending trace to resolution.
func (s *Store) CompleteTrace(ctx context.Context, traceID string, resolution storage.Resolution, errs []string, at time.Time) (bool, error) {
	if err := s.ready(ctx, traceID); err != nil {
		return false, err
	}
	encoded, err := encodeErrors(errs)
	if err != nil {
		return false, fmt.Errorf("encode trace errors: %w", err)
	}
	code, err := completeTraceScript.Run(ctx, s.client, s.traceKeys(traceID)[:1],
		string(resolution), encoded, formatMillis(at)).Int64()
	if err != nil {
		return false, translate("complete trace", err)
	}
	if code < 0 {
		return false, storage.ErrNotFound
	}
	return code == 1, nil
}
