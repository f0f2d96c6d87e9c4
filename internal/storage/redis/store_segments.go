package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/louisbranch/eventsaga/internal/storage"
)

// StartSegment creates a segment or restarts a failed one.
func (s *Store) StartSegment(ctx context.Context, segment storage.SegmentRecord) (storage.SegmentRecord, error) {
	if err := s.ready(ctx, segment.TraceID); err != nil {
		return storage.SegmentRecord{}, err
	}
	attempts, err := startSegmentScript.Run(ctx, s.client,
		[]string{s.segmentKey(segment.TraceID, segment.Subject)}, formatMillis(segment.StartedAt)).Int64()
	if err != nil {
		return storage.SegmentRecord{}, translate("start segment", err)
	}
	if attempts < 0 {
		return storage.SegmentRecord{}, storage.ErrAlreadyExists
	}
	segment.Resolution = storage.ResolutionPending
	segment.Error = ""
	segment.Attempts = int(attempts)
	segment.StartedAt = time.UnixMilli(segment.StartedAt.UTC().UnixMilli()).UTC()
	segment.FinishedAt = nil
	return segment, nil
}

// FinishSegment resolves a pending segment.
func (s *Store) FinishSegment(ctx context.Context, traceID, subject string, resolution storage.Resolution, errMsg string, at time.Time) (bool, error) {
	if err := s.ready(ctx, traceID); err != nil {
		return false, err
	}
	code, err := finishSegmentScript.Run(ctx, s.client, []string{s.segmentKey(traceID, subject)},
		string(resolution), errMsg, formatMillis(at)).Int64()
	if err != nil {
		return false, translate("finish segment", err)
	}
	if code < 0 {
		return false, storage.ErrNotFound
	}
	return code == 1, nil
}

// GetSegment returns a segment.
func (s *Store) GetSegment(ctx context.Context, traceID, subject string) (storage.SegmentRecord, error) {
	if err := s.ready(ctx, traceID); err != nil {
		return storage.SegmentRecord{}, err
	}
	fields, err := s.client.HGetAll(ctx, s.segmentKey(traceID, subject)).Result()
	if err != nil {
		return storage.SegmentRecord{}, translate("get segment", err)
	}
	if len(fields) == 0 {
		return storage.SegmentRecord{}, storage.ErrNotFound
	}

	rec := storage.SegmentRecord{
		TraceID:    traceID,
		Subject:    subject,
		Resolution: storage.Resolution(fields["resolution"]),
		Error:      fields["error"],
	}
	if rec.Attempts, err = strconv.Atoi(fields["attempts"]); err != nil {
		return storage.SegmentRecord{}, fmt.Errorf("decode segment attempts: %w", err)
	}
	if rec.StartedAt, err = parseMillis(fields["started_at"]); err != nil {
		return storage.SegmentRecord{}, fmt.Errorf("decode segment started_at: %w", err)
	}
	if rec.FinishedAt, err = parseNullMillis(fields["finished_at"]); err != nil {
		return storage.SegmentRecord{}, fmt.Errorf("decode segment finished_at: %w", err)
	}
	return rec, nil
}
