// Package errors provides the structured error taxonomy shared by the event
// store, repository, trace store and segment store.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Concurrency and idempotency
	CodeConcurrency   Code = "CONCURRENCY_CONFLICT"
	CodeDuplicateItem Code = "DUPLICATE_ITEM"

	// Lookup errors
	CodeNotFound      Code = "NOT_FOUND"
	CodeTraceNotFound Code = "TRACE_NOT_FOUND"

	// Bounded waits
	CodeTimeout Code = "TIMEOUT"

	// Event validation errors
	CodeStreamIDRequired      Code = "STREAM_ID_REQUIRED"
	CodeEventNumberInvalid    Code = "EVENT_NUMBER_INVALID"
	CodeEventPayloadMissing   Code = "EVENT_PAYLOAD_MISSING"
	CodeEventTypeUnregistered Code = "EVENT_TYPE_UNREGISTERED"
	CodeStreamGap             Code = "STREAM_GAP"

	// Trace validation errors
	CodeTraceIDRequired     Code = "TRACE_ID_REQUIRED"
	CodeTraceIDInvalid      Code = "TRACE_ID_INVALID"
	CodeContextRequired     Code = "CONTEXT_REQUIRED"
	CodeSubjectRequired     Code = "SUBJECT_REQUIRED"
	CodeResolutionInvalid   Code = "RESOLUTION_INVALID"
	CodeWatchOptionsInvalid Code = "WATCH_OPTIONS_INVALID"

	// Post-commit failures; the primary write already succeeded.
	CodePublishFailed  Code = "PUBLISH_FAILED"
	CodeSnapshotFailed Code = "SNAPSHOT_FAILED"

	// Storage errors
	CodeStorageUnavailable Code = "STORAGE_UNAVAILABLE"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - validation failures, bad input
	case CodeStreamIDRequired,
		CodeEventNumberInvalid,
		CodeEventPayloadMissing,
		CodeEventTypeUnregistered,
		CodeTraceIDRequired,
		CodeTraceIDInvalid,
		CodeContextRequired,
		CodeSubjectRequired,
		CodeResolutionInvalid,
		CodeWatchOptionsInvalid:
		return codes.InvalidArgument

	// Aborted - optimistic write lost; caller reloads and retries
	case CodeConcurrency:
		return codes.Aborted

	// AlreadyExists - already handled, do not redo work
	case CodeDuplicateItem:
		return codes.AlreadyExists

	// NotFound - missing record
	case CodeNotFound, CodeTraceNotFound:
		return codes.NotFound

	// DeadlineExceeded - bounded wait elapsed
	case CodeTimeout:
		return codes.DeadlineExceeded

	// FailedPrecondition - stored history violates replay preconditions
	case CodeStreamGap:
		return codes.FailedPrecondition

	// Unavailable - backing store failed
	case CodeStorageUnavailable:
		return codes.Unavailable

	case CodePublishFailed, CodeSnapshotFailed:
		return codes.Internal

	default:
		return codes.Internal
	}
}

// Retryable reports whether a caller may retry the failed operation as is
// or after reloading state.
func (c Code) Retryable() bool {
	switch c {
	case CodeConcurrency, CodeTimeout, CodeStorageUnavailable:
		return true
	default:
		return false
	}
}
