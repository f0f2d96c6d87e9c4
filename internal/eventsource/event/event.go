package event

import (
	"strings"
	"time"

	apperrors "github.com/louisbranch/eventsaga/internal/platform/errors"
)

var (
	// ErrStreamIDRequired indicates an event without a stream id.
	ErrStreamIDRequired = apperrors.New(apperrors.CodeStreamIDRequired, "stream id is required")
	// ErrNumberInvalid indicates an event number of zero.
	ErrNumberInvalid = apperrors.New(apperrors.CodeEventNumberInvalid, "event number must be greater than zero")
	// ErrPayloadMissing indicates an event without a payload.
	ErrPayloadMissing = apperrors.New(apperrors.CodeEventPayloadMissing, "event payload is required")
	// ErrTypeUnregistered indicates a payload type unknown to the registry.
	ErrTypeUnregistered = apperrors.New(apperrors.CodeEventTypeUnregistered, "event type is not registered")
)

// Type names a payload variant. It is stored as the event topic.
type Type string

// Kind separates domain facts from state checkpoints.
type Kind string

const (
	// KindEvent marks a domain fact.
	KindEvent Kind = "event"
	// KindSnapshot marks folded aggregate state.
	KindSnapshot Kind = "snapshot"
)

// Payload is the domain content of an event.
type Payload interface {
	EventType() Type
}

// Versioned is implemented by payloads whose schema evolved past version 1.
type Versioned interface {
	SchemaVersion() int
}

// Key identifies an event within the whole store.
type Key struct {
	StreamID string
	Number   uint64
}

// Meta carries the envelope fields of a new event. Zero values take defaults:
// the current UTC time, KindEvent and the payload's own schema version.
type Meta struct {
	Timestamp     time.Time
	TraceID       string
	Context       string
	Kind          Kind
	SchemaVersion int
}

// Event is an immutable, numbered fact in one stream.
type Event struct {
	streamID      string
	number        uint64
	timestamp     time.Time
	traceID       string
	context       string
	schemaVersion int
	kind          Kind
	payload       Payload
}

// New builds an event. Timestamps are normalized to UTC millisecond
// precision, the resolution every backend persists.
func New(streamID string, number uint64, payload Payload, meta Meta) Event {
	ts := meta.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	kind := meta.Kind
	if kind == "" {
		kind = KindEvent
	}
	schemaVersion := meta.SchemaVersion
	if schemaVersion <= 0 {
		schemaVersion = schemaVersionOf(payload)
	}
	return Event{
		streamID:      strings.TrimSpace(streamID),
		number:        number,
		timestamp:     ts.UTC().Truncate(time.Millisecond),
		traceID:       meta.TraceID,
		context:       meta.Context,
		schemaVersion: schemaVersion,
		kind:          kind,
		payload:       payload,
	}
}

func schemaVersionOf(payload Payload) int {
	if v, ok := payload.(Versioned); ok && v.SchemaVersion() > 0 {
		return v.SchemaVersion()
	}
	return 1
}

// Accessors for the immutable fields set by New.
func (e Event) StreamID() string     { return e.streamID }
func (e Event) Number() uint64       { return e.number }
func (e Event) Timestamp() time.Time { return e.timestamp }
func (e Event) TraceID() string      { return e.traceID }
func (e Event) Context() string      { return e.context }
func (e Event) SchemaVersion() int   { return e.schemaVersion }
func (e Event) Kind() Kind           { return e.kind }
func (e Event) Payload() Payload     { return e.payload }

// Key returns the identity of the event.
func (e Event) Key() Key {
	return Key{StreamID: e.streamID, Number: e.number}
}

// Type returns the payload type, or "" when the payload is missing.
func (e Event) Type() Type {
	if e.payload == nil {
		return ""
	}
	return e.payload.EventType()
}

// Equal reports whether both events share a key.
func (e Event) Equal(other Event) bool {
	return e.Key() == other.Key()
}

// Validate checks the envelope invariants every stored event must meet.
func (e Event) Validate() error {
	if e.streamID == "" {
		return ErrStreamIDRequired
	}
	if e.number == 0 {
		return ErrNumberInvalid
	}
	if e.payload == nil {
		return ErrPayloadMissing
	}
	return nil
}
