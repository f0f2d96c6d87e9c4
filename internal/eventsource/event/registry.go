package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
)

type decodeFunc func([]byte) (Payload, error)

// Registry maps payload types to JSON decoders. Each type registers once.
type Registry struct {
	mu       sync.RWMutex
	decoders map[Type]decodeFunc
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{decoders: make(map[Type]decodeFunc)}
}

// Register adds payload type P. P must be a value type whose EventType works
// on its zero value.
func Register[P Payload](r *Registry) error {
	if r == nil {
		return errors.New("registry is required")
	}
	var zero P
	typ := Type(strings.TrimSpace(string(zero.EventType())))
	if typ == "" {
		return errors.New("event type is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.decoders == nil {
		r.decoders = make(map[Type]decodeFunc)
	}
	if _, exists := r.decoders[typ]; exists {
		return fmt.Errorf("event type already registered: %s", typ)
	}
	r.decoders[typ] = func(data []byte) (Payload, error) {
		var payload P
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, err
		}
		return payload, nil
	}
	return nil
}

// MustRegister is Register for package initialization; it panics on error.
func MustRegister[P Payload](r *Registry) {
	if err := Register[P](r); err != nil {
		panic(err)
	}
}

// Registered reports whether typ has a decoder.
func (r *Registry) Registered(typ Type) bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.decoders[typ]
	return ok
}

// Types returns the registered types in lexical order.
func (r *Registry) Types() []Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]Type, 0, len(r.decoders))
	for typ := range r.decoders {
		types = append(types, typ)
	}
	slices.Sort(types)
	return types
}

// Encode marshals a registered payload to JSON.
func (r *Registry) Encode(payload Payload) ([]byte, error) {
	if payload == nil {
		return nil, ErrPayloadMissing
	}
	typ := payload.EventType()
	if !r.Registered(typ) {
		return nil, fmt.Errorf("%w: %s", ErrTypeUnregistered, typ)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", typ, err)
	}
	return data, nil
}

// Decode unmarshals JSON into the payload registered for typ.
func (r *Registry) Decode(typ Type, data []byte) (Payload, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: %s", ErrTypeUnregistered, typ)
	}
	r.mu.RLock()
	decode, ok := r.decoders[typ]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTypeUnregistered, typ)
	}
	payload, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", typ, err)
	}
	return payload, nil
}
