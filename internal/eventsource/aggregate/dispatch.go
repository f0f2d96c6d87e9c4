package aggregate

import (
	"fmt"

	"github.com/louisbranch/eventsaga/internal/eventsource/event"
)

// ErrUnhandledPayload is returned by Dispatch for payloads outside the set an
// aggregate declared.
type ErrUnhandledPayload struct {
	Type event.Type
}

func (e ErrUnhandledPayload) Error() string {
	return fmt.Sprintf("payload %q is not handled by this aggregate", e.Type)
}

// Dispatch is the building block for exhaustive Mutate methods. P is an
// aggregate's sealed payload interface whose variants each call their own
// method on handler H; when every variant's method exists on H the program
// builds, so a missing case is a compile error rather than a silent no-op.
//
//	func (o *Order) Mutate(evt event.Event) error {
//		return aggregate.Dispatch[Payload](evt, Handler(o))
//	}
func Dispatch[P interface {
	event.Payload
	Dispatch(handler H, evt event.Event) error
}, H any](evt event.Event, handler H) error {
	payload, ok := evt.Payload().(P)
	if !ok {
		return ErrUnhandledPayload{Type: evt.Type()}
	}
	return payload.Dispatch(handler, evt)
}
