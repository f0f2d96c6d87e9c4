package order

import "github.com/louisbranch/eventsaga/internal/eventsource/event"

// Payload is the sealed set of order payloads.
type Payload interface {
	event.Payload
	Dispatch(h Handler, evt event.Event) error
	orderPayload()
}

// Handler has one method per Payload variant. Adding a variant without its
// method here, and on Order, fails the build.
type Handler interface {
	OnCreated(Created) error
	OnPaid(Paid) error
	OnShipped(Shipped) error
	OnCancelled(Cancelled) error
	OnSnapshot(Snapshot) error
}

const (
	TypeCreated   event.Type = "OrderCreated"
	TypePaid      event.Type = "OrderPaid"
	TypeShipped   event.Type = "OrderShipped"
	TypeCancelled event.Type = "OrderCancelled"
	TypeSnapshot  event.Type = "OrderSnapshot"
)

type Created struct {
	Customer string `json:"customer"`
	Total    int    `json:"total"`
}

type Paid struct {
	Amount int `json:"amount"`
}

type Shipped struct {
	Carrier string `json:"carrier"`
}

type Cancelled struct {
	Reason string `json:"reason"`
}

// Snapshot is the checkpoint payload.
type Snapshot struct {
	Customer string `json:"customer"`
	Status   Status `json:"status"`
	Total    int    `json:"total"`
	Paid     int    `json:"paid"`
	Carrier  string `json:"carrier,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

func (Created) EventType() event.Type   { return TypeCreated }
func (Paid) EventType() event.Type      { return TypePaid }
func (Shipped) EventType() event.Type   { return TypeShipped }
func (Cancelled) EventType() event.Type { return TypeCancelled }
func (Snapshot) EventType() event.Type  { return TypeSnapshot }

func (Created) orderPayload()   {}
func (Paid) orderPayload()      {}
func (Shipped) orderPayload()   {}
func (Cancelled) orderPayload() {}
func (Snapshot) orderPayload()  {}

func (p Created) Dispatch(h Handler, _ event.Event) error   { return h.OnCreated(p) }
func (p Paid) Dispatch(h Handler, _ event.Event) error      { return h.OnPaid(p) }
func (p Shipped) Dispatch(h Handler, _ event.Event) error   { return h.OnShipped(p) }
func (p Cancelled) Dispatch(h Handler, _ event.Event) error { return h.OnCancelled(p) }
func (p Snapshot) Dispatch(h Handler, _ event.Event) error  { return h.OnSnapshot(p) }
