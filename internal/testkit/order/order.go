// Package order is a small aggregate used to exercise the event-sourcing
// packages end to end.
package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/louisbranch/eventsaga/internal/eventsource/aggregate"
	"github.com/louisbranch/eventsaga/internal/eventsource/event"
)

// AggregateType names order streams ("order-<id>").
const AggregateType = "order"

// Status is the lifecycle state of an order.
type Status string

const (
	StatusNew       Status = ""
	StatusCreated   Status = "created"
	StatusPaid      Status = "paid"
	StatusShipped   Status = "shipped"
	StatusCancelled Status = "cancelled"
)

var (
	ErrAlreadyCreated = errors.New("order already created")
	ErrNotCreated     = errors.New("order not created")
	ErrInvalidAmount  = errors.New("amount must be positive")
	ErrOverpaid       = errors.New("payment exceeds outstanding total")
	ErrNotPaid        = errors.New("order not fully paid")
	ErrClosed         = errors.New("order is closed")
)

// Order is an event-sourced purchase order.
type Order struct {
	aggregate.Root

	Customer string
	Status   Status
	Total    int
	Paid     int
	Carrier  string
	Reason   string
}

var _ Handler = (*Order)(nil)

var _ aggregate.Snapshotter = (*Order)(nil)

// New returns an empty order with identity id.
func New(id string) *Order {
	o := &Order{}
	o.Init(AggregateType, id)
	return o
}

// Register adds every order payload to r.
func Register(r *event.Registry) error {
	for _, register := range []func(*event.Registry) error{
		event.Register[Created],
		event.Register[Paid],
		event.Register[Shipped],
		event.Register[Cancelled],
		event.Register[Snapshot],
	} {
		if err := register(r); err != nil {
			return err
		}
	}
	return nil
}

// Mutate folds evt through the exhaustive payload dispatch.
func (o *Order) Mutate(evt event.Event) error {
	return aggregate.Dispatch[Payload](evt, Handler(o))
}

// Create opens the order.
func (o *Order) Create(ctx context.Context, customer string, total int) error {
	if o.Status != StatusNew {
		return ErrAlreadyCreated
	}
	if total <= 0 {
		return ErrInvalidAmount
	}
	return aggregate.Apply(ctx, o, Created{Customer: customer, Total: total})
}

// Pay records a payment towards the outstanding total.
func (o *Order) Pay(ctx context.Context, amount int) error {
	if err := o.requireOpen(); err != nil {
		return err
	}
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if o.Paid+amount > o.Total {
		return fmt.Errorf("%w: %d outstanding", ErrOverpaid, o.Total-o.Paid)
	}
	return aggregate.Apply(ctx, o, Paid{Amount: amount})
}

// Ship hands a fully paid order to a carrier.
func (o *Order) Ship(ctx context.Context, carrier string) error {
	if err := o.requireOpen(); err != nil {
		return err
	}
	if o.Status != StatusPaid {
		return ErrNotPaid
	}
	return aggregate.Apply(ctx, o, Shipped{Carrier: carrier})
}

// Cancel closes an order that has not shipped.
func (o *Order) Cancel(ctx context.Context, reason string) error {
	if err := o.requireOpen(); err != nil {
		return err
	}
	return aggregate.Apply(ctx, o, Cancelled{Reason: reason})
}

func (o *Order) requireOpen() error {
	switch o.Status {
	case StatusNew:
		return ErrNotCreated
	case StatusShipped, StatusCancelled:
		return ErrClosed
	default:
		return nil
	}
}

// Snapshot captures the folded state.
func (o *Order) Snapshot() (event.Payload, error) {
	return Snapshot{
		Customer: o.Customer,
		Status:   o.Status,
		Total:    o.Total,
		Paid:     o.Paid,
		Carrier:  o.Carrier,
		Reason:   o.Reason,
	}, nil
}

func (o *Order) OnCreated(p Created) error {
	o.Customer = p.Customer
	o.Total = p.Total
	o.Status = StatusCreated
	return nil
}

func (o *Order) OnPaid(p Paid) error {
	o.Paid += p.Amount
	if o.Paid >= o.Total {
		o.Status = StatusPaid
	}
	return nil
}

func (o *Order) OnShipped(p Shipped) error {
	o.Carrier = p.Carrier
	o.Status = StatusShipped
	return nil
}

func (o *Order) OnCancelled(p Cancelled) error {
	o.Reason = p.Reason
	o.Status = StatusCancelled
	return nil
}

func (o *Order) OnSnapshot(p Snapshot) error {
	o.Customer = p.Customer
	o.Status = p.Status
	o.Total = p.Total
	o.Paid = p.Paid
	o.Carrier = p.Carrier
	o.Reason = p.Reason
	return nil
}
