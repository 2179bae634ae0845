package order

import (
	"time"

	"ticketing-core/internal/models"
)

// State is the lifecycle position of an order. The legal transitions exist
// only as methods: Pending.Pay, Pending.Cancel and Paid.Refund. Cancelled is
// terminal.
type State interface {
	Status() models.OrderStatus
	state()
}

type Pending struct{}

type Paid struct {
	PaymentRef string
	PaidAt     time.Time
}

type Cancelled struct {
	Reason      string
	CancelledAt time.Time
	// Refunded is set when the order was paid before it was cancelled.
	Refunded bool
}

func (Pending) Status() models.OrderStatus   { return models.OrderStatusPending }
func (Paid) Status() models.OrderStatus      { return models.OrderStatusPaid }
func (Cancelled) Status() models.OrderStatus { return models.OrderStatusCancelled }

func (Pending) state()   {}
func (Paid) state()      {}
func (Cancelled) state() {}

func (Pending) Pay(paymentRef string, at time.Time) Paid {
	return Paid{PaymentRef: paymentRef, PaidAt: at}
}

func (Pending) Cancel(reason string, at time.Time) Cancelled {
	return Cancelled{Reason: reason, CancelledAt: at}
}

func (Paid) Refund(reason string, at time.Time) Cancelled {
	return Cancelled{Reason: reason, CancelledAt: at, Refunded: true}
}

// StateOf reads the state stored on o.
func StateOf(o *models.Order) State {
	switch o.Status {
	case models.OrderStatusPaid:
		p := Paid{PaymentRef: o.PaymentRef}
		if o.PaidAt != nil {
			p.PaidAt = *o.PaidAt
		}
		return p
	case models.OrderStatusCancelled:
		c := Cancelled{Reason: o.CancelReason, Refunded: o.PaidAt != nil}
		if o.CancelledAt != nil {
			c.CancelledAt = *o.CancelledAt
		}
		return c
	default:
		return Pending{}
	}
}

// apply writes s onto o.
func apply(o *models.Order, s State) {
	o.Status = s.Status()
	switch v := s.(type) {
	case Paid:
		o.PaymentRef = v.PaymentRef
		at := v.PaidAt
		o.PaidAt = &at
		o.UpdatedAt = at
	case Cancelled:
		o.CancelReason = v.Reason
		at := v.CancelledAt
		o.CancelledAt = &at
		o.UpdatedAt = at
	}
}
