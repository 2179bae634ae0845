// Package order runs the order lifecycle: pending on creation, paid once the
// payment authority confirms, cancelled by the buyer, an admin or expiry.
package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"

	"ticketing-core/internal/apperr"
	"ticketing-core/internal/inventory"
	"ticketing-core/internal/logger"
	"ticketing-core/internal/metrics"
	"ticketing-core/internal/models"
	"ticketing-core/internal/outbox"
	"ticketing-core/internal/payment"
)

var (
	ErrOrderNotFound      = apperr.NotFound("order_not_found", "order not found")
	ErrNotOrderOwner      = apperr.Unauthorized("not_order_owner", "order belongs to another user")
	ErrNotPending         = apperr.Conflict("order_not_pending", "order is no longer pending")
	ErrInvalidQuantity    = apperr.Invalid("invalid_quantity", "quantity out of range")
	ErrPaymentRefUsed     = apperr.Conflict("payment_ref_used", "payment already used for another order")
	ErrPaymentRejected    = payment.ErrPaymentRejected
	ErrPaymentUnavailable = payment.ErrPaymentUnavailable
)

const maxCancelAttempts = 3

type DBLayer interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx bun.IDB) error) error
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrderByID(ctx context.Context, tx bun.IDB, id string) (*models.Order, error)
	OrdersByUser(ctx context.Context, userID string) ([]models.Order, error)
	MarkPaid(ctx context.Context, tx bun.IDB, id, paymentRef string, at time.Time) (bool, error)
	MarkCancelled(ctx context.Context, tx bun.IDB, id string, from models.OrderStatus, reason string, at time.Time) (bool, error)
	StalePendingOrders(ctx context.Context, cutoff time.Time, limit int) ([]string, error)
	PaymentRefUsed(ctx context.Context, tx bun.IDB, paymentRef, exceptOrderID string) (bool, error)
}

type Ledger interface {
	Event(ctx context.Context, eventID string) (inventory.EventView, error)
	ReserveTx(ctx context.Context, tx bun.IDB, eventID string, qty int) error
	ReleaseTx(ctx context.Context, tx bun.IDB, eventID string, qty int) error
}

type TicketIssuer interface {
	IssueTx(ctx context.Context, tx bun.IDB, orderID, eventID, holderID string, count int) ([]models.Ticket, error)
	TicketsByOrderTx(ctx context.Context, tx bun.IDB, orderID string) ([]models.Ticket, error)
	VoidOrderTx(ctx context.Context, tx bun.IDB, orderID string) (int, error)
}

type Options struct {
	MaxQuantity int
	PendingTTL  time.Duration
	Currency    string
}

type OrderService struct {
	DB       DBLayer
	Ledger   Ledger
	Tickets  TicketIssuer
	Payments payment.Authority
	logger   *logger.Logger
	opts     Options
	now      func() time.Time
}

func NewOrderService(db DBLayer, ledger Ledger, tickets TicketIssuer, payments payment.Authority, log *logger.Logger, opts Options) *OrderService {
	if opts.MaxQuantity <= 0 {
		opts.MaxQuantity = 10
	}
	if opts.PendingTTL <= 0 {
		opts.PendingTTL = 30 * time.Minute
	}
	return &OrderService{
		DB:       db,
		Ledger:   ledger,
		Tickets:  tickets,
		Payments: payments,
		logger:   log,
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type orderNotice struct {
	OrderID  string          `json:"order_id"`
	Quantity int             `json:"quantity"`
	Total    decimal.Decimal `json:"total_price"`
	Reason   string          `json:"reason,omitempty"`
	Tickets  []string        `json:"ticket_ids,omitempty"`
}

// ---------------- ORDERS ----------------

// CreateOrder records a pending order at the event's current price. No seats
// are reserved until payment is confirmed.
func (s *OrderService) CreateOrder(ctx context.Context, userID, eventID string, qty int) (*models.Order, error) {
	if qty < 1 || qty > s.opts.MaxQuantity {
		return nil, ErrInvalidQuantity
	}
	ev, err := s.Ledger.Event(ctx, eventID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if !ev.StartsAt.After(now) {
		return nil, inventory.ErrEventPast
	}

	o := &models.Order{
		OrderID:    uuid.New().String(),
		UserID:     userID,
		EventID:    eventID,
		Quantity:   qty,
		TotalPrice: ev.Price.Mul(decimal.NewFromInt(int64(qty))),
		Status:     models.OrderStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.DB.CreateOrder(ctx, o); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	s.logger.LogOrder("CREATE", o.OrderID, fmt.Sprintf("user %s, event %s, %d seats, total %s", userID, eventID, qty, o.TotalPrice))
	return o, nil
}

// GetOrder returns the order and its tickets. Admins may read any order.
func (s *OrderService) GetOrder(ctx context.Context, orderID, callerID string, isAdmin bool) (*models.OrderResponse, error) {
	o, err := s.load(ctx, nil, orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != callerID && !isAdmin {
		return nil, ErrNotOrderOwner
	}
	tickets, err := s.Tickets.TicketsByOrderTx(ctx, nil, orderID)
	if err != nil {
		return nil, err
	}
	return &models.OrderResponse{Order: o, Tickets: tickets}, nil
}

func (s *OrderService) ListOrdersByUser(ctx context.Context, userID string) ([]models.Order, error) {
	orders, err := s.DB.OrdersByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("orders for %s: %w", userID, err)
	}
	return orders, nil
}

// ConfirmPayment checks the proof with the payment authority, then in one
// transaction marks the order paid, reserves its seats and issues its
// tickets. Any failure leaves the order pending with no seats held.
// Confirming an order that is already paid returns it unchanged.
func (s *OrderService) ConfirmPayment(ctx context.Context, orderID, callerID, proof string) (*models.OrderResponse, error) {
	o, err := s.load(ctx, nil, orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != callerID {
		return nil, ErrNotOrderOwner
	}

	pending, ok := StateOf(o).(Pending)
	if !ok {
		return s.alreadyProcessed(ctx, o)
	}

	receipt, err := s.Payments.Confirm(ctx, payment.Charge{
		Proof:     proof,
		Amount:    o.TotalPrice,
		Currency:  s.opts.Currency,
		Reference: o.OrderID,
	})
	if err != nil {
		s.logger.Warn("ORDER", fmt.Sprintf("payment for %s not confirmed: %v", orderID, err))
		return nil, err
	}

	var issued []models.Ticket
	var replay *models.OrderResponse
	err = s.DB.RunInTx(ctx, func(ctx context.Context, tx bun.IDB) error {
		used, err := s.DB.PaymentRefUsed(ctx, tx, receipt.Ref, o.OrderID)
		if err != nil {
			return fmt.Errorf("check payment ref: %w", err)
		}
		if used {
			return ErrPaymentRefUsed
		}

		paid := pending.Pay(receipt.Ref, s.now())
		ok, err := s.DB.MarkPaid(ctx, tx, o.OrderID, paid.PaymentRef, paid.PaidAt)
		if err != nil {
			return fmt.Errorf("mark order %s paid: %w", orderID, err)
		}
		if !ok {
			// A concurrent confirm or cancel got there first.
			current, err := s.load(ctx, tx, orderID)
			if err != nil {
				return err
			}
			if current.Status != models.OrderStatusPaid {
				return ErrNotPending
			}
			tickets, err := s.Tickets.TicketsByOrderTx(ctx, tx, orderID)
			if err != nil {
				return err
			}
			replay = &models.OrderResponse{Order: current, Tickets: tickets}
			return nil
		}

		if err := s.Ledger.ReserveTx(ctx, tx, o.EventID, o.Quantity); err != nil {
			return err
		}
		issued, err = s.Tickets.IssueTx(ctx, tx, o.OrderID, o.EventID, o.UserID, o.Quantity)
		if err != nil {
			return err
		}

		ids := make([]string, 0, len(issued))
		for _, t := range issued {
			ids = append(ids, t.TicketID)
		}
		notice := orderNotice{OrderID: o.OrderID, Quantity: o.Quantity, Total: o.TotalPrice, Tickets: ids}
		if err := outbox.Append(ctx, tx, outbox.TopicOrderPaid, o.OrderID, o.EventID, o.UserID, notice); err != nil {
			return err
		}
		apply(o, paid)
		return nil
	})
	if err != nil {
		s.logger.Error("ORDER", fmt.Sprintf("confirm %s rolled back: %v", orderID, err))
		return nil, err
	}
	if replay != nil {
		return replay, nil
	}

	metrics.OrderTransitions.WithLabelValues(string(models.OrderStatusPending), string(models.OrderStatusPaid)).Inc()
	s.logger.LogOrder("PAID", o.OrderID, fmt.Sprintf("%d tickets issued, payment %s", len(issued), o.PaymentRef))
	return &models.OrderResponse{Order: o, Tickets: issued}, nil
}

func (s *OrderService) alreadyProcessed(ctx context.Context, o *models.Order) (*models.OrderResponse, error) {
	if _, cancelled := StateOf(o).(Cancelled); cancelled {
		return nil, ErrNotPending
	}
	tickets, err := s.Tickets.TicketsByOrderTx(ctx, nil, o.OrderID)
	if err != nil {
		return nil, err
	}
	s.logger.LogOrder("CONFIRM", o.OrderID, "already paid, returning existing tickets")
	return &models.OrderResponse{Order: o, Tickets: tickets}, nil
}

// Cancel cancels a pending order, or refunds a paid one: its seats return to
// the ledger and its tickets are voided. Cancelling a cancelled order is a
// no-op.
func (s *OrderService) Cancel(ctx context.Context, orderID, callerID string, isAdmin bool, reason string) (*models.Order, error) {
	var out *models.Order
	var changed bool
	err := s.DB.RunInTx(ctx, func(ctx context.Context, tx bun.IDB) error {
		for attempt := 0; attempt < maxCancelAttempts; attempt++ {
			o, err := s.load(ctx, tx, orderID)
			if err != nil {
				return err
			}
			if o.UserID != callerID && !isAdmin {
				return ErrNotOrderOwner
			}

			done, transitioned, err := s.cancelTx(ctx, tx, o, reason)
			if err != nil {
				return err
			}
			if done {
				out, changed = o, transitioned
				return nil
			}
		}
		return ErrNotPending
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.logger.LogOrder("CANCEL", orderID, fmt.Sprintf("by %s: %s", callerID, reason))
	}
	return out, nil
}

// cancelTx applies the cancel transition for o's current state. done is
// false when o changed underneath and should be re-read; transitioned is
// false for an order that was already cancelled.
func (s *OrderService) cancelTx(ctx context.Context, tx bun.IDB, o *models.Order, reason string) (done, transitioned bool, err error) {
	now := s.now()
	from := o.Status

	switch st := StateOf(o).(type) {
	case Cancelled:
		return true, false, nil

	case Pending:
		ok, err := s.DB.MarkCancelled(ctx, tx, o.OrderID, models.OrderStatusPending, reason, now)
		if err != nil || !ok {
			return false, false, err
		}
		apply(o, st.Cancel(reason, now))

	case Paid:
		ok, err := s.DB.MarkCancelled(ctx, tx, o.OrderID, models.OrderStatusPaid, reason, now)
		if err != nil || !ok {
			return false, false, err
		}
		if err := s.Ledger.ReleaseTx(ctx, tx, o.EventID, o.Quantity); err != nil {
			return false, false, err
		}
		if _, err := s.Tickets.VoidOrderTx(ctx, tx, o.OrderID); err != nil {
			return false, false, err
		}
		apply(o, st.Refund(reason, now))
	}

	notice := orderNotice{OrderID: o.OrderID, Quantity: o.Quantity, Total: o.TotalPrice, Reason: reason}
	if err := outbox.Append(ctx, tx, outbox.TopicOrderCancelled, o.OrderID, o.EventID, o.UserID, notice); err != nil {
		return false, false, err
	}
	metrics.OrderTransitions.WithLabelValues(string(from), string(models.OrderStatusCancelled)).Inc()
	return true, true, nil
}

func (s *OrderService) load(ctx context.Context, tx bun.IDB, orderID string) (*models.Order, error) {
	o, err := s.DB.GetOrderByID(ctx, tx, orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load order %s: %w", orderID, err)
	}
	return o, nil
}
