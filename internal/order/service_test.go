package order

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"ticketing-core/internal/database/dbtest"
	"ticketing-core/internal/inventory"
	"ticketing-core/internal/logger"
	"ticketing-core/internal/models"
	orderdb "ticketing-core/internal/order/db"
	"ticketing-core/internal/outbox"
	"ticketing-core/internal/payment"
	"ticketing-core/internal/tickets"
	"ticketing-core/internal/tickets/credential"
	ticketdb "ticketing-core/internal/tickets/db"
	"ticketing-core/internal/users"
	"ticketing-core/internal/waitlist"
	waitlistdb "ticketing-core/internal/waitlist/db"
)

type harness struct {
	db       *bun.DB
	orders   *OrderService
	ledger   *inventory.Ledger
	tickets  *tickets.Service
	waitlist *waitlist.Queue
}

func newHarness(t *testing.T) *harness {
	db := dbtest.New(t)
	log := logger.Nop()

	codec, err := credential.NewCodec("order-secret", 128)
	require.NoError(t, err)
	ledger := inventory.NewLedger(db, log)
	dir := users.NewDirectory(db)
	ts := tickets.NewService(&ticketdb.DB{Bun: db}, ledger, dir, codec, log, tickets.Options{
		MaxTransfers:   2,
		TransferCutoff: 48 * time.Hour,
	})
	q := waitlist.NewQueue(&waitlistdb.DB{Bun: db}, ledger, log, 30*time.Minute)
	ledger.OnSeatsRestored(q)

	svc := NewOrderService(&orderdb.DB{Bun: db}, ledger, ts, payment.MockAuthority{}, log, Options{
		MaxQuantity: 4,
		PendingTTL:  30 * time.Minute,
		Currency:    "usd",
	})
	return &harness{db: db, orders: svc, ledger: ledger, tickets: ts, waitlist: q}
}

func (h *harness) event(t *testing.T, seats int) inventory.EventView {
	ev, err := h.ledger.CreateEvent(context.Background(), inventory.NewEvent{
		Title:      "Concert",
		StartsAt:   time.Now().Add(14 * 24 * time.Hour),
		Price:      decimal.RequireFromString("25.50"),
		TotalSeats: seats,
	})
	require.NoError(t, err)
	return ev
}

func (h *harness) available(t *testing.T, eventID string) int {
	ev, err := h.ledger.Event(context.Background(), eventID)
	require.NoError(t, err)
	return ev.AvailableSeats
}

func TestCreateOrderIsPendingAndHoldsNoSeats(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ev := h.event(t, 5)

	o, err := h.orders.CreateOrder(ctx, "u1", ev.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, o.Status)
	assert.True(t, decimal.RequireFromString("51").Equal(o.TotalPrice))
	assert.Equal(t, 5, h.available(t, ev.ID))

	_, err = h.orders.CreateOrder(ctx, "u1", ev.ID, 0)
	assert.ErrorIs(t, err, ErrInvalidQuantity)
	_, err = h.orders.CreateOrder(ctx, "u1", ev.ID, 5)
	assert.ErrorIs(t, err, ErrInvalidQuantity)
	_, err = h.orders.CreateOrder(ctx, "u1", "missing", 1)
	assert.ErrorIs(t, err, inventory.ErrEventNotFound)
}

func TestConfirmIssuesTicketsAndIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ev := h.event(t, 5)
	o, err := h.orders.CreateOrder(ctx, "u1", ev.ID, 3)
	require.NoError(t, err)

	_, err = h.orders.ConfirmPayment(ctx, o.OrderID, "u2", "pi_1")
	assert.ErrorIs(t, err, ErrNotOrderOwner)

	resp, err := h.orders.ConfirmPayment(ctx, o.OrderID, "u1", "pi_1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPaid, resp.Order.Status)
	assert.Equal(t, "pi_1", resp.Order.PaymentRef)
	require.Len(t, resp.Tickets, 3)
	assert.Equal(t, 2, h.available(t, ev.ID))

	again, err := h.orders.ConfirmPayment(ctx, o.OrderID, "u1", "pi_1")
	require.NoError(t, err)
	assert.Len(t, again.Tickets, 3)
	assert.Equal(t, 2, h.available(t, ev.ID))

	got, err := h.orders.GetOrder(ctx, o.OrderID, "u1", false)
	require.NoError(t, err)
	assert.Len(t, got.Tickets, 3)
	_, err = h.orders.GetOrder(ctx, o.OrderID, "u2", false)
	assert.ErrorIs(t, err, ErrNotOrderOwner)
	_, err = h.orders.GetOrder(ctx, o.OrderID, "admin", true)
	require.NoError(t, err)
}

func TestConfirmRejectedPaymentLeavesOrderPending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ev := h.event(t, 5)
	o, err := h.orders.CreateOrder(ctx, "u1", ev.ID, 1)
	require.NoError(t, err)

	_, err = h.orders.ConfirmPayment(ctx, o.OrderID, "u1", "declined_insufficient_funds")
	assert.ErrorIs(t, err, ErrPaymentRejected)

	got, err := h.orders.GetOrder(ctx, o.OrderID, "u1", false)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, got.Order.Status)
	assert.Empty(t, got.Tickets)
	assert.Equal(t, 5, h.available(t, ev.ID))
}

func TestConfirmWithoutSeatsRollsBack(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ev := h.event(t, 2)
	first, err := h.orders.CreateOrder(ctx, "u1", ev.ID, 2)
	require.NoError(t, err)
	second, err := h.orders.CreateOrder(ctx, "u2", ev.ID, 1)
	require.NoError(t, err)

	_, err = h.orders.ConfirmPayment(ctx, first.OrderID, "u1", "pi_a")
	require.NoError(t, err)

	_, err = h.orders.ConfirmPayment(ctx, second.OrderID, "u2", "pi_b")
	assert.ErrorIs(t, err, inventory.ErrInsufficientSeats)

	got, err := h.orders.GetOrder(ctx, second.OrderID, "u2", false)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, got.Order.Status)
	assert.Empty(t, got.Order.PaymentRef)
	assert.Empty(t, got.Tickets)
	assert.Equal(t, 0, h.available(t, ev.ID))
}

// brokenIssuer writes the tickets and then fails, so the confirm transaction
// has already reserved seats and inserted rows when it has to roll back.
type brokenIssuer struct {
	*tickets.Service
}

func (b brokenIssuer) IssueTx(ctx context.Context, tx bun.IDB, orderID, eventID, holderID string, count int) ([]models.Ticket, error) {
	if _, err := b.Service.IssueTx(ctx, tx, orderID, eventID, holderID, count); err != nil {
		return nil, err
	}
	return nil, errors.New("credential store unavailable")
}

func TestConfirmIssueFailureReleasesReservation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ev := h.event(t, 3)
	o, err := h.orders.CreateOrder(ctx, "u1", ev.ID, 2)
	require.NoError(t, err)

	h.orders.Tickets = brokenIssuer{Service: h.tickets}
	_, err = h.orders.ConfirmPayment(ctx, o.OrderID, "u1", "pi_issue_fails")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "credential store unavailable")

	h.orders.Tickets = h.tickets
	got, err := h.orders.GetOrder(ctx, o.OrderID, "u1", false)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, got.Order.Status)
	assert.Empty(t, got.Order.PaymentRef)
	assert.Empty(t, got.Tickets)
	assert.Equal(t, 3, h.available(t, ev.ID))

	pending, err := outbox.Pending(ctx, h.db, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	// the same proof still pays once issuance recovers
	resp, err := h.orders.ConfirmPayment(ctx, o.OrderID, "u1", "pi_issue_fails")
	require.NoError(t, err)
	assert.Len(t, resp.Tickets, 2)
	assert.Equal(t, 1, h.available(t, ev.ID))
}

func TestPaymentRefCannotPayTwoOrders(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ev := h.event(t, 5)
	a, err := h.orders.CreateOrder(ctx, "u1", ev.ID, 1)
	require.NoError(t, err)
	b, err := h.orders.CreateOrder(ctx, "u1", ev.ID, 1)
	require.NoError(t, err)

	_, err = h.orders.ConfirmPayment(ctx, a.OrderID, "u1", "pi_same")
	require.NoError(t, err)
	_, err = h.orders.ConfirmPayment(ctx, b.OrderID, "u1", "pi_same")
	assert.ErrorIs(t, err, ErrPaymentRefUsed)
	assert.Equal(t, 4, h.available(t, ev.ID))
}

func TestCancelPendingAndRepeat(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ev := h.event(t, 5)
	o, err := h.orders.CreateOrder(ctx, "u1", ev.ID, 2)
	require.NoError(t, err)

	_, err = h.orders.Cancel(ctx, o.OrderID, "u2", false, "not mine")
	assert.ErrorIs(t, err, ErrNotOrderOwner)

	cancelled, err := h.orders.Cancel(ctx, o.OrderID, "u1", false, "changed my mind")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, cancelled.Status)
	assert.Equal(t, "changed my mind", cancelled.CancelReason)
	assert.Equal(t, 5, h.available(t, ev.ID))

	again, err := h.orders.Cancel(ctx, o.OrderID, "u1", false, "twice")
	require.NoError(t, err)
	assert.Equal(t, "changed my mind", again.CancelReason)

	_, err = h.orders.ConfirmPayment(ctx, o.OrderID, "u1", "pi_late")
	assert.ErrorIs(t, err, ErrNotPending)

	_, err = h.orders.Cancel(ctx, "missing", "u1", false, "")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestRefundRestoresSeatsAndPromotesWaitlist(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ev := h.event(t, 2)

	o, err := h.orders.CreateOrder(ctx, "buyer", ev.ID, 2)
	require.NoError(t, err)
	paid, err := h.orders.ConfirmPayment(ctx, o.OrderID, "buyer", "pi_full")
	require.NoError(t, err)
	require.Len(t, paid.Tickets, 2)
	assert.Equal(t, 0, h.available(t, ev.ID))

	pos, err := h.waitlist.Join(ctx, ev.ID, "hopeful")
	require.NoError(t, err)
	assert.Equal(t, 1, pos)

	cancelled, err := h.orders.Cancel(ctx, o.OrderID, "admin", true, "refund requested")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, cancelled.Status)
	assert.Equal(t, 2, h.available(t, ev.ID))

	entry, err := h.waitlist.Position(ctx, ev.ID, "hopeful")
	require.NoError(t, err)
	assert.NotNil(t, entry.NotifiedAt)

	_, err = h.tickets.ScanCredential(ctx, paid.Tickets[0].Credential, ev.ID)
	assert.ErrorIs(t, err, tickets.ErrTicketVoided)

	pending, err := outbox.Pending(ctx, h.db, 10)
	require.NoError(t, err)
	var topics []string
	for _, m := range pending {
		topics = append(topics, m.Topic)
	}
	assert.Equal(t, []string{outbox.TopicOrderPaid, outbox.TopicWaitlistPromoted, outbox.TopicOrderCancelled}, topics)
}

func TestExpireStalePendingOrders(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ev := h.event(t, 5)

	stale, err := h.orders.CreateOrder(ctx, "u1", ev.ID, 1)
	require.NoError(t, err)
	paid, err := h.orders.CreateOrder(ctx, "u2", ev.ID, 1)
	require.NoError(t, err)
	_, err = h.orders.ConfirmPayment(ctx, paid.OrderID, "u2", "pi_ok")
	require.NoError(t, err)

	h.orders.now = func() time.Time { return time.Now().UTC().Add(31 * time.Minute) }
	fresh, err := h.orders.CreateOrder(ctx, "u3", ev.ID, 1)
	require.NoError(t, err)

	n, err := h.orders.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := h.orders.GetOrder(ctx, stale.OrderID, "u1", false)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, got.Order.Status)
	assert.Equal(t, expiredReason, got.Order.CancelReason)

	got, err = h.orders.GetOrder(ctx, fresh.OrderID, "u3", false)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, got.Order.Status)

	got, err = h.orders.GetOrder(ctx, paid.OrderID, "u2", false)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPaid, got.Order.Status)
}
