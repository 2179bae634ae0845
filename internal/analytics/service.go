// Package analytics builds read-only sales and attendance reports for admins.
package analytics

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"ticketing-core/internal/inventory"
	"ticketing-core/internal/models"
	ticketdb "ticketing-core/internal/tickets/db"
)

type EventLookup interface {
	Event(ctx context.Context, eventID string) (inventory.EventView, error)
}

type TicketCounter interface {
	CountsForEvent(ctx context.Context, eventID string) (ticketdb.Counts, error)
}

// Service handles analytics operations
type Service struct {
	db      *DB
	events  EventLookup
	tickets TicketCounter
}

func NewService(db *DB, events EventLookup, tickets TicketCounter) *Service {
	return &Service{db: db, events: events, tickets: tickets}
}

// OrderStats counts orders and the seats they asked for.
type OrderStats struct {
	Orders int `json:"orders"`
	Seats  int `json:"seats"`
}

// EventSummary is the admin dashboard view of one event.
type EventSummary struct {
	EventID        string                `json:"event_id"`
	Title          string                `json:"title"`
	TotalSeats     int                   `json:"total_seats"`
	AvailableSeats int                   `json:"available_seats"`
	Orders         map[string]OrderStats `json:"orders"`
	Revenue        decimal.Decimal       `json:"revenue"`
	Tickets        ticketdb.Counts       `json:"tickets"`
	WaitlistLength int                   `json:"waitlist_length"`
	ActiveListings int                   `json:"active_listings"`
	DailySales     []DailySalesMetrics   `json:"daily_sales"`
}

// DailySalesMetrics contains metrics for a single day
type DailySalesMetrics struct {
	Date        string          `json:"date"`
	Revenue     decimal.Decimal `json:"revenue"`
	TicketsSold int             `json:"tickets_sold"`
	Orders      int             `json:"orders"`
}

// SalesByDay buckets paid orders by the UTC day they were paid.
func (s *Service) SalesByDay(ctx context.Context, eventID string) ([]DailySalesMetrics, error) {
	if _, err := s.events.Event(ctx, eventID); err != nil {
		return nil, err
	}
	paid, err := s.db.PaidOrders(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("paid orders for %s: %w", eventID, err)
	}

	byDay := map[string]*DailySalesMetrics{}
	for _, o := range paid {
		day := o.PaidAt.UTC().Format("2006-01-02")
		m, ok := byDay[day]
		if !ok {
			m = &DailySalesMetrics{Date: day, Revenue: decimal.Zero}
			byDay[day] = m
		}
		m.Revenue = m.Revenue.Add(o.TotalPrice)
		m.TicketsSold += o.Quantity
		m.Orders++
	}

	out := make([]DailySalesMetrics, 0, len(byDay))
	for _, m := range byDay {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

func (s *Service) EventSummary(ctx context.Context, eventID string) (*EventSummary, error) {
	ev, err := s.events.Event(ctx, eventID)
	if err != nil {
		return nil, err
	}

	summary := &EventSummary{
		EventID:        ev.ID,
		Title:          ev.Title,
		TotalSeats:     ev.TotalSeats,
		AvailableSeats: ev.AvailableSeats,
		Orders:         map[string]OrderStats{},
		Revenue:        decimal.Zero,
	}
	for _, st := range []models.OrderStatus{models.OrderStatusPending, models.OrderStatusPaid, models.OrderStatusCancelled} {
		summary.Orders[string(st)] = OrderStats{}
	}

	counts, err := s.db.OrderCountsByStatus(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("order counts for %s: %w", eventID, err)
	}
	for _, c := range counts {
		summary.Orders[string(c.Status)] = OrderStats{Orders: c.Orders, Seats: c.Seats}
	}

	if summary.DailySales, err = s.SalesByDay(ctx, eventID); err != nil {
		return nil, err
	}
	for _, d := range summary.DailySales {
		summary.Revenue = summary.Revenue.Add(d.Revenue)
	}

	if summary.Tickets, err = s.tickets.CountsForEvent(ctx, eventID); err != nil {
		return nil, fmt.Errorf("ticket counts for %s: %w", eventID, err)
	}
	if summary.WaitlistLength, err = s.db.WaitlistLength(ctx, eventID); err != nil {
		return nil, fmt.Errorf("waitlist length for %s: %w", eventID, err)
	}
	if summary.ActiveListings, err = s.db.ActiveListingCount(ctx, eventID); err != nil {
		return nil, fmt.Errorf("active listings for %s: %w", eventID, err)
	}
	return summary, nil
}
