package analytics

import (
	"context"
	"strings"

	"github.com/uptrace/bun"

	"ticketing-core/internal/models"
)

// OrderSortField defines the valid fields for sorting orders
type OrderSortField string

const (
	OrderSortByTotal     OrderSortField = "total_price"
	OrderSortByCreatedAt OrderSortField = "created_at"
)

// EventOrderOptions contains options for filtering and sorting orders
type EventOrderOptions struct {
	Status   string
	SortBy   string
	SortDesc bool
	Limit    int
	Offset   int
}

// EventOrders returns orders for an event with their tickets.
func (s *Service) EventOrders(ctx context.Context, eventID string, options EventOrderOptions) ([]models.OrderResponse, error) {
	if _, err := s.events.Event(ctx, eventID); err != nil {
		return nil, err
	}

	q := s.db.bun.NewSelect().
		Model((*models.Order)(nil)).
		Where("event_id = ?", eventID)

	if options.Status != "" {
		q = q.Where("status = ?", options.Status)
	}

	direction := "DESC"
	if options.SortBy != "" && !options.SortDesc {
		direction = "ASC"
	}
	switch OrderSortField(strings.ToLower(options.SortBy)) {
	case OrderSortByTotal:
		q = q.Order("total_price " + direction)
	default:
		q = q.Order("created_at " + direction)
	}

	if options.Limit <= 0 || options.Limit > 500 {
		options.Limit = 100
	}
	q = q.Limit(options.Limit)
	if options.Offset > 0 {
		q = q.Offset(options.Offset)
	}

	var orders []models.Order
	if err := q.Scan(ctx, &orders); err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return []models.OrderResponse{}, nil
	}

	orderIDs := make([]string, len(orders))
	for i, o := range orders {
		orderIDs[i] = o.OrderID
	}

	var tickets []models.Ticket
	err := s.db.bun.NewSelect().
		Model(&tickets).
		Where("order_id IN (?)", bun.In(orderIDs)).
		Order("issued_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	ticketsByOrderID := make(map[string][]models.Ticket)
	for _, t := range tickets {
		ticketsByOrderID[t.OrderID] = append(ticketsByOrderID[t.OrderID], t)
	}

	result := make([]models.OrderResponse, len(orders))
	for i := range orders {
		result[i] = models.OrderResponse{
			Order:   &orders[i],
			Tickets: ticketsByOrderID[orders[i].OrderID],
		}
	}
	return result, nil
}
