package analytics

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"

	"ticketing-core/internal/models"
)

// DB handles analytics database operations
type DB struct {
	bun *bun.DB
}

// NewDB creates a new analytics DB handler
func NewDB(db *bun.DB) *DB {
	return &DB{bun: db}
}

// StatusCount is one row of OrderCountsByStatus.
type StatusCount struct {
	Status models.OrderStatus `bun:"status"`
	Orders int                `bun:"orders"`
	Seats  int                `bun:"seats"`
}

// OrderCountsByStatus groups an event's orders by status.
func (db *DB) OrderCountsByStatus(ctx context.Context, eventID string) ([]StatusCount, error) {
	var rows []StatusCount
	err := db.bun.NewSelect().
		Model((*models.Order)(nil)).
		Column("status").
		ColumnExpr("COUNT(*) AS orders").
		ColumnExpr("COALESCE(SUM(quantity), 0) AS seats").
		Where("event_id = ?", eventID).
		Group("status").
		Scan(ctx, &rows)
	return rows, err
}

// PaidOrder is the part of a paid order that sales reports need.
type PaidOrder struct {
	PaidAt     time.Time       `bun:"paid_at"`
	Quantity   int             `bun:"quantity"`
	TotalPrice decimal.Decimal `bun:"total_price"`
}

// PaidOrders returns the paid orders of an event, oldest first.
func (db *DB) PaidOrders(ctx context.Context, eventID string) ([]PaidOrder, error) {
	var rows []PaidOrder
	err := db.bun.NewSelect().
		Model((*models.Order)(nil)).
		Column("paid_at", "quantity", "total_price").
		Where("event_id = ?", eventID).
		Where("status = ?", models.OrderStatusPaid).
		Order("paid_at ASC").
		Scan(ctx, &rows)
	return rows, err
}

// ActiveListingCount counts resale listings still open for an event.
func (db *DB) ActiveListingCount(ctx context.Context, eventID string) (int, error) {
	return db.bun.NewSelect().
		Model((*models.TicketListing)(nil)).
		Where("event_id = ?", eventID).
		Where("status = ?", models.ListingStatusActive).
		Count(ctx)
}

// WaitlistLength reads the cached queue length for an event.
func (db *DB) WaitlistLength(ctx context.Context, eventID string) (int, error) {
	return db.bun.NewSelect().
		Model((*models.WaitlistEntry)(nil)).
		Where("event_id = ?", eventID).
		Count(ctx)
}
