package db

import (
	"context"
	"time"

	"github.com/uptrace/bun"

	"ticketing-core/internal/models"
)

type DB struct {
	Bun *bun.DB
}

// RunInTx runs fn in one transaction.
func (d *DB) RunInTx(ctx context.Context, fn func(ctx context.Context, tx bun.IDB) error) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, tx)
	})
}

// ---------------- ORDERS ----------------

func (d *DB) CreateOrder(ctx context.Context, order *models.Order) error {
	_, err := d.Bun.NewInsert().Model(order).Exec(ctx)
	return err
}

// GetOrderByID fetches one order. tx may be nil.
func (d *DB) GetOrderByID(ctx context.Context, tx bun.IDB, id string) (*models.Order, error) {
	if tx == nil {
		tx = d.Bun
	}
	var order models.Order
	err := tx.NewSelect().
		Model(&order).
		Where("order_id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (d *DB) OrdersByUser(ctx context.Context, userID string) ([]models.Order, error) {
	var orders []models.Order
	err := d.Bun.NewSelect().
		Model(&orders).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Scan(ctx)
	return orders, err
}

// MarkPaid moves a pending order to paid. It reports false when the order
// was no longer pending.
func (d *DB) MarkPaid(ctx context.Context, tx bun.IDB, id, paymentRef string, at time.Time) (bool, error) {
	res, err := tx.NewUpdate().
		Model((*models.Order)(nil)).
		Set("status = ?", models.OrderStatusPaid).
		Set("payment_ref = ?", paymentRef).
		Set("paid_at = ?", at).
		Set("updated_at = ?", at).
		Where("order_id = ?", id).
		Where("status = ?", models.OrderStatusPending).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// MarkCancelled moves an order from status from to cancelled.
func (d *DB) MarkCancelled(ctx context.Context, tx bun.IDB, id string, from models.OrderStatus, reason string, at time.Time) (bool, error) {
	res, err := tx.NewUpdate().
		Model((*models.Order)(nil)).
		Set("status = ?", models.OrderStatusCancelled).
		Set("cancel_reason = ?", reason).
		Set("cancelled_at = ?", at).
		Set("updated_at = ?", at).
		Where("order_id = ?", id).
		Where("status = ?", from).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// StalePendingOrders returns ids of pending orders created before cutoff.
func (d *DB) StalePendingOrders(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	var ids []string
	err := d.Bun.NewSelect().
		Model((*models.Order)(nil)).
		Column("order_id").
		Where("status = ?", models.OrderStatusPending).
		Where("created_at < ?", cutoff).
		Order("created_at ASC").
		Limit(limit).
		Scan(ctx, &ids)
	return ids, err
}

// PaymentRefUsed reports whether another order or a resale listing already
// claimed paymentRef.
func (d *DB) PaymentRefUsed(ctx context.Context, tx bun.IDB, paymentRef, exceptOrderID string) (bool, error) {
	used, err := tx.NewSelect().
		Model((*models.Order)(nil)).
		Where("payment_ref = ?", paymentRef).
		Where("order_id <> ?", exceptOrderID).
		Exists(ctx)
	if err != nil || used {
		return used, err
	}
	return tx.NewSelect().
		Model((*models.TicketListing)(nil)).
		Where("payment_ref = ?", paymentRef).
		Exists(ctx)
}
