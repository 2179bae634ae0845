package resale

import (
	"context"
	"time"

	"github.com/uptrace/bun"

	"ticketing-core/internal/models"
)

type Store struct {
	Bun *bun.DB
}

func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx bun.IDB) error) error {
	return s.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, tx)
	})
}

// Listing fetches one listing. tx may be nil.
func (s *Store) Listing(ctx context.Context, tx bun.IDB, id string) (*models.TicketListing, error) {
	if tx == nil {
		tx = s.Bun
	}
	var l models.TicketListing
	err := tx.NewSelect().Model(&l).Where("id = ?", id).Limit(1).Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *Store) HasActive(ctx context.Context, tx bun.IDB, ticketID string) (bool, error) {
	return tx.NewSelect().
		Model((*models.TicketListing)(nil)).
		Where("ticket_id = ?", ticketID).
		Where("status = ?", models.ListingStatusActive).
		Exists(ctx)
}

func (s *Store) Insert(ctx context.Context, tx bun.IDB, l *models.TicketListing) error {
	_, err := tx.NewInsert().Model(l).Exec(ctx)
	return err
}

// Cancel withdraws an active listing owned by sellerID.
func (s *Store) Cancel(ctx context.Context, tx bun.IDB, id, sellerID string, at time.Time) (bool, error) {
	res, err := tx.NewUpdate().
		Model((*models.TicketListing)(nil)).
		Set("status = ?", models.ListingStatusCancelled).
		Set("updated_at = ?", at).
		Where("id = ?", id).
		Where("seller_id = ?", sellerID).
		Where("status = ?", models.ListingStatusActive).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// MarkSold closes an active listing as sold and records the payment that
// settled it.
func (s *Store) MarkSold(ctx context.Context, tx bun.IDB, id, buyerID, paymentRef string, at time.Time) (bool, error) {
	res, err := tx.NewUpdate().
		Model((*models.TicketListing)(nil)).
		Set("status = ?", models.ListingStatusSold).
		Set("buyer_id = ?", buyerID).
		Set("payment_ref = ?", paymentRef).
		Set("updated_at = ?", at).
		Where("id = ?", id).
		Where("status = ?", models.ListingStatusActive).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// PaymentRefUsed reports whether paymentRef already settled a listing or an
// order.
func (s *Store) PaymentRefUsed(ctx context.Context, tx bun.IDB, paymentRef string) (bool, error) {
	used, err := tx.NewSelect().
		Model((*models.TicketListing)(nil)).
		Where("payment_ref = ?", paymentRef).
		Exists(ctx)
	if err != nil || used {
		return used, err
	}
	return tx.NewSelect().
		Model((*models.Order)(nil)).
		Where("payment_ref = ?", paymentRef).
		Exists(ctx)
}

func (s *Store) CancelActiveForTickets(ctx context.Context, tx bun.IDB, ticketIDs []string, at time.Time) error {
	_, err := tx.NewUpdate().
		Model((*models.TicketListing)(nil)).
		Set("status = ?", models.ListingStatusCancelled).
		Set("updated_at = ?", at).
		Where("ticket_id IN (?)", bun.In(ticketIDs)).
		Where("status = ?", models.ListingStatusActive).
		Exec(ctx)
	return err
}

func (s *Store) ActiveForEvent(ctx context.Context, eventID string) ([]models.TicketListing, error) {
	var listings []models.TicketListing
	err := s.Bun.NewSelect().
		Model(&listings).
		Where("event_id = ?", eventID).
		Where("status = ?", models.ListingStatusActive).
		Order("price ASC", "created_at ASC").
		Scan(ctx)
	return listings, err
}
