// Package resale lets holders list tickets for sale to other users. A sale
// moves the ticket through the same transfer rules as a gift.
package resale

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
	"ticketing-core/internal/logger"
	"ticketing-core/internal/models"
	"ticketing-core/internal/outbox"
	"ticketing-core/internal/payment"
)

var (
	ErrListingNotFound  = apperr.NotFound("listing_not_found", "listing not found")
	ErrListingExists    = apperr.Conflict("listing_exists", "ticket already has an active listing")
	ErrListingNotActive = apperr.Conflict("listing_not_active", "listing is no longer active")
	ErrNotSeller        = apperr.Unauthorized("not_seller", "listing belongs to another user")
	ErrOwnListing       = apperr.Invalid("own_listing", "cannot buy your own listing")
	ErrInvalidPrice     = apperr.Invalid("invalid_price", "price must be positive")
	ErrPaymentRefUsed   = apperr.Conflict("payment_ref_used", "payment already used for another purchase")
)

type Tickets interface {
	CheckTransferableTx(ctx context.Context, tx bun.IDB, ticketID, fromUserID string) (*models.Ticket, error)
	TransferTx(ctx context.Context, tx bun.IDB, ticketID, fromUserID, toUserID string) (*models.Ticket, error)
}

type Service struct {
	store    *Store
	tickets  Tickets
	payments payment.Authority
	currency string
	logger   *logger.Logger
	now      func() time.Time
}

func NewService(store *Store, tickets Tickets, payments payment.Authority, currency string, log *logger.Logger) *Service {
	return &Service{
		store:    store,
		tickets:  tickets,
		payments: payments,
		currency: currency,
		logger:   log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Sale is the result of a purchase.
type Sale struct {
	Listing *models.TicketListing `json:"listing"`
	Ticket  *models.Ticket        `json:"ticket"`
}

type saleNotice struct {
	ListingID string          `json:"listing_id"`
	TicketID  string          `json:"ticket_id"`
	SellerID  string          `json:"seller_id"`
	BuyerID   string          `json:"buyer_id"`
	Price     decimal.Decimal `json:"price"`
}

// List offers ticketID for sale. The ticket must currently be transferable
// by sellerID.
func (s *Service) List(ctx context.Context, ticketID, sellerID string, price decimal.Decimal) (*models.TicketListing, error) {
	if !price.IsPositive() {
		return nil, ErrInvalidPrice
	}
	var listing *models.TicketListing
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx bun.IDB) error {
		t, err := s.tickets.CheckTransferableTx(ctx, tx, ticketID, sellerID)
		if err != nil {
			return err
		}
		exists, err := s.store.HasActive(ctx, tx, ticketID)
		if err != nil {
			return fmt.Errorf("check active listing: %w", err)
		}
		if exists {
			return ErrListingExists
		}

		now := s.now()
		listing = &models.TicketListing{
			ID:        uuid.New().String(),
			TicketID:  ticketID,
			EventID:   t.EventID,
			SellerID:  sellerID,
			Price:     price,
			Status:    models.ListingStatusActive,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.store.Insert(ctx, tx, listing); err != nil {
			return fmt.Errorf("insert listing: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("RESALE", fmt.Sprintf("ticket %s listed by %s for %s", ticketID, sellerID, price))
	return listing, nil
}

func (s *Service) CancelListing(ctx context.Context, listingID, sellerID string) error {
	l, err := s.load(ctx, listingID)
	if err != nil {
		return err
	}
	if l.SellerID != sellerID {
		return ErrNotSeller
	}
	err = s.store.RunInTx(ctx, func(ctx context.Context, tx bun.IDB) error {
		ok, err := s.store.Cancel(ctx, tx, listingID, sellerID, s.now())
		if err != nil {
			return fmt.Errorf("cancel listing: %w", err)
		}
		if !ok {
			return ErrListingNotActive
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info("RESALE", fmt.Sprintf("listing %s withdrawn", listingID))
	return nil
}

// Buy charges buyerID the listing price, then in one transaction closes the
// listing and transfers the ticket.
func (s *Service) Buy(ctx context.Context, listingID, buyerID, proof string) (*Sale, error) {
	l, err := s.load(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if l.Status != models.ListingStatusActive {
		return nil, ErrListingNotActive
	}
	if l.SellerID == buyerID {
		return nil, ErrOwnListing
	}
	if _, err := s.tickets.CheckTransferableTx(ctx, nil, l.TicketID, l.SellerID); err != nil {
		return nil, err
	}

	receipt, err := s.payments.Confirm(ctx, payment.Charge{
		Proof:     proof,
		Amount:    l.Price,
		Currency:  s.currency,
		Reference: l.ID,
	})
	if err != nil {
		return nil, err
	}

	sale := &Sale{}
	err = s.store.RunInTx(ctx, func(ctx context.Context, tx bun.IDB) error {
		used, err := s.store.PaymentRefUsed(ctx, tx, receipt.Ref)
		if err != nil {
			return fmt.Errorf("check payment ref: %w", err)
		}
		if used {
			return ErrPaymentRefUsed
		}

		now := s.now()
		ok, err := s.store.MarkSold(ctx, tx, l.ID, buyerID, receipt.Ref, now)
		if err != nil {
			return fmt.Errorf("close listing: %w", err)
		}
		if !ok {
			return ErrListingNotActive
		}
		ticket, err := s.tickets.TransferTx(ctx, tx, l.TicketID, l.SellerID, buyerID)
		if err != nil {
			return err
		}

		notice := saleNotice{ListingID: l.ID, TicketID: l.TicketID, SellerID: l.SellerID, BuyerID: buyerID, Price: l.Price}
		if err := outbox.Append(ctx, tx, outbox.TopicListingSold, l.ID, l.EventID, l.SellerID, notice); err != nil {
			return err
		}

		l.Status = models.ListingStatusSold
		l.BuyerID = buyerID
		l.PaymentRef = receipt.Ref
		l.UpdatedAt = now
		sale.Listing, sale.Ticket = l, ticket
		return nil
	})
	if err != nil {
		s.logger.Error("RESALE", fmt.Sprintf("sale of listing %s rolled back after payment %s: %v", listingID, receipt.Ref, err))
		return nil, err
	}
	s.logger.Info("RESALE", fmt.Sprintf("listing %s sold to %s (payment %s)", listingID, buyerID, receipt.Ref))
	return sale, nil
}

func (s *Service) ActiveListings(ctx context.Context, eventID string) ([]models.TicketListing, error) {
	listings, err := s.store.ActiveForEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("active listings for %s: %w", eventID, err)
	}
	return listings, nil
}

// CancelForTicketsTx withdraws active listings for tickets that changed hands
// or were voided.
func (s *Service) CancelForTicketsTx(ctx context.Context, tx bun.IDB, ticketIDs []string) error {
	if len(ticketIDs) == 0 {
		return nil
	}
	if err := s.store.CancelActiveForTickets(ctx, tx, ticketIDs, s.now()); err != nil {
		return fmt.Errorf("withdraw listings: %w", err)
	}
	return nil
}

func (s *Service) load(ctx context.Context, listingID string) (*models.TicketListing, error) {
	l, err := s.store.Listing(ctx, nil, listingID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrListingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load listing %s: %w", listingID, err)
	}
	return l, nil
}
