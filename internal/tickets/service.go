// Package tickets issues tickets for paid orders and guards their ownership
// chain: transfers, scans and voiding.
package tickets

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"ticketing-core/internal/apperr"
	"ticketing-core/internal/inventory"
	"ticketing-core/internal/logger"
	"ticketing-core/internal/models"
	"ticketing-core/internal/tickets/credential"
	ticketdb "ticketing-core/internal/tickets/db"
)

var (
	ErrTicketNotFound       = apperr.NotFound("ticket_not_found", "ticket not found")
	ErrNotOwner             = apperr.Unauthorized("not_owner", "caller does not hold this ticket")
	ErrAlreadyScanned       = apperr.Conflict("already_scanned", "ticket has already been scanned")
	ErrTicketVoided         = apperr.Conflict("ticket_voided", "ticket has been voided")
	ErrTooCloseToEvent      = apperr.Conflict("too_close_to_event", "transfers are closed this close to the event")
	ErrTransferLimitReached = apperr.Conflict("transfer_limit_reached", "ticket has reached its transfer limit")
	ErrRecipientNotFound    = apperr.NotFound("recipient_not_found", "transfer recipient not found")
	ErrSelfTransfer         = apperr.Invalid("self_transfer", "cannot transfer a ticket to its holder")
	ErrCredentialMismatch   = apperr.Conflict("credential_mismatch", "credential does not match the ticket's current state")
	ErrWrongEvent           = apperr.Conflict("wrong_event", "ticket is for a different event")
	ErrTicketChanged        = apperr.Conflict("ticket_changed", "ticket changed concurrently, retry")
	ErrMalformedCredential  = credential.ErrMalformed
)

type DBLayer interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx bun.IDB) error) error
	InsertTickets(ctx context.Context, tx bun.IDB, tickets []models.Ticket) error
	GetTicket(ctx context.Context, tx bun.IDB, ticketID string) (*models.Ticket, error)
	TicketsByOrder(ctx context.Context, tx bun.IDB, orderID string) ([]models.Ticket, error)
	TicketsByHolder(ctx context.Context, holderID string) ([]models.Ticket, error)
	History(ctx context.Context, tx bun.IDB, ticketID string) ([]models.TicketTransfer, error)
	SwapHolder(ctx context.Context, tx bun.IDB, prev *models.Ticket, toUserID, credential string) (bool, error)
	AppendTransfer(ctx context.Context, tx bun.IDB, rec *models.TicketTransfer) error
	MarkScanned(ctx context.Context, tx bun.IDB, ticketID, credential string, at time.Time) (bool, error)
	VoidByOrder(ctx context.Context, tx bun.IDB, orderID string) ([]string, error)
	CountsForEvent(ctx context.Context, eventID string) (ticketdb.Counts, error)
}

type EventLookup interface {
	EventTx(ctx context.Context, tx bun.IDB, eventID string) (inventory.EventView, error)
}

type UserResolver interface {
	ResolveTx(ctx context.Context, tx bun.IDB, ref string) (*models.User, error)
}

// ListingCanceller withdraws resale listings for tickets that changed hands
// or were voided.
type ListingCanceller interface {
	CancelForTicketsTx(ctx context.Context, tx bun.IDB, ticketIDs []string) error
}

type Options struct {
	MaxTransfers   int
	TransferCutoff time.Duration
}

type Service struct {
	DB       DBLayer
	Events   EventLookup
	Users    UserResolver
	Codec    *credential.Codec
	Logger   *logger.Logger
	Listings ListingCanceller

	issuer *Issuer
	opts   Options
	now    func() time.Time
}

func NewService(db DBLayer, events EventLookup, users UserResolver, codec *credential.Codec, log *logger.Logger, opts Options) *Service {
	if opts.MaxTransfers <= 0 {
		opts.MaxTransfers = 2
	}
	if opts.TransferCutoff <= 0 {
		opts.TransferCutoff = 48 * time.Hour
	}
	s := &Service{
		DB:     db,
		Events: events,
		Users:  users,
		Codec:  codec,
		Logger: log,
		opts:   opts,
		now:    func() time.Time { return time.Now().UTC() },
	}
	s.issuer = NewIssuer(db, codec, log)
	return s
}

// IssueTx mints count tickets for a paid order. See Issuer.
func (s *Service) IssueTx(ctx context.Context, tx bun.IDB, orderID, eventID, holderID string, count int) ([]models.Ticket, error) {
	return s.issuer.IssueTx(ctx, tx, orderID, eventID, holderID, count)
}

// GetTicket returns the ticket with its transfer history.
func (s *Service) GetTicket(ctx context.Context, ticketID string) (*models.Ticket, error) {
	t, err := s.load(ctx, nil, ticketID)
	if err != nil {
		return nil, err
	}
	history, err := s.DB.History(ctx, nil, ticketID)
	if err != nil {
		return nil, fmt.Errorf("load history for %s: %w", ticketID, err)
	}
	t.History = history
	return t, nil
}

func (s *Service) TicketsByOrderTx(ctx context.Context, tx bun.IDB, orderID string) ([]models.Ticket, error) {
	tickets, err := s.DB.TicketsByOrder(ctx, tx, orderID)
	if err != nil {
		return nil, fmt.Errorf("tickets for order %s: %w", orderID, err)
	}
	return tickets, nil
}

func (s *Service) TicketsByHolder(ctx context.Context, holderID string) ([]models.Ticket, error) {
	tickets, err := s.DB.TicketsByHolder(ctx, holderID)
	if err != nil {
		return nil, fmt.Errorf("tickets for holder %s: %w", holderID, err)
	}
	return tickets, nil
}

// QRCode renders the current credential of a ticket held by holderID.
func (s *Service) QRCode(ctx context.Context, ticketID, holderID string) ([]byte, error) {
	t, err := s.load(ctx, nil, ticketID)
	if err != nil {
		return nil, err
	}
	if t.HolderID != holderID {
		return nil, ErrNotOwner
	}
	if t.Voided {
		return nil, ErrTicketVoided
	}
	return s.Codec.QR(t.Credential)
}

// VoidOrderTx voids every ticket of a refunded order and withdraws their
// listings. Voided tickets can no longer be scanned or transferred.
func (s *Service) VoidOrderTx(ctx context.Context, tx bun.IDB, orderID string) (int, error) {
	ids, err := s.DB.VoidByOrder(ctx, tx, orderID)
	if err != nil {
		return 0, fmt.Errorf("void tickets of order %s: %w", orderID, err)
	}
	if len(ids) > 0 && s.Listings != nil {
		if err := s.Listings.CancelForTicketsTx(ctx, tx, ids); err != nil {
			return 0, err
		}
	}
	s.Logger.LogTicket("VOID", orderID, fmt.Sprintf("%d tickets voided", len(ids)))
	return len(ids), nil
}

func (s *Service) Counts(ctx context.Context, eventID string) (ticketdb.Counts, error) {
	return s.DB.CountsForEvent(ctx, eventID)
}

func (s *Service) load(ctx context.Context, tx bun.IDB, ticketID string) (*models.Ticket, error) {
	t, err := s.DB.GetTicket(ctx, tx, ticketID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTicketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load ticket %s: %w", ticketID, err)
	}
	return t, nil
}
