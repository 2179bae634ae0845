package tickets

import (
	"context"
	"errors"
	"fmt"

	"github.com/uptrace/bun"

	"ticketing-core/internal/metrics"
	"ticketing-core/internal/models"
	"ticketing-core/internal/outbox"
	"ticketing-core/internal/tickets/credential"
	"ticketing-core/internal/users"
)

type transferNotice struct {
	TicketID   string `json:"ticket_id"`
	FromUserID string `json:"from_user_id"`
	ToUserID   string `json:"to_user_id"`
	Seq        int    `json:"seq"`
}

// Transfer hands a ticket from fromUserID to recipient (a user id or email).
func (s *Service) Transfer(ctx context.Context, ticketID, fromUserID, recipient string) (*models.Ticket, error) {
	var out *models.Ticket
	err := s.DB.RunInTx(ctx, func(ctx context.Context, tx bun.IDB) error {
		to, err := s.Users.ResolveTx(ctx, tx, recipient)
		if errors.Is(err, users.ErrUserNotFound) {
			return ErrRecipientNotFound
		}
		if err != nil {
			return err
		}
		out, err = s.TransferTx(ctx, tx, ticketID, fromUserID, to.ID)
		return err
	})
	metrics.TicketTransfers.WithLabelValues(metrics.Outcome(err, errCode(err))).Inc()
	if err != nil {
		return nil, err
	}
	s.Logger.LogTicket("TRANSFER", ticketID, fmt.Sprintf("%s -> %s (transfer %d)", fromUserID, out.HolderID, out.TransferCount))
	return out, nil
}

// TransferTx moves the ticket inside tx. The new holder gets a fresh
// credential, so the previous one stops scanning.
func (s *Service) TransferTx(ctx context.Context, tx bun.IDB, ticketID, fromUserID, toUserID string) (*models.Ticket, error) {
	t, err := s.load(ctx, tx, ticketID)
	if err != nil {
		return nil, err
	}
	if err := s.checkTransferable(ctx, tx, t, fromUserID, toUserID); err != nil {
		return nil, err
	}

	now := s.now()
	cred, err := s.Codec.Encode(credential.Claims{
		TicketID: t.TicketID,
		OrderID:  t.OrderID,
		EventID:  t.EventID,
		HolderID: toUserID,
		IssuedAt: now,
	})
	if err != nil {
		return nil, fmt.Errorf("encode credential: %w", err)
	}

	ok, err := s.DB.SwapHolder(ctx, tx, t, toUserID, cred)
	if err != nil {
		return nil, fmt.Errorf("transfer %s: %w", ticketID, err)
	}
	if !ok {
		current, err := s.load(ctx, tx, ticketID)
		if err != nil {
			return nil, err
		}
		if err := s.checkTransferable(ctx, tx, current, fromUserID, toUserID); err != nil {
			return nil, err
		}
		return nil, ErrTicketChanged
	}

	seq := t.TransferCount + 1
	rec := &models.TicketTransfer{
		TicketID:      t.TicketID,
		Seq:           seq,
		FromUserID:    fromUserID,
		ToUserID:      toUserID,
		TransferredAt: now,
	}
	if err := s.DB.AppendTransfer(ctx, tx, rec); err != nil {
		return nil, fmt.Errorf("append transfer history for %s: %w", ticketID, err)
	}
	if s.Listings != nil {
		if err := s.Listings.CancelForTicketsTx(ctx, tx, []string{t.TicketID}); err != nil {
			return nil, err
		}
	}

	notice := transferNotice{TicketID: t.TicketID, FromUserID: fromUserID, ToUserID: toUserID, Seq: seq}
	if err := outbox.Append(ctx, tx, outbox.TopicTicketTransferred, t.TicketID, t.EventID, toUserID, notice); err != nil {
		return nil, err
	}

	t.HolderID = toUserID
	t.Credential = cred
	t.TransferCount = seq
	history, err := s.DB.History(ctx, tx, t.TicketID)
	if err != nil {
		return nil, fmt.Errorf("load history for %s: %w", ticketID, err)
	}
	t.History = history
	return t, nil
}

func (s *Service) checkTransferable(ctx context.Context, tx bun.IDB, t *models.Ticket, fromUserID, toUserID string) error {
	if t.HolderID != fromUserID {
		return ErrNotOwner
	}
	if t.Voided {
		return ErrTicketVoided
	}
	if t.Scanned {
		return ErrAlreadyScanned
	}
	if toUserID == fromUserID {
		return ErrSelfTransfer
	}
	if t.TransferCount >= s.opts.MaxTransfers {
		return ErrTransferLimitReached
	}
	ev, err := s.Events.EventTx(ctx, tx, t.EventID)
	if err != nil {
		return err
	}
	if ev.StartsAt.Sub(s.now()) < s.opts.TransferCutoff {
		return ErrTooCloseToEvent
	}
	return nil
}

// CheckTransferableTx loads the ticket and reports whether fromUserID could
// transfer it right now. tx may be nil.
func (s *Service) CheckTransferableTx(ctx context.Context, tx bun.IDB, ticketID, fromUserID string) (*models.Ticket, error) {
	t, err := s.load(ctx, tx, ticketID)
	if err != nil {
		return nil, err
	}
	if err := s.checkTransferable(ctx, tx, t, fromUserID, ""); err != nil {
		return nil, err
	}
	return t, nil
}
