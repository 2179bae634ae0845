package tickets

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"ticketing-core/internal/logger"
	"ticketing-core/internal/models"
	"ticketing-core/internal/tickets/credential"
)

// Issuer mints tickets. It has no effect on inventory: seats were already
// reserved by the caller's transaction.
type Issuer struct {
	db     DBLayer
	codec  *credential.Codec
	logger *logger.Logger
	now    func() time.Time
}

func NewIssuer(db DBLayer, codec *credential.Codec, log *logger.Logger) *Issuer {
	return &Issuer{db: db, codec: codec, logger: log, now: func() time.Time { return time.Now().UTC() }}
}

func (i *Issuer) IssueTx(ctx context.Context, tx bun.IDB, orderID, eventID, holderID string, count int) ([]models.Ticket, error) {
	if count <= 0 {
		return nil, fmt.Errorf("issue %d tickets for order %s: count must be positive", count, orderID)
	}
	now := i.now()

	tickets := make([]models.Ticket, 0, count)
	for n := 0; n < count; n++ {
		id := uuid.New().String()
		cred, err := i.codec.Encode(credential.Claims{
			TicketID: id,
			OrderID:  orderID,
			EventID:  eventID,
			HolderID: holderID,
			IssuedAt: now,
		})
		if err != nil {
			return nil, fmt.Errorf("encode credential: %w", err)
		}
		tickets = append(tickets, models.Ticket{
			TicketID:         id,
			OrderID:          orderID,
			EventID:          eventID,
			HolderID:         holderID,
			OriginalHolderID: holderID,
			Credential:       cred,
			IssuedAt:         now,
		})
	}

	if err := i.db.InsertTickets(ctx, tx, tickets); err != nil {
		return nil, fmt.Errorf("insert tickets for order %s: %w", orderID, err)
	}
	i.logger.LogTicket("ISSUE", orderID, fmt.Sprintf("%d tickets for %s", count, holderID))
	return tickets, nil
}
