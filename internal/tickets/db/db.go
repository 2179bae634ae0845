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

func (d *DB) InsertTickets(ctx context.Context, tx bun.IDB, tickets []models.Ticket) error {
	if len(tickets) == 0 {
		return nil
	}
	_, err := tx.NewInsert().Model(&tickets).Exec(ctx)
	return err
}

func (d *DB) GetTicket(ctx context.Context, tx bun.IDB, ticketID string) (*models.Ticket, error) {
	if tx == nil {
		tx = d.Bun
	}
	var ticket models.Ticket
	err := tx.NewSelect().
		Model(&ticket).
		Where("ticket_id = ?", ticketID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (d *DB) TicketsByOrder(ctx context.Context, tx bun.IDB, orderID string) ([]models.Ticket, error) {
	if tx == nil {
		tx = d.Bun
	}
	var tickets []models.Ticket
	err := tx.NewSelect().
		Model(&tickets).
		Where("order_id = ?", orderID).
		Order("issued_at ASC", "ticket_id ASC").
		Scan(ctx)
	return tickets, err
}

func (d *DB) TicketsByHolder(ctx context.Context, holderID string) ([]models.Ticket, error) {
	var tickets []models.Ticket
	err := d.Bun.NewSelect().
		Model(&tickets).
		Where("holder_id = ?", holderID).
		Order("issued_at DESC").
		Scan(ctx)
	return tickets, err
}

func (d *DB) History(ctx context.Context, tx bun.IDB, ticketID string) ([]models.TicketTransfer, error) {
	if tx == nil {
		tx = d.Bun
	}
	var history []models.TicketTransfer
	err := tx.NewSelect().
		Model(&history).
		Where("ticket_id = ?", ticketID).
		Order("seq ASC").
		Scan(ctx)
	return history, err
}

// SwapHolder moves the ticket to toUserID only if it is still in the state
// prev was read in. It reports whether the row changed.
func (d *DB) SwapHolder(ctx context.Context, tx bun.IDB, prev *models.Ticket, toUserID, credential string) (bool, error) {
	res, err := tx.NewUpdate().
		Model((*models.Ticket)(nil)).
		Set("holder_id = ?", toUserID).
		Set("credential = ?", credential).
		Set("transfer_count = transfer_count + 1").
		Where("ticket_id = ?", prev.TicketID).
		Where("holder_id = ?", prev.HolderID).
		Where("transfer_count = ?", prev.TransferCount).
		Where("scanned = ?", false).
		Where("voided = ?", false).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (d *DB) AppendTransfer(ctx context.Context, tx bun.IDB, rec *models.TicketTransfer) error {
	_, err := tx.NewInsert().Model(rec).Exec(ctx)
	return err
}

// MarkScanned flips scanned once. An empty credential skips the credential
// guard (manual staff entry).
func (d *DB) MarkScanned(ctx context.Context, tx bun.IDB, ticketID, credential string, at time.Time) (bool, error) {
	q := tx.NewUpdate().
		Model((*models.Ticket)(nil)).
		Set("scanned = ?", true).
		Set("scanned_at = ?", at).
		Where("ticket_id = ?", ticketID).
		Where("scanned = ?", false).
		Where("voided = ?", false)
	if credential != "" {
		q = q.Where("credential = ?", credential)
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// VoidByOrder voids the order's unvoided tickets and returns their ids.
func (d *DB) VoidByOrder(ctx context.Context, tx bun.IDB, orderID string) ([]string, error) {
	var ids []string
	err := tx.NewSelect().
		Model((*models.Ticket)(nil)).
		Column("ticket_id").
		Where("order_id = ?", orderID).
		Where("voided = ?", false).
		Scan(ctx, &ids)
	if err != nil || len(ids) == 0 {
		return nil, err
	}
	_, err = tx.NewUpdate().
		Model((*models.Ticket)(nil)).
		Set("voided = ?", true).
		Where("ticket_id IN (?)", bun.In(ids)).
		Exec(ctx)
	if err != nil {
		return nil, err
	}
	return ids, nil
}
