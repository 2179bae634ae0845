package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Ticket struct {
	bun.BaseModel `bun:"table:tickets,alias:t"`

	TicketID         string     `bun:"ticket_id,pk" json:"ticket_id"`
	OrderID          string     `bun:"order_id,notnull" json:"order_id"`
	EventID          string     `bun:"event_id,notnull" json:"event_id"`
	HolderID         string     `bun:"holder_id,notnull" json:"holder_id"`
	OriginalHolderID string     `bun:"original_holder_id,notnull" json:"original_holder_id"`
	Scanned          bool       `bun:"scanned,notnull" json:"scanned"`
	ScannedAt        *time.Time `bun:"scanned_at" json:"scanned_at,omitempty"`
	Voided           bool       `bun:"voided,notnull" json:"voided"`
	Credential       string     `bun:"credential,notnull,unique" json:"credential,omitempty"`
	TransferCount    int        `bun:"transfer_count,notnull" json:"transfer_count"`
	IssuedAt         time.Time  `bun:"issued_at,notnull" json:"issued_at"`

	History []TicketTransfer `bun:"-" json:"transfer_history,omitempty"`
}

// TicketTransfer is one append-only ownership hop. Seq starts at 1.
type TicketTransfer struct {
	bun.BaseModel `bun:"table:ticket_transfers,alias:tt"`

	ID            int64     `bun:"id,pk,autoincrement" json:"-"`
	TicketID      string    `bun:"ticket_id,notnull,unique:ticket_transfers_ticket_seq" json:"ticket_id"`
	Seq           int       `bun:"seq,notnull,unique:ticket_transfers_ticket_seq" json:"seq"`
	FromUserID    string    `bun:"from_user_id,notnull" json:"from_user_id"`
	ToUserID      string    `bun:"to_user_id,notnull" json:"to_user_id"`
	TransferredAt time.Time `bun:"transferred_at,notnull" json:"transferred_at"`
}

type TransferRequest struct {
	// Recipient is a user id or an email address.
	Recipient string `json:"recipient" validate:"required"`
}

type ScanRequest struct {
	Credential string `json:"credential" validate:"required"`
	// EventID, when set, rejects tickets for any other event.
	EventID string `json:"event_id,omitempty"`
}

type ManualScanRequest struct {
	EventID string `json:"event_id,omitempty"`
}
