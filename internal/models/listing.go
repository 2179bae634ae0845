package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type ListingStatus string

const (
	ListingStatusActive    ListingStatus = "active"
	ListingStatusSold      ListingStatus = "sold"
	ListingStatusCancelled ListingStatus = "cancelled"
)

type TicketListing struct {
	bun.BaseModel `bun:"table:ticket_listings,alias:l"`

	ID         string          `bun:"id,pk" json:"id"`
	TicketID   string          `bun:"ticket_id,notnull" json:"ticket_id"`
	EventID    string          `bun:"event_id,notnull" json:"event_id"`
	SellerID   string          `bun:"seller_id,notnull" json:"seller_id"`
	BuyerID    string          `bun:"buyer_id,nullzero" json:"buyer_id,omitempty"`
	Price      decimal.Decimal `bun:"price,type:numeric(12,2),notnull" json:"price"`
	Status     ListingStatus   `bun:"status,notnull" json:"status"`
	PaymentRef string          `bun:"payment_ref,nullzero,unique" json:"payment_ref,omitempty"`
	CreatedAt  time.Time       `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt  time.Time       `bun:"updated_at,notnull" json:"updated_at"`
}

type CreateListingRequest struct {
	TicketID string          `json:"ticket_id" validate:"required"`
	Price    decimal.Decimal `json:"price"`
}

type BuyListingRequest struct {
	PaymentProof string `json:"payment_proof" validate:"required"`
}
