package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusCancelled OrderStatus = "cancelled"
)

type Order struct {
	bun.BaseModel `bun:"table:orders,alias:o"`

	OrderID      string          `bun:"order_id,pk" json:"order_id"`
	UserID       string          `bun:"user_id,notnull" json:"user_id"`
	EventID      string          `bun:"event_id,notnull" json:"event_id"`
	Quantity     int             `bun:"quantity,notnull" json:"quantity"`
	TotalPrice   decimal.Decimal `bun:"total_price,type:numeric(12,2),notnull" json:"total_price"`
	Status       OrderStatus     `bun:"status,notnull" json:"status"`
	PaymentRef   string          `bun:"payment_ref,nullzero,unique" json:"payment_ref,omitempty"`
	CancelReason string          `bun:"cancel_reason,nullzero" json:"cancel_reason,omitempty"`
	PaidAt       *time.Time      `bun:"paid_at" json:"paid_at,omitempty"`
	CancelledAt  *time.Time      `bun:"cancelled_at" json:"cancelled_at,omitempty"`
	CreatedAt    time.Time       `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt    time.Time       `bun:"updated_at,notnull" json:"updated_at"`
}

type CreateOrderRequest struct {
	EventID  string `json:"event_id" validate:"required"`
	Quantity int    `json:"quantity" validate:"required,min=1"`
}

type ConfirmOrderRequest struct {
	PaymentProof string `json:"payment_proof" validate:"required"`
}

type CancelOrderRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// OrderResponse is returned by confirm; Tickets is empty for other calls.
type OrderResponse struct {
	Order   *Order   `json:"order"`
	Tickets []Ticket `json:"tickets,omitempty"`
}
