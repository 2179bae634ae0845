// Package payment verifies that a buyer's payment proof covers an amount.
// The core treats the payment provider as an opaque authority.
package payment

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"ticketing-core/internal/apperr"
)

var (
	ErrPaymentRejected    = apperr.Upstream("payment_rejected", "payment was not confirmed")
	ErrPaymentUnavailable = apperr.Upstream("payment_unavailable", "payment provider unavailable")
)

// Charge describes what the proof must pay for.
type Charge struct {
	Proof     string
	Amount    decimal.Decimal
	Currency  string
	Reference string
}

// Receipt identifies a confirmed payment. Ref is unique per payment.
type Receipt struct {
	Ref string
}

type Authority interface {
	Confirm(ctx context.Context, charge Charge) (Receipt, error)
}

// MockAuthority accepts every proof except those prefixed "declined".
// Used for local runs and tests.
type MockAuthority struct{}

func (MockAuthority) Confirm(ctx context.Context, charge Charge) (Receipt, error) {
	if charge.Proof == "" || strings.HasPrefix(charge.Proof, "declined") {
		return Receipt{}, ErrPaymentRejected
	}
	return Receipt{Ref: charge.Proof}, nil
}
