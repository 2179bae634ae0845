package payment

import (
	"context"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"

	"ticketing-core/internal/apperr"
	"ticketing-core/internal/logger"
)

type intentGetter interface {
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// StripeAuthority treats the proof as a PaymentIntent id and confirms it
// succeeded for the expected amount.
type StripeAuthority struct {
	intents intentGetter
	logger  *logger.Logger
}

func NewStripeAuthority(secretKey string, log *logger.Logger) *StripeAuthority {
	sc := client.New(secretKey, nil)
	return &StripeAuthority{intents: sc.PaymentIntents, logger: log}
}

func (s *StripeAuthority) Confirm(ctx context.Context, charge Charge) (Receipt, error) {
	if !strings.HasPrefix(charge.Proof, "pi_") {
		return Receipt{}, ErrPaymentRejected
	}

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := s.intents.Get(charge.Proof, params)
	if err != nil {
		if se, ok := err.(*stripe.Error); ok && se.HTTPStatusCode >= 400 && se.HTTPStatusCode < 500 {
			s.logger.Warn("PAYMENT", fmt.Sprintf("payment intent %s rejected by Stripe: %s", charge.Proof, se.Msg))
			return Receipt{}, apperr.Wrap(ErrPaymentRejected, err)
		}
		s.logger.Error("PAYMENT", fmt.Sprintf("retrieve payment intent %s: %v", charge.Proof, err))
		return Receipt{}, apperr.Wrap(ErrPaymentUnavailable, err)
	}

	want := charge.Amount.Shift(2).Round(0).IntPart()
	switch {
	case pi.Status != stripe.PaymentIntentStatusSucceeded:
		s.logger.Warn("PAYMENT", fmt.Sprintf("payment intent %s has status %s", pi.ID, pi.Status))
		return Receipt{}, ErrPaymentRejected
	case pi.AmountReceived != want:
		s.logger.Warn("PAYMENT", fmt.Sprintf("payment intent %s received %d, expected %d", pi.ID, pi.AmountReceived, want))
		return Receipt{}, ErrPaymentRejected
	case charge.Currency != "" && !strings.EqualFold(string(pi.Currency), charge.Currency):
		return Receipt{}, ErrPaymentRejected
	case charge.Reference != "" && pi.Metadata["reference"] != "" && pi.Metadata["reference"] != charge.Reference:
		return Receipt{}, ErrPaymentRejected
	}

	s.logger.Info("PAYMENT", fmt.Sprintf("payment intent %s confirmed for %s", pi.ID, charge.Reference))
	return Receipt{Ref: pi.ID}, nil
}
