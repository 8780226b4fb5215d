// Package payments holds payment.Adapter implementations: a Stripe gateway
// and a deterministic sandbox.
package payments

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"go.uber.org/zap"

	"github.com/xenking/kart-store/internal/domain/payment"
)

type stripeIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type stripeRefundAPI interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

// StripeConfig configures the Stripe adapter.
type StripeConfig struct {
	APIKey   string
	Currency string
	// PaymentMethod is confirmed server side for every charge.
	PaymentMethod string
	Backends      *stripe.Backends

	intents stripeIntentAPI
	refunds stripeRefundAPI
}

// Stripe charges through PaymentIntents confirmed in one call.
type Stripe struct {
	intents       stripeIntentAPI
	refunds       stripeRefundAPI
	currency      string
	paymentMethod string
}

var _ payment.Adapter = (*Stripe)(nil)

// NewStripe creates a Stripe adapter.
func NewStripe(cfg StripeConfig) (*Stripe, error) {
	s := &Stripe{
		intents:       cfg.intents,
		refunds:       cfg.refunds,
		currency:      strings.ToLower(cfg.Currency),
		paymentMethod: cfg.PaymentMethod,
	}
	if s.intents == nil || s.refunds == nil {
		key := strings.TrimSpace(cfg.APIKey)
		if key == "" {
			return nil, errors.New("stripe: api key is required")
		}
		sc := client.New(key, cfg.Backends)
		s.intents = sc.PaymentIntents
		s.refunds = sc.Refunds
	}
	if s.currency == "" {
		s.currency = string(stripe.CurrencyUSD)
	}
	if s.paymentMethod == "" {
		s.paymentMethod = "pm_card_visa"
	}
	return s, nil
}

// Charge creates and confirms a PaymentIntent for the order total.
func (s *Stripe) Charge(ctx context.Context, req payment.ChargeRequest) (payment.Result, error) {
	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(minorUnits(req.Amount)),
		Currency:           stripe.String(s.currency),
		PaymentMethod:      stripe.String(s.paymentMethod),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		Confirm:            stripe.Bool(true),
	}
	params.Context = ctx
	params.AddMetadata("order_id", req.OrderID)
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	intent, err := s.intents.New(params)
	if err != nil {
		return payment.Result{}, mapStripeError(err, payment.ErrPaymentDeclined, "charge")
	}

	zctx.From(ctx).Debug("Stripe payment intent",
		zap.String("order_id", req.OrderID),
		zap.String("intent", intent.ID),
		zap.String("status", string(intent.Status)),
	)
	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return payment.Result{ExternalRef: intent.ID}, nil
	case stripe.PaymentIntentStatusRequiresPaymentMethod, stripe.PaymentIntentStatusCanceled:
		return payment.Result{}, errors.Wrapf(payment.ErrPaymentDeclined, "intent %s %s", intent.ID, intent.Status)
	default:
		// Processing or waiting for customer action: not collected yet.
		return payment.Result{}, errors.Wrapf(payment.ErrAdapter, "intent %s %s", intent.ID, intent.Status)
	}
}

// Refund refunds part of the PaymentIntent referenced by ChargeRef.
func (s *Stripe) Refund(ctx context.Context, req payment.RefundRequest) (payment.Result, error) {
	if req.ChargeRef == "" {
		return payment.Result{}, errors.Wrap(payment.ErrRefundDeclined, "no charge reference")
	}
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.ChargeRef),
		Amount:        stripe.Int64(minorUnits(req.Amount)),
	}
	params.Context = ctx
	params.AddMetadata("order_id", req.OrderID)
	if req.Reason != "" {
		params.AddMetadata("reason", req.Reason)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	r, err := s.refunds.New(params)
	if err != nil {
		return payment.Result{}, mapStripeError(err, payment.ErrRefundDeclined, "refund")
	}
	switch r.Status {
	case stripe.RefundStatusFailed, stripe.RefundStatusCanceled:
		return payment.Result{}, errors.Wrapf(payment.ErrRefundDeclined, "refund %s %s", r.ID, r.Status)
	}
	return payment.Result{ExternalRef: r.ID}, nil
}

// mapStripeError maps card errors to declined and everything else to
// payment.ErrAdapter.
func mapStripeError(err error, declined error, op string) error {
	var se *stripe.Error
	if errors.As(err, &se) && se.Type == stripe.ErrorTypeCard {
		return fmt.Errorf("stripe %s: %w: %s", op, declined, se.Msg)
	}
	return fmt.Errorf("stripe %s: %w: %w", op, payment.ErrAdapter, err)
}

func minorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}
