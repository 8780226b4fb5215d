// Package payment defines the opaque payment capability consumed by the order
// engine. Gateway protocol details live in adapter implementations.
package payment

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrPaymentDeclined is returned when the gateway refuses a charge.
	ErrPaymentDeclined = errors.New("payment declined")
	// ErrRefundDeclined is returned when the gateway refuses a refund.
	ErrRefundDeclined = errors.New("refund declined")
	// ErrAdapter marks transient gateway failures, timeouts included. A call
	// failing with ErrAdapter may be retried but must never be assumed to
	// have succeeded.
	ErrAdapter = errors.New("payment adapter error")
)

// ChargeRequest asks the gateway to collect Amount for an order.
type ChargeRequest struct {
	OrderID        string
	Amount         decimal.Decimal
	IdempotencyKey string
}

// RefundRequest asks the gateway to return Amount of a previous charge.
type RefundRequest struct {
	OrderID        string
	Amount         decimal.Decimal
	ChargeRef      string
	Reason         string
	IdempotencyKey string
}

// Result carries the opaque reference returned by the gateway.
type Result struct {
	ExternalRef string
}

// Adapter is the pluggable charge/refund capability.
type Adapter interface {
	Charge(ctx context.Context, req ChargeRequest) (Result, error)
	Refund(ctx context.Context, req RefundRequest) (Result, error)
}

// IsTransient reports whether err is a retryable adapter failure.
func IsTransient(err error) bool {
	return errors.Is(err, ErrAdapter) ||
		errors.Is(err, context.DeadlineExceeded)
}
