// Package refund coordinates refunds and cancellations: it reverses payments
// through the payment adapter and, for full cancellations, returns stock to
// the ledger, keeping the refund ledger and the order state consistent.
package refund

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/kart-store/internal/domain/order"
	"github.com/xenking/kart-store/internal/domain/payment"
)

// CancelReason is recorded on refunds issued by CancelOrder.
const CancelReason = "order cancelled"

// InvalidAmountError reports a refund amount outside (0, Refundable] or
// not expressible in whole cents.
type InvalidAmountError struct {
	Amount     decimal.Decimal
	Refundable decimal.Decimal
}

func (e *InvalidAmountError) Error() string {
	switch {
	case !e.Amount.IsPositive():
		return fmt.Sprintf("refund amount %s must be greater than 0", e.Amount)
	case !wholeCents(e.Amount):
		return fmt.Sprintf("refund amount %s has more than 2 decimal places", e.Amount)
	}
	return fmt.Sprintf("refund amount %s exceeds refundable balance %s", e.Amount, e.Refundable)
}

func wholeCents(d decimal.Decimal) bool {
	return d.Equal(d.Round(2))
}

// Coordinator orchestrates partial/full refunds and cancellations. Each
// operation runs under the order lock, so a refund racing a status change or
// another refund always sees the latest balance.
type Coordinator struct {
	orders  *order.Service
	payment payment.Adapter
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(orders *order.Service, adapter payment.Adapter) *Coordinator {
	return &Coordinator{orders: orders, payment: adapter}
}

// ProcessRefund refunds amount of a paid order. The gateway outcome is always
// recorded: a completed refund moves the payment status to PartiallyRefunded
// or Refunded, a failed one is appended as Failed and leaves the payment
// status unchanged. Stock is never returned by a refund alone.
//
// When the gateway fails, the order is returned together with the error.
// Once started, the refund is not abandoned when ctx is cancelled.
func (c *Coordinator) ProcessRefund(ctx context.Context, orderID string, amount decimal.Decimal, reason string) (*order.Order, error) {
	if !amount.IsPositive() || !wholeCents(amount) {
		return nil, &InvalidAmountError{Amount: amount}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var gatewayErr error
	updated, err := c.orders.Modify(context.WithoutCancel(ctx), orderID, func(ctx context.Context, m *order.Mutation) error {
		o := m.Order()
		switch o.PaymentStatus {
		case order.PaymentPaid, order.PaymentPartiallyRefunded, order.PaymentRefunded:
			// A fully refunded order has a zero balance and fails the
			// amount check below.
		default:
			return &order.InvalidTransitionError{
				Axis:   order.AxisPayment,
				From:   string(o.PaymentStatus),
				To:     string(order.PaymentRefunded),
				Reason: "no captured payment to refund",
			}
		}

		balance, err := refundable(ctx, m, o)
		if err != nil {
			return err
		}
		if amount.GreaterThan(balance) {
			return &InvalidAmountError{Amount: amount, Refundable: balance}
		}

		if err := c.refund(ctx, m, o, amount, reason); err != nil {
			return keepFailed(err, &gatewayErr)
		}
		target := order.PaymentRefunded
		if balance.Sub(amount).IsPositive() {
			target = order.PaymentPartiallyRefunded
		}
		if target == o.PaymentStatus {
			return nil
		}
		return m.SetPaymentStatus(ctx, target, order.TriggerRefund)
	})
	if err != nil {
		return nil, err
	}
	return updated, gatewayErr
}

// CancelOrder cancels an order that has not entered fulfilment. Unpaid
// orders are cancelled and their stock released. Paid orders first get the
// remaining balance refunded; the refund, the move to Refunded/Cancelled and
// the restock commit together. A failed refund is recorded and the order is
// left untouched.
//
// When the gateway fails, the order is returned together with the error.
// Once started, the cancellation is not abandoned when ctx is cancelled.
func (c *Coordinator) CancelOrder(ctx context.Context, orderID string) (*order.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var gatewayErr error
	updated, err := c.orders.Modify(context.WithoutCancel(ctx), orderID, func(ctx context.Context, m *order.Mutation) error {
		o := m.Order()
		if o.Status != order.StatusPendingPayment && o.Status != order.StatusPaid {
			return &order.InvalidTransitionError{
				Axis: order.AxisStatus,
				From: string(o.Status),
				To:   string(order.StatusCancelled),
			}
		}

		switch o.PaymentStatus {
		case order.PaymentPaid, order.PaymentPartiallyRefunded:
			// Validate the final state before money moves.
			refunded := o.Clone()
			refunded.PaymentStatus = order.PaymentRefunded
			if _, err := order.CheckStatus(refunded, order.StatusCancelled, order.TriggerCancel); err != nil {
				return err
			}

			balance, err := refundable(ctx, m, o)
			if err != nil {
				return err
			}
			if balance.IsPositive() {
				if err := c.refund(ctx, m, o, balance, CancelReason); err != nil {
					return keepFailed(err, &gatewayErr)
				}
			}
			if err := m.SetPaymentStatus(ctx, order.PaymentRefunded, order.TriggerRefund); err != nil {
				return err
			}
		}
		return m.SetStatus(ctx, order.StatusCancelled, order.TriggerCancel)
	})
	if err != nil {
		return nil, err
	}
	if gatewayErr == nil {
		zctx.From(ctx).Info("Order cancelled",
			zap.String("order_id", orderID),
			zap.String("payment_status", string(updated.PaymentStatus)),
		)
	}
	return updated, gatewayErr
}

// gatewayFailure carries a refund the gateway refused or failed. The Failed
// record is already appended, so the transaction must still commit.
type gatewayFailure struct {
	err error
}

func (e *gatewayFailure) Error() string { return e.err.Error() }
func (e *gatewayFailure) Unwrap() error { return e.err }

// keepFailed stores a gateway failure in dst and returns nil so the Failed
// record commits. Any other error is returned as is.
func keepFailed(err error, dst *error) error {
	var gw *gatewayFailure
	if errors.As(err, &gw) {
		*dst = gw.err
		return nil
	}
	return err
}

// refund calls the gateway and appends the outcome to the refund ledger.
func (c *Coordinator) refund(ctx context.Context, m *order.Mutation, o *order.Order, amount decimal.Decimal, reason string) error {
	rec := &order.Refund{
		ID:     uuid.New().String(),
		Amount: amount,
		Reason: reason,
		Status: order.RefundRequested,
	}

	res, gatewayErr := c.payment.Refund(ctx, payment.RefundRequest{
		OrderID:        o.ID,
		Amount:         amount,
		ChargeRef:      o.PaymentRef,
		Reason:         reason,
		IdempotencyKey: "refund-" + rec.ID,
	})
	if gatewayErr != nil {
		rec.Status = order.RefundFailed
		rec.FailureMsg = gatewayErr.Error()
		zctx.From(ctx).Warn("Refund failed",
			zap.String("order_id", o.ID),
			zap.Stringer("amount", amount),
			zap.Error(gatewayErr),
		)
	} else {
		rec.Status = order.RefundCompleted
		rec.ExternalRef = res.ExternalRef
	}

	if err := m.AppendRefund(ctx, rec); err != nil {
		return err
	}
	if gatewayErr != nil {
		return &gatewayFailure{err: gatewayErr}
	}
	return nil
}

func refundable(ctx context.Context, m *order.Mutation, o *order.Order) (decimal.Decimal, error) {
	refunds, err := m.Refunds(ctx)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "list refunds")
	}
	return o.Total.Sub(order.RefundedTotal(refunds)), nil
}

// ListRefunds returns the refund records of an order, failed attempts
// included.
func (c *Coordinator) ListRefunds(ctx context.Context, orderID string) ([]order.Refund, error) {
	return c.orders.Refunds(ctx, orderID)
}
