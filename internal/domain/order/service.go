package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/kart-store/internal/domain/payment"
)

// Service is the order state machine entry point. Every mutating method locks
// the order for the duration of its transaction, so concurrent actions on the
// same order are serialized and always see the latest state.
type Service struct {
	repo    Repository
	payment payment.Adapter
	opts    options
}

// NewService creates a Service. The adapter is used by Pay only.
func NewService(repo Repository, adapter payment.Adapter, opts ...Option) *Service {
	return &Service{
		repo:    repo,
		payment: adapter,
		opts:    newOptions(opts),
	}
}

// Get returns an order with its transition history.
func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	return s.repo.Get(ctx, id)
}

// List returns orders matching filter, newest first.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Order, error) {
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	return s.repo.List(ctx, filter)
}

// Refunds returns the refund records of an order.
func (s *Service) Refunds(ctx context.Context, orderID string) ([]Refund, error) {
	if _, err := s.repo.Get(ctx, orderID); err != nil {
		return nil, err
	}
	return s.repo.Refunds(ctx, orderID)
}

// Modify locks the order, runs fn and commits the resulting transitions in
// one transaction. Events are published after the commit. When fn returns an
// error nothing is written.
func (s *Service) Modify(ctx context.Context, orderID string, fn func(ctx context.Context, m *Mutation) error) (*Order, error) {
	ctx, span := s.opts.tracer.Start(ctx, "order.Service.Modify",
		trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()

	var (
		out    *Order
		trans  []Transition
		events []Event
	)
	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.LockForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		m := &Mutation{tx: tx, order: o, now: s.opts.now().UTC()}
		if err := fn(ctx, m); err != nil {
			return err
		}
		if m.dirty {
			o.Version++
			o.UpdatedAt = m.now
			if err := tx.Update(ctx, o); err != nil {
				return errors.Wrap(err, "update order")
			}
			if err := tx.AppendTransitions(ctx, m.trans); err != nil {
				return errors.Wrap(err, "append transitions")
			}
			o.Transitions = append(o.Transitions, m.trans...)
		}
		out, trans, events = o.Clone(), m.trans, m.events
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.opts.metrics.transitioned(ctx, trans)
	publish(ctx, s.opts.publisher, events)
	return out, nil
}

// ChangeStatus moves the fulfilment axis. Admin callers get no shortcut
// around the transition table.
func (s *Service) ChangeStatus(ctx context.Context, orderID string, to Status, trig Trigger) (*Order, error) {
	return s.Modify(ctx, orderID, func(ctx context.Context, m *Mutation) error {
		return m.SetStatus(ctx, to, trig)
	})
}

// ChangePaymentStatus moves the payment axis.
func (s *Service) ChangePaymentStatus(ctx context.Context, orderID string, to PaymentStatus, trig Trigger) (*Order, error) {
	return s.Modify(ctx, orderID, func(ctx context.Context, m *Mutation) error {
		return m.SetPaymentStatus(ctx, to, trig)
	})
}

// ChargeOutcome is the result of a charge as reported by the gateway.
type ChargeOutcome struct {
	ExternalRef string
	// Err is nil on success. Declines and adapter errors both fail the
	// payment.
	Err error
}

// ApplyCharge records a charge result. Success moves the order to Paid on
// both axes in one commit; failure moves the payment to Failed and releases
// the held stock. Replaying an already applied outcome is a no-op.
//
// A successful charge the order can no longer accept (cancelled or failed
// in the meantime) is refunded in full through the adapter. The refund
// record commits and the order is returned with the transition error.
func (s *Service) ApplyCharge(ctx context.Context, orderID string, outcome ChargeOutcome) (*Order, error) {
	var rejected error
	// Money has already moved at the gateway; the outcome is recorded even
	// if the caller has gone away.
	updated, err := s.Modify(context.WithoutCancel(ctx), orderID, func(ctx context.Context, m *Mutation) error {
		o := m.order
		if outcome.Err != nil {
			if o.PaymentStatus == PaymentFailed {
				return nil
			}
			return m.SetPaymentStatus(ctx, PaymentFailed, TriggerCharge)
		}
		if o.PaymentRef == outcome.ExternalRef && o.PaymentStatus != PaymentUnpaid && o.PaymentStatus != PaymentFailed {
			return nil
		}

		err := m.SetPaymentStatus(ctx, PaymentPaid, TriggerCharge)
		if err == nil {
			m.SetPaymentRef(outcome.ExternalRef)
			return nil
		}
		var invalid *InvalidTransitionError
		if !errors.As(err, &invalid) || outcome.ExternalRef == "" {
			return err
		}
		if rerr := s.reverseCharge(ctx, m, outcome.ExternalRef); rerr != nil {
			return rerr
		}
		rejected = err
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, rejected
}

// reverseCharge refunds a captured charge in full and appends the outcome
// to the refund ledger. A gateway failure is recorded as a Failed refund and
// logged; it does not abort the transaction.
func (s *Service) reverseCharge(ctx context.Context, m *Mutation, chargeRef string) error {
	o := m.order
	reason := ReversalReason(chargeRef)

	refunds, err := m.Refunds(ctx)
	if err != nil {
		return errors.Wrap(err, "list refunds")
	}
	for _, r := range refunds {
		if r.Reason == reason && r.Status == RefundCompleted {
			return nil
		}
	}

	lg := zctx.From(ctx).With(zap.String("order_id", o.ID), zap.String("payment_ref", chargeRef))
	rec := &Refund{
		ID:     uuid.New().String(),
		Amount: o.Total,
		Reason: reason,
	}
	res, gatewayErr := s.payment.Refund(ctx, payment.RefundRequest{
		OrderID:        o.ID,
		Amount:         o.Total,
		ChargeRef:      chargeRef,
		Reason:         reason,
		IdempotencyKey: "reverse-" + chargeRef,
	})
	if gatewayErr != nil {
		rec.Status = RefundFailed
		rec.FailureMsg = gatewayErr.Error()
		lg.Error("Charge reversal failed", zap.Error(gatewayErr))
	} else {
		rec.Status = RefundCompleted
		rec.ExternalRef = res.ExternalRef
		lg.Warn("Charge reversed",
			zap.String("status", string(o.Status)),
			zap.String("payment_status", string(o.PaymentStatus)),
		)
	}
	return m.AppendRefund(ctx, rec)
}

// ReversalReason is the refund reason recorded when a charge is reversed.
func ReversalReason(chargeRef string) string {
	return "charge " + chargeRef + " reversed: order no longer payable"
}

// Pay charges the order total through the payment adapter and applies the
// outcome. On a declined or failed charge the order, now in payment status
// Failed, is returned together with the charge error.
//
// Once the charge has started, the gateway call and the recording of its
// outcome no longer follow ctx cancellation: the adapter's own timeouts
// bound them.
func (s *Service) Pay(ctx context.Context, orderID string) (*Order, error) {
	o, err := s.repo.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if _, err := CheckPayment(o, PaymentPaid, TriggerCharge); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ctx = context.WithoutCancel(ctx)
	lg := zctx.From(ctx).With(zap.String("order_id", orderID))
	res, chargeErr := s.payment.Charge(ctx, payment.ChargeRequest{
		OrderID:        o.ID,
		Amount:         o.Total,
		IdempotencyKey: "charge-" + o.ID,
	})
	if chargeErr != nil {
		lg.Warn("Charge failed", zap.Error(chargeErr))
	}

	updated, err := s.ApplyCharge(ctx, orderID, ChargeOutcome{
		ExternalRef: res.ExternalRef,
		Err:         chargeErr,
	})
	if err != nil {
		return updated, errors.Wrap(err, "apply charge")
	}
	if chargeErr != nil {
		return updated, chargeErr
	}
	lg.Info("Order paid", zap.String("payment_ref", res.ExternalRef))
	return updated, nil
}

// ExpirePending cancels unpaid PendingPayment orders older than ttl and
// releases their stock. It returns the number of cancelled orders.
func (s *Service) ExpirePending(ctx context.Context, ttl time.Duration, batch int) (int, error) {
	if batch <= 0 {
		batch = 100
	}
	before := s.opts.now().UTC().Add(-ttl)
	ids, err := s.repo.StalePending(ctx, before, batch)
	if err != nil {
		return 0, errors.Wrap(err, "stale pending orders")
	}

	lg := zctx.From(ctx)
	expired := 0
	for _, id := range ids {
		cancelled := false
		_, err := s.Modify(ctx, id, func(ctx context.Context, m *Mutation) error {
			// Paid or cancelled since the scan.
			if m.order.Status != StatusPendingPayment || m.order.PaymentStatus != PaymentUnpaid {
				return nil
			}
			cancelled = true
			return m.SetStatus(ctx, StatusCancelled, TriggerTimeout)
		})
		if err != nil {
			lg.Warn("Expire pending order", zap.String("order_id", id), zap.Error(err))
			continue
		}
		if cancelled {
			expired++
		}
	}
	return expired, nil
}
