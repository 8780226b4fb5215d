package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-store/internal/domain/inventory"
)

// Mutation is a locked order inside a transaction. All state changes go
// through SetStatus and SetPaymentStatus, which consult the transition table
// and run the bound side effects against the transaction's ledger.
type Mutation struct {
	tx     Tx
	order  *Order
	now    time.Time
	trans  []Transition
	events []Event
	dirty  bool
}

// Order returns a copy of the order as modified so far.
func (m *Mutation) Order() *Order { return m.order.Clone() }

// Now returns the timestamp used for every change in this mutation.
func (m *Mutation) Now() time.Time { return m.now }

// SetStatus moves the fulfilment axis to the given status.
func (m *Mutation) SetStatus(ctx context.Context, to Status, trig Trigger) error {
	effect, err := CheckStatus(m.order, to, trig)
	if err != nil {
		return err
	}
	m.record(AxisStatus, string(m.order.Status), string(to), trig)
	m.order.Status = to
	return m.apply(ctx, effect, trig)
}

// SetPaymentStatus moves the payment axis to the given status.
func (m *Mutation) SetPaymentStatus(ctx context.Context, to PaymentStatus, trig Trigger) error {
	effect, err := CheckPayment(m.order, to, trig)
	if err != nil {
		return err
	}
	m.record(AxisPayment, string(m.order.PaymentStatus), string(to), trig)
	m.order.PaymentStatus = to
	return m.apply(ctx, effect, trig)
}

// SetPaymentRef stores the external charge reference.
func (m *Mutation) SetPaymentRef(ref string) {
	if ref == "" || ref == m.order.PaymentRef {
		return
	}
	m.order.PaymentRef = ref
	m.dirty = true
}

// Refunds returns the refund records of the locked order.
func (m *Mutation) Refunds(ctx context.Context) ([]Refund, error) {
	return m.tx.Refunds(ctx, m.order.ID)
}

// AppendRefund appends a refund record for the locked order.
func (m *Mutation) AppendRefund(ctx context.Context, r *Refund) error {
	r.OrderID = m.order.ID
	if r.CreatedAt.IsZero() {
		r.CreatedAt = m.now
	}
	if err := m.tx.AppendRefund(ctx, r); err != nil {
		return errors.Wrap(err, "append refund")
	}
	e := newEvent(EventRefundRecorded, m.order.ID, m.now)
	e.To = string(r.Status)
	e.Amount = r.Amount
	m.events = append(m.events, e)
	return nil
}

func (m *Mutation) record(axis Axis, from, to string, trig Trigger) {
	t := Transition{
		OrderID: m.order.ID,
		Axis:    axis,
		From:    from,
		To:      to,
		Trigger: trig,
		At:      m.now,
	}
	m.trans = append(m.trans, t)
	m.events = append(m.events, transitionEvent(t))
	m.dirty = true
}

func (m *Mutation) apply(ctx context.Context, effect Effect, trig Trigger) error {
	switch effect {
	case EffectReleaseStock:
		if m.order.StockState != StockHeld {
			return nil
		}
		if err := inventory.ReleaseAll(ctx, m.tx.Ledger(), m.order.StockLines()); err != nil {
			return errors.Wrap(err, "release stock")
		}
		m.order.StockState = StockReleased
	case EffectFulfilStock:
		if m.order.StockState != StockHeld {
			return nil
		}
		if err := inventory.FulfilAll(ctx, m.tx.Ledger(), m.order.StockLines()); err != nil {
			return errors.Wrap(err, "fulfil stock")
		}
		m.order.StockState = StockFulfilled
	case EffectSyncPaid:
		return m.SetStatus(ctx, StatusPaid, trig)
	}
	return nil
}
