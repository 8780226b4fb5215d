package memory

import (
	"context"
	"slices"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-store/internal/domain/inventory"
	"github.com/xenking/kart-store/internal/domain/order"
)

// tx buffers order writes until commit. Reservations and fulfilments apply
// immediately and are undone on rollback; releases apply on commit.
type tx struct {
	s       *Store
	ledger  *ledger
	locked  map[string]func()
	created []*order.Order
	updated []*order.Order
	trans   []order.Transition
	refunds []order.Refund
}

var _ order.Tx = (*tx)(nil)

// WithinTx runs fn as one unit of work. Any error or panic rolls back every
// ledger change and drops the buffered order writes.
func (r *Orders) WithinTx(ctx context.Context, fn order.TxFunc) (err error) {
	t := &tx{
		s:      r.s,
		ledger: &ledger{s: r.s, tracked: true},
		locked: make(map[string]func()),
	}
	defer t.unlock()
	defer func() {
		if p := recover(); p != nil {
			t.ledger.rollback()
			panic(p)
		}
	}()

	if err := fn(ctx, t); err != nil {
		t.ledger.rollback()
		return err
	}
	if err := t.commit(); err != nil {
		t.ledger.rollback()
		return err
	}
	return nil
}

func (t *tx) Ledger() inventory.Ledger { return t.ledger }

func (t *tx) Create(_ context.Context, o *order.Order) error {
	t.created = append(t.created, o.Clone())
	return nil
}

func (t *tx) LockForUpdate(ctx context.Context, id string) (*order.Order, error) {
	if _, ok := t.locked[id]; !ok {
		unlock, err := t.s.lockOrder(ctx, id)
		if err != nil {
			return nil, err
		}
		t.locked[id] = unlock
	}

	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return t.s.loadLocked(id)
}

func (t *tx) Update(_ context.Context, o *order.Order) error {
	if _, ok := t.locked[o.ID]; !ok {
		return errors.Errorf("order %s updated without lock", o.ID)
	}
	t.updated = slices.DeleteFunc(t.updated, func(u *order.Order) bool { return u.ID == o.ID })
	t.updated = append(t.updated, o.Clone())
	return nil
}

func (t *tx) AppendTransitions(_ context.Context, ts []order.Transition) error {
	t.trans = append(t.trans, ts...)
	return nil
}

func (t *tx) AppendRefund(_ context.Context, r *order.Refund) error {
	t.refunds = append(t.refunds, *r)
	return nil
}

func (t *tx) Refunds(_ context.Context, orderID string) ([]order.Refund, error) {
	t.s.mu.Lock()
	out := slices.Clone(t.s.refunds[orderID])
	t.s.mu.Unlock()

	for _, r := range t.refunds {
		if r.OrderID == orderID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (t *tx) commit() error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, o := range t.created {
		if _, ok := s.orders[o.ID]; ok {
			return errors.Errorf("order %s already exists", o.ID)
		}
	}
	for _, o := range t.updated {
		stored, ok := s.orders[o.ID]
		if !ok {
			return order.ErrNotFound
		}
		if stored.Version != o.Version-1 {
			return order.ErrConcurrentModification
		}
	}

	for _, o := range append(t.created, t.updated...) {
		o.Transitions = nil
		s.orders[o.ID] = o
	}
	for _, tr := range t.trans {
		s.transitions[tr.OrderID] = append(s.transitions[tr.OrderID], tr)
	}
	for _, r := range t.refunds {
		s.refunds[r.OrderID] = append(s.refunds[r.OrderID], r)
	}
	t.ledger.flush()
	return nil
}

func (t *tx) unlock() {
	for _, unlock := range t.locked {
		unlock()
	}
}
