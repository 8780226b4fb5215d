package order

import (
	"context"
	"time"

	"github.com/xenking/kart-store/internal/domain/inventory"
)

// Tx is the set of operations available inside one atomic unit of work.
// Everything done through a Tx, ledger mutations included, commits or rolls
// back together.
type Tx interface {
	// Ledger returns the stock ledger bound to this transaction.
	Ledger() inventory.Ledger
	// Create inserts a new order with its items.
	Create(ctx context.Context, o *Order) error
	// LockForUpdate loads an order and holds an exclusive per-order lock
	// until the transaction ends. Returns ErrNotFound or
	// ErrConcurrentModification when the lock cannot be obtained.
	LockForUpdate(ctx context.Context, id string) (*Order, error)
	// Update persists status, payment status, stock state, payment reference
	// and version. The stored version must equal o.Version-1.
	Update(ctx context.Context, o *Order) error
	AppendTransitions(ctx context.Context, ts []Transition) error
	AppendRefund(ctx context.Context, r *Refund) error
	Refunds(ctx context.Context, orderID string) ([]Refund, error)
}

// TxFunc is a unit of work. Returning an error rolls the transaction back.
type TxFunc func(ctx context.Context, tx Tx) error

// ListFilter narrows an order listing. Zero values match everything.
type ListFilter struct {
	Status        Status
	PaymentStatus PaymentStatus
	Limit         int
	Offset        int
}

// Repository defines persistence operations for orders and their refunds.
type Repository interface {
	WithinTx(ctx context.Context, fn TxFunc) error
	Get(ctx context.Context, id string) (*Order, error)
	List(ctx context.Context, filter ListFilter) ([]Order, error)
	Refunds(ctx context.Context, orderID string) ([]Refund, error)
	// StalePending returns ids of unpaid PendingPayment orders created
	// before the given time, oldest first.
	StalePending(ctx context.Context, before time.Time, limit int) ([]string, error)
}
