package memory

import (
	"context"

	"github.com/xenking/kart-store/internal/domain/inventory"
	"github.com/xenking/kart-store/internal/domain/product"
)

// ledger mutates product stock under the store mutex, so every operation is
// atomic per product. Inside a transaction each change records its inverse,
// applied in reverse order on rollback. Releases inside a transaction are
// held back until commit: units returned to stock can be reserved by others
// at once, so they could not be taken back on rollback.
type ledger struct {
	s       *Store
	tracked bool
	undo    []func()
	pending []func()
}

var _ inventory.Ledger = (*ledger)(nil)

// Ledger returns a ledger whose changes apply immediately.
func (s *Store) Ledger() inventory.Ledger {
	return &ledger{s: s}
}

func (l *ledger) Reserve(ctx context.Context, productID string, quantity int) (inventory.Reservation, error) {
	if quantity <= 0 {
		return inventory.Reservation{}, inventory.ErrInvalidQuantity
	}
	if err := ctx.Err(); err != nil {
		return inventory.Reservation{}, err
	}

	l.s.mu.Lock()
	defer l.s.mu.Unlock()

	p, ok := l.s.products[productID]
	if !ok {
		return inventory.Reservation{}, &product.NotFoundError{ProductID: productID}
	}
	if p.StockQuantity < quantity {
		return inventory.Reservation{}, &inventory.InsufficientStockError{
			ProductID: productID,
			Requested: quantity,
			Available: p.StockQuantity,
		}
	}
	p.StockQuantity -= quantity
	p.ReservedQuantity += quantity
	l.remember(func() {
		p.StockQuantity += quantity
		p.ReservedQuantity -= quantity
	})
	return inventory.Reservation{
		ProductID: productID,
		Quantity:  quantity,
		Remaining: p.StockQuantity,
	}, nil
}

func (l *ledger) Release(_ context.Context, productID string, quantity int) error {
	if quantity <= 0 {
		return inventory.ErrInvalidQuantity
	}

	l.s.mu.Lock()
	defer l.s.mu.Unlock()

	p, ok := l.s.products[productID]
	if !ok {
		return &product.NotFoundError{ProductID: productID}
	}
	if l.tracked {
		l.pending = append(l.pending, func() {
			if p, ok := l.s.products[productID]; ok {
				release(p, quantity)
			}
		})
		return nil
	}
	release(p, quantity)
	return nil
}

func release(p *product.Product, quantity int) {
	p.StockQuantity += quantity
	p.ReservedQuantity -= min(quantity, p.ReservedQuantity)
}

func (l *ledger) Fulfil(_ context.Context, productID string, quantity int) error {
	if quantity <= 0 {
		return inventory.ErrInvalidQuantity
	}

	l.s.mu.Lock()
	defer l.s.mu.Unlock()

	p, ok := l.s.products[productID]
	if !ok {
		return &product.NotFoundError{ProductID: productID}
	}
	held := min(quantity, p.ReservedQuantity)
	p.ReservedQuantity -= held
	l.remember(func() { p.ReservedQuantity += held })
	return nil
}

// remember must be called with the store mutex held.
func (l *ledger) remember(undo func()) {
	if l.tracked {
		l.undo = append(l.undo, undo)
	}
}

// rollback reverts every recorded change, newest first, and drops the held
// back releases.
func (l *ledger) rollback() {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	for i := len(l.undo) - 1; i >= 0; i-- {
		l.undo[i]()
	}
	l.undo = nil
	l.pending = nil
}

// flush applies the held back releases. It must be called with the store
// mutex held, once the transaction can no longer fail.
func (l *ledger) flush() {
	for _, fn := range l.pending {
		fn()
	}
	l.pending = nil
	l.undo = nil
}
