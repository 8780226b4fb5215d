// Package inventory defines the stock ledger: the single authority over
// per-product available quantity.
//
// Implementations must serialize mutations per product id. Two concurrent
// Reserve calls against the same product never both succeed when their
// combined quantity exceeds the available stock.
package inventory

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/go-faster/errors"
)

// ErrInvalidQuantity is returned for non-positive reserve/release quantities.
var ErrInvalidQuantity = errors.New("quantity must be greater than 0")

// InsufficientStockError reports that a product cannot cover a reservation.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

// Reservation is the token returned by a successful Reserve call.
type Reservation struct {
	ProductID string
	Quantity  int
	// Remaining is the available stock right after the reservation.
	Remaining int
}

// Ledger holds authoritative available quantity per product.
//
// Release is not idempotent: every call must be paired 1:1 with a prior
// Reserve (or fulfilment) by the caller. The ledger increments stock by
// exactly the requested amount.
type Ledger interface {
	// Reserve atomically checks stock >= quantity and decrements it.
	// Returns *InsufficientStockError or an error wrapping product.ErrNotFound.
	Reserve(ctx context.Context, productID string, quantity int) (Reservation, error)
	// Release returns quantity to available stock.
	Release(ctx context.Context, productID string, quantity int) error
	// Fulfil removes quantity from the reserved pool once goods have shipped.
	Fulfil(ctx context.Context, productID string, quantity int) error
}

// Line is a product/quantity pair used for batch ledger operations.
type Line struct {
	ProductID string
	Quantity  int
}

// ReserveAll reserves every line or none. When a line fails, lines already
// reserved are released before the error is returned; the releases use a
// context detached from ctx cancellation so an abandoned request cannot leave
// stock held.
//
// The batch functions visit products in id order, so concurrent batches over
// overlapping products lock rows in the same order. Reservations are returned
// in that order.
func ReserveAll(ctx context.Context, l Ledger, lines []Line) ([]Reservation, error) {
	taken := make([]Reservation, 0, len(lines))
	for _, line := range byProduct(lines) {
		r, err := l.Reserve(ctx, line.ProductID, line.Quantity)
		if err != nil {
			if rerr := ReleaseAll(context.WithoutCancel(ctx), l, reservationLines(taken)); rerr != nil {
				return nil, fmt.Errorf("%w; compensate reservations: %w", err, rerr)
			}
			return nil, err
		}
		taken = append(taken, r)
	}
	return taken, nil
}

// ReleaseAll releases every line, stopping at the first error.
func ReleaseAll(ctx context.Context, l Ledger, lines []Line) error {
	for _, line := range byProduct(lines) {
		if err := l.Release(ctx, line.ProductID, line.Quantity); err != nil {
			return errors.Wrapf(err, "release %s", line.ProductID)
		}
	}
	return nil
}

// FulfilAll moves every line out of the reserved pool.
func FulfilAll(ctx context.Context, l Ledger, lines []Line) error {
	for _, line := range byProduct(lines) {
		if err := l.Fulfil(ctx, line.ProductID, line.Quantity); err != nil {
			return errors.Wrapf(err, "fulfil %s", line.ProductID)
		}
	}
	return nil
}

func reservationLines(rs []Reservation) []Line {
	lines := make([]Line, len(rs))
	for i, r := range rs {
		lines[i] = Line{ProductID: r.ProductID, Quantity: r.Quantity}
	}
	return lines
}

func byProduct(lines []Line) []Line {
	sorted := slices.Clone(lines)
	slices.SortStableFunc(sorted, func(a, b Line) int {
		return cmp.Compare(a.ProductID, b.ProductID)
	})
	return sorted
}
